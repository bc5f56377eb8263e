package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/metrics"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingSink is a Sink whose writers record every call.
type countingSink struct {
	maxConcurrency int
	// failOpenAt makes the n-th OpenWriter call fail, 0 never
	failOpenAt int
	// beforeAdd runs before every AddRecord of every writer
	beforeAdd func(w *countingWriter, n int) error

	mu        sync.Mutex
	opens     int
	shutdowns int
	writers   []*countingWriter
}

func (s *countingSink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.failOpenAt > 0 && s.opens == s.failOpenAt {
		return nil, errors.New(errors.ErrorTypeConnection, "no more connections")
	}
	w := &countingWriter{id: len(s.writers), sink: s}
	s.writers = append(s.writers, w)
	return w, nil
}

func (s *countingSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdowns++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) MaxConcurrency() int { return s.maxConcurrency }

func (s *countingSink) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *countingSink) Shutdowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdowns
}

// Committed returns every committed record, across writers.
func (s *countingSink) Committed() []*models.Record {
	s.mu.Lock()
	writers := append([]*countingWriter(nil), s.writers...)
	s.mu.Unlock()

	var out []*models.Record
	for _, w := range writers {
		w.mu.Lock()
		out = append(out, w.committed...)
		w.mu.Unlock()
	}
	return out
}

type countingWriter struct {
	id   int
	sink *countingSink

	mu        sync.Mutex
	adds      int
	commits   int
	closes    int
	pending   []*models.Record
	committed []*models.Record
	contexts  [][]string
}

func (w *countingWriter) AddRecord(ctx context.Context, rec *models.Record, contexts []string) error {
	w.mu.Lock()
	n := w.adds + 1
	w.mu.Unlock()

	if hook := w.sink.beforeAdd; hook != nil {
		if err := hook(w, n); err != nil {
			return err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.adds = n
	w.pending = append(w.pending, rec)
	w.contexts = append(w.contexts, contexts)
	return nil
}

func (w *countingWriter) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commits++
	w.committed = append(w.committed, w.pending...)
	w.pending = nil
	return nil
}

func (w *countingWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

func (w *countingWriter) counts() (adds, commits, closes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.adds, w.commits, w.closes
}

func statement(i int) *models.Record {
	return models.NewRecord(
		fmt.Sprintf("<http://example.org/s%d>", i),
		"<http://example.org/p>",
		fmt.Sprintf(`"%d"`, i))
}

func TestBoundedQueue(t *testing.T) {
	q := NewBoundedQueue(2)
	assert.Equal(t, 2, q.Cap())
	assert.True(t, q.IsEmpty())

	ctx := context.Background()
	require.NoError(t, q.Put(ctx, statement(1)))
	require.NoError(t, q.Put(ctx, statement(2)))
	assert.Equal(t, 2, q.Len())

	t.Run("put blocks while full until cancelled", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		err := q.Put(cctx, statement(3))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInterrupted))
		assert.Equal(t, 2, q.Len())
	})

	t.Run("poll is fifo", func(t *testing.T) {
		rec, ok := q.Poll(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, statement(1), rec)
		rec, ok = q.Poll(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, statement(2), rec)
	})

	t.Run("poll times out on an empty queue", func(t *testing.T) {
		start := time.Now()
		rec, ok := q.Poll(10 * time.Millisecond)
		assert.False(t, ok)
		assert.Nil(t, rec)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("poll receives a late record", func(t *testing.T) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = q.Put(ctx, statement(4))
		}()
		rec, ok := q.Poll(time.Second)
		require.True(t, ok)
		assert.Equal(t, statement(4), rec)
	})

	t.Run("cancelled put never enqueues", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := q.Put(cctx, statement(5))
		assert.True(t, errors.IsType(err, errors.ErrorTypeInterrupted))
		assert.True(t, q.IsEmpty())
	})
}

func TestBoundedQueueClose(t *testing.T) {
	q := NewBoundedQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, statement(1)))
	assert.False(t, q.IsClosed())

	errc := make(chan error, 1)
	go func() { errc <- q.Put(ctx, statement(2)) }()

	q.Close()
	q.Close()
	select {
	case err := <-errc:
		assert.True(t, errors.IsType(err, errors.ErrorTypeInterrupted))
	case <-time.After(time.Second):
		t.Fatal("blocked put not woken by close")
	}
	assert.True(t, q.IsClosed())

	rec, ok := q.Poll(time.Millisecond)
	require.True(t, ok, "records queued before close are still delivered")
	assert.Equal(t, statement(1), rec)

	err := q.Put(ctx, statement(3))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInterrupted))
	assert.True(t, q.IsEmpty())
}

func TestBoundedQueueMinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewBoundedQueue(0).Cap())
	assert.Equal(t, 1, NewBoundedQueue(-3).Cap())
}

func TestFinishSignal(t *testing.T) {
	s := NewFinishSignal()
	assert.False(t, s.IsFinished())
	select {
	case <-s.Done():
		t.Fatal("done before finish")
	default:
	}

	s.Finish()
	s.Finish()
	assert.True(t, s.IsFinished())
	<-s.Done()
}

func TestPusherStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", PusherState(9).String())
}

func runPusher(t *testing.T, w sink.Writer, records, commitEvery int) *Pusher {
	t.Helper()
	q := NewBoundedQueue(records + 1)
	for i := 0; i < records; i++ {
		require.NoError(t, q.Put(context.Background(), statement(i)))
	}
	finished := NewFinishSignal()
	finished.Finish()

	p := NewPusher(0, q, w, finished, nil, commitEvery, 5*time.Millisecond, zap.NewNop(),
		metrics.NewLoaderMetrics(nil))
	p.Run(context.Background())
	return p
}

func TestPusherCommitsEveryNAndOnceMore(t *testing.T) {
	s := &countingSink{}
	w, _ := s.OpenWriter(context.Background())

	p := runPusher(t, w, 10, 5)

	adds, commits, closes := w.(*countingWriter).counts()
	assert.Equal(t, 10, adds)
	assert.Equal(t, 3, commits, "two full batches and the unconditional final commit")
	assert.Equal(t, 1, closes)

	assert.Equal(t, StateClosed, p.State())
	assert.EqualValues(t, 10, p.Added())
	assert.EqualValues(t, 10, p.Committed())
	assert.EqualValues(t, 3, p.Commits())
	assert.NoError(t, p.Err())
	<-p.Done()
}

func TestPusherStopsOnWriteFailure(t *testing.T) {
	s := &countingSink{beforeAdd: func(w *countingWriter, n int) error {
		if n == 3 {
			return errors.New(errors.ErrorTypeWrite, "disk full")
		}
		return nil
	}}
	w, _ := s.OpenWriter(context.Background())

	p := runPusher(t, w, 10, 100)

	adds, commits, closes := w.(*countingWriter).counts()
	assert.Equal(t, 2, adds)
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, closes)
	assert.Equal(t, StateClosed, p.State())
	assert.True(t, errors.IsType(p.Err(), errors.ErrorTypeWrite))
}

func TestPusherRecoversWriterPanic(t *testing.T) {
	s := &countingSink{beforeAdd: func(w *countingWriter, n int) error {
		panic("writer bug")
	}}
	w, _ := s.OpenWriter(context.Background())

	p := runPusher(t, w, 3, 1)

	_, _, closes := w.(*countingWriter).counts()
	assert.Equal(t, 1, closes)
	assert.Equal(t, StateClosed, p.State())
	require.Error(t, p.Err())
	assert.True(t, errors.IsType(p.Err(), errors.ErrorTypeWrite))
	assert.Contains(t, p.Err().Error(), "writer bug")
}

func TestPusherDrainsAfterFinish(t *testing.T) {
	s := &countingSink{}
	w, _ := s.OpenWriter(context.Background())
	q := NewBoundedQueue(4)
	finished := NewFinishSignal()

	p := NewPusher(0, q, w, finished, []string{"<http://example.org/g>"}, 100, 5*time.Millisecond, nil, nil)
	go p.Run(context.Background())

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Put(context.Background(), statement(i)))
	}
	assert.NotEqual(t, StateClosed, p.State())
	finished.Finish()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pusher did not close")
	}

	assert.Len(t, s.Committed(), 20)
	cw := w.(*countingWriter)
	cw.mu.Lock()
	defer cw.mu.Unlock()
	for _, c := range cw.contexts {
		assert.Equal(t, []string{"<http://example.org/g>"}, c)
	}
}
