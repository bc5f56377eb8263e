package pipeline

import (
	"sync"
	"sync/atomic"
)

// FinishSignal tells the pushers that the producer will not enqueue any more
// records. It only ever goes from unset to set.
type FinishSignal struct {
	finished atomic.Bool
	once     sync.Once
	done     chan struct{}
}

// NewFinishSignal creates an unset signal.
func NewFinishSignal() *FinishSignal {
	return &FinishSignal{done: make(chan struct{})}
}

// Finish sets the signal. Further calls do nothing.
func (s *FinishSignal) Finish() {
	s.once.Do(func() {
		s.finished.Store(true)
		close(s.done)
	})
}

// IsFinished reports whether Finish was called.
func (s *FinishSignal) IsFinished() bool {
	return s.finished.Load()
}

// Done is closed by Finish.
func (s *FinishSignal) Done() <-chan struct{} {
	return s.done
}
