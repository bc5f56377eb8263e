// Package nats publishes statements to a NATS subject. With the jetstream
// option a commit waits for the stream to acknowledge every message,
// otherwise it waits for the server to have received them.
package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

// GraphHeader carries the graph term of a published statement.
const GraphHeader = "Loader-Graph"

const (
	reconnectWait        = 2 * time.Second
	maxReconnectAttempts = 10
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "nats",
		Description: "NATS subject, optionally acknowledged by JetStream",
		Options:     []string{"dsn (server urls)", "topic (subject)", "encoding", "jetstream"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink publishes through one shared connection.
type Sink struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	subject  string
	encoding sink.Encoding
	timeout  time.Duration
	logger   *zap.Logger
}

// New connects to the servers in cfg.DSN, nats.DefaultURL when empty.
func New(ctx context.Context, cfg *config.SinkConfig) (*Sink, error) {
	if cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "nats sink requires a topic (subject)")
	}
	enc, err := sink.ParseEncoding(cfg.Option("encoding", ""))
	if err != nil {
		return nil, err
	}
	url := cfg.DSN
	if url == "" {
		url = nats.DefaultURL
	}

	log := logger.Get().With(zap.String("component", "nats_sink"), zap.String("subject", cfg.Topic))
	opts := []nats.Option{
		nats.Name("sesame-loader"),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Timeouts.Connection > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeouts.Connection))
	}

	var nc *nats.Conn
	err = sink.Connect(ctx, cfg, func(context.Context) error {
		var err error
		nc, err = nats.Connect(url, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}

	s := &Sink{
		conn:     nc,
		subject:  cfg.Topic,
		encoding: enc,
		timeout:  cfg.Timeouts.Request,
		logger:   log,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}

	if cfg.Option("jetstream", "false") == "true" {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create JetStream context")
		}
		s.js = js
	}
	return s, nil
}

// OpenWriter returns a writer publishing each batch on commit.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	return sink.NewBatchWriter("nats", 0, s.flush, nil), nil
}

func (s *Sink) flush(ctx context.Context, batch *models.RecordBatch) error {
	msgs, err := Messages(s.subject, s.encoding, batch)
	if err != nil {
		return err
	}
	if s.js != nil {
		return s.publishAcked(ctx, msgs)
	}

	for _, m := range msgs {
		if err := s.conn.PublishMsg(m); err != nil {
			return err
		}
	}
	return s.conn.FlushTimeout(s.timeout)
}

func (s *Sink) publishAcked(ctx context.Context, msgs []*nats.Msg) error {
	futures := make([]nats.PubAckFuture, 0, len(msgs))
	for _, m := range msgs {
		f, err := s.js.PublishMsgAsync(m)
		if err != nil {
			return err
		}
		futures = append(futures, f)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-s.js.PublishAsyncComplete():
	case <-timer.C:
		return errors.New(errors.ErrorTypeTimeout, "timed out waiting for JetStream acknowledgements")
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, f := range futures {
		select {
		case <-f.Ok():
		case err := <-f.Err():
			return err
		}
	}
	return nil
}

// Shutdown drains and closes the connection.
func (s *Sink) Shutdown(ctx context.Context) error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to drain NATS connection")
	}
	s.logger.Info("NATS connection shut down")
	return nil
}

// MaxConcurrency is unbounded, the connection is safe for concurrent use.
func (s *Sink) MaxConcurrency() int {
	return 0
}

// Messages converts a batch to messages on subject. The graph of a
// statement is also set as a header so consumers can route on it.
func Messages(subject string, enc sink.Encoding, batch *models.RecordBatch) ([]*nats.Msg, error) {
	msgs := make([]*nats.Msg, 0, batch.QuadCount())
	var err error
	batch.Quads(func(r *models.Record, graph string) {
		if err != nil {
			return
		}
		m := nats.NewMsg(subject)
		if m.Data, err = enc.Marshal(r, graph); err != nil {
			return
		}
		if graph != "" {
			m.Header.Set(GraphHeader, graph)
		}
		msgs = append(msgs, m)
	})
	return msgs, err
}
