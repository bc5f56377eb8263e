// Package kafka publishes statements to a Kafka topic. A commit sends the
// batch with one SendMessages call and returns once every message is
// acknowledged.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "kafka",
		Description: "Kafka topic, one message per statement keyed by graph",
		Options:     []string{"dsn (comma separated brokers)", "topic", "encoding", "acks", "compression"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink sends statements through a shared synchronous producer.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	encoding sink.Encoding
	logger   *zap.Logger
}

// New connects a producer to the brokers listed in cfg.DSN.
func New(ctx context.Context, cfg *config.SinkConfig) (*Sink, error) {
	if cfg.DSN == "" || cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka sink requires brokers (dsn) and a topic")
	}
	enc, err := sink.ParseEncoding(cfg.Option("encoding", ""))
	if err != nil {
		return nil, err
	}

	brokers := strings.Split(cfg.DSN, ",")
	saramaCfg := BuildConfig(cfg)

	var producer sarama.SyncProducer
	err = sink.Connect(ctx, cfg, func(context.Context) error {
		var err error
		producer, err = sarama.NewSyncProducer(brokers, saramaCfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewWithProducer(producer, cfg.Topic, enc), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(producer sarama.SyncProducer, topic string, enc sink.Encoding) *Sink {
	return &Sink{
		producer: producer,
		topic:    topic,
		encoding: enc,
		logger: logger.Get().With(
			zap.String("component", "kafka_sink"),
			zap.String("topic", topic)),
	}
}

// BuildConfig maps sink options to a producer configuration.
func BuildConfig(cfg *config.SinkConfig) *sarama.Config {
	config := sarama.NewConfig()

	switch cfg.Option("acks", "all") {
	case "1":
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		config.Producer.RequiredAcks = sarama.NoResponse
	default:
		config.Producer.RequiredAcks = sarama.WaitForAll
	}

	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Retry.Max = cfg.Reliability.RetryAttempts
	if cfg.Timeouts.Request > 0 {
		config.Producer.Timeout = cfg.Timeouts.Request
	}
	if cfg.Timeouts.Connection > 0 {
		config.Net.DialTimeout = cfg.Timeouts.Connection
	}

	switch cfg.Option("compression", cfg.Compression) {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
		config.Version = sarama.V2_1_0_0
	default:
		config.Producer.Compression = sarama.CompressionNone
	}

	return config
}

// OpenWriter returns a writer that sends each batch in one call.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	return sink.NewBatchWriter("kafka", 0, s.flush, nil), nil
}

func (s *Sink) flush(ctx context.Context, batch *models.RecordBatch) error {
	msgs, err := s.Messages(batch)
	if err != nil {
		return err
	}
	return s.producer.SendMessages(msgs)
}

// Messages converts a batch to producer messages keyed by graph.
func (s *Sink) Messages(batch *models.RecordBatch) ([]*sarama.ProducerMessage, error) {
	msgs := make([]*sarama.ProducerMessage, 0, batch.QuadCount())
	var err error
	batch.Quads(func(r *models.Record, graph string) {
		if err != nil {
			return
		}
		var value []byte
		if value, err = s.encoding.Marshal(r, graph); err != nil {
			return
		}
		msg := &sarama.ProducerMessage{
			Topic: s.topic,
			Value: sarama.ByteEncoder(value),
		}
		if graph != "" {
			msg.Key = sarama.StringEncoder(graph)
		}
		msgs = append(msgs, msg)
	})
	return msgs, err
}

// Shutdown closes the producer.
func (s *Sink) Shutdown(ctx context.Context) error {
	if err := s.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close kafka producer")
	}
	s.logger.Info("kafka sink shut down")
	return nil
}

// MaxConcurrency is unbounded, the producer is safe for concurrent use.
func (s *Sink) MaxConcurrency() int {
	return 0
}
