// Package config provides the configuration of a load: how the pipeline is
// sized, which sink it writes to and how the ambient services are set up.
//
// The configuration is organized into logical sections:
//   - Loader: concurrency, commit interval, queue sizing and wait timings
//   - Sink: storage backend type, location and connection settings
//   - Logging, Metrics, Tracing: observability
//
// Example usage:
//
//	cfg := config.DefaultLoaderConfig()
//	cfg.Concurrency = 4
//	cfg.CommitEvery = 5000
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"strconv"
	"time"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
)

// LoaderConfig sizes one load operation.
type LoaderConfig struct {
	// Concurrency is the number of pushers, each with its own writer
	Concurrency int `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
	// CommitEvery is the number of records a pusher adds between commits
	CommitEvery int `yaml:"commit_every" json:"commit_every" mapstructure:"commit_every"`
	// QueueCapacity bounds the number of records waiting for a pusher
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity" mapstructure:"queue_capacity"`
	// PollTimeout is how long a pusher waits for a record before checking
	// whether the producer has finished
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout" mapstructure:"poll_timeout"`
	// WaitInterval is the slice the orchestrator waits for pushers before
	// logging progress again
	WaitInterval time.Duration `yaml:"wait_interval" json:"wait_interval" mapstructure:"wait_interval"`
	// ProgressInterval is the period of progress log lines, 0 disables them
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval" mapstructure:"progress_interval"`
	// Contexts are the graphs every record is written to. Empty means each
	// record goes to its own graph.
	Contexts []string `yaml:"contexts" json:"contexts" mapstructure:"contexts"`
	// BaseURI resolves relative IRIs in the input
	BaseURI string `yaml:"base_uri" json:"base_uri" mapstructure:"base_uri"`
	// PreserveBNodeIDs keeps blank node labels as written. By default labels
	// are scoped to their input unit so two files never share a blank node.
	PreserveBNodeIDs bool `yaml:"preserve_bnode_ids" json:"preserve_bnode_ids" mapstructure:"preserve_bnode_ids"`
}

// DefaultLoaderConfig returns a single pusher configuration.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Concurrency:      1,
		CommitEvery:      1000,
		QueueCapacity:    1000,
		PollTimeout:      100 * time.Millisecond,
		WaitInterval:     time.Second,
		ProgressInterval: 10 * time.Second,
	}
}

// Validate returns a config error if a sizing value is out of range.
func (c *LoaderConfig) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return errors.New(errors.ErrorTypeConfig, "concurrency must be positive").
			WithDetail("concurrency", c.Concurrency)
	case c.CommitEvery <= 0:
		return errors.New(errors.ErrorTypeConfig, "commit_every must be positive").
			WithDetail("commit_every", c.CommitEvery)
	case c.QueueCapacity <= 0:
		return errors.New(errors.ErrorTypeConfig, "queue_capacity must be positive").
			WithDetail("queue_capacity", c.QueueCapacity)
	case c.PollTimeout <= 0:
		return errors.New(errors.ErrorTypeConfig, "poll_timeout must be positive").
			WithDetail("poll_timeout", c.PollTimeout)
	case c.WaitInterval <= 0:
		return errors.New(errors.ErrorTypeConfig, "wait_interval must be positive").
			WithDetail("wait_interval", c.WaitInterval)
	case c.ProgressInterval < 0:
		return errors.New(errors.ErrorTypeConfig, "progress_interval cannot be negative")
	}
	return nil
}

// SinkConfig describes the storage backend.
type SinkConfig struct {
	// Type selects the registered sink (memory, file, sqlite, postgres, ...)
	Type string `yaml:"type" json:"type" mapstructure:"type"`
	// DSN is the connection string for database and broker sinks
	DSN string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	// Location is a directory for file based sinks
	Location string `yaml:"location" json:"location" mapstructure:"location"`
	// MaxConcurrency caps concurrent writers for sinks that take it from
	// configuration, 0 means unbounded
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" mapstructure:"max_concurrency"`
	// Table is the table, collection or dataset table to write to
	Table string `yaml:"table" json:"table" mapstructure:"table"`
	// Bucket is the object store bucket
	Bucket string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	// Prefix is prepended to object keys and redis keys
	Prefix string `yaml:"prefix" json:"prefix" mapstructure:"prefix"`
	// Topic is the kafka topic or nats subject
	Topic string `yaml:"topic" json:"topic" mapstructure:"topic"`
	// Compression is the algorithm for object and file sinks
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	// Options carries backend specific settings (region, project, dataset...)
	Options map[string]string `yaml:"options" json:"options" mapstructure:"options"`

	Timeouts    TimeoutConfig     `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability" mapstructure:"reliability"`
}

// TimeoutConfig contains timeout settings of a sink.
type TimeoutConfig struct {
	// Connection bounds the initial connect and ping, retries included
	Connection time.Duration `yaml:"connection" json:"connection" mapstructure:"connection"`
	// Request bounds a single backend call
	Request time.Duration `yaml:"request" json:"request" mapstructure:"request"`
}

// ReliabilityConfig controls retrying the initial connection of a sink.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts, 0 means retry until the
	// connection timeout
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
	// MaxRetryDelay caps the delay between retries
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay" mapstructure:"max_retry_delay"`
}

// NewSinkConfig creates a sink configuration with default timeouts.
func NewSinkConfig(sinkType string) *SinkConfig {
	return &SinkConfig{
		Type:    sinkType,
		Options: make(map[string]string),
		Timeouts: TimeoutConfig{
			Connection: 30 * time.Second,
			Request:    30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts: 5,
			RetryDelay:    200 * time.Millisecond,
			MaxRetryDelay: 5 * time.Second,
		},
	}
}

// Validate checks the fields every sink needs.
func (c *SinkConfig) Validate() error {
	if c.Type == "" {
		return errors.New(errors.ErrorTypeConfig, "sink type is required")
	}
	if c.MaxConcurrency < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_concurrency cannot be negative").
			WithDetail("max_concurrency", c.MaxConcurrency)
	}
	return nil
}

// Option returns a backend option or def when it is not set.
func (c *SinkConfig) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// IntOption returns a backend option parsed as an int, or def when it is
// missing or not a number.
func (c *SinkConfig) IntOption(key string, def int) int {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" json:"addr" mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
}

// File is the layout of a loader configuration file.
type File struct {
	Loader  LoaderConfig  `yaml:"loader" json:"loader" mapstructure:"loader"`
	Sink    SinkConfig    `yaml:"sink" json:"sink" mapstructure:"sink"`
	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// NewFile returns a configuration file populated with defaults.
func NewFile() *File {
	return &File{
		Loader:  DefaultLoaderConfig(),
		Sink:    *NewSinkConfig("memory"),
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9090"},
		Tracing: TracingConfig{ServiceName: "sesame-loader"},
	}
}

// Validate validates the loader and sink sections.
func (f *File) Validate() error {
	if err := f.Loader.Validate(); err != nil {
		return err
	}
	return f.Sink.Validate()
}
