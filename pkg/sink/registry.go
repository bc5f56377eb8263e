package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
)

// Factory creates a sink from its configuration.
type Factory func(ctx context.Context, cfg *config.SinkConfig) (Sink, error)

// Info describes a registered sink for the `sinks` command.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Options     []string `json:"options,omitempty"`
}

type entry struct {
	factory Factory
	info    Info
}

// Registry manages sink registration and instantiation
type Registry struct {
	sinks  map[string]entry
	mu     sync.RWMutex
	logger *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new sink registry
func NewRegistry() *Registry {
	return &Registry{
		sinks:  make(map[string]entry),
		logger: logger.Get().With(zap.String("component", "sink_registry")),
	}
}

// Register registers a sink factory under info.Name
func (r *Registry) Register(info Info, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[info.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink %s already registered", info.Name))
	}

	r.sinks[info.Name] = entry{factory: factory, info: info}
	r.logger.Debug("sink registered", zap.String("name", info.Name))
	return nil
}

// Create validates cfg and creates the sink named by cfg.Type
func (r *Registry) Create(ctx context.Context, cfg *config.SinkConfig) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, exists := r.sinks[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink %s not found", cfg.Type)).
			WithDetail("available", r.List())
	}

	s, err := e.factory(ctx, cfg)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeConfig) || errors.IsType(err, errors.ErrorTypeConnection) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create sink %s", cfg.Type))
	}

	return s, nil
}

// List returns the registered sink names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the description of a registered sink
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sinks[name]
	return e.info, ok
}

// Has checks if a sink is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sinks[name]
	return exists
}

// Global registry functions

// Register registers a sink in the global registry
func Register(info Info, factory Factory) error {
	return globalRegistry.Register(info, factory)
}

// MustRegister registers a sink in the global registry and panics on a
// duplicate name. Backends call it from init.
func MustRegister(info Info, factory Factory) {
	if err := globalRegistry.Register(info, factory); err != nil {
		panic(err)
	}
}

// Create creates a sink from the global registry
func Create(ctx context.Context, cfg *config.SinkConfig) (Sink, error) {
	return globalRegistry.Create(ctx, cfg)
}

// List returns the sinks registered in the global registry
func List() []string {
	return globalRegistry.List()
}

// Lookup returns the description of a sink in the global registry
func Lookup(name string) (Info, bool) {
	return globalRegistry.Info(name)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
