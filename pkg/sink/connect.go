package sink

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
)

// PingFunc checks that a backend is reachable.
type PingFunc func(ctx context.Context) error

// Connect calls ping until it succeeds, backing off exponentially between
// attempts. The retry budget comes from cfg.Reliability and the total time
// from cfg.Timeouts.Connection.
func Connect(ctx context.Context, cfg *config.SinkConfig, ping PingFunc) error {
	policy := backoff.NewExponentialBackOff()
	if cfg.Reliability.RetryDelay > 0 {
		policy.InitialInterval = cfg.Reliability.RetryDelay
	}
	if cfg.Reliability.MaxRetryDelay > 0 {
		policy.MaxInterval = cfg.Reliability.MaxRetryDelay
	}
	policy.MaxElapsedTime = cfg.Timeouts.Connection

	var b backoff.BackOff = policy
	if cfg.Reliability.RetryAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.Reliability.RetryAttempts))
	}
	b = backoff.WithContext(b, ctx)

	log := logger.FromContext(ctx, logger.Get()).With(zap.String("sink", cfg.Type))
	attempt := 1
	err := backoff.Retry(func() error {
		pingCtx := ctx
		if cfg.Timeouts.Request > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Request)
			defer cancel()
		}
		if err := ping(pingCtx); err != nil {
			log.Info("waiting for sink", zap.Int("attempt", attempt), zap.Error(err))
			attempt++
			if errors.IsType(err, errors.ErrorTypeConfig) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, b)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect to %s sink", cfg.Type)).
			WithDetail("attempts", attempt)
	}
	return nil
}

// RequestContext bounds a single backend call by cfg.Timeouts.Request.
func RequestContext(ctx context.Context, cfg *config.SinkConfig) (context.Context, context.CancelFunc) {
	if cfg.Timeouts.Request <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, cfg.Timeouts.Request)
}
