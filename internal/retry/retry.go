package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/threatstream/internal/apperr"
)

// Config controls a retry sequence.
type Config struct {
	Retries  int           // Retries after the first attempt (total attempts = Retries+1)
	Delay    time.Duration // Wait before the first retry; doubles each retry
	MaxDelay time.Duration // Upper bound for a single wait (0 = unbounded)

	// ShouldRetry decides whether a failed attempt is retried. nil retries
	// every error.
	ShouldRetry func(err *apperr.Error) bool

	// OnRetry is called synchronously before each wait with the 1-based
	// number of the attempt that just failed.
	OnRetry func(attempt int, err *apperr.Error)

	Logger *slog.Logger
}

// DefaultConfig returns 3 retries starting at one second.
func DefaultConfig() Config {
	return Config{
		Retries: 3,
		Delay:   time.Second,
	}
}

// Recoverable is a ShouldRetry predicate that retries only recoverable
// errors.
func Recoverable(err *apperr.Error) bool {
	return apperr.IsRecoverable(err)
}

// Do runs op until it succeeds or the retry budget is spent. It performs at
// most cfg.Retries+1 attempts and returns the first successful result or the
// last error normalized through apperr.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schedule := newSchedule(cfg)

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		e := apperr.From(err, map[string]any{"attempts": attempt + 1})

		if attempt >= cfg.Retries || !shouldRetry(cfg, e) {
			return zero, e
		}

		wait := schedule.NextBackOff()
		notify(cfg, logger, attempt+1, e)

		logger.Debug("retrying operation",
			"attempt", attempt+1,
			"code", e.Code,
			"backoff", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			cancelled := apperr.From(fmt.Errorf("retry cancelled after %d attempts: %w", attempt+1, ctx.Err()))
			return zero, cancelled.Merge(e.Context).With("last_code", e.Code)
		case <-timer.C:
		}
	}
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Delays returns the wait schedule Do would use for cfg, one entry per retry.
func Delays(cfg Config) []time.Duration {
	if cfg.Retries <= 0 {
		return nil
	}
	schedule := newSchedule(cfg)
	out := make([]time.Duration, cfg.Retries)
	for i := range out {
		out[i] = schedule.NextBackOff()
	}
	return out
}

func newSchedule(cfg Config) *backoff.ExponentialBackOff {
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.Delay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return b
}

func shouldRetry(cfg Config, e *apperr.Error) (retry bool) {
	if cfg.ShouldRetry == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			retry = false
		}
	}()
	return cfg.ShouldRetry(e)
}

// notify invokes OnRetry. A panicking callback cannot stop the retry.
func notify(cfg Config, logger *slog.Logger, attempt int, e *apperr.Error) {
	if cfg.OnRetry == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("retry callback panicked", "attempt", attempt, "panic", r)
		}
	}()
	cfg.OnRetry(attempt, e)
}
