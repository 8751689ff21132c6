package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy is an explicit retry policy injected into the source and target
// adapters: exponential backoff with a cap and jitter, bounded by a maximum
// attempt count. Only transient failures are retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	logger      *zap.Logger

	// onRetry receives each retried operation, used for metrics
	onRetry func(name string)
}

// OnRetry registers a callback invoked before every retry sleep
func (p *Policy) OnRetry(fn func(name string)) {
	p.onRetry = fn
}

// NewPolicy creates a retry policy
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, logger *zap.Logger) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		logger:      logger,
	}
}

// Do runs op, retrying transient failures with backoff until it succeeds,
// fails non-transiently, exhausts attempts, or the context is canceled.
func (p *Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ClassOf(err) != ClassTransient {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt, RetryAfterOf(err))
		if p.onRetry != nil {
			p.onRetry(name)
		}
		p.logger.Warn("Transient failure, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return FatalBatch(ctx.Err())
		case <-time.After(delay):
		}
	}

	return Transient(fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxAttempts, lastErr))
}

// backoff computes the delay before the given attempt's retry: exponential
// growth capped at MaxDelay with half-width jitter, never shorter than a
// Retry-After hint.
func (p *Policy) backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	// Jitter in [delay/2, delay)
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}
