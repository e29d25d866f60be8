package payments

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultVerifyAttempts = 3
	defaultBackoffInitial = 200 * time.Millisecond
	defaultBackoffMax     = 2 * time.Second
)

// RetryOption customises RetryingGateway.
type RetryOption func(*RetryingGateway)

// WithVerifyAttempts sets the maximum number of Verify calls per invocation.
func WithVerifyAttempts(attempts int) RetryOption {
	return func(g *RetryingGateway) {
		if attempts > 0 {
			g.attempts = attempts
		}
	}
}

// WithBackoff overrides the pause schedule between attempts.
func WithBackoff(initial, max time.Duration) RetryOption {
	return func(g *RetryingGateway) {
		if initial > 0 {
			g.initial = initial
		}
		if max > 0 {
			g.max = max
		}
	}
}

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(g *RetryingGateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithRetryLogger attaches a logger for retry events.
func WithRetryLogger(logger Logger) RetryOption {
	return func(g *RetryingGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// RetryingGateway retries Verify on ErrGatewayUnreachable with exponential backoff. Rejections and
// configuration errors are returned immediately. Initialize is never retried because it creates state
// at the gateway.
type RetryingGateway struct {
	next     Gateway
	attempts int
	initial  time.Duration
	max      time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   Logger
}

var _ Gateway = (*RetryingGateway)(nil)

// NewRetryingGateway wraps next with Verify retries.
func NewRetryingGateway(next Gateway, opts ...RetryOption) *RetryingGateway {
	g := &RetryingGateway{
		next:     next,
		attempts: defaultVerifyAttempts,
		initial:  defaultBackoffInitial,
		max:      defaultBackoffMax,
		sleep:    gax.Sleep,
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Initialize forwards to the wrapped gateway.
func (g *RetryingGateway) Initialize(ctx context.Context, req InitializeRequest) (Handoff, error) {
	if g.next == nil {
		return Handoff{}, ErrNotConfigured
	}
	return g.next.Initialize(ctx, req)
}

// Verify calls the wrapped gateway until it succeeds, returns a non-retryable error, or the attempt
// budget is spent.
func (g *RetryingGateway) Verify(ctx context.Context, reference string) (Verification, error) {
	if g.next == nil {
		return Verification{}, ErrNotConfigured
	}
	backoff := gax.Backoff{Initial: g.initial, Max: g.max, Multiplier: 2}

	var (
		result Verification
		err    error
	)
	for attempt := 1; attempt <= g.attempts; attempt++ {
		result, err = g.next.Verify(ctx, reference)
		if err == nil || !IsRetryable(err) {
			return result, err
		}
		if attempt == g.attempts {
			break
		}
		pause := backoff.Pause()
		g.logger(ctx, "payments.verify.retry", map[string]any{
			"reference": reference,
			"attempt":   attempt,
			"pause":     pause.String(),
			"error":     err.Error(),
		})
		if sleepErr := g.sleep(ctx, pause); sleepErr != nil {
			return result, sleepErr
		}
	}
	return result, err
}
