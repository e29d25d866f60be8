package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction. Firestore re-invokes it when the commit contends, so
// it must not carry side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxSettings bound a single transaction.
type TxSettings struct {
	Attempts int
	Timeout  time.Duration
}

// TxOption adjusts TxSettings for one call.
type TxOption func(*TxSettings)

// WithTxAttempts caps how many times the transaction body may run.
func WithTxAttempts(attempts int) TxOption {
	return func(s *TxSettings) {
		if attempts > 0 {
			s.Attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included. A shorter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *TxSettings) {
		if timeout > 0 {
			s.Timeout = timeout
		}
	}
}

// RetryHook observes a transaction body being run again after contention. attempt starts at 2.
type RetryHook func(ctx context.Context, op string, attempt int)

func defaultTxSettings() TxSettings {
	return TxSettings{Attempts: defaultTxAttempts, Timeout: defaultTxTimeout}
}

func (s TxSettings) apply(opts []TxOption) TxSettings {
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// RunTransaction runs fn on client as the named operation op. Errors come back wrapped with op so
// repository callers can classify them.
func RunTransaction(ctx context.Context, client *firestore.Client, op string, fn TxFunc, settings TxSettings, hook RetryHook) error {
	if client == nil {
		return WrapError(op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(op, errors.New("firestore: transaction function is nil"))
	}

	txCtx, cancel := boundedContext(ctx, settings.Timeout)
	defer cancel()

	var txOpts []firestore.TransactionOption
	if settings.Attempts > 0 {
		txOpts = append(txOpts, firestore.MaxAttempts(settings.Attempts))
	}

	attempt := 0
	err := client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempt++
		if attempt > 1 && hook != nil {
			hook(ctx, op, attempt)
		}
		return fn(ctx, tx)
	}, txOpts...)
	return WrapError(op, err)
}

// boundedContext shortens ctx to timeout unless the caller already set an earlier deadline.
func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
