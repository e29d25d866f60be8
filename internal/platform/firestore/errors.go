package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrReferenceTaken reports that a commit lost the orderReferences guard: another checkout already
// bound the payment reference to an order.
var ErrReferenceTaken = errors.New("firestore: payment reference already bound to an order")

// Error implements repositories.RepositoryError for the checkout repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	contended   bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsContended reports a transaction that kept aborting on contention until its attempts ran out.
// Nothing was written, so the caller may retry the whole operation.
func (e *Error) IsContended() bool {
	return e != nil && e.contended
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// NotFound builds a not-found repository error for lookups that resolve to no document.
func NotFound(op, detail string) error {
	return &Error{op: op, err: errors.New(detail), notFound: true}
}

// Conflict builds a conflict repository error for uniqueness guards.
func Conflict(op, detail string) error {
	return &Error{op: op, err: errors.New(detail), conflict: true}
}

// GuardReference reclassifies the AlreadyExists commit failure of a transaction that created the
// orderReferences guard for reference. Order and usage ids are generated, so the guard is the only
// document two checkouts race to create. Other errors are returned unchanged.
func GuardReference(op, reference string, err error) error {
	if err == nil || reference == "" || status.Code(err) != codes.AlreadyExists {
		return err
	}
	return &Error{op: op, err: fmt.Errorf("%w: %q: %w", ErrReferenceTaken, reference, unwrapOp(err)), conflict: true}
}

func unwrapOp(err error) error {
	var repoErr *Error
	if errors.As(err, &repoErr) && repoErr.err != nil {
		return repoErr.err
	}
	return err
}

func newError(op string, err error) *Error {
	if err == nil {
		return nil
	}

	code := status.Code(err)
	e := &Error{op: op, err: err}
	switch code {
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists:
		e.conflict = true
	case codes.Aborted:
		e.conflict = true
		e.contended = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		e.unavailable = true
	}
	return e
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}
