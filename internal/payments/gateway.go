package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const referencePrefix = "chk_"

var (
	// ErrNotConfigured indicates gateway credentials are missing. Not retryable.
	ErrNotConfigured = errors.New("payments: gateway not configured")
	// ErrGatewayRejected indicates the gateway answered but the payment did not succeed. Final.
	ErrGatewayRejected = errors.New("payments: payment rejected by gateway")
	// ErrGatewayUnreachable indicates a transport failure or 5xx from the gateway. Retryable.
	ErrGatewayUnreachable = errors.New("payments: gateway unreachable")
	// ErrInvalidRequest indicates the caller supplied an invalid gateway request.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// InitializeRequest describes a charge to hand off to the hosted gateway flow.
type InitializeRequest struct {
	Email     string
	Amount    int64
	Currency  string
	Reference string
	Metadata  map[string]string
}

// Handoff is returned to the client so it can complete payment with the gateway.
type Handoff struct {
	Provider         string
	Reference        string
	AuthorizationURL string
	AccessCode       string
	ClientSecret     string
}

// Verification is the authoritative gateway answer for a reference.
type Verification struct {
	Reference string
	Success   bool
	Status    string
	Amount    int64
	Currency  string
	// Metadata echoes what Initialize attached to the charge. Providers that do not return it leave
	// it nil.
	Metadata   map[string]string
	RawPayload []byte
}

// Gateway is the boundary to an external hosted-payment provider.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (Handoff, error)
	// Verify is an idempotent read; it may be called more than once per reference.
	Verify(ctx context.Context, reference string) (Verification, error)
}

// NewReference generates a fresh payment reference.
func NewReference() string {
	return referencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidReference reports whether a reference is safe to send to a gateway path segment.
func ValidReference(reference string) bool {
	reference = strings.TrimSpace(reference)
	if reference == "" || len(reference) > 128 {
		return false
	}
	for _, r := range reference {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '=':
		default:
			return false
		}
	}
	return true
}

// IsRetryable reports whether a gateway error may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnreachable)
}
