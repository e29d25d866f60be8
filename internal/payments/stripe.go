package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	stripeProviderName   = "stripe"
	stripeReferenceField = "checkout_reference"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger

	intents stripePaymentIntentAPI
}

// StripeGateway maps the gateway contract onto Stripe Payment Intents. The payment reference is the
// intent identifier, so Verify is a plain intent lookup.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	account string
	logger  Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs the gateway. Without an API key every call reports ErrNotConfigured.
func NewStripeGateway(cfg StripeGatewayConfig) *StripeGateway {
	intents := cfg.intents
	if intents == nil {
		if key := strings.TrimSpace(cfg.APIKey); key != "" {
			intents = client.New(key, cfg.Backends).PaymentIntents
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}
}

// Initialize creates a payment intent and returns its client secret.
func (g *StripeGateway) Initialize(ctx context.Context, req InitializeRequest) (Handoff, error) {
	if g == nil || g.intents == nil {
		return Handoff{}, ErrNotConfigured
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return Handoff{}, fmt.Errorf("%w: amount and currency are required", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		params.AddMetadata(stripeReferenceField, ref)
		params.SetIdempotencyKey(ref)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return Handoff{}, classifyStripeError("create payment intent", err)
	}
	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})
	return Handoff{
		Provider:     stripeProviderName,
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// Verify fetches the payment intent and reports success only for the succeeded state.
func (g *StripeGateway) Verify(ctx context.Context, reference string) (Verification, error) {
	if g == nil || g.intents == nil {
		return Verification{}, ErrNotConfigured
	}
	reference = strings.TrimSpace(reference)
	if !ValidReference(reference) {
		return Verification{}, fmt.Errorf("%w: malformed reference", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.intents.Get(reference, params)
	if err != nil {
		return Verification{}, classifyStripeError("lookup payment intent", err)
	}

	raw, _ := json.Marshal(intent)
	result := Verification{
		Reference:  reference,
		Status:     string(intent.Status),
		Amount:     intent.Amount,
		Currency:   strings.ToUpper(string(intent.Currency)),
		Metadata:   intent.Metadata,
		RawPayload: raw,
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		g.logger(ctx, "payments.stripe.intent.unsettled", map[string]any{
			"paymentIntent": intent.ID,
			"status":        intent.Status,
		})
		return result, fmt.Errorf("%w: intent status %q", ErrGatewayRejected, intent.Status)
	}
	result.Success = true
	return result, nil
}

func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: stripe %s: %v", ErrGatewayUnreachable, op, err)
	}
	switch status := stripeErr.HTTPStatusCode; {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: stripe %s: %s", ErrNotConfigured, op, stripeErr.Msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: stripe %s: %s", ErrGatewayUnreachable, op, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: stripe %s: %s", ErrGatewayRejected, op, stripeErr.Msg)
	}
}
