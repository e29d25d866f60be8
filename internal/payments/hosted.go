package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	hostedProviderName    = "hosted"
	defaultHostedTimeout  = 10 * time.Second
	maxGatewayPayloadSize = 1 << 20
	gatewaySuccessStatus  = "success"
)

// Logger captures structured gateway events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// HostedGatewayConfig configures the HostedGateway.
type HostedGatewayConfig struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     Logger
}

// HostedGateway talks to a hosted-checkout gateway exposing /transaction/initialize and
// /transaction/verify/{reference}.
type HostedGateway struct {
	baseURL *url.URL
	secret  string
	client  *http.Client
	logger  Logger
}

var _ Gateway = (*HostedGateway)(nil)

// NewHostedGateway constructs the gateway. A missing secret is tolerated at construction and reported
// as ErrNotConfigured on use so the service can still boot without payment credentials.
func NewHostedGateway(cfg HostedGatewayConfig) (*HostedGateway, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrNotConfigured)
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", ErrNotConfigured, raw)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHostedTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &HostedGateway{
		baseURL: base,
		secret:  strings.TrimSpace(cfg.SecretKey),
		client:  client,
		logger:  logger,
	}, nil
}

type gatewayEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Metadata  json.RawMessage `json:"metadata"`
}

// decodeMetadata reads the echoed metadata object. Hosted gateways send an empty string or null when
// none was attached, so anything other than an object yields nil.
func decodeMetadata(raw json.RawMessage) map[string]string {
	var values map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &values) != nil || len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// Initialize starts a hosted payment and returns the client handoff.
func (g *HostedGateway) Initialize(ctx context.Context, req InitializeRequest) (Handoff, error) {
	if g.secret == "" {
		return Handoff{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.Email) == "" || req.Amount <= 0 {
		return Handoff{}, fmt.Errorf("%w: email and positive amount are required", ErrInvalidRequest)
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = NewReference()
	}
	if !ValidReference(reference) {
		return Handoff{}, fmt.Errorf("%w: malformed reference", ErrInvalidRequest)
	}

	body, err := json.Marshal(map[string]any{
		"email":     strings.TrimSpace(req.Email),
		"amount":    req.Amount,
		"currency":  strings.ToUpper(strings.TrimSpace(req.Currency)),
		"reference": reference,
		"metadata":  req.Metadata,
	})
	if err != nil {
		return Handoff{}, fmt.Errorf("payments: encode initialize request: %w", err)
	}

	status, payload, err := g.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return Handoff{}, err
	}
	if err := classifyStatus(status); err != nil {
		g.logger(ctx, "payments.initialize.rejected", map[string]any{"reference": reference, "status": status})
		return Handoff{}, err
	}

	var envelope gatewayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Handoff{}, fmt.Errorf("%w: decode initialize response: %v", ErrGatewayUnreachable, err)
	}
	if !envelope.Status {
		return Handoff{}, fmt.Errorf("%w: %s", ErrGatewayRejected, envelope.Message)
	}
	var data initializeData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return Handoff{}, fmt.Errorf("%w: decode initialize data: %v", ErrGatewayUnreachable, err)
		}
	}
	if data.Reference == "" {
		data.Reference = reference
	}

	g.logger(ctx, "payments.initialize.succeeded", map[string]any{"reference": data.Reference, "amount": req.Amount})
	return Handoff{
		Provider:         hostedProviderName,
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// Verify asks the gateway for the authoritative state of the reference.
func (g *HostedGateway) Verify(ctx context.Context, reference string) (Verification, error) {
	if g.secret == "" {
		return Verification{}, ErrNotConfigured
	}
	reference = strings.TrimSpace(reference)
	if !ValidReference(reference) {
		return Verification{}, fmt.Errorf("%w: malformed reference", ErrInvalidRequest)
	}

	status, payload, err := g.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return Verification{}, err
	}
	if err := classifyStatus(status); err != nil {
		g.logger(ctx, "payments.verify.failed", map[string]any{"reference": reference, "status": status})
		return Verification{Reference: reference, RawPayload: payload}, err
	}

	var envelope gatewayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Verification{}, fmt.Errorf("%w: decode verify response: %v", ErrGatewayUnreachable, err)
	}
	var data verifyData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return Verification{}, fmt.Errorf("%w: decode verify data: %v", ErrGatewayUnreachable, err)
		}
	}

	result := Verification{
		Reference:  reference,
		Status:     data.Status,
		Amount:     data.Amount,
		Currency:   strings.ToUpper(data.Currency),
		Metadata:   decodeMetadata(data.Metadata),
		RawPayload: payload,
	}
	if !strings.EqualFold(data.Status, gatewaySuccessStatus) {
		g.logger(ctx, "payments.verify.rejected", map[string]any{"reference": reference, "gatewayStatus": data.Status})
		return result, fmt.Errorf("%w: status %q", ErrGatewayRejected, data.Status)
	}
	result.Success = true
	return result, nil
}

func (g *HostedGateway) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	endpoint := g.baseURL.String() + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayPayloadSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnreachable, err)
	}
	return resp.StatusCode, payload, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: gateway rejected credentials (%d)", ErrNotConfigured, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: gateway status %d", ErrGatewayUnreachable, status)
	default:
		return fmt.Errorf("%w: gateway status %d", ErrGatewayRejected, status)
	}
}
