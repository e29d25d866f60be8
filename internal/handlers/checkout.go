package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/textutil"
	"github.com/hanko-field/checkout/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes payment handoff and order materialisation.
type CheckoutHandlers struct {
	authn      *auth.Authenticator
	checkout   services.CheckoutService
	idempotent func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithInitializeMiddleware wraps the initialize endpoint, typically with Idempotency-Key replay so a
// retried request does not open a second gateway payment.
func WithInitializeMiddleware(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotent = mw
	}
}

func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, checkout: checkout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	initialize := group
	if h.idempotent != nil {
		initialize = initialize.With(h.idempotent)
	}
	initialize.Post("/checkout/initialize", h.initialize)
	group.Post("/checkout", h.submit)
}

type initializeCheckoutRequest struct {
	Email     string            `json:"email"`
	PromoCode string            `json:"promoCode"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata"`
}

type initializeCheckoutResponse struct {
	Reference        string `json:"reference"`
	Provider         string `json:"provider"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	AccessCode       string `json:"accessCode,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	Subtotal         int64  `json:"subtotal"`
	Discount         int64  `json:"discount"`
	Total            int64  `json:"total"`
	Currency         string `json:"currency"`
}

type submitCheckoutRequest struct {
	Reference string `json:"reference"`
	Email     string `json:"email"`
	PromoCode string `json:"promoCode"`
	Currency  string `json:"currency"`
}

type submitCheckoutResponse struct {
	State    string       `json:"state"`
	Replayed bool         `json:"replayed"`
	Order    orderPayload `json:"order"`
}

func (h *CheckoutHandlers) initialize(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req initializeCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	handoff, err := h.checkout.Initialize(r.Context(), services.InitializeCheckoutCommand{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		Email:      emailOrIdentity(req.Email, identity),
		PromoCode:  strings.TrimSpace(req.PromoCode),
		Currency:   strings.TrimSpace(req.Currency),
		Metadata:   textutil.NormalizeMetadata(req.Metadata),
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	noStore(w)
	writeJSONResponse(w, http.StatusOK, initializeCheckoutResponse{
		Reference:        handoff.Reference,
		Provider:         handoff.Provider,
		AuthorizationURL: handoff.AuthorizationURL,
		AccessCode:       handoff.AccessCode,
		ClientSecret:     handoff.ClientSecret,
		Subtotal:         handoff.Subtotal,
		Discount:         handoff.Discount,
		Total:            handoff.Total,
		Currency:         handoff.Currency,
	})
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req submitCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	result, err := h.checkout.Submit(r.Context(), services.SubmitCheckoutCommand{
		UserID:           identity.UserID,
		Storefront:       storefrontFrom(r),
		Email:            emailOrIdentity(req.Email, identity),
		PaymentReference: strings.TrimSpace(req.Reference),
		PromoCode:        strings.TrimSpace(req.PromoCode),
		Currency:         strings.TrimSpace(req.Currency),
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	noStore(w)
	writeJSONResponse(w, status, submitCheckoutResponse{
		State:    string(result.State),
		Replayed: result.Replayed,
		Order:    buildOrderPayload(result.Order),
	})
}

func (h *CheckoutHandlers) ready(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.checkout == nil {
		serviceUnavailable(r.Context(), w, "checkout")
		return nil, false
	}
	return requireIdentity(w, r)
}

func emailOrIdentity(email string, identity *auth.Identity) string {
	if email = strings.TrimSpace(email); email != "" {
		return email
	}
	return strings.TrimSpace(identity.Email)
}
