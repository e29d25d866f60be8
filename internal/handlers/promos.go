package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

// PromoHandlers exposes promotion code validation. Validation never consumes a usage.
type PromoHandlers struct {
	authn  *auth.Authenticator
	promos services.PromoValidator
}

func NewPromoHandlers(authn *auth.Authenticator, promos services.PromoValidator) *PromoHandlers {
	return &PromoHandlers{authn: authn, promos: promos}
}

func (h *PromoHandlers) Routes(r chi.Router) {
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	group.Post("/promos:validate", h.validate)
}

type validatePromoRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type validatePromoResponse struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	Discount      int64  `json:"discount"`
	DiscountType  string `json:"discountType,omitempty"`
	DiscountValue int64  `json:"discountValue,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

func (h *PromoHandlers) validate(w http.ResponseWriter, r *http.Request) {
	if h.promos == nil {
		serviceUnavailable(r.Context(), w, "promotion")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req validatePromoRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, &req) {
		return
	}
	quote, err := h.promos.Validate(r.Context(), services.ValidatePromoCommand{
		Code:       strings.TrimSpace(req.Code),
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		Subtotal:   req.Subtotal,
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, validatePromoResponse{
		Valid:         quote.Valid,
		Code:          quote.Code,
		Discount:      quote.Discount,
		DiscountType:  string(quote.Promo.DiscountType),
		DiscountValue: quote.Promo.DiscountValue,
		ExpiresAt:     formatTimePtr(quote.Promo.ExpiresAt),
	})
}
