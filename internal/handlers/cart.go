package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

const maxCartBodySize = 32 * 1024

// CartHandlers exposes the caller's cart within a storefront.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	group.Get("/cart", h.getCart)
	group.Put("/cart", h.replaceCart)
	group.Post("/cart/items", h.addItem)
	group.Put("/cart/items/{productId}", h.setQuantity)
	group.Delete("/cart/items/{productId}", h.removeItem)
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type replaceCartRequest struct {
	Items []cartItemRequest `json:"items"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetOrCreateCart(r.Context(), identity.UserID, storefrontFrom(r))
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	cart, err := h.carts.AddItem(r.Context(), services.AddCartItemCommand{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		ProductID:  strings.TrimSpace(req.ProductID),
		Quantity:   req.Quantity,
		Size:       strings.TrimSpace(req.Size),
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	cart, err := h.carts.SetQuantity(r.Context(), services.SetCartQuantityCommand{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		Quantity:   req.Quantity,
		Size:       strings.TrimSpace(r.URL.Query().Get("size")),
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		Size:       strings.TrimSpace(r.URL.Query().Get("size")),
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) replaceCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req replaceCartRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	lines := make([]services.ReplaceCartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.ReplaceCartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Size:      strings.TrimSpace(item.Size),
		})
	}
	cart, err := h.carts.ReplaceAll(r.Context(), services.ReplaceCartCommand{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		Items:      lines,
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) ready(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.carts == nil {
		serviceUnavailable(r.Context(), w, "cart")
		return nil, false
	}
	return requireIdentity(w, r)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, cart domain.Cart, err error) {
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	noStore(w)
	if etag := cartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	Storefront string            `json:"storefront"`
	ItemsCount int               `json:"itemsCount"`
	Subtotal   int64             `json:"subtotal"`
	Items      []cartItemPayload `json:"items"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	Size            string `json:"size,omitempty"`
	Quantity        int    `json:"quantity"`
	Name            string `json:"name,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
	Category        string `json:"category,omitempty"`
	PriceAtAddition int64  `json:"priceAtAddition"`
	EffectivePrice  int64  `json:"effectivePrice"`
	Unavailable     bool   `json:"unavailable,omitempty"`
	AddedAt         string `json:"addedAt,omitempty"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Storefront: cart.Storefront.String(),
		ItemsCount: len(cart.Items),
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		if !item.Unavailable {
			payload.Subtotal += item.EffectivePrice * int64(item.Quantity)
		}
		payload.Items = append(payload.Items, cartItemPayload{
			ID:              item.ID,
			ProductID:       item.ProductID,
			Size:            item.Size,
			Quantity:        item.Quantity,
			Name:            item.Name,
			ImageURL:        item.ImageURL,
			Category:        item.Category,
			PriceAtAddition: item.PriceAtAddition,
			EffectivePrice:  item.EffectivePrice,
			Unavailable:     item.Unavailable,
			AddedAt:         formatTime(item.AddedAt),
		})
	}
	return payload
}

func cartETag(cart domain.Cart) string {
	if cart.ID == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", cart.ID, cart.UpdatedAt.UTC().UnixNano())))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}
