package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

// OrderHandlers exposes the order ledger. Status transitions require a staff role.
type OrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	staffRoles []string
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, staffRoles []string) *OrderHandlers {
	if len(staffRoles) == 0 {
		staffRoles = []string{auth.RoleStaff, auth.RoleAdmin}
	}
	return &OrderHandlers{authn: authn, orders: orders, staffRoles: staffRoles}
}

func (h *OrderHandlers) Routes(r chi.Router) {
	group, staff := r, r
	if h.authn != nil {
		group = r.With(h.authn.RequireAuth())
		staff = r.With(h.authn.RequireAuth(h.staffRoles...))
	}
	group.Get("/orders", h.listOrders)
	group.Get("/orders/{orderId}", h.getOrder)
	staff.Post("/orders/{orderId}:transition", h.transition)
}

type orderPayload struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	Storefront       string             `json:"storefront"`
	PaymentReference string             `json:"paymentReference"`
	Status           string             `json:"status"`
	Currency         string             `json:"currency"`
	Email            string             `json:"email,omitempty"`
	Subtotal         int64              `json:"subtotal"`
	Discount         int64              `json:"discount"`
	Total            int64              `json:"total"`
	PaidAmount       int64              `json:"paidAmount"`
	PromoCode        string             `json:"promoCode,omitempty"`
	Items            []orderItemPayload `json:"items"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt,omitempty"`
	CompletedAt      string             `json:"completedAt,omitempty"`
	CancelledAt      string             `json:"cancelledAt,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Size      string `json:"size,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type transitionResponse struct {
	Order        orderPayload `json:"order"`
	Changed      bool         `json:"changed"`
	Notification string       `json:"notification,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	page, err := h.orders.ListOrders(r.Context(), services.ListOrdersQuery{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	noStore(w)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	var (
		order domain.Order
		err   error
	)
	if identity.HasAnyRole(h.staffRoles...) {
		order, err = h.orders.GetOrder(ctx, storefrontFrom(r), orderID)
	} else {
		order, err = h.orders.GetOrderForUser(ctx, storefrontFrom(r), orderID, identity.UserID)
	}
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	noStore(w)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, &req) {
		return
	}
	ctx := r.Context()
	result, err := h.orders.TransitionStatus(ctx, services.TransitionOrderCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderId")),
		Storefront: storefrontFrom(r),
		Status:     domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		ActorID:    identity.UserID,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	resp := transitionResponse{Order: buildOrderPayload(result.Order), Changed: result.Changed}
	if result.NotificationErr != nil {
		// The order committed; only the downstream notification failed.
		resp.Notification = "failed"
		requestctx.Logger(ctx).Warn("order notification failed",
			zap.String("order_id", result.Order.ID),
			zap.Error(result.NotificationErr),
		)
	} else if result.Changed && result.Order.Status == domain.OrderStatusCompleted {
		resp.Notification = "sent"
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) ready(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return nil, false
	}
	return requireIdentity(w, r)
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		UserID:           order.UserID,
		Storefront:       order.Storefront.String(),
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Email:            order.Email,
		Subtotal:         order.Subtotal,
		Discount:         order.Discount,
		Total:            order.Total,
		PaidAmount:       order.PaidAmount,
		PromoCode:        order.PromoCode,
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
		CompletedAt:      formatTimePtr(order.CompletedAt),
		CancelledAt:      formatTimePtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Size:      item.Size,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return payload
}
