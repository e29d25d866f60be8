package events

import (
	"encoding/json"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// EventTypeOrderCompleted is the type attribute stamped on completion messages.
const EventTypeOrderCompleted = "order.completed"

// OrderCompletedEvent is the wire payload published when an order reaches COMPLETED.
type OrderCompletedEvent struct {
	Type             string           `json:"type"`
	OrderID          string           `json:"orderId"`
	UserID           string           `json:"userId"`
	Storefront       string           `json:"storefront"`
	PaymentReference string           `json:"paymentReference"`
	Email            string           `json:"email,omitempty"`
	Currency         string           `json:"currency"`
	Total            int64            `json:"total"`
	PromoCode        string           `json:"promoCode,omitempty"`
	Items            []OrderEventItem `json:"items"`
	CompletedAt      time.Time        `json:"completedAt"`
}

// OrderEventItem is one purchased line.
type OrderEventItem struct {
	ProductID string `json:"productId"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

func newOrderCompletedEvent(order domain.Order, now time.Time) OrderCompletedEvent {
	completedAt := now
	if order.CompletedAt != nil {
		completedAt = *order.CompletedAt
	}
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return OrderCompletedEvent{
		Type:             EventTypeOrderCompleted,
		OrderID:          order.ID,
		UserID:           order.UserID,
		Storefront:       order.Storefront.String(),
		PaymentReference: order.PaymentReference,
		Email:            order.Email,
		Currency:         order.Currency,
		Total:            order.Total,
		PromoCode:        order.PromoCode,
		Items:            items,
		CompletedAt:      completedAt.UTC(),
	}
}

func encodeOrderCompleted(order domain.Order, now time.Time) ([]byte, error) {
	return json.Marshal(newOrderCompletedEvent(order, now))
}
