package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventNotifyFailed  = "order.notification.failed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Notifier    OrderNotifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	notifier OrderNotifier
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs the order ledger service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return orderIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:   deps.Orders,
		notifier: deps.Notifier,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// CreateOrder inserts a fully priced order outside the checkout flow, for administrative import.
func (s *orderService) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := validateStorefront(ErrOrderInvalidInput, order.Storefront); err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(order.UserID) == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(order.PaymentReference) == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}
	if len(order.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for i, item := range order.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return domain.Order{}, fmt.Errorf("%w: items[%d] is invalid", ErrOrderInvalidInput, i)
		}
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if _, ok := orderStateTransitions[order.Status]; !ok && !order.Status.Terminal() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, order.Status)
	}

	if strings.TrimSpace(order.ID) == "" {
		order.ID = s.newID()
	}
	sealOrder(&order, s.now())

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":    order.ID,
		"storefront": order.Storefront.String(),
		"reference":  order.PaymentReference,
		"total":      order.Total,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, storefront domain.Storefront, orderID string) (domain.Order, error) {
	if err := validateStorefront(ErrOrderInvalidInput, storefront); err != nil {
		return domain.Order{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, storefront, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// GetOrderForUser hides orders owned by someone else behind ErrOrderNotFound.
func (s *orderService) GetOrderForUser(ctx context.Context, storefront domain.Storefront, orderID, userID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	order, err := s.GetOrder(ctx, storefront, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	if err := validateStorefront(ErrOrderInvalidInput, query.Storefront); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, ErrUnauthenticated
	}
	page, err := s.orders.ListByUser(ctx, query.Storefront, userID, query.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus applies PENDING -> COMPLETED|CANCELLED. Terminal orders are returned unchanged. The
// completion notification runs after the write commits and its failure never rolls the status back.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (TransitionResult, error) {
	if err := validateStorefront(ErrOrderInvalidInput, cmd.Storefront); err != nil {
		return TransitionResult{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if !target.Terminal() {
		return TransitionResult{}, fmt.Errorf("%w: cannot transition to %q", ErrOrderInvalidTransition, cmd.Status)
	}

	var previous domain.OrderStatus
	now := s.now()
	order, changed, err := s.orders.Mutate(ctx, cmd.Storefront, orderID, func(order *domain.Order) (bool, error) {
		previous = order.Status
		if order.Status.Terminal() {
			return false, nil
		}
		if !transitionAllowed(order.Status, target) {
			return false, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
		}
		order.Status = target
		order.UpdatedAt = now
		switch target {
		case domain.OrderStatusCompleted:
			order.CompletedAt = &now
		case domain.OrderStatusCancelled:
			order.CancelledAt = &now
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidTransition) {
			return TransitionResult{}, err
		}
		return TransitionResult{}, s.mapRepositoryError(err)
	}

	result := TransitionResult{Order: order, Changed: changed}
	if !changed {
		return result, nil
	}
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId":        order.ID,
		"storefront":     order.Storefront.String(),
		"previousStatus": string(previous),
		"status":         string(order.Status),
		"actorId":        strings.TrimSpace(cmd.ActorID),
	})

	if order.Status == domain.OrderStatusCompleted && s.notifier != nil {
		if err := s.notifier.OrderCompleted(ctx, order); err != nil {
			result.NotificationErr = err
			s.logger(ctx, orderEventNotifyFailed, map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
	return result, nil
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, candidate := range orderStateTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

// sealOrder fills line identifiers, line totals, order totals and timestamps.
func sealOrder(order *domain.Order, now time.Time) {
	var subtotal int64
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if item.ID == "" {
			item.ID = fmt.Sprintf("%s%s_%02d", orderItemIDPrefix, strings.TrimPrefix(order.ID, orderIDPrefix), i+1)
		}
		item.LineTotal = item.UnitPrice * int64(item.Quantity)
		subtotal += item.LineTotal
	}
	order.Subtotal = subtotal
	if order.Discount > subtotal {
		order.Discount = subtotal
	}
	if order.Discount < 0 {
		order.Discount = 0
	}
	order.Total = subtotal - order.Discount
	order.Currency = strings.ToUpper(strings.TrimSpace(order.Currency))
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
}
