package services

import (
	"context"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
)

// CartService exposes the mutable pre-purchase basket for one (user, storefront) pair.
type CartService interface {
	AddItem(ctx context.Context, cmd AddCartItemCommand) (domain.Cart, error)
	SetQuantity(ctx context.Context, cmd SetCartQuantityCommand) (domain.Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (domain.Cart, error)
	// GetOrCreateCart persists an empty cart when none exists yet.
	GetOrCreateCart(ctx context.Context, userID string, storefront domain.Storefront) (domain.Cart, error)
	// GetCart never writes; a missing cart is returned empty.
	GetCart(ctx context.Context, userID string, storefront domain.Storefront) (domain.Cart, error)
	ReplaceAll(ctx context.Context, cmd ReplaceCartCommand) (domain.Cart, error)
}

// PromoValidator evaluates promotion codes without consuming them.
type PromoValidator interface {
	Validate(ctx context.Context, cmd ValidatePromoCommand) (PromoQuote, error)
}

// CheckoutService converts a cart plus a verified payment into exactly one order.
type CheckoutService interface {
	Initialize(ctx context.Context, cmd InitializeCheckoutCommand) (CheckoutHandoff, error)
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutResult, error)
}

// OrderService is the read/transition surface over the order ledger.
type OrderService interface {
	CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	GetOrder(ctx context.Context, storefront domain.Storefront, orderID string) (domain.Order, error)
	GetOrderForUser(ctx context.Context, storefront domain.Storefront, orderID, userID string) (domain.Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (TransitionResult, error)
}

// ReviewService gates review creation on completed purchases.
type ReviewService interface {
	CanReview(ctx context.Context, userID string, storefront domain.Storefront, orderID string) (ReviewEligibility, error)
	SubmitReview(ctx context.Context, cmd SubmitReviewCommand) (domain.Review, error)
	UpdateReview(ctx context.Context, cmd UpdateReviewCommand) (domain.Review, error)
	ListProductReviews(ctx context.Context, query ListProductReviewsQuery) (domain.CursorPage[domain.Review], error)
	ListOrderReviews(ctx context.Context, storefront domain.Storefront, orderID, userID string) ([]domain.Review, error)
}

// OrderNotifier dispatches order completion notifications to an external collaborator.
type OrderNotifier interface {
	OrderCompleted(ctx context.Context, order domain.Order) error
}

// CheckoutMetrics records checkout state transitions.
type CheckoutMetrics interface {
	CheckoutTransition(storefront domain.Storefront, state CheckoutState)
}

// AddCartItemCommand adds quantity of a product/size to the cart, merging with an existing line.
type AddCartItemCommand struct {
	UserID     string
	Storefront domain.Storefront
	ProductID  string
	Quantity   int
	Size       string
}

// SetCartQuantityCommand sets the exact quantity of a line. Zero or negative removes it.
type SetCartQuantityCommand struct {
	UserID     string
	Storefront domain.Storefront
	ProductID  string
	Quantity   int
	Size       string
}

// RemoveCartItemCommand removes a line. An empty Size matches every size of the product.
type RemoveCartItemCommand struct {
	UserID     string
	Storefront domain.Storefront
	ProductID  string
	Size       string
}

// ReplaceCartLine is one line of a wholesale cart replacement.
type ReplaceCartLine struct {
	ProductID string
	Quantity  int
	Size      string
}

// ReplaceCartCommand replaces every cart line with Items.
type ReplaceCartCommand struct {
	UserID     string
	Storefront domain.Storefront
	Items      []ReplaceCartLine
}

// ValidatePromoCommand asks whether a code applies to a subtotal.
type ValidatePromoCommand struct {
	Code       string
	UserID     string
	Storefront domain.Storefront
	Subtotal   int64
}

// PromoQuote is the result of a successful validation.
type PromoQuote struct {
	Valid    bool
	Code     string
	Discount int64
	Promo    domain.PromoCode
}

// CheckoutState enumerates the checkout state machine.
type CheckoutState string

const (
	CheckoutStateStarted           CheckoutState = "STARTED"
	CheckoutStatePaymentVerified   CheckoutState = "PAYMENT_VERIFIED"
	CheckoutStateOrderMaterialized CheckoutState = "ORDER_MATERIALIZED"
	CheckoutStateFailed            CheckoutState = "FAILED"
)

// InitializeCheckoutCommand prices the cart and starts a gateway payment.
type InitializeCheckoutCommand struct {
	UserID     string
	Storefront domain.Storefront
	Email      string
	PromoCode  string
	Currency   string
	Metadata   map[string]string
}

// CheckoutHandoff is returned to the client to complete payment with the gateway.
type CheckoutHandoff struct {
	Reference        string
	Provider         string
	AuthorizationURL string
	AccessCode       string
	ClientSecret     string
	Subtotal         int64
	Discount         int64
	Total            int64
	Currency         string
}

// SubmitCheckoutCommand materialises an order for a payment reference.
type SubmitCheckoutCommand struct {
	UserID           string
	Storefront       domain.Storefront
	Email            string
	PaymentReference string
	PromoCode        string
	Currency         string
}

// CheckoutResult reports the outcome of Submit.
type CheckoutResult struct {
	Order    domain.Order
	State    CheckoutState
	Replayed bool
}

// ListOrdersQuery pages through a user's orders, newest first.
type ListOrdersQuery struct {
	UserID     string
	Storefront domain.Storefront
	Pagination domain.Pagination
}

// TransitionOrderCommand requests a status change.
type TransitionOrderCommand struct {
	OrderID    string
	Storefront domain.Storefront
	Status     domain.OrderStatus
	ActorID    string
}

// TransitionResult reports a status change. NotificationErr is set when the order committed but the
// completion notification failed.
type TransitionResult struct {
	Order           domain.Order
	Changed         bool
	NotificationErr error
}

// ReviewEligibility summarises which products of an order may still be reviewed.
type ReviewEligibility struct {
	Eligible           bool
	OrderStatus        domain.OrderStatus
	TotalProducts      int
	ReviewedProductIDs []string
}

// SubmitReviewCommand creates a review for a purchased product.
type SubmitReviewCommand struct {
	UserID     string
	Storefront domain.Storefront
	ProductID  string
	OrderID    string
	Rating     int
	Comment    string
}

// UpdateReviewCommand edits an existing review owned by UserID.
type UpdateReviewCommand struct {
	ReviewID   string
	UserID     string
	Storefront domain.Storefront
	Rating     int
	Comment    *string
}

// ListProductReviewsQuery pages through reviews of one product, newest first.
type ListProductReviewsQuery struct {
	Storefront domain.Storefront
	ProductID  string
	Pagination domain.Pagination
}

// PaymentGateway is the subset of payments.Gateway the checkout flow uses.
type PaymentGateway interface {
	Initialize(ctx context.Context, req payments.InitializeRequest) (payments.Handoff, error)
	Verify(ctx context.Context, reference string) (payments.Verification, error)
}
