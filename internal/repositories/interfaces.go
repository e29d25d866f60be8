package repositories

import (
	"context"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Users() UserRepository
	Products() ProductRepository
	Carts() CartRepository
	Promotions() PromotionRepository
	Orders() OrderRepository
	Reviews() ReviewRepository
	Health() HealthRepository
	CheckoutUnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UserRepository resolves users that own carts, orders, and reviews.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// ProductRepository resolves catalog entries scoped to a storefront.
type ProductRepository interface {
	FindByID(ctx context.Context, storefront domain.Storefront, productID string) (domain.Product, error)
	// FindByIDs returns the products that exist; missing identifiers are absent from the map.
	FindByIDs(ctx context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error)
}

// CartMutation mutates a cart loaded inside a transaction. Returning an error aborts the write.
type CartMutation func(cart *domain.Cart) error

// CartRepository persists carts keyed by (storefront, user).
type CartRepository interface {
	// GetCart returns a not-found error when no cart exists for the pair.
	GetCart(ctx context.Context, storefront domain.Storefront, userID string) (domain.Cart, error)
	// MutateCart loads or initialises the cart, applies fn, and writes the result atomically.
	MutateCart(ctx context.Context, storefront domain.Storefront, userID string, fn CartMutation) (domain.Cart, error)
}

// PromotionRepository resolves promo codes and their consumption counters.
type PromotionRepository interface {
	FindByCode(ctx context.Context, storefront domain.Storefront, code string) (domain.PromoCode, error)
	Counters(ctx context.Context, promoID string, userID string) (domain.PromoCounters, error)
}

// OrderMutation applies a status change to an order loaded inside a transaction.
// It reports whether the order changed; unchanged orders are not written.
type OrderMutation func(order *domain.Order) (bool, error)

// OrderRepository persists orders and their line items.
type OrderRepository interface {
	// Insert creates the order; a conflict error is returned when the payment reference is taken.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, storefront domain.Storefront, orderID string) (domain.Order, error)
	// FindByReference looks the reference up across storefronts.
	FindByReference(ctx context.Context, reference string) (domain.Order, error)
	ListByUser(ctx context.Context, storefront domain.Storefront, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	Mutate(ctx context.Context, storefront domain.Storefront, orderID string, fn OrderMutation) (domain.Order, bool, error)
}

// ReviewRepository persists reviews unique on (user, product, order).
type ReviewRepository interface {
	// Insert returns a conflict error when a review already exists for the triple.
	Insert(ctx context.Context, review domain.Review) error
	Update(ctx context.Context, review domain.Review) error
	FindByID(ctx context.Context, storefront domain.Storefront, reviewID string) (domain.Review, error)
	FindByKey(ctx context.Context, storefront domain.Storefront, userID, productID, orderID string) (domain.Review, error)
	ListByProduct(ctx context.Context, storefront domain.Storefront, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	ListByOrder(ctx context.Context, storefront domain.Storefront, orderID string) ([]domain.Review, error)
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// CheckoutUnitOfWork runs order materialisation as a single atomic transaction.
type CheckoutUnitOfWork interface {
	RunCheckout(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error
}

// CheckoutTx exposes the reads and writes needed to materialise an order. Implementations backed by
// Firestore require every read to happen before the first write.
type CheckoutTx interface {
	OrderByReference(ctx context.Context, reference string) (domain.Order, error)
	Cart(ctx context.Context, storefront domain.Storefront, userID string) (domain.Cart, error)
	Products(ctx context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error)
	Promotion(ctx context.Context, storefront domain.Storefront, code string) (domain.PromoCode, error)
	PromoCounters(ctx context.Context, promoID string, userID string) (domain.PromoCounters, error)

	CreateOrder(ctx context.Context, order domain.Order) error
	RecordPromoUsage(ctx context.Context, usage domain.PromoUsage) error
	ClearCart(ctx context.Context, storefront domain.Storefront, userID string) error
}
