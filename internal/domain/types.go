package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Storefront identifies the tenant that owns carts, orders, promotions, and reviews.
type Storefront string

var storefrontPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ErrInvalidStorefront is returned when a storefront identifier is empty or malformed.
var ErrInvalidStorefront = errors.New("domain: invalid storefront")

// ParseStorefront normalises and validates a raw storefront identifier.
func ParseStorefront(raw string) (Storefront, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if !storefrontPattern.MatchString(value) {
		return "", ErrInvalidStorefront
	}
	return Storefront(value), nil
}

// Valid reports whether the storefront is a normalised identifier.
func (s Storefront) Valid() bool {
	return storefrontPattern.MatchString(string(s))
}

func (s Storefront) String() string { return string(s) }

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc orders results ascending.
	SortAsc SortOrder = "asc"
	// SortDesc orders results descending.
	SortDesc SortOrder = "desc"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps list results with the token needed to continue iteration.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// User is the minimal identity record the checkout core consumes.
type User struct {
	ID    string
	Email string
}

// Product is the catalog view used for pricing and cart denormalisation.
type Product struct {
	ID          string
	Storefront  Storefront
	Name        string
	ImageURL    string
	Category    string
	Price       int64
	SalePercent int
	Stock       int
	Active      bool
}

// EffectivePrice applies the sale percentage to the list price, rounding down.
func (p Product) EffectivePrice() int64 {
	sale := p.SalePercent
	if sale <= 0 {
		return p.Price
	}
	if sale >= 100 {
		return 0
	}
	return p.Price * int64(100-sale) / 100
}

// Cart aggregates the mutable basket for one user within one storefront.
type Cart struct {
	ID         string
	UserID     string
	Storefront Storefront
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem stores a single product/size line within a cart.
type CartItem struct {
	ID              string
	CartID          string
	ProductID       string
	Size            string
	Quantity        int
	PriceAtAddition int64
	AddedAt         time.Time
	UpdatedAt       time.Time

	// Display fields populated when the cart is read.
	Name           string
	ImageURL       string
	Category       string
	EffectivePrice int64
	Unavailable    bool
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending marks an order created at checkout and awaiting completion.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusCompleted marks a fulfilled order. Terminal.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled marks a cancelled order. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Order captures a materialised checkout.
type Order struct {
	ID               string
	UserID           string
	Storefront       Storefront
	PaymentReference string
	Status           OrderStatus
	Currency         string
	Email            string
	Subtotal         int64
	Discount         int64
	Total            int64
	PaidAmount       int64
	PromoCode        string
	Items            []OrderItem
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}

// HasProduct reports whether any order line references the product.
func (o Order) HasProduct(productID string) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// ProductIDs returns the distinct product identifiers in line order.
func (o Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// OrderItem is the immutable snapshot of a purchased line, priced at checkout time.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Size      string
	Name      string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// DiscountType enumerates promotion discount calculations.
type DiscountType string

const (
	// DiscountPercentage discounts a percentage of the subtotal.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed discounts a fixed amount capped at the subtotal.
	DiscountFixed DiscountType = "FIXED"
)

// PromoCode describes a storefront scoped promotion.
type PromoCode struct {
	ID            string
	Storefront    Storefront
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	ExpiresAt     *time.Time
	UsageLimit    *int
	PerUserLimit  *int
	Active        bool
	UsageCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PromoUsage records a single consumed usage slot.
type PromoUsage struct {
	ID         string
	PromoID    string
	Code       string
	UserID     string
	OrderID    string
	Storefront Storefront
	CreatedAt  time.Time
}

// PromoCounters reports how many usage slots a promotion has consumed overall and for one user.
type PromoCounters struct {
	Total   int
	PerUser int
}

// Review stores a product review tied to the order it was purchased in.
type Review struct {
	ID         string
	UserID     string
	ProductID  string
	OrderID    string
	Storefront Storefront
	Rating     int
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HealthStatus summarises the state of a dependency check.
type HealthStatus string

const (
	// HealthStatusOK indicates the dependency responded normally.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the check timed out or was cancelled.
	HealthStatusError HealthStatus = "error"
)

// HealthCheck records one dependency check outcome.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency checks for readiness responses.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
