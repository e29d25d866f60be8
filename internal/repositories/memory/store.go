// Package memory provides an in-memory repository registry useful for testing and local development.
// All state lives behind a single mutex; checkout transactions hold it for their full duration and
// stage writes until the callback succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Error implements repositories.RepositoryError for the memory store.
type Error struct {
	op       string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	switch {
	case e.notFound:
		return e.op + ": not found"
	case e.conflict:
		return e.op + ": conflict"
	default:
		return e.op + ": failed"
	}
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op string) error { return &Error{op: op, notFound: true} }
func conflict(op string) error { return &Error{op: op, conflict: true} }

// Store is a process-local registry implementation.
type Store struct {
	mu sync.Mutex

	users      map[string]domain.User
	products   map[string]domain.Product
	carts      map[string]domain.Cart
	promos     map[string]domain.PromoCode
	userCounts map[string]int
	usages     []domain.PromoUsage
	orders     map[string]domain.Order
	orderRefs  map[string]string
	reviews    map[string]domain.Review
	reviewKeys map[string]string

	// BeforeCommit, when set, runs inside checkout transactions just before staged writes apply.
	BeforeCommit func()
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		users:      make(map[string]domain.User),
		products:   make(map[string]domain.Product),
		carts:      make(map[string]domain.Cart),
		promos:     make(map[string]domain.PromoCode),
		userCounts: make(map[string]int),
		orders:     make(map[string]domain.Order),
		orderRefs:  make(map[string]string),
		reviews:    make(map[string]domain.Review),
		reviewKeys: make(map[string]string),
	}
}

// PutUser seeds or replaces a user.
func (s *Store) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productKey(product.Storefront, product.ID)] = product
}

// DeleteProduct removes a product, simulating catalog changes between cart edits and checkout.
func (s *Store) DeleteProduct(storefront domain.Storefront, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, productKey(storefront, productID))
}

// PutPromo seeds or replaces a promo code.
func (s *Store) PutPromo(promo domain.PromoCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	promo.Code = domain.NormalizePromoCode(promo.Code)
	s.promos[domain.PromoKey(promo.Storefront, promo.Code)] = promo
}

// PromoUsages returns a copy of every recorded usage.
func (s *Store) PromoUsages() []domain.PromoUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PromoUsage(nil), s.usages...)
}

// OrderCount reports how many orders exist across storefronts.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Users() repositories.UserRepository           { return userRepo{s} }
func (s *Store) Products() repositories.ProductRepository     { return productRepo{s} }
func (s *Store) Carts() repositories.CartRepository           { return cartRepo{s} }
func (s *Store) Promotions() repositories.PromotionRepository { return promoRepo{s} }
func (s *Store) Orders() repositories.OrderRepository         { return orderRepo{s} }
func (s *Store) Reviews() repositories.ReviewRepository       { return reviewRepo{s} }
func (s *Store) Health() repositories.HealthRepository        { return healthRepo{} }

func productKey(storefront domain.Storefront, productID string) string {
	return string(storefront) + "/" + productID
}

func counterKey(promoID, userID string) string {
	return promoID + ":" + userID
}

type userRepo struct{ s *Store }

func (r userRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.User{}, notFound("users.get")
	}
	return user, nil
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, storefront domain.Storefront, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productKey(storefront, productID)]
	if !ok {
		return domain.Product{}, notFound("products.get")
	}
	return product, nil
}

func (r productRepo) FindByIDs(_ context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.lookupProducts(storefront, productIDs), nil
}

func (s *Store) lookupProducts(storefront domain.Storefront, productIDs []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[productKey(storefront, id)]; ok {
			out[id] = product
		}
	}
	return out
}

type cartRepo struct{ s *Store }

func (r cartRepo) GetCart(_ context.Context, storefront domain.Storefront, userID string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[domain.CartID(storefront, userID)]
	if !ok {
		return domain.Cart{}, notFound("carts.get")
	}
	return cloneCart(cart), nil
}

func (r cartRepo) MutateCart(_ context.Context, storefront domain.Storefront, userID string, fn repositories.CartMutation) (domain.Cart, error) {
	if fn == nil {
		return domain.Cart{}, errors.New("memory: cart mutation is nil")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := domain.CartID(storefront, userID)
	cart, ok := r.s.carts[id]
	if !ok {
		cart = domain.Cart{ID: id, UserID: userID, Storefront: storefront}
	}
	working := cloneCart(cart)
	if err := fn(&working); err != nil {
		return domain.Cart{}, err
	}
	working.ID = id
	r.s.carts[id] = cloneCart(working)
	return working, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return cart
}

type promoRepo struct{ s *Store }

func (r promoRepo) FindByCode(_ context.Context, storefront domain.Storefront, code string) (domain.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	promo, ok := r.s.promos[domain.PromoKey(storefront, code)]
	if !ok {
		return domain.PromoCode{}, notFound("promotions.get")
	}
	return promo, nil
}

func (r promoRepo) Counters(_ context.Context, promoID string, userID string) (domain.PromoCounters, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.countersLocked(promoID, userID), nil
}

func (s *Store) countersLocked(promoID, userID string) domain.PromoCounters {
	counters := domain.PromoCounters{PerUser: s.userCounts[counterKey(promoID, userID)]}
	for _, promo := range s.promos {
		if promo.ID == promoID {
			counters.Total = promo.UsageCount
			break
		}
	}
	return counters
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertOrderLocked(order)
}

func (s *Store) insertOrderLocked(order domain.Order) error {
	if _, exists := s.orders[order.ID]; exists {
		return conflict("orders.insert")
	}
	refKey := domain.OrderReferenceKey(order.PaymentReference)
	if _, exists := s.orderRefs[refKey]; exists {
		return conflict("orders.insert")
	}
	s.orders[order.ID] = cloneOrder(order)
	s.orderRefs[refKey] = order.ID
	return nil
}

func (r orderRepo) FindByID(_ context.Context, storefront domain.Storefront, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok || order.Storefront != storefront {
		return domain.Order{}, notFound("orders.get")
	}
	return cloneOrder(order), nil
}

func (r orderRepo) FindByReference(_ context.Context, reference string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.orderByReferenceLocked(reference)
}

func (s *Store) orderByReferenceLocked(reference string) (domain.Order, error) {
	id, ok := s.orderRefs[domain.OrderReferenceKey(reference)]
	if !ok {
		return domain.Order{}, notFound("orders.reference")
	}
	return cloneOrder(s.orders[id]), nil
}

func (r orderRepo) ListByUser(_ context.Context, storefront domain.Storefront, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matches []domain.Order
	for _, order := range r.s.orders {
		if order.Storefront == storefront && order.UserID == userID {
			matches = append(matches, cloneOrder(order))
		}
	}
	return paginate(matches, pager, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

func (r orderRepo) Mutate(_ context.Context, storefront domain.Storefront, orderID string, fn repositories.OrderMutation) (domain.Order, bool, error) {
	if fn == nil {
		return domain.Order{}, false, errors.New("memory: order mutation is nil")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[orderID]
	if !ok || order.Storefront != storefront {
		return domain.Order{}, false, notFound("orders.mutate")
	}
	working := cloneOrder(order)
	changed, err := fn(&working)
	if err != nil {
		return domain.Order{}, false, err
	}
	if changed {
		r.s.orders[orderID] = cloneOrder(working)
	}
	return working, changed, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order
}

type reviewRepo struct{ s *Store }

func (r reviewRepo) Insert(_ context.Context, review domain.Review) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := domain.ReviewKey(review.Storefront, review.UserID, review.ProductID, review.OrderID)
	if _, exists := r.s.reviewKeys[key]; exists {
		return conflict("reviews.insert")
	}
	if _, exists := r.s.reviews[review.ID]; exists {
		return conflict("reviews.insert")
	}
	r.s.reviews[review.ID] = review
	r.s.reviewKeys[key] = review.ID
	return nil
}

func (r reviewRepo) Update(_ context.Context, review domain.Review) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.reviews[review.ID]; !ok {
		return notFound("reviews.update")
	}
	r.s.reviews[review.ID] = review
	return nil
}

func (r reviewRepo) FindByID(_ context.Context, storefront domain.Storefront, reviewID string) (domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	review, ok := r.s.reviews[reviewID]
	if !ok || review.Storefront != storefront {
		return domain.Review{}, notFound("reviews.get")
	}
	return review, nil
}

func (r reviewRepo) FindByKey(_ context.Context, storefront domain.Storefront, userID, productID, orderID string) (domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.reviewKeys[domain.ReviewKey(storefront, userID, productID, orderID)]
	if !ok {
		return domain.Review{}, notFound("reviews.key")
	}
	return r.s.reviews[id], nil
}

func (r reviewRepo) ListByProduct(_ context.Context, storefront domain.Storefront, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matches []domain.Review
	for _, review := range r.s.reviews {
		if review.Storefront == storefront && review.ProductID == productID {
			matches = append(matches, review)
		}
	}
	return paginate(matches, pager, func(rv domain.Review) (time.Time, string) { return rv.CreatedAt, rv.ID })
}

func (r reviewRepo) ListByOrder(_ context.Context, storefront domain.Storefront, orderID string) ([]domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matches []domain.Review
	for _, review := range r.s.reviews {
		if review.Storefront == storefront && review.OrderID == orderID {
			matches = append(matches, review)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches, nil
}

type healthRepo struct{}

func (healthRepo) Collect(context.Context) (domain.HealthReport, error) {
	now := time.Now().UTC()
	return domain.HealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      map[string]domain.HealthCheck{"memory": {Status: domain.HealthStatusOK, Detail: "ok", CheckedAt: now}},
		GeneratedAt: now,
	}, nil
}

func paginate[T any](items []T, pager domain.Pagination, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, fmt.Errorf("memory: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi > idj
		}
		return ti.After(tj)
	})

	size := pagination.ClampPageSize(pager.PageSize)
	page := domain.CursorPage[T]{}
	for _, item := range items {
		createdAt, id := key(item)
		if !cursor.After(createdAt, id) {
			continue
		}
		if len(page.Items) == size {
			last := page.Items[len(page.Items)-1]
			lastAt, lastID := key(last)
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: lastAt, ID: lastID})
			if err != nil {
				return domain.CursorPage[T]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}
