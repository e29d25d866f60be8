package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories/memory"
)

const testStorefront = domain.Storefront("accra")

var testNow = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu         sync.Mutex
	verifyFunc func(ctx context.Context, reference string) (payments.Verification, error)
	initFunc   func(ctx context.Context, req payments.InitializeRequest) (payments.Handoff, error)
	verifies   atomic.Int32
	lastInit   payments.InitializeRequest
}

func (g *stubGateway) Initialize(ctx context.Context, req payments.InitializeRequest) (payments.Handoff, error) {
	g.mu.Lock()
	g.lastInit = req
	g.mu.Unlock()
	if g.initFunc != nil {
		return g.initFunc(ctx, req)
	}
	return payments.Handoff{Provider: "stub", Reference: req.Reference, AuthorizationURL: "https://pay.example.com/" + req.Reference}, nil
}

func (g *stubGateway) Verify(ctx context.Context, reference string) (payments.Verification, error) {
	g.verifies.Add(1)
	if g.verifyFunc != nil {
		return g.verifyFunc(ctx, reference)
	}
	return payments.Verification{Reference: reference, Success: true, Status: "success", Amount: 1_000_000, Currency: "GHS"}, nil
}

func paidGateway(amount int64) *stubGateway {
	return &stubGateway{verifyFunc: func(_ context.Context, reference string) (payments.Verification, error) {
		return payments.Verification{Reference: reference, Success: true, Status: "success", Amount: amount, Currency: "GHS"}, nil
	}}
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, fields: fields})
}

func (r *eventRecorder) find(name string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name {
			return e, true
		}
	}
	return recordedEvent{}, false
}

type fixture struct {
	events   *eventRecorder
	store    *memory.Store
	gateway  *stubGateway
	carts    CartService
	promos   PromoValidator
	checkout CheckoutService
	orders   OrderService
	reviews  ReviewService
}

func newFixture(t *testing.T, gateway *stubGateway) *fixture {
	t.Helper()
	if gateway == nil {
		gateway = &stubGateway{}
	}
	store := memory.NewStore()
	for _, id := range []string{"user-1", "user-2"} {
		store.PutUser(domain.User{ID: id, Email: id + "@example.com"})
	}
	store.PutProduct(domain.Product{ID: "prod-a", Storefront: testStorefront, Name: "Kente Scarf", Price: 5000, Active: true})
	store.PutProduct(domain.Product{ID: "prod-b", Storefront: testStorefront, Name: "Beaded Bracelet", Price: 3000, Active: true})
	store.PutProduct(domain.Product{ID: "prod-sale", Storefront: testStorefront, Name: "Clearance Mug", Price: 1999, SalePercent: 25, Active: true})

	clock := func() time.Time { return testNow }
	events := &eventRecorder{}

	carts, err := NewCartService(CartServiceDeps{Users: store.Users(), Products: store.Products(), Carts: store.Carts(), Clock: clock})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	promos, err := NewPromoValidator(PromoValidatorDeps{Promotions: store.Promotions(), Clock: clock})
	if err != nil {
		t.Fatalf("promo validator: %v", err)
	}
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Users:      store.Users(),
		Carts:      store.Carts(),
		Products:   store.Products(),
		Orders:     store.Orders(),
		UnitOfWork: store,
		Gateway:    gateway,
		Promos:     promos,
		Clock:      clock,
		Logger:     events.log,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{Orders: store.Orders(), Clock: clock})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	reviews, err := NewReviewService(ReviewServiceDeps{Reviews: store.Reviews(), Orders: store.Orders(), Clock: clock})
	if err != nil {
		t.Fatalf("review service: %v", err)
	}
	return &fixture{events: events, store: store, gateway: gateway, carts: carts, promos: promos, checkout: checkout, orders: orders, reviews: reviews}
}

func (f *fixture) add(t *testing.T, userID, productID string, quantity int, size string) domain.Cart {
	t.Helper()
	cart, err := f.carts.AddItem(context.Background(), AddCartItemCommand{
		UserID: userID, Storefront: testStorefront, ProductID: productID, Quantity: quantity, Size: size,
	})
	if err != nil {
		t.Fatalf("add %s: %v", productID, err)
	}
	return cart
}

func (f *fixture) cartLines(t *testing.T, userID string) []domain.CartItem {
	t.Helper()
	cart, err := f.carts.GetCart(context.Background(), userID, testStorefront)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	return cart.Items
}

func intPtr(v int) *int { return &v }
