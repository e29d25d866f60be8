package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/services"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type tokenVerifier map[string]auth.Claims

func (v tokenVerifier) Verify(_ context.Context, raw string) (auth.Claims, error) {
	claims, ok := v[raw]
	if !ok {
		return auth.Claims{}, auth.ErrTokenInvalid
	}
	return claims, nil
}

func (tokenVerifier) Method() string { return "test" }

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{
		"shopper": {Subject: "user-1", Email: "ama@example.com"},
		"staff":   {Subject: "ops-1", Roles: []string{auth.RoleStaff}},
	})
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, rec, &body)
	code, _ := body["error"].(string)
	return code
}

type stubCarts struct {
	cart    domain.Cart
	err     error
	lastAdd services.AddCartItemCommand
	lastSet services.SetCartQuantityCommand
	lastRm  services.RemoveCartItemCommand
	lastAll services.ReplaceCartCommand
}

func (s *stubCarts) AddItem(_ context.Context, cmd services.AddCartItemCommand) (domain.Cart, error) {
	s.lastAdd = cmd
	return s.cart, s.err
}

func (s *stubCarts) SetQuantity(_ context.Context, cmd services.SetCartQuantityCommand) (domain.Cart, error) {
	s.lastSet = cmd
	return s.cart, s.err
}

func (s *stubCarts) RemoveItem(_ context.Context, cmd services.RemoveCartItemCommand) (domain.Cart, error) {
	s.lastRm = cmd
	return s.cart, s.err
}

func (s *stubCarts) GetOrCreateCart(_ context.Context, userID string, storefront domain.Storefront) (domain.Cart, error) {
	cart := s.cart
	cart.UserID, cart.Storefront = userID, storefront
	return cart, s.err
}

func (s *stubCarts) GetCart(ctx context.Context, userID string, storefront domain.Storefront) (domain.Cart, error) {
	return s.GetOrCreateCart(ctx, userID, storefront)
}

func (s *stubCarts) ReplaceAll(_ context.Context, cmd services.ReplaceCartCommand) (domain.Cart, error) {
	s.lastAll = cmd
	return s.cart, s.err
}

func sampleCart() domain.Cart {
	return domain.Cart{
		ID:        "cart_1",
		UserID:    "user-1",
		UpdatedAt: testNow,
		Items: []domain.CartItem{
			{ID: "ci_1", ProductID: "prod-1", Size: "M", Quantity: 2, PriceAtAddition: 5000, EffectivePrice: 4500},
			{ID: "ci_2", ProductID: "prod-2", Quantity: 1, EffectivePrice: 1000, Unavailable: true},
		},
	}
}

func TestCartRoutes(t *testing.T) {
	carts := &stubCarts{cart: sampleCart()}
	router := NewRouter(WithStorefrontRoutes(NewCartHandlers(testAuthenticator(), carts).Routes))

	rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/Accra/cart", "shopper", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got cartResponse
	decodeBody(t, rec, &got)
	if got.Cart.Storefront != "accra" || got.Cart.UserID != "user-1" {
		t.Fatalf("unexpected cart scope %+v", got.Cart)
	}
	if got.Cart.Subtotal != 9000 || got.Cart.ItemsCount != 2 {
		t.Fatalf("expected subtotal of available lines only, got %+v", got.Cart)
	}
	if rec.Header().Get("ETag") == "" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing cache headers %v", rec.Header())
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/cart/items", "shopper",
		map[string]any{"productId": " prod-1 ", "quantity": 2, "size": "M"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d", rec.Code)
	}
	if carts.lastAdd.ProductID != "prod-1" || carts.lastAdd.Quantity != 2 || carts.lastAdd.Storefront != "accra" {
		t.Fatalf("unexpected add command %+v", carts.lastAdd)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/v1/storefronts/accra/cart/items/prod-1?size=M", "shopper",
		map[string]any{"quantity": 0})
	if rec.Code != http.StatusOK || carts.lastSet.Size != "M" || carts.lastSet.Quantity != 0 {
		t.Fatalf("unexpected set quantity %d %+v", rec.Code, carts.lastSet)
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/storefronts/accra/cart/items/prod-2", "shopper", nil)
	if rec.Code != http.StatusOK || carts.lastRm.ProductID != "prod-2" || carts.lastRm.Size != "" {
		t.Fatalf("unexpected remove %d %+v", rec.Code, carts.lastRm)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/v1/storefronts/accra/cart", "shopper",
		map[string]any{"items": []map[string]any{{"productId": "prod-3", "quantity": 1}}})
	if rec.Code != http.StatusOK || len(carts.lastAll.Items) != 1 || carts.lastAll.Items[0].ProductID != "prod-3" {
		t.Fatalf("unexpected replace %d %+v", rec.Code, carts.lastAll)
	}
}

func TestCartRejections(t *testing.T) {
	carts := &stubCarts{cart: sampleCart()}
	router := NewRouter(WithStorefrontRoutes(NewCartHandlers(testAuthenticator(), carts).Routes))

	if rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/cart", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/bad%20store/cart", "shopper", nil)
	if rec.Code != http.StatusBadRequest || errorCodeOf(t, rec) != "invalid_argument" {
		t.Fatalf("expected 400 for malformed storefront, got %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/cart/items", "shopper", map[string]any{"bogus": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}

	carts.err = services.ErrCartProductNotFound
	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/cart/items", "shopper", map[string]any{"productId": "gone", "quantity": 1})
	if rec.Code != http.StatusNotFound || errorCodeOf(t, rec) != "not_found" {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type stubCheckout struct {
	handoff    services.CheckoutHandoff
	result     services.CheckoutResult
	err        error
	initCalls  int
	lastInit   services.InitializeCheckoutCommand
	lastSubmit services.SubmitCheckoutCommand
}

func (s *stubCheckout) Initialize(_ context.Context, cmd services.InitializeCheckoutCommand) (services.CheckoutHandoff, error) {
	s.initCalls++
	s.lastInit = cmd
	handoff := s.handoff
	handoff.Reference = handoff.Reference + strings.Repeat("x", s.initCalls-1)
	return handoff, s.err
}

func (s *stubCheckout) Submit(_ context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
	s.lastSubmit = cmd
	return s.result, s.err
}

func TestCheckoutInitializeReplaysWithIdempotencyKey(t *testing.T) {
	checkout := &stubCheckout{handoff: services.CheckoutHandoff{Reference: "ref-1", Provider: "hosted", Total: 9000, Currency: "GHS"}}
	handlers := NewCheckoutHandlers(testAuthenticator(), checkout,
		WithInitializeMiddleware(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := NewRouter(WithStorefrontRoutes(handlers.Routes))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/storefronts/accra/checkout/initialize",
			strings.NewReader(`{"promoCode":"SAVE10","metadata":{" channel ":"web"}}`))
		req.Header.Set("Authorization", "Bearer shopper")
		req.Header.Set(idempotency.HeaderName, "init-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	first, second := send(), send()
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d and %d", first.Code, second.Code)
	}
	if checkout.initCalls != 1 {
		t.Fatalf("expected a single gateway initialisation, got %d", checkout.initCalls)
	}
	var a, b initializeCheckoutResponse
	decodeBody(t, first, &a)
	decodeBody(t, second, &b)
	if a.Reference != "ref-1" || b.Reference != a.Reference {
		t.Fatalf("expected replayed reference, got %q and %q", a.Reference, b.Reference)
	}
	if checkout.lastInit.Email != "ama@example.com" || checkout.lastInit.Metadata["channel"] != "web" {
		t.Fatalf("unexpected command %+v", checkout.lastInit)
	}
}

func TestCheckoutSubmitStatuses(t *testing.T) {
	order := domain.Order{ID: "ord_1", Storefront: "accra", Status: domain.OrderStatusPending, Total: 9000, CreatedAt: testNow}
	checkout := &stubCheckout{result: services.CheckoutResult{Order: order, State: services.CheckoutStateOrderMaterialized}}
	router := NewRouter(WithStorefrontRoutes(NewCheckoutHandlers(testAuthenticator(), checkout).Routes))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/checkout", "shopper", map[string]any{"reference": " ref-1 "})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if checkout.lastSubmit.PaymentReference != "ref-1" || checkout.lastSubmit.UserID != "user-1" {
		t.Fatalf("unexpected submit %+v", checkout.lastSubmit)
	}

	checkout.result.Replayed = true
	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/checkout", "shopper", map[string]any{"reference": "ref-1"})
	var body submitCheckoutResponse
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusOK || !body.Replayed || body.Order.ID != "ord_1" {
		t.Fatalf("expected replayed 200, got %d %+v", rec.Code, body)
	}

	cases := []struct {
		err    error
		status int
	}{
		{services.ErrCheckoutEmptyCart, http.StatusBadRequest},
		{services.ErrPromoExpired, http.StatusUnprocessableEntity},
		{errors.Join(services.ErrCheckoutFailed, errors.New("payments: gateway unreachable")), http.StatusInternalServerError},
		{fmt.Errorf("%w: %w", services.ErrCheckoutFailed, services.ErrCheckoutAmountMismatch), http.StatusInternalServerError},
		{payments.ErrGatewayRejected, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		checkout.err = tc.err
		rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/checkout", "shopper", map[string]any{"reference": "ref-2"})
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}

type stubPromos struct {
	quote services.PromoQuote
	err   error
	last  services.ValidatePromoCommand
}

func (s *stubPromos) Validate(_ context.Context, cmd services.ValidatePromoCommand) (services.PromoQuote, error) {
	s.last = cmd
	return s.quote, s.err
}

func TestPromoValidate(t *testing.T) {
	promos := &stubPromos{quote: services.PromoQuote{
		Valid: true, Code: "SAVE10", Discount: 1000,
		Promo: domain.PromoCode{DiscountType: domain.DiscountPercentage, DiscountValue: 10},
	}}
	router := NewRouter(WithStorefrontRoutes(NewPromoHandlers(testAuthenticator(), promos).Routes))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/promos:validate", "shopper", map[string]any{"code": "save10", "subtotal": 10000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body validatePromoResponse
	decodeBody(t, rec, &body)
	if !body.Valid || body.Discount != 1000 || body.DiscountType != "PERCENTAGE" {
		t.Fatalf("unexpected response %+v", body)
	}
	if promos.last.UserID != "user-1" || promos.last.Subtotal != 10000 {
		t.Fatalf("unexpected command %+v", promos.last)
	}

	promos.err = services.ErrPromoPerUserLimitExceeded
	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/promos:validate", "shopper", map[string]any{"code": "save10", "subtotal": 10000})
	if rec.Code != http.StatusUnprocessableEntity || errorCodeOf(t, rec) != "limit_exceeded" {
		t.Fatalf("expected 422 limit_exceeded, got %d", rec.Code)
	}
}

type stubOrders struct {
	order      domain.Order
	page       domain.CursorPage[domain.Order]
	transition services.TransitionResult
	err        error
	lastQuery  services.ListOrdersQuery
	lastCmd    services.TransitionOrderCommand
	forUser    string
}

func (s *stubOrders) CreateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	return order, s.err
}

func (s *stubOrders) GetOrder(context.Context, domain.Storefront, string) (domain.Order, error) {
	s.forUser = ""
	return s.order, s.err
}

func (s *stubOrders) GetOrderForUser(_ context.Context, _ domain.Storefront, _ string, userID string) (domain.Order, error) {
	s.forUser = userID
	return s.order, s.err
}

func (s *stubOrders) ListOrders(_ context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	s.lastQuery = query
	return s.page, s.err
}

func (s *stubOrders) TransitionStatus(_ context.Context, cmd services.TransitionOrderCommand) (services.TransitionResult, error) {
	s.lastCmd = cmd
	return s.transition, s.err
}

func TestOrderRoutes(t *testing.T) {
	order := domain.Order{ID: "ord_1", UserID: "user-1", Storefront: "accra", Status: domain.OrderStatusPending, CreatedAt: testNow}
	orders := &stubOrders{order: order, page: domain.CursorPage[domain.Order]{Items: []domain.Order{order}, NextPageToken: "next"}}
	router := NewRouter(WithStorefrontRoutes(NewOrderHandlers(testAuthenticator(), orders, nil).Routes))

	rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/orders?pageSize=5", "shopper", nil)
	var list orderListResponse
	decodeBody(t, rec, &list)
	if rec.Code != http.StatusOK || len(list.Items) != 1 || list.NextPageToken != "next" {
		t.Fatalf("unexpected list %d %+v", rec.Code, list)
	}
	if orders.lastQuery.Pagination.PageSize != 5 || orders.lastQuery.UserID != "user-1" {
		t.Fatalf("unexpected query %+v", orders.lastQuery)
	}
	if rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/orders?pageSize=abc", "shopper", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page size, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/orders/ord_1", "shopper", nil)
	if rec.Code != http.StatusOK || orders.forUser != "user-1" {
		t.Fatalf("expected owner scoped lookup, got %d %q", rec.Code, orders.forUser)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/orders/ord_1:transition", "shopper", map[string]any{"status": "COMPLETED"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper transition, got %d", rec.Code)
	}

	completed := order
	completed.Status = domain.OrderStatusCompleted
	orders.transition = services.TransitionResult{Order: completed, Changed: true, NotificationErr: errors.New("pubsub down")}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/orders/ord_1:transition", "staff", map[string]any{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp transitionResponse
	decodeBody(t, rec, &resp)
	if resp.Notification != "failed" || resp.Order.Status != "COMPLETED" || !resp.Changed {
		t.Fatalf("expected committed order with failed notification, got %+v", resp)
	}
	if orders.lastCmd.Status != domain.OrderStatusCompleted || orders.lastCmd.ActorID != "ops-1" || orders.lastCmd.OrderID != "ord_1" {
		t.Fatalf("unexpected command %+v", orders.lastCmd)
	}

	orders.err = services.ErrOrderNotFound
	if rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/orders/missing", "shopper", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type stubReviews struct {
	eligibility services.ReviewEligibility
	review      domain.Review
	page        domain.CursorPage[domain.Review]
	err         error
	lastSubmit  services.SubmitReviewCommand
	lastUpdate  services.UpdateReviewCommand
}

func (s *stubReviews) CanReview(context.Context, string, domain.Storefront, string) (services.ReviewEligibility, error) {
	return s.eligibility, s.err
}

func (s *stubReviews) SubmitReview(_ context.Context, cmd services.SubmitReviewCommand) (domain.Review, error) {
	s.lastSubmit = cmd
	return s.review, s.err
}

func (s *stubReviews) UpdateReview(_ context.Context, cmd services.UpdateReviewCommand) (domain.Review, error) {
	s.lastUpdate = cmd
	return s.review, s.err
}

func (s *stubReviews) ListProductReviews(context.Context, services.ListProductReviewsQuery) (domain.CursorPage[domain.Review], error) {
	return s.page, s.err
}

func (s *stubReviews) ListOrderReviews(context.Context, domain.Storefront, string, string) ([]domain.Review, error) {
	return s.page.Items, s.err
}

func TestReviewRoutes(t *testing.T) {
	review := domain.Review{ID: "rev_1", UserID: "user-1", ProductID: "prod-1", OrderID: "ord_1", Storefront: "accra", Rating: 5, CreatedAt: testNow}
	reviews := &stubReviews{
		eligibility: services.ReviewEligibility{Eligible: true, OrderStatus: domain.OrderStatusCompleted, TotalProducts: 2},
		review:      review,
		page:        domain.CursorPage[domain.Review]{Items: []domain.Review{review}},
	}
	router := NewRouter(WithStorefrontRoutes(NewReviewHandlers(testAuthenticator(), reviews).Routes))

	rec := doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/products/prod-1/reviews", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public listing, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/orders/ord_1/review-eligibility", "shopper", nil)
	var elig eligibilityResponse
	decodeBody(t, rec, &elig)
	if !elig.Eligible || elig.ReviewedProductIDs == nil || elig.TotalProducts != 2 {
		t.Fatalf("unexpected eligibility %+v", elig)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/reviews", "shopper",
		map[string]any{"productId": "prod-1", "orderId": "ord_1", "rating": 5, "comment": "great"})
	if rec.Code != http.StatusCreated || reviews.lastSubmit.UserID != "user-1" || reviews.lastSubmit.Comment != "great" {
		t.Fatalf("unexpected create %d %+v", rec.Code, reviews.lastSubmit)
	}

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/storefronts/accra/reviews/rev_1", "shopper", map[string]any{"rating": 4})
	if rec.Code != http.StatusOK || reviews.lastUpdate.ReviewID != "rev_1" || reviews.lastUpdate.Comment != nil {
		t.Fatalf("unexpected update %d %+v", rec.Code, reviews.lastUpdate)
	}

	reviews.err = services.ErrDuplicateReview
	rec = doRequest(t, router, http.MethodPost, "/api/v1/storefronts/accra/reviews", "shopper",
		map[string]any{"productId": "prod-1", "orderId": "ord_1", "rating": 5})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate, got %d", rec.Code)
	}
	reviews.err = services.ErrOrderNotEligible
	rec = doRequest(t, router, http.MethodGet, "/api/v1/storefronts/accra/orders/ord_1/review-eligibility", "shopper", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign order, got %d", rec.Code)
	}
}

type stubSystem struct {
	report services.SystemHealthReport
	err    error
}

func (s stubSystem) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthEndpoints(t *testing.T) {
	start := testNow.Add(-time.Minute)
	healthy := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return testNow }),
	)
	router := NewRouter(WithHealthHandlers(healthy), WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("checkout_up 1\n"))
	})))

	rec := doRequest(t, router, http.MethodGet, "/healthz", "", nil)
	var body healthResponse
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusOK || body.Version != "1.0.0" || body.Uptime != "1m0s" {
		t.Fatalf("unexpected healthz %d %+v", rec.Code, body)
	}
	if rec := doRequest(t, router, http.MethodGet, "/metrics", "", nil); !strings.Contains(rec.Body.String(), "checkout_up") {
		t.Fatalf("expected metrics handler mounted, got %q", rec.Body.String())
	}

	degraded := NewHealthHandlers(WithHealthSystemService(stubSystem{report: services.SystemHealthReport{
		HealthReport: domain.HealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.HealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"redis":     {Status: domain.HealthStatusDegraded, Detail: "connection refused"},
			},
		},
	}}))
	rec = httptest.NewRecorder()
	degraded.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusServiceUnavailable || len(body.Details) != 1 || body.Details[0] != "redis: connection refused" {
		t.Fatalf("unexpected readyz %d %+v", rec.Code, body)
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := doRequest(t, NewRouter(), http.MethodGet, "/api/v1/nope", "", nil)
	if rec.Code != http.StatusNotFound || errorCodeOf(t, rec) != errorNotFoundCode {
		t.Fatalf("expected route_not_found, got %d", rec.Code)
	}
}
