package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	checkoutTracerName      = "github.com/hanko-field/checkout/internal/services"
	promoUsageIDPrefix      = "use_"
	defaultCheckoutCurrency = "GHS"

	paymentMetadataStorefront = "storefront"
	paymentMetadataUser       = "user_id"
)

// CheckoutServiceDeps wires the dependencies required by the checkout orchestrator.
type CheckoutServiceDeps struct {
	Users      repositories.UserRepository
	Carts      repositories.CartRepository
	Products   repositories.ProductRepository
	Orders     repositories.OrderRepository
	UnitOfWork repositories.CheckoutUnitOfWork
	Gateway    PaymentGateway
	Promos     PromoValidator

	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
	Metrics         CheckoutMetrics
	Tracer          trace.Tracer
	OrderIDs        func() string
	UsageIDs        func() string
	DefaultCurrency string
}

type checkoutService struct {
	users    repositories.UserRepository
	carts    repositories.CartRepository
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	uow      repositories.CheckoutUnitOfWork
	gateway  PaymentGateway
	promos   PromoValidator

	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	metrics  CheckoutMetrics
	tracer   trace.Tracer
	orderIDs func() string
	usageIDs func() string
	currency string
}

type noopCheckoutMetrics struct{}

func (noopCheckoutMetrics) CheckoutTransition(domain.Storefront, CheckoutState) {}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	case deps.Promos == nil:
		return nil, errors.New("checkout service: promo validator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	var metrics CheckoutMetrics = noopCheckoutMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(checkoutTracerName)
	}
	orderIDs := deps.OrderIDs
	if orderIDs == nil {
		orderIDs = func() string { return orderIDPrefix + ulid.Make().String() }
	}
	usageIDs := deps.UsageIDs
	if usageIDs == nil {
		usageIDs = func() string { return promoUsageIDPrefix + ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		users:    deps.Users,
		carts:    deps.Carts,
		products: deps.Products,
		orders:   deps.Orders,
		uow:      deps.UnitOfWork,
		gateway:  deps.Gateway,
		promos:   deps.Promos,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		orderIDs: orderIDs,
		usageIDs: usageIDs,
		currency: currency,
	}, nil
}

// Initialize prices the current cart and starts a gateway payment for the total.
func (s *checkoutService) Initialize(ctx context.Context, cmd InitializeCheckoutCommand) (CheckoutHandoff, error) {
	if err := validateStorefront(ErrCheckoutInvalidInput, cmd.Storefront); err != nil {
		return CheckoutHandoff{}, err
	}
	userID, err := s.resolveUser(ctx, cmd.UserID)
	if err != nil {
		return CheckoutHandoff{}, err
	}
	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		return CheckoutHandoff{}, fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	}
	currency := s.resolveCurrency(cmd.Currency)

	cart, err := s.carts.GetCart(ctx, cmd.Storefront, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutHandoff{}, ErrCheckoutEmptyCart
		}
		return CheckoutHandoff{}, fmt.Errorf("%w: load cart: %v", ErrCheckoutFailed, err)
	}
	if len(cart.Items) == 0 {
		return CheckoutHandoff{}, ErrCheckoutEmptyCart
	}
	products, err := s.products.FindByIDs(ctx, cmd.Storefront, cartProductIDs(cart))
	if err != nil {
		return CheckoutHandoff{}, fmt.Errorf("%w: load products: %v", ErrCheckoutFailed, err)
	}
	items, subtotal, err := priceCartLines(cart, products)
	if err != nil {
		return CheckoutHandoff{}, err
	}

	var discount int64
	if code := strings.TrimSpace(cmd.PromoCode); code != "" {
		quote, err := s.promos.Validate(ctx, ValidatePromoCommand{
			Code:       code,
			UserID:     userID,
			Storefront: cmd.Storefront,
			Subtotal:   subtotal,
		})
		if err != nil {
			return CheckoutHandoff{}, err
		}
		discount = quote.Discount
	}
	total := subtotal - discount
	if total <= 0 {
		return CheckoutHandoff{}, fmt.Errorf("%w: nothing to charge", ErrCheckoutInvalidInput)
	}

	metadata := map[string]string{
		paymentMetadataStorefront: cmd.Storefront.String(),
		paymentMetadataUser:       userID,
		"cart_id":                 cart.ID,
		"lines":                   fmt.Sprint(len(items)),
	}
	for k, v := range cmd.Metadata {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}
	handoff, err := s.gateway.Initialize(ctx, payments.InitializeRequest{
		Email:     email,
		Amount:    total,
		Currency:  currency,
		Reference: payments.NewReference(),
		Metadata:  metadata,
	})
	if err != nil {
		s.logger(ctx, "checkout.initialize.failed", map[string]any{
			"storefront": cmd.Storefront.String(),
			"userId":     userID,
			"error":      err.Error(),
		})
		return CheckoutHandoff{}, err
	}
	s.logger(ctx, "checkout.initialize.succeeded", map[string]any{
		"storefront": cmd.Storefront.String(),
		"userId":     userID,
		"reference":  handoff.Reference,
		"total":      total,
	})
	return CheckoutHandoff{
		Reference:        handoff.Reference,
		Provider:         handoff.Provider,
		AuthorizationURL: handoff.AuthorizationURL,
		AccessCode:       handoff.AccessCode,
		ClientSecret:     handoff.ClientSecret,
		Subtotal:         subtotal,
		Discount:         discount,
		Total:            total,
		Currency:         currency,
	}, nil
}

// Submit verifies the payment reference and materialises the order exactly once per reference.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (result CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Submit", trace.WithAttributes(
		attribute.String("checkout.storefront", string(cmd.Storefront)),
		attribute.String("checkout.reference", strings.TrimSpace(cmd.PaymentReference)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.transition(ctx, span, cmd.Storefront, CheckoutStateFailed, map[string]any{
				"reference": strings.TrimSpace(cmd.PaymentReference),
				"error":     err.Error(),
			})
		}
		span.End()
	}()

	if err := validateStorefront(ErrCheckoutInvalidInput, cmd.Storefront); err != nil {
		return CheckoutResult{}, err
	}
	reference := strings.TrimSpace(cmd.PaymentReference)
	if !payments.ValidReference(reference) {
		return CheckoutResult{}, fmt.Errorf("%w: payment reference is malformed", ErrCheckoutInvalidInput)
	}
	userID, err := s.resolveUser(ctx, cmd.UserID)
	if err != nil {
		return CheckoutResult{}, err
	}
	currency := s.resolveCurrency(cmd.Currency)
	promoCode := domain.NormalizePromoCode(cmd.PromoCode)
	s.transition(ctx, span, cmd.Storefront, CheckoutStateStarted, map[string]any{"reference": reference, "userId": userID})

	existing, err := s.orders.FindByReference(ctx, reference)
	switch {
	case err == nil:
		return s.replay(ctx, span, existing, cmd.Storefront, userID)
	case !isRepoNotFound(err):
		return CheckoutResult{}, fmt.Errorf("%w: lookup reference: %v", ErrCheckoutFailed, err)
	}

	verification, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !verification.Success {
		return CheckoutResult{}, fmt.Errorf("%w: status %q", payments.ErrGatewayRejected, verification.Status)
	}
	if err := checkPaymentOwner(verification.Metadata, cmd.Storefront, userID); err != nil {
		return CheckoutResult{}, err
	}
	s.transition(ctx, span, cmd.Storefront, CheckoutStatePaymentVerified, map[string]any{
		"reference": reference,
		"amount":    verification.Amount,
	})

	var (
		created  domain.Order
		replayed bool
	)
	txErr := s.uow.RunCheckout(ctx, func(ctx context.Context, tx repositories.CheckoutTx) error {
		created, replayed = domain.Order{}, false

		prior, err := tx.OrderByReference(ctx, reference)
		if err == nil {
			created, replayed = prior, true
			return nil
		}
		if !isRepoNotFound(err) {
			return err
		}

		cart, err := tx.Cart(ctx, cmd.Storefront, userID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrCheckoutEmptyCart
			}
			return err
		}
		if len(cart.Items) == 0 {
			return ErrCheckoutEmptyCart
		}
		products, err := tx.Products(ctx, cmd.Storefront, cartProductIDs(cart))
		if err != nil {
			return err
		}
		items, subtotal, err := priceCartLines(cart, products)
		if err != nil {
			return err
		}

		var (
			promo    domain.PromoCode
			discount int64
		)
		if promoCode != "" {
			promo, err = tx.Promotion(ctx, cmd.Storefront, promoCode)
			if err != nil {
				if isRepoNotFound(err) {
					return ErrPromoInvalid
				}
				return err
			}
			counters, err := tx.PromoCounters(ctx, promo.ID, userID)
			if err != nil {
				return err
			}
			if discount, err = evaluatePromo(promo, counters, subtotal, s.now()); err != nil {
				return err
			}
		}
		if total := subtotal - discount; verification.Amount < total {
			return fmt.Errorf("%w: %w: paid %d, total %d", ErrCheckoutFailed, ErrCheckoutAmountMismatch, verification.Amount, total)
		}
		if verification.Currency != "" && !strings.EqualFold(verification.Currency, currency) {
			return fmt.Errorf("%w: %w: paid in %s, order in %s", ErrCheckoutFailed, ErrCheckoutAmountMismatch, verification.Currency, currency)
		}

		now := s.now()
		order := domain.Order{
			ID:               s.orderIDs(),
			UserID:           userID,
			Storefront:       cmd.Storefront,
			PaymentReference: reference,
			Status:           domain.OrderStatusPending,
			Currency:         currency,
			Email:            strings.TrimSpace(cmd.Email),
			Discount:         discount,
			PaidAmount:       verification.Amount,
			PromoCode:        promo.Code,
			Items:            items,
		}
		sealOrder(&order, now)

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if promoCode != "" {
			if err := tx.RecordPromoUsage(ctx, domain.PromoUsage{
				ID:         s.usageIDs(),
				PromoID:    promo.ID,
				Code:       promo.Code,
				UserID:     userID,
				OrderID:    order.ID,
				Storefront: cmd.Storefront,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}
		if err := tx.ClearCart(ctx, cmd.Storefront, userID); err != nil {
			return err
		}
		created = order
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrCheckoutAmountMismatch) {
			s.logger(ctx, "checkout.reconcile_required", map[string]any{
				"storefront": cmd.Storefront.String(),
				"userId":     userID,
				"reference":  reference,
				"paidAmount": verification.Amount,
				"currency":   verification.Currency,
				"error":      txErr.Error(),
			})
		}
		if isRepoConflict(txErr) {
			// Another submission for the same reference committed first.
			winner, err := s.orders.FindByReference(ctx, reference)
			if err == nil {
				return s.replay(ctx, span, winner, cmd.Storefront, userID)
			}
		}
		return CheckoutResult{}, s.translateTxError(txErr)
	}
	if replayed {
		return s.replay(ctx, span, created, cmd.Storefront, userID)
	}

	s.transition(ctx, span, cmd.Storefront, CheckoutStateOrderMaterialized, map[string]any{
		"reference": reference,
		"orderId":   created.ID,
		"total":     created.Total,
		"discount":  created.Discount,
		"promoCode": created.PromoCode,
	})
	return CheckoutResult{Order: created, State: CheckoutStateOrderMaterialized}, nil
}

func (s *checkoutService) replay(ctx context.Context, span trace.Span, order domain.Order, storefront domain.Storefront, userID string) (CheckoutResult, error) {
	if order.UserID != userID || order.Storefront != storefront {
		return CheckoutResult{}, fmt.Errorf("%w: payment reference belongs to another order", ErrOrderConflict)
	}
	span.SetAttributes(attribute.Bool("checkout.replayed", true))
	s.transition(ctx, span, order.Storefront, CheckoutStateOrderMaterialized, map[string]any{
		"reference": order.PaymentReference,
		"orderId":   order.ID,
		"replayed":  true,
	})
	return CheckoutResult{Order: order, State: CheckoutStateOrderMaterialized, Replayed: true}, nil
}

func (s *checkoutService) transition(ctx context.Context, span trace.Span, storefront domain.Storefront, state CheckoutState, fields map[string]any) {
	span.AddEvent(string(state))
	s.metrics.CheckoutTransition(storefront, state)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["storefront"] = storefront.String()
	fields["state"] = string(state)
	s.logger(ctx, "checkout.state", fields)
}

func (s *checkoutService) resolveUser(ctx context.Context, userID string) (string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", ErrUnauthenticated
	}
	if s.users == nil {
		return uid, nil
	}
	if _, err := s.users.FindByID(ctx, uid); err != nil {
		if isRepoNotFound(err) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("%w: resolve user: %v", ErrCheckoutFailed, err)
	}
	return uid, nil
}

func (s *checkoutService) resolveCurrency(raw string) string {
	if currency := strings.ToUpper(strings.TrimSpace(raw)); currency != "" {
		return currency
	}
	return s.currency
}

func (s *checkoutService) translateTxError(err error) error {
	if errors.Is(err, ErrCheckoutFailed) {
		return err
	}
	switch KindOf(err) {
	case KindInternal, KindNotFound:
		if errors.Is(err, ErrPromoInvalid) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	default:
		return err
	}
}

// checkPaymentOwner rejects a verified charge that Initialize started for another shopper or
// storefront. Gateways that do not echo metadata are not checked.
func checkPaymentOwner(metadata map[string]string, storefront domain.Storefront, userID string) error {
	if owner, ok := metadata[paymentMetadataUser]; ok && owner != userID {
		return fmt.Errorf("%w: payment reference was started by another user", ErrOrderConflict)
	}
	if sf, ok := metadata[paymentMetadataStorefront]; ok && sf != storefront.String() {
		return fmt.Errorf("%w: payment reference was started in storefront %q", ErrOrderConflict, sf)
	}
	return nil
}

func cartProductIDs(cart domain.Cart) []string {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	return dedupe(ids)
}

// priceCartLines converts cart lines to order items at the current effective price. Any line that does
// not resolve to an active product or carries a non-positive quantity fails the whole cart.
func priceCartLines(cart domain.Cart, products map[string]domain.Product) ([]domain.OrderItem, int64, error) {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	var subtotal int64
	for _, line := range cart.Items {
		if line.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: %s has quantity %d", ErrCheckoutLineInvalid, line.ProductID, line.Quantity)
		}
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, 0, fmt.Errorf("%w: product %s is no longer available", ErrCheckoutLineInvalid, line.ProductID)
		}
		unit := product.EffectivePrice()
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Size:      line.Size,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: unit,
			LineTotal: unit * int64(line.Quantity),
		})
		subtotal += unit * int64(line.Quantity)
	}
	return items, subtotal, nil
}
