package memory

import (
	"context"
	"errors"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// RunCheckout serialises checkout transactions and applies staged writes only when fn succeeds.
func (s *Store) RunCheckout(ctx context.Context, fn func(ctx context.Context, tx repositories.CheckoutTx) error) error {
	if fn == nil {
		return errors.New("memory: checkout function is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &checkoutTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.BeforeCommit != nil {
		s.BeforeCommit()
	}
	return tx.commit()
}

type checkoutTx struct {
	s *Store

	orders     []domain.Order
	usages     []domain.PromoUsage
	clearCarts []string
}

func (t *checkoutTx) OrderByReference(_ context.Context, reference string) (domain.Order, error) {
	refKey := domain.OrderReferenceKey(reference)
	for _, order := range t.orders {
		if domain.OrderReferenceKey(order.PaymentReference) == refKey {
			return cloneOrder(order), nil
		}
	}
	return t.s.orderByReferenceLocked(reference)
}

func (t *checkoutTx) Cart(_ context.Context, storefront domain.Storefront, userID string) (domain.Cart, error) {
	cart, ok := t.s.carts[domain.CartID(storefront, userID)]
	if !ok {
		return domain.Cart{}, notFound("carts.get")
	}
	return cloneCart(cart), nil
}

func (t *checkoutTx) Products(_ context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error) {
	return t.s.lookupProducts(storefront, productIDs), nil
}

func (t *checkoutTx) Promotion(_ context.Context, storefront domain.Storefront, code string) (domain.PromoCode, error) {
	promo, ok := t.s.promos[domain.PromoKey(storefront, code)]
	if !ok {
		return domain.PromoCode{}, notFound("promotions.get")
	}
	return promo, nil
}

func (t *checkoutTx) PromoCounters(_ context.Context, promoID string, userID string) (domain.PromoCounters, error) {
	return t.s.countersLocked(promoID, userID), nil
}

func (t *checkoutTx) CreateOrder(_ context.Context, order domain.Order) error {
	refKey := domain.OrderReferenceKey(order.PaymentReference)
	if _, exists := t.s.orderRefs[refKey]; exists {
		return conflict("orders.create")
	}
	for _, staged := range t.orders {
		if domain.OrderReferenceKey(staged.PaymentReference) == refKey {
			return conflict("orders.create")
		}
	}
	t.orders = append(t.orders, cloneOrder(order))
	return nil
}

func (t *checkoutTx) RecordPromoUsage(_ context.Context, usage domain.PromoUsage) error {
	t.usages = append(t.usages, usage)
	return nil
}

func (t *checkoutTx) ClearCart(_ context.Context, storefront domain.Storefront, userID string) error {
	t.clearCarts = append(t.clearCarts, domain.CartID(storefront, userID))
	return nil
}

func (t *checkoutTx) commit() error {
	for _, order := range t.orders {
		if err := t.s.insertOrderLocked(order); err != nil {
			return err
		}
	}
	for _, usage := range t.usages {
		t.s.usages = append(t.s.usages, usage)
		t.s.userCounts[counterKey(usage.PromoID, usage.UserID)]++
		for key, promo := range t.s.promos {
			if promo.ID == usage.PromoID {
				promo.UsageCount++
				t.s.promos[key] = promo
				break
			}
		}
	}
	for _, id := range t.clearCarts {
		if cart, ok := t.s.carts[id]; ok {
			cart.Items = nil
			t.s.carts[id] = cart
		}
	}
	return nil
}
