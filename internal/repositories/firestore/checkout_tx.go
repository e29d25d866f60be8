package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// CheckoutUnitOfWork materialises orders in a single Firestore transaction. Firestore retries the
// callback on contention, so promo counters read inside it are always the committed values.
type CheckoutUnitOfWork struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
	products *pfirestore.Collection[productDocument]
	promos   *pfirestore.Collection[promotionDocument]
	counters *pfirestore.Collection[promoUserCounterDocument]
	usages   *pfirestore.Collection[promoUsageDocument]
	orders   *OrderRepository
	now      func() time.Time
}

var _ repositories.CheckoutUnitOfWork = (*CheckoutUnitOfWork)(nil)

// NewCheckoutUnitOfWork wires the collections touched by checkout.
func NewCheckoutUnitOfWork(provider *pfirestore.Provider, orders *OrderRepository) (*CheckoutUnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("checkout unit of work requires firestore provider")
	}
	if orders == nil {
		return nil, errors.New("checkout unit of work requires order repository")
	}
	return &CheckoutUnitOfWork{
		provider: provider,
		carts:    pfirestore.NewCollection[cartDocument](provider, cartsCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		promos:   pfirestore.NewCollection[promotionDocument](provider, promotionsCollection),
		counters: pfirestore.NewCollection[promoUserCounterDocument](provider, promoUserCountersCollection),
		usages:   pfirestore.NewCollection[promoUsageDocument](provider, promoUsagesCollection),
		orders:   orders,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (u *CheckoutUnitOfWork) RunCheckout(ctx context.Context, fn func(ctx context.Context, tx repositories.CheckoutTx) error) error {
	if fn == nil {
		return errors.New("checkout unit of work: function is nil")
	}
	var reference string
	err := u.provider.RunTransaction(ctx, "checkout.commit", func(ctx context.Context, tx *firestore.Transaction) error {
		t := &checkoutTx{uow: u, tx: tx, promoDocs: map[string]promoRef{}}
		err := fn(ctx, t)
		reference = t.reference
		return err
	})
	return pfirestore.GuardReference("checkout.commit", reference, err)
}

type promoRef struct {
	docID string
	doc   promotionDocument
}

type checkoutTx struct {
	uow       *CheckoutUnitOfWork
	tx        *firestore.Transaction
	promoDocs map[string]promoRef
	// reference of the order staged by CreateOrder, if any
	reference string
}

func (t *checkoutTx) OrderByReference(ctx context.Context, reference string) (domain.Order, error) {
	guardRef, err := t.uow.orders.references.Doc(ctx, domain.OrderReferenceKey(reference))
	if err != nil {
		return domain.Order{}, err
	}
	guard, ok, err := pfirestore.TxGet[orderReferenceDocument](t.tx, guardRef)
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, pfirestore.NotFound("checkout.order_by_reference", "reference "+reference+" unused")
	}
	orderRef, err := t.uow.orders.orders.Doc(ctx, guard.Data.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	doc, ok, err := pfirestore.TxGet[orderDocument](t.tx, orderRef)
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, fmt.Errorf("checkout: reference %s points at missing order %s", reference, guard.Data.OrderID)
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

func (t *checkoutTx) Cart(ctx context.Context, storefront domain.Storefront, userID string) (domain.Cart, error) {
	ref, err := t.uow.carts.Doc(ctx, domain.CartID(storefront, userID))
	if err != nil {
		return domain.Cart{}, err
	}
	doc, ok, err := pfirestore.TxGet[cartDocument](t.tx, ref)
	if err != nil {
		return domain.Cart{}, err
	}
	if !ok {
		return domain.Cart{}, pfirestore.NotFound("checkout.cart", "cart not found")
	}
	return decodeCart(doc.ID, doc.Data), nil
}

func (t *checkoutTx) Products(ctx context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error) {
	docs, err := t.uow.products.TxGetAll(ctx, t.tx, productDocIDs(storefront, productIDs))
	if err != nil {
		return nil, err
	}
	return decodeProducts(docs), nil
}

func (t *checkoutTx) Promotion(ctx context.Context, storefront domain.Storefront, code string) (domain.PromoCode, error) {
	docID := domain.PromoKey(storefront, code)
	ref, err := t.uow.promos.Doc(ctx, docID)
	if err != nil {
		return domain.PromoCode{}, err
	}
	doc, ok, err := pfirestore.TxGet[promotionDocument](t.tx, ref)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if !ok {
		return domain.PromoCode{}, pfirestore.NotFound("checkout.promotion", "promo "+code+" not found")
	}
	t.promoDocs[doc.Data.ID] = promoRef{docID: docID, doc: doc.Data}
	return decodePromotion(doc.Data), nil
}

// PromoCounters requires the promotion to have been read through Promotion in the same transaction.
func (t *checkoutTx) PromoCounters(ctx context.Context, promoID string, userID string) (domain.PromoCounters, error) {
	promo, ok := t.promoDocs[promoID]
	if !ok {
		return domain.PromoCounters{}, fmt.Errorf("checkout: promotion %s not read in transaction", promoID)
	}
	ref, err := t.uow.counters.Doc(ctx, promoCounterDocID(promoID, userID))
	if err != nil {
		return domain.PromoCounters{}, err
	}
	counter, _, err := pfirestore.TxGet[promoUserCounterDocument](t.tx, ref)
	if err != nil {
		return domain.PromoCounters{}, err
	}
	return domain.PromoCounters{Total: promo.doc.UsageCount, PerUser: counter.Data.Count}, nil
}

func (t *checkoutTx) CreateOrder(ctx context.Context, order domain.Order) error {
	if err := t.uow.orders.createInTx(ctx, t.tx, order); err != nil {
		return err
	}
	t.reference = order.PaymentReference
	return nil
}

func (t *checkoutTx) RecordPromoUsage(ctx context.Context, usage domain.PromoUsage) error {
	promo, ok := t.promoDocs[usage.PromoID]
	if !ok {
		return fmt.Errorf("checkout: promotion %s not read in transaction", usage.PromoID)
	}
	now := t.uow.now()
	usageRef, err := t.uow.usages.Doc(ctx, usage.ID)
	if err != nil {
		return err
	}
	if err := t.tx.Create(usageRef, promoUsageDocument{
		PromoID:    usage.PromoID,
		Code:       usage.Code,
		UserID:     usage.UserID,
		OrderID:    usage.OrderID,
		Storefront: string(usage.Storefront),
		CreatedAt:  usage.CreatedAt.UTC(),
	}); err != nil {
		return err
	}
	promoDoc, err := t.uow.promos.Doc(ctx, promo.docID)
	if err != nil {
		return err
	}
	if err := t.tx.Update(promoDoc, []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: now},
	}); err != nil {
		return err
	}
	counterRef, err := t.uow.counters.Doc(ctx, promoCounterDocID(usage.PromoID, usage.UserID))
	if err != nil {
		return err
	}
	return t.tx.Set(counterRef, map[string]any{
		"promoId":   usage.PromoID,
		"userId":    usage.UserID,
		"count":     firestore.Increment(1),
		"updatedAt": now,
	}, firestore.MergeAll)
}

func (t *checkoutTx) ClearCart(ctx context.Context, storefront domain.Storefront, userID string) error {
	ref, err := t.uow.carts.Doc(ctx, domain.CartID(storefront, userID))
	if err != nil {
		return err
	}
	return t.tx.Update(ref, []firestore.Update{
		{Path: "items", Value: []cartItemDocument{}},
		{Path: "itemsCount", Value: 0},
		{Path: "updatedAt", Value: t.uow.now()},
	})
}
