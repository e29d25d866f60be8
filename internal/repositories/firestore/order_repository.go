package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/repositories"
)

// OrderRepository stores orders with embedded items. A create-only document in orderReferences,
// keyed by the payment reference alone, binds each reference to exactly one order.
type OrderRepository struct {
	provider   *pfirestore.Provider
	orders     *pfirestore.Collection[orderDocument]
	references *pfirestore.Collection[orderReferenceDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:   provider,
		orders:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		references: pfirestore.NewCollection[orderReferenceDocument](provider, orderReferencesCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	err := r.provider.RunTransaction(ctx, "orders.insert", func(ctx context.Context, tx *firestore.Transaction) error {
		return r.createInTx(ctx, tx, order)
	})
	return pfirestore.GuardReference("orders.insert", order.PaymentReference, err)
}

// createInTx writes the reference guard and the order. The commit fails with AlreadyExists when either
// document exists; callers pass that through GuardReference.
func (r *OrderRepository) createInTx(ctx context.Context, tx *firestore.Transaction, order domain.Order) error {
	refDoc, err := r.references.Doc(ctx, domain.OrderReferenceKey(order.PaymentReference))
	if err != nil {
		return err
	}
	orderDoc, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := tx.Create(refDoc, orderReferenceDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
		return err
	}
	return tx.Create(orderDoc, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, storefront domain.Storefront, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.get", "order id is empty")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if domain.Storefront(doc.Data.Storefront) != storefront {
		return domain.Order{}, pfirestore.NotFound("orders.get", "order "+orderID+" not in storefront")
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (domain.Order, error) {
	if strings.TrimSpace(reference) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.by_reference", "reference is empty")
	}
	guard, err := r.references.Get(ctx, domain.OrderReferenceKey(reference))
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := r.orders.Get(ctx, guard.Data.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByUser pages newest first. Requires a composite index on (storefront, userId, createdAt desc).
func (r *OrderRepository) ListByUser(ctx context.Context, storefront domain.Storefront, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.ClampPageSize(pager.PageSize)
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("storefront", "==", string(storefront)).
			Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return pageOf(docs, size, func(doc pfirestore.Document[orderDocument]) domain.Order {
		return decodeOrder(doc.ID, doc.Data)
	}, func(o domain.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
}

func (r *OrderRepository) Mutate(ctx context.Context, storefront domain.Storefront, orderID string, fn repositories.OrderMutation) (domain.Order, bool, error) {
	if fn == nil {
		return domain.Order{}, false, errors.New("order repository: mutation is nil")
	}
	var (
		result  domain.Order
		changed bool
	)
	err := r.provider.RunTransaction(ctx, "orders.mutate", func(ctx context.Context, tx *firestore.Transaction) error {
		result, changed = domain.Order{}, false
		ref, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		doc, exists, err := pfirestore.TxGet[orderDocument](tx, ref)
		if err != nil {
			return err
		}
		if !exists || domain.Storefront(doc.Data.Storefront) != storefront {
			return pfirestore.NotFound("orders.mutate", "order "+orderID+" not found")
		}
		order := decodeOrder(doc.ID, doc.Data)
		ok, err := fn(&order)
		if err != nil {
			return err
		}
		result, changed = order, ok
		if !ok {
			return nil
		}
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	return result, changed, nil
}

func pageOf[D any, T any](docs []D, size int, decode func(D) T, cursorOf func(T) pagination.Cursor) (domain.CursorPage[T], error) {
	page := domain.CursorPage[T]{Items: make([]T, 0, size)}
	for i, doc := range docs {
		if i == size {
			token, err := pagination.EncodeToken(cursorOf(page.Items[len(page.Items)-1]))
			if err != nil {
				return domain.CursorPage[T]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decode(doc))
	}
	return page, nil
}
