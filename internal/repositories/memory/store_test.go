package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const storefront = domain.Storefront("accra")

func TestRunCheckoutDiscardsStagedWritesOnError(t *testing.T) {
	store := NewStore()
	_, err := store.Carts().MutateCart(context.Background(), storefront, "user-1", func(cart *domain.Cart) error {
		cart.Items = append(cart.Items, domain.CartItem{ID: "p1", ProductID: "p1", Quantity: 1})
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.RunCheckout(context.Background(), func(ctx context.Context, tx repositories.CheckoutTx) error {
		require.NoError(t, tx.CreateOrder(ctx, domain.Order{ID: "ord_1", Storefront: storefront, PaymentReference: "ref-1"}))
		require.NoError(t, tx.ClearCart(ctx, storefront, "user-1"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, store.OrderCount())
	cart, err := store.Carts().GetCart(context.Background(), storefront, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestRunCheckoutRejectsDuplicateReference(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Orders().Insert(context.Background(), domain.Order{ID: "ord_1", Storefront: storefront, PaymentReference: "ref-1"}))

	err := store.RunCheckout(context.Background(), func(ctx context.Context, tx repositories.CheckoutTx) error {
		return tx.CreateOrder(ctx, domain.Order{ID: "ord_2", Storefront: storefront, PaymentReference: "ref-1"})
	})
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
	assert.Equal(t, 1, store.OrderCount())
}

func TestRunCheckoutIncrementsPromoCounters(t *testing.T) {
	store := NewStore()
	store.PutPromo(domain.PromoCode{ID: "promo-1", Storefront: storefront, Code: "SAVE10", Active: true})

	err := store.RunCheckout(context.Background(), func(ctx context.Context, tx repositories.CheckoutTx) error {
		return tx.RecordPromoUsage(ctx, domain.PromoUsage{ID: "use-1", PromoID: "promo-1", UserID: "user-1", OrderID: "ord_1"})
	})
	require.NoError(t, err)

	counters, err := store.Promotions().Counters(context.Background(), "promo-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PromoCounters{Total: 1, PerUser: 1}, counters)
	assert.Len(t, store.PromoUsages(), 1)
}

func TestReviewInsertEnforcesTripleUniqueness(t *testing.T) {
	store := NewStore()
	review := domain.Review{ID: "rev_1", Storefront: storefront, UserID: "u", ProductID: "p", OrderID: "o", Rating: 5}
	require.NoError(t, store.Reviews().Insert(context.Background(), review))

	review.ID = "rev_2"
	err := store.Reviews().Insert(context.Background(), review)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestListByProductPaginatesNewestFirst(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"rev_a", "rev_b", "rev_c"} {
		require.NoError(t, store.Reviews().Insert(context.Background(), domain.Review{
			ID: id, Storefront: storefront, UserID: id, ProductID: "p", OrderID: "o",
			Rating: 4, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	first, err := store.Reviews().ListByProduct(context.Background(), storefront, "p", domain.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "rev_c", first.Items[0].ID)
	assert.Equal(t, "rev_b", first.Items[1].ID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := store.Reviews().ListByProduct(context.Background(), storefront, "p", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "rev_a", second.Items[0].ID)
	assert.Empty(t, second.NextPageToken)
}
