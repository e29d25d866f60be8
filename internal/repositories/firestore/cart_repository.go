package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// CartRepository persists one cart document per (storefront, user) with its lines embedded.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		carts:    pfirestore.NewCollection[cartDocument](provider, cartsCollection),
	}, nil
}

func (r *CartRepository) GetCart(ctx context.Context, storefront domain.Storefront, userID string) (domain.Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Cart{}, pfirestore.NotFound("carts.get", "user id is empty")
	}
	doc, err := r.carts.Get(ctx, domain.CartID(storefront, userID))
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(doc.ID, doc.Data), nil
}

// MutateCart reads, mutates and writes the cart inside one transaction so concurrent edits serialise.
func (r *CartRepository) MutateCart(ctx context.Context, storefront domain.Storefront, userID string, fn repositories.CartMutation) (domain.Cart, error) {
	if fn == nil {
		return domain.Cart{}, errors.New("cart repository: mutation is nil")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	cartID := domain.CartID(storefront, uid)

	var saved domain.Cart
	err := r.provider.RunTransaction(ctx, "carts.mutate", func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.carts.Doc(ctx, cartID)
		if err != nil {
			return err
		}
		doc, exists, err := pfirestore.TxGet[cartDocument](tx, ref)
		if err != nil {
			return err
		}
		cart := domain.Cart{ID: cartID, UserID: uid, Storefront: storefront}
		if exists {
			cart = decodeCart(cartID, doc.Data)
		}
		if err := fn(&cart); err != nil {
			return err
		}
		saved = cart
		return tx.Set(ref, encodeCart(cart))
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return saved, nil
}
