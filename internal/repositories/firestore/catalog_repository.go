package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// UserRepository resolves user documents.
type UserRepository struct {
	users *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{users: pfirestore.NewCollection[userDocument](provider, usersCollection)}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.User{}, pfirestore.NotFound("users.get", "user id is empty")
	}
	doc, err := r.users.Get(ctx, uid)
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: doc.ID, Email: doc.Data.Email}, nil
}

// ProductRepository resolves storefront catalog entries. Documents are keyed "{storefront}:{productId}".
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, storefront domain.Storefront, productID string) (domain.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, pfirestore.NotFound("products.get", "product id is empty")
	}
	doc, err := r.products.Get(ctx, productDocID(storefront, productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error) {
	docs, err := r.products.GetAll(ctx, productDocIDs(storefront, productIDs))
	if err != nil {
		return nil, err
	}
	return decodeProducts(docs), nil
}

func productDocIDs(storefront domain.Storefront, productIDs []string) []string {
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if strings.TrimSpace(id) != "" {
			ids = append(ids, productDocID(storefront, id))
		}
	}
	return ids
}

func decodeProducts(docs map[string]pfirestore.Document[productDocument]) map[string]domain.Product {
	products := make(map[string]domain.Product, len(docs))
	for id, doc := range docs {
		product := decodeProduct(id, doc.Data)
		products[product.ID] = product
	}
	return products
}
