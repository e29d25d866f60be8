package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	*CheckoutUnitOfWork

	provider *pfirestore.Provider
	users    *UserRepository
	products repositories.ProductRepository
	carts    *CartRepository
	promos   *PromotionRepository
	orders   *OrderRepository
	reviews  *ReviewRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	productDecorator func(repositories.ProductRepository) repositories.ProductRepository
	extraChecks      []repositories.DependencyCheck
}

// WithProductDecorator wraps the product repository, e.g. with a read-through cache.
func WithProductDecorator(decorate func(repositories.ProductRepository) repositories.ProductRepository) RegistryOption {
	return func(o *registryOptions) {
		o.productDecorator = decorate
	}
}

// WithHealthChecks adds dependency checks reported alongside Firestore.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.extraChecks = append(o.extraChecks, checks...)
	}
}

// NewRegistry constructs every Firestore repository on top of one provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var options registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	productRepo, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	var products repositories.ProductRepository = productRepo
	if options.productDecorator != nil {
		products = options.productDecorator(productRepo)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	promos, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	uow, err := NewCheckoutUnitOfWork(provider, orders)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, options.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		CheckoutUnitOfWork: uow,
		provider:           provider,
		users:              users,
		products:           products,
		carts:              carts,
		promos:             promos,
		orders:             orders,
		reviews:            reviews,
		health:             health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promos }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Reviews() repositories.ReviewRepository       { return r.reviews }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }
