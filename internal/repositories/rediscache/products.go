// Package rediscache adds a read-through Redis cache in front of catalog lookups.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultTTL       = 5 * time.Minute
	keyPrefix        = "checkout:product:"
	missingSentinel  = "-"
	maxBatchLookups  = 100
	cacheEventMiss   = "product_cache.miss"
	cacheEventFailed = "product_cache.error"
)

// Client is the subset of redis.Cmdable the cache uses.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Option customises the cache.
type Option func(*ProductCache)

// WithTTL overrides how long cached products live.
func WithTTL(ttl time.Duration) Option {
	return func(c *ProductCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger installs an event logger for cache misses and Redis failures.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(c *ProductCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ProductCache decorates a ProductRepository. Cached entries never feed checkout: the checkout
// transaction reads products from the datastore directly, so staleness only affects cart display.
type ProductCache struct {
	next   repositories.ProductRepository
	client Client
	ttl    time.Duration
	group  singleflight.Group
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ repositories.ProductRepository = (*ProductCache)(nil)

// NewProductCache wraps next with a Redis read-through cache.
func NewProductCache(next repositories.ProductRepository, client Client, opts ...Option) (*ProductCache, error) {
	if next == nil {
		return nil, errors.New("product cache: repository is required")
	}
	if client == nil {
		return nil, errors.New("product cache: redis client is required")
	}
	cache := &ProductCache{
		next:   next,
		client: client,
		ttl:    defaultTTL,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache, nil
}

type cachedProduct struct {
	ID          string `json:"id"`
	Storefront  string `json:"storefront"`
	Name        string `json:"name"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Category    string `json:"category,omitempty"`
	Price       int64  `json:"price"`
	SalePercent int    `json:"salePercent,omitempty"`
	Stock       int    `json:"stock"`
	Active      bool   `json:"active"`
}

func (c *ProductCache) FindByID(ctx context.Context, storefront domain.Storefront, productID string) (domain.Product, error) {
	products, err := c.FindByIDs(ctx, storefront, []string{productID})
	if err != nil {
		return domain.Product{}, err
	}
	if product, ok := products[strings.TrimSpace(productID)]; ok {
		return product, nil
	}
	return c.next.FindByID(ctx, storefront, productID)
}

// FindByIDs serves hits from Redis and loads misses through one shared flight per missing set.
func (c *ProductCache) FindByIDs(ctx context.Context, storefront domain.Storefront, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 || len(ids) > maxBatchLookups {
		return c.next.FindByIDs(ctx, storefront, ids)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(storefront, id)
	}
	result := make(map[string]domain.Product, len(ids))
	var missing []string

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger(ctx, cacheEventFailed, map[string]any{"op": "mget", "error": err.Error()})
		return c.next.FindByIDs(ctx, storefront, ids)
	}
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		if s == missingSentinel {
			continue
		}
		var cached cachedProduct
		if err := json.Unmarshal([]byte(s), &cached); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		result[ids[i]] = cached.product()
	}
	if len(missing) == 0 {
		return result, nil
	}

	c.logger(ctx, cacheEventMiss, map[string]any{"storefront": storefront.String(), "count": len(missing)})
	flightKey := string(storefront) + "|" + strings.Join(missing, ",")
	loaded, err, _ := c.group.Do(flightKey, func() (any, error) {
		products, err := c.next.FindByIDs(ctx, storefront, missing)
		if err != nil {
			return nil, err
		}
		c.store(ctx, storefront, missing, products)
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	for id, product := range loaded.(map[string]domain.Product) {
		result[id] = product
	}
	return result, nil
}

// store writes loaded products and negative entries for ids that do not exist.
func (c *ProductCache) store(ctx context.Context, storefront domain.Storefront, ids []string, products map[string]domain.Product) {
	for _, id := range ids {
		value := missingSentinel
		if product, ok := products[id]; ok {
			data, err := json.Marshal(fromProduct(product))
			if err != nil {
				continue
			}
			value = string(data)
		}
		if err := c.client.Set(ctx, cacheKey(storefront, id), value, c.ttl).Err(); err != nil {
			c.logger(ctx, cacheEventFailed, map[string]any{"op": "set", "error": err.Error()})
			return
		}
	}
}

// Ping reports whether Redis answers, for readiness checks.
func (c *ProductCache) Ping(ctx context.Context) error {
	err := c.client.Get(ctx, keyPrefix+"ping").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func cacheKey(storefront domain.Storefront, productID string) string {
	return keyPrefix + string(storefront) + ":" + productID
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func fromProduct(p domain.Product) cachedProduct {
	return cachedProduct{
		ID:          p.ID,
		Storefront:  string(p.Storefront),
		Name:        p.Name,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
		Price:       p.Price,
		SalePercent: p.SalePercent,
		Stock:       p.Stock,
		Active:      p.Active,
	}
}

func (c cachedProduct) product() domain.Product {
	return domain.Product{
		ID:          c.ID,
		Storefront:  domain.Storefront(c.Storefront),
		Name:        c.Name,
		ImageURL:    c.ImageURL,
		Category:    c.Category,
		Price:       c.Price,
		SalePercent: c.SalePercent,
		Stock:       c.Stock,
		Active:      c.Active,
	}
}
