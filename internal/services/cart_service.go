package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const maxReplaceCartLines = 100

var (
	errCartUsersRequired    = errors.New("cart service: user repository is required")
	errCartProductsRequired = errors.New("cart service: product repository is required")
	errCartRepoRequired     = errors.New("cart service: cart repository is required")
)

// CartServiceDeps wires the repositories used by the cart store.
type CartServiceDeps struct {
	Users    repositories.UserRepository
	Products repositories.ProductRepository
	Carts    repositories.CartRepository
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type cartService struct {
	users    repositories.UserRepository
	products repositories.ProductRepository
	carts    repositories.CartRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Users == nil {
		return nil, errCartUsersRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Carts == nil {
		return nil, errCartRepoRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		users:    deps.Users,
		products: deps.Products,
		carts:    deps.Carts,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (domain.Cart, error) {
	if err := validateStorefront(ErrCartInvalidInput, cmd.Storefront); err != nil {
		return domain.Cart{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	userID, err := s.resolveUser(ctx, cmd.UserID)
	if err != nil {
		return domain.Cart{}, err
	}
	product, err := s.lookupProduct(ctx, cmd.Storefront, productID)
	if err != nil {
		return domain.Cart{}, err
	}

	size := domain.NormalizeSize(cmd.Size)
	lineID := domain.CartItemID(productID, size)
	now := s.now()
	cart, err := s.carts.MutateCart(ctx, cmd.Storefront, userID, func(cart *domain.Cart) error {
		touchCart(cart, now)
		for i := range cart.Items {
			if cart.Items[i].ID == lineID {
				cart.Items[i].Quantity += cmd.Quantity
				cart.Items[i].UpdatedAt = now
				return nil
			}
		}
		cart.Items = append(cart.Items, newCartLine(cart.ID, product, size, cmd.Quantity, now))
		return nil
	})
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	s.logger(ctx, "cart.item.added", map[string]any{
		"storefront": cmd.Storefront.String(),
		"userId":     userID,
		"productId":  productID,
		"size":       size,
		"quantity":   cmd.Quantity,
	})
	return s.decorate(ctx, cart)
}

func (s *cartService) SetQuantity(ctx context.Context, cmd SetCartQuantityCommand) (domain.Cart, error) {
	if err := validateStorefront(ErrCartInvalidInput, cmd.Storefront); err != nil {
		return domain.Cart{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	userID, err := s.resolveUser(ctx, cmd.UserID)
	if err != nil {
		return domain.Cart{}, err
	}

	size := domain.NormalizeSize(cmd.Size)
	lineID := domain.CartItemID(productID, size)
	now := s.now()

	if cmd.Quantity <= 0 {
		cart, err := s.carts.MutateCart(ctx, cmd.Storefront, userID, func(cart *domain.Cart) error {
			touchCart(cart, now)
			cart.Items = removeLines(cart.Items, func(item domain.CartItem) bool { return item.ID == lineID })
			return nil
		})
		if err != nil {
			return domain.Cart{}, s.translateRepoError(err)
		}
		return s.decorate(ctx, cart)
	}

	product, err := s.lookupProduct(ctx, cmd.Storefront, productID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.carts.MutateCart(ctx, cmd.Storefront, userID, func(cart *domain.Cart) error {
		touchCart(cart, now)
		for i := range cart.Items {
			if cart.Items[i].ID == lineID {
				cart.Items[i].Quantity = cmd.Quantity
				cart.Items[i].UpdatedAt = now
				return nil
			}
		}
		cart.Items = append(cart.Items, newCartLine(cart.ID, product, size, cmd.Quantity, now))
		return nil
	})
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return s.decorate(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (domain.Cart, error) {
	if err := validateStorefront(ErrCartInvalidInput, cmd.Storefront); err != nil {
		return domain.Cart{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	userID, err := s.resolveUser(ctx, cmd.UserID)
	if err != nil {
		return domain.Cart{}, err
	}

	size := domain.NormalizeSize(cmd.Size)
	now := s.now()
	cart, err := s.carts.MutateCart(ctx, cmd.Storefront, userID, func(cart *domain.Cart) error {
		touchCart(cart, now)
		cart.Items = removeLines(cart.Items, func(item domain.CartItem) bool {
			return item.ProductID == productID && (size == "" || item.Size == size)
		})
		return nil
	})
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return s.decorate(ctx, cart)
}

func (s *cartService) GetOrCreateCart(ctx context.Context, userID string, storefront domain.Storefront) (domain.Cart, error) {
	if err := validateStorefront(ErrCartInvalidInput, storefront); err != nil {
		return domain.Cart{}, err
	}
	uid, err := s.resolveUser(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.carts.GetCart(ctx, storefront, uid)
	if err == nil {
		return s.decorate(ctx, cart)
	}
	if !isRepoNotFound(err) {
		return domain.Cart{}, s.translateRepoError(err)
	}

	now := s.now()
	cart, err = s.carts.MutateCart(ctx, storefront, uid, func(cart *domain.Cart) error {
		touchCart(cart, now)
		return nil
	})
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	s.logger(ctx, "cart.created", map[string]any{"storefront": storefront.String(), "userId": uid})
	return s.decorate(ctx, cart)
}

func (s *cartService) GetCart(ctx context.Context, userID string, storefront domain.Storefront) (domain.Cart, error) {
	if err := validateStorefront(ErrCartInvalidInput, storefront); err != nil {
		return domain.Cart{}, err
	}
	uid, err := s.resolveUser(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.carts.GetCart(ctx, storefront, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{ID: domain.CartID(storefront, uid), UserID: uid, Storefront: storefront}, nil
		}
		return domain.Cart{}, s.translateRepoError(err)
	}
	return s.decorate(ctx, cart)
}

func (s *cartService) ReplaceAll(ctx context.Context, cmd ReplaceCartCommand) (domain.Cart, error) {
	if err := validateStorefront(ErrCartInvalidInput, cmd.Storefront); err != nil {
		return domain.Cart{}, err
	}
	lines, err := normaliseReplaceLines(cmd.Items)
	if err != nil {
		return domain.Cart{}, err
	}
	userID, err := s.resolveUser(ctx, cmd.UserID)
	if err != nil {
		return domain.Cart{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, cmd.Storefront, ids)
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	var missing []string
	for _, id := range ids {
		if product, ok := products[id]; !ok || !product.Active {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return domain.Cart{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, strings.Join(dedupe(missing), ","))
	}

	now := s.now()
	cart, err := s.carts.MutateCart(ctx, cmd.Storefront, userID, func(cart *domain.Cart) error {
		touchCart(cart, now)
		previous := make(map[string]domain.CartItem, len(cart.Items))
		for _, item := range cart.Items {
			previous[item.ID] = item
		}
		items := make([]domain.CartItem, 0, len(lines))
		for _, line := range lines {
			item := newCartLine(cart.ID, products[line.ProductID], line.Size, line.Quantity, now)
			if prior, ok := previous[item.ID]; ok && !prior.AddedAt.IsZero() {
				item.AddedAt = prior.AddedAt
			}
			items = append(items, item)
		}
		cart.Items = items
		return nil
	})
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	s.logger(ctx, "cart.replaced", map[string]any{
		"storefront": cmd.Storefront.String(),
		"userId":     userID,
		"lines":      len(lines),
	})
	return s.decorate(ctx, cart)
}

func (s *cartService) resolveUser(ctx context.Context, userID string) (string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", ErrUnauthenticated
	}
	if _, err := s.users.FindByID(ctx, uid); err != nil {
		if isRepoNotFound(err) {
			return "", ErrUnauthenticated
		}
		return "", s.translateRepoError(err)
	}
	return uid, nil
}

func (s *cartService) lookupProduct(ctx context.Context, storefront domain.Storefront, productID string) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, storefront, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Product{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return domain.Product{}, s.translateRepoError(err)
	}
	if !product.Active {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
	}
	return product, nil
}

// decorate fills display fields from the live catalog. Lines whose product no longer resolves are
// flagged rather than dropped.
func (s *cartService) decorate(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if len(cart.Items) == 0 {
		return cart, nil
	}
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, cart.Storefront, dedupe(ids))
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	for i := range cart.Items {
		item := &cart.Items[i]
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			item.Unavailable = true
			continue
		}
		item.Name = product.Name
		item.ImageURL = product.ImageURL
		item.Category = product.Category
		item.EffectivePrice = product.EffectivePrice()
	}
	return cart, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func touchCart(cart *domain.Cart, now time.Time) {
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
}

func newCartLine(cartID string, product domain.Product, size string, quantity int, now time.Time) domain.CartItem {
	return domain.CartItem{
		ID:              domain.CartItemID(product.ID, size),
		CartID:          cartID,
		ProductID:       product.ID,
		Size:            size,
		Quantity:        quantity,
		PriceAtAddition: product.EffectivePrice(),
		AddedAt:         now,
		UpdatedAt:       now,
	}
}

func removeLines(items []domain.CartItem, match func(domain.CartItem) bool) []domain.CartItem {
	kept := items[:0]
	for _, item := range items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	return kept
}

func normaliseReplaceLines(items []ReplaceCartLine) ([]ReplaceCartLine, error) {
	if len(items) > maxReplaceCartLines {
		return nil, fmt.Errorf("%w: at most %d lines are allowed", ErrCartInvalidInput, maxReplaceCartLines)
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]ReplaceCartLine, 0, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: items[%d].productId is required", ErrCartInvalidInput, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrCartInvalidInput, i)
		}
		size := domain.NormalizeSize(item.Size)
		key := domain.CartItemID(productID, size)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: items[%d] duplicates %s", ErrCartInvalidInput, i, key)
		}
		seen[key] = struct{}{}
		out = append(out, ReplaceCartLine{ProductID: productID, Quantity: item.Quantity, Size: size})
	}
	return out, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
