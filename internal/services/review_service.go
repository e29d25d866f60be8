package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	reviewIDPrefix        = "rev_"
	reviewEventCreated    = "review.created"
	reviewEventUpdated    = "review.updated"
	maxReviewCommentRunes = 2000
	minReviewRating       = 1
	maxReviewRating       = 5
)

var reviewPolicy = bluemonday.StrictPolicy()

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews     repositories.ReviewRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	orders   repositories.OrderRepository
	now      func() time.Time
	newID    func() string
	sanitize func(string) string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return reviewIDPrefix + ulid.Make().String() }
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = sanitizeReviewText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reviewService{
		reviews:  deps.Reviews,
		orders:   deps.Orders,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *reviewService) CanReview(ctx context.Context, userID string, storefront domain.Storefront, orderID string) (ReviewEligibility, error) {
	order, err := s.ownedOrder(ctx, userID, storefront, orderID)
	if err != nil {
		return ReviewEligibility{}, err
	}
	eligibility := ReviewEligibility{
		Eligible:           order.Status == domain.OrderStatusCompleted,
		OrderStatus:        order.Status,
		TotalProducts:      len(order.ProductIDs()),
		ReviewedProductIDs: []string{},
	}
	if !eligibility.Eligible {
		return eligibility, nil
	}
	reviews, err := s.reviews.ListByOrder(ctx, storefront, order.ID)
	if err != nil {
		return ReviewEligibility{}, s.mapReviewError(err)
	}
	seen := make(map[string]struct{}, len(reviews))
	for _, review := range reviews {
		if review.UserID != order.UserID {
			continue
		}
		if _, dup := seen[review.ProductID]; dup {
			continue
		}
		seen[review.ProductID] = struct{}{}
		eligibility.ReviewedProductIDs = append(eligibility.ReviewedProductIDs, review.ProductID)
	}
	return eligibility, nil
}

// SubmitReview checks ownership, then product membership, then completion, then uniqueness.
func (s *reviewService) SubmitReview(ctx context.Context, cmd SubmitReviewCommand) (domain.Review, error) {
	if err := validateStorefront(ErrReviewInvalidInput, cmd.Storefront); err != nil {
		return domain.Review{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Review{}, ErrUnauthenticated
	}
	productID := strings.TrimSpace(cmd.ProductID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if productID == "" || orderID == "" {
		return domain.Review{}, fmt.Errorf("%w: product id and order id are required", ErrReviewInvalidInput)
	}
	if err := validateRating(cmd.Rating); err != nil {
		return domain.Review{}, err
	}

	order, err := s.orders.FindByID(ctx, cmd.Storefront, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Review{}, fmt.Errorf("%w: order not found", ErrOrderNotEligible)
		}
		return domain.Review{}, s.mapReviewError(err)
	}
	if order.UserID != userID {
		return domain.Review{}, fmt.Errorf("%w: order belongs to another user", ErrOrderNotEligible)
	}
	if !order.HasProduct(productID) {
		return domain.Review{}, ErrProductNotInOrder
	}
	if order.Status != domain.OrderStatusCompleted {
		return domain.Review{}, fmt.Errorf("%w: order status is %s", ErrOrderNotEligible, order.Status)
	}

	now := s.now()
	review := domain.Review{
		ID:         s.newID(),
		UserID:     userID,
		ProductID:  productID,
		OrderID:    orderID,
		Storefront: cmd.Storefront,
		Rating:     cmd.Rating,
		Comment:    s.sanitize(cmd.Comment),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.reviews.Insert(ctx, review); err != nil {
		return domain.Review{}, s.mapReviewError(err)
	}
	s.logger(ctx, reviewEventCreated, map[string]any{
		"reviewId":   review.ID,
		"orderId":    orderID,
		"productId":  productID,
		"storefront": cmd.Storefront.String(),
		"rating":     review.Rating,
	})
	return review, nil
}

func (s *reviewService) UpdateReview(ctx context.Context, cmd UpdateReviewCommand) (domain.Review, error) {
	if err := validateStorefront(ErrReviewInvalidInput, cmd.Storefront); err != nil {
		return domain.Review{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Review{}, ErrUnauthenticated
	}
	reviewID := strings.TrimSpace(cmd.ReviewID)
	if reviewID == "" {
		return domain.Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	if err := validateRating(cmd.Rating); err != nil {
		return domain.Review{}, err
	}

	review, err := s.reviews.FindByID(ctx, cmd.Storefront, reviewID)
	if err != nil {
		return domain.Review{}, s.mapReviewError(err)
	}
	if review.UserID != userID {
		return domain.Review{}, ErrReviewForbidden
	}
	review.Rating = cmd.Rating
	if cmd.Comment != nil {
		review.Comment = s.sanitize(*cmd.Comment)
	}
	review.UpdatedAt = s.now()
	if err := s.reviews.Update(ctx, review); err != nil {
		return domain.Review{}, s.mapReviewError(err)
	}
	s.logger(ctx, reviewEventUpdated, map[string]any{"reviewId": review.ID, "rating": review.Rating})
	return review, nil
}

func (s *reviewService) ListProductReviews(ctx context.Context, query ListProductReviewsQuery) (domain.CursorPage[domain.Review], error) {
	if err := validateStorefront(ErrReviewInvalidInput, query.Storefront); err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}
	productID := strings.TrimSpace(query.ProductID)
	if productID == "" {
		return domain.CursorPage[domain.Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByProduct(ctx, query.Storefront, productID, query.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

func (s *reviewService) ListOrderReviews(ctx context.Context, storefront domain.Storefront, orderID, userID string) ([]domain.Review, error) {
	order, err := s.ownedOrder(ctx, userID, storefront, orderID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.reviews.ListByOrder(ctx, storefront, order.ID)
	if err != nil {
		return nil, s.mapReviewError(err)
	}
	return reviews, nil
}

func (s *reviewService) ownedOrder(ctx context.Context, userID string, storefront domain.Storefront, orderID string) (domain.Order, error) {
	if err := validateStorefront(ErrReviewInvalidInput, storefront); err != nil {
		return domain.Order{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrReviewInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, storefront, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, s.mapReviewError(err)
	}
	if order.UserID != userID {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *reviewService) mapReviewError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return ErrDuplicateReview
		}
	}
	return fmt.Errorf("%w: %v", ErrReviewUnavailable, err)
}

func validateRating(rating int) error {
	if rating < minReviewRating || rating > maxReviewRating {
		return fmt.Errorf("%w: rating must be between %d and %d", ErrReviewInvalidInput, minReviewRating, maxReviewRating)
	}
	return nil
}

// sanitizeReviewText strips markup, turns tabs and other spacing into single spaces, drops remaining
// control characters except newlines, and caps the result length.
func sanitizeReviewText(input string) string {
	stripped := html.UnescapeString(reviewPolicy.Sanitize(input))
	normalized := strings.ReplaceAll(strings.ReplaceAll(stripped, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			switch {
			case unicode.IsSpace(r):
				return ' '
			case unicode.IsControl(r):
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	result := strings.TrimSpace(strings.Join(lines, "\n"))
	if runes := []rune(result); len(runes) > maxReviewCommentRunes {
		result = strings.TrimSpace(string(runes[:maxReviewCommentRunes]))
	}
	return result
}
