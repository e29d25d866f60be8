package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func (f *fixture) completeOrder(t *testing.T, order domain.Order) {
	t.Helper()
	if _, err := f.orders.TransitionStatus(context.Background(), TransitionOrderCommand{
		OrderID: order.ID, Storefront: testStorefront, Status: domain.OrderStatusCompleted,
	}); err != nil {
		t.Fatalf("complete order: %v", err)
	}
}

func reviewCmd(order domain.Order, productID string) SubmitReviewCommand {
	return SubmitReviewCommand{
		UserID: order.UserID, Storefront: testStorefront, OrderID: order.ID, ProductID: productID,
		Rating: 4, Comment: "Lovely colours",
	}
}

func TestReviewServiceSubmitAndDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	order := f.placeOrder(t, "user-1", "ref-review", "prod-a", "prod-b")
	f.completeOrder(t, order)
	ctx := context.Background()

	review, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-a"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(review.ID, reviewIDPrefix) || review.Rating != 4 {
		t.Fatalf("unexpected review %+v", review)
	}

	if _, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-a")); KindOf(err) != KindConflict {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}
	if _, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-b")); err != nil {
		t.Fatalf("second product should be reviewable: %v", err)
	}
}

func TestReviewServiceProductNotInOrderRegardlessOfStatus(t *testing.T) {
	f := newFixture(t, nil)
	pending := f.placeOrder(t, "user-1", "ref-pending-review", "prod-a")

	if _, err := f.reviews.SubmitReview(context.Background(), reviewCmd(pending, "prod-sale")); !errors.Is(err, ErrProductNotInOrder) {
		t.Fatalf("expected product not in order for a pending order, got %v", err)
	}
	f.completeOrder(t, pending)
	if _, err := f.reviews.SubmitReview(context.Background(), reviewCmd(pending, "prod-sale")); !errors.Is(err, ErrProductNotInOrder) {
		t.Fatalf("expected product not in order for a completed order, got %v", err)
	}
}

func TestReviewServiceOrderNotEligible(t *testing.T) {
	f := newFixture(t, nil)
	order := f.placeOrder(t, "user-1", "ref-not-done", "prod-a")
	ctx := context.Background()

	if _, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-a")); !errors.Is(err, ErrOrderNotEligible) {
		t.Fatalf("expected pending order to be ineligible, got %v", err)
	}

	foreign := reviewCmd(order, "prod-a")
	foreign.UserID = "user-2"
	if _, err := f.reviews.SubmitReview(ctx, foreign); !errors.Is(err, ErrOrderNotEligible) {
		t.Fatalf("expected foreign order to be ineligible, got %v", err)
	}

	missing := reviewCmd(order, "prod-a")
	missing.OrderID = "ord_missing"
	if _, err := f.reviews.SubmitReview(ctx, missing); !errors.Is(err, ErrOrderNotEligible) {
		t.Fatalf("expected missing order to be ineligible, got %v", err)
	}
}

func TestReviewServiceRejectsOutOfRangeRating(t *testing.T) {
	f := newFixture(t, nil)
	order := f.placeOrder(t, "user-1", "ref-rating", "prod-a")
	f.completeOrder(t, order)

	for _, rating := range []int{0, 6, -1} {
		cmd := reviewCmd(order, "prod-a")
		cmd.Rating = rating
		if _, err := f.reviews.SubmitReview(context.Background(), cmd); !errors.Is(err, ErrReviewInvalidInput) {
			t.Fatalf("rating %d: expected invalid input, got %v", rating, err)
		}
	}
}

func TestReviewServiceUpdateReview(t *testing.T) {
	f := newFixture(t, nil)
	order := f.placeOrder(t, "user-1", "ref-update", "prod-a")
	f.completeOrder(t, order)
	ctx := context.Background()

	review, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-a"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	comment := "<b>Even better</b> after a wash"
	updated, err := f.reviews.UpdateReview(ctx, UpdateReviewCommand{
		ReviewID: review.ID, UserID: "user-1", Storefront: testStorefront, Rating: 5, Comment: &comment,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Rating != 5 || updated.Comment != "Even better after a wash" {
		t.Fatalf("unexpected update %+v", updated)
	}

	_, err = f.reviews.UpdateReview(ctx, UpdateReviewCommand{
		ReviewID: review.ID, UserID: "user-2", Storefront: testStorefront, Rating: 1,
	})
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden for another user, got %v", err)
	}

	_, err = f.reviews.UpdateReview(ctx, UpdateReviewCommand{
		ReviewID: "rev_missing", UserID: "user-1", Storefront: testStorefront, Rating: 3,
	})
	if !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReviewServiceCanReview(t *testing.T) {
	f := newFixture(t, nil)
	order := f.placeOrder(t, "user-1", "ref-can-review", "prod-a", "prod-b")
	ctx := context.Background()

	eligibility, err := f.reviews.CanReview(ctx, "user-1", testStorefront, order.ID)
	if err != nil {
		t.Fatalf("can review: %v", err)
	}
	if eligibility.Eligible || eligibility.OrderStatus != domain.OrderStatusPending || eligibility.TotalProducts != 2 {
		t.Fatalf("unexpected pending eligibility %+v", eligibility)
	}

	f.completeOrder(t, order)
	if _, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-b")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	eligibility, err = f.reviews.CanReview(ctx, "user-1", testStorefront, order.ID)
	if err != nil {
		t.Fatalf("can review: %v", err)
	}
	if !eligibility.Eligible || len(eligibility.ReviewedProductIDs) != 1 || eligibility.ReviewedProductIDs[0] != "prod-b" {
		t.Fatalf("unexpected completed eligibility %+v", eligibility)
	}

	if _, err := f.reviews.CanReview(ctx, "user-2", testStorefront, order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected foreign order hidden, got %v", err)
	}
}

func TestReviewServiceListings(t *testing.T) {
	f := newFixture(t, nil)
	first := f.placeOrder(t, "user-1", "ref-list-a", "prod-a")
	second := f.placeOrder(t, "user-2", "ref-list-b", "prod-a")
	f.completeOrder(t, first)
	f.completeOrder(t, second)
	ctx := context.Background()

	for _, order := range []domain.Order{first, second} {
		if _, err := f.reviews.SubmitReview(ctx, reviewCmd(order, "prod-a")); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	page, err := f.reviews.ListProductReviews(ctx, ListProductReviewsQuery{Storefront: testStorefront, ProductID: "prod-a"})
	if err != nil {
		t.Fatalf("list product: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 product reviews, got %d", len(page.Items))
	}

	reviews, err := f.reviews.ListOrderReviews(ctx, testStorefront, first.ID, "user-1")
	if err != nil {
		t.Fatalf("list order: %v", err)
	}
	if len(reviews) != 1 || reviews[0].OrderID != first.ID {
		t.Fatalf("unexpected order reviews %+v", reviews)
	}
}

func TestSanitizeReviewText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips markup", `<script>alert(1)</script>Great <i>fit</i>`, "Great fit"},
		{"collapses spacing", "  too   many\tspaces  ", "too many spaces"},
		{"tab separates words", "great\tfit", "great fit"},
		{"drops other control characters", "great\x07 fit\vnow", "great fit now"},
		{"keeps line breaks", "line one\r\nline two", "line one\nline two"},
		{"unescapes entities", "Fish &amp; chips", "Fish & chips"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeReviewText(tc.input); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	long := strings.Repeat("é", maxReviewCommentRunes+50)
	if got := []rune(sanitizeReviewText(long)); len(got) != maxReviewCommentRunes {
		t.Fatalf("expected %d runes, got %d", maxReviewCommentRunes, len(got))
	}
}
