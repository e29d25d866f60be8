package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/services"
)

const maxReviewBodySize = 8 * 1024

// ReviewHandlers exposes review eligibility, submission and listing. Product review listing is public.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
}

func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{authn: authn, reviews: reviews}
}

func (h *ReviewHandlers) Routes(r chi.Router) {
	r.Get("/products/{productId}/reviews", h.listProductReviews)

	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	group.Get("/orders/{orderId}/review-eligibility", h.eligibility)
	group.Get("/orders/{orderId}/reviews", h.listOrderReviews)
	group.Post("/reviews", h.createReview)
	group.Patch("/reviews/{reviewId}", h.updateReview)
}

type createReviewRequest struct {
	ProductID string `json:"productId"`
	OrderID   string `json:"orderId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

type updateReviewRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment"`
}

type reviewPayload struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	ProductID  string `json:"productId"`
	OrderID    string `json:"orderId"`
	Storefront string `json:"storefront"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type eligibilityResponse struct {
	Eligible           bool     `json:"eligible"`
	OrderStatus        string   `json:"orderStatus"`
	TotalProducts      int      `json:"totalProducts"`
	ReviewedProductIDs []string `json:"reviewedProductIds"`
}

func (h *ReviewHandlers) eligibility(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	result, err := h.reviews.CanReview(r.Context(), identity.UserID, storefrontFrom(r), strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	reviewed := result.ReviewedProductIDs
	if reviewed == nil {
		reviewed = []string{}
	}
	writeJSONResponse(w, http.StatusOK, eligibilityResponse{
		Eligible:           result.Eligible,
		OrderStatus:        string(result.OrderStatus),
		TotalProducts:      result.TotalProducts,
		ReviewedProductIDs: reviewed,
	})
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req createReviewRequest
	if !decodeJSONBody(w, r, maxReviewBodySize, &req) {
		return
	}
	review, err := h.reviews.SubmitReview(r.Context(), services.SubmitReviewCommand{
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		ProductID:  strings.TrimSpace(req.ProductID),
		OrderID:    strings.TrimSpace(req.OrderID),
		Rating:     req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildReviewPayload(review))
}

func (h *ReviewHandlers) updateReview(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req updateReviewRequest
	if !decodeJSONBody(w, r, maxReviewBodySize, &req) {
		return
	}
	review, err := h.reviews.UpdateReview(r.Context(), services.UpdateReviewCommand{
		ReviewID:   strings.TrimSpace(chi.URLParam(r, "reviewId")),
		UserID:     identity.UserID,
		Storefront: storefrontFrom(r),
		Rating:     req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildReviewPayload(review))
}

func (h *ReviewHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	if h.reviews == nil {
		serviceUnavailable(r.Context(), w, "review")
		return
	}
	params, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	page, err := h.reviews.ListProductReviews(r.Context(), services.ListProductReviewsQuery{
		Storefront: storefrontFrom(r),
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{Items: buildReviewPayloads(page.Items), NextPageToken: page.NextPageToken})
}

func (h *ReviewHandlers) listOrderReviews(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ready(w, r)
	if !ok {
		return
	}
	reviews, err := h.reviews.ListOrderReviews(r.Context(), storefrontFrom(r), strings.TrimSpace(chi.URLParam(r, "orderId")), identity.UserID)
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{Items: buildReviewPayloads(reviews)})
}

func (h *ReviewHandlers) ready(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.reviews == nil {
		serviceUnavailable(r.Context(), w, "review")
		return nil, false
	}
	return requireIdentity(w, r)
}

func buildReviewPayloads(reviews []domain.Review) []reviewPayload {
	out := make([]reviewPayload, 0, len(reviews))
	for _, review := range reviews {
		out = append(out, buildReviewPayload(review))
	}
	return out
}

func buildReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:         review.ID,
		UserID:     review.UserID,
		ProductID:  review.ProductID,
		OrderID:    review.OrderID,
		Storefront: review.Storefront.String(),
		Rating:     review.Rating,
		Comment:    review.Comment,
		CreatedAt:  formatTime(review.CreatedAt),
		UpdatedAt:  formatTime(review.UpdatedAt),
	}
}
