package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/repositories"
)

// ReviewRepository stores reviews plus a create-only reviewKeys document per (user, product, order).
type ReviewRepository struct {
	provider *pfirestore.Provider
	reviews  *pfirestore.Collection[reviewDocument]
	keys     *pfirestore.Collection[reviewKeyDocument]
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{
		provider: provider,
		reviews:  pfirestore.NewCollection[reviewDocument](provider, reviewsCollection),
		keys:     pfirestore.NewCollection[reviewKeyDocument](provider, reviewKeysCollection),
	}, nil
}

func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	if strings.TrimSpace(review.ID) == "" {
		return errors.New("review repository: review id is required")
	}
	return r.provider.RunTransaction(ctx, "reviews.insert", func(ctx context.Context, tx *firestore.Transaction) error {
		keyRef, err := r.keys.Doc(ctx, domain.ReviewKey(review.Storefront, review.UserID, review.ProductID, review.OrderID))
		if err != nil {
			return err
		}
		reviewRef, err := r.reviews.Doc(ctx, review.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(keyRef, reviewKeyDocument{ReviewID: review.ID, CreatedAt: review.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(reviewRef, encodeReview(review))
	})
}

// Update rewrites rating, comment and updatedAt. The uniqueness triple never changes.
func (r *ReviewRepository) Update(ctx context.Context, review domain.Review) error {
	ref, err := r.reviews.Doc(ctx, review.ID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "rating", Value: review.Rating},
		{Path: "comment", Value: review.Comment},
		{Path: "updatedAt", Value: review.UpdatedAt.UTC()},
	})
	return pfirestore.WrapError("reviews.update", err)
}

func (r *ReviewRepository) FindByID(ctx context.Context, storefront domain.Storefront, reviewID string) (domain.Review, error) {
	if strings.TrimSpace(reviewID) == "" {
		return domain.Review{}, pfirestore.NotFound("reviews.get", "review id is empty")
	}
	doc, err := r.reviews.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if domain.Storefront(doc.Data.Storefront) != storefront {
		return domain.Review{}, pfirestore.NotFound("reviews.get", "review "+reviewID+" not in storefront")
	}
	return decodeReview(doc.ID, doc.Data), nil
}

func (r *ReviewRepository) FindByKey(ctx context.Context, storefront domain.Storefront, userID, productID, orderID string) (domain.Review, error) {
	key, err := r.keys.Get(ctx, domain.ReviewKey(storefront, userID, productID, orderID))
	if err != nil {
		return domain.Review{}, err
	}
	return r.FindByID(ctx, storefront, key.Data.ReviewID)
}

func (r *ReviewRepository) ListByProduct(ctx context.Context, storefront domain.Storefront, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}
	size := pagination.ClampPageSize(pager.PageSize)
	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("storefront", "==", string(storefront)).
			Where("productId", "==", productID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}
	return pageOf(docs, size, func(doc pfirestore.Document[reviewDocument]) domain.Review {
		return decodeReview(doc.ID, doc.Data)
	}, func(rv domain.Review) pagination.Cursor {
		return pagination.Cursor{CreatedAt: rv.CreatedAt, ID: rv.ID}
	})
}

func (r *ReviewRepository) ListByOrder(ctx context.Context, storefront domain.Storefront, orderID string) ([]domain.Review, error) {
	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("storefront", "==", string(storefront)).Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, err
	}
	reviews := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		reviews = append(reviews, decodeReview(doc.ID, doc.Data))
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].CreatedAt.Before(reviews[j].CreatedAt) })
	return reviews, nil
}
