package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

// PromotionRepository reads promo documents keyed "{storefront}:{CODE}" and the per-user counters
// maintained by the checkout transaction.
type PromotionRepository struct {
	promotions *pfirestore.Collection[promotionDocument]
	counters   *pfirestore.Collection[promoUserCounterDocument]
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		promotions: pfirestore.NewCollection[promotionDocument](provider, promotionsCollection),
		counters:   pfirestore.NewCollection[promoUserCounterDocument](provider, promoUserCountersCollection),
	}, nil
}

func (r *PromotionRepository) FindByCode(ctx context.Context, storefront domain.Storefront, code string) (domain.PromoCode, error) {
	if code == "" {
		return domain.PromoCode{}, pfirestore.NotFound("promotions.get", "code is empty")
	}
	doc, err := r.promotions.Get(ctx, domain.PromoKey(storefront, code))
	if err != nil {
		return domain.PromoCode{}, err
	}
	return decodePromotion(doc.Data), nil
}

func (r *PromotionRepository) Counters(ctx context.Context, promoID string, userID string) (domain.PromoCounters, error) {
	promos, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("id", "==", promoID).Limit(1)
	})
	if err != nil {
		return domain.PromoCounters{}, err
	}
	if len(promos) == 0 {
		return domain.PromoCounters{}, pfirestore.NotFound("promotions.counters", "promotion "+promoID+" not found")
	}
	counters := domain.PromoCounters{Total: promos[0].Data.UsageCount}

	docs, err := r.counters.GetAll(ctx, []string{promoCounterDocID(promoID, userID)})
	if err != nil {
		return domain.PromoCounters{}, err
	}
	if doc, ok := docs[promoCounterDocID(promoID, userID)]; ok {
		counters.PerUser = doc.Data.Count
	}
	return counters, nil
}
