package services

import (
	"context"
	"errors"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/repositories"
)

// Kind classifies service errors so transports can map them without knowing every sentinel.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindConflict
	KindLimitExceeded
	KindExpired
	KindGatewayUnreachable
	KindGatewayRejected
	KindNotConfigured
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindInvalidArgument:    "invalid_argument",
	KindNotFound:           "not_found",
	KindUnauthenticated:    "unauthenticated",
	KindForbidden:          "forbidden",
	KindConflict:           "conflict",
	KindLimitExceeded:      "limit_exceeded",
	KindExpired:            "expired",
	KindGatewayUnreachable: "gateway_unreachable",
	KindGatewayRejected:    "gateway_rejected",
	KindNotConfigured:      "not_configured",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

var (
	// ErrUnauthenticated indicates the caller identity is missing or does not resolve to a user.
	ErrUnauthenticated = errors.New("checkout: unauthenticated")

	// ErrCartInvalidInput indicates the caller supplied malformed cart input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates a product referenced by a cart mutation does not exist.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartUnavailable indicates the cart backend failed.
	ErrCartUnavailable = errors.New("cart: unavailable")

	// ErrPromoInvalidInput indicates malformed validation input.
	ErrPromoInvalidInput = errors.New("promo: invalid input")
	// ErrPromoInvalid indicates no active promotion matches the code in the storefront.
	ErrPromoInvalid = errors.New("promo: invalid code")
	// ErrPromoExpired indicates the promotion expiry has passed.
	ErrPromoExpired = errors.New("promo: expired")
	// ErrPromoLimitExceeded indicates the global usage limit is exhausted.
	ErrPromoLimitExceeded = errors.New("promo: usage limit exceeded")
	// ErrPromoPerUserLimitExceeded indicates the user has exhausted their allowance.
	ErrPromoPerUserLimitExceeded = errors.New("promo: per-user limit exceeded")

	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout input.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates there is nothing to purchase.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutLineInvalid indicates a cart line no longer resolves to a purchasable product.
	ErrCheckoutLineInvalid = errors.New("checkout: cart line invalid")
	// ErrCheckoutAmountMismatch indicates the verified payment does not cover the order total. The money
	// has been taken, so it is always reported wrapped in ErrCheckoutFailed and needs reconciliation.
	ErrCheckoutAmountMismatch = errors.New("checkout: paid amount does not cover order total")
	// ErrCheckoutFailed indicates the order could not be materialised.
	ErrCheckoutFailed = errors.New("checkout: order could not be completed")

	// ErrOrderInvalidInput indicates the caller supplied invalid order input.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates an order already exists for the payment reference.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order backend failed.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewForbidden indicates the caller does not own the review.
	ErrReviewForbidden = errors.New("review: forbidden")
	// ErrOrderNotEligible indicates the order is missing, foreign, or not completed.
	ErrOrderNotEligible = errors.New("review: order not eligible")
	// ErrProductNotInOrder indicates the order does not contain the reviewed product.
	ErrProductNotInOrder = errors.New("review: product not in order")
	// ErrDuplicateReview indicates a review already exists for the (user, product, order) triple.
	ErrDuplicateReview = errors.New("review: duplicate review")
	// ErrReviewUnavailable indicates the review backend failed.
	ErrReviewUnavailable = errors.New("review: unavailable")
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrCartInvalidInput, KindInvalidArgument},
	{ErrCartProductNotFound, KindNotFound},
	{ErrPromoInvalidInput, KindInvalidArgument},
	{ErrPromoInvalid, KindNotFound},
	{ErrPromoExpired, KindExpired},
	{ErrPromoLimitExceeded, KindLimitExceeded},
	{ErrPromoPerUserLimitExceeded, KindLimitExceeded},
	{ErrCheckoutInvalidInput, KindInvalidArgument},
	{ErrCheckoutEmptyCart, KindInvalidArgument},
	{ErrCheckoutLineInvalid, KindInvalidArgument},
	{ErrOrderInvalidInput, KindInvalidArgument},
	{ErrOrderNotFound, KindNotFound},
	{ErrOrderInvalidTransition, KindInvalidArgument},
	{ErrOrderConflict, KindConflict},
	{ErrReviewInvalidInput, KindInvalidArgument},
	{ErrReviewNotFound, KindNotFound},
	{ErrReviewForbidden, KindForbidden},
	{ErrOrderNotEligible, KindForbidden},
	{ErrProductNotInOrder, KindInvalidArgument},
	{ErrDuplicateReview, KindConflict},
	{payments.ErrNotConfigured, KindNotConfigured},
	{payments.ErrGatewayRejected, KindGatewayRejected},
	{payments.ErrGatewayUnreachable, KindGatewayUnreachable},
	{payments.ErrInvalidRequest, KindInvalidArgument},
	{domain.ErrInvalidStorefront, KindInvalidArgument},
	{pagination.ErrInvalidPageToken, KindInvalidArgument},
	{pagination.ErrInvalidPageSize, KindInvalidArgument},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, entry := range sentinelKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindGatewayUnreachable
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return KindNotFound
		case repoErr.IsConflict():
			return KindConflict
		}
	}
	return KindInternal
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func validateStorefront(sentinel error, storefront domain.Storefront) error {
	if !storefront.Valid() {
		return errors.Join(sentinel, domain.ErrInvalidStorefront)
	}
	return nil
}
