package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CartID derives the storage key for the single cart owned by (storefront, user).
func CartID(storefront Storefront, userID string) string {
	return string(storefront) + ":" + strings.TrimSpace(userID)
}

// CartItemID derives the line key for a product/size pair within a cart.
func CartItemID(productID, size string) string {
	size = NormalizeSize(size)
	if size == "" {
		return strings.TrimSpace(productID)
	}
	return strings.TrimSpace(productID) + "~" + size
}

// NormalizeSize canonicalises an optional size variant.
func NormalizeSize(size string) string {
	return strings.ToUpper(strings.TrimSpace(size))
}

// OrderReferenceKey derives the uniqueness key binding a payment reference to one order. A gateway
// reference identifies a single charge, so the key spans every storefront.
func OrderReferenceKey(reference string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(reference)))
	return hex.EncodeToString(sum[:])
}

// PromoKey derives the storage key for a normalised promo code within a storefront.
func PromoKey(storefront Storefront, code string) string {
	return string(storefront) + ":" + code
}

// ReviewKey derives the uniqueness key for a (user, product, order) review.
func ReviewKey(storefront Storefront, userID, productID, orderID string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{string(storefront), userID, productID, orderID}, "\x00")))
	return hex.EncodeToString(sum[:16])
}
