package firestore

import (
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const (
	usersCollection             = "users"
	productsCollection          = "products"
	cartsCollection             = "carts"
	promotionsCollection        = "promotions"
	promoUserCountersCollection = "promoUserCounters"
	promoUsagesCollection       = "promoUsages"
	ordersCollection            = "orders"
	orderReferencesCollection   = "orderReferences"
	reviewsCollection           = "reviews"
	reviewKeysCollection        = "reviewKeys"
)

type userDocument struct {
	Email       string    `firestore:"email"`
	DisplayName string    `firestore:"displayName,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt,omitempty"`
}

type productDocument struct {
	Storefront  string `firestore:"storefront"`
	Name        string `firestore:"name"`
	ImageURL    string `firestore:"imageUrl,omitempty"`
	Category    string `firestore:"category,omitempty"`
	Price       int64  `firestore:"price"`
	SalePercent int    `firestore:"salePercent,omitempty"`
	Stock       int    `firestore:"stock"`
	Active      bool   `firestore:"active"`
}

type cartDocument struct {
	UserID     string             `firestore:"userId"`
	Storefront string             `firestore:"storefront"`
	Items      []cartItemDocument `firestore:"items"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID              string    `firestore:"id"`
	ProductID       string    `firestore:"productId"`
	Size            string    `firestore:"size,omitempty"`
	Quantity        int       `firestore:"quantity"`
	PriceAtAddition int64     `firestore:"priceAtAddition"`
	AddedAt         time.Time `firestore:"addedAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type promotionDocument struct {
	ID            string     `firestore:"id"`
	Storefront    string     `firestore:"storefront"`
	Code          string     `firestore:"code"`
	DiscountType  string     `firestore:"discountType"`
	DiscountValue int64      `firestore:"discountValue"`
	ExpiresAt     *time.Time `firestore:"expiresAt,omitempty"`
	UsageLimit    *int       `firestore:"usageLimit,omitempty"`
	PerUserLimit  *int       `firestore:"perUserLimit,omitempty"`
	Active        bool       `firestore:"active"`
	UsageCount    int        `firestore:"usageCount"`
	CreatedAt     time.Time  `firestore:"createdAt,omitempty"`
	UpdatedAt     time.Time  `firestore:"updatedAt,omitempty"`
}

type promoUserCounterDocument struct {
	PromoID   string    `firestore:"promoId"`
	UserID    string    `firestore:"userId"`
	Count     int       `firestore:"count"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type promoUsageDocument struct {
	PromoID    string    `firestore:"promoId"`
	Code       string    `firestore:"code"`
	UserID     string    `firestore:"userId"`
	OrderID    string    `firestore:"orderId"`
	Storefront string    `firestore:"storefront"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	UserID           string              `firestore:"userId"`
	Storefront       string              `firestore:"storefront"`
	PaymentReference string              `firestore:"paymentReference"`
	Status           string              `firestore:"status"`
	Currency         string              `firestore:"currency"`
	Email            string              `firestore:"email,omitempty"`
	Subtotal         int64               `firestore:"subtotal"`
	Discount         int64               `firestore:"discount"`
	Total            int64               `firestore:"total"`
	PaidAmount       int64               `firestore:"paidAmount"`
	PromoCode        string              `firestore:"promoCode,omitempty"`
	Items            []orderItemDocument `firestore:"items"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
	CompletedAt      *time.Time          `firestore:"completedAt,omitempty"`
	CancelledAt      *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ID        string `firestore:"id"`
	ProductID string `firestore:"productId"`
	Size      string `firestore:"size,omitempty"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	LineTotal int64  `firestore:"lineTotal"`
}

type orderReferenceDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type reviewDocument struct {
	UserID     string    `firestore:"userId"`
	ProductID  string    `firestore:"productId"`
	OrderID    string    `firestore:"orderId"`
	Storefront string    `firestore:"storefront"`
	Rating     int       `firestore:"rating"`
	Comment    string    `firestore:"comment"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

type reviewKeyDocument struct {
	ReviewID  string    `firestore:"reviewId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func productDocID(storefront domain.Storefront, productID string) string {
	return string(storefront) + ":" + strings.TrimSpace(productID)
}

func promoCounterDocID(promoID, userID string) string {
	return promoID + ":" + userID
}

func decodeProduct(id string, doc productDocument) domain.Product {
	productID := id
	if idx := strings.IndexByte(id, ':'); idx >= 0 {
		productID = id[idx+1:]
	}
	return domain.Product{
		ID:          productID,
		Storefront:  domain.Storefront(doc.Storefront),
		Name:        doc.Name,
		ImageURL:    doc.ImageURL,
		Category:    doc.Category,
		Price:       doc.Price,
		SalePercent: doc.SalePercent,
		Stock:       doc.Stock,
		Active:      doc.Active,
	}
}

func encodeCart(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ID:              item.ID,
			ProductID:       item.ProductID,
			Size:            item.Size,
			Quantity:        item.Quantity,
			PriceAtAddition: item.PriceAtAddition,
			AddedAt:         item.AddedAt.UTC(),
			UpdatedAt:       item.UpdatedAt.UTC(),
		})
	}
	return cartDocument{
		UserID:     cart.UserID,
		Storefront: string(cart.Storefront),
		Items:      items,
		ItemsCount: len(items),
		CreatedAt:  cart.CreatedAt.UTC(),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
}

func decodeCart(id string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:         id,
		UserID:     doc.UserID,
		Storefront: domain.Storefront(doc.Storefront),
		Items:      make([]domain.CartItem, 0, len(doc.Items)),
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:              item.ID,
			CartID:          id,
			ProductID:       item.ProductID,
			Size:            item.Size,
			Quantity:        item.Quantity,
			PriceAtAddition: item.PriceAtAddition,
			AddedAt:         item.AddedAt.UTC(),
			UpdatedAt:       item.UpdatedAt.UTC(),
		})
	}
	return cart
}

func decodePromotion(doc promotionDocument) domain.PromoCode {
	return domain.PromoCode{
		ID:            doc.ID,
		Storefront:    domain.Storefront(doc.Storefront),
		Code:          doc.Code,
		DiscountType:  domain.DiscountType(doc.DiscountType),
		DiscountValue: doc.DiscountValue,
		ExpiresAt:     doc.ExpiresAt,
		UsageLimit:    doc.UsageLimit,
		PerUserLimit:  doc.PerUserLimit,
		Active:        doc.Active,
		UsageCount:    doc.UsageCount,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			Size:      item.Size,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return orderDocument{
		UserID:           order.UserID,
		Storefront:       string(order.Storefront),
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Email:            order.Email,
		Subtotal:         order.Subtotal,
		Discount:         order.Discount,
		Total:            order.Total,
		PaidAmount:       order.PaidAmount,
		PromoCode:        order.PromoCode,
		Items:            items,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		CompletedAt:      order.CompletedAt,
		CancelledAt:      order.CancelledAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:               id,
		UserID:           doc.UserID,
		Storefront:       domain.Storefront(doc.Storefront),
		PaymentReference: doc.PaymentReference,
		Status:           domain.OrderStatus(doc.Status),
		Currency:         doc.Currency,
		Email:            doc.Email,
		Subtotal:         doc.Subtotal,
		Discount:         doc.Discount,
		Total:            doc.Total,
		PaidAmount:       doc.PaidAmount,
		PromoCode:        doc.PromoCode,
		Items:            make([]domain.OrderItem, 0, len(doc.Items)),
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
		CompletedAt:      doc.CompletedAt,
		CancelledAt:      doc.CancelledAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        item.ID,
			OrderID:   id,
			ProductID: item.ProductID,
			Size:      item.Size,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return order
}

func encodeReview(review domain.Review) reviewDocument {
	return reviewDocument{
		UserID:     review.UserID,
		ProductID:  review.ProductID,
		OrderID:    review.OrderID,
		Storefront: string(review.Storefront),
		Rating:     review.Rating,
		Comment:    review.Comment,
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}
}

func decodeReview(id string, doc reviewDocument) domain.Review {
	return domain.Review{
		ID:         id,
		UserID:     doc.UserID,
		ProductID:  doc.ProductID,
		OrderID:    doc.OrderID,
		Storefront: domain.Storefront(doc.Storefront),
		Rating:     doc.Rating,
		Comment:    doc.Comment,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
}
