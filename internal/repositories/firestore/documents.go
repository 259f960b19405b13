package firestore

import (
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
)

const (
	productsCollection     = "products"
	cartsCollection        = "carts"
	couponsCollection      = "coupons"
	couponUsagesCollection = "couponUsages"
	usersCollection        = "users"
	storesCollection       = "stores"
	ordersCollection       = "orders"
	paymentsCollection     = "payments"
)

type optionDocument struct {
	Value         string `firestore:"value"`
	PriceModifier int64  `firestore:"priceModifier"`
	Stock         *int64 `firestore:"stock,omitempty"`
	SKU           string `firestore:"sku,omitempty"`
	Lifecycle     string `firestore:"lifecycle,omitempty"`
}

type variantDocument struct {
	Name      string           `firestore:"name"`
	Options   []optionDocument `firestore:"options"`
	Lifecycle string           `firestore:"lifecycle,omitempty"`
}

type productDocument struct {
	StoreID       string            `firestore:"storeId"`
	CategoryID    string            `firestore:"categoryId,omitempty"`
	Name          string            `firestore:"name"`
	Description   string            `firestore:"description,omitempty"`
	Images        []string          `firestore:"images,omitempty"`
	BasePrice     int64             `firestore:"basePrice"`
	DiscountPrice *int64            `firestore:"discountPrice,omitempty"`
	DiscountStart *time.Time        `firestore:"discountStart,omitempty"`
	DiscountEnd   *time.Time        `firestore:"discountEnd,omitempty"`
	Stock         *int64            `firestore:"stock,omitempty"`
	Variants      []variantDocument `firestore:"variants,omitempty"`
	Lifecycle     string            `firestore:"lifecycle,omitempty"`
	CreatedAt     time.Time         `firestore:"createdAt"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		StoreID:       p.StoreID,
		CategoryID:    p.CategoryID,
		Name:          p.Name,
		Description:   p.Description,
		Images:        append([]string(nil), p.Images...),
		BasePrice:     p.BasePrice,
		DiscountPrice: p.DiscountPrice,
		DiscountStart: p.DiscountStart,
		DiscountEnd:   p.DiscountEnd,
		Stock:         p.Stock,
		Lifecycle:     string(p.Lifecycle),
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
	for _, v := range p.Variants {
		vd := variantDocument{Name: v.Name, Lifecycle: string(v.Lifecycle)}
		for _, o := range v.Options {
			vd.Options = append(vd.Options, optionDocument{
				Value:         o.Value,
				PriceModifier: o.PriceModifier,
				Stock:         o.Stock,
				SKU:           o.SKU,
				Lifecycle:     string(o.Lifecycle),
			})
		}
		doc.Variants = append(doc.Variants, vd)
	}
	return doc
}

func (d productDocument) toDomain(id string) domain.Product {
	p := domain.Product{
		ID:            id,
		StoreID:       d.StoreID,
		CategoryID:    d.CategoryID,
		Name:          d.Name,
		Description:   d.Description,
		Images:        append([]string(nil), d.Images...),
		BasePrice:     d.BasePrice,
		DiscountPrice: d.DiscountPrice,
		DiscountStart: d.DiscountStart,
		DiscountEnd:   d.DiscountEnd,
		Stock:         d.Stock,
		Lifecycle:     domain.Lifecycle(d.Lifecycle),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, vd := range d.Variants {
		v := domain.Variant{Name: vd.Name, Lifecycle: domain.Lifecycle(vd.Lifecycle)}
		for _, od := range vd.Options {
			v.Options = append(v.Options, domain.VariantOption{
				Value:         od.Value,
				PriceModifier: od.PriceModifier,
				Stock:         od.Stock,
				SKU:           od.SKU,
				Lifecycle:     domain.Lifecycle(od.Lifecycle),
			})
		}
		p.Variants = append(p.Variants, v)
	}
	return p.Clone()
}

type attributeDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

func encodeSelection(sel domain.VariantSelection) []attributeDocument {
	if len(sel) == 0 {
		return nil
	}
	out := make([]attributeDocument, 0, len(sel))
	for _, attr := range sel {
		out = append(out, attributeDocument{Name: attr.Name, Value: attr.Value})
	}
	return out
}

func decodeSelection(docs []attributeDocument) domain.VariantSelection {
	if len(docs) == 0 {
		return nil
	}
	out := make(domain.VariantSelection, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.VariantAttribute{Name: d.Name, Value: d.Value})
	}
	return out
}

type cartItemDocument struct {
	ID        string              `firestore:"id"`
	ProductID string              `firestore:"productId"`
	Quantity  int                 `firestore:"quantity"`
	Price     int64               `firestore:"price"`
	Variant   []attributeDocument `firestore:"variant,omitempty"`
	SKU       string              `firestore:"sku,omitempty"`
}

type cartDocument struct {
	UserID             string             `firestore:"userId"`
	Items              []cartItemDocument `firestore:"items"`
	CouponID           string             `firestore:"couponId,omitempty"`
	Total              int64              `firestore:"total"`
	Discount           int64              `firestore:"discount"`
	TotalAfterDiscount int64              `firestore:"totalAfterDiscount"`
	Lifecycle          string             `firestore:"lifecycle,omitempty"`
	CreatedAt          time.Time          `firestore:"createdAt"`
	UpdatedAt          time.Time          `firestore:"updatedAt"`
}

func newCartDocument(c domain.Cart) cartDocument {
	doc := cartDocument{
		UserID:             c.UserID,
		Items:              make([]cartItemDocument, 0, len(c.Items)),
		CouponID:           c.CouponID,
		Total:              c.Total,
		Discount:           c.Discount,
		TotalAfterDiscount: c.TotalAfterDiscount,
		Lifecycle:          string(c.Lifecycle),
		CreatedAt:          c.CreatedAt.UTC(),
		UpdatedAt:          c.UpdatedAt.UTC(),
	}
	for _, item := range c.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Variant:   encodeSelection(item.Variant),
			SKU:       item.SKU,
		})
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:                 id,
		UserID:             d.UserID,
		CouponID:           d.CouponID,
		Total:              d.Total,
		Discount:           d.Discount,
		TotalAfterDiscount: d.TotalAfterDiscount,
		Lifecycle:          domain.Lifecycle(d.Lifecycle),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if cart.UserID == "" {
		cart.UserID = id
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Variant:   decodeSelection(item.Variant),
			SKU:       item.SKU,
		})
	}
	return cart
}

type entityRefDocument struct {
	Kind string `firestore:"kind"`
	ID   string `firestore:"id"`
}

type couponDocument struct {
	Code         string              `firestore:"code"`
	Type         string              `firestore:"type"`
	Value        int64               `firestore:"value"`
	MinCartTotal int64               `firestore:"minCartTotal"`
	MaxDiscount  *int64              `firestore:"maxDiscount,omitempty"`
	ExpiryDate   time.Time           `firestore:"expiryDate"`
	UsageLimit   int64               `firestore:"usageLimit"`
	UsedCount    int64               `firestore:"usedCount"`
	Active       bool                `firestore:"active"`
	Lifecycle    string              `firestore:"lifecycle,omitempty"`
	Scope        []entityRefDocument `firestore:"scope,omitempty"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
}

func newCouponDocument(c domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:         domain.NormaliseCouponCode(c.Code),
		Type:         string(c.Type),
		Value:        c.Value,
		MinCartTotal: c.MinCartTotal,
		MaxDiscount:  c.MaxDiscount,
		ExpiryDate:   c.ExpiryDate.UTC(),
		UsageLimit:   c.UsageLimit,
		UsedCount:    c.UsedCount,
		Active:       c.Active,
		Lifecycle:    string(c.Lifecycle),
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	for _, ref := range c.Scope {
		doc.Scope = append(doc.Scope, entityRefDocument{Kind: string(ref.Kind), ID: ref.ID})
	}
	return doc
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	c := domain.Coupon{
		ID:           id,
		Code:         d.Code,
		Type:         domain.CouponType(d.Type),
		Value:        d.Value,
		MinCartTotal: d.MinCartTotal,
		MaxDiscount:  d.MaxDiscount,
		ExpiryDate:   d.ExpiryDate,
		UsageLimit:   d.UsageLimit,
		UsedCount:    d.UsedCount,
		Active:       d.Active,
		Lifecycle:    domain.Lifecycle(d.Lifecycle),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, ref := range d.Scope {
		c.Scope = append(c.Scope, domain.EntityRef{Kind: domain.EntityKind(ref.Kind), ID: ref.ID})
	}
	return c
}

type couponUsageDocument struct {
	CouponID string    `firestore:"couponId"`
	UserID   string    `firestore:"userId"`
	OrderID  string    `firestore:"orderId"`
	UsedAt   time.Time `firestore:"usedAt"`
}

type addressDocument struct {
	ID         string `firestore:"id,omitempty"`
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	IsDefault  bool   `firestore:"isDefault,omitempty"`
}

func newAddressDocument(a domain.Address) addressDocument {
	return addressDocument{ID: a.ID, Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country, IsDefault: a.IsDefault}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{ID: d.ID, Street: d.Street, City: d.City, PostalCode: d.PostalCode, Country: d.Country, IsDefault: d.IsDefault}
}

type userDocument struct {
	Email           string            `firestore:"email"`
	DisplayName     string            `firestore:"displayName,omitempty"`
	Addresses       []addressDocument `firestore:"addresses,omitempty"`
	OrdersCount     int64             `firestore:"ordersCount"`
	ActiveOrders    int64             `firestore:"activeOrders"`
	CancelledOrders int64             `firestore:"cancelledOrders"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

func (d userDocument) toDomain(id string) domain.User {
	u := domain.User{
		ID:              id,
		Email:           d.Email,
		DisplayName:     d.DisplayName,
		OrdersCount:     d.OrdersCount,
		ActiveOrders:    d.ActiveOrders,
		CancelledOrders: d.CancelledOrders,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, addr := range d.Addresses {
		u.Addresses = append(u.Addresses, addr.toDomain())
	}
	return u
}

type orderItemDocument struct {
	ID               string              `firestore:"id"`
	ProductID        string              `firestore:"productId"`
	StoreID          string              `firestore:"storeId"`
	Name             string              `firestore:"name"`
	Quantity         int                 `firestore:"quantity"`
	Price            int64               `firestore:"price"`
	Variant          []attributeDocument `firestore:"variant,omitempty"`
	SKU              string              `firestore:"sku,omitempty"`
	Image            string              `firestore:"image,omitempty"`
	ReservedQuantity int                 `firestore:"reservedQuantity"`
	FlatStockDebited int                 `firestore:"flatStockDebited,omitempty"`
	StockReleased    bool                `firestore:"stockReleased"`
}

type orderDocument struct {
	UserID          string              `firestore:"userId"`
	StoreIDs        []string            `firestore:"storeIds"`
	Items           []orderItemDocument `firestore:"orderItems"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	PaymentID       string              `firestore:"paymentId,omitempty"`
	CouponID        string              `firestore:"couponId,omitempty"`
	Currency        string              `firestore:"currency"`
	Subtotal        int64               `firestore:"subtotal"`
	Discount        int64               `firestore:"discount"`
	ShippingFee     int64               `firestore:"shippingFee"`
	Tax             int64               `firestore:"tax"`
	TotalAmount     int64               `firestore:"totalAmount"`
	Status          string              `firestore:"status"`
	Lifecycle       string              `firestore:"lifecycle,omitempty"`
	PaidAt          *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	StoreDeleted    bool                `firestore:"storeDeleted"`
	StoreDeletedAt  *time.Time          `firestore:"storeDeletedAt,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID:          o.UserID,
		StoreIDs:        o.StoreIDs(),
		Items:           make([]orderItemDocument, 0, len(o.Items)),
		ShippingAddress: newAddressDocument(o.ShippingAddress),
		PaymentMethod:   string(o.PaymentMethod),
		PaymentID:       o.PaymentID,
		CouponID:        o.CouponID,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		Discount:        o.Discount,
		ShippingFee:     o.ShippingFee,
		Tax:             o.Tax,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		Lifecycle:       string(o.Lifecycle),
		PaidAt:          o.PaidAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		StoreDeleted:    o.StoreDeleted,
		StoreDeletedAt:  o.StoreDeletedAt,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:               item.ID,
			ProductID:        item.ProductID,
			StoreID:          item.Store.ID,
			Name:             item.Name,
			Quantity:         item.Quantity,
			Price:            item.Price,
			Variant:          encodeSelection(item.Variant),
			SKU:              item.SKU,
			Image:            item.Image,
			ReservedQuantity: item.ReservedQuantity,
			FlatStockDebited: item.FlatStockDebited,
			StockReleased:    item.StockReleased,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	o := domain.Order{
		ID:              id,
		UserID:          d.UserID,
		ShippingAddress: d.ShippingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentID:       d.PaymentID,
		CouponID:        d.CouponID,
		Currency:        d.Currency,
		Subtotal:        d.Subtotal,
		Discount:        d.Discount,
		ShippingFee:     d.ShippingFee,
		Tax:             d.Tax,
		TotalAmount:     d.TotalAmount,
		Status:          domain.OrderStatus(d.Status),
		Lifecycle:       domain.Lifecycle(d.Lifecycle),
		PaidAt:          d.PaidAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		StoreDeleted:    d.StoreDeleted,
		StoreDeletedAt:  d.StoreDeletedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, item := range d.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			Store:            domain.StoreRef(item.StoreID),
			Name:             item.Name,
			Quantity:         item.Quantity,
			Price:            item.Price,
			Variant:          decodeSelection(item.Variant),
			SKU:              item.SKU,
			Image:            item.Image,
			ReservedQuantity: item.ReservedQuantity,
			FlatStockDebited: item.FlatStockDebited,
			StockReleased:    item.StockReleased,
		})
	}
	return o.Clone()
}

type paymentDocument struct {
	OrderID         string     `firestore:"orderId"`
	UserID          string     `firestore:"userId"`
	Amount          int64      `firestore:"amount"`
	Currency        string     `firestore:"currency"`
	Method          string     `firestore:"paymentMethod"`
	Status          string     `firestore:"status"`
	Provider        string     `firestore:"provider,omitempty"`
	TransactionID   string     `firestore:"transactionId,omitempty"`
	SessionID       string     `firestore:"stripeSessionId,omitempty"`
	PaymentIntentID string     `firestore:"paymentIntentId,omitempty"`
	Error           string     `firestore:"error,omitempty"`
	PaidAt          *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt      *time.Time `firestore:"refundedAt,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Method:          string(p.Method),
		Status:          string(p.Status),
		Provider:        p.Provider,
		TransactionID:   p.TransactionID,
		SessionID:       p.SessionID,
		PaymentIntentID: p.PaymentIntentID,
		Error:           p.Error,
		PaidAt:          p.PaidAt,
		RefundedAt:      p.RefundedAt,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:              id,
		OrderID:         d.OrderID,
		UserID:          d.UserID,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Method:          domain.PaymentMethod(d.Method),
		Status:          domain.PaymentStatus(d.Status),
		Provider:        d.Provider,
		TransactionID:   d.TransactionID,
		SessionID:       d.SessionID,
		PaymentIntentID: d.PaymentIntentID,
		Error:           d.Error,
		PaidAt:          d.PaidAt,
		RefundedAt:      d.RefundedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}.Clone()
}
