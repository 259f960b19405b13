package domain

import (
	"strings"
	"time"
)

// Cart is the single per-user shopping cart. The document id equals the user id.
type Cart struct {
	ID                 string
	UserID             string
	Items              []CartItem
	CouponID           string
	Total              int64
	Discount           int64
	TotalAfterDiscount int64
	Lifecycle          Lifecycle
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CartItem is a priced cart line.
type CartItem struct {
	ID        string
	ProductID string
	Quantity  int
	Price     int64
	Variant   VariantSelection
	SKU       string
}

// LineTotal returns price × quantity.
func (i CartItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a copy with an independent item slice.
func (c Cart) Clone() Cart {
	dup := c
	if c.Items != nil {
		dup.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			item.Variant = item.Variant.Clone()
			dup.Items[i] = item
		}
	}
	return dup
}

// CouponType enumerates supported discount kinds.
type CouponType string

const (
	CouponTypeFixed      CouponType = "fixed"
	CouponTypePercentage CouponType = "percentage"
)

// Coupon is a discount code. Value is in minor units for fixed coupons and whole percent for
// percentage coupons.
type Coupon struct {
	ID           string
	Code         string
	Type         CouponType
	Value        int64
	MinCartTotal int64
	MaxDiscount  *int64
	ExpiryDate   time.Time
	UsageLimit   int64
	UsedCount    int64
	Active       bool
	Lifecycle    Lifecycle
	// Scope optionally restricts the coupon to a vendor store, a product, or a category.
	Scope     []EntityRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormaliseCouponCode uppercases and trims a coupon code.
func NormaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusProcessingPayment OrderStatus = "processing_payment"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusPaymentFailed     OrderStatus = "payment_failed"
	OrderStatusRefunded          OrderStatus = "refunded"
)

// ParseOrderStatus normalises user input. "confirmed" is accepted as an alias for paid.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	switch normalised := OrderStatus(strings.ToLower(strings.TrimSpace(value))); normalised {
	case OrderStatusPending, OrderStatusProcessingPayment, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusPaymentFailed,
		OrderStatusRefunded:
		return normalised, true
	case "confirmed":
		return OrderStatusPaid, true
	case "failed":
		return OrderStatusPaymentFailed, true
	default:
		return "", false
	}
}

// PaymentMethod enumerates how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "credit_card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// ParsePaymentMethod validates a payment method string, defaulting to card when empty.
func ParsePaymentMethod(value string) (PaymentMethod, bool) {
	switch method := PaymentMethod(strings.ToLower(strings.TrimSpace(value))); method {
	case "":
		return PaymentMethodCard, true
	case PaymentMethodCard, PaymentMethodCashOnDelivery:
		return method, true
	default:
		return "", false
	}
}

// Order is the immutable checkout snapshot plus its lifecycle state.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	PaymentID       string
	CouponID        string
	Currency        string
	Subtotal        int64
	Discount        int64
	ShippingFee     int64
	Tax             int64
	TotalAmount     int64
	Status          OrderStatus
	Lifecycle       Lifecycle
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	StoreDeleted    bool
	StoreDeletedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem snapshots a cart line at checkout.
type OrderItem struct {
	ID        string
	ProductID string
	Store     EntityRef
	Name      string
	Quantity  int
	Price     int64
	Variant   VariantSelection
	SKU       string
	Image     string
	// ReservedQuantity is the number of units taken from variant option stock for this line.
	ReservedQuantity int
	// FlatStockDebited is the number of units quantity edits took from the product's flat stock.
	FlatStockDebited int
	// StockReleased is set once the line's reserved stock has been returned.
	StockReleased bool
}

// LineTotal returns price × quantity.
func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// StoreIDs returns the distinct store ids referenced by the order lines, in first-seen order.
func (o Order) StoreIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		id := strings.TrimSpace(item.Store.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// HasStore reports whether any order line belongs to the store.
func (o Order) HasStore(storeID string) bool {
	for _, item := range o.Items {
		if item.Store.Matches(EntityKindStore, storeID) {
			return true
		}
	}
	return false
}

// Clone returns a copy with independent slices and timestamps.
func (o Order) Clone() Order {
	dup := o
	if o.Items != nil {
		dup.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.Variant = item.Variant.Clone()
			dup.Items[i] = item
		}
	}
	dup.PaidAt = cloneTime(o.PaidAt)
	dup.ShippedAt = cloneTime(o.ShippedAt)
	dup.DeliveredAt = cloneTime(o.DeliveredAt)
	dup.CancelledAt = cloneTime(o.CancelledAt)
	dup.StoreDeletedAt = cloneTime(o.StoreDeletedAt)
	return dup
}

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusExpired   PaymentStatus = "expired"
)

// ParsePaymentStatus validates a payment status string.
func ParsePaymentStatus(value string) (PaymentStatus, bool) {
	switch status := PaymentStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusExpired:
		return status, true
	default:
		return "", false
	}
}

// Payment is tied one-to-one with an order.
type Payment struct {
	ID              string
	OrderID         string
	UserID          string
	Amount          int64
	Currency        string
	Method          PaymentMethod
	Status          PaymentStatus
	Provider        string
	TransactionID   string
	SessionID       string
	PaymentIntentID string
	Error           string
	PaidAt          *time.Time
	RefundedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy with independent timestamps.
func (p Payment) Clone() Payment {
	dup := p
	dup.PaidAt = cloneTime(p.PaidAt)
	dup.RefundedAt = cloneTime(p.RefundedAt)
	return dup
}

// CouponUsage records that a user redeemed a coupon on an order.
type CouponUsage struct {
	CouponID string
	UserID   string
	OrderID  string
	UsedAt   time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
