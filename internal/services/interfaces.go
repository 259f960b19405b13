package services

import (
	"context"
	"io"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/payments"
	"github.com/hanko-field/marketplace/internal/repositories"
)

type (
	Product          = domain.Product
	Cart             = domain.Cart
	CartItem         = domain.CartItem
	Coupon           = domain.Coupon
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	Payment          = domain.Payment
	PaymentStatus    = domain.PaymentStatus
	PaymentMethod    = domain.PaymentMethod
	Address          = domain.Address
	VariantSelection = domain.VariantSelection
	VariantAttribute = domain.VariantAttribute
	OrderListFilter  = repositories.OrderListFilter
)

// Role is the principal role supplied by the auth layer.
type Role string

const (
	RoleUser   Role = "user"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

// Principal is the authenticated caller. StoreID is set for vendors.
type Principal struct {
	UserID  string
	Role    Role
	StoreID string
}

// IsStaff reports whether the principal acts on behalf of the marketplace or a vendor.
func (p Principal) IsStaff() bool {
	return p.Role == RoleAdmin || p.Role == RoleVendor
}

// CartService exposes the cart aggregate. Every mutation returns the recomputed cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	SetItems(ctx context.Context, cmd SetCartItemsCommand) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, userID string) (Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// CartItemInput is a requested line before pricing.
type CartItemInput struct {
	ProductID string
	Quantity  int
	Variant   VariantSelection
}

type SetCartItemsCommand struct {
	UserID string
	Items  []CartItemInput
}

type AddCartItemCommand struct {
	UserID string
	Item   CartItemInput
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type ApplyCouponCommand struct {
	UserID   string
	CouponID string
}

// OrderService drives checkout and the order state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, actor Principal) (Order, error)
	ListUserOrders(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListStoreOrders(ctx context.Context, storeID string, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (Order, error)
	UpdateOrderItem(ctx context.Context, cmd UpdateOrderItemCommand) (Order, error)
	MarkStoreDeleted(ctx context.Context, storeID string) (int, error)
}

// CreateOrderCommand converts the user's cart into an order. ShippingAddress falls back to the
// user's saved default when nil.
type CreateOrderCommand struct {
	UserID          string
	ShippingAddress *Address
	PaymentMethod   PaymentMethod
}

type UpdateOrderStatusCommand struct {
	OrderID string
	Status  string
	Actor   Principal
}

type CancelOrderCommand struct {
	OrderID string
	UserID  string
}

type DeleteOrderCommand struct {
	OrderID string
	Actor   Principal
}

// UpdateOrderItemCommand edits one order line. Nil fields are left unchanged.
type UpdateOrderItemCommand struct {
	OrderID  string
	ItemID   string
	Quantity *int
	Name     *string
	Image    *ImageUpload
	Actor    Principal
}

// ImageUpload carries an uploaded file to the asset store.
type ImageUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// PaymentService creates payments and reconciles provider events.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentCheckout, error)
	ParseProviderEvent(payload []byte, signature string) (payments.Event, error)
	HandleProviderEvent(ctx context.Context, event payments.Event) error
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Payment, error)
	GetPayment(ctx context.Context, paymentID string, actor Principal) (Payment, error)
	GetPaymentBySession(ctx context.Context, sessionID string, actor Principal) (Payment, error)
	ListUserPayments(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[Payment], error)
}

type CreatePaymentCommand struct {
	OrderID        string
	UserID         string
	Method         string
	CustomerEmail  string
	IdempotencyKey string
}

// PaymentCheckout is the created payment plus the hosted checkout redirect for card payments.
type PaymentCheckout struct {
	Payment     Payment
	RedirectURL string
	ExpiresAt   *time.Time
}

type UpdatePaymentStatusCommand struct {
	PaymentID string
	Status    string
	Actor     Principal
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// Order event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventCancelled     = "order.cancelled"
)

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	StoreIDs       []string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	TotalAmount    int64
	Currency       string
	OccurredAt     time.Time
}

// PaymentNotifier sends the payment confirmation message. Delivery is fire-and-forget.
type PaymentNotifier interface {
	NotifyPaymentCompleted(ctx context.Context, notification PaymentNotification) error
}

// PaymentNotification is the payload handed to the notifier after a payment completes.
type PaymentNotification struct {
	PaymentID string
	OrderID   string
	UserID    string
	Email     string
	Amount    int64
	Currency  string
	PaidAt    time.Time
}

// AssetStore persists uploaded files and returns a stable URL.
type AssetStore interface {
	StoreOrderItemImage(ctx context.Context, orderID, itemID string, upload ImageUpload) (string, error)
}
