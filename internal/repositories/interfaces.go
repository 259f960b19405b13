package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork runs fn inside one atomic, isolated transaction. Any error returned by fn aborts the
// transaction and is returned unchanged; implementations may retry fn on contention, so fn must not
// perform external side effects.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view over every document the order engine touches. Reads observe a
// consistent snapshot plus the transaction's own writes; writes become visible only on commit.
type Tx interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	PutProduct(ctx context.Context, product domain.Product) error

	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	PutCart(ctx context.Context, cart domain.Cart) error

	GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error)
	PutCoupon(ctx context.Context, coupon domain.Coupon) error
	HasCouponUsage(ctx context.Context, couponID, userID string) (bool, error)
	PutCouponUsage(ctx context.Context, usage domain.CouponUsage) error

	GetUser(ctx context.Context, userID string) (domain.User, error)

	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	PutOrder(ctx context.Context, order domain.Order) error

	GetPayment(ctx context.Context, paymentID string) (domain.Payment, error)
	FindPaymentBySession(ctx context.Context, sessionID string) (domain.Payment, error)
	FindPaymentByIntent(ctx context.Context, intentID string) (domain.Payment, error)
	PutPayment(ctx context.Context, payment domain.Payment) error

	ApplyStoreCounters(ctx context.Context, storeID string, delta StoreCounterDelta) error
	ApplyUserCounters(ctx context.Context, userID string, delta UserCounterDelta) error
}

// StoreCounterDelta is an increment applied to a store's denormalised counters.
type StoreCounterDelta struct {
	OrdersCount int64
}

// IsZero reports whether applying the delta would be a no-op.
func (d StoreCounterDelta) IsZero() bool {
	return d.OrdersCount == 0
}

// UserCounterDelta is an increment applied to a user's denormalised order counters.
type UserCounterDelta struct {
	OrdersCount     int64
	ActiveOrders    int64
	CancelledOrders int64
}

// IsZero reports whether applying the delta would be a no-op.
func (d UserCounterDelta) IsZero() bool {
	return d.OrdersCount == 0 && d.ActiveOrders == 0 && d.CancelledOrders == 0
}

// CartRepository reads carts outside a transaction.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
}

// OrderListFilter narrows order listings. Results are ordered newest first.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository provides query helpers for users, vendors, and internal jobs.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByStore(ctx context.Context, storeID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	MarkStoreDeleted(ctx context.Context, storeID string, deletedAt time.Time) (int, error)
}

// PaymentRepository provides payment lookups outside a transaction.
type PaymentRepository interface {
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (domain.Payment, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Payment], error)
}
