package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/marketplace/internal/domain"
	pfirestore "github.com/hanko-field/marketplace/internal/platform/firestore"
	"github.com/hanko-field/marketplace/internal/repositories"
)

type pendingWrite struct {
	ref  *firestore.DocumentRef
	data any
}

// txn implements repositories.Tx on top of a Firestore transaction. Reads go through a cache that
// also holds the transaction's own staged writes.
type txn struct {
	r  *Registry
	tx *firestore.Transaction

	products map[string]domain.Product
	carts    map[string]domain.Cart
	coupons  map[string]domain.Coupon
	usages   map[string]bool
	users    map[string]domain.User
	orders   map[string]domain.Order
	payments map[string]domain.Payment

	writes      map[string]pendingWrite
	writeOrder  []string
	storeDeltas map[string]repositories.StoreCounterDelta
	userDeltas  map[string]repositories.UserCounterDelta
}

func newTxn(r *Registry, tx *firestore.Transaction) *txn {
	return &txn{
		r:           r,
		tx:          tx,
		products:    map[string]domain.Product{},
		carts:       map[string]domain.Cart{},
		coupons:     map[string]domain.Coupon{},
		usages:      map[string]bool{},
		users:       map[string]domain.User{},
		orders:      map[string]domain.Order{},
		payments:    map[string]domain.Payment{},
		writes:      map[string]pendingWrite{},
		storeDeltas: map[string]repositories.StoreCounterDelta{},
		userDeltas:  map[string]repositories.UserCounterDelta{},
	}
}

func (t *txn) stage(ref *firestore.DocumentRef, data any) {
	if _, ok := t.writes[ref.Path]; !ok {
		t.writeOrder = append(t.writeOrder, ref.Path)
	}
	t.writes[ref.Path] = pendingWrite{ref: ref, data: data}
}

func (t *txn) flush(ctx context.Context) error {
	for _, path := range t.writeOrder {
		w := t.writes[path]
		if err := t.tx.Set(w.ref, w.data); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	for storeID, delta := range t.storeDeltas {
		if delta.IsZero() {
			continue
		}
		ref, err := t.r.stores.DocumentRef(ctx, storeID)
		if err != nil {
			return err
		}
		if err := t.tx.Set(ref, map[string]any{
			"ordersCount": firestore.Increment(delta.OrdersCount),
			"updatedAt":   now,
		}, firestore.MergeAll); err != nil {
			return err
		}
	}
	for userID, delta := range t.userDeltas {
		if delta.IsZero() {
			continue
		}
		ref, err := t.r.users.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		if err := t.tx.Set(ref, map[string]any{
			"ordersCount":     firestore.Increment(delta.OrdersCount),
			"activeOrders":    firestore.Increment(delta.ActiveOrders),
			"cancelledOrders": firestore.Increment(delta.CancelledOrders),
			"updatedAt":       now,
		}, firestore.MergeAll); err != nil {
			return err
		}
	}
	return nil
}

// read fetches a snapshot inside the transaction and decodes it. A missing document becomes a
// repository not-found error.
func read[D any](t *txn, ref *firestore.DocumentRef, op string) (pfirestore.Document[D], error) {
	snap, err := t.tx.Get(ref)
	if err != nil {
		return pfirestore.Document[D]{}, pfirestore.WrapError(op, err)
	}
	return pfirestore.Decode[D](snap)
}

func (t *txn) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if p, ok := t.products[productID]; ok {
		return p.Clone(), nil
	}
	ref, err := t.r.products.DocumentRef(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := read[productDocument](t, ref, "products.get")
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data.toDomain(doc.ID)
	t.products[productID] = product
	return product.Clone(), nil
}

func (t *txn) PutProduct(ctx context.Context, product domain.Product) error {
	ref, err := t.r.products.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	t.products[product.ID] = product.Clone()
	t.stage(ref, newProductDocument(product))
	return nil
}

func (t *txn) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if c, ok := t.carts[userID]; ok {
		return c.Clone(), nil
	}
	ref, err := t.r.carts.DocumentRef(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := read[cartDocument](t, ref, "carts.get")
	if err != nil {
		return domain.Cart{}, err
	}
	cart := doc.Data.toDomain(doc.ID)
	t.carts[userID] = cart
	return cart.Clone(), nil
}

func (t *txn) PutCart(ctx context.Context, cart domain.Cart) error {
	ref, err := t.r.carts.DocumentRef(ctx, cart.UserID)
	if err != nil {
		return err
	}
	t.carts[cart.UserID] = cart.Clone()
	t.stage(ref, newCartDocument(cart))
	return nil
}

func (t *txn) GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error) {
	if c, ok := t.coupons[couponID]; ok {
		return c, nil
	}
	ref, err := t.r.coupons.DocumentRef(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	doc, err := read[couponDocument](t, ref, "coupons.get")
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon := doc.Data.toDomain(doc.ID)
	t.coupons[couponID] = coupon
	return coupon, nil
}

func (t *txn) PutCoupon(ctx context.Context, coupon domain.Coupon) error {
	ref, err := t.r.coupons.DocumentRef(ctx, coupon.ID)
	if err != nil {
		return err
	}
	t.coupons[coupon.ID] = coupon
	t.stage(ref, newCouponDocument(coupon))
	return nil
}

func couponUsageID(couponID, userID string) string {
	return strings.TrimSpace(couponID) + "_" + strings.TrimSpace(userID)
}

func (t *txn) HasCouponUsage(ctx context.Context, couponID, userID string) (bool, error) {
	id := couponUsageID(couponID, userID)
	if used, ok := t.usages[id]; ok {
		return used, nil
	}
	ref, err := t.r.couponUsages.DocumentRef(ctx, id)
	if err != nil {
		return false, err
	}
	_, err = read[couponUsageDocument](t, ref, "couponUsages.get")
	switch {
	case err == nil:
		t.usages[id] = true
		return true, nil
	case repositories.IsNotFound(err):
		t.usages[id] = false
		return false, nil
	default:
		return false, err
	}
}

func (t *txn) PutCouponUsage(ctx context.Context, usage domain.CouponUsage) error {
	id := couponUsageID(usage.CouponID, usage.UserID)
	ref, err := t.r.couponUsages.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	t.usages[id] = true
	t.stage(ref, couponUsageDocument{
		CouponID: usage.CouponID,
		UserID:   usage.UserID,
		OrderID:  usage.OrderID,
		UsedAt:   usage.UsedAt.UTC(),
	})
	return nil
}

func (t *txn) GetUser(ctx context.Context, userID string) (domain.User, error) {
	user, ok := t.users[userID]
	if !ok {
		ref, err := t.r.users.DocumentRef(ctx, userID)
		if err != nil {
			return domain.User{}, err
		}
		doc, err := read[userDocument](t, ref, "users.get")
		if err != nil {
			return domain.User{}, err
		}
		user = doc.Data.toDomain(doc.ID)
		t.users[userID] = user
	}
	if delta, ok := t.userDeltas[userID]; ok {
		user.OrdersCount += delta.OrdersCount
		user.ActiveOrders += delta.ActiveOrders
		user.CancelledOrders += delta.CancelledOrders
	}
	return user, nil
}

func (t *txn) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if o, ok := t.orders[orderID]; ok {
		return o.Clone(), nil
	}
	ref, err := t.r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := read[orderDocument](t, ref, "orders.get")
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)
	t.orders[orderID] = order
	return order.Clone(), nil
}

func (t *txn) PutOrder(ctx context.Context, order domain.Order) error {
	ref, err := t.r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	t.orders[order.ID] = order.Clone()
	t.stage(ref, newOrderDocument(order))
	return nil
}

func (t *txn) GetPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	if p, ok := t.payments[paymentID]; ok {
		return p.Clone(), nil
	}
	ref, err := t.r.payments.DocumentRef(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	doc, err := read[paymentDocument](t, ref, "payments.get")
	if err != nil {
		return domain.Payment{}, err
	}
	payment := doc.Data.toDomain(doc.ID)
	t.payments[paymentID] = payment
	return payment.Clone(), nil
}

func (t *txn) FindPaymentBySession(ctx context.Context, sessionID string) (domain.Payment, error) {
	return t.findPayment(ctx, "stripeSessionId", sessionID, func(p domain.Payment) string { return p.SessionID })
}

func (t *txn) FindPaymentByIntent(ctx context.Context, intentID string) (domain.Payment, error) {
	return t.findPayment(ctx, "paymentIntentId", intentID, func(p domain.Payment) string { return p.PaymentIntentID })
}

func (t *txn) findPayment(ctx context.Context, field, value string, key func(domain.Payment) string) (domain.Payment, error) {
	value = strings.TrimSpace(value)
	op := "payments.findBy" + field
	if value == "" {
		return domain.Payment{}, repositories.NewNotFound(op, field+" is required")
	}
	for _, p := range t.payments {
		if key(p) == value {
			return p.Clone(), nil
		}
	}

	client, err := t.r.provider.Client(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	query := client.Collection(paymentsCollection).Where(field, "==", value).Limit(1)
	iter := t.tx.Documents(query)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Payment{}, repositories.NewNotFound(op, fmt.Sprintf("no payment with %s %s", field, value))
	}
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError(op, err)
	}
	doc, err := pfirestore.Decode[paymentDocument](snap)
	if err != nil {
		return domain.Payment{}, err
	}
	if cached, ok := t.payments[doc.ID]; ok {
		return cached.Clone(), nil
	}
	payment := doc.Data.toDomain(doc.ID)
	t.payments[doc.ID] = payment
	return payment.Clone(), nil
}

func (t *txn) PutPayment(ctx context.Context, payment domain.Payment) error {
	ref, err := t.r.payments.DocumentRef(ctx, payment.ID)
	if err != nil {
		return err
	}
	t.payments[payment.ID] = payment.Clone()
	t.stage(ref, newPaymentDocument(payment))
	return nil
}

func (t *txn) ApplyStoreCounters(_ context.Context, storeID string, delta repositories.StoreCounterDelta) error {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return errors.New("store counters: store id is required")
	}
	current := t.storeDeltas[storeID]
	current.OrdersCount += delta.OrdersCount
	t.storeDeltas[storeID] = current
	return nil
}

func (t *txn) ApplyUserCounters(_ context.Context, userID string, delta repositories.UserCounterDelta) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user counters: user id is required")
	}
	current := t.userDeltas[userID]
	current.OrdersCount += delta.OrdersCount
	current.ActiveOrders += delta.ActiveOrders
	current.CancelledOrders += delta.CancelledOrders
	t.userDeltas[userID] = current
	return nil
}

var _ repositories.Tx = (*txn)(nil)
