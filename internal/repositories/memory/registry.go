// Package memory provides a process-local repository registry for tests and local development.
// Transactions are serialised with a single mutex and stage their writes in an overlay that is
// discarded when the transaction function fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/platform/pagination"
	"github.com/hanko-field/marketplace/internal/repositories"
)

type state struct {
	products     map[string]domain.Product
	carts        map[string]domain.Cart
	coupons      map[string]domain.Coupon
	couponUsages map[string]domain.CouponUsage
	users        map[string]domain.User
	stores       map[string]domain.Store
	orders       map[string]domain.Order
	payments     map[string]domain.Payment
}

func newState() state {
	return state{
		products:     map[string]domain.Product{},
		carts:        map[string]domain.Cart{},
		coupons:      map[string]domain.Coupon{},
		couponUsages: map[string]domain.CouponUsage{},
		users:        map[string]domain.User{},
		stores:       map[string]domain.Store{},
		orders:       map[string]domain.Order{},
		payments:     map[string]domain.Payment{},
	}
}

// Registry implements repositories.Registry entirely in memory.
type Registry struct {
	mu    sync.Mutex
	data  state
	txErr func(op string) error
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{data: newState()}
}

var _ repositories.Registry = (*Registry)(nil)

func (r *Registry) Close(context.Context) error { return nil }
func (r *Registry) Ping(context.Context) error  { return nil }

func (r *Registry) Carts() repositories.CartRepository       { return cartRepo{r} }
func (r *Registry) Orders() repositories.OrderRepository     { return orderRepo{r} }
func (r *Registry) Payments() repositories.PaymentRepository { return paymentRepo{r} }

// FailWrites makes every subsequent transactional write for the given op (e.g. "PutOrder") fail
// with the supplied error. Passing nil clears the hook.
func (r *Registry) FailWrites(fn func(op string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txErr = fn
}

// RunInTx executes fn against a staged overlay and commits it only when fn succeeds.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{base: &r.data, staged: newState(), failWrite: r.txErr}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Seed helpers write directly to committed state.

func (r *Registry) SeedProduct(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.products[p.ID] = p.Clone()
}

func (r *Registry) SeedCoupon(c domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.coupons[c.ID] = c
}

func (r *Registry) SeedCouponUsage(u domain.CouponUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.couponUsages[usageKey(u.CouponID, u.UserID)] = u
}

func (r *Registry) SeedUser(u domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.users[u.ID] = u
}

func (r *Registry) SeedStore(s domain.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.stores[s.ID] = s
}

func (r *Registry) SeedCart(c domain.Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.carts[c.UserID] = c.Clone()
}

func (r *Registry) SeedOrder(o domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.orders[o.ID] = o.Clone()
}

func (r *Registry) SeedPayment(p domain.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.payments[p.ID] = p.Clone()
}

// Product returns the committed product snapshot.
func (r *Registry) Product(id string) (domain.Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.products[id]
	return p.Clone(), ok
}

// Store returns the committed store snapshot.
func (r *Registry) Store(id string) (domain.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data.stores[id]
	return s, ok
}

// User returns the committed user snapshot.
func (r *Registry) User(id string) (domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.data.users[id]
	return u, ok
}

// Coupon returns the committed coupon snapshot.
func (r *Registry) Coupon(id string) (domain.Coupon, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data.coupons[id]
	return c, ok
}

// Payment returns the committed payment snapshot.
func (r *Registry) Payment(id string) (domain.Payment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.payments[id]
	return p.Clone(), ok
}

// Order returns the committed order snapshot.
func (r *Registry) Order(id string) (domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data.orders[id]
	return o.Clone(), ok
}

type memTx struct {
	base      *state
	staged    state
	failWrite func(op string) error
}

func (t *memTx) write(op string) error {
	if t.failWrite == nil {
		return nil
	}
	return t.failWrite(op)
}

func (t *memTx) commit() {
	for k, v := range t.staged.products {
		t.base.products[k] = v
	}
	for k, v := range t.staged.carts {
		t.base.carts[k] = v
	}
	for k, v := range t.staged.coupons {
		t.base.coupons[k] = v
	}
	for k, v := range t.staged.couponUsages {
		t.base.couponUsages[k] = v
	}
	for k, v := range t.staged.users {
		t.base.users[k] = v
	}
	for k, v := range t.staged.stores {
		t.base.stores[k] = v
	}
	for k, v := range t.staged.orders {
		t.base.orders[k] = v
	}
	for k, v := range t.staged.payments {
		t.base.payments[k] = v
	}
}

func (t *memTx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	if p, ok := t.staged.products[id]; ok {
		return p.Clone(), nil
	}
	if p, ok := t.base.products[id]; ok {
		return p.Clone(), nil
	}
	return domain.Product{}, repositories.NewNotFound("products.get", "product "+id+" not found")
}

func (t *memTx) PutProduct(_ context.Context, p domain.Product) error {
	if err := t.write("PutProduct"); err != nil {
		return err
	}
	t.staged.products[p.ID] = p.Clone()
	return nil
}

func (t *memTx) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	if c, ok := t.staged.carts[userID]; ok {
		return c.Clone(), nil
	}
	if c, ok := t.base.carts[userID]; ok {
		return c.Clone(), nil
	}
	return domain.Cart{}, repositories.NewNotFound("carts.get", "cart for "+userID+" not found")
}

func (t *memTx) PutCart(_ context.Context, c domain.Cart) error {
	if err := t.write("PutCart"); err != nil {
		return err
	}
	t.staged.carts[c.UserID] = c.Clone()
	return nil
}

func (t *memTx) GetCoupon(_ context.Context, id string) (domain.Coupon, error) {
	if c, ok := t.staged.coupons[id]; ok {
		return c, nil
	}
	if c, ok := t.base.coupons[id]; ok {
		return c, nil
	}
	return domain.Coupon{}, repositories.NewNotFound("coupons.get", "coupon "+id+" not found")
}

func (t *memTx) PutCoupon(_ context.Context, c domain.Coupon) error {
	if err := t.write("PutCoupon"); err != nil {
		return err
	}
	t.staged.coupons[c.ID] = c
	return nil
}

func (t *memTx) HasCouponUsage(_ context.Context, couponID, userID string) (bool, error) {
	key := usageKey(couponID, userID)
	if _, ok := t.staged.couponUsages[key]; ok {
		return true, nil
	}
	_, ok := t.base.couponUsages[key]
	return ok, nil
}

func (t *memTx) PutCouponUsage(_ context.Context, u domain.CouponUsage) error {
	if err := t.write("PutCouponUsage"); err != nil {
		return err
	}
	t.staged.couponUsages[usageKey(u.CouponID, u.UserID)] = u
	return nil
}

func (t *memTx) GetUser(_ context.Context, id string) (domain.User, error) {
	if u, ok := t.staged.users[id]; ok {
		return u, nil
	}
	if u, ok := t.base.users[id]; ok {
		return u, nil
	}
	return domain.User{}, repositories.NewNotFound("users.get", "user "+id+" not found")
}

func (t *memTx) GetOrder(_ context.Context, id string) (domain.Order, error) {
	if o, ok := t.staged.orders[id]; ok {
		return o.Clone(), nil
	}
	if o, ok := t.base.orders[id]; ok {
		return o.Clone(), nil
	}
	return domain.Order{}, repositories.NewNotFound("orders.get", "order "+id+" not found")
}

func (t *memTx) PutOrder(_ context.Context, o domain.Order) error {
	if err := t.write("PutOrder"); err != nil {
		return err
	}
	t.staged.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	if p, ok := t.staged.payments[id]; ok {
		return p.Clone(), nil
	}
	if p, ok := t.base.payments[id]; ok {
		return p.Clone(), nil
	}
	return domain.Payment{}, repositories.NewNotFound("payments.get", "payment "+id+" not found")
}

func (t *memTx) findPayment(match func(domain.Payment) bool) (domain.Payment, bool) {
	for _, p := range t.staged.payments {
		if match(p) {
			return p.Clone(), true
		}
	}
	for id, p := range t.base.payments {
		if _, shadowed := t.staged.payments[id]; shadowed {
			continue
		}
		if match(p) {
			return p.Clone(), true
		}
	}
	return domain.Payment{}, false
}

func (t *memTx) FindPaymentBySession(_ context.Context, sessionID string) (domain.Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	if p, ok := t.findPayment(func(p domain.Payment) bool { return sessionID != "" && p.SessionID == sessionID }); ok {
		return p, nil
	}
	return domain.Payment{}, repositories.NewNotFound("payments.findBySession", "no payment for session "+sessionID)
}

func (t *memTx) FindPaymentByIntent(_ context.Context, intentID string) (domain.Payment, error) {
	intentID = strings.TrimSpace(intentID)
	if p, ok := t.findPayment(func(p domain.Payment) bool { return intentID != "" && p.PaymentIntentID == intentID }); ok {
		return p, nil
	}
	return domain.Payment{}, repositories.NewNotFound("payments.findByIntent", "no payment for intent "+intentID)
}

func (t *memTx) PutPayment(_ context.Context, p domain.Payment) error {
	if err := t.write("PutPayment"); err != nil {
		return err
	}
	t.staged.payments[p.ID] = p.Clone()
	return nil
}

func (t *memTx) ApplyStoreCounters(_ context.Context, storeID string, delta repositories.StoreCounterDelta) error {
	if err := t.write("ApplyStoreCounters"); err != nil {
		return err
	}
	store, ok := t.staged.stores[storeID]
	if !ok {
		store, ok = t.base.stores[storeID]
		if !ok {
			store = domain.Store{ID: storeID}
		}
	}
	store.OrdersCount += delta.OrdersCount
	t.staged.stores[storeID] = store
	return nil
}

func (t *memTx) ApplyUserCounters(_ context.Context, userID string, delta repositories.UserCounterDelta) error {
	if err := t.write("ApplyUserCounters"); err != nil {
		return err
	}
	user, ok := t.staged.users[userID]
	if !ok {
		user, ok = t.base.users[userID]
		if !ok {
			user = domain.User{ID: userID}
		}
	}
	user.OrdersCount += delta.OrdersCount
	user.ActiveOrders += delta.ActiveOrders
	user.CancelledOrders += delta.CancelledOrders
	t.staged.users[userID] = user
	return nil
}

func usageKey(couponID, userID string) string {
	return couponID + "::" + userID
}

type cartRepo struct{ r *Registry }

func (c cartRepo) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	cart, ok := c.r.data.carts[userID]
	if !ok {
		return domain.Cart{}, repositories.NewNotFound("carts.get", "cart for "+userID+" not found")
	}
	return cart.Clone(), nil
}

type orderRepo struct{ r *Registry }

func (o orderRepo) FindByID(_ context.Context, id string) (domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	order, ok := o.r.data.orders[id]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.get", "order "+id+" not found")
	}
	return order.Clone(), nil
}

func (o orderRepo) ListByUser(_ context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return o.list(filter, func(order domain.Order) bool { return order.UserID == userID })
}

func (o orderRepo) ListByStore(_ context.Context, storeID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return o.list(filter, func(order domain.Order) bool { return order.HasStore(storeID) })
}

func (o orderRepo) list(filter repositories.OrderListFilter, match func(domain.Order) bool) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, s := range filter.Status {
		statuses[s] = struct{}{}
	}

	o.r.mu.Lock()
	matched := make([]domain.Order, 0)
	for _, order := range o.r.data.orders {
		if !match(order) {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		matched = append(matched, order.Clone())
	}
	o.r.mu.Unlock()

	sortNewestFirst(matched, func(order domain.Order) (time.Time, string) { return order.CreatedAt, order.ID })
	items, next := page(matched, cursor, pagination.PageSize(filter.Pagination.PageSize),
		func(order domain.Order) (time.Time, string) { return order.CreatedAt, order.ID })
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (o orderRepo) MarkStoreDeleted(_ context.Context, storeID string, deletedAt time.Time) (int, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	count := 0
	for id, order := range o.r.data.orders {
		if order.StoreDeleted || !order.HasStore(storeID) {
			continue
		}
		order.StoreDeleted = true
		order.StoreDeletedAt = domain.TimePtr(deletedAt)
		order.UpdatedAt = deletedAt.UTC()
		o.r.data.orders[id] = order
		count++
	}
	return count, nil
}

type paymentRepo struct{ r *Registry }

func (p paymentRepo) FindByID(_ context.Context, id string) (domain.Payment, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	payment, ok := p.r.data.payments[id]
	if !ok {
		return domain.Payment{}, repositories.NewNotFound("payments.get", "payment "+id+" not found")
	}
	return payment.Clone(), nil
}

func (p paymentRepo) FindBySessionID(_ context.Context, sessionID string) (domain.Payment, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	for _, payment := range p.r.data.payments {
		if sessionID != "" && payment.SessionID == sessionID {
			return payment.Clone(), nil
		}
	}
	return domain.Payment{}, repositories.NewNotFound("payments.findBySession", "no payment for session "+sessionID)
}

func (p paymentRepo) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Payment], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, err
	}
	p.r.mu.Lock()
	matched := make([]domain.Payment, 0)
	for _, payment := range p.r.data.payments {
		if payment.UserID == userID {
			matched = append(matched, payment.Clone())
		}
	}
	p.r.mu.Unlock()

	key := func(payment domain.Payment) (time.Time, string) { return payment.CreatedAt, payment.ID }
	sortNewestFirst(matched, key)
	items, next := page(matched, cursor, pagination.PageSize(pager.PageSize), key)
	return domain.CursorPage[domain.Payment]{Items: items, NextPageToken: next}, nil
}

func sortNewestFirst[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi > idj
		}
		return ti.After(tj)
	})
}

func page[T any](items []T, cursor pagination.Cursor, size int, key func(T) (time.Time, string)) ([]T, string) {
	out := make([]T, 0, size)
	hasMore := false
	for _, item := range items {
		createdAt, id := key(item)
		if !cursor.After(createdAt, id) {
			continue
		}
		if len(out) == size {
			hasMore = true
			break
		}
		out = append(out, item)
	}
	if !hasMore || len(out) == 0 {
		return out, ""
	}
	createdAt, id := key(out[len(out)-1])
	token, _ := pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
	return out, token
}
