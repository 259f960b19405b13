package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/marketplace/internal/platform/firestore"
	"github.com/hanko-field/marketplace/internal/repositories"
)

// Registry wires the Firestore-backed repositories and the transactional unit of work.
type Registry struct {
	provider *pfirestore.Provider
	txOpts   []pfirestore.TxOption

	products     *pfirestore.Collection[productDocument]
	carts        *pfirestore.Collection[cartDocument]
	coupons      *pfirestore.Collection[couponDocument]
	couponUsages *pfirestore.Collection[couponUsageDocument]
	users        *pfirestore.Collection[userDocument]
	stores       *pfirestore.Collection[map[string]any]
	orders       *pfirestore.Collection[orderDocument]
	payments     *pfirestore.Collection[paymentDocument]
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the registry on top of a lazily initialised provider.
func NewRegistry(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires firestore provider")
	}
	return &Registry{
		provider:     provider,
		txOpts:       txOpts,
		products:     pfirestore.NewCollection[productDocument](provider, productsCollection),
		carts:        pfirestore.NewCollection[cartDocument](provider, cartsCollection),
		coupons:      pfirestore.NewCollection[couponDocument](provider, couponsCollection),
		couponUsages: pfirestore.NewCollection[couponUsageDocument](provider, couponUsagesCollection),
		users:        pfirestore.NewCollection[userDocument](provider, usersCollection),
		stores:       pfirestore.NewCollection[map[string]any](provider, storesCollection),
		orders:       pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		payments:     pfirestore.NewCollection[paymentDocument](provider, paymentsCollection),
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Ping(ctx context.Context) error  { return r.provider.Ping(ctx) }

func (r *Registry) Carts() repositories.CartRepository       { return &CartRepository{carts: r.carts} }
func (r *Registry) Orders() repositories.OrderRepository     { return &OrderRepository{orders: r.orders, provider: r.provider} }
func (r *Registry) Payments() repositories.PaymentRepository { return &PaymentRepository{payments: r.payments} }

// RunInTx runs fn inside a Firestore transaction. Writes issued through the Tx are buffered and
// flushed after fn returns, so every read precedes every write as Firestore requires. The whole
// function is retried on contention.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		t := newTxn(r, tx)
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.flush(ctx)
	}, r.txOpts...)
}
