package firestore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/marketplace/internal/domain"
	pfirestore "github.com/hanko-field/marketplace/internal/platform/firestore"
	"github.com/hanko-field/marketplace/internal/platform/pagination"
	"github.com/hanko-field/marketplace/internal/repositories"
)

// CartRepository reads cart documents outside a transaction.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
}

func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// OrderRepository serves order lookups and listings ordered by createdAt descending.
type OrderRepository struct {
	orders   *pfirestore.Collection[orderDocument]
	provider *pfirestore.Provider
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, filter, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID))
	})
}

func (r *OrderRepository) ListByStore(ctx context.Context, storeID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, filter, func(q firestore.Query) firestore.Query {
		return q.Where("storeIds", "array-contains", strings.TrimSpace(storeID))
	})
}

func (r *OrderRepository) list(ctx context.Context, filter repositories.OrderListFilter, scope pfirestore.QueryBuilder) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.PageSize(filter.Pagination.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = scope(q)
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		return pagedNewestFirst(q, cursor, size)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	items, next := trimPage(items, size, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

// MarkStoreDeleted flags every order that contains the store's items. Writes go through a
// BulkWriter because the affected set is unbounded.
func (r *OrderRepository) MarkStoreDeleted(ctx context.Context, storeID string, deletedAt time.Time) (int, error) {
	storeID = strings.TrimSpace(storeID)
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("storeIds", "array-contains", storeID).Where("storeDeleted", "==", false)
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	at := deletedAt.UTC()
	for _, doc := range docs {
		job, err := writer.Update(client.Collection(ordersCollection).Doc(doc.ID), []firestore.Update{
			{Path: "storeDeleted", Value: true},
			{Path: "storeDeletedAt", Value: at},
			{Path: "updatedAt", Value: at},
		})
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("orders.markStoreDeleted", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	updated := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return updated, pfirestore.WrapError("orders.markStoreDeleted", err)
		}
		updated++
	}
	return updated, nil
}

// PaymentRepository serves payment lookups outside a transaction.
type PaymentRepository struct {
	payments *pfirestore.Collection[paymentDocument]
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	doc, err := r.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *PaymentRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("stripeSessionId", "==", sessionID).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, repositories.NewNotFound("payments.findBySession", "no payment for session "+sessionID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Payment], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, err
	}
	size := pagination.PageSize(pager.PageSize)
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return pagedNewestFirst(q.Where("userId", "==", strings.TrimSpace(userID)), cursor, size)
	})
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, err
	}
	items := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	items, next := trimPage(items, size, func(p domain.Payment) (time.Time, string) { return p.CreatedAt, p.ID })
	return domain.CursorPage[domain.Payment]{Items: items, NextPageToken: next}, nil
}

// pagedNewestFirst orders by createdAt then document id, both descending, and fetches one extra
// row to detect a following page.
func pagedNewestFirst(q firestore.Query, cursor pagination.Cursor, size int) firestore.Query {
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	return q.Limit(size + 1)
}

func trimPage[T any](items []T, size int, key func(T) (time.Time, string)) ([]T, string) {
	if len(items) <= size {
		return items, ""
	}
	items = items[:size]
	createdAt, id := key(items[len(items)-1])
	token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return items, ""
	}
	return items, token
}
