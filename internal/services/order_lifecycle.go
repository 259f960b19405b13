package services

import (
	"context"
	"fmt"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/repositories"
)

var happyPathRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:           0,
	domain.OrderStatusProcessingPayment: 1,
	domain.OrderStatusPaid:              2,
	domain.OrderStatusProcessing:        3,
	domain.OrderStatusShipped:           4,
	domain.OrderStatusDelivered:         5,
}

// canTransitionOrder is the order state machine. Forward moves along the happy path may skip
// states; side states are entered from the happy path and left only in the listed directions.
func canTransitionOrder(from, to domain.OrderStatus) bool {
	if from == to {
		return true
	}
	if from == domain.OrderStatusCancelled {
		return false
	}

	switch to {
	case domain.OrderStatusCancelled:
		return from != domain.OrderStatusDelivered && from != domain.OrderStatusRefunded
	case domain.OrderStatusPaymentFailed:
		_, onPath := happyPathRank[from]
		return onPath && from != domain.OrderStatusDelivered
	case domain.OrderStatusRefunded:
		_, onPath := happyPathRank[from]
		return onPath || from == domain.OrderStatusPaymentFailed
	}

	switch from {
	case domain.OrderStatusPaymentFailed:
		switch to {
		case domain.OrderStatusPending, domain.OrderStatusProcessingPayment, domain.OrderStatusPaid:
			return true
		}
		return false
	case domain.OrderStatusRefunded:
		return false
	}

	fromRank, okFrom := happyPathRank[from]
	toRank, okTo := happyPathRank[to]
	return okFrom && okTo && toRank > fromRank
}

// transitionOrder moves order to target inside tx and applies the side effects tied to the edge:
// timestamps, payment completion on paid, stock release on payment_failed and on refunds of orders
// that never shipped, full compensation on cancelled, and re-reservation when payment_failed returns
// to the happy path. The caller persists the order.
func transitionOrder(ctx context.Context, tx repositories.Tx, order *domain.Order, target domain.OrderStatus, now time.Time) error {
	from := order.Status
	if from == target {
		return nil
	}
	if !canTransitionOrder(from, target) {
		return fmt.Errorf("%w: %s → %s", ErrOrderInvalidState, from, target)
	}

	if _, onPath := happyPathRank[target]; onPath && from == domain.OrderStatusPaymentFailed {
		if err := reserveReleasedLines(ctx, tx, order); err != nil {
			return err
		}
	}

	switch target {
	case domain.OrderStatusPaid:
		if order.PaidAt == nil {
			order.PaidAt = domain.TimePtr(now)
		}
		if err := completeLinkedPayment(ctx, tx, order, now); err != nil {
			return err
		}
	case domain.OrderStatusShipped:
		order.ShippedAt = domain.TimePtr(now)
	case domain.OrderStatusDelivered:
		order.DeliveredAt = domain.TimePtr(now)
	case domain.OrderStatusPaymentFailed:
		if err := releaseOrderStock(ctx, tx, order); err != nil {
			return err
		}
	case domain.OrderStatusRefunded:
		if order.ShippedAt == nil && order.DeliveredAt == nil {
			if err := releaseOrderStock(ctx, tx, order); err != nil {
				return err
			}
		}
	case domain.OrderStatusCancelled:
		if err := compensateCancellation(ctx, tx, order, now); err != nil {
			return err
		}
		order.CancelledAt = domain.TimePtr(now)
	}

	order.Status = target
	order.UpdatedAt = now
	return nil
}

// compensateCancellation undoes everything CreateOrder applied: stock, counters and the payment.
func compensateCancellation(ctx context.Context, tx repositories.Tx, order *domain.Order, now time.Time) error {
	if err := releaseOrderStock(ctx, tx, order); err != nil {
		return err
	}
	for _, storeID := range order.StoreIDs() {
		if err := tx.ApplyStoreCounters(ctx, storeID, repositories.StoreCounterDelta{OrdersCount: -1}); err != nil {
			return err
		}
	}
	if err := tx.ApplyUserCounters(ctx, order.UserID, repositories.UserCounterDelta{
		ActiveOrders:    -1,
		CancelledOrders: 1,
	}); err != nil {
		return err
	}
	return refundLinkedPayment(ctx, tx, order, now)
}

// releaseOrderStock returns the stock held by every line not yet released and marks it. Products
// that no longer exist are skipped.
func releaseOrderStock(ctx context.Context, tx repositories.Tx, order *domain.Order) error {
	products := make(map[string]*domain.Product)
	var touched []string
	for i := range order.Items {
		line := &order.Items[i]
		if line.StockReleased {
			continue
		}
		line.StockReleased = true
		if line.ReservedQuantity == 0 && line.FlatStockDebited == 0 {
			continue
		}
		product, err := loadProduct(ctx, tx, products, &touched, line.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			continue
		}
		Release(product, line.Variant, line.ReservedQuantity)
		if err := adjustFlatStock(product, int64(line.FlatStockDebited)); err != nil {
			return err
		}
	}
	return saveProducts(ctx, tx, products, touched)
}

// reserveReleasedLines takes back the stock releaseOrderStock returned.
func reserveReleasedLines(ctx context.Context, tx repositories.Tx, order *domain.Order) error {
	products := make(map[string]*domain.Product)
	var touched []string
	for i := range order.Items {
		line := &order.Items[i]
		if !line.StockReleased {
			continue
		}
		line.StockReleased = false
		if line.ReservedQuantity == 0 && line.FlatStockDebited == 0 {
			continue
		}
		product, err := loadProduct(ctx, tx, products, &touched, line.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("%w: product %s no longer exists", ErrInvalidSelection, line.ProductID)
		}
		if line.ReservedQuantity > 0 {
			if err := Reserve(product, line.Variant, line.ReservedQuantity); err != nil {
				return err
			}
		}
		if err := adjustFlatStock(product, -int64(line.FlatStockDebited)); err != nil {
			return err
		}
	}
	return saveProducts(ctx, tx, products, touched)
}

// resizeLineStock moves stock for a quantity edit on line and keeps the line's holding in step.
// Only units the line holds are ever given back. Released lines update the holding without touching
// stock, so leaving payment_failed takes the edited amount.
func resizeLineStock(product *domain.Product, line *domain.OrderItem, quantity int) error {
	delta := quantity - line.Quantity
	held := !line.StockReleased
	switch {
	case len(line.Variant) > 0:
		if delta > 0 {
			if !product.HasActiveVariants() {
				return nil
			}
			if held {
				if err := Reserve(product, line.Variant, delta); err != nil {
					return err
				}
			}
			line.ReservedQuantity += delta
			return nil
		}
		back := min(-delta, line.ReservedQuantity)
		if held {
			Release(product, line.Variant, back)
		}
		line.ReservedQuantity -= back
	case product.Stock != nil:
		if delta > 0 {
			if held {
				if err := adjustFlatStock(product, -int64(delta)); err != nil {
					return err
				}
			}
			line.FlatStockDebited += delta
			return nil
		}
		back := min(-delta, line.FlatStockDebited)
		if held {
			if err := adjustFlatStock(product, int64(back)); err != nil {
				return err
			}
		}
		line.FlatStockDebited -= back
	}
	return nil
}

func loadProduct(ctx context.Context, tx repositories.Tx, cache map[string]*domain.Product, order *[]string, productID string) (*domain.Product, error) {
	if product, ok := cache[productID]; ok {
		return product, nil
	}
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			cache[productID] = nil
			return nil, nil
		}
		return nil, err
	}
	cache[productID] = &product
	*order = append(*order, productID)
	return &product, nil
}

func saveProducts(ctx context.Context, tx repositories.Tx, products map[string]*domain.Product, ids []string) error {
	for _, id := range ids {
		if product := products[id]; product != nil {
			if err := tx.PutProduct(ctx, *product); err != nil {
				return err
			}
		}
	}
	return nil
}

func completeLinkedPayment(ctx context.Context, tx repositories.Tx, order *domain.Order, now time.Time) error {
	if order.PaymentID == "" {
		return nil
	}
	payment, err := tx.GetPayment(ctx, order.PaymentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil
		}
		return err
	}
	if payment.Status == domain.PaymentStatusCompleted {
		return nil
	}
	payment.Status = domain.PaymentStatusCompleted
	if payment.PaidAt == nil {
		payment.PaidAt = domain.TimePtr(now)
	}
	payment.UpdatedAt = now
	return tx.PutPayment(ctx, payment)
}

func refundLinkedPayment(ctx context.Context, tx repositories.Tx, order *domain.Order, now time.Time) error {
	if order.PaymentID == "" {
		return nil
	}
	payment, err := tx.GetPayment(ctx, order.PaymentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil
		}
		return err
	}
	switch payment.Status {
	case domain.PaymentStatusRefunded, domain.PaymentStatusExpired, domain.PaymentStatusFailed:
		return nil
	}
	payment.Status = domain.PaymentStatusRefunded
	payment.RefundedAt = domain.TimePtr(now)
	payment.UpdatedAt = now
	return tx.PutPayment(ctx, payment)
}
