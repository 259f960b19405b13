package services

import (
	"fmt"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
)

// CouponContext is what the evaluator needs to know about the cart beyond its total.
type CouponContext struct {
	Total    int64
	Products []domain.Product
	// UsedByUser is true when the user already redeemed the coupon. Cart recomputation passes
	// false since usage is only recorded at checkout.
	UsedByUser bool
}

// EvaluateCoupon validates coupon against the cart and returns the discount in minor units. A nil
// coupon fails with ErrCouponNotFound.
func EvaluateCoupon(coupon *domain.Coupon, cart CouponContext, asOf time.Time) (int64, error) {
	if coupon == nil {
		return 0, ErrCouponNotFound
	}
	if !coupon.Active || coupon.Lifecycle.IsDeleted() {
		return 0, fmt.Errorf("%w: %s", ErrCouponInactive, coupon.Code)
	}
	if !coupon.ExpiryDate.IsZero() && asOf.After(coupon.ExpiryDate) {
		return 0, fmt.Errorf("%w: %s expired at %s", ErrCouponExpired, coupon.Code, coupon.ExpiryDate.Format(time.RFC3339))
	}
	if cart.Total < coupon.MinCartTotal {
		return 0, fmt.Errorf("%w: total %d, minimum %d", ErrCouponBelowMinimum, cart.Total, coupon.MinCartTotal)
	}
	if cart.UsedByUser {
		return 0, fmt.Errorf("%w: %s", ErrCouponAlreadyUsed, coupon.Code)
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return 0, fmt.Errorf("%w: %s", ErrCouponUsageLimitReached, coupon.Code)
	}
	if len(coupon.Scope) > 0 && !couponInScope(coupon.Scope, cart.Products) {
		return 0, fmt.Errorf("%w: %s", ErrCouponNotApplicable, coupon.Code)
	}
	return couponDiscount(*coupon, cart.Total), nil
}

func couponDiscount(coupon domain.Coupon, total int64) int64 {
	var discount int64
	switch coupon.Type {
	case domain.CouponTypeFixed:
		discount = min(coupon.Value, total)
	case domain.CouponTypePercentage:
		discount = (total*coupon.Value + 50) / 100
	default:
		return 0
	}
	if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
		discount = *coupon.MaxDiscount
	}
	return max(min(discount, total), 0)
}

func couponInScope(scope []domain.EntityRef, products []domain.Product) bool {
	for _, ref := range scope {
		for _, product := range products {
			switch {
			case ref.Matches(domain.EntityKindProduct, product.ID),
				ref.Matches(domain.EntityKindCategory, product.CategoryID),
				ref.Matches(domain.EntityKindStore, product.StoreID):
				return true
			}
		}
	}
	return false
}
