package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/marketplace/internal/payments"
	"github.com/hanko-field/marketplace/internal/repositories"
)

var (
	// ErrInvalidSelection indicates a variant or option that does not exist or is no longer sold.
	ErrInvalidSelection = errors.New("pricing: invalid selection")
	// ErrInsufficientStock indicates a quantity above the availability ceiling.
	ErrInsufficientStock = errors.New("stock: insufficient stock")

	ErrCartInvalidInput  = errors.New("cart: invalid input")
	ErrCartItemNotFound  = errors.New("cart: item not found")
	ErrCartProductAbsent = errors.New("cart: product not found")
	ErrCartConflict      = errors.New("cart: conflict")

	ErrCouponNotFound          = errors.New("coupon: not found")
	ErrCouponInactive          = errors.New("coupon: inactive")
	ErrCouponExpired           = errors.New("coupon: expired")
	ErrCouponBelowMinimum      = errors.New("coupon: cart total below minimum")
	ErrCouponAlreadyUsed       = errors.New("coupon: already used")
	ErrCouponUsageLimitReached = errors.New("coupon: usage limit reached")
	ErrCouponNotApplicable     = errors.New("coupon: not applicable to cart")

	ErrOrderInvalidInput     = errors.New("order: invalid input")
	ErrOrderNotFound         = errors.New("order: not found")
	ErrOrderItemNotFound     = errors.New("order: item not found")
	ErrOrderForbidden        = errors.New("order: forbidden")
	ErrOrderEmptyCart        = errors.New("order: cart is empty")
	ErrOrderAlreadyCancelled = errors.New("order: already cancelled")
	ErrOrderInvalidState     = errors.New("order: invalid status transition")
	ErrOrderConflict         = errors.New("order: conflict")

	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	ErrPaymentNotFound     = errors.New("payment: not found")
	ErrPaymentForbidden    = errors.New("payment: forbidden")
	ErrPaymentExists       = errors.New("payment: already exists for order")
	ErrPaymentInvalidState = errors.New("payment: invalid status transition")
	ErrPaymentProvider     = errors.New("payment: provider failure")
)

// ErrorKind is the client-facing error taxonomy shared by every operation.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindBadRequest        ErrorKind = "bad_request"
	KindInvalidSelection  ErrorKind = "invalid_selection"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindForbidden         ErrorKind = "forbidden"
	KindConflict          ErrorKind = "conflict"
	KindUnavailable       ErrorKind = "unavailable"
	KindInternal          ErrorKind = "internal"
)

// Severity separates client-caused failures ("fail") from server-side ones ("error").
type Severity string

const (
	SeverityFail  Severity = "fail"
	SeverityError Severity = "error"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidSelection, KindInvalidSelection},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrCartInvalidInput, KindBadRequest},
	{ErrCartItemNotFound, KindNotFound},
	{ErrCartProductAbsent, KindNotFound},
	{ErrCartConflict, KindConflict},
	{ErrCouponNotFound, KindNotFound},
	{ErrCouponInactive, KindBadRequest},
	{ErrCouponExpired, KindBadRequest},
	{ErrCouponBelowMinimum, KindBadRequest},
	{ErrCouponAlreadyUsed, KindConflict},
	{ErrCouponUsageLimitReached, KindConflict},
	{ErrCouponNotApplicable, KindBadRequest},
	{ErrOrderInvalidInput, KindBadRequest},
	{ErrOrderNotFound, KindNotFound},
	{ErrOrderItemNotFound, KindNotFound},
	{ErrOrderForbidden, KindForbidden},
	{ErrOrderEmptyCart, KindBadRequest},
	{ErrOrderAlreadyCancelled, KindConflict},
	{ErrOrderInvalidState, KindConflict},
	{ErrOrderConflict, KindConflict},
	{ErrPaymentInvalidInput, KindBadRequest},
	{ErrPaymentNotFound, KindNotFound},
	{ErrPaymentForbidden, KindForbidden},
	{ErrPaymentExists, KindConflict},
	{ErrPaymentInvalidState, KindConflict},
	{ErrPaymentProvider, KindInternal},
	{payments.ErrInvalidSignature, KindBadRequest},
	{payments.ErrInvalidEvent, KindBadRequest},
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindBySentinel {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	switch {
	case repositories.IsNotFound(err):
		return KindNotFound
	case repositories.IsConflict(err):
		return KindConflict
	case repositories.IsUnavailable(err):
		return KindUnavailable
	}
	return KindInternal
}

// SeverityOf reports whether the kind is client-caused or server-caused.
func SeverityOf(kind ErrorKind) Severity {
	switch kind {
	case KindInternal, KindUnavailable:
		return SeverityError
	default:
		return SeverityFail
	}
}

// mapRepositoryError translates storage failures into the calling area's sentinels. Errors that
// already carry a sentinel pass through so transaction bodies can return them directly.
func mapRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal && !isBareRepositoryError(err) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("repository unavailable: %w", err)
		}
	}
	return err
}

func isBareRepositoryError(err error) bool {
	for _, entry := range kindBySentinel {
		if errors.Is(err, entry.err) {
			return false
		}
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr)
}
