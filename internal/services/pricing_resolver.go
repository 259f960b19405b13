package services

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
)

// PriceResolution is the outcome of pricing one cart or order line.
type PriceResolution struct {
	UnitPrice int64
	SKU       string
}

// EffectiveBasePrice returns the discount price while the discount window is open at asOf, and the
// base price otherwise. Both window bounds are inclusive and both must be set.
func EffectiveBasePrice(product domain.Product, asOf time.Time) int64 {
	if product.DiscountPrice == nil || *product.DiscountPrice <= 0 {
		return product.BasePrice
	}
	if product.DiscountStart == nil || product.DiscountEnd == nil {
		return product.BasePrice
	}
	if asOf.Before(*product.DiscountStart) || asOf.After(*product.DiscountEnd) {
		return product.BasePrice
	}
	return *product.DiscountPrice
}

// ResolvePrice computes the unit price for quantity units of product with the given selection and
// validates availability. It never mutates product.
func ResolvePrice(product domain.Product, selection domain.VariantSelection, quantity int, asOf time.Time) (PriceResolution, error) {
	if quantity < 1 {
		return PriceResolution{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidSelection)
	}
	if product.Lifecycle.IsDeleted() {
		return PriceResolution{}, fmt.Errorf("%w: product %s is no longer available", ErrInvalidSelection, product.ID)
	}

	unit := EffectiveBasePrice(product, asOf)

	if !product.HasActiveVariants() {
		if product.Stock != nil && int64(quantity) > *product.Stock {
			return PriceResolution{}, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, *product.Stock)
		}
		return PriceResolution{UnitPrice: unit}, nil
	}

	if len(selection) == 0 {
		return PriceResolution{}, fmt.Errorf("%w: variant selection required", ErrInvalidSelection)
	}

	var (
		sku     string
		ceiling *int64
	)
	for _, attr := range selection {
		option, ok := product.FindOption(attr.Name, attr.Value)
		if !ok {
			return PriceResolution{}, fmt.Errorf("%w: %s=%s", ErrInvalidSelection, attr.Name, attr.Value)
		}
		unit += option.PriceModifier
		if option.Stock != nil && (ceiling == nil || *option.Stock < *ceiling) {
			available := *option.Stock
			ceiling = &available
		}
		if s := strings.TrimSpace(option.SKU); s != "" {
			sku = s
		}
	}

	if ceiling != nil && int64(quantity) > *ceiling {
		return PriceResolution{}, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, *ceiling)
	}
	return PriceResolution{UnitPrice: unit, SKU: sku}, nil
}
