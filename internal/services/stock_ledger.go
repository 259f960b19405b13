package services

import (
	"fmt"

	domain "github.com/hanko-field/marketplace/internal/domain"
)

// Reserve decrements stock on every option matched by selection. All matched options are checked
// before any is decremented, so a shortfall leaves product untouched. Products without active
// variants are not tracked by the ledger.
func Reserve(product *domain.Product, selection domain.VariantSelection, quantity int) error {
	if product == nil {
		return fmt.Errorf("%w: product is required", ErrInvalidSelection)
	}
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidSelection)
	}
	if !product.HasActiveVariants() {
		return nil
	}

	options, err := matchOptions(product, selection)
	if err != nil {
		return err
	}
	qty := int64(quantity)
	for _, option := range options {
		if option.Stock != nil && *option.Stock < qty {
			return fmt.Errorf("%w: option %s has %d, need %d", ErrInsufficientStock, option.Value, *option.Stock, qty)
		}
	}
	for _, option := range options {
		if option.Stock != nil {
			*option.Stock -= qty
		}
	}
	return nil
}

// Release adds quantity back to every option matched by selection, including options soft-deleted
// since the reservation. Options that no longer exist are skipped.
func Release(product *domain.Product, selection domain.VariantSelection, quantity int) {
	if product == nil || quantity < 1 {
		return
	}
	for _, option := range releaseTargets(product, selection) {
		if option.Stock != nil {
			*option.Stock += int64(quantity)
		}
	}
}

func matchOptions(product *domain.Product, selection domain.VariantSelection) ([]*domain.VariantOption, error) {
	seen := make(map[*domain.VariantOption]struct{}, len(selection))
	out := make([]*domain.VariantOption, 0, len(selection))
	for _, attr := range selection {
		option, ok := product.FindOption(attr.Name, attr.Value)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidSelection, attr.Name, attr.Value)
		}
		if _, dup := seen[option]; dup {
			continue
		}
		seen[option] = struct{}{}
		out = append(out, option)
	}
	return out, nil
}

func releaseTargets(product *domain.Product, selection domain.VariantSelection) []*domain.VariantOption {
	seen := make(map[*domain.VariantOption]struct{}, len(selection))
	out := make([]*domain.VariantOption, 0, len(selection))
	for _, attr := range selection {
		for i := range product.Variants {
			variant := &product.Variants[i]
			if variant.Name != attr.Name {
				continue
			}
			for j := range variant.Options {
				option := &variant.Options[j]
				if option.Value != attr.Value {
					continue
				}
				if _, dup := seen[option]; !dup {
					seen[option] = struct{}{}
					out = append(out, option)
				}
			}
		}
	}
	return out
}

// adjustFlatStock applies delta to the flat stock of an untracked-variant product. A negative
// delta that would drive stock below zero fails with ErrInsufficientStock.
func adjustFlatStock(product *domain.Product, delta int64) error {
	if product == nil || product.Stock == nil || delta == 0 {
		return nil
	}
	if *product.Stock+delta < 0 {
		return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, -delta, *product.Stock)
	}
	*product.Stock += delta
	return nil
}
