package domain

import (
	"sort"
	"strings"
	"time"
)

// Product is the catalog document holding pricing and per-option stock.
type Product struct {
	ID            string
	StoreID       string
	CategoryID    string
	Name          string
	Description   string
	Images        []string
	BasePrice     int64
	DiscountPrice *int64
	DiscountStart *time.Time
	DiscountEnd   *time.Time
	// Stock is the flat stock count for products without variants. Nil means untracked.
	Stock     *int64
	Variants  []Variant
	Lifecycle Lifecycle
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant groups the options for one attribute, e.g. "Color".
type Variant struct {
	Name      string
	Options   []VariantOption
	Lifecycle Lifecycle
}

// VariantOption is a concrete attribute value with its own price modifier and stock.
type VariantOption struct {
	Value         string
	PriceModifier int64
	// Stock is nil when the option does not track stock.
	Stock     *int64
	SKU       string
	Lifecycle Lifecycle
}

// HasActiveVariants reports whether any variant participates in pricing.
func (p Product) HasActiveVariants() bool {
	for _, v := range p.Variants {
		if v.Lifecycle.IsActive() {
			return true
		}
	}
	return false
}

// PrimaryImage returns the first product image or an empty string.
func (p Product) PrimaryImage() string {
	for _, img := range p.Images {
		if trimmed := strings.TrimSpace(img); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Clone returns a deep copy so that stock mutations do not leak into shared snapshots.
func (p Product) Clone() Product {
	dup := p
	if p.Images != nil {
		dup.Images = append([]string(nil), p.Images...)
	}
	dup.DiscountPrice = cloneInt64(p.DiscountPrice)
	dup.Stock = cloneInt64(p.Stock)
	if p.DiscountStart != nil {
		t := *p.DiscountStart
		dup.DiscountStart = &t
	}
	if p.DiscountEnd != nil {
		t := *p.DiscountEnd
		dup.DiscountEnd = &t
	}
	if p.Variants != nil {
		dup.Variants = make([]Variant, len(p.Variants))
		for i, v := range p.Variants {
			nv := v
			if v.Options != nil {
				nv.Options = make([]VariantOption, len(v.Options))
				for j, o := range v.Options {
					no := o
					no.Stock = cloneInt64(o.Stock)
					nv.Options[j] = no
				}
			}
			dup.Variants[i] = nv
		}
	}
	return dup
}

// FindOption locates an active option by variant name and exact value. The returned pointer
// aliases the product so callers can mutate stock in place.
func (p *Product) FindOption(name, value string) (*VariantOption, bool) {
	for i := range p.Variants {
		variant := &p.Variants[i]
		if variant.Name != name || !variant.Lifecycle.IsActive() {
			continue
		}
		for j := range variant.Options {
			option := &variant.Options[j]
			if option.Value == value && option.Lifecycle.IsActive() {
				return option, true
			}
		}
		return nil, false
	}
	return nil, false
}

// VariantAttribute is one {name, value} pair of a variant selection.
type VariantAttribute struct {
	Name  string
	Value string
}

// VariantSelection is the list of attributes a shopper picked for a line.
type VariantSelection []VariantAttribute

// Equal compares two selections as unordered sets.
func (s VariantSelection) Equal(other VariantSelection) bool {
	a := s.normalised()
	b := other.normalised()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone copies the selection.
func (s VariantSelection) Clone() VariantSelection {
	if s == nil {
		return nil
	}
	return append(VariantSelection(nil), s...)
}

func (s VariantSelection) normalised() []VariantAttribute {
	seen := make(map[VariantAttribute]struct{}, len(s))
	out := make([]VariantAttribute, 0, len(s))
	for _, attr := range s {
		if _, ok := seen[attr]; ok {
			continue
		}
		seen[attr] = struct{}{}
		out = append(out, attr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Value < out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// Int64Ptr is a small helper for optional numeric fields.
func Int64Ptr(v int64) *int64 {
	return &v
}
