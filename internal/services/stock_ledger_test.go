package services

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	domain "github.com/hanko-field/marketplace/internal/domain"
)

func twoAxisProduct(red, large int64) domain.Product {
	return domain.Product{
		ID:        "prod_hoodie",
		BasePrice: 4000,
		Variants: []domain.Variant{
			{Name: "Color", Options: []domain.VariantOption{
				{Value: "Red", Stock: domain.Int64Ptr(red)},
			}},
			{Name: "Size", Options: []domain.VariantOption{
				{Value: "L", Stock: domain.Int64Ptr(large)},
				{Value: "XL"},
			}},
		},
	}
}

func optionStock(p domain.Product, variant, value string) int64 {
	option, ok := p.FindOption(variant, value)
	if !ok || option.Stock == nil {
		return -1
	}
	return *option.Stock
}

func TestReserveThenReleaseRestoresStock(t *testing.T) {
	product := twoAxisProduct(5, 7)
	selection := domain.VariantSelection{{Name: "Color", Value: "Red"}, {Name: "Size", Value: "L"}}

	if err := Reserve(&product, selection, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if optionStock(product, "Color", "Red") != 3 || optionStock(product, "Size", "L") != 5 {
		t.Fatalf("unexpected stock after reserve: red=%d large=%d", optionStock(product, "Color", "Red"), optionStock(product, "Size", "L"))
	}

	Release(&product, selection, 2)
	if optionStock(product, "Color", "Red") != 5 || optionStock(product, "Size", "L") != 7 {
		t.Fatalf("expected stock to be restored")
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	product := twoAxisProduct(5, 1)
	selection := domain.VariantSelection{{Name: "Color", Value: "Red"}, {Name: "Size", Value: "L"}}

	if err := Reserve(&product, selection, 2); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if optionStock(product, "Color", "Red") != 5 {
		t.Fatalf("red stock must be untouched when another option is short")
	}
}

func TestReserveBoundary(t *testing.T) {
	product := twoAxisProduct(3, 10)
	selection := domain.VariantSelection{{Name: "Color", Value: "Red"}}
	if err := Reserve(&product, selection, 4); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected stock+1 to fail, got %v", err)
	}
	if err := Reserve(&product, selection, 3); err != nil {
		t.Fatalf("expected exact stock to succeed: %v", err)
	}
	if optionStock(product, "Color", "Red") != 0 {
		t.Fatalf("expected stock to reach zero")
	}
}

func TestReserveSkipsUntrackedOptionsAndFlatProducts(t *testing.T) {
	product := twoAxisProduct(3, 3)
	if err := Reserve(&product, domain.VariantSelection{{Name: "Size", Value: "XL"}}, 100); err != nil {
		t.Fatalf("untracked option should not limit reservation: %v", err)
	}

	flat := domain.Product{ID: "prod_flat", Stock: domain.Int64Ptr(1)}
	if err := Reserve(&flat, nil, 5); err != nil {
		t.Fatalf("flat product is not reserved by the ledger: %v", err)
	}
	if *flat.Stock != 1 {
		t.Fatalf("flat stock must be untouched")
	}
}

func TestReleaseReachesDeletedOptionsAndSkipsMissing(t *testing.T) {
	product := twoAxisProduct(1, 1)
	product.Variants[0].Options[0].Lifecycle = domain.LifecycleDeleted

	Release(&product, domain.VariantSelection{{Name: "Color", Value: "Red"}, {Name: "Color", Value: "Gone"}}, 2)
	if got := *product.Variants[0].Options[0].Stock; got != 3 {
		t.Fatalf("expected deleted option to be credited, got %d", got)
	}
}

func TestStockNeverNegativeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stock stays non-negative across reserve and release", prop.ForAll(
		func(initial int64, ops []int) bool {
			product := twoAxisProduct(initial, initial+2)
			selection := domain.VariantSelection{{Name: "Color", Value: "Red"}, {Name: "Size", Value: "L"}}
			reserved := 0
			for _, op := range ops {
				switch {
				case op > 0:
					if err := Reserve(&product, selection, op); err == nil {
						reserved += op
					} else if !errors.Is(err, ErrInsufficientStock) {
						return false
					}
				case op < 0 && reserved >= -op:
					Release(&product, selection, -op)
					reserved += op
				}
				if optionStock(product, "Color", "Red") < 0 || optionStock(product, "Size", "L") < 0 {
					return false
				}
			}
			return optionStock(product, "Color", "Red") == initial-int64(reserved)
		},
		gen.Int64Range(0, 20),
		gen.SliceOf(gen.IntRange(-6, 6)),
	))

	properties.TestingRun(t)
}
