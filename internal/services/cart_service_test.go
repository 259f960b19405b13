package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/repositories/memory"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newCartFixture(t *testing.T) (*memory.Registry, CartService) {
	t.Helper()
	reg := memory.NewRegistry()
	reg.SeedProduct(colorProduct(5))
	reg.SeedProduct(discountedProduct())
	svc, err := NewCartService(CartServiceDeps{
		UnitOfWork:  reg,
		Carts:       reg.Carts(),
		Clock:       func() time.Time { return pricingNow },
		IDGenerator: sequentialIDs("ci_"),
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return reg, svc
}

func TestNewCartServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); err == nil {
		t.Fatalf("expected error without unit of work")
	}
}

func TestCartAddItemMergesEquivalentLines(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()

	red := domain.VariantSelection{{Name: "Color", Value: "Red"}}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{ProductID: "prod_shirt", Quantity: 2, Variant: red}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{ProductID: "prod_shirt", Quantity: 1, Variant: red}})
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("expected merged line with qty 3, got %+v", cart.Items)
	}
	if cart.Items[0].Price != 60 || cart.Total != 180 || cart.TotalAfterDiscount != 180 {
		t.Fatalf("unexpected totals %+v", cart)
	}

	cart, err = svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{
		ProductID: "prod_shirt", Quantity: 1, Variant: domain.VariantSelection{{Name: "Color", Value: "Blue"}},
	}})
	if err != nil {
		t.Fatalf("add blue: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected a distinct line for a different selection, got %d", len(cart.Items))
	}
}

func TestCartAddItemFailsWithoutPartialUpdate(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()
	red := domain.VariantSelection{{Name: "Color", Value: "Red"}}

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{ProductID: "prod_shirt", Quantity: 4, Variant: red}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{ProductID: "prod_shirt", Quantity: 2, Variant: red}})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for merged quantity, got %v", err)
	}

	cart, err := svc.GetCart(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cart.Items[0].Quantity != 4 {
		t.Fatalf("expected cart to be unchanged, got qty %d", cart.Items[0].Quantity)
	}
}

func TestCartSetItemsAbortsOnAnyResolutionFailure(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()

	_, err := svc.SetItems(ctx, SetCartItemsCommand{UserID: "u1", Items: []CartItemInput{
		{ProductID: "prod_mug", Quantity: 1},
		{ProductID: "prod_shirt", Quantity: 1, Variant: domain.VariantSelection{{Name: "Color", Value: "Purple"}}},
	}})
	if !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	cart, err := svc.GetCart(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected no partial cart, got %+v", cart.Items)
	}

	cart, err = svc.SetItems(ctx, SetCartItemsCommand{UserID: "u1", Items: []CartItemInput{
		{ProductID: "prod_mug", Quantity: 2},
		{ProductID: "prod_mug", Quantity: 1},
	}})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 || cart.Total != 240 {
		t.Fatalf("expected duplicate inputs to merge at discounted price, got %+v", cart)
	}
}

func TestCartRemoveItemByLineID(t *testing.T) {
	_, svc := newCartFixture(t)
	ctx := context.Background()

	cart, err := svc.SetItems(ctx, SetCartItemsCommand{UserID: "u1", Items: []CartItemInput{
		{ProductID: "prod_shirt", Quantity: 1, Variant: domain.VariantSelection{{Name: "Color", Value: "Red"}}},
		{ProductID: "prod_shirt", Quantity: 1, Variant: domain.VariantSelection{{Name: "Color", Value: "Blue"}}},
	}})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	blueID := cart.Items[1].ID

	cart, err = svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "u1", ItemID: blueID})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Variant[0].Value != "Red" || cart.Total != 60 {
		t.Fatalf("unexpected cart after remove %+v", cart)
	}

	if _, err := svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "u1", ItemID: blueID}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestCartCouponIsRevalidatedOnEveryMutation(t *testing.T) {
	reg, svc := newCartFixture(t)
	ctx := context.Background()
	reg.SeedCoupon(baseCoupon())

	cart, err := svc.SetItems(ctx, SetCartItemsCommand{UserID: "u1", Items: []CartItemInput{
		{ProductID: "prod_mug", Quantity: 2},
	}})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	lineID := cart.Items[0].ID

	cart, err = svc.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "u1", CouponID: "cpn_1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cart.Discount != 15 || cart.TotalAfterDiscount != 145 {
		t.Fatalf("unexpected discount %+v", cart)
	}

	if _, err := svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "u1", ItemID: lineID}); !errors.Is(err, ErrCouponBelowMinimum) {
		t.Fatalf("expected coupon to block the mutation, got %v", err)
	}

	cart, err = svc.RemoveCoupon(ctx, "u1")
	if err != nil {
		t.Fatalf("remove coupon: %v", err)
	}
	if cart.CouponID != "" || cart.Discount != 0 || cart.TotalAfterDiscount != 160 {
		t.Fatalf("unexpected cart after coupon removal %+v", cart)
	}
}

func TestCartApplyCouponChecksPriorUsage(t *testing.T) {
	reg, svc := newCartFixture(t)
	ctx := context.Background()
	reg.SeedCoupon(baseCoupon())
	reg.SeedCouponUsage(domain.CouponUsage{CouponID: "cpn_1", UserID: "u1", OrderID: "ord_old"})

	if _, err := svc.SetItems(ctx, SetCartItemsCommand{UserID: "u1", Items: []CartItemInput{{ProductID: "prod_mug", Quantity: 2}}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "u1", CouponID: "cpn_1"}); !errors.Is(err, ErrCouponAlreadyUsed) {
		t.Fatalf("expected ErrCouponAlreadyUsed, got %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "u1", CouponID: "missing"}); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}

func TestCartDeleteIsSoftAndNextMutationStartsFresh(t *testing.T) {
	reg, svc := newCartFixture(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{ProductID: "prod_mug", Quantity: 1}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.DeleteCart(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stored, err := reg.Carts().GetCart(ctx, "u1")
	if err != nil {
		t.Fatalf("expected soft-deleted cart to remain stored: %v", err)
	}
	if !stored.Lifecycle.IsDeleted() {
		t.Fatalf("expected deleted lifecycle, got %q", stored.Lifecycle)
	}

	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "u1", Item: CartItemInput{ProductID: "prod_mug", Quantity: 1}})
	if err != nil {
		t.Fatalf("add after delete: %v", err)
	}
	if !cart.Lifecycle.IsActive() || len(cart.Items) != 1 {
		t.Fatalf("expected fresh active cart, got %+v", cart)
	}
}

func TestCartTotalAfterDiscountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("totalAfterDiscount = max(0, total - discount) after every mutation", prop.ForAll(
		func(quantities []int, couponValue int64) bool {
			reg := memory.NewRegistry()
			reg.SeedProduct(domain.Product{ID: "p", BasePrice: 7})
			reg.SeedCoupon(domain.Coupon{ID: "c", Code: "C", Type: domain.CouponTypeFixed, Value: couponValue, Active: true})
			svc, err := NewCartService(CartServiceDeps{UnitOfWork: reg, Carts: reg.Carts(), Clock: func() time.Time { return pricingNow }})
			if err != nil {
				return false
			}
			ctx := context.Background()
			cart, err := svc.ApplyCoupon(ctx, ApplyCouponCommand{UserID: "u", CouponID: "c"})
			if err != nil {
				return false
			}
			for _, qty := range quantities {
				cart, err = svc.AddItem(ctx, AddCartItemCommand{UserID: "u", Item: CartItemInput{ProductID: "p", Quantity: qty}})
				if err != nil {
					return false
				}
				if cart.TotalAfterDiscount != max(0, cart.Total-cart.Discount) || cart.Discount > cart.Total {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 9)),
		gen.Int64Range(0, 500),
	))

	properties.TestingRun(t)
}
