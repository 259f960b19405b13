package services

import "testing"

func TestFlatRatePolicy(t *testing.T) {
	policy := DefaultPricingPolicy()

	charges := policy.CheckoutCharges(10000)
	if charges.ShippingFee != 5000 || charges.Tax != 200 {
		t.Fatalf("unexpected checkout charges %+v", charges)
	}

	charges = policy.EditCharges(49999)
	if charges.ShippingFee != 2000 || charges.Tax != 5000 {
		t.Fatalf("unexpected edit charges below threshold %+v", charges)
	}
	charges = policy.EditCharges(50000)
	if charges.ShippingFee != 0 || charges.Tax != 5000 {
		t.Fatalf("expected free shipping at threshold, got %+v", charges)
	}

	if got := basisPoints(0, 1000); got != 0 {
		t.Fatalf("expected zero tax on empty subtotal, got %d", got)
	}
}
