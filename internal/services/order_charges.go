package services

// OrderCharges are the shipping and tax lines added on top of the discounted subtotal.
type OrderCharges struct {
	ShippingFee int64
	Tax         int64
}

// OrderPricingPolicy computes order charges at checkout and after a line edit.
type OrderPricingPolicy interface {
	CheckoutCharges(subtotal int64) OrderCharges
	EditCharges(subtotal int64) OrderCharges
}

// FlatRatePolicy charges a flat shipping fee and a percentage tax at checkout. Edits use a separate
// tax rate and waive shipping once the subtotal reaches FreeShippingThreshold.
type FlatRatePolicy struct {
	ShippingFee           int64
	TaxBasisPoints        int64
	EditTaxBasisPoints    int64
	EditShippingFee       int64
	FreeShippingThreshold int64
}

// DefaultPricingPolicy mirrors the config defaults.
func DefaultPricingPolicy() FlatRatePolicy {
	return FlatRatePolicy{
		ShippingFee:           5000,
		TaxBasisPoints:        200,
		EditTaxBasisPoints:    1000,
		EditShippingFee:       2000,
		FreeShippingThreshold: 50000,
	}
}

func (p FlatRatePolicy) CheckoutCharges(subtotal int64) OrderCharges {
	return OrderCharges{
		ShippingFee: p.ShippingFee,
		Tax:         basisPoints(subtotal, p.TaxBasisPoints),
	}
}

func (p FlatRatePolicy) EditCharges(subtotal int64) OrderCharges {
	shipping := p.EditShippingFee
	if p.FreeShippingThreshold > 0 && subtotal >= p.FreeShippingThreshold {
		shipping = 0
	}
	return OrderCharges{
		ShippingFee: shipping,
		Tax:         basisPoints(subtotal, p.EditTaxBasisPoints),
	}
}

// basisPoints returns amount × bp / 10000 rounded half up.
func basisPoints(amount, bp int64) int64 {
	if amount <= 0 || bp <= 0 {
		return 0
	}
	return (amount*bp + 5000) / 10000
}
