package domain

import "math"

// roundingEpsilon offsets binary representation error before rounding to cents.
const roundingEpsilon = 2.220446049250313e-16

const (
	// DefaultFreeShippingThreshold is the items price above which shipping is free.
	DefaultFreeShippingThreshold = 200.0
	// DefaultFlatShippingFee applies when the items price does not exceed the threshold.
	DefaultFlatShippingFee = 15.0
	// DefaultTaxRate is applied to the items price.
	DefaultTaxRate = 0.15
)

// Round2 rounds x to two decimal places, half away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100+roundingEpsilon) / 100
}

// PriceBreakdown is derived from cart contents and never stored on its own.
type PriceBreakdown struct {
	ItemsPrice    float64 `json:"itemsPrice"`
	ShippingPrice float64 `json:"shippingPrice"`
	TaxPrice      float64 `json:"taxPrice"`
	TotalPrice    float64 `json:"totalPrice"`
}

// Equal reports whether both breakdowns agree to the cent.
func (b PriceBreakdown) Equal(other PriceBreakdown) bool {
	return Round2(b.ItemsPrice) == Round2(other.ItemsPrice) &&
		Round2(b.ShippingPrice) == Round2(other.ShippingPrice) &&
		Round2(b.TaxPrice) == Round2(other.TaxPrice) &&
		Round2(b.TotalPrice) == Round2(other.TotalPrice)
}

// PricingPolicy holds the configurable shipping and tax constants.
type PricingPolicy struct {
	FreeShippingThreshold float64
	FlatShippingFee       float64
	TaxRate               float64
}

// DefaultPricingPolicy returns the standard storefront pricing constants.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
		TaxRate:               DefaultTaxRate,
	}
}

// Compute derives the breakdown for the given line items. Shipping is free only when the
// items price is strictly greater than the threshold.
func (p PricingPolicy) Compute(items []LineItem) PriceBreakdown {
	var sum float64
	for _, item := range items {
		sum += float64(item.Quantity) * item.Price
	}
	return p.fromItemsPrice(Round2(sum))
}

// ComputeOrderItems derives the breakdown for frozen order lines.
func (p PricingPolicy) ComputeOrderItems(items []OrderItem) PriceBreakdown {
	var sum float64
	for _, item := range items {
		sum += float64(item.Quantity) * item.Price
	}
	return p.fromItemsPrice(Round2(sum))
}

func (p PricingPolicy) fromItemsPrice(itemsPrice float64) PriceBreakdown {
	shipping := p.FlatShippingFee
	if itemsPrice > p.FreeShippingThreshold {
		shipping = 0
	}
	tax := Round2(itemsPrice * p.TaxRate)
	return PriceBreakdown{
		ItemsPrice:    itemsPrice,
		ShippingPrice: shipping,
		TaxPrice:      tax,
		TotalPrice:    Round2(itemsPrice + shipping + tax),
	}
}
