// Package pricing implements the cost model, the listing scorer, and the
// pricing engine that turns competitor and cost inputs into a price, a
// score, and a publish/hold/experiment decision.
package pricing

import (
	"fmt"
	"math"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// CommissionTier is one price band of a tiered commission schedule. UpTo is
// the upper price bound of the band; a zero UpTo marks the open-ended top
// band.
type CommissionTier struct {
	UpTo float64
	Rate float64
}

// FeeSchedule holds the platform fee parameters used to derive the floor
// price: commission (flat or tiered by price band), shipping cost by weight
// class, and tax rate by category.
type FeeSchedule struct {
	// Commission is the flat commission rate as a fraction in [0,1). Ignored
	// when Tiers is non-empty.
	Commission float64
	// Tiers is the optional tiered commission schedule, ordered ascending by
	// UpTo with the last band open-ended.
	Tiers           []CommissionTier
	ShippingByClass map[string]float64
	TaxByCategory   map[string]float64
	// DefaultTax applies when the product's tax category has no entry.
	DefaultTax float64
}

// Validate checks the schedule for rates outside their legal ranges. It is
// called at startup; an invalid schedule is fatal.
func (f FeeSchedule) Validate() error {
	if err := checkRate("commission", f.Commission); err != nil {
		return err
	}
	prev := 0.0
	for i, t := range f.Tiers {
		if err := checkRate(fmt.Sprintf("commission tier %d", i), t.Rate); err != nil {
			return err
		}
		if t.UpTo != 0 && t.UpTo <= prev {
			return fmt.Errorf("%w: commission tier %d bound %.2f not ascending", domain.ErrInvalidCostInput, i, t.UpTo)
		}
		if t.UpTo == 0 && i != len(f.Tiers)-1 {
			return fmt.Errorf("%w: only the last commission tier may be open-ended", domain.ErrInvalidCostInput)
		}
		prev = t.UpTo
	}
	for class, cost := range f.ShippingByClass {
		if cost < 0 {
			return fmt.Errorf("%w: shipping cost for class %q is negative", domain.ErrInvalidCostInput, class)
		}
	}
	if f.DefaultTax < 0 || f.DefaultTax >= 1 {
		return fmt.Errorf("%w: default tax rate %.4f outside [0,1)", domain.ErrInvalidCostInput, f.DefaultTax)
	}
	for cat, rate := range f.TaxByCategory {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%w: tax rate %.4f for category %q outside [0,1)", domain.ErrInvalidCostInput, rate, cat)
		}
	}
	return nil
}

func checkRate(name string, rate float64) error {
	if rate < 0 || rate >= 1 {
		return fmt.Errorf("%w: %s rate %.4f outside [0,1)", domain.ErrInvalidCostInput, name, rate)
	}
	return nil
}

// Shipping returns the shipping cost for a weight class, 0 when unknown.
func (f FeeSchedule) Shipping(class string) float64 {
	return f.ShippingByClass[class]
}

// Tax returns the tax rate for a category, falling back to DefaultTax.
func (f FeeSchedule) Tax(category string) float64 {
	if rate, ok := f.TaxByCategory[category]; ok {
		return rate
	}
	return f.DefaultTax
}

// CommissionAt returns the commission rate applying to the given price.
func (f FeeSchedule) CommissionAt(price float64) float64 {
	if len(f.Tiers) == 0 {
		return f.Commission
	}
	for _, t := range f.Tiers {
		if t.UpTo == 0 || price <= t.UpTo {
			return t.Rate
		}
	}
	return f.Tiers[len(f.Tiers)-1].Rate
}

// FloorResult is the output of ComputeFloor: the minimum viable price and
// the margin function parameters the scorer and engine need.
type FloorResult struct {
	// Floor is the minimum price at which margin is non-negative.
	Floor float64
	// MarginAtFloor is exactly 0 by construction of the floor.
	MarginAtFloor float64
	Cost          float64
	Shipping      float64
	Commission    float64
	Tax           float64
	// netRate is 1 - commission - tax: the fraction of the shipping-adjusted
	// price that remains after platform fees and tax.
	netRate float64
}

// MarginAt returns the profit margin at the given price as a fraction of
// that price. Negative below the floor.
func (r FloorResult) MarginAt(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return ((price-r.Shipping)*r.netRate - r.Cost) / price
}

// PriceForMargin returns the price at which the margin fraction equals m.
// It fails when m is not achievable under the fee schedule (m >= netRate).
func (r FloorResult) PriceForMargin(m float64) (float64, error) {
	if m < 0 || m >= r.netRate {
		return 0, fmt.Errorf("%w: margin %.4f not achievable with net rate %.4f", domain.ErrInvalidCostInput, m, r.netRate)
	}
	return (r.Cost + r.Shipping*r.netRate) / (r.netRate - m), nil
}

// ComputeFloor derives the minimum viable price for a product under the fee
// schedule:
//
//	floor = cost/(1 - commission - tax) + shipping
//
// so that the margin at the floor is exactly zero. With a tiered commission
// schedule the band containing the resulting floor is used; the first band
// whose floor falls inside it wins, the open top band otherwise.
//
// ComputeFloor is a pure function: no side effects, no I/O.
func ComputeFloor(p domain.Product, fees FeeSchedule) (FloorResult, error) {
	if p.Cost <= 0 || math.IsNaN(p.Cost) || math.IsInf(p.Cost, 0) {
		return FloorResult{}, fmt.Errorf("%w: product %s cost %.4f must be > 0", domain.ErrInvalidCostInput, p.ID, p.Cost)
	}

	shipping := fees.Shipping(p.WeightClass)
	tax := fees.Tax(p.TaxCategory)

	rates := []float64{fees.Commission}
	if len(fees.Tiers) > 0 {
		rates = rates[:0]
		for _, t := range fees.Tiers {
			rates = append(rates, t.Rate)
		}
	}

	var result FloorResult
	for i, commission := range rates {
		if commission < 0 || commission >= 1 {
			return FloorResult{}, fmt.Errorf("%w: commission rate %.4f outside [0,1)", domain.ErrInvalidCostInput, commission)
		}
		net := 1 - commission - tax
		if net <= 0 {
			return FloorResult{}, fmt.Errorf("%w: commission %.4f + tax %.4f leave no revenue", domain.ErrInvalidCostInput, commission, tax)
		}

		floor := p.Cost/net + shipping
		result = FloorResult{
			Floor:      floor,
			Cost:       p.Cost,
			Shipping:   shipping,
			Commission: commission,
			Tax:        tax,
			netRate:    net,
		}

		if len(fees.Tiers) == 0 {
			break
		}
		// The floor must land in the band whose rate produced it. When no
		// band is self-consistent the open top band's result stands.
		if fees.Tiers[i].UpTo == 0 || floor <= fees.Tiers[i].UpTo {
			break
		}
	}

	return result, nil
}
