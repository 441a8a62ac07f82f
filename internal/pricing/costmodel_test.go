package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/oscarmtz/pricebot/internal/domain"
)

func testProduct(cost float64) domain.Product {
	return domain.Product{
		ID:          "prod-1",
		SKU:         "SKU-1",
		Cost:        cost,
		WeightClass: "medium",
		TaxCategory: "standard",
	}
}

func testFees() FeeSchedule {
	return FeeSchedule{
		Commission:      0.10,
		ShippingByClass: map[string]float64{"medium": 2.0},
		TaxByCategory:   map[string]float64{"standard": 0.05},
	}
}

func TestComputeFloor_Reference(t *testing.T) {
	// cost=$10, commission=10%, shipping=$2, tax=5%
	// floor = 10/(1-0.10-0.05) + 2 = 13.7647...
	fr, err := ComputeFloor(testProduct(10), testFees())
	if err != nil {
		t.Fatalf("ComputeFloor failed: %v", err)
	}

	want := 10/(1-0.10-0.05) + 2
	if math.Abs(fr.Floor-want) > 1e-9 {
		t.Errorf("Floor = %.6f, want %.6f", fr.Floor, want)
	}
	if math.Abs(fr.Floor-13.7647) > 0.0001 {
		t.Errorf("Floor = %.4f, want ~13.7647", fr.Floor)
	}
	if fr.MarginAtFloor != 0 {
		t.Errorf("MarginAtFloor = %v, want exactly 0", fr.MarginAtFloor)
	}
	if m := fr.MarginAt(fr.Floor); math.Abs(m) > 1e-9 {
		t.Errorf("MarginAt(floor) = %v, want ~0", m)
	}
}

func TestComputeFloor_MarginAtFloorIsZero(t *testing.T) {
	cases := []struct {
		name       string
		cost       float64
		commission float64
		tax        float64
		shipping   float64
	}{
		{"no fees", 5, 0, 0, 0},
		{"commission only", 20, 0.13, 0, 0},
		{"all fees", 42.50, 0.16, 0.08, 3.25},
		{"heavy fees", 100, 0.45, 0.30, 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fees := FeeSchedule{
				Commission:      tc.commission,
				ShippingByClass: map[string]float64{"medium": tc.shipping},
				TaxByCategory:   map[string]float64{"standard": tc.tax},
			}
			fr, err := ComputeFloor(testProduct(tc.cost), fees)
			if err != nil {
				t.Fatalf("ComputeFloor failed: %v", err)
			}
			if m := fr.MarginAt(fr.Floor); math.Abs(m) > 1e-9 {
				t.Errorf("MarginAt(floor) = %v, want ~0", m)
			}
			if m := fr.MarginAt(fr.Floor * 1.2); m <= 0 {
				t.Errorf("MarginAt(1.2*floor) = %v, want > 0", m)
			}
			if m := fr.MarginAt(fr.Floor * 0.9); m >= 0 {
				t.Errorf("MarginAt(0.9*floor) = %v, want < 0", m)
			}
		})
	}
}

func TestComputeFloor_InvalidInputs(t *testing.T) {
	cases := []struct {
		name string
		cost float64
		fees FeeSchedule
	}{
		{"zero cost", 0, testFees()},
		{"negative cost", -5, testFees()},
		{"commission at 1", 10, FeeSchedule{Commission: 1.0}},
		{"negative commission", 10, FeeSchedule{Commission: -0.1}},
		{"fees consume revenue", 10, FeeSchedule{
			Commission:    0.60,
			TaxByCategory: map[string]float64{"standard": 0.45},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeFloor(testProduct(tc.cost), tc.fees)
			if !errors.Is(err, domain.ErrInvalidCostInput) {
				t.Errorf("ComputeFloor error = %v, want ErrInvalidCostInput", err)
			}
		})
	}
}

func TestComputeFloor_TieredCommission(t *testing.T) {
	fees := FeeSchedule{
		Tiers: []CommissionTier{
			{UpTo: 50, Rate: 0.15},
			{UpTo: 0, Rate: 0.10},
		},
		ShippingByClass: map[string]float64{"medium": 2.0},
	}

	// Cheap product: floor with the 15% band = 10/0.85 + 2 = 13.76, inside
	// the band, so the 15% rate applies.
	fr, err := ComputeFloor(testProduct(10), fees)
	if err != nil {
		t.Fatalf("ComputeFloor failed: %v", err)
	}
	if fr.Commission != 0.15 {
		t.Errorf("Commission = %v, want 0.15 (first band)", fr.Commission)
	}

	// Expensive product: floor with the 15% band = 100/0.85 + 2 = 119.6,
	// outside the band, so the open 10% band applies.
	fr, err = ComputeFloor(testProduct(100), fees)
	if err != nil {
		t.Fatalf("ComputeFloor failed: %v", err)
	}
	if fr.Commission != 0.10 {
		t.Errorf("Commission = %v, want 0.10 (open band)", fr.Commission)
	}
	want := 100/0.90 + 2
	if math.Abs(fr.Floor-want) > 1e-9 {
		t.Errorf("Floor = %.6f, want %.6f", fr.Floor, want)
	}
}

func TestPriceForMargin(t *testing.T) {
	fr, err := ComputeFloor(testProduct(10), testFees())
	if err != nil {
		t.Fatalf("ComputeFloor failed: %v", err)
	}

	// (10 + 2*0.85)/(0.85-0.40) = 26.0
	price, err := fr.PriceForMargin(0.40)
	if err != nil {
		t.Fatalf("PriceForMargin failed: %v", err)
	}
	if math.Abs(price-26.0) > 1e-9 {
		t.Errorf("PriceForMargin(0.40) = %.6f, want 26.0", price)
	}
	if m := fr.MarginAt(price); math.Abs(m-0.40) > 1e-9 {
		t.Errorf("MarginAt(%.2f) = %.6f, want 0.40", price, m)
	}

	// A margin at or beyond the net rate is unachievable.
	if _, err := fr.PriceForMargin(0.85); !errors.Is(err, domain.ErrInvalidCostInput) {
		t.Errorf("PriceForMargin(0.85) error = %v, want ErrInvalidCostInput", err)
	}
}

func TestFeeScheduleValidate(t *testing.T) {
	cases := []struct {
		name    string
		fees    FeeSchedule
		wantErr bool
	}{
		{"valid flat", testFees(), false},
		{"valid tiered", FeeSchedule{Tiers: []CommissionTier{{UpTo: 50, Rate: 0.15}, {UpTo: 0, Rate: 0.10}}}, false},
		{"commission out of range", FeeSchedule{Commission: 1.5}, true},
		{"negative shipping", FeeSchedule{ShippingByClass: map[string]float64{"a": -1}}, true},
		{"tax out of range", FeeSchedule{TaxByCategory: map[string]float64{"a": 1.0}}, true},
		{"non-ascending tiers", FeeSchedule{Tiers: []CommissionTier{{UpTo: 50, Rate: 0.15}, {UpTo: 40, Rate: 0.10}}}, true},
		{"open tier not last", FeeSchedule{Tiers: []CommissionTier{{UpTo: 0, Rate: 0.15}, {UpTo: 50, Rate: 0.10}}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fees.Validate()
			if tc.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}
