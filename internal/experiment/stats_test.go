package experiment

import (
	"math"
	"testing"
)

func TestZQuantile(t *testing.T) {
	cases := []struct {
		confidence float64
		want       float64
	}{
		{0.90, 1.2816},
		{0.95, 1.6449},
		{0.975, 1.9600},
		{0.99, 2.3263},
	}
	for _, tc := range cases {
		got := zQuantile(tc.confidence)
		if math.Abs(got-tc.want) > 1e-4 {
			t.Errorf("zQuantile(%v) = %.4f, want %.4f", tc.confidence, got, tc.want)
		}
	}

	if !math.IsNaN(zQuantile(0)) || !math.IsNaN(zQuantile(1)) {
		t.Error("zQuantile outside (0,1) should be NaN")
	}
}

func TestTwoProportionZ(t *testing.T) {
	// 30/100 vs 10/100: pooled p = 0.2, se = sqrt(.2*.8*.02) ~ 0.05657,
	// z = 0.20/0.05657 ~ 3.5355.
	z := twoProportionZ(30, 100, 10, 100)
	if math.Abs(z-3.5355) > 1e-3 {
		t.Errorf("z = %.4f, want ~3.5355", z)
	}

	// Symmetric inputs: identical rates give no signal.
	if z := twoProportionZ(20, 100, 20, 100); z != 0 {
		t.Errorf("z for equal rates = %v, want 0", z)
	}

	// Reversed arguments flip the sign.
	if z := twoProportionZ(10, 100, 30, 100); math.Abs(z+3.5355) > 1e-3 {
		t.Errorf("z reversed = %.4f, want ~-3.5355", z)
	}

	// Degenerate pools: both at 0% or both at 100% have zero variance.
	if z := twoProportionZ(0, 100, 0, 100); z != 0 {
		t.Errorf("z for zero conversions = %v, want 0", z)
	}
	if z := twoProportionZ(100, 100, 100, 100); z != 0 {
		t.Errorf("z for full conversion = %v, want 0", z)
	}

	// No traffic.
	if z := twoProportionZ(0, 0, 5, 100); z != 0 {
		t.Errorf("z with n1=0 = %v, want 0", z)
	}
}

func TestTwoProportionZ_MoreTrafficMoreConfidence(t *testing.T) {
	small := twoProportionZ(15, 100, 10, 100)
	large := twoProportionZ(150, 1000, 100, 1000)
	if large <= small {
		t.Errorf("z(1000 samples) = %.4f should exceed z(100 samples) = %.4f", large, small)
	}
}
