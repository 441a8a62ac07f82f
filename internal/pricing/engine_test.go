package pricing

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/snapshot"
)

func testPolicy() Policy {
	return Policy{
		TargetMargin:        0.40,
		MinMargin:           0.30,
		PublishThreshold:    80,
		ExperimentBand:      15,
		UndercutBps:         100,
		ExperimentSpreadBps: 300,
	}
}

func mustEngine(t *testing.T, policy Policy) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := NewEngine(testFees(), testWeights(), 0.10, policy, logger)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func snapshotOf(prices ...float64) snapshot.Result {
	res := snapshot.Result{}
	for i, p := range prices {
		res.Listings = append(res.Listings, domain.CompetitorListing{
			ProductID:    "prod-1",
			CompetitorID: string(rune('a' + i)),
			Price:        p,
			ObservedAt:   time.Now(),
		})
	}
	return res
}

func TestNewEngine_RejectsInvalidPolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bad := testPolicy()
	bad.TargetMargin = 1.5
	if _, err := NewEngine(testFees(), testWeights(), 0.10, bad, logger); err == nil {
		t.Error("NewEngine accepted target margin > 1")
	}

	if _, err := NewEngine(testFees(), Weights{0.5, 0.5, 0.5}, 0.10, testPolicy(), logger); err == nil {
		t.Error("NewEngine accepted weights not summing to 1")
	}

	if _, err := NewEngine(FeeSchedule{Commission: 1.2}, testWeights(), 0.10, testPolicy(), logger); err == nil {
		t.Error("NewEngine accepted commission rate outside [0,1)")
	}
}

func TestPropose_UndercutsLowestCompetitor(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)
	p.QualityScore = 90

	prop, err := e.Propose(Inputs{Product: p, Snapshot: snapshotOf(15, 16, 18)})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	// min(target-margin price 26.00, 1% undercut of 15.00) = 14.85
	if prop.Price != 14.85 {
		t.Errorf("Price = %v, want 14.85", prop.Price)
	}
	if prop.Price < prop.Floor {
		t.Errorf("Price %v below floor %v", prop.Price, prop.Floor)
	}
	if prop.CompetitorCount != 3 {
		t.Errorf("CompetitorCount = %d, want 3", prop.CompetitorCount)
	}
	if prop.Clamped {
		t.Error("Clamped = true, want false")
	}
	// Thin margin at the undercut price keeps this from publishing.
	if prop.Decision == domain.DecisionPublish {
		t.Errorf("Decision = %s with margin %.4f, want no publish", prop.Decision, prop.Margin)
	}
}

func TestPropose_PublishAtThreshold(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)
	p.QualityScore = 95

	// No competitive pressure: price off the cost model at target margin.
	prop, err := e.Propose(Inputs{Product: p})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if prop.Price != 26.00 {
		t.Errorf("Price = %v, want target-margin price 26.00", prop.Price)
	}
	if prop.Breakdown.Competitiveness != 50 {
		t.Errorf("Competitiveness = %v, want neutral 50", prop.Breakdown.Competitiveness)
	}
	// margin=100, comp=50, quality=95 -> 0.4*100+0.35*50+0.25*95 = 81.25
	if math.Abs(prop.Score-81.25) > 1e-9 {
		t.Errorf("Score = %v, want 81.25", prop.Score)
	}
	if prop.Decision != domain.DecisionPublish {
		t.Errorf("Decision = %s, want publish", prop.Decision)
	}
	if math.Abs(prop.Margin-0.40) > 1e-9 {
		t.Errorf("Margin = %v, want 0.40", prop.Margin)
	}
}

func TestPropose_ExperimentBand(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)
	p.QualityScore = 50

	prop, err := e.Propose(Inputs{Product: p, Snapshot: snapshotOf(20)})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if prop.Decision != domain.DecisionExperiment {
		t.Fatalf("Decision = %s (score %.2f), want experiment", prop.Decision, prop.Score)
	}
	if len(prop.Variants) < 2 {
		t.Fatalf("Variants = %d, want at least 2", len(prop.Variants))
	}

	var weightSum float64
	seen := make(map[float64]bool)
	for _, v := range prop.Variants {
		if v.Price < prop.Floor {
			t.Errorf("variant price %v below floor %v", v.Price, prop.Floor)
		}
		if seen[v.Price] {
			t.Errorf("duplicate variant price %v", v.Price)
		}
		seen[v.Price] = true
		weightSum += v.Weight
	}
	if math.Abs(weightSum-1) > 1e-9 {
		t.Errorf("variant weights sum to %v, want 1.0", weightSum)
	}
	if !seen[prop.Price] {
		t.Errorf("variants %v do not include the candidate price %v", prop.Variants, prop.Price)
	}
}

func TestPropose_ClampsToFloor(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)

	// Competitor below our floor: the undercut would be loss-making.
	prop, err := e.Propose(Inputs{Product: p, Snapshot: snapshotOf(13.00)})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if !prop.Clamped {
		t.Error("Clamped = false, want true")
	}
	if prop.Price < prop.Floor {
		t.Errorf("Price %v below floor %v after clamp", prop.Price, prop.Floor)
	}
	if prop.Price != 13.77 {
		t.Errorf("Price = %v, want floor rounded up to 13.77", prop.Price)
	}
	if prop.Margin < 0 {
		t.Errorf("Margin = %v, want >= 0", prop.Margin)
	}
}

func TestPropose_NeverBelowFloor(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)

	competitorSets := [][]float64{
		nil,
		{0.01},
		{5, 6, 7},
		{13.76},
		{13.77},
		{14, 15, 16, 17, 18},
		{100, 200},
	}

	for _, prices := range competitorSets {
		prop, err := e.Propose(Inputs{Product: p, Snapshot: snapshotOf(prices...)})
		if err != nil {
			t.Fatalf("Propose(%v) failed: %v", prices, err)
		}
		if prop.Price < prop.Floor {
			t.Errorf("Propose(%v): price %v below floor %v", prices, prop.Price, prop.Floor)
		}
	}
}

func TestPropose_Deterministic(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)
	p.QualityScore = 90
	in := Inputs{Product: p, Snapshot: snapshotOf(15, 16, 18)}

	a, err := e.Propose(in)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	b, err := e.Propose(in)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if a.Price != b.Price || a.Score != b.Score || a.Decision != b.Decision {
		t.Errorf("identical inputs diverged: (%v,%v,%s) vs (%v,%v,%s)",
			a.Price, a.Score, a.Decision, b.Price, b.Score, b.Decision)
	}
	if a.Breakdown != b.Breakdown {
		t.Errorf("breakdowns diverged: %+v vs %+v", a.Breakdown, b.Breakdown)
	}
}

func TestPropose_ReferencePriceAnchors(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)
	p.QualityScore = 95
	ref := 17.0

	prop, err := e.Propose(Inputs{Product: p, ReferencePrice: &ref})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	if prop.Price != 17.00 {
		t.Errorf("Price = %v, want experiment-derived 17.00", prop.Price)
	}
	if prop.ReferencePrice == nil || *prop.ReferencePrice != 17.0 {
		t.Errorf("ReferencePrice = %v, want 17.0", prop.ReferencePrice)
	}
}

func TestPropose_ReferencePriceClampedToFloor(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)
	ref := 5.0

	prop, err := e.Propose(Inputs{Product: p, ReferencePrice: &ref})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if prop.Price < prop.Floor {
		t.Errorf("Price %v below floor %v", prop.Price, prop.Floor)
	}
}

func TestPropose_FlagsStaleData(t *testing.T) {
	e := mustEngine(t, testPolicy())
	p := testProduct(10)

	snap := snapshotOf(15, 16)
	snap.Excluded = 2
	snap.OldestExcludedAge = 48 * time.Hour

	prop, err := e.Propose(Inputs{Product: p, Snapshot: snap})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if !prop.LowConfidence {
		t.Error("LowConfidence = false, want true when observations were excluded")
	}
}

func TestPropose_InvalidCost(t *testing.T) {
	e := mustEngine(t, testPolicy())

	if _, err := e.Propose(Inputs{Product: testProduct(0)}); err == nil {
		t.Error("Propose accepted zero cost")
	}
}
