package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/oscarmtz/pricebot/internal/domain"
)

func testWeights() Weights {
	return Weights{Margin: 0.40, Competitiveness: 0.35, Quality: 0.25}
}

func mustScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(testWeights(), 0.10)
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}
	return s
}

func TestNewScorer_WeightValidation(t *testing.T) {
	cases := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"exact sum", Weights{0.40, 0.35, 0.25}, false},
		{"within epsilon", Weights{0.4, 0.35, 0.25 + 1e-12}, false},
		{"sum too low", Weights{0.40, 0.35, 0.10}, true},
		{"sum too high", Weights{0.50, 0.40, 0.30}, true},
		{"negative weight", Weights{1.2, -0.1, -0.1}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewScorer(tc.weights, 0.10)
			if tc.wantErr && !errors.Is(err, domain.ErrInvalidWeights) {
				t.Errorf("NewScorer error = %v, want ErrInvalidWeights", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("NewScorer error = %v, want nil", err)
			}
		})
	}
}

func TestScore_EmptyCompetitorsNeutral(t *testing.T) {
	s := mustScorer(t)

	_, b := s.Score(20, 13.76, 26, nil, 70)
	if b.Competitiveness != 50 {
		t.Errorf("Competitiveness = %v, want exactly 50 with no competitors", b.Competitiveness)
	}
}

func TestScore_MarginSubScore(t *testing.T) {
	s := mustScorer(t)
	floor, target := 10.0, 20.0

	cases := []struct {
		name  string
		price float64
		want  float64
	}{
		{"at floor", 10, 0},
		{"midpoint", 15, 50},
		{"at target", 20, 100},
		{"above target clamps", 25, 100},
		{"below floor clamps", 8, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, b := s.Score(tc.price, floor, target, nil, 0)
			if math.Abs(b.Margin-tc.want) > 1e-9 {
				t.Errorf("Margin sub-score = %v, want %v", b.Margin, tc.want)
			}
		})
	}
}

func TestScore_CompetitivenessSubScore(t *testing.T) {
	s := mustScorer(t)
	competitors := []float64{15, 16, 18}
	// median=16, maxPremium=10% -> decay cap at 17.6, full marks at <=15.

	cases := []struct {
		name  string
		price float64
		want  float64
	}{
		{"undercuts all", 14.85, 100},
		{"at lowest", 15, 100},
		{"between", 16, 100 * (17.6 - 16) / (17.6 - 15)},
		{"at cap", 17.6, 0},
		{"above cap", 19, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, b := s.Score(tc.price, 10, 30, competitors, 0)
			if math.Abs(b.Competitiveness-tc.want) > 1e-9 {
				t.Errorf("Competitiveness = %v, want %v", b.Competitiveness, tc.want)
			}
		})
	}
}

func TestScore_WeightedTotal(t *testing.T) {
	s := mustScorer(t)

	total, b := s.Score(15, 10, 20, []float64{15, 16, 18}, 80)
	want := 0.40*b.Margin + 0.35*b.Competitiveness + 0.25*b.Quality
	if math.Abs(total-want) > 1e-9 {
		t.Errorf("total = %v, want weighted sum %v", total, want)
	}
	if total < 0 || total > 100 {
		t.Errorf("total = %v outside [0,100]", total)
	}
}

func TestScore_QualityClamped(t *testing.T) {
	s := mustScorer(t)

	_, b := s.Score(15, 10, 20, nil, 140)
	if b.Quality != 100 {
		t.Errorf("Quality = %v, want clamped to 100", b.Quality)
	}
	_, b = s.Score(15, 10, 20, nil, -10)
	if b.Quality != 0 {
		t.Errorf("Quality = %v, want clamped to 0", b.Quality)
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{15, 16, 18}); got != 16 {
		t.Errorf("median(odd) = %v, want 16", got)
	}
	if got := median([]float64{15, 16, 18, 20}); got != 17 {
		t.Errorf("median(even) = %v, want 17", got)
	}
}
