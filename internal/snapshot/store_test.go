package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func listing(product, competitor string, price float64, at time.Time) domain.CompetitorListing {
	return domain.CompetitorListing{
		ProductID:    product,
		CompetitorID: competitor,
		Price:        price,
		ObservedAt:   at,
	}
}

func newTestStore(maxAge time.Duration, now time.Time) *Store {
	s := New(maxAge)
	s.now = func() time.Time { return now }
	return s
}

func TestRecord_LatestPerCompetitor(t *testing.T) {
	s := newTestStore(0, base)

	if err := s.Record(listing("p1", "acme", 15.00, base.Add(-2*time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p1", "acme", 14.50, base.Add(-time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p1", "globex", 16.00, base.Add(-time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	res := s.Latest("p1")
	if len(res.Listings) != 2 {
		t.Fatalf("Latest returned %d listings, want 2", len(res.Listings))
	}
	if res.Listings[0].CompetitorID != "acme" || res.Listings[0].Price != 14.50 {
		t.Errorf("first listing = %s@%v, want acme@14.50 (newest observation wins)",
			res.Listings[0].CompetitorID, res.Listings[0].Price)
	}
	if res.Excluded != 0 {
		t.Errorf("Excluded = %d, want 0", res.Excluded)
	}
}

func TestRecord_RejectsInvalid(t *testing.T) {
	s := newTestStore(0, base)

	cases := []struct {
		name string
		l    domain.CompetitorListing
	}{
		{"zero price", listing("p1", "acme", 0, base)},
		{"negative price", listing("p1", "acme", -3, base)},
		{"missing product", listing("", "acme", 10, base)},
		{"missing competitor", listing("p1", "", 10, base)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Record(tc.l); !errors.Is(err, domain.ErrInvalidListing) {
				t.Errorf("Record error = %v, want ErrInvalidListing", err)
			}
		})
	}
}

func TestRecord_RejectsOutOfOrder(t *testing.T) {
	s := newTestStore(0, base)

	if err := s.Record(listing("p1", "acme", 15.00, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	err := s.Record(listing("p1", "acme", 14.00, base.Add(-time.Minute)))
	if !errors.Is(err, domain.ErrOutOfOrderListing) {
		t.Fatalf("Record error = %v, want ErrOutOfOrderListing", err)
	}

	// The stale observation must not have replaced the current one.
	res := s.Latest("p1")
	if len(res.Listings) != 1 || res.Listings[0].Price != 15.00 {
		t.Errorf("Latest = %+v, want the original 15.00 listing", res.Listings)
	}
}

func TestRecord_EqualTimestampAccepted(t *testing.T) {
	s := newTestStore(0, base)

	if err := s.Record(listing("p1", "acme", 15.00, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p1", "acme", 14.00, base)); err != nil {
		t.Fatalf("Record with equal timestamp failed: %v", err)
	}
	res := s.Latest("p1")
	if res.Listings[0].Price != 14.00 {
		t.Errorf("Latest price = %v, want 14.00 (equal timestamp supersedes)", res.Listings[0].Price)
	}
}

func TestLatest_SortedAscendingByPrice(t *testing.T) {
	s := newTestStore(0, base)

	for _, l := range []struct {
		comp  string
		price float64
	}{
		{"globex", 18.00},
		{"acme", 15.00},
		{"initech", 16.00},
		{"umbrella", 15.00},
	} {
		if err := s.Record(listing("p1", l.comp, l.price, base)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	res := s.Latest("p1")
	prices := res.Prices()
	want := []float64{15.00, 15.00, 16.00, 18.00}
	for i := range want {
		if prices[i] != want[i] {
			t.Fatalf("Prices() = %v, want %v", prices, want)
		}
	}
	// Equal prices tie-break on competitor ID for determinism.
	if res.Listings[0].CompetitorID != "acme" || res.Listings[1].CompetitorID != "umbrella" {
		t.Errorf("tie order = %s,%s, want acme,umbrella",
			res.Listings[0].CompetitorID, res.Listings[1].CompetitorID)
	}
}

func TestLatest_ExcludesStale(t *testing.T) {
	s := newTestStore(24*time.Hour, base)

	if err := s.Record(listing("p1", "acme", 15.00, base.Add(-time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p1", "globex", 14.00, base.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p1", "initech", 13.00, base.Add(-72*time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	res := s.Latest("p1")
	if len(res.Listings) != 1 || res.Listings[0].CompetitorID != "acme" {
		t.Fatalf("Latest = %+v, want only the fresh acme listing", res.Listings)
	}
	if res.Excluded != 2 {
		t.Errorf("Excluded = %d, want 2", res.Excluded)
	}
	if res.OldestExcludedAge != 72*time.Hour {
		t.Errorf("OldestExcludedAge = %v, want 72h", res.OldestExcludedAge)
	}
}

func TestLatest_UnknownProductEmpty(t *testing.T) {
	s := newTestStore(0, base)

	res := s.Latest("nope")
	if len(res.Listings) != 0 || res.Excluded != 0 {
		t.Errorf("Latest(unknown) = %+v, want empty result", res)
	}
}

func TestHistory_KeepsSupersededObservations(t *testing.T) {
	s := newTestStore(0, base)

	if err := s.Record(listing("p1", "acme", 15.00, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p1", "acme", 14.50, base.Add(time.Hour))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	h := s.History("p1")
	if len(h) != 2 {
		t.Fatalf("History returned %d entries, want 2", len(h))
	}
	if h[0].Price != 15.00 || h[1].Price != 14.50 {
		t.Errorf("History order = %v,%v, want 15.00,14.50", h[0].Price, h[1].Price)
	}
}

func TestForget(t *testing.T) {
	s := newTestStore(0, base)

	if err := s.Record(listing("p1", "acme", 15.00, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.Forget("p1")

	if res := s.Latest("p1"); len(res.Listings) != 0 {
		t.Errorf("Latest after Forget = %+v, want empty", res.Listings)
	}
	if h := s.History("p1"); h != nil {
		t.Errorf("History after Forget = %v, want nil", h)
	}
}

func TestStore_ProductsIsolated(t *testing.T) {
	s := newTestStore(0, base)

	if err := s.Record(listing("p1", "acme", 15.00, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(listing("p2", "acme", 99.00, base)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if res := s.Latest("p1"); res.Listings[0].Price != 15.00 {
		t.Errorf("p1 price = %v, want 15.00", res.Listings[0].Price)
	}
	if res := s.Latest("p2"); res.Listings[0].Price != 99.00 {
		t.Errorf("p2 price = %v, want 99.00", res.Listings[0].Price)
	}
}
