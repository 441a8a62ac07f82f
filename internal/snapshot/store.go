// Package snapshot holds the most recent observed competitor listings per
// product, with staleness tracking. Observations are appended by the
// competitor observation feed; the latest observation per competitor is
// authoritative for ranking while the full history stays available for
// audit.
package snapshot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// Result is the ranking view returned by Latest: the fresh latest listing
// per competitor sorted ascending by price, plus staleness accounting so the
// pricing engine can flag low-confidence proposals.
type Result struct {
	Listings []domain.CompetitorListing
	// Excluded is the number of competitors whose latest observation was
	// older than the configured max age.
	Excluded          int
	OldestExcludedAge time.Duration
}

// Prices returns the listing prices in ascending order.
func (r Result) Prices() []float64 {
	prices := make([]float64, len(r.Listings))
	for i, l := range r.Listings {
		prices[i] = l.Price
	}
	return prices
}

// productListings is the per-product observation state. Writes serialize on
// the per-product mutex; products never contend with each other.
type productListings struct {
	mu      sync.Mutex
	latest  map[string]domain.CompetitorListing
	history []domain.CompetitorListing
}

// Store is an in-memory competitor snapshot store. It is safe for
// concurrent use.
type Store struct {
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	products map[string]*productListings
}

// New creates a Store. Observations older than maxAge are excluded from
// Latest results; a non-positive maxAge disables the staleness check.
func New(maxAge time.Duration) *Store {
	return &Store{
		maxAge:   maxAge,
		now:      time.Now,
		products: make(map[string]*productListings),
	}
}

func (s *Store) product(id string) *productListings {
	s.mu.RLock()
	pl, ok := s.products[id]
	s.mu.RUnlock()
	if ok {
		return pl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pl, ok = s.products[id]; ok {
		return pl
	}
	pl = &productListings{latest: make(map[string]domain.CompetitorListing)}
	s.products[id] = pl
	return pl
}

// Record appends a new observation, superseding the same competitor's prior
// entry for ranking purposes. It rejects non-positive prices and
// observations older than the competitor's last seen timestamp; equal
// timestamps are accepted (non-decreasing invariant).
func (s *Store) Record(l domain.CompetitorListing) error {
	if l.Price <= 0 {
		return fmt.Errorf("%w: price %.4f for competitor %s", domain.ErrInvalidListing, l.Price, l.CompetitorID)
	}
	if l.ProductID == "" || l.CompetitorID == "" {
		return fmt.Errorf("%w: missing product or competitor id", domain.ErrInvalidListing)
	}

	pl := s.product(l.ProductID)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if prev, ok := pl.latest[l.CompetitorID]; ok && l.ObservedAt.Before(prev.ObservedAt) {
		return fmt.Errorf("%w: competitor %s observed %s before last %s",
			domain.ErrOutOfOrderListing, l.CompetitorID,
			l.ObservedAt.Format(time.RFC3339), prev.ObservedAt.Format(time.RFC3339))
	}

	pl.latest[l.CompetitorID] = l
	pl.history = append(pl.history, l)
	return nil
}

// Latest returns the most recent listing per distinct competitor, sorted
// ascending by price, excluding observations older than the configured max
// age. No listings present yields an empty result, not an error; downstream
// treats that as no competitive pressure.
func (s *Store) Latest(productID string) Result {
	s.mu.RLock()
	pl, ok := s.products[productID]
	s.mu.RUnlock()
	if !ok {
		return Result{}
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	now := s.now()
	var res Result
	for _, l := range pl.latest {
		if s.maxAge > 0 {
			if age := now.Sub(l.ObservedAt); age > s.maxAge {
				res.Excluded++
				if age > res.OldestExcludedAge {
					res.OldestExcludedAge = age
				}
				continue
			}
		}
		res.Listings = append(res.Listings, l)
	}

	sort.Slice(res.Listings, func(i, j int) bool {
		if res.Listings[i].Price != res.Listings[j].Price {
			return res.Listings[i].Price < res.Listings[j].Price
		}
		return res.Listings[i].CompetitorID < res.Listings[j].CompetitorID
	})
	return res
}

// History returns every recorded observation for a product in arrival
// order. Ranking never uses it; it exists for audit.
func (s *Store) History(productID string) []domain.CompetitorListing {
	s.mu.RLock()
	pl, ok := s.products[productID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	return append([]domain.CompetitorListing(nil), pl.history...)
}

// Forget drops all state for a product, used when the catalog delists it.
func (s *Store) Forget(productID string) {
	s.mu.Lock()
	delete(s.products, productID)
	s.mu.Unlock()
}
