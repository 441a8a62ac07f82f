package domain

import "time"

// CompetitorListing is one observation of a competing listing for a product.
// Observations are append-only; the latest observation per competitor is
// authoritative for ranking, older ones are retained for audit.
type CompetitorListing struct {
	ID           string
	ProductID    string
	CompetitorID string
	Price        float64
	// Rating is the observed seller rating or sales-rank proxy, as reported
	// by the competitor observation feed.
	Rating       float64
	SalesRank    int
	FreeShipping bool
	ObservedAt   time.Time
}
