package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// ReferencePriceCache implements domain.ReferencePriceCache using Redis
// hashes. Each product's reference price is stored at key "refprice:{id}"
// with fields "price" and "ts" (Unix nanosecond timestamp). The experiment
// manager writes here when a test concludes; the pricing engine reads it as
// the anchor for subsequent proposals.
type ReferencePriceCache struct {
	rdb *redis.Client
}

// NewReferencePriceCache creates a ReferencePriceCache backed by the given Client.
func NewReferencePriceCache(c *Client) *ReferencePriceCache {
	return &ReferencePriceCache{rdb: c.Underlying()}
}

func refPriceKey(productID string) string {
	return "refprice:" + productID
}

// Set stores the reference price and timestamp for a product.
func (rc *ReferencePriceCache) Set(ctx context.Context, productID string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := rc.rdb.HSet(ctx, refPriceKey(productID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set reference price %s: %w", productID, err)
	}
	return nil
}

// Get retrieves the reference price and timestamp for a product.
// It returns domain.ErrNotFound when the key does not exist.
func (rc *ReferencePriceCache) Get(ctx context.Context, productID string) (float64, time.Time, error) {
	vals, err := rc.rdb.HGetAll(ctx, refPriceKey(productID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get reference price %s: %w", productID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse reference price %s: %w", productID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse reference price ts %s: %w", productID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Invalidate removes a product's reference price, e.g. after a cost change
// invalidates the experiment's conclusion.
func (rc *ReferencePriceCache) Invalidate(ctx context.Context, productID string) error {
	if err := rc.rdb.Del(ctx, refPriceKey(productID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate reference price %s: %w", productID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ReferencePriceCache = (*ReferencePriceCache)(nil)
