// Package marketdata is the engine's read-only window onto the market-data
// service: it resolves a reference price for a symbol from the latest-quote
// keys the feed writes to the shared Redis.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Quote is the payload stored at quote:latest:<symbol>.
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"` // unix seconds
}

// Reader fetches reference prices. It never writes market data.
type Reader struct {
	client *goredis.Client
	maxAge time.Duration
}

// NewReader wraps an existing Redis client. Quotes older than maxAge are
// rejected (0 disables the staleness check).
func NewReader(client *goredis.Client, maxAge time.Duration) *Reader {
	return &Reader{client: client, maxAge: maxAge}
}

// LastPrice returns the latest quote for symbol. Accepts either the JSON
// quote payload or a bare number, since older feed versions wrote the raw
// price.
func (r *Reader) LastPrice(ctx context.Context, symbol string) (float64, error) {
	raw, err := r.client.Get(ctx, "quote:latest:"+symbol).Result()
	if err == goredis.Nil {
		return 0, fmt.Errorf("no quote for %s", symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET quote for %s: %w", symbol, err)
	}

	var q Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		p, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return 0, fmt.Errorf("unparseable quote for %s: %q", symbol, raw)
		}
		return p, nil
	}
	if r.maxAge > 0 && q.TS > 0 {
		age := time.Since(time.Unix(q.TS, 0))
		if age > r.maxAge {
			return 0, fmt.Errorf("quote for %s is stale (%s old)", symbol, age.Round(time.Second))
		}
	}
	if q.Price <= 0 {
		return 0, fmt.Errorf("non-positive quote for %s", symbol)
	}
	return q.Price, nil
}
