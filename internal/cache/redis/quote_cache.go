package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkarlsen/updown/internal/domain"
)

// quoteTTL bounds how long a mirrored quote stays readable. Tokens churn
// every window, so stale entries are only ever a few windows old.
const quoteTTL = 30 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Each token's
// latest price is stored at "quote:{tokenID}" with fields "price" and "ts"
// (Unix nanoseconds).
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(tokenID string) string {
	return "quote:" + tokenID
}

// SetQuote stores the latest price and timestamp for a token.
func (qc *QuoteCache) SetQuote(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	key := quoteKey(tokenID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", tokenID, err)
	}
	return nil
}

// GetQuote retrieves the latest price and timestamp for a token. It returns
// domain.ErrNotFound when no quote has been mirrored.
func (qc *QuoteCache) GetQuote(ctx context.Context, tokenID string) (float64, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(tokenID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote %s: %w", tokenID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", tokenID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetQuotes retrieves the latest prices for multiple tokens in one pipeline.
// Tokens without a mirrored quote are omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	if len(tokenIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tokenIDs))
	for _, id := range tokenIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]float64, len(tokenIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		if price, err := strconv.ParseFloat(vals["price"], 64); err == nil {
			result[id] = price
		}
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
