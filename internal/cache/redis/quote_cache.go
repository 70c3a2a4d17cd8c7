package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddslab/pairarb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes.
// Each instrument's quote is stored at key "quote:{venue}:{instrumentID}"
// with fields "yes", "no", "ts" (Unix nanosecond timestamp), and "source".
// The hash is the external read model for dashboards and other consumers;
// the engine itself evaluates from its in-process quote book.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Entries
// expire after ttl; zero means no expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(venue domain.Venue, instrumentID string) string {
	return "quote:" + string(venue) + ":" + instrumentID
}

// SetQuote stores the latest quote for an instrument.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := quoteKey(q.Venue, q.InstrumentID)
	fields := map[string]interface{}{
		"yes":    strconv.FormatInt(q.YesPriceCents, 10),
		"no":     strconv.FormatInt(q.NoPriceCents, 10),
		"ts":     strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
		"source": q.Source,
	}
	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for an instrument. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue domain.Venue, instrumentID string) (domain.PriceQuote, error) {
	key := quoteKey(venue, instrumentID)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	yes, err := strconv.ParseInt(vals["yes"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse yes price %s: %w", key, err)
	}
	no, err := strconv.ParseInt(vals["no"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse no price %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}

	return domain.PriceQuote{
		Venue:         venue,
		InstrumentID:  instrumentID,
		YesPriceCents: yes,
		NoPriceCents:  no,
		ObservedAt:    time.Unix(0, tsNano),
		Source:        vals["source"],
	}, nil
}

// SetOpportunity stores the latest opportunity snapshot for a pair as JSON
// at "opportunity:{pairName}", with the same TTL as quotes.
func (qc *QuoteCache) SetOpportunity(ctx context.Context, opp domain.Opportunity) error {
	key := "opportunity:" + opp.PairName
	data, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("redis: marshal opportunity %s: %w", key, err)
	}
	if err := qc.rdb.Set(ctx, key, data, qc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set opportunity %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
