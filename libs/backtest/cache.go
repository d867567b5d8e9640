package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedDataSource is a look-aside cache in front of RangeCandles, keyed by
// (ticker, timeframe, startTs, endTs). Repeated backtests over the same
// symbol/date range hit the cache instead of re-querying the datastore.
// Only RangeCandles is cached; PrefetchCandles (what CandleBuffer.ensure
// issues) and the other methods pass straight through.
type CachedDataSource struct {
	DataSource
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedDataSource wraps next with a redis-backed look-aside cache. A nil
// rdb disables caching and every call passes straight through.
func NewCachedDataSource(next DataSource, rdb *redis.Client, ttl time.Duration) *CachedDataSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDataSource{DataSource: next, rdb: rdb, ttl: ttl}
}

func (c *CachedDataSource) RangeCandles(ctx context.Context, symbol string, tf Timeframe, startTs, endTs int64) ([]Candle, error) {
	if c.rdb == nil {
		return c.DataSource.RangeCandles(ctx, symbol, tf, startTs, endTs)
	}

	key := fmt.Sprintf("backtest:candles:%s:%s:%d:%d", symbol, tf, startTs, endTs)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached []Candle
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	candles, err := c.DataSource.RangeCandles(ctx, symbol, tf, startTs, endTs)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(candles); err == nil {
		_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
	}
	return candles, nil
}
