package backtest

import (
	"context"
	"fmt"
)

// prefetchFactor scales lookback into a chunk size: each fetch pulls up to
// lookback * prefetchFactor candles so many bars' worth of ticks are served
// from memory between datastore round trips.
const prefetchFactor = 10

// CandleBuffer is a streaming prefetch ring over a DataSource, feeding
// lookback requests without loading a symbol's full history eagerly. It
// holds an append-only, ascending-time buffer plus a nextTs cursor marking
// where the next chunk begins.
type CandleBuffer struct {
	ds DataSource

	symbol    string
	timeframe Timeframe
	startTs   int64
	endTs     int64
	lookback  int

	buffer []Candle
	nextTs int64
	done   bool
}

// NewCandleBuffer creates a buffer for symbol/timeframe over [startTs, endTs)
// with the given lookback. nextTs starts at startTs - lookback*granularity so
// the first window has pre-roll.
func NewCandleBuffer(ds DataSource, symbol string, timeframe Timeframe, startTs, endTs int64, lookback int) *CandleBuffer {
	granularity := timeframe.GranularityMs()
	return &CandleBuffer{
		ds:        ds,
		symbol:    symbol,
		timeframe: timeframe,
		startTs:   startTs,
		endTs:     endTs,
		lookback:  lookback,
		nextTs:    startTs - int64(lookback)*granularity,
	}
}

// Ensure extends buffer if currentTs is within one lookback window of the
// last buffered bar. It is idempotent: calling it again before currentTs
// advances past the refetch threshold performs no I/O.
func (b *CandleBuffer) Ensure(ctx context.Context, currentTs int64) error {
	if b.done {
		return nil
	}

	for !b.done && b.needsFetch(currentTs) {
		prefetchCount := b.lookback * prefetchFactor
		candles, err := b.ds.PrefetchCandles(ctx, b.symbol, b.timeframe, b.nextTs, prefetchCount)
		if err != nil {
			return fmt.Errorf("%w: candle buffer prefetch for %s: %v", ErrDataSource, b.symbol, err)
		}

		b.buffer = append(b.buffer, candles...)

		if len(candles) > 0 {
			b.nextTs = candles[len(candles)-1].TimestampMs + 1
		}
		if len(candles) < prefetchCount || b.nextTs >= b.endTs {
			b.done = true
		}
	}
	return nil
}

func (b *CandleBuffer) needsFetch(currentTs int64) bool {
	if len(b.buffer) == 0 {
		return true
	}
	lastBufferedTs := b.buffer[len(b.buffer)-1].TimestampMs
	threshold := lastBufferedTs - int64(b.lookback)*b.timeframe.GranularityMs()
	return currentTs >= threshold
}

// GetLast returns the last count candles with timestamp <= currentTs, newest
// first. Fails with ErrInsufficientLookback if fewer than count such candles
// are buffered.
func (b *CandleBuffer) GetLast(count int, currentTs int64) ([]Candle, error) {
	// Find the last index with timestamp <= currentTs.
	hi := -1
	for i := len(b.buffer) - 1; i >= 0; i-- {
		if b.buffer[i].TimestampMs <= currentTs {
			hi = i
			break
		}
	}
	if hi < 0 || hi-count+1 < 0 {
		return nil, fmt.Errorf("%w: have %d candles, want %d ending at or before %d",
			ErrInsufficientLookback, hi+1, count, currentTs)
	}

	out := make([]Candle, count)
	for i := 0; i < count; i++ {
		out[i] = b.buffer[hi-i]
	}
	return out, nil
}

// Candles returns the full materialized buffer, ascending time.
func (b *CandleBuffer) Candles() []Candle { return b.buffer }

// Done reports whether the buffer has exhausted its date range.
func (b *CandleBuffer) Done() bool { return b.done }
