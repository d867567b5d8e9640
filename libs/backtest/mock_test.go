package backtest_test

import (
	"context"
	"math"
	"sort"

	"jax-trading-assistant/libs/backtest"
)

// mockDataSource is an in-memory DataSource over a fixed set of per-symbol,
// ascending-time candle slices, all at a single timeframe. It exists only to
// drive the engine in tests -- no datastore, no caching, no circuit breaker.
type mockDataSource struct {
	tf       backtest.Timeframe
	bySymbol map[string][]backtest.Candle
}

func newMockDataSource(tf backtest.Timeframe) *mockDataSource {
	return &mockDataSource{tf: tf, bySymbol: make(map[string][]backtest.Candle)}
}

func (m *mockDataSource) set(symbol string, candles []backtest.Candle) {
	m.bySymbol[symbol] = candles
}

func (m *mockDataSource) RangeCandles(_ context.Context, symbol string, _ backtest.Timeframe, startTs, endTs int64) ([]backtest.Candle, error) {
	var out []backtest.Candle
	for _, c := range m.bySymbol[symbol] {
		if c.TimestampMs >= startTs && c.TimestampMs < endTs {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockDataSource) PrefetchCandles(_ context.Context, symbol string, _ backtest.Timeframe, startTs int64, limit int) ([]backtest.Candle, error) {
	all := m.bySymbol[symbol]
	start := sort.Search(len(all), func(i int) bool { return all[i].TimestampMs >= startTs })
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}
	out := make([]backtest.Candle, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (m *mockDataSource) LookbackCandles(_ context.Context, symbol string, _ backtest.Timeframe, atTs, sinceTs int64, limit int) ([]backtest.Candle, error) {
	all := m.bySymbol[symbol]
	var out []backtest.Candle
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].TimestampMs <= atTs && all[i].TimestampMs >= sinceTs {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (m *mockDataSource) AllSymbolsRange(ctx context.Context, tf backtest.Timeframe, startTs, endTs int64) (map[string][]backtest.Candle, error) {
	out := make(map[string][]backtest.Candle, len(m.bySymbol))
	for symbol := range m.bySymbol {
		candles, _ := m.RangeCandles(ctx, symbol, tf, startTs, endTs)
		if len(candles) > 0 {
			out[symbol] = candles
		}
	}
	return out, nil
}

func (m *mockDataSource) ListSymbols(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(m.bySymbol))
	for symbol := range m.bySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out, nil
}

const dayMs = 86_400_000

// sineCandles generates n daily bars closing on a sine wave around center
// with the given amplitude and period (in days), one bar per UTC day
// starting at startTs.
func sineCandles(startTs int64, n int, center, amplitude float64, periodDays int) []backtest.Candle {
	out := make([]backtest.Candle, n)
	for i := 0; i < n; i++ {
		close := center + amplitude*math.Sin(2*math.Pi*float64(i)/float64(periodDays))
		out[i] = backtest.Candle{
			Open: close, High: close, Low: close, Close: close,
			Volume:      1000,
			TimestampMs: startTs + int64(i)*dayMs,
		}
	}
	return out
}
