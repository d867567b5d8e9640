package main

import (
	"context"

	"jax-trading-assistant/libs/backtest"
)

// smaCrossover builds a single-symbol strategy that goes long when the fast
// simple moving average crosses above the slow one, and flat when it crosses
// back below. It holds at most one position at a time.
func smaCrossover(fast, slow int) backtest.Strategy {
	holding := false

	return backtest.Strategy{
		Name: "sma-crossover",
		Timeframes: map[backtest.Timeframe]backtest.TimeframeConfig{
			backtest.TF1d: {Count: slow + 1, Main: true},
		},
		OnTick: func(bar *backtest.BarContext) error {
			candles, ok, err := bar.GetCandlesNow(context.Background(), backtest.TF1d, slow+1)
			if err != nil {
				return err
			}
			if !ok {
				return nil // insufficient lookback yet
			}

			// candles is newest-first; reverse into chronological order for
			// the moving averages.
			chrono := make([]backtest.Candle, len(candles))
			for i, c := range candles {
				chrono[len(candles)-1-i] = c
			}

			fastPrev, fastNow := sma(chrono, fast, len(chrono)-2), sma(chrono, fast, len(chrono)-1)
			slowPrev, slowNow := sma(chrono, slow, len(chrono)-2), sma(chrono, slow, len(chrono)-1)

			price := bar.Candle().Close

			switch {
			case !holding && fastPrev <= slowPrev && fastNow > slowNow:
				qty := uint64(10_000 / price)
				if qty > 0 {
					if err := bar.Buy(qty, price); err != nil {
						return err
					}
					holding = true
				}
			case holding && fastPrev >= slowPrev && fastNow < slowNow:
				if err := bar.Sell(bar.StockBalance(), price); err != nil {
					return err
				}
				holding = false
			}
			return nil
		},
	}
}

// sma returns the simple moving average of the last window candles ending at
// (inclusive) index end in a chronologically ordered slice.
func sma(candles []backtest.Candle, window, end int) float64 {
	start := end - window + 1
	if start < 0 {
		return 0
	}
	var sum float64
	for i := start; i <= end; i++ {
		sum += candles[i].Close
	}
	return sum / float64(window)
}
