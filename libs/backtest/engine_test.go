package backtest_test

import (
	"context"
	"math"
	"testing"

	"jax-trading-assistant/libs/backtest"
)

func smaOf(candles []backtest.Candle, window int) float64 {
	var sum float64
	for i := 0; i < window; i++ {
		sum += candles[i].Close // candles is newest-first
	}
	return sum / float64(window)
}

// smaCrossoverStrategy implements the end-to-end scenario's rule literally:
// flat + SMA(25) > SMA(50) buys 3 shares, long + SMA(25) < SMA(50) sells all.
func smaCrossoverStrategy() backtest.Strategy {
	holding := false
	return backtest.Strategy{
		Name: "sma-crossover-25-50",
		Timeframes: map[backtest.Timeframe]backtest.TimeframeConfig{
			backtest.TF1d: {Count: 50, Main: true},
		},
		OnTick: func(bar *backtest.BarContext) error {
			candles, ok, err := bar.GetCandlesNow(context.Background(), backtest.TF1d, 50)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			sma25, sma50 := smaOf(candles, 25), smaOf(candles, 50)
			price := bar.Candle().Close

			switch {
			case !holding && sma25 > sma50:
				if err := bar.Buy(3, price); err != nil {
					return err
				}
				holding = true
			case holding && sma25 < sma50:
				if err := bar.Sell(bar.StockBalance(), price); err != nil {
					return err
				}
				holding = false
			}
			return nil
		},
	}
}

func TestRunOnStockSMACrossover(t *testing.T) {
	const symbol = "SINE"
	startTs := int64(1_700_000_000_000)
	candles := sineCandles(startTs, 300, 100, 10, 40)

	ds := newMockDataSource(backtest.TF1d)
	ds.set(symbol, candles)

	cfg := backtest.EngineConfig{
		Strategy:         smaCrossoverStrategy(),
		DataSource:       ds,
		Broker:           backtest.NewAlpacaBroker(),
		StartDate:        startTs,
		EndDate:          candles[len(candles)-1].TimestampMs + dayMs,
		StartCashBalance: 100_000,
		EnableFeatures:   true,
	}
	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	metrics, err := engine.RunOnStock(context.Background(), symbol)
	if err != nil {
		t.Fatalf("RunOnStock: %v", err)
	}

	curve := engine.EquityCurve()
	if len(curve) == 0 {
		t.Fatal("expected a non-empty equity curve")
	}

	// A 300-bar sine with period 40 crosses its own 25/50-bar moving
	// averages repeatedly; the strategy should have traded at least once.
	if metrics.TotalTrades == 0 {
		t.Error("expected at least one completed round trip over 300 bars of oscillating price")
	}

	for _, trade := range engine.Trades() {
		if len(trade.Features) != 0 {
			t.Errorf("expected no features on this strategy's trades, got %v", trade.Features)
		}
	}

	last := curve[len(curve)-1]
	if math.IsNaN(last.TotalValue) || math.IsInf(last.TotalValue, 0) {
		t.Fatalf("final total value is not finite: %v", last.TotalValue)
	}
}

func TestRunOnStockLookbackBoundary(t *testing.T) {
	const symbol = "SINE"
	startTs := int64(1_700_000_000_000)
	candles := sineCandles(startTs, 120, 100, 10, 40)

	ds := newMockDataSource(backtest.TF1d)
	ds.set(symbol, candles)

	var firstCallCandleCount int
	var invocations int

	strategy := backtest.Strategy{
		Name: "lookback-probe",
		Timeframes: map[backtest.Timeframe]backtest.TimeframeConfig{
			backtest.TF1d: {Count: 50, Main: true},
		},
		OnTick: func(bar *backtest.BarContext) error {
			invocations++
			got, ok, err := bar.GetCandlesNow(context.Background(), backtest.TF1d, 50)
			if err != nil {
				return err
			}
			if invocations == 1 {
				if !ok {
					t.Error("expected first invocation to have sufficient lookback")
				}
				firstCallCandleCount = len(got)
			}
			return nil
		},
	}

	cfg := backtest.EngineConfig{
		Strategy:         strategy,
		DataSource:       ds,
		Broker:           backtest.NewAlpacaBroker(),
		StartDate:        startTs,
		EndDate:          candles[len(candles)-1].TimestampMs + dayMs,
		StartCashBalance: 100_000,
	}
	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.RunOnStock(context.Background(), symbol); err != nil {
		t.Fatalf("RunOnStock: %v", err)
	}

	if invocations != 120-49 {
		t.Errorf("invocations: got %d, want %d (bars 49..119)", invocations, 120-49)
	}
	if firstCallCandleCount != 50 {
		t.Errorf("first invocation's lookback: got %d candles, want 50", firstCallCandleCount)
	}
}
