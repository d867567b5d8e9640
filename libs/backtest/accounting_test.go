package backtest_test

import (
	"errors"
	"testing"

	"jax-trading-assistant/libs/backtest"
)

func newBareEngine(t *testing.T, startCash float64, broker backtest.Broker) *backtest.Engine {
	t.Helper()
	ds := newMockDataSource(backtest.TF1d)
	ds.set("X", sineCandles(1_700_000_000_000, 60, 100, 1, 40))

	cfg := backtest.EngineConfig{
		Strategy: backtest.Strategy{
			Name:       "noop",
			Timeframes: map[backtest.Timeframe]backtest.TimeframeConfig{backtest.TF1d: {Count: 1, Main: true}},
		},
		DataSource:       ds,
		Broker:           broker,
		StartDate:        1_700_000_000_000,
		EndDate:          1_700_000_000_000 + 60*dayMs,
		StartCashBalance: startCash,
	}
	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestBuyInsufficientCashLeavesStateUnchanged(t *testing.T) {
	engine := newBareEngine(t, 1_000, backtest.NewAlpacaBroker())

	err := engine.Buy("X", 100, 50, 1_700_000_000_000, nil)
	if !errors.Is(err, backtest.ErrInsufficientCash) {
		t.Fatalf("Buy: got %v, want ErrInsufficientCash", err)
	}

	if got := engine.TotalFees(); got != 0 {
		t.Errorf("TotalFees after failed buy: got %v, want 0", got)
	}
	if len(engine.Trades()) != 0 {
		t.Errorf("expected no trades after failed buy, got %d", len(engine.Trades()))
	}
}

func TestRoundTripBalancesExactly(t *testing.T) {
	broker := backtest.NewAlpacaBroker()
	engine := newBareEngine(t, 100_000, broker)

	buyTs := int64(1_700_000_000_000)
	sellTs := buyTs + dayMs
	buyFee := broker.CalculateFees(10, 100, backtest.Buy)

	if err := engine.Buy("X", 10, 100, buyTs, nil); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := engine.Sell("X", 10, 110, sellTs); err != nil {
		t.Fatalf("Sell: %v", err)
	}

	trades := engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("Trades: got %d, want 1", len(trades))
	}

	trade := trades[0]
	proceeds := float64(trade.Qty) * trade.Price
	matchedCost := float64(trade.Qty) * 100.0
	// profit = proceeds - matchedCost - matchedFees(buy) - sellFee, so the
	// identity profit + matchedCost + matchedFees + sellFee == proceeds
	// must hold exactly, up to float64 rounding (accounting.go's invariant).
	if got, want := trade.Profit+matchedCost+buyFee+trade.Fee, proceeds; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("profit+matchedCost+buyFee+sellFee = %.4f, want proceeds %.4f", got, want)
	}
}

func TestSellWithoutPositionFails(t *testing.T) {
	engine := newBareEngine(t, 100_000, backtest.NewAlpacaBroker())
	err := engine.Sell("X", 5, 100, 1_700_000_000_000)
	if err == nil {
		t.Fatal("expected error selling a position never bought")
	}
}
