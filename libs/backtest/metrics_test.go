package backtest_test

import (
	"math"
	"testing"

	"jax-trading-assistant/libs/backtest"
	libtesting "jax-trading-assistant/libs/testing"
)

// TestFeatureCorrelation covers the worked feature-correlation example: two
// trades carrying features=[1.0] with profitPercents +0.05 and -0.05, and
// one trade carrying features=[2.0] with profitPercent +0.10. The expected
// value is Pearson's r over x=[1,1,2], y=[0.05,-0.05,0.10], computed here
// from the same n*Sxy-Sx*Sy formula rather than copied from a rounded
// approximation.
func TestFeatureCorrelation(t *testing.T) {
	trades := []backtest.Trade{
		{Ticker: "X", Qty: 1, Price: 1, ProfitPercent: 0.05, Features: []float64{1.0}},
		{Ticker: "X", Qty: 1, Price: 1, ProfitPercent: -0.05, Features: []float64{1.0}},
		{Ticker: "X", Qty: 1, Price: 1, ProfitPercent: 0.10, Features: []float64{2.0}},
	}

	m := backtest.ComputeMetrics(nil, trades, 100_000, 1_700_000_000_000, 1_700_000_000_000, backtest.TF1d)

	r, ok := m.FeatureCorrelations[0]
	if !ok {
		t.Fatal("expected a correlation entry for feature index 0")
	}

	x := []float64{1, 1, 2}
	y := []float64{0.05, -0.05, 0.10}
	want := pearsonRef(x, y)
	if math.Abs(r-want) > 1e-9 {
		t.Errorf("FeatureCorrelations[0]: got %.6f, want %.6f", r, want)
	}
}

// TestFeatureCorrelationAbsentBelowTwoTrades covers the documented absence
// rule: fewer than two qualifying trades for an index means no entry.
func TestFeatureCorrelationAbsentBelowTwoTrades(t *testing.T) {
	trades := []backtest.Trade{
		{Ticker: "X", ProfitPercent: 0.05, Features: []float64{1.0}},
	}

	m := backtest.ComputeMetrics(nil, trades, 100_000, 1_700_000_000_000, 1_700_000_000_000, backtest.TF1d)

	if _, ok := m.FeatureCorrelations[0]; ok {
		t.Error("expected no correlation entry with a single qualifying trade")
	}
}

// TestFeatureCorrelationAbsentOnZeroVariance covers the zero-denominator
// edge case: a constant feature value across all trades.
func TestFeatureCorrelationAbsentOnZeroVariance(t *testing.T) {
	trades := []backtest.Trade{
		{Ticker: "X", ProfitPercent: 0.05, Features: []float64{1.0}},
		{Ticker: "X", ProfitPercent: -0.02, Features: []float64{1.0}},
	}

	m := backtest.ComputeMetrics(nil, trades, 100_000, 1_700_000_000_000, 1_700_000_000_000, backtest.TF1d)

	if _, ok := m.FeatureCorrelations[0]; ok {
		t.Error("expected no correlation entry when the feature has zero variance")
	}
}

// TestComputeMetricsIsDeterministic checks the purity claim in
// ComputeMetrics's doc comment: the same curve and trade log produce
// bit-identical metrics on every call.
func TestComputeMetricsIsDeterministic(t *testing.T) {
	curve := []backtest.EquityPoint{
		{TimestampMs: 1_700_000_000_000, TotalValue: 100_000, CashBalance: 100_000},
		{TimestampMs: 1_700_086_400_000, TotalValue: 101_500, CashBalance: 50_000},
		{TimestampMs: 1_700_172_800_000, TotalValue: 99_800, CashBalance: 99_800},
	}
	trades := []backtest.Trade{
		{Ticker: "X", Qty: 10, Price: 105, Profit: 50, ProfitPercent: 0.01, Features: []float64{1.0}},
		{Ticker: "X", Qty: 10, Price: 95, Profit: -150, ProfitPercent: -0.03, Features: []float64{2.0}},
	}

	libtesting.AssertDeterministic(t, func() any {
		return backtest.ComputeMetrics(curve, trades, 100_000, 1_700_000_000_000, 1_700_172_800_000, backtest.TF1d)
	})
}

func pearsonRef(x, y []float64) float64 {
	n := float64(len(x))
	var sx, sy, sxy, sxx, syy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxy += x[i] * y[i]
		sxx += x[i] * x[i]
		syy += y[i] * y[i]
	}
	num := n*sxy - sx*sy
	den := math.Sqrt((n*sxx - sx*sx) * (n*syy - sy*sy))
	return num / den
}
