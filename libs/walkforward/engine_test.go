package walkforward_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jax-trading-assistant/libs/backtest"
	"jax-trading-assistant/libs/dataset"
	"jax-trading-assistant/libs/walkforward"
)

// generateCSV writes N daily rows starting from 2020-01-02, trending
// upward so a moving-average strategy has something to react to.
func generateCSV(t *testing.T, dir string, rows int) (path string) {
	t.Helper()
	buf := "date,open,high,low,close,volume\n"
	base := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range rows {
		d := base.Add(time.Duration(i) * 24 * time.Hour)
		price += 0.5
		buf += d.Format("2006-01-02") +
			"," + fmt.Sprintf("%.2f", price-0.3) +
			"," + fmt.Sprintf("%.2f", price+1.0) +
			"," + fmt.Sprintf("%.2f", price-1.5) +
			"," + fmt.Sprintf("%.2f", price) +
			",500000\n"
	}
	path = filepath.Join(dir, "test.csv")
	if err := os.WriteFile(path, []byte(buf), 0o644); err != nil {
		t.Fatalf("generate csv: %v", err)
	}
	return path
}

// dummyStrategy buys one share the first time it sees a bar and never
// trades again -- enough to exercise the walk-forward plumbing without
// depending on indicator logic.
func dummyStrategy() backtest.Strategy {
	bought := false
	return backtest.Strategy{
		Name: "wf-smoke",
		Timeframes: map[backtest.Timeframe]backtest.TimeframeConfig{
			backtest.TF1d: {Count: 5, Main: true},
		},
		OnTick: func(bar *backtest.BarContext) error {
			if !bought {
				bought = true
				return bar.Buy(1, bar.Candle().Close)
			}
			return nil
		},
	}
}

func setupEngine(t *testing.T) (eng *walkforward.Engine, reg *dataset.Registry, csvPath string) {
	t.Helper()
	dir := t.TempDir()
	csvPath = generateCSV(t, dir, 600) // ~2 years of daily data

	reg, err := dataset.Open(dir)
	if err != nil {
		t.Fatalf("dataset.Open: %v", err)
	}
	eng = walkforward.New(reg)
	return eng, reg, csvPath
}

func TestRunReturnsResult(t *testing.T) {
	eng, reg, csvPath := setupEngine(t)

	ds, err := reg.Register(dataset.Dataset{Name: "WF_TEST", Symbol: "TEST", FilePath: csvPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := start + 500*86_400_000

	result, err := eng.Run(context.Background(), walkforward.Config{
		Strategy:  dummyStrategy(),
		Broker:    backtest.NewIBKRBroker(backtest.IBKRTiered),
		Symbols:   []string{"TEST"},
		FullStart: start,
		FullEnd:   end,
		DatasetID: ds.ID,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Windows) == 0 {
		t.Error("expected at least one window result")
	}
	if result.WFER != result.WFER {
		t.Errorf("WFER is NaN")
	}
	if result.PassRate < 0 || result.PassRate > 1 {
		t.Errorf("PassRate out of [0,1]: %f", result.PassRate)
	}
	if result.StabilityScore < 0 || result.StabilityScore > 1 {
		t.Errorf("StabilityScore out of [0,1]: %f", result.StabilityScore)
	}
}

func TestRunRangeTooShortReturnsError(t *testing.T) {
	eng, reg, csvPath := setupEngine(t)

	ds, err := reg.Register(dataset.Dataset{Name: "WF_SHORT", Symbol: "S", FilePath: csvPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := start + 10*86_400_000 // only 10 days, way too short

	_, err = eng.Run(context.Background(), walkforward.Config{
		Strategy:  dummyStrategy(),
		Broker:    backtest.NewIBKRBroker(backtest.IBKRTiered),
		Symbols:   []string{"S"},
		FullStart: start,
		FullEnd:   end,
		DatasetID: ds.ID,
	})
	if err == nil {
		t.Fatal("expected error for range too short to build any window")
	}
}

func TestRunBadDatasetIDReturnsError(t *testing.T) {
	eng, _, _ := setupEngine(t)

	now := time.Now().UnixMilli()
	_, err := eng.Run(context.Background(), walkforward.Config{
		Strategy:  dummyStrategy(),
		Broker:    backtest.NewIBKRBroker(backtest.IBKRTiered),
		Symbols:   []string{"X"},
		FullStart: now - 400*86_400_000,
		FullEnd:   now,
		DatasetID: "00000000-0000-0000-0000-000000000000",
	})
	if err == nil {
		t.Fatal("expected error for bad dataset ID")
	}
}

func TestWFERVerdict(t *testing.T) {
	tests := []struct {
		wfer    float64
		contain string
	}{
		{0.8, "EXCELLENT"},
		{0.6, "GOOD"},
		{0.2, "MARGINAL"},
		{-0.3, "FAIL"},
	}
	for _, tc := range tests {
		r := &walkforward.Result{WFER: tc.wfer}
		v := walkforward.WFERVerdict(r)
		if len(v) == 0 || v[:len(tc.contain)] != tc.contain {
			t.Errorf("WFER=%.1f: got %q, want prefix %q", tc.wfer, v, tc.contain)
		}
	}
}
