package backtest_test

import (
	"reflect"
	"testing"

	"jax-trading-assistant/libs/backtest"
)

func buildStock(t *testing.T, timestamps []int64) *backtest.Stock {
	t.Helper()
	s := backtest.NewStock("X", backtest.TF1d)
	for _, ts := range timestamps {
		if err := s.PushCandle(backtest.Candle{TimestampMs: ts, Close: float64(ts)}); err != nil {
			t.Fatalf("PushCandle(%d): %v", ts, err)
		}
	}
	s.Finish()
	return s
}

// TestGetCandlesInRangeBoundaries covers the inclusive-boundary off-by-one:
// with rows at ts=[10,20,30,40], the range [20,30] must
// include both boundary rows and nothing outside them.
func TestGetCandlesInRangeBoundaries(t *testing.T) {
	s := buildStock(t, []int64{10, 20, 30, 40})

	got := s.GetCandlesInRange(20, 30)
	var gotTs []int64
	for _, c := range got {
		gotTs = append(gotTs, c.TimestampMs)
	}

	want := []int64{20, 30}
	if !reflect.DeepEqual(gotTs, want) {
		t.Errorf("GetCandlesInRange(20, 30) timestamps = %v, want %v", gotTs, want)
	}
}

// TestGetCandlesInRangeStartBeforeFirstRow checks a startTs preceding every
// row still returns from the first row onward.
func TestGetCandlesInRangeStartBeforeFirstRow(t *testing.T) {
	s := buildStock(t, []int64{10, 20, 30, 40})

	got := s.GetCandlesInRange(0, 20)
	if len(got) != 2 || got[0].TimestampMs != 10 || got[1].TimestampMs != 20 {
		t.Errorf("GetCandlesInRange(0, 20) = %+v, want rows at ts=10,20", got)
	}
}

// TestGetCandlesInRangeEndAfterLastRow checks an endTs past every row still
// returns up to the last row, not past it.
func TestGetCandlesInRangeEndAfterLastRow(t *testing.T) {
	s := buildStock(t, []int64{10, 20, 30, 40})

	got := s.GetCandlesInRange(30, 1000)
	if len(got) != 2 || got[0].TimestampMs != 30 || got[1].TimestampMs != 40 {
		t.Errorf("GetCandlesInRange(30, 1000) = %+v, want rows at ts=30,40", got)
	}
}

// TestGetCandlesInRangeEmpty checks a range that falls entirely between two
// rows (or entirely outside the stock's span) returns nil, not a panic.
func TestGetCandlesInRangeEmpty(t *testing.T) {
	s := buildStock(t, []int64{10, 20, 30, 40})

	if got := s.GetCandlesInRange(22, 28); len(got) != 0 {
		t.Errorf("GetCandlesInRange(22, 28) = %+v, want empty", got)
	}
	if got := s.GetCandlesInRange(100, 200); len(got) != 0 {
		t.Errorf("GetCandlesInRange(100, 200) = %+v, want empty", got)
	}
}
