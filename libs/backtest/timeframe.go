package backtest

import "fmt"

// Timeframe is a closed enum of the four supported bar durations. Using a
// fixed-size record indexed by the enum (rather than the source's string
// keys) keeps the hot tick loop free of per-lookup string comparisons.
type Timeframe uint8

const (
	TF1m Timeframe = iota
	TF5m
	TF1h
	TF1d

	numTimeframes
)

// granularityMs is GranularityMs indexed by Timeframe.
var granularityMs = [numTimeframes]int64{
	TF1m: 60_000,
	TF5m: 300_000,
	TF1h: 3_600_000,
	TF1d: 86_400_000,
}

// allStocksPreloadAmounts is the all-symbols tick-chunk size per timeframe.
var allStocksPreloadAmounts = [numTimeframes]int{
	TF1d: 250,
	TF1h: 500,
	TF5m: 1000,
	TF1m: 2000,
}

// preloadWindowMs is the non-main preload sliding-window width per timeframe,
// expressed in milliseconds (1y, 4mo, 4w, 2w respectively).
var preloadWindowMs = [numTimeframes]int64{
	TF1d: 365 * 86_400_000,
	TF1h: 120 * 86_400_000,
	TF5m: 28 * 86_400_000,
	TF1m: 14 * 86_400_000,
}

// periodsPerYear is the annualization factor used by Metrics, keyed by the
// run's main timeframe.
var periodsPerYear = [numTimeframes]float64{
	TF1d: 252,
	TF1h: 252 * 6.5,
	TF5m: 252 * 78,
	TF1m: 252 * 390,
}

// GranularityMs returns the bar duration in milliseconds.
func (tf Timeframe) GranularityMs() int64 {
	return granularityMs[tf]
}

// String renders the wire-format name used by the datastore table suffix
// (candles_1d, candles_1h, candles_5m, candles_1m) and in log fields.
func (tf Timeframe) String() string {
	switch tf {
	case TF1m:
		return "1m"
	case TF5m:
		return "5m"
	case TF1h:
		return "1h"
	case TF1d:
		return "1d"
	default:
		return fmt.Sprintf("timeframe(%d)", uint8(tf))
	}
}

// ParseTimeframe maps a wire-format string to its Timeframe. It is the
// inverse of String.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "1m":
		return TF1m, nil
	case "5m":
		return TF5m, nil
	case "1h":
		return TF1h, nil
	case "1d":
		return TF1d, nil
	default:
		return 0, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidConfig, s)
	}
}

// TableName returns the datastore table holding this timeframe's candles.
func (tf Timeframe) TableName() string {
	return "candles_" + tf.String()
}
