package backtest

// Candle is an immutable OHLCV bar. TimestampMs is UTC milliseconds since
// epoch. Transactions is zero when the source row did not carry a count.
//
// Invariant Low <= Open, Close <= High and Low <= High is trusted from the
// datastore and not re-checked here; historical data is assumed clean.
type Candle struct {
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       uint64
	Transactions uint64
	TimestampMs  int64
}
