package backtest

import "errors"

// Sentinel errors for the seven documented failure kinds. Each is wrapped
// with additional context via %w at the point of failure so callers can
// still errors.Is against the sentinel.
var (
	// ErrInvalidConfig is returned at construction time: wrong timeframe,
	// more than one (or zero) main timeframes, a non-positive lookback, or
	// endDate <= startDate.
	ErrInvalidConfig = errors.New("backtest: invalid configuration")

	// ErrDataSource wraps any network/DB/CSV failure surfaced by a
	// DataSource. The current run aborts.
	ErrDataSource = errors.New("backtest: data source error")

	// ErrLookaheadViolation is returned when getCandles is called with a
	// timestamp after the bar currently being processed. It always
	// indicates a strategy bug and is fatal.
	ErrLookaheadViolation = errors.New("backtest: lookahead violation")

	// ErrInsufficientLookback is returned (not thrown as a fatal error) when
	// a buffer cannot deliver the requested candle count yet.
	ErrInsufficientLookback = errors.New("backtest: insufficient lookback")

	// ErrInsufficientCash rejects a buy that would overdraw cashBalance.
	ErrInsufficientCash = errors.New("backtest: insufficient cash")

	// ErrInsufficientShares rejects a sell for more shares than are held.
	ErrInsufficientShares = errors.New("backtest: insufficient shares")

	// ErrInvalidOrder is returned for a non-positive qty/price, or a
	// timestamp that is not strictly greater than the last pushed candle.
	ErrInvalidOrder = errors.New("backtest: invalid order")
)
