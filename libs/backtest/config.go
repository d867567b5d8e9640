package backtest

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// EngineConfig is the {strategy, startDate, endDate, startCashBalance,
// broker, logs?, features?} construction record for an Engine. Validate runs
// struct-tag validation first, then the cross-field invariants struct tags
// cannot express (exactly one main timeframe, endDate after startDate).
type EngineConfig struct {
	Strategy         Strategy
	DataSource       DataSource `validate:"required"`
	Broker           Broker     `validate:"required"`
	StartDate        int64      `validate:"required"`
	EndDate          int64      `validate:"required"`
	StartCashBalance float64    `validate:"gt=0"`

	// EnableLogs turns on per-run structured logging via LogMetrics.
	EnableLogs bool
	// EnableFeatures turns on feature-vector bookkeeping; when false,
	// SetFeatures is a no-op and feature correlations are never computed.
	EnableFeatures bool

	// Calendar, when set, is consulted in RunOnAllStocks to skip exchange
	// holidays in addition to weekends. A nil Calendar falls back to
	// weekend-only skipping.
	Calendar TradingCalendar
	// Exchange is passed to Calendar.IsTradingDay; ignored when Calendar is
	// nil. Defaults to "NYSE" when left empty and Calendar is set.
	Exchange string

	// Telemetry, when set, receives bars-processed and orders-rejected
	// counters as the run progresses. A nil Telemetry disables operational
	// metrics without affecting the statistical Metrics a run returns.
	Telemetry *Telemetry
}

// TradingCalendar reports whether ts (UTC milliseconds) is a normal trading
// session for exchange. Implemented by *calendar.Store.
type TradingCalendar interface {
	IsTradingDay(exchange string, ts int64) bool
}

// DefaultEngineConfig returns an EngineConfig with a $100,000 starting
// balance and logging enabled; Strategy, DataSource, and Broker must still be
// set by the caller.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StartCashBalance: 100_000.0,
		EnableLogs:       true,
		EnableFeatures:   true,
	}
}

// Validate reports ErrInvalidConfig for any malformed construction: wrong
// timeframe, multiple (or zero) main timeframes, a non-positive lookback, or
// endDate <= startDate.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if c.EndDate <= c.StartDate {
		return fmt.Errorf("%w: endDate %d must be after startDate %d", ErrInvalidConfig, c.EndDate, c.StartDate)
	}
	return nil
}
