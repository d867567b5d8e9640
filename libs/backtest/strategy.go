package backtest

import "fmt"

// TimeframeConfig is the per-timeframe lookback configuration within a
// Strategy. The main timeframe drives the tick loop; every other configured
// timeframe is sampled on demand via BarContext.GetCandles.
type TimeframeConfig struct {
	// Count is the lookback window size at this timeframe. Must be >= 1.
	Count int
	// Main marks the single timeframe that drives the tick loop. Exactly one
	// entry in a Strategy's Timeframes must set this.
	Main bool
	// Preload hints that this timeframe's bars should be streamed ahead of
	// need via a CandleBuffer rather than fetched per request. The main
	// timeframe is always implicitly preloaded.
	Preload bool
}

// OnTickFunc is invoked once per bar in single-symbol mode.
type OnTickFunc func(bar *BarContext) error

// OnAllStocksTickFunc is invoked once per tick in all-symbols mode.
type OnAllStocksTickFunc func(tick *AllStocksContext) error

// Strategy is an immutable configuration: a map of timeframe requirements
// plus exactly one callback appropriate to the run mode it will be used
// with. Constructing a Strategy does not validate it; Engine construction
// does, via Validate.
type Strategy struct {
	Name       string
	Timeframes map[Timeframe]TimeframeConfig

	// OnTick is used by Engine.RunOnStock.
	OnTick OnTickFunc
	// OnAllStocksTick is used by Engine.RunOnAllStocks.
	OnAllStocksTick OnAllStocksTickFunc
}

// Validate checks the immutability invariants: exactly one main timeframe,
// every count >= 1, and at least one callback set.
func (s Strategy) Validate() error {
	if len(s.Timeframes) == 0 {
		return fmt.Errorf("%w: strategy %q declares no timeframes", ErrInvalidConfig, s.Name)
	}

	mains := 0
	for tf, cfg := range s.Timeframes {
		if cfg.Count < 1 {
			return fmt.Errorf("%w: strategy %q timeframe %s has non-positive count %d", ErrInvalidConfig, s.Name, tf, cfg.Count)
		}
		if cfg.Main {
			mains++
		}
	}
	if mains != 1 {
		return fmt.Errorf("%w: strategy %q declares %d main timeframes, want exactly 1", ErrInvalidConfig, s.Name, mains)
	}

	if s.OnTick == nil && s.OnAllStocksTick == nil {
		return fmt.Errorf("%w: strategy %q has no callback", ErrInvalidConfig, s.Name)
	}
	return nil
}

// MainTimeframe returns the strategy's single main timeframe and its config.
// Callers must have already validated the strategy.
func (s Strategy) MainTimeframe() (Timeframe, TimeframeConfig) {
	for tf, cfg := range s.Timeframes {
		if cfg.Main {
			return tf, cfg
		}
	}
	return 0, TimeframeConfig{}
}

// IsPreloaded reports whether tf is preloaded: either the main timeframe, or
// explicitly marked Preload.
func (s Strategy) IsPreloaded(tf Timeframe) bool {
	cfg, ok := s.Timeframes[tf]
	return ok && (cfg.Main || cfg.Preload)
}
