package backtest

import (
	"context"
	"fmt"
)

// BarContext is the per-bar context passed to a single-symbol strategy
// callback. It exists only for the duration of one bar -- "context holds a
// reference to the engine" is a short-lived borrow, not shared ownership,
// so there is no true engine<->context cycle despite the back-reference.
type BarContext struct {
	engine       *Engine
	ticker       string
	candle       Candle
	stockBalance uint64
	currentTs    int64
	buffers      map[Timeframe]*CandleBuffer
}

// Ticker returns the symbol this bar belongs to.
func (bc *BarContext) Ticker() string { return bc.ticker }

// Candle returns the current main-timeframe bar.
func (bc *BarContext) Candle() Candle { return bc.candle }

// StockBalance returns the position snapshot taken at the start of the bar.
func (bc *BarContext) StockBalance() uint64 { return bc.stockBalance }

// GetCandles returns count candles at timeframe tf with timestamp <= atTs,
// newest first. Fails with ErrLookaheadViolation if atTs is after the bar
// currently being processed. For a preloaded timeframe this reads the
// buffer; otherwise it falls back to an ad-hoc datastore query. A result
// shorter than count (insufficient history) is reported via ok=false rather
// than an error.
func (bc *BarContext) GetCandles(ctx context.Context, tf Timeframe, count int, atTs int64) ([]Candle, bool, error) {
	if atTs > bc.currentTs {
		return nil, false, fmt.Errorf("%w: requested ts %d after current bar %d", ErrLookaheadViolation, atTs, bc.currentTs)
	}

	if buf, ok := bc.buffers[tf]; ok {
		candles, err := buf.GetLast(count, atTs)
		if err != nil {
			return nil, false, nil
		}
		return candles, true, nil
	}

	granularity := tf.GranularityMs()
	candles, err := bc.engine.ds.LookbackCandles(ctx, bc.ticker, tf, atTs, atTs-int64(2*count)*granularity, 2*count)
	if err != nil {
		return nil, false, err
	}
	if len(candles) < count {
		return nil, false, nil
	}
	return candles[:count], true, nil
}

// GetCandlesNow is GetCandles with atTs defaulted to the current bar.
func (bc *BarContext) GetCandlesNow(ctx context.Context, tf Timeframe, count int) ([]Candle, bool, error) {
	return bc.GetCandles(ctx, tf, count, bc.currentTs)
}

// Buy forwards to Engine.Buy at the current bar's ticker and timestamp,
// attaching and clearing any feature vector set via SetFeatures this bar.
func (bc *BarContext) Buy(qty uint64, price float64) error {
	features := bc.engine.pendingFeatures
	bc.engine.pendingFeatures = nil
	return bc.engine.Buy(bc.ticker, qty, price, bc.currentTs, features)
}

// Sell forwards to Engine.Sell at the current bar's ticker and timestamp.
func (bc *BarContext) Sell(qty uint64, price float64) error {
	return bc.engine.Sell(bc.ticker, qty, price, bc.currentTs)
}

// SetFeatures records a feature vector against the current bar's pending
// action; it is attached to the next opening buy on this ticker and
// retained until the position is fully closed. A no-op when feature
// bookkeeping is disabled in the EngineConfig.
func (bc *BarContext) SetFeatures(vec []float64) {
	if !bc.engine.cfg.EnableFeatures {
		return
	}
	bc.engine.pendingFeatures = vec
}

// AllStocksContext is the per-tick context passed to an all-symbols strategy
// callback. Symbols holds, for this tick, only the tickers that had a
// candle at this index -- absent tickers are the ones delisting detection
// is tracking.
type AllStocksContext struct {
	engine      *Engine
	CurrentDate int64
	Symbols     map[string]Candle
	mainTf      Timeframe
}

// GetCandles mirrors BarContext.GetCandles for all-symbols mode: reads from
// the per-symbol Stock for the main timeframe, from the preloaded map for
// another preloaded timeframe, or falls back to a datastore query.
func (ac *AllStocksContext) GetCandles(ctx context.Context, ticker string, tf Timeframe, count int, atTs int64) ([]Candle, bool, error) {
	if atTs > ac.CurrentDate {
		return nil, false, fmt.Errorf("%w: requested ts %d after current tick %d", ErrLookaheadViolation, atTs, ac.CurrentDate)
	}

	var stock *Stock
	if tf == ac.mainTf {
		stock = ac.engine.mainStocks[ticker]
	} else if byTicker, ok := ac.engine.preloaded[tf]; ok {
		stock = byTicker[ticker]
	}

	if stock != nil {
		idx := stock.GetIndex(atTs)
		if idx < stock.Size() {
			if c, ok := stock.GetCandle(idx); ok && c.TimestampMs > atTs {
				idx--
			}
		} else {
			idx--
		}
		if idx >= 0 && idx-count+1 >= 0 {
			out := make([]Candle, count)
			complete := true
			for i := 0; i < count; i++ {
				c, ok := stock.GetCandle(idx - i)
				if !ok {
					complete = false
					break
				}
				out[i] = c
			}
			if complete {
				return out, true, nil
			}
		}
	}

	granularity := tf.GranularityMs()
	candles, err := ac.engine.ds.LookbackCandles(ctx, ticker, tf, atTs, atTs-int64(2*count)*granularity, 2*count)
	if err != nil {
		return nil, false, err
	}
	if len(candles) < count {
		return nil, false, nil
	}
	return candles[:count], true, nil
}

// Buy forwards to Engine.Buy for ticker at the current tick's timestamp.
func (ac *AllStocksContext) Buy(ticker string, qty uint64, price float64) error {
	features := ac.engine.pendingFeatures
	ac.engine.pendingFeatures = nil
	return ac.engine.Buy(ticker, qty, price, ac.CurrentDate, features)
}

// Sell forwards to Engine.Sell for ticker at the current tick's timestamp.
func (ac *AllStocksContext) Sell(ticker string, qty uint64, price float64) error {
	return ac.engine.Sell(ticker, qty, price, ac.CurrentDate)
}

// SetFeatures records one engine-wide pending feature vector, attached to
// whichever ticker the next Buy is for.
func (ac *AllStocksContext) SetFeatures(vec []float64) {
	if !ac.engine.cfg.EnableFeatures {
		return
	}
	ac.engine.pendingFeatures = vec
}
