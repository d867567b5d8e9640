package backtest

import (
	"context"
	"fmt"
	"time"
)

const delistThreshold = 10

var newYorkLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Falling back to UTC would silently corrupt the 16:00 NY
		// normalization; a missing IANA tzdata is an environment defect the
		// caller needs to know about immediately, not a condition to limp
		// through with the wrong market-close timestamp.
		panic(fmt.Sprintf("backtest: failed to load America/New_York timezone: %v", err))
	}
	return loc
}()

// enumerateMainTicks returns the main timeframe's natural tick sequence over
// [startTs, endTs]. Daily ticks are normalized to 16:00 America/New_York
// (market close) using the IANA tzdata-aware time package rather than
// hand-rolled UTC offset arithmetic, which cannot track DST transitions.
func enumerateMainTicks(tf Timeframe, startTs, endTs int64) []int64 {
	var ticks []int64

	if tf == TF1d {
		day := time.UnixMilli(startTs).UTC()
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		for {
			closeTs := time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, newYorkLocation).UnixMilli()
			if closeTs > endTs {
				break
			}
			if closeTs >= startTs {
				ticks = append(ticks, closeTs)
			}
			day = day.AddDate(0, 0, 1)
		}
		return ticks
	}

	step := tf.GranularityMs()
	for t := startTs; t <= endTs; t += step {
		ticks = append(ticks, t)
	}
	return ticks
}

// isWeekend reports whether ts (UTC milliseconds) falls on a Saturday or
// Sunday in UTC.
func isWeekend(ts int64) bool {
	wd := time.UnixMilli(ts).UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// RunOnAllStocks drives the all-symbols tick loop (4.5): it enumerates the
// main timeframe's natural ticks, partitions them into datastore-sized
// chunks, bulk-loads every symbol's candles per chunk, and dispatches the
// strategy callback once per tick that has at least one symbol present.
func (e *Engine) RunOnAllStocks(ctx context.Context) (Metrics, error) {
	ctx = e.runCtx(ctx, "")

	mainTf, mainCfg := e.strategy.MainTimeframe()
	ticks := enumerateMainTicks(mainTf, e.cfg.StartDate, e.cfg.EndDate)
	if len(ticks) == 0 {
		return ComputeMetrics(nil, nil, e.startCashBalance, e.cfg.StartDate, e.cfg.EndDate, mainTf), nil
	}

	chunkSize := allStocksPreloadAmounts[mainTf]
	if chunkSize <= 0 {
		chunkSize = len(ticks)
	}

	e.preloaded = make(map[Timeframe]map[string]*Stock)

	for chunkStart := 0; chunkStart < len(ticks); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(ticks) {
			chunkEnd = len(ticks)
		}
		chunkTicks := ticks[chunkStart:chunkEnd]
		firstTick, lastTick := chunkTicks[0], chunkTicks[len(chunkTicks)-1]

		rangeStart := firstTick - int64(2*mainCfg.Count)*86_400_000
		rangeEnd := lastTick + 4*86_400_000
		allSymbols, err := e.ds.AllSymbolsRange(ctx, mainTf, rangeStart, rangeEnd)
		if err != nil {
			return Metrics{}, err
		}

		e.mainStocks = make(map[string]*Stock, len(allSymbols))
		for symbol, candles := range allSymbols {
			stock := NewStock(symbol, mainTf)
			for _, c := range candles {
				if err := stock.PushCandle(c); err != nil {
					return Metrics{}, err
				}
			}
			stock.Finish()
			e.mainStocks[symbol] = stock
		}

		for tf, cfg := range e.strategy.Timeframes {
			if tf == mainTf || !cfg.Preload {
				continue
			}
			if err := e.refreshPreloadWindow(ctx, tf, cfg, firstTick, lastTick); err != nil {
				return Metrics{}, err
			}
		}

		exchange := e.cfg.Exchange
		if exchange == "" {
			exchange = "NYSE"
		}

		for _, tick := range chunkTicks {
			if isWeekend(tick) {
				continue
			}
			if e.cfg.Calendar != nil && !e.cfg.Calendar.IsTradingDay(exchange, tick) {
				continue
			}

			for tf, cfg := range e.strategy.Timeframes {
				if tf == mainTf || !cfg.Preload {
					continue
				}
				if e.preloadWindowExpired(tf, tick) {
					if err := e.refreshPreloadWindow(ctx, tf, cfg, tick, lastTick); err != nil {
						return Metrics{}, err
					}
				}
			}

			present := make(map[string]Candle)
			for symbol, stock := range e.mainStocks {
				if c, ok := stock.GetCandleAt(tick); ok {
					present[symbol] = c
					e.stockPrices[symbol] = c.Close
				}
			}

			for ticker := range e.stockBalances {
				if _, ok := present[ticker]; ok {
					delete(e.delistCounter, ticker)
					continue
				}
				e.delistCounter[ticker]++
				if e.delistCounter[ticker] > delistThreshold {
					delete(e.stockBalances, ticker)
					delete(e.delistCounter, ticker)
					delete(e.holdSince, ticker)
					delete(e.stockFeatures, ticker)
				}
			}

			if len(present) == 0 {
				continue
			}

			for symbol := range present {
				e.telemetry.barDispatched(symbol)
			}

			if e.strategy.OnAllStocksTick != nil {
				tickCtx := &AllStocksContext{
					engine:      e,
					CurrentDate: tick,
					Symbols:     present,
					mainTf:      mainTf,
				}
				if err := e.strategy.OnAllStocksTick(tickCtx); err != nil {
					return Metrics{}, fmt.Errorf("strategy callback: %w", err)
				}
			}

			e.equityCurve = append(e.equityCurve, EquityPoint{
				TimestampMs: tick,
				TotalValue:  e.TotalValue(),
				CashBalance: e.cashBalance,
			})
		}
	}

	return ComputeMetrics(e.equityCurve, e.trades, e.startCashBalance, e.cfg.StartDate, e.cfg.EndDate, mainTf), nil
}

func (e *Engine) preloadWindowExpired(tf Timeframe, currentTs int64) bool {
	byTicker := e.preloaded[tf]
	if len(byTicker) == 0 {
		return true
	}
	end, ok := e.preloadWindowEnd[tf]
	return !ok || currentTs >= end
}

func (e *Engine) refreshPreloadWindow(ctx context.Context, tf Timeframe, cfg TimeframeConfig, currentTs, lastTick int64) error {
	granularity := tf.GranularityMs()
	windowStart := currentTs - int64(3*cfg.Count)*granularity
	windowEnd := currentTs + preloadWindowMs[tf]
	if windowEnd > lastTick {
		windowEnd = lastTick + preloadWindowMs[tf]
	}

	bySymbol, err := e.ds.AllSymbolsRange(ctx, tf, windowStart, windowEnd)
	if err != nil {
		return err
	}

	stocks := make(map[string]*Stock, len(bySymbol))
	for symbol, candles := range bySymbol {
		stock := NewStock(symbol, tf)
		for _, c := range candles {
			if err := stock.PushCandle(c); err != nil {
				return err
			}
		}
		stock.Finish()
		stocks[symbol] = stock
	}
	e.preloaded[tf] = stocks
	if e.preloadWindowEnd == nil {
		e.preloadWindowEnd = make(map[Timeframe]int64)
	}
	e.preloadWindowEnd[tf] = windowEnd
	return nil
}
