package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jax-trading-assistant/libs/observability"
	libtesting "jax-trading-assistant/libs/testing"
)

// Engine is the tick driver: it owns balances, positions, equity curve, and
// trades, and orchestrates either a single-symbol or an all-symbols run. Its
// mutable state needs no lock -- the engine processes exactly one bar at a
// time, and I/O fan-out within a bar is always joined before state mutates.
type Engine struct {
	cfg       EngineConfig
	strategy  Strategy
	broker    Broker
	ds        DataSource
	runID     string
	telemetry *Telemetry

	cashBalance      float64
	startCashBalance float64
	stockBalances    map[string]uint64
	stockPrices      map[string]float64
	holdSince        map[string]int64
	stockFeatures    map[string][]float64
	swaps            []Swap
	trades           []Trade
	equityCurve      []EquityPoint
	delistCounter    map[string]int
	totalFees        float64

	pendingFeatures []float64

	// all-symbols mode working state, populated per chunk by runOnAllStocks.
	mainStocks       map[string]*Stock
	preloaded        map[Timeframe]map[string]*Stock
	preloadWindowEnd map[Timeframe]int64
}

// NewEngine validates cfg and constructs an Engine ready to run. Fails fast
// with ErrInvalidConfig on malformed input.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:              cfg,
		strategy:         cfg.Strategy,
		broker:           cfg.Broker,
		ds:               cfg.DataSource,
		runID:            uuid.NewString(),
		telemetry:        cfg.Telemetry,
		cashBalance:      cfg.StartCashBalance,
		startCashBalance: cfg.StartCashBalance,
		stockBalances:    make(map[string]uint64),
		stockPrices:      make(map[string]float64),
		holdSince:        make(map[string]int64),
		stockFeatures:    make(map[string][]float64),
		delistCounter:    make(map[string]int),
	}, nil
}

func (e *Engine) runCtx(ctx context.Context, ticker string) context.Context {
	return observability.WithRunInfo(ctx, observability.RunInfo{RunID: e.runID, Symbol: ticker})
}

// RunOnStock drives the single-symbol tick loop (4.4): it creates a
// CandleBuffer per preloaded timeframe, then walks the main buffer's
// materialized candles starting at the lookback boundary, invoking the
// strategy callback once per bar and appending an equity-curve point after
// each invocation.
func (e *Engine) RunOnStock(ctx context.Context, ticker string) (Metrics, error) {
	ctx = e.runCtx(ctx, ticker)

	mainTf, mainCfg := e.strategy.MainTimeframe()
	buffers := make(map[Timeframe]*CandleBuffer)
	for tf, cfg := range e.strategy.Timeframes {
		if !(cfg.Main || cfg.Preload) {
			continue
		}
		buf := NewCandleBuffer(e.ds, ticker, tf, e.cfg.StartDate, e.cfg.EndDate, cfg.Count)
		if err := buf.Ensure(ctx, e.cfg.StartDate); err != nil {
			return Metrics{}, err
		}
		buffers[tf] = buf
	}

	mainBuf := buffers[mainTf]
	lookback := mainCfg.Count

	for i := lookback - 1; ; i++ {
		candles := mainBuf.Candles()
		if i >= len(candles) {
			if mainBuf.Done() {
				break
			}
			if err := mainBuf.Ensure(ctx, candles[len(candles)-1].TimestampMs); err != nil {
				return Metrics{}, err
			}
			candles = mainBuf.Candles()
			if i >= len(candles) {
				break
			}
		}

		bar := candles[i]
		if bar.TimestampMs >= e.cfg.EndDate {
			break
		}

		for _, buf := range buffers {
			if err := buf.Ensure(ctx, bar.TimestampMs); err != nil {
				return Metrics{}, err
			}
		}

		e.stockPrices[ticker] = bar.Close
		e.telemetry.barDispatched(ticker)

		if e.strategy.OnTick != nil {
			snapshot := e.stockBalances[ticker]
			barCtx := &BarContext{
				engine:      e,
				ticker:      ticker,
				candle:      bar,
				stockBalance: snapshot,
				currentTs:   bar.TimestampMs,
				buffers:     buffers,
			}
			if err := e.strategy.OnTick(barCtx); err != nil {
				return Metrics{}, fmt.Errorf("strategy callback: %w", err)
			}
		}

		e.equityCurve = append(e.equityCurve, EquityPoint{
			TimestampMs: bar.TimestampMs,
			TotalValue:  e.TotalValue(),
			CashBalance: e.cashBalance,
		})
	}

	return ComputeMetrics(e.equityCurve, e.trades, e.startCashBalance, e.cfg.StartDate, e.cfg.EndDate, mainTf), nil
}

// LogMetrics writes a human-readable summary via structured logging. It does
// nothing unless EnableLogs is set.
func (e *Engine) LogMetrics(ctx context.Context, m Metrics) {
	if !e.cfg.EnableLogs {
		return
	}
	observability.LogEvent(ctx, "info", "backtest_metrics", map[string]any{
		"run_id":          e.runID,
		"total_return":    m.TotalReturn,
		"cagr":            m.CAGR,
		"sharpe":          m.Sharpe,
		"max_drawdown":    m.MaxDrawdown,
		"trades":          len(e.trades),
		"total_fees":      e.totalFees,
		"final_cash":      e.cashBalance,
		"generated_at":    libtesting.Now(ctx).UTC().Format(time.RFC3339),
	})
}

// BuildReport renders m and the run's equity curve as a self-contained HTML
// document. The report's generated-at timestamp comes from the Clock
// attached to ctx (libs/testing.SystemClock when none was attached), so a
// run driven by a fixed or manual clock produces a reproducible report.
func (e *Engine) BuildReport(ctx context.Context, m Metrics) (string, error) {
	return buildReport(ctx, e.runID, m, e.equityCurve)
}

// TotalFees returns the accumulated broker fees across every swap.
func (e *Engine) TotalFees() float64 { return e.totalFees }

// Trades returns the closed round-trip log.
func (e *Engine) Trades() []Trade { return e.trades }

// EquityCurve returns the sampled (timestamp, totalValue, cash) sequence.
func (e *Engine) EquityCurve() []EquityPoint { return e.equityCurve }
