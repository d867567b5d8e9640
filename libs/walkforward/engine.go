// Package walkforward implements rolling out-of-sample (OOS) validation to
// detect strategy overfitting.
//
// A walk-forward test splits a historical date range into overlapping
// windows. Each window has an in-sample (IS) period for calibration and an
// out-of-sample (OOS) period for forward testing. The engine runs the
// backtest engine on each OOS slice independently, then aggregates the
// results.
//
// The key metric is the WF Efficiency Ratio (WFER):
//
//	WFER = mean(OOS annualised return) / IS annualised return
//
// A WFER > 0.5 is generally considered sufficient for a strategy to be
// deployable. A WFER < 0 means the OOS periods lost money.
package walkforward

import (
	"context"
	"fmt"
	"log"
	"math"

	"jax-trading-assistant/libs/backtest"
	"jax-trading-assistant/libs/dataset"
)

// Config defines a single walk-forward validation run. Dates are UTC
// milliseconds since epoch, matching the backtest engine's convention.
type Config struct {
	Strategy backtest.Strategy
	Broker   backtest.Broker
	// Symbols to run. A single symbol drives Engine.RunOnStock per window;
	// more than one drives Engine.RunOnAllStocks, which reads every symbol
	// the DataSource knows about rather than filtering to this list --
	// walk-forward over a curated subset needs a DataSource that only
	// exposes that subset.
	Symbols []string
	// FullStart / FullEnd bound the entire date range to split.
	FullStart int64
	FullEnd   int64
	// ISPeriodMs is the length of each in-sample window. Defaults to 252
	// calendar days (~1 trading year) when zero.
	ISPeriodMs int64
	// OOSPeriodMs is the length of each out-of-sample window. Defaults to 63
	// calendar days (~1 trading quarter) when zero.
	OOSPeriodMs int64
	// DatasetID is the dataset UUID to use from the registry.
	DatasetID string
	// InitialCapital defaults to 100,000 when zero.
	InitialCapital float64
}

const (
	defaultISPeriodMs  = 252 * 86_400_000
	defaultOOSPeriodMs = 63 * 86_400_000
	defaultCapital     = 100_000.0
)

// Window describes one IS/OOS pair, in UTC milliseconds.
type Window struct {
	Index             int
	ISStart, ISEnd    int64
	OOSStart, OOSEnd  int64
}

// WindowResult holds the outcomes for one walk-forward window.
type WindowResult struct {
	Window
	Metrics       backtest.Metrics
	AnnualisedRet float64
}

// Result is the aggregate output of a walk-forward validation run.
type Result struct {
	Config Config

	// Windows contains per-window OOS results in chronological order.
	Windows []WindowResult

	// ISMetrics comes from running the full IS range (the "calibrated"
	// reference).
	ISMetrics backtest.Metrics

	MeanOOSReturn  float64 // mean of AnnualisedRet across windows
	WFER           float64 // WF Efficiency Ratio = MeanOOSReturn / IS annualised return
	PassRate       float64 // fraction of windows with positive OOS return
	TotalOOSTrades int

	// StabilityScore in [0, 1]: fraction of windows beating zero return,
	// weighted by trade count.
	StabilityScore float64
}

// Engine orchestrates walk-forward validation using the backtest engine and
// the dataset registry.
type Engine struct {
	datasets *dataset.Registry
}

// New creates a walk-forward Engine backed by datasets.
func New(datasets *dataset.Registry) *Engine {
	return &Engine{datasets: datasets}
}

// Run executes a full walk-forward validation.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.ISPeriodMs == 0 {
		cfg.ISPeriodMs = defaultISPeriodMs
	}
	if cfg.OOSPeriodMs == 0 {
		cfg.OOSPeriodMs = defaultOOSPeriodMs
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = defaultCapital
	}

	if err := e.datasets.VerifyHash(cfg.DatasetID); err != nil {
		return nil, fmt.Errorf("walkforward: %w", err)
	}
	ds, err := e.datasets.Get(cfg.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("walkforward: dataset: %w", err)
	}

	log.Printf("[wf] starting strategy=%q dataset=%s IS=%dms OOS=%dms range=%d->%d",
		cfg.Strategy.Name, ds.ID[:8], cfg.ISPeriodMs, cfg.OOSPeriodMs, cfg.FullStart, cfg.FullEnd)

	windows := buildWindows(cfg.FullStart, cfg.FullEnd, cfg.ISPeriodMs, cfg.OOSPeriodMs)
	if len(windows) == 0 {
		return nil, fmt.Errorf("walkforward: date range too short to form a single IS+OOS window (need >= %dms)",
			cfg.ISPeriodMs+cfg.OOSPeriodMs)
	}

	csvSrc, err := e.datasets.LoadDataSource(ctx, cfg.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("walkforward: load dataset: %w", err)
	}

	isEnd := windows[len(windows)-1].ISEnd
	isMetrics, err := e.runWindow(ctx, cfg, csvSrc, cfg.FullStart, isEnd)
	if err != nil {
		return nil, fmt.Errorf("walkforward: IS reference run: %w", err)
	}
	isAnnualised := annualise(isMetrics.TotalReturn, cfg.FullStart, isEnd)

	var winResults []WindowResult
	for _, w := range windows {
		wSrc, err := e.datasets.LoadDataSource(ctx, cfg.DatasetID)
		if err != nil {
			return nil, fmt.Errorf("walkforward: window %d: load dataset: %w", w.Index, err)
		}

		m, err := e.runWindow(ctx, cfg, wSrc, w.OOSStart, w.OOSEnd)
		if err != nil {
			log.Printf("[wf] window %d OOS run failed: %v (skipping)", w.Index, err)
			continue
		}

		oosAnn := annualise(m.TotalReturn, w.OOSStart, w.OOSEnd)
		winResults = append(winResults, WindowResult{Window: w, Metrics: m, AnnualisedRet: oosAnn})

		log.Printf("[wf] window %d OOS %d->%d trades=%d annRet=%.2f%%",
			w.Index, w.OOSStart, w.OOSEnd, m.TotalTrades, oosAnn*100)
	}

	if len(winResults) == 0 {
		return nil, fmt.Errorf("walkforward: all OOS windows failed to produce results")
	}

	result := &Result{Config: cfg, Windows: winResults, ISMetrics: isMetrics}

	var sumRet float64
	var sumTrades int
	var positiveWindows int
	var weightedPositive, totalWeight float64

	for _, w := range winResults {
		sumRet += w.AnnualisedRet
		sumTrades += w.Metrics.TotalTrades
		if w.AnnualisedRet > 0 {
			positiveWindows++
		}
		weight := math.Max(float64(w.Metrics.TotalTrades), 1)
		totalWeight += weight
		if w.AnnualisedRet > 0 {
			weightedPositive += weight
		}
	}

	result.MeanOOSReturn = sumRet / float64(len(winResults))
	result.TotalOOSTrades = sumTrades
	result.PassRate = float64(positiveWindows) / float64(len(winResults))
	if totalWeight > 0 {
		result.StabilityScore = weightedPositive / totalWeight
	}
	if isAnnualised != 0 {
		result.WFER = result.MeanOOSReturn / isAnnualised
	}

	log.Printf("[wf] done windows=%d WFER=%.2f passRate=%.0f%% stabilityScore=%.2f",
		len(winResults), result.WFER, result.PassRate*100, result.StabilityScore)

	return result, nil
}

func (e *Engine) runWindow(ctx context.Context, cfg Config, ds backtest.DataSource, start, end int64) (backtest.Metrics, error) {
	engineCfg := backtest.EngineConfig{
		Strategy:         cfg.Strategy,
		DataSource:       ds,
		Broker:           cfg.Broker,
		StartDate:        start,
		EndDate:          end,
		StartCashBalance: cfg.InitialCapital,
	}
	eng, err := backtest.NewEngine(engineCfg)
	if err != nil {
		return backtest.Metrics{}, err
	}

	if len(cfg.Symbols) == 1 {
		return eng.RunOnStock(ctx, cfg.Symbols[0])
	}
	return eng.RunOnAllStocks(ctx)
}

// buildWindows generates IS/OOS window pairs anchored to fullStart. Each
// subsequent window slides forward by oos.
func buildWindows(fullStart, fullEnd, is, oos int64) []Window {
	var windows []Window
	idx := 0
	for {
		isStart := fullStart + int64(idx)*oos
		isEnd := isStart + is
		oosStart := isEnd
		oosEnd := oosStart + oos

		if oosEnd > fullEnd {
			break
		}

		windows = append(windows, Window{
			Index: idx, ISStart: isStart, ISEnd: isEnd, OOSStart: oosStart, OOSEnd: oosEnd,
		})
		idx++
	}
	return windows
}

// annualise converts a fractional return over a date span (UTC ms) to an
// annualised rate, using 252 trading days as one year.
func annualise(ret float64, start, end int64) float64 {
	days := float64(end-start) / 86_400_000
	if days <= 0 {
		return 0
	}
	tradingYears := days / 252
	if tradingYears <= 0 {
		return 0
	}
	return math.Pow(1+ret, 1/tradingYears) - 1
}

// WFERVerdict returns a human-readable summary of the walk-forward quality.
func WFERVerdict(r *Result) string {
	switch {
	case r.WFER >= 0.7:
		return "EXCELLENT -- strategy transfers to OOS data well"
	case r.WFER >= 0.5:
		return "GOOD -- strategy is deployable"
	case r.WFER >= 0.0:
		return "MARGINAL -- live performance likely to underperform IS"
	default:
		return "FAIL -- strategy loses money out-of-sample; do not deploy"
	}
}
