// cmd/backtest runs a single strategy over a CSV or Postgres-backed dataset
// and prints the resulting metrics, optionally writing an HTML report.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"jax-trading-assistant/libs/backtest"
	"jax-trading-assistant/libs/calendar"
	"jax-trading-assistant/libs/dataset"
	"jax-trading-assistant/libs/database"
	"jax-trading-assistant/libs/observability"
	"jax-trading-assistant/libs/walkforward"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var (
		csvPath    = flag.String("csv", "", "path to a daily-bar CSV file (date,open,high,low,close,volume)")
		symbol     = flag.String("symbol", "", "ticker to run the strategy against")
		dsn        = flag.String("dsn", "", "Postgres DSN; when set, overrides -csv")
		start      = flag.String("start", "", "start date, YYYY-MM-DD")
		end        = flag.String("end", "", "end date, YYYY-MM-DD")
		capital    = flag.Float64("capital", 100_000, "starting cash balance")
		brokerName = flag.String("broker", "ibkr-tiered", "ibkr-tiered | ibkr-fixed | alpaca")
		fastWindow = flag.Int("fast", 20, "fast SMA window")
		slowWindow = flag.Int("slow", 50, "slow SMA window")
		reportPath = flag.String("report", "", "write an HTML report to this path")
		walkFwd    = flag.Bool("walkforward", false, "run walk-forward validation instead of a single pass")
		catalogDir = flag.String("catalog", "./.backtest-datasets", "dataset registry directory, used with -csv")
		metricsOut = flag.String("metrics", "", "write operational metrics (bars processed, orders rejected, datastore latency) in Prometheus text format to this path")
	)
	flag.Parse()

	metricsReg := observability.NewRegistry()
	telemetry := backtest.NewTelemetry(metricsReg)

	if *symbol == "" {
		log.Fatal("backtest: -symbol is required")
	}
	startTs, err := parseDate(*start)
	if err != nil {
		log.Fatalf("backtest: -start: %v", err)
	}
	endTs, err := parseDate(*end)
	if err != nil {
		log.Fatalf("backtest: -end: %v", err)
	}

	ctx := context.Background()
	ds, closeDS, err := buildDataSource(ctx, *dsn, *csvPath, *symbol, *catalogDir, telemetry)
	if err != nil {
		log.Fatalf("backtest: data source: %v", err)
	}
	defer closeDS()

	broker, err := buildBroker(*brokerName)
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}

	holidayStore, err := calendar.OpenStore("./.backtest-calendar")
	if err != nil {
		log.Fatalf("backtest: calendar: %v", err)
	}

	strategy := smaCrossover(*fastWindow, *slowWindow)

	if *walkFwd {
		runWalkForward(ctx, *dsn, *csvPath, *symbol, *catalogDir, strategy, broker, startTs, endTs, *capital)
		return
	}

	cfg := backtest.EngineConfig{
		Strategy:         strategy,
		DataSource:       ds,
		Broker:           broker,
		StartDate:        startTs,
		EndDate:          endTs,
		StartCashBalance: *capital,
		EnableLogs:       true,
		EnableFeatures:   true,
		Calendar:         holidayStore,
		Exchange:         "NYSE",
		Telemetry:        telemetry,
	}
	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		log.Fatalf("backtest: engine: %v", err)
	}

	metrics, err := engine.RunOnStock(ctx, *symbol)
	if err != nil {
		log.Fatalf("backtest: run: %v", err)
	}

	printMetrics(metrics, engine.TotalFees())

	if *reportPath != "" {
		html, err := engine.BuildReport(ctx, metrics)
		if err != nil {
			log.Fatalf("backtest: report: %v", err)
		}
		if err := os.WriteFile(*reportPath, []byte(html), 0o644); err != nil {
			log.Fatalf("backtest: write report: %v", err)
		}
		log.Printf("report written to %s", *reportPath)
	}

	if *metricsOut != "" {
		var buf bytes.Buffer
		metricsReg.WriteText(&buf)
		if err := os.WriteFile(*metricsOut, buf.Bytes(), 0o644); err != nil {
			log.Fatalf("backtest: write metrics: %v", err)
		}
		log.Printf("metrics written to %s", *metricsOut)
	}
}

func runWalkForward(ctx context.Context, dsn, csvPath, symbol, catalogDir string, strategy backtest.Strategy, broker backtest.Broker, startTs, endTs int64, capital float64) {
	if dsn != "" {
		log.Fatal("backtest: -walkforward requires -csv (the dataset registry is file-backed)")
	}
	reg, err := dataset.Open(catalogDir)
	if err != nil {
		log.Fatalf("backtest: dataset registry: %v", err)
	}
	ds, err := reg.GetByName(symbol)
	if err != nil {
		ds, err = reg.Register(dataset.Dataset{Name: symbol, Symbol: symbol, FilePath: csvPath, Source: "csv"})
		if err != nil {
			log.Fatalf("backtest: register dataset: %v", err)
		}
	}

	wf := walkforward.New(reg)
	result, err := wf.Run(ctx, walkforward.Config{
		Strategy:       strategy,
		Broker:         broker,
		Symbols:        []string{symbol},
		FullStart:      startTs,
		FullEnd:        endTs,
		InitialCapital: capital,
		DatasetID:      ds.ID,
	})
	if err != nil {
		log.Fatalf("backtest: walkforward: %v", err)
	}

	fmt.Printf("walk-forward windows: %d\n", len(result.Windows))
	fmt.Printf("WFER: %.3f (%s)\n", result.WFER, walkforward.WFERVerdict(result))
	fmt.Printf("pass rate: %.1f%%  stability: %.3f  total OOS trades: %d\n",
		result.PassRate*100, result.StabilityScore, result.TotalOOSTrades)
}

func buildDataSource(ctx context.Context, dsn, csvPath, symbol, catalogDir string, telemetry *backtest.Telemetry) (backtest.DataSource, func(), error) {
	if dsn != "" {
		db, err := database.Connect(ctx, &database.Config{DSN: dsn})
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect: %w", err)
		}
		return backtest.NewSQLDataSource(db.DB, telemetry), func() { db.Close() }, nil
	}
	if csvPath == "" {
		return nil, func() {}, fmt.Errorf("either -dsn or -csv must be set")
	}

	reg, err := dataset.Open(catalogDir)
	if err != nil {
		return nil, func() {}, fmt.Errorf("dataset registry: %w", err)
	}
	d, err := reg.GetByName(symbol)
	if err != nil {
		d, err = reg.Register(dataset.Dataset{Name: symbol, Symbol: symbol, FilePath: csvPath, Source: "csv"})
		if err != nil {
			return nil, func() {}, fmt.Errorf("register dataset: %w", err)
		}
	}
	src, err := reg.LoadDataSource(ctx, d.ID)
	if err != nil {
		return nil, func() {}, fmt.Errorf("load dataset: %w", err)
	}
	return src, func() {}, nil
}

func buildBroker(name string) (backtest.Broker, error) {
	switch name {
	case "ibkr-tiered":
		return backtest.NewIBKRBroker(backtest.IBKRTiered), nil
	case "ibkr-fixed":
		return backtest.NewIBKRBroker(backtest.IBKRFixed), nil
	case "alpaca":
		return backtest.NewAlpacaBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", name)
	}
}

func parseDate(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("date is required")
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func printMetrics(m backtest.Metrics, totalFees float64) {
	fmt.Printf("total return:   %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("CAGR:           %.2f%%\n", m.CAGR*100)
	fmt.Printf("Sharpe ratio:   %.3f\n", m.Sharpe)
	fmt.Printf("max drawdown:   %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("win rate:       %.1f%%\n", m.WinRate*100)
	fmt.Printf("total trades:   %d\n", m.TotalTrades)
	fmt.Printf("total fees:     $%.2f\n", totalFees)
}
