package backtest

import (
	"time"

	"jax-trading-assistant/libs/observability"
)

// Telemetry wires the engine's operational signals -- bars dispatched,
// orders rejected by reason, datastore fetch latency -- into a
// libs/observability Prometheus registry, distinct from the statistical
// Metrics a run produces. A nil *Telemetry is valid and every method is a
// no-op, so EngineConfig.Telemetry and NewSQLDataSource's telemetry
// parameter are both optional.
type Telemetry struct {
	barsProcessed    *observability.Counter
	ordersRejected   *observability.Counter
	datastoreLatency *observability.Histogram
}

// NewTelemetry registers the backtest engine's operational metrics into reg.
// Call once per registry; pass the result to EngineConfig.Telemetry and to
// NewSQLDataSource so both the tick loop and the datastore round trips report
// through the same registry.
func NewTelemetry(reg *observability.Registry) *Telemetry {
	return &Telemetry{
		barsProcessed: reg.NewCounter(
			"backtest_bars_processed_total",
			"Total bars dispatched to the strategy callback, by ticker."),
		ordersRejected: reg.NewCounter(
			"backtest_orders_rejected_total",
			"Total Buy/Sell calls rejected, by reason."),
		datastoreLatency: reg.NewHistogram(
			"backtest_datastore_fetch_seconds",
			"Latency of DataSource round trips against the candle store, by query.",
			observability.DefaultBuckets),
	}
}

func (t *Telemetry) barDispatched(ticker string) {
	if t == nil {
		return
	}
	t.barsProcessed.Inc("ticker", ticker)
}

func (t *Telemetry) orderRejected(reason string) {
	if t == nil {
		return
	}
	t.ordersRejected.Inc("reason", reason)
}

func (t *Telemetry) observeFetch(query string, d time.Duration) {
	if t == nil {
		return
	}
	t.datastoreLatency.ObserveDuration(d, "query", query)
}
