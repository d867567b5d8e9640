package backtest

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	libtesting "jax-trading-assistant/libs/testing"
)

// reportData is the template's view of a run: summary statistics plus the
// equity curve reduced to a fixed number of rows, since a multi-year
// minute-bar run can carry hundreds of thousands of points.
type reportData struct {
	RunID       string
	GeneratedAt string
	Metrics     Metrics
	Curve       []EquityPoint
}

const maxReportCurveRows = 200

// buildReport renders metrics and the equity curve as a self-contained HTML
// document: a summary-statistics table plus a downsampled equity-curve
// table standing in for a sparkline, since charting is a presentation
// concern left to whatever renders the report downstream.
func buildReport(ctx context.Context, runID string, m Metrics, curve []EquityPoint) (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"pct": func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
		"num": func(f float64) string { return fmt.Sprintf("%.2f", f) },
		"ts":  func(ms int64) string { return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04") },
	}).Parse(reportTemplate)
	if err != nil {
		return "", fmt.Errorf("parse report template: %w", err)
	}

	data := reportData{
		RunID:       runID,
		GeneratedAt: libtesting.Now(ctx).UTC().Format(time.RFC3339),
		Metrics:     m,
		Curve:       downsample(curve, maxReportCurveRows),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute report template: %w", err)
	}
	return buf.String(), nil
}

// downsample reduces curve to at most n evenly-spaced points, always
// keeping the first and last.
func downsample(curve []EquityPoint, n int) []EquityPoint {
	if len(curve) <= n {
		return curve
	}
	out := make([]EquityPoint, 0, n)
	stride := float64(len(curve)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(curve) {
			idx = len(curve) - 1
		}
		out = append(out, curve[idx])
	}
	return out
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Backtest report {{ .RunID }}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-top: 1em; }
td, th { padding: 4px 12px; border-bottom: 1px solid #ddd; text-align: right; }
th { text-align: left; }
.neg { color: #b00020; }
</style>
</head>
<body>
<h1>Backtest report</h1>
<p>Run {{ .RunID }}, generated {{ .GeneratedAt }}</p>

<table>
<tr><th>Total return</th><td>{{ pct .Metrics.TotalReturn }}</td></tr>
<tr><th>CAGR</th><td>{{ pct .Metrics.CAGR }}</td></tr>
<tr><th>Sharpe</th><td>{{ num .Metrics.Sharpe }}</td></tr>
<tr><th>Max drawdown</th><td class="neg">{{ pct .Metrics.MaxDrawdown }}</td></tr>
<tr><th>Win rate</th><td>{{ pct .Metrics.WinRate }}</td></tr>
<tr><th>Trades</th><td>{{ .Metrics.TotalTrades }} ({{ .Metrics.WinningTrades }}W / {{ .Metrics.LosingTrades }}L)</td></tr>
</table>

<h2>Equity curve</h2>
<table>
<tr><th>Timestamp</th><th>Total value</th><th>Cash</th></tr>
{{ range .Curve }}
<tr><td>{{ ts .TimestampMs }}</td><td>{{ num .TotalValue }}</td><td>{{ num .CashBalance }}</td></tr>
{{ end }}
</table>
</body>
</html>
`
