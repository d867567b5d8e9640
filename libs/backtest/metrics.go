package backtest

import "math"

// Metrics is the pure-function summary over an equity curve and closed
// trade log: CAGR, Sharpe, max drawdown, geometric means, and optional
// per-feature Pearson correlations against trade profitability.
type Metrics struct {
	TotalReturn   float64
	CAGR          float64
	Sharpe        float64
	GeoPeriodRet  float64
	GeoAnnualRet  float64
	MaxDrawdown   float64
	AvgDaily      float64
	WinRate       float64
	TotalTrades   int
	WinningTrades int
	LosingTrades  int

	// FeatureCorrelations[k] is the Pearson correlation between feature
	// index k across qualifying trades and their profitPercent; absent
	// (key not present) when fewer than two qualifying trades exist.
	FeatureCorrelations map[int]float64
}

// ComputeMetrics is a pure function: computing it twice on the same equity
// curve and trade log returns bit-identical values.
func ComputeMetrics(curve []EquityPoint, trades []Trade, startCashBalance float64, startDate, endDate int64, mainTf Timeframe) Metrics {
	m := Metrics{FeatureCorrelations: make(map[int]float64)}

	m.TotalTrades = len(trades)
	for _, t := range trades {
		if t.Profit > 0 {
			m.WinningTrades++
		} else if t.Profit < 0 {
			m.LosingTrades++
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}

	if len(curve) < 2 {
		computeFeatureCorrelations(trades, &m)
		return m
	}

	lastEquity := curve[len(curve)-1].TotalValue
	m.TotalReturn = lastEquity/startCashBalance - 1

	const msPerYear = 365 * 86_400_000
	years := float64(endDate-startDate) / float64(msPerYear)
	if years > 0 {
		m.CAGR = math.Pow(1+m.TotalReturn, 1/years) - 1
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalValue
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].TotalValue/prev-1)
	}

	meanRet, stdRet := meanAndPopStdDev(returns)
	m.AvgDaily = meanRet

	ppy := periodsPerYear[mainTf]
	if stdRet > 0 {
		m.Sharpe = (meanRet / stdRet) * math.Sqrt(ppy)
	}

	logMean := 0.0
	for _, r := range returns {
		logMean += math.Log(1 + r)
	}
	if len(returns) > 0 {
		logMean /= float64(len(returns))
	}
	m.GeoPeriodRet = math.Exp(logMean) - 1
	m.GeoAnnualRet = math.Pow(1+m.GeoPeriodRet, ppy) - 1

	peak := curve[0].TotalValue
	maxDD := 0.0
	for _, p := range curve {
		if p.TotalValue > peak {
			peak = p.TotalValue
		}
		if peak == 0 {
			continue
		}
		dd := (p.TotalValue - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	m.MaxDrawdown = maxDD

	computeFeatureCorrelations(trades, &m)
	return m
}

func meanAndPopStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// computeFeatureCorrelations computes Pearson's r between each feature index
// and profitPercent across trades carrying that index. An index is omitted
// from the result when fewer than two qualifying trades exist.
func computeFeatureCorrelations(trades []Trade, m *Metrics) {
	byIndex := make(map[int][]float64)
	profitByIndex := make(map[int][]float64)

	for _, t := range trades {
		for k, v := range t.Features {
			byIndex[k] = append(byIndex[k], v)
			profitByIndex[k] = append(profitByIndex[k], t.ProfitPercent)
		}
	}

	for k, xs := range byIndex {
		ys := profitByIndex[k]
		if r, ok := pearson(xs, ys); ok {
			m.FeatureCorrelations[k] = r
		}
	}
}

func pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n < 2 {
		return 0, false
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	denom := math.Sqrt(varX * varY)
	if denom == 0 {
		return 0, false
	}
	return cov / denom, true
}
