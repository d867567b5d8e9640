package backtest

// Swap is one executed buy or sell, logged individually in issue order.
type Swap struct {
	Side        OrderSide
	Ticker      string
	Qty         uint64
	Price       float64
	Fee         float64
	TimestampMs int64
}

// Trade is a completed round trip: one or more buys followed by the closing
// sell, recorded at the moment the sell executes.
type Trade struct {
	Ticker         string
	Qty            uint64
	Price          float64
	TimestampMs    int64
	Fee            float64
	Profit         float64
	ProfitPercent  float64
	Features       []float64
}

// EquityPoint is one sample of the equity curve, appended once per
// dispatched bar immediately after the callback returns.
type EquityPoint struct {
	TimestampMs int64
	TotalValue  float64
	CashBalance float64
}

// Buy executes a buy order, charging cost + broker fee against cashBalance.
// Fails with ErrInsufficientCash if cashBalance cannot cover it, or
// ErrInvalidOrder for a non-positive qty/price.
func (e *Engine) Buy(ticker string, qty uint64, price float64, ts int64, features []float64) error {
	if qty == 0 || price <= 0 {
		e.telemetry.orderRejected("invalid_order")
		return ErrInvalidOrder
	}

	cost := float64(qty) * price
	fee := e.broker.CalculateFees(qty, price, Buy)

	if cost+fee > e.cashBalance {
		e.telemetry.orderRejected("insufficient_cash")
		return ErrInsufficientCash
	}

	e.cashBalance -= cost + fee
	e.stockBalances[ticker] += qty
	e.totalFees += fee

	e.swaps = append(e.swaps, Swap{Side: Buy, Ticker: ticker, Qty: qty, Price: price, Fee: fee, TimestampMs: ts})
	e.stockPrices[ticker] = price
	e.holdSince[ticker] = ts
	if len(features) > 0 {
		e.stockFeatures[ticker] = features
	}
	return nil
}

// Sell executes a sell order, crediting proceeds minus broker fee to
// cashBalance, and attributes round-trip P&L by walking the swap log back to
// the last sell (or start of log) on this ticker. Fails with
// ErrInsufficientShares if the position cannot cover qty.
func (e *Engine) Sell(ticker string, qty uint64, price float64, ts int64) error {
	if qty == 0 || price <= 0 {
		e.telemetry.orderRejected("invalid_order")
		return ErrInvalidOrder
	}

	held, ok := e.stockBalances[ticker]
	if !ok || held < qty {
		e.telemetry.orderRejected("insufficient_shares")
		return ErrInsufficientShares
	}

	proceeds := float64(qty) * price
	fee := e.broker.CalculateFees(qty, price, Sell)

	e.cashBalance += proceeds - fee
	e.stockBalances[ticker] -= qty
	e.totalFees += fee

	matchedCost, matchedFees := e.walkBackToLastSell(ticker)
	profit := proceeds - matchedCost - matchedFees - fee
	profitPercent := 0.0
	if matchedCost > 0 {
		profitPercent = profit / matchedCost
	}

	e.trades = append(e.trades, Trade{
		Ticker:        ticker,
		Qty:           qty,
		Price:         price,
		TimestampMs:   ts,
		Fee:           fee,
		Profit:        profit,
		ProfitPercent: profitPercent,
		Features:      e.stockFeatures[ticker],
	})

	// Record the swap after pushing the Trade so the walk above excludes it.
	e.swaps = append(e.swaps, Swap{Side: Sell, Ticker: ticker, Qty: qty, Price: price, Fee: fee, TimestampMs: ts})

	if e.stockBalances[ticker] == 0 {
		delete(e.stockBalances, ticker)
		delete(e.holdSince, ticker)
		delete(e.stockFeatures, ticker)
	}
	return nil
}

// walkBackToLastSell walks swaps for ticker in reverse, collecting every BUY
// up to (but not including) the first SELL encountered, or the start of the
// log. It returns the summed matched cost and matched fees of those buys.
//
// Open question carried from the source: a position closed across multiple
// sells attributes all buy cost/fees to whichever sell runs this walk first;
// a later sell on the same ticker sees no unmatched buys left and attributes
// zero cost. This asymmetry is intentional and documented, not a bug to fix.
func (e *Engine) walkBackToLastSell(ticker string) (matchedCost, matchedFees float64) {
	for i := len(e.swaps) - 1; i >= 0; i-- {
		swap := e.swaps[i]
		if swap.Ticker != ticker {
			continue
		}
		if swap.Side == Sell {
			break
		}
		matchedCost += float64(swap.Qty) * swap.Price
		matchedFees += swap.Fee
	}
	return matchedCost, matchedFees
}

// TotalValue returns cashBalance plus the mark-to-market value of every held
// position, using the last seen close per ticker.
func (e *Engine) TotalValue() float64 {
	total := e.cashBalance
	for ticker, qty := range e.stockBalances {
		total += float64(qty) * e.stockPrices[ticker]
	}
	return total
}
