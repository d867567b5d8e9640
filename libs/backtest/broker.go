package backtest

import (
	"github.com/shopspring/decimal"
)

// OrderSide is the buy/sell direction passed to Broker.CalculateFees.
type OrderSide uint8

const (
	Buy OrderSide = iota
	Sell
)

// Broker is a pure fee-calculation policy: a capability of one operation,
// {calculateFees}. The engine holds exactly one Broker for the duration of a
// run; IBKR and Alpaca are its two concrete variants.
type Broker interface {
	CalculateFees(qty uint64, price float64, side OrderSide) float64
}

// IBKRTier selects between IBKR's fixed and tiered commission schedules.
type IBKRTier uint8

const (
	IBKRFixed IBKRTier = iota
	IBKRTiered
)

// IBKRBroker implements the IBKR fixed/tiered commission schedule plus
// FINRA TAF/CAT and, for tiered only, clearing and exchange/FINRA
// pass-throughs. The clamped-commission and pass-through terms are computed
// with decimal arithmetic rather than float64 so no float error accumulates
// across them; the resulting fee is not rounded to the cent.
type IBKRBroker struct {
	Tier      IBKRTier
	Slippage  float64 // fraction of notional, e.g. 0.0005 = 5 bps
}

// NewIBKRBroker builds an IBKR broker for the given tier with zero slippage.
func NewIBKRBroker(tier IBKRTier) *IBKRBroker {
	return &IBKRBroker{Tier: tier}
}

// WithSlippage sets the slippage fraction and returns the broker for
// chaining, matching the builder style used elsewhere in this package.
func (b *IBKRBroker) WithSlippage(slippage float64) *IBKRBroker {
	b.Slippage = slippage
	return b
}

func (b *IBKRBroker) CalculateFees(qty uint64, price float64, side OrderSide) float64 {
	d := func(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

	qtyD := decimal.NewFromInt(int64(qty))
	priceD := d(price)
	notional := qtyD.Mul(priceD)

	var perShare, minFee decimal.Decimal
	switch b.Tier {
	case IBKRTiered:
		perShare, minFee = d(0.0035), d(0.35)
	default:
		perShare, minFee = d(0.005), d(1.00)
	}

	commission := qtyD.Mul(perShare)
	maxFee := notional.Mul(d(0.01))
	if commission.LessThan(minFee) {
		commission = minFee
	}
	if commission.GreaterThan(maxFee) {
		commission = maxFee
	}

	total := commission
	if side == Sell {
		total = total.Add(qtyD.Mul(d(0.000166))) // FINRA TAF
		total = total.Add(qtyD.Mul(d(0.000022))) // FINRA CAT
	}

	if b.Tier == IBKRTiered {
		total = total.Add(qtyD.Mul(d(0.00020)))             // clearing
		total = total.Add(commission.Mul(d(0.000175)))      // NYSE pass-through
		total = total.Add(commission.Mul(d(0.00056)))       // FINRA pass-through
	}

	total = total.Add(notional.Mul(d(b.Slippage)))

	f, _ := total.Float64()
	return f
}

// AlpacaBroker implements Alpaca's zero-commission schedule: no commission,
// FINRA TAF charged only on sells and capped, CAT on every execution.
type AlpacaBroker struct {
	Slippage float64
}

// NewAlpacaBroker builds an Alpaca broker with zero slippage.
func NewAlpacaBroker() *AlpacaBroker {
	return &AlpacaBroker{}
}

// WithSlippage sets the slippage fraction and returns the broker for
// chaining.
func (b *AlpacaBroker) WithSlippage(slippage float64) *AlpacaBroker {
	b.Slippage = slippage
	return b
}

func (b *AlpacaBroker) CalculateFees(qty uint64, price float64, side OrderSide) float64 {
	d := func(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

	qtyD := decimal.NewFromInt(int64(qty))
	notional := qtyD.Mul(d(price))

	total := decimal.Zero
	if side == Sell {
		cappedQty := qtyD
		if qty > 50_205 {
			cappedQty = decimal.NewFromInt(50_205)
		}
		exact := cappedQty.Mul(d(0.000195))
		taf := exact.Mul(decimal.NewFromInt(100)).Ceil().Div(decimal.NewFromInt(100))
		cap := decimal.NewFromFloat(9.79)
		if taf.GreaterThan(cap) {
			taf = cap
		}
		total = total.Add(taf)
	}
	total = total.Add(qtyD.Mul(d(0.0000265))) // FINRA CAT, all executions
	total = total.Add(notional.Mul(d(b.Slippage)))

	f, _ := total.Float64()
	return f
}
