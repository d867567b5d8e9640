package backtest

import (
	"fmt"
	"sort"
)

// Stock is a Struct-of-Arrays columnar store for one symbol at one
// timeframe. Seven columns (open, high, low, close, volume, transactions,
// timestamp) are kept as dense primitive vectors so the tight lookback loop
// touches contiguous memory rather than per-candle heap objects; a
// timestamp -> row map gives O(1) lookup for exact timestamps and the
// timestamp column itself is binary-searched for nearest-timestamp queries.
//
// Lifecycle: created empty by a loader, populated in strictly ascending
// timestamp order via pushCandle, finish()ed once, read-only thereafter.
type Stock struct {
	symbol      string
	granularity Timeframe

	open, high, low, close floatColumn
	volume, transactions   uintColumn
	timestamp              int64Column

	byTimestamp map[int64]int
	lastTs      int64
	hasRows     bool
	finished    bool
}

// NewStock creates an empty Stock for symbol at the given timeframe.
func NewStock(symbol string, granularity Timeframe) *Stock {
	return &Stock{
		symbol:      symbol,
		granularity: granularity,
		open:        newFloatColumn(0),
		high:        newFloatColumn(0),
		low:         newFloatColumn(0),
		close:       newFloatColumn(0),
		volume:      newUintColumn(0),
		transactions: newUintColumn(0),
		timestamp:   newInt64Column(0),
		byTimestamp: make(map[int64]int),
	}
}

// Symbol returns the ticker this Stock stores candles for.
func (s *Stock) Symbol() string { return s.symbol }

// Granularity returns the bar duration this Stock was built at.
func (s *Stock) Granularity() Timeframe { return s.granularity }

// PushCandle appends c to every column. Fails with ErrInvalidOrder if c's
// timestamp is not strictly greater than the previous row's, or if finish()
// has already been called.
func (s *Stock) PushCandle(c Candle) error {
	if s.finished {
		return fmt.Errorf("%w: push after finish on %s", ErrInvalidOrder, s.symbol)
	}
	if s.hasRows && c.TimestampMs <= s.lastTs {
		return fmt.Errorf("%w: timestamp %d not strictly greater than previous %d on %s",
			ErrInvalidOrder, c.TimestampMs, s.lastTs, s.symbol)
	}

	row := s.timestamp.len()
	s.open.push(c.Open)
	s.high.push(c.High)
	s.low.push(c.Low)
	s.close.push(c.Close)
	s.volume.push(c.Volume)
	s.transactions.push(c.Transactions)
	s.timestamp.push(c.TimestampMs)
	s.byTimestamp[c.TimestampMs] = row

	s.lastTs = c.TimestampMs
	s.hasRows = true
	return nil
}

// Finish shrink-wraps every column. PushCandle fails after this call.
func (s *Stock) Finish() {
	s.open.finish()
	s.high.finish()
	s.low.finish()
	s.close.finish()
	s.volume.finish()
	s.transactions.finish()
	s.timestamp.finish()
	s.finished = true
}

// Size returns the row count.
func (s *Stock) Size() int { return s.timestamp.len() }

// GetCandle materializes row i. ok is false for an out-of-range i.
func (s *Stock) GetCandle(i int) (c Candle, ok bool) {
	if i < 0 || i >= s.Size() {
		return Candle{}, false
	}
	return Candle{
		Open:         s.open.data[i],
		High:         s.high.data[i],
		Low:          s.low.data[i],
		Close:        s.close.data[i],
		Volume:       s.volume.data[i],
		Transactions: s.transactions.data[i],
		TimestampMs:  s.timestamp.data[i],
	}, true
}

// GetCandleAt returns the candle with exactly timestamp ts via the O(1)
// timestamp -> row map.
func (s *Stock) GetCandleAt(ts int64) (Candle, bool) {
	row, ok := s.byTimestamp[ts]
	if !ok {
		return Candle{}, false
	}
	return s.GetCandle(row)
}

// GetIndex returns the insertion point for ts: the first row index whose
// timestamp is strictly greater than ts. The row at ts (or the nearest row
// before it) is therefore GetIndex(ts)-1; callers that want "as of ts" must
// step back by one themselves. Returns 0 if ts precedes every row, Size() if
// ts is after every row.
func (s *Stock) GetIndex(ts int64) int {
	n := s.timestamp.len()
	// sort.Search finds the first index for which timestamp > ts; the row we
	// want is one before that.
	i := sort.Search(n, func(i int) bool { return s.timestamp.data[i] > ts })
	return i
}

// GetCandlesInRange returns every row whose timestamp falls in [startTs,
// endTs], inclusive on both ends, in ascending-time order.
func (s *Stock) GetCandlesInRange(startTs, endTs int64) []Candle {
	lo := sort.Search(s.Size(), func(i int) bool { return s.timestamp.data[i] >= startTs })
	hi := s.GetIndex(endTs) - 1
	if lo > hi {
		return nil
	}
	out := make([]Candle, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		c, _ := s.GetCandle(i)
		out = append(out, c)
	}
	return out
}

// ForEach iterates every row in ascending-time order.
func (s *Stock) ForEach(fn func(i int, c Candle)) {
	for i := 0; i < s.Size(); i++ {
		c, _ := s.GetCandle(i)
		fn(i, c)
	}
}
