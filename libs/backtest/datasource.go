package backtest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"jax-trading-assistant/libs/resilience"
)

// DataSource is the external time-series store abstraction. Range and
// prefetch queries return ascending-time candles; the lookback query returns
// descending-time candles (newest first), matching the SQL ORDER BY each
// query is specified against.
type DataSource interface {
	// RangeCandles loads [startTs, endTs) ascending.
	RangeCandles(ctx context.Context, symbol string, tf Timeframe, startTs, endTs int64) ([]Candle, error)
	// PrefetchCandles loads up to limit candles with timestamp >= startTs,
	// ascending.
	PrefetchCandles(ctx context.Context, symbol string, tf Timeframe, startTs int64, limit int) ([]Candle, error)
	// LookbackCandles loads up to limit candles in [sinceTs, atTs],
	// descending (newest first) -- the ad-hoc lookback query.
	LookbackCandles(ctx context.Context, symbol string, tf Timeframe, atTs, sinceTs int64, limit int) ([]Candle, error)
	// AllSymbolsRange loads every symbol's candles in [startTs, endTs]
	// ascending, keyed by symbol.
	AllSymbolsRange(ctx context.Context, tf Timeframe, startTs, endTs int64) (map[string][]Candle, error)
	// ListSymbols enumerates every known ticker (SELECT DISTINCT ticker FROM
	// candles_1d).
	ListSymbols(ctx context.Context) ([]string, error)
}

// SQLDataSource implements DataSource against the candles_{tf} tables over
// database/sql (pgx driver), with every round trip guarded by a circuit
// breaker so a flaky datastore trips instead of stalling the tick loop.
type SQLDataSource struct {
	db        *sql.DB
	cb        *resilience.CircuitBreaker
	telemetry *Telemetry
}

// NewSQLDataSource wraps an already-connected *sql.DB. telemetry may be nil;
// when set, every round trip's latency is observed against it.
func NewSQLDataSource(db *sql.DB, telemetry *Telemetry) *SQLDataSource {
	return &SQLDataSource{
		db:        db,
		cb:        resilience.NewCircuitBreaker(resilience.DefaultConfig("backtest-datasource")),
		telemetry: telemetry,
	}
}

func (s *SQLDataSource) RangeCandles(ctx context.Context, symbol string, tf Timeframe, startTs, endTs int64) ([]Candle, error) {
	query := fmt.Sprintf(`SELECT open, high, low, close, volume, transactions, timestamp
		FROM %s WHERE ticker = $1 AND timestamp >= $2 AND timestamp < $3 ORDER BY timestamp ASC`, tf.TableName())
	return s.query(ctx, "range", query, symbol, startTs, endTs)
}

func (s *SQLDataSource) PrefetchCandles(ctx context.Context, symbol string, tf Timeframe, startTs int64, limit int) ([]Candle, error) {
	query := fmt.Sprintf(`SELECT open, high, low, close, volume, transactions, timestamp
		FROM %s WHERE ticker = $1 AND timestamp >= $2 ORDER BY timestamp ASC LIMIT $3`, tf.TableName())
	return s.query(ctx, "prefetch", query, symbol, startTs, limit)
}

func (s *SQLDataSource) LookbackCandles(ctx context.Context, symbol string, tf Timeframe, atTs, sinceTs int64, limit int) ([]Candle, error) {
	query := fmt.Sprintf(`SELECT open, high, low, close, volume, transactions, timestamp
		FROM %s WHERE ticker = $1 AND timestamp <= $2 AND timestamp >= $3 ORDER BY timestamp DESC LIMIT $4`, tf.TableName())
	return s.query(ctx, "lookback", query, symbol, atTs, sinceTs, limit)
}

func (s *SQLDataSource) AllSymbolsRange(ctx context.Context, tf Timeframe, startTs, endTs int64) (map[string][]Candle, error) {
	query := fmt.Sprintf(`SELECT ticker, open, high, low, close, volume, transactions, timestamp
		FROM %s WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY timestamp ASC`, tf.TableName())

	start := time.Now()
	defer func() { s.telemetry.observeFetch("all_symbols_range", time.Since(start)) }()

	result, err := s.cb.ExecuteWithContext(ctx, func() (any, error) {
		rows, err := s.db.QueryContext(ctx, query, startTs, endTs)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make(map[string][]Candle)
		for rows.Next() {
			var ticker string
			var c Candle
			if err := rows.Scan(&ticker, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Transactions, &c.TimestampMs); err != nil {
				return nil, err
			}
			out[ticker] = append(out[ticker], c)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: all-symbols range %s: %v", ErrDataSource, tf, err)
	}
	return result.(map[string][]Candle), nil
}

func (s *SQLDataSource) ListSymbols(ctx context.Context) ([]string, error) {
	start := time.Now()
	defer func() { s.telemetry.observeFetch("list_symbols", time.Since(start)) }()

	result, err := s.cb.ExecuteWithContext(ctx, func() (any, error) {
		rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM candles_1d`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []string
		for rows.Next() {
			var ticker string
			if err := rows.Scan(&ticker); err != nil {
				return nil, err
			}
			out = append(out, ticker)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list symbols: %v", ErrDataSource, err)
	}
	return result.([]string), nil
}

func (s *SQLDataSource) query(ctx context.Context, label, query string, args ...any) ([]Candle, error) {
	start := time.Now()
	defer func() { s.telemetry.observeFetch(label, time.Since(start)) }()

	result, err := s.cb.ExecuteWithContext(ctx, func() (any, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []Candle
		for rows.Next() {
			var c Candle
			if err := rows.Scan(&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Transactions, &c.TimestampMs); err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	return result.([]Candle), nil
}

// ─── CSV streaming cursor ──────────────────────────────────────────────────

// csvCandleCursor reads candles from a CSV reader, preserving the "8-column
// -> transactions at index 7, 7-column -> absent" convention: some sources
// never emit a transactions column, and a missing one is treated as zero
// rather than an error.
type csvCandleCursor struct {
	r *csv.Reader
}

func newCSVCandleCursor(r io.Reader) *csvCandleCursor {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows may have 7 or 8 columns
	return &csvCandleCursor{r: cr}
}

// next reads one row: open,high,low,close,volume,timestamp,<unused>[,transactions].
// Column 6 is not read; transactions comes from column 7 of 8-column rows.
func (c *csvCandleCursor) next() (Candle, error) {
	record, err := c.r.Read()
	if err != nil {
		return Candle{}, err
	}
	if len(record) < 6 {
		return Candle{}, fmt.Errorf("%w: csv row has %d columns, want >= 6", ErrDataSource, len(record))
	}

	var cd Candle
	if cd.Open, err = strconv.ParseFloat(record[0], 64); err != nil {
		return Candle{}, fmt.Errorf("%w: open: %v", ErrDataSource, err)
	}
	if cd.High, err = strconv.ParseFloat(record[1], 64); err != nil {
		return Candle{}, fmt.Errorf("%w: high: %v", ErrDataSource, err)
	}
	if cd.Low, err = strconv.ParseFloat(record[2], 64); err != nil {
		return Candle{}, fmt.Errorf("%w: low: %v", ErrDataSource, err)
	}
	if cd.Close, err = strconv.ParseFloat(record[3], 64); err != nil {
		return Candle{}, fmt.Errorf("%w: close: %v", ErrDataSource, err)
	}
	volume, err := strconv.ParseUint(record[4], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("%w: volume: %v", ErrDataSource, err)
	}
	cd.Volume = volume
	ts, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("%w: timestamp: %v", ErrDataSource, err)
	}
	cd.TimestampMs = ts

	if len(record) >= 8 {
		transactions, err := strconv.ParseUint(record[7], 10, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("%w: transactions: %v", ErrDataSource, err)
		}
		cd.Transactions = transactions
	}
	return cd, nil
}

// ─── CSV export HTTP endpoint ──────────────────────────────────────────────

// RestyCSVSource streams large range scans from a CSV-export HTTP endpoint
// when one is available, falling back to a wrapped SQLDataSource otherwise.
// Requests carry a JWT bearer token signed with signingKey.
type RestyCSVSource struct {
	client     *resty.Client
	fallback   DataSource
	signingKey []byte
	issuer     string
	cb         *resilience.CircuitBreaker
}

// NewRestyCSVSource builds a CSV-export client against baseURL, falling back
// to fallback when the endpoint circuit is open.
func NewRestyCSVSource(baseURL string, signingKey []byte, issuer string, fallback DataSource) *RestyCSVSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)

	return &RestyCSVSource{
		client:     client,
		fallback:   fallback,
		signingKey: signingKey,
		issuer:     issuer,
		cb:         resilience.NewCircuitBreaker(resilience.DefaultConfig("backtest-csv-export")),
	}
}

func (r *RestyCSVSource) bearerToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": r.issuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})
	return token.SignedString(r.signingKey)
}

// RangeCandles streams the CSV export for [startTs, endTs) and falls back to
// the wrapped DataSource on any failure (closed breaker, HTTP error, parse
// error).
func (r *RestyCSVSource) RangeCandles(ctx context.Context, symbol string, tf Timeframe, startTs, endTs int64) ([]Candle, error) {
	result, err := r.cb.ExecuteWithContext(ctx, func() (any, error) {
		signed, err := r.bearerToken()
		if err != nil {
			return nil, err
		}

		resp, err := r.client.R().
			SetContext(ctx).
			SetAuthToken(signed).
			SetQueryParams(map[string]string{
				"ticker":    symbol,
				"timeframe": tf.String(),
				"start":     strconv.FormatInt(startTs, 10),
				"end":       strconv.FormatInt(endTs, 10),
			}).
			SetDoNotParseResponse(true).
			Get("/export/candles.csv")
		if err != nil {
			return nil, err
		}
		body := resp.RawBody()
		defer body.Close()

		if resp.StatusCode() >= 300 {
			return nil, fmt.Errorf("csv export returned status %d", resp.StatusCode())
		}

		cursor := newCSVCandleCursor(body)
		var out []Candle
		for {
			c, err := cursor.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	})
	if err != nil {
		if r.fallback != nil {
			return r.fallback.RangeCandles(ctx, symbol, tf, startTs, endTs)
		}
		return nil, fmt.Errorf("%w: csv export: %v", ErrDataSource, err)
	}
	return result.([]Candle), nil
}

func (r *RestyCSVSource) PrefetchCandles(ctx context.Context, symbol string, tf Timeframe, startTs int64, limit int) ([]Candle, error) {
	return r.fallback.PrefetchCandles(ctx, symbol, tf, startTs, limit)
}

func (r *RestyCSVSource) LookbackCandles(ctx context.Context, symbol string, tf Timeframe, atTs, sinceTs int64, limit int) ([]Candle, error) {
	return r.fallback.LookbackCandles(ctx, symbol, tf, atTs, sinceTs, limit)
}

func (r *RestyCSVSource) AllSymbolsRange(ctx context.Context, tf Timeframe, startTs, endTs int64) (map[string][]Candle, error) {
	return r.fallback.AllSymbolsRange(ctx, tf, startTs, endTs)
}

func (r *RestyCSVSource) ListSymbols(ctx context.Context) ([]string, error) {
	return r.fallback.ListSymbols(ctx)
}
