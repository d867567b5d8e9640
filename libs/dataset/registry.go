// Package dataset provides versioned dataset management with content-hash
// reproducibility. Datasets are OHLCV CSV files catalogued in a JSON
// registry file. CSVDataSource adapts a registered dataset into the
// backtest.DataSource interface.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jax-trading-assistant/libs/backtest"
)

const schemaVer = "ohlcv_v1"

// Dataset describes one catalogued data file.
type Dataset struct {
	// ID is a UUID assigned by Register.
	ID string `json:"id"`
	// Name is a human-readable label e.g. "AAPL_2023".
	Name string `json:"name"`
	// Symbol is the primary ticker e.g. "AAPL".
	Symbol string `json:"symbol"`
	// Source describes the origin: "csv", "ib", "alpha_vantage", etc.
	Source string `json:"source"`
	// StartDate / EndDate are the inclusive date range of the data.
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	// FilePath is the path to the OHLCV CSV file (absolute or relative to CWD).
	FilePath string `json:"file_path"`
	// Hash is the SHA-256 hex digest of the file content at registration time.
	// Use this to detect file mutations that would break determinism.
	Hash string `json:"hash"`
	// SchemaVer is the CSV schema version string.
	SchemaVer string `json:"schema_ver"`
	// CreatedAt is when Register() was called.
	CreatedAt time.Time `json:"created_at"`
	// RecordCount is the number of candle rows found in the file.
	RecordCount int `json:"record_count"`
}

const catalogFile = "catalog.json"

// Registry is a thread-safe store of Dataset records persisted as JSON in a
// directory on disk.
type Registry struct {
	mu         sync.RWMutex
	catalogDir string
	datasets   map[string]Dataset // keyed by ID
}

// Open loads (or creates) a Registry backed by catalogDir.
func Open(catalogDir string) (*Registry, error) {
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return nil, fmt.Errorf("dataset.Open: mkdir %q: %w", catalogDir, err)
	}

	r := &Registry{
		catalogDir: catalogDir,
		datasets:   make(map[string]Dataset),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates the CSV file at d.FilePath, computes its SHA-256 hash,
// assigns a UUID, and persists the entry to the catalog.
func (r *Registry) Register(d Dataset) (Dataset, error) {
	if d.Name == "" {
		return Dataset{}, fmt.Errorf("dataset.Register: Name must not be empty")
	}
	if d.Symbol == "" {
		return Dataset{}, fmt.Errorf("dataset.Register: Symbol must not be empty")
	}
	if d.FilePath == "" {
		return Dataset{}, fmt.Errorf("dataset.Register: FilePath must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.datasets {
		if existing.Name == d.Name {
			return Dataset{}, fmt.Errorf("dataset.Register: name %q already registered (id=%s)", d.Name, existing.ID)
		}
	}

	hash, count, err := hashAndCount(d.FilePath)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset.Register: file %q: %w", d.FilePath, err)
	}

	d.ID = uuid.New().String()
	d.Hash = hash
	d.RecordCount = count
	d.SchemaVer = schemaVer
	d.CreatedAt = time.Now().UTC()
	if d.Source == "" {
		d.Source = "csv"
	}

	r.datasets[d.ID] = d

	if err := r.save(); err != nil {
		delete(r.datasets, d.ID)
		return Dataset{}, fmt.Errorf("dataset.Register: persist: %w", err)
	}

	log.Printf("[dataset] registered name=%q id=%s symbol=%s records=%d hash=%s",
		d.Name, d.ID, d.Symbol, d.RecordCount, d.Hash[:12])

	return d, nil
}

// Get returns the Dataset with the given ID.
func (r *Registry) Get(id string) (Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.datasets[id]
	if !ok {
		return Dataset{}, fmt.Errorf("dataset.Get: id %q not found", id)
	}
	return d, nil
}

// GetByName returns the first Dataset whose Name matches.
func (r *Registry) GetByName(name string) (Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.datasets {
		if d.Name == name {
			return d, nil
		}
	}
	return Dataset{}, fmt.Errorf("dataset.GetByName: %q not found", name)
}

// List returns all Datasets sorted by CreatedAt ascending.
func (r *Registry) List() []Dataset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Dataset) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Remove deletes a Dataset entry from the catalog. It does NOT delete the
// underlying data file.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.datasets[id]; !ok {
		return fmt.Errorf("dataset.Remove: id %q not found", id)
	}
	delete(r.datasets, id)
	return r.save()
}

// VerifyHash re-computes the file hash and returns an error if it has
// changed since registration, which would invalidate backtest
// reproducibility for any run built on this dataset's ID.
func (r *Registry) VerifyHash(id string) error {
	d, err := r.Get(id)
	if err != nil {
		return err
	}

	hash, _, err := hashAndCount(d.FilePath)
	if err != nil {
		return fmt.Errorf("dataset.VerifyHash: %w", err)
	}
	if hash != d.Hash {
		return fmt.Errorf("dataset.VerifyHash: id=%s file content has changed (registered=%s current=%s)",
			id, d.Hash[:12], hash[:12])
	}
	return nil
}

// LoadDataSource opens a registered CSV dataset as a backtest.DataSource
// ready for use by the Engine. The file hash is not re-verified here for
// performance; call VerifyHash first if strict reproducibility is required.
func (r *Registry) LoadDataSource(_ context.Context, id string) (*CSVDataSource, error) {
	d, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return LoadCSV(d.FilePath, d.Symbol)
}

func (r *Registry) catalogPath() string {
	return filepath.Join(r.catalogDir, catalogFile)
}

func (r *Registry) load() error {
	path := r.catalogPath()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dataset: open catalog %q: %w", path, err)
	}
	defer f.Close()

	var list []Dataset
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return fmt.Errorf("dataset: decode catalog: %w", err)
	}
	for _, d := range list {
		r.datasets[d.ID] = d
	}
	return nil
}

func (r *Registry) save() error {
	list := make([]Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		list = append(list, d)
	}
	slices.SortFunc(list, func(a, b Dataset) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	tmp := r.catalogPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("dataset: create catalog tmp: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("dataset: encode catalog: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, r.catalogPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dataset: rename catalog: %w", err)
	}
	return nil
}

// hashAndCount reads the file, computes its SHA-256 hex digest, and counts
// the number of non-header CSV rows.
func hashAndCount(filePath string) (hash string, count int, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	r := csv.NewReader(io.TeeReader(f, h))

	if _, err := r.Read(); err != nil {
		return "", 0, fmt.Errorf("read CSV header: %w", err)
	}

	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
		count++
	}

	return hex.EncodeToString(h.Sum(nil)), count, nil
}

// CSVDataSource implements backtest.DataSource by serving candles from
// in-memory slices loaded from an OHLCV CSV file, one sorted slice per
// symbol. It is the single-timeframe, flat-file counterpart to
// SQLDataSource: useful for a local research loop with no datastore
// running, or as the fallback wrapped by a circuit-broken network source.
type CSVDataSource struct {
	timeframe backtest.Timeframe
	bySymbol  map[string][]backtest.Candle // sorted by TimestampMs ascending
}

// LoadCSV reads the OHLCV CSV at filePath and returns a CSVDataSource. Rows
// are assigned to defaultSymbol unless the file carries its own "symbol"
// column.
//
// Expected header (case-insensitive): date,open,high,low,close,volume[,symbol][,transactions]
// Date formats: 2006-01-02, 2006-01-02 15:04:05, RFC3339.
func LoadCSV(filePath, defaultSymbol string) (*CSVDataSource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: read header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := func(name string) (int, error) {
		i, ok := colIdx[name]
		if !ok {
			return 0, fmt.Errorf("CSV missing column %q", name)
		}
		return i, nil
	}

	dateCol, err := idx("date")
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}
	openCol, err := idx("open")
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}
	highCol, err := idx("high")
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}
	lowCol, err := idx("low")
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}
	closeCol, err := idx("close")
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}
	volCol, err := idx("volume")
	if err != nil {
		return nil, fmt.Errorf("dataset.LoadCSV: %w", err)
	}

	symCol, hasSymCol := colIdx["symbol"]
	transCol, hasTransCol := colIdx["transactions"]

	dateFormats := []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}
	parseDate := func(s string) (time.Time, error) {
		s = strings.TrimSpace(s)
		for _, layout := range dateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date format %q", s)
	}
	parseFloat := func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}

	ds := &CSVDataSource{timeframe: backtest.TF1d, bySymbol: make(map[string][]backtest.Candle)}
	lineNo := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d: %w", lineNo+1, err)
		}
		lineNo++

		symbol := defaultSymbol
		if hasSymCol && symCol < len(row) {
			symbol = strings.TrimSpace(row[symCol])
		}

		ts, err := parseDate(row[dateCol])
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d date: %w", lineNo, err)
		}
		o, err := parseFloat(row[openCol])
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d open: %w", lineNo, err)
		}
		h2, err := parseFloat(row[highCol])
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d high: %w", lineNo, err)
		}
		l, err := parseFloat(row[lowCol])
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d low: %w", lineNo, err)
		}
		c, err := parseFloat(row[closeCol])
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d close: %w", lineNo, err)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(row[volCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dataset.LoadCSV: line %d volume: %w", lineNo, err)
		}

		var transactions uint64
		if hasTransCol && transCol < len(row) {
			if transactions, err = strconv.ParseUint(strings.TrimSpace(row[transCol]), 10, 64); err != nil {
				return nil, fmt.Errorf("dataset.LoadCSV: line %d transactions: %w", lineNo, err)
			}
		}

		ds.bySymbol[symbol] = append(ds.bySymbol[symbol], backtest.Candle{
			Open:         o,
			High:         h2,
			Low:          l,
			Close:        c,
			Volume:       v,
			Transactions: transactions,
			TimestampMs:  ts.UnixMilli(),
		})
	}

	for symbol, candles := range ds.bySymbol {
		slices.SortFunc(candles, func(a, b backtest.Candle) int {
			return int(a.TimestampMs - b.TimestampMs)
		})
		ds.bySymbol[symbol] = candles
	}

	return ds, nil
}

func (ds *CSVDataSource) indexOf(symbol string, ts int64) int {
	candles := ds.bySymbol[symbol]
	return sort.Search(len(candles), func(i int) bool { return candles[i].TimestampMs > ts })
}

// RangeCandles returns candles in [startTs, endTs) ascending.
func (ds *CSVDataSource) RangeCandles(_ context.Context, symbol string, _ backtest.Timeframe, startTs, endTs int64) ([]backtest.Candle, error) {
	candles := ds.bySymbol[symbol]
	lo := ds.indexOf(symbol, startTs-1)
	hi := ds.indexOf(symbol, endTs-1)
	if lo >= hi {
		return nil, nil
	}
	out := make([]backtest.Candle, hi-lo)
	copy(out, candles[lo:hi])
	return out, nil
}

// PrefetchCandles returns up to limit candles with timestamp >= startTs,
// ascending.
func (ds *CSVDataSource) PrefetchCandles(_ context.Context, symbol string, _ backtest.Timeframe, startTs int64, limit int) ([]backtest.Candle, error) {
	candles := ds.bySymbol[symbol]
	lo := ds.indexOf(symbol, startTs-1)
	hi := lo + limit
	if hi > len(candles) {
		hi = len(candles)
	}
	if lo >= hi {
		return nil, nil
	}
	out := make([]backtest.Candle, hi-lo)
	copy(out, candles[lo:hi])
	return out, nil
}

// LookbackCandles returns up to limit candles in [sinceTs, atTs], descending.
func (ds *CSVDataSource) LookbackCandles(_ context.Context, symbol string, _ backtest.Timeframe, atTs, sinceTs int64, limit int) ([]backtest.Candle, error) {
	candles := ds.bySymbol[symbol]
	hi := ds.indexOf(symbol, atTs) - 1
	lo := ds.indexOf(symbol, sinceTs-1)
	if hi < lo || hi < 0 {
		return nil, nil
	}
	if hi-lo+1 > limit {
		lo = hi - limit + 1
	}
	out := make([]backtest.Candle, 0, hi-lo+1)
	for i := hi; i >= lo; i-- {
		out = append(out, candles[i])
	}
	return out, nil
}

// AllSymbolsRange returns every loaded symbol's candles within
// [startTs, endTs], keyed by symbol.
func (ds *CSVDataSource) AllSymbolsRange(ctx context.Context, tf backtest.Timeframe, startTs, endTs int64) (map[string][]backtest.Candle, error) {
	out := make(map[string][]backtest.Candle, len(ds.bySymbol))
	for symbol := range ds.bySymbol {
		candles, err := ds.RangeCandles(ctx, symbol, tf, startTs, endTs+1)
		if err != nil {
			return nil, err
		}
		if len(candles) > 0 {
			out[symbol] = candles
		}
	}
	return out, nil
}

// ListSymbols enumerates every symbol loaded from the CSV file.
func (ds *CSVDataSource) ListSymbols(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(ds.bySymbol))
	for symbol := range ds.bySymbol {
		out = append(out, symbol)
	}
	slices.Sort(out)
	return out, nil
}
