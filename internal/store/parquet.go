package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/market"
)

// Compile-time interface check.
var _ market.CandleCache = (*ParquetStore)(nil)

// ParquetStore implements market.CandleCache using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRecord is the Parquet schema for cached candles.
type CandleRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// market.CandleCache implementation
// ---------------------------------------------------------------------------

// SaveCandles replaces the cached series for (source, symbol, timeframe) at:
//
//	<DataDir>/candles/<source>/<SYMBOL>/<timeframe>.parquet
func (s *ParquetStore) SaveCandles(_ context.Context, source, symbol, timeframe string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	records := make([]CandleRecord, len(candles))
	for i, c := range candles {
		records[i] = CandleRecord{
			Timestamp: c.Timestamp.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	path := s.candlePath(source, symbol, timeframe)
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing candles for %s/%s/%s: %w", source, symbol, timeframe, err)
	}
	return nil
}

// LoadCandles reads the cached series and the time it was written. A missing
// file yields no candles and a zero time.
func (s *ParquetStore) LoadCandles(_ context.Context, source, symbol, timeframe string) ([]domain.Candle, time.Time, error) {
	path := s.candlePath(source, symbol, timeframe)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}

	records, err := readParquetFile[CandleRecord](path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading %s: %w", path, err)
	}
	candles := make([]domain.Candle, len(records))
	for i, r := range records {
		candles[i] = domain.Candle{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return candles, info.ModTime(), nil
}

// ListSymbols returns the symbols cached for source, in directory form
// (e.g. "ETH-USD").
func (s *ParquetStore) ListSymbols(_ context.Context, source string) ([]string, error) {
	dir := filepath.Join(s.DataDir, "candles", source)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/candles/<source>/<SYMBOL>/<timeframe>.parquet
func (s *ParquetStore) candlePath(source, symbol, timeframe string) string {
	sym := strings.ToUpper(strings.NewReplacer("/", "-", "\\", "-").Replace(symbol))
	if timeframe == "" {
		timeframe = "5m"
	}
	return filepath.Join(s.DataDir, "candles", source, sym, strings.ToLower(timeframe)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
