package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

// CSVCandleSource loads OHLCV data from a flat file for local runs and
// fixture-driven tests where standing up Postgres isn't worth it. The file
// is expected to have a header row and columns:
//
//	timestamp,open,high,low,close,volume[,rsi,atr,ema,sma,trend_state]
//
// timestamp is RFC3339. The trailing indicator columns are optional; when
// present, an empty cell leaves the corresponding Candle field nil.
type CSVCandleSource struct {
	Path   string
	Symbol string
}

// NewCSVCandleSource binds a symbol to the candles found in path.
func NewCSVCandleSource(path, symbol string) *CSVCandleSource {
	return &CSVCandleSource{Path: path, Symbol: symbol}
}

var _ backtest.CandleSource = (*CSVCandleSource)(nil)

// GetCandles reads rows whose timestamp falls within [start, end], in file
// order (callers are expected to supply already-sorted files).
func (s *CSVCandleSource) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]backtest.Candle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open candle csv %s: %w", s.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}

	var candles []backtest.Candle
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		ts, err := time.Parse(time.RFC3339, row[cols["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", row[cols["timestamp"]], err)
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}

		c := backtest.Candle{Symbol: symbol, Timestamp: ts, DataSource: "csv:" + s.Path}
		c.Open, err = parseFloat(row, cols, "open")
		if err != nil {
			return nil, err
		}
		c.High, err = parseFloat(row, cols, "high")
		if err != nil {
			return nil, err
		}
		c.Low, err = parseFloat(row, cols, "low")
		if err != nil {
			return nil, err
		}
		c.Close, err = parseFloat(row, cols, "close")
		if err != nil {
			return nil, err
		}
		c.Volume, err = parseFloat(row, cols, "volume")
		if err != nil {
			return nil, err
		}
		c.RSI = parseOptionalFloat(row, cols, "rsi")
		c.ATR = parseOptionalFloat(row, cols, "atr")
		c.EMA = parseOptionalFloat(row, cols, "ema")
		c.SMA = parseOptionalFloat(row, cols, "sma")
		c.TrendState = parseOptionalInt(row, cols, "trend_state")

		candles = append(candles, c)
	}

	log.Debug().Str("path", s.Path).Str("symbol", symbol).Int("candles", len(candles)).
		Msg("loaded candles from csv")

	return candles, nil
}

// ValidateDataAvailability reports whether any rows in [start, end] were
// found; coverage is binary (1 if any row present, else 0) since a flat file
// carries no reliable bar-spacing guarantee to compute fractional coverage.
func (s *CSVCandleSource) ValidateDataAvailability(ctx context.Context, symbol, timeframe string, start, end time.Time) (backtest.DataAvailability, error) {
	candles, err := s.GetCandles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return backtest.DataAvailability{}, err
	}
	coverage := 0.0
	if len(candles) > 0 {
		coverage = 1.0
	}
	return backtest.DataAvailability{
		Available:  len(candles) > 0,
		Coverage:   coverage,
		DataSource: "csv:" + s.Path,
	}, nil
}

// GetSymbolInfo always returns nil, nil: flat files carry no instrument
// metadata, so the caller falls back to backtest.ResolveSymbolSpec.
func (s *CSVCandleSource) GetSymbolInfo(ctx context.Context, symbol string) (*backtest.SymbolSpec, error) {
	return nil, nil
}

func parseFloat(row []string, cols map[string]int, name string) (float64, error) {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return 0, fmt.Errorf("missing required column %q", name)
	}
	v, err := strconv.ParseFloat(row[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("parse column %q: %w", name, err)
	}
	return v, nil
}

func parseOptionalFloat(row []string, cols map[string]int, name string) *float64 {
	idx, ok := cols[name]
	if !ok || idx >= len(row) || row[idx] == "" {
		return nil
	}
	v, err := strconv.ParseFloat(row[idx], 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptionalInt(row []string, cols map[string]int, name string) *int {
	idx, ok := cols[name]
	if !ok || idx >= len(row) || row[idx] == "" {
		return nil
	}
	v, err := strconv.Atoi(row[idx])
	if err != nil {
		return nil
	}
	return &v
}
