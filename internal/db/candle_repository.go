package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

// CandlePoolInterface is the subset of pgxpool.Pool the candle repository
// needs, so tests can substitute pgxmock.
type CandlePoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// CandleRepository is a backtest.CandleSource backed by the candlesticks
// table, with RSI/ATR/EMA/SMA/trend_state columns supplied by whatever
// indicator pipeline populated them. A nil column is left nil on the
// Candle so the strategy computes it on demand.
type CandleRepository struct {
	pool CandlePoolInterface
}

// NewCandleRepository wraps a connection pool as a backtest.CandleSource.
func NewCandleRepository(pool CandlePoolInterface) *CandleRepository {
	return &CandleRepository{pool: pool}
}

// NewCandleRepositoryWithPool is the pgxpool.Pool-specific constructor used
// by production callers; tests use NewCandleRepository with a pgxmock pool.
func NewCandleRepositoryWithPool(pool *pgxpool.Pool) *CandleRepository {
	return &CandleRepository{pool: pool}
}

var _ backtest.CandleSource = (*CandleRepository)(nil)

// GetCandles loads OHLCV + indicator columns for [start, end], ascending by
// timestamp.
func (r *CandleRepository) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]backtest.Candle, error) {
	query := `
		SELECT timestamp, open, high, low, close, volume, rsi, atr, ema, sma, trend_state
		FROM candlesticks
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC
	`
	rows, err := r.pool.Query(ctx, query, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candlesticks: %w", err)
	}
	defer rows.Close()

	var candles []backtest.Candle
	for rows.Next() {
		c := backtest.Candle{Symbol: symbol, DataSource: "database"}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.RSI, &c.ATR, &c.EMA, &c.SMA, &c.TrendState); err != nil {
			return nil, fmt.Errorf("scan candlestick: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candlesticks: %w", err)
	}

	log.Debug().Str("symbol", symbol).Str("timeframe", timeframe).Int("candles", len(candles)).
		Msg("loaded candles from database")

	return candles, nil
}

// ValidateDataAvailability reports coverage as the fraction of expected bars
// (by timeframe spacing) actually present in [start, end].
func (r *CandleRepository) ValidateDataAvailability(ctx context.Context, symbol, timeframe string, start, end time.Time) (backtest.DataAvailability, error) {
	query := `
		SELECT COUNT(*) FROM candlesticks
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp <= $4
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, symbol, timeframe, start, end).Scan(&count); err != nil {
		return backtest.DataAvailability{}, fmt.Errorf("count candlesticks: %w", err)
	}

	spacing := timeframeDuration(timeframe)
	expected := 1
	if spacing > 0 && end.After(start) {
		expected = int(end.Sub(start)/spacing) + 1
	}
	coverage := 0.0
	if expected > 0 {
		coverage = float64(count) / float64(expected)
		if coverage > 1 {
			coverage = 1
		}
	}

	return backtest.DataAvailability{
		Available:  count > 0,
		Coverage:   coverage,
		DataSource: "database",
	}, nil
}

// GetSymbolInfo loads SymbolSpec from the instruments table. When the row is
// absent it returns (nil, nil); callers pass that to backtest.ResolveSymbolSpec,
// which falls back to its hard-coded table.
func (r *CandleRepository) GetSymbolInfo(ctx context.Context, symbol string) (*backtest.SymbolSpec, error) {
	query := `SELECT min_size, contract_size, tick_size, base_currency FROM instruments WHERE symbol = $1`
	var spec backtest.SymbolSpec
	err := r.pool.QueryRow(ctx, query, symbol).Scan(&spec.MinSize, &spec.ContractSize, &spec.TickSize, &spec.BaseCurrency)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query instrument %s: %w", symbol, err)
	}
	return &spec, nil
}

func timeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}
