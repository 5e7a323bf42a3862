package backtest

import (
	"context"
	"time"
)

// DataAvailability reports whether a CandleSource has usable coverage for a
// requested window.
type DataAvailability struct {
	Available  bool
	Coverage   float64 // fraction in [0, 1]
	DataSource string
}

// CandleSource is the external collaborator supplying timestamped OHLCV
// data, optionally with pre-computed indicator columns. The engine performs
// no other I/O once candles are in hand.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)
	ValidateDataAvailability(ctx context.Context, symbol, timeframe string, start, end time.Time) (DataAvailability, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolSpec, error)
}

// ResultSink is the external collaborator persisting a completed
// BacktestResult.
type ResultSink interface {
	Save(ctx context.Context, result *BacktestResult) error
}

// fallbackSymbolSpecs is the hard-coded per-base-currency table used when a
// CandleSource cannot supply a SymbolSpec.
var fallbackSymbolSpecs = map[string]SymbolSpec{
	"BTC":  {MinSize: 1, ContractSize: 0.001, TickSize: 0.1, BaseCurrency: "BTC"},
	"ETH":  {MinSize: 1, ContractSize: 0.01, TickSize: 0.01, BaseCurrency: "ETH"},
	"SOL":  {MinSize: 1, ContractSize: 1.0, TickSize: 0.001, BaseCurrency: "SOL"},
	"XRP":  {MinSize: 1, ContractSize: 10.0, TickSize: 0.0001, BaseCurrency: "XRP"},
	"DOGE": {MinSize: 1, ContractSize: 100.0, TickSize: 0.00001, BaseCurrency: "DOGE"},
}

// defaultFallbackSymbolSpec is used for any base currency absent from the
// fallback table.
var defaultFallbackSymbolSpec = SymbolSpec{MinSize: 1, ContractSize: 1.0, TickSize: 0.01, BaseCurrency: ""}

// ResolveSymbolSpec returns spec if non-nil, else the hard-coded fallback
// for baseCurrency.
func ResolveSymbolSpec(spec *SymbolSpec, baseCurrency string) SymbolSpec {
	if spec != nil {
		return *spec
	}
	if s, ok := fallbackSymbolSpecs[baseCurrency]; ok {
		return s
	}
	fallback := defaultFallbackSymbolSpec
	fallback.BaseCurrency = baseCurrency
	return fallback
}
