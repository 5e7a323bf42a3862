// Package backtest provides an event-driven backtesting engine for
// leveraged perpetual-futures trading strategies.
package backtest

import (
	"time"
)

// Candle is an immutable OHLCV record at a timestamp, with optional
// pre-computed indicator columns. A nil indicator field means the engine
// may need to compute it on demand from its own candle history.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`

	RSI         *float64 `json:"rsi,omitempty"`
	ATR         *float64 `json:"atr,omitempty"`
	EMA         *float64 `json:"ema,omitempty"`
	SMA         *float64 `json:"sma,omitempty"`
	TrendState  *int     `json:"trend_state,omitempty"`
	DataSource  string   `json:"data_source,omitempty"`
}

// Validate checks the OHLC invariant: low <= min(open, close) <= max(open, close) <= high.
func (c Candle) Validate() error {
	minOC := c.Open
	if c.Close < minOC {
		minOC = c.Close
	}
	maxOC := c.Open
	if c.Close > maxOC {
		maxOC = c.Close
	}
	if !(c.Low <= minOC && maxOC <= c.High) {
		return &InvariantError{Msg: "candle OHLC invariant violated"}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 || c.Volume < 0 {
		return &InvariantError{Msg: "candle fields must be positive (volume >= 0)"}
	}
	return nil
}

// TradeSide is the direction of a position.
type TradeSide string

const (
	Long  TradeSide = "long"
	Short TradeSide = "short"
)

// Opposite returns the other side, used when sizing a hedge position.
func (s TradeSide) Opposite() TradeSide {
	if s == Long {
		return Short
	}
	return Long
}

// ExitReason tags why a position (or partial slice of one) was closed.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTP1          ExitReason = "tp1"
	ExitTP2          ExitReason = "tp2"
	ExitTP3          ExitReason = "tp3"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitBreakEven    ExitReason = "break_even"
	ExitSignal       ExitReason = "signal"
	ExitHedgeTP      ExitReason = "hedge_tp"
	ExitHedgeSL      ExitReason = "hedge_sl"
	ExitLinkedExit   ExitReason = "linked_exit"
	ExitBacktestEnd  ExitReason = "backtest_end"
)

// EntryRecord is one row in a position's entry history.
type EntryRecord struct {
	Price           float64   `json:"price"`
	Quantity        float64   `json:"quantity"`
	InvestmentQuote float64   `json:"investment_quote"`
	Timestamp       time.Time `json:"timestamp"`
	Reason          string    `json:"reason"`
	DCAIndex        int       `json:"dca_index"`
}

// Trade is an immutable record emitted when a position (or a partial slice
// of one) is closed.
type Trade struct {
	TradeNumber   int        `json:"trade_number"`
	Side          TradeSide  `json:"side"`
	EntryTime     time.Time  `json:"entry_timestamp"`
	ExitTime      time.Time  `json:"exit_timestamp"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     float64    `json:"exit_price"`
	Quantity      float64    `json:"quantity"`
	Leverage      float64    `json:"leverage"`
	PnL           float64    `json:"pnl"`
	PnLPercent    float64    `json:"pnl_percent"`
	Fees          float64    `json:"fees"`
	ExitReason    ExitReason `json:"exit_reason"`
	IsPartialExit bool       `json:"is_partial_exit"`
	TPLevel       int        `json:"tp_level,omitempty"`
	ExitRatio     float64    `json:"exit_ratio,omitempty"`
	RemainingQty  float64    `json:"remaining_quantity"`
	// StopLossAtExit is the SL that was valid during this sub-trade, snapshotted
	// before any break-even promotion triggered by this very exit.
	StopLossAtExit *float64 `json:"stop_loss_price_at_exit_time,omitempty"`

	DCACount      int           `json:"dca_count"`
	EntryHistory  []EntryRecord `json:"entry_history"`
	IsDualSide    bool          `json:"is_dual_side"`
	MainPosSide   TradeSide     `json:"main_position_side,omitempty"`
	ParentTradeID int           `json:"parent_trade_id,omitempty"`
}

// BalanceSnapshot is one point on the equity curve.
type BalanceSnapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	Balance          float64   `json:"balance"`
	Equity           float64   `json:"equity"`
	PositionSide     string    `json:"position_side,omitempty"`
	PositionSize     float64   `json:"position_size"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	CumulativePnL    float64   `json:"cumulative_pnl"`
	CumulativeTrades int       `json:"cumulative_trades"`
}

// SymbolSpec is instrument metadata needed to enforce exchange-realistic
// minimum order size in simulation.
type SymbolSpec struct {
	MinSize      uint32  `json:"min_size"`
	ContractSize float64 `json:"contract_size"`
	TickSize     float64 `json:"tick_size"`
	BaseCurrency string  `json:"base_currency"`
}

// MinimumQty is the smallest tradeable quantity for this spec.
func (s SymbolSpec) MinimumQty() float64 {
	return float64(s.MinSize) * s.ContractSize
}

// InvariantError signals a breached internal invariant (e.g. opening a
// second main position). Fatal to the run.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

// ParameterError signals an out-of-range or unrecognized strategy parameter.
// Fatal at strategy construction, before a run begins.
type ParameterError struct {
	Field string
	Msg   string
}

func (e *ParameterError) Error() string {
	return "parameter " + e.Field + ": " + e.Msg
}

// DataUnavailableError signals the CandleSource returned no candles, or
// below the minimum coverage threshold.
type DataUnavailableError struct {
	Msg string
}

func (e *DataUnavailableError) Error() string { return e.Msg }
