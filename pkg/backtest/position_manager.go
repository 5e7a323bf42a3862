package backtest

import (
	"fmt"
	"time"
)

// PositionManager owns at most one open Position and the growing log of
// Trades it has produced. One instance drives the main side; a second,
// independent instance drives the hedge side.
type PositionManager struct {
	FeeRate      float64
	position     *Position
	trades       []Trade
	tradeCounter int
}

// NewPositionManager constructs a manager charging feeRate on both the
// entry and exit legs of every close.
func NewPositionManager(feeRate float64) *PositionManager {
	return &PositionManager{FeeRate: feeRate}
}

// HasPosition reports whether a position is currently open.
func (m *PositionManager) HasPosition() bool { return m.position != nil }

// Position returns the open position, or nil.
func (m *PositionManager) Position() *Position { return m.position }

// Trades returns the trade log produced so far.
func (m *PositionManager) Trades() []Trade { return m.trades }

// Open creates a new position. Fails if one is already open.
func (m *PositionManager) Open(side TradeSide, leverage, price, qty, investment float64, ts time.Time) (*Position, error) {
	if m.position != nil {
		return nil, &InvariantError{Msg: "cannot open a position while one is already open"}
	}
	m.position = NewPosition(side, leverage, price, qty, investment, ts)
	return m.position, nil
}

// AddToPosition delegates to Position.AddEntry — a DCA add.
func (m *PositionManager) AddToPosition(price, qty, investment float64, ts time.Time, reason string) error {
	if m.position == nil {
		return &InvariantError{Msg: "cannot add to a position that does not exist"}
	}
	m.position.AddEntry(price, qty, investment, ts, reason)
	return nil
}

func (m *PositionManager) nextTradeNumber() int {
	m.tradeCounter++
	return m.tradeCounter
}

// Close closes the entire remaining position at exitPrice, computing fees
// on both the average-entry leg and the exit leg of the closed quantity.
func (m *PositionManager) Close(exitPrice float64, ts time.Time, reason ExitReason) (Trade, error) {
	if m.position == nil {
		return Trade{}, &InvariantError{Msg: "no position to close"}
	}
	p := m.position
	avg := p.AverageEntryPrice()
	qty := p.CurrentQuantity()

	sign := 1.0
	if p.Side == Short {
		sign = -1.0
	}
	entryFee := avg * qty * m.FeeRate
	exitFee := exitPrice * qty * m.FeeRate
	fees := entryFee + exitFee
	pnl := (exitPrice-avg)*qty*p.Leverage*sign - fees

	investment := p.TotalInvestmentQuote()
	pnlPercent := 0.0
	if investment > 0 {
		pnlPercent = pnl / investment * 100.0
	}

	trade := Trade{
		TradeNumber:    m.nextTradeNumber(),
		Side:           p.Side,
		EntryTime:      p.EntryTimestamp,
		ExitTime:       ts,
		EntryPrice:     avg,
		ExitPrice:      exitPrice,
		Quantity:       qty,
		Leverage:       p.Leverage,
		PnL:            pnl,
		PnLPercent:     pnlPercent,
		Fees:           fees,
		ExitReason:     reason,
		IsPartialExit:  false,
		RemainingQty:   0,
		StopLossAtExit: p.StopLossPrice,
		DCACount:       p.DcaCount,
		EntryHistory:   append([]EntryRecord(nil), p.EntryHistory...),
		IsDualSide:     p.IsDualSide,
		MainPosSide:    p.MainPositionSide,
		ParentTradeID:  p.ParentTradeID,
	}
	m.trades = append(m.trades, trade)
	m.position = nil
	return trade, nil
}

// PartialClose closes exitRatioOfOriginal of the position's original total
// quantity at tpLevel, charging fees identically to Close on just the
// closed quantity. currentStopLoss is the SL in effect before any
// break-even promotion the caller applies after this call returns. Clears
// the position slot if the remaining quantity drains below the
// fully-closed epsilon.
func (m *PositionManager) PartialClose(exitPrice float64, ts time.Time, tpLevel int, exitRatioOfOriginal float64, currentStopLoss *float64) (Trade, error) {
	if m.position == nil {
		return Trade{}, &InvariantError{Msg: "no position to partially close"}
	}
	p := m.position
	avg := p.AverageEntryPrice()
	instr := p.PartialExit(tpLevel, exitRatioOfOriginal, currentStopLoss)

	sign := 1.0
	if p.Side == Short {
		sign = -1.0
	}
	entryFee := avg * instr.ExitQty * m.FeeRate
	exitFee := exitPrice * instr.ExitQty * m.FeeRate
	fees := entryFee + exitFee
	pnl := (exitPrice-avg)*instr.ExitQty*p.Leverage*sign - fees

	investment := p.TotalInvestmentQuote()
	pnlPercent := 0.0
	if investment > 0 {
		pnlPercent = pnl / investment * instr.ExitRatio * 100.0
	}

	var reason ExitReason
	switch tpLevel {
	case 1:
		reason = ExitTP1
	case 2:
		reason = ExitTP2
	case 3:
		reason = ExitTP3
	default:
		reason = ExitTakeProfit
	}

	trade := Trade{
		TradeNumber:    m.nextTradeNumber(),
		Side:           p.Side,
		EntryTime:      p.EntryTimestamp,
		ExitTime:       ts,
		EntryPrice:     avg,
		ExitPrice:      exitPrice,
		Quantity:       instr.ExitQty,
		Leverage:       p.Leverage,
		PnL:            pnl,
		PnLPercent:     pnlPercent,
		Fees:           fees,
		ExitReason:     reason,
		IsPartialExit:  true,
		TPLevel:        tpLevel,
		ExitRatio:      instr.ExitRatio,
		RemainingQty:   p.CurrentQuantity(),
		StopLossAtExit: instr.StopLossSnap,
		DCACount:       p.DcaCount,
		EntryHistory:   append([]EntryRecord(nil), p.EntryHistory...),
		IsDualSide:     p.IsDualSide,
		MainPosSide:    p.MainPositionSide,
		ParentTradeID:  p.ParentTradeID,
	}
	m.trades = append(m.trades, trade)

	if p.IsFullyClosed() {
		m.position = nil
	}
	return trade, nil
}

// ActivateTrailingStopAfterTp arms the trailing stop once a partial TP at
// tpLevel fires. No-op if already activated or no position is open.
func (m *PositionManager) ActivateTrailingStopAfterTp(currentPrice, offset float64, tpLevel int) bool {
	if m.position == nil || m.position.TrailingActivated {
		return false
	}
	m.position.ActivateTrailingStop(currentPrice, offset, tpLevel)
	return true
}

func (m *PositionManager) String() string {
	if m.position == nil {
		return fmt.Sprintf("PositionManager{flat, trades=%d}", len(m.trades))
	}
	return fmt.Sprintf("PositionManager{side=%s qty=%.8f trades=%d}", m.position.Side, m.position.CurrentQuantity(), len(m.trades))
}
