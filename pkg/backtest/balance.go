package backtest

import "time"

// BalanceTracker ingests realized P&L and emits equity snapshots, tracking
// drawdown as it goes.
type BalanceTracker struct {
	InitialBalance      float64
	CurrentBalance      float64
	PeakEquity          float64
	MaxDrawdown         float64
	MaxDrawdownPercent  float64
	CumulativePnL       float64
	CumulativeTrades    int
	Snapshots           []BalanceSnapshot
}

// NewBalanceTracker seeds the tracker with the run's starting balance.
func NewBalanceTracker(initialBalance float64) *BalanceTracker {
	return &BalanceTracker{
		InitialBalance: initialBalance,
		CurrentBalance: initialBalance,
		PeakEquity:     initialBalance,
	}
}

// ApplyRealized updates the running balance and trade count from a closed
// (or partially closed) trade's P&L and fees. Fees are already deducted
// from pnl by the caller's PositionManager, so this only needs pnl.
func (b *BalanceTracker) ApplyRealized(pnl float64) {
	b.CurrentBalance += pnl
	b.CumulativePnL += pnl
	b.CumulativeTrades++
}

// Snapshot appends an equity-curve point and updates drawdown tracking.
func (b *BalanceTracker) Snapshot(ts time.Time, side string, size, unrealizedPnL float64) BalanceSnapshot {
	equity := b.CurrentBalance + unrealizedPnL
	snap := BalanceSnapshot{
		Timestamp:        ts,
		Balance:          b.CurrentBalance,
		Equity:           equity,
		PositionSide:     side,
		PositionSize:     size,
		UnrealizedPnL:    unrealizedPnL,
		CumulativePnL:    b.CumulativePnL,
		CumulativeTrades: b.CumulativeTrades,
	}
	b.Snapshots = append(b.Snapshots, snap)
	b.updateDrawdown(equity)
	return snap
}

func (b *BalanceTracker) updateDrawdown(equity float64) {
	if equity > b.PeakEquity {
		b.PeakEquity = equity
	}
	drawdown := equity - b.PeakEquity // <= 0
	if drawdown < b.MaxDrawdown {
		b.MaxDrawdown = drawdown
		if b.PeakEquity != 0 {
			b.MaxDrawdownPercent = drawdown / b.PeakEquity * 100.0
		}
	}
}

// EquityCurve returns the ordered list of equity values recorded so far.
func (b *BalanceTracker) EquityCurve() []float64 {
	curve := make([]float64, len(b.Snapshots))
	for i, s := range b.Snapshots {
		curve[i] = s.Equity
	}
	return curve
}
