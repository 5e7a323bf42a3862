package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Metrics holds the derived statistics computed once a run completes.
type Metrics struct {
	TotalTrades           int     `json:"total_trades"`
	WinningTrades         int     `json:"winning_trades"`
	LosingTrades          int     `json:"losing_trades"`
	WinRate               float64 `json:"win_rate"`
	AvgWin                float64 `json:"avg_win"`
	AvgLoss               float64 `json:"avg_loss"`
	LargestWin            float64 `json:"largest_win"`
	LargestLoss           float64 `json:"largest_loss"`
	// ProfitFactor is Σwins / |Σlosses|. When there are no losing trades
	// but at least one win, this reports +Inf (the "default max"), which
	// diverges from a zero-value default seen in one implementation of
	// this engine — the literal spec calls for +Inf here.
	ProfitFactor          float64 `json:"profit_factor"`
	TotalReturn           float64 `json:"total_return"`
	TotalReturnPercent    float64 `json:"total_return_percent"`
	AvgTradeDurationMin   float64 `json:"avg_trade_duration_minutes"`
	TotalFeesPaid         float64 `json:"total_fees_paid"`
	SharpeRatio           float64 `json:"sharpe_ratio"`
	MaxDrawdown           float64 `json:"max_drawdown"`
	MaxDrawdownPercent    float64 `json:"max_drawdown_percent"`
}

// BacktestResult is the complete output of one run, built by the engine
// from its terminal PositionManager/BalanceTracker/EventLog state.
type BacktestResult struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	StrategyName  string    `json:"strategy_name"`
	StrategyParams map[string]interface{} `json:"strategy_params,omitempty"`

	ExecutionStarted  time.Time `json:"execution_started"`
	ExecutionFinished time.Time `json:"execution_finished"`

	InitialBalance     float64 `json:"initial_balance"`
	FinalBalance       float64 `json:"final_balance"`
	UnrealizedPnLAtEnd float64 `json:"unrealized_pnl_at_end"`

	Trades      []Trade           `json:"trades"`
	EquityCurve []BalanceSnapshot `json:"equity_curve"`
	Events      []Event           `json:"events,omitempty"`

	Metrics Metrics `json:"metrics"`
}

// NewBacktestResult stamps a fresh UUID and initializes the run's identity
// fields; callers fill in the rest as the run completes.
func NewBacktestResult(symbol, timeframe, strategyName string) *BacktestResult {
	return &BacktestResult{
		ID:           uuid.New(),
		Symbol:       symbol,
		Timeframe:    timeframe,
		StrategyName: strategyName,
	}
}

// CalculateMetrics derives Metrics from r.Trades and r.InitialBalance /
// r.FinalBalance, in place. maxDrawdown and maxDrawdownPercent come from the
// BalanceTracker that ran the bars (they are path-dependent on the equity
// curve, not recoverable from the trade list alone).
func (r *BacktestResult) CalculateMetrics(maxDrawdown, maxDrawdownPercent float64) {
	m := Metrics{}
	m.TotalTrades = len(r.Trades)
	m.MaxDrawdown = maxDrawdown
	m.MaxDrawdownPercent = maxDrawdownPercent

	var totalWin, totalLoss, totalFees, totalDurationMin float64
	var pnlPercents []float64

	for _, t := range r.Trades {
		totalFees += t.Fees
		pnlPercents = append(pnlPercents, t.PnLPercent)
		totalDurationMin += t.ExitTime.Sub(t.EntryTime).Minutes()

		if t.PnL > 0 {
			m.WinningTrades++
			totalWin += t.PnL
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		} else if t.PnL < 0 {
			m.LosingTrades++
			totalLoss += -t.PnL
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100.0
		m.AvgTradeDurationMin = totalDurationMin / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = totalWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -totalLoss / float64(m.LosingTrades)
	}
	if totalLoss == 0 {
		if totalWin > 0 {
			m.ProfitFactor = math.Inf(1)
		} else {
			m.ProfitFactor = 0
		}
	} else {
		m.ProfitFactor = totalWin / totalLoss
	}

	m.TotalFeesPaid = totalFees
	m.TotalReturn = r.FinalBalance - r.InitialBalance
	if r.InitialBalance != 0 {
		m.TotalReturnPercent = m.TotalReturn / r.InitialBalance * 100.0
	}
	m.SharpeRatio = sharpeRatio(pnlPercents, 0.0)
	r.Metrics = m
}

// sharpeRatio is the mean/stdev of per-trade pnl percentages. Returns 0 with
// fewer than two trades.
func sharpeRatio(pnlPercents []float64, riskFreeRate float64) float64 {
	n := len(pnlPercents)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range pnlPercents {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range pnlPercents {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (mean - riskFreeRate) / std
}

// ResequenceTrades merges main + hedge trades, sorts by (exit_timestamp,
// falling back to entry_timestamp), and re-numbers TradeNumber in place.
func ResequenceTrades(mainTrades, hedgeTrades []Trade) []Trade {
	all := make([]Trade, 0, len(mainTrades)+len(hedgeTrades))
	all = append(all, mainTrades...)
	all = append(all, hedgeTrades...)

	sortTrades(all)
	for i := range all {
		all[i].TradeNumber = i + 1
	}
	return all
}

func sortTrades(trades []Trade) {
	key := func(t Trade) time.Time {
		if !t.ExitTime.IsZero() {
			return t.ExitTime
		}
		return t.EntryTime
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return key(trades[i]).Before(key(trades[j]))
	})
}
