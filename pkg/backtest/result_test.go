package backtest_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

func TestBacktestResult_CalculateMetrics_WinLossSplit(t *testing.T) {
	r := backtest.NewBacktestResult("BTC-USDT", "1h", "hyperrsi")
	r.InitialBalance = 1000
	r.FinalBalance = 1150
	now := time.Now()
	r.Trades = []backtest.Trade{
		{PnL: 100, Fees: 1, EntryTime: now, ExitTime: now.Add(time.Hour)},
		{PnL: -50, Fees: 1, EntryTime: now, ExitTime: now.Add(2 * time.Hour)},
		{PnL: 50, Fees: 1, EntryTime: now, ExitTime: now.Add(3 * time.Hour)},
	}

	r.CalculateMetrics(-75, -7.5)

	assert.Equal(t, 3, r.Metrics.TotalTrades)
	assert.Equal(t, 2, r.Metrics.WinningTrades)
	assert.Equal(t, 1, r.Metrics.LosingTrades)
	assert.InDelta(t, 66.666667, r.Metrics.WinRate, 1e-4)
	assert.InDelta(t, 3.0, r.Metrics.TotalFeesPaid, 1e-9)
	assert.InDelta(t, 3.0, r.Metrics.ProfitFactor, 1e-9) // 150/50
	assert.InDelta(t, 150.0, r.Metrics.TotalReturn, 1e-9)
	assert.InDelta(t, 15.0, r.Metrics.TotalReturnPercent, 1e-9)
	assert.InDelta(t, -75.0, r.Metrics.MaxDrawdown, 1e-9)
	assert.InDelta(t, -7.5, r.Metrics.MaxDrawdownPercent, 1e-9)
}

func TestBacktestResult_CalculateMetrics_ProfitFactorInfWithNoLosses(t *testing.T) {
	r := backtest.NewBacktestResult("BTC-USDT", "1h", "hyperrsi")
	r.Trades = []backtest.Trade{{PnL: 50}}
	r.CalculateMetrics(0, 0)
	assert.True(t, math.IsInf(r.Metrics.ProfitFactor, 1))
}

func TestBacktestResult_CalculateMetrics_ZeroTradesIsZeroEverything(t *testing.T) {
	r := backtest.NewBacktestResult("BTC-USDT", "1h", "hyperrsi")
	r.CalculateMetrics(0, 0)
	assert.Equal(t, 0, r.Metrics.TotalTrades)
	assert.Equal(t, 0.0, r.Metrics.ProfitFactor)
	assert.Equal(t, 0.0, r.Metrics.WinRate)
}

// Regression coverage for the engine wiring BalanceTracker's path-dependent
// drawdown into Metrics: CalculateMetrics cannot derive it from the trade
// list, so the caller (BacktestEngine.Run) must pass it in explicitly.
func TestBacktestResult_CalculateMetrics_PropagatesDrawdownFromTracker(t *testing.T) {
	tracker := backtest.NewBalanceTracker(1000)
	now := time.Now()
	tracker.Snapshot(now, "long", 1, 0)
	tracker.ApplyRealized(-300)
	tracker.Snapshot(now.Add(time.Hour), "long", 1, 0)
	tracker.Snapshot(now.Add(2*time.Hour), "", 0, 0)

	r := backtest.NewBacktestResult("BTC-USDT", "1h", "hyperrsi")
	r.InitialBalance = 1000
	r.FinalBalance = tracker.CurrentBalance
	r.CalculateMetrics(tracker.MaxDrawdown, tracker.MaxDrawdownPercent)

	assert.InDelta(t, -300.0, r.Metrics.MaxDrawdown, 1e-9)
	assert.InDelta(t, -30.0, r.Metrics.MaxDrawdownPercent, 1e-9)
}

func TestResequenceTrades_MergesAndSortsByExitTime(t *testing.T) {
	now := time.Now()
	main := []backtest.Trade{{TradeNumber: 9, ExitTime: now.Add(2 * time.Hour)}}
	hedge := []backtest.Trade{{TradeNumber: 3, ExitTime: now.Add(1 * time.Hour)}}

	merged := backtest.ResequenceTrades(main, hedge)
	if assert.Len(t, merged, 2) {
		assert.Equal(t, 1, merged[0].TradeNumber)
		assert.Equal(t, 2, merged[1].TradeNumber)
		assert.True(t, merged[0].ExitTime.Before(merged[1].ExitTime))
	}
}
