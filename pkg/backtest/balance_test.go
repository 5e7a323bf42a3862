package backtest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

func TestBalanceTracker_ApplyRealized_UpdatesRunningState(t *testing.T) {
	b := backtest.NewBalanceTracker(1000)
	b.ApplyRealized(100)
	b.ApplyRealized(-40)

	assert.InDelta(t, 1060.0, b.CurrentBalance, 1e-9)
	assert.InDelta(t, 60.0, b.CumulativePnL, 1e-9)
	assert.Equal(t, 2, b.CumulativeTrades)
}

func TestBalanceTracker_Snapshot_TracksDrawdownFromPeak(t *testing.T) {
	b := backtest.NewBalanceTracker(1000)
	now := time.Now()

	b.Snapshot(now, "", 0, 0)              // equity 1000, peak 1000
	b.ApplyRealized(200)
	b.Snapshot(now, "", 0, 0)              // equity 1200, new peak
	b.Snapshot(now, "long", 1, -300)       // equity 1200-300=900, drawdown from 1200

	assert.InDelta(t, 1200.0, b.PeakEquity, 1e-9)
	assert.InDelta(t, -300.0, b.MaxDrawdown, 1e-9)
	assert.InDelta(t, -25.0, b.MaxDrawdownPercent, 1e-9) // -300/1200*100
}

func TestBalanceTracker_EquityCurve_ReturnsSnapshotEquitiesInOrder(t *testing.T) {
	b := backtest.NewBalanceTracker(500)
	now := time.Now()
	b.Snapshot(now, "", 0, 10)
	b.Snapshot(now, "", 0, -5)

	curve := b.EquityCurve()
	require := assert.New(t)
	require.Len(curve, 2)
	require.InDelta(510.0, curve[0], 1e-9)
	require.InDelta(495.0, curve[1], 1e-9)
}
