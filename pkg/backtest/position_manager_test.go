package backtest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

func TestPositionManager_Open_RejectsDoubleOpen(t *testing.T) {
	m := backtest.NewPositionManager(0)
	_, err := m.Open(backtest.Long, 10, 100, 1, 100, time.Now())
	require.NoError(t, err)

	_, err = m.Open(backtest.Long, 10, 100, 1, 100, time.Now())
	require.Error(t, err)
	var invErr *backtest.InvariantError
	assert.ErrorAs(t, err, &invErr)
}

func TestPositionManager_Close_ChargesFeesOnBothLegs(t *testing.T) {
	m := backtest.NewPositionManager(0.001)
	_, err := m.Open(backtest.Long, 10, 100, 10, 100, time.Now())
	require.NoError(t, err)

	trade, err := m.Close(110, time.Now(), backtest.ExitTakeProfit)
	require.NoError(t, err)

	entryFee := 100.0 * 10 * 0.001
	exitFee := 110.0 * 10 * 0.001
	wantFees := entryFee + exitFee
	wantPnl := (110.0-100.0)*10*10 - wantFees

	assert.InDelta(t, wantFees, trade.Fees, 1e-9)
	assert.InDelta(t, wantPnl, trade.PnL, 1e-9)
	assert.False(t, m.HasPosition())
}

func TestPositionManager_Close_NoPositionErrors(t *testing.T) {
	m := backtest.NewPositionManager(0)
	_, err := m.Close(100, time.Now(), backtest.ExitStopLoss)
	require.Error(t, err)
}

func TestPositionManager_PartialClose_KeepsPositionOpenUntilDrained(t *testing.T) {
	m := backtest.NewPositionManager(0)
	_, err := m.Open(backtest.Long, 10, 100, 10, 100, time.Now())
	require.NoError(t, err)

	sl := 95.0
	trade, err := m.PartialClose(101, time.Now(), 1, 0.3, &sl)
	require.NoError(t, err)
	assert.True(t, trade.IsPartialExit)
	assert.Equal(t, backtest.ExitTP1, trade.ExitReason)
	assert.InDelta(t, 3.0, trade.Quantity, 1e-9)
	assert.True(t, m.HasPosition())

	_, err = m.PartialClose(102, time.Now(), 2, 0.7, &sl)
	require.NoError(t, err)
	assert.False(t, m.HasPosition())
}

func TestPositionManager_TradeNumbersIncrementAcrossCloses(t *testing.T) {
	m := backtest.NewPositionManager(0)
	for i := 0; i < 3; i++ {
		_, err := m.Open(backtest.Long, 10, 100, 1, 100, time.Now())
		require.NoError(t, err)
		_, err = m.Close(101, time.Now(), backtest.ExitTakeProfit)
		require.NoError(t, err)
	}
	trades := m.Trades()
	require.Len(t, trades, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{trades[0].TradeNumber, trades[1].TradeNumber, trades[2].TradeNumber})
}

func TestPositionManager_ActivateTrailingStopAfterTp_NoopIfAlreadyActive(t *testing.T) {
	m := backtest.NewPositionManager(0)
	_, err := m.Open(backtest.Long, 10, 100, 10, 100, time.Now())
	require.NoError(t, err)

	assert.True(t, m.ActivateTrailingStopAfterTp(105, 2, 1))
	assert.False(t, m.ActivateTrailingStopAfterTp(106, 2, 2))
}
