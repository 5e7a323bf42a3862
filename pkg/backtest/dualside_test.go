package backtest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

func TestCalculateDualSideQuantity(t *testing.T) {
	assert.InDelta(t, 5.0, backtest.CalculateDualSideQuantity(backtest.RatioPercentOfPosition, 50, 10), 1e-9)
	assert.InDelta(t, 7.0, backtest.CalculateDualSideQuantity(backtest.RatioFixedAmount, 7, 10), 1e-9)
}

func TestCalculateDualSideTpPrice_DoNotClose(t *testing.T) {
	price := backtest.CalculateDualSideTpPrice(backtest.TpDoNotClose, backtest.Short, 100, true, 95, nil, 5)
	assert.Nil(t, price)
}

func TestCalculateDualSideTpPrice_LastDcaNudgesWhenUnfavorable(t *testing.T) {
	// hedge is short (opposite of a long main), entry at 100, last main fill
	// at 102 would sit behind the hedge's own entry — nudged favorable.
	price := backtest.CalculateDualSideTpPrice(backtest.TpLastDcaOnPosition, backtest.Short, 100, true, 102, nil, 0)
	require.NotNil(t, price)
	assert.InDelta(t, 100*(1-0.001), *price, 1e-9)
}

func TestCalculateDualSideTpPrice_LastDcaNotLastReturnsNil(t *testing.T) {
	price := backtest.CalculateDualSideTpPrice(backtest.TpLastDcaOnPosition, backtest.Short, 100, false, 95, nil, 0)
	assert.Nil(t, price)
}

func TestCalculateDualSideTpPrice_Percent(t *testing.T) {
	price := backtest.CalculateDualSideTpPrice(backtest.TpPercent, backtest.Long, 100, false, 0, nil, 5)
	require.NotNil(t, price)
	assert.InDelta(t, 105.0, *price, 1e-9)

	priceShort := backtest.CalculateDualSideTpPrice(backtest.TpPercent, backtest.Short, 100, false, 0, nil, 5)
	require.NotNil(t, priceShort)
	assert.InDelta(t, 95.0, *priceShort, 1e-9)
}

func TestCalculateDualSideSlPrice_ExistingPosition(t *testing.T) {
	tp1 := 110.0
	tps := map[string]*float64{"tp1": &tp1}
	price := backtest.CalculateDualSideSlPrice(backtest.SlExistingPosition, backtest.Long, 100, 1, tps)
	require.NotNil(t, price)
	assert.Equal(t, 110.0, *price)

	missing := backtest.CalculateDualSideSlPrice(backtest.SlExistingPosition, backtest.Long, 100, 2, tps)
	assert.Nil(t, missing)
}

func TestCalculateDualSideSlPrice_Percent(t *testing.T) {
	price := backtest.CalculateDualSideSlPrice(backtest.SlPercent, backtest.Long, 100, 2, nil)
	require.NotNil(t, price)
	assert.InDelta(t, 98.0, *price, 1e-9)
}

func TestShouldOpenDualSide(t *testing.T) {
	assert.True(t, backtest.ShouldOpenDualSide(2, 2, 0, 1))
	assert.False(t, backtest.ShouldOpenDualSide(1, 2, 0, 1))  // below DCA trigger
	assert.False(t, backtest.ShouldOpenDualSide(2, 2, 1, 1))  // hedge pyramiding exhausted
}

func TestShouldCascadeCloseDual(t *testing.T) {
	assert.True(t, backtest.ShouldCascadeCloseDual(backtest.ExitTakeProfit, false, false))
	assert.True(t, backtest.ShouldCascadeCloseDual(backtest.ExitBreakEven, true, false))
	assert.False(t, backtest.ShouldCascadeCloseDual(backtest.ExitStopLoss, false, false))
	assert.True(t, backtest.ShouldCascadeCloseDual(backtest.ExitSignal, false, true))
	assert.False(t, backtest.ShouldCascadeCloseDual(backtest.ExitSignal, false, false))
}
