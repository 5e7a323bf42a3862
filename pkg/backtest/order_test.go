package backtest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

func TestOrderSimulator_SimulateMarketFill_NoSlippageNoSpread(t *testing.T) {
	o := &backtest.OrderSimulator{SlippageModel: backtest.SlippageNone, UseBidAskSpread: false}
	candle := backtest.Candle{Open: 100, High: 101, Low: 99, Close: 100}
	assert.Equal(t, 100.0, o.SimulateMarketFill(backtest.Long, candle))
	assert.Equal(t, 100.0, o.SimulateMarketFill(backtest.Short, candle))
}

func TestOrderSimulator_SimulateMarketFill_PercentageSlippageIsAdverse(t *testing.T) {
	o := &backtest.OrderSimulator{SlippageModel: backtest.SlippagePercentage, SlippagePercent: 1.0, UseBidAskSpread: false}
	candle := backtest.Candle{Open: 100, High: 101, Low: 99, Close: 100}

	longFill := o.SimulateMarketFill(backtest.Long, candle)
	shortFill := o.SimulateMarketFill(backtest.Short, candle)
	assert.Greater(t, longFill, 100.0)  // buying costs more
	assert.Less(t, shortFill, 100.0)    // selling fetches less
}

func TestOrderSimulator_CheckTakeProfitHit_FillsAtExactPriceNoSlippage(t *testing.T) {
	o := &backtest.OrderSimulator{SlippageModel: backtest.SlippagePercentage, SlippagePercent: 5.0}
	candle := backtest.Candle{Open: 100, High: 105, Low: 99, Close: 104}

	fill := o.CheckTakeProfitHit(candle, 102, backtest.Long)
	require.NotNil(t, fill)
	assert.Equal(t, 102.0, *fill)

	miss := o.CheckTakeProfitHit(candle, 106, backtest.Long)
	assert.Nil(t, miss)
}

func TestOrderSimulator_CheckStopHit_AppliesAdverseSlippage(t *testing.T) {
	o := &backtest.OrderSimulator{SlippageModel: backtest.SlippageFixed, SlippageFixedAmt: 0.5}
	candle := backtest.Candle{Open: 100, High: 101, Low: 94, Close: 95}

	fill := o.CheckStopHit(candle, 95, backtest.Long)
	require.NotNil(t, fill)
	assert.Equal(t, 94.5, *fill) // stop - adverse slippage for a long

	fillShort := o.CheckStopHit(candle, 95, backtest.Short)
	// candle.High (101) >= 95, stop hit for short: 95 + 0.5
	require.NotNil(t, fillShort)
	assert.Equal(t, 95.5, *fillShort)
}

func TestOrderSimulator_CheckStopHitExact_NoSlippage(t *testing.T) {
	o := &backtest.OrderSimulator{SlippageModel: backtest.SlippagePercentage, SlippagePercent: 10.0}
	candle := backtest.Candle{Open: 100, High: 101, Low: 94, Close: 95}

	fill := o.CheckStopHitExact(candle, 95, backtest.Long)
	require.NotNil(t, fill)
	assert.Equal(t, 95.0, *fill)
}

func TestValidateOrderSize(t *testing.T) {
	assert.True(t, backtest.ValidateOrderSize(1.0, 0.5))
	assert.True(t, backtest.ValidateOrderSize(0.5, 0.5))
	assert.False(t, backtest.ValidateOrderSize(0.4, 0.5))
}

func TestRoundToPrecision(t *testing.T) {
	assert.InDelta(t, 1.005, backtest.RoundToPrecision(1.0051, 0.001, 8), 1e-9)
	assert.InDelta(t, 10.0, backtest.RoundToPrecision(10.0003, 0.001, 8), 1e-9)
	// zero increment passes qty through unchanged
	assert.Equal(t, 3.14159, backtest.RoundToPrecision(3.14159, 0, 8))
}

func TestValidateExecutionPrice(t *testing.T) {
	candle := backtest.Candle{Close: 100}
	assert.True(t, backtest.ValidateExecutionPrice(105, candle, 0.1))
	assert.False(t, backtest.ValidateExecutionPrice(120, candle, 0.1))
}
