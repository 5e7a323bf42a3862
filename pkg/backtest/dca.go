package backtest

import "math"

// DcaEntryType selects how the next pyramiding trigger level is offset from
// the previous one.
type DcaEntryType string

const (
	DcaEntryPercentage DcaEntryType = "percentage"
	DcaEntryFixed      DcaEntryType = "fixed"
	DcaEntryATR        DcaEntryType = "atr"
)

// DcaEntryCriterion selects the reference price DCA levels are recomputed
// from after a fill: the position's running average, or the last filled
// price.
type DcaEntryCriterion string

const (
	DcaCriterionAverage     DcaEntryCriterion = "average"
	DcaCriterionLastFilled  DcaEntryCriterion = "last_filled"
)

// dcaATRFallbackPercent is the spacing used when an ATR-based level is
// requested but no ATR value is available.
const dcaATRFallbackPercent = 3.0

// CalculateDcaLevels produces pyramidingLimit trigger prices, each computed
// iteratively from the previous level (not from the original reference
// price).
func CalculateDcaLevels(referencePrice float64, side TradeSide, pyramidingLimit int, entryType DcaEntryType, value float64, atr *float64) []float64 {
	levels := make([]float64, 0, pyramidingLimit)
	prev := referencePrice
	for i := 0; i < pyramidingLimit; i++ {
		next := nextDcaLevel(prev, side, entryType, value, atr)
		levels = append(levels, next)
		prev = next
	}
	return levels
}

func nextDcaLevel(prev float64, side TradeSide, entryType DcaEntryType, value float64, atr *float64) float64 {
	sign := -1.0
	if side == Short {
		sign = 1.0
	}
	switch entryType {
	case DcaEntryFixed:
		return prev + sign*value
	case DcaEntryATR:
		if atr == nil {
			return prev + sign*prev*(dcaATRFallbackPercent/100.0)
		}
		return prev + sign*(*atr)*value
	default: // percentage
		return prev * (1 + sign*value/100.0)
	}
}

// CheckDcaPriceCondition reports whether the current price has crossed the
// next DCA trigger level. If useCheck is false the gate always passes.
func CheckDcaPriceCondition(currentPrice float64, levels []float64, side TradeSide, useCheck bool) bool {
	if !useCheck {
		return true
	}
	if len(levels) == 0 {
		return false
	}
	if side == Long {
		return currentPrice <= levels[0]
	}
	return currentPrice >= levels[0]
}

// CheckDcaRsiCondition gates a DCA fire on RSI. A nil rsi always fails
// when the gate is enabled.
func CheckDcaRsiCondition(rsi *float64, side TradeSide, oversold, overbought float64, useRsi bool) bool {
	if !useRsi {
		return true
	}
	if rsi == nil {
		return false
	}
	if side == Long {
		return *rsi <= oversold
	}
	return *rsi >= overbought
}

// dcaTrendDivergencePercent is the EMA/SMA fallback divergence threshold.
const dcaTrendDivergencePercent = 2.0

// CheckDcaTrendCondition gates a DCA fire on trend. Priority 1: if
// trendState is available, Long is blocked on -2, Short on +2. Priority 2:
// an EMA/SMA divergence fallback when trendState is nil; blocks if both
// ema and sma are nil.
func CheckDcaTrendCondition(trendState *int, ema, sma *float64, side TradeSide, useTrend bool) bool {
	if !useTrend {
		return true
	}
	if trendState != nil {
		if side == Long {
			return *trendState != -2
		}
		return *trendState != 2
	}
	if ema == nil || sma == nil {
		return false
	}
	divergence := (*ema - *sma) / *sma * 100.0
	if side == Long {
		return divergence >= -dcaTrendDivergencePercent
	}
	return divergence <= dcaTrendDivergencePercent
}

// CalculateDcaEntrySize scales the initial investment/quantity by
// entryMultiplier^dcaIndex for the N-th (1-indexed) DCA entry.
func CalculateDcaEntrySize(initialInvestment, initialQty, entryMultiplier float64, dcaIndex int) (investment, qty float64) {
	scale := math.Pow(entryMultiplier, float64(dcaIndex))
	return initialInvestment * scale, initialQty * scale
}
