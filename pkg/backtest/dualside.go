package backtest

// DualSideRatioType selects how a hedge entry's quantity is derived from the
// main position.
type DualSideRatioType string

const (
	RatioPercentOfPosition DualSideRatioType = "percent_of_position"
	RatioFixedAmount       DualSideRatioType = "fixed_amount"
)

// DualSideTpTriggerType selects how the hedge take-profit target is derived.
type DualSideTpTriggerType string

const (
	TpDoNotClose        DualSideTpTriggerType = "do_not_close"
	TpLastDcaOnPosition DualSideTpTriggerType = "last_dca_on_position"
	TpExistingPosition  DualSideTpTriggerType = "existing_position"
	TpPercent           DualSideTpTriggerType = "percent"
)

// DualSideSlTriggerType selects how the hedge stop-loss target is derived.
type DualSideSlTriggerType string

const (
	SlExistingPosition DualSideSlTriggerType = "existing_position"
	SlPercent          DualSideSlTriggerType = "percent"
)

// CalculateDualSideQuantity sizes the hedge entry from the main position's
// current remaining quantity.
func CalculateDualSideQuantity(ratioType DualSideRatioType, ratioValue, mainRemainingQty float64) float64 {
	switch ratioType {
	case RatioFixedAmount:
		return ratioValue
	default: // percent_of_position
		return mainRemainingQty * (ratioValue / 100.0)
	}
}

// nudgePercent is the minimum favorable nudge applied to a
// last_dca_on_position hedge TP that would otherwise sit at or behind the
// hedge's own entry price.
const nudgePercent = 0.001

// CalculateDualSideTpPrice computes the hedge's take-profit target. hedgeSide
// is the side of the hedge position (opposite of main).
func CalculateDualSideTpPrice(
	triggerType DualSideTpTriggerType,
	hedgeSide TradeSide,
	hedgeEntryPrice float64,
	isLastMainDca bool,
	mainLastFilledPrice float64,
	mainProtectiveStop *float64,
	tpValue float64,
) *float64 {
	switch triggerType {
	case TpDoNotClose:
		return nil
	case TpLastDcaOnPosition:
		if !isLastMainDca {
			return nil
		}
		target := mainLastFilledPrice
		if hedgeSide == Long && target <= hedgeEntryPrice {
			target = hedgeEntryPrice * (1 + nudgePercent)
		} else if hedgeSide == Short && target >= hedgeEntryPrice {
			target = hedgeEntryPrice * (1 - nudgePercent)
		}
		return &target
	case TpExistingPosition:
		if mainProtectiveStop == nil {
			return nil
		}
		target := *mainProtectiveStop
		if hedgeSide == Long && target <= hedgeEntryPrice {
			return nil
		}
		if hedgeSide == Short && target >= hedgeEntryPrice {
			return nil
		}
		return &target
	case TpPercent:
		sign := 1.0
		if hedgeSide == Short {
			sign = -1.0
		}
		target := hedgeEntryPrice * (1 + sign*tpValue/100.0)
		return &target
	default:
		return nil
	}
}

// CalculateDualSideSlPrice computes the hedge's stop-loss target.
// mainTpPrices holds the main position's tp1/tp2/tp3 prices, keyed "tp1",
// "tp2", "tp3", used when triggerType is existing_position.
func CalculateDualSideSlPrice(
	triggerType DualSideSlTriggerType,
	hedgeSide TradeSide,
	hedgeEntryPrice float64,
	slValue float64,
	mainTpPrices map[string]*float64,
) *float64 {
	switch triggerType {
	case SlExistingPosition:
		key := "tp" + intToTpKey(slValue)
		if p, ok := mainTpPrices[key]; ok {
			return p
		}
		return nil
	case SlPercent:
		sign := -1.0
		if hedgeSide == Short {
			sign = 1.0
		}
		target := hedgeEntryPrice * (1 + sign*slValue/100.0)
		return &target
	default:
		return nil
	}
}

func intToTpKey(v float64) string {
	switch int(v) {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "1"
	}
}

// ShouldOpenDualSide reports whether the main position's DCA depth has
// crossed the configured trigger, and the hedge pyramiding limit has not
// yet been reached.
func ShouldOpenDualSide(dcaCount, trigger, dualEntryCount, dualPyramidingLimit int) bool {
	return dcaCount >= trigger && dualEntryCount < dualPyramidingLimit
}

// ShouldCloseMainOnHedgeTp reports whether a hedge TP hit cascades into
// closing the main position too.
func ShouldCloseMainOnHedgeTp(closeMainOnHedgeTp bool) bool {
	return closeMainOnHedgeTp
}

// ShouldCloseDualOnTrend reports whether a main Signal-reason close
// cascades into closing the hedge.
func ShouldCloseDualOnTrend(dualSideTrendClose bool) bool {
	return dualSideTrendClose
}

// ShouldCloseDualOnMainSl reports whether a main BreakEven/StopLoss close
// cascades into closing the hedge.
func ShouldCloseDualOnMainSl(dualSideCloseOnMainSl bool) bool {
	return dualSideCloseOnMainSl
}

// ShouldCascadeCloseDual implements the cascade-close rule table of §4.6(d):
// a main close for any reason other than BreakEven/StopLoss/Signal always
// cascades.
func ShouldCascadeCloseDual(mainExitReason ExitReason, dualSideCloseOnMainSl, dualSideTrendClose bool) bool {
	switch mainExitReason {
	case ExitBreakEven, ExitStopLoss:
		return dualSideCloseOnMainSl
	case ExitSignal:
		return dualSideTrendClose
	default:
		return true
	}
}
