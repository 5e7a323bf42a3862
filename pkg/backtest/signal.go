package backtest

import "math"

// RsiEntryOption selects which RSI decision rule qualifies an
// oversold/overbought reading as an entry signal.
type RsiEntryOption string

const (
	EntryOvershoot           RsiEntryOption = "overshoot"
	EntryCrossunder          RsiEntryOption = "crossunder"
	EntryReversal            RsiEntryOption = "reversal"
	EntryReversalCrossunder  RsiEntryOption = "reversal_crossunder"
)

// SignalGeneratorConfig configures the RSI/trend entry rules.
type SignalGeneratorConfig struct {
	RsiOversold    float64
	RsiOverbought  float64
	RsiPeriod      int
	UseTrendFilter bool
	EntryOption    RsiEntryOption
}

// SignalGenerator evaluates RSI entry modes and a 5-level trend filter.
// It holds configuration only; every check method is pure.
type SignalGenerator struct {
	Config SignalGeneratorConfig
}

func NewSignalGenerator(cfg SignalGeneratorConfig) *SignalGenerator {
	return &SignalGenerator{Config: cfg}
}

// CheckLongSignal evaluates the long-entry RSI condition and trend filter.
func (g *SignalGenerator) CheckLongSignal(rsi float64, trendState *int, previousRsi *float64) (bool, string) {
	isOversold, ok, why := g.oversoldCondition(rsi, previousRsi)
	if !ok {
		return false, why
	}
	if !isOversold {
		return false, "rsi not oversold"
	}
	if g.Config.UseTrendFilter && trendState != nil {
		switch *trendState {
		case -2:
			return false, "strong downtrend detected - long entry blocked"
		case 2:
			return true, "rsi oversold + strong uptrend"
		case 1:
			return true, "rsi oversold + uptrend"
		case -1:
			return true, "rsi oversold + downtrend (allowed)"
		default:
			return true, "rsi oversold + neutral trend"
		}
	}
	return true, "rsi oversold"
}

// CheckShortSignal evaluates the short-entry RSI condition and trend filter.
func (g *SignalGenerator) CheckShortSignal(rsi float64, trendState *int, previousRsi *float64) (bool, string) {
	isOverbought, ok, why := g.overboughtCondition(rsi, previousRsi)
	if !ok {
		return false, why
	}
	if !isOverbought {
		return false, "rsi not overbought"
	}
	if g.Config.UseTrendFilter && trendState != nil {
		switch *trendState {
		case 2:
			return false, "strong uptrend detected - short entry blocked"
		case -2:
			return true, "rsi overbought + strong downtrend"
		case -1:
			return true, "rsi overbought + downtrend"
		case 1:
			return true, "rsi overbought + uptrend (allowed)"
		default:
			return true, "rsi overbought + neutral trend"
		}
	}
	return true, "rsi overbought"
}

func (g *SignalGenerator) oversoldCondition(rsi float64, previousRsi *float64) (isOversold, ok bool, reason string) {
	oversold := g.Config.RsiOversold
	switch g.Config.EntryOption {
	case EntryCrossunder:
		if previousRsi == nil {
			return false, false, "previous rsi required for crossunder"
		}
		return *previousRsi > oversold && rsi <= oversold, true, ""
	case EntryReversal:
		if previousRsi == nil {
			return false, false, "previous rsi required for reversal"
		}
		return (*previousRsi < oversold || rsi < oversold) && rsi > *previousRsi, true, ""
	case EntryReversalCrossunder:
		if previousRsi == nil {
			return false, false, "previous rsi required for reversal_crossunder"
		}
		return rsi >= oversold && *previousRsi < oversold, true, ""
	default: // overshoot
		return rsi < oversold, true, ""
	}
}

func (g *SignalGenerator) overboughtCondition(rsi float64, previousRsi *float64) (isOverbought, ok bool, reason string) {
	overbought := g.Config.RsiOverbought
	switch g.Config.EntryOption {
	case EntryCrossunder:
		if previousRsi == nil {
			return false, false, "previous rsi required for crossunder"
		}
		return *previousRsi < overbought && rsi >= overbought, true, ""
	case EntryReversal:
		if previousRsi == nil {
			return false, false, "previous rsi required for reversal"
		}
		return (*previousRsi > overbought || rsi > overbought) && rsi < *previousRsi, true, ""
	case EntryReversalCrossunder:
		if previousRsi == nil {
			return false, false, "previous rsi required for reversal_crossunder"
		}
		return rsi <= overbought && *previousRsi > overbought, true, ""
	default: // overshoot
		return rsi > overbought, true, ""
	}
}

const (
	trendMA20Period        = 20
	trendMA60Period        = 60
	trendBBPeriod          = 20
	trendBBStdDev          = 2.0
	trendMomentumPeriod    = 20
)

// CalculateTrendState derives the 5-level trend classification from an
// ordered (oldest-first) closes series. Returns 0 when there is
// insufficient history.
func CalculateTrendState(closes []float64) int {
	required := trendMA60Period
	if trendBBPeriod > required {
		required = trendBBPeriod
	}
	if trendMomentumPeriod > required {
		required = trendMomentumPeriod
	}
	required++
	if len(closes) < required {
		return 0
	}

	n := len(closes)
	current := closes[n-1]

	momentum := 0.0
	if n >= trendMomentumPeriod+1 {
		past := closes[n-1-trendMomentumPeriod]
		if past != 0 {
			momentum = (current - past) / past
		}
	}

	ma20 := sma(closes, trendMA20Period)
	ma60 := sma(closes, trendMA60Period)
	bbMid := sma(closes, trendBBPeriod)
	bbStd := stddev(closes, trendBBPeriod, bbMid)
	upper := bbMid + bbStd*trendBBStdDev
	lower := bbMid - bbStd*trendBBStdDev

	switch {
	case current > upper && momentum > 0:
		return 2
	case current > ma20 && ma20 > ma60 && momentum > 0:
		return 1
	case current >= lower && current <= upper:
		return 0
	case current < ma20 && ma20 < ma60 && momentum < 0:
		return -1
	case current < lower && momentum < 0:
		return -2
	default:
		return 0
	}
}

func sma(values []float64, period int) float64 {
	n := len(values)
	if n < period {
		period = n
	}
	sum := 0.0
	for _, v := range values[n-period:] {
		sum += v
	}
	return sum / float64(period)
}

func stddev(values []float64, period int, mean float64) float64 {
	n := len(values)
	if n < period {
		period = n
	}
	window := values[n-period:]
	sumSq := 0.0
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	if period <= 1 {
		return 0
	}
	// Sample standard deviation (ddof=1), matching pandas' rolling().std() default.
	return math.Sqrt(sumSq / float64(period-1))
}
