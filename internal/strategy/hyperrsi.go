// Package strategy provides pluggable trading-strategy implementations for
// the backtest engine.
package strategy

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

// entryOption and tpSlOption are the two coarse strategy switches: whether
// entries use RSI alone or RSI plus a trend filter, and whether TP/SL is a
// fixed percentage or ATR-scaled.
type entryOption string

const (
	entryRsiOnly  entryOption = "rsi_only"
	entryRsiTrend entryOption = "rsi_trend"
)

type tpSlOption string

const (
	tpSlFixed      tpSlOption = "fixed"
	tpSlDynamicATR tpSlOption = "dynamic_atr"
)

type tpLevelMode string

const (
	tpModePercentage tpLevelMode = "percentage"
	tpModeATR        tpLevelMode = "atr"
	tpModePrice      tpLevelMode = "price"
)

const ringBufferCapacity = 100

// HyperrsiStrategy is the RSI + trend-filter strategy the backtest engine
// drives each bar: signal generation, position sizing, and TP/SL/trailing
// computation, all from a flat, validated parameter set.
type HyperrsiStrategy struct {
	signal *backtest.SignalGenerator

	EntryOption   entryOption
	Direction     string // "long", "short", "both"
	Leverage      float64
	Investment    float64

	TpSlOption       tpSlOption
	StopLossPercent  *float64
	TakeProfitPercent *float64
	AtrSlMultiplier  *float64
	AtrTpMultiplier  *float64

	UseTP1, UseTP2, UseTP3    bool
	TP1Value, TP2Value, TP3Value float64
	TP1Ratio, TP2Ratio, TP3Ratio float64
	TpOption tpLevelMode

	UseBreakEven, UseBreakEvenTP2, UseBreakEvenTP3 bool

	TrailingStopActive               bool
	TrailingStartPoint                int
	TrailingStopOffsetValue            float64
	UseTrailingWithTp2Tp3Difference    bool

	UseTrendClose bool
	UseSl         bool

	PyramidingEnabled    bool
	PyramidingLimit      int
	EntryMultiplier      float64
	PyramidingEntryType  backtest.DcaEntryType
	PyramidingValue      float64
	EntryCriterion       backtest.DcaEntryCriterion
	UseCheckDcaWithPrice bool
	UseRsiWithPyramiding bool
	UseTrendLogic        bool

	UseDualSideEntry           bool
	DualSideEntryTrigger       int
	DualSideEntryRatioType     backtest.DualSideRatioType
	DualSideEntryRatioValue    float64
	DualSideEntryTpTriggerType backtest.DualSideTpTriggerType
	DualSideEntryTpValue       float64
	CloseMainOnHedgeTp         bool
	UseDualSl                  bool
	DualSideEntrySlTriggerType backtest.DualSideSlTriggerType
	DualSideEntrySlValue       float64
	DualSidePyramidingLimit    int
	DualSideTrendClose         bool
	DualSideCloseOnMainSl      bool

	FeeRate float64

	// ring buffer of recent closes/highs/lows for on-demand indicator
	// recomputation, capacity ~100 bars.
	closes []float64
	highs  []float64
	lows   []float64

	previousRSI *float64
}

// NewHyperrsiStrategy validates params and constructs a ready strategy.
// params uses the flat English-keyed HYPERRSI parameter names.
func NewHyperrsiStrategy(params map[string]interface{}) (*HyperrsiStrategy, error) {
	s := &HyperrsiStrategy{
		EntryOption:  entryOption(getString(params, "entry_option", string(entryRsiOnly))),
		Direction:    getString(params, "direction", "both"),
		Leverage:     getFloat(params, "leverage", 10),
		Investment:   getFloat(params, "investment", 100),
		TpSlOption:   tpSlOption(getString(params, "tp_sl_option", string(tpSlFixed))),
		TpOption:     tpLevelMode(getString(params, "tp_option", string(tpModePercentage))),

		UseTP1: getBool(params, "use_tp1", false),
		UseTP2: getBool(params, "use_tp2", false),
		UseTP3: getBool(params, "use_tp3", false),
		TP1Value: getFloat(params, "tp1_value", 0),
		TP2Value: getFloat(params, "tp2_value", 0),
		TP3Value: getFloat(params, "tp3_value", 0),
		TP1Ratio: getFloat(params, "tp1_ratio", 0) / 100.0,
		TP2Ratio: getFloat(params, "tp2_ratio", 0) / 100.0,
		TP3Ratio: getFloat(params, "tp3_ratio", 0) / 100.0,

		UseBreakEven:    getBool(params, "use_break_even", false),
		UseBreakEvenTP2: getBool(params, "use_break_even_tp2", false),
		UseBreakEvenTP3: getBool(params, "use_break_even_tp3", false),

		TrailingStopActive:             getBool(params, "trailing_stop_active", false),
		TrailingStopOffsetValue:        getFloat(params, "trailing_stop_offset_value", 1.0),
		UseTrailingWithTp2Tp3Difference: getBool(params, "use_trailing_stop_value_with_tp2_tp3_difference", false),

		UseTrendClose: getBool(params, "use_trend_close", false),
		UseSl:         getBool(params, "use_sl", true),

		PyramidingEnabled:    getBool(params, "pyramiding_enabled", false),
		PyramidingLimit:      int(getFloat(params, "pyramiding_limit", 1)),
		EntryMultiplier:      getFloat(params, "entry_multiplier", 1.0),
		PyramidingEntryType:  backtest.DcaEntryType(getString(params, "pyramiding_entry_type", string(backtest.DcaEntryPercentage))),
		PyramidingValue:      getFloat(params, "pyramiding_value", 3.0),
		EntryCriterion:       backtest.DcaEntryCriterion(getString(params, "entry_criterion", string(backtest.DcaCriterionAverage))),
		UseCheckDcaWithPrice: getBool(params, "use_check_DCA_with_price", true),
		UseRsiWithPyramiding: getBool(params, "use_rsi_with_pyramiding", false),
		UseTrendLogic:        getBool(params, "use_trend_logic", false),

		UseDualSideEntry:           getBool(params, "use_dual_side_entry", false),
		DualSideEntryTrigger:       int(getFloat(params, "dual_side_entry_trigger", 1)),
		DualSideEntryRatioType:     backtest.DualSideRatioType(getString(params, "dual_side_entry_ratio_type", string(backtest.RatioPercentOfPosition))),
		DualSideEntryRatioValue:    getFloat(params, "dual_side_entry_ratio_value", 100),
		DualSideEntryTpTriggerType: backtest.DualSideTpTriggerType(getString(params, "dual_side_entry_tp_trigger_type", string(backtest.TpDoNotClose))),
		DualSideEntryTpValue:       getFloat(params, "dual_side_entry_tp_value", 0),
		CloseMainOnHedgeTp:         getBool(params, "close_main_on_hedge_tp", false),
		UseDualSl:                  getBool(params, "use_dual_sl", false),
		DualSideEntrySlTriggerType: backtest.DualSideSlTriggerType(getString(params, "dual_side_entry_sl_trigger_type", string(backtest.SlPercent))),
		DualSideEntrySlValue:       getFloat(params, "dual_side_entry_sl_value", 0),
		DualSidePyramidingLimit:    int(getFloat(params, "dual_side_pyramiding_limit", 1)),
		DualSideTrendClose:         getBool(params, "dual_side_trend_close", false),
		DualSideCloseOnMainSl:      getBool(params, "dual_side_close_on_main_sl", false),

		FeeRate: getFloat(params, "fee_rate", 0.0005),
	}

	if v, ok := params["stop_loss_percent"]; ok {
		f := toFloat(v)
		s.StopLossPercent = &f
	}
	if v, ok := params["take_profit_percent"]; ok {
		f := toFloat(v)
		s.TakeProfitPercent = &f
	}
	if v, ok := params["atr_sl_multiplier"]; ok {
		f := toFloat(v)
		s.AtrSlMultiplier = &f
	}
	if v, ok := params["atr_tp_multiplier"]; ok {
		f := toFloat(v)
		s.AtrTpMultiplier = &f
	}

	rsiOversold := getFloat(params, "rsi_oversold", 30)
	rsiOverbought := getFloat(params, "rsi_overbought", 70)
	s.signal = backtest.NewSignalGenerator(backtest.SignalGeneratorConfig{
		RsiOversold:    rsiOversold,
		RsiOverbought:  rsiOverbought,
		RsiPeriod:      int(getFloat(params, "rsi_period", 14)),
		UseTrendFilter: s.EntryOption == entryRsiTrend,
		EntryOption:    backtest.RsiEntryOption(getString(params, "rsi_entry_option", string(backtest.EntryOvershoot))),
	})
	switch getString(params, "trailing_start_point", "tp1") {
	case "tp2":
		s.TrailingStartPoint = 2
	case "tp3":
		s.TrailingStartPoint = 3
	default:
		s.TrailingStartPoint = 1
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HyperrsiStrategy) validate() error {
	if s.Leverage <= 0 {
		return &backtest.ParameterError{Field: "leverage", Msg: "must be > 0"}
	}
	if s.Investment <= 0 {
		return &backtest.ParameterError{Field: "investment", Msg: "must be > 0"}
	}
	switch s.Direction {
	case "long", "short", "both":
	default:
		return &backtest.ParameterError{Field: "direction", Msg: "must be long, short, or both"}
	}
	switch s.EntryOption {
	case entryRsiOnly, entryRsiTrend:
	default:
		return &backtest.ParameterError{Field: "entry_option", Msg: "must be rsi_only or rsi_trend"}
	}
	switch s.signal.Config.EntryOption {
	case backtest.EntryOvershoot, backtest.EntryCrossunder, backtest.EntryReversal, backtest.EntryReversalCrossunder:
	default:
		return &backtest.ParameterError{Field: "rsi_entry_option", Msg: "unrecognized value"}
	}
	switch s.TpOption {
	case tpModePercentage, tpModeATR, tpModePrice:
	default:
		return &backtest.ParameterError{Field: "tp_option", Msg: "must be percentage, atr, or price"}
	}
	if s.PyramidingLimit < 1 || s.PyramidingLimit > 10 {
		return &backtest.ParameterError{Field: "pyramiding_limit", Msg: "must be in [1, 10]"}
	}
	if s.EntryMultiplier < 0.1 || s.EntryMultiplier > 10.0 {
		return &backtest.ParameterError{Field: "entry_multiplier", Msg: "must be in [0.1, 10.0]"}
	}
	for name, ratio := range map[string]float64{"tp1_ratio": s.TP1Ratio, "tp2_ratio": s.TP2Ratio, "tp3_ratio": s.TP3Ratio} {
		if ratio < 0 || ratio > 1 {
			return &backtest.ParameterError{Field: name, Msg: "must be in [0, 1] once converted from percent"}
		}
	}
	if s.StopLossPercent != nil && (*s.StopLossPercent <= 0 || *s.StopLossPercent >= 100) {
		return &backtest.ParameterError{Field: "stop_loss_percent", Msg: "must be in (0, 100)"}
	}
	if s.TakeProfitPercent != nil && (*s.TakeProfitPercent <= 0 || *s.TakeProfitPercent >= 100) {
		return &backtest.ParameterError{Field: "take_profit_percent", Msg: "must be in (0, 100)"}
	}
	return nil
}

// Params exposes the flat parameter subset the engine reads directly.
func (s *HyperrsiStrategy) Params() backtest.StrategyParams {
	return backtest.StrategyParams{
		PyramidingEnabled:    s.PyramidingEnabled,
		PyramidingLimit:      s.PyramidingLimit,
		EntryMultiplier:      s.EntryMultiplier,
		PyramidingEntryType:  s.PyramidingEntryType,
		PyramidingValue:      s.PyramidingValue,
		EntryCriterion:       s.EntryCriterion,
		UseCheckDcaWithPrice: s.UseCheckDcaWithPrice,
		UseRsiWithPyramiding: s.UseRsiWithPyramiding,
		UseTrendLogic:        s.UseTrendLogic,
		RsiOversold:          s.signal.Config.RsiOversold,
		RsiOverbought:        s.signal.Config.RsiOverbought,

		UseTP1: s.UseTP1, TP1Ratio: s.TP1Ratio,
		UseTP2: s.UseTP2, TP2Ratio: s.TP2Ratio,
		UseTP3: s.UseTP3, TP3Ratio: s.TP3Ratio,

		UseBreakEven:    s.UseBreakEven,
		UseBreakEvenTP2: s.UseBreakEvenTP2,
		UseBreakEvenTP3: s.UseBreakEvenTP3,

		TrailingStopActive:             s.TrailingStopActive,
		TrailingStartPoint:              s.TrailingStartPoint,
		TrailingStopOffsetValue:         s.TrailingStopOffsetValue,
		UseTrailingWithTp2Tp3Difference: s.UseTrailingWithTp2Tp3Difference,

		UseTrendClose: s.UseTrendClose,
		UseSl:         s.UseSl,

		UseDualSideEntry:           s.UseDualSideEntry,
		DualSideEntryTrigger:       s.DualSideEntryTrigger,
		DualSideEntryRatioType:     s.DualSideEntryRatioType,
		DualSideEntryRatioValue:    s.DualSideEntryRatioValue,
		DualSideEntryTpTriggerType: s.DualSideEntryTpTriggerType,
		DualSideEntryTpValue:       s.DualSideEntryTpValue,
		CloseMainOnHedgeTp:         s.CloseMainOnHedgeTp,
		UseDualSl:                  s.UseDualSl,
		DualSideEntrySlTriggerType: s.DualSideEntrySlTriggerType,
		DualSideEntrySlValue:       s.DualSideEntrySlValue,
		DualSidePyramidingLimit:    s.DualSidePyramidingLimit,
		DualSideTrendClose:         s.DualSideTrendClose,
		DualSideCloseOnMainSl:      s.DualSideCloseOnMainSl,

		FeeRate: s.FeeRate,
	}
}

// observe appends the bar to the ring buffer used for on-demand indicator
// recomputation, keeping it bounded to ringBufferCapacity.
func (s *HyperrsiStrategy) observe(candle backtest.Candle) {
	s.closes = append(s.closes, candle.Close)
	s.highs = append(s.highs, candle.High)
	s.lows = append(s.lows, candle.Low)
	if len(s.closes) > ringBufferCapacity {
		s.closes = s.closes[len(s.closes)-ringBufferCapacity:]
		s.highs = s.highs[len(s.highs)-ringBufferCapacity:]
		s.lows = s.lows[len(s.lows)-ringBufferCapacity:]
	}
}

// GenerateSignal merges the candle's own indicator columns with on-demand
// computation from the ring buffer when a column is null.
func (s *HyperrsiStrategy) GenerateSignal(candle backtest.Candle) (*backtest.SignalResult, error) {
	s.observe(candle)

	rsi := candle.RSI
	if rsi == nil {
		rsi = backtest.ComputeRSI(s.closes, s.signal.Config.RsiPeriod)
	}
	if rsi == nil {
		log.Debug().Msg("insufficient history for on-demand RSI computation")
		s.previousRSI = rsi
		return nil, nil
	}

	trendState := candle.TrendState
	if trendState == nil && s.EntryOption == entryRsiTrend {
		v := backtest.CalculateTrendState(s.closes)
		trendState = &v
	}

	var side *backtest.TradeSide
	reason := ""

	if s.Direction == "long" || s.Direction == "both" {
		if ok, why := s.signal.CheckLongSignal(*rsi, trendState, s.previousRSI); ok {
			v := backtest.Long
			side, reason = &v, why
		}
	}
	if side == nil && (s.Direction == "short" || s.Direction == "both") {
		if ok, why := s.signal.CheckShortSignal(*rsi, trendState, s.previousRSI); ok {
			v := backtest.Short
			side, reason = &v, why
		}
	}

	prev := *rsi
	s.previousRSI = &prev

	if side == nil {
		return nil, nil
	}
	indicators := map[string]float64{"rsi": *rsi}
	if trendState != nil {
		indicators["trend_state"] = float64(*trendState)
	}
	return &backtest.SignalResult{Side: side, Reason: reason, Indicators: indicators}, nil
}

// CalculatePositionSize returns a fixed investment amount (quote units,
// capped at 95% of balance) converted to a quantity at leverage.
func (s *HyperrsiStrategy) CalculatePositionSize(side backtest.TradeSide, balance, price float64) (qty, leverage float64) {
	investment := math.Min(s.Investment, balance*0.95)
	if price <= 0 {
		return 0, s.Leverage
	}
	return investment * s.Leverage / price, s.Leverage
}

// CalculateTpSl returns the single (non-leveled) take-profit/stop-loss
// prices for a fresh entry, either fixed-percentage or ATR-scaled.
func (s *HyperrsiStrategy) CalculateTpSl(side backtest.TradeSide, entryPrice float64, candle backtest.Candle) (tp, sl *float64) {
	sign := 1.0
	if side == backtest.Short {
		sign = -1.0
	}
	if s.TpSlOption == tpSlDynamicATR {
		atr := candle.ATR
		if atr == nil {
			return nil, nil
		}
		if s.AtrTpMultiplier != nil {
			v := entryPrice + sign*(*atr)*(*s.AtrTpMultiplier)
			tp = &v
		}
		if s.AtrSlMultiplier != nil {
			v := entryPrice - sign*(*atr)*(*s.AtrSlMultiplier)
			sl = &v
		}
		return tp, sl
	}
	if s.TakeProfitPercent != nil {
		v := entryPrice * (1 + sign**s.TakeProfitPercent/100.0)
		tp = &v
	}
	if s.StopLossPercent != nil {
		v := entryPrice * (1 - sign**s.StopLossPercent/100.0)
		sl = &v
	}
	return tp, sl
}

// CalculateTpLevels computes TP1/TP2/TP3 prices. Long adds, Short
// subtracts; ATR mode guarantees a minimum 0.1% offset; results are clamped
// so a TP can never sit on the wrong side of entry.
func (s *HyperrsiStrategy) CalculateTpLevels(side backtest.TradeSide, entryPrice float64, atr *float64) (tp1, tp2, tp3 *float64) {
	sign := 1.0
	if side == backtest.Short {
		sign = -1.0
	}
	compute := func(use bool, value float64) *float64 {
		if !use {
			return nil
		}
		var offset float64
		switch s.TpOption {
		case tpModeATR:
			if atr == nil {
				return nil
			}
			offset = *atr * value
			minOffset := entryPrice * 0.001
			if offset < minOffset {
				offset = minOffset
			}
		case tpModePrice:
			offset = value - entryPrice
			if side == backtest.Short {
				offset = entryPrice - value
			}
		default: // percentage
			offset = entryPrice * value / 100.0
		}
		v := entryPrice + sign*offset
		if side == backtest.Long && v < entryPrice*1.0001 {
			v = entryPrice * 1.0001
		}
		if side == backtest.Short && v > entryPrice*0.9999 {
			v = entryPrice * 0.9999
		}
		return &v
	}
	return compute(s.UseTP1, s.TP1Value), compute(s.UseTP2, s.TP2Value), compute(s.UseTP3, s.TP3Value)
}

// CalculateTrailingOffset computes the absolute price offset used to arm
// the trailing stop, either the TP2/TP3 gap or a percentage of price.
func (s *HyperrsiStrategy) CalculateTrailingOffset(side backtest.TradeSide, currentPrice float64, tp2, tp3 *float64) float64 {
	if s.UseTrailingWithTp2Tp3Difference && tp2 != nil && tp3 != nil {
		diff := *tp3 - *tp2
		if diff < 0 {
			diff = -diff
		}
		return diff
	}
	return currentPrice * s.TrailingStopOffsetValue * 0.01
}

// ShouldActivateTrailingStop: if any TP level is enabled, activation is
// driven entirely by a TP-fill trigger, never by P&L. Otherwise activate
// once P&L turns non-negative.
func (s *HyperrsiStrategy) ShouldActivateTrailingStop(pnlPercent float64) bool {
	if s.UseTP1 || s.UseTP2 || s.UseTP3 {
		return false
	}
	return pnlPercent >= 0
}

// GetRequiredIndicators declares which Candle indicator columns this
// configuration actually reads: RSI always drives entry signals; ATR is
// needed only under the dynamic-ATR TP/SL or TP-level mode; trend_state is
// needed by the rsi_trend entry filter and, with ema/sma as its fallback,
// by trend-gated DCA.
func (s *HyperrsiStrategy) GetRequiredIndicators() []string {
	indicators := []string{"rsi"}

	if s.TpSlOption == tpSlDynamicATR || s.TpOption == tpModeATR {
		indicators = append(indicators, "atr")
	}
	if s.EntryOption == entryRsiTrend {
		indicators = append(indicators, "trend_state")
	}
	if s.PyramidingEnabled && s.UseTrendLogic {
		indicators = append(indicators, "trend_state", "ema", "sma")
	}

	seen := make(map[string]bool, len(indicators))
	unique := indicators[:0]
	for _, ind := range indicators {
		if !seen[ind] {
			seen[ind] = true
			unique = append(unique, ind)
		}
	}
	return unique
}

func getString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func getBool(m map[string]interface{}, key string, def bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func getFloat(m map[string]interface{}, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		return toFloat(v)
	}
	return def
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
