package backtest

// SignalResult is what Strategy.GenerateSignal returns for one bar.
type SignalResult struct {
	Side       *TradeSide
	Reason     string
	Indicators map[string]float64
}

// Strategy is the pluggable capability set the engine drives each bar:
// signal generation, position sizing, and TP/SL computation. HYPERRSI
// (internal/strategy) is the provided implementation.
type Strategy interface {
	// GenerateSignal merges the candle's own indicator columns with
	// on-demand computation from the strategy's own price-history ring
	// buffer when a column is null.
	GenerateSignal(candle Candle) (*SignalResult, error)

	// CalculatePositionSize returns the quantity and leverage for a fresh
	// entry. The caller (engine) still rounds to precision and validates
	// against the instrument minimum.
	CalculatePositionSize(side TradeSide, balance, price float64) (qty, leverage float64)

	// CalculateTpSl returns the single (non-leveled) take-profit and
	// stop-loss prices for a fresh entry. Either may be nil if disabled.
	CalculateTpSl(side TradeSide, entryPrice float64, candle Candle) (tp, sl *float64)

	// CalculateTpLevels returns TP1/TP2/TP3 prices for a fresh entry (or
	// for a DCA add, recomputed from the new average).
	CalculateTpLevels(side TradeSide, entryPrice float64, atr *float64) (tp1, tp2, tp3 *float64)

	// CalculateTrailingOffset computes the absolute price offset used to
	// arm the HYPERRSI trailing stop once TrailingStartPoint is hit.
	CalculateTrailingOffset(side TradeSide, currentPrice float64, tp2, tp3 *float64) float64

	// ShouldActivateTrailingStop is consulted only when activation is not
	// already driven by a TP-fill trigger.
	ShouldActivateTrailingStop(pnlPercent float64) bool

	// Params exposes the flat parameter set the engine needs to drive DCA,
	// dual-side, and break-even logic without a strategy-specific type
	// assertion.
	Params() StrategyParams

	// GetRequiredIndicators declares which Candle indicator columns
	// ("rsi", "atr", "ema", "sma", "trend_state") this strategy's current
	// configuration actually reads, so a CandleSource can skip computing
	// columns no configured strategy will use. The engine itself does not
	// call this; it exists for CandleSource implementations.
	GetRequiredIndicators() []string
}

// StrategyParams is the subset of a strategy's configuration the engine
// reads directly to drive control flow outside of signal/sizing/TP-SL
// computation (DCA gating, dual-side, break-even, trailing activation).
type StrategyParams struct {
	PyramidingEnabled    bool
	PyramidingLimit      int
	EntryMultiplier      float64
	PyramidingEntryType  DcaEntryType
	PyramidingValue      float64
	EntryCriterion       DcaEntryCriterion
	UseCheckDcaWithPrice bool
	UseRsiWithPyramiding bool
	UseTrendLogic        bool
	RsiOversold          float64
	RsiOverbought        float64

	UseTP1, UseTP2, UseTP3       bool
	TP1Ratio, TP2Ratio, TP3Ratio float64

	UseBreakEven   bool
	UseBreakEvenTP2 bool
	UseBreakEvenTP3 bool

	TrailingStopActive              bool
	TrailingStartPoint               int
	TrailingStopOffsetValue           float64
	UseTrailingWithTp2Tp3Difference   bool

	UseTrendClose bool
	UseSl         bool

	UseDualSideEntry          bool
	DualSideEntryTrigger      int
	DualSideEntryRatioType    DualSideRatioType
	DualSideEntryRatioValue   float64
	DualSideEntryTpTriggerType DualSideTpTriggerType
	DualSideEntryTpValue      float64
	CloseMainOnHedgeTp        bool
	UseDualSl                 bool
	DualSideEntrySlTriggerType DualSideSlTriggerType
	DualSideEntrySlValue      float64
	DualSidePyramidingLimit   int
	DualSideTrendClose        bool
	DualSideCloseOnMainSl     bool

	FeeRate float64
}
