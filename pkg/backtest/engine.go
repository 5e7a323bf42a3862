package backtest

import (
	"context"
	"fmt"
)

// BacktestEngine drives the per-bar event loop: it owns both
// PositionManagers (main + hedge), the BalanceTracker, the OrderSimulator,
// the Strategy, and the event log.
type BacktestEngine struct {
	Main     *PositionManager
	Hedge    *PositionManager
	Balance  *BalanceTracker
	Order    *OrderSimulator
	Strategy Strategy
	Events   *EventLog

	SymbolSpec SymbolSpec
	params     StrategyParams

	dualEntryCount int
}

// NewBacktestEngine wires a fresh engine for one run.
func NewBacktestEngine(strategy Strategy, order *OrderSimulator, symbolSpec SymbolSpec, initialBalance float64) *BacktestEngine {
	params := strategy.Params()
	return &BacktestEngine{
		Main:       NewPositionManager(params.FeeRate),
		Hedge:      NewPositionManager(params.FeeRate),
		Balance:    NewBalanceTracker(initialBalance),
		Order:      order,
		Strategy:   strategy,
		Events:     &EventLog{},
		SymbolSpec: symbolSpec,
		params:     params,
	}
}

// Run replays candles (in order) through the per-bar control flow and
// builds the BacktestResult.
func (e *BacktestEngine) Run(ctx context.Context, candles []Candle, symbol, timeframe, strategyName string) (*BacktestResult, error) {
	if len(candles) == 0 {
		return nil, &DataUnavailableError{Msg: "no candles supplied for backtest run"}
	}

	result := NewBacktestResult(symbol, timeframe, strategyName)
	result.Start = candles[0].Timestamp
	result.End = candles[len(candles)-1].Timestamp
	result.InitialBalance = e.Balance.InitialBalance
	result.ExecutionStarted = candles[0].Timestamp

	for _, candle := range candles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := candle.Validate(); err != nil {
			return nil, fmt.Errorf("invalid candle at %s: %w", candle.Timestamp, err)
		}
		e.processCandle(candle)
	}

	last := candles[len(candles)-1]
	unrealized := 0.0
	if e.Main.HasPosition() {
		e.Main.Position().UpdateUnrealizedPnL(last.Close)
		unrealized += e.Main.Position().UnrealizedPnL
		e.Events.Record(last.Timestamp, EventWarning, "main position still open at end of run", nil)
	}
	if e.Hedge.HasPosition() {
		e.Hedge.Position().UpdateUnrealizedPnL(last.Close)
		unrealized += e.Hedge.Position().UnrealizedPnL
		e.Events.Record(last.Timestamp, EventWarning, "hedge position still open at end of run", nil)
	}

	result.FinalBalance = e.Balance.CurrentBalance
	result.UnrealizedPnLAtEnd = unrealized
	result.Trades = ResequenceTrades(e.Main.Trades(), e.Hedge.Trades())
	result.EquityCurve = e.Balance.Snapshots
	result.Events = e.Events.Events()
	result.CalculateMetrics(e.Balance.MaxDrawdown, e.Balance.MaxDrawdownPercent)

	return result, nil
}

// processCandle runs the deterministic six-phase control flow for one bar.
func (e *BacktestEngine) processCandle(candle Candle) {
	mainClosedReason, mainClosed := e.checkMainExits(candle)
	if mainClosed {
		e.cascadeAfterMainClose(mainClosedReason, candle)
	}

	e.checkHedgeExits(candle)

	if e.Main.HasPosition() {
		e.checkDca(candle)
	}

	if !e.Main.HasPosition() {
		e.attemptEntry(candle)
	}

	if e.Main.HasPosition() {
		e.updateMainUnrealized(candle)
	}

	e.recordSnapshot(candle)
}

// (a) main exit checks.
func (e *BacktestEngine) checkMainExits(candle Candle) (ExitReason, bool) {
	if !e.Main.HasPosition() {
		return "", false
	}
	p := e.Main.Position()

	p.UpdateTrailingStop(candle.Close)

	if e.params.UseTrendClose && candle.TrendState != nil {
		ts := *candle.TrendState
		if (p.Side == Long && ts == -2) || (p.Side == Short && ts == 2) {
			trade, _ := e.Main.Close(candle.Close, candle.Timestamp, ExitSignal)
			e.Balance.ApplyRealized(trade.PnL)
			return ExitSignal, true
		}
	}

	if p.TrailingActivated && p.TrailingStopPrice != nil {
		if fill := e.Order.CheckTrailingStopHit(candle, *p.TrailingStopPrice, p.Side); fill != nil {
			trade, _ := e.Main.Close(*fill, candle.Timestamp, ExitTrailingStop)
			e.Balance.ApplyRealized(trade.PnL)
			return ExitTrailingStop, true
		}
	}

	if level, tpPrice, ok := p.ShouldExitPartial(candle.Close); ok {
		if fill := e.Order.CheckTakeProfitHit(candle, tpPrice, p.Side); fill != nil {
			slSnapshot := p.StopLossPrice
			trade, _ := e.Main.PartialClose(*fill, candle.Timestamp, level, e.tpRatio(p, level), slSnapshot)
			e.Balance.ApplyRealized(trade.PnL)
			e.applyBreakEvenPromotion(p, level)
			e.maybeActivateTrailingAfterTp(p, candle.Close, level)
			if e.Hedge.HasPosition() {
				e.refreshHedgeTargets(candle)
			}
			if !e.Main.HasPosition() {
				return ExitTakeProfit, true
			}
		}
	}

	if e.Main.HasPosition() {
		p = e.Main.Position()
		if !p.HasAnyPartialTp() && p.TakeProfitPrice != nil {
			if fill := e.Order.CheckTakeProfitHit(candle, *p.TakeProfitPrice, p.Side); fill != nil {
				trade, _ := e.Main.Close(*fill, candle.Timestamp, ExitTakeProfit)
				e.Balance.ApplyRealized(trade.PnL)
				return ExitTakeProfit, true
			}
		}
	}

	if e.Main.HasPosition() {
		p = e.Main.Position()
		if p.StopLossPrice != nil {
			isBreakEven := p.IsBreakEvenSl()
			if isBreakEven {
				if fill := e.Order.CheckStopHitExact(candle, *p.StopLossPrice, p.Side); fill != nil {
					trade, _ := e.Main.Close(*fill, candle.Timestamp, ExitBreakEven)
					e.Balance.ApplyRealized(trade.PnL)
					return ExitBreakEven, true
				}
			} else if e.params.UseSl {
				if fill := e.Order.CheckStopHit(candle, *p.StopLossPrice, p.Side); fill != nil {
					trade, _ := e.Main.Close(*fill, candle.Timestamp, ExitStopLoss)
					e.Balance.ApplyRealized(trade.PnL)
					return ExitStopLoss, true
				}
			}
		}
	}

	return "", false
}

func (e *BacktestEngine) tpRatio(p *Position, level int) float64 {
	switch level {
	case 1:
		return p.TP1.Ratio
	case 2:
		return p.TP2.Ratio
	case 3:
		return p.TP3.Ratio
	default:
		return 0
	}
}

func (e *BacktestEngine) applyBreakEvenPromotion(p *Position, level int) {
	switch level {
	case 1:
		if e.params.UseBreakEven {
			v := p.AverageEntryPrice()
			p.StopLossPrice = &v
		}
	case 2:
		if e.params.UseBreakEvenTP2 && p.TP1.Price != nil {
			v := *p.TP1.Price
			p.StopLossPrice = &v
		}
	case 3:
		if e.params.UseBreakEvenTP3 && p.TP2.Price != nil && p.TpRatioSum() < 0.99 {
			v := *p.TP2.Price
			p.StopLossPrice = &v
		}
	}
}

func (e *BacktestEngine) maybeActivateTrailingAfterTp(p *Position, currentPrice float64, level int) {
	if !e.params.TrailingStopActive || level != e.params.TrailingStartPoint {
		return
	}
	offset := e.Strategy.CalculateTrailingOffset(p.Side, currentPrice, p.TP2.Price, p.TP3.Price)
	e.Main.ActivateTrailingStopAfterTp(currentPrice, offset, level)
}

// (b) hedge exit checks.
func (e *BacktestEngine) checkHedgeExits(candle Candle) {
	if !e.Hedge.HasPosition() {
		return
	}
	h := e.Hedge.Position()

	if h.TakeProfitPrice != nil {
		if fill := e.Order.CheckTakeProfitHit(candle, *h.TakeProfitPrice, h.Side); fill != nil {
			trade, _ := e.Hedge.Close(*fill, candle.Timestamp, ExitHedgeTP)
			e.Balance.ApplyRealized(trade.PnL)
			if e.params.CloseMainOnHedgeTp && e.Main.HasPosition() {
				mtrade, _ := e.Main.Close(*fill, candle.Timestamp, ExitHedgeTP)
				e.Balance.ApplyRealized(mtrade.PnL)
				e.resetDualEntryIfFlat()
			}
			return
		}
	}
	if h.StopLossPrice != nil {
		if fill := e.Order.CheckStopHit(candle, *h.StopLossPrice, h.Side); fill != nil {
			trade, _ := e.Hedge.Close(*fill, candle.Timestamp, ExitHedgeSL)
			e.Balance.ApplyRealized(trade.PnL)
		}
	}
}

// cascadeAfterMainClose implements §4.6(d): when the main position closed in
// phase (a), decide whether to cascade-close the hedge.
func (e *BacktestEngine) cascadeAfterMainClose(reason ExitReason, candle Candle) {
	if e.Hedge.HasPosition() {
		if ShouldCascadeCloseDual(reason, e.params.DualSideCloseOnMainSl, e.params.DualSideTrendClose) {
			exitPrice := e.lastMainClosePrice(candle)
			trade, _ := e.Hedge.Close(exitPrice, candle.Timestamp, ExitLinkedExit)
			e.Balance.ApplyRealized(trade.PnL)
		}
	}
	e.resetDualEntryIfFlat()
}

func (e *BacktestEngine) lastMainClosePrice(candle Candle) float64 {
	if len(e.Main.trades) > 0 {
		return e.Main.trades[len(e.Main.trades)-1].ExitPrice
	}
	return candle.Close
}

func (e *BacktestEngine) resetDualEntryIfFlat() {
	if !e.Main.HasPosition() {
		e.dualEntryCount = 0
	}
}

// (c) DCA checks.
func (e *BacktestEngine) checkDca(candle Candle) {
	p := e.Main.Position()
	if !e.params.PyramidingEnabled {
		return
	}
	if p.DcaCount >= e.params.PyramidingLimit {
		return
	}
	if len(p.DcaLevels) == 0 {
		return
	}
	if !CheckDcaPriceCondition(candle.Close, p.DcaLevels, p.Side, e.params.UseCheckDcaWithPrice) {
		return
	}
	if !CheckDcaRsiCondition(candle.RSI, p.Side, e.params.RsiOversold, e.params.RsiOverbought, e.params.UseRsiWithPyramiding) {
		return
	}
	if !CheckDcaTrendCondition(candle.TrendState, candle.EMA, candle.SMA, p.Side, e.params.UseTrendLogic) {
		return
	}

	dcaIndex := p.DcaCount + 1
	investment, qty := CalculateDcaEntrySize(p.InitialInvestmentQuote, p.EntryHistory[0].Quantity, e.params.EntryMultiplier, dcaIndex)
	fillPrice := e.Order.SimulateMarketFill(p.Side, candle)
	qty = RoundToPrecision(qty, e.SymbolSpec.ContractSize, 8)
	if !ValidateOrderSize(qty, e.SymbolSpec.MinimumQty()) {
		e.Events.Record(candle.Timestamp, EventWarning, "dca entry below minimum order size, skipped", nil)
		return
	}

	_ = e.Main.AddToPosition(fillPrice, qty, investment, candle.Timestamp, "dca")
	fee := fillPrice * qty * e.params.FeeRate
	e.Balance.CurrentBalance -= fee
	e.Events.Record(candle.Timestamp, EventDcaFired, "dca entry filled", nil)

	ref := p.AverageEntryPrice()
	if e.params.EntryCriterion == DcaCriterionLastFilled {
		ref = p.LastFilledPrice
	}
	p.DcaLevels = CalculateDcaLevels(ref, p.Side, e.params.PyramidingLimit-p.DcaCount, e.params.PyramidingEntryType, e.params.PyramidingValue, candle.ATR)
	e.recalculateTpLevels(p, candle)

	e.maybeOpenHedge(candle, p)
}

func (e *BacktestEngine) recalculateTpLevels(p *Position, candle Candle) {
	avg := p.AverageEntryPrice()
	tp1, tp2, tp3 := e.Strategy.CalculateTpLevels(p.Side, avg, candle.ATR)
	if p.TP1.Use {
		p.TP1.Price = tp1
	}
	if p.TP2.Use {
		p.TP2.Price = tp2
	}
	if p.TP3.Use {
		p.TP3.Price = tp3
	}
}

func (e *BacktestEngine) isLastMainDca(p *Position) bool {
	return p.DcaCount >= e.params.PyramidingLimit
}

func (e *BacktestEngine) getMainProtectiveStop(p *Position) *float64 {
	if p.TrailingActivated {
		return p.TrailingStopPrice
	}
	return p.StopLossPrice
}

func (e *BacktestEngine) maybeOpenHedge(candle Candle, main *Position) {
	if !e.params.UseDualSideEntry {
		return
	}
	if !ShouldOpenDualSide(main.DcaCount, e.params.DualSideEntryTrigger, e.dualEntryCount, e.params.DualSidePyramidingLimit) {
		return
	}
	if e.Hedge.HasPosition() {
		return
	}
	hedgeSide := main.Side.Opposite()
	qty := CalculateDualSideQuantity(e.params.DualSideEntryRatioType, e.params.DualSideEntryRatioValue, main.CurrentQuantity())
	qty = RoundToPrecision(qty, e.SymbolSpec.ContractSize, 8)
	if !ValidateOrderSize(qty, e.SymbolSpec.MinimumQty()) {
		return
	}
	fill := e.Order.SimulateMarketFill(hedgeSide, candle)
	investment := fill * qty / maxFloat(main.Leverage, 1)
	hedge, err := e.Hedge.Open(hedgeSide, main.Leverage, fill, qty, investment, candle.Timestamp)
	if err != nil {
		return
	}
	hedge.IsDualSide = true
	hedge.MainPositionSide = main.Side
	hedge.DualSideEntryIndex = e.dualEntryCount

	e.dualEntryCount++
	e.Events.Record(candle.Timestamp, EventHedgeOpened, "hedge position opened", nil)
	e.updateHedgeTargets(main, hedge, candle)
}

// refreshHedgeTargets recomputes the hedge's TP/SL from the current main
// state. Called whenever main state changes in a way that affects its SL
// or last-filled price.
func (e *BacktestEngine) refreshHedgeTargets(candle Candle) {
	if !e.Main.HasPosition() || !e.Hedge.HasPosition() {
		return
	}
	e.updateHedgeTargets(e.Main.Position(), e.Hedge.Position(), candle)
}

func (e *BacktestEngine) updateHedgeTargets(main, hedge *Position, candle Candle) {
	hedgeEntry := hedge.AverageEntryPrice()
	hedge.TakeProfitPrice = CalculateDualSideTpPrice(
		e.params.DualSideEntryTpTriggerType,
		hedge.Side,
		hedgeEntry,
		e.isLastMainDca(main),
		main.LastFilledPrice,
		e.getMainProtectiveStop(main),
		e.params.DualSideEntryTpValue,
	)
	if e.params.UseDualSl {
		mainTps := map[string]*float64{"tp1": main.TP1.Price, "tp2": main.TP2.Price, "tp3": main.TP3.Price}
		hedge.StopLossPrice = CalculateDualSideSlPrice(
			e.params.DualSideEntrySlTriggerType,
			hedge.Side,
			hedgeEntry,
			e.params.DualSideEntrySlValue,
			mainTps,
		)
	}
}

// (e) no-position entry attempt.
func (e *BacktestEngine) attemptEntry(candle Candle) {
	signal, err := e.Strategy.GenerateSignal(candle)
	if err != nil || signal == nil || signal.Side == nil {
		return
	}
	side := *signal.Side
	qty, leverage := e.Strategy.CalculatePositionSize(side, e.Balance.CurrentBalance, candle.Close)
	qty = RoundToPrecision(qty, e.SymbolSpec.ContractSize, 8)
	if !ValidateOrderSize(qty, e.SymbolSpec.MinimumQty()) {
		e.Events.Record(candle.Timestamp, EventWarning, "entry below minimum order size, skipped", nil)
		return
	}
	tp, sl := e.Strategy.CalculateTpSl(side, candle.Close, candle)
	fill := e.Order.SimulateMarketFill(side, candle)
	investment := fill * qty / maxFloat(leverage, 1)

	pos, err := e.Main.Open(side, leverage, fill, qty, investment, candle.Timestamp)
	if err != nil {
		return
	}
	pos.TakeProfitPrice = tp
	pos.StopLossPrice = sl

	tp1, tp2, tp3 := e.Strategy.CalculateTpLevels(side, fill, candle.ATR)
	pos.TP1 = TpLevel{Use: e.params.UseTP1, Price: tp1, Ratio: e.params.TP1Ratio}
	pos.TP2 = TpLevel{Use: e.params.UseTP2, Price: tp2, Ratio: e.params.TP2Ratio}
	pos.TP3 = TpLevel{Use: e.params.UseTP3, Price: tp3, Ratio: e.params.TP3Ratio}

	ref := fill
	pos.DcaLevels = CalculateDcaLevels(ref, side, e.params.PyramidingLimit, e.params.PyramidingEntryType, e.params.PyramidingValue, candle.ATR)

	e.dualEntryCount = 0
	e.Events.Record(candle.Timestamp, EventPositionOpened, "main position opened: "+signal.Reason, nil)
}

// (f) unrealized P&L / trailing update.
func (e *BacktestEngine) updateMainUnrealized(candle Candle) {
	p := e.Main.Position()
	p.UpdateUnrealizedPnL(candle.Close)
	if p.TrailingActivated {
		p.UpdateTrailingStop(candle.Close)
	} else if e.Strategy.ShouldActivateTrailingStop(p.UnrealizedPnLPercent) {
		offset := e.Strategy.CalculateTrailingOffset(p.Side, candle.Close, p.TP2.Price, p.TP3.Price)
		p.ActivateTrailingStop(candle.Close, offset, 0)
	}
}

// (g) equity snapshot.
func (e *BacktestEngine) recordSnapshot(candle Candle) {
	unrealized := 0.0
	side := ""
	size := 0.0

	if e.Main.HasPosition() && e.Hedge.HasPosition() {
		e.refreshHedgeTargets(candle)
	}

	if e.Main.HasPosition() {
		p := e.Main.Position()
		unrealized += p.UnrealizedPnL
		side = string(p.Side)
		size += p.CurrentQuantity()
	}
	if e.Hedge.HasPosition() {
		h := e.Hedge.Position()
		h.UpdateUnrealizedPnL(candle.Close)
		unrealized += h.UnrealizedPnL
		size += h.CurrentQuantity()
		if side != "" && side != string(h.Side) {
			side = "hedged"
		} else if side == "" {
			side = string(h.Side)
		}
	}

	e.Balance.Snapshot(candle.Timestamp, side, size, unrealized)
}
