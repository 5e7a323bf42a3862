package backtest

import "time"

// fullyClosedEpsilon is the floating-point tolerance below which a position's
// remaining quantity is treated as fully closed.
const fullyClosedEpsilon = 1e-8

// TpLevel configures one of the three partial take-profit slices.
type TpLevel struct {
	Use    bool
	Price  *float64
	Ratio  float64 // fraction of the original total_quantity
	Filled bool
}

// Position is the mutable state of an open position.
type Position struct {
	Side           TradeSide
	Leverage       float64
	EntryTimestamp time.Time

	EntryHistory []EntryRecord

	// RemainingQty is nil until the first partial exit; a nil value means
	// "unchanged = total quantity".
	RemainingQty *float64

	TakeProfitPrice   *float64
	StopLossPrice     *float64
	TrailingStopPrice *float64
	TrailingActivated bool

	TP1, TP2, TP3 TpLevel

	TrailingOffset      float64
	HighestPrice        *float64
	LowestPrice         *float64
	TrailingStartPoint  int // 1, 2 or 3

	DcaCount               int
	DcaLevels              []float64
	LastFilledPrice        float64
	InitialInvestmentQuote float64

	IsDualSide         bool
	MainPositionSide   TradeSide
	DualSideEntryIndex int
	ParentTradeID      int

	UnrealizedPnL        float64
	UnrealizedPnLPercent float64
	HighestPnL           float64
	LowestPnL            float64
}

// NewPosition constructs a position from its first fill.
func NewPosition(side TradeSide, leverage, price, qty, investment float64, ts time.Time) *Position {
	p := &Position{
		Side:                   side,
		Leverage:               leverage,
		EntryTimestamp:         ts,
		LastFilledPrice:        price,
		InitialInvestmentQuote: investment,
	}
	p.EntryHistory = append(p.EntryHistory, EntryRecord{
		Price: price, Quantity: qty, InvestmentQuote: investment, Timestamp: ts, Reason: "entry", DCAIndex: 0,
	})
	return p
}

// TotalQuantity is Σ qty over the entry history.
func (p *Position) TotalQuantity() float64 {
	total := 0.0
	for _, e := range p.EntryHistory {
		total += e.Quantity
	}
	return total
}

// TotalInvestmentQuote is Σ investment over the entry history.
func (p *Position) TotalInvestmentQuote() float64 {
	total := 0.0
	for _, e := range p.EntryHistory {
		total += e.InvestmentQuote
	}
	return total
}

// AverageEntryPrice is the quantity-weighted average entry price. Falls back
// to the first entry's price if total quantity is zero, and returns 0 if
// there is no history.
func (p *Position) AverageEntryPrice() float64 {
	if len(p.EntryHistory) == 0 {
		return 0
	}
	total := p.TotalQuantity()
	if total == 0 {
		return p.EntryHistory[0].Price
	}
	weighted := 0.0
	for _, e := range p.EntryHistory {
		weighted += e.Price * e.Quantity
	}
	return weighted / total
}

// CurrentQuantity is the position's open size: total quantity minus whatever
// partial exits have removed.
func (p *Position) CurrentQuantity() float64 {
	if p.RemainingQty == nil {
		return p.TotalQuantity()
	}
	return *p.RemainingQty
}

// AddEntry appends a fill to the entry history (initial entry or a DCA add),
// increments DcaCount for a DCA add, and updates LastFilledPrice.
// InitialInvestmentQuote is left unchanged.
func (p *Position) AddEntry(price, qty, investment float64, ts time.Time, reason string) {
	isInitial := len(p.EntryHistory) == 0
	dcaIndex := 0
	if !isInitial {
		p.DcaCount++
		dcaIndex = p.DcaCount
	}
	p.EntryHistory = append(p.EntryHistory, EntryRecord{
		Price: price, Quantity: qty, InvestmentQuote: investment, Timestamp: ts, Reason: reason, DCAIndex: dcaIndex,
	})
	p.LastFilledPrice = price
}

// CloseInstruction describes the quantity/ratio a partial exit removed.
type CloseInstruction struct {
	TpLevel      int
	ExitQty      float64
	ExitRatio    float64
	StopLossSnap *float64
}

// PartialExit applies a partial close at tpLevel for exitRatioOfOriginal
// (a fraction of the position's original total quantity, clamped to what
// remains). currentStopLoss is recorded into the instruction before any
// break-even promotion the caller applies afterward.
func (p *Position) PartialExit(tpLevel int, exitRatioOfOriginal float64, currentStopLoss *float64) CloseInstruction {
	original := p.TotalQuantity()
	remaining := p.CurrentQuantity()
	exitQty := original * exitRatioOfOriginal
	if exitQty > remaining {
		exitQty = remaining
	}
	newRemaining := remaining - exitQty
	p.RemainingQty = &newRemaining

	switch tpLevel {
	case 1:
		p.TP1.Filled = true
	case 2:
		p.TP2.Filled = true
	case 3:
		p.TP3.Filled = true
	}

	return CloseInstruction{
		TpLevel:      tpLevel,
		ExitQty:      exitQty,
		ExitRatio:    exitRatioOfOriginal,
		StopLossSnap: currentStopLoss,
	}
}

// UpdateUnrealizedPnL recomputes unrealized P&L against the average entry
// price and tracks the running best/worst P&L seen.
func (p *Position) UpdateUnrealizedPnL(currentPrice float64) {
	avg := p.AverageEntryPrice()
	qty := p.CurrentQuantity()
	sign := 1.0
	if p.Side == Short {
		sign = -1.0
	}
	pnl := (currentPrice - avg) * qty * p.Leverage * sign
	p.UnrealizedPnL = pnl

	investment := p.TotalInvestmentQuote()
	if investment > 0 {
		p.UnrealizedPnLPercent = pnl / investment * 100.0
	} else {
		initialMargin := avg * qty / maxFloat(p.Leverage, 1)
		if initialMargin > 0 {
			p.UnrealizedPnLPercent = pnl / initialMargin * 100.0
		} else {
			p.UnrealizedPnLPercent = 0
		}
	}

	if pnl > p.HighestPnL || len(p.EntryHistory) == 0 {
		p.HighestPnL = pnl
	}
	if pnl < p.LowestPnL {
		p.LowestPnL = pnl
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ActivateTrailingStop arms the HYPERRSI absolute-offset trailing stop:
// highest/lowest price seeds from currentPrice, stop price is offset from
// it, and trailingStartPoint records which TP level triggered activation.
func (p *Position) ActivateTrailingStop(currentPrice, offset float64, tpLevel int) {
	p.TrailingOffset = offset
	p.TrailingStartPoint = tpLevel
	if p.Side == Long {
		hp := currentPrice
		p.HighestPrice = &hp
		stop := currentPrice - offset
		p.TrailingStopPrice = &stop
	} else {
		lp := currentPrice
		p.LowestPrice = &lp
		stop := currentPrice + offset
		p.TrailingStopPrice = &stop
	}
	p.TrailingActivated = true
}

// UpdateTrailingStop ratchets the trailing stop in the favorable direction.
// It never retreats: for Long the stop only rises, for Short it only falls.
func (p *Position) UpdateTrailingStop(currentPrice float64) {
	if !p.TrailingActivated {
		return
	}
	if p.Side == Long {
		if p.HighestPrice == nil || currentPrice > *p.HighestPrice {
			hp := currentPrice
			p.HighestPrice = &hp
			stop := currentPrice - p.TrailingOffset
			p.TrailingStopPrice = &stop
		}
	} else {
		if p.LowestPrice == nil || currentPrice < *p.LowestPrice {
			lp := currentPrice
			p.LowestPrice = &lp
			stop := currentPrice + p.TrailingOffset
			p.TrailingStopPrice = &stop
		}
	}
}

// ShouldExitPartial returns the first unfilled TP level reached by
// currentPrice, skipping TP3 once the trailing stop is already active.
func (p *Position) ShouldExitPartial(currentPrice float64) (level int, price float64, ok bool) {
	check := func(tp TpLevel, lvl int) (int, float64, bool) {
		if !tp.Use || tp.Filled || tp.Price == nil {
			return 0, 0, false
		}
		if lvl == 3 && p.TrailingActivated {
			return 0, 0, false
		}
		hit := false
		if p.Side == Long {
			hit = currentPrice >= *tp.Price
		} else {
			hit = currentPrice <= *tp.Price
		}
		if !hit {
			return 0, 0, false
		}
		return lvl, *tp.Price, true
	}
	if lvl, price, ok := check(p.TP1, 1); ok {
		return lvl, price, ok
	}
	if lvl, price, ok := check(p.TP2, 2); ok {
		return lvl, price, ok
	}
	if lvl, price, ok := check(p.TP3, 3); ok {
		return lvl, price, ok
	}
	return 0, 0, false
}

// HasAnyPartialTp reports whether any of TP1/TP2/TP3 is configured in use.
func (p *Position) HasAnyPartialTp() bool {
	return p.TP1.Use || p.TP2.Use || p.TP3.Use
}

// IsBreakEvenSl classifies a stop-loss hit: it is a break-even exit iff the
// SL is at or beyond the average entry in the position's favor.
func (p *Position) IsBreakEvenSl() bool {
	if p.StopLossPrice == nil {
		return false
	}
	avg := p.AverageEntryPrice()
	if p.Side == Long {
		return *p.StopLossPrice >= avg
	}
	return *p.StopLossPrice <= avg
}

// TpRatioSum is the configured Σ of TP1/TP2/TP3 ratios, used to decide
// whether TP3's break-even promotion is suppressed at ~100% coverage.
func (p *Position) TpRatioSum() float64 {
	sum := 0.0
	if p.TP1.Use {
		sum += p.TP1.Ratio
	}
	if p.TP2.Use {
		sum += p.TP2.Ratio
	}
	if p.TP3.Use {
		sum += p.TP3.Ratio
	}
	return sum
}

// IsFullyClosed reports whether the position's remaining quantity has
// drained below the fully-closed epsilon.
func (p *Position) IsFullyClosed() bool {
	return p.CurrentQuantity() < fullyClosedEpsilon
}
