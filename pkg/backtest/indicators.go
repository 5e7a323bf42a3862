package backtest

import (
	"github.com/cinar/indicator/v2/momentum"
)

// ComputeRSI computes the Relative Strength Index over closes (oldest
// first) using cinar/indicator, returning nil when there isn't at least
// period+1 bars of history. Used as the on-demand fallback when a Candle's
// own rsi column is null.
func ComputeRSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	ch := make(chan float64, len(closes))
	for _, c := range closes {
		ch <- c
	}
	close(ch)

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := rsi.Compute(ch)

	var last float64
	seen := false
	for v := range out {
		last = v
		seen = true
	}
	if !seen {
		return nil
	}
	return &last
}

// ComputeSMA returns the simple moving average of the last period values of
// closes, or nil if there isn't enough history.
func ComputeSMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	v := sma(closes, period)
	return &v
}

// ComputeATR computes the Average True Range over highs/lows/closes
// (oldest first, all equal length), or nil if there isn't enough history.
func ComputeATR(highs, lows, closes []float64, period int) *float64 {
	n := len(closes)
	if n < period+1 {
		return nil
	}
	trs := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		hl := highs[i] - lows[i]
		tr := hl
		if i > 0 {
			hc := abs(highs[i] - closes[i-1])
			lc := abs(lows[i] - closes[i-1])
			if hc > tr {
				tr = hc
			}
			if lc > tr {
				tr = lc
			}
		}
		trs = append(trs, tr)
	}
	v := sma(trs, period)
	return &v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
