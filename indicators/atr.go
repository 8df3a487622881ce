package indicators

import (
	"math"

	"github.com/rustyeddy/intraday/market"
)

func validAt(bars []market.Bar) func(int) bool {
	return func(i int) bool { return bars[i].Valid() }
}

func trueRange(cur, prev market.Bar) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// TrueRange returns the true range of each bar. Index 0 of every run of
// valid bars is undefined because it has no previous close.
func TrueRange(bars []market.Bar) []float64 {
	out := undefined(len(bars))
	eachRun(len(bars), validAt(bars), func(s, e int) {
		for i := s + 1; i < e; i++ {
			out[i] = trueRange(bars[i], bars[i-1])
		}
	})
	return out
}

// ATR is Wilder's average true range. The first value (index period) is the
// mean of the first period true ranges.
func ATR(bars []market.Bar, period int) []float64 {
	out := undefined(len(bars))
	if period <= 0 {
		return out
	}
	p := float64(period)
	tr := TrueRange(bars)
	eachRun(len(bars), validAt(bars), func(s, e int) {
		if e-s <= period {
			return
		}
		atr := 0.0
		for i := s + 1; i <= s+period; i++ {
			atr += tr[i]
		}
		atr /= p
		out[s+period] = atr
		for i := s + period + 1; i < e; i++ {
			atr = (atr*(p-1) + tr[i]) / p
			out[i] = atr
		}
	})
	return out
}

// ATRPercent expresses ATR as a percentage of the bar's close.
func ATRPercent(bars []market.Bar, period int) []float64 {
	atr := ATR(bars, period)
	out := undefined(len(bars))
	for i, v := range atr {
		if finite(v) && bars[i].Close > 0 {
			out[i] = v / bars[i].Close * 100
		}
	}
	return out
}
