package market

import (
	"math"
	"time"
)

// Bar represents one OHLCV interval. Time is the open time of the interval.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Valid reports whether every price field is a finite positive number.
func (b Bar) Valid() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// Closes returns the close prices of bars, in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// Series is an ordered bar sequence for one asset at one timeframe.
type Series struct {
	Asset     string
	Timeframe time.Duration
	Bars      []Bar
}

func (s Series) Len() int { return len(s.Bars) }

// Last returns the most recent bar.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Window returns a view of the last n bars. n <= 0 returns the whole series.
func (s Series) Window(n int) Series {
	if n <= 0 || n >= len(s.Bars) {
		return s
	}
	out := s
	out.Bars = s.Bars[len(s.Bars)-n:]
	return out
}

// ClosedBy returns a view of the bars whose interval has fully elapsed at t,
// i.e. Time+Timeframe <= t. Bars are assumed sorted by time.
func (s Series) ClosedBy(t time.Time) Series {
	n := 0
	for n < len(s.Bars) && !s.Bars[n].Time.Add(s.Timeframe).After(t) {
		n++
	}
	out := s
	out.Bars = s.Bars[:n]
	return out
}

// Upto returns a view of the bars opened at or before t.
func (s Series) Upto(t time.Time) Series {
	n := 0
	for n < len(s.Bars) && !s.Bars[n].Time.After(t) {
		n++
	}
	out := s
	out.Bars = s.Bars[:n]
	return out
}

// Index returns the position of the bar opened exactly at t.
func (s Series) Index(t time.Time) (int, bool) {
	lo, hi := 0, len(s.Bars)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Bars[mid].Time.Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.Bars) && s.Bars[lo].Time.Equal(t) {
		return lo, true
	}
	return -1, false
}
