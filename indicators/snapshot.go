package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/intraday/market"
)

// Params holds the look-back periods used to build a Snapshot.
type Params struct {
	SMAShort   int `yaml:"sma_short" json:"sma_short"`
	SMALong    int `yaml:"sma_long" json:"sma_long"`
	RSI        int `yaml:"rsi" json:"rsi"`
	MACDFast   int `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal"`
	Momentum   int `yaml:"momentum" json:"momentum"`
	ATR        int `yaml:"atr" json:"atr"`
	ADX        int `yaml:"adx" json:"adx"`
}

func DefaultParams() Params {
	return Params{
		SMAShort:   10,
		SMALong:    50,
		RSI:        14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		Momentum:   10,
		ATR:        14,
		ADX:        14,
	}
}

func (p Params) Validate() error {
	checks := []struct {
		name string
		v    int
	}{
		{"sma_short", p.SMAShort}, {"sma_long", p.SMALong}, {"rsi", p.RSI},
		{"macd_fast", p.MACDFast}, {"macd_slow", p.MACDSlow}, {"macd_signal", p.MACDSignal},
		{"momentum", p.Momentum}, {"atr", p.ATR}, {"adx", p.ADX},
	}
	for _, c := range checks {
		if c.v <= 0 {
			return fmt.Errorf("%w: indicator period %s must be positive, got %d", market.ErrInvalidConfiguration, c.name, c.v)
		}
	}
	if p.SMAShort >= p.SMALong {
		return fmt.Errorf("%w: sma_short (%d) must be below sma_long (%d)", market.ErrInvalidConfiguration, p.SMAShort, p.SMALong)
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("%w: macd_fast (%d) must be below macd_slow (%d)", market.ErrInvalidConfiguration, p.MACDFast, p.MACDSlow)
	}
	return nil
}

// Warmup is the number of bars needed for every Snapshot field to be
// defined at the latest bar.
func (p Params) Warmup() int {
	need := []int{
		p.SMAShort,
		p.SMALong,
		p.RSI + 1,
		p.MACDSlow + p.MACDSignal - 1,
		p.Momentum + 1,
		p.ATR + 1,
		2 * p.ADX,
	}
	w := 0
	for _, n := range need {
		if n > w {
			w = n
		}
	}
	return w
}

// Snapshot is the indicator state at one bar.
type Snapshot struct {
	Close      float64
	SMAShort   float64
	SMALong    float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	Momentum   float64
	ATR        float64
	ATRPercent float64
	ADX        float64
	PlusDI     float64
	MinusDI    float64
}

// Defined reports whether every field holds a computed value.
func (s Snapshot) Defined() bool {
	for _, v := range [...]float64{
		s.Close, s.SMAShort, s.SMALong, s.RSI, s.MACD, s.MACDSignal, s.MACDHist,
		s.Momentum, s.ATR, s.ATRPercent, s.ADX, s.PlusDI, s.MinusDI,
	} {
		if !finite(v) {
			return false
		}
	}
	return true
}

// Set is the full aligned indicator output for a bar sequence.
type Set struct {
	Closes     []float64
	SMAShort   []float64
	SMALong    []float64
	RSI        []float64
	MACD       MACDSeries
	Momentum   []float64
	ATR        []float64
	ATRPercent []float64
	ADX        ADXSeries
}

// Compute evaluates every indicator in p over bars.
func Compute(bars []market.Bar, p Params) Set {
	closes := market.Closes(bars)
	for i, b := range bars {
		if !b.Valid() {
			closes[i] = math.NaN()
		}
	}
	return Set{
		Closes:     closes,
		SMAShort:   SMA(closes, p.SMAShort),
		SMALong:    SMA(closes, p.SMALong),
		RSI:        RSI(closes, p.RSI),
		MACD:       MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal),
		Momentum:   Momentum(closes, p.Momentum),
		ATR:        ATR(bars, p.ATR),
		ATRPercent: ATRPercent(bars, p.ATR),
		ADX:        ADX(bars, p.ADX),
	}
}

func (s Set) Len() int { return len(s.Closes) }

// At returns the snapshot at bar i.
func (s Set) At(i int) Snapshot {
	return Snapshot{
		Close:      s.Closes[i],
		SMAShort:   s.SMAShort[i],
		SMALong:    s.SMALong[i],
		RSI:        s.RSI[i],
		MACD:       s.MACD.Line[i],
		MACDSignal: s.MACD.Signal[i],
		MACDHist:   s.MACD.Hist[i],
		Momentum:   s.Momentum[i],
		ATR:        s.ATR[i],
		ATRPercent: s.ATRPercent[i],
		ADX:        s.ADX.ADX[i],
		PlusDI:     s.ADX.PlusDI[i],
		MinusDI:    s.ADX.MinusDI[i],
	}
}

// Last returns the snapshot at the latest bar. ok is false for an empty set.
func (s Set) Last() (Snapshot, bool) {
	if s.Len() == 0 {
		return Snapshot{}, false
	}
	return s.At(s.Len() - 1), true
}

// Latest returns the snapshot at the newest bar.
func Latest(bars []market.Bar, p Params) (Snapshot, bool) {
	return Compute(bars, p).Last()
}
