package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/markethours"
)

// ProfitFactorNoLosses is reported as the profit factor when there are
// winning trades and no losing ones. A run without trades reports 0.
const ProfitFactorNoLosses = -1.0

type Metrics struct {
	Trades  int
	Wins    int
	Losses  int
	WinRate float64 // percent

	GrossProfit  float64
	GrossLoss    float64 // positive
	ProfitFactor float64

	NetPnL    float64
	ReturnPct float64

	MaxDrawdown    float64
	MaxDrawdownPct float64
	// RecoveryBars is the longest run of bars spent below a prior equity
	// peak. A drawdown still open at the end counts up to the last bar.
	RecoveryBars int

	Sharpe  float64
	Sortino float64

	AvgWin       float64
	AvgLoss      float64
	LargestWin   float64
	LargestLoss  float64
	AvgHoldBars  float64
	FinalEquity  float64
	PeakEquity   float64
	ExposureBars int
}

// ComputeMetrics summarizes a run. Per-bar returns are taken from the equity
// curve and annualized with periodsPerYear.
func ComputeMetrics(initial float64, curve []EquityPoint, trades []broker.Position, periodsPerYear float64) Metrics {
	var m Metrics
	m.FinalEquity = initial
	if n := len(curve); n > 0 {
		m.FinalEquity = curve[n-1].Equity
	}

	var holdSecs float64
	for _, t := range trades {
		m.Trades++
		pnl := t.RealizedPnL
		m.NetPnL += pnl
		switch {
		case pnl > 0:
			m.Wins++
			m.GrossProfit += pnl
			m.LargestWin = math.Max(m.LargestWin, pnl)
		case pnl < 0:
			m.Losses++
			m.GrossLoss -= pnl
			m.LargestLoss = math.Min(m.LargestLoss, pnl)
		}
		holdSecs += t.Duration().Seconds()
	}
	if m.Trades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Trades) * 100
	}
	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = -m.GrossLoss / float64(m.Losses)
	}
	m.ProfitFactor = profitFactor(m.GrossProfit, m.GrossLoss)

	if initial > 0 {
		m.ReturnPct = (m.FinalEquity - initial) / initial * 100
	}

	m.MaxDrawdown, m.MaxDrawdownPct, m.RecoveryBars, m.PeakEquity = drawdown(initial, curve)
	for _, p := range curve {
		if p.Open > 0 {
			m.ExposureBars++
		}
	}
	if len(curve) > 1 && m.Trades > 0 {
		step := curve[1].Time.Sub(curve[0].Time).Seconds()
		if step > 0 {
			m.AvgHoldBars = holdSecs / float64(m.Trades) / step
		}
	}

	rets := returns(initial, curve)
	m.Sharpe = sharpe(rets, periodsPerYear)
	m.Sortino = sortino(rets, periodsPerYear)
	return m
}

func profitFactor(gross, loss float64) float64 {
	switch {
	case loss > 0:
		return gross / loss
	case gross > 0:
		return ProfitFactorNoLosses
	}
	return 0
}

func drawdown(initial float64, curve []EquityPoint) (amount, pct float64, recovery int, peak float64) {
	peak = initial
	under := 0
	for _, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			under = 0
			continue
		}
		under++
		if under > recovery {
			recovery = under
		}
		dd := peak - p.Equity
		if dd > amount {
			amount = dd
		}
		if peak > 0 && dd/peak*100 > pct {
			pct = dd / peak * 100
		}
	}
	return amount, pct, recovery, peak
}

// returns are simple per-bar returns of equity, starting from initial.
func returns(initial float64, curve []EquityPoint) []float64 {
	out := make([]float64, 0, len(curve))
	prev := initial
	for _, p := range curve {
		if prev > 0 {
			out = append(out, p.Equity/prev-1)
		}
		prev = p.Equity
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// sharpe uses the sample standard deviation and a zero risk-free rate.
func sharpe(rets []float64, periodsPerYear float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	mu := mean(rets)
	var ss float64
	for _, r := range rets {
		ss += (r - mu) * (r - mu)
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 {
		return 0
	}
	return mu / sd * math.Sqrt(periodsPerYear)
}

// sortino divides by the downside deviation over all periods.
func sortino(rets []float64, periodsPerYear float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	var ss float64
	for _, r := range rets {
		if r < 0 {
			ss += r * r
		}
	}
	dd := math.Sqrt(ss / float64(len(rets)))
	if dd == 0 {
		return 0
	}
	return mean(rets) / dd * math.Sqrt(periodsPerYear)
}

const (
	RegimeTrending = "TRENDING"
	RegimeLateral  = "LATERAL"
	RegimeUnknown  = "UNKNOWN"

	VolatilityHigh = "HIGH_VOL"
	VolatilityLow  = "LOW_VOL"
)

// Segment is the performance of the trades sharing one label.
type Segment struct {
	Name         string
	Trades       int
	Wins         int
	Losses       int
	NetPnL       float64
	WinRate      float64 // percent
	ProfitFactor float64
}

type Segments struct {
	Regime     []Segment
	Session    []Segment
	Asset      []Segment
	Volatility []Segment
}

// SegmentTrades groups closed trades by the trend regime and volatility at entry,
// the session of the entry time in loc, and the asset.
func SegmentTrades(trades []broker.Position, adxTrending, atrHigh float64, loc *time.Location) Segments {
	regime := map[string][]broker.Position{}
	session := map[string][]broker.Position{}
	asset := map[string][]broker.Position{}
	vol := map[string][]broker.Position{}

	for _, t := range trades {
		snap := t.Signal.Snapshot

		r := RegimeUnknown
		if !math.IsNaN(snap.ADX) && snap.ADX != 0 {
			r = RegimeLateral
			if snap.ADX >= adxTrending {
				r = RegimeTrending
			}
		}
		regime[r] = append(regime[r], t)

		s := string(markethours.SessionOf(t.OpenTime, loc))
		session[s] = append(session[s], t)

		asset[t.Asset] = append(asset[t.Asset], t)

		if !math.IsNaN(snap.ATRPercent) && snap.ATRPercent != 0 {
			v := VolatilityLow
			if snap.ATRPercent >= atrHigh {
				v = VolatilityHigh
			}
			vol[v] = append(vol[v], t)
		}
	}

	return Segments{
		Regime:     segments(regime),
		Session:    segments(session),
		Asset:      segments(asset),
		Volatility: segments(vol),
	}
}

func segments(groups map[string][]broker.Position) []Segment {
	out := make([]Segment, 0, len(groups))
	for name, trades := range groups {
		s := Segment{Name: name}
		var gross, loss float64
		for _, t := range trades {
			s.Trades++
			s.NetPnL += t.RealizedPnL
			switch {
			case t.RealizedPnL > 0:
				s.Wins++
				gross += t.RealizedPnL
			case t.RealizedPnL < 0:
				s.Losses++
				loss -= t.RealizedPnL
			}
		}
		if s.Trades > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
		}
		s.ProfitFactor = profitFactor(gross, loss)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
