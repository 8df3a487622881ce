package signals

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rustyeddy/intraday/indicators"
	"github.com/rustyeddy/intraday/market"
)

// Scorer turns a bar series into a Signal. It holds no per-call state and
// is safe for concurrent use.
type Scorer struct {
	cfg ScorerConfig
	log *slog.Logger
}

type Option func(*Scorer)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) { s.log = l }
}

func NewScorer(cfg ScorerConfig, opts ...Option) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scorer config: %w", err)
	}
	s := &Scorer{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Scorer) Config() ScorerConfig { return s.cfg }

// Warmup is the number of fast bars needed before a signal can be anything
// other than HOLD.
func (s *Scorer) Warmup() int { return s.cfg.Periods.Warmup() }

// Score evaluates the latest bar of fast. slow is the confirming series for
// multi-timeframe mode and may be nil when that mode is off. Callers must
// pass only bars that are closed at the evaluation time.
func (s *Scorer) Score(fast market.Series, slow *market.Series) Signal {
	bars := fast.Window(s.cfg.Lookback).Bars
	if len(bars) == 0 {
		return hold(fast.Asset, time.Time{}, 0, []string{ErrInsufficientHistory.Error()})
	}
	last := bars[len(bars)-1]
	if len(bars) < s.Warmup() {
		return hold(fast.Asset, last.Time, last.Close, []string{ErrInsufficientHistory.Error()})
	}

	snap, _ := indicators.Compute(bars, s.cfg.Periods).Last()
	if !snap.Defined() {
		return hold(fast.Asset, last.Time, last.Close, []string{"indicators undefined at latest bar"})
	}

	slowTrend, slowReason := market.Hold, ""
	if s.cfg.MTF.Enabled {
		slowTrend, slowReason = s.slowTrend(slow)
	}

	sig := s.evaluate(fast.Asset, last.Time, snap, slowTrend, slowReason)
	s.log.Debug("scored", "asset", sig.Asset, "direction", sig.Direction.String(),
		"confidence", sig.Confidence, "score", sig.Score)
	return sig
}

// vote tallies weighted buy and sell votes from one snapshot.
func (s *Scorer) vote(snap indicators.Snapshot) (buy, sell int, reasons []string) {
	c := s.cfg
	price := snap.Close

	crossUp := snap.SMAShort > snap.SMALong
	switch {
	case crossUp && price > snap.SMALong:
		buy += 2
		reasons = append(reasons, "short average above long average")
	case !crossUp && price < snap.SMALong:
		sell += 2
		reasons = append(reasons, "short average below long average")
	}

	switch {
	case snap.RSI < c.RSIOversold:
		buy += 2
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", snap.RSI))
	case snap.RSI > c.RSIOverbought:
		sell += 2
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", snap.RSI))
	}

	switch {
	case snap.MACD > snap.MACDSignal && snap.MACDHist > 0:
		buy += 2
		reasons = append(reasons, "MACD above signal")
	case snap.MACD < snap.MACDSignal && snap.MACDHist < 0:
		sell += 2
		reasons = append(reasons, "MACD below signal")
	}

	switch {
	case snap.Momentum > c.MomentumThreshold:
		buy++
		reasons = append(reasons, fmt.Sprintf("momentum %+.2f%%", snap.Momentum))
	case snap.Momentum < -c.MomentumThreshold:
		sell++
		reasons = append(reasons, fmt.Sprintf("momentum %+.2f%%", snap.Momentum))
	}

	switch {
	case price > snap.SMAShort && price > snap.SMALong:
		buy++
		reasons = append(reasons, "price above both averages")
	case price < snap.SMAShort && price < snap.SMALong:
		sell++
		reasons = append(reasons, "price below both averages")
	}
	return buy, sell, reasons
}

// evaluate applies voting and every gate to a snapshot.
func (s *Scorer) evaluate(asset string, at time.Time, snap indicators.Snapshot, slowTrend market.Direction, slowReason string) Signal {
	c := s.cfg
	buy, sell, reasons := s.vote(snap)
	net := buy - sell

	dir := market.Hold
	switch {
	case net > 0 && buy >= c.MinScore:
		dir = market.Buy
	case net < 0 && sell >= c.MinScore:
		dir = market.Sell
	case net == 0:
		reasons = append(reasons, fmt.Sprintf("score tie (%d buy, %d sell)", buy, sell))
	default:
		reasons = append(reasons, fmt.Sprintf("score %+d below minimum %d", net, c.MinScore))
	}
	conf := math.Min(math.Abs(float64(net))/c.ConfidenceScale, 1)
	forced := false

	v := c.Volatility
	atrp := snap.ATRPercent
	switch {
	case atrp < v.MinATRPercent:
		forced = true
		reasons = append(reasons, fmt.Sprintf("volatility %.2f%% below minimum %.2f%%", atrp, v.MinATRPercent))
	case v.MaxATRPercent > 0 && atrp > v.MaxATRPercent:
		forced = true
		reasons = append(reasons, fmt.Sprintf("volatility %.2f%% above maximum %.2f%%", atrp, v.MaxATRPercent))
	case v.Boost > 0 && atrp >= v.OptimalMin && atrp <= v.OptimalMax:
		conf += v.Boost
		reasons = append(reasons, fmt.Sprintf("volatility %.2f%% in optimal range", atrp))
	}

	if tg := c.Trend; tg.Enabled {
		switch {
		case snap.ADX < tg.MinADX:
			forced = true
			reasons = append(reasons, fmt.Sprintf("ADX %.1f below minimum %.1f", snap.ADX, tg.MinADX))
		case snap.ADX >= tg.StrongADX && tg.Boost > 0:
			conf += tg.Boost
			reasons = append(reasons, fmt.Sprintf("strong trend (ADX %.1f)", snap.ADX))
		}
	}

	if c.MTF.Enabled && dir != market.Hold {
		switch {
		case slowReason != "":
			forced = true
			reasons = append(reasons, slowReason)
		case slowTrend == dir.Opposite():
			forced = true
			reasons = append(reasons, fmt.Sprintf("slow timeframe trend %s disagrees", slowTrend))
		case slowTrend == dir:
			conf += c.MTF.Boost
			reasons = append(reasons, fmt.Sprintf("slow timeframe trend %s confirms", slowTrend))
		default:
			reasons = append(reasons, "slow timeframe trend neutral")
		}
	}

	conf = math.Max(0, math.Min(conf, 1))
	if dir != market.Hold && !forced && conf < c.MinConfidence {
		forced = true
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below minimum %.2f", conf, c.MinConfidence))
	}

	sig := Signal{
		Asset:      asset,
		Time:       at,
		Direction:  dir,
		Confidence: conf,
		Score:      net,
		Price:      snap.Close,
		Snapshot:   snap,
		SlowTrend:  slowTrend,
		Reasons:    reasons,
	}
	if forced || dir == market.Hold {
		sig.Direction = market.Hold
		sig.Confidence = 0
	}
	return sig
}

// slowTrend derives a coarse direction from the slow series using the
// average cross and the position of price against the long average.
func (s *Scorer) slowTrend(slow *market.Series) (market.Direction, string) {
	if slow == nil {
		return market.Hold, "slow timeframe unavailable"
	}
	p := s.cfg.Periods
	bars := slow.Window(s.cfg.Lookback).Bars
	if len(bars) < p.SMALong {
		return market.Hold, "insufficient slow timeframe history"
	}
	closes := market.Closes(bars)
	short := indicators.LastValue(indicators.SMA(closes, p.SMAShort))
	long := indicators.LastValue(indicators.SMA(closes, p.SMALong))
	price := closes[len(closes)-1]
	if !indicators.Defined(short) || !indicators.Defined(long) {
		return market.Hold, "slow timeframe indicators undefined"
	}
	switch {
	case short > long && price > long:
		return market.Buy, ""
	case short < long && price < long:
		return market.Sell, ""
	}
	return market.Hold, ""
}
