package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/intraday/market"
)

// Distances returns the stop-loss and take-profit distances from entry in
// percent. In DYNAMIC mode an undefined or non-positive ATR% falls back to
// the lower clamp.
func (s Stops) Distances(dir market.Direction, atrPercent float64) (slPct, tpPct float64) {
	switch s.Mode {
	case Dynamic:
		d := s.Dynamic
		if math.IsNaN(atrPercent) || atrPercent < 0 {
			atrPercent = 0
		}
		return d.clamp(atrPercent * d.SLMultiplier), d.clamp(atrPercent * d.TPMultiplier)
	default:
		if dir == market.Sell {
			return s.Static.SellSL, s.Static.SellTP
		}
		return s.Static.BuySL, s.Static.BuyTP
	}
}

func (d DynamicStops) clamp(pct float64) float64 {
	if pct < d.MinPercent {
		pct = d.MinPercent
	}
	if d.MaxPercent > 0 && pct > d.MaxPercent {
		pct = d.MaxPercent
	}
	return pct
}

// Levels prices the stop-loss and take-profit for an entry. The stop always
// sits on the loss side of entry for dir and the take-profit on the profit
// side.
func (s Stops) Levels(dir market.Direction, entry, atrPercent float64) (sl, tp float64, err error) {
	if dir == market.Hold {
		return 0, 0, fmt.Errorf("%w: no direction", ErrArithmeticDegenerate)
	}
	if !validPrice(entry) {
		return 0, 0, fmt.Errorf("%w: entry price %v", ErrArithmeticDegenerate, entry)
	}
	slPct, tpPct := s.Distances(dir, atrPercent)
	if slPct <= 0 || tpPct <= 0 {
		return 0, 0, fmt.Errorf("%w: zero stop distance (sl=%.4f%% tp=%.4f%%)", ErrArithmeticDegenerate, slPct, tpPct)
	}

	sign := dir.Sign()
	sl = entry * (1 - sign*slPct/100)
	tp = entry * (1 + sign*tpPct/100)
	if sl == entry || !validPrice(sl) || !validPrice(tp) {
		return 0, 0, fmt.Errorf("%w: degenerate levels sl=%v tp=%v for entry %v", ErrArithmeticDegenerate, sl, tp, entry)
	}
	return sl, tp, nil
}

// Price is Levels with the failure expressed as a rejection: BAD_PRICE for
// an unusable entry, ZERO_STOP_DISTANCE when the stops collapse onto it.
func (s Stops) Price(dir market.Direction, entry, atrPercent float64) (sl, tp float64, d Decision) {
	switch {
	case dir == market.Hold:
		return 0, 0, Reject(CodeHoldSignal, "no direction")
	case !validPrice(entry):
		return 0, 0, Reject(CodeBadPrice, fmt.Sprintf("entry price %v", entry))
	}
	sl, tp, err := s.Levels(dir, entry, atrPercent)
	if err != nil {
		return 0, 0, Reject(CodeZeroStopDistance, err.Error())
	}
	return sl, tp, Allow()
}
