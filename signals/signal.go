package signals

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/indicators"
	"github.com/rustyeddy/intraday/market"
)

// ErrInsufficientHistory marks a HOLD caused by too few bars. Scoring never
// returns it; it is carried as the text of the signal's reason.
var ErrInsufficientHistory = errors.New("insufficient history")

// Signal is the scorer's verdict for one asset at one bar. Values are
// immutable once returned: Reasons is never shared with the scorer.
type Signal struct {
	Asset      string
	Time       time.Time
	Direction  market.Direction
	Confidence float64
	Score      int
	Price      float64
	Snapshot   indicators.Snapshot
	SlowTrend  market.Direction
	Reasons    []string
}

// Tradable reports whether the signal asks for a position.
func (s Signal) Tradable() bool { return s.Direction != market.Hold }

// WithReason returns a copy of s with reason appended.
func (s Signal) WithReason(reason string) Signal {
	out := s
	out.Reasons = append(append([]string(nil), s.Reasons...), reason)
	return out
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s conf=%.2f score=%+d price=%.5f [%s]",
		s.Asset, s.Direction, s.Confidence, s.Score, s.Price, strings.Join(s.Reasons, "; "))
}

func hold(asset string, at time.Time, price float64, reasons []string) Signal {
	return Signal{
		Asset:     asset,
		Time:      at,
		Direction: market.Hold,
		Price:     price,
		Reasons:   reasons,
	}
}
