package ledger

import (
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/risk"
)

// Snapshot is a copy of the ledger state. Mutating it never affects the
// ledger.
type Snapshot struct {
	Account    broker.Account
	Positions  []broker.Position
	Unrealized float64
	Equity     float64
	Running    bool
	PnL        risk.PnLSnapshot
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.unrealizedLocked()
	return Snapshot{
		Account:    l.acct,
		Positions:  l.positionsLocked(),
		Unrealized: u,
		Equity:     l.acct.Equity(u),
		Running:    l.state.Running(),
		PnL: risk.PnLSnapshot{
			DayRealized:       l.stats.day,
			WeekRealized:      l.stats.week,
			ConsecutiveLosses: l.stats.losses,
			PeakEquity:        l.stats.peak,
			Equity:            l.acct.Equity(u),
			DayStartAvailable: l.stats.dayBase,
			DayAllocated:      l.stats.dayUsed,
		},
	}
}

// Positions returns a copy of the open positions in open order.
func (l *Ledger) Positions() []broker.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionsLocked()
}

func (l *Ledger) Account() broker.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct
}

// breakerStats tracks realized P&L per UTC day and ISO week, and the
// margin opened today against the capital available when the day began.
type breakerStats struct {
	dayKey  string
	weekKey int
	day     float64
	week    float64
	losses  int
	peak    float64
	dayBase float64
	dayUsed float64
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) int {
	y, w := t.UTC().ISOWeek()
	return y*100 + w
}

func (s *breakerStats) roll(t time.Time, available float64) {
	if t.IsZero() {
		return
	}
	if d := dayKey(t); d != s.dayKey {
		s.dayKey = d
		s.day = 0
		s.dayBase = available
		s.dayUsed = 0
	}
	if w := weekKey(t); w != s.weekKey {
		s.weekKey = w
		s.week = 0
	}
}

func (s *breakerStats) record(t time.Time, pnl, available float64) {
	s.roll(t, available)
	s.day += pnl
	s.week += pnl
	switch {
	case pnl < 0:
		s.losses++
	case pnl > 0:
		s.losses = 0
	}
}
