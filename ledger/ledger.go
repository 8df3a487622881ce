// Package ledger owns open positions and the account they draw on. It is
// the single writer of both: every open re-checks the risk policy under the
// ledger lock, and readers only ever see copies.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/intraday/botstate"
	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/internal/id"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/risk"
)

// ErrUnknownPosition is returned by Close for an id the ledger never issued,
// or one that fell out of the closed-position record and is not in the
// archive.
var ErrUnknownPosition = errors.New("unknown position")

// Archive looks up trades the ledger has journaled. *journal.SQLite
// satisfies it.
type Archive interface {
	GetTrade(tradeID string) (journal.TradeRecord, error)
}

const defaultTombstones = 1024

// Listener is notified after the ledger lock is released.
type Listener interface {
	PositionOpened(broker.Position)
	PositionClosed(broker.Position)
}

type Ledger struct {
	mu     sync.Mutex
	policy risk.Policy
	acct   broker.Account

	open  []*broker.Position // in open order
	marks map[string]float64

	// Closed positions are journaled and then kept only so a repeated
	// Close returns the same terminal record.
	closed     map[string]broker.Position
	closedFIFO []string
	maxClosed  int

	stats       breakerStats
	commission  float64
	spread      float64 // price points paid once per trade
	pointValue  float64
	instruments map[string]broker.Instrument
	archive     Archive

	state    *botstate.State
	journal  journal.Journal
	ids      id.Generator
	log      *slog.Logger
	listener Listener
}

type Option func(*Ledger)

// WithState gates Open on the run/pause flag.
func WithState(s *botstate.State) Option { return func(l *Ledger) { l.state = s } }

func WithJournal(j journal.Journal) Option {
	return func(l *Ledger) {
		if j != nil {
			l.journal = j
		}
	}
}

func WithIDs(g id.Generator) Option {
	return func(l *Ledger) {
		if g != nil {
			l.ids = g
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.log = lg
		}
	}
}

func WithListener(ln Listener) Option { return func(l *Ledger) { l.listener = ln } }

// WithCommission charges c account currency on every close.
func WithCommission(c float64) Option {
	return func(l *Ledger) {
		if c > 0 {
			l.commission = c
		}
	}
}

// WithSpread charges points × pointValue × size on every close. A zero
// pointValue counts one currency unit per point.
func WithSpread(points, pointValue float64) Option {
	return func(l *Ledger) {
		if points > 0 {
			l.spread = points
			l.pointValue = pointValue
			if pointValue <= 0 {
				l.pointValue = 1
			}
		}
	}
}

// WithInstruments makes Open price an order's margin from its instrument
// instead of the margin the caller put on it.
func WithInstruments(inst map[string]broker.Instrument) Option {
	return func(l *Ledger) {
		l.instruments = make(map[string]broker.Instrument, len(inst))
		for k, v := range inst {
			l.instruments[k] = v
		}
	}
}

// WithArchive lets Close answer for positions older than the closed-position
// record.
func WithArchive(a Archive) Option { return func(l *Ledger) { l.archive = a } }

// WithTombstones bounds how many closed positions are remembered.
func WithTombstones(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxClosed = n
		}
	}
}

func New(policy risk.Policy, acct broker.Account, opts ...Option) (*Ledger, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		policy:    policy,
		acct:      acct,
		marks:     make(map[string]float64),
		closed:    make(map[string]broker.Position),
		maxClosed: defaultTombstones,
		journal:   journal.Nop{},
		ids:       id.ULID{},
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	l.stats.peak = acct.Balance
	return l, nil
}

func (l *Ledger) Policy() risk.Policy { return l.policy }

// Open books order at now if the trading window is open, the ledger is
// running and the policy still allows it against the current open set.
func (l *Ledger) Open(o broker.Order, now time.Time) (broker.Position, risk.Decision) {
	if inst, ok := l.instruments[o.Asset]; ok {
		m := o.Size * inst.MarginPerUnit(o.Entry)
		if math.Abs(m-o.Margin) > 1e-6*math.Max(1, math.Abs(m)) {
			l.log.Debug("margin repriced", "asset", o.Asset, "given", o.Margin, "margin", m)
		}
		o.Margin = m
	}

	l.mu.Lock()

	var d risk.Decision
	switch {
	case !l.state.Running():
		d = risk.Reject(risk.CodePaused, "trading is paused")
	case !l.policy.Hours.IsOpen(now):
		d = risk.Reject(risk.CodeMarketClosed, fmt.Sprintf("%s is outside trading hours %s", now.UTC().Format(time.RFC3339), l.policy.Hours))
	default:
		d = l.policy.CheckOpen(o, l.acct, l.positionsLocked(), l.pnlLocked(now))
	}
	if !d.Allowed {
		l.mu.Unlock()
		l.log.Info("open rejected", "asset", o.Asset, "direction", o.Direction, "reason", d.Reason())
		return broker.Position{}, d
	}

	pos := &broker.Position{
		Order:    o,
		ID:       l.ids.Next(),
		OpenTime: now,
		Status:   broker.StatusOpen,
	}
	l.open = append(l.open, pos)
	l.acct.Available -= o.Margin
	l.acct.MarginUsed += o.Margin
	l.stats.dayUsed += o.Margin
	l.marks[o.Asset] = o.Entry
	l.recordEquityLocked(now)

	out := *pos
	listener := l.listener
	l.mu.Unlock()

	l.log.Info("position opened", "id", out.ID, "asset", out.Asset, "direction", out.Direction,
		"size", out.Size, "entry", out.Entry, "sl", out.StopLoss, "tp", out.TakeProfit, "margin", out.Margin)
	if listener != nil {
		listener.PositionOpened(out)
	}
	return out, d
}

// exitFor decides whether q closes p. The stop is checked first: when a bar
// spans both levels the loss is assumed. A bar that opens beyond a level
// fills at the open.
func exitFor(p *broker.Position, q broker.Quote) (broker.ExitReason, float64, bool) {
	switch p.Direction.Sign() {
	case 1:
		if q.Low <= p.StopLoss {
			return broker.ExitStopLoss, math.Min(p.StopLoss, gapOpen(q.Open, p.StopLoss)), true
		}
		if q.High >= p.TakeProfit {
			return broker.ExitTakeProfit, math.Max(p.TakeProfit, gapOpen(q.Open, p.TakeProfit)), true
		}
	case -1:
		if q.High >= p.StopLoss {
			return broker.ExitStopLoss, math.Max(p.StopLoss, gapOpen(q.Open, p.StopLoss)), true
		}
		if q.Low <= p.TakeProfit {
			return broker.ExitTakeProfit, math.Min(p.TakeProfit, gapOpen(q.Open, p.TakeProfit)), true
		}
	}
	return broker.ExitNone, 0, false
}

// gapOpen returns the bar open, or level when the open is unusable.
func gapOpen(open, level float64) float64 {
	if !(open > 0) || math.IsInf(open, 0) {
		return level
	}
	return open
}

// Evaluate closes every open position whose stop-loss or take-profit was
// crossed by its asset's quote and returns the closed positions in open
// order. Assets without a quote are left untouched.
func (l *Ledger) Evaluate(quotes map[string]broker.Quote) []broker.Position {
	l.mu.Lock()

	var closed []broker.Position
	var at time.Time
	for i := 0; i < len(l.open); {
		p := l.open[i]
		q, ok := quotes[p.Asset]
		if !ok {
			i++
			continue
		}
		if q.Close > 0 {
			l.marks[p.Asset] = q.Close
		}
		reason, price, hit := exitFor(p, q)
		if !hit {
			i++
			continue
		}
		closed = append(closed, l.closeLocked(i, reason, price, q.Time))
		if q.Time.After(at) {
			at = q.Time
		}
	}
	if len(closed) > 0 {
		l.recordEquityLocked(at)
	}

	listener := l.listener
	l.mu.Unlock()

	l.notifyClosed(listener, closed)
	return closed
}

// Close closes position id at price. Closing an already closed position
// returns its terminal record and false; an unknown id is an error. Only the
// last WithTombstones closes (1024 by default) are remembered; older ids are
// looked up in the archive when one is set, and are unknown otherwise.
func (l *Ledger) Close(posID string, reason broker.ExitReason, price float64, at time.Time) (broker.Position, bool, error) {
	if reason == broker.ExitNone {
		reason = broker.ExitManual
	}

	l.mu.Lock()
	i := l.indexLocked(posID)
	if i < 0 {
		p, ok := l.closed[posID]
		archive := l.archive
		l.mu.Unlock()
		if ok {
			return p, false, nil
		}
		if archive != nil {
			if rec, err := archive.GetTrade(posID); err == nil {
				if p, err := rec.Position(); err == nil {
					return p, false, nil
				}
			}
		}
		return broker.Position{}, false, fmt.Errorf("close %q: %w", posID, ErrUnknownPosition)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		l.mu.Unlock()
		return broker.Position{}, false, fmt.Errorf("close %q: %w: exit price %v", posID, risk.ErrArithmeticDegenerate, price)
	}

	p := l.closeLocked(i, reason, price, at)
	l.recordEquityLocked(at)
	listener := l.listener
	l.mu.Unlock()

	l.notifyClosed(listener, []broker.Position{p})
	return p, true, nil
}

// CloseAll closes every open position at its asset's quote close. It closes
// nothing when an open asset has no usable quote.
func (l *Ledger) CloseAll(quotes map[string]broker.Quote, reason broker.ExitReason, at time.Time) ([]broker.Position, error) {
	if reason == broker.ExitNone {
		reason = broker.ExitManual
	}

	l.mu.Lock()
	for _, p := range l.open {
		if q, ok := quotes[p.Asset]; !ok || !(q.Close > 0) {
			l.mu.Unlock()
			return nil, fmt.Errorf("close all: no price for %q", p.Asset)
		}
	}

	var closed []broker.Position
	for len(l.open) > 0 {
		p := l.open[0]
		closed = append(closed, l.closeLocked(0, reason, quotes[p.Asset].Close, at))
	}
	if len(closed) > 0 {
		l.recordEquityLocked(at)
	}
	listener := l.listener
	l.mu.Unlock()

	l.notifyClosed(listener, closed)
	return closed, nil
}

// Cancel removes an open position whose order never reached the broker.
// Its margin is released and no trade is recorded.
func (l *Ledger) Cancel(posID string) (broker.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(posID)
	if i < 0 {
		return broker.Position{}, fmt.Errorf("cancel %q: %w", posID, ErrUnknownPosition)
	}
	p := l.open[i]
	l.acct.Available += p.Margin
	l.acct.MarginUsed -= p.Margin
	if math.Abs(l.acct.MarginUsed) < 1e-9 {
		l.acct.MarginUsed = 0
	}
	if l.stats.dayKey == dayKey(p.OpenTime) {
		l.stats.dayUsed = math.Max(0, l.stats.dayUsed-p.Margin)
	}
	l.open = append(l.open[:i], l.open[i+1:]...)
	delete(l.marks, p.Asset)
	l.log.Warn("position cancelled", "id", p.ID, "asset", p.Asset)
	return *p, nil
}

// MarkToMarket updates the last known price of the given assets and returns
// equity: balance plus unrealized P&L at the latest marks.
func (l *Ledger) MarkToMarket(prices map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	for asset, px := range prices {
		if px > 0 && !math.IsInf(px, 0) {
			l.marks[asset] = px
		}
	}
	eq := l.acct.Equity(l.unrealizedLocked())
	if eq > l.stats.peak {
		l.stats.peak = eq
	}
	return eq
}

// Reconcile adopts the broker's view of the account and returns the
// ledger's previous one.
func (l *Ledger) Reconcile(a broker.Account) broker.Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.acct
	const drift = 0.01
	if math.Abs(prev.Balance-a.Balance) > drift || math.Abs(prev.MarginUsed-a.MarginUsed) > drift {
		l.log.Warn("account drift", "ledger_balance", prev.Balance, "broker_balance", a.Balance,
			"ledger_margin", prev.MarginUsed, "broker_margin", a.MarginUsed)
	}
	l.acct = a
	return prev
}

func (l *Ledger) indexLocked(posID string) int {
	for i, p := range l.open {
		if p.ID == posID {
			return i
		}
	}
	return -1
}

func (l *Ledger) closeLocked(i int, reason broker.ExitReason, price float64, at time.Time) broker.Position {
	p := l.open[i]
	pnl := p.PnL(price) - l.commission - l.spread*l.pointValue*p.Size

	p.Status = broker.StatusClosed
	p.ExitPrice = price
	p.ExitTime = at
	p.ExitReason = reason
	p.RealizedPnL = pnl

	l.acct.Balance += pnl
	l.acct.Available += p.Margin + pnl
	l.acct.MarginUsed -= p.Margin
	if math.Abs(l.acct.MarginUsed) < 1e-9 {
		l.acct.MarginUsed = 0
	}

	l.open = append(l.open[:i], l.open[i+1:]...)
	delete(l.marks, p.Asset)
	l.stats.record(at, pnl, l.acct.Available)

	out := *p
	l.remember(out)
	if err := l.journal.RecordTrade(journal.TradeFromPosition(out)); err != nil {
		l.log.Warn("journal trade failed", "id", out.ID, "err", err)
	}
	return out
}

func (l *Ledger) remember(p broker.Position) {
	l.closed[p.ID] = p
	l.closedFIFO = append(l.closedFIFO, p.ID)
	for len(l.closedFIFO) > l.maxClosed {
		delete(l.closed, l.closedFIFO[0])
		l.closedFIFO = l.closedFIFO[1:]
	}
}

func (l *Ledger) notifyClosed(listener Listener, closed []broker.Position) {
	for _, p := range closed {
		l.log.Info("position closed", "id", p.ID, "asset", p.Asset, "reason", p.ExitReason,
			"exit", p.ExitPrice, "pnl", p.RealizedPnL)
		if listener != nil {
			listener.PositionClosed(p)
		}
	}
}

func (l *Ledger) positionsLocked() []broker.Position {
	out := make([]broker.Position, len(l.open))
	for i, p := range l.open {
		out[i] = *p
	}
	return out
}

func (l *Ledger) unrealizedLocked() float64 {
	var u float64
	for _, p := range l.open {
		if px, ok := l.marks[p.Asset]; ok {
			u += p.PnL(px)
		}
	}
	return u
}

func (l *Ledger) recordEquityLocked(at time.Time) {
	eq := l.acct.Equity(l.unrealizedLocked())
	if eq > l.stats.peak {
		l.stats.peak = eq
	}
	err := l.journal.RecordEquity(journal.EquitySnapshot{
		Time:          at,
		Balance:       l.acct.Balance,
		Equity:        eq,
		MarginUsed:    l.acct.MarginUsed,
		Available:     l.acct.Available,
		OpenPositions: len(l.open),
	})
	if err != nil {
		l.log.Warn("journal equity failed", "err", err)
	}
}

func (l *Ledger) pnlLocked(now time.Time) risk.PnLSnapshot {
	l.stats.roll(now, l.acct.Available)
	eq := l.acct.Equity(l.unrealizedLocked())
	if eq > l.stats.peak {
		l.stats.peak = eq
	}
	return risk.PnLSnapshot{
		DayRealized:       l.stats.day,
		WeekRealized:      l.stats.week,
		ConsecutiveLosses: l.stats.losses,
		PeakEquity:        l.stats.peak,
		Equity:            eq,
		DayStartAvailable: l.stats.dayBase,
		DayAllocated:      l.stats.dayUsed,
	}
}
