// Package live runs the scoring, sizing and ledger pipeline on a fixed
// interval against a bar provider and, optionally, a broker.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/intraday/botstate"
	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signals"
)

// CodeSubmitFailed marks an order the executor refused.
const CodeSubmitFailed = "SUBMIT_FAILED"

// Loop is one trading bot. Fields are set before Run and not changed after.
type Loop struct {
	Interval  time.Duration
	Assets    []string
	Timeframe time.Duration
	// SlowTimeframe is fetched for multi-timeframe confirmation. Zero skips
	// the slow fetch.
	SlowTimeframe time.Duration
	// History is the number of bars fetched per asset; 0 uses the scorer's
	// lookback.
	History int
	// Parallel bounds concurrent fetches; 0 fetches every asset at once.
	Parallel int

	Bars     broker.BarProvider
	Account  broker.AccountProvider // nil: the ledger's account is authoritative
	Executor broker.Executor        // nil: paper trading

	// Scorers holds one scorer per asset; Scorer serves the rest.
	Scorer  *signals.Scorer
	Scorers map[string]*signals.Scorer
	Sizer   *risk.Sizer
	Ledger  *ledger.Ledger
	State   *botstate.State
	Journal journal.Journal
	Metrics *Metrics

	Now func() time.Time
	Log *slog.Logger
}

// Report describes one cycle.
type Report struct {
	Time     time.Time
	Skipped  string // "paused" when the cycle did nothing
	InHours  bool
	Signals  []signals.Signal
	Closed   []broker.Position
	Opened   []broker.Position
	Rejected []risk.Result
	Equity   float64
	Errors   []error
}

type fetched struct {
	asset  string
	series market.Series
	signal signals.Signal
	err    error
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *Loop) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

func (l *Loop) scorer(asset string) *signals.Scorer {
	if s, ok := l.Scorers[asset]; ok && s != nil {
		return s
	}
	return l.Scorer
}

func (l *Loop) validate() error {
	switch {
	case l.Bars == nil:
		return errors.New("live: no bar provider")
	case l.Sizer == nil || l.Ledger == nil:
		return errors.New("live: sizer and ledger are required")
	case len(l.Assets) == 0:
		return errors.New("live: no assets")
	case l.Timeframe <= 0:
		return errors.New("live: timeframe not set")
	}
	for _, a := range l.Assets {
		if l.scorer(a) == nil {
			return fmt.Errorf("live: no scorer for %s", a)
		}
	}
	return nil
}

// Run executes a cycle now and then every Interval until ctx is done. Cycle
// errors are logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.validate(); err != nil {
		return err
	}
	if l.Interval <= 0 {
		return errors.New("live: interval must be positive")
	}
	log := l.log()
	log.Info("live loop started", "assets", l.Assets, "interval", l.Interval,
		"timeframe", market.FormatTimeframe(l.Timeframe), "paper", l.Executor == nil)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		if _, err := l.Cycle(ctx); err != nil && ctx.Err() == nil {
			log.Error("cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			log.Info("live loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one evaluation: state check, parallel fetch and score, then
// reconcile, exits, sizing and opens in order under the ledger.
func (l *Loop) Cycle(ctx context.Context) (Report, error) {
	if err := l.validate(); err != nil {
		return Report{}, err
	}
	start := time.Now()
	now := l.now()
	rep := Report{Time: now}
	m := l.Metrics
	log := l.log()

	running := l.State.Running()
	if m != nil {
		m.Running.Set(boolGauge(running))
	}
	if !running {
		rep.Skipped = "paused"
		if m != nil {
			m.Skipped.WithLabelValues("paused").Inc()
		}
		log.Debug("cycle skipped", "reason", "paused")
		return rep, nil
	}

	rep.InHours = l.Ledger.Policy().Hours.IsOpen(now)
	if !rep.InHours && m != nil {
		m.Skipped.WithLabelValues("closed").Inc()
	}

	results, err := l.fetchAndScore(ctx, now, rep.InHours)
	if err != nil {
		l.failed()
		return rep, err
	}

	quotes := make(map[string]broker.Quote, len(results))
	prices := make(map[string]float64, len(results))
	var candidates []signals.Signal
	for _, r := range results {
		if r.err != nil {
			rep.Errors = append(rep.Errors, r.err)
			if m != nil {
				m.FetchErrs.WithLabelValues(r.asset).Inc()
			}
			continue
		}
		if last, ok := r.series.Last(); ok && last.Valid() {
			quotes[r.asset] = broker.QuoteFromBar(last)
			prices[r.asset] = last.Close
		}
		if !rep.InHours {
			continue
		}
		rep.Signals = append(rep.Signals, r.signal)
		if m != nil {
			m.Signals.WithLabelValues(r.asset, r.signal.Direction.String()).Inc()
		}
		if l.Journal != nil {
			if err := l.Journal.RecordSignal(journal.SignalFrom(r.signal)); err != nil {
				log.Warn("journal signal failed", "asset", r.asset, "err", err)
			}
		}
		if r.signal.Tradable() {
			candidates = append(candidates, r.signal)
		}
	}

	if l.Account != nil {
		acct, err := l.Account.Account(ctx)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("account: %w", err))
		} else {
			l.Ledger.Reconcile(acct)
		}
	}

	rep.Closed = l.Ledger.Evaluate(quotes)
	if m != nil {
		for _, p := range rep.Closed {
			m.Closed.WithLabelValues(string(p.ExitReason)).Inc()
		}
	}

	if rep.InHours && len(candidates) > 0 {
		l.open(ctx, now, candidates, &rep)
	}

	rep.Equity = l.Ledger.MarkToMarket(prices)
	if l.State != nil {
		l.State.Beat(now)
	}
	if m != nil {
		snap := l.Ledger.Snapshot()
		m.Cycles.Inc()
		m.CycleDuration.Observe(time.Since(start).Seconds())
		m.OpenPositions.Set(float64(len(snap.Positions)))
		m.Equity.Set(rep.Equity)
		m.Balance.Set(snap.Account.Balance)
		m.MarginUsed.Set(snap.Account.MarginUsed)
	}

	log.Info("cycle done", "signals", len(rep.Signals), "opened", len(rep.Opened),
		"closed", len(rep.Closed), "rejected", len(rep.Rejected), "equity", rep.Equity,
		"in_hours", rep.InHours, "errors", len(rep.Errors))
	return rep, nil
}

// fetchAndScore loads bars for every asset in parallel and scores them when
// score is set. Provider errors are kept per asset; only cancellation fails
// the group.
func (l *Loop) fetchAndScore(ctx context.Context, now time.Time, score bool) ([]fetched, error) {
	out := make([]fetched, len(l.Assets))
	g, gctx := errgroup.WithContext(ctx)
	if l.Parallel > 0 {
		g.SetLimit(l.Parallel)
	}
	for i, asset := range l.Assets {
		i, asset := i, asset
		g.Go(func() error {
			out[i] = l.fetchOne(gctx, asset, now, score)
			if err := gctx.Err(); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loop) fetchOne(ctx context.Context, asset string, now time.Time, score bool) fetched {
	f := fetched{asset: asset}
	sc := l.scorer(asset)
	n := l.History
	if n <= 0 {
		n = sc.Config().Lookback
	}

	s, err := l.Bars.Bars(ctx, asset, l.Timeframe, n)
	if err != nil {
		f.err = fmt.Errorf("%s bars: %w", asset, err)
		return f
	}
	s.Asset = asset
	if s.Timeframe == 0 {
		s.Timeframe = l.Timeframe
	}
	f.series = s.ClosedBy(now)
	if !score {
		return f
	}

	var slow *market.Series
	if l.SlowTimeframe > 0 && sc.Config().MTF.Enabled {
		ss, err := l.Bars.Bars(ctx, asset, l.SlowTimeframe, 0)
		if err != nil {
			f.err = fmt.Errorf("%s slow bars: %w", asset, err)
			return f
		}
		if ss.Timeframe == 0 {
			ss.Timeframe = l.SlowTimeframe
		}
		closed := ss.ClosedBy(now)
		slow = &closed
	}
	f.signal = sc.Score(f.series, slow)
	return f
}

// open sizes the candidates together and opens what the sizer and the
// ledger accept. Orders reach the executor only after the ledger booked
// them; a refused submit cancels the booking.
func (l *Loop) open(ctx context.Context, now time.Time, candidates []signals.Signal, rep *Report) {
	m := l.Metrics
	log := l.log()

	for _, r := range l.Sizer.SizeBatch(candidates, l.Ledger.Account(), l.Ledger.Positions()) {
		if !r.Accepted() {
			l.rejected(r, rep)
			continue
		}
		pos, d := l.Ledger.Open(r.Order, now)
		if !d.Allowed {
			r.Decision = d
			l.rejected(r, rep)
			continue
		}
		if l.Executor != nil {
			if err := l.Executor.Submit(ctx, r.Order); err != nil {
				if _, cerr := l.Ledger.Cancel(pos.ID); cerr != nil {
					log.Error("cancel after failed submit", "id", pos.ID, "err", cerr)
				}
				r.Decision = risk.Reject(CodeSubmitFailed, err.Error())
				l.rejected(r, rep)
				rep.Errors = append(rep.Errors, fmt.Errorf("submit %s: %w", r.Order.Asset, err))
				continue
			}
		}
		rep.Opened = append(rep.Opened, pos)
		if m != nil {
			m.Opened.WithLabelValues(pos.Asset).Inc()
		}
	}
}

func (l *Loop) rejected(r risk.Result, rep *Report) {
	rep.Rejected = append(rep.Rejected, r)
	if l.Metrics != nil {
		l.Metrics.Rejections.WithLabelValues(r.Decision.Code()).Inc()
	}
	l.log().Info("order rejected", "asset", r.Signal.Asset, "direction", r.Signal.Direction.String(),
		"code", r.Decision.Code(), "reason", r.Decision.Reason())
}

func (l *Loop) failed() {
	if l.Metrics != nil {
		l.Metrics.CycleErrors.Inc()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
