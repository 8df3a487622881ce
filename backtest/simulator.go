package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/internal/id"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/markethours"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signals"
)

// Simulator runs backtests. Each Run builds its own ledger and account, so
// one Simulator may run several backtests concurrently.
type Simulator struct {
	journal journal.Journal
	log     *slog.Logger
}

type Option func(*Simulator)

// WithJournal records signals, equity points and closed trades of every run.
func WithJournal(j journal.Journal) Option {
	return func(s *Simulator) {
		if j != nil {
			s.journal = j
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

func New(opts ...Option) *Simulator {
	s := &Simulator{journal: journal.Nop{}, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// run is the state of one backtest.
type run struct {
	opts    Options
	policy  risk.Policy
	assets  []string
	series  map[string]market.Series
	slow    map[string]*market.Series
	scorers map[string]*signals.Scorer
	sizer   *risk.Sizer
	led     *ledger.Ledger
	journal journal.Journal
	log     *slog.Logger

	cursor  map[string]int
	pending map[string]risk.Result
	last    map[string]market.Bar

	res *Result
}

// Run replays req. When ctx is cancelled between bars the partial result is
// returned with StatusAborted together with the context error.
func (s *Simulator) Run(ctx context.Context, req Request) (Result, error) {
	r, err := s.prepare(req)
	if err != nil {
		return Result{Status: StatusInitialized}, err
	}

	times := r.timeline()
	if len(times) > 0 {
		r.res.Start = times[0]
		r.res.End = times[len(times)-1]
	}
	r.res.Status = StatusRunning
	s.log.Info("backtest started", "run", r.res.RunID, "assets", r.assets, "bars", len(times),
		"timeframe", market.FormatTimeframe(r.res.Timeframe))

	for _, t := range times {
		if err := ctx.Err(); err != nil {
			r.res.Status = StatusAborted
			if n := len(r.res.Equity); n > 0 {
				r.res.End = r.res.Equity[n-1].Time
			}
			r.finish(req.InitialCapital)
			s.log.Warn("backtest aborted", "run", r.res.RunID, "at", t, "bars", r.res.Bars)
			return *r.res, fmt.Errorf("backtest %s aborted at %s: %w", r.res.RunID, t.Format(time.RFC3339), err)
		}
		r.tick(t)
	}

	if r.opts.CloseAtEnd {
		r.closeAtEnd()
	}
	r.res.Status = StatusCompleted
	r.finish(req.InitialCapital)
	s.log.Info("backtest completed", "run", r.res.RunID, "trades", r.res.Metrics.Trades,
		"return_pct", r.res.Metrics.ReturnPct, "max_dd_pct", r.res.Metrics.MaxDrawdownPct)
	return *r.res, nil
}

func (s *Simulator) prepare(req Request) (*run, error) {
	opts := req.Options
	if opts.RunID == "" {
		opts.RunID = "backtest"
	}
	if len(req.Assets) == 0 {
		return nil, fmt.Errorf("%w: no assets", ErrInvalidRequest)
	}
	if !(req.InitialCapital > 0) || math.IsInf(req.InitialCapital, 0) {
		return nil, fmt.Errorf("%w: initial capital %v", ErrInvalidRequest, req.InitialCapital)
	}

	assets := make([]string, 0, len(req.Assets))
	for a := range req.Assets {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	var tf time.Duration
	series := make(map[string]market.Series, len(assets))
	for _, a := range assets {
		sr := req.Assets[a]
		sr.Asset = a
		if sr.Timeframe <= 0 {
			return nil, fmt.Errorf("%w: %s has no timeframe", ErrInvalidRequest, a)
		}
		if tf == 0 {
			tf = sr.Timeframe
		} else if sr.Timeframe != tf {
			return nil, fmt.Errorf("%w: %s timeframe %s differs from %s", ErrInvalidRequest, a,
				market.FormatTimeframe(sr.Timeframe), market.FormatTimeframe(tf))
		}
		for i := 1; i < len(sr.Bars); i++ {
			if !sr.Bars[i].Time.After(sr.Bars[i-1].Time) {
				return nil, fmt.Errorf("%w: %s bars are not strictly increasing at %d", ErrInvalidRequest, a, i)
			}
		}
		series[a] = sr
	}

	policy := req.Policy
	if !opts.GateHours {
		policy.Hours = markethours.Always()
	}
	sizer, err := risk.NewSizer(policy, req.Instruments,
		risk.WithAssetLimits(req.Limits), risk.WithLogger(s.log))
	if err != nil {
		return nil, err
	}

	scorers := make(map[string]*signals.Scorer, len(assets))
	for _, a := range assets {
		cfg := req.Scorer.ForAsset(req.Overrides[a])
		sc, err := signals.NewScorer(cfg, signals.WithLogger(s.log))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, a, err)
		}
		scorers[a] = sc
	}

	slow, err := slowSeries(req, series, opts)
	if err != nil {
		return nil, err
	}

	led, err := ledger.New(policy,
		broker.Account{Balance: req.InitialCapital, Available: req.InitialCapital},
		ledger.WithIDs(id.NewSequence(opts.RunID)),
		ledger.WithCommission(opts.CommissionPerTrade),
		ledger.WithSpread(opts.SpreadPoints, opts.PointValue),
		ledger.WithInstruments(req.Instruments),
		ledger.WithLogger(s.log),
	)
	if err != nil {
		return nil, err
	}

	return &run{
		opts:    opts,
		policy:  policy,
		assets:  assets,
		series:  series,
		slow:    slow,
		scorers: scorers,
		sizer:   sizer,
		led:     led,
		journal: journal.WithRunID(s.journal, opts.RunID),
		log:     s.log,
		cursor:  make(map[string]int, len(assets)),
		pending: make(map[string]risk.Result),
		last:    make(map[string]market.Bar, len(assets)),
		res: &Result{
			RunID:          opts.RunID,
			Status:         StatusInitialized,
			Timeframe:      tf,
			Assets:         assets,
			InitialCapital: req.InitialCapital,
		},
	}, nil
}

// slowSeries returns the confirming series per asset when multi-timeframe
// confirmation is on: the supplied one, or the fast bars resampled.
func slowSeries(req Request, fast map[string]market.Series, opts Options) (map[string]*market.Series, error) {
	if !req.Scorer.MTF.Enabled {
		return nil, nil
	}
	to := opts.SlowTimeframe
	if to == 0 {
		d, err := market.ParseTimeframe(req.Scorer.MTF.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("%w: mtf timeframe: %v", ErrInvalidRequest, err)
		}
		to = d
	}

	out := make(map[string]*market.Series, len(fast))
	for a, f := range fast {
		if sr, ok := req.Slow[a]; ok {
			if sr.Timeframe <= 0 {
				return nil, fmt.Errorf("%w: slow series for %s has no timeframe", ErrInvalidRequest, a)
			}
			sr.Asset = a
			out[a] = &sr
			continue
		}
		sr, err := market.Resample(f, to)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		out[a] = &sr
	}
	return out, nil
}

// timeline is the sorted union of bar times across assets.
func (r *run) timeline() []time.Time {
	seen := map[int64]bool{}
	var out []time.Time
	for _, a := range r.assets {
		for _, b := range r.series[a].Bars {
			k := b.Time.UnixNano()
			if !seen[k] {
				seen[k] = true
				out = append(out, b.Time)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// tick runs EVALUATE_EXITS, SCORE, SIZE and MAYBE_OPEN for the bars stamped t.
func (r *run) tick(t time.Time) {
	r.res.Bars++

	var present []string
	bars := make(map[string]market.Bar)
	idx := make(map[string]int)
	for _, a := range r.assets {
		sr := r.series[a]
		i := r.cursor[a]
		if i < len(sr.Bars) && sr.Bars[i].Time.Equal(t) {
			present = append(present, a)
			bars[a] = sr.Bars[i]
			idx[a] = i
			r.cursor[a] = i + 1
			r.last[a] = sr.Bars[i]
		}
	}

	// Orders accepted on the previous bar fill at this bar's open.
	for _, a := range present {
		if pr, ok := r.pending[a]; ok {
			delete(r.pending, a)
			r.fillAtOpen(pr, bars[a])
		}
	}

	quotes := make(map[string]broker.Quote, len(present))
	for _, a := range present {
		if b := bars[a]; b.Valid() {
			quotes[a] = broker.QuoteFromBar(b)
		}
	}
	r.recordClosed(r.led.Evaluate(quotes))

	inHours := r.policy.Hours.IsOpen(t)
	if !inHours && r.opts.CloseOutsideHours {
		for _, p := range r.led.Positions() {
			if q, ok := quotes[p.Asset]; ok {
				if c, changed, err := r.led.Close(p.ID, broker.ExitTime, q.Close, t); err == nil && changed {
					r.recordClosed([]broker.Position{c})
				}
			}
		}
	}

	held := map[string]bool{}
	for _, p := range r.led.Positions() {
		held[p.Asset] = true
	}

	var candidates []signals.Signal
	for _, a := range present {
		hist := r.series[a]
		hist.Bars = hist.Bars[:idx[a]+1]

		var slow *market.Series
		if sr := r.slow[a]; sr != nil {
			closed := sr.ClosedBy(t.Add(r.res.Timeframe))
			slow = &closed
		}

		sig := r.scorers[a].Score(hist, slow)
		r.res.Signals = append(r.res.Signals, sig)
		if err := r.journal.RecordSignal(journal.SignalFrom(sig)); err != nil {
			r.log.Warn("journal signal failed", "err", err)
		}
		if sig.Tradable() && !held[a] {
			if _, waiting := r.pending[a]; !waiting {
				candidates = append(candidates, sig)
			}
		}
	}

	if len(candidates) > 0 {
		for _, sr := range r.sizer.SizeBatch(candidates, r.led.Account(), r.led.Positions()) {
			if !sr.Accepted() {
				r.reject(t, sr.Signal, sr.Decision)
				continue
			}
			if r.opts.EntryAtNextOpen {
				r.pending[sr.Signal.Asset] = sr
				continue
			}
			r.open(sr.Order, t)
		}
	}

	prices := make(map[string]float64, len(present))
	for _, a := range present {
		prices[a] = bars[a].Close
	}
	r.appendEquity(t, r.led.MarkToMarket(prices))
}

// fillAtOpen re-prices an order accepted on the previous bar at bar's open,
// keeping its size.
func (r *run) fillAtOpen(pr risk.Result, bar market.Bar) {
	o := pr.Order
	entry := bar.Open
	sl, tp, d := r.sizer.Stops(o.Asset).Price(o.Direction, entry, pr.Signal.Snapshot.ATRPercent)
	if !d.Allowed {
		r.reject(bar.Time, pr.Signal, d)
		return
	}
	o.Entry = entry
	o.StopLoss = sl
	o.TakeProfit = tp
	o.Margin = o.Size * r.sizer.Instrument(o.Asset).MarginPerUnit(entry)
	r.open(o, bar.Time)
}

func (r *run) open(o broker.Order, at time.Time) {
	pos, d := r.led.Open(o, at)
	if !d.Allowed {
		r.reject(at, o.Signal, d)
		return
	}
	r.res.Log = append(r.res.Log, LogEntry{
		Time:       at,
		Event:      EventOpened,
		Asset:      pos.Asset,
		Direction:  pos.Direction,
		PositionID: pos.ID,
		Price:      pos.Entry,
		Size:       pos.Size,
		Reason:     fmt.Sprintf("confidence %.2f", o.Signal.Confidence),
	})
}

func (r *run) reject(at time.Time, sig signals.Signal, d risk.Decision) {
	r.res.Log = append(r.res.Log, LogEntry{
		Time:      at,
		Event:     EventRejected,
		Asset:     sig.Asset,
		Direction: sig.Direction,
		Price:     sig.Price,
		Code:      d.Code(),
		Reason:    d.Reason(),
	})
}

func (r *run) recordClosed(closed []broker.Position) {
	for _, p := range closed {
		r.res.Trades = append(r.res.Trades, p)
		r.res.Log = append(r.res.Log, LogEntry{
			Time:       p.ExitTime,
			Event:      EventClosed,
			Asset:      p.Asset,
			Direction:  p.Direction,
			PositionID: p.ID,
			Price:      p.ExitPrice,
			Size:       p.Size,
			PnL:        p.RealizedPnL,
			Reason:     string(p.ExitReason),
		})
		if err := r.journal.RecordTrade(journal.TradeFromPosition(p)); err != nil {
			r.log.Warn("journal trade failed", "id", p.ID, "err", err)
		}
	}
}

func (r *run) appendEquity(t time.Time, equity float64) {
	acct := r.led.Account()
	pt := EquityPoint{Time: t, Balance: acct.Balance, Equity: equity, Open: len(r.led.Positions())}
	r.res.Equity = append(r.res.Equity, pt)
	err := r.journal.RecordEquity(journal.EquitySnapshot{
		Time:          t,
		Balance:       pt.Balance,
		Equity:        pt.Equity,
		MarginUsed:    acct.MarginUsed,
		Available:     acct.Available,
		OpenPositions: pt.Open,
	})
	if err != nil {
		r.log.Warn("journal equity failed", "err", err)
	}
}

// closeAtEnd closes what is still open at each asset's last close and
// restates the final equity point.
func (r *run) closeAtEnd() {
	positions := r.led.Positions()
	if len(positions) == 0 {
		return
	}
	for _, p := range positions {
		b, ok := r.last[p.Asset]
		if !ok {
			continue
		}
		c, changed, err := r.led.Close(p.ID, broker.ExitTime, b.Close, r.res.End)
		if err != nil {
			r.log.Warn("end-of-data close failed", "id", p.ID, "err", err)
			continue
		}
		if changed {
			r.recordClosed([]broker.Position{c})
		}
	}

	n := len(r.res.Equity)
	if n == 0 {
		return
	}
	r.res.Equity = r.res.Equity[:n-1]
	r.appendEquity(r.res.End, r.led.MarkToMarket(nil))
}

func (r *run) finish(initial float64) {
	r.res.Final = r.led.Account()
	ppy := r.opts.PeriodsPerYear
	if ppy <= 0 {
		ppy = periodsPerYear(r.res.Timeframe)
	}
	r.res.Metrics = ComputeMetrics(initial, r.res.Equity, r.res.Trades, ppy)
	r.res.Segments = SegmentTrades(r.res.Trades, r.opts.RegimeADX, r.opts.RegimeATRPercent, r.policy.Hours.Location)
}

// periodsPerYear assumes 252 trading days of round-the-clock bars.
func periodsPerYear(tf time.Duration) float64 {
	if tf <= 0 {
		return 252
	}
	return 252 * float64(24*time.Hour) / float64(tf)
}
