package backtest

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/indicators"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signals"
)

var monday = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func geometric(asset string, n int, rate float64, tf time.Duration) market.Series {
	s := market.Series{Asset: asset, Timeframe: tf}
	price := 100.0
	for i := 0; i < n; i++ {
		open := price
		price *= 1 + rate
		hi, lo := price, open
		if rate < 0 {
			hi, lo = open, price
		}
		s.Bars = append(s.Bars, market.Bar{
			Time:  monday.Add(time.Duration(i) * tf),
			Open:  open,
			High:  hi * 1.004,
			Low:   lo * 0.996,
			Close: price,
		})
	}
	return s
}

// request is a single-asset uptrend with a take profit far enough away that
// only the end of data closes the trade.
func request(bars int) Request {
	policy := risk.DefaultPolicy()
	policy.Stops.Static.BuyTP = 30
	opts := DefaultOptions()
	opts.GateHours = false
	return Request{
		Assets:         map[string]market.Series{"AAA": geometric("AAA", bars, 0.003, 5*time.Minute)},
		InitialCapital: 10000,
		Policy:         policy,
		Scorer:         signals.DefaultScorerConfig(),
		Options:        opts,
	}
}

func events(log []LogEntry, ev Event) []LogEntry {
	var out []LogEntry
	for _, e := range log {
		if e.Event == ev {
			out = append(out, e)
		}
	}
	return out
}

func TestSingleUptrendClosesAtEnd(t *testing.T) {
	t.Parallel()

	res, err := New().Run(context.Background(), request(100))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 100, res.Bars)
	assert.Len(t, res.Equity, 100)
	assert.Len(t, res.Signals, 100)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, broker.ExitTime, tr.ExitReason)
	assert.Equal(t, market.Buy, tr.Direction)
	assert.Equal(t, "backtest-000001", tr.ID)
	assert.Greater(t, tr.RealizedPnL, 0.0)

	assert.Len(t, events(res.Log, EventOpened), 1)
	assert.Len(t, events(res.Log, EventClosed), 1)

	m := res.Metrics
	assert.Equal(t, 1, m.Trades)
	assert.Equal(t, 1, m.Wins)
	assert.Equal(t, 0, m.Losses)
	assert.Equal(t, ProfitFactorNoLosses, m.ProfitFactor)
	assert.False(t, math.IsNaN(m.ProfitFactor))
	assert.InDelta(t, 100.0, m.WinRate, 1e-9)
	assert.InDelta(t, tr.RealizedPnL, m.NetPnL, 1e-9)
	assert.InDelta(t, res.Final.Balance, res.Equity[len(res.Equity)-1].Equity, 1e-9)
	assert.Equal(t, 0, res.Equity[len(res.Equity)-1].Open)
	assert.Zero(t, res.Final.MarginUsed)
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := New().Run(context.Background(), request(120))
	require.NoError(t, err)
	b, err := New().Run(context.Background(), request(120))
	require.NoError(t, err)

	assert.Equal(t, a.Equity, b.Equity)
	assert.Equal(t, a.Log, b.Log)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestNoLookahead(t *testing.T) {
	t.Parallel()

	short, err := New().Run(context.Background(), request(70))
	require.NoError(t, err)
	long, err := New().Run(context.Background(), request(100))
	require.NoError(t, err)

	require.Len(t, short.Signals, 70)
	assert.Equal(t, short.Signals, long.Signals[:70])
}

func TestWarmupHolds(t *testing.T) {
	t.Parallel()

	res, err := New().Run(context.Background(), request(30))
	require.NoError(t, err)
	for _, s := range res.Signals {
		assert.Equal(t, market.Hold, s.Direction)
	}
	assert.Empty(t, res.Trades)
	assert.Equal(t, 0.0, res.Metrics.ProfitFactor)
	assert.InDelta(t, 10000, res.Final.Balance, 1e-9)
}

func TestEntryAtNextOpen(t *testing.T) {
	t.Parallel()

	req := request(100)
	req.Options.EntryAtNextOpen = true
	res, err := New().Run(context.Background(), req)
	require.NoError(t, err)

	opened := events(res.Log, EventOpened)
	require.Len(t, opened, 1)

	var first time.Time
	for _, s := range res.Signals {
		if s.Tradable() {
			first = s.Time
			break
		}
	}
	require.False(t, first.IsZero())
	assert.Equal(t, first.Add(5*time.Minute), opened[0].Time)

	bars := req.Assets["AAA"]
	i, ok := bars.Index(opened[0].Time)
	require.True(t, ok)
	assert.InDelta(t, bars.Bars[i].Open, opened[0].Price, 1e-9)
}

type cancelJournal struct {
	journal.Nop
	mu     sync.Mutex
	after  int
	n      int
	cancel context.CancelFunc
}

func (j *cancelJournal) RecordEquity(journal.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.n++
	if j.n == j.after {
		j.cancel()
	}
	return nil
}

func TestCancelAborts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j := &cancelJournal{after: 60, cancel: cancel}

	res, err := New(WithJournal(j)).Run(ctx, request(100))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Len(t, res.Equity, 60)
	assert.Equal(t, 60, res.Bars)
	assert.Equal(t, res.Equity[59].Time, res.End)
	assert.Contains(t, res.Notes()[0], "aborted")
}

func TestInvalidRequest(t *testing.T) {
	t.Parallel()

	unsorted := geometric("AAA", 10, 0.001, time.Minute)
	unsorted.Bars[3], unsorted.Bars[4] = unsorted.Bars[4], unsorted.Bars[3]

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no assets", func(r *Request) { r.Assets = nil }},
		{"zero capital", func(r *Request) { r.InitialCapital = 0 }},
		{"nan capital", func(r *Request) { r.InitialCapital = math.NaN() }},
		{"no timeframe", func(r *Request) {
			s := r.Assets["AAA"]
			s.Timeframe = 0
			r.Assets["AAA"] = s
		}},
		{"mixed timeframes", func(r *Request) {
			r.Assets["BBB"] = geometric("BBB", 10, 0.001, time.Hour)
		}},
		{"unsorted bars", func(r *Request) { r.Assets["AAA"] = unsorted }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(10)
			tt.mutate(&req)
			_, err := New().Run(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	req := request(10)
	req.Policy.Allocation.Percent = 0
	_, err := New().Run(context.Background(), req)
	require.ErrorIs(t, err, risk.ErrInvalidConfiguration)
}

func TestMultipleAssetsShareTimeline(t *testing.T) {
	t.Parallel()

	req := request(100)
	b := geometric("BBB", 80, 0.003, 5*time.Minute)
	for i := range b.Bars {
		b.Bars[i].Time = b.Bars[i].Time.Add(20 * 5 * time.Minute)
	}
	req.Assets["BBB"] = b

	res, err := New().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Bars)
	assert.Len(t, res.Signals, 180)
	assert.Equal(t, []string{"AAA", "BBB"}, res.Assets)
	assert.Len(t, res.Trades, 2)
	for _, p := range res.Equity {
		assert.LessOrEqual(t, p.Open, req.Policy.MaxPositions)
	}
	require.Len(t, res.Segments.Asset, 2)
	assert.Equal(t, "AAA", res.Segments.Asset[0].Name)
}

func TestMTFResamplesSlowSeries(t *testing.T) {
	t.Parallel()

	req := request(100)
	req.Scorer.MTF.Enabled = true
	req.Options.SlowTimeframe = 15 * time.Minute

	res, err := New().Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	req.Options.SlowTimeframe = 0
	req.Scorer.MTF.Timeframe = "bogus"
	_, err = New().Run(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestComputeMetrics(t *testing.T) {
	t.Parallel()

	curve := []EquityPoint{
		{Time: monday, Equity: 1100},
		{Time: monday.Add(time.Hour), Equity: 990},
		{Time: monday.Add(2 * time.Hour), Equity: 1045},
		{Time: monday.Add(3 * time.Hour), Equity: 1200},
	}
	trades := []broker.Position{
		{RealizedPnL: 300, OpenTime: monday, ExitTime: monday.Add(2 * time.Hour)},
		{RealizedPnL: -100, OpenTime: monday, ExitTime: monday.Add(time.Hour)},
	}
	m := ComputeMetrics(1000, curve, trades, 252)

	assert.Equal(t, 2, m.Trades)
	assert.Equal(t, 1, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 50, m.WinRate, 1e-9)
	assert.InDelta(t, 3, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 200, m.NetPnL, 1e-9)
	assert.InDelta(t, 20, m.ReturnPct, 1e-9)
	assert.InDelta(t, 110, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 10, m.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 2, m.RecoveryBars)
	assert.InDelta(t, 300, m.LargestWin, 1e-9)
	assert.InDelta(t, -100, m.LargestLoss, 1e-9)
	assert.InDelta(t, -100, m.AvgLoss, 1e-9)
	assert.InDelta(t, 1.5, m.AvgHoldBars, 1e-9)
	assert.Greater(t, m.Sharpe, 0.0)
	assert.Greater(t, m.Sortino, 0.0)
}

func TestProfitFactorSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		gross, loss float64
		want        float64
	}{
		{"no trades", 0, 0, 0},
		{"only wins", 10, 0, ProfitFactorNoLosses},
		{"only losses", 0, 10, 0},
		{"mixed", 30, 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, profitFactor(tt.gross, tt.loss))
		})
	}
}

func TestSharpeFlatCurve(t *testing.T) {
	t.Parallel()

	curve := []EquityPoint{{Equity: 100}, {Equity: 100}, {Equity: 100}}
	m := ComputeMetrics(100, curve, nil, 252)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.Sortino)
	assert.Zero(t, m.MaxDrawdownPct)
}

func TestSegment(t *testing.T) {
	t.Parallel()

	trade := func(asset string, hour int, adx, atr, pnl float64) broker.Position {
		p := broker.Position{
			OpenTime:    time.Date(2024, 3, 4, hour, 0, 0, 0, time.UTC),
			RealizedPnL: pnl,
		}
		p.Asset = asset
		p.Signal.Snapshot = indicators.Snapshot{ADX: adx, ATRPercent: atr}
		return p
	}
	trades := []broker.Position{
		trade("AAA", 10, 40, 3, 50),
		trade("AAA", 14, 12, 1, -20),
		trade("BBB", 20, 30, 0.5, 10),
		trade("BBB", 11, math.NaN(), math.NaN(), -5),
	}
	s := SegmentTrades(trades, 25, 2, time.UTC)

	require.Len(t, s.Regime, 3)
	assert.Equal(t, RegimeLateral, s.Regime[0].Name)
	assert.Equal(t, RegimeTrending, s.Regime[1].Name)
	assert.Equal(t, 2, s.Regime[1].Trades)
	assert.Equal(t, ProfitFactorNoLosses, s.Regime[1].ProfitFactor)
	assert.Equal(t, RegimeUnknown, s.Regime[2].Name)

	require.Len(t, s.Session, 3)
	assert.Equal(t, "afternoon", s.Session[0].Name)
	assert.Equal(t, "evening", s.Session[1].Name)
	assert.Equal(t, "morning", s.Session[2].Name)
	assert.Equal(t, 2, s.Session[2].Trades)
	assert.InDelta(t, 45, s.Session[2].NetPnL, 1e-9)

	require.Len(t, s.Asset, 2)
	assert.InDelta(t, 30, s.Asset[0].NetPnL, 1e-9)
	assert.InDelta(t, 2.5, s.Asset[0].ProfitFactor, 1e-9)

	require.Len(t, s.Volatility, 2)
	assert.Equal(t, VolatilityHigh, s.Volatility[0].Name)
	assert.Equal(t, 1, s.Volatility[0].Trades)
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	res, err := New().Run(context.Background(), request(100))
	require.NoError(t, err)

	var buf bytes.Buffer
	PrintReport(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Run ID:        backtest")
	assert.Contains(t, out, "Profit Factor: no losses")
	assert.Contains(t, out, "Trades:        1")
	assert.Contains(t, out, "By Asset")

	buf.Reset()
	PrintLog(&buf, res.Log)
	assert.Contains(t, buf.String(), "TIME_EXIT")

	run := res.Run(monday, "testdata", nil)
	assert.Equal(t, "COMPLETED", run.Status)
	assert.Equal(t, "5m", run.Timeframe)
	assert.InDelta(t, 1.0, run.WinRate, 1e-9)
	assert.Equal(t, ProfitFactorNoLosses, run.ProfitFactor)
}

func TestJournalReceivesRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := journal.NewSQLite(dir + "/bt.db")
	require.NoError(t, err)
	defer j.Close()

	req := request(100)
	req.Options.RunID = "run-1"
	res, err := New(WithJournal(j)).Run(context.Background(), req)
	require.NoError(t, err)

	trades, err := j.ListTradesByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, res.Trades[0].ID, trades[0].TradeID)
	assert.Equal(t, "run-1-000001", trades[0].TradeID)
}

func TestAssetLimitsApplied(t *testing.T) {
	t.Parallel()

	req := request(100)
	req.Limits = map[string]risk.AssetLimits{
		"AAA": {MaxMarginPerAsset: 0.05, Stops: &risk.StaticStops{BuySL: 2, BuyTP: 40, SellSL: 2, SellTP: 40}},
	}
	res, err := New().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.LessOrEqual(t, tr.Margin, 500.0+1e-9)
	assert.InDelta(t, tr.Entry*0.98, tr.StopLoss, 1e-6)
	assert.InDelta(t, tr.Entry*1.40, tr.TakeProfit, 1e-6)
}

func TestSpreadAndInstrumentMargin(t *testing.T) {
	t.Parallel()

	req := request(100)
	req.Options.SpreadPoints = 0.5
	req.Instruments = map[string]broker.Instrument{"AAA": {Symbol: "AAA", Leverage: 10, Step: 0.01}}
	res, err := New().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	gross := (tr.ExitPrice - tr.Entry) * tr.Size
	assert.InDelta(t, gross-0.5*tr.Size, tr.RealizedPnL, 1e-6)
	assert.InDelta(t, tr.Size*tr.Entry/10, tr.Margin, 1e-6)
	assert.InDelta(t, 10000+tr.RealizedPnL, res.Final.Balance, 1e-6)
}
