package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/indicators"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/signals"
)

func sig(asset string, dir market.Direction, conf, price float64) signals.Signal {
	return signals.Signal{
		Asset:      asset,
		Time:       time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Direction:  dir,
		Confidence: conf,
		Price:      price,
		Snapshot:   indicators.Snapshot{Close: price, ATRPercent: 1},
	}
}

func newSizer(t *testing.T, p Policy, inst map[string]broker.Instrument) *Sizer {
	t.Helper()
	s, err := NewSizer(p, inst)
	require.NoError(t, err)
	return s
}

func TestEqualSplitTwoAssets(t *testing.T) {
	t.Parallel()

	inst := map[string]broker.Instrument{
		"AAA": {Symbol: "AAA", Leverage: 5, Step: 0.01},
		"BBB": {Symbol: "BBB", Leverage: 5, Step: 0.01},
	}
	s := newSizer(t, DefaultPolicy(), inst)
	acct := broker.Account{Balance: 10000, Available: 1000}

	res := s.SizeBatch([]signals.Signal{
		sig("AAA", market.Buy, 0.8, 100),
		sig("BBB", market.Sell, 0.6, 100),
	}, acct, nil)

	require.Len(t, res, 2)
	for _, r := range res {
		require.True(t, r.Accepted(), r.Decision.Reason())
		assert.InDelta(t, 200, r.Usable, 1e-9)
		assert.InDelta(t, 10, r.Order.Size, 1e-9)
		assert.InDelta(t, 200, r.Order.Margin, 1e-9)
		assert.True(t, r.Order.ProtectiveSides())
	}
	assert.Equal(t, "AAA", res[0].Signal.Asset, "higher confidence first")
}

func TestWeightedSplit(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Allocation.Distribution = Weighted
	s := newSizer(t, p, nil)
	acct := broker.Account{Balance: 10000, Available: 1000}

	res := s.SizeBatch([]signals.Signal{
		sig("AAA", market.Buy, 0.75, 10),
		sig("BBB", market.Buy, 0.25, 10),
	}, acct, nil)

	require.True(t, res[0].Accepted())
	require.True(t, res[1].Accepted())
	assert.InDelta(t, 300, res[0].Usable, 1e-9)
	assert.InDelta(t, 100, res[1].Usable, 1e-9)
}

func TestFixedAllocation(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Allocation = Allocation{Mode: Fixed, Amount: 500}
	s := newSizer(t, p, nil)

	r := s.Size(sig("AAA", market.Buy, 0.9, 50), broker.Account{Balance: 10000, Available: 300}, nil)
	require.True(t, r.Accepted(), r.Decision.Reason())
	assert.InDelta(t, 300, r.Usable, 1e-9, "capped at available")
	assert.InDelta(t, 6, r.Order.Size, 1e-9)
}

func TestSizeRejections(t *testing.T) {
	t.Parallel()

	open := []broker.Position{
		{Order: broker.Order{Asset: "AAA", Margin: 100}, ID: "p1", Status: broker.StatusOpen},
	}
	tests := []struct {
		name   string
		policy func(*Policy)
		inst   map[string]broker.Instrument
		acct   broker.Account
		open   []broker.Position
		sig    signals.Signal
		code   string
	}{
		{
			name: "hold",
			acct: broker.Account{Balance: 1000, Available: 1000},
			sig:  sig("AAA", market.Hold, 0, 10),
			code: CodeHoldSignal,
		},
		{
			name: "asset already open",
			acct: broker.Account{Balance: 1000, Available: 900, MarginUsed: 100},
			open: open,
			sig:  sig("AAA", market.Buy, 0.9, 10),
			code: CodeAssetAlreadyOpen,
		},
		{
			name:   "max positions",
			policy: func(p *Policy) { p.MaxPositions = 1 },
			acct:   broker.Account{Balance: 1000, Available: 900, MarginUsed: 100},
			open:   open,
			sig:    sig("BBB", market.Buy, 0.9, 10),
			code:   CodeMaxPositions,
		},
		{
			name: "risk ceiling exhausted",
			acct: broker.Account{Balance: 1000, Available: 300, MarginUsed: 700},
			open: open,
			sig:  sig("BBB", market.Buy, 0.9, 10),
			code: CodeRiskCeiling,
		},
		{
			name:   "fixed amount above risk room",
			policy: func(p *Policy) { p.Allocation = Allocation{Mode: Fixed, Amount: 400} },
			acct:   broker.Account{Balance: 1000, Available: 900, MarginUsed: 400},
			open:   open,
			sig:    sig("BBB", market.Buy, 0.9, 10),
			code:   CodeRiskCeiling,
		},
		{
			name: "no capital",
			acct: broker.Account{Balance: 1000, Available: 0},
			sig:  sig("BBB", market.Buy, 0.9, 10),
			code: CodeNoCapital,
		},
		{
			name: "bad price",
			acct: broker.Account{Balance: 1000, Available: 1000},
			sig:  sig("BBB", market.Buy, 0.9, math.NaN()),
			code: CodeBadPrice,
		},
		{
			name: "size rounds to zero",
			inst: map[string]broker.Instrument{"BBB": {Leverage: 1, Step: 1}},
			acct: broker.Account{Balance: 10, Available: 10},
			sig:  sig("BBB", market.Buy, 0.9, 100),
			code: CodeSizeZero,
		},
		{
			name: "below min size",
			inst: map[string]broker.Instrument{"BBB": {Leverage: 1, Step: 1, MinSize: 10}},
			acct: broker.Account{Balance: 1000, Available: 1000},
			sig:  sig("BBB", market.Buy, 0.9, 100),
			code: CodeBelowMinSize,
		},
		{
			name: "zero stop distance",
			policy: func(p *Policy) {
				p.Stops.Mode = Dynamic
				p.Stops.Dynamic.MinPercent = 0
			},
			acct: broker.Account{Balance: 1000, Available: 1000},
			sig: func() signals.Signal {
				s := sig("BBB", market.Buy, 0.9, 100)
				s.Snapshot.ATRPercent = 0
				return s
			}(),
			code: CodeZeroStopDistance,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&p)
			}
			r := newSizer(t, p, tt.inst).Size(tt.sig, tt.acct, tt.open)
			assert.False(t, r.Accepted())
			assert.Equal(t, tt.code, r.Decision.Code(), r.Decision.Reason())
		})
	}
}

func TestBatchRespectsFreeSlots(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxPositions = 2
	s := newSizer(t, p, nil)
	acct := broker.Account{Balance: 10000, Available: 3000}

	res := s.SizeBatch([]signals.Signal{
		sig("CCC", market.Buy, 0.6, 10),
		sig("AAA", market.Buy, 0.9, 10),
		sig("BBB", market.Sell, 0.7, 10),
		sig("DDD", market.Hold, 0, 10),
	}, acct, nil)

	require.Len(t, res, 4)
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"},
		[]string{res[0].Signal.Asset, res[1].Signal.Asset, res[2].Signal.Asset, res[3].Signal.Asset})
	assert.True(t, res[0].Accepted())
	assert.True(t, res[1].Accepted())
	assert.Equal(t, CodeMaxPositions, res[2].Decision.Code())
	assert.Equal(t, CodeHoldSignal, res[3].Decision.Code())

	// Two prospective positions share 40% of 3000.
	assert.InDelta(t, 600, res[0].Usable, 1e-9)
	assert.InDelta(t, 600, res[1].Usable, 1e-9)

	var margin float64
	for _, r := range res {
		if r.Accepted() {
			margin += r.Order.Margin
		}
	}
	assert.LessOrEqual(t, margin, acct.Balance*p.MaxMarginRisk)
}

func TestPerAssetCap(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Allocation.Percent = 100
	p.MaxMarginPerAsset = 0.1
	s := newSizer(t, p, nil)

	r := s.Size(sig("AAA", market.Buy, 0.9, 10), broker.Account{Balance: 1000, Available: 1000}, nil)
	require.True(t, r.Accepted(), r.Decision.Reason())
	assert.InDelta(t, 100, r.Usable, 1e-9)
}

func TestAssetLimits(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Allocation.Percent = 100
	s, err := NewSizer(p, nil, WithAssetLimits(map[string]AssetLimits{
		"AAA": {MaxMarginPerAsset: 0.05, Stops: &StaticStops{BuySL: 2, BuyTP: 4, SellSL: 2, SellTP: 4}},
		"BBB": {MaxMarginPerAsset: 0.9},
	}))
	require.NoError(t, err)
	acct := broker.Account{Balance: 1000, Available: 1000}

	r := s.Size(sig("AAA", market.Buy, 0.9, 10), acct, nil)
	require.True(t, r.Accepted(), r.Decision.Reason())
	assert.InDelta(t, 50, r.Usable, 1e-9)
	assert.InDelta(t, 9.8, r.Order.StopLoss, 1e-9)
	assert.InDelta(t, 10.4, r.Order.TakeProfit, 1e-9)

	r = s.Size(sig("BBB", market.Buy, 0.9, 10), acct, nil)
	require.True(t, r.Accepted(), r.Decision.Reason())
	assert.InDelta(t, 350, r.Usable, 1e-9, "a looser asset limit keeps the policy cap")
	assert.Equal(t, p.Stops, s.Stops("BBB"))
}

func TestStaticLevels(t *testing.T) {
	t.Parallel()

	st := DefaultPolicy().Stops
	sl, tp, err := st.Levels(market.Buy, 100, math.NaN())
	require.NoError(t, err)
	assert.InDelta(t, 92, sl, 1e-9)
	assert.InDelta(t, 114, tp, 1e-9)

	sl, tp, err = st.Levels(market.Sell, 100, math.NaN())
	require.NoError(t, err)
	assert.InDelta(t, 107, sl, 1e-9)
	assert.InDelta(t, 88, tp, 1e-9)

	_, _, err = st.Levels(market.Hold, 100, 1)
	assert.ErrorIs(t, err, ErrArithmeticDegenerate)
	_, _, err = st.Levels(market.Buy, 0, 1)
	assert.ErrorIs(t, err, ErrArithmeticDegenerate)
}

func TestDynamicStopsMonotonic(t *testing.T) {
	t.Parallel()

	st := Stops{Mode: Dynamic, Dynamic: DynamicStops{SLMultiplier: 2, TPMultiplier: 3, MinPercent: 0.5, MaxPercent: 10}}

	prev := 0.0
	for atr := 0.1; atr < 8; atr += 0.1 {
		sl, tp, err := st.Levels(market.Buy, 100, atr)
		require.NoError(t, err)
		dist := 100 - sl
		assert.GreaterOrEqual(t, dist, prev-1e-12, "atr=%.1f", atr)
		assert.Greater(t, tp, 100.0)
		prev = dist
	}

	slPct, tpPct := st.Distances(market.Buy, 0.1)
	assert.InDelta(t, 0.5, slPct, 1e-12, "lower clamp")
	assert.InDelta(t, 0.5, tpPct, 1e-12)
	slPct, tpPct = st.Distances(market.Sell, 2)
	assert.InDelta(t, 4, slPct, 1e-12)
	assert.InDelta(t, 6, tpPct, 1e-12)
	slPct, _ = st.Distances(market.Buy, 50)
	assert.InDelta(t, 10, slPct, 1e-12, "upper clamp")

	sl, tp, err := st.Levels(market.Sell, 100, 2)
	require.NoError(t, err)
	assert.InDelta(t, 104, sl, 1e-9)
	assert.InDelta(t, 94, tp, 1e-9)
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"percent zero", func(p *Policy) { p.Allocation.Percent = 0 }},
		{"percent above 100", func(p *Policy) { p.Allocation.Percent = 101 }},
		{"fixed non-positive", func(p *Policy) { p.Allocation = Allocation{Mode: Fixed, Amount: 0} }},
		{"unknown mode", func(p *Policy) { p.Allocation.Mode = "HALF" }},
		{"unknown distribution", func(p *Policy) { p.Allocation.Distribution = "RANDOM" }},
		{"max positions", func(p *Policy) { p.MaxPositions = 0 }},
		{"margin risk zero", func(p *Policy) { p.MaxMarginRisk = 0 }},
		{"margin risk above one", func(p *Policy) { p.MaxMarginRisk = 1.5 }},
		{"per asset above one", func(p *Policy) { p.MaxMarginPerAsset = 2 }},
		{"static stop zero", func(p *Policy) { p.Stops.Static.SellSL = 0 }},
		{"dynamic multiplier zero", func(p *Policy) {
			p.Stops.Mode = Dynamic
			p.Stops.Dynamic.SLMultiplier = 0
		}},
		{"dynamic max below min", func(p *Policy) {
			p.Stops.Mode = Dynamic
			p.Stops.Dynamic.MinPercent = 5
			p.Stops.Dynamic.MaxPercent = 2
		}},
		{"negative breaker", func(p *Policy) { p.Breakers.MaxDailyLossPct = -1 }},
		{"trading days above seven", func(p *Policy) { p.Allocation.TradingDaysPerWeek = 8 }},
		{"trading days with fixed", func(p *Policy) {
			p.Allocation = Allocation{Mode: Fixed, Amount: 100, TradingDaysPerWeek: 5}
		}},
		{"empty hours", func(p *Policy) { p.Hours.Days = nil }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			tt.mutate(&p)
			_, err := NewPolicy(p)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			_, err = NewSizer(p, nil)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}

	_, err := NewPolicy(DefaultPolicy())
	assert.NoError(t, err)
}

func TestCheckOpen(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxPositions = 1
	order := broker.Order{Asset: "BBB", Direction: market.Buy, Entry: 100, Size: 5, StopLoss: 90, TakeProfit: 120, Margin: 500}
	open := []broker.Position{{Order: broker.Order{Asset: "AAA", Margin: 400}, ID: "p1", Status: broker.StatusOpen}}

	d := p.CheckOpen(order, broker.Account{Balance: 1000, Available: 450, MarginUsed: 400}, open, PnLSnapshot{})
	assert.False(t, d.Allowed)
	assert.True(t, d.Has(CodeMaxPositions))
	assert.True(t, d.Has(CodeRiskCeiling))
	assert.True(t, d.Has(CodeAssetMarginLimit))
	assert.True(t, d.Has(CodeNoCapital))
	assert.InDelta(t, 2, d.PlannedRR, 1e-9)
	assert.True(t, errors.Is(d.Err(), ErrPolicyViolation))

	bad := order
	bad.StopLoss = 110
	d = p.CheckOpen(bad, broker.Account{Balance: 10000, Available: 10000}, nil, PnLSnapshot{})
	assert.Equal(t, CodeBadProtective, d.Code())

	flat := order
	flat.StopLoss = flat.Entry
	d = p.CheckOpen(flat, broker.Account{Balance: 10000, Available: 10000}, nil, PnLSnapshot{})
	assert.Equal(t, CodeZeroStopDistance, d.Code())
	assert.ErrorIs(t, d.Err(), ErrArithmeticDegenerate)

	assert.NoError(t, Allow().Err())
}

func TestBreakers(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Breakers = Breakers{MaxDailyLossPct: 2, MaxWeeklyLossPct: 5, MaxConsecutiveLosses: 3, MaxDrawdownPct: 10}
	order := broker.Order{Asset: "AAA", Direction: market.Sell, Entry: 100, Size: 1, StopLoss: 105, TakeProfit: 90, Margin: 100}
	acct := broker.Account{Balance: 10000, Available: 10000}

	assert.True(t, p.CheckOpen(order, acct, nil, PnLSnapshot{}).Allowed)

	d := p.CheckOpen(order, acct, nil, PnLSnapshot{
		DayRealized:       -250,
		WeekRealized:      -600,
		ConsecutiveLosses: 3,
		PeakEquity:        12000,
		Equity:            10000,
	})
	assert.True(t, d.Has(CodeDailyLossLimit))
	assert.True(t, d.Has(CodeWeeklyLossLimit))
	assert.True(t, d.Has(CodeConsecutiveLosses))
	assert.True(t, d.Has(CodeDrawdownLimit))
}

func TestCheckOrderMargin(t *testing.T) {
	t.Parallel()

	base := broker.Order{Asset: "AAA", Direction: market.Buy, Entry: 100, Size: 1, StopLoss: 90, TakeProfit: 120, Margin: 100}
	for _, m := range []float64{0, -5000, math.NaN(), math.Inf(1)} {
		o := base
		o.Margin = m
		d := DefaultPolicy().CheckOpen(o, broker.Account{Balance: 10000, Available: 10000}, nil, PnLSnapshot{})
		assert.False(t, d.Allowed, "margin %v", m)
		assert.Equal(t, CodeBadPrice, d.Code(), "margin %v", m)
		assert.ErrorIs(t, d.Err(), ErrArithmeticDegenerate)
	}
	assert.True(t, CheckOrder(base).Allowed)
}

func TestStopPrice(t *testing.T) {
	t.Parallel()

	st := DefaultPolicy().Stops
	sl, tp, d := st.Price(market.Buy, 100, 1)
	require.True(t, d.Allowed)
	assert.InDelta(t, 92, sl, 1e-9)
	assert.InDelta(t, 114, tp, 1e-9)

	_, _, d = st.Price(market.Buy, math.NaN(), 1)
	assert.Equal(t, CodeBadPrice, d.Code())
	_, _, d = st.Price(market.Hold, 100, 1)
	assert.Equal(t, CodeHoldSignal, d.Code())

	flat := Stops{Mode: Dynamic, Dynamic: DynamicStops{SLMultiplier: 1, TPMultiplier: 1}}
	_, _, d = flat.Price(market.Sell, 100, 0)
	assert.Equal(t, CodeZeroStopDistance, d.Code())
	assert.ErrorIs(t, d.Err(), ErrArithmeticDegenerate)
}

func TestDailyBudget(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Zero(t, p.DailyBudget(10000), "disabled by default")

	p.Allocation.TradingDaysPerWeek = 5
	_, err := NewPolicy(p)
	require.NoError(t, err)
	// 40% of 10000 over five days.
	assert.InDelta(t, 800, p.DailyBudget(10000), 1e-9)
	assert.Zero(t, p.DailyBudget(0))

	order := broker.Order{Asset: "AAA", Direction: market.Buy, Entry: 100, Size: 3, StopLoss: 90, TakeProfit: 120, Margin: 300}
	acct := broker.Account{Balance: 10000, Available: 10000}

	d := p.CheckOpen(order, acct, nil, PnLSnapshot{DayStartAvailable: 10000, DayAllocated: 500})
	assert.True(t, d.Allowed, d.Reason())

	d = p.CheckOpen(order, acct, nil, PnLSnapshot{DayStartAvailable: 10000, DayAllocated: 600})
	assert.Equal(t, CodeDailyBudget, d.Code())
	assert.ErrorIs(t, d.Err(), ErrPolicyViolation)

	d = p.CheckOpen(order, acct, nil, PnLSnapshot{DayAllocated: 600})
	assert.True(t, d.Allowed, "no day start recorded")
}
