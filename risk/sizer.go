package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/signals"
)

// defaultPrecision is the size rounding used when an instrument has no step.
const defaultPrecision = 8

// Sizer turns signals into orders under a Policy. It holds no mutable state
// and is safe for concurrent use.
type Sizer struct {
	policy      Policy
	instruments map[string]broker.Instrument
	limits      map[string]AssetLimits
	log         *slog.Logger
}

// AssetLimits tightens the policy for one asset.
type AssetLimits struct {
	// MaxMarginPerAsset replaces the policy cap when it is lower. Fraction
	// of balance.
	MaxMarginPerAsset float64
	// Stops replaces the policy stops with static levels when set.
	Stops *StaticStops
}

type Option func(*Sizer)

func WithAssetLimits(limits map[string]AssetLimits) Option {
	return func(s *Sizer) {
		for k, v := range limits {
			s.limits[k] = v
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sizer) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSizer validates p. Assets missing from instruments trade unlevered
// with no minimum size.
func NewSizer(p Policy, instruments map[string]broker.Instrument, opts ...Option) (*Sizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Sizer{
		policy:      p,
		instruments: make(map[string]broker.Instrument, len(instruments)),
		limits:      map[string]AssetLimits{},
		log:         slog.Default(),
	}
	for k, v := range instruments {
		s.instruments[k] = v
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Sizer) Policy() Policy { return s.policy }

func (s *Sizer) Instrument(asset string) broker.Instrument {
	if in, ok := s.instruments[asset]; ok {
		return in
	}
	return broker.Instrument{Symbol: asset, Leverage: 1}
}

// Stops returns the stop policy applied to asset.
func (s *Sizer) Stops(asset string) Stops {
	if l, ok := s.limits[asset]; ok && l.Stops != nil {
		return Stops{Mode: Static, Static: *l.Stops}
	}
	return s.policy.Stops
}

func (s *Sizer) assetCap(asset string) float64 {
	c := s.policy.MaxMarginPerAsset
	if l, ok := s.limits[asset]; ok && l.MaxMarginPerAsset > 0 && (c <= 0 || l.MaxMarginPerAsset < c) {
		c = l.MaxMarginPerAsset
	}
	return c
}

// Result pairs a signal with its order, or with the decision that rejected it.
type Result struct {
	Signal   signals.Signal
	Order    broker.Order
	Decision Decision
	// Usable is the capital share assigned before rounding to the
	// instrument step.
	Usable float64
}

func (r Result) Accepted() bool { return r.Decision.Allowed }

// Size sizes a single signal against the account and the open set.
func (s *Sizer) Size(sig signals.Signal, acct broker.Account, open []broker.Position) Result {
	return s.SizeBatch([]signals.Signal{sig}, acct, open)[0]
}

// SizeBatch sizes every signal of one evaluation cycle together so that
// EQUAL and WEIGHTED shares see all prospective positions. Results are
// returned in processing order: confidence descending, ties by asset, HOLD
// signals last. Margin taken by an accepted order is not available to the
// ones after it.
func (s *Sizer) SizeBatch(sigs []signals.Signal, acct broker.Account, open []broker.Position) []Result {
	ordered := append([]signals.Signal(nil), sigs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Tradable() != b.Tradable() {
			return a.Tradable()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Asset < b.Asset
	})

	openAssets := make(map[string]bool, len(open))
	for _, p := range open {
		openAssets[p.Asset] = true
	}

	// Prospective positions: tradable signals for distinct, not yet open
	// assets, limited to the free slots.
	free := s.policy.MaxPositions - len(open)
	if free < 0 {
		free = 0
	}
	var prospects []signals.Signal
	seen := map[string]bool{}
	for _, sig := range ordered {
		if !sig.Tradable() || openAssets[sig.Asset] || seen[sig.Asset] {
			continue
		}
		seen[sig.Asset] = true
		if len(prospects) < free {
			prospects = append(prospects, sig)
		}
	}

	budget := s.budget(acct)
	var confSum float64
	for _, sig := range prospects {
		confSum += sig.Confidence
	}

	working := acct
	held := append([]broker.Position(nil), open...)
	results := make([]Result, 0, len(ordered))
	for _, sig := range ordered {
		r := Result{Signal: sig}
		switch {
		case !sig.Tradable():
			r.Decision = Reject(CodeHoldSignal, "signal is HOLD")
		case openAssets[sig.Asset]:
			r.Decision = Reject(CodeAssetAlreadyOpen, fmt.Sprintf("%s already has an open position", sig.Asset))
		case len(held) >= s.policy.MaxPositions:
			r.Decision = Reject(CodeMaxPositions, fmt.Sprintf("open positions %d >= max %d", len(held), s.policy.MaxPositions))
		default:
			r = s.sizeOne(sig, s.share(sig, budget, len(prospects), confSum), working, held)
		}

		if r.Decision.Allowed {
			openAssets[sig.Asset] = true
			held = append(held, broker.Position{Order: r.Order, Status: broker.StatusOpen})
			working.Available -= r.Order.Margin
			working.MarginUsed += r.Order.Margin
		} else {
			s.log.Debug("order rejected", "asset", sig.Asset, "direction", sig.Direction, "reason", r.Decision.Reason())
		}
		results = append(results, r)
	}
	return results
}

// budget is the capital the policy lets the batch use in total.
func (s *Sizer) budget(acct broker.Account) float64 {
	a := s.policy.Allocation
	switch a.Mode {
	case Fixed:
		return math.Min(a.Amount, acct.Available)
	default:
		room := acct.Balance*s.policy.MaxMarginRisk - acct.MarginUsed
		return math.Min(acct.Available*a.Percent/100, room)
	}
}

func (s *Sizer) share(sig signals.Signal, budget float64, n int, confSum float64) float64 {
	a := s.policy.Allocation
	if a.Mode == Fixed {
		return budget
	}
	if n == 0 {
		return 0
	}
	if a.Distribution == Weighted && confSum > 0 {
		return budget * sig.Confidence / confSum
	}
	return budget / float64(n)
}

func (s *Sizer) sizeOne(sig signals.Signal, usable float64, acct broker.Account, held []broker.Position) Result {
	r := Result{Signal: sig}
	p := s.policy

	if c := s.assetCap(sig.Asset); c > 0 {
		usable = math.Min(usable, acct.Balance*c)
	}
	usable = math.Min(usable, acct.Available)
	r.Usable = usable

	room := acct.Balance*p.MaxMarginRisk - acct.MarginUsed
	if usable > room+tolerance || room <= 0 {
		r.Decision = Reject(CodeRiskCeiling, fmt.Sprintf("usable %.2f exceeds remaining risk room %.2f", usable, room))
		return r
	}
	if !(usable > 0) {
		r.Decision = Reject(CodeNoCapital, fmt.Sprintf("no usable capital (available %.2f)", acct.Available))
		return r
	}
	if !validPrice(sig.Price) {
		r.Decision = Reject(CodeBadPrice, fmt.Sprintf("price %v", sig.Price))
		return r
	}

	sl, tp, d := s.Stops(sig.Asset).Price(sig.Direction, sig.Price, sig.Snapshot.ATRPercent)
	if !d.Allowed {
		r.Decision = d
		return r
	}

	inst := s.Instrument(sig.Asset)
	size, margin := units(usable, sig.Price, inst)
	if size <= 0 {
		r.Decision = Reject(CodeSizeZero, fmt.Sprintf("usable %.2f buys no whole step at %.5f", usable, sig.Price))
		return r
	}
	if inst.MinSize > 0 && size < inst.MinSize {
		r.Decision = Reject(CodeBelowMinSize, fmt.Sprintf("size %v below minimum %v", size, inst.MinSize))
		return r
	}

	r.Order = broker.Order{
		Asset:      sig.Asset,
		Direction:  sig.Direction,
		Entry:      sig.Price,
		Size:       size,
		StopLoss:   sl,
		TakeProfit: tp,
		Margin:     margin,
		Signal:     sig,
	}
	r.Decision = p.CheckOpen(r.Order, acct, held, PnLSnapshot{})
	return r
}

// units floors usable/marginPerUnit to the instrument step and returns the
// size with the margin it locks.
func units(usable, price float64, inst broker.Instrument) (size, margin float64) {
	mpu := decimal.NewFromFloat(inst.MarginPerUnit(price))
	if !mpu.IsPositive() {
		return 0, 0
	}
	raw := decimal.NewFromFloat(usable).Div(mpu)

	var q decimal.Decimal
	if inst.Step > 0 {
		step := decimal.NewFromFloat(inst.Step)
		q = raw.Div(step).Floor().Mul(step)
	} else {
		q = raw.Truncate(defaultPrecision)
	}
	size = q.InexactFloat64()
	margin = q.Mul(mpu).InexactFloat64()
	return size, margin
}
