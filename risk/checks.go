package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
)

// Rejection codes carried by a Decision.
const (
	CodeHoldSignal        = "HOLD_SIGNAL"
	CodeMaxPositions      = "MAX_POSITIONS"
	CodeAssetAlreadyOpen  = "ASSET_ALREADY_OPEN"
	CodeRiskCeiling       = "RISK_CEILING"
	CodeAssetMarginLimit  = "ASSET_MARGIN_LIMIT"
	CodeNoCapital         = "NO_CAPITAL"
	CodeSizeZero          = "SIZE_ZERO"
	CodeBelowMinSize      = "BELOW_MIN_SIZE"
	CodeBadPrice          = "BAD_PRICE"
	CodeZeroStopDistance  = "ZERO_STOP_DISTANCE"
	CodeBadProtective     = "BAD_PROTECTIVE_SIDES"
	CodeMarketClosed      = "MARKET_CLOSED"
	CodePaused            = "PAUSED"
	CodeDailyLossLimit    = "DAILY_LOSS_LIMIT"
	CodeWeeklyLossLimit   = "WEEKLY_LOSS_LIMIT"
	CodeConsecutiveLosses = "CONSECUTIVE_LOSSES"
	CodeDrawdownLimit     = "DRAWDOWN_LIMIT"
	CodeDailyBudget       = "DAILY_BUDGET"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of a sizing or open check. A rejected trade is a
// normal result, not an error; Err converts it when a caller wants one.
type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRR float64
}

func Allow() Decision { return Decision{Allowed: true} }

func Reject(code, msg string) Decision {
	d := Decision{Allowed: true}
	d.add(code, msg)
	return d
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Code is the first violation code, or "" when allowed.
func (d Decision) Code() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

func (d Decision) Has(code string) bool {
	for _, v := range d.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Reason joins all violations as "CODE: msg; CODE: msg".
func (d Decision) Reason() string {
	parts := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		parts[i] = v.Code + ": " + v.Msg
	}
	return strings.Join(parts, "; ")
}

// Err wraps ErrArithmeticDegenerate or ErrPolicyViolation depending on the
// first violation. It is nil when the decision allows the trade.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Code() {
	case CodeBadPrice, CodeZeroStopDistance:
		return fmt.Errorf("%w: %s", ErrArithmeticDegenerate, d.Reason())
	}
	return fmt.Errorf("%w: %s", ErrPolicyViolation, d.Reason())
}

// PnLSnapshot is the realized loss history the circuit breakers look at,
// plus the day's capital use for the daily budget. Losses are negative.
type PnLSnapshot struct {
	DayRealized       float64
	WeekRealized      float64
	ConsecutiveLosses int
	PeakEquity        float64
	Equity            float64

	// DayStartAvailable is available capital at the first check of the UTC
	// day. Zero leaves the daily budget unchecked.
	DayStartAvailable float64
	DayAllocated      float64
}

// tolerance absorbs float noise when comparing margin sums against limits.
const tolerance = 1e-9

func validPrice(v float64) bool { return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) }

// CheckOrder validates an order on its own: direction, prices, margin, size
// and the protective sides of its stop and take-profit.
func CheckOrder(o broker.Order) Decision {
	d := Allow()
	if o.Direction == market.Hold {
		d.add(CodeHoldSignal, "order has no direction")
		return d
	}
	if !validPrice(o.Entry) || !validPrice(o.StopLoss) || !validPrice(o.TakeProfit) {
		d.add(CodeBadPrice, fmt.Sprintf("entry %.5f stop %.5f take %.5f must be positive", o.Entry, o.StopLoss, o.TakeProfit))
		return d
	}
	if !validPrice(o.Margin) {
		d.add(CodeBadPrice, fmt.Sprintf("margin %v must be positive and finite", o.Margin))
		return d
	}
	if o.StopLoss == o.Entry {
		d.add(CodeZeroStopDistance, fmt.Sprintf("stop-loss equals entry %.5f", o.Entry))
		return d
	}
	if !o.ProtectiveSides() {
		d.add(CodeBadProtective, fmt.Sprintf("%s stop %.5f / take %.5f on the wrong side of entry %.5f",
			o.Direction, o.StopLoss, o.TakeProfit, o.Entry))
	}
	if !(o.Size > 0) || math.IsInf(o.Size, 0) {
		d.add(CodeSizeZero, fmt.Sprintf("size %.8f must be positive", o.Size))
	}
	d.PlannedRR = o.RiskReward()
	return d
}

// CheckOpen re-validates an order against the account and the open set. It
// is the ledger's authoritative check; every violated limit is reported.
func (p Policy) CheckOpen(o broker.Order, acct broker.Account, open []broker.Position, pnl PnLSnapshot) Decision {
	d := CheckOrder(o)
	if d.Has(CodeHoldSignal) || d.Has(CodeBadPrice) || d.Has(CodeZeroStopDistance) {
		return d
	}

	for _, pos := range open {
		if pos.Asset == o.Asset {
			d.add(CodeAssetAlreadyOpen, fmt.Sprintf("%s already has open position %s", o.Asset, pos.ID))
			break
		}
	}
	if len(open) >= p.MaxPositions {
		d.add(CodeMaxPositions, fmt.Sprintf("open positions %d >= max %d", len(open), p.MaxPositions))
	}

	ceiling := acct.Balance * p.MaxMarginRisk
	if acct.MarginUsed+o.Margin > ceiling+tolerance {
		d.add(CodeRiskCeiling, fmt.Sprintf("margin %.2f + %.2f exceeds ceiling %.2f (%.0f%% of %.2f)",
			acct.MarginUsed, o.Margin, ceiling, 100*p.MaxMarginRisk, acct.Balance))
	}
	if p.MaxMarginPerAsset > 0 {
		limit := acct.Balance * p.MaxMarginPerAsset
		if o.Margin > limit+tolerance {
			d.add(CodeAssetMarginLimit, fmt.Sprintf("margin %.2f exceeds per-asset limit %.2f", o.Margin, limit))
		}
	}
	if o.Margin > acct.Available+tolerance {
		d.add(CodeNoCapital, fmt.Sprintf("margin %.2f exceeds available %.2f", o.Margin, acct.Available))
	}

	if budget := p.DailyBudget(pnl.DayStartAvailable); budget > 0 && pnl.DayAllocated+o.Margin > budget+tolerance {
		d.add(CodeDailyBudget, fmt.Sprintf("margin %.2f + %.2f used today exceeds daily budget %.2f",
			o.Margin, pnl.DayAllocated, budget))
	}

	p.checkBreakers(&d, acct, pnl)
	return d
}

func (p Policy) checkBreakers(d *Decision, acct broker.Account, pnl PnLSnapshot) {
	b := p.Breakers
	if b.MaxDailyLossPct > 0 {
		limit := -b.MaxDailyLossPct / 100 * acct.Balance
		if pnl.DayRealized <= limit {
			d.add(CodeDailyLossLimit, fmt.Sprintf("day realized %.2f <= limit %.2f", pnl.DayRealized, limit))
		}
	}
	if b.MaxWeeklyLossPct > 0 {
		limit := -b.MaxWeeklyLossPct / 100 * acct.Balance
		if pnl.WeekRealized <= limit {
			d.add(CodeWeeklyLossLimit, fmt.Sprintf("week realized %.2f <= limit %.2f", pnl.WeekRealized, limit))
		}
	}
	if b.MaxConsecutiveLosses > 0 && pnl.ConsecutiveLosses >= b.MaxConsecutiveLosses {
		d.add(CodeConsecutiveLosses, fmt.Sprintf("%d consecutive losses >= max %d", pnl.ConsecutiveLosses, b.MaxConsecutiveLosses))
	}
	if b.MaxDrawdownPct > 0 && pnl.PeakEquity > 0 {
		dd := 100 * (pnl.PeakEquity - pnl.Equity) / pnl.PeakEquity
		if dd >= b.MaxDrawdownPct {
			d.add(CodeDrawdownLimit, fmt.Sprintf("drawdown %.2f%% >= max %.2f%%", dd, b.MaxDrawdownPct))
		}
	}
}
