package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/intraday/markethours"
)

type AllocationMode string

const (
	Percentage AllocationMode = "PERCENTAGE"
	Fixed      AllocationMode = "FIXED"
)

type Distribution string

const (
	Equal    Distribution = "EQUAL"
	Weighted Distribution = "WEIGHTED"
)

type StopMode string

const (
	Static  StopMode = "STATIC"
	Dynamic StopMode = "DYNAMIC"
)

// Allocation decides how much capital each new position may use.
type Allocation struct {
	Mode         AllocationMode `yaml:"mode" json:"mode"`
	Percent      float64        `yaml:"percent" json:"percent"` // PERCENTAGE: share of available capital, [1,100]
	Amount       float64        `yaml:"amount" json:"amount"`   // FIXED: account currency per position, > 0
	Distribution Distribution   `yaml:"distribution" json:"distribution"`

	// TradingDaysPerWeek spreads a week's allocation (Percent of available
	// capital) over that many days and caps the margin opened per UTC day.
	// PERCENTAGE mode only; 0 disables.
	TradingDaysPerWeek int `yaml:"trading_days_per_week,omitempty" json:"trading_days_per_week,omitempty"`
}

// StaticStops are distances from entry in percent.
type StaticStops struct {
	BuySL  float64 `yaml:"buy_sl" json:"buy_sl"`
	BuyTP  float64 `yaml:"buy_tp" json:"buy_tp"`
	SellSL float64 `yaml:"sell_sl" json:"sell_sl"`
	SellTP float64 `yaml:"sell_tp" json:"sell_tp"`
}

// DynamicStops scale ATR% by a multiplier and clamp the result, in percent.
type DynamicStops struct {
	SLMultiplier float64 `yaml:"sl_multiplier" json:"sl_multiplier"`
	TPMultiplier float64 `yaml:"tp_multiplier" json:"tp_multiplier"`
	MinPercent   float64 `yaml:"min_percent" json:"min_percent"`
	MaxPercent   float64 `yaml:"max_percent" json:"max_percent"` // 0 = no upper clamp
}

type Stops struct {
	Mode    StopMode     `yaml:"mode" json:"mode"`
	Static  StaticStops  `yaml:"static" json:"static"`
	Dynamic DynamicStops `yaml:"dynamic" json:"dynamic"`
}

// Breakers stop new opens after losses. Zero disables a breaker.
type Breakers struct {
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxWeeklyLossPct     float64 `yaml:"max_weekly_loss_pct" json:"max_weekly_loss_pct"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
}

type Policy struct {
	Allocation Allocation `yaml:"allocation" json:"allocation"`

	// Exposure limits
	MaxPositions      int     `yaml:"max_positions" json:"max_positions"`
	MaxMarginRisk     float64 `yaml:"max_margin_risk" json:"max_margin_risk"`           // ceiling on total margin as a fraction of balance, (0,1]
	MaxMarginPerAsset float64 `yaml:"max_margin_per_asset" json:"max_margin_per_asset"` // ceiling per position as a fraction of balance, (0,1]; 0 disables

	Stops    Stops              `yaml:"stops" json:"stops"`
	Breakers Breakers           `yaml:"breakers" json:"breakers"`
	Hours    markethours.Window `yaml:"-" json:"-"`
}

func DefaultPolicy() Policy {
	return Policy{
		Allocation: Allocation{
			Mode:         Percentage,
			Percent:      40,
			Distribution: Equal,
		},
		MaxPositions:      3,
		MaxMarginRisk:     0.70,
		MaxMarginPerAsset: 0.35,
		Stops: Stops{
			Mode:    Static,
			Static:  StaticStops{BuySL: 8, BuyTP: 14, SellSL: 7, SellTP: 12},
			Dynamic: DynamicStops{SLMultiplier: 2, TPMultiplier: 3, MinPercent: 0.5, MaxPercent: 10},
		},
		Hours: markethours.Default(),
	}
}

// DailyBudget is the margin that may be opened in one day when the day
// started with available capital. Zero means no daily budget.
func (p Policy) DailyBudget(available float64) float64 {
	a := p.Allocation
	if a.TradingDaysPerWeek <= 0 || a.Mode != Percentage || !(available > 0) {
		return 0
	}
	return available * a.Percent / 100 / float64(a.TradingDaysPerWeek)
}

// NewPolicy returns p if it is valid.
func NewPolicy(p Policy) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func bad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func (p Policy) Validate() error {
	a := p.Allocation
	switch a.Mode {
	case Percentage:
		if bad(a.Percent) || a.Percent < 1 || a.Percent > 100 {
			return invalid("allocation percent %.2f outside [1,100]", a.Percent)
		}
		if a.Distribution != Equal && a.Distribution != Weighted {
			return invalid("unknown distribution %q", a.Distribution)
		}
	case Fixed:
		if bad(a.Amount) || a.Amount <= 0 {
			return invalid("fixed allocation %.2f must be positive", a.Amount)
		}
	default:
		return invalid("unknown allocation mode %q", a.Mode)
	}
	if a.TradingDaysPerWeek < 0 || a.TradingDaysPerWeek > 7 {
		return invalid("trading days per week %d outside [0,7]", a.TradingDaysPerWeek)
	}
	if a.TradingDaysPerWeek > 0 && a.Mode != Percentage {
		return invalid("trading days per week needs %s allocation", Percentage)
	}

	if p.MaxPositions < 1 {
		return invalid("max positions %d must be at least 1", p.MaxPositions)
	}
	if bad(p.MaxMarginRisk) || p.MaxMarginRisk <= 0 || p.MaxMarginRisk > 1 {
		return invalid("max margin risk %.2f outside (0,1]", p.MaxMarginRisk)
	}
	if bad(p.MaxMarginPerAsset) || p.MaxMarginPerAsset < 0 || p.MaxMarginPerAsset > 1 {
		return invalid("max margin per asset %.2f outside [0,1]", p.MaxMarginPerAsset)
	}

	s := p.Stops
	switch s.Mode {
	case Static:
		for name, v := range map[string]float64{
			"buy stop-loss": s.Static.BuySL, "buy take-profit": s.Static.BuyTP,
			"sell stop-loss": s.Static.SellSL, "sell take-profit": s.Static.SellTP,
		} {
			if bad(v) || v <= 0 || v >= 100 {
				return invalid("%s percent %.2f outside (0,100)", name, v)
			}
		}
	case Dynamic:
		d := s.Dynamic
		if bad(d.SLMultiplier) || d.SLMultiplier <= 0 || bad(d.TPMultiplier) || d.TPMultiplier <= 0 {
			return invalid("dynamic stop multipliers must be positive (sl=%.2f tp=%.2f)", d.SLMultiplier, d.TPMultiplier)
		}
		if bad(d.MinPercent) || d.MinPercent < 0 {
			return invalid("dynamic min percent %.2f must not be negative", d.MinPercent)
		}
		if bad(d.MaxPercent) || d.MaxPercent < 0 || (d.MaxPercent > 0 && d.MaxPercent < d.MinPercent) || d.MaxPercent >= 100 {
			return invalid("dynamic max percent %.2f invalid", d.MaxPercent)
		}
	default:
		return invalid("unknown stop mode %q", s.Mode)
	}

	b := p.Breakers
	if b.MaxDailyLossPct < 0 || b.MaxWeeklyLossPct < 0 || b.MaxConsecutiveLosses < 0 || b.MaxDrawdownPct < 0 {
		return invalid("circuit breaker limits must not be negative")
	}

	if err := p.Hours.Validate(); err != nil {
		return invalid("%v", err)
	}
	return nil
}
