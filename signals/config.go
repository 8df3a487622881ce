package signals

import (
	"fmt"

	"github.com/rustyeddy/intraday/indicators"
	"github.com/rustyeddy/intraday/market"
)

// VolatilityGate bounds ATR% for a tradable signal.
type VolatilityGate struct {
	MinATRPercent float64 `yaml:"min_atr_percent" json:"min_atr_percent"`
	MaxATRPercent float64 `yaml:"max_atr_percent" json:"max_atr_percent"` // 0 = no upper bound
	OptimalMin    float64 `yaml:"optimal_min" json:"optimal_min"`
	OptimalMax    float64 `yaml:"optimal_max" json:"optimal_max"`
	Boost         float64 `yaml:"boost" json:"boost"`
}

// TrendGate requires a minimum ADX when enabled.
type TrendGate struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	MinADX    float64 `yaml:"min_adx" json:"min_adx"`
	StrongADX float64 `yaml:"strong_adx" json:"strong_adx"`
	Boost     float64 `yaml:"boost" json:"boost"`
}

// MTF confirms the fast direction against a slower series.
type MTF struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Timeframe string  `yaml:"timeframe" json:"timeframe"`
	Boost     float64 `yaml:"boost" json:"boost"`
}

type ScorerConfig struct {
	Periods indicators.Params `yaml:"periods" json:"periods"`

	RSIOversold       float64 `yaml:"rsi_oversold" json:"rsi_oversold"`
	RSIOverbought     float64 `yaml:"rsi_overbought" json:"rsi_overbought"`
	MomentumThreshold float64 `yaml:"momentum_threshold" json:"momentum_threshold"`

	// MinScore is the least number of weighted votes the winning side needs.
	MinScore int `yaml:"min_score" json:"min_score"`
	// ConfidenceScale maps |net score| onto [0,1].
	ConfidenceScale float64 `yaml:"confidence_scale" json:"confidence_scale"`
	MinConfidence   float64 `yaml:"min_confidence" json:"min_confidence"`

	Volatility VolatilityGate `yaml:"volatility" json:"volatility"`
	Trend      TrendGate      `yaml:"trend" json:"trend"`
	MTF        MTF            `yaml:"mtf" json:"mtf"`

	// Lookback caps how many trailing bars are scored; 0 scores everything.
	Lookback int `yaml:"lookback" json:"lookback"`
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Periods:           indicators.DefaultParams(),
		RSIOversold:       35,
		RSIOverbought:     70,
		MomentumThreshold: 2,
		MinScore:          2,
		ConfidenceScale:   7,
		MinConfidence:     0.5,
		Volatility: VolatilityGate{
			MinATRPercent: 0.5,
			MaxATRPercent: 5,
			OptimalMin:    1,
			OptimalMax:    3,
			Boost:         0.1,
		},
		Trend: TrendGate{
			Enabled:   true,
			MinADX:    20,
			StrongADX: 30,
			Boost:     0.1,
		},
		MTF: MTF{
			Enabled:   false,
			Timeframe: "1h",
			Boost:     0.1,
		},
		Lookback: 200,
	}
}

func (c ScorerConfig) Validate() error {
	if err := c.Periods.Validate(); err != nil {
		return err
	}
	if c.RSIOversold <= 0 || c.RSIOverbought >= 100 || c.RSIOversold >= c.RSIOverbought {
		return invalid("rsi thresholds must satisfy 0 < oversold (%.1f) < overbought (%.1f) < 100",
			c.RSIOversold, c.RSIOverbought)
	}
	if c.MomentumThreshold < 0 {
		return invalid("momentum_threshold must not be negative")
	}
	if c.MinScore < 1 {
		return invalid("min_score must be at least 1, got %d", c.MinScore)
	}
	if c.ConfidenceScale <= 0 {
		return invalid("confidence_scale must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return invalid("min_confidence must be within [0,1], got %.2f", c.MinConfidence)
	}
	v := c.Volatility
	if v.MinATRPercent < 0 || v.MaxATRPercent < 0 {
		return invalid("volatility bounds must not be negative")
	}
	if v.MaxATRPercent > 0 && v.MaxATRPercent <= v.MinATRPercent {
		return invalid("max_atr_percent must exceed min_atr_percent")
	}
	if v.OptimalMax < v.OptimalMin {
		return invalid("volatility optimal range is inverted")
	}
	if c.Trend.Enabled && c.Trend.StrongADX < c.Trend.MinADX {
		return invalid("strong_adx must be at least min_adx")
	}
	if c.Lookback != 0 && c.Lookback < c.Periods.Warmup() {
		return invalid("lookback %d is shorter than indicator warm-up %d", c.Lookback, c.Periods.Warmup())
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", market.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// Override narrows a config for a single asset. Zero fields keep the base value.
type Override struct {
	SMAShort      int     `yaml:"sma_short,omitempty" json:"sma_short,omitempty"`
	SMALong       int     `yaml:"sma_long,omitempty" json:"sma_long,omitempty"`
	RSIOversold   float64 `yaml:"rsi_oversold,omitempty" json:"rsi_oversold,omitempty"`
	RSIOverbought float64 `yaml:"rsi_overbought,omitempty" json:"rsi_overbought,omitempty"`
	MinConfidence float64 `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
}

// ForAsset applies o on top of c.
func (c ScorerConfig) ForAsset(o Override) ScorerConfig {
	if o.SMAShort > 0 {
		c.Periods.SMAShort = o.SMAShort
	}
	if o.SMALong > 0 {
		c.Periods.SMALong = o.SMALong
	}
	if o.RSIOversold > 0 {
		c.RSIOversold = o.RSIOversold
	}
	if o.RSIOverbought > 0 {
		c.RSIOverbought = o.RSIOverbought
	}
	if o.MinConfidence > 0 {
		c.MinConfidence = o.MinConfidence
	}
	return c
}
