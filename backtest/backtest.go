// Package backtest replays historical bars through the same scorer, sizer
// and ledger used live, one tick per bar, and reports the equity curve, the
// trade log and performance metrics.
package backtest

import (
	"errors"
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signals"
)

// ErrInvalidRequest marks a request that cannot be simulated.
var ErrInvalidRequest = errors.New("invalid backtest request")

type Status string

const (
	StatusInitialized Status = "INITIALIZED"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusAborted     Status = "ABORTED"
)

type Options struct {
	// EntryAtNextOpen fills accepted orders at the open of the asset's next
	// bar instead of the signal bar's close.
	EntryAtNextOpen bool
	// CloseAtEnd closes what is still open at the last bar with TIME_EXIT.
	CloseAtEnd bool
	// GateHours applies the policy trading window to bar timestamps.
	GateHours bool
	// CloseOutsideHours closes open positions on the first bar outside the
	// trading window. Only used with GateHours.
	CloseOutsideHours bool

	CommissionPerTrade float64
	// SpreadPoints is paid once per trade as SpreadPoints × PointValue ×
	// size. PointValue defaults to 1.
	SpreadPoints float64
	PointValue   float64

	// SlowTimeframe is used to resample the fast bars when the scorer has
	// multi-timeframe confirmation on and no slow series is supplied. Zero
	// uses the scorer's MTF timeframe.
	SlowTimeframe time.Duration

	// Trades entered with ADX at or above RegimeADX count as trending.
	RegimeADX float64
	// Trades entered with ATR% at or above RegimeATRPercent count as high
	// volatility.
	RegimeATRPercent float64

	// PeriodsPerYear annualizes Sharpe and Sortino. Zero derives it from the
	// bar timeframe assuming 252 trading days.
	PeriodsPerYear float64

	// RunID stamps journal records and position ids.
	RunID string
}

func DefaultOptions() Options {
	return Options{
		CloseAtEnd:       true,
		GateHours:        true,
		RegimeADX:        25,
		RegimeATRPercent: 2,
		RunID:            "backtest",
	}
}

type Request struct {
	// Assets holds the fast series per asset. Every series must share one
	// timeframe.
	Assets map[string]market.Series
	// Slow optionally supplies the confirming series per asset.
	Slow map[string]market.Series

	InitialCapital float64
	Policy         risk.Policy
	Scorer         signals.ScorerConfig
	Overrides      map[string]signals.Override
	Instruments    map[string]broker.Instrument
	// Limits tightens the margin cap or fixes the stops of single assets.
	Limits  map[string]risk.AssetLimits
	Options Options
}

type EquityPoint struct {
	Time    time.Time
	Balance float64
	Equity  float64
	Open    int
}

type Event string

const (
	EventOpened   Event = "OPENED"
	EventClosed   Event = "CLOSED"
	EventRejected Event = "REJECTED"
)

// LogEntry is one line of the trade log.
type LogEntry struct {
	Time       time.Time
	Event      Event
	Asset      string
	Direction  market.Direction
	PositionID string
	Price      float64
	Size       float64
	PnL        float64
	Code       string
	Reason     string
}

type Result struct {
	RunID     string
	Status    Status
	Timeframe time.Duration
	Assets    []string
	Start     time.Time
	End       time.Time
	Bars      int

	InitialCapital float64
	Final          broker.Account

	Equity  []EquityPoint
	Log     []LogEntry
	Trades  []broker.Position
	Signals []signals.Signal

	Metrics  Metrics
	Segments Segments
}
