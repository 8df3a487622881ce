package broker

import (
	"math"
	"time"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/signals"
)

type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitManual     ExitReason = "MANUAL"
	ExitTime       ExitReason = "TIME_EXIT"
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Order is a sized, priced request to open a position. Orders are values;
// a correction is a new Order.
type Order struct {
	Asset      string
	Direction  market.Direction
	Entry      float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	Margin     float64
	Signal     signals.Signal
}

// RiskReward is the take-profit distance over the stop-loss distance. It is
// 0 when the stop distance is 0.
func (o Order) RiskReward() float64 {
	return RR(o.Entry, o.StopLoss, o.TakeProfit)
}

// ProtectiveSides reports whether stop and take sit on the loss and profit
// side of entry for the order's direction.
func (o Order) ProtectiveSides() bool {
	switch o.Direction {
	case market.Buy:
		return o.StopLoss < o.Entry && o.TakeProfit > o.Entry
	case market.Sell:
		return o.StopLoss > o.Entry && o.TakeProfit < o.Entry
	}
	return false
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// Position is an order that has been opened by the ledger.
type Position struct {
	Order

	ID       string
	OpenTime time.Time
	Status   Status

	ExitPrice   float64
	ExitTime    time.Time
	ExitReason  ExitReason
	RealizedPnL float64
}

// PnL is the profit of the position if it were closed at price, in account
// currency.
func (p Position) PnL(price float64) float64 {
	return p.Direction.Sign() * (price - p.Entry) * p.Size
}

func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// Duration is how long the position was held; open positions report zero.
func (p Position) Duration() time.Duration {
	if p.ExitTime.IsZero() {
		return 0
	}
	return p.ExitTime.Sub(p.OpenTime)
}
