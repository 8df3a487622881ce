package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/intraday/market"
)

// BarProvider supplies closed bars for an asset. Implementations may block
// on network I/O; they honor ctx.
type BarProvider interface {
	Bars(ctx context.Context, asset string, timeframe time.Duration, n int) (market.Series, error)
}

// AccountProvider reports the broker's view of the account.
type AccountProvider interface {
	Account(ctx context.Context) (Account, error)
}

// Executor places an accepted order with the broker. A nil Executor means
// paper trading: the ledger is the only record of the position.
type Executor interface {
	Submit(ctx context.Context, o Order) error
}

// Account is the capital snapshot shared by the sizer and the ledger.
// Amounts are in account currency.
type Account struct {
	Balance    float64
	Available  float64
	MarginUsed float64
}

// Equity adds unrealized P&L to the balance.
func (a Account) Equity(unrealized float64) float64 { return a.Balance + unrealized }

// Instrument carries the per-asset trading constraints the caller supplies.
type Instrument struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Leverage float64 `yaml:"leverage" json:"leverage"`
	MinSize  float64 `yaml:"min_size" json:"min_size"`
	Step     float64 `yaml:"step" json:"step"`
}

// MarginPerUnit is the capital locked by one unit at price.
func (i Instrument) MarginPerUnit(price float64) float64 {
	lev := i.Leverage
	if lev <= 0 {
		lev = 1
	}
	return price / lev
}

// Quote is the price range an asset traded through since the last evaluation.
type Quote struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// QuoteFromBar converts a bar into the quote the ledger evaluates.
func QuoteFromBar(b market.Bar) Quote {
	return Quote{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
}

// LastPrice is a quote for a single observed price.
func LastPrice(at time.Time, price float64) Quote {
	return Quote{Time: at, Open: price, High: price, Low: price, Close: price}
}
