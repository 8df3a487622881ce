package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/intraday/market"
)

func TestOrderRiskReward(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		o    Order
		want float64
	}{
		{"buy", Order{Direction: market.Buy, Entry: 100, StopLoss: 92, TakeProfit: 114}, 14.0 / 8},
		{"sell", Order{Direction: market.Sell, Entry: 100, StopLoss: 107, TakeProfit: 88}, 12.0 / 7},
		{"zero stop distance", Order{Direction: market.Buy, Entry: 100, StopLoss: 100, TakeProfit: 110}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.o.RiskReward(), 1e-12)
		})
	}
}

func TestProtectiveSides(t *testing.T) {
	t.Parallel()

	assert.True(t, Order{Direction: market.Buy, Entry: 100, StopLoss: 90, TakeProfit: 110}.ProtectiveSides())
	assert.False(t, Order{Direction: market.Buy, Entry: 100, StopLoss: 110, TakeProfit: 90}.ProtectiveSides())
	assert.True(t, Order{Direction: market.Sell, Entry: 100, StopLoss: 110, TakeProfit: 90}.ProtectiveSides())
	assert.False(t, Order{Direction: market.Hold, Entry: 100, StopLoss: 90, TakeProfit: 110}.ProtectiveSides())
}

func TestPositionPnL(t *testing.T) {
	t.Parallel()

	long := Position{Order: Order{Direction: market.Buy, Entry: 100, Size: 3}}
	short := Position{Order: Order{Direction: market.Sell, Entry: 100, Size: 3}}

	assert.InDelta(t, 30.0, long.PnL(110), 1e-12)
	assert.InDelta(t, -30.0, short.PnL(110), 1e-12)
	assert.InDelta(t, 15.0, short.PnL(95), 1e-12)
}

func TestPositionDuration(t *testing.T) {
	t.Parallel()

	open := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	p := Position{OpenTime: open}
	assert.Zero(t, p.Duration())
	p.ExitTime = open.Add(90 * time.Minute)
	assert.Equal(t, 90*time.Minute, p.Duration())
}

func TestInstrumentMargin(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 20.0, Instrument{Leverage: 5}.MarginPerUnit(100), 1e-12)
	assert.InDelta(t, 100.0, Instrument{}.MarginPerUnit(100), 1e-12)
}

func TestQuoteFromBar(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	q := QuoteFromBar(market.Bar{Time: at, Open: 1, High: 3, Low: 0.5, Close: 2})
	assert.Equal(t, Quote{Time: at, Open: 1, High: 3, Low: 0.5, Close: 2}, q)
	assert.Equal(t, 7.0, LastPrice(at, 7).Low)
}
