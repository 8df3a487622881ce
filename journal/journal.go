// Package journal persists what the engine decides: closed trades, equity
// snapshots, scored signals and backtest summaries.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/signals"
)

type TradeRecord struct {
	TradeID     string
	RunID       string
	Asset       string
	Direction   string
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	StopLoss    float64
	TakeProfit  float64
	Margin      float64
	OpenTime    time.Time
	CloseTime   time.Time
	RealizedPnL float64
	Reason      string
}

type EquitySnapshot struct {
	RunID         string
	Time          time.Time
	Balance       float64
	Equity        float64
	MarginUsed    float64
	Available     float64
	OpenPositions int
}

type SignalRecord struct {
	RunID      string
	Time       time.Time
	Asset      string
	Direction  string
	Confidence float64
	Score      int
	Price      float64
	Reasons    string
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordSignal(SignalRecord) error
	Close() error
}

// TradeFromPosition converts a closed position into its journal record.
func TradeFromPosition(p broker.Position) TradeRecord {
	return TradeRecord{
		TradeID:     p.ID,
		Asset:       p.Asset,
		Direction:   p.Direction.String(),
		Size:        p.Size,
		EntryPrice:  p.Entry,
		ExitPrice:   p.ExitPrice,
		StopLoss:    p.StopLoss,
		TakeProfit:  p.TakeProfit,
		Margin:      p.Margin,
		OpenTime:    p.OpenTime,
		CloseTime:   p.ExitTime,
		RealizedPnL: p.RealizedPnL,
		Reason:      string(p.ExitReason),
	}
}

// Position rebuilds the closed position a trade record was written from.
func (t TradeRecord) Position() (broker.Position, error) {
	dir, err := market.ParseDirection(t.Direction)
	if err != nil {
		return broker.Position{}, fmt.Errorf("trade %s: %w", t.TradeID, err)
	}
	return broker.Position{
		Order: broker.Order{
			Asset:      t.Asset,
			Direction:  dir,
			Entry:      t.EntryPrice,
			Size:       t.Size,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			Margin:     t.Margin,
		},
		ID:          t.TradeID,
		OpenTime:    t.OpenTime,
		Status:      broker.StatusClosed,
		ExitPrice:   t.ExitPrice,
		ExitTime:    t.CloseTime,
		ExitReason:  broker.ExitReason(t.Reason),
		RealizedPnL: t.RealizedPnL,
	}, nil
}

func SignalFrom(s signals.Signal) SignalRecord {
	return SignalRecord{
		Time:       s.Time,
		Asset:      s.Asset,
		Direction:  s.Direction.String(),
		Confidence: s.Confidence,
		Score:      s.Score,
		Price:      s.Price,
		Reasons:    strings.Join(s.Reasons, "; "),
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordSignal(SignalRecord) error   { return nil }
func (Nop) Close() error                      { return nil }

// WithRunID stamps every record written through j with runID. Close is
// passed through.
func WithRunID(j Journal, runID string) Journal {
	return runJournal{j: j, runID: runID}
}

type runJournal struct {
	j     Journal
	runID string
}

func (r runJournal) RecordTrade(t TradeRecord) error {
	t.RunID = r.runID
	return r.j.RecordTrade(t)
}

func (r runJournal) RecordEquity(e EquitySnapshot) error {
	e.RunID = r.runID
	return r.j.RecordEquity(e)
}

func (r runJournal) RecordSignal(s SignalRecord) error {
	s.RunID = r.runID
	return r.j.RecordSignal(s)
}

func (r runJournal) Close() error { return r.j.Close() }
