package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const tradeColumns = `trade_id, run_id, asset, direction, size, entry_price, exit_price, stop_loss,
	take_profit, margin, open_time, close_time, realized_pnl, reason`

func scanTrade(s interface{ Scan(...any) error }) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID,
		&rec.RunID,
		&rec.Asset,
		&rec.Direction,
		&rec.Size,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.StopLoss,
		&rec.TakeProfit,
		&rec.Margin,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPnL,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return TradeRecord{}, fmt.Errorf("trade %q not found", tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC, trade_id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func (j *SQLite) ListTradesByRun(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ?
		ORDER BY close_time ASC, trade_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquityBetween returns snapshots with time within [start, end).
func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT run_id, time, balance, equity, margin_used, available, open_positions
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.Available, &e.OpenPositions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates realized P&L over a set of trades.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64
	NetPnL       float64
	ProfitFactor float64 // -1 when there are wins but no losses
}

func Summarize(trades []TradeRecord) Summary {
	var s Summary
	for _, t := range trades {
		s.Trades++
		s.NetPnL += t.RealizedPnL
		switch {
		case t.RealizedPnL > 0:
			s.Wins++
			s.GrossProfit += t.RealizedPnL
		case t.RealizedPnL < 0:
			s.Losses++
			s.GrossLoss -= t.RealizedPnL
		}
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = -1
	}
	return s
}
