package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
		(trade_id, run_id, asset, direction, size, entry_price, exit_price, stop_loss, take_profit,
		 margin, open_time, close_time, realized_pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.Asset, t.Direction, t.Size, t.EntryPrice, t.ExitPrice, t.StopLoss,
		t.TakeProfit, t.Margin, t.OpenTime, t.CloseTime, t.RealizedPnL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, margin_used, available, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Balance, e.Equity, e.MarginUsed, e.Available, e.OpenPositions,
	)
	return err
}

func (j *SQLite) RecordSignal(s SignalRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO signals
		(run_id, time, asset, direction, confidence, score, price, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Time, s.Asset, s.Direction, s.Confidence, s.Score, s.Price, s.Reasons,
	)
	return err
}

func (j *SQLite) RecordBacktest(ctx context.Context, r BacktestRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
		(run_id, created, status, timeframe, dataset, assets, config, start_time, end_time,
		 trades, wins, losses, start_balance, end_balance, net_pnl, return_pct, win_rate,
		 profit_factor, max_dd_pct, sharpe, sortino, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Status, r.Timeframe, r.Dataset, strings.Join(r.Assets, ","), r.Config,
		r.Start, r.End, r.Trades, r.Wins, r.Losses, r.StartBalance, r.EndBalance, r.NetPnL,
		r.ReturnPct, r.WinRate, r.ProfitFactor, r.MaxDDPct, r.Sharpe, r.Sortino,
		strings.Join(r.Notes, "\n"),
	)
	return err
}

func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var (
		r      BacktestRun
		assets string
		notes  string
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, status, timeframe, dataset, assets, config, start_time, end_time,
		       trades, wins, losses, start_balance, end_balance, net_pnl, return_pct, win_rate,
		       profit_factor, max_dd_pct, sharpe, sortino, notes
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Status, &r.Timeframe, &r.Dataset, &assets, &r.Config, &r.Start, &r.End,
		&r.Trades, &r.Wins, &r.Losses, &r.StartBalance, &r.EndBalance, &r.NetPnL, &r.ReturnPct, &r.WinRate,
		&r.ProfitFactor, &r.MaxDDPct, &r.Sharpe, &r.Sortino, &notes,
	)
	if err == sql.ErrNoRows {
		return BacktestRun{}, fmt.Errorf("backtest run %q not found", runID)
	}
	if err != nil {
		return BacktestRun{}, err
	}
	if assets != "" {
		r.Assets = strings.Split(assets, ",")
	}
	if notes != "" {
		r.Notes = strings.Split(notes, "\n")
	}
	return r, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
