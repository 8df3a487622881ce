package journal

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/signals"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func trade(id string, closeAt time.Time, pnl float64) TradeRecord {
	return TradeRecord{
		TradeID:     id,
		Asset:       "EUR_USD",
		Direction:   "BUY",
		Size:        1500,
		EntryPrice:  1.085,
		ExitPrice:   1.0875,
		StopLoss:    1.08,
		TakeProfit:  1.09,
		Margin:      54.25,
		OpenTime:    closeAt.Add(-time.Hour),
		CloseTime:   closeAt,
		RealizedPnL: pnl,
		Reason:      "TAKE_PROFIT",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, name := range []string{"trades", "equity", "signals", "backtest_runs"} {
		assert.True(t, found[name], name)
	}
}

func TestSQLiteTradeRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	at := time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC)
	want := trade("T123", at, 375)
	require.NoError(t, j.RecordTrade(want))

	got, err := j.GetTrade("T123")
	require.NoError(t, err)
	assert.Equal(t, want.Asset, got.Asset)
	assert.Equal(t, want.Direction, got.Direction)
	assert.InDelta(t, want.Size, got.Size, 1e-9)
	assert.InDelta(t, want.StopLoss, got.StopLoss, 1e-9)
	assert.True(t, got.OpenTime.Equal(want.OpenTime))
	assert.True(t, got.CloseTime.Equal(want.CloseTime))
	assert.InDelta(t, want.RealizedPnL, got.RealizedPnL, 1e-9)
	assert.Equal(t, want.Reason, got.Reason)

	_, err = j.GetTrade("missing")
	assert.ErrorContains(t, err, "not found")
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("T3", base.Add(30*time.Hour), -50)))
	require.NoError(t, j.RecordTrade(trade("T1", base.Add(2*time.Hour), 100)))
	require.NoError(t, j.RecordTrade(trade("T2", base.Add(5*time.Hour), 25)))

	got, err := j.ListTradesClosedBetween(base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "T1", got[0].TradeID)
	assert.Equal(t, "T2", got[1].TradeID)

	all, err := j.ListTradesClosedBetween(base, base.Add(48*time.Hour))
	require.NoError(t, err)
	s := Summarize(all)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 75, s.NetPnL, 1e-9)
	assert.InDelta(t, 2.5, s.ProfitFactor, 1e-9)
}

func TestSummarizeNoLosses(t *testing.T) {
	t.Parallel()

	s := Summarize([]TradeRecord{{RealizedPnL: 10}})
	assert.Equal(t, -1.0, s.ProfitFactor)
	assert.Zero(t, Summarize(nil).ProfitFactor)
}

func TestRunJournalStampsRecords(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	rj := WithRunID(j, "run-1")
	defer rj.Close()

	at := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rj.RecordTrade(trade("T1", at, 1)))
	require.NoError(t, rj.RecordEquity(EquitySnapshot{Time: at, Balance: 1000, Equity: 1001, Available: 900}))
	require.NoError(t, rj.RecordSignal(SignalRecord{Time: at, Asset: "EUR_USD", Direction: "BUY", Confidence: 0.7, Score: 4}))

	got, err := j.ListTradesByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].RunID)

	eq, err := j.ListEquityBetween(at, at.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.Equal(t, "run-1", eq[0].RunID)
	assert.InDelta(t, 1001, eq[0].Equity, 1e-9)
}

type failing struct{ Nop }

func (failing) RecordTrade(TradeRecord) error { return errors.New("disk full") }

func TestMultiWritesEveryJournal(t *testing.T) {
	t.Parallel()

	db, _ := newTestSQLite(t)
	dir := t.TempDir()
	c, err := NewCSV(dir)
	require.NoError(t, err)

	m := Multi(failing{}, db, c)
	at := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	err = m.RecordTrade(trade("T1", at, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, m.RecordEquity(EquitySnapshot{Time: at, Balance: 1, Equity: 1}))

	got, err := db.GetTrade("T1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.RealizedPnL)
	require.NoError(t, m.Close())

	data, err := os.ReadFile(filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "T1")
}

func TestBacktestRunRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	run := BacktestRun{
		RunID:        "bt-1",
		Created:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Status:       "COMPLETED",
		Timeframe:    "15m",
		Dataset:      "testdata",
		Assets:       []string{"AAA", "BBB"},
		Config:       []byte("policy: {}\n"),
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Trades:       4,
		Wins:         3,
		Losses:       1,
		StartBalance: 10000,
		EndBalance:   10500,
		NetPnL:       500,
		ReturnPct:    5,
		WinRate:      0.75,
		ProfitFactor: 3.5,
		MaxDDPct:     2.1,
		Sharpe:       1.2,
		Sortino:      1.9,
		Notes:        []string{"first", "second"},
	}
	require.NoError(t, j.RecordBacktest(ctx, run))

	got, err := j.GetBacktestRun(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, run.Assets, got.Assets)
	assert.Equal(t, run.Notes, got.Notes)
	assert.Equal(t, run.Config, got.Config)
	assert.Equal(t, run.Trades, got.Trades)
	assert.InDelta(t, run.ProfitFactor, got.ProfitFactor, 1e-9)
	assert.True(t, got.Start.Equal(run.Start))

	_, err = j.GetBacktestRun(ctx, "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestBacktestOrg(t *testing.T) {
	t.Parallel()

	run := BacktestRun{
		RunID:        "bt-2",
		Status:       "COMPLETED",
		Timeframe:    "1h",
		Assets:       []string{"AAA"},
		Trades:       1,
		Wins:         1,
		WinRate:      1,
		ProfitFactor: -1,
		StartBalance: 1000,
		EndBalance:   1100,
		NetPnL:       100,
		ReturnPct:    10,
	}
	var buf bytes.Buffer
	require.NoError(t, run.WriteOrg(&buf))
	out := buf.String()
	assert.Contains(t, out, "* BACKTEST: AAA 1h")
	assert.Contains(t, out, ":RUN_ID:      bt-2")
	assert.Contains(t, out, ":PROFIT_FAC:  no losses")
	assert.Contains(t, out, ":WIN_RATE:    100.00")
	assert.NotContains(t, out, "** Configuration")

	path := filepath.Join(t.TempDir(), "run.org")
	require.NoError(t, run.WriteOrgFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
}

func TestFormatTradeOrg(t *testing.T) {
	t.Parallel()

	rec := trade("trade-12345678-abcd", time.Date(2024, 3, 15, 14, 20, 30, 0, time.UTC), 250)
	out := FormatTradeOrg(rec)
	assert.Contains(t, out, "** Trade: EUR_USD BUY (trade-12)")
	assert.Contains(t, out, ":TRADE_ID: trade-12345678-abcd")
	assert.Contains(t, out, ":CLOSE_TIME: 2024-03-15T14:20:30Z")
	assert.Contains(t, out, ":REALIZED_PNL: 250.00")
	assert.Contains(t, out, ":MARGIN: 54.25")
	assert.Contains(t, out, ":HELD: 1h0m0s")
	assert.Contains(t, out, ":R_MULTIPLE: 33.33")
	assert.Contains(t, out, ":win:")
	assert.NotContains(t, out, ":RUN_ID:")
	assert.Contains(t, out, "*** Review")

	loss := FormatTradeOrg(trade("l", rec.CloseTime, -5))
	assert.Contains(t, loss, ":loss:")

	two := FormatTradesOrg([]TradeRecord{rec, trade("short", rec.CloseTime, 1)})
	assert.Contains(t, two, "(short)")
}

func TestCSVJournal(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	j, err := NewCSV(dir)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 4, 5, 6, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("T1", at, -12.5)))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: at, Balance: 1000, Equity: 990, OpenPositions: 1}))
	require.NoError(t, j.RecordSignal(SignalRecord{Time: at, Asset: "EUR_USD", Direction: "SELL", Score: -3}))
	require.NoError(t, j.Close())

	read := func(name string) [][]string {
		fh, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err)
		defer fh.Close()
		rows, err := csv.NewReader(fh).ReadAll()
		require.NoError(t, err)
		return rows
	}

	trades := read("trades.csv")
	require.Len(t, trades, 2)
	assert.Equal(t, tradeHeader, trades[0])
	assert.Equal(t, "T1", trades[1][0])
	assert.Equal(t, "-12.500000", trades[1][12])
	assert.Equal(t, "2024-01-02T04:05:06Z", trades[1][11])

	equity := read("equity.csv")
	require.Len(t, equity, 2)
	assert.Equal(t, "1", equity[1][6])

	sigs := read("signals.csv")
	require.Len(t, sigs, 2)
	assert.Equal(t, "-3", sigs[1][5])
}

func TestConverters(t *testing.T) {
	t.Parallel()

	open := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	pos := broker.Position{
		Order: broker.Order{Asset: "AAA", Direction: market.Sell, Entry: 10, Size: 3, StopLoss: 11, TakeProfit: 8, Margin: 30},
		ID:    "p1", OpenTime: open, Status: broker.StatusClosed,
		ExitPrice: 8, ExitTime: open.Add(time.Hour), ExitReason: broker.ExitTakeProfit, RealizedPnL: 6,
	}
	rec := TradeFromPosition(pos)
	assert.Equal(t, "SELL", rec.Direction)
	assert.Equal(t, "TAKE_PROFIT", rec.Reason)
	assert.InDelta(t, 6, rec.RealizedPnL, 1e-12)

	s := SignalFrom(signals.Signal{Asset: "AAA", Direction: market.Buy, Confidence: 0.5, Reasons: []string{"a", "b"}})
	assert.Equal(t, "a; b", s.Reasons)
	assert.Equal(t, "BUY", s.Direction)
}
