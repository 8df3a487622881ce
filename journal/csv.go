package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	tradeHeader  = []string{"trade_id", "run_id", "asset", "direction", "size", "entry_price", "exit_price", "stop_loss", "take_profit", "margin", "open_time", "close_time", "realized_pnl", "reason"}
	equityHeader = []string{"run_id", "time", "balance", "equity", "margin_used", "available", "open_positions"}
	signalHeader = []string{"run_id", "time", "asset", "direction", "confidence", "score", "price", "reasons"}
)

// CSV writes trades.csv, equity.csv and signals.csv into a directory.
type CSV struct {
	mu      sync.Mutex
	trades  *csv.Writer
	equity  *csv.Writer
	signals *csv.Writer
	files   []*os.File
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j := &CSV{}
	var err error
	if j.trades, err = j.create(filepath.Join(dir, "trades.csv"), tradeHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	if j.equity, err = j.create(filepath.Join(dir, "equity.csv"), equityHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	if j.signals, err = j.create(filepath.Join(dir, "signals.csv"), signalHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSV) create(path string, header []string) (*csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	j.files = append(j.files, f)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	return w, w.Error()
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	return j.write(j.trades, []string{
		t.TradeID,
		t.RunID,
		t.Asset,
		t.Direction,
		f(t.Size),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.StopLoss),
		f(t.TakeProfit),
		f(t.Margin),
		t.OpenTime.Format(time.RFC3339),
		t.CloseTime.Format(time.RFC3339),
		f(t.RealizedPnL),
		t.Reason,
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return j.write(j.equity, []string{
		e.RunID,
		e.Time.Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.Available),
		strconv.Itoa(e.OpenPositions),
	})
}

func (j *CSV) RecordSignal(s SignalRecord) error {
	return j.write(j.signals, []string{
		s.RunID,
		s.Time.Format(time.RFC3339),
		s.Asset,
		s.Direction,
		f(s.Confidence),
		strconv.Itoa(s.Score),
		f(s.Price),
		s.Reasons,
	})
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for _, w := range []*csv.Writer{j.trades, j.equity, j.signals} {
		if w == nil {
			continue
		}
		w.Flush()
		errs = append(errs, w.Error())
	}
	for _, fh := range j.files {
		errs = append(errs, fh.Close())
	}
	j.files = nil
	return errors.Join(errs...)
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
