package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/market"
)

const rule = "--------------------------------------------------"

// Run converts the result into the journal's backtest record. created is
// supplied by the caller so results stay free of wall-clock time.
func (r Result) Run(created time.Time, dataset string, config []byte) journal.BacktestRun {
	m := r.Metrics
	return journal.BacktestRun{
		RunID:        r.RunID,
		Created:      created,
		Status:       string(r.Status),
		Timeframe:    market.FormatTimeframe(r.Timeframe),
		Dataset:      dataset,
		Assets:       r.Assets,
		Config:       config,
		Start:        r.Start,
		End:          r.End,
		Trades:       m.Trades,
		Wins:         m.Wins,
		Losses:       m.Losses,
		StartBalance: r.InitialCapital,
		EndBalance:   r.Final.Balance,
		NetPnL:       m.NetPnL,
		ReturnPct:    m.ReturnPct,
		WinRate:      m.WinRate / 100,
		ProfitFactor: m.ProfitFactor,
		MaxDDPct:     m.MaxDrawdownPct,
		Sharpe:       m.Sharpe,
		Sortino:      m.Sortino,
		Notes:        r.Notes(),
	}
}

// Notes lists observations worth a second look in the report.
func (r Result) Notes() []string {
	var notes []string
	if r.Status == StatusAborted {
		notes = append(notes, fmt.Sprintf("run aborted after %d bars; metrics cover the partial curve", r.Bars))
	}
	if r.Metrics.Trades == 0 {
		notes = append(notes, "no trades were opened")
	}
	var rejected int
	for _, e := range r.Log {
		if e.Event == EventRejected {
			rejected++
		}
	}
	if rejected > 0 {
		notes = append(notes, fmt.Sprintf("%d signals were rejected by risk checks", rejected))
	}
	return notes
}

func formatPF(pf float64) string {
	switch {
	case pf == ProfitFactorNoLosses:
		return "no losses"
	case pf == 0:
		return "n/a"
	}
	return fmt.Sprintf("%.2f", pf)
}

// PrintReport writes a plain-text summary of the run.
func PrintReport(w io.Writer, r Result) {
	m := r.Metrics

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Status:        %s\n", r.Status)
	fmt.Fprintf(w, "Assets:        %v\n", r.Assets)
	fmt.Fprintf(w, "Timeframe:     %s\n", market.FormatTimeframe(r.Timeframe))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Bars:          %d\n", r.Bars)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Trades:        %d\n", m.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", m.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", m.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", m.WinRate)
	fmt.Fprintf(w, "Profit Factor: %s\n", formatPF(m.ProfitFactor))
	fmt.Fprintf(w, "Avg Win:       %.2f\n", m.AvgWin)
	fmt.Fprintf(w, "Avg Loss:      %.2f\n", m.AvgLoss)
	fmt.Fprintf(w, "Largest Win:   %.2f\n", m.LargestWin)
	fmt.Fprintf(w, "Largest Loss:  %.2f\n", m.LargestLoss)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Start Balance: %.2f\n", r.InitialCapital)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.Final.Balance)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", m.NetPnL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", m.ReturnPct)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%% (%.2f)\n", m.MaxDrawdownPct, m.MaxDrawdown)
	fmt.Fprintf(w, "Recovery Bars: %d\n", m.RecoveryBars)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", m.Sharpe)
	fmt.Fprintf(w, "Sortino:       %.2f\n", m.Sortino)

	printSegments(w, "By Regime", r.Segments.Regime)
	printSegments(w, "By Session", r.Segments.Session)
	printSegments(w, "By Volatility", r.Segments.Volatility)
	printSegments(w, "By Asset", r.Segments.Asset)

	if notes := r.Notes(); len(notes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Observations")
		fmt.Fprintln(w, rule)
		for _, note := range notes {
			fmt.Fprintf(w, "- %s\n", note)
		}
	}

	fmt.Fprintln(w)
}

func printSegments(w io.Writer, title string, segs []Segment) {
	if len(segs) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-12s %6s %6s %10s %8s %10s\n", "", "Trades", "Wins", "Net P/L", "Win %", "PF")
	for _, s := range segs {
		fmt.Fprintf(w, "%-12s %6d %6d %10.2f %7.2f%% %10s\n",
			s.Name, s.Trades, s.Wins, s.NetPnL, s.WinRate, formatPF(s.ProfitFactor))
	}
}

// PrintLog writes the trade log, one event per line.
func PrintLog(w io.Writer, log []LogEntry) {
	for _, e := range log {
		switch e.Event {
		case EventRejected:
			fmt.Fprintf(w, "%s %-8s %-8s %-4s %-20s %s\n",
				e.Time.Format(time.RFC3339), e.Event, e.Asset, e.Direction, e.Code, e.Reason)
		case EventClosed:
			fmt.Fprintf(w, "%s %-8s %-8s %-4s %s @ %.5f pnl=%.2f %s\n",
				e.Time.Format(time.RFC3339), e.Event, e.Asset, e.Direction, e.PositionID, e.Price, e.PnL, e.Reason)
		default:
			fmt.Fprintf(w, "%s %-8s %-8s %-4s %s @ %.5f size=%v\n",
				e.Time.Format(time.RFC3339), e.Event, e.Asset, e.Direction, e.PositionID, e.Price, e.Size)
		}
	}
}
