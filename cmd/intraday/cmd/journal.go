package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display records from the SQLite journal.

Subcommands:
  trade  - Get details of a specific trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day
  run    - Show a stored backtest run and its trades

Examples:
  intraday journal trade 01HQ...
  intraday journal day 2024-01-15
  intraday journal run 01HQ... --trades`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a stored backtest run as Org",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var (
	journalDBPath string
	journalTrades bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalRunCmd)

	journalCmd.PersistentFlags().StringVar(&journalDBPath, "db", "", "path to SQLite journal DB (default: journal.db_path)")
	journalRunCmd.Flags().BoolVar(&journalTrades, "trades", false, "also list the run's trades")
}

func openJournalDB() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, fmt.Errorf("no journal database: set --db or journal.db_path")
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return listDay(cmd, time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(cmd, args[0])
}

func listDay(cmd *cobra.Command, day string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, journal.FormatTradesOrg(recs))
	printSummary(cmd, journal.Summarize(recs))
	return nil
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	run, err := j.GetBacktestRun(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	out := cmd.OutOrStdout()
	if err := run.WriteOrg(out); err != nil {
		return err
	}
	if !journalTrades {
		return nil
	}
	recs, err := j.ListTradesByRun(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	fmt.Fprintln(out, journal.FormatTradesOrg(recs))
	printSummary(cmd, journal.Summarize(recs))
	return nil
}

func printSummary(cmd *cobra.Command, s journal.Summary) {
	pf := fmt.Sprintf("%.2f", s.ProfitFactor)
	if s.ProfitFactor < 0 {
		pf = "no losses"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Trades: %d  Wins: %d  Losses: %d  Net: %.2f  PF: %s\n",
		s.Trades, s.Wins, s.Losses, s.NetPnL, pf)
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
