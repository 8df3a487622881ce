package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/intraday/backtest"
	"github.com/rustyeddy/intraday/feed"
	"github.com/rustyeddy/intraday/internal/id"
	"github.com/rustyeddy/intraday/internal/logger"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/market"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through the scorer, sizer and ledger",
	Long: `Backtest replays a directory of <ASSET>_<TF>.csv bar files one bar at a
time. Every bar is scored on closed data only, sized against the account
and booked in a simulated ledger. The report covers the equity curve,
the trade log, performance metrics and per regime, session and asset
segments.

Example:
  intraday backtest --config intraday.yaml --data ./data --org run.org`,
	RunE: runBacktest,
}

var (
	btDataDir   string
	btDBPath    string
	btOrgPath   string
	btCSVDir    string
	btRunID     string
	btAssets    []string
	btTimeframe string
	btFrom      string
	btTo        string
	btShowLog   bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btDataDir, "data", "d", "", "directory of <ASSET>_<TF>.csv files (required)")
	backtestCmd.Flags().StringVar(&btDBPath, "db", "", "SQLite journal path (overrides the config journal)")
	backtestCmd.Flags().StringVar(&btOrgPath, "org", "", "write an Org-mode summary to this file")
	backtestCmd.Flags().StringVar(&btCSVDir, "csv", "", "write trades, equity and signals as CSV into this directory")
	backtestCmd.Flags().StringVar(&btRunID, "run-id", "", "run identifier (default: a new ULID)")
	backtestCmd.Flags().StringSliceVarP(&btAssets, "assets", "a", nil, "assets to replay (default: enabled assets from the config)")
	backtestCmd.Flags().StringVarP(&btTimeframe, "timeframe", "t", "", "bar timeframe such as 5m or 1h (default: backtest.timeframe)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "first bar time, RFC3339 or YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "bars before this time only, RFC3339 or YYYY-MM-DD")
	backtestCmd.Flags().BoolVar(&btShowLog, "log", false, "print the full trade log")

	backtestCmd.MarkFlagRequired("data")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Component("backtest")

	tfName := cfg.Backtest.Timeframe
	if btTimeframe != "" {
		tfName = btTimeframe
	}
	tf, err := market.ParseTimeframe(tfName)
	if err != nil {
		return err
	}
	from, err := parseBound(btFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(btTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	assets := cfg.EnabledAssets()
	if len(btAssets) > 0 {
		assets = btAssets
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	provider := feed.NewCSVProvider(btDataDir)
	series := make(map[string]market.Series, len(assets))
	for _, a := range assets {
		s, err := provider.Bars(ctx, strings.ToUpper(a), tf, 0)
		if err != nil {
			return err
		}
		s = between(s, from, to)
		log.Info("bars loaded", "asset", s.Asset, "bars", len(s.Bars), "timeframe", market.FormatTimeframe(tf))
		series[s.Asset] = s
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	runID := btRunID
	if runID == "" {
		runID = id.New()
	}
	opts, err := cfg.BacktestOptions(runID)
	if err != nil {
		return err
	}

	j, db, err := openJournal(cfg.Journal, btDBPath, log)
	if err != nil {
		return err
	}
	defer j.Close()
	if btCSVDir != "" {
		csvj, err := journal.NewCSV(btCSVDir)
		if err != nil {
			return fmt.Errorf("open csv journal: %w", err)
		}
		defer csvj.Close()
		j = journal.Multi(j, csvj)
	}

	sim := backtest.New(backtest.WithJournal(j), backtest.WithLogger(log))
	res, runErr := sim.Run(ctx, backtest.Request{
		Assets:         series,
		InitialCapital: cfg.Account.Balance,
		Policy:         policy,
		Scorer:         cfg.Scorer,
		Overrides:      cfg.Overrides(),
		Instruments:    cfg.Instruments(),
		Limits:         cfg.AssetLimits(),
		Options:        opts,
	})
	if runErr != nil && res.Status != backtest.StatusAborted {
		return runErr
	}

	out := cmd.OutOrStdout()
	backtest.PrintReport(out, res)
	if btShowLog {
		fmt.Fprintln(out)
		backtest.PrintLog(out, res.Log)
	}

	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	record := res.Run(time.Now().UTC(), btDataDir, cfgYAML)
	if db != nil {
		// The run context may be cancelled already; the record is still kept.
		if err := db.RecordBacktest(context.Background(), record); err != nil {
			return fmt.Errorf("record backtest: %w", err)
		}
		fmt.Fprintf(out, "\nRun %s saved to %s\n", record.RunID, dbPathOf(cfg.Journal.DBPath))
	}
	if btOrgPath != "" {
		if err := record.WriteOrgFile(btOrgPath); err != nil {
			return fmt.Errorf("write org: %w", err)
		}
		fmt.Fprintf(out, "Org report written to %s\n", btOrgPath)
	}
	return runErr
}

func dbPathOf(configured string) string {
	if btDBPath != "" {
		return btDBPath
	}
	return configured
}

// parseBound accepts RFC3339 or a bare date in UTC. Empty means unbounded.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("want RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

// between keeps bars with from <= time < to. Zero bounds are open.
func between(s market.Series, from, to time.Time) market.Series {
	out := s
	out.Bars = nil
	for _, b := range s.Bars {
		if !from.IsZero() && b.Time.Before(from) {
			continue
		}
		if !to.IsZero() && !b.Time.Before(to) {
			continue
		}
		out.Bars = append(out.Bars, b)
	}
	return out
}
