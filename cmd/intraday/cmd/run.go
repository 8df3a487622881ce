package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/intraday/botstate"
	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/feed"
	"github.com/rustyeddy/intraday/internal/id"
	"github.com/rustyeddy/intraday/internal/logger"
	"github.com/rustyeddy/intraday/journal"
	"github.com/rustyeddy/intraday/ledger"
	"github.com/rustyeddy/intraday/live"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signals"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the paper-trading loop",
	Long: `Run scores every enabled asset on a fixed interval, sizes the signals
together and books accepted orders in a paper ledger. Bars are read from
a directory of <ASSET>_<TF>.csv files that another process keeps current.

With --listen the loop serves /metrics for Prometheus and a small control
API: GET /status, POST /start and POST /pause.

Example:
  intraday run --config intraday.yaml --data ./data --listen :9090`,
	RunE: runRun,
}

var (
	runDataDir  string
	runListen   string
	runDBPath   string
	runPaused   bool
	runOnce     bool
	runParallel int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runDataDir, "data", "d", "", "directory of <ASSET>_<TF>.csv files (required)")
	runCmd.Flags().StringVar(&runListen, "listen", "", "address for /metrics and the control API (default: live.metrics_addr)")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "SQLite journal path (overrides the config journal)")
	runCmd.Flags().BoolVar(&runPaused, "paused", false, "start paused; resume with POST /start")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
	runCmd.Flags().IntVar(&runParallel, "parallel", 4, "concurrent bar fetches per cycle")

	runCmd.MarkFlagRequired("data")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Component("live")

	interval, err := cfg.LiveInterval()
	if err != nil {
		return err
	}
	tf, err := market.ParseTimeframe(cfg.Live.Timeframe)
	if err != nil {
		return err
	}
	var slowTF time.Duration
	if cfg.Scorer.MTF.Enabled {
		if slowTF, err = market.ParseTimeframe(cfg.Scorer.MTF.Timeframe); err != nil {
			return fmt.Errorf("scorer.mtf.timeframe: %w", err)
		}
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	sizer, err := risk.NewSizer(policy, cfg.Instruments(),
		risk.WithAssetLimits(cfg.AssetLimits()), risk.WithLogger(logger.Component("sizer")))
	if err != nil {
		return err
	}

	assets := cfg.EnabledAssets()
	overrides := cfg.Overrides()
	scorers := make(map[string]*signals.Scorer, len(assets))
	for _, a := range assets {
		sc, err := signals.NewScorer(cfg.Scorer.ForAsset(overrides[a]),
			signals.WithLogger(logger.Component("scorer")))
		if err != nil {
			return fmt.Errorf("scorer %s: %w", a, err)
		}
		scorers[a] = sc
	}

	j, db, err := openJournal(cfg.Journal, runDBPath, log)
	if err != nil {
		return err
	}
	defer j.Close()
	runID := "live-" + id.New()
	j = journal.WithRunID(j, runID)

	state := botstate.New(!(runPaused || cfg.Live.StartPaused))
	opts := []ledger.Option{
		ledger.WithState(state),
		ledger.WithJournal(j),
		ledger.WithIDs(id.ULID{}),
		ledger.WithInstruments(cfg.Instruments()),
		ledger.WithLogger(logger.Component("ledger")),
	}
	if db != nil {
		opts = append(opts, ledger.WithArchive(db))
	}
	led, err := ledger.New(policy,
		broker.Account{Balance: cfg.Account.Balance, Available: cfg.Account.Balance}, opts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	provider := feed.NewCSVProvider(runDataDir)
	provider.MaxAge = interval

	loop := &live.Loop{
		Interval:      interval,
		Assets:        assets,
		Timeframe:     tf,
		SlowTimeframe: slowTF,
		History:       cfg.Live.History,
		Parallel:      runParallel,
		Bars:          provider,
		Scorers:       scorers,
		Sizer:         sizer,
		Ledger:        led,
		State:         state,
		Journal:       j,
		Metrics:       live.NewMetrics(reg),
		Log:           log,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if runOnce {
		rep, err := loop.Cycle(ctx)
		if err != nil {
			return err
		}
		printCycle(cmd, rep)
		printLedger(cmd, led)
		return nil
	}

	addr := runListen
	if addr == "" {
		addr = cfg.Live.MetricsAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := loop.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", live.Handler(reg))
		mux.Handle("/", live.ControlHandler(state, led))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("http listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	fmt.Fprintf(out, "Paper trading %v every %s on %s bars (run %s)\n",
		assets, interval, market.FormatTimeframe(tf), runID)
	err = g.Wait()
	printLedger(cmd, led)
	return err
}

func printCycle(cmd *cobra.Command, rep live.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cycle at %s (in hours: %v)\n", rep.Time.Format(time.RFC3339), rep.InHours)
	if rep.Skipped != "" {
		fmt.Fprintf(out, "  skipped: %s\n", rep.Skipped)
	}
	for _, s := range rep.Signals {
		fmt.Fprintf(out, "  %-6s %-4s conf %.2f score %+d price %.4f\n",
			s.Asset, s.Direction, s.Confidence, s.Score, s.Price)
	}
	for _, p := range rep.Opened {
		fmt.Fprintf(out, "  opened %s %s %s size %.4f @ %.4f\n", p.ID, p.Asset, p.Direction, p.Size, p.Entry)
	}
	for _, p := range rep.Closed {
		fmt.Fprintf(out, "  closed %s %s %s pnl %.2f\n", p.ID, p.Asset, p.ExitReason, p.RealizedPnL)
	}
	for _, r := range rep.Rejected {
		fmt.Fprintf(out, "  rejected %s: %s\n", r.Signal.Asset, r.Decision.Reason())
	}
	for _, err := range rep.Errors {
		fmt.Fprintf(out, "  error: %v\n", err)
	}
}

func printLedger(cmd *cobra.Command, led *ledger.Ledger) {
	snap := led.Snapshot()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nBalance: %.2f  Equity: %.2f  Margin used: %.2f  Open: %d\n",
		snap.Account.Balance, snap.Equity, snap.Account.MarginUsed, len(snap.Positions))
	for _, p := range snap.Positions {
		fmt.Fprintf(out, "  %s %-6s %-4s size %.4f entry %.4f sl %.4f tp %.4f\n",
			p.ID, p.Asset, p.Direction, p.Size, p.Entry, p.StopLoss, p.TakeProfit)
	}
}
