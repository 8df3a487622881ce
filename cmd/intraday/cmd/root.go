package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/config"
	"github.com/rustyeddy/intraday/internal/logger"
	"github.com/rustyeddy/intraday/journal"
)

var rootCmd = &cobra.Command{
	Use:   "intraday",
	Short: "Multi-asset intraday signal, risk and backtest engine",
	Long: `Intraday scores OHLCV bars with a weighted indicator vote, sizes orders
under a margin-based risk policy and tracks positions in a ledger.

It provides tools for:
  - Deterministic bar-by-bar backtests with metrics and segment reports
  - A scheduled paper-trading loop with Prometheus metrics
  - A SQLite or CSV journal of trades, equity and signals

Most commands read a YAML or JSON config file; generate one with
"intraday config init".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envPath); err != nil {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
		if logLevel == "" {
			logLevel = os.Getenv(config.EnvLogLevel)
		}
		logger.Init("intraday", logLevel, logFormat, os.Stderr)
		return nil
	},
}

var (
	cfgPath   string
	envPath   string
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")
}

// loadConfig reads --config, or the defaults with environment overrides,
// and re-initializes the logger from its log section.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if cfgPath == "" {
		cfg = config.Default()
		cfg.ApplyEnv(os.LookupEnv)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("default config: %w", err)
		}
	} else {
		var err error
		if cfg, err = config.LoadFromFile(cfgPath); err != nil {
			return nil, err
		}
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Log.Format
	if rootCmd.PersistentFlags().Changed("log-format") {
		format = logFormat
	}
	logger.Init("intraday", level, format, os.Stderr)
	return cfg, nil
}

// openJournal opens the journal named by the config. dbPath overrides the
// configured SQLite path. The *journal.SQLite is returned separately when
// it backs the journal so backtest runs can be stored.
func openJournal(jc config.JournalConfig, dbPath string, log *slog.Logger) (journal.Journal, *journal.SQLite, error) {
	if dbPath != "" {
		jc.Type, jc.DBPath = "sqlite", dbPath
	}
	switch jc.Type {
	case "sqlite":
		db, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal %s: %w", jc.DBPath, err)
		}
		log.Info("journal opened", "type", "sqlite", "path", jc.DBPath)
		return db, db, nil
	case "csv":
		j, err := journal.NewCSV(jc.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal %s: %w", jc.Dir, err)
		}
		log.Info("journal opened", "type", "csv", "dir", jc.Dir)
		return j, nil, nil
	default:
		return journal.Nop{}, nil, nil
	}
}
