package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  intraday config init intraday.yaml
  intraday config validate -c intraday.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. The format
follows the extension: .yaml or .yml for YAML, anything else for JSON.

Example:
  intraday config init intraday.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check that a configuration file loads and passes validation.

Example:
  intraday config validate -c intraday.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "intraday.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s exists; use --force to overwrite", path)
	}

	cfg := config.Default()
	if err := cfg.SaveToFile(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", path)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  intraday backtest -c %s --data ./data\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgPath)
	fmt.Fprintf(out, "  Account: %s (%.2f %s)\n", cfg.Account.ID, cfg.Account.Balance, cfg.Account.Currency)
	fmt.Fprintf(out, "  Assets: %s\n", strings.Join(cfg.EnabledAssets(), ", "))
	fmt.Fprintf(out, "  Allocation: %s %s, max %d positions\n",
		cfg.Risk.Allocation.Mode, cfg.Risk.Allocation.Distribution, cfg.Risk.MaxPositions)
	fmt.Fprintf(out, "  Stops: %s\n", cfg.Risk.Stops.Mode)
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Type)
	return nil
}
