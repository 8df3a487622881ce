package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/feed"
	"github.com/rustyeddy/intraday/market"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Inspect and prepare bar files",
}

var dataListCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List assets and timeframes in a data directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDataList,
}

var dataResampleCmd = &cobra.Command{
	Use:   "resample <dir> <asset> <timeframe>",
	Short: "Write <ASSET>_<TF>.csv built from the finest file on disk",
	Long: `Resample aggregates a finer bar file into the requested timeframe and
writes it next to the source. Buckets are aligned to the epoch and an
incomplete trailing bucket is dropped.

Example:
  intraday data resample ./data GOLD 1h`,
	Args: cobra.ExactArgs(3),
	RunE: runDataResample,
}

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataListCmd)
	dataCmd.AddCommand(dataResampleCmd)
}

func runDataList(cmd *cobra.Command, args []string) error {
	p := feed.NewCSVProvider(args[0])
	assets, err := p.Assets()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, a := range assets {
		tfs, err := p.Timeframes(a)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(tfs))
		for _, tf := range tfs {
			s, err := p.Load(a, tf)
			if err != nil {
				return err
			}
			last, ok := s.Last()
			if !ok {
				names = append(names, market.FormatTimeframe(tf)+" (empty)")
				continue
			}
			names = append(names, fmt.Sprintf("%s (%d bars, %s .. %s)", market.FormatTimeframe(tf), len(s.Bars),
				s.Bars[0].Time.Format("2006-01-02 15:04"), last.Time.Format("2006-01-02 15:04")))
		}
		fmt.Fprintf(out, "%-8s %s\n", a, strings.Join(names, "; "))
	}
	return nil
}

func runDataResample(cmd *cobra.Command, args []string) error {
	dir, asset := args[0], strings.ToUpper(args[1])
	tf, err := market.ParseTimeframe(args[2])
	if err != nil {
		return err
	}
	path := filepath.Join(dir, feed.FileName(asset, tf))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	s, err := feed.NewCSVProvider(dir).Load(asset, tf)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := feed.WriteCSV(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bars to %s\n", len(s.Bars), path)
	return nil
}
