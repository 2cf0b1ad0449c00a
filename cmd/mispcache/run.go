package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/config"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/extractor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one extraction run (source → snapshot + cache)",
	RunE:  runRun,
}

var (
	flagLookbackHours int
	flagJSONFile      string
	flagCacheDB       string
)

func init() {
	runCmd.Flags().IntVar(&flagLookbackHours, "hours", 0, "lookback window in hours (overrides config)")
	runCmd.Flags().StringVar(&flagJSONFile, "json-file", "", "snapshot output path (overrides config)")
	runCmd.Flags().StringVar(&flagCacheDB, "cache-db", "", "cache database path (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	// Override config with command line flags
	if flagLookbackHours > 0 {
		cfg.Extraction.HoursLookback = flagLookbackHours
	}
	if flagJSONFile != "" {
		cfg.Output.JSONFile = flagJSONFile
	}
	if flagCacheDB != "" {
		cfg.Output.CacheDB = flagCacheDB
	}

	ext := extractor.New(cfg)
	summary, err := ext.RunOnce(context.Background())
	fmt.Println(summary.String())
	if err != nil {
		return fmt.Errorf("extraction run: %w", err)
	}
	return nil
}
