package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	appName = "stocklab"
	version = "v1.0.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Backtesting and live paper-trading engine for KR equities",
		Version: version,
		Long: `stocklab runs factor-driven strategy backtests over the Korean equity
universe and can paper-trade the same strategies against the KIS open API.

Run 'stocklab serve' to expose the HTTP API, or use the subcommands for
one-shot operation.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (defaults + env when empty)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Serves backtest submission, progress streaming (SSE/WS), the factor catalogue and /metrics",
		RunE:  runServe,
	}

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run one backtest from a strategy file",
		Long:  "Executes a single backtest synchronously and prints the statistics as JSON",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("strategy", "", "Path to strategy JSON file (required)")
	backtestCmd.Flags().Bool("no-persist", false, "Skip writing the session and result to the database")

	warmCmd := &cobra.Command{
		Use:   "warm",
		Short: "Precompute factor tables into the cache",
		Long:  "Computes the trailing-year factor tables for the configured strategies so later runs start warm",
		RunE:  runWarm,
	}
	warmCmd.Flags().String("strategy", "", "Warm a single strategy JSON file instead of the configured set")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "Run the live paper-trading scheduler",
		Long:  "Schedules 07:00 KST selection and 09:00 KST execution for the configured strategy",
		RunE:  runLive,
	}
	liveCmd.Flags().Bool("select-now", false, "Run one selection pass immediately and exit")
	liveCmd.Flags().Bool("execute-now", false, "Run one execution pass immediately and exit")

	rootCmd.AddCommand(serveCmd, backtestCmd, warmCmd, liveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}
