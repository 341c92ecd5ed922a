package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crucial-sub/stocklab/internal/engine"
)

func runBacktest(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("strategy")
	if path == "" {
		return cmd.Help()
	}
	noPersist, _ := cmd.Flags().GetBool("no-persist")

	strat, err := loadStrategy(path)
	if err != nil {
		return err
	}

	d, err := loadDeps()
	if err != nil {
		return err
	}
	defer d.close()

	eng := d.engine
	if noPersist {
		eng = engine.New(d.loader, d.cache, d.factors, nil, d.hub, d.cfg.Detector.ThresholdPct, d.log)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	id := uuid.New().String()
	d.log.Info().Str("backtest_id", id).Str("strategy", path).Msg("running backtest")

	result, err := eng.Run(ctx, id, strat)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Statistics)
}
