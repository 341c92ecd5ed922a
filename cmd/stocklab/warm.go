package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/engine"
)

func runWarm(cmd *cobra.Command, args []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	defer d.close()

	strategies := d.cfg.Warm.Strategies
	if path, _ := cmd.Flags().GetString("strategy"); path != "" {
		strat, err := loadStrategy(path)
		if err != nil {
			return err
		}
		strategies = []domain.Strategy{*strat}
	}
	if len(strategies) == 0 {
		return fmt.Errorf("no strategies to warm: configure warm.strategies or pass --strategy")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	warmer := engine.NewWarmer(d.engine, d.store, d.log)
	return warmer.Warm(ctx, strategies)
}
