package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crucial-sub/stocklab/internal/live"
	"github.com/crucial-sub/stocklab/internal/persistence/postgres"
)

// buildTrader wires the paper-trading adapter from the live config section.
func buildTrader(d *deps) (*live.Trader, error) {
	cfg := d.cfg.Live
	if cfg.StrategyID == "" || cfg.Strategy == "" {
		return nil, fmt.Errorf("live trading needs live.strategy_id and live.strategy_file")
	}
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccountNo == "" {
		return nil, fmt.Errorf("live trading needs KIS credentials (app key, app secret, account number)")
	}

	strat, err := loadStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	kisCfg := live.DefaultKISConfig()
	kisCfg.AppKey = cfg.AppKey
	kisCfg.AppSecret = cfg.AppSecret
	kisCfg.AccountNo = cfg.AccountNo
	if cfg.BaseURL != "" {
		kisCfg.BaseURL = cfg.BaseURL
	}
	if cfg.RateLimit > 0 {
		kisCfg.RateLimit = cfg.RateLimit
	}
	if cfg.Timeout > 0 {
		kisCfg.Timeout = cfg.Timeout
	}
	broker := live.NewKISClient(kisCfg, d.log)
	repo := postgres.NewLiveRepo(d.db, d.cfg.Database.QueryTimeout)

	return live.NewTrader(cfg.StrategyID, strat, d.store, d.loader, d.factors,
		d.cache, repo, broker, d.log)
}

// startTrader starts the cron scheduler when live trading is enabled in the
// config. Returns nil without error when it is not.
func startTrader(d *deps) (*live.Trader, error) {
	if !d.cfg.Live.Enabled {
		return nil, nil
	}
	trader, err := buildTrader(d)
	if err != nil {
		return nil, err
	}
	if err := trader.Start(); err != nil {
		return nil, err
	}
	d.log.Info().Str("strategy_id", d.cfg.Live.StrategyID).Msg("live trading scheduler started")
	return trader, nil
}

func runLive(cmd *cobra.Command, args []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	defer d.close()

	trader, err := buildTrader(d)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if selectNow, _ := cmd.Flags().GetBool("select-now"); selectNow {
		return trader.RunSelection(ctx)
	}
	if executeNow, _ := cmd.Flags().GetBool("execute-now"); executeNow {
		return trader.RunExecution(ctx)
	}

	if err := trader.Start(); err != nil {
		return err
	}
	defer trader.Stop()
	d.log.Info().Msg("live trading scheduler running, Ctrl-C to stop")
	<-ctx.Done()
	return nil
}
