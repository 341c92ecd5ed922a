package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucial-sub/stocklab/internal/engine"
	httpapi "github.com/crucial-sub/stocklab/internal/interfaces/http"
)

func runServe(cmd *cobra.Command, args []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	defer d.close()

	api := httpapi.NewAPI(d.engine, d.store, d.sessions, d.hub, d.log)
	srv := httpapi.NewServer(httpapi.ServerConfig{
		Host:        d.cfg.Server.Host,
		Port:        d.cfg.Server.Port,
		ReadTimeout: d.cfg.Server.ReadTimeout,
		IdleTimeout: d.cfg.Server.IdleTimeout,
	}, api, d.log)

	// Warm the cache in the background so the listener is up immediately.
	if len(d.cfg.Warm.Strategies) > 0 {
		warmer := engine.NewWarmer(d.engine, d.store, d.log)
		go func() {
			warmCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if err := warmer.Warm(warmCtx, d.cfg.Warm.Strategies); err != nil {
				d.log.Error().Err(err).Msg("startup cache warm failed")
			}
		}()
	}

	trader, err := startTrader(d)
	if err != nil {
		return err
	}
	if trader != nil {
		defer trader.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		d.log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
