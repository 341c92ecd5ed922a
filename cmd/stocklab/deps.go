package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/cache"
	"github.com/crucial-sub/stocklab/internal/config"
	"github.com/crucial-sub/stocklab/internal/dataload"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/engine"
	"github.com/crucial-sub/stocklab/internal/factors"
	"github.com/crucial-sub/stocklab/internal/persistence"
	"github.com/crucial-sub/stocklab/internal/persistence/postgres"
	"github.com/crucial-sub/stocklab/internal/stream"
)

// deps is the wired service graph shared by all subcommands.
type deps struct {
	cfg config.Config
	log zerolog.Logger

	db  *sqlx.DB
	rdb *redis.Client

	cache    *cache.Cache
	store    dataload.Store
	loader   *dataload.Loader
	factors  *factors.Engine
	hub      *stream.Hub
	sessions persistence.SessionRepo
	engine   *engine.Engine
}

// openDeps connects the databases and assembles the engine. Redis being down
// is a warning, not an error: the in-process cache tier still works.
func openDeps(cfg config.Config, log zerolog.Logger) (*deps, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).
				Msg("redis unreachable, running on the in-process cache tier only")
			rdb.Close()
			rdb = nil
		}
	}

	var cmdable redis.Cmdable
	if rdb != nil {
		cmdable = rdb
	}
	c := cache.New(cmdable, cache.Options{
		TTL:           cfg.Cache.TTL,
		LRUCapacity:   cfg.Cache.LRUCapacity,
		OpTimeout:     cfg.Cache.OpTimeout,
		DecodeWorkers: cfg.Cache.DecodeWorkers,
	}, log)

	backend, err := factors.BackendByName(cfg.Engine.Backend)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := dataload.NewPostgresStore(db, cfg.Database.QueryTimeout)
	loader := dataload.NewLoader(store, c, log)
	fe := factors.NewEngine(backend, cfg.Engine.Workers, log)
	hub := stream.NewHub(log)
	sessions := postgres.NewSessionsRepo(db, cfg.Database.QueryTimeout)

	return &deps{
		cfg:      cfg,
		log:      log,
		db:       db,
		rdb:      rdb,
		cache:    c,
		store:    store,
		loader:   loader,
		factors:  fe,
		hub:      hub,
		sessions: sessions,
		engine:   engine.New(loader, c, fe, sessions, hub, cfg.Detector.ThresholdPct, log),
	}, nil
}

func (d *deps) close() {
	if d.rdb != nil {
		d.rdb.Close()
	}
	d.db.Close()
}

// loadDeps reads the config named by --config and wires the graph.
func loadDeps() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return openDeps(cfg, newLogger(cfg.LogLevel))
}

// loadStrategy parses a strategy document from a JSON file.
func loadStrategy(path string) (*domain.Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy %s: %w", path, err)
	}
	var strat domain.Strategy
	if err := json.Unmarshal(raw, &strat); err != nil {
		return nil, fmt.Errorf("parse strategy %s: %w", path, err)
	}
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	return &strat, nil
}
