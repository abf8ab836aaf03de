package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/cache"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/guard"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/optimizer"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/queue"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// app is the wired queue core behind every command that touches the store.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store *store.Store
	cache *cache.Cache
	sync  *events.Synchronizer
	svc   *queue.Service
	opt   *optimizer.Optimizer

	rdb *redis.Client
}

// loadConfig returns the defaults when no file is given.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

// openApp loads the configuration and wires the store, cache, synchronizer,
// guard, calculator, queue service and optimizer. Callers must Close it.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	calc, err := priority.New(cfg.Scoring)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st}

	backend, err := a.cacheBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = cache.New(backend, cfg.Cache.TTL, logger.With("component", "cache"))

	a.sync, err = events.New(ctx, cfg.Events,
		events.WithLogger(logger.With("component", "events")),
		events.WithJournal(st),
		events.WithInvalidator(a.cache),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("start synchronizer: %w", err)
	}

	g := guard.New(st, cfg.Guard, guard.WithLogger(logger.With("component", "guard")))
	a.svc = queue.New(st, g, calc, a.sync,
		queue.WithCache(a.cache),
		queue.WithLogger(logger.With("component", "queue")),
		queue.WithAverageServiceMinutes(cfg.Scoring.AverageServiceMinutes),
	)

	a.opt, err = optimizer.New(a.svc, cfg.Optimizer,
		optimizer.WithLogger(logger.With("component", "optimizer")),
		optimizer.WithRescoreThreshold(cfg.Scoring.RescoreThreshold),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) cacheBackend(ctx context.Context) (cache.Backend, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := cache.DialRedis(dialCtx, a.cfg.Cache.Redis)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		return cache.NewRedis(rdb, "queuecore:"), nil
	default:
		return cache.NewMemory(time.Now), nil
	}
}

// Close releases the redis client and the store.
func (a *app) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
