package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/blueflow/internal/adapters/file"
	"github.com/aretw0/blueflow/internal/adapters/memory"
	"github.com/aretw0/blueflow/internal/adapters/redis"
	"github.com/aretw0/blueflow/internal/adapters/sqlstore"
	"github.com/aretw0/blueflow/internal/config"
	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/flow"
	"github.com/aretw0/blueflow/pkg/flowdef"
	"github.com/aretw0/blueflow/pkg/moderation"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/registry"
	"github.com/aretw0/blueflow/pkg/states"
)

// memoryDSN selects the in-process store, which loses everything on exit.
const memoryDSN = "memory://"

// app owns the flow and every resource that must be closed on shutdown.
type app struct {
	flow    *flow.Flow
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// build wires the flow from the configuration. On error every resource
// opened so far is released.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger, hooks domain.LifecycleHooks) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	graph, err := flowdef.Load(cfg.Flow)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	if err := states.Register(reg, cfg.Behaviors...); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, a, cfg.DB)
	if err != nil {
		return nil, err
	}
	storage, err := file.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload storage: %w", err)
	}

	opts := []flow.Option{
		flow.WithLogger(logger),
		flow.WithContext(cfg.Context),
		flow.WithWorkers(cfg.Workers),
		flow.WithLifecycleHooks(hooks),
	}
	if cfg.Blocklist != "" {
		blocklist, err := moderation.LoadBlocklist(cfg.Blocklist)
		if err != nil {
			return nil, err
		}
		logger.Info("moderation enabled", "words", blocklist.Len())
		opts = append(opts, flow.WithModerator(blocklist))
	}
	if cfg.RedisAddr != "" {
		client, err := redis.Dial(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, flow.WithLocker(redis.NewLocker(client, redis.DefaultPrefix)))
	}

	a.flow, err = flow.New(graph, reg, store, storage, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, a *app, dsn string) (ports.PersistenceBackend, error) {
	if strings.HasPrefix(dsn, memoryDSN) {
		return memory.New(), nil
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{DSN: dsn})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}
