// Package app wires the store, view cache and workflow services from a Config.
// Both binaries build their runtime through it.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/internal/config"
	"github.com/celerix-dev/celerix-enrich/internal/insights"
	"github.com/celerix-dev/celerix-enrich/internal/records"
	"github.com/celerix-dev/celerix-enrich/internal/review"
	"github.com/celerix-dev/celerix-enrich/internal/triage"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/sdk"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  sdk.Backend
	Cache  cache.ViewCache
	Rules  *resolution.Rules

	Triage   *triage.Queue
	Insights *insights.Service
	Records  *records.Service
	Review   review.Deps

	closers []func() error
}

// NewCache builds the view cache selected by cfg.Cache.Driver. A redis cache
// that cannot be reached falls back to memory.
func NewCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.ViewCache, func() error) {
	switch cfg.Cache.Driver {
	case "none":
		return cache.Nop{}, nil
	case "redis":
		r := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Cache.TTL)
		if err := r.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-memory view cache",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			r.Close()
			return cache.NewMemory(cfg.Cache.TTL), nil
		}
		return r, r.Close
	}
	return cache.NewMemory(cfg.Cache.TTL), nil
}

// New opens the store, seeds it when configured and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := sdk.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Store: store}
	a.closers = append(a.closers, store.Close)

	if seeded, err := sdk.Seed(ctx, store, cfg.Store.Seed); err != nil {
		a.Close()
		return nil, err
	} else if seeded {
		logger.Info("seeded store", zap.String("from", cfg.Store.Seed))
	}

	views, closeCache := NewCache(ctx, cfg, logger)
	if closeCache != nil {
		a.closers = append(a.closers, closeCache)
	}
	a.Cache = views
	a.Rules = resolution.NewRules(cfg.Rules.Sentinels...)

	a.Triage = triage.New(store,
		triage.WithRules(a.Rules),
		triage.WithCache(views),
		triage.WithLogger(logger.Named("triage")),
	)
	a.Insights = insights.New(store, a.Rules, views, logger.Named("insights"))
	a.Records = records.New(store, views, logger.Named("records"), cfg.Review.ResubmitStatus)
	a.Review = review.Deps{
		Store:          store,
		Rules:          a.Rules,
		Cache:          views,
		Logger:         logger.Named("review"),
		ResubmitStatus: cfg.Review.ResubmitStatus,
	}
	return a, nil
}

// Close releases everything New opened, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
