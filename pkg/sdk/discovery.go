package sdk

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/config"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

type embedded struct {
	*engine.MemStore
}

// Close waits for background snapshot writes.
func (e embedded) Close() error {
	e.Wait()
	return nil
}

// New opens the store selected by cfg.Store.Driver. The caller does not care
// whether it is local or remote.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Store.Driver {
	case config.DriverRemote:
		c, err := Connect(ctx, cfg.Store.Addr, WithTLS(cfg.TLS.Enabled), WithClientLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Store.Addr, err)
		}
		return c, nil

	case config.DriverSQLite, config.DriverPostgres:
		db, err := engine.OpenSQL(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}
		s := engine.NewSQLStore(db)
		if err := s.AutoMigrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
		}
		return s, nil
	}

	// Embedded mode: the same engine the daemon uses, inside this process.
	p, err := engine.NewPersistence(cfg.Store.DataDir, logger)
	if err != nil {
		return nil, err
	}
	snap, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	return embedded{engine.NewMemStore(snap, p, logger)}, nil
}

// Seed loads a JSON snapshot into dst when dst holds no records yet. It
// returns whether anything was imported.
func Seed(ctx context.Context, dst Backend, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	existing, err := dst.FetchRecords(ctx, schema.Filter{})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	snap, err := engine.ReadSnapshot(path)
	if err != nil {
		return false, fmt.Errorf("read seed %s: %w", path, err)
	}
	if err := engine.Migrate(ctx, engine.NewMemStore(snap, nil, nil), dst); err != nil {
		return false, fmt.Errorf("seed from %s: %w", path, err)
	}
	return true, nil
}
