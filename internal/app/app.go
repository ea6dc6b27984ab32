// Package app wires the sync services from configuration.
package app

import (
	"fmt"

	"github.com/xelth-com/odoostore/internal/config"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/handlers"
	"github.com/xelth-com/odoostore/internal/lock"
	"github.com/xelth-com/odoostore/internal/services/catalog"
	"github.com/xelth-com/odoostore/internal/services/jobs"
	"github.com/xelth-com/odoostore/internal/services/odoo"
	"github.com/xelth-com/odoostore/internal/services/promotion"
	"github.com/xelth-com/odoostore/internal/services/staging"
	"github.com/xelth-com/odoostore/internal/services/stockpush"
	"go.uber.org/zap"
)

// App holds the wired services
type App struct {
	Client     *odoo.Client // nil when Odoo is not configured
	Staging    *staging.Service
	Catalog    *catalog.Service
	Promotions *promotion.Service
	StockPush  *stockpush.Service // nil when stock push is not configured
	Runner     *jobs.Runner

	redis *lock.RedisLocker
}

// New builds every service on top of an open database
func New(cfg *config.Config, db *database.DB, log *zap.Logger) (*App, error) {
	a := &App{}

	var source staging.Source
	if cfg.Odoo.Enabled() {
		a.Client = odoo.NewClient(odoo.ConfigFrom(cfg.Odoo), log)
		source = a.Client
	} else {
		log.Info("Odoo sync disabled: ODOO_URL or ODOO_DB not configured")
	}

	var err error
	a.Staging, err = staging.NewService(db, source, staging.Config{
		BatchSize:        cfg.Odoo.BatchSize,
		BarcodeUnitModel: cfg.Odoo.BarcodeUnitModel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build staging collections: %w", err)
	}
	a.Catalog = catalog.NewService(db, catalog.Config{BranchLocationIDs: cfg.Odoo.BranchLocationIDs}, log)
	a.Promotions = promotion.NewService(db, a.Catalog, log)

	var pusher jobs.StockPusher
	if a.Client != nil && cfg.Odoo.PushEnabled() {
		a.StockPush = stockpush.NewService(db, a.Client, stockpush.Config{
			Mode:                 cfg.Odoo.PushMode,
			StockLocationID:      cfg.Odoo.StockLocationID,
			AdjustmentLocationID: cfg.Odoo.AdjustmentLocationID,
			PickingTypeID:        cfg.Odoo.PickingTypeID,
		}, log)
		pusher = a.StockPush
	} else {
		log.Info("stock push disabled: push locations not configured")
	}

	// Run leases are shared through Redis when configured
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisURL != "" {
		a.redis, err = lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		locker = a.redis
		log.Info("using Redis run leases")
	}

	a.Runner = jobs.NewRunner(a.Staging, a.Catalog, a.Promotions, pusher, locker, log)
	return a, nil
}

// Handlers returns the HTTP dependencies with unset services left nil
func (a *App) Handlers(jwtSecret string) handlers.Deps {
	deps := handlers.Deps{
		Jobs:      a.Runner,
		Staging:   a.Staging,
		JWTSecret: jwtSecret,
	}
	if a.Client != nil {
		deps.Odoo = a.Client
	}
	if a.StockPush != nil {
		deps.Sessions = a.StockPush
	}
	return deps
}

// Close releases the Redis connection
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
