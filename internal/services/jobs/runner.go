// Package jobs runs the sync passes under named leases and schedules the
// full pipeline.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/odoostore/internal/lock"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/promotion"
	"github.com/xelth-com/odoostore/internal/services/staging"
	"go.uber.org/zap"
)

// Lease names, one per pass
const (
	JobFetch      = "fetch"
	JobCategories = "import-categories"
	JobProducts   = "import-products"
	JobPromotions = "import-promotions"
	JobDedupe     = "dedupe-promotions"
	JobStockPush  = "stock-push"
	JobPipeline   = "pipeline"
)

// DefaultLeaseTTL bounds how long a crashed run can block its pass. A live
// run renews its lease every third of the TTL, so long passes keep it.
const DefaultLeaseTTL = 30 * time.Minute

// ErrPushDisabled is returned when no Odoo pusher is configured
var ErrPushDisabled = errors.New("stock push is not configured")

// Fetcher mirrors Odoo collections
type Fetcher interface {
	FetchFromOdoo(ctx context.Context, dataTypes []string, opts staging.FetchOptions) (*models.SyncLog, error)
}

// CatalogImporter imports staged categories and products
type CatalogImporter interface {
	ImportCategories(ctx context.Context, ids []int64) (*models.ImportResult, error)
	ImportProducts(ctx context.Context, ids []int64) (*models.ImportResult, error)
}

// PromotionImporter imports and merges promotions
type PromotionImporter interface {
	ImportPromotions(ctx context.Context, itemIDs []int64) (*promotion.Result, error)
	DeduplicatePromotions(ctx context.Context) (*promotion.DedupeResult, error)
}

// StockPusher books pending stock in Odoo
type StockPusher interface {
	PushPending(ctx context.Context) (*models.StockPushSession, error)
}

// Runner executes passes; each pass holds its lease while it runs
type Runner struct {
	fetcher    Fetcher
	catalog    CatalogImporter
	promotions PromotionImporter
	pusher     StockPusher // nil disables stock push
	locker     lock.Locker
	leaseTTL   time.Duration
	log        *zap.Logger
}

// NewRunner wires the passes together
func NewRunner(fetcher Fetcher, catalog CatalogImporter, promotions PromotionImporter, pusher StockPusher, locker lock.Locker, log *zap.Logger) *Runner {
	return &Runner{
		fetcher:    fetcher,
		catalog:    catalog,
		promotions: promotions,
		pusher:     pusher,
		locker:     locker,
		leaseTTL:   DefaultLeaseTTL,
		log:        log.Named("jobs"),
	}
}

func withLease[T any](ctx context.Context, r *Runner, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	lease, err := r.locker.Acquire(ctx, name, r.leaseTTL)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewed := make(chan struct{})
	go r.renew(renewCtx, lease, name, renewed)
	defer func() {
		stopRenew()
		<-renewed
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("failed to release lease", zap.String("job", name), zap.Error(err))
		}
	}()

	started := time.Now()
	out, err := fn(ctx)
	fields := []zap.Field{zap.String("job", name), zap.Duration("elapsed", time.Since(started))}
	if err != nil {
		r.log.Error("job failed", append(fields, zap.Error(err))...)
		return out, err
	}
	r.log.Info("job finished", fields...)
	return out, nil
}

// renew extends the lease until ctx is cancelled or the lease is lost
func (r *Runner) renew(ctx context.Context, lease lock.Lease, name string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := lease.Extend(ctx, r.leaseTTL)
		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, lock.ErrLeaseLost):
			r.log.Error("lease lost while the job is running", zap.String("job", name))
			return
		default:
			r.log.Warn("failed to extend lease", zap.String("job", name), zap.Error(err))
		}
	}
}

// Fetch mirrors the given collections, or all when empty
func (r *Runner) Fetch(ctx context.Context, dataTypes []string, opts staging.FetchOptions) (*models.SyncLog, error) {
	return withLease(ctx, r, JobFetch, func(ctx context.Context) (*models.SyncLog, error) {
		return r.fetcher.FetchFromOdoo(ctx, dataTypes, opts)
	})
}

// ImportCategories imports staged categories
func (r *Runner) ImportCategories(ctx context.Context, ids []int64) (*models.ImportResult, error) {
	return withLease(ctx, r, JobCategories, func(ctx context.Context) (*models.ImportResult, error) {
		return r.catalog.ImportCategories(ctx, ids)
	})
}

// ImportProducts imports staged products
func (r *Runner) ImportProducts(ctx context.Context, ids []int64) (*models.ImportResult, error) {
	return withLease(ctx, r, JobProducts, func(ctx context.Context) (*models.ImportResult, error) {
		return r.catalog.ImportProducts(ctx, ids)
	})
}

// ImportPromotions imports staged pricelist items
func (r *Runner) ImportPromotions(ctx context.Context, itemIDs []int64) (*promotion.Result, error) {
	return withLease(ctx, r, JobPromotions, func(ctx context.Context) (*promotion.Result, error) {
		return r.promotions.ImportPromotions(ctx, itemIDs)
	})
}

// DeduplicatePromotions merges duplicate promotions
func (r *Runner) DeduplicatePromotions(ctx context.Context) (*promotion.DedupeResult, error) {
	return withLease(ctx, r, JobDedupe, func(ctx context.Context) (*promotion.DedupeResult, error) {
		return r.promotions.DeduplicatePromotions(ctx)
	})
}

// PushStock books pending stock; nil session means nothing was pending
func (r *Runner) PushStock(ctx context.Context) (*models.StockPushSession, error) {
	if r.pusher == nil {
		return nil, ErrPushDisabled
	}
	return withLease(ctx, r, JobStockPush, func(ctx context.Context) (*models.StockPushSession, error) {
		return r.pusher.PushPending(ctx)
	})
}

// RunPipeline runs fetch, imports, dedupe and stock push in order. A failing
// step is logged and the remaining steps still run on what is staged.
func (r *Runner) RunPipeline(ctx context.Context, incremental bool) error {
	_, err := withLease(ctx, r, JobPipeline, func(ctx context.Context) (struct{}, error) {
		var errs []error
		step := func(err error) {
			if err != nil {
				errs = append(errs, err)
			}
		}

		_, err := r.Fetch(ctx, nil, staging.FetchOptions{Incremental: incremental})
		step(err)
		_, err = r.ImportCategories(ctx, nil)
		step(err)
		_, err = r.ImportProducts(ctx, nil)
		step(err)
		_, err = r.ImportPromotions(ctx, nil)
		step(err)
		_, err = r.DeduplicatePromotions(ctx)
		step(err)
		if r.pusher != nil {
			_, err = r.PushStock(ctx)
			step(err)
		}
		return struct{}{}, errors.Join(errs...)
	})
	return err
}
