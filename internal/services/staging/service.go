// Package staging mirrors Odoo models into local staging tables.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/odoo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultBatchSize is the page size of a fetch
const DefaultBatchSize = 200

// ErrUnknownCollection is returned for a collection name that is not enabled
var ErrUnknownCollection = errors.New("unknown staging collection")

// ErrNoSource is returned by fetches when no Odoo connection is configured
var ErrNoSource = errors.New("odoo is not configured")

// Source is the part of the Odoo client a fetch needs
type Source interface {
	SearchRead(ctx context.Context, model string, domain odoo.Domain, opts odoo.SearchOptions, result interface{}) error
}

// Config controls paging and optional collections
type Config struct {
	BatchSize        int
	BarcodeUnitModel string // empty disables the barcode unit mirror
}

// FetchOptions are the run-level options of FetchFromOdoo
type FetchOptions struct {
	Incremental bool
}

// FetchResult reports one collection pass
type FetchResult struct {
	Collection     string               `json:"collection"`
	Incremental    bool                 `json:"incremental"`
	Since          string               `json:"since,omitempty"`
	Pages          int                  `json:"pages"`
	Fetched        int                  `json:"fetched"`
	Written        int                  `json:"written"`
	AlreadyPresent int                  `json:"alreadyPresent"`
	Failed         int                  `json:"failed"`
	Deactivated    int64                `json:"deactivated"`
	Errors         []models.RecordError `json:"errors,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Service fetches Odoo collections into staging tables
type Service struct {
	db          *database.DB
	source      Source
	cfg         Config
	log         *zap.Logger
	collections []Collection
	byName      map[string]Collection
}

// NewService builds the collection registry for cfg. A nil source keeps the
// read side working and fails every fetch with ErrNoSource.
func NewService(db *database.DB, source Source, cfg Config, log *zap.Logger) (*Service, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cols, err := registry(db.DB, cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{
		db:          db,
		source:      source,
		cfg:         cfg,
		log:         log.Named("staging"),
		collections: cols,
		byName:      make(map[string]Collection, len(cols)),
	}
	for _, c := range cols {
		s.byName[c.Name] = c
	}
	return s, nil
}

// Collections returns the enabled collection names in fetch order
func (s *Service) Collections() []string {
	names := make([]string, len(s.collections))
	for i, c := range s.collections {
		names[i] = c.Name
	}
	return names
}

func (s *Service) collection(name string) (Collection, error) {
	c, ok := s.byName[name]
	if !ok {
		return Collection{}, fmt.Errorf("%w %q", ErrUnknownCollection, name)
	}
	return c, nil
}

// Fetch mirrors one collection. Incremental fetches request records written
// at or after the newest local write_date, oldest first, so a run that fails
// part way leaves a mark the next run can resume from. A full fetch
// deactivates rows Odoo no longer returned.
func (s *Service) Fetch(ctx context.Context, name string, incremental bool) (*FetchResult, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if s.source == nil {
		return nil, ErrNoSource
	}
	res := &FetchResult{Collection: name, Incremental: incremental}
	log := s.log.With(zap.String("collection", name))

	domain := odoo.Domain{}
	domain = append(domain, c.Domain...)
	if c.HasActive {
		domain = append(domain, odoo.Cond("active", "=", true))
	}
	order := "id"
	if incremental {
		order = "write_date, id"
		since, err := s.latestWriteDate(ctx, c)
		if err != nil {
			return res, err
		}
		// Rows at the mark itself are read again; the id upsert absorbs them
		if !since.IsZero() {
			res.Since = since.OdooString()
			domain = append(domain, odoo.Cond("write_date", ">=", res.Since))
		}
	}

	started := time.Now().UTC()
	batch := s.cfg.BatchSize
	for offset := 0; ; offset += batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var raws []json.RawMessage
		err := s.source.SearchRead(ctx, c.Model, domain, odoo.SearchOptions{
			Fields: c.Fields,
			Limit:  batch,
			Offset: offset,
			Order:  order,
		}, &raws)
		if err != nil {
			return res, fmt.Errorf("fetch %s at offset %d: %w", name, offset, err)
		}
		if len(raws) == 0 {
			break
		}
		res.Pages++
		res.Fetched += len(raws)

		out := c.write(s.db.WithContext(ctx), raws, time.Now().UTC())
		res.Written += out.Written
		res.AlreadyPresent += out.Present
		res.Failed += out.Failed
		res.Errors = append(res.Errors, out.Errors...)
		if out.Err != nil {
			return res, fmt.Errorf("store %s page at offset %d: %w", name, offset, out.Err)
		}

		if len(raws) < batch {
			break
		}
	}

	if !incremental {
		tx := s.db.WithContext(ctx).Model(c.newModel()).
			Where("last_fetched_at < ? AND is_active = ?", started, true).
			UpdateColumn("is_active", false)
		if tx.Error != nil {
			return res, fmt.Errorf("deactivate stale %s: %w", name, tx.Error)
		}
		res.Deactivated = tx.RowsAffected
	}

	log.Info("collection fetched",
		zap.Bool("incremental", incremental),
		zap.Int("fetched", res.Fetched),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed),
		zap.Int64("deactivated", res.Deactivated))
	return res, nil
}

func (s *Service) latestWriteDate(ctx context.Context, c Collection) (models.OdooTime, error) {
	var latest models.OdooTime
	row := s.db.WithContext(ctx).Model(c.newModel()).Select("MAX(write_date)").Row()
	if err := row.Scan(&latest); err != nil {
		return latest, fmt.Errorf("latest write_date of %s: %w", c.Name, err)
	}
	return latest, nil
}

// FetchFromOdoo runs one or more collection fetches inside a SyncLog.
// A failing collection does not stop its siblings; the run is then failed
// and the joined collection errors are returned with the log.
func (s *Service) FetchFromOdoo(ctx context.Context, dataTypes []string, opts FetchOptions) (*models.SyncLog, error) {
	if len(dataTypes) == 0 {
		dataTypes = s.Collections()
	}
	for _, name := range dataTypes {
		if _, err := s.collection(name); err != nil {
			return nil, err
		}
	}
	if s.source == nil {
		return nil, ErrNoSource
	}

	db := s.db.WithContext(ctx)
	entry := &models.SyncLog{
		Operation:   "fetch",
		DataTypes:   datatypes.JSONSlice[string](dataTypes),
		Incremental: opts.Incremental,
		Status:      models.SyncLogStarted,
		StartedAt:   time.Now().UTC(),
	}
	if err := db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}
	if err := db.Model(entry).UpdateColumn("status", models.SyncLogInProgress).Error; err != nil {
		return entry, fmt.Errorf("update sync log: %w", err)
	}
	entry.Status = models.SyncLogInProgress

	details := make(map[string]*FetchResult, len(dataTypes))
	var errs []error
	for _, name := range dataTypes {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, ctx.Err()))
			break
		}
		res, err := s.Fetch(ctx, name, opts.Incremental)
		if res != nil {
			entry.Total += res.Fetched
			entry.Successful += res.Written + res.AlreadyPresent
			entry.Failed += res.Failed
		}
		if err != nil {
			s.log.Error("collection fetch failed", zap.String("collection", name), zap.Error(err))
			if res == nil {
				res = &FetchResult{Collection: name}
			}
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		details[name] = res
	}

	completed := time.Now().UTC()
	entry.CompletedAt = &completed
	entry.DurationMs = completed.Sub(entry.StartedAt).Milliseconds()
	entry.Status = models.SyncLogCompleted
	runErr := errors.Join(errs...)
	if runErr != nil {
		entry.Status = models.SyncLogFailed
		entry.ErrorDetail = runErr.Error()
	}
	if raw, err := json.Marshal(details); err == nil {
		entry.Details = datatypes.JSON(raw)
	}

	// The run context may be cancelled; the log still has to be closed
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(entry).Error; err != nil {
		s.log.Error("failed to finalize sync log", zap.String("id", entry.ID.String()), zap.Error(err))
	}

	s.log.Info("fetch run finished",
		zap.String("status", string(entry.Status)),
		zap.Int("total", entry.Total),
		zap.Int("successful", entry.Successful),
		zap.Int("failed", entry.Failed),
		zap.Int64("duration_ms", entry.DurationMs))
	return entry, runErr
}

// Stats counts rows per sync status for every collection
func (s *Service) Stats(ctx context.Context) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(s.collections))
	for _, c := range s.collections {
		var rows []struct {
			SyncStatus string
			N          int64
		}
		err := s.db.WithContext(ctx).Model(c.newModel()).
			Select("sync_status, COUNT(*) AS n").
			Group("sync_status").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("stats of %s: %w", c.Name, err)
		}
		counts := map[string]int64{"total": 0}
		for _, r := range rows {
			counts[r.SyncStatus] = r.N
			counts["total"] += r.N
		}
		out[c.Name] = counts
	}
	return out, nil
}

// ListOptions page through a staging table
type ListOptions struct {
	Page   int
	Limit  int
	Status string
}

// Page is one page of staging rows
type Page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// List returns staging rows of a collection ordered by id
func (s *Service) List(ctx context.Context, name string, opts ListOptions) (*Page, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}

	q := s.db.WithContext(ctx).Model(c.newModel())
	if opts.Status != "" {
		q = q.Where("sync_status = ?", opts.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count %s: %w", name, err)
	}

	items := c.newSlice()
	if err := q.Order("id").Offset((opts.Page - 1) * opts.Limit).Limit(opts.Limit).Find(items).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	return &Page{Items: items, Total: total, Page: opts.Page, Limit: opts.Limit}, nil
}

// Logs returns fetch runs, newest first
func (s *Service) Logs(ctx context.Context, page, limit int) ([]models.SyncLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.SyncLog{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sync logs: %w", err)
	}
	var logs []models.SyncLog
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list sync logs: %w", err)
	}
	return logs, total, nil
}
