// Package catalog turns staged Odoo records into store categories, products
// and units, and repairs store data whose references went stale.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoCategoryPath is returned for a staged category without usable segments
var ErrNoCategoryPath = errors.New("category has no usable path segments")

// Config holds the import settings
type Config struct {
	// BranchLocationIDs limits stock aggregation to these Odoo locations; empty means all
	BranchLocationIDs []int64
}

// Service imports staged Odoo data into the store catalog
type Service struct {
	db  *database.DB
	cfg Config
	log *zap.Logger
}

// NewService creates the import engine
func NewService(db *database.DB, cfg Config, log *zap.Logger) *Service {
	return &Service{db: db, cfg: cfg, log: log.Named("catalog")}
}

// run is the memoisation scope of one import call
type run struct {
	categories map[pathKey]uuid.UUID
	units      map[string]models.Unit
	uoms       map[int64]string
}

type pathKey struct {
	parent uuid.UUID
	slug   string
}

func newRun() *run {
	return &run{
		categories: make(map[pathKey]uuid.UUID),
		units:      make(map[string]models.Unit),
		uoms:       make(map[int64]string),
	}
}

// markStaged records the import outcome on a staging row
func markStaged(tx *gorm.DB, model interface{}, id int64, status models.StagingStatus, importErr error, extra map[string]interface{}) error {
	cols := map[string]interface{}{
		"sync_status":         status,
		"last_import_attempt": time.Now().UTC(),
		"import_error":        "",
	}
	if importErr != nil {
		cols["import_error"] = importErr.Error()
	}
	for k, v := range extra {
		cols[k] = v
	}
	return tx.Model(model).Where("id = ?", id).UpdateColumns(cols).Error
}

func exists(tx *gorm.DB, model interface{}, id uuid.UUID) (bool, error) {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
