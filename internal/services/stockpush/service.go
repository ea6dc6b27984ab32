// Package stockpush books store-side stock movements back into Odoo.
package stockpush

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/odoo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnresolvedProduct means no Odoo product could be found for a unit
var ErrUnresolvedProduct = errors.New("product unit has no Odoo product")

// Push modes
const (
	ModePicking = "picking"
	ModeQuant   = "quant"
)

// Pusher books quantities in Odoo; *odoo.Client satisfies it
type Pusher interface {
	CreateAndValidatePicking(ctx context.Context, req odoo.PickingRequest) (int64, error)
	AdjustQuant(ctx context.Context, productID, locationID int64, delta float64) (int64, error)
}

// Config selects how and where quantities are booked
type Config struct {
	Mode                 string // picking (default) or quant
	StockLocationID      int64
	AdjustmentLocationID int64
	PickingTypeID        int64
}

// Service pushes pending unit quantities to Odoo
type Service struct {
	db     *database.DB
	pusher Pusher
	cfg    Config
	log    *zap.Logger
}

// NewService creates the push-back service
func NewService(db *database.DB, pusher Pusher, cfg Config, log *zap.Logger) *Service {
	if cfg.Mode == "" {
		cfg.Mode = ModePicking
	}
	return &Service{db: db, pusher: pusher, cfg: cfg, log: log.Named("stockpush")}
}

// PushPending books every unit with a non-zero pending quantity. The session
// is recorded before the first push; a failing unit keeps its pending
// quantity and never stops the batch. It returns nil when nothing is pending.
func (s *Service) PushPending(ctx context.Context) (*models.StockPushSession, error) {
	db := s.db.WithContext(ctx)

	var units []models.ProductUnit
	if err := db.Where("pending_odoo_qty <> 0").Order("created_at").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("load pending units: %w", err)
	}
	if len(units) == 0 {
		return nil, nil
	}

	session := &models.StockPushSession{
		Status:    models.PushInProgress,
		Total:     len(units),
		StartedAt: time.Now().UTC(),
	}
	if err := db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("create push session: %w", err)
	}
	log := s.log.With(zap.String("session_id", session.ID.String()))

	var runErr error
	for i := range units {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		entry := s.pushUnit(ctx, db, session.ID, &units[i])
		if err := db.Create(entry).Error; err != nil {
			runErr = fmt.Errorf("record push entry: %w", err)
			break
		}
		if entry.Status == models.PushEntrySuccess {
			session.Succeeded++
		} else {
			session.Failed++
			log.Warn("stock push failed",
				zap.String("product_unit_id", entry.ProductUnitID.String()),
				zap.String("error", entry.Error))
		}
	}

	completed := time.Now().UTC()
	session.CompletedAt = &completed
	switch {
	case session.Failed == 0 && runErr == nil:
		session.Status = models.PushCompleted
	case session.Succeeded > 0:
		session.Status = models.PushPartial
	default:
		session.Status = models.PushFailed
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(session).Error; err != nil {
		log.Error("failed to finalize push session", zap.Error(err))
	}

	log.Info("stock push finished",
		zap.String("status", string(session.Status)),
		zap.Int("succeeded", session.Succeeded),
		zap.Int("failed", session.Failed))
	return session, runErr
}

// pushUnit books one unit and returns its outcome entry
func (s *Service) pushUnit(ctx context.Context, db *gorm.DB, sessionID uuid.UUID, pu *models.ProductUnit) *models.StockPushEntry {
	before := pu.PendingOdooQty
	entry := &models.StockPushEntry{
		SessionID:     sessionID,
		ProductUnitID: pu.ID,
		Quantity:      before * pu.PackQty,
		BeforeQty:     before,
		AfterQty:      before,
		Status:        models.PushEntryFailed,
	}

	odooID, combos, err := s.resolveProduct(db, pu)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.OdooProductID = odooID

	ref, err := s.book(ctx, odooID, entry.Quantity, sessionID)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	if s.cfg.Mode == ModePicking {
		entry.PickingID = ref
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.ProductUnit{}).Where("id = ?", pu.ID).
			UpdateColumn("pending_odoo_qty", gorm.Expr("pending_odoo_qty - ?", before)).Error
		if err != nil {
			return err
		}
		var after []float64
		if err := tx.Model(&models.ProductUnit{}).Where("id = ?", pu.ID).Pluck("pending_odoo_qty", &after).Error; err != nil {
			return err
		}
		if len(after) == 1 {
			entry.AfterQty = after[0]
		}
		if len(combos) > 0 {
			return tx.Model(&models.ComboMovement{}).Where("id IN ?", combos).
				UpdateColumn("status", models.ComboPushed).Error
		}
		return nil
	})
	if err != nil {
		// Odoo already holds the movement while pending is unchanged
		s.log.Error("stock pushed but local decrement failed",
			zap.String("product_unit_id", pu.ID.String()), zap.Float64("quantity", entry.Quantity), zap.Error(err))
		entry.Error = fmt.Sprintf("pushed to odoo but local update failed: %v", err)
		return entry
	}
	entry.Status = models.PushEntrySuccess
	return entry
}

// book moves qty in Odoo; positive quantities enter the stock location
func (s *Service) book(ctx context.Context, odooProductID int64, qty float64, sessionID uuid.UUID) (int64, error) {
	if s.cfg.Mode == ModeQuant {
		return s.pusher.AdjustQuant(ctx, odooProductID, s.cfg.StockLocationID, qty)
	}
	src, dst := s.cfg.AdjustmentLocationID, s.cfg.StockLocationID
	if qty < 0 {
		src, dst = dst, src
	}
	return s.pusher.CreateAndValidatePicking(ctx, odoo.PickingRequest{
		ProductID:        odooProductID,
		SourceLocationID: src,
		DestLocationID:   dst,
		Quantity:         math.Abs(qty),
		PickingTypeID:    s.cfg.PickingTypeID,
		Origin:           "odoostore push " + sessionID.String(),
	})
}

// resolveProduct finds the Odoo product of a unit through a pending combo
// movement, the barcode unit mapping, the staged product mapping and
// finally the product's own Odoo reference. Combo movements consumed by the
// push are returned with it.
func (s *Service) resolveProduct(db *gorm.DB, pu *models.ProductUnit) (int64, []uuid.UUID, error) {
	var combos []models.ComboMovement
	if err := db.Where("product_unit_id = ? AND status = ?", pu.ID, models.ComboPending).
		Order("created_at").Find(&combos).Error; err != nil {
		return 0, nil, err
	}
	if len(combos) > 0 && combos[0].OdooProductID > 0 {
		ids := make([]uuid.UUID, len(combos))
		for i, c := range combos {
			ids[i] = c.ID
		}
		return combos[0].OdooProductID, ids, nil
	}

	if pu.OdooBarcodeUnitID != nil {
		var bu models.StagingBarcodeUnit
		err := db.Select("id", "product_id").First(&bu, *pu.OdooBarcodeUnitID).Error
		if err == nil && bu.ProductID.Valid() {
			return bu.ProductID.ID, nil, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, err
		}
	}

	var sp models.StagingProduct
	err := db.Select("id").Where("store_product_id = ?", pu.ProductID).Order("id").First(&sp).Error
	if err == nil {
		return sp.ID, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, err
	}

	var p models.Product
	err = db.Select("id", "odoo_product_id").First(&p, "id = ?", pu.ProductID).Error
	if err == nil && p.OdooProductID != nil {
		return *p.OdooProductID, nil, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, err
	}
	return 0, nil, ErrUnresolvedProduct
}

// ListSessions returns push sessions, newest first
func (s *Service) ListSessions(ctx context.Context, page, limit int) ([]models.StockPushSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&models.StockPushSession{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var sessions []models.StockPushSession
	err := s.db.WithContext(ctx).Order("started_at DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}

// GetSession loads a session with its entries
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*models.StockPushSession, error) {
	var session models.StockPushSession
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		First(&session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}
