// Package promotion imports fixed-price Odoo pricelist items as store
// promotions and merges duplicate promotions.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnresolvedTarget means no store unit could be found for a pricelist item
var ErrUnresolvedTarget = errors.New("pricelist item has no resolvable store unit")

// Catalog is the part of the import engine promotions rely on
type Catalog interface {
	ImportProducts(ctx context.Context, ids []int64) (*models.ImportResult, error)
	EnsureDefaultUnit(ctx context.Context, product *models.Product) (*models.ProductUnit, error)
}

// Result counts item outcomes of an import pass
type Result struct {
	Imported int                  `json:"imported"`
	Updated  int                  `json:"updated"`
	Current  int                  `json:"current"`
	Skipped  int                  `json:"skipped"`
	Failed   int                  `json:"failed"`
	Errors   []models.RecordError `json:"errors"`
}

// Service imports promotions
type Service struct {
	db      *database.DB
	catalog Catalog
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates the promotion importer
func NewService(db *database.DB, catalog Catalog, log *zap.Logger) *Service {
	return &Service{
		db:      db,
		catalog: catalog,
		log:     log.Named("promotion"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ImportPromotions turns eligible staged pricelist items into fixed_price
// promotions. With no ids every active staged item is considered. Linked
// promotions are only written when their value or window changed.
func (s *Service) ImportPromotions(ctx context.Context, itemIDs []int64) (*Result, error) {
	db := s.db.WithContext(ctx)

	q := db.Where("is_active = ?", true)
	if len(itemIDs) > 0 {
		q = q.Where("id IN ?", itemIDs)
	}
	var items []models.StagingPricelistItem
	if err := q.Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load pricelist items: %w", err)
	}

	res := &Result{}
	names := make(map[int64]models.LocalizedText)
	for i := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := &items[i]

		status, promoID, err := s.importItem(ctx, db, item, names)
		extra := map[string]interface{}{}
		if promoID != nil {
			extra["store_promotion_id"] = *promoID
		}
		switch {
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, models.NewRecordError(item.ID, err))
			s.log.Warn("pricelist item import failed", zap.Int64("item_id", item.ID), zap.Error(err))
			status = models.StagingFailed
		case status == models.StagingImported:
			res.Imported++
		case status == models.StagingUpdated:
			res.Updated++
		case status == models.StagingCurrent:
			res.Current++
		case status == models.StagingSkipped:
			res.Skipped++
		}
		if markErr := mark(db, item.ID, status, err, extra); markErr != nil {
			return res, markErr
		}
	}

	s.log.Info("promotions imported",
		zap.Int("imported", res.Imported),
		zap.Int("updated", res.Updated),
		zap.Int("current", res.Current),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// ineligible returns why an item cannot become a fixed_price promotion
func ineligible(item *models.StagingPricelistItem, now time.Time) string {
	switch {
	case !item.Active:
		return "inactive"
	case item.ComputePrice.String() != models.ComputeFixed:
		return fmt.Sprintf("compute_price %q is not supported", item.ComputePrice)
	case item.FixedPrice <= 0:
		return "fixed price is not positive"
	case item.Expired(now):
		return "expired"
	}
	return ""
}

func (s *Service) importItem(ctx context.Context, db *gorm.DB, item *models.StagingPricelistItem, names map[int64]models.LocalizedText) (models.StagingStatus, *uuid.UUID, error) {
	if reason := ineligible(item, s.now()); reason != "" {
		if item.StorePromotionID != nil {
			// the promotion must not outlive its source item
			if err := db.Model(&models.Promotion{}).Where("id = ?", *item.StorePromotionID).
				UpdateColumn("is_active", false).Error; err != nil {
				return "", nil, err
			}
		}
		s.log.Debug("pricelist item skipped", zap.Int64("item_id", item.ID), zap.String("reason", reason))
		return models.StagingSkipped, item.StorePromotionID, nil
	}

	unitID, err := s.resolveTarget(ctx, db, item)
	if err != nil {
		return "", nil, err
	}

	want := models.Promotion{
		Type:                models.PromotionFixedPrice,
		Name:                s.pricelistName(db, item.PricelistID.ID, names),
		ProductUnitID:       &unitID,
		Value:               decimal.NewFromFloat(item.FixedPrice).Round(3),
		MinQuantity:         item.MinQuantity,
		StartsAt:            item.DateStart.Ptr(),
		EndsAt:              item.DateEnd.Ptr(),
		IsActive:            true,
		OdooPricelistItemID: &item.ID,
	}

	if item.StorePromotionID != nil {
		var linked models.Promotion
		err := db.First(&linked, "id = ?", *item.StorePromotionID).Error
		switch {
		case err == nil:
			if unchanged(&linked, &want) {
				return models.StagingCurrent, &linked.ID, nil
			}
			if err := update(db, &linked, &want); err != nil {
				return "", nil, err
			}
			return models.StagingUpdated, &linked.ID, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return "", nil, err
		}
	}

	// an unlinked item reuses the active promotion already on its unit
	var existing models.Promotion
	err = db.Where("product_unit_id = ? AND type = ? AND is_active = ?", unitID, models.PromotionFixedPrice, true).
		Order("created_at DESC").First(&existing).Error
	switch {
	case err == nil:
		if !unchanged(&existing, &want) {
			if err := update(db, &existing, &want); err != nil {
				return "", nil, err
			}
		}
		return models.StagingImported, &existing.ID, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil, err
	}

	if err := db.Create(&want).Error; err != nil {
		return "", nil, fmt.Errorf("create promotion: %w", err)
	}
	return models.StagingImported, &want.ID, nil
}

func unchanged(p, want *models.Promotion) bool {
	return p.IsActive &&
		p.Value.Equal(want.Value) &&
		p.MinQuantity == want.MinQuantity &&
		p.SameWindow(want.StartsAt, want.EndsAt) &&
		p.ProductUnitID != nil && *p.ProductUnitID == *want.ProductUnitID
}

func update(db *gorm.DB, p, want *models.Promotion) error {
	err := db.Model(p).Updates(map[string]interface{}{
		"value":                  want.Value,
		"min_quantity":           want.MinQuantity,
		"starts_at":              want.StartsAt,
		"ends_at":                want.EndsAt,
		"product_unit_id":        *want.ProductUnitID,
		"is_active":              true,
		"odoo_pricelist_item_id": *want.OdooPricelistItemID,
	}).Error
	if err != nil {
		return fmt.Errorf("update promotion %s: %w", p.ID, err)
	}
	return nil
}

// pricelistName names promotions after their pricelist; unnamed is allowed
func (s *Service) pricelistName(db *gorm.DB, pricelistID int64, cache map[int64]models.LocalizedText) models.LocalizedText {
	if name, ok := cache[pricelistID]; ok {
		return name
	}
	var pl models.StagingPricelist
	var name models.LocalizedText
	if pricelistID > 0 && db.Select("id", "name").First(&pl, pricelistID).Error == nil {
		name, _ = models.NewLocalizedText(catalog.SplitBilingualName(pl.Name.String()))
	}
	cache[pricelistID] = name
	return name
}

func mark(db *gorm.DB, id int64, status models.StagingStatus, importErr error, extra map[string]interface{}) error {
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
	return db.Model(&models.StagingPricelistItem{}).Where("id = ?", id).UpdateColumns(cols).Error
}
