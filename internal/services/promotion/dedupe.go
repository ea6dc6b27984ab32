package promotion

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xelth-com/odoostore/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DedupeResult reports a merge pass
type DedupeResult struct {
	Groups    int `json:"groups"`
	Removed   int `json:"removed"`
	Repointed int `json:"repointed"`
}

type dedupeKey struct {
	unit uuid.UUID
	kind models.PromotionType
}

// DeduplicatePromotions keeps the most recently created active fixed_price
// promotion per unit, deletes the others and repoints staged pricelist
// items onto the survivor.
func (s *Service) DeduplicatePromotions(ctx context.Context) (*DedupeResult, error) {
	db := s.db.WithContext(ctx)

	var promos []models.Promotion
	err := db.Where("type = ? AND is_active = ? AND product_unit_id IS NOT NULL", models.PromotionFixedPrice, true).
		Order("created_at DESC").Order("id").Find(&promos).Error
	if err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}

	survivors := make(map[dedupeKey]uuid.UUID)
	duplicates := make(map[uuid.UUID][]uuid.UUID)
	for _, p := range promos {
		key := dedupeKey{unit: *p.ProductUnitID, kind: p.Type}
		keep, seen := survivors[key]
		if !seen {
			survivors[key] = p.ID
			continue
		}
		duplicates[keep] = append(duplicates[keep], p.ID)
	}

	res := &DedupeResult{}
	for keep, dups := range duplicates {
		err := db.Transaction(func(tx *gorm.DB) error {
			moved := tx.Model(&models.StagingPricelistItem{}).
				Where("store_promotion_id IN ?", dups).
				UpdateColumn("store_promotion_id", keep)
			if moved.Error != nil {
				return moved.Error
			}
			if err := tx.Where("id IN ?", dups).Delete(&models.Promotion{}).Error; err != nil {
				return err
			}
			res.Repointed += int(moved.RowsAffected)
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("merge into %s: %w", keep, err)
		}
		res.Groups++
		res.Removed += len(dups)
		s.log.Info("merged duplicate promotions",
			zap.String("survivor", keep.String()), zap.Int("removed", len(dups)))
	}
	return res, nil
}
