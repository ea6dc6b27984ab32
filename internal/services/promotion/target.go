package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/xelth-com/odoostore/internal/models"
	"gorm.io/gorm"
)

// resolveTarget finds the store unit a pricelist item applies to: the
// barcode unit mapping first, then the product's default unit, then the
// default unit of a product of the same template. Missing mappings are
// imported on demand.
func (s *Service) resolveTarget(ctx context.Context, db *gorm.DB, item *models.StagingPricelistItem) (uuid.UUID, error) {
	if item.BarcodeUnitID.Valid() {
		id, err := s.barcodeUnitTarget(ctx, db, item.BarcodeUnitID.ID)
		if err != nil || id != uuid.Nil {
			return id, err
		}
	}
	if item.ProductID.Valid() {
		id, err := s.productTarget(ctx, db, item.ProductID.ID)
		if err != nil || id != uuid.Nil {
			return id, err
		}
	}
	if item.TemplateID.Valid() {
		id, err := s.templateTarget(ctx, db, item.TemplateID.ID)
		if err != nil || id != uuid.Nil {
			return id, err
		}
	}
	return uuid.Nil, ErrUnresolvedTarget
}

func (s *Service) barcodeUnitTarget(ctx context.Context, db *gorm.DB, barcodeUnitID int64) (uuid.UUID, error) {
	load := func() (*models.StagingBarcodeUnit, error) {
		var bu models.StagingBarcodeUnit
		err := db.First(&bu, barcodeUnitID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return &bu, err
	}

	bu, err := load()
	if err != nil || bu == nil {
		return uuid.Nil, err
	}
	if id, err := liveUnit(db, bu.StoreProductUnitID); err != nil || id != uuid.Nil {
		return id, err
	}
	if !bu.ProductID.Valid() {
		return uuid.Nil, nil
	}

	if err := s.importProduct(ctx, bu.ProductID.ID); err != nil {
		return uuid.Nil, err
	}
	if bu, err = load(); err != nil || bu == nil {
		return uuid.Nil, err
	}
	return liveUnit(db, bu.StoreProductUnitID)
}

func (s *Service) productTarget(ctx context.Context, db *gorm.DB, odooProductID int64) (uuid.UUID, error) {
	product, err := findProduct(db, "odoo_product_id = ?", odooProductID)
	if err != nil {
		return uuid.Nil, err
	}
	if product == nil {
		var staged int64
		if err := db.Model(&models.StagingProduct{}).Where("id = ?", odooProductID).Count(&staged).Error; err != nil {
			return uuid.Nil, err
		}
		if staged == 0 {
			return uuid.Nil, nil
		}
		if err := s.importProduct(ctx, odooProductID); err != nil {
			return uuid.Nil, err
		}
		if product, err = findProduct(db, "odoo_product_id = ?", odooProductID); err != nil || product == nil {
			return uuid.Nil, err
		}
	}
	return s.defaultUnit(ctx, product)
}

func (s *Service) templateTarget(ctx context.Context, db *gorm.DB, templateID int64) (uuid.UUID, error) {
	product, err := findProduct(db, "odoo_template_id = ?", templateID)
	if err != nil {
		return uuid.Nil, err
	}
	if product != nil {
		return s.defaultUnit(ctx, product)
	}

	var staged models.StagingProduct
	err = db.Where("template_id = ? AND is_active = ?", templateID, true).Order("id").First(&staged).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return s.productTarget(ctx, db, staged.ID)
}

func (s *Service) defaultUnit(ctx context.Context, product *models.Product) (uuid.UUID, error) {
	pu, err := s.catalog.EnsureDefaultUnit(ctx, product)
	if err != nil {
		return uuid.Nil, fmt.Errorf("default unit of %s: %w", product.ID, err)
	}
	return pu.ID, nil
}

func (s *Service) importProduct(ctx context.Context, odooProductID int64) error {
	res, err := s.catalog.ImportProducts(ctx, []int64{odooProductID})
	if err != nil {
		return fmt.Errorf("import product %d: %w", odooProductID, err)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("import product %d: %s", odooProductID, res.Errors[0].Message)
	}
	return nil
}

func findProduct(db *gorm.DB, query string, arg interface{}) (*models.Product, error) {
	var p models.Product
	err := db.Where(query, arg).Order("created_at").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// liveUnit returns id when it names an active product unit
func liveUnit(db *gorm.DB, id *uuid.UUID) (uuid.UUID, error) {
	if id == nil {
		return uuid.Nil, nil
	}
	var n int64
	if err := db.Model(&models.ProductUnit{}).Where("id = ? AND is_active = ?", *id, true).Count(&n).Error; err != nil {
		return uuid.Nil, err
	}
	if n == 0 {
		return uuid.Nil, nil
	}
	return *id, nil
}
