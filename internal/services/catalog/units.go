package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errNonPositivePack = errors.New("pack quantity must be positive")

// UnitsResult reports the packaging units touched for one product
type UnitsResult struct {
	Created int                  `json:"created"`
	Updated int                  `json:"updated"`
	Errors  []models.RecordError `json:"errors,omitempty"`
}

// ImportProductUnits maps the staged barcode units of a product onto store
// product units and refreshes their stock and price. Barcode units are found
// through the explicit id list, then by product, then by template. Failing
// barcode units are reported and skipped.
func (s *Service) ImportProductUnits(ctx context.Context, sp *models.StagingProduct, product *models.Product, stock StockInfo) (*UnitsResult, error) {
	db := s.db.WithContext(ctx)
	res := &UnitsResult{}
	r := newRun()

	def, err := s.EnsureDefaultUnit(ctx, product)
	if err != nil {
		return res, fmt.Errorf("default unit: %w", err)
	}
	err = db.Model(def).UpdateColumns(map[string]interface{}{
		"stock": stock.Total,
		"price": product.Price,
	}).Error
	if err != nil {
		return res, fmt.Errorf("default unit %s: %w", def.ID, err)
	}

	units, err := stagedBarcodeUnits(db, sp)
	if err != nil {
		return res, err
	}
	for i := range units {
		bu := &units[i]
		pu, created, err := s.importBarcodeUnit(db, r, sp, product, bu, stock)
		if err != nil {
			res.Errors = append(res.Errors, models.NewRecordError(bu.ID, err))
			s.log.Warn("barcode unit import failed", zap.Int64("barcode_unit_id", bu.ID), zap.Error(err))
			if markErr := markStaged(db, &models.StagingBarcodeUnit{}, bu.ID, models.StagingFailed, err, nil); markErr != nil {
				return res, markErr
			}
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if err := markStaged(db, &models.StagingBarcodeUnit{}, bu.ID, models.StagingImported, nil,
			map[string]interface{}{"store_product_unit_id": pu.ID}); err != nil {
			return res, err
		}
	}

	if err := recomputeAvailableUnits(db, product.ID); err != nil {
		return res, err
	}
	return res, nil
}

func stagedBarcodeUnits(db *gorm.DB, sp *models.StagingProduct) ([]models.StagingBarcodeUnit, error) {
	var lookups []func(*gorm.DB) *gorm.DB
	if len(sp.BarcodeUnitIDs) > 0 {
		ids := []int64(sp.BarcodeUnitIDs)
		lookups = append(lookups, func(q *gorm.DB) *gorm.DB { return q.Where("id IN ?", ids) })
	}
	lookups = append(lookups, func(q *gorm.DB) *gorm.DB { return q.Where("product_id = ?", sp.ID) })
	if sp.TemplateID.Valid() {
		lookups = append(lookups, func(q *gorm.DB) *gorm.DB { return q.Where("template_id = ?", sp.TemplateID.ID) })
	}

	for _, scope := range lookups {
		var units []models.StagingBarcodeUnit
		err := db.Scopes(scope).Where("is_active = ?", true).Order("id").Find(&units).Error
		if err != nil {
			return nil, fmt.Errorf("load barcode units: %w", err)
		}
		if len(units) > 0 {
			return units, nil
		}
	}
	return nil, nil
}

func (s *Service) importBarcodeUnit(db *gorm.DB, r *run, sp *models.StagingProduct, product *models.Product, bu *models.StagingBarcodeUnit, stock StockInfo) (*models.ProductUnit, bool, error) {
	pack := bu.Quantity
	if pack <= 0 {
		return nil, false, errNonPositivePack
	}

	label := bu.Name.String()
	if label == "" {
		name, err := s.uomName(db, r, bu.UomID.ID)
		if err != nil {
			return nil, false, err
		}
		label = name
	}
	unit, err := s.packUnit(db, r, label, pack)
	if err != nil {
		return nil, false, err
	}

	barcode := bu.Barcode.String()
	if barcode == "" {
		barcode = fmt.Sprintf("odoo-bu-%d", bu.ID)
	}
	price := decimal.NewFromFloat(bu.Price).Round(3)
	if bu.Price <= 0 {
		price = product.Price.Mul(decimal.NewFromFloat(pack)).Round(3)
	}
	buID := bu.ID

	var pu models.ProductUnit
	err = db.Where("product_id = ? AND barcode = ?", product.ID, barcode).First(&pu).Error
	switch {
	case err == nil:
		cols := map[string]interface{}{"odoo_barcode_unit_id": buID, "is_active": true}
		if !pu.IsDefault {
			// the default unit always keeps pack 1 and the full stock
			cols["unit_id"] = unit.ID
			cols["pack_qty"] = pack
			cols["price"] = price
			cols["stock"] = packStock(stock.Total, pack)
		}
		if err := db.Model(&pu).UpdateColumns(cols).Error; err != nil {
			return nil, false, err
		}
		return &pu, false, nil
	case !notFound(err):
		return nil, false, err
	}

	pu = models.ProductUnit{
		ProductID:         product.ID,
		UnitID:            unit.ID,
		Barcode:           barcode,
		PackQty:           pack,
		Price:             price,
		Stock:             packStock(stock.Total, pack),
		OdooBarcodeUnitID: &buID,
		IsActive:          true,
	}
	if err := db.Create(&pu).Error; err != nil {
		if !database.IsDuplicateKey(err) {
			return nil, false, err
		}
		if err := db.Where("product_id = ? AND barcode = ?", product.ID, barcode).First(&pu).Error; err != nil {
			return nil, false, err
		}
		return &pu, false, nil
	}
	return &pu, true, nil
}

// packUnit resolves the store unit of a pack size, e.g. "CARTON-12"
func (s *Service) packUnit(db *gorm.DB, r *run, label string, pack float64) (models.Unit, error) {
	prefix := shortCode(label, 6)
	if prefix == "" {
		prefix = "PK"
	}
	qty := strconv.FormatFloat(pack, 'f', -1, 64)
	code := prefix + "-" + qty

	en, ar := SplitBilingualName(label)
	if en == "" {
		en = "Pack of " + qty
	}
	name, err := models.NewLocalizedText(en, ar)
	if err != nil {
		return models.Unit{}, err
	}
	return findOrCreateUnit(db, r, code, name)
}

func packStock(total, pack float64) float64 {
	if total <= 0 || pack <= 0 {
		return 0
	}
	return math.Floor(total / pack)
}

// EnsureDefaultUnit returns the default unit of product. Without one, an
// active unit with pack 1 is promoted; otherwise a Piece-based unit is created.
func (s *Service) EnsureDefaultUnit(ctx context.Context, product *models.Product) (*models.ProductUnit, error) {
	db := s.db.WithContext(ctx)

	var pu models.ProductUnit
	err := db.Where("product_id = ? AND is_default = ?", product.ID, true).Order("created_at").First(&pu).Error
	if err == nil {
		return &pu, nil
	}
	if !notFound(err) {
		return nil, err
	}

	err = db.Where("product_id = ? AND is_active = ? AND pack_qty = ?", product.ID, true, 1).
		Order("created_at").First(&pu).Error
	if err == nil {
		if err := db.Model(&pu).UpdateColumn("is_default", true).Error; err != nil {
			return nil, err
		}
		s.log.Info("promoted default unit", zap.String("product_id", product.ID.String()), zap.String("unit_id", pu.ID.String()))
		return &pu, nil
	}
	if !notFound(err) {
		return nil, err
	}

	unitID, err := s.basicUnitID(db, product)
	if err != nil {
		return nil, err
	}
	barcodes := []string{"base-" + product.ID.String()}
	if product.Barcode != "" {
		barcodes = append([]string{product.Barcode}, barcodes...)
	}
	for _, barcode := range barcodes {
		pu = models.ProductUnit{
			ProductID: product.ID,
			UnitID:    unitID,
			Barcode:   barcode,
			PackQty:   1,
			Price:     product.Price,
			IsDefault: true,
			Stock:     product.Stock,
			IsActive:  true,
		}
		err = db.Create(&pu).Error
		if err == nil {
			return &pu, nil
		}
		if !database.IsDuplicateKey(err) {
			return nil, err
		}

		// An overlapping run may have created the default on this barcode
		var winner models.ProductUnit
		lookupErr := db.Where("product_id = ? AND is_default = ?", product.ID, true).Order("created_at").First(&winner).Error
		if lookupErr == nil {
			return &winner, nil
		}
		if !notFound(lookupErr) {
			return nil, lookupErr
		}
	}
	return nil, fmt.Errorf("product %s: no free barcode for the default unit: %w", product.ID, err)
}

func (s *Service) basicUnitID(db *gorm.DB, product *models.Product) (uuid.UUID, error) {
	if product.BasicUnitID != nil {
		ok, err := exists(db, &models.Unit{}, *product.BasicUnitID)
		if err != nil {
			return uuid.Nil, err
		}
		if ok {
			return *product.BasicUnitID, nil
		}
	}
	u, err := findOrCreateUnit(db, newRun(), pieceCode, pieceName)
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

// recomputeAvailableUnits stores the active unit ids of a product, default first
func recomputeAvailableUnits(db *gorm.DB, productID uuid.UUID) error {
	var ids []uuid.UUID
	err := db.Model(&models.ProductUnit{}).
		Where("product_id = ? AND is_active = ?", productID, true).
		Order("is_default DESC, pack_qty, created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("available units: %w", err)
	}
	return db.Model(&models.Product{}).Where("id = ?", productID).
		UpdateColumn("available_units", datatypes.JSONSlice[uuid.UUID](ids)).Error
}
