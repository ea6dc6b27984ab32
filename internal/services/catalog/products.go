package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const productBatchSize = 100

// pieceUomNames are Odoo UoM labels that map onto the canonical Piece unit
var pieceUomNames = map[string]bool{
	"":       true,
	"unit":   true,
	"units":  true,
	"pc":     true,
	"pcs":    true,
	"piece":  true,
	"pieces": true,
	"each":   true,
	"ea":     true,
}

const pieceCode = "PCS"

var pieceName = models.MustLocalizedText("Piece", "قطعة")

// StockInfo is the aggregated availability of one product
type StockInfo struct {
	Total     float64
	Locations []models.StockLocation
}

// AggregateStock sums available quantities over the branch locations.
// An empty branch list counts every location.
func AggregateStock(stocks []models.StagingStock, branches []int64) StockInfo {
	allowed := make(map[int64]bool, len(branches))
	for _, id := range branches {
		allowed[id] = true
	}

	var info StockInfo
	index := make(map[int64]int)
	for _, q := range stocks {
		loc := q.LocationID.ID
		if len(allowed) > 0 && !allowed[loc] {
			continue
		}
		qty := q.Available()
		info.Total += qty
		if i, ok := index[loc]; ok {
			info.Locations[i].Quantity += qty
			continue
		}
		index[loc] = len(info.Locations)
		info.Locations = append(info.Locations, models.StockLocation{
			LocationID: loc,
			Name:       q.LocationID.Name,
			Quantity:   qty,
		})
	}
	if info.Total < 0 {
		info.Total = 0
	}
	return info
}

// ImportProducts creates or refreshes store products from staged Odoo
// products. With no ids every pending or failed staged product is imported.
func (s *Service) ImportProducts(ctx context.Context, ids []int64) (*models.ImportResult, error) {
	db := s.db.WithContext(ctx)
	res := &models.ImportResult{}
	r := newRun()

	q := db.Where("is_active = ?", true)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	} else {
		q = q.Where("sync_status IN ?", []models.StagingStatus{models.StagingPending, models.StagingFailed})
	}

	var batch []models.StagingProduct
	err := q.FindInBatches(&batch, productBatchSize, func(_ *gorm.DB, _ int) error {
		stock, err := s.loadStock(db, batch)
		if err != nil {
			return err
		}
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			sp := &batch[i]
			if err := s.importProduct(ctx, db, r, sp, stock[sp.ID], res); err != nil {
				res.Fail(sp.ID, err)
				s.log.Warn("product import failed", zap.Int64("odoo_id", sp.ID), zap.Error(err))
				if markErr := markStaged(db, &models.StagingProduct{}, sp.ID, models.StagingFailed, err, nil); markErr != nil {
					return markErr
				}
			}
		}
		return nil
	}).Error
	if err != nil {
		return res, fmt.Errorf("import products: %w", err)
	}

	s.log.Info("products imported",
		zap.Int("imported", res.Imported),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// loadStock aggregates the staged quants of a product batch
func (s *Service) loadStock(db *gorm.DB, batch []models.StagingProduct) (map[int64]StockInfo, error) {
	ids := make([]int64, len(batch))
	for i, sp := range batch {
		ids[i] = sp.ID
	}
	var quants []models.StagingStock
	if err := db.Where("product_id IN ? AND is_active = ?", ids, true).Find(&quants).Error; err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	byProduct := make(map[int64][]models.StagingStock)
	for _, q := range quants {
		byProduct[q.ProductID.ID] = append(byProduct[q.ProductID.ID], q)
	}
	out := make(map[int64]StockInfo, len(byProduct))
	for id, qs := range byProduct {
		out[id] = AggregateStock(qs, s.cfg.BranchLocationIDs)
	}
	return out, nil
}

func (s *Service) importProduct(ctx context.Context, db *gorm.DB, r *run, sp *models.StagingProduct, stock StockInfo, res *models.ImportResult) error {
	title, err := models.NewLocalizedText(SplitBilingualName(sp.Name.String()))
	if err != nil {
		return fmt.Errorf("title: %w", err)
	}
	categoryID, err := s.resolveCategory(db, r, sp)
	if err != nil {
		return fmt.Errorf("category: %w", err)
	}
	unit, err := s.resolveBasicUnit(db, r, sp.UomID.ID)
	if err != nil {
		return fmt.Errorf("basic unit: %w", err)
	}

	price := decimal.NewFromFloat(sp.ListPrice).Round(3)
	cost := decimal.NewFromFloat(sp.StandardPrice).Round(3)
	odooID := sp.ID

	product, err := findExisting(db, sp)
	if err != nil {
		return err
	}
	created := false
	if product == nil {
		product = &models.Product{
			SKU:            sp.DefaultCode.String(),
			Barcode:        sp.Barcode.String(),
			Title:          title,
			CategoryID:     categoryID,
			Price:          price,
			CostPrice:      cost,
			Stock:          stock.Total,
			StockLocations: stock.Locations,
			BasicUnitID:    &unit.ID,
			OdooProductID:  &odooID,
			IsActive:       true,
		}
		if sp.TemplateID.Valid() {
			tmpl := sp.TemplateID.ID
			product.OdooTemplateID = &tmpl
		}
		err = createProduct(db, product, unit.ID)
		switch {
		case err == nil:
			created = true
		case database.IsDuplicateKey(err):
			// lost a race or matched on a column we do not search by
			if product, err = findExisting(db, sp); err != nil {
				return err
			}
			if product == nil {
				return fmt.Errorf("create product: duplicate key without a matching product")
			}
		default:
			return fmt.Errorf("create product: %w", err)
		}
	}

	if !created {
		if err := refreshProduct(db, product, sp, categoryID, unit.ID, price, cost, stock); err != nil {
			return err
		}
	}

	if _, err := s.ImportProductUnits(ctx, sp, product, stock); err != nil {
		return fmt.Errorf("units: %w", err)
	}

	status := models.StagingImported
	res.Imported++
	if created {
		res.Created++
	} else {
		res.Updated++
		status = models.StagingUpdated
	}
	return markStaged(db, &models.StagingProduct{}, sp.ID, status, nil,
		map[string]interface{}{"store_product_id": product.ID})
}

// createProduct inserts the product with its default unit atomically
func createProduct(db *gorm.DB, product *models.Product, unitID uuid.UUID) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(product).Error; err != nil {
			return err
		}
		barcode := product.Barcode
		if barcode == "" {
			barcode = fmt.Sprintf("odoo-%d", *product.OdooProductID)
		}
		pu := models.ProductUnit{
			ProductID: product.ID,
			UnitID:    unitID,
			Barcode:   barcode,
			PackQty:   1,
			Price:     product.Price,
			IsDefault: true,
			Stock:     product.Stock,
			IsActive:  true,
		}
		return tx.Create(&pu).Error
	})
}

func refreshProduct(db *gorm.DB, product *models.Product, sp *models.StagingProduct, categoryID *uuid.UUID, unitID uuid.UUID, price, cost decimal.Decimal, stock StockInfo) error {
	cols := map[string]interface{}{
		"price":           price,
		"cost_price":      cost,
		"stock":           stock.Total,
		"stock_locations": datatypes.JSONSlice[models.StockLocation](stock.Locations),
	}
	if categoryID != nil {
		cols["category_id"] = *categoryID
	}
	if product.OdooProductID == nil {
		cols["odoo_product_id"] = sp.ID
	}
	if product.OdooTemplateID == nil && sp.TemplateID.Valid() {
		cols["odoo_template_id"] = sp.TemplateID.ID
	}
	if product.BasicUnitID == nil {
		cols["basic_unit_id"] = unitID
	}
	if product.Barcode == "" && sp.Barcode != "" {
		cols["barcode"] = sp.Barcode.String()
	}
	if product.SKU == "" && sp.DefaultCode != "" {
		cols["sku"] = sp.DefaultCode.String()
	}
	if err := db.Model(product).Updates(cols).Error; err != nil {
		return fmt.Errorf("refresh product %s: %w", product.ID, err)
	}
	product.Price, product.CostPrice = price, cost
	product.Stock, product.StockLocations = stock.Total, stock.Locations
	if categoryID != nil {
		product.CategoryID = categoryID
	}
	return nil
}

// findExisting matches a staged product to a store product by store id,
// Odoo id, barcode and SKU, in that order
func findExisting(db *gorm.DB, sp *models.StagingProduct) (*models.Product, error) {
	type match struct {
		query string
		arg   interface{}
	}
	var matches []match
	if sp.StoreProductID != nil {
		matches = append(matches, match{"id = ?", *sp.StoreProductID})
	}
	matches = append(matches, match{"odoo_product_id = ?", sp.ID})
	if b := sp.Barcode.String(); b != "" {
		matches = append(matches, match{"barcode = ?", b})
	}
	if sku := sp.DefaultCode.String(); sku != "" {
		matches = append(matches, match{"sku = ?", sku})
	}

	for _, m := range matches {
		var p models.Product
		err := db.Where(m.query, m.arg).Order("created_at").First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !notFound(err) {
			return nil, fmt.Errorf("find product: %w", err)
		}
	}
	return nil, nil
}

// resolveCategory maps the staged categ_id onto a store category, importing
// the staged category path when it was not imported yet
func (s *Service) resolveCategory(db *gorm.DB, r *run, sp *models.StagingProduct) (*uuid.UUID, error) {
	if !sp.CategoryID.Valid() {
		return nil, nil
	}

	var sc models.StagingCategory
	err := db.First(&sc, sp.CategoryID.ID).Error
	switch {
	case err == nil:
		if sc.StoreCategoryID != nil {
			ok, err := exists(db, &models.Category{}, *sc.StoreCategoryID)
			if err != nil {
				return nil, err
			}
			if ok {
				return sc.StoreCategoryID, nil
			}
		}
	case notFound(err):
		// not mirrored yet; build the path from the label Odoo sent
		label := rawLabel(sp.RawData, "categ_id")
		if label == "" {
			return nil, nil
		}
		sc = models.StagingCategory{ID: sp.CategoryID.ID, CompleteName: models.OdooString(label)}
	default:
		return nil, err
	}

	id, _, err := s.ensureCategoryPath(db, r, &sc)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// rawLabel returns the label of a many2one field from a raw Odoo record
func rawLabel(raw datatypes.JSON, field string) string {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return ""
	}
	var ref models.Many2One
	if json.Unmarshal(fields[field], &ref) != nil {
		return ""
	}
	return ref.Name
}

// resolveBasicUnit maps an Odoo UoM onto a store unit. Generic unit labels
// share the canonical Piece unit.
func (s *Service) resolveBasicUnit(db *gorm.DB, r *run, uomID int64) (models.Unit, error) {
	name, err := s.uomName(db, r, uomID)
	if err != nil {
		return models.Unit{}, err
	}
	if pieceUomNames[strings.ToLower(strings.TrimSpace(name))] {
		return findOrCreateUnit(db, r, pieceCode, pieceName)
	}

	text, err := models.NewLocalizedText(SplitBilingualName(name))
	if err != nil {
		return findOrCreateUnit(db, r, pieceCode, pieceName)
	}
	return findOrCreateUnit(db, r, unitCode(name), text)
}

func (s *Service) uomName(db *gorm.DB, r *run, uomID int64) (string, error) {
	if uomID <= 0 {
		return "", nil
	}
	if name, ok := r.uoms[uomID]; ok {
		return name, nil
	}
	var uom models.StagingUom
	err := db.Select("id", "name").First(&uom, uomID).Error
	if err != nil && !notFound(err) {
		return "", err
	}
	r.uoms[uomID] = uom.Name.String()
	return uom.Name.String(), nil
}

// unitCode derives a stable unit code; Arabic-only names keep their slug
func unitCode(name string) string {
	if code := shortCode(name, 16); code != "" {
		return code
	}
	slug := []rune(strings.ToUpper(Slugify(name)))
	if len(slug) > 28 {
		slug = slug[:28]
	}
	return "UOM-" + string(slug)
}

// findOrCreateUnit resolves a unit by code and re-reads it when a concurrent
// import inserted the same code first
func findOrCreateUnit(db *gorm.DB, r *run, code string, name models.LocalizedText) (models.Unit, error) {
	if u, ok := r.units[code]; ok {
		return u, nil
	}

	var u models.Unit
	err := db.Where("code = ?", code).First(&u).Error
	if notFound(err) {
		u = models.Unit{Name: name, Code: code, IsActive: true}
		err = db.Create(&u).Error
		if database.IsDuplicateKey(err) {
			err = db.Where("code = ?", code).First(&u).Error
		}
	}
	if err != nil {
		return models.Unit{}, fmt.Errorf("unit %s: %w", code, err)
	}
	r.units[code] = u
	return u, nil
}
