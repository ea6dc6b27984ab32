package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, cfg Config) (*Service, *database.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	return NewService(db, cfg, zap.NewNop()), db
}

var active = models.StagingMeta{IsActive: true}

func stageCategory(t *testing.T, db *database.DB, id int64, path string) {
	t.Helper()
	require.NoError(t, db.Create(&models.StagingCategory{
		ID:           id,
		Name:         models.OdooString(path),
		CompleteName: models.OdooString(path),
		StagingMeta:  active,
	}).Error)
}

func stagedCategory(t *testing.T, db *database.DB, id int64) models.StagingCategory {
	t.Helper()
	var sc models.StagingCategory
	require.NoError(t, db.First(&sc, id).Error)
	return sc
}

func storeCategory(t *testing.T, db *database.DB, id uuid.UUID) models.Category {
	t.Helper()
	var c models.Category
	require.NoError(t, db.First(&c, "id = ?", id).Error)
	return c
}

func TestImportCategories_BuildsBilingualChain(t *testing.T) {
	svc, db := newTestService(t, Config{})
	stageCategory(t, db, 7, "Grocery/Beverages/[عصائر] [Juices]")

	res, err := svc.ImportCategories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 3, res.Created)
	assert.Empty(t, res.Errors)

	sc := stagedCategory(t, db, 7)
	require.NotNil(t, sc.StoreCategoryID)
	assert.Equal(t, models.StagingImported, sc.SyncStatus)

	leaf := storeCategory(t, db, *sc.StoreCategoryID)
	assert.Equal(t, "Juices", leaf.Name.En)
	assert.Equal(t, "عصائر", leaf.Name.Ar)
	assert.Equal(t, "grocery-beverages-juices", leaf.Slug)
	require.NotNil(t, leaf.OdooCategoryID)
	assert.Equal(t, int64(7), *leaf.OdooCategoryID)

	require.NotNil(t, leaf.ParentID)
	mid := storeCategory(t, db, *leaf.ParentID)
	assert.Equal(t, "Beverages", mid.Name.En)
	require.NotNil(t, mid.ParentID)
	root := storeCategory(t, db, *mid.ParentID)
	assert.Equal(t, "Grocery", root.Name.En)
	assert.Nil(t, root.ParentID)
}

func TestImportCategories_Idempotent(t *testing.T) {
	svc, db := newTestService(t, Config{})
	stageCategory(t, db, 1, "Grocery")
	stageCategory(t, db, 2, "Grocery/Beverages")
	stageCategory(t, db, 3, "Grocery/Beverages/[عصائر] [Juices]")

	first, err := svc.ImportCategories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Imported)
	assert.Equal(t, 3, first.Created)

	second, err := svc.ImportCategories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 3, second.Skipped)

	var count int64
	require.NoError(t, db.Model(&models.Category{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	// every staged row points at its own node
	assert.NotEqual(t, *stagedCategory(t, db, 1).StoreCategoryID, *stagedCategory(t, db, 2).StoreCategoryID)
}

func TestImportCategories_RebuildsStaleMapping(t *testing.T) {
	svc, db := newTestService(t, Config{})
	stageCategory(t, db, 4, "Frozen")
	stale := uuid.New()
	require.NoError(t, db.Model(&models.StagingCategory{}).Where("id = ?", 4).
		UpdateColumn("store_category_id", stale).Error)

	res, err := svc.ImportCategories(context.Background(), []int64{4})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	sc := stagedCategory(t, db, 4)
	require.NotNil(t, sc.StoreCategoryID)
	assert.NotEqual(t, stale, *sc.StoreCategoryID)
	assert.Equal(t, "frozen", storeCategory(t, db, *sc.StoreCategoryID).Slug)
}

func TestImportCategories_RecordsFailures(t *testing.T) {
	svc, db := newTestService(t, Config{})
	stageCategory(t, db, 8, " / ")
	stageCategory(t, db, 9, "Bakery")

	res, err := svc.ImportCategories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "8", res.Errors[0].ID)

	sc := stagedCategory(t, db, 8)
	assert.Equal(t, models.StagingFailed, sc.SyncStatus)
	assert.Contains(t, sc.ImportError, ErrNoCategoryPath.Error())
}

func TestImportCategories_RepairsPlaceholderProducts(t *testing.T) {
	svc, db := newTestService(t, Config{})
	stageCategory(t, db, 7, "Grocery/Juices")

	placeholder := models.Category{Name: models.MustLocalizedText("Uncategorized", ""), Slug: "uncategorized", IsActive: true}
	require.NoError(t, db.Create(&placeholder).Error)

	odooID := int64(55)
	linked := models.Product{Title: models.MustLocalizedText("Mango Juice", ""), CategoryID: &placeholder.ID, OdooProductID: &odooID, IsActive: true}
	byBarcode := models.Product{Title: models.MustLocalizedText("Apple Juice", ""), Barcode: "111", IsActive: true}
	require.NoError(t, db.Create(&linked).Error)
	require.NoError(t, db.Create(&byBarcode).Error)

	require.NoError(t, db.Create(&models.StagingProduct{ID: 55, Name: "Mango Juice", CategoryID: models.Many2One{ID: 7}, StagingMeta: active}).Error)
	require.NoError(t, db.Create(&models.StagingProduct{ID: 56, Name: "Apple Juice", Barcode: "111", CategoryID: models.Many2One{ID: 7}, StagingMeta: active}).Error)

	res, err := svc.ImportCategories(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Repaired)

	leafID := *stagedCategory(t, db, 7).StoreCategoryID
	for _, id := range []uuid.UUID{linked.ID, byBarcode.ID} {
		var p models.Product
		require.NoError(t, db.First(&p, "id = ?", id).Error)
		require.NotNil(t, p.CategoryID)
		assert.Equal(t, leafID, *p.CategoryID)
	}
}

func TestAggregateStock(t *testing.T) {
	quants := []models.StagingStock{
		{ID: 1, LocationID: models.Many2One{ID: 1}, Quantity: 5},
		{ID: 2, LocationID: models.Many2One{ID: 2}, Quantity: 0},
		{ID: 3, LocationID: models.Many2One{ID: 3}, Quantity: 12},
	}

	info := AggregateStock(quants, []int64{2, 3})
	assert.Equal(t, 12.0, info.Total)
	assert.Len(t, info.Locations, 2)

	all := AggregateStock(quants, nil)
	assert.Equal(t, 17.0, all.Total)
	assert.Len(t, all.Locations, 3)

	reserved := AggregateStock([]models.StagingStock{
		{ID: 4, LocationID: models.Many2One{ID: 1}, Quantity: 10, ReservedQuantity: 4},
		{ID: 5, LocationID: models.Many2One{ID: 1}, Quantity: 3, AvailableQuantity: 2},
	}, nil)
	assert.Equal(t, 8.0, reserved.Total)
	require.Len(t, reserved.Locations, 1)
	assert.Equal(t, 8.0, reserved.Locations[0].Quantity)
}

func seedProductFixture(t *testing.T, db *database.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.StagingUom{ID: 1, Name: "Units", Factor: 1, Active: true, StagingMeta: active}).Error)
	stageCategory(t, db, 7, "Grocery/[عصائر] [Juices]")
	require.NoError(t, db.Create(&models.StagingProduct{
		ID:            10,
		TemplateID:    models.Many2One{ID: 110},
		Barcode:       "628100",
		DefaultCode:   "OJ-1",
		Name:          "Orange Juice - عصير برتقال",
		ListPrice:     4.5,
		StandardPrice: 3,
		CategoryID:    models.Many2One{ID: 7},
		UomID:         models.Many2One{ID: 1},
		Active:        true,
		StagingMeta:   active,
	}).Error)
	for _, q := range []models.StagingStock{
		{ID: 1, ProductID: models.Many2One{ID: 10}, LocationID: models.Many2One{ID: 1}, Quantity: 5, StagingMeta: active},
		{ID: 2, ProductID: models.Many2One{ID: 10}, LocationID: models.Many2One{ID: 3}, Quantity: 12, StagingMeta: active},
	} {
		require.NoError(t, db.Create(&q).Error)
	}
	require.NoError(t, db.Create(&models.StagingBarcodeUnit{
		ID:          500,
		ProductID:   models.Many2One{ID: 10},
		Name:        "Carton",
		Barcode:     "628199",
		Quantity:    12,
		Price:       50,
		StagingMeta: active,
	}).Error)
}

func productUnits(t *testing.T, db *database.DB, productID uuid.UUID) []models.ProductUnit {
	t.Helper()
	var units []models.ProductUnit
	require.NoError(t, db.Where("product_id = ?", productID).Order("pack_qty").Find(&units).Error)
	return units
}

func TestImportProducts_CreatesProductWithUnits(t *testing.T) {
	svc, db := newTestService(t, Config{})
	seedProductFixture(t, db)

	res, err := svc.ImportProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Errors)

	var sp models.StagingProduct
	require.NoError(t, db.First(&sp, 10).Error)
	require.NotNil(t, sp.StoreProductID)
	assert.Equal(t, models.StagingImported, sp.SyncStatus)

	var p models.Product
	require.NoError(t, db.First(&p, "id = ?", *sp.StoreProductID).Error)
	assert.Equal(t, "Orange Juice", p.Title.En)
	assert.Equal(t, "عصير برتقال", p.Title.Ar)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("4.5")))
	assert.Equal(t, 17.0, p.Stock)
	assert.Len(t, p.StockLocations, 2)
	require.NotNil(t, p.OdooProductID)
	assert.Equal(t, int64(10), *p.OdooProductID)

	require.NotNil(t, p.CategoryID)
	cat := storeCategory(t, db, *p.CategoryID)
	assert.Equal(t, "Juices", cat.Name.En)

	require.NotNil(t, p.BasicUnitID)
	var basic models.Unit
	require.NoError(t, db.First(&basic, "id = ?", *p.BasicUnitID).Error)
	assert.Equal(t, pieceCode, basic.Code)

	units := productUnits(t, db, p.ID)
	require.Len(t, units, 2)
	assert.True(t, units[0].IsDefault)
	assert.Equal(t, "628100", units[0].Barcode)
	assert.Equal(t, 1.0, units[0].PackQty)
	assert.Equal(t, 17.0, units[0].Stock)
	assert.False(t, units[1].IsDefault)
	assert.Equal(t, 12.0, units[1].PackQty)
	assert.Equal(t, 1.0, units[1].Stock)
	assert.True(t, units[1].Price.Equal(decimal.NewFromInt(50)))

	require.Len(t, p.AvailableUnits, 2)
	assert.Equal(t, units[0].ID, p.AvailableUnits[0])

	var bu models.StagingBarcodeUnit
	require.NoError(t, db.First(&bu, 500).Error)
	require.NotNil(t, bu.StoreProductUnitID)
	assert.Equal(t, units[1].ID, *bu.StoreProductUnitID)
}

func TestImportProducts_ReimportRefreshesInPlace(t *testing.T) {
	svc, db := newTestService(t, Config{BranchLocationIDs: []int64{2, 3}})
	seedProductFixture(t, db)

	_, err := svc.ImportProducts(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.StagingProduct{}).Where("id = ?", 10).
		UpdateColumn("list_price", 5.25).Error)

	res, err := svc.ImportProducts(context.Background(), []int64{10})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	var products []models.Product
	require.NoError(t, db.Find(&products).Error)
	require.Len(t, products, 1)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("5.25")))
	assert.Equal(t, 12.0, products[0].Stock)

	units := productUnits(t, db, products[0].ID)
	require.Len(t, units, 2)
	defaults := 0
	for _, u := range units {
		if u.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestImportProducts_LinksExistingProductByBarcode(t *testing.T) {
	svc, db := newTestService(t, Config{})
	seedProductFixture(t, db)

	existing := models.Product{Title: models.MustLocalizedText("OJ", ""), Barcode: "628100", IsActive: true}
	require.NoError(t, db.Create(&existing).Error)

	res, err := svc.ImportProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	var p models.Product
	require.NoError(t, db.First(&p, "id = ?", existing.ID).Error)
	require.NotNil(t, p.OdooProductID)
	assert.Equal(t, int64(10), *p.OdooProductID)
	assert.Len(t, productUnits(t, db, p.ID), 2)
}

func TestEnsureDefaultUnit(t *testing.T) {
	svc, db := newTestService(t, Config{})
	ctx := context.Background()
	unit := models.Unit{Name: pieceName, Code: pieceCode, IsActive: true}
	require.NoError(t, db.Create(&unit).Error)

	t.Run("promotes a single unit", func(t *testing.T) {
		p := models.Product{Title: models.MustLocalizedText("Tea", ""), IsActive: true}
		require.NoError(t, db.Create(&p).Error)
		pu := models.ProductUnit{ProductID: p.ID, UnitID: unit.ID, Barcode: "tea-1", PackQty: 1, IsActive: true}
		require.NoError(t, db.Create(&pu).Error)

		def, err := svc.EnsureDefaultUnit(ctx, &p)
		require.NoError(t, err)
		assert.Equal(t, pu.ID, def.ID)

		again, err := svc.EnsureDefaultUnit(ctx, &p)
		require.NoError(t, err)
		assert.Equal(t, pu.ID, again.ID)
		assert.Len(t, productUnits(t, db, p.ID), 1)
	})

	t.Run("creates one on a free barcode", func(t *testing.T) {
		p := models.Product{Title: models.MustLocalizedText("Rice", ""), Barcode: "rice", IsActive: true}
		require.NoError(t, db.Create(&p).Error)
		carton := models.ProductUnit{ProductID: p.ID, UnitID: unit.ID, Barcode: "rice", PackQty: 6, IsActive: true}
		require.NoError(t, db.Create(&carton).Error)

		def, err := svc.EnsureDefaultUnit(ctx, &p)
		require.NoError(t, err)
		assert.True(t, def.IsDefault)
		assert.Equal(t, 1.0, def.PackQty)
		assert.Equal(t, "base-"+p.ID.String(), def.Barcode)
	})

	t.Run("adopts a default created by an overlapping run", func(t *testing.T) {
		p := models.Product{Title: models.MustLocalizedText("Salt", ""), Barcode: "salt", IsActive: true}
		require.NoError(t, db.Create(&p).Error)
		rival := models.ProductUnit{ProductID: p.ID, UnitID: unit.ID, Barcode: "salt", PackQty: 1, IsDefault: true, IsActive: true}

		// The rival default lands right after both lookups came back empty
		lookups := 0
		queries := db.DB.Callback().Query()
		require.NoError(t, queries.After("gorm:query").Register("test:rival_default", func(tx *gorm.DB) {
			if tx.Statement.Table != "product_units" {
				return
			}
			lookups++
			if lookups == 2 {
				require.NoError(t, db.DB.Session(&gorm.Session{NewDB: true}).Create(&rival).Error)
			}
		}))
		def, err := svc.EnsureDefaultUnit(ctx, &p)
		require.NoError(t, queries.Remove("test:rival_default"))

		require.NoError(t, err)
		assert.Equal(t, rival.ID, def.ID)
		units := productUnits(t, db, p.ID)
		require.Len(t, units, 1)
		assert.True(t, units[0].IsDefault)
	})
}

func TestStagedBarcodeUnits_LookupOrder(t *testing.T) {
	_, db := newTestService(t, Config{})
	for _, bu := range []models.StagingBarcodeUnit{
		{ID: 1, ProductID: models.Many2One{ID: 10}, TemplateID: models.Many2One{ID: 110}, Quantity: 6, StagingMeta: active},
		{ID: 2, ProductID: models.Many2One{ID: 11}, TemplateID: models.Many2One{ID: 110}, Quantity: 12, StagingMeta: active},
		{ID: 3, ProductID: models.Many2One{ID: 12}, TemplateID: models.Many2One{ID: 112}, Quantity: 24, StagingMeta: active},
		{ID: 4, TemplateID: models.Many2One{ID: 113}, Quantity: 2, StagingMeta: active},
	} {
		require.NoError(t, db.Create(&bu).Error)
	}

	ids := func(units []models.StagingBarcodeUnit) []int64 {
		var out []int64
		for _, u := range units {
			out = append(out, u.ID)
		}
		return out
	}

	tests := []struct {
		name string
		sp   models.StagingProduct
		want []int64
	}{
		{
			name: "explicit list wins over product and template",
			sp:   models.StagingProduct{ID: 10, TemplateID: models.Many2One{ID: 110}, BarcodeUnitIDs: []int64{3}},
			want: []int64{3},
		},
		{
			name: "product id without a list",
			sp:   models.StagingProduct{ID: 10, TemplateID: models.Many2One{ID: 110}},
			want: []int64{1},
		},
		{
			name: "template when nothing points at the product",
			sp:   models.StagingProduct{ID: 13, TemplateID: models.Many2One{ID: 113}},
			want: []int64{4},
		},
		{
			name: "stale explicit list falls through",
			sp:   models.StagingProduct{ID: 11, TemplateID: models.Many2One{ID: 110}, BarcodeUnitIDs: []int64{999}},
			want: []int64{2},
		},
		{
			name: "nothing staged",
			sp:   models.StagingProduct{ID: 14},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, err := stagedBarcodeUnits(db.DB, &tt.sp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(units))
		})
	}
}
