package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/odoo"
	"github.com/xelth-com/odoostore/internal/services/odoo/odootest"
	"github.com/xelth-com/odoostore/internal/testutil"
	"go.uber.org/zap"
)

func newTestClient(srv *odootest.Server) *odoo.Client {
	return odoo.NewClient(odoo.Config{
		URL:        srv.URL,
		Database:   "test",
		Username:   "admin",
		Password:   "admin",
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
}

func newTestService(t *testing.T, batch int) (*Service, *odootest.Server, *database.DB) {
	t.Helper()
	srv := odootest.NewServer(t)
	db := testutil.NewDB(t)
	svc, err := NewService(db, newTestClient(srv), Config{BatchSize: batch, BarcodeUnitModel: "product.barcode.unit"}, zap.NewNop())
	require.NoError(t, err)
	return svc, srv, db
}

// flakySource fails the first read at failAt and delegates everything else
type flakySource struct {
	Source
	failAt int
	failed bool
}

func (f *flakySource) SearchRead(ctx context.Context, model string, domain odoo.Domain, opts odoo.SearchOptions, result interface{}) error {
	if !f.failed && opts.Offset == f.failAt {
		f.failed = true
		return errors.New("connection reset")
	}
	return f.Source.SearchRead(ctx, model, domain, opts, result)
}

func product(id int, name, writeDate string) map[string]interface{} {
	return map[string]interface{}{
		"id":              id,
		"name":            name,
		"product_tmpl_id": []interface{}{id + 100, name},
		"default_code":    false,
		"barcode":         "62810000" + name,
		"list_price":      4.5,
		"standard_price":  3.0,
		"categ_id":        []interface{}{7, "Grocery / Beverages"},
		"uom_id":          []interface{}{1, "Units"},
		"active":          true,
		"write_date":      writeDate,
	}
}

func TestFetch_PaginatesAndUpserts(t *testing.T) {
	svc, srv, db := newTestService(t, 2)
	srv.SetRecords("product.product",
		product(1, "Tea", "2024-01-01 10:00:00"),
		product(2, "Rice", "2024-01-01 10:00:00"),
		product(3, "Salt", "2024-01-02 10:00:00"),
		product(4, "Oil", "2024-01-02 11:00:00"),
		product(5, "Milk", "2024-01-03 09:00:00"),
	)

	res, err := svc.Fetch(context.Background(), Products, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 5, res.Written)
	assert.Equal(t, 3, res.Pages)
	assert.Len(t, srv.Calls("product.product", "search_read"), 3)

	var staged models.StagingProduct
	require.NoError(t, db.First(&staged, 3).Error)
	assert.Equal(t, "Salt", staged.Name.String())
	assert.Equal(t, int64(7), staged.CategoryID.ID)
	assert.Equal(t, int64(103), staged.TemplateID.ID)
	assert.Equal(t, models.StagingPending, staged.SyncStatus)
	assert.True(t, staged.IsActive)
	assert.NotEmpty(t, staged.RawData)

	// The active filter is always part of the domain for products
	call := srv.Calls("product.product", "search_read")[0]
	domain := call.Args[0].([]interface{})
	assert.Contains(t, domain, []interface{}{"active", "=", true})
}

func TestFetch_KeepsBookkeepingAndResetsChangedRows(t *testing.T) {
	svc, srv, db := newTestService(t, 10)
	srv.SetRecords("product.product",
		product(1, "Tea", "2024-01-01 10:00:00"),
		product(2, "Rice", "2024-01-01 10:00:00"),
	)
	_, err := svc.Fetch(context.Background(), Products, false)
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.StagingProduct{}).Where("id IN ?", []int64{1, 2}).
		UpdateColumn("sync_status", models.StagingImported).Error)

	changed := product(2, "Rice", "2024-02-01 08:00:00")
	changed["list_price"] = 5.25
	srv.SetRecords("product.product", product(1, "Tea", "2024-01-01 10:00:00"), changed)

	_, err = svc.Fetch(context.Background(), Products, false)
	require.NoError(t, err)

	var tea, rice models.StagingProduct
	require.NoError(t, db.First(&tea, 1).Error)
	require.NoError(t, db.First(&rice, 2).Error)
	assert.Equal(t, models.StagingImported, tea.SyncStatus, "unchanged rows keep their status")
	assert.Equal(t, models.StagingPending, rice.SyncStatus, "changed rows are queued again")
	assert.Equal(t, 5.25, rice.ListPrice)
}

func TestFetch_IncrementalUsesLatestWriteDate(t *testing.T) {
	svc, srv, _ := newTestService(t, 10)
	srv.SetRecords("product.product",
		product(1, "Tea", "2024-01-01 10:00:00"),
		product(2, "Rice", "2024-01-05 12:30:00"),
	)
	_, err := svc.Fetch(context.Background(), Products, false)
	require.NoError(t, err)

	srv.SetRecords("product.product",
		product(1, "Tea", "2024-01-01 10:00:00"),
		product(2, "Rice", "2024-01-05 12:30:00"),
		product(3, "Salt", "2024-01-06 08:00:00"),
	)
	res, err := svc.Fetch(context.Background(), Products, true)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05 12:30:00", res.Since)
	assert.Equal(t, 2, res.Fetched, "rows at the mark are read again")

	calls := srv.Calls("product.product", "search_read")
	last := calls[len(calls)-1]
	domain := last.Args[0].([]interface{})
	assert.Contains(t, domain, []interface{}{"write_date", ">=", "2024-01-05 12:30:00"})
	assert.Equal(t, "write_date, id", last.Kwargs["order"])
}

func TestFetch_IncrementalResumesAfterFailedPage(t *testing.T) {
	srv := odootest.NewServer(t)
	db := testutil.NewDB(t)
	source := &flakySource{Source: newTestClient(srv), failAt: 2}
	svc, err := NewService(db, source, Config{BatchSize: 2}, zap.NewNop())
	require.NoError(t, err)

	// By id, product 3 sits on the page that fails while its write_date is the oldest
	srv.SetRecords("product.product",
		product(1, "Tea", "2024-01-10 10:00:00"),
		product(2, "Rice", "2024-01-10 10:00:00"),
		product(3, "Salt", "2024-01-05 10:00:00"),
	)

	res, err := svc.Fetch(context.Background(), Products, true)
	require.Error(t, err)
	assert.Equal(t, 2, res.Written)

	res, err = svc.Fetch(context.Background(), Products, true)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10 10:00:00", res.Since)

	var ids []int64
	require.NoError(t, db.Model(&models.StagingProduct{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func barcodeUnit(id int, barcode interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":              id,
		"product_id":      []interface{}{10, "Tea"},
		"product_tmpl_id": []interface{}{110, "Tea"},
		"name":            "Carton",
		"barcode":         barcode,
		"quantity":        12.0,
		"price":           50.0,
		"uom_id":          []interface{}{1, "Units"},
		"write_date":      "2024-01-01 00:00:00",
	}
}

func TestFetch_DuplicateBarcodeCountsAsPresent(t *testing.T) {
	svc, srv, db := newTestService(t, 10)
	srv.SetRecords("product.barcode.unit", barcodeUnit(1, "628199"))
	_, err := svc.Fetch(context.Background(), BarcodeUnits, false)
	require.NoError(t, err)

	// unit 2 reuses the barcode of unit 1; units without a barcode never collide
	srv.SetRecords("product.barcode.unit",
		barcodeUnit(1, "628199"),
		barcodeUnit(2, "628199"),
		barcodeUnit(3, "628200"),
		barcodeUnit(4, false),
		barcodeUnit(5, false),
	)
	res, err := svc.Fetch(context.Background(), BarcodeUnits, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 4, res.Written)
	assert.Equal(t, 1, res.AlreadyPresent)
	assert.Zero(t, res.Failed)

	var ids []int64
	require.NoError(t, db.Model(&models.StagingBarcodeUnit{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []int64{1, 3, 4, 5}, ids)
}

func TestFetch_FullFetchDeactivatesMissingRows(t *testing.T) {
	svc, srv, db := newTestService(t, 10)
	srv.SetRecords("product.category",
		map[string]interface{}{"id": 1, "name": "All", "complete_name": "All", "parent_id": false, "child_id": []interface{}{2}, "write_date": "2024-01-01 00:00:00"},
		map[string]interface{}{"id": 2, "name": "Drinks", "complete_name": "All/Drinks", "parent_id": []interface{}{1, "All"}, "child_id": []interface{}{}, "write_date": "2024-01-01 00:00:00"},
	)
	_, err := svc.Fetch(context.Background(), Categories, false)
	require.NoError(t, err)

	var cat models.StagingCategory
	require.NoError(t, db.First(&cat, 1).Error)
	assert.Equal(t, []int64{2}, []int64(cat.ChildIDs))

	srv.SetRecords("product.category", srv.Records("product.category")[0])
	res, err := svc.Fetch(context.Background(), Categories, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deactivated)

	require.NoError(t, db.First(&cat, 2).Error)
	assert.False(t, cat.IsActive)
}

func TestFetchFromOdoo_RecordsSyncLog(t *testing.T) {
	svc, srv, db := newTestService(t, 10)
	srv.SetRecords("uom.uom",
		map[string]interface{}{"id": 1, "name": "Units", "category_id": []interface{}{1, "Unit"}, "factor": 1.0, "uom_type": "reference", "active": true, "write_date": "2024-01-01 00:00:00"},
	)
	srv.Handle("product.pricelist", "search_read", func(odootest.Call) (interface{}, error) {
		return nil, errors.New("pricelists unavailable")
	})

	entry, err := svc.FetchFromOdoo(context.Background(), []string{Uoms, Pricelists}, FetchOptions{})
	require.Error(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.SyncLogFailed, entry.Status)
	assert.Equal(t, 1, entry.Total)
	assert.Equal(t, 1, entry.Successful)
	assert.NotNil(t, entry.CompletedAt)
	assert.Contains(t, entry.ErrorDetail, "pricelists")

	var stored models.SyncLog
	require.NoError(t, db.First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, models.SyncLogFailed, stored.Status)

	// The sibling collection is kept
	var count int64
	require.NoError(t, db.Model(&models.StagingUom{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFetchFromOdoo_UnknownCollection(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	_, err := svc.FetchFromOdoo(context.Background(), []string{"invoices"}, FetchOptions{})
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestFetch_WithoutSource(t *testing.T) {
	svc, err := NewService(testutil.NewDB(t), nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.FetchFromOdoo(context.Background(), nil, FetchOptions{})
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = svc.Fetch(context.Background(), Products, false)
	assert.ErrorIs(t, err, ErrNoSource)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[Products]["total"])
}

func TestLogs_NewestFirst(t *testing.T) {
	svc, srv, _ := newTestService(t, 10)
	srv.SetRecords("uom.uom")

	first, err := svc.FetchFromOdoo(context.Background(), []string{Uoms}, FetchOptions{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := svc.FetchFromOdoo(context.Background(), []string{Uoms}, FetchOptions{Incremental: true})
	require.NoError(t, err)

	logs, total, err := svc.Logs(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, logs, 1)
	assert.Equal(t, second.ID, logs[0].ID)

	logs, _, err = svc.Logs(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, first.ID, logs[0].ID)
	assert.Equal(t, models.SyncLogCompleted, logs[0].Status)
}

func TestStatsAndList(t *testing.T) {
	svc, srv, db := newTestService(t, 10)
	srv.SetRecords("product.product",
		product(1, "Tea", "2024-01-01 10:00:00"),
		product(2, "Rice", "2024-01-01 10:00:00"),
		product(3, "Salt", "2024-01-01 10:00:00"),
	)
	_, err := svc.Fetch(context.Background(), Products, false)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.StagingProduct{}).Where("id = ?", 2).
		UpdateColumn("sync_status", models.StagingFailed).Error)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats[Products]["total"])
	assert.Equal(t, int64(2), stats[Products]["pending"])
	assert.Equal(t, int64(1), stats[Products]["failed"])

	page, err := svc.List(context.Background(), Products, ListOptions{Page: 1, Limit: 2, Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	items := page.Items.(*[]models.StagingProduct)
	require.Len(t, *items, 2)
	assert.Equal(t, int64(1), (*items)[0].ID)
	assert.Equal(t, int64(3), (*items)[1].ID)
}

func TestCollections_BarcodeUnitsOptional(t *testing.T) {
	db := testutil.NewDB(t)
	svc, err := NewService(db, nil, Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.NotContains(t, svc.Collections(), BarcodeUnits)
	assert.Equal(t, Categories, svc.Collections()[0])
}
