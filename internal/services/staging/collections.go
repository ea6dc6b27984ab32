package staging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xelth-com/odoostore/internal/database"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/odoo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Collection names accepted by Fetch and the HTTP API
const (
	Categories     = "categories"
	Products       = "products"
	Uoms           = "uoms"
	Stock          = "stock"
	BarcodeUnits   = "barcode_units"
	Pricelists     = "pricelists"
	PricelistItems = "pricelist_items"
)

// Collection describes one mirrored Odoo model
type Collection struct {
	Name      string
	Model     string
	Fields    []string
	HasActive bool
	Domain    odoo.Domain

	table    string
	newModel func() interface{}
	newSlice func() interface{}
	write    func(tx *gorm.DB, raws []json.RawMessage, now time.Time) batchOutcome
}

// batchOutcome is the unordered-write result of one page
type batchOutcome struct {
	Written int
	Present int
	Failed  int
	Errors  []models.RecordError
	Err     error // statement-level failure that is not a duplicate key
}

// stagingRow is satisfied by pointers to staging models through the embedded StagingMeta
type stagingRow[T any] interface {
	*T
	Stage(raw []byte, active bool, now time.Time)
}

// bookkeeping columns are owned by the importers, never by a fetch
var bookkeeping = map[string]bool{
	"id":                  true,
	"sync_status":         true,
	"last_import_attempt": true,
	"import_error":        true,
}

func newCollection[T any, P stagingRow[T]](db *gorm.DB, name, model string, fields []string, hasActive bool, domain odoo.Domain) (Collection, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(T)); err != nil {
		return Collection{}, fmt.Errorf("parse %s schema: %w", name, err)
	}
	table := stmt.Schema.Table

	var erpColumns []string
	for _, col := range stmt.Schema.DBNames {
		if bookkeeping[col] || strings.HasPrefix(col, "store_") {
			continue
		}
		erpColumns = append(erpColumns, col)
	}

	// A changed ERP record goes back to pending so the next import refreshes it
	updates := clause.AssignmentColumns(erpColumns)
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "sync_status"},
		Value: gorm.Expr(fmt.Sprintf(
			"CASE WHEN excluded.write_date IS DISTINCT FROM %[1]s.write_date THEN ? ELSE %[1]s.sync_status END", table),
			models.StagingPending),
	})
	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: updates,
	}

	return Collection{
		Name:      name,
		Model:     model,
		Fields:    fields,
		HasActive: hasActive,
		Domain:    domain,
		table:     table,
		newModel:  func() interface{} { return new(T) },
		newSlice:  func() interface{} { return &[]T{} },
		write: func(tx *gorm.DB, raws []json.RawMessage, now time.Time) batchOutcome {
			return writeBatch[T, P](tx, upsert, raws, now)
		},
	}, nil
}

// writeBatch decodes a page and upserts it in one statement. The upsert
// absorbs id conflicts; a secondary unique key such as a barcode unit's
// barcode fails the statement, and the page is then replayed row by row:
// duplicates count as already present, other row errors as failed.
func writeBatch[T any, P stagingRow[T]](tx *gorm.DB, upsert clause.OnConflict, raws []json.RawMessage, now time.Time) batchOutcome {
	var out batchOutcome

	rows := make([]T, 0, len(raws))
	ids := make([]int64, 0, len(raws))
	seen := make(map[int64]int, len(raws))
	for _, raw := range raws {
		var head struct {
			ID     int64 `json:"id"`
			Active *bool `json:"active"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ID <= 0 {
			out.Failed++
			out.Errors = append(out.Errors, models.RecordError{ID: "?", Message: fmt.Sprintf("undecodable record: %v", err)})
			continue
		}

		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, models.NewRecordError(head.ID, err))
			continue
		}
		active := head.Active == nil || *head.Active
		P(&row).Stage(raw, active, now)

		// One statement cannot touch the same key twice; the last copy wins
		if i, dup := seen[head.ID]; dup {
			rows[i] = row
			out.Present++
			continue
		}
		seen[head.ID] = len(rows)
		rows = append(rows, row)
		ids = append(ids, head.ID)
	}
	if len(rows) == 0 {
		return out
	}

	err := tx.Clauses(upsert).Create(&rows).Error
	if err == nil {
		out.Written += len(rows)
		return out
	}
	if !database.IsDuplicateKey(err) {
		out.Err = err
		return out
	}

	for i := range rows {
		err := tx.Clauses(upsert).Create(&rows[i]).Error
		switch {
		case err == nil:
			out.Written++
		case database.IsDuplicateKey(err):
			out.Present++
		default:
			out.Failed++
			out.Errors = append(out.Errors, models.NewRecordError(ids[i], err))
		}
	}
	return out
}

// registry builds every collection enabled by cfg, in fetch order
func registry(db *gorm.DB, cfg Config) ([]Collection, error) {
	productFields := []string{
		"product_tmpl_id", "default_code", "barcode", "name", "list_price", "standard_price",
		"categ_id", "uom_id", "active", "write_date",
	}
	itemFields := []string{
		"pricelist_id", "product_id", "product_tmpl_id", "applied_on", "compute_price",
		"fixed_price", "min_quantity", "date_start", "date_end", "active", "write_date",
	}
	if cfg.BarcodeUnitModel != "" {
		productFields = append(productFields, "barcode_unit_ids")
		itemFields = append(itemFields, "barcode_unit_id")
	}

	builders := []func() (Collection, error){
		func() (Collection, error) {
			return newCollection[models.StagingCategory](db, Categories, "product.category",
				[]string{"name", "complete_name", "parent_id", "child_id", "write_date"}, false, nil)
		},
		func() (Collection, error) {
			return newCollection[models.StagingUom](db, Uoms, "uom.uom",
				[]string{"name", "category_id", "factor", "uom_type", "active", "write_date"}, true, nil)
		},
		func() (Collection, error) {
			return newCollection[models.StagingProduct](db, Products, "product.product", productFields, true, nil)
		},
		func() (Collection, error) {
			return newCollection[models.StagingStock](db, Stock, "stock.quant",
				[]string{"product_id", "location_id", "quantity", "reserved_quantity", "available_quantity", "write_date"},
				false, odoo.Domain{odoo.Cond("location_id.usage", "=", "internal")})
		},
	}
	if cfg.BarcodeUnitModel != "" {
		builders = append(builders, func() (Collection, error) {
			return newCollection[models.StagingBarcodeUnit](db, BarcodeUnits, cfg.BarcodeUnitModel,
				[]string{"product_id", "product_tmpl_id", "name", "barcode", "quantity", "price", "uom_id", "write_date"}, false, nil)
		})
	}
	builders = append(builders,
		func() (Collection, error) {
			return newCollection[models.StagingPricelist](db, Pricelists, "product.pricelist",
				[]string{"name", "active", "currency_id", "write_date"}, true, nil)
		},
		func() (Collection, error) {
			return newCollection[models.StagingPricelistItem](db, PricelistItems, "product.pricelist.item", itemFields, true, nil)
		},
	)

	out := make([]Collection, 0, len(builders))
	for _, build := range builders {
		c, err := build()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
