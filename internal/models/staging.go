package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StagingStatus is the import bookkeeping state of a staging row
type StagingStatus string

const (
	StagingPending  StagingStatus = "pending"
	StagingImported StagingStatus = "imported"
	StagingUpdated  StagingStatus = "updated"
	StagingCurrent  StagingStatus = "current"
	StagingFailed   StagingStatus = "failed"
	StagingSkipped  StagingStatus = "skipped"
)

// StagingMeta is the bookkeeping shared by every staging mirror.
// Fetch passes never overwrite these columns.
type StagingMeta struct {
	SyncStatus        StagingStatus  `gorm:"column:sync_status;type:varchar(20);default:pending;index" json:"_sync_status"`
	LastImportAttempt *time.Time     `gorm:"column:last_import_attempt" json:"_last_import_attempt,omitempty"`
	ImportError       string         `gorm:"column:import_error;type:text" json:"_import_error,omitempty"`
	IsActive          bool           `gorm:"column:is_active;not null" json:"is_active"`
	LastFetchedAt     time.Time      `gorm:"column:last_fetched_at" json:"last_fetched_at"`
	RawData           datatypes.JSON `gorm:"column:raw_data" json:"raw_data,omitempty"`
}

// Stage fills the fetch bookkeeping of a freshly decoded row
func (m *StagingMeta) Stage(raw []byte, active bool, now time.Time) {
	m.IsActive = active
	m.LastFetchedAt = now
	m.RawData = datatypes.JSON(raw)
}

// StagingCategory mirrors Odoo 'product.category'
type StagingCategory struct {
	ID           int64                      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         OdooString                 `gorm:"type:varchar(255)" json:"name"`
	CompleteName OdooString                 `gorm:"type:text;index" json:"complete_name"` // "Grocery/Beverages/[عصائر] [Juices]"
	ParentID     Many2One                   `gorm:"type:bigint;index" json:"parent_id"`
	ChildIDs     datatypes.JSONSlice[int64] `gorm:"column:child_ids" json:"child_id"`
	WriteDate    OdooTime                   `gorm:"type:timestamp;index" json:"write_date"`

	StoreCategoryID *uuid.UUID `gorm:"type:uuid;index" json:"store_category_id,omitempty"`
	StagingMeta     `gorm:"embedded"`
}

func (StagingCategory) TableName() string { return "odoo_categories" }

// StagingProduct mirrors Odoo 'product.product'
type StagingProduct struct {
	ID             int64                      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TemplateID     Many2One                   `gorm:"column:template_id;type:bigint;index" json:"product_tmpl_id"`
	DefaultCode    OdooString                 `gorm:"type:varchar(128);index" json:"default_code"` // SKU
	Barcode        OdooString                 `gorm:"type:varchar(128);index" json:"barcode"`
	Name           OdooString                 `gorm:"type:text" json:"name"`
	ListPrice      float64                    `json:"list_price"`
	StandardPrice  float64                    `json:"standard_price"`
	CategoryID     Many2One                   `gorm:"column:category_id;type:bigint;index" json:"categ_id"`
	UomID          Many2One                   `gorm:"type:bigint" json:"uom_id"`
	Active         bool                       `json:"active"`
	BarcodeUnitIDs datatypes.JSONSlice[int64] `gorm:"column:barcode_unit_ids" json:"barcode_unit_ids"`
	WriteDate      OdooTime                   `gorm:"type:timestamp;index" json:"write_date"`

	StoreProductID *uuid.UUID `gorm:"type:uuid;index" json:"store_product_id,omitempty"`
	StagingMeta    `gorm:"embedded"`
}

func (StagingProduct) TableName() string { return "odoo_products" }

// StagingUom mirrors Odoo 'uom.uom'
type StagingUom struct {
	ID         int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name       OdooString `gorm:"type:varchar(128)" json:"name"`
	CategoryID Many2One   `gorm:"type:bigint" json:"category_id"`
	Factor     float64    `json:"factor"`
	UomType    OdooString `gorm:"type:varchar(20)" json:"uom_type"` // reference, bigger, smaller
	Active     bool       `json:"active"`
	WriteDate  OdooTime   `gorm:"type:timestamp;index" json:"write_date"`

	StagingMeta `gorm:"embedded"`
}

func (StagingUom) TableName() string { return "odoo_uoms" }

// StagingStock mirrors Odoo 'stock.quant' for internal locations
type StagingStock struct {
	ID                int64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProductID         Many2One `gorm:"type:bigint;index" json:"product_id"`
	LocationID        Many2One `gorm:"type:bigint;index" json:"location_id"`
	Quantity          float64  `json:"quantity"`
	ReservedQuantity  float64  `json:"reserved_quantity"`
	AvailableQuantity float64  `json:"available_quantity"`
	WriteDate         OdooTime `gorm:"type:timestamp;index" json:"write_date"`

	StagingMeta `gorm:"embedded"`
}

func (StagingStock) TableName() string { return "odoo_stock" }

// Available returns the free quantity, derived when Odoo did not report it
func (s StagingStock) Available() float64 {
	if s.AvailableQuantity != 0 {
		return s.AvailableQuantity
	}
	return s.Quantity - s.ReservedQuantity
}

// StagingBarcodeUnit mirrors the multi-barcode packaging model (one row per pack size)
type StagingBarcodeUnit struct {
	ID         int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProductID  Many2One   `gorm:"type:bigint;index" json:"product_id"`
	TemplateID Many2One   `gorm:"column:template_id;type:bigint;index" json:"product_tmpl_id"`
	Name       OdooString `gorm:"type:varchar(255)" json:"name"` // descriptive label, e.g. "Carton 12"
	Barcode    OdooString `gorm:"type:varchar(128);uniqueIndex:uidx_odoo_barcode_units_barcode,where:barcode <> ''" json:"barcode"`
	Quantity   float64    `json:"quantity"` // pack multiplier against the basic unit
	Price      float64    `json:"price"`
	UomID      Many2One   `gorm:"type:bigint" json:"uom_id"`
	WriteDate  OdooTime   `gorm:"type:timestamp;index" json:"write_date"`

	StoreProductUnitID *uuid.UUID `gorm:"type:uuid;index" json:"store_product_unit_id,omitempty"`
	StagingMeta        `gorm:"embedded"`
}

func (StagingBarcodeUnit) TableName() string { return "odoo_barcode_units" }

// StagingPricelist mirrors Odoo 'product.pricelist'
type StagingPricelist struct {
	ID         int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name       OdooString `gorm:"type:varchar(255)" json:"name"`
	Active     bool       `json:"active"`
	CurrencyID Many2One   `gorm:"type:bigint" json:"currency_id"`
	WriteDate  OdooTime   `gorm:"type:timestamp;index" json:"write_date"`

	StagingMeta `gorm:"embedded"`
}

func (StagingPricelist) TableName() string { return "odoo_pricelists" }

// Pricelist item compute modes
const (
	ComputeFixed      = "fixed"
	ComputePercentage = "percentage"
	ComputeFormula    = "formula"
)

// StagingPricelistItem mirrors Odoo 'product.pricelist.item'
type StagingPricelistItem struct {
	ID            int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	PricelistID   Many2One   `gorm:"type:bigint;index" json:"pricelist_id"`
	ProductID     Many2One   `gorm:"type:bigint;index" json:"product_id"`
	TemplateID    Many2One   `gorm:"column:template_id;type:bigint;index" json:"product_tmpl_id"`
	BarcodeUnitID Many2One   `gorm:"type:bigint;index" json:"barcode_unit_id"`
	AppliedOn     OdooString `gorm:"type:varchar(32)" json:"applied_on"`
	ComputePrice  OdooString `gorm:"type:varchar(20)" json:"compute_price"`
	FixedPrice    float64    `json:"fixed_price"`
	MinQuantity   float64    `json:"min_quantity"`
	DateStart     OdooTime   `gorm:"type:timestamp" json:"date_start"`
	DateEnd       OdooTime   `gorm:"type:timestamp" json:"date_end"`
	Active        bool       `json:"active"`
	WriteDate     OdooTime   `gorm:"type:timestamp;index" json:"write_date"`

	StorePromotionID *uuid.UUID `gorm:"type:uuid;index" json:"store_promotion_id,omitempty"`
	StagingMeta      `gorm:"embedded"`
}

func (StagingPricelistItem) TableName() string { return "odoo_pricelist_items" }

// Expired reports whether the validity window ended before now
func (i StagingPricelistItem) Expired(now time.Time) bool {
	return !i.DateEnd.IsZero() && i.DateEnd.Before(now)
}

// StagingModels lists every staging table for migrations
func StagingModels() []interface{} {
	return []interface{}{
		&StagingCategory{},
		&StagingProduct{},
		&StagingUom{},
		&StagingStock{},
		&StagingBarcodeUnit{},
		&StagingPricelist{},
		&StagingPricelistItem{},
	}
}
