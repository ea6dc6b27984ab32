package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Category is a node of the store category tree
type Category struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Name           LocalizedText `gorm:"embedded;embeddedPrefix:name_" json:"name"`
	Slug           string        `gorm:"type:varchar(255);uniqueIndex;not null" json:"slug"`
	ParentID       *uuid.UUID    `gorm:"type:uuid;index" json:"parentId"`
	OdooCategoryID *int64        `gorm:"index" json:"odooCategoryId,omitempty"`
	IsActive       bool          `gorm:"default:true" json:"isActive"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

func (Category) TableName() string { return "categories" }

// BeforeCreate assigns the id and validates the name
func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ParentID != nil && *c.ParentID == c.ID {
		return fmt.Errorf("category %s cannot be its own parent", c.Slug)
	}
	return validateName("category", c.Name, true)
}

// BeforeSave validates the name on updates
func (c *Category) BeforeSave(tx *gorm.DB) error {
	return validateName("category", c.Name, false)
}

// Unit is a store selling unit (Piece, Carton, ...)
type Unit struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Name      LocalizedText `gorm:"embedded;embeddedPrefix:name_" json:"name"`
	Code      string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	IsActive  bool          `gorm:"default:true" json:"isActive"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (Unit) TableName() string { return "units" }

func (u *Unit) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return validateName("unit", u.Name, true)
}

func (u *Unit) BeforeSave(tx *gorm.DB) error {
	return validateName("unit", u.Name, false)
}

// StockLocation is the per-location quantity kept on a product
type StockLocation struct {
	LocationID int64   `json:"locationId"`
	Name       string  `json:"name,omitempty"`
	Quantity   float64 `json:"quantity"`
}

// Product is a store product imported from Odoo
type Product struct {
	ID             uuid.UUID                          `gorm:"type:uuid;primaryKey" json:"id"`
	SKU            string                             `gorm:"column:sku;type:varchar(128);index" json:"sku"`
	Barcode        string                             `gorm:"type:varchar(128);index" json:"barcode"`
	Title          LocalizedText                      `gorm:"embedded;embeddedPrefix:title_" json:"title"`
	CategoryID     *uuid.UUID                         `gorm:"type:uuid;index" json:"categoryId"`
	Price          decimal.Decimal                    `gorm:"type:numeric(14,3);not null;default:0" json:"price"`
	CostPrice      decimal.Decimal                    `gorm:"type:numeric(14,3);not null;default:0" json:"costPrice"`
	Stock          float64                            `gorm:"default:0" json:"stock"`
	StockLocations datatypes.JSONSlice[StockLocation] `json:"stockLocations"`
	BasicUnitID    *uuid.UUID                         `gorm:"type:uuid" json:"basicUnitId"`
	AvailableUnits datatypes.JSONSlice[uuid.UUID]     `json:"availableUnits"`
	OdooProductID  *int64                             `gorm:"uniqueIndex" json:"odooProductId,omitempty"`
	OdooTemplateID *int64                             `gorm:"index" json:"odooTemplateId,omitempty"`
	IsActive       bool                               `gorm:"default:true" json:"isActive"`
	CreatedAt      time.Time                          `json:"createdAt"`
	UpdatedAt      time.Time                          `json:"updatedAt"`
}

func (Product) TableName() string { return "products" }

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return validateName("product", p.Title, true)
}

func (p *Product) BeforeSave(tx *gorm.DB) error {
	return validateName("product", p.Title, false)
}

// ProductUnit is a sellable packaging of a product.
// Exactly one unit per product is the default and its PackQty is 1.
type ProductUnit struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_product_unit_barcode" json:"productId"`
	UnitID            uuid.UUID       `gorm:"type:uuid;not null;index" json:"unitId"`
	Barcode           string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_product_unit_barcode" json:"barcode"`
	PackQty           float64         `gorm:"not null;default:1" json:"packQty"`
	Price             decimal.Decimal `gorm:"type:numeric(14,3);not null;default:0" json:"price"`
	IsDefault         bool            `gorm:"not null;default:false;index" json:"isDefault"`
	Stock             float64         `gorm:"default:0" json:"stock"`
	PendingOdooQty    float64         `gorm:"not null;default:0;index" json:"pendingOdooQty"`
	OdooBarcodeUnitID *int64          `gorm:"index" json:"odooBarcodeUnitId,omitempty"`
	IsActive          bool            `gorm:"default:true" json:"isActive"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (ProductUnit) TableName() string { return "product_units" }

func (pu *ProductUnit) BeforeCreate(tx *gorm.DB) error {
	if pu.ID == uuid.Nil {
		pu.ID = uuid.New()
	}
	if pu.PackQty <= 0 {
		return fmt.Errorf("product unit %s: pack quantity must be positive", pu.Barcode)
	}
	if pu.IsDefault && pu.PackQty != 1 {
		return fmt.Errorf("product unit %s: default unit must have pack quantity 1", pu.Barcode)
	}
	return nil
}

func validateName(kind string, t LocalizedText, required bool) error {
	if t.IsZero() && !required {
		return nil
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s name: %w", kind, err)
	}
	return nil
}

// CatalogModels lists the store tables owned by the import engine
func CatalogModels() []interface{} {
	return []interface{}{
		&Category{},
		&Unit{},
		&Product{},
		&ProductUnit{},
	}
}
