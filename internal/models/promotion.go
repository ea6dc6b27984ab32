package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PromotionType enumerates store promotion kinds
type PromotionType string

const (
	PromotionFixedPrice    PromotionType = "fixed_price"
	PromotionBulkPurchase  PromotionType = "bulk_purchase"
	PromotionAssortedItems PromotionType = "assorted_items"
)

// Promotion is a store promotion. At most one active fixed_price promotion
// exists per product unit; duplicates are merged by the promotion importer.
type Promotion struct {
	ID                  uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	Type                PromotionType                  `gorm:"type:varchar(32);not null;index:idx_promotion_target" json:"type"`
	Name                LocalizedText                  `gorm:"embedded;embeddedPrefix:name_" json:"name"`
	ProductUnitID       *uuid.UUID                     `gorm:"type:uuid;index:idx_promotion_target" json:"productUnitId"`
	ProductUnitIDs      datatypes.JSONSlice[uuid.UUID] `json:"productUnitIds,omitempty"` // assorted_items
	Value               decimal.Decimal                `gorm:"type:numeric(14,3);not null;default:0" json:"value"`
	MinQuantity         float64                        `gorm:"default:0" json:"minQuantity"`
	StartsAt            *time.Time                     `json:"startsAt"`
	EndsAt              *time.Time                     `json:"endsAt"`
	IsActive            bool                           `gorm:"default:true;index" json:"isActive"`
	OdooPricelistItemID *int64                         `gorm:"index" json:"odooPricelistItemId,omitempty"`
	CreatedAt           time.Time                      `json:"createdAt"`
	UpdatedAt           time.Time                      `json:"updatedAt"`
}

func (Promotion) TableName() string { return "promotions" }

func (p *Promotion) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	switch p.Type {
	case PromotionFixedPrice, PromotionBulkPurchase:
		if p.ProductUnitID == nil {
			return fmt.Errorf("%s promotion requires a product unit", p.Type)
		}
	case PromotionAssortedItems:
		if len(p.ProductUnitIDs) == 0 {
			return fmt.Errorf("assorted_items promotion requires product units")
		}
	default:
		return fmt.Errorf("unknown promotion type %q", p.Type)
	}
	if p.Value.IsNegative() {
		return fmt.Errorf("promotion value cannot be negative")
	}
	return validateName("promotion", p.Name, false)
}

// SameWindow reports whether the validity window equals [start, end]
func (p Promotion) SameWindow(start, end *time.Time) bool {
	return sameTime(p.StartsAt, start) && sameTime(p.EndsAt, end)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
