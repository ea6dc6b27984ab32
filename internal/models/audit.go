package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncLogStatus tracks a fetch run
type SyncLogStatus string

const (
	SyncLogStarted    SyncLogStatus = "started"
	SyncLogInProgress SyncLogStatus = "in_progress"
	SyncLogCompleted  SyncLogStatus = "completed"
	SyncLogFailed     SyncLogStatus = "failed"
)

// SyncLog records each fetch run against Odoo
type SyncLog struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Operation   string                      `gorm:"type:varchar(50);not null;index" json:"operation"` // "fetch"
	DataTypes   datatypes.JSONSlice[string] `json:"dataTypes"`
	Incremental bool                        `json:"incremental"`
	Status      SyncLogStatus               `gorm:"type:varchar(20);not null;index" json:"status"`
	Total       int                         `gorm:"default:0" json:"total"`
	Successful  int                         `gorm:"default:0" json:"successful"`
	Failed      int                         `gorm:"default:0" json:"failed"`
	DurationMs  int64                       `gorm:"default:0" json:"durationMs"`
	StartedAt   time.Time                   `gorm:"not null" json:"startedAt"`
	CompletedAt *time.Time                  `json:"completedAt"`
	ErrorDetail string                      `gorm:"type:text" json:"errorDetail,omitempty"`
	Details     datatypes.JSON              `json:"details,omitempty"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

func (SyncLog) TableName() string { return "odoo_sync_logs" }

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// StockPushStatus is the state of a push-back session
type StockPushStatus string

const (
	PushInProgress StockPushStatus = "in_progress"
	PushCompleted  StockPushStatus = "completed"
	PushPartial    StockPushStatus = "partial"
	PushFailed     StockPushStatus = "failed"
)

// StockPushSession audits one push-back run
type StockPushSession struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Status      StockPushStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	Total       int              `json:"total"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	StartedAt   time.Time        `gorm:"not null" json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt"`
	Entries     []StockPushEntry `gorm:"foreignKey:SessionID" json:"entries,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func (StockPushSession) TableName() string { return "stock_push_sessions" }

func (s *StockPushSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Push entry outcomes
const (
	PushEntrySuccess = "success"
	PushEntryFailed  = "failed"
)

// StockPushEntry is one append-only outcome line of a session
type StockPushEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     uuid.UUID `gorm:"type:uuid;not null;index" json:"sessionId"`
	ProductUnitID uuid.UUID `gorm:"type:uuid;not null;index" json:"productUnitId"`
	OdooProductID int64     `json:"odooProductId"`
	Quantity      float64   `json:"quantity"`
	BeforeQty     float64   `json:"beforeQty"`
	AfterQty      float64   `json:"afterQty"`
	Status        string    `gorm:"type:varchar(20);not null" json:"status"`
	Error         string    `gorm:"type:text" json:"error,omitempty"`
	PickingID     int64     `json:"pickingId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (StockPushEntry) TableName() string { return "stock_push_entries" }

func (e *StockPushEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Combo movement states
const (
	ComboPending = "pending"
	ComboPushed  = "pushed"
)

// ComboMovement logs stock consumed through a combo deal. Pending rows carry the
// Odoo product the movement must be booked against.
type ComboMovement struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductUnitID uuid.UUID `gorm:"type:uuid;not null;index" json:"productUnitId"`
	OdooProductID int64     `gorm:"not null" json:"odooProductId"`
	Quantity      float64   `json:"quantity"`
	Status        string    `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (ComboMovement) TableName() string { return "combo_movements" }

func (m *ComboMovement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// AllModels lists every table of the service for AutoMigrate
func AllModels() []interface{} {
	all := StagingModels()
	all = append(all, CatalogModels()...)
	return append(all,
		&Promotion{},
		&SyncLog{},
		&StockPushSession{},
		&StockPushEntry{},
		&ComboMovement{},
	)
}
