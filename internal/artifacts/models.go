package artifacts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PurchaseOrderStatus tracks an outsourced purchase
type PurchaseOrderStatus string

const (
	PurchaseOrderApproved PurchaseOrderStatus = "approved"
	PurchaseOrderSupplied PurchaseOrderStatus = "supplied"
	PurchaseOrderUsed     PurchaseOrderStatus = "used"
)

// Valid reports whether s is a known purchase order status
func (s PurchaseOrderStatus) Valid() bool {
	switch s {
	case PurchaseOrderApproved, PurchaseOrderSupplied, PurchaseOrderUsed:
		return true
	}
	return false
}

// InventoryOrderStatus tracks items drawn from stock
type InventoryOrderStatus string

const (
	InventoryOrderPending InventoryOrderStatus = "pending"
	InventoryOrderUsed    InventoryOrderStatus = "used"
)

// Valid reports whether s is a known inventory order status
func (s InventoryOrderStatus) Valid() bool {
	return s == InventoryOrderPending || s == InventoryOrderUsed
}

// Report is the technician's assessment of a service request
type Report struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceRequestID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"service_request_id"`
	Title            string    `gorm:"size:100;not null" json:"title"`
	Description      string    `gorm:"type:text" json:"description"`
	NeedsOutsourcing bool      `gorm:"not null" json:"needs_outsourcing"`
	NeedsItems       bool      `gorm:"not null" json:"needs_items"`
	CreatedByID      uuid.UUID `gorm:"type:uuid;not null" json:"created_by_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PurchaseOrder references an external purchase raised from a report
type PurchaseOrder struct {
	ID              uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID        uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex" json:"report_id"`
	Report          *Report             `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"report,omitempty"`
	ReferenceNumber string              `gorm:"size:100;not null" json:"reference_number"`
	Status          PurchaseOrderStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedByID     uuid.UUID           `gorm:"type:uuid;not null" json:"created_by_id"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// InventoryOrder references a stock withdrawal raised from a report
type InventoryOrder struct {
	ID              uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID        uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex" json:"report_id"`
	Report          *Report              `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"report,omitempty"`
	ReferenceNumber string               `gorm:"size:100;not null" json:"reference_number"`
	Status          InventoryOrderStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedByID     uuid.UUID            `gorm:"type:uuid;not null" json:"created_by_id"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ChecklistItem is one line of a completion checklist
type ChecklistItem struct {
	Item string `json:"item"`
	Done bool   `json:"done"`
}

// CompletionReport closes out the work on a request
type CompletionReport struct {
	ID               uuid.UUID                          `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceRequestID uuid.UUID                          `gorm:"type:uuid;not null;index" json:"service_request_id"`
	ReportID         uuid.UUID                          `gorm:"type:uuid;not null;uniqueIndex" json:"report_id"`
	Report           *Report                            `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"report,omitempty"`
	Title            string                             `gorm:"size:100;not null" json:"title"`
	Description      string                             `gorm:"type:text" json:"description"`
	Checklist        datatypes.JSONSlice[ChecklistItem] `json:"checklist"`
	CreatedByID      uuid.UUID                          `gorm:"type:uuid;not null" json:"created_by_id"`
	CreatedAt        time.Time                          `json:"created_at"`
	UpdatedAt        time.Time                          `json:"updated_at"`
}

// Bundle gathers every artifact of one request
type Bundle struct {
	Report           *Report           `json:"report"`
	PurchaseOrder    *PurchaseOrder    `json:"purchase_order"`
	InventoryOrder   *InventoryOrder   `json:"inventory_order"`
	CompletionReport *CompletionReport `json:"completion_report"`
}

// Models lists the tables owned by this package, in migration order
func Models() []interface{} {
	return []interface{}{
		&Report{},
		&PurchaseOrder{},
		&InventoryOrder{},
		&CompletionReport{},
	}
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (r *Report) BeforeCreate(tx *gorm.DB) error           { assignID(&r.ID); return nil }
func (o *PurchaseOrder) BeforeCreate(tx *gorm.DB) error    { assignID(&o.ID); return nil }
func (o *InventoryOrder) BeforeCreate(tx *gorm.DB) error   { assignID(&o.ID); return nil }
func (c *CompletionReport) BeforeCreate(tx *gorm.DB) error { assignID(&c.ID); return nil }
