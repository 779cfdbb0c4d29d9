package notifications

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DeliveryLog records one attempt to deliver an event to one recipient
type DeliveryLog struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	EventID    uuid.UUID      `json:"event_id" gorm:"type:uuid;not null;index"`
	EventKind  string         `json:"event_kind" gorm:"size:50;not null"`
	RequestID  uuid.UUID      `json:"request_id" gorm:"type:uuid;not null;index"`
	UserID     uuid.UUID      `json:"user_id" gorm:"type:uuid;not null;index"`
	Provider   string         `json:"provider" gorm:"size:20;not null"`
	Address    string         `json:"address" gorm:"size:255"`
	Status     string         `json:"status" gorm:"size:20;not null"`
	ProviderID string         `json:"provider_id,omitempty" gorm:"size:255"`
	Error      string         `json:"error,omitempty" gorm:"type:text"`
	Payload    datatypes.JSON `json:"payload"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (d *DeliveryLog) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Delivery statuses
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Models lists the tables owned by this package, for migration
func Models() []interface{} {
	return []interface{}{&DeliveryLog{}}
}
