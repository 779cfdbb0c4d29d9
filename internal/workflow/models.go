package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LogType classifies audit log entries
type LogType string

const (
	LogTypeComment       LogType = "comment"
	LogTypeStationChange LogType = "station_change"
	LogTypeAssignment    LogType = "assignment"
	LogTypeUpdate        LogType = "update"
)

// Status is the derived lifecycle status of a service request
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// User is a person who can act on or be notified about requests
type User struct {
	ID           uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string                      `gorm:"size:150;uniqueIndex;not null" json:"username"`
	FullName     string                      `gorm:"size:255" json:"full_name"`
	Phone        string                      `gorm:"size:32" json:"phone,omitempty"`
	Email        string                      `gorm:"size:255" json:"email,omitempty"`
	PasswordHash string                      `gorm:"size:255" json:"-"`
	Groups       datatypes.JSONSlice[string] `json:"groups,omitempty"`
	IsSuperuser  bool                        `json:"is_superuser"`
	CreatedAt    time.Time                   `json:"created_at"`
}

// DisplayName returns the full name, falling back to the username
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Actor returns the identity u acts with
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Username: u.Username, Groups: []string(u.Groups), IsSuperuser: u.IsSuperuser}
}

// Section is an organizational unit owning requests
type Section struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string    `gorm:"size:255;not null" json:"name"`
	NameAr   string    `gorm:"size:255" json:"name_ar"`
	Managers []User    `gorm:"many2many:section_managers;" json:"managers,omitempty"`
}

// ServiceProvider is the department that fulfils requests
type ServiceProvider struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string    `gorm:"size:255;not null" json:"name"`
	NameAr   string    `gorm:"size:255" json:"name_ar"`
	Managers []User    `gorm:"many2many:service_provider_managers;" json:"managers,omitempty"`
}

// Station is a workflow stage that can be shared by many pipelines
type Station struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	NameAr      string    `gorm:"size:100" json:"name_ar"`
	Description string    `gorm:"type:text" json:"description"`
	IsInitial   bool      `gorm:"not null" json:"is_initial"`
	IsFinal     bool      `gorm:"not null" json:"is_final"`
	Color       string    `gorm:"size:7" json:"color"`
	SortOrder   int       `gorm:"column:sort_order;not null" json:"order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Pipeline is a named, ordered workflow template
type Pipeline struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string            `gorm:"size:100;not null" json:"name"`
	NameAr      string            `gorm:"size:100" json:"name_ar"`
	Description string            `gorm:"type:text" json:"description"`
	IsActive    bool              `gorm:"not null;index" json:"is_active"`
	Sections    []Section         `gorm:"many2many:pipeline_sections;" json:"sections,omitempty"`
	Stations    []PipelineStation `gorm:"foreignKey:PipelineID;constraint:OnDelete:CASCADE" json:"stations,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// StationPolicy carries the per-pipeline flags of a bound station
type StationPolicy struct {
	CanSkip                   bool   `gorm:"not null" json:"can_skip"`
	CanCreatePurchaseOrder    bool   `gorm:"not null" json:"can_create_purchase_order"`
	CanCreateInventoryOrder   bool   `gorm:"not null" json:"can_create_inventory_order"`
	CanCreateCompletionReport bool   `gorm:"not null" json:"can_create_completion_report"`
	CanSendBack               bool   `gorm:"not null" json:"can_send_back"`
	CanEditCompletionReport   bool   `gorm:"not null" json:"can_edit_completion_report"`
	CanEditPurchaseOrder      bool   `gorm:"not null" json:"can_edit_purchase_order"`
	CanEditInventoryOrder     bool   `gorm:"not null" json:"can_edit_inventory_order"`
	ShowAssignedRequests      bool   `gorm:"not null" json:"show_assigned_requests"`
	ShowTheManagersOnly       bool   `gorm:"not null" json:"show_the_managers_only"`
	RequiredRole              string `gorm:"size:150" json:"required_role,omitempty"`
}

// PipelineStation binds a station into a pipeline at a position
type PipelineStation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PipelineID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_pipeline_station_member;uniqueIndex:idx_pipeline_station_position" json:"pipeline_id"`
	StationID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_pipeline_station_member;index" json:"station_id"`
	Station       *Station  `gorm:"foreignKey:StationID;constraint:OnDelete:CASCADE" json:"station,omitempty"`
	Order         int       `gorm:"column:sort_order;not null;uniqueIndex:idx_pipeline_station_position" json:"order"`
	StationPolicy `gorm:"embedded"`
	AllowedUsers  []User `gorm:"many2many:pipeline_station_allowed_users;" json:"allowed_users"`
}

// Unrestricted reports whether the binding has no allowed-users restriction
func (ps *PipelineStation) Unrestricted() bool {
	return len(ps.AllowedUsers) == 0
}

// Allows reports whether userID may act at this binding
func (ps *PipelineStation) Allows(userID uuid.UUID) bool {
	if ps.Unrestricted() {
		return true
	}
	for _, u := range ps.AllowedUsers {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// ServiceRequest is a ticket routed through a pipeline
type ServiceRequest struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	Title             string              `gorm:"size:255;not null" json:"title"`
	Description       string              `gorm:"type:text" json:"description"`
	SectionID         uuid.UUID           `gorm:"type:uuid;not null;index" json:"section_id"`
	Section           *Section            `gorm:"foreignKey:SectionID" json:"section,omitempty"`
	ServiceProviderID *uuid.UUID          `gorm:"type:uuid;index" json:"service_provider_id,omitempty"`
	ServiceProvider   *ServiceProvider    `gorm:"foreignKey:ServiceProviderID" json:"service_provider,omitempty"`
	PipelineID        *uuid.UUID          `gorm:"type:uuid;index" json:"pipeline_id,omitempty"`
	Pipeline          *Pipeline           `gorm:"foreignKey:PipelineID;constraint:OnDelete:RESTRICT" json:"pipeline,omitempty"`
	CurrentStationID  *uuid.UUID          `gorm:"type:uuid;index" json:"current_station_id,omitempty"`
	CurrentStation    *Station            `gorm:"foreignKey:CurrentStationID;constraint:OnDelete:RESTRICT" json:"current_station,omitempty"`
	StationEnteredAt  *time.Time          `json:"station_entered_at,omitempty"`
	CreatedByID       uuid.UUID           `gorm:"type:uuid;not null;index" json:"created_by_id"`
	CreatedBy         *User               `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	UpdatedByID       *uuid.UUID          `gorm:"type:uuid" json:"updated_by_id,omitempty"`
	UpdatedBy         *User               `gorm:"foreignKey:UpdatedByID" json:"updated_by,omitempty"`
	AssignedToID      *uuid.UUID          `gorm:"type:uuid;index" json:"assigned_to_id,omitempty"`
	AssignedTo        *User               `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
	Version           int                 `gorm:"not null" json:"version"`
	Logs              []ServiceRequestLog `gorm:"foreignKey:ServiceRequestID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// State is where a request sits in the workflow: Unassigned or InPipeline
type State interface {
	isState()
}

// Unassigned is a request with no pipeline and no station
type Unassigned struct{}

// InPipeline is a request positioned at a station of its pipeline
type InPipeline struct {
	PipelineID uuid.UUID
	StationID  uuid.UUID
}

func (Unassigned) isState() {}
func (InPipeline) isState() {}

// State returns the workflow placement of the request
func (r *ServiceRequest) State() State {
	if r.PipelineID == nil || r.CurrentStationID == nil {
		return Unassigned{}
	}
	return InPipeline{PipelineID: *r.PipelineID, StationID: *r.CurrentStationID}
}

// place moves the request to p, keeping pipeline and station set together
func (r *ServiceRequest) place(p InPipeline, station *Station, at time.Time) {
	pipelineID, stationID := p.PipelineID, p.StationID
	r.PipelineID = &pipelineID
	r.CurrentStationID = &stationID
	r.CurrentStation = station
	r.StationEnteredAt = &at
}

// Status derives pending/in_progress/completed from the current station
func (r *ServiceRequest) Status() Status {
	if _, ok := r.State().(InPipeline); !ok {
		return StatusPending
	}
	return StatusOf(r.CurrentStation)
}

// IsCompleted reports whether the request sits at a final station
func (r *ServiceRequest) IsCompleted() bool {
	return r.CurrentStation != nil && r.CurrentStation.IsFinal
}

// StatusOf maps a station to the status of a request sitting at it
func StatusOf(station *Station) Status {
	switch {
	case station == nil || station.IsInitial:
		return StatusPending
	case station.IsFinal:
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// ServiceRequestLog is an immutable audit record
type ServiceRequestLog struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceRequestID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_request_log_sequence" json:"service_request_id"`
	Sequence         int64      `gorm:"not null;uniqueIndex:idx_request_log_sequence" json:"sequence"`
	FromStationID    *uuid.UUID `gorm:"type:uuid" json:"from_station_id,omitempty"`
	FromStation      *Station   `gorm:"foreignKey:FromStationID;constraint:OnDelete:SET NULL" json:"from_station,omitempty"`
	ToStationID      *uuid.UUID `gorm:"type:uuid" json:"to_station_id,omitempty"`
	ToStation        *Station   `gorm:"foreignKey:ToStationID;constraint:OnDelete:SET NULL" json:"to_station,omitempty"`
	LogType          LogType    `gorm:"size:20;not null;index" json:"log_type"`
	Comment          string     `gorm:"type:text" json:"comment"`
	CreatedByID      uuid.UUID  `gorm:"type:uuid;not null" json:"created_by_id"`
	CreatedBy        *User      `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;index" json:"created_at"`
}

// Models lists every table owned by this package, in migration order
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Section{},
		&ServiceProvider{},
		&Station{},
		&Pipeline{},
		&PipelineStation{},
		&ServiceRequest{},
		&ServiceRequestLog{},
	}
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (u *User) BeforeCreate(tx *gorm.DB) error { assignID(&u.ID); return nil }
func (s *Section) BeforeCreate(tx *gorm.DB) error { assignID(&s.ID); return nil }
func (sp *ServiceProvider) BeforeCreate(tx *gorm.DB) error { assignID(&sp.ID); return nil }
func (s *Station) BeforeCreate(tx *gorm.DB) error { assignID(&s.ID); return nil }
func (p *Pipeline) BeforeCreate(tx *gorm.DB) error { assignID(&p.ID); return nil }
func (ps *PipelineStation) BeforeCreate(tx *gorm.DB) error { assignID(&ps.ID); return nil }

func (r *ServiceRequest) BeforeCreate(tx *gorm.DB) error {
	assignID(&r.ID)
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

func (l *ServiceRequestLog) BeforeCreate(tx *gorm.DB) error {
	assignID(&l.ID)
	return nil
}

// BeforeUpdate blocks edits to audit records
func (l *ServiceRequestLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableLog
}

// BeforeDelete blocks deletion of audit records
func (l *ServiceRequestLog) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableLog
}
