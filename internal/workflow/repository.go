package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"maintenance-portal/service-desk-backend/pkg/workflows"
)

// RequestFilter narrows service request queries
type RequestFilter struct {
	PipelineID    *uuid.UUID
	StationID     *uuid.UUID
	Unassigned    bool
	AssignedToID  *uuid.UUID
	CreatedByID   *uuid.UUID
	ManagedBy     *uuid.UUID
	EnteredBefore *time.Time
	ExcludeFinal  bool
	Limit         int
}

// Repository defines persistence for the workflow entities
type Repository interface {
	// WithTx runs fn against a repository bound to a single transaction
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]User, error)
	CreateSection(ctx context.Context, section *Section) error
	GetSection(ctx context.Context, id uuid.UUID) (*Section, error)
	CreateServiceProvider(ctx context.Context, provider *ServiceProvider) error
	GetServiceProvider(ctx context.Context, id uuid.UUID) (*ServiceProvider, error)

	CreateStation(ctx context.Context, station *Station) error
	UpdateStation(ctx context.Context, station *Station) error
	GetStation(ctx context.Context, id uuid.UUID) (*Station, error)
	GetStationByName(ctx context.Context, name string) (*Station, error)
	ListStations(ctx context.Context) ([]Station, error)
	DeleteStation(ctx context.Context, id uuid.UUID) error

	CreatePipeline(ctx context.Context, pipeline *Pipeline) error
	GetPipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error)
	GetPipelineByName(ctx context.Context, name string) (*Pipeline, error)
	ListPipelines(ctx context.Context, activeOnly bool) ([]Pipeline, error)
	DeletePipeline(ctx context.Context, id uuid.UUID) error

	CreatePipelineStation(ctx context.Context, ps *PipelineStation) error
	GetPipelineStation(ctx context.Context, pipelineID, stationID uuid.UUID) (*PipelineStation, error)
	ListPipelineStations(ctx context.Context, pipelineID uuid.UUID) ([]PipelineStation, error)
	ListBindingsForStation(ctx context.Context, stationID uuid.UUID) ([]PipelineStation, error)
	ListAllBindings(ctx context.Context) ([]PipelineStation, error)
	UpdatePolicy(ctx context.Context, id uuid.UUID, policy StationPolicy) error
	ReplaceAllowedUsers(ctx context.Context, ps *PipelineStation, users []User) error
	UpdateOrders(ctx context.Context, pipelineID uuid.UUID, steps []workflows.Step) error
	DeletePipelineStation(ctx context.Context, ps *PipelineStation) error

	CreateRequest(ctx context.Context, req *ServiceRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]ServiceRequest, error)
	CountRequests(ctx context.Context, filter RequestFilter) (int64, error)
	HasDuplicate(ctx context.Context, req *ServiceRequest) (bool, error)
	// SaveRequestState persists workflow fields if the stored version still equals expectedVersion
	SaveRequestState(ctx context.Context, req *ServiceRequest, expectedVersion int) error

	AppendLog(ctx context.Context, log *ServiceRequestLog) error
	NextLogSequence(ctx context.Context, requestID uuid.UUID) (int64, error)
	ListLogs(ctx context.Context, requestID uuid.UUID) ([]ServiceRequestLog, error)
	DetachLogsFromStation(ctx context.Context, stationID uuid.UUID) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed workflow repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// ============================================================================
// Users, sections, providers
// ============================================================================

func (r *gormRepository) CreateUser(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *gormRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (r *gormRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (r *gormRepository) ListUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]User, error) {
	var users []User
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("username ASC").Find(&users).Error
	return users, err
}

func (r *gormRepository) CreateSection(ctx context.Context, section *Section) error {
	return r.db.WithContext(ctx).Create(section).Error
}

func (r *gormRepository) GetSection(ctx context.Context, id uuid.UUID) (*Section, error) {
	var section Section
	if err := r.db.WithContext(ctx).Preload("Managers").First(&section, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "section")
	}
	return &section, nil
}

func (r *gormRepository) CreateServiceProvider(ctx context.Context, provider *ServiceProvider) error {
	return r.db.WithContext(ctx).Create(provider).Error
}

func (r *gormRepository) GetServiceProvider(ctx context.Context, id uuid.UUID) (*ServiceProvider, error) {
	var provider ServiceProvider
	if err := r.db.WithContext(ctx).Preload("Managers").First(&provider, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "service provider")
	}
	return &provider, nil
}

// ============================================================================
// Stations and pipelines
// ============================================================================

func (r *gormRepository) CreateStation(ctx context.Context, station *Station) error {
	return r.db.WithContext(ctx).Create(station).Error
}

func (r *gormRepository) UpdateStation(ctx context.Context, station *Station) error {
	return r.db.WithContext(ctx).Save(station).Error
}

func (r *gormRepository) GetStation(ctx context.Context, id uuid.UUID) (*Station, error) {
	var station Station
	if err := r.db.WithContext(ctx).First(&station, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "station")
	}
	return &station, nil
}

func (r *gormRepository) GetStationByName(ctx context.Context, name string) (*Station, error) {
	var station Station
	if err := r.db.WithContext(ctx).First(&station, "name = ?", name).Error; err != nil {
		return nil, notFound(err, "station")
	}
	return &station, nil
}

func (r *gormRepository) ListStations(ctx context.Context) ([]Station, error) {
	var stations []Station
	err := r.db.WithContext(ctx).Order("sort_order ASC, name ASC").Find(&stations).Error
	return stations, err
}

func (r *gormRepository) DeleteStation(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&Station{}, "id = ?", id).Error
}

func (r *gormRepository) CreatePipeline(ctx context.Context, pipeline *Pipeline) error {
	return r.db.WithContext(ctx).Omit("Stations").Create(pipeline).Error
}

func (r *gormRepository) GetPipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error) {
	var pipeline Pipeline
	if err := r.db.WithContext(ctx).Preload("Sections").First(&pipeline, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "pipeline")
	}
	return &pipeline, nil
}

func (r *gormRepository) GetPipelineByName(ctx context.Context, name string) (*Pipeline, error) {
	var pipeline Pipeline
	if err := r.db.WithContext(ctx).First(&pipeline, "name = ?", name).Error; err != nil {
		return nil, notFound(err, "pipeline")
	}
	return &pipeline, nil
}

func (r *gormRepository) ListPipelines(ctx context.Context, activeOnly bool) ([]Pipeline, error) {
	var pipelines []Pipeline
	db := r.db.WithContext(ctx).Preload("Sections").Order("name ASC")
	if activeOnly {
		db = db.Where("is_active = ?", true)
	}
	err := db.Find(&pipelines).Error
	return pipelines, err
}

func (r *gormRepository) DeletePipeline(ctx context.Context, id uuid.UUID) error {
	pipeline := Pipeline{ID: id}
	return r.db.WithContext(ctx).Select("Sections").Delete(&pipeline).Error
}

// ============================================================================
// Pipeline stations
// ============================================================================

func (r *gormRepository) CreatePipelineStation(ctx context.Context, ps *PipelineStation) error {
	return r.db.WithContext(ctx).Omit("Station").Create(ps).Error
}

func (r *gormRepository) GetPipelineStation(ctx context.Context, pipelineID, stationID uuid.UUID) (*PipelineStation, error) {
	var ps PipelineStation
	err := r.db.WithContext(ctx).
		Preload("Station").
		Preload("AllowedUsers").
		Where("pipeline_id = ? AND station_id = ?", pipelineID, stationID).
		First(&ps).Error
	if err != nil {
		return nil, notFound(err, "pipeline station")
	}
	return &ps, nil
}

func (r *gormRepository) ListPipelineStations(ctx context.Context, pipelineID uuid.UUID) ([]PipelineStation, error) {
	var bindings []PipelineStation
	err := r.db.WithContext(ctx).
		Preload("Station").
		Preload("AllowedUsers").
		Where("pipeline_id = ?", pipelineID).
		Order("sort_order ASC").
		Find(&bindings).Error
	return bindings, err
}

func (r *gormRepository) ListBindingsForStation(ctx context.Context, stationID uuid.UUID) ([]PipelineStation, error) {
	var bindings []PipelineStation
	err := r.db.WithContext(ctx).
		Preload("AllowedUsers").
		Where("station_id = ?", stationID).
		Find(&bindings).Error
	return bindings, err
}

func (r *gormRepository) ListAllBindings(ctx context.Context) ([]PipelineStation, error) {
	var bindings []PipelineStation
	err := r.db.WithContext(ctx).
		Preload("Station").
		Preload("AllowedUsers").
		Order("pipeline_id ASC, sort_order ASC").
		Find(&bindings).Error
	return bindings, err
}

func (r *gormRepository) UpdatePolicy(ctx context.Context, id uuid.UUID, policy StationPolicy) error {
	return r.db.WithContext(ctx).Model(&PipelineStation{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"can_skip":                     policy.CanSkip,
			"can_create_purchase_order":    policy.CanCreatePurchaseOrder,
			"can_create_inventory_order":   policy.CanCreateInventoryOrder,
			"can_create_completion_report": policy.CanCreateCompletionReport,
			"can_send_back":                policy.CanSendBack,
			"can_edit_completion_report":   policy.CanEditCompletionReport,
			"can_edit_purchase_order":      policy.CanEditPurchaseOrder,
			"can_edit_inventory_order":     policy.CanEditInventoryOrder,
			"show_assigned_requests":       policy.ShowAssignedRequests,
			"show_the_managers_only":       policy.ShowTheManagersOnly,
			"required_role":                policy.RequiredRole,
		}).Error
}

func (r *gormRepository) ReplaceAllowedUsers(ctx context.Context, ps *PipelineStation, users []User) error {
	assoc := r.db.WithContext(ctx).Model(ps).Association("AllowedUsers")
	if len(users) == 0 {
		return assoc.Clear()
	}
	return assoc.Replace(users)
}

// UpdateOrders rewrites positions in two passes so the (pipeline, order) unique index never collides
func (r *gormRepository) UpdateOrders(ctx context.Context, pipelineID uuid.UUID, steps []workflows.Step) error {
	for i, step := range steps {
		err := r.db.WithContext(ctx).Model(&PipelineStation{}).
			Where("pipeline_id = ? AND station_id = ?", pipelineID, step.Key).
			Update("sort_order", -(i + 1)).Error
		if err != nil {
			return err
		}
	}
	for _, step := range steps {
		err := r.db.WithContext(ctx).Model(&PipelineStation{}).
			Where("pipeline_id = ? AND station_id = ?", pipelineID, step.Key).
			Update("sort_order", step.Order).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *gormRepository) DeletePipelineStation(ctx context.Context, ps *PipelineStation) error {
	return r.db.WithContext(ctx).Select("AllowedUsers").Delete(ps).Error
}

// ============================================================================
// Service requests
// ============================================================================

func (r *gormRepository) CreateRequest(ctx context.Context, req *ServiceRequest) error {
	return r.db.WithContext(ctx).
		Omit("Section", "ServiceProvider", "Pipeline", "CurrentStation", "CreatedBy", "UpdatedBy", "AssignedTo", "Logs").
		Create(req).Error
}

func (r *gormRepository) GetRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	var req ServiceRequest
	err := r.db.WithContext(ctx).
		Preload("Section.Managers").
		Preload("ServiceProvider.Managers").
		Preload("Pipeline").
		Preload("CurrentStation").
		Preload("CreatedBy").
		Preload("UpdatedBy").
		Preload("AssignedTo").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "service request")
	}
	return &req, nil
}

func (r *gormRepository) applyFilter(db *gorm.DB, f RequestFilter) *gorm.DB {
	if f.PipelineID != nil {
		db = db.Where("pipeline_id = ?", *f.PipelineID)
	}
	if f.StationID != nil {
		db = db.Where("current_station_id = ?", *f.StationID)
	}
	if f.Unassigned {
		db = db.Where("pipeline_id IS NULL")
	}
	if f.AssignedToID != nil {
		db = db.Where("assigned_to_id = ?", *f.AssignedToID)
	}
	if f.CreatedByID != nil {
		db = db.Where("created_by_id = ?", *f.CreatedByID)
	}
	if f.ManagedBy != nil {
		managed := r.db.Table("section_managers").Select("section_id").Where("user_id = ?", *f.ManagedBy)
		db = db.Where("section_id IN (?)", managed)
	}
	if f.EnteredBefore != nil {
		db = db.Where("station_entered_at < ?", *f.EnteredBefore)
	}
	if f.ExcludeFinal {
		finals := r.db.Model(&Station{}).Select("id").Where("is_final = ?", true)
		db = db.Where("current_station_id IS NOT NULL AND current_station_id NOT IN (?)", finals)
	}
	return db
}

func (r *gormRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]ServiceRequest, error) {
	var requests []ServiceRequest
	db := r.applyFilter(r.db.WithContext(ctx).Model(&ServiceRequest{}), filter).
		Preload("Section.Managers").
		Preload("CurrentStation").
		Preload("CreatedBy").
		Preload("AssignedTo").
		Order("created_at DESC")
	if filter.Limit > 0 {
		db = db.Limit(filter.Limit)
	}
	err := db.Find(&requests).Error
	return requests, err
}

func (r *gormRepository) CountRequests(ctx context.Context, filter RequestFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&ServiceRequest{}), filter).Count(&count).Error
	return count, err
}

func (r *gormRepository) HasDuplicate(ctx context.Context, req *ServiceRequest) (bool, error) {
	var count int64
	db := r.db.WithContext(ctx).Model(&ServiceRequest{}).
		Where("title = ? AND description = ? AND section_id = ? AND created_by_id = ?",
			req.Title, req.Description, req.SectionID, req.CreatedByID)
	if req.ServiceProviderID != nil {
		db = db.Where("service_provider_id = ?", *req.ServiceProviderID)
	} else {
		db = db.Where("service_provider_id IS NULL")
	}
	if err := db.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) SaveRequestState(ctx context.Context, req *ServiceRequest, expectedVersion int) error {
	result := r.db.WithContext(ctx).Model(&ServiceRequest{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Updates(map[string]interface{}{
			"pipeline_id":        req.PipelineID,
			"current_station_id": req.CurrentStationID,
			"station_entered_at": req.StationEnteredAt,
			"updated_by_id":      req.UpdatedByID,
			"assigned_to_id":     req.AssignedToID,
			"version":            expectedVersion + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save service request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	req.Version = expectedVersion + 1
	return nil
}

// ============================================================================
// Audit log
// ============================================================================

func (r *gormRepository) AppendLog(ctx context.Context, log *ServiceRequestLog) error {
	return r.db.WithContext(ctx).
		Omit("FromStation", "ToStation", "CreatedBy").
		Create(log).Error
}

func (r *gormRepository) NextLogSequence(ctx context.Context, requestID uuid.UUID) (int64, error) {
	var last int64
	err := r.db.WithContext(ctx).Model(&ServiceRequestLog{}).
		Where("service_request_id = ?", requestID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *gormRepository) ListLogs(ctx context.Context, requestID uuid.UUID) ([]ServiceRequestLog, error) {
	var logs []ServiceRequestLog
	err := r.db.WithContext(ctx).
		Preload("FromStation").
		Preload("ToStation").
		Preload("CreatedBy").
		Where("service_request_id = ?", requestID).
		Order("created_at DESC, sequence DESC").
		Find(&logs).Error
	return logs, err
}

// DetachLogsFromStation nulls station references so logs outlive a deleted station
func (r *gormRepository) DetachLogsFromStation(ctx context.Context, stationID uuid.UUID) error {
	db := r.db.WithContext(ctx).Session(&gorm.Session{SkipHooks: true})
	if err := db.Model(&ServiceRequestLog{}).Where("from_station_id = ?", stationID).
		Update("from_station_id", nil).Error; err != nil {
		return err
	}
	return db.Model(&ServiceRequestLog{}).Where("to_station_id = ?", stationID).
		Update("to_station_id", nil).Error
}
