package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/pkg/workflows"
)

// StationInput carries the editable attributes of a station
type StationInput struct {
	Name        string `json:"name" binding:"required"`
	NameAr      string `json:"name_ar"`
	Description string `json:"description"`
	IsInitial   bool   `json:"is_initial"`
	IsFinal     bool   `json:"is_final"`
	Color       string `json:"color"`
	Order       int    `json:"order"`
}

// BindingInput places a station into a pipeline with its policy
type BindingInput struct {
	StationID      uuid.UUID     `json:"station_id" binding:"required"`
	Policy         StationPolicy `json:"policy"`
	AllowedUserIDs []uuid.UUID   `json:"allowed_user_ids"`
}

// PipelineInput creates a pipeline with its stations in order
type PipelineInput struct {
	Name        string         `json:"name" binding:"required"`
	NameAr      string         `json:"name_ar"`
	Description string         `json:"description"`
	Active      *bool          `json:"is_active"`
	SectionIDs  []uuid.UUID    `json:"section_ids"`
	Stations    []BindingInput `json:"stations"`
}

// layout is the ordered view of one pipeline's bindings
type layout struct {
	seq       *workflows.Sequence
	byStation map[uuid.UUID]*PipelineStation
}

func newLayout(bindings []PipelineStation) (*layout, error) {
	steps := make([]workflows.Step, len(bindings))
	byStation := make(map[uuid.UUID]*PipelineStation, len(bindings))
	for i := range bindings {
		steps[i] = workflows.Step{Key: bindings[i].StationID, Order: bindings[i].Order}
		byStation[bindings[i].StationID] = &bindings[i]
	}
	seq, err := workflows.NewSequence(steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	return &layout{seq: seq, byStation: byStation}, nil
}

func (l *layout) binding(step workflows.Step, ok bool) *PipelineStation {
	if !ok {
		return nil
	}
	return l.byStation[step.Key]
}

func (l *layout) first() *PipelineStation { return l.binding(l.seq.First()) }
func (l *layout) next(stationID uuid.UUID) *PipelineStation { return l.binding(l.seq.Next(stationID)) }
func (l *layout) previous(stationID uuid.UUID) *PipelineStation { return l.binding(l.seq.Previous(stationID)) }

// Topology answers ordering questions about pipelines and edits their station layout
type Topology struct {
	repo   Repository
	logger *zap.Logger
}

// NewTopology creates a new topology store
func NewTopology(repo Repository, logger *zap.Logger) *Topology {
	return &Topology{repo: repo, logger: logger}
}

func (t *Topology) layoutOf(ctx context.Context, pipelineID uuid.UUID) (*layout, error) {
	bindings, err := t.repo.ListPipelineStations(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline stations: %w", err)
	}
	return newLayout(bindings)
}

// Bindings returns the pipeline's bindings sorted by order
func (t *Topology) Bindings(ctx context.Context, pipelineID uuid.UUID) ([]PipelineStation, error) {
	bindings, err := t.repo.ListPipelineStations(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline stations: %w", err)
	}
	return bindings, nil
}

// OrderedStations returns the pipeline's stations ascending by position
func (t *Topology) OrderedStations(ctx context.Context, pipelineID uuid.UUID) ([]Station, error) {
	bindings, err := t.Bindings(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	stations := make([]Station, 0, len(bindings))
	for _, b := range bindings {
		if b.Station != nil {
			stations = append(stations, *b.Station)
		}
	}
	return stations, nil
}

// InitialStation returns the first station of the pipeline, or nil when it has none
func (t *Topology) InitialStation(ctx context.Context, pipelineID uuid.UUID) (*Station, error) {
	l, err := t.layoutOf(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if first := l.first(); first != nil {
		return first.Station, nil
	}
	return nil, nil
}

// StationPosition returns the binding of station in pipeline, or ErrNotFound
func (t *Topology) StationPosition(ctx context.Context, pipelineID, stationID uuid.UUID) (*PipelineStation, error) {
	return t.repo.GetPipelineStation(ctx, pipelineID, stationID)
}

// ============================================================================
// Authoring
// ============================================================================

// ListStations returns all stations in display order
func (t *Topology) ListStations(ctx context.Context) ([]Station, error) {
	return t.repo.ListStations(ctx)
}

// CreateStation adds a station to the catalogue
func (t *Topology) CreateStation(ctx context.Context, in StationInput) (*Station, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: station name is required", ErrInvalidTopology)
	}
	station := &Station{
		Name:        in.Name,
		NameAr:      in.NameAr,
		Description: in.Description,
		IsInitial:   in.IsInitial,
		IsFinal:     in.IsFinal,
		Color:       in.Color,
		SortOrder:   in.Order,
	}
	if err := t.repo.CreateStation(ctx, station); err != nil {
		return nil, fmt.Errorf("failed to create station: %w", err)
	}

	t.logger.Info("Station created", zap.String("station_id", station.ID.String()), zap.String("name", station.Name))
	return station, nil
}

// UpdateStation edits a station in place; pipelines referencing it see the change immediately
func (t *Topology) UpdateStation(ctx context.Context, id uuid.UUID, in StationInput) (*Station, error) {
	station, err := t.repo.GetStation(ctx, id)
	if err != nil {
		return nil, err
	}
	station.Name = in.Name
	station.NameAr = in.NameAr
	station.Description = in.Description
	station.IsInitial = in.IsInitial
	station.IsFinal = in.IsFinal
	station.Color = in.Color
	station.SortOrder = in.Order
	if err := t.repo.UpdateStation(ctx, station); err != nil {
		return nil, fmt.Errorf("failed to update station: %w", err)
	}
	return station, nil
}

// DeleteStation removes a station no request sits at, renumbering every pipeline that used it
func (t *Topology) DeleteStation(ctx context.Context, id uuid.UUID) error {
	err := t.repo.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetStation(ctx, id); err != nil {
			return err
		}
		count, err := repo.CountRequests(ctx, RequestFilter{StationID: &id})
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrStationInUse
		}
		bindings, err := repo.ListBindingsForStation(ctx, id)
		if err != nil {
			return err
		}
		for i := range bindings {
			if err := repo.DeletePipelineStation(ctx, &bindings[i]); err != nil {
				return err
			}
			if err := renumber(ctx, repo, bindings[i].PipelineID); err != nil {
				return err
			}
		}
		if err := repo.DetachLogsFromStation(ctx, id); err != nil {
			return err
		}
		return repo.DeleteStation(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete station: %w", err)
	}

	t.logger.Info("Station deleted", zap.String("station_id", id.String()))
	return nil
}

// GetPipeline returns a pipeline with its ordered bindings
func (t *Topology) GetPipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error) {
	pipeline, err := t.repo.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	if pipeline.Stations, err = t.Bindings(ctx, id); err != nil {
		return nil, err
	}
	return pipeline, nil
}

// ListPipelines returns pipelines, optionally only active ones
func (t *Topology) ListPipelines(ctx context.Context, activeOnly bool) ([]Pipeline, error) {
	return t.repo.ListPipelines(ctx, activeOnly)
}

// CreatePipeline creates a pipeline and binds its stations at positions 1..N
func (t *Topology) CreatePipeline(ctx context.Context, in PipelineInput) (*Pipeline, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", ErrInvalidTopology)
	}
	seen := make(map[uuid.UUID]bool, len(in.Stations))
	for _, b := range in.Stations {
		if seen[b.StationID] {
			return nil, fmt.Errorf("%w: station %s appears twice", ErrInvalidTopology, b.StationID)
		}
		seen[b.StationID] = true
	}

	pipeline := &Pipeline{
		Name:        in.Name,
		NameAr:      in.NameAr,
		Description: in.Description,
		IsActive:    in.Active == nil || *in.Active,
	}

	err := t.repo.WithTx(ctx, func(repo Repository) error {
		for _, id := range in.SectionIDs {
			section, err := repo.GetSection(ctx, id)
			if err != nil {
				return err
			}
			section.Managers = nil
			pipeline.Sections = append(pipeline.Sections, *section)
		}
		if err := repo.CreatePipeline(ctx, pipeline); err != nil {
			return err
		}
		for i, b := range in.Stations {
			if _, err := bind(ctx, repo, pipeline.ID, b, i+1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	t.logger.Info("Pipeline created",
		zap.String("pipeline_id", pipeline.ID.String()),
		zap.String("name", pipeline.Name),
		zap.Int("stations", len(in.Stations)))
	return t.GetPipeline(ctx, pipeline.ID)
}

// AddStation inserts a station at a 1-based position and renumbers the pipeline
func (t *Topology) AddStation(ctx context.Context, pipelineID uuid.UUID, in BindingInput, position int) (*PipelineStation, error) {
	err := t.repo.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPipeline(ctx, pipelineID); err != nil {
			return err
		}
		bindings, err := repo.ListPipelineStations(ctx, pipelineID)
		if err != nil {
			return err
		}
		keys := make([]uuid.UUID, len(bindings))
		for i, b := range bindings {
			if b.StationID == in.StationID {
				return fmt.Errorf("%w: station already in pipeline", ErrInvalidTopology)
			}
			keys[i] = b.StationID
		}
		if _, err := bind(ctx, repo, pipelineID, in, len(bindings)+1); err != nil {
			return err
		}
		return repo.UpdateOrders(ctx, pipelineID, workflows.Renumber(workflows.InsertAt(keys, in.StationID, position)))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add station: %w", err)
	}

	t.logger.Info("Station added to pipeline",
		zap.String("pipeline_id", pipelineID.String()),
		zap.String("station_id", in.StationID.String()),
		zap.Int("position", position))
	return t.repo.GetPipelineStation(ctx, pipelineID, in.StationID)
}

// RemoveStation unbinds a station nobody sits at and closes the gap in ordering
func (t *Topology) RemoveStation(ctx context.Context, pipelineID, stationID uuid.UUID) error {
	err := t.repo.WithTx(ctx, func(repo Repository) error {
		ps, err := repo.GetPipelineStation(ctx, pipelineID, stationID)
		if err != nil {
			return err
		}
		count, err := repo.CountRequests(ctx, RequestFilter{PipelineID: &pipelineID, StationID: &stationID})
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrStationInUse
		}
		if err := repo.DeletePipelineStation(ctx, ps); err != nil {
			return err
		}
		return renumber(ctx, repo, pipelineID)
	})
	if err != nil {
		return fmt.Errorf("failed to remove station: %w", err)
	}
	return nil
}

// Reorder sets the pipeline order to stationIDs, which must list every current member once
func (t *Topology) Reorder(ctx context.Context, pipelineID uuid.UUID, stationIDs []uuid.UUID) error {
	err := t.repo.WithTx(ctx, func(repo Repository) error {
		bindings, err := repo.ListPipelineStations(ctx, pipelineID)
		if err != nil {
			return err
		}
		current := make([]uuid.UUID, len(bindings))
		for i, b := range bindings {
			current[i] = b.StationID
		}
		if !workflows.IsPermutation(current, stationIDs) {
			return fmt.Errorf("%w: order must list each pipeline station exactly once", ErrInvalidTopology)
		}
		return repo.UpdateOrders(ctx, pipelineID, workflows.Renumber(stationIDs))
	})
	if err != nil {
		return fmt.Errorf("failed to reorder pipeline: %w", err)
	}

	t.logger.Info("Pipeline reordered", zap.String("pipeline_id", pipelineID.String()))
	return nil
}

// UpdateBinding replaces the policy flags and allowed users of a bound station
func (t *Topology) UpdateBinding(ctx context.Context, pipelineID, stationID uuid.UUID, policy StationPolicy, allowedUserIDs []uuid.UUID) (*PipelineStation, error) {
	err := t.repo.WithTx(ctx, func(repo Repository) error {
		ps, err := repo.GetPipelineStation(ctx, pipelineID, stationID)
		if err != nil {
			return err
		}
		if err := repo.UpdatePolicy(ctx, ps.ID, policy); err != nil {
			return err
		}
		users, err := loadUsers(ctx, repo, allowedUserIDs)
		if err != nil {
			return err
		}
		return repo.ReplaceAllowedUsers(ctx, ps, users)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update pipeline station: %w", err)
	}
	return t.repo.GetPipelineStation(ctx, pipelineID, stationID)
}

// DeletePipeline removes a pipeline no request references, together with its bindings
func (t *Topology) DeletePipeline(ctx context.Context, id uuid.UUID) error {
	err := t.repo.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPipeline(ctx, id); err != nil {
			return err
		}
		count, err := repo.CountRequests(ctx, RequestFilter{PipelineID: &id})
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrPipelineInUse
		}
		bindings, err := repo.ListPipelineStations(ctx, id)
		if err != nil {
			return err
		}
		for i := range bindings {
			if err := repo.DeletePipelineStation(ctx, &bindings[i]); err != nil {
				return err
			}
		}
		return repo.DeletePipeline(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}

	t.logger.Info("Pipeline deleted", zap.String("pipeline_id", id.String()))
	return nil
}

func bind(ctx context.Context, repo Repository, pipelineID uuid.UUID, in BindingInput, order int) (*PipelineStation, error) {
	if _, err := repo.GetStation(ctx, in.StationID); err != nil {
		return nil, err
	}
	users, err := loadUsers(ctx, repo, in.AllowedUserIDs)
	if err != nil {
		return nil, err
	}
	ps := &PipelineStation{
		PipelineID:    pipelineID,
		StationID:     in.StationID,
		Order:         order,
		StationPolicy: in.Policy,
		AllowedUsers:  users,
	}
	if err := repo.CreatePipelineStation(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func loadUsers(ctx context.Context, repo Repository, ids []uuid.UUID) ([]User, error) {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	ids = unique
	users, err := repo.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) != len(ids) {
		return nil, fmt.Errorf("allowed user: %w", ErrNotFound)
	}
	return users, nil
}

func renumber(ctx context.Context, repo Repository, pipelineID uuid.UUID) error {
	bindings, err := repo.ListPipelineStations(ctx, pipelineID)
	if err != nil {
		return err
	}
	keys := make([]uuid.UUID, len(bindings))
	for i, b := range bindings {
		keys[i] = b.StationID
	}
	return repo.UpdateOrders(ctx, pipelineID, workflows.Renumber(keys))
}
