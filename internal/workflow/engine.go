package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/observability"
)

const noStationName = "None"

// EngineConfig tunes the transition engine
type EngineConfig struct {
	// EnforceRequiredRole gates CanMoveToNext on the current binding's required role
	EnforceRequiredRole bool
	// Now overrides the clock; nil uses time.Now
	Now func() time.Time
}

// DefaultEngineConfig enforces required roles
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{EnforceRequiredRole: true}
}

// CreateRequestInput carries the fields of a new service request
type CreateRequestInput struct {
	Title             string     `json:"title" binding:"required"`
	Description       string     `json:"description"`
	SectionID         uuid.UUID  `json:"section_id" binding:"required"`
	ServiceProviderID *uuid.UUID `json:"service_provider_id"`
}

// Snapshot is the read-side view of a request's workflow position
type Snapshot struct {
	Status          Status         `json:"status"`
	Progress        int            `json:"progress"`
	IsCompleted     bool           `json:"is_completed"`
	CurrentStation  *Station       `json:"current_station,omitempty"`
	NextStation     *Station       `json:"next_station,omitempty"`
	PreviousStation *Station       `json:"previous_station,omitempty"`
	CanMoveToNext   bool           `json:"can_move_to_next"`
	Permissions     *StationPolicy `json:"permissions,omitempty"`
}

// Engine is the single mutation point for workflow state
type Engine struct {
	repo      Repository
	topology  *Topology
	access    *AccessPolicy
	publisher Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	config    EngineConfig
	now       func() time.Time
}

// NewEngine creates a new transition engine
func NewEngine(repo Repository, publisher Publisher, metrics *observability.Metrics, logger *zap.Logger, config EngineConfig) *Engine {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:      repo,
		topology:  NewTopology(repo, logger),
		access:    NewAccessPolicy(repo, logger),
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       now,
	}
}

// Topology returns the topology store the engine reads
func (e *Engine) Topology() *Topology { return e.topology }

// Access returns the access policy
func (e *Engine) Access() *AccessPolicy { return e.access }

// Repository returns the underlying repository
func (e *Engine) Repository() Repository { return e.repo }

// Clock returns the engine clock
func (e *Engine) Clock() func() time.Time { return e.now }

// GetRequest loads a request with its workflow relations
func (e *Engine) GetRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	return e.repo.GetRequest(ctx, id)
}

// ============================================================================
// Read accessors
// ============================================================================

// NextStation returns the station after the current one, or nil at the end or when unassigned
func (e *Engine) NextStation(ctx context.Context, req *ServiceRequest) (*Station, error) {
	state, ok := req.State().(InPipeline)
	if !ok {
		return nil, nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return nil, err
	}
	if next := l.next(state.StationID); next != nil {
		return next.Station, nil
	}
	return nil, nil
}

// PreviousStation returns the station before the current one, or nil at the start or when unassigned
func (e *Engine) PreviousStation(ctx context.Context, req *ServiceRequest) (*Station, error) {
	state, ok := req.State().(InPipeline)
	if !ok {
		return nil, nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return nil, err
	}
	if prev := l.previous(state.StationID); prev != nil {
		return prev.Station, nil
	}
	return nil, nil
}

// Progress returns floor(position / station count * 100), or 0 when unassigned or empty
func (e *Engine) Progress(ctx context.Context, req *ServiceRequest) (int, error) {
	state, ok := req.State().(InPipeline)
	if !ok {
		return 0, nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return 0, err
	}
	return l.seq.Progress(state.StationID), nil
}

// IsCompleted reports whether the request sits at a final station
func (e *Engine) IsCompleted(req *ServiceRequest) bool {
	return req.IsCompleted()
}

// Status derives the request status from its current station
func (e *Engine) Status(req *ServiceRequest) Status {
	return req.Status()
}

// CanMoveToNext reports whether a next station exists and actor holds the required role, if enforced
func (e *Engine) CanMoveToNext(ctx context.Context, req *ServiceRequest, actor Actor) (bool, error) {
	state, ok := req.State().(InPipeline)
	if !ok {
		return false, nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return false, err
	}
	if l.next(state.StationID) == nil {
		return false, nil
	}
	return e.holdsRequiredRole(l.byStation[state.StationID], actor), nil
}

func (e *Engine) holdsRequiredRole(current *PipelineStation, actor Actor) bool {
	if !e.config.EnforceRequiredRole || current == nil || current.RequiredRole == "" || actor.IsSuperuser {
		return true
	}
	return actor.InGroup(current.RequiredRole)
}

// Snapshot gathers the read accessors for one request
func (e *Engine) Snapshot(ctx context.Context, req *ServiceRequest, actor Actor) (*Snapshot, error) {
	snap := &Snapshot{
		Status:         req.Status(),
		IsCompleted:    req.IsCompleted(),
		CurrentStation: req.CurrentStation,
	}
	state, ok := req.State().(InPipeline)
	if !ok {
		return snap, nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return nil, err
	}
	snap.Progress = l.seq.Progress(state.StationID)
	if next := l.next(state.StationID); next != nil {
		snap.NextStation = next.Station
		snap.CanMoveToNext = e.holdsRequiredRole(l.byStation[state.StationID], actor)
	}
	if prev := l.previous(state.StationID); prev != nil {
		snap.PreviousStation = prev.Station
	}
	if current := l.byStation[state.StationID]; current != nil {
		policy := current.StationPolicy
		snap.Permissions = &policy
	}
	return snap, nil
}

// History returns the request's audit log, newest first
func (e *Engine) History(ctx context.Context, requestID uuid.UUID) ([]ServiceRequestLog, error) {
	if _, err := e.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return NewAuditLog(e.repo, e.now).List(ctx, requestID)
}

// ============================================================================
// Mutations
// ============================================================================

// CreateRequest files a new unassigned request and tells the service provider's managers
func (e *Engine) CreateRequest(ctx context.Context, in CreateRequestInput, actor Actor) (*ServiceRequest, Result, error) {
	const op = "create_request"

	if strings.TrimSpace(in.Title) == "" {
		return nil, e.refuse(op, uuid.Nil, refused(ErrInvalidRequest, "Title is required")), nil
	}
	if _, err := e.repo.GetSection(ctx, in.SectionID); err != nil {
		return nil, Result{}, err
	}
	if in.ServiceProviderID != nil {
		if _, err := e.repo.GetServiceProvider(ctx, *in.ServiceProviderID); err != nil {
			return nil, Result{}, err
		}
	}

	req := &ServiceRequest{
		Title:             in.Title,
		Description:       in.Description,
		SectionID:         in.SectionID,
		ServiceProviderID: in.ServiceProviderID,
		CreatedByID:       actor.UserID,
	}
	dup, err := e.repo.HasDuplicate(ctx, req)
	if err != nil {
		return nil, Result{}, fmt.Errorf("failed to check duplicates: %w", err)
	}
	if dup {
		return nil, e.refuse(op, uuid.Nil, refused(ErrDuplicateRequest, "This request already exists")), nil
	}

	err = e.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.CreateRequest(ctx, req); err != nil {
			return err
		}
		_, err := NewAuditLog(tx, e.now).Append(ctx, LogEntry{
			RequestID: req.ID,
			Type:      LogTypeUpdate,
			Comment:   "New request created - awaiting pipeline assignment",
			ActorID:   actor.UserID,
		})
		return err
	})
	if err != nil {
		e.metrics.ObserveOperation(op, "error")
		return nil, Result{}, fmt.Errorf("failed to create service request: %w", err)
	}

	created, err := e.repo.GetRequest(ctx, req.ID)
	if err != nil {
		return nil, Result{}, err
	}
	e.metrics.ObserveOperation(op, "success")
	e.logger.Info("Service request created",
		zap.String("request_id", created.ID.String()),
		zap.String("created_by", actor.Username))

	if created.ServiceProvider != nil && len(created.ServiceProvider.Managers) > 0 {
		e.publish(ctx, EventRequestCreated, created, nil, nil, "", actor, created.ServiceProvider.Managers)
	}
	return created, succeeded("Request created successfully"), nil
}

// AssignPipeline places an unassigned request at the first station of an active pipeline
func (e *Engine) AssignPipeline(ctx context.Context, requestID, pipelineID uuid.UUID, actor Actor) (Result, error) {
	const op = "assign_pipeline"

	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	if _, ok := req.State().(Unassigned); !ok {
		return e.refuse(op, requestID, refused(ErrPipelineAlreadyAssigned, "A pipeline is already assigned to this request")), nil
	}
	pipeline, err := e.repo.GetPipeline(ctx, pipelineID)
	if err != nil {
		return Result{}, err
	}
	if !pipeline.IsActive {
		return e.refuse(op, requestID, refused(ErrPipelineInactive, "Pipeline is not active")), nil
	}
	initial, err := e.topology.InitialStation(ctx, pipelineID)
	if err != nil {
		return Result{}, err
	}
	if initial == nil {
		return e.refuse(op, requestID, refused(ErrInvalidPipeline, "Pipeline has no stations")), nil
	}

	now := e.now()
	placement := InPipeline{PipelineID: pipelineID, StationID: initial.ID}
	err = e.commit(ctx, req, actor, func(r *ServiceRequest) {
		r.place(placement, initial, now)
		r.Pipeline = pipeline
	}, LogEntry{
		Type:    LogTypeStationChange,
		To:      &initial.ID,
		Comment: fmt.Sprintf("Pipeline assigned: %s", pipeline.Name),
	})
	if err != nil {
		e.metrics.ObserveOperation(op, "error")
		return Result{}, fmt.Errorf("failed to assign pipeline: %w", err)
	}

	e.metrics.ObserveOperation(op, "success")
	e.logger.Info("Pipeline assigned",
		zap.String("request_id", requestID.String()),
		zap.String("pipeline_id", pipelineID.String()),
		zap.String("station", initial.Name))
	return succeeded(fmt.Sprintf("Pipeline %s assigned, request is at %s", pipeline.Name, initial.Name)), nil
}

// MoveToNextStation advances the request one position
func (e *Engine) MoveToNextStation(ctx context.Context, requestID uuid.UUID, actor Actor, comment string) (Result, error) {
	const op = "move_next"

	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	state, ok := req.State().(InPipeline)
	if !ok {
		return e.refuse(op, requestID, refused(ErrAtFinalStation, "Already at the final station")), nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return Result{}, err
	}
	next := l.next(state.StationID)
	if next == nil {
		return e.refuse(op, requestID, refused(ErrAtFinalStation, "Already at the final station")), nil
	}
	if !e.holdsRequiredRole(l.byStation[state.StationID], actor) {
		return e.refuse(op, requestID, refused(ErrNotAuthorized, "Not authorized to move to next station")), nil
	}
	return e.transition(ctx, op, req, state, next, actor, comment)
}

// MoveToStation jumps the request to any station of its pipeline
func (e *Engine) MoveToStation(ctx context.Context, requestID, stationID uuid.UUID, actor Actor, comment string) (Result, error) {
	const op = "move_to_station"

	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	state, ok := req.State().(InPipeline)
	if !ok {
		return e.refuse(op, requestID, refused(ErrStationNotInPipeline, "Station is not part of this pipeline")), nil
	}
	dest, err := e.topology.StationPosition(ctx, state.PipelineID, stationID)
	if errors.Is(err, ErrNotFound) {
		return e.refuse(op, requestID, refused(ErrStationNotInPipeline, "Station is not part of this pipeline")), nil
	}
	if err != nil {
		return Result{}, err
	}
	if stationID == state.StationID {
		return e.refuse(op, requestID, refused(ErrAlreadyAtStation, "Already at this station")), nil
	}
	return e.transition(ctx, op, req, state, dest, actor, comment)
}

// SendBack returns the request to the previous station when the current binding allows it
func (e *Engine) SendBack(ctx context.Context, requestID uuid.UUID, actor Actor, comment string) (Result, error) {
	const op = "send_back"

	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	state, ok := req.State().(InPipeline)
	if !ok {
		return e.refuse(op, requestID, refused(ErrNoPipeline, "No pipeline assigned to this request")), nil
	}
	l, err := e.topology.layoutOf(ctx, state.PipelineID)
	if err != nil {
		return Result{}, err
	}
	current := l.byStation[state.StationID]
	if current == nil || !current.CanSendBack {
		return e.refuse(op, requestID, refused(ErrSendBackNotAllowed, "This station does not allow sending requests back")), nil
	}
	prev := l.previous(state.StationID)
	if prev == nil {
		return e.refuse(op, requestID, refused(ErrNoPreviousStation, "No previous station to return to")), nil
	}

	note := fmt.Sprintf("Sent back from %s to %s", stationName(req.CurrentStation), stationName(prev.Station))
	if c := strings.TrimSpace(comment); c != "" {
		note = "Sent back: " + c
	}
	return e.transition(ctx, op, req, state, prev, actor, note)
}

// AssignUser sets the request assignee and tells them
func (e *Engine) AssignUser(ctx context.Context, requestID, userID uuid.UUID, actor Actor) (Result, error) {
	const op = "assign_user"

	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	err = e.commit(ctx, req, actor, func(r *ServiceRequest) {
		r.AssignedToID = &user.ID
		r.AssignedTo = user
	}, LogEntry{
		Type:    LogTypeAssignment,
		Comment: fmt.Sprintf("Request assigned to %s", user.DisplayName()),
	})
	if err != nil {
		e.metrics.ObserveOperation(op, "error")
		return Result{}, fmt.Errorf("failed to assign user: %w", err)
	}

	e.metrics.ObserveOperation(op, "success")
	e.logger.Info("Service request assigned",
		zap.String("request_id", requestID.String()),
		zap.String("assignee", user.Username))
	e.publish(ctx, EventRequestAssigned, req, req.CurrentStation, nil, "", actor, []User{*user})
	return succeeded(fmt.Sprintf("Request assigned to %s", user.DisplayName())), nil
}

// AddComment appends a comment entry to the request history
func (e *Engine) AddComment(ctx context.Context, requestID uuid.UUID, actor Actor, comment string) (Result, error) {
	const op = "comment"

	comment = strings.TrimSpace(comment)
	if comment == "" {
		return e.refuse(op, requestID, refused(ErrEmptyComment, "Comment cannot be empty")), nil
	}
	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	var from *uuid.UUID
	if state, ok := req.State().(InPipeline); ok {
		from = &state.StationID
	}
	err = e.commit(ctx, req, actor, func(*ServiceRequest) {}, LogEntry{
		Type:    LogTypeComment,
		Comment: comment,
		From:    from,
	})
	if err != nil {
		e.metrics.ObserveOperation(op, "error")
		return Result{}, fmt.Errorf("failed to add comment: %w", err)
	}
	e.metrics.ObserveOperation(op, "success")
	return succeeded("Comment added"), nil
}

// RecordUpdate appends an update entry inside tx and bumps the request version; used by
// collaborators that change request-owned data in their own transaction
func (e *Engine) RecordUpdate(ctx context.Context, tx Repository, req *ServiceRequest, actor Actor, comment string) error {
	expected := req.Version
	uid := actor.UserID
	req.UpdatedByID = &uid
	if err := tx.SaveRequestState(ctx, req, expected); err != nil {
		return err
	}
	var from *uuid.UUID
	if state, ok := req.State().(InPipeline); ok {
		from = &state.StationID
	}
	_, err := NewAuditLog(tx, e.now).Append(ctx, LogEntry{
		RequestID: req.ID,
		Type:      LogTypeUpdate,
		Comment:   comment,
		ActorID:   actor.UserID,
		From:      from,
	})
	return err
}

// Announce publishes kind for req to users; collaborators call it after their own commit
func (e *Engine) Announce(ctx context.Context, kind EventKind, req *ServiceRequest, comment string, actor Actor, users []User) {
	if len(users) == 0 {
		return
	}
	e.publish(ctx, kind, req, req.CurrentStation, nil, comment, actor, users)
}

// RemindStale re-announces requests idle at a non-final station for longer than olderThan
func (e *Engine) RemindStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := e.now().Add(-olderThan)
	requests, err := e.repo.ListRequests(ctx, RequestFilter{EnteredBefore: &cutoff, ExcludeFinal: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale requests: %w", err)
	}

	sent := 0
	for i := range requests {
		req := &requests[i]
		state, ok := req.State().(InPipeline)
		if !ok {
			continue
		}
		ps, err := e.repo.GetPipelineStation(ctx, state.PipelineID, state.StationID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return sent, err
		}
		recipients := FanOut(req, ps)
		if len(recipients) == 0 {
			continue
		}
		e.publish(ctx, EventStationReminder, req, ps.Station, nil, "", Actor{}, recipients)
		sent++
	}

	e.logger.Info("Stale request reminders queued", zap.Int("count", sent), zap.Duration("older_than", olderThan))
	return sent, nil
}

// ============================================================================
// Internals
// ============================================================================

// transition moves req to dest atomically with its audit entry, then announces the arrival
func (e *Engine) transition(ctx context.Context, op string, req *ServiceRequest, state InPipeline, dest *PipelineStation, actor Actor, comment string) (Result, error) {
	from := req.CurrentStation
	if strings.TrimSpace(comment) == "" {
		comment = fmt.Sprintf("Moved from %s to %s", stationName(from), stationName(dest.Station))
	}

	now := e.now()
	fromID := state.StationID
	toID := dest.StationID
	err := e.commit(ctx, req, actor, func(r *ServiceRequest) {
		r.place(InPipeline{PipelineID: state.PipelineID, StationID: toID}, dest.Station, now)
	}, LogEntry{
		Type:    LogTypeStationChange,
		From:    &fromID,
		To:      &toID,
		Comment: comment,
	})
	if err != nil {
		e.metrics.ObserveOperation(op, "error")
		return Result{}, fmt.Errorf("failed to move service request: %w", err)
	}

	e.metrics.ObserveOperation(op, "success")
	e.logger.Info("Service request moved",
		zap.String("request_id", req.ID.String()),
		zap.String("from", stationName(from)),
		zap.String("to", stationName(dest.Station)),
		zap.String("actor", actor.Username))

	if recipients := FanOut(req, dest); len(recipients) > 0 {
		e.publish(ctx, EventStationEntered, req, dest.Station, from, comment, actor, recipients)
	}
	if dest.Station != nil && dest.Station.IsFinal && req.CreatedBy != nil {
		e.publish(ctx, EventRequestCompleted, req, dest.Station, from, comment, actor, []User{*req.CreatedBy})
	}
	return succeeded("Successfully moved to " + stationName(dest.Station)), nil
}

// commit applies mutate and appends entry in one transaction guarded by the request version
func (e *Engine) commit(ctx context.Context, req *ServiceRequest, actor Actor, mutate func(*ServiceRequest), entry LogEntry) error {
	expected := req.Version
	return e.repo.WithTx(ctx, func(tx Repository) error {
		mutate(req)
		uid := actor.UserID
		req.UpdatedByID = &uid
		if err := tx.SaveRequestState(ctx, req, expected); err != nil {
			return err
		}
		entry.RequestID = req.ID
		entry.ActorID = actor.UserID
		_, err := NewAuditLog(tx, e.now).Append(ctx, entry)
		return err
	})
}

func (e *Engine) refuse(op string, requestID uuid.UUID, r Result) Result {
	e.metrics.ObserveOperation(op, "refused")
	e.logger.Debug("Workflow operation refused",
		zap.String("operation", op),
		zap.String("request_id", requestID.String()),
		zap.String("message", r.Message))
	return r
}

func (e *Engine) publish(ctx context.Context, kind EventKind, req *ServiceRequest, station, from *Station, comment string, actor Actor, users []User) {
	event := Event{
		ID:                 uuid.New(),
		Kind:               kind,
		RequestID:          req.ID,
		RequestTitle:       req.Title,
		RequestDescription: req.Description,
		Comment:            comment,
		ActorName:          actor.Username,
		Recipients:         recipientsOf(users),
		OccurredAt:         e.now(),
	}
	if req.Section != nil {
		event.SectionName = req.Section.Name
	}
	if station != nil {
		event.StationName = station.Name
		event.StationNameAr = station.NameAr
	}
	if from != nil {
		event.FromStationName = from.Name
	}
	e.publisher.Publish(ctx, event)
}

func stationName(s *Station) string {
	if s == nil {
		return noStationName
	}
	return s.Name
}
