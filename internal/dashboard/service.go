package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// Groups that unlock the pipeline-less cards
const (
	GroupServiceProviderAdmin = "SP_ADMIN"
	GroupServiceProvider      = "SP"
)

const (
	unassignedColor = "#f59e0b"
	assignedColor   = "#3b82f6"
)

// ErrUnknownCard is returned for an unrecognised special card kind
var ErrUnknownCard = errors.New("unknown dashboard card")

// CardKind distinguishes station cards from the pipeline-less cards
type CardKind string

const (
	CardStation            CardKind = "station"
	CardUnassignedPipeline CardKind = "unassigned_pipeline"
	CardAssignedNoPipeline CardKind = "assigned_no_pipeline"
)

// Card is one tile of the "my stations" board
type Card struct {
	Kind        CardKind          `json:"kind"`
	Station     *workflow.Station `json:"station,omitempty"`
	PipelineIDs []uuid.UUID       `json:"pipeline_ids,omitempty"`
	Count       int64             `json:"count"`
	Color       string            `json:"color,omitempty"`
}

// Summary breaks a request list down by derived status
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// StationView is the request list behind one card
type StationView struct {
	Kind     CardKind                  `json:"kind"`
	Station  *workflow.Station         `json:"station,omitempty"`
	Requests []workflow.ServiceRequest `json:"requests"`
	Summary  Summary                   `json:"summary"`
	// AssignedOnly is set when a binding limits the list to the actor's assignments
	AssignedOnly bool `json:"assigned_only"`
}

// Overview holds the headline counters
type Overview struct {
	Total           int64 `json:"total"`
	Mine            int64 `json:"mine"`
	AssignedToMe    int64 `json:"assigned_to_me"`
	WithoutPipeline int64 `json:"without_pipeline"`
}

// Service computes per-user dashboard views
type Service struct {
	repo   workflow.Repository
	access *workflow.AccessPolicy
	cache  *Cache
	logger *zap.Logger
}

// NewService creates a dashboard service reading through engine
func NewService(engine *workflow.Engine, cache *Cache, logger *zap.Logger) *Service {
	return &Service{
		repo:   engine.Repository(),
		access: engine.Access(),
		cache:  cache,
		logger: logger,
	}
}

const countsPrefix = "counts:"

// Invalidator drops cached counters whenever a workflow event is committed
type Invalidator struct {
	cache *Cache
}

// NewInvalidator creates a workflow.Publisher that invalidates cache
func NewInvalidator(cache *Cache) *Invalidator {
	return &Invalidator{cache: cache}
}

func (i *Invalidator) Publish(_ context.Context, _ workflow.Event) {
	i.cache.DeleteByPrefix(countsPrefix)
}

// StationCounts returns the cards the actor may see, station cards in station order
// preceded by any pipeline-less cards the actor's groups unlock
func (s *Service) StationCounts(ctx context.Context, actor workflow.Actor) ([]Card, error) {
	value, err := s.cache.GetOrSet(countsPrefix+actor.UserID.String(), func() (interface{}, error) {
		return s.stationCounts(ctx, actor)
	})
	if err != nil {
		return nil, err
	}
	return value.([]Card), nil
}

func (s *Service) stationCounts(ctx context.Context, actor workflow.Actor) ([]Card, error) {
	bindings, err := s.repo.ListAllBindings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}

	byStation := make(map[uuid.UUID]*Card)
	for i := range bindings {
		ps := &bindings[i]
		if !actor.IsSuperuser && !ps.Allows(actor.UserID) {
			continue
		}
		count, err := s.repo.CountRequests(ctx, bindingFilter(ps, actor))
		if err != nil {
			return nil, fmt.Errorf("failed to count requests: %w", err)
		}
		card, ok := byStation[ps.StationID]
		if !ok {
			card = &Card{Kind: CardStation, Station: ps.Station}
			if ps.Station != nil {
				card.Color = ps.Station.Color
			}
			byStation[ps.StationID] = card
		}
		card.PipelineIDs = append(card.PipelineIDs, ps.PipelineID)
		card.Count += count
	}

	cards := make([]Card, 0, len(byStation)+2)
	for _, card := range byStation {
		cards = append(cards, *card)
	}
	sort.Slice(cards, func(i, j int) bool {
		a, b := cards[i].Station, cards[j].Station
		if a == nil || b == nil {
			return a != nil
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Name < b.Name
	})

	var special []Card
	if actor.InGroup(GroupServiceProvider) {
		uid := actor.UserID
		count, err := s.repo.CountRequests(ctx, workflow.RequestFilter{Unassigned: true, AssignedToID: &uid})
		if err != nil {
			return nil, fmt.Errorf("failed to count assigned requests: %w", err)
		}
		special = append(special, Card{Kind: CardAssignedNoPipeline, Count: count, Color: assignedColor})
	}
	if actor.InGroup(GroupServiceProviderAdmin) {
		count, err := s.repo.CountRequests(ctx, workflow.RequestFilter{Unassigned: true})
		if err != nil {
			return nil, fmt.Errorf("failed to count unassigned requests: %w", err)
		}
		special = append(special, Card{Kind: CardUnassignedPipeline, Count: count, Color: unassignedColor})
	}
	return append(special, cards...), nil
}

// StationRequests lists the requests at a station the actor may see.
// Returns workflow.ErrForbidden when no binding of the station admits the actor.
func (s *Service) StationRequests(ctx context.Context, actor workflow.Actor, stationID uuid.UUID) (*StationView, error) {
	station, err := s.repo.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	view := &StationView{Kind: CardStation, Station: station}

	if actor.IsSuperuser {
		requests, err := s.repo.ListRequests(ctx, workflow.RequestFilter{StationID: &stationID})
		if err != nil {
			return nil, fmt.Errorf("failed to list requests: %w", err)
		}
		view.Requests = requests
		view.Summary = summarize(requests)
		return view, nil
	}

	allowed, err := s.access.CanUserAccessStation(ctx, actor.UserID, stationID, nil)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.Debug("Station listing refused",
			zap.String("user_id", actor.UserID.String()),
			zap.String("station_id", stationID.String()))
		return nil, fmt.Errorf("station %s: %w", station.Name, workflow.ErrForbidden)
	}

	bindings, err := s.repo.ListBindingsForStation(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list station bindings: %w", err)
	}
	seen := make(map[uuid.UUID]bool)
	var requests []workflow.ServiceRequest
	for i := range bindings {
		ps := &bindings[i]
		if !ps.Allows(actor.UserID) {
			continue
		}
		if ps.ShowAssignedRequests {
			view.AssignedOnly = true
		}
		list, err := s.repo.ListRequests(ctx, bindingFilter(ps, actor))
		if err != nil {
			return nil, fmt.Errorf("failed to list requests: %w", err)
		}
		for _, req := range list {
			if !seen[req.ID] {
				seen[req.ID] = true
				requests = append(requests, req)
			}
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})

	view.Requests = requests
	view.Summary = summarize(requests)
	return view, nil
}

// SpecialRequests lists the requests behind a pipeline-less card
func (s *Service) SpecialRequests(ctx context.Context, actor workflow.Actor, kind CardKind) (*StationView, error) {
	var filter workflow.RequestFilter
	switch kind {
	case CardUnassignedPipeline:
		if !actor.IsSuperuser && !actor.InGroup(GroupServiceProviderAdmin) {
			return nil, fmt.Errorf("unassigned requests: %w", workflow.ErrForbidden)
		}
		filter = workflow.RequestFilter{Unassigned: true}
	case CardAssignedNoPipeline:
		uid := actor.UserID
		filter = workflow.RequestFilter{Unassigned: true, AssignedToID: &uid}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCard, kind)
	}

	requests, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return &StationView{Kind: kind, Requests: requests, Summary: summarize(requests)}, nil
}

// Overview returns the headline counters for actor
func (s *Service) Overview(ctx context.Context, actor workflow.Actor) (*Overview, error) {
	uid := actor.UserID
	out := &Overview{}
	counts := []struct {
		dst    *int64
		filter workflow.RequestFilter
	}{
		{&out.Total, workflow.RequestFilter{}},
		{&out.Mine, workflow.RequestFilter{CreatedByID: &uid}},
		{&out.AssignedToMe, workflow.RequestFilter{AssignedToID: &uid}},
		{&out.WithoutPipeline, workflow.RequestFilter{Unassigned: true}},
	}
	for _, c := range counts {
		n, err := s.repo.CountRequests(ctx, c.filter)
		if err != nil {
			return nil, fmt.Errorf("failed to count requests: %w", err)
		}
		*c.dst = n
	}
	return out, nil
}

// CacheStats exposes the counter cache statistics
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// bindingFilter selects the requests at ps visible to actor
func bindingFilter(ps *workflow.PipelineStation, actor workflow.Actor) workflow.RequestFilter {
	pipelineID, stationID := ps.PipelineID, ps.StationID
	filter := workflow.RequestFilter{PipelineID: &pipelineID, StationID: &stationID}
	if actor.IsSuperuser {
		return filter
	}
	uid := actor.UserID
	if ps.ShowAssignedRequests {
		filter.AssignedToID = &uid
	}
	if ps.ShowTheManagersOnly {
		filter.ManagedBy = &uid
	}
	return filter
}

func summarize(requests []workflow.ServiceRequest) Summary {
	sum := Summary{Total: len(requests)}
	for i := range requests {
		switch requests[i].Status() {
		case workflow.StatusPending:
			sum.Pending++
		case workflow.StatusInProgress:
			sum.InProgress++
		case workflow.StatusCompleted:
			sum.Completed++
		}
	}
	return sum
}
