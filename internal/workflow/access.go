package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccessPolicy decides whether a user may act at a station
type AccessPolicy struct {
	repo   Repository
	logger *zap.Logger
}

// NewAccessPolicy creates a new access policy
func NewAccessPolicy(repo Repository, logger *zap.Logger) *AccessPolicy {
	return &AccessPolicy{repo: repo, logger: logger}
}

// CanUserAccessStation checks userID against the station binding of req's pipeline.
// With no request, or one without a pipeline, any unrestricted or matching binding of the
// station grants access; that looser check is only meant for listings.
func (p *AccessPolicy) CanUserAccessStation(ctx context.Context, userID, stationID uuid.UUID, req *ServiceRequest) (bool, error) {
	if req != nil {
		if state, ok := req.State().(InPipeline); ok {
			ps, err := p.repo.GetPipelineStation(ctx, state.PipelineID, stationID)
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, fmt.Errorf("failed to resolve pipeline station: %w", err)
			}
			return ps.Allows(userID), nil
		}
	}

	bindings, err := p.repo.ListBindingsForStation(ctx, stationID)
	if err != nil {
		return false, fmt.Errorf("failed to list station bindings: %w", err)
	}
	for i := range bindings {
		if bindings[i].Allows(userID) {
			return true, nil
		}
	}
	return false, nil
}

// CurrentPermissions returns the policy of the station req currently sits at
func (p *AccessPolicy) CurrentPermissions(ctx context.Context, req *ServiceRequest) (*PipelineStation, error) {
	state, ok := req.State().(InPipeline)
	if !ok {
		return nil, fmt.Errorf("service request %s: %w", req.ID, ErrNoPipeline)
	}
	return p.repo.GetPipelineStation(ctx, state.PipelineID, state.StationID)
}
