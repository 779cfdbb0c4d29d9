package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var defaultStations = []StationInput{
	{Name: "Pending", NameAr: "قيد الانتظار", IsInitial: true, Color: "#FFA500", Order: 1},
	{Name: "In Progress", NameAr: "قيد التنفيذ", Color: "#4169E1", Order: 2},
	{Name: "Under Review", NameAr: "قيد المراجعة", Color: "#FFD700", Order: 3},
	{Name: "Completed", NameAr: "مكتمل", IsFinal: true, Color: "#32CD32", Order: 4},
}

var defaultPipelines = []struct {
	input PipelineInput
	skip  string
}{
	{
		input: PipelineInput{
			Name:        "Standard Service Workflow",
			NameAr:      "سير العمل القياسي",
			Description: "Default workflow for service requests",
		},
	},
	{
		input: PipelineInput{
			Name:        "Express Service Workflow",
			NameAr:      "سير عمل سريع",
			Description: "Expedited workflow for simple service requests",
		},
		skip: "Under Review",
	},
}

// SeedResult reports what SeedDefaults created
type SeedResult struct {
	StationsCreated  int `json:"stations_created"`
	PipelinesCreated int `json:"pipelines_created"`
}

// SeedDefaults creates the stock stations and pipelines; existing ones are kept by name
func (t *Topology) SeedDefaults(ctx context.Context) (*SeedResult, error) {
	result := &SeedResult{}

	stations := make([]Station, 0, len(defaultStations))
	for _, in := range defaultStations {
		station, err := t.repo.GetStationByName(ctx, in.Name)
		if errors.Is(err, ErrNotFound) {
			station, err = t.CreateStation(ctx, in)
			if err == nil {
				result.StationsCreated++
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed station %q: %w", in.Name, err)
		}
		stations = append(stations, *station)
	}

	for _, def := range defaultPipelines {
		_, err := t.repo.GetPipelineByName(ctx, def.input.Name)
		if err == nil {
			t.logger.Debug("Pipeline already exists", zap.String("name", def.input.Name))
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		in := def.input
		in.Stations = nil
		for _, s := range stations {
			if s.Name == def.skip {
				continue
			}
			in.Stations = append(in.Stations, BindingInput{StationID: s.ID, AllowedUserIDs: []uuid.UUID{}})
		}
		if _, err := t.CreatePipeline(ctx, in); err != nil {
			return nil, fmt.Errorf("failed to seed pipeline %q: %w", in.Name, err)
		}
		result.PipelinesCreated++
	}

	t.logger.Info("Default workflow seeded",
		zap.Int("stations_created", result.StationsCreated),
		zap.Int("pipelines_created", result.PipelinesCreated))
	return result, nil
}
