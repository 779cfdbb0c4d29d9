package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stationIDs(stations []Station) []uuid.UUID {
	ids := make([]uuid.UUID, len(stations))
	for i, s := range stations {
		ids[i] = s.ID
	}
	return ids
}

func assertContiguous(t *testing.T, f *fixture, pipelineID uuid.UUID) {
	t.Helper()
	bindings, err := f.engine.Topology().Bindings(f.ctx, pipelineID)
	require.NoError(t, err)
	for i, b := range bindings {
		assert.Equal(t, i+1, b.Order, "binding %d", i)
	}
}

func TestTopology_OrderedStations(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	stations, err := topo.OrderedStations(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.intake.ID, f.review.ID, f.done.ID}, stationIDs(stations))

	initial, err := topo.InitialStation(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, f.intake.ID, initial.ID)

	_, err = topo.StationPosition(f.ctx, f.pipeline.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopology_CreatePipeline_Validation(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	_, err := topo.CreatePipeline(f.ctx, PipelineInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidTopology)

	_, err = topo.CreatePipeline(f.ctx, PipelineInput{
		Name:     "Twice",
		Stations: []BindingInput{{StationID: f.intake.ID}, {StationID: f.intake.ID}},
	})
	assert.ErrorIs(t, err, ErrInvalidTopology)

	_, err = topo.CreatePipeline(f.ctx, PipelineInput{
		Name:     "Ghost",
		Stations: []BindingInput{{StationID: uuid.New()}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.repo.GetPipelineByName(f.ctx, "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := topo.CreatePipeline(f.ctx, PipelineInput{
		Name:       "Scoped",
		SectionIDs: []uuid.UUID{f.section.ID},
		Stations:   []BindingInput{{StationID: f.review.ID, AllowedUserIDs: []uuid.UUID{f.bob.ID}}},
	})
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	require.Len(t, p.Sections, 1)
	require.Len(t, p.Stations, 1)
	assert.Equal(t, 1, p.Stations[0].Order)
	require.Len(t, p.Stations[0].AllowedUsers, 1)
	assert.Equal(t, f.bob.ID, p.Stations[0].AllowedUsers[0].ID)
}

func TestTopology_AddStation(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()
	triage := f.createStation(t, StationInput{Name: "Triage"})

	ps, err := topo.AddStation(f.ctx, f.pipeline.ID, BindingInput{StationID: triage.ID}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ps.Order)

	stations, err := topo.OrderedStations(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.intake.ID, triage.ID, f.review.ID, f.done.ID}, stationIDs(stations))
	assertContiguous(t, f, f.pipeline.ID)

	_, err = topo.AddStation(f.ctx, f.pipeline.ID, BindingInput{StationID: triage.ID}, 1)
	assert.ErrorIs(t, err, ErrInvalidTopology)

	late := f.createStation(t, StationInput{Name: "Archive"})
	ps, err = topo.AddStation(f.ctx, f.pipeline.ID, BindingInput{StationID: late.ID}, 99)
	require.NoError(t, err)
	assert.Equal(t, 5, ps.Order)
}

func TestTopology_AddStation_ShiftsProgress(t *testing.T) {
	f := newFixture(t)
	req := f.assigned(t, "Live topology")
	_, err := f.engine.MoveToNextStation(f.ctx, req.ID, f.actor(f.alice), "")
	require.NoError(t, err)

	triage := f.createStation(t, StationInput{Name: "Triage"})
	_, err = f.engine.Topology().AddStation(f.ctx, f.pipeline.ID, BindingInput{StationID: triage.ID}, 1)
	require.NoError(t, err)

	progress, err := f.engine.Progress(f.ctx, f.reload(t, req.ID))
	require.NoError(t, err)
	assert.Equal(t, 75, progress)
}

func TestTopology_RemoveStation(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	req := f.assigned(t, "Sitting at intake")
	err := topo.RemoveStation(f.ctx, f.pipeline.ID, f.intake.ID)
	assert.ErrorIs(t, err, ErrStationInUse)

	require.NoError(t, topo.RemoveStation(f.ctx, f.pipeline.ID, f.review.ID))
	stations, err := topo.OrderedStations(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.intake.ID, f.done.ID}, stationIDs(stations))
	assertContiguous(t, f, f.pipeline.ID)

	next, err := f.engine.NextStation(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, f.done.ID, next.ID)

	err = topo.RemoveStation(f.ctx, f.pipeline.ID, f.review.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopology_Reorder(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	order := []uuid.UUID{f.review.ID, f.intake.ID, f.done.ID}
	require.NoError(t, topo.Reorder(f.ctx, f.pipeline.ID, order))

	stations, err := topo.OrderedStations(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, order, stationIDs(stations))
	assertContiguous(t, f, f.pipeline.ID)

	err = topo.Reorder(f.ctx, f.pipeline.ID, []uuid.UUID{f.review.ID, f.intake.ID})
	assert.ErrorIs(t, err, ErrInvalidTopology)
	err = topo.Reorder(f.ctx, f.pipeline.ID, []uuid.UUID{f.review.ID, f.review.ID, f.done.ID})
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestTopology_UpdateBinding(t *testing.T) {
	f := newFixture(t)

	ps, err := f.engine.Topology().UpdateBinding(f.ctx, f.pipeline.ID, f.review.ID,
		StationPolicy{CanSendBack: true, RequiredRole: "supervisors"}, []uuid.UUID{f.bob.ID, f.bob.ID})
	require.NoError(t, err)
	assert.True(t, ps.CanSendBack)
	assert.Equal(t, "supervisors", ps.RequiredRole)
	require.Len(t, ps.AllowedUsers, 1)
	assert.False(t, ps.Unrestricted())

	ps, err = f.engine.Topology().UpdateBinding(f.ctx, f.pipeline.ID, f.review.ID, StationPolicy{}, nil)
	require.NoError(t, err)
	assert.False(t, ps.CanSendBack)
	assert.Empty(t, ps.AllowedUsers)
	assert.True(t, ps.Unrestricted())

	_, err = f.engine.Topology().UpdateBinding(f.ctx, f.pipeline.ID, f.review.ID, StationPolicy{}, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopology_DeleteStation(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	req := f.assigned(t, "Passing through")
	_, err := f.engine.MoveToNextStation(f.ctx, req.ID, f.actor(f.alice), "")
	require.NoError(t, err)

	err = topo.DeleteStation(f.ctx, f.review.ID)
	assert.ErrorIs(t, err, ErrStationInUse)

	_, err = f.engine.MoveToNextStation(f.ctx, req.ID, f.actor(f.alice), "")
	require.NoError(t, err)
	require.NoError(t, topo.DeleteStation(f.ctx, f.review.ID))

	stations, err := topo.OrderedStations(f.ctx, f.pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.intake.ID, f.done.ID}, stationIDs(stations))
	assertContiguous(t, f, f.pipeline.ID)

	logs, err := f.repo.ListLogs(f.ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Nil(t, logs[0].FromStationID)
	assert.Nil(t, logs[1].ToStationID)

	_, err = f.repo.GetStation(f.ctx, f.review.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopology_DeletePipeline(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	f.assigned(t, "Holding the pipeline")
	err := topo.DeletePipeline(f.ctx, f.pipeline.ID)
	assert.ErrorIs(t, err, ErrPipelineInUse)

	spare, err := topo.CreatePipeline(f.ctx, PipelineInput{
		Name:       "Spare",
		SectionIDs: []uuid.UUID{f.section.ID},
		Stations:   []BindingInput{{StationID: f.intake.ID, AllowedUserIDs: []uuid.UUID{f.bob.ID}}},
	})
	require.NoError(t, err)
	require.NoError(t, topo.DeletePipeline(f.ctx, spare.ID))

	_, err = topo.GetPipeline(f.ctx, spare.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	bindings, err := f.repo.ListBindingsForStation(f.ctx, f.intake.ID)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)
}

func TestTopology_SeedDefaults(t *testing.T) {
	f := newFixture(t)
	topo := f.engine.Topology()

	res, err := topo.SeedDefaults(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.StationsCreated)
	assert.Equal(t, 2, res.PipelinesCreated)

	res, err = topo.SeedDefaults(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.StationsCreated)
	assert.Zero(t, res.PipelinesCreated)

	standard, err := f.repo.GetPipelineByName(f.ctx, "Standard Service Workflow")
	require.NoError(t, err)
	stations, err := topo.OrderedStations(f.ctx, standard.ID)
	require.NoError(t, err)
	require.Len(t, stations, 4)
	assert.Equal(t, "Pending", stations[0].Name)
	assert.True(t, stations[0].IsInitial)
	assert.True(t, stations[3].IsFinal)

	express, err := f.repo.GetPipelineByName(f.ctx, "Express Service Workflow")
	require.NoError(t, err)
	stations, err = topo.OrderedStations(f.ctx, express.ID)
	require.NoError(t, err)
	names := make([]string, len(stations))
	for i, s := range stations {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"Pending", "In Progress", "Completed"}, names)
}
