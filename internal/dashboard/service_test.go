package dashboard

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// fixture seeds two pipelines sharing the Intake and Work stations:
//
//	Repair: Intake (open) -> Work (tech, assigned only) -> Done (manager, managed sections only)
//	Audit:  Intake (open) -> Work (tech)
type fixture struct {
	ctx     context.Context
	repo    workflow.Repository
	engine  *workflow.Engine
	service *Service
	cache   *Cache

	admin, tech, manager, spUser, spAdmin, creator workflow.User

	facilities, labs   workflow.Section
	intake, work, done *workflow.Station
	repair, audit      *workflow.Pipeline
	requests           map[string]*workflow.ServiceRequest
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(workflow.Models()...))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), requests: make(map[string]*workflow.ServiceRequest)}
	f.repo = workflow.NewRepository(openTestDB(t))
	f.engine = workflow.NewEngine(f.repo, workflow.NopPublisher{}, nil, zap.NewNop(), workflow.DefaultEngineConfig())
	f.cache = NewCache(time.Minute)
	t.Cleanup(f.cache.Stop)
	f.service = NewService(f.engine, f.cache, zap.NewNop())

	f.admin = f.createUser(t, workflow.User{Username: "admin", IsSuperuser: true})
	f.tech = f.createUser(t, workflow.User{Username: "tech"})
	f.manager = f.createUser(t, workflow.User{Username: "manager"})
	f.spUser = f.createUser(t, workflow.User{Username: "sp", Groups: []string{GroupServiceProvider}})
	f.spAdmin = f.createUser(t, workflow.User{Username: "sp-admin", Groups: []string{GroupServiceProviderAdmin}})
	f.creator = f.createUser(t, workflow.User{Username: "creator"})

	f.facilities = workflow.Section{Name: "Facilities", Managers: []workflow.User{f.manager}}
	require.NoError(t, f.repo.CreateSection(f.ctx, &f.facilities))
	f.labs = workflow.Section{Name: "Labs"}
	require.NoError(t, f.repo.CreateSection(f.ctx, &f.labs))

	topo := f.engine.Topology()
	var err error
	f.intake, err = topo.CreateStation(f.ctx, workflow.StationInput{Name: "Intake", IsInitial: true, Order: 1})
	require.NoError(t, err)
	f.work, err = topo.CreateStation(f.ctx, workflow.StationInput{Name: "Work", Order: 2})
	require.NoError(t, err)
	f.done, err = topo.CreateStation(f.ctx, workflow.StationInput{Name: "Done", IsFinal: true, Order: 3})
	require.NoError(t, err)

	f.repair, err = topo.CreatePipeline(f.ctx, workflow.PipelineInput{
		Name: "Repair",
		Stations: []workflow.BindingInput{
			{StationID: f.intake.ID},
			{
				StationID:      f.work.ID,
				Policy:         workflow.StationPolicy{ShowAssignedRequests: true},
				AllowedUserIDs: []uuid.UUID{f.tech.ID},
			},
			{
				StationID:      f.done.ID,
				Policy:         workflow.StationPolicy{ShowTheManagersOnly: true},
				AllowedUserIDs: []uuid.UUID{f.manager.ID},
			},
		},
	})
	require.NoError(t, err)
	f.audit, err = topo.CreatePipeline(f.ctx, workflow.PipelineInput{
		Name: "Audit",
		Stations: []workflow.BindingInput{
			{StationID: f.intake.ID},
			{StationID: f.work.ID, AllowedUserIDs: []uuid.UUID{f.tech.ID}},
		},
	})
	require.NoError(t, err)

	f.file(t, "intake", f.facilities, f.repair, f.intake)
	f.file(t, "work-assigned", f.facilities, f.repair, f.work)
	f.assign(t, "work-assigned", f.tech)
	f.file(t, "work-other", f.facilities, f.repair, f.work)
	f.file(t, "audit-work", f.labs, f.audit, f.work)
	f.file(t, "done-facilities", f.facilities, f.repair, f.done)
	f.file(t, "done-labs", f.labs, f.repair, f.done)
	f.file(t, "loose-assigned", f.facilities, nil, nil)
	f.assign(t, "loose-assigned", f.spUser)
	f.file(t, "loose", f.labs, nil, nil)
	return f
}

func (f *fixture) createUser(t *testing.T, u workflow.User) workflow.User {
	t.Helper()
	require.NoError(t, f.repo.CreateUser(f.ctx, &u))
	return u
}

// file creates a request and, when a pipeline is given, places it at station
func (f *fixture) file(t *testing.T, title string, section workflow.Section, pipeline *workflow.Pipeline, station *workflow.Station) {
	t.Helper()
	req, res, err := f.engine.CreateRequest(f.ctx, workflow.CreateRequestInput{Title: title, SectionID: section.ID}, f.creator.Actor())
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	if pipeline != nil {
		res, err = f.engine.AssignPipeline(f.ctx, req.ID, pipeline.ID, f.admin.Actor())
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
		if station.ID != f.intake.ID {
			res, err = f.engine.MoveToStation(f.ctx, req.ID, station.ID, f.admin.Actor(), "")
			require.NoError(t, err)
			require.True(t, res.Success, res.Message)
		}
	}
	f.requests[title] = req
}

func (f *fixture) assign(t *testing.T, title string, user workflow.User) {
	t.Helper()
	res, err := f.engine.AssignUser(f.ctx, f.requests[title].ID, user.ID, f.admin.Actor())
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
}

func titles(requests []workflow.ServiceRequest) []string {
	out := make([]string, len(requests))
	for i, r := range requests {
		out[i] = r.Title
	}
	return out
}

type cardSummary struct {
	Kind      CardKind
	Station   string
	Count     int64
	Pipelines int
}

func summarizeCards(cards []Card) []cardSummary {
	out := make([]cardSummary, len(cards))
	for i, c := range cards {
		out[i] = cardSummary{Kind: c.Kind, Count: c.Count, Pipelines: len(c.PipelineIDs)}
		if c.Station != nil {
			out[i].Station = c.Station.Name
		}
	}
	return out
}

func TestService_StationCounts(t *testing.T) {
	f := newFixture(t)

	t.Run("technician sees allowed stations with binding filters", func(t *testing.T) {
		cards, err := f.service.StationCounts(f.ctx, f.tech.Actor())
		require.NoError(t, err)
		assert.Equal(t, []cardSummary{
			{Kind: CardStation, Station: "Intake", Count: 1, Pipelines: 2},
			{Kind: CardStation, Station: "Work", Count: 2, Pipelines: 2},
		}, summarizeCards(cards))
	})

	t.Run("superuser sees every station unfiltered", func(t *testing.T) {
		cards, err := f.service.StationCounts(f.ctx, f.admin.Actor())
		require.NoError(t, err)
		assert.Equal(t, []cardSummary{
			{Kind: CardStation, Station: "Intake", Count: 1, Pipelines: 2},
			{Kind: CardStation, Station: "Work", Count: 3, Pipelines: 2},
			{Kind: CardStation, Station: "Done", Count: 2, Pipelines: 1},
		}, summarizeCards(cards))
	})

	t.Run("manager sees only managed sections at Done", func(t *testing.T) {
		cards, err := f.service.StationCounts(f.ctx, f.manager.Actor())
		require.NoError(t, err)
		assert.Equal(t, []cardSummary{
			{Kind: CardStation, Station: "Intake", Count: 1, Pipelines: 2},
			{Kind: CardStation, Station: "Done", Count: 1, Pipelines: 1},
		}, summarizeCards(cards))
	})

	t.Run("service provider gets assigned card first", func(t *testing.T) {
		cards, err := f.service.StationCounts(f.ctx, f.spUser.Actor())
		require.NoError(t, err)
		assert.Equal(t, []cardSummary{
			{Kind: CardAssignedNoPipeline, Count: 1},
			{Kind: CardStation, Station: "Intake", Count: 1, Pipelines: 2},
		}, summarizeCards(cards))
	})

	t.Run("service provider admin gets unassigned card", func(t *testing.T) {
		cards, err := f.service.StationCounts(f.ctx, f.spAdmin.Actor())
		require.NoError(t, err)
		assert.Equal(t, []cardSummary{
			{Kind: CardUnassignedPipeline, Count: 2},
			{Kind: CardStation, Station: "Intake", Count: 1, Pipelines: 2},
		}, summarizeCards(cards))
	})
}

func TestService_StationCountsCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	actor := f.admin.Actor()

	cards, err := f.service.StationCounts(f.ctx, actor)
	require.NoError(t, err)
	require.Equal(t, int64(1), cards[0].Count)

	f.file(t, "second-intake", f.labs, f.repair, f.intake)

	cards, err = f.service.StationCounts(f.ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cards[0].Count, "served from cache")

	NewInvalidator(f.cache).Publish(f.ctx, workflow.Event{Kind: workflow.EventStationEntered})

	cards, err = f.service.StationCounts(f.ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cards[0].Count)
	assert.Equal(t, int64(1), f.service.CacheStats().Hits)
}

func TestService_StationRequests(t *testing.T) {
	f := newFixture(t)

	t.Run("technician gets union of bindings", func(t *testing.T) {
		view, err := f.service.StationRequests(f.ctx, f.tech.Actor(), f.work.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"work-assigned", "audit-work"}, titles(view.Requests))
		assert.True(t, view.AssignedOnly)
		assert.Equal(t, Summary{Total: 2, InProgress: 2}, view.Summary)
	})

	t.Run("manager restricted to managed sections", func(t *testing.T) {
		view, err := f.service.StationRequests(f.ctx, f.manager.Actor(), f.done.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"done-facilities"}, titles(view.Requests))
		assert.Equal(t, Summary{Total: 1, Completed: 1}, view.Summary)
		assert.False(t, view.AssignedOnly)
	})

	t.Run("superuser sees everything at the station", func(t *testing.T) {
		view, err := f.service.StationRequests(f.ctx, f.admin.Actor(), f.work.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"work-assigned", "work-other", "audit-work"}, titles(view.Requests))
	})

	t.Run("outsider is forbidden", func(t *testing.T) {
		_, err := f.service.StationRequests(f.ctx, f.creator.Actor(), f.done.ID)
		assert.ErrorIs(t, err, workflow.ErrForbidden)
	})

	t.Run("unknown station", func(t *testing.T) {
		_, err := f.service.StationRequests(f.ctx, f.tech.Actor(), uuid.New())
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})
}

func TestService_SpecialRequests(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.SpecialRequests(f.ctx, f.spAdmin.Actor(), CardUnassignedPipeline)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"loose-assigned", "loose"}, titles(view.Requests))
	assert.Equal(t, Summary{Total: 2, Pending: 2}, view.Summary)

	view, err = f.service.SpecialRequests(f.ctx, f.spUser.Actor(), CardAssignedNoPipeline)
	require.NoError(t, err)
	assert.Equal(t, []string{"loose-assigned"}, titles(view.Requests))

	_, err = f.service.SpecialRequests(f.ctx, f.tech.Actor(), CardUnassignedPipeline)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = f.service.SpecialRequests(f.ctx, f.tech.Actor(), CardKind("bogus"))
	assert.ErrorIs(t, err, ErrUnknownCard)
}

func TestService_Overview(t *testing.T) {
	f := newFixture(t)

	overview, err := f.service.Overview(f.ctx, f.creator.Actor())
	require.NoError(t, err)
	assert.Equal(t, &Overview{Total: 8, Mine: 8, AssignedToMe: 0, WithoutPipeline: 2}, overview)

	overview, err = f.service.Overview(f.ctx, f.tech.Actor())
	require.NoError(t, err)
	assert.Equal(t, &Overview{Total: 8, Mine: 0, AssignedToMe: 1, WithoutPipeline: 2}, overview)
}
