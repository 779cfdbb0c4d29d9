package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

// Now returns the current instant and advances one second
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) Kinds() []EventKind {
	var kinds []EventKind
	for _, e := range p.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// fixture wires an engine over sqlite with the Intake -> Review -> Done pipeline
type fixture struct {
	ctx       context.Context
	db        *gorm.DB
	repo      Repository
	engine    *Engine
	publisher *recordingPublisher
	clock     *testClock

	alice   User
	bob     User
	manager User
	section Section

	intake   Station
	review   Station
	done     Station
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, DefaultEngineConfig())
}

func newFixtureWithConfig(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		db:        openTestDB(t),
		publisher: &recordingPublisher{},
		clock:     newTestClock(),
	}
	f.repo = NewRepository(f.db)
	cfg.Now = f.clock.Now
	f.engine = NewEngine(f.repo, f.publisher, nil, zap.NewNop(), cfg)

	f.alice = f.createUser(t, "alice", "+15550001")
	f.bob = f.createUser(t, "bob", "+15550002")
	f.manager = f.createUser(t, "manager", "+15550003")

	f.section = Section{Name: "Facilities", Managers: []User{f.manager}}
	require.NoError(t, f.repo.CreateSection(f.ctx, &f.section))

	topo := f.engine.Topology()
	f.intake = f.createStation(t, StationInput{Name: "Intake", IsInitial: true, Order: 1})
	f.review = f.createStation(t, StationInput{Name: "Review", Order: 2})
	f.done = f.createStation(t, StationInput{Name: "Done", IsFinal: true, Order: 3})

	pipeline, err := topo.CreatePipeline(f.ctx, PipelineInput{
		Name: "Intake-Review-Done",
		Stations: []BindingInput{
			{StationID: f.intake.ID},
			{StationID: f.review.ID},
			{StationID: f.done.ID},
		},
	})
	require.NoError(t, err)
	f.pipeline = pipeline
	return f
}

func (f *fixture) createUser(t *testing.T, username, phone string) User {
	t.Helper()
	u := User{Username: username, FullName: strings.ToUpper(username[:1]) + username[1:], Phone: phone}
	require.NoError(t, f.repo.CreateUser(f.ctx, &u))
	return u
}

func (f *fixture) createStation(t *testing.T, in StationInput) Station {
	t.Helper()
	s, err := f.engine.Topology().CreateStation(f.ctx, in)
	require.NoError(t, err)
	return *s
}

func (f *fixture) actor(u User, groups ...string) Actor {
	return Actor{UserID: u.ID, Username: u.Username, Groups: groups}
}

func (f *fixture) newRequest(t *testing.T, title string) *ServiceRequest {
	t.Helper()
	req, res, err := f.engine.CreateRequest(f.ctx, CreateRequestInput{
		Title:     title,
		SectionID: f.section.ID,
	}, f.actor(f.alice))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return req
}

func (f *fixture) assigned(t *testing.T, title string) *ServiceRequest {
	t.Helper()
	req := f.newRequest(t, title)
	res, err := f.engine.AssignPipeline(f.ctx, req.ID, f.pipeline.ID, f.actor(f.alice))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return f.reload(t, req.ID)
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *ServiceRequest {
	t.Helper()
	req, err := f.repo.GetRequest(f.ctx, id)
	require.NoError(t, err)
	return req
}

func (f *fixture) binding(t *testing.T, station Station) *PipelineStation {
	t.Helper()
	ps, err := f.repo.GetPipelineStation(f.ctx, f.pipeline.ID, station.ID)
	require.NoError(t, err)
	return ps
}

func (f *fixture) setPolicy(t *testing.T, station Station, policy StationPolicy, allowed ...uuid.UUID) {
	t.Helper()
	if allowed == nil {
		allowed = []uuid.UUID{}
	}
	_, err := f.engine.Topology().UpdateBinding(f.ctx, f.pipeline.ID, station.ID, policy, allowed)
	require.NoError(t, err)
}
