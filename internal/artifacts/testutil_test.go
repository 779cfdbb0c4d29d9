package artifacts

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

	"maintenance-portal/service-desk-backend/internal/workflow"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event workflow.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofKind(kind workflow.EventKind) []workflow.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []workflow.Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// steppingClock advances one second per reading so log order is deterministic
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// fixture wires the artifact service over sqlite with an Intake -> Work -> Done pipeline.
// Work allows every artifact operation for the technician; Done only allows editing the completion report.
type fixture struct {
	ctx       context.Context
	db        *gorm.DB
	wrepo     workflow.Repository
	engine    *workflow.Engine
	service   *Service
	publisher *recordingPublisher

	creator  workflow.User
	tech     workflow.User
	outsider workflow.User
	provider workflow.User

	section  workflow.Section
	sp       workflow.ServiceProvider
	intake   *workflow.Station
	work     *workflow.Station
	done     *workflow.Station
	pipeline *workflow.Pipeline
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
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		db:        openTestDB(t),
		publisher: &recordingPublisher{},
	}
	f.wrepo = workflow.NewRepository(f.db)
	clock := &steppingClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	cfg := workflow.DefaultEngineConfig()
	cfg.Now = clock.Now
	f.engine = workflow.NewEngine(f.wrepo, f.publisher, nil, zap.NewNop(), cfg)
	f.service = NewService(NewRepository(f.db), f.engine, zap.NewNop())

	f.creator = f.createUser(t, "creator", "+15550001")
	f.tech = f.createUser(t, "tech", "+15550002")
	f.outsider = f.createUser(t, "outsider", "+15550003")
	f.provider = f.createUser(t, "provider", "+15550004")

	f.section = workflow.Section{Name: "Facilities"}
	require.NoError(t, f.wrepo.CreateSection(f.ctx, &f.section))
	f.sp = workflow.ServiceProvider{Name: "Maintenance", Managers: []workflow.User{f.provider}}
	require.NoError(t, f.wrepo.CreateServiceProvider(f.ctx, &f.sp))

	topo := f.engine.Topology()
	var err error
	f.intake, err = topo.CreateStation(f.ctx, workflow.StationInput{Name: "Intake", IsInitial: true, Order: 1})
	require.NoError(t, err)
	f.work, err = topo.CreateStation(f.ctx, workflow.StationInput{Name: "Work", Order: 2})
	require.NoError(t, err)
	f.done, err = topo.CreateStation(f.ctx, workflow.StationInput{Name: "Done", IsFinal: true, Order: 3})
	require.NoError(t, err)

	f.pipeline, err = topo.CreatePipeline(f.ctx, workflow.PipelineInput{
		Name: "Repair",
		Stations: []workflow.BindingInput{
			{StationID: f.intake.ID},
			{
				StationID: f.work.ID,
				Policy: workflow.StationPolicy{
					CanCreatePurchaseOrder:    true,
					CanEditPurchaseOrder:      true,
					CanCreateInventoryOrder:   true,
					CanEditInventoryOrder:     true,
					CanCreateCompletionReport: true,
				},
				AllowedUserIDs: []uuid.UUID{f.tech.ID},
			},
			{
				StationID: f.done.ID,
				Policy:    workflow.StationPolicy{CanEditCompletionReport: true},
			},
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) createUser(t *testing.T, username, phone string) workflow.User {
	t.Helper()
	u := workflow.User{Username: username, Phone: phone}
	require.NoError(t, f.wrepo.CreateUser(f.ctx, &u))
	return u
}

func (f *fixture) actor(u workflow.User) workflow.Actor {
	return workflow.Actor{UserID: u.ID, Username: u.Username}
}

// request files a request and places it in the pipeline; atWork advances it to Work
func (f *fixture) request(t *testing.T, title string, atWork bool) *workflow.ServiceRequest {
	t.Helper()
	spID := f.sp.ID
	req, res, err := f.engine.CreateRequest(f.ctx, workflow.CreateRequestInput{
		Title:             title,
		SectionID:         f.section.ID,
		ServiceProviderID: &spID,
	}, f.actor(f.creator))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	res, err = f.engine.AssignPipeline(f.ctx, req.ID, f.pipeline.ID, f.actor(f.creator))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	if atWork {
		res, err = f.engine.MoveToNextStation(f.ctx, req.ID, f.actor(f.tech), "")
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}
	return f.reload(t, req.ID)
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *workflow.ServiceRequest {
	t.Helper()
	req, err := f.engine.GetRequest(f.ctx, id)
	require.NoError(t, err)
	return req
}

func (f *fixture) latestLog(t *testing.T, id uuid.UUID) workflow.ServiceRequestLog {
	t.Helper()
	logs, err := f.engine.History(f.ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	return logs[0]
}
