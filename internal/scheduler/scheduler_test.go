package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_AddValidatesSpec(t *testing.T) {
	s := New(zap.NewNop(), 0)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("reminders", "0 0 8 * * *", noop))
	assert.Error(t, s.Add("reminders", "0 0 9 * * *", noop))
	assert.Error(t, s.Add("broken", "every morning", noop))
	assert.Len(t, s.Status(), 1)
}

func TestScheduler_RunNowRecordsStatus(t *testing.T) {
	s := New(zap.NewNop(), time.Second)
	calls := 0
	boom := errors.New("boom")
	require.NoError(t, s.Add("sweep", "0 0 8 * * *", func(ctx context.Context) error {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		if calls == 2 {
			return boom
		}
		return nil
	}))

	require.NoError(t, s.RunNow("sweep"))
	assert.ErrorIs(t, s.RunNow("sweep"), boom)

	status := s.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 2, status[0].Runs)
	assert.Equal(t, 1, status[0].Failures)
	assert.Equal(t, "boom", status[0].LastErr)
	assert.NotNil(t, status[0].LastRun)

	assert.ErrorIs(t, s.RunNow("missing"), ErrUnknownJob)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(zap.NewNop(), 0)
	fired := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "* * * * * *", func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	s.Stop()
	s.Stop()
}
