package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/countdownstack/config"
	"github.com/cppla/countdownstack/store"
)

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler(time.Minute, nil)
	require.NoError(t, s.Register("echo", "@every 1h", func(ctx context.Context) (any, error) {
		_, hasDeadline := ctx.Deadline()
		return hasDeadline, nil
	}))

	out, err := s.RunNow(bgCtx, "echo")
	require.NoError(t, err)
	assert.Equal(t, true, out)

	_, err = s.RunNow(bgCtx, "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestSchedulerRejectsBadSpecAndDuplicates(t *testing.T) {
	s := NewScheduler(0, nil)
	noop := func(context.Context) (any, error) { return nil, nil }
	assert.Error(t, s.Register("bad", "not a schedule", noop))
	require.NoError(t, s.Register("ok", "@every 1h", noop))
	assert.Error(t, s.Register("ok", "@every 2h", noop))
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	s := NewScheduler(0, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register("slow", "@every 1h", func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(bgCtx, "slow")
		done <- err
	}()
	<-started
	_, err := s.RunNow(bgCtx, "slow")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, s.Entries()[0].Running)
	close(release)
	require.NoError(t, <-done)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(0, nil)
	require.NoError(t, s.Register("panicky", "@every 1h", func(context.Context) (any, error) {
		panic("kaboom")
	}))
	_, err := s.RunNow(bgCtx, "panicky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// the job is runnable again afterwards
	_, err = s.RunNow(bgCtx, "panicky")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrJobRunning))
}

func TestSchedulerTimeout(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, nil)
	require.NoError(t, s.Register("stuck", "@every 1h", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_, err := s.RunNow(bgCtx, "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSchedulerEntriesAndLifecycle(t *testing.T) {
	s := NewScheduler(0, nil)
	noop := func(context.Context) (any, error) { return nil, nil }
	require.NoError(t, s.Register("b", "@every 2h", noop))
	require.NoError(t, s.Register("a", "@every 1h", noop))

	s.Start()
	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "@every 1h", entries[0].Spec)
	assert.False(t, entries[0].Next.IsZero())

	ctx, cancel := context.WithTimeout(bgCtx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerRestartsWithLiveContext(t *testing.T) {
	s := NewScheduler(0, nil)
	ran := make(chan error, 1)
	require.NoError(t, s.Register("tick", "@every 1s", func(ctx context.Context) (any, error) {
		select {
		case ran <- ctx.Err():
		default:
		}
		return nil, nil
	}))

	s.Start()
	ctx, cancel := context.WithTimeout(bgCtx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.Error(t, s.baseContext().Err())

	s.Start()
	require.NoError(t, s.baseContext().Err())
	select {
	case err := <-ran:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run after restart")
	}
	stopCtx, stopCancel := context.WithTimeout(bgCtx, time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestSuiteRegistersJobs(t *testing.T) {
	st := store.NewMemoryStore()
	app := config.AppConfig{JobTimeoutMinutes: 1, TrendingSchedule: "@every 6h"}
	suite, err := NewSuite(st, app, nil, nil, nil)
	require.NoError(t, err)

	var names []string
	for _, e := range suite.Scheduler.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{JobInactivity, JobRetention, JobTrending}, names)

	report, err := suite.Scheduler.RunNow(bgCtx, JobRetention)
	require.NoError(t, err)
	assert.IsType(t, &SweepReport{}, report)
}
