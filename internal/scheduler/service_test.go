package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testConfig() *config.Config {
	return &config.Config{
		TimeZone:              "UTC",
		SweepInterval:         4 * time.Hour,
		AlertInterval:         time.Hour,
		HealthInterval:        30 * time.Minute,
		CleanupInterval:       24 * time.Hour,
		DailyDigestSchedule:   "0 0 8 * * *",
		WeeklySummarySchedule: "0 0 9 * * SUN",
		MaxTaskFailures:       3,
	}
}

// MockJobs is a mock implementation of Jobs
type MockJobs struct {
	mock.Mock
}

func (m *MockJobs) Sweep(ctx context.Context) (*pipeline.SweepReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.SweepReport), args.Error(1)
}

func (m *MockJobs) ProcessAlerts(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockJobs) FlushDigests(ctx context.Context, mode models.FrequencyMode) error {
	return m.Called(ctx, mode).Error(0)
}

func (m *MockJobs) WeeklySummary(ctx context.Context) (*models.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Report), args.Error(1)
}

func (m *MockJobs) Cleanup(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockJobs) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestRegisterJobs(t *testing.T) {
	s := NewService(testConfig())
	jobs := &MockJobs{}
	require.NoError(t, s.RegisterJobs(jobs))

	status := s.Status()
	require.Len(t, status.Tasks, 6)
	names := make([]string, 0, len(status.Tasks))
	for _, ts := range status.Tasks {
		names = append(names, ts.Name)
		assert.Equal(t, StateIdle, ts.State)
	}
	assert.Equal(t, []string{"alerts", "cleanup", "daily_digest", "health", "sweep", "weekly_summary"}, names)

	sweep, err := s.Task(TaskSweep)
	require.NoError(t, err)
	assert.Equal(t, "@every 4h0m0s", sweep.Schedule)

	jobs.On("FlushDigests", mock.Anything, models.FrequencyDaily).Return(nil).Once()
	jobs.On("Sweep", mock.Anything).Return(&pipeline.SweepReport{}, nil).Once()
	jobs.On("WeeklySummary", mock.Anything).Return(nil, errBoom).Once()

	require.NoError(t, s.RunNow(TaskDailyDigest))
	require.NoError(t, s.RunNow(TaskSweep))
	assert.ErrorIs(t, s.RunNow(TaskWeeklySummary), errBoom)
	jobs.AssertExpectations(t)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := NewService(testConfig())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Register(Task{Name: "bad", Schedule: "every tuesday", Run: noop}))
	assert.Error(t, s.Register(Task{Name: "", Schedule: "@every 1m", Run: noop}))

	require.NoError(t, s.Register(Task{Name: "ok", Schedule: "@every 1m", Run: noop}))
	assert.Error(t, s.Register(Task{Name: "ok", Schedule: "@every 1m", Run: noop}))
}

func TestUnknownTask(t *testing.T) {
	s := NewService(testConfig())

	assert.ErrorIs(t, s.RunNow("nope"), ErrUnknownTask)
	assert.ErrorIs(t, s.Enable("nope"), ErrUnknownTask)
	assert.ErrorIs(t, s.Disable("nope"), ErrUnknownTask)
	_, err := s.Task("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskStateTransitions(t *testing.T) {
	s := NewService(testConfig())
	var fail bool
	require.NoError(t, s.Register(Task{
		Name:     "flaky",
		Schedule: "@every 1h",
		Run: func(context.Context) error {
			if fail {
				return errBoom
			}
			return nil
		},
	}))

	require.NoError(t, s.RunNow("flaky"))
	ts, _ := s.Task("flaky")
	assert.Equal(t, StateIdle, ts.State)
	assert.Equal(t, StateSuccess, ts.LastResult)
	assert.Equal(t, 1, ts.Runs)

	fail = true
	assert.ErrorIs(t, s.RunNow("flaky"), errBoom)
	ts, _ = s.Task("flaky")
	assert.Equal(t, StateFailed, ts.LastResult)
	assert.Equal(t, 1, ts.ConsecutiveFailures)
	assert.Equal(t, "boom", ts.LastError)

	fail = false
	require.NoError(t, s.RunNow("flaky"))
	ts, _ = s.Task("flaky")
	assert.Zero(t, ts.ConsecutiveFailures)
	assert.Equal(t, 1, ts.Failures)
	assert.Empty(t, ts.LastError)
}

func TestTaskDisabledAfterConsecutiveFailures(t *testing.T) {
	s := NewService(testConfig())
	calls := 0
	require.NoError(t, s.Register(Task{
		Name:     "broken",
		Schedule: "@every 1h",
		Run: func(context.Context) error {
			calls++
			return errBoom
		},
	}))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.RunNow("broken"), errBoom)
	}

	status := s.Status()
	assert.Equal(t, []string{"broken"}, status.Degraded)
	assert.ErrorIs(t, s.RunNow("broken"), ErrTaskDisabled)
	assert.Equal(t, 3, calls)

	require.NoError(t, s.Enable("broken"))
	ts, _ := s.Task("broken")
	assert.False(t, ts.Disabled)
	assert.Zero(t, ts.ConsecutiveFailures)
	assert.Empty(t, s.Status().Degraded)

	assert.ErrorIs(t, s.RunNow("broken"), errBoom)
	assert.Equal(t, 4, calls)
}

func TestDisableSkipsRuns(t *testing.T) {
	s := NewService(testConfig())
	calls := 0
	require.NoError(t, s.Register(Task{
		Name:     "report",
		Schedule: "@every 1h",
		Run:      func(context.Context) error { calls++; return nil },
	}))

	require.NoError(t, s.Disable("report"))
	assert.ErrorIs(t, s.RunNow("report"), ErrTaskDisabled)
	assert.Zero(t, calls)
}

func TestPanickingTaskCountsAsFailure(t *testing.T) {
	s := NewService(testConfig())
	require.NoError(t, s.Register(Task{
		Name:     "panicky",
		Schedule: "@every 1h",
		Run:      func(context.Context) error { panic("nil map") },
	}))

	err := s.RunNow("panicky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")

	ts, _ := s.Task("panicky")
	assert.Equal(t, StateIdle, ts.State)
	assert.Equal(t, 1, ts.ConsecutiveFailures)
}

func TestOverlappingRunIsRefused(t *testing.T) {
	s := NewService(testConfig())
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(Task{
		Name:     "slow",
		Schedule: "@every 1h",
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.RunNow("slow"))
	}()

	<-started
	ts, _ := s.Task("slow")
	assert.Equal(t, StateRunning, ts.State)
	assert.ErrorIs(t, s.RunNow("slow"), ErrTaskRunning)

	close(release)
	wg.Wait()
	ts, _ = s.Task("slow")
	assert.Equal(t, 1, ts.Runs)
	assert.Equal(t, StateIdle, ts.State)
}

func TestTaskTimeout(t *testing.T) {
	s := NewService(testConfig())
	require.NoError(t, s.Register(Task{
		Name:     "stuck",
		Schedule: "@every 1h",
		Timeout:  20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	assert.ErrorIs(t, s.RunNow("stuck"), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	s := NewService(testConfig())
	assert.Error(t, s.Start(), "nothing registered")

	require.NoError(t, s.Register(Task{Name: "tick", Schedule: "@every 1h", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	status := s.Status()
	assert.True(t, status.Running)
	require.Len(t, status.Tasks, 1)
	assert.False(t, status.Tasks[0].NextRun.IsZero())

	s.Stop()
	assert.False(t, s.Status().Running)
	s.Stop()
}
