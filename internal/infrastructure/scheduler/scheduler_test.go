package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *testJob) Name() string { return j.name }
func (j *testJob) Description() string { return "test job" }

func (j *testJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestParseCronExpression_Next(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		expr string
		from time.Time
		want time.Time
	}{
		{"0 7 * * *", time.Date(2025, 9, 15, 6, 59, 0, 0, loc), time.Date(2025, 9, 15, 7, 0, 0, 0, loc)},
		{"0 7 * * *", time.Date(2025, 9, 15, 7, 0, 0, 0, loc), time.Date(2025, 9, 16, 7, 0, 0, 0, loc)},
		{"*/15 * * * *", time.Date(2025, 9, 15, 10, 7, 30, 0, loc), time.Date(2025, 9, 15, 10, 15, 0, 0, loc)},
		{"0 8 * * 1", time.Date(2025, 9, 15, 9, 0, 0, 0, loc), time.Date(2025, 9, 22, 8, 0, 0, 0, loc)},
		{"30 9 1 1,7 *", time.Date(2025, 2, 1, 0, 0, 0, 0, loc), time.Date(2025, 7, 1, 9, 30, 0, 0, loc)},
		{"0 0 29 2 *", time.Date(2025, 3, 1, 0, 0, 0, 0, loc), time.Date(2028, 2, 29, 0, 0, 0, 0, loc)},
		{"0 9-17/4 * * *", time.Date(2025, 9, 15, 14, 0, 0, 0, loc), time.Date(2025, 9, 15, 17, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(tt.from))
		})
	}
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 30m")
	require.NoError(t, err)
	assert.Equal(t, "@every 30m0s", s.String())

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, EveryDayMidnight, s.String())

	s, err = ParseSchedule(" 0 7 * * * ")
	require.NoError(t, err)
	assert.Equal(t, "0 7 * * *", s.String())

	_, err = ParseSchedule("@every 10ms")
	assert.Error(t, err)
	_, err = ParseSchedule("@every soon")
	assert.Error(t, err)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &testJob{name: "a"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&testJob{name: "b"}, nil), ErrNilSchedule)
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 10 * time.Millisecond})
	job := &testJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(20*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())
}

func TestScheduler_DoesNotOverlapAJobWithItself(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 5 * time.Millisecond})
	job := &testJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_RunNowRecordsHistory(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxHistorySize: 2})
	failing := &testJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))

	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })

	for i := 0; i < 3; i++ {
		res, err := s.RunNow(context.Background(), "failing")
		require.Error(t, err)
		assert.False(t, res.Success)
		assert.True(t, res.Manual)
	}

	assert.Len(t, completed, 3)
	assert.Len(t, s.GetHistory(0), 2)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(3), infos[0].RunCount)
	assert.Equal(t, int64(3), infos[0].FailCount)

	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

type panicJob struct{}

func (panicJob) Name() string { return "panics" }
func (panicJob) Description() string { return "" }
func (panicJob) Run(ctx context.Context) error { panic("bad") }

func TestScheduler_RecoversJobPanics(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	require.NoError(t, s.Register(panicJob{}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "panics")
	require.Error(t, err)
	assert.Contains(t, res.Error.Error(), "panicked")
}
