package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicas/practice-hub/internal/application/query"
	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
	"github.com/practicas/practice-hub/internal/infrastructure/messaging"
	"github.com/practicas/practice-hub/internal/infrastructure/persistence/memory"
)

var scanAt = time.Date(2025, 9, 15, 7, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	reports []*deadline.Report
	err     error
}

func (n *recordingNotifier) NotifyDeadlines(_ context.Context, r *deadline.Report) error {
	n.reports = append(n.reports, r)
	return n.err
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(context.Context, string, string, time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
		return nil
	}, true, nil
}

type flakyReporter struct {
	next     DeadlineReporter
	failures int
	calls    int
}

func (r *flakyReporter) Handle(ctx context.Context, q query.DeadlineReportQuery) (*query.DeadlineReportResult, error) {
	r.calls++
	if r.calls <= r.failures {
		return nil, shared.Unavailable("practice", "ListActive", errors.New("connection reset"))
	}
	return r.next.Handle(ctx, q)
}

func seededReporter(t *testing.T) *query.DeadlineReportHandler {
	t.Helper()
	repo := memory.NewPracticeRepository(memory.NewDB())
	for _, ago := range []int{20, 8, 1} {
		end := scanAt.AddDate(0, 0, -ago)
		p, err := practice.NewPractice(practice.NewPracticeParams{
			Type:        practice.TypeLabor,
			StudentID:   "s",
			ProgramID:   "civil",
			ProgramName: "Civil",
			StartDate:   end.AddDate(0, -1, 0),
			EndDate:     end,
		}, scanAt.AddDate(0, -2, 0))
		require.NoError(t, err)
		p.State = practice.StateFinishedPendingEval
		require.NoError(t, repo.Create(context.Background(), p))
	}
	return query.NewDeadlineReportHandler(repo, nil, query.DefaultDeadlineReportConfig(), nil)
}

func newJob(reporter DeadlineReporter, notifier deadline.Notifier, bus shared.EventPublisher, locker Locker) *DetectOverdueJob {
	cfg := DefaultDetectOverdueConfig()
	return NewDetectOverdueJob(reporter, notifier, bus, locker, nil, cfg).WithClock(func() time.Time { return scanAt })
}

func TestDetectOverdueJob_NotifiesAndPublishes(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	var events []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventDeadlineScanCompleted, func(e shared.Event) error {
		events = append(events, e)
		return nil
	}))

	notifier := &recordingNotifier{}
	locker := &fakeLocker{}
	job := newJob(seededReporter(t), notifier, bus, locker)

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, notifier.reports, 1)
	assert.Equal(t, 2, notifier.reports[0].Summary.Total)
	assert.Equal(t, 1, notifier.reports[0].Summary.Critical)

	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Payload()["overdue"])
	assert.Equal(t, 1, events[0].Payload()["critical"])

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Checked)
	assert.Equal(t, 2, stats.Overdue)
	assert.True(t, stats.Notified)
	assert.Equal(t, 1, locker.released)
}

func TestDetectOverdueJob_SkipsWhenLockHeld(t *testing.T) {
	notifier := &recordingNotifier{}
	locker := &fakeLocker{held: true}
	job := newJob(seededReporter(t), notifier, nil, locker)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, notifier.reports)
	assert.True(t, job.LastRunStats().SkippedLocked)
}

func TestDetectOverdueJob_RunsWhenLockBackendFails(t *testing.T) {
	notifier := &recordingNotifier{}
	job := newJob(seededReporter(t), notifier, nil, &fakeLocker{err: errors.New("redis down")})

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, notifier.reports, 1)
}

func TestDetectOverdueJob_RetriesDependencyFailures(t *testing.T) {
	reporter := &flakyReporter{next: seededReporter(t), failures: 1}
	notifier := &recordingNotifier{}
	job := newJob(reporter, notifier, nil, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, reporter.calls)
	assert.Len(t, notifier.reports, 1)
}

func TestDetectOverdueJob_GivesUpAfterRetries(t *testing.T) {
	reporter := &flakyReporter{next: seededReporter(t), failures: 10}
	job := newJob(reporter, &recordingNotifier{}, nil, nil)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsDependencyUnavailable(err))
	assert.Equal(t, DefaultDetectOverdueConfig().RetryAttempts, reporter.calls)
	assert.Nil(t, job.LastRunStats())
}

func TestDetectOverdueJob_NotifierFailureIsReported(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	job := newJob(seededReporter(t), notifier, nil, nil)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.False(t, job.LastRunStats().Notified)
}
