// Package scheduler runs the worker's periodic jobs, such as the daily
// deadline scan.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Job is one unit of periodic work. Run receives a context that is
// cancelled when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the first activation strictly after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig tunes a Scheduler. Zero fields take the defaults of
// DefaultSchedulerConfig.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone schedules are evaluated in.
	Timezone     *time.Location
	TickInterval time.Duration

	// MaxHistorySize bounds the results kept for GetHistory.
	MaxHistorySize int

	Now func() time.Time
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:         slog.Default(),
		Timezone:       time.UTC,
		TickInterval:   time.Second,
		MaxHistorySize: 100,
		Now:            time.Now,
	}
}

// Scheduler polls its jobs every tick and starts the ones that are due.
// A job never overlaps with itself: a tick that finds it still running
// leaves it alone, and RunNow refuses with ErrJobRunning.
type Scheduler struct {
	cfg SchedulerConfig
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	history []JobResult
	notify  func(JobResult)

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	since   time.Time
	wg      sync.WaitGroup
}

type entry struct {
	job      Job
	schedule Schedule
	disabled bool
	busy     bool

	lastRun time.Time
	nextRun time.Time
	runs    int64
	fails   int64
	last    *JobResult
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Timezone == nil {
		cfg.Timezone = def.Timezone
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = def.MaxHistorySize
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Scheduler{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "scheduler"),
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) localNow() time.Time {
	return s.cfg.Now().In(s.cfg.Timezone)
}

// Register adds job under its name. Its first run is the schedule's next
// activation after now.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.localNow())}
	s.entries[name] = e

	s.log.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", e.nextRun.Format(time.RFC3339))
	return nil
}

// SetEnabled pauses or resumes a job. Resuming recomputes its next run.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.disabled = !enabled
	if enabled {
		e.nextRun = e.schedule.Next(s.localNow())
	}
	return nil
}

// OnJobComplete installs a hook called after every run, scheduled or manual.
func (s *Scheduler) OnJobComplete(fn func(result JobResult)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// ─────────────────────────────────────────────────────────────────────────────
// LIFECYCLE
// ─────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.since = s.cfg.Now()

	s.wg.Add(1)
	go s.loop(s.ctx)

	s.log.Info("scheduler started", "jobs_count", len(s.entries))
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped", "uptime", s.cfg.Now().Sub(s.since).String())
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, e := range s.claimDue() {
				s.wg.Add(1)
				go func(e *entry) {
					defer s.wg.Done()
					s.run(ctx, e, false)
				}(e)
			}
		}
	}
}

// claimDue marks every due job busy and advances its next run.
func (s *Scheduler) claimDue() []*entry {
	now := s.localNow()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, e := range s.entries {
		if e.disabled || e.busy || e.nextRun.IsZero() || now.Before(e.nextRun) {
			continue
		}
		e.busy = true
		e.lastRun = now
		e.nextRun = e.schedule.Next(now)
		due = append(due, e)
	}
	return due
}

// RunNow runs a job immediately, outside its schedule, and returns once it
// finishes. The returned error is the job's own.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.busy:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.busy = true
	e.lastRun = s.localNow()
	s.mu.Unlock()

	res := s.run(ctx, e, true)
	return &res, res.Error
}

// run executes a claimed entry and releases it.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	log := s.log.With("job", name, "manual", manual)
	log.Info("job started")

	res := JobResult{JobName: name, Manual: manual, StartedAt: s.cfg.Now()}
	res.Error = protect(ctx, e.job)
	res.CompletedAt = s.cfg.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = res.Error == nil

	hook := s.finish(e, res)

	if res.Error != nil {
		log.Error("job failed", "duration", res.Duration.String(), "error", res.Error)
	} else {
		log.Info("job completed", "duration", res.Duration.String())
	}
	if hook != nil {
		hook(res)
	}
	return res
}

func (s *Scheduler) finish(e *entry, res JobResult) func(JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.busy = false
	e.runs++
	if !res.Success {
		e.fails++
	}
	e.last = &res

	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.MaxHistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	return s.notify
}

func protect(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// INTROSPECTION
// ─────────────────────────────────────────────────────────────────────────────

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string
	Description string
	Enabled     bool
	Running     bool
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns every job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Enabled:     !e.disabled,
			Running:     e.busy,
			Schedule:    e.schedule.String(),
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.fails,
			LastResult:  e.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetHistory returns the last limit results, oldest first. limit <= 0
// returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]JobResult(nil), s.history[len(s.history)-limit:]...)
}
