package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	// ErrUnknownJob is returned by RunNow for a name that was never registered.
	ErrUnknownJob = errors.New("jobs: unknown job")
	// ErrJobRunning is returned by RunNow while the same job is already running.
	ErrJobRunning = errors.New("jobs: job already running")
)

// JobFunc is one schedulable unit of work. The returned value is the run's report.
type JobFunc func(ctx context.Context) (any, error)

type scheduledJob struct {
	name    string
	spec    string
	fn      JobFunc
	entry   cron.EntryID
	running atomic.Bool
}

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Prev    time.Time `json:"prev"`
	Next    time.Time `json:"next"`
	Running bool      `json:"running"`
}

// Scheduler runs registered jobs on cron schedules. Each invocation gets its
// own timeout, panics are recovered, and an invocation that would overlap a
// still-running one of the same job is skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	base    context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates a scheduler. timeout <= 0 means no per-run timeout.
func NewScheduler(timeout time.Duration, logger *zap.Logger) *Scheduler {
	logger = named(logger, "jobs.scheduler")
	cl := cronLogger{logger.Sugar()}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: timeout,
		logger:  logger,
		jobs:    map[string]*scheduledJob{},
		base:    base,
		cancel:  cancel,
	}
}

// Register adds a job under name with a cron spec such as "@every 6h".
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("jobs: %s already registered", name)
	}
	job := &scheduledJob{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.invoke(s.baseContext(), job); err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("jobs: schedule %s %q: %w", name, spec, err)
	}
	job.entry = id
	s.jobs[name] = job
	return nil
}

func (s *Scheduler) invoke(parent context.Context, job *scheduledJob) (report any, err error) {
	if !job.running.CompareAndSwap(false, true) {
		s.logger.Info("skipping overlapping run", zap.String("job", job.name))
		return nil, ErrJobRunning
	}
	defer job.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: %s panicked: %v", job.name, r)
		}
	}()

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}
	start := time.Now()
	s.logger.Debug("job started", zap.String("job", job.name))
	report, err = job.fn(ctx)
	s.logger.Debug("job finished", zap.String("job", job.name), zap.Duration("duration", time.Since(start)), zap.Error(err))
	return report, err
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// RunNow runs the named job immediately in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) (any, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.invoke(ctx, job)
}

// Start begins running jobs on their schedules. A stopped scheduler can be
// started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if s.base.Err() != nil {
		s.base, s.cancel = context.WithCancel(context.Background())
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop stops scheduling and waits for running jobs until ctx is done, at which
// point they are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()
	if !started {
		cancel()
		return nil
	}
	done := s.cron.Stop()
	defer cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out; cancelling running jobs")
		return ctx.Err()
	}
}

// Entries lists the registered jobs sorted by name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		e := s.cron.Entry(job.entry)
		out = append(out, EntryInfo{
			Name:    job.name,
			Spec:    job.spec,
			Prev:    e.Prev,
			Next:    e.Next,
			Running: job.running.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
