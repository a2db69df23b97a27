// Package scheduler runs the periodic proposal expiration and fund maturity
// sweeps.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/metrics"
)

// Sweeper is one idempotent pass over due work. It returns how many items
// it changed.
type Sweeper func(ctx context.Context, now time.Time) (int, error)

// Locker grants a named lock across replicas. release is always non-nil.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Job is a sweep bound to a cron spec.
type Job struct {
	Name  string
	Spec  string
	Sweep Sweeper
	// LockTTL bounds how long one replica holds the job. Defaults to one
	// minute.
	LockTTL time.Duration
}

// Scheduler runs sweeps on cron schedules. With a Locker only one replica
// runs a given job per tick.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	now     func() time.Time
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. locker may be nil.
func New(locker Locker, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		locker:  locker,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.Component("scheduler"),
		timeout: 5 * time.Minute,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job Job) error {
	if job.LockTTL <= 0 {
		job.LockTTL = time.Minute
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.Run(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.log.Info().Str("job", job.Name).Str("spec", job.Spec).Msg("Sweep scheduled")
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop cancels in-flight sweeps and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
}

// Run executes job once, honoring the lock. Exposed for operator tooling
// and tests.
func (s *Scheduler) Run(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locker != nil {
		ttl := job.LockTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		release, ok, err := s.locker.TryLock(ctx, job.Name, ttl)
		if err != nil {
			s.log.Warn().Err(err).Str("job", job.Name).Msg("Sweep lock unavailable, skipping tick")
			return
		}
		if !ok {
			s.log.Debug().Str("job", job.Name).Msg("Sweep running elsewhere")
			return
		}
		defer release()
	}

	started := time.Now()
	n, err := job.Sweep(ctx, s.now())
	metrics.ObserveSweep(job.Name, started)
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Int("changed", n).Msg("Sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Str("job", job.Name).Int("changed", n).Dur("duration", time.Since(started)).Msg("Sweep completed")
	}
}
