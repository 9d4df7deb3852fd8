// Package schedule drives the platform's periodic control loops: named
// jobs on cron expressions (seconds granularity, @every shorthand), each
// wrapped with panic recovery and a fixed back-off after a failed cycle
// so one erroring loop cannot spin hot.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// errorBackoff is how long a job sits out after a cycle returns an
// error or panics.
const errorBackoff = 10 * time.Second

// ErrStarted is returned by Add after Start.
var ErrStarted = errors.New("schedule: scheduler already started")

// ErrLogger receives job failures. Wired to the platform logger by the
// orchestrator; nil drops them.
type ErrLogger interface {
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithErrLogger routes job panics and cycle errors to l.
func WithErrLogger(l ErrLogger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler owns a set of named periodic jobs.
type Scheduler struct {
	cron *cron.Cron
	log  ErrLogger

	mu      sync.Mutex
	started bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an idle Scheduler; jobs run only after Start.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers fn under name on the given cron spec. The job's context
// is cancelled when Stop is called.
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}

	j := &job{name: name, fn: fn, sched: s}
	if _, err := s.cron.AddJob(spec, j); err != nil {
		return fmt.Errorf("schedule: invalid spec %q for job %s: %w", spec, name, err)
	}
	return nil
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels every job context, halts scheduling, and returns a
// channel closed once all in-flight runs have drained.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.cancel()
	return s.cron.Stop().Done()
}

// job wraps one registered function with recovery and error back-off.
type job struct {
	name  string
	fn    func(ctx context.Context) error
	sched *Scheduler

	mu         sync.Mutex
	retryAfter time.Time
}

func (j *job) Run() {
	j.mu.Lock()
	blocked := time.Now().Before(j.retryAfter)
	j.mu.Unlock()
	if blocked {
		return
	}

	select {
	case <-j.sched.ctx.Done():
		return
	default:
	}

	err := j.runOnce(j.sched.ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	j.mu.Lock()
	j.retryAfter = time.Now().Add(errorBackoff)
	j.mu.Unlock()
	if j.sched.log != nil {
		j.sched.log.Error(j.sched.ctx, "scheduled job failed",
			slog.String("job", j.name), slog.String("error", err.Error()))
	}
}

func (j *job) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: job %s panicked: %v", j.name, r)
		}
	}()
	return j.fn(ctx)
}
