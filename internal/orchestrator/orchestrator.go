// Package orchestrator is C8: lifecycle, command dispatch and
// SystemStatus aggregation across every other component. It constructs
// C2 through C6 in dependency order, registers the four C7 agents, and
// owns the operator-facing command-dispatch surface. Ownership is
// strictly unidirectional: agents hold only the narrow capability
// interfaces they declare, never a back-reference to this type.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantcache/platform/internal/agents/healing"
	"github.com/tenantcache/platform/internal/agents/optimization"
	"github.com/tenantcache/platform/internal/agents/prediction"
	"github.com/tenantcache/platform/internal/agents/scaling"
	"github.com/tenantcache/platform/internal/cache"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/health"
	"github.com/tenantcache/platform/internal/loadbalancer"
	"github.com/tenantcache/platform/internal/redisclient"
	"github.com/tenantcache/platform/internal/scaler"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/logging"
	"github.com/tenantcache/platform/pkg/redlock"
	"github.com/tenantcache/platform/pkg/schedule"
)

// PlatformVersion is reported in every SystemStatus snapshot.
const PlatformVersion = "1.0.0"

// Orchestrator implements C8. It is the sole owner of every collaborator
// below; nothing else in the module holds a pointer back to it.
type Orchestrator struct {
	cfg   config.Config
	clock clock.Clock
	log   logging.Logger

	redis redisclient.Client
	cache *cache.Manager
	lb    *loadbalancer.Balancer
	hm    *health.Monitor
	sc    *scaler.Scaler

	scalingAgent *scaling.Agent
	optAgent     *optimization.Agent
	healAgent    *healing.Agent
	predAgent    *prediction.Agent

	sampler *sampler
	backups *backupStore
	sched   *schedule.Scheduler

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	lastStat  tenant.SystemStatus
}

// Option configures an Orchestrator at construction.
type Option func(*orchOptions)

type orchOptions struct {
	redis     redisclient.Client
	clock     clock.Clock
	log       logging.Logger
	locker    redlock.Locker
	hook      ClusterHook
	backupDir string
}

// WithRedisClient supplies an already-constructed Redis client, bypassing
// cfg.Redis-driven construction. Tests wire this against miniredis.
func WithRedisClient(c redisclient.Client) Option {
	return func(o *orchOptions) { o.redis = c }
}

// WithClock overrides the injected clock across every collaborator.
func WithClock(c clock.Clock) Option {
	return func(o *orchOptions) { o.clock = c }
}

// WithLogger overrides the structured logger used for lifecycle events.
func WithLogger(l logging.Logger) Option {
	return func(o *orchOptions) { o.log = l }
}

// WithLocker overrides the distributed lock the scaler and healing
// agent single-flight scaling executions through.
func WithLocker(l redlock.Locker) Option {
	return func(o *orchOptions) { o.locker = l }
}

// WithClusterHook overrides the node-provisioning hook the auto-scaler's
// executor drives; defaults to a simulated hook suitable for a single
// Redis instance treated as a single black-box endpoint.
func WithClusterHook(h ClusterHook) Option {
	return func(o *orchOptions) { o.hook = h }
}

// WithBackupDir configures the directory create_backup/restore_backup
// write snapshot files under when a command supplies a path.
func WithBackupDir(dir string) Option {
	return func(o *orchOptions) { o.backupDir = dir }
}

// New constructs C2 through C6 in dependency order and registers every
// C7 agent in stopped state; nothing runs until Start.
func New(cfg config.Config, opts ...Option) (*Orchestrator, error) {
	options := &orchOptions{
		clock: clock.System(),
		log:   logging.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	redis := options.redis
	if redis == nil {
		rc, err := redisclient.New(cfg.Redis)
		if err != nil {
			return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build redis client", err)
		}
		redis = rc
	}

	cm, err := cache.New(redis, cfg.Tenants, cache.WithClock(options.clock))
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build cache manager", err)
	}

	lb := loadbalancer.New(loadbalancer.WithClock(options.clock))

	hm, err := health.New(redis, health.WithClock(options.clock))
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build health monitor", err)
	}

	locker := options.locker
	if locker == nil {
		f, ferr := redlock.New(redis.Raw())
		if ferr != nil {
			return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build lock factory", ferr)
		}
		locker = f
	}

	hook := options.hook
	if hook == nil {
		hook = NewSimulatedClusterHook()
	}
	executor := newClusterExecutor(lb, hook, cfg.Redis)

	sc, err := scaler.New(cfg.Scaling, executor, scaler.WithClock(options.clock), scaler.WithLocker(locker))
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build scaler", err)
	}

	samp := newSampler(cm, lb, hm, sc, options.clock)

	o := &Orchestrator{
		cfg:     cfg,
		clock:   options.clock,
		log:     options.log,
		redis:   redis,
		cache:   cm,
		lb:      lb,
		hm:      hm,
		sc:      sc,
		sampler: samp,
		backups: newBackupStore(options.backupDir),
	}

	o.scalingAgent = scaling.New(sc, samp, scaling.WithClock(options.clock))
	o.optAgent = optimization.New(cm, optimization.WithClock(options.clock))
	o.healAgent = healing.New(hm, cm, sc, lb, healing.WithClock(options.clock), healing.WithLocker(locker))
	o.predAgent = prediction.New(samp, cm, sc, prediction.WithClock(options.clock))

	return o, nil
}

// Start starts C6, C4, C5, then each agent, by scheduling the
// platform's ten periodic tasks (4 agents + system-status +
// performance-collector + alert-manager + load-balancer health + the
// health monitor's two sampling loops) and starting the scheduler.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	o.sched = schedule.New(schedule.WithErrLogger(o.log))

	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"health.system", "@every 30s", o.hm.SampleSystem},
		{"health.redis", "@every 10s", o.hm.SampleRedis},
		{"health.alert_manager", "@every 5m", o.runAlertSweep},
		{"loadbalancer.health", fmt.Sprintf("@every %s", o.cfg.Redis.HealthCheckInterval), o.runLoadBalancerHealth},
		{"orchestrator.performance_collector", fmt.Sprintf("@every %s", o.cfg.Monitoring.MetricsInterval), o.runPerformanceCollect},
		{"orchestrator.system_status", "@every 10s", o.runStatusRefresh},
		{"agent.scaling", "@every 60s", o.scalingAgent.RunCycle},
		{"agent.optimization", "@every 300s", o.optAgent.RunCycle},
		{"agent.healing", "@every 30s", o.healAgent.RunCycle},
		{"agent.prediction", "@every 300s", o.predAgent.RunCycle},
	}

	for _, j := range jobs {
		if err := o.sched.Add(j.spec, j.name, j.fn); err != nil {
			return cacheerr.Wrap(cacheerr.Internal, "failed to schedule "+j.name, err)
		}
	}

	o.sched.Start()
	o.running = true
	o.startedAt = o.clock.Now()
	o.log.Info(ctx, "orchestrator started", slog.String("platform_version", PlatformVersion))
	return nil
}

// Stop cancels every scheduled task (effectively LIFO: the scheduler
// waits for in-flight runs, newest-registered jobs are short-lived
// cycles that drain first) then marks the platform stopped.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}

	if o.sched != nil {
		select {
		case <-o.sched.Stop():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.running = false
	o.log.Info(ctx, "orchestrator stopped")
	return nil
}

// Shutdown stops the platform and closes C2.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil {
		return err
	}
	if err := o.redis.Close(); err != nil {
		return cacheerr.Wrap(cacheerr.Internal, "failed to close redis client", err)
	}
	return nil
}

// BootHealthCheck verifies the backend is reachable before the platform
// starts serving: a failed PING here means the process should refuse to
// come up rather than boot into a degraded state.
func (o *Orchestrator) BootHealthCheck(ctx context.Context) error {
	if _, err := o.redis.Ping(ctx); err != nil {
		return cacheerr.Wrap(cacheerr.BackendUnavailable, "backend unreachable at boot", err)
	}
	return nil
}

// Run starts the orchestrator and blocks until ctx is cancelled, then
// shuts down. cmd/tenantcached hands it to runner.Run for signal-driven
// shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return o.Shutdown(shutdownCtx)
}

func (o *Orchestrator) runAlertSweep(ctx context.Context) error {
	o.hm.Sweep()
	return nil
}

// runPerformanceCollect refreshes the resource gauge and persists the
// aggregate metrics snapshot under its reserved key, with a TTL of
// twice the collection interval so it self-expires when collection
// stops.
func (o *Orchestrator) runPerformanceCollect(ctx context.Context) error {
	if err := o.sampler.refresh(ctx); err != nil {
		return err
	}
	return o.cache.PersistSystemMetrics(ctx, 2*o.cfg.Monitoring.MetricsInterval)
}

// runLoadBalancerHealth probes each registered node's reachability
// through the shared Redis client (the backend is a single black-box
// endpoint, so every node's liveness reduces to the same PING the
// health monitor already measures) and feeds the result into the LB's
// health gate.
func (o *Orchestrator) runLoadBalancerHealth(ctx context.Context) error {
	rtt, pingErr := o.redis.Ping(ctx)
	status := tenant.NodeOnline
	latencyMS := float64(rtt.Microseconds()) / 1000
	if pingErr != nil {
		status = tenant.NodeOffline
		latencyMS = 0
	}
	for _, n := range o.lb.Nodes() {
		_ = o.lb.SetNodeStatus(n.ID, status, latencyMS)
	}
	return nil
}

func (o *Orchestrator) runStatusRefresh(ctx context.Context) error {
	status := o.buildSystemStatus()
	o.mu.Lock()
	o.lastStat = status
	o.mu.Unlock()
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}
