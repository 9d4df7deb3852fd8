package orchestrator

import (
	"context"
	"time"

	"github.com/tenantcache/platform/internal/cache"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/scaler"
)

// Command is the closed tagged union of every operator-facing request.
// Each concrete type implements isCommand so Execute's switch is
// exhaustive and a stray type fails the default case instead of a
// string comparison.
type Command interface{ isCommand() }

// Result is the uniform command response shape: {ok, error?, detail?}.
type Result struct {
	OK     bool
	Error  string
	Detail any
}

func ok(detail any) Result { return Result{OK: true, Detail: detail} }
func fail(err error) Result {
	return Result{OK: false, Error: string(cacheerr.CodeOf(err))}
}

// --- tenant management ---

type CreateTenantCommand struct {
	ID                string
	Name              string
	MemoryLimitMB     int
	RequestsPerSecond int
	MaxConnections    int
}

func (CreateTenantCommand) isCommand() {}

type DeleteTenantCommand struct{ TenantID string }

func (DeleteTenantCommand) isCommand() {}

type ListTenantsCommand struct{}

func (ListTenantsCommand) isCommand() {}

type GetTenantDetailsCommand struct{ TenantID string }

func (GetTenantDetailsCommand) isCommand() {}

// ModifyTenantQuotasCommand mirrors cache.Manager.ModifyTenantQuotas's
// pointer-based partial update: a nil field leaves that quota unchanged.
type ModifyTenantQuotasCommand struct {
	TenantID          string
	MemoryLimitMB     *int
	RequestsPerSecond *int
}

func (ModifyTenantQuotasCommand) isCommand() {}

// --- cache operations ---

type CacheGetCommand struct {
	TenantID string
	Key      string
}

func (CacheGetCommand) isCommand() {}

type CacheSetCommand struct {
	TenantID string
	Key      string
	Value    string
	TTL      time.Duration
}

func (CacheSetCommand) isCommand() {}

type CacheDeleteCommand struct {
	TenantID string
	Key      string
}

func (CacheDeleteCommand) isCommand() {}

// --- observability ---

type GetMetricsCommand struct{ TenantID string }

func (GetMetricsCommand) isCommand() {}

type GetClusterStatusCommand struct{}

func (GetClusterStatusCommand) isCommand() {}

// --- scaling ---

type ScaleClusterCommand struct{ TargetNodes int }

func (ScaleClusterCommand) isCommand() {}

type GetScalingStatusCommand struct{}

func (GetScalingStatusCommand) isCommand() {}

type ConfigureScalingCommand struct {
	MinNodes           *int
	MaxNodes           *int
	ScaleUpThreshold   *float64
	ScaleDownThreshold *float64
	ScaleUpCooldown    *time.Duration
	ScaleDownCooldown  *time.Duration
}

func (ConfigureScalingCommand) isCommand() {}

// --- alerts ---

type AcknowledgeAlertCommand struct{ AlertID string }

func (AcknowledgeAlertCommand) isCommand() {}

type ResolveAlertCommand struct{ AlertID string }

func (ResolveAlertCommand) isCommand() {}

// --- backup/restore ---

type CreateBackupCommand struct {
	TenantID string
	Path     string
}

func (CreateBackupCommand) isCommand() {}

type RestoreBackupCommand struct {
	TenantID string
	Path     string
}

func (RestoreBackupCommand) isCommand() {}

// --- diagnostics ---

type HealthCheckCommand struct{}

func (HealthCheckCommand) isCommand() {}

type LoadTestCommand struct {
	TenantID    string
	DurationSec int
	Concurrency int
}

func (LoadTestCommand) isCommand() {}

// Execute dispatches cmd against the orchestrator's live collaborators.
// Every branch returns a Result rather than an error: the caller is a
// command-and-control surface, not a Go API, so failures surface as
// {ok:false, error:"<code>"} instead of propagating.
func (o *Orchestrator) Execute(ctx context.Context, cmd Command) Result {
	switch c := cmd.(type) {
	case CreateTenantCommand:
		return o.execCreateTenant(ctx, c)
	case DeleteTenantCommand:
		return o.execDeleteTenant(ctx, c)
	case ListTenantsCommand:
		return o.execListTenants()
	case GetTenantDetailsCommand:
		return o.execGetTenantDetails(c)
	case ModifyTenantQuotasCommand:
		return o.execModifyTenantQuotas(ctx, c)
	case CacheGetCommand:
		return o.execCacheGet(ctx, c)
	case CacheSetCommand:
		return o.execCacheSet(ctx, c)
	case CacheDeleteCommand:
		return o.execCacheDelete(ctx, c)
	case GetMetricsCommand:
		return o.execGetMetrics(c)
	case GetClusterStatusCommand:
		return ok(o.SystemStatus())
	case ScaleClusterCommand:
		return o.execScaleCluster(ctx, c)
	case GetScalingStatusCommand:
		return o.execGetScalingStatus()
	case ConfigureScalingCommand:
		return o.execConfigureScaling(c)
	case AcknowledgeAlertCommand:
		return o.execAcknowledgeAlert(c)
	case ResolveAlertCommand:
		return o.execResolveAlert(c)
	case CreateBackupCommand:
		return o.execCreateBackup(ctx, c)
	case RestoreBackupCommand:
		return o.execRestoreBackup(ctx, c)
	case HealthCheckCommand:
		return ok(o.SystemStatus())
	case LoadTestCommand:
		return o.execLoadTest(ctx, c)
	default:
		return fail(cacheerr.New(cacheerr.UnknownCommand, "unrecognized command"))
	}
}

func (o *Orchestrator) execCreateTenant(ctx context.Context, c CreateTenantCommand) Result {
	t, err := o.cache.CreateTenant(ctx, cache.CreateTenantSpec{
		ID:                c.ID,
		Name:              c.Name,
		MemoryLimitMB:     c.MemoryLimitMB,
		RequestsPerSecond: c.RequestsPerSecond,
		MaxConnections:    c.MaxConnections,
	})
	if err != nil {
		return fail(err)
	}
	return ok(t)
}

func (o *Orchestrator) execDeleteTenant(ctx context.Context, c DeleteTenantCommand) Result {
	if err := o.cache.DeleteTenant(ctx, c.TenantID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (o *Orchestrator) execListTenants() Result {
	return ok(o.cache.ListTenants())
}

func (o *Orchestrator) execGetTenantDetails(c GetTenantDetailsCommand) Result {
	t, err := o.cache.GetTenantDetails(c.TenantID)
	if err != nil {
		return fail(err)
	}
	return ok(t)
}

func (o *Orchestrator) execModifyTenantQuotas(ctx context.Context, c ModifyTenantQuotasCommand) Result {
	t, err := o.cache.ModifyTenantQuotas(ctx, c.TenantID, c.MemoryLimitMB, c.RequestsPerSecond)
	if err != nil {
		return fail(err)
	}
	return ok(t)
}

// execCacheGet treats a genuine cache miss as a *successful* result
// carrying a null value, not an {ok:false} error, even though
// cache.Manager.Get signals the miss as a cacheerr.NotFound error.
func (o *Orchestrator) execCacheGet(ctx context.Context, c CacheGetCommand) Result {
	v, err := o.cache.Get(ctx, c.TenantID, c.Key)
	if err != nil {
		if cacheerr.CodeOf(err) == cacheerr.NotFound {
			return ok(map[string]any{"value": nil})
		}
		return fail(err)
	}
	return ok(map[string]any{"value": v})
}

func (o *Orchestrator) execCacheSet(ctx context.Context, c CacheSetCommand) Result {
	if err := o.cache.Set(ctx, c.TenantID, c.Key, c.Value, c.TTL); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// execCacheDelete relies on cache.Manager.Delete's natural idempotency:
// deleting an absent key returns a zero count and no error, so a second
// delete is a no-op result rather than a special-cased branch here.
func (o *Orchestrator) execCacheDelete(ctx context.Context, c CacheDeleteCommand) Result {
	if err := o.cache.Delete(ctx, c.TenantID, c.Key); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (o *Orchestrator) execGetMetrics(c GetMetricsCommand) Result {
	if c.TenantID == "" {
		snap := o.sampler.metricsSnapshot()
		return ok(map[string]any{
			"cpu_usage_percent":    snap.CPUUsagePercent,
			"memory_usage_percent": snap.MemoryUsagePercent,
			"requests_per_second":  snap.RequestsPerSecond,
			"hit_ratio":            o.sampler.aggregateHitRatio(),
		})
	}
	m, err := o.cache.GetTenantMetrics(c.TenantID)
	if err != nil {
		return fail(err)
	}
	return ok(m)
}

func (o *Orchestrator) execScaleCluster(ctx context.Context, c ScaleClusterCommand) Result {
	if err := o.sc.ForceScale(ctx, c.TargetNodes); err != nil {
		return fail(err)
	}
	return ok(map[string]any{"current_nodes": o.sc.CurrentNodes()})
}

func (o *Orchestrator) execGetScalingStatus() Result {
	return ok(map[string]any{
		"current_nodes": o.sc.CurrentNodes(),
		"config":        o.sc.Config(),
		"decisions":     o.sc.Decisions(),
	})
}

func (o *Orchestrator) execConfigureScaling(c ConfigureScalingCommand) Result {
	cfg := o.sc.Reconfigure(scaler.ConfigUpdate{
		MinNodes:           c.MinNodes,
		MaxNodes:           c.MaxNodes,
		ScaleUpThreshold:   c.ScaleUpThreshold,
		ScaleDownThreshold: c.ScaleDownThreshold,
		ScaleUpCooldown:    c.ScaleUpCooldown,
		ScaleDownCooldown:  c.ScaleDownCooldown,
	})
	return ok(cfg)
}

func (o *Orchestrator) execAcknowledgeAlert(c AcknowledgeAlertCommand) Result {
	if err := o.hm.AcknowledgeAlert(c.AlertID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (o *Orchestrator) execResolveAlert(c ResolveAlertCommand) Result {
	if err := o.hm.ResolveAlert(c.AlertID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (o *Orchestrator) execCreateBackup(ctx context.Context, c CreateBackupCommand) Result {
	snap, err := o.cache.BackupTenant(ctx, c.TenantID)
	if err != nil {
		return fail(err)
	}
	path, err := o.backups.Save(c.Path, snap)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]any{"path": path, "entry_count": len(snap.Entries)})
}

func (o *Orchestrator) execRestoreBackup(ctx context.Context, c RestoreBackupCommand) Result {
	snap, err := o.backups.Load(c.Path, c.TenantID)
	if err != nil {
		return fail(err)
	}
	if snap.TenantID == "" {
		snap.TenantID = c.TenantID
	}
	if err := o.cache.RestoreTenant(ctx, c.TenantID, snap); err != nil {
		return fail(err)
	}
	return ok(map[string]any{"entry_count": len(snap.Entries)})
}

