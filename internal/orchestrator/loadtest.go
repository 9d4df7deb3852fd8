package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tenantcache/platform/internal/cache"
	"github.com/tenantcache/platform/internal/cacheerr"
)

type atomicCounter struct{ v atomic.Int64 }

func (c *atomicCounter) add(n int64)  { c.v.Add(n) }
func (c *atomicCounter) value() int64 { return c.v.Load() }

const (
	loadTestMaxDuration    = 30 * time.Second
	loadTestMaxConcurrency = 50
	loadTestTenantID       = "loadtest-ephemeral"
)

// execLoadTest drives a bounded, clamped synthetic workload of
// concurrent set/get/delete cycles against a dedicated ephemeral tenant,
// exercising the real Cache Manager code path rather than faking a
// result, while never letting an operator-supplied duration/concurrency
// exhaust the process.
func (o *Orchestrator) execLoadTest(ctx context.Context, c LoadTestCommand) Result {
	duration := time.Duration(clampInt(c.DurationSec, 1, int(loadTestMaxDuration.Seconds()))) * time.Second
	concurrency := clampInt(c.Concurrency, 1, loadTestMaxConcurrency)

	tenantID := c.TenantID
	if tenantID == "" {
		tenantID = loadTestTenantID
	}
	if _, err := o.cache.GetTenantDetails(tenantID); err != nil {
		if _, cerr := o.cache.CreateTenant(ctx, cache.CreateTenantSpec{
			ID:   tenantID,
			Name: "load test",
		}); cerr != nil {
			return fail(cerr)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	var successes, failures atomicCounter
	for worker := 0; worker < concurrency; worker++ {
		worker := worker
		g.Go(func() error {
			for i := 0; ; i++ {
				select {
				case <-gctx.Done():
					return nil
				default:
				}
				key := fmt.Sprintf("loadtest:%d:%d", worker, i)
				if err := o.cache.Set(gctx, tenantID, key, "v", time.Minute); err != nil {
					failures.add(1)
					continue
				}
				if _, err := o.cache.Get(gctx, tenantID, key); err != nil && cacheerr.CodeOf(err) != cacheerr.NotFound {
					failures.add(1)
					continue
				}
				_ = o.cache.Delete(gctx, tenantID, key)
				successes.add(1)
			}
		})
	}
	_ = g.Wait()

	return ok(map[string]any{
		"tenant_id":        tenantID,
		"duration_seconds": duration.Seconds(),
		"concurrency":      concurrency,
		"successful_ops":   successes.value(),
		"failed_ops":       failures.value(),
	})
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
