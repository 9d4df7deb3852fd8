// Package runner runs a set of long-lived services until the first one
// fails or the process receives a termination signal, then cancels the
// rest and waits for them to drain.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// ErrSignal is returned (wrapped) when the run ended because of an
// interrupt or termination signal rather than a service failure.
var ErrSignal = errors.New("runner: received signal")

// Service is one long-lived task. It must return promptly once its
// context is cancelled.
type Service func(ctx context.Context) error

// Run starts every service and blocks until one returns, the parent ctx
// is cancelled, or SIGINT/SIGTERM arrives. The first non-nil error wins;
// a signal-driven stop reports ErrSignal so callers can treat it as a
// clean shutdown.
func Run(ctx context.Context, services ...Service) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			return fmt.Errorf("%w: %s", ErrSignal, sig)
		case <-gctx.Done():
			return nil
		}
	})

	for _, svc := range services {
		svc := svc
		g.Go(func() error { return svc(gctx) })
	}

	return g.Wait()
}
