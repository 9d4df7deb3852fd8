// tenantcached runs the multi-tenant cache control plane as a
// foreground daemon: it loads configuration, builds the orchestrator,
// and serves until terminated by signal.
//
// Usage:
//
//	tenantcached serve [--config path] [--backup-dir path]
//	tenantcached version
//
// Exit codes:
//
//	0: clean shutdown (signal-driven or otherwise)
//	1: fatal initialization or runtime failure
//	2: health-check failure on boot
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/orchestrator"
	"github.com/tenantcache/platform/pkg/logging"
	"github.com/tenantcache/platform/pkg/runner"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "tenantcached",
		Usage:   "multi-tenant cache control plane",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the control plane in the foreground until terminated",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML or JSON config file"},
					&cli.StringFlag{Name: "backup-dir", Usage: "directory create_backup/restore_backup persist snapshots under"},
					&cli.StringFlag{Name: "log-file", Usage: "write logs to this rotated file instead of stderr"},
				},
				Action: runServe,
			},
		},
		DefaultCommand: "serve",
		// Keep os.Exit out of the CLI framework's hands; run() maps
		// the returned error to an exit code uniformly.
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run() int {
	app := createApp()
	ctx := context.Background()

	if err := app.Run(ctx, os.Args); err != nil {
		var bootErr *bootHealthError
		if errors.As(err, &bootErr) {
			fmt.Fprintln(os.Stderr, "boot health check failed:", err)
			return 2
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// bootHealthError marks a failed pre-serve backend probe, which exits 2
// rather than 1 per the package doc's exit-code contract.
type bootHealthError struct{ err error }

func (e *bootHealthError) Error() string { return e.err.Error() }
func (e *bootHealthError) Unwrap() error { return e.err }

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		cfg = loaded
	}

	log := logging.New(logging.Options{
		Level:    string(cfg.LogLevel),
		FilePath: cmd.String("log-file"),
		JSON:     cfg.Environment == config.EnvProduction,
	})

	opts := []orchestrator.Option{orchestrator.WithLogger(log)}
	if dir := cmd.String("backup-dir"); dir != "" {
		opts = append(opts, orchestrator.WithBackupDir(dir))
	}

	o, err := orchestrator.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := o.BootHealthCheck(bootCtx); err != nil {
		return &bootHealthError{err}
	}

	if err := runner.Run(ctx, o.Run); err != nil && !errors.Is(err, runner.ErrSignal) {
		return err
	}
	return nil
}
