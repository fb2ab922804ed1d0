package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/stowaway/internal/connectivity"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the queue flushed while connectivity comes and goes",
		Long: `Run the sync engine in the foreground.

The remote is probed periodically (and immediately on network interface
changes on Linux). Queued mutations are flushed whenever the remote becomes
reachable, with backoff after failures.

Example:
  stow run --config stow.yaml
  stow run --db ./stow.db --metrics-addr 127.0.0.1:9464 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error(name+" stopped", "error", err)
				cancel()
			}
		}()
	}

	if a.probe != nil {
		spawn("connectivity probe", a.probe.Run)

		watcher := connectivity.NewNetlinkWatcher(func(iface string) {
			a.probe.Trigger()
		}, a.cfg.Connectivity.WatchInterfaces...)
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("interface watcher unavailable; relying on periodic probes", "error", err)
		}
		defer watcher.Stop()
	} else {
		slog.Warn("no probe or remote URL configured; staying offline")
	}

	spawn("connectivity monitor", a.monitor.Run)

	addr := opts.MetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		spawn("metrics server", func(ctx context.Context) error {
			return a.metrics.Serve(ctx, addr)
		})
	}

	slog.Info("engine starting", "db", a.store.Path(), "remote", a.cfg.Remote.BaseURL)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync engine started. Press Ctrl-C to stop.")

	err = a.engine.Run(ctx)
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}
