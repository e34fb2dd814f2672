package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/playbookd/internal/config"
	"github.com/roach88/playbookd/internal/engine"
	"github.com/roach88/playbookd/internal/lock"
	"github.com/roach88/playbookd/internal/stream"
)

// shutdownTimeout bounds how long run waits for the consumer to release
// its lock after a signal.
const shutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Ready, when set, is closed once the consumer has been started (for testing).
	Ready chan struct{}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the stream consumer",
		Long: `Start the playbook engine's stream consumer.

The consumer competes for the leader lock (SQLite lease or etcd mutex, per
lock.backend). The holder reads change events from its checkpoint and starts
a run of every running playbook whose trigger accepts the event type.

Example:
  playbookd run --db ./playbookd.db
  playbookd run --config ./playbookd.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumer(opts, cmd)
		},
	}

	return cmd
}

func runConsumer(opts *RunOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := openApp(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	locker, closeLocker, err := newLocker(a)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to create lock backend", err)
	}
	defer closeLocker()

	cfg := a.cfg.Consumer
	source := stream.NewPollingSource(a.store, stream.Options{
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
	})
	consumer := engine.NewConsumer(a.store, source, locker, a.registry, a.executor,
		engine.WithConsumerName(cfg.Name),
		engine.WithLockName(cfg.LockName),
		engine.WithInterval(cfg.Interval),
		engine.WithCheckpointer(a.store),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
		case <-gctx.Done():
		}
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer scancel()
		return consumer.Shutdown(sctx)
	})

	slog.Info("engine starting",
		"db", a.cfg.Database.Path,
		"lock_backend", a.cfg.Lock.Backend,
		"max_steps", a.cfg.Executor.MaxSteps,
		"tracing_exporter", a.cfg.Tracing.Exporter,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Consumer started. Waiting for change events...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.Ready != nil {
		close(opts.Ready)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "consumer error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// newLocker builds the configured lock backend. The returned close function
// releases backend resources.
func newLocker(a *app) (lock.Locker, func(), error) {
	lc := a.cfg.Lock
	switch lc.Backend {
	case config.LockBackendEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   lc.Etcd.Endpoints,
			DialTimeout: lc.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("etcd client: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Warn("error closing etcd client", "error", err)
			}
		}
		return lock.NewEtcdLocker(client, lc.Etcd.Prefix, lc.TTL), closeFn, nil
	default:
		return lock.NewLeaseLocker(a.store, lc.Owner, lc.TTL), func() {}, nil
	}
}
