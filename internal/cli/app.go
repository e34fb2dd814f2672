package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/config"
	"github.com/roach88/playbookd/internal/engine"
	"github.com/roach88/playbookd/internal/store"
	"github.com/roach88/playbookd/internal/telemetry"
)

// tracingShutdownTimeout bounds the final span flush.
const tracingShutdownTimeout = 5 * time.Second

// app is the engine wiring shared by commands that touch the database.
type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *component.Registry
	executor *engine.Executor
	resumer  *engine.Resumer
	tracing  *sdktrace.TracerProvider
}

// openApp loads the configuration and opens the database. Failures are
// reported through f and returned as ExitCommandError.
func openApp(opts *RootOptions, f *OutputFormatter) (*app, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	f.VerboseLog("Opening database %s", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}

	registry, err := component.NewRegistry(component.Builtins(component.Deps{Callbacks: st})...)
	if err != nil {
		st.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to build component registry", err)
	}

	tp, err := telemetry.NewTracerProvider(context.Background(), cfg.Tracing, f.GetErrWriter())
	if err != nil {
		st.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to set up tracing", err)
	}

	executor := engine.NewExecutor(registry, st,
		engine.WithMaxSteps(cfg.Executor.MaxSteps),
		engine.WithTracerProvider(tp),
	)
	resumer := engine.NewResumer(st, registry, executor, engine.WithCallbacks(st))

	return &app{
		cfg:      cfg,
		store:    st,
		registry: registry,
		executor: executor,
		resumer:  resumer,
		tracing:  tp,
	}, nil
}

// Close flushes pending spans and closes the database.
func (a *app) Close() {
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			slog.Warn("error shutting down tracing", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// withApp opens the app for the duration of fn.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(a *app, f *OutputFormatter) error) error {
	f := opts.formatter(cmd)
	a, err := openApp(opts, f)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, f)
}

// notFound reports a missing record as ExitCommandError.
func notFound(f *OutputFormatter, kind, id string) error {
	return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil)
}
