package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/engine"
	"github.com/vk/gridflow/internal/eventlog"
	"github.com/vk/gridflow/internal/hcl"
	"github.com/vk/gridflow/internal/persistence"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/settings"
)

// ErrInvalidDefinitions classifies failures to load or validate the HCL
// definitions, as opposed to runtime failures.
var ErrInvalidDefinitions = errors.New("invalid definitions")

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	settings *settings.Settings
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	backend  persistence.Backend
	engine   *engine.Engine
}

// New is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Close releases the persistence backend.
func New(ctx context.Context, cfg *Config) (*App, error) {
	cfg, err := NewConfig(*cfg)
	if err != nil {
		return nil, err
	}
	s := cfg.Settings

	logger := newLogger(s.Log.Level, s.Log.Format, cfg.LogW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	reg.RegisterModules(cfg.Modules...)
	logger.Debug("All Go modules registered.", "count", len(cfg.Modules), "handlers", reg.Handlers())

	if err := hcl.NewLoader(reg).Load(ctx, s.Definitions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}
	if err := reg.Validate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}
	logger.Debug("Registry validation passed.")

	backend, err := OpenBackend(ctx, s.Persistence)
	if err != nil {
		return nil, err
	}
	logger.Debug("Persistence backend ready.", "backend", s.Persistence.Backend)

	return &App{
		settings: s,
		outW:     cfg.Out,
		logger:   logger,
		registry: reg,
		backend:  backend,
		engine:   engine.New(backend, engine.WithObserver(eventlog.New(logger))),
	}, nil
}

// Registry returns the application's registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases the persistence backend.
func (a *App) Close() error {
	if c, ok := a.backend.(persistence.Closer); ok {
		return c.Close()
	}
	return nil
}

// context attaches the logger and step output stream to ctx.
func (a *App) context(ctx context.Context) context.Context {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	return registry.WithOutput(ctx, a.outW)
}
