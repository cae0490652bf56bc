// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/mimir/internal/api"
	"github.com/starford/mimir/internal/mcpserver"
	"github.com/starford/mimir/internal/projects"
	"github.com/starford/mimir/internal/sse"
	"github.com/starford/mimir/internal/sync"
)

// Run starts the server: one watcher per project, SSE broker, and the
// HTTP API, shut down together on signal or context cancellation.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Int("projects", len(cfg.Projects)),
		slog.String("sqlite_dir", cfg.SQLite.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	registry, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// One watcher per project, each publishing through the broker.
	watchers := make(map[string]*sync.Watcher)
	if cfg.Sync.Enabled {
		for _, name := range registry.Names() {
			p, err := registry.Get(name)
			if err != nil {
				return err
			}
			project := p.Name
			watchers[project] = sync.NewWatcher(p.Engine, p.Root, cfg.Sync.Debounce, logger,
				func(kind, path string) {
					broker.PublishEntityEvent(project, kind, path)
				})
		}
	}
	statusFn := func(project string) (sync.Status, bool) {
		w, ok := watchers[project]
		if !ok {
			return sync.Status{}, false
		}
		return w.Status(), true
	}

	router := api.NewRouter(registry, broker, statusFn, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: router,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Sync.Enabled {
		for _, w := range watchers {
			watcher := w
			g.Go(func() error {
				return watcher.Run(gCtx)
			})
		}
	} else {
		// No watchers: still bring every project up to date once, in
		// parallel, so the API serves current data.
		g.Go(func() error {
			return catchUp(gCtx, registry, logger)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunSync performs a one-shot sync pass and prints the report as JSON.
// projectName empty means every configured project.
func RunSync(ctx context.Context, cfg *Config, projectName string) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	registry, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	names := registry.Names()
	if projectName != "" {
		if _, err := registry.Get(projectName); err != nil {
			return fmt.Errorf("unknown project %q", projectName)
		}
		names = []string{projectName}
	}

	reports := make(map[string]*sync.Report, len(names))
	for _, name := range names {
		p, err := registry.Get(name)
		if err != nil {
			return err
		}
		report, err := p.Engine.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync %q: %w", name, err)
		}
		reports[name] = report
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// RunMCP serves the MCP stdio adapter over the configured projects.
// Every project is brought up to date first so tools see current data.
func RunMCP(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	registry, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	if err := catchUp(ctx, registry, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	return mcpserver.New(registry, nil).ServeStdio()
}

func newLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func openRegistry(cfg *Config, logger *slog.Logger) (*projects.Registry, error) {
	specs := make([]projects.Spec, 0, len(cfg.Projects))
	for _, p := range cfg.Projects {
		if err := os.MkdirAll(p.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir %q: %w", p.Path, err)
		}
		specs = append(specs, projects.Spec{Name: p.Name, Path: p.Path})
	}
	registry, err := projects.Open(specs, projects.Options{
		SQLiteDir:              cfg.SQLite.Dir,
		UpdatePermalinksOnMove: cfg.Sync.UpdatePermalinksOnMove,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init projects: %w", err)
	}
	return registry, nil
}

// catchUp syncs every project once, in parallel.
func catchUp(ctx context.Context, registry *projects.Registry, logger *slog.Logger) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, name := range registry.Names() {
		p, err := registry.Get(name)
		if err != nil {
			return err
		}
		g.Go(func() error {
			report, err := p.Engine.Sync(gCtx)
			if err != nil {
				return fmt.Errorf("sync %q: %w", p.Name, err)
			}
			logger.Info("project synced",
				slog.String("project", p.Name),
				slog.Int("touched", report.Total()),
				slog.Int("resolved", report.Resolved))
			return nil
		})
	}
	return g.Wait()
}
