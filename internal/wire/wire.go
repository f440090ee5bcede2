// Package wire builds the application graph from configuration.
package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	appai "github.com/bryanwahyu/datasheet-lens/internal/application/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/application/analysis"
	"github.com/bryanwahyu/datasheet-lens/internal/application/settings"
	"github.com/bryanwahyu/datasheet-lens/internal/config"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/ai/mock"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/ai/openai"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/db/mysql"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/db/postgres"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/db/sqlite"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/httpserver"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/render"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/storage"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/watcher"
	"github.com/bryanwahyu/datasheet-lens/internal/middleware"
	"github.com/bryanwahyu/datasheet-lens/internal/observability"
)

// DefaultConfigPath is used when neither --config nor CONFIG_PATH is set.
const DefaultConfigPath = "config.yaml"

// LoadConfig loads .env, then the YAML config. An explicit path must exist;
// without one, a missing config.yaml means built-in defaults.
func LoadConfig(path string) (*config.Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenStore connects to the configured database and applies its schema.
func OpenStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.Database.Path)
	case "mysql":
		return mysql.Open(ctx, cfg.MySQLDSN())
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN())
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// App is the assembled process: store, settings, analysis pipeline and
// observability. Serve adds the watcher and HTTP server on top.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *sqlstore.Store
	Settings  *settings.Service
	Analysis  *analysis.Service
	Providers *observability.Providers
}

// Build wires every long-lived component. The caller closes the App.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}

	app := &App{Config: cfg, Logger: logger, Store: store}
	app.Settings = settings.NewService(store, logger)
	if err := app.Settings.Load(ctx, settings.Defaults{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		WatchFolder: cfg.Watcher.Folder,
	}); err != nil {
		store.Close()
		return nil, err
	}

	var artifacts records.ArtifactStore
	if cfg.Minio.Enabled {
		archive, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("minio init: %w", err)
		}
		artifacts = archive
	}

	app.Providers = observability.NewProviders(version)
	recorder, err := observability.NewRecorder(app.Providers.Meter)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	pipeline := appai.NewService(
		render.New(cfg.Renderer.MaxPages, cfg.Renderer.DPI),
		newClient(cfg, app.Settings),
		cfg.AI.ModelConfig,
	)
	app.Analysis = analysis.NewService(store, pipeline, analysis.Config{
		QueueSize: cfg.Queue.Size,
		Artifacts: artifacts,
		Metrics:   recorder,
		Tracer:    observability.Tracer(app.Providers.Tracer),
		Logger:    logger,
	})
	return app, nil
}

func newClient(cfg *config.Config, keys ai.KeySource) ai.Client {
	if cfg.AI.Provider == "mock" {
		return mock.NewClient()
	}
	return openai.NewClient(keys, cfg.AI.BaseURL, cfg.AI.Timeout)
}

func (a *App) Close() error {
	var errs []error
	if a.Providers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.Providers.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}

// Serve runs the analysis worker, the folder watcher and the HTTP server
// until ctx is cancelled. An analysis in progress at that point finishes
// before Serve returns.
func (a *App) Serve(ctx context.Context) error {
	log := a.Logger.With("component", "serve")
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if _, err := a.Analysis.Recover(ctx); err != nil {
		return fmt.Errorf("recovering pending records: %w", err)
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := a.Analysis.Run(ctx); err != nil {
			log.Error("analysis worker", "error", err)
		}
	}()

	w := watcher.New(a.Store, a.Analysis, watcher.Options{
		StableInterval: a.Config.Watcher.StableInterval,
		StableChecks:   a.Config.Watcher.StableChecks,
		Logger:         a.Logger,
	})
	defer w.Close()
	a.Settings.OnWatchFolderChange(func(folder string) {
		if err := w.Reconfigure(ctx, folder); err != nil {
			log.Error("watch folder change failed", "folder", folder, "error", err)
		}
	})
	if err := w.Reconfigure(ctx, a.Settings.WatchFolder()); err != nil {
		log.Error("cannot watch saved folder; pick another in settings", "error", err)
	}

	handler, err := httpserver.NewRouter(httpserver.Options{
		Analyses:       a.Analysis,
		Settings:       a.Settings,
		Watcher:        w,
		Providers:      a.Providers,
		Health:         map[string]middleware.HealthChecker{"store": &middleware.StoreHealthChecker{Store: a.Store}},
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		AccessToken:    a.Config.Server.AccessToken,
		Logger:         a.Logger,
	})
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	// Event streams hold requests open; cancelling baseCtx ends them so
	// Shutdown does not wait for its timeout.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	addr := fmt.Sprintf(":%d", a.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down server...")
	stop()
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	<-workerDone
	return runErr
}
