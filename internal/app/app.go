package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/arturoeanton/sakenny/internal/adapter/ai"
	"github.com/arturoeanton/sakenny/internal/adapter/store"
	"github.com/arturoeanton/sakenny/internal/handler"
	"github.com/arturoeanton/sakenny/internal/middleware"
	"github.com/arturoeanton/sakenny/internal/port"
	"github.com/arturoeanton/sakenny/internal/service"
	"github.com/arturoeanton/sakenny/internal/telemetry"
	"github.com/arturoeanton/sakenny/pkg/config"
)

// App holds the wired components of the service.
type App struct {
	Config   *config.Config
	Store    port.PropertyStore
	Embedder port.Embedder
	Service  *service.PropertyService
	Metrics  *telemetry.Metrics // nil when metrics are disabled

	mlflow *telemetry.MLflowTracker
}

// New opens the store, builds and validates the embedder, and checks that
// both agree on the embedding space. Any mismatch fails startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: st}

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	embedder, err := ai.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	if err := ai.ValidateDimension(ctx, embedder, cfg.EmbeddingDimension); err != nil {
		return err
	}
	if err := a.Store.EnsureEmbeddingSpace(ctx, embedder.ModelName(), embedder.Dimension()); err != nil {
		return err
	}
	a.Embedder = embedder

	var trackers telemetry.Multi
	if cfg.MetricsEnabled {
		a.Metrics = telemetry.NewMetrics()
		trackers = append(trackers, a.Metrics)
	}
	if cfg.MLflowTrackingURI != "" {
		a.mlflow = telemetry.NewMLflowTracker(cfg.MLflowTrackingURI, 10*time.Second)
		trackers = append(trackers, a.mlflow)
		slog.Info("mlflow tracking enabled", "uri", cfg.MLflowTrackingURI)
	}

	var tracker telemetry.Tracker = telemetry.Nop{}
	if len(trackers) > 0 {
		tracker = trackers
	}
	a.Service = service.NewPropertyService(a.Store, embedder, tracker)
	return nil
}

// OpenStore opens the configured store backend. The postgres schema is
// migrated on open.
func OpenStore(ctx context.Context, cfg *config.Config) (port.PropertyStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		slog.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(cfg.EmbeddingDimension), nil
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(cfg.DatabaseURL, cfg.EmbeddingDimension)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, port.Configuration("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// Close flushes tracking and releases the store.
func (a *App) Close() error {
	if a.mlflow != nil {
		a.mlflow.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// HTTP builds the Fiber application serving the REST API.
func (a *App) HTTP() *fiber.App {
	cfg := a.Config
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	var observer middleware.RequestObserver
	if a.Metrics != nil {
		observer = a.Metrics
	}

	app.Use(recover.New())
	app.Use(middleware.AccessLog(observer))
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": cfg.AppName + " is alive"})
	})
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":          "healthy",
			"store":           cfg.StoreBackend,
			"embedding_model": a.Embedder.ModelName(),
			"dimension":       a.Embedder.Dimension(),
		})
	})
	if a.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.Metrics.Handler()))
	}

	handler.NewPropertyHandler(a.Service).Register(app)
	return app
}

// IsConfigError reports whether err should be reported as a startup misconfiguration.
func IsConfigError(err error) bool {
	return errors.Is(err, port.ErrConfiguration)
}
