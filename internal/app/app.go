package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/claudiu/gocron"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"posd/internal/config"
	"posd/internal/infrastructure"
	"posd/internal/license"
	customMiddleware "posd/internal/middleware"
	"posd/internal/security"
	"posd/internal/services"
	transport "posd/internal/transport/http"
)

// preloadedSerialsFile is looked up under the data directory at startup.
const preloadedSerialsFile = "preloaded_serials.json"

// Application holds the wired licensing backend.
type Application struct {
	Config     *config.Config
	Logger     *slog.Logger
	OTel       *infrastructure.OTelProviders
	Store      *license.Store
	Engine     *license.Engine
	Reconciler *license.Reconciler
	Service    services.LicenseService
	Health     *services.HealthService
	Router     chi.Router
	Server     *http.Server

	resetToken *security.ResetTokenVerifier
	version    string
}

// New loads configuration and wires every component. The returned
// application is ready to Run.
func New(version string) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("initialize otel: %w", err)
	}

	store, err := license.OpenStore(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open license store: %w", err)
	}

	if err := seedPreloadedSerials(store, filepath.Join(cfg.Paths.DataDir, preloadedSerialsFile), logger); err != nil {
		store.Close()
		return nil, err
	}

	metrics, err := license.NewMetrics(otelProviders.Meter)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("register license metrics: %w", err)
	}

	resetToken, err := security.NewResetTokenVerifier(cfg.License.ResetToken)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("derive reset token digest: %w", err)
	}

	client := license.NewClient(cfg.License.ServerURL, cfg.License.RequestTimeout, logger)
	engine := license.NewEngine(
		license.EngineConfig{
			TrialLimit:  cfg.License.TrialLimit,
			GracePeriod: cfg.License.GracePeriod,
		},
		license.NewSerialCodec(cfg.License.SerialPrefix),
		store,
		client,
		security.NewFingerprintManager(cfg.License.ProbeTimeout),
		metrics,
		logger,
	)

	app := &Application{
		Config:     cfg,
		Logger:     logger,
		OTel:       otelProviders,
		Store:      store,
		Engine:     engine,
		Reconciler: license.NewReconciler(store, client, metrics, logger, 2*cfg.License.RequestTimeout),
		Service:    services.NewLicenseService(engine, logger),
		Health:     services.NewHealthService(store, version, logger),
		resetToken: resetToken,
		version:    version,
	}
	app.setupRouter()
	app.createServer()

	logger.Info("application initialized",
		slog.String("version", version),
		slog.Int("port", cfg.Server.Port),
		slog.String("database", cfg.DatabasePath()),
	)
	return app, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

		licenseHandler := transport.NewLicenseHandler(
			a.Service,
			a.resetToken,
			rate.NewLimiter(rate.Limit(a.Config.License.ActivationRPS), a.Config.License.ActivationBurst),
			a.Logger,
		)
		r.Mount("/license", licenseHandler.Routes())
	})

	healthHandler := transport.NewHealthHandler(a.Health, a.Logger)
	r.Get("/healthz", healthHandler.HealthCheck)
	r.Get("/healthz/live", healthHandler.LivenessCheck)
	r.Get("/version", healthHandler.Version)

	if a.OTel.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTel.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run starts the HTTP server and the validation reconciler, blocking until
// shutdown on SIGINT/SIGTERM or a server failure.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Reconciler.Schedule(a.Config.License.ReconcileInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.Stop()
	})

	return g.Wait()
}

// Stop shuts the application down gracefully.
func (a *Application) Stop() error {
	a.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	gocron.Clear()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.OTel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}
	if err := infrastructure.CloseLogger(); err != nil {
		errs = append(errs, fmt.Errorf("close logger: %w", err))
	}
	return errors.Join(errs...)
}

// preloadedSerialEntry is the on-disk shape of one reference serial.
type preloadedSerialEntry struct {
	SerialNumber     string `json:"serialNumber"`
	Valid            bool   `json:"valid"`
	MaxInstallations int    `json:"maxInstallations"`
	LicenseType      string `json:"licenseType"`
	GeneratedDate    string `json:"generatedDate"`
}

// seedPreloadedSerials loads the offline reference table shipped with the
// install, when present. Seeding is idempotent; known serials are skipped.
func seedPreloadedSerials(store *license.Store, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no preloaded serials file, offline table starts empty",
				slog.String("path", path))
			return nil
		}
		return fmt.Errorf("read preloaded serials: %w", err)
	}

	var entries []preloadedSerialEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse preloaded serials: %w", err)
	}

	serials := make([]license.PreloadedSerial, 0, len(entries))
	for _, e := range entries {
		generated, err := time.Parse("2006-01-02", e.GeneratedDate)
		if err != nil {
			return fmt.Errorf("parse generated date for %s: %w", e.SerialNumber, err)
		}
		serials = append(serials, license.PreloadedSerial{
			SerialNumber:     e.SerialNumber,
			Valid:            e.Valid,
			MaxInstallations: e.MaxInstallations,
			LicenseType:      e.LicenseType,
			GeneratedDate:    generated,
		})
	}

	if err := store.SeedPreloadedSerials(context.Background(), serials); err != nil {
		return fmt.Errorf("seed preloaded serials: %w", err)
	}
	logger.Info("preloaded serials seeded",
		slog.String("path", path),
		slog.Int("count", len(serials)),
	)
	return nil
}
