// Package shinrai runs the grant program accountability engine: automated
// flag detection over funded projects, person and organization scoring, and
// the HTTP surface that triggers runs and serves their results.
//
//	app, err := shinrai.New(shinrai.WithVersion(version), shinrai.WithLogger(logger))
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
package shinrai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/shinrai/api"
	"github.com/ashita-ai/shinrai/internal/accountability"
	"github.com/ashita-ai/shinrai/internal/auth"
	"github.com/ashita-ai/shinrai/internal/config"
	"github.com/ashita-ai/shinrai/internal/detection"
	"github.com/ashita-ai/shinrai/internal/flags"
	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/ratelimit"
	"github.com/ashita-ai/shinrai/internal/server"
	"github.com/ashita-ai/shinrai/internal/storage"
	"github.com/ashita-ai/shinrai/internal/telemetry"
	"github.com/ashita-ai/shinrai/migrations"
)

const shutdownTimeout = 30 * time.Second

// App is the shinrai lifecycle. Construct with New(), run with Run() or
// drive single passes with Detect, Recalculate and Publish.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	limiter      ratelimit.Limiter
	detection    *detection.Service
	scores       *accountability.Service
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New connects to the database, applies migrations and wires every service.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolve(opts)
	logger := o.logger

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}

	logger.Info("shinrai starting", "version", o.version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: o.version,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}
	db.RegisterPoolMetrics()

	if cfg.SkipMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	a := &App{
		cfg:          cfg,
		db:           db,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      o.version,
		detection:    detection.New(db, o.now, logger),
		scores: accountability.New(db, logger,
			accountability.WithClock(o.now),
			accountability.WithWorkers(cfg.ScoreWorkers),
			accountability.WithPreviewWindow(cfg.PreviewWindow),
		),
	}
	if !o.serveHTTP {
		return a, nil
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	a.limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitRPS > 0 {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	a.srv = server.New(server.ServerConfig{
		Detection:           a.detection,
		Accountability:      a.scores,
		Flags:               flags.New(db, o.now, logger),
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             a.limiter,
		DB:                  db,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             o.version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CacheTTL:            cfg.CacheTTL,
		OpenAPISpec:         api.OpenAPISpec,
	})
	return a, nil
}

// Run starts the scheduled loops and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return the App is closed.
func (a *App) Run(ctx context.Context) error {
	if a.srv == nil {
		return errors.New("shinrai: app was built without an HTTP server")
	}
	defer a.Close()

	// Deferred after Close: the loops must stop before the pool closes.
	stopLoops := a.startLoops(ctx,
		loop{"detection", a.cfg.DetectionInterval, func(ctx context.Context) error {
			_, err := a.Detect(ctx)
			return err
		}},
		loop{"recalculation", a.cfg.RecalcInterval, func(ctx context.Context) error {
			_, err := a.Recalculate(ctx)
			return err
		}},
		loop{"publication", a.cfg.PublishInterval, func(ctx context.Context) error {
			_, err := a.Publish(ctx)
			return err
		}},
	)
	defer stopLoops()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	stopLoops()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	return nil
}

// Detect runs every detector and ingests the flags they raise.
func (a *App) Detect(ctx context.Context) (model.DetectionStats, error) {
	return a.detection.RunAll(ctx)
}

// DetectOne runs a single detector and returns its findings without
// recording any flag.
func (a *App) DetectOne(ctx context.Context, category model.FlagCategory) ([]model.DetectionResult, error) {
	return a.detection.RunOne(ctx, category)
}

// Recalculate rescores every person, then every organization.
func (a *App) Recalculate(ctx context.Context) (model.BatchResult, error) {
	defer a.invalidateScores()
	return a.scores.RecalculateAll(ctx)
}

// Publish promotes preview scores whose window has passed.
func (a *App) Publish(ctx context.Context) (int, error) {
	defer a.invalidateScores()
	return a.scores.PublishExpired(ctx)
}

// invalidateScores flushes the server's score cache after a write made
// outside an HTTP request.
func (a *App) invalidateScores() {
	if a.srv != nil {
		a.srv.InvalidateScores()
	}
}

// Close releases the database pool, the limiter and the telemetry exporters.
func (a *App) Close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
	a.db.Close()
	a.logger.Info("shinrai stopped")
}

type loop struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
}

// startLoops runs each loop on its own goroutine. The returned stop cancels
// them and waits for any run in progress to return; it is safe to call twice.
func (a *App) startLoops(ctx context.Context, loops ...loop) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Go(func() { a.every(ctx, l.name, l.interval, l.fn) })
	}
	return sync.OnceFunc(func() {
		cancel()
		wg.Wait()
	})
}

// every calls fn each interval until ctx is done. A zero interval disables it.
func (a *App) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := fn(ctx); err != nil {
				a.logger.Warn("scheduled run failed", "loop", name, "error", err)
				continue
			}
			a.logger.Debug("scheduled run complete", "loop", name, "duration_ms", time.Since(start).Milliseconds())
		}
	}
}
