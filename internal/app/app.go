// Package app wires configuration, storage, the provider pool and the
// summarization pipeline into a runnable HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tldrify/core/internal/config"
	"github.com/tldrify/core/internal/database"
	"github.com/tldrify/core/internal/middleware"
	"github.com/tldrify/core/internal/modules/summarize/fingerprint"
	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/modules/summarize/pipeline"
	"github.com/tldrify/core/internal/modules/summarize/provider"
	"github.com/tldrify/core/internal/modules/summarize/queue"
	"github.com/tldrify/core/internal/modules/summarize/strategy"
	"github.com/tldrify/core/internal/pkg/bark"
	pkgcron "github.com/tldrify/core/internal/pkg/cron"
	pkgredis "github.com/tldrify/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg         *config.AppConfig
	router      *gin.Engine
	db          *gorm.DB
	rc          *pkgredis.Client
	logger      *zap.Logger
	cancel      context.CancelFunc
	sched       *pkgcron.Scheduler
	coordinator *pipeline.Coordinator
}

// New initializes the application: config → DB → redis → pipeline → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))

	sink := provider.MultiUsageSink{
		provider.NewGormUsageSink(db, logger),
		provider.NewZapUsageSink(logger),
	}
	pool, err := provider.NewPool(cfg.Providers, sink, logger)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	if !pool.HasProviders() {
		logger.Warn("no enabled providers; generative and composite requests will fail")
	}

	registry := strategy.NewRegistry(pool, logger)
	creditLedger := ledger.NewGormLedger(db, logger)
	cache := fingerprint.NewRedisCache(rc)
	broker := queue.NewRedisBroker(rc, cfg.Summarize.QueueLimit)
	store := queue.NewGormStore(db)

	bus := pipeline.NewBus()
	bus.Subscribe(pipeline.ZapSubscriber(logger))
	bus.Subscribe(pipeline.RedisSubscriber(rc, logger))
	if cfg.Bark.Enabled {
		barkSvc := bark.New(func() (string, string, string) {
			return cfg.Bark.Key, cfg.Bark.ServerURL, cfg.Bark.AppName
		})
		bus.Subscribe(pipeline.BarkSubscriber(barkSvc))
	}

	coordinator := pipeline.NewCoordinator(cfg.Summarize, registry, creditLedger,
		cache, broker, store, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	coordinator.Workers().Start(ctx)

	sched := pkgcron.New(logger)
	registerCronJobs(sched, cfg, creditLedger, broker, coordinator, logger)
	sched.Start(ctx)

	app := &App{
		cfg:         cfg,
		router:      router,
		db:          db,
		rc:          rc,
		logger:      logger,
		cancel:      cancel,
		sched:       sched,
		coordinator: coordinator,
	}
	app.registerRoutes()
	return app, nil
}

func corsConfig(cfg *config.AppConfig) cors.Config {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsConfig
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops workers, cron jobs and the event bus.
func (a *App) Shutdown() {
	a.cancel()
	a.coordinator.Workers().Wait()
}

var processStart = time.Now()
