// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/teleswap/exchange-desk/internal/config"
	"github.com/teleswap/exchange-desk/internal/domain"
	"github.com/teleswap/exchange-desk/internal/identity"
	identitypostgres "github.com/teleswap/exchange-desk/internal/identity/postgres"
	"github.com/teleswap/exchange-desk/internal/notifications"
	notificationspostgres "github.com/teleswap/exchange-desk/internal/notifications/postgres"
	"github.com/teleswap/exchange-desk/internal/notifications/telegram"
	"github.com/teleswap/exchange-desk/internal/orders"
	orderspostgres "github.com/teleswap/exchange-desk/internal/orders/postgres"
	"github.com/teleswap/exchange-desk/internal/pkg/ctxlog"
	"github.com/teleswap/exchange-desk/internal/pkg/httputil"
	"github.com/teleswap/exchange-desk/internal/pkg/metrics"
	"github.com/teleswap/exchange-desk/internal/pkg/postgres"
	"github.com/teleswap/exchange-desk/internal/rates"
	"github.com/teleswap/exchange-desk/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redisClient   *redis.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	processor     *notifications.Processor
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	if cfg.Redis.Enabled {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	go app.collectDBMetrics(metricsCtx)

	router, processor, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.processor = processor

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the queue processor before cancelling its context so
	// in-flight deliveries finish instead of aborting mid-send
	if a.processor != nil {
		a.processor.Stop()
	}

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Processor returns the queue processor instance.
// Used in tests to drive processing. Returns nil if notifications disabled.
func (a *App) Processor() *notifications.Processor {
	return a.processor
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *notifications.Processor, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	// Identity
	identityRepo := identitypostgres.NewRepository(a.db)
	authenticator := identity.NewAuthenticator(identity.AuthenticatorConfig{
		SecretKey:     a.config.JWT.SecretKey,
		TokenDuration: a.config.JWT.TokenDuration,
	})
	identityService := identity.NewService(identityRepo, authenticator, identity.ServiceConfig{
		BotToken:    a.config.Telegram.BotToken,
		InitDataTTL: a.config.Telegram.InitDataTTL,
		AdminIDs:    a.config.Telegram.AdminChatIDs,
	})
	identityHandler := identity.NewHandler(identityService)

	// Notifications
	notificationsRepo := notificationspostgres.NewRepository(a.db)
	notificationsService := notifications.NewService(notificationsRepo, notifications.ServiceConfig{
		MaxAttempts:  a.config.Notifications.Retry.MaxAttempts,
		AdminChatIDs: a.config.Telegram.AdminChatIDs,
		AdminLang:    a.config.Telegram.AdminLang,
	})
	notificationsHandler := notifications.NewHandler(notificationsService)

	slog.Info("notifications configured",
		"enabled", a.config.Notifications.Enabled,
		"telegram_enabled", a.config.Telegram.Enabled,
	)

	var processor *notifications.Processor
	var ordersNotifier orders.Notifier

	if a.config.Notifications.Enabled {
		telegramClient, err := telegram.NewClient(telegram.Config{
			Enabled:   a.config.Telegram.Enabled,
			BotToken:  a.config.Telegram.BotToken,
			RateLimit: a.config.Telegram.RateLimit,
			Timeout:   a.config.Telegram.SendTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create telegram client: %w", err)
		}

		if !a.config.Telegram.Enabled {
			slog.Warn("telegram client is disabled: notifications will not be delivered")
		}

		renderer, err := notifications.NewRenderer()
		if err != nil {
			return nil, nil, fmt.Errorf("create notification renderer: %w", err)
		}

		processorConfig := notifications.DefaultProcessorConfig()
		processorConfig.BatchSize = a.config.Notifications.Worker.BatchSize
		processorConfig.PollInterval = a.config.Notifications.Worker.PollInterval
		processorConfig.StaleAfter = a.config.Notifications.Worker.StaleAfter
		processorConfig.BackoffBase = a.config.Notifications.Retry.InitialBackoff
		processorConfig.BackoffMultiplier = a.config.Notifications.Retry.BackoffMultiplier
		processorConfig.MaxBackoff = a.config.Notifications.Retry.MaxBackoff
		processorConfig.SendTimeout = a.config.Telegram.SendTimeout

		processor = notifications.NewProcessor(processorConfig, notificationsRepo, telegramClient, renderer)
		processor.Start(ctx)

		// Start queue metrics collection
		go a.collectQueueMetrics(ctx, notificationsRepo)

		ordersNotifier = notificationsService
	}

	// Rates
	ratesClient, err := rates.NewClient(rates.ClientConfig{
		BaseURL:        a.config.Rates.BaseURL,
		RequestTimeout: a.config.Rates.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create rates client: %w", err)
	}

	var ratesCache *rates.Cache
	if a.redisClient != nil {
		ratesCache = rates.NewCache(a.redisClient, a.config.Rates.CacheTTL)
	}

	ratesService := rates.NewService(ratesClient, ratesCache, rates.ServiceConfig{
		Markup: a.config.Rates.Markup,
	})
	ratesHandler := rates.NewHandler(ratesService)

	// Orders
	ordersRepo := orderspostgres.NewRepository(a.db)
	ordersService := orders.NewService(ordersRepo, ratesService, ordersNotifier, identityRepo)
	ordersHandler := orders.NewHandler(ordersService)

	r.Route("/api/v1", func(r chi.Router) {
		identityHandler.RegisterRoutes(r)
		ratesHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))

			identityHandler.RegisterProtectedRoutes(r)
			ordersHandler.RegisterRoutes(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				ordersHandler.RegisterAdminRoutes(r)
				notificationsHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r, processor, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
