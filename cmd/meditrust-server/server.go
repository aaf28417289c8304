package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/meditrust/meditrust/internal/config"
	"github.com/meditrust/meditrust/internal/domain/discovery"
	"github.com/meditrust/meditrust/internal/domain/documents"
	"github.com/meditrust/meditrust/internal/domain/identity"
	"github.com/meditrust/meditrust/internal/domain/scheduling"
	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/blobstore"
	"github.com/meditrust/meditrust/internal/platform/db"
	"github.com/meditrust/meditrust/internal/platform/llm"
	"github.com/meditrust/meditrust/internal/platform/middleware"
	"github.com/meditrust/meditrust/internal/platform/notification"
	"github.com/meditrust/meditrust/internal/platform/validate"
	"github.com/meditrust/meditrust/internal/platform/worker"
)

const (
	notificationWorkers = 2
	notificationQueue   = 256
	summaryQueue        = 64
	shutdownTimeout     = 10 * time.Second
)

// services are the domain services exposed over HTTP.
type services struct {
	identity      *identity.Service
	scheduling    *scheduling.Service
	discovery     *discovery.Service
	documents     *documents.Service
	notifications *notification.Service
}

func mountRoutes(api *echo.Group, s services) {
	identity.NewHandler(s.identity).RegisterRoutes(api)
	scheduling.NewHandler(s.scheduling).RegisterRoutes(api)
	discovery.NewHandler(s.discovery).RegisterRoutes(api)
	documents.NewHandler(s.documents).RegisterRoutes(api)
	notification.NewHandler(s.notifications).RegisterRoutes(api)
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *middleware.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit("1M", cfg.UploadMaxSize))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	return e
}

// newLimiter prefers the shared Redis limiter and falls back to the
// in-process one when Redis is not configured or unreachable.
func newLimiter(ctx context.Context, cfg *config.Config, rl middleware.RateLimitConfig, logger zerolog.Logger) (middleware.Limiter, func()) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(rl), func() {}
	}
	client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory rate limiter")
		return middleware.NewMemoryLimiter(rl), func() {}
	}
	logger.Info().Msg("using redis rate limiter")
	return middleware.NewRedisLimiter(client, rl), func() { _ = client.Close() }
}

func newLLMClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (llm.Client, func()) {
	if !cfg.LLMEnabled() {
		logger.Info().Msg("GEMINI_API_KEY not set, cloud summarization disabled")
		return llm.Noop{}, func() {}
	}
	client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn().Err(err).Msg("gemini client unavailable, cloud summarization disabled")
		return llm.Noop{}, func() {}
	}
	return client, func() { _ = client.Close() }
}

func notificationOptions(cfg *config.Config, metrics *middleware.Metrics) []notification.Option {
	opts := []notification.Option{notification.WithRecorder(metrics)}
	if cfg.SMTPEnabled() {
		opts = append(opts, notification.WithEmail(
			notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)))
	}
	if cfg.TwilioEnabled() {
		opts = append(opts, notification.WithSMS(
			notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)))
	}
	return opts
}

func buildServices(pool *pgxpool.Pool, cfg *config.Config, tokens *auth.TokenIssuer, blobs blobstore.Store,
	client llm.Client, notifyJobs, summaryJobs *worker.Pool, metrics *middleware.Metrics, logger zerolog.Logger) services {
	tx := db.NewTransactor(pool)

	notifications := notification.NewService(notification.NewStorePG(pool), notification.NewTemplateEngine(),
		notifyJobs, logger, notificationOptions(cfg, metrics)...)

	identitySvc := identity.NewService(identity.NewUserRepoPG(pool), identity.NewDoctorRepoPG(pool),
		identity.NewProfileRepoPG(pool), tx, tokens)

	schedulingSvc := scheduling.NewService(scheduling.NewSlotRepoPG(pool), scheduling.NewAppointmentRepoPG(pool),
		tx, notifications, metrics)

	discoverySvc := discovery.NewService(discovery.NewDirectoryPG(pool), schedulingSvc, client, cfg.LLMTimeout, logger)

	documentsSvc := documents.NewService(documents.NewRepoPG(pool), blobs, tx, client, summaryJobs, logger,
		documents.WithRecorder(metrics), documents.WithLLMTimeout(cfg.LLMTimeout))

	return services{
		identity:      identitySvc,
		scheduling:    schedulingSvc,
		discovery:     discoverySvc,
		documents:     documentsSvc,
		notifications: notifications,
	}
}

func runServer() error {
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	blobs, err := blobstore.NewLocalStore(cfg.UploadDir, middleware.ParseLimit(cfg.UploadMaxSize))
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("failed to open upload directory")
	}

	client, closeLLM := newLLMClient(ctx, cfg, logger)
	defer closeLLM()

	metrics := middleware.NewMetrics()
	e := newEcho(cfg, logger, metrics)

	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	limiter, closeLimiter := newLimiter(ctx, cfg, rl, logger)
	defer closeLimiter()

	notifyJobs := worker.NewPool("notifications", notificationWorkers, notificationQueue, logger)
	summaryJobs := worker.NewPool("summaries", cfg.SummaryWorkers, summaryQueue, logger)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	svc := buildServices(pool, cfg, tokens, blobs, client, notifyJobs, summaryJobs, metrics, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	api := e.Group("/api",
		middleware.RateLimit(rl, limiter, logger),
		auth.Middleware(tokens, svc.identity),
		db.TxMiddleware(pool, logger),
	)
	mountRoutes(api, svc)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	// summaries drain first; notifications last so late deliveries still go out
	if err := summaryJobs.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("summary workers did not drain")
	}
	if err := notifyJobs.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification workers did not drain")
	}
	logger.Info().Msg("server stopped")
	return nil
}
