// Command shadowcheck serves the network explorer API and runs the batch
// threat scorer on its schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadowcheck/shadowcheck/internal/audit"
	"github.com/shadowcheck/shadowcheck/internal/cache"
	"github.com/shadowcheck/shadowcheck/internal/config"
	"github.com/shadowcheck/shadowcheck/internal/events"
	"github.com/shadowcheck/shadowcheck/internal/explorer/handler"
	"github.com/shadowcheck/shadowcheck/internal/explorer/repository"
	"github.com/shadowcheck/shadowcheck/internal/explorer/service"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
)

func main() {
	cfg, err := config.Load(os.Getenv("SHADOWCHECK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowcheck: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Log.Env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowcheck: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("shadowcheck exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	// ── Audit log ────────────────────────────────────────────────────────────
	auditLog := audit.NewPostgresLog(db, logger)
	_ = audit.StartupCheck(ctx, auditLog, logger)

	// ── Page cache ───────────────────────────────────────────────────────────
	var pageCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedis(cache.RedisOptions{URL: cfg.Redis.URL, TTL: cfg.Explorer.CacheTTL})
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck
		pageCache = rc
		logger.Info("explorer cache: redis")
	} else {
		mc := cache.NewMemory(cfg.Explorer.CacheTTL)
		go mc.StartEviction(ctx, cfg.Explorer.CacheTTL)
		pageCache = mc
		logger.Info("explorer cache: in-process (set redis.url to share)")
	}

	// ── Event sinks ──────────────────────────────────────────────────────────
	var sinks events.Multi
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kp.Close() //nolint:errcheck
		sinks = append(sinks, kp)
		logger.Info("scoring events: kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	if len(cfg.Webhooks.URLs) > 0 {
		wp := events.NewWebhookPublisher(cfg.Webhooks.URLs, cfg.Webhooks.Secret, logger)
		wp.SetMetricsRecorder(handler.RecordWebhookDelivery)
		sinks = append(sinks, wp)
		logger.Info("scoring events: webhooks", zap.Int("urls", len(cfg.Webhooks.URLs)))
	}

	// ── Wire up layers ───────────────────────────────────────────────────────
	networkRepo := repository.NewNetworkRepository(db)
	scoreRepo := repository.NewScoreRepository(db, logger)

	svc := service.New(networkRepo, scoreRepo, pageCache, service.Config{
		DefaultLimit: cfg.Explorer.DefaultLimit,
		MaxLimit:     cfg.Explorer.MaxLimit,
		Compile:      cfg.Quality.CompileOptions(),
	}, logger)
	svc.SetCompileRecord(handler.RecordFilters)
	svc.SetCacheRecord(handler.RecordCacheLookup)

	scorer := scoring.NewBatchScorer(scoreRepo, nil, cfg.Scoring.ScorerConfig(), logger)
	scheduler := scoring.NewScheduler(scorer, cfg.Scoring.Interval, logger)

	threatHandler := handler.NewThreatHandler(svc, scheduler, scorer.Running, cfg.Server.AdminSecret, logger)

	scorer.SetMetricsRecord(handler.RecordScoringRun)
	scorer.OnComplete(svc.Invalidate)
	scorer.OnComplete(threatHandler.RecordRun)
	scorer.OnComplete(audit.RunHook(auditLog, logger))
	if len(sinks) > 0 {
		scorer.OnComplete(events.CompletionHook(sinks, logger))
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.Server.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(1 << 20))
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "scoring": scorer.Running()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewExplorerHandler(svc, logger).Register(v1)
	threatHandler.Register(v1)
	handler.NewAuditHandler(auditLog, logger).Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ──────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("shadowcheck HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("scoring scheduler started", zap.Duration("interval", cfg.Scoring.Interval))
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down shadowcheck...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shadowcheck stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
