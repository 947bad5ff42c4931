package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/replypilot/tracker-api/internal/alert"
	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/followup"
	emailHandler "github.com/replypilot/tracker-api/internal/handler/email"
	healthHandler "github.com/replypilot/tracker-api/internal/handler/health"
	subscriptionHandler "github.com/replypilot/tracker-api/internal/handler/subscription"
	webhookHandler "github.com/replypilot/tracker-api/internal/handler/webhook"
	"github.com/replypilot/tracker-api/internal/health"
	"github.com/replypilot/tracker-api/internal/provider"
	"github.com/replypilot/tracker-api/internal/queue"
	"github.com/replypilot/tracker-api/internal/ratelimit"
	"github.com/replypilot/tracker-api/internal/repository/postgres"
	"github.com/replypilot/tracker-api/internal/router"
	"github.com/replypilot/tracker-api/internal/subscription"
	"github.com/replypilot/tracker-api/internal/tracking"
	"github.com/replypilot/tracker-api/pkg/logger"
	"github.com/replypilot/tracker-api/pkg/messaging/redis"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	m := metrics.NewMetrics("replypilot", "api")

	baseRepo := postgres.NewBaseRepository(db)
	emailRepo := postgres.NewTrackedEmailRepository(baseRepo)
	responseRepo := postgres.NewResponseRepository(baseRepo)
	subRepo := postgres.NewSubscriptionRepository(baseRepo)
	queueRepo := postgres.NewQueueRepository(baseRepo)
	rateRepo := postgres.NewRateLimitRepository(baseRepo)

	limiter := ratelimit.NewLimiter(rateRepo, cfg.RateLimit, m)
	client := provider.NewClient(cfg.Provider, limiter, m)

	notifier := followup.NewNotifier(broker)
	tracker := tracking.NewService(emailRepo, responseRepo, notifier)

	notificationQueue := queue.NewQueue(queueRepo, cfg.Queue)

	alerter := alert.NewMailer(cfg.Alert)
	subManager := subscription.NewManager(subRepo, client, alerter, cfg.Subscription, appLogger, m)

	monitor := health.NewMonitor(queueRepo, subRepo, health.DefaultThresholds(), cfg.Subscription.RenewalThreshold)

	r := router.NewRouter(
		webhookHandler.NewHandler(notificationQueue, subRepo, cfg.Webhook, m),
		emailHandler.NewHandler(tracker, queueRepo),
		subscriptionHandler.NewHandler(subManager),
		healthHandler.NewHandler(db, monitor),
		router.RouterConfig{
			RateLimit:     rate.Limit(cfg.Server.RequestsPerSec),
			RateBurst:     cfg.Server.Burst,
			MetricsPrefix: "replypilot_api",
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
