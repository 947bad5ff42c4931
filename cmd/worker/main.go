package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replypilot/tracker-api/internal/alert"
	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/followup"
	"github.com/replypilot/tracker-api/internal/health"
	"github.com/replypilot/tracker-api/internal/matcher"
	"github.com/replypilot/tracker-api/internal/provider"
	"github.com/replypilot/tracker-api/internal/queue"
	"github.com/replypilot/tracker-api/internal/ratelimit"
	"github.com/replypilot/tracker-api/internal/repository/postgres"
	"github.com/replypilot/tracker-api/internal/subscription"
	"github.com/replypilot/tracker-api/internal/tracking"
	"github.com/replypilot/tracker-api/pkg/logger"
	"github.com/replypilot/tracker-api/pkg/messaging/redis"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

func setupHealthCheck(logger *logger.Logger, db *sqlx.DB, monitor *health.Monitor) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report, err := monitor.Check(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if report.Status == health.StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			logger.ZL.Error().Err(err).Msg("Health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.ZL.Fatal().Err(err).Msg("Failed to connect to database")
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
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	m := metrics.NewMetrics("replypilot", "worker")

	baseRepo := postgres.NewBaseRepository(db)
	emailRepo := postgres.NewTrackedEmailRepository(baseRepo)
	responseRepo := postgres.NewResponseRepository(baseRepo)
	subRepo := postgres.NewSubscriptionRepository(baseRepo)
	queueRepo := postgres.NewQueueRepository(baseRepo)
	rateRepo := postgres.NewRateLimitRepository(baseRepo)

	limiter := ratelimit.NewLimiter(rateRepo, cfg.RateLimit, m)
	client := provider.NewClient(cfg.Provider, limiter, m)
	match := matcher.New(cfg.Matcher)

	notifier := followup.NewNotifier(broker)
	tracker := tracking.NewService(emailRepo, responseRepo, notifier)

	monitor := health.NewMonitor(queueRepo, subRepo, health.DefaultThresholds(), cfg.Subscription.RenewalThreshold)

	worker := queue.NewWorker(
		queueRepo,
		client,
		match,
		tracker,
		cfg.Queue,
		cfg.Matcher.CandidateCacheTTL,
		appLogger,
		m,
		monitor,
	)

	alerter := alert.NewMailer(cfg.Alert)
	subManager := subscription.NewManager(subRepo, client, alerter, cfg.Subscription, appLogger, m)

	setupHealthCheck(appLogger, db, monitor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.ZL.Info().Msg("Shutting down...")
		cancel()
	}()

	go subManager.Start(ctx)

	// Janitors: prune completed jobs and expired rate-limit windows.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := queueRepo.DeleteCompletedBefore(ctx, time.Now().Add(-cfg.Queue.RetentionPeriod)); err != nil {
					appLogger.ZL.Error().Err(err).Msg("Failed to prune completed jobs")
				} else if n > 0 {
					appLogger.ZL.Info().Int64("pruned", n).Msg("Pruned completed jobs")
				}

				if n, err := rateRepo.DeleteExpiredBefore(ctx, time.Now().Add(-cfg.RateLimit.RetentionPeriod)); err != nil {
					appLogger.ZL.Error().Err(err).Msg("Failed to prune rate-limit windows")
				} else if n > 0 {
					appLogger.ZL.Info().Int64("pruned", n).Msg("Pruned rate-limit windows")
				}
			}
		}
	}()

	worker.Start(ctx)
}
