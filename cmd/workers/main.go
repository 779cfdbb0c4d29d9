package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/config"
	"maintenance-portal/service-desk-backend/internal/database"
	"maintenance-portal/service-desk-backend/internal/notifications"
	"maintenance-portal/service-desk-backend/internal/observability"
	"maintenance-portal/service-desk-backend/internal/scheduler"
	"maintenance-portal/service-desk-backend/internal/workflow"
)

const reminderJob = "stale-request-reminders"

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.Database, cfg.Logging.Development)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient redis.UniversalClient
	if cfg.Notifications.Queue == config.QueueRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
	}

	metrics := observability.NewMetrics()
	queue, err := notifications.NewQueueFromConfig(cfg.Notifications, redisClient)
	if err != nil {
		logger.Fatal("Failed to create notification queue", zap.Error(err))
	}
	notifier, err := notifications.NewNotifierFromConfig(ctx, cfg.Notifications, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}
	// Websocket pushes are served by the api process; the worker only delivers through the provider
	dispatcher := notifications.NewDispatcher(
		queue,
		notifier,
		notifications.NewRenderer(cfg.Workflow.RequestBaseURL),
		notifications.NewDeliveryStore(db),
		nil,
		metrics,
		logger,
		notifications.DispatcherConfig{Workers: cfg.Notifications.Workers, Timeout: cfg.Notifications.Timeout},
	)

	engine := workflow.NewEngine(
		workflow.NewRepository(db),
		dispatcher,
		metrics,
		logger,
		workflow.EngineConfig{EnforceRequiredRole: cfg.Workflow.EnforceRequiredRole},
	)

	jobs := scheduler.New(logger, 5*time.Minute)
	err = jobs.Add(reminderJob, cfg.Scheduler.ReminderCron, func(ctx context.Context) error {
		_, err := engine.RemindStale(ctx, cfg.Scheduler.StaleAfter)
		return err
	})
	if err != nil {
		logger.Fatal("Failed to schedule reminders", zap.Error(err))
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	if err := jobs.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	metricsSrv := &http.Server{Addr: ":9091", Handler: metrics.Handler()}
	if addr := os.Getenv("WORKER_METRICS_ADDR"); addr != "" {
		metricsSrv.Addr = addr
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("Workers started",
		zap.String("queue", cfg.Notifications.Queue),
		zap.String("provider", notifier.Name()),
		zap.String("reminder_cron", cfg.Scheduler.ReminderCron))

	<-ctx.Done()

	jobs.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()

	logger.Info("Workers stopped")
}
