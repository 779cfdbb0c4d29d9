package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/artifacts"
	"maintenance-portal/service-desk-backend/internal/auth"
	"maintenance-portal/service-desk-backend/internal/config"
	"maintenance-portal/service-desk-backend/internal/dashboard"
	"maintenance-portal/service-desk-backend/internal/database"
	"maintenance-portal/service-desk-backend/internal/notifications"
	"maintenance-portal/service-desk-backend/internal/notifications/websocket"
	"maintenance-portal/service-desk-backend/internal/observability"
	"maintenance-portal/service-desk-backend/internal/workflow"
)

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
	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Connected to database", zap.String("driver", cfg.Database.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	sockets := websocket.NewManager(logger)
	defer sockets.Close()

	// Notifications: in-process workers for the memory queue, enqueue only for redis
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
	queue, err := notifications.NewQueueFromConfig(cfg.Notifications, redisClient)
	if err != nil {
		logger.Fatal("Failed to create notification queue", zap.Error(err))
	}
	notifier, err := notifications.NewNotifierFromConfig(ctx, cfg.Notifications, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}
	deliveries := notifications.NewDeliveryStore(db)
	dispatcher := notifications.NewDispatcher(
		queue,
		notifier,
		notifications.NewRenderer(cfg.Workflow.RequestBaseURL),
		deliveries,
		sockets,
		metrics,
		logger,
		notifications.DispatcherConfig{Workers: cfg.Notifications.Workers, Timeout: cfg.Notifications.Timeout},
	)

	var wg sync.WaitGroup
	if cfg.Notifications.Queue == config.QueueMemory {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()
	}

	// Workflow engine and collaborators
	countsCache := dashboard.NewCache(cfg.Dashboard.CacheTTL)
	defer countsCache.Stop()

	engine := workflow.NewEngine(
		workflow.NewRepository(db),
		workflow.Publishers{dispatcher, dashboard.NewInvalidator(countsCache)},
		metrics,
		logger,
		workflow.EngineConfig{EnforceRequiredRole: cfg.Workflow.EnforceRequiredRole},
	)

	issuer := auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	authHandler := auth.NewHandler(engine.Repository(), issuer, logger)
	workflowHandler := workflow.NewHandler(engine, logger)
	artifactsHandler := artifacts.NewHandler(artifacts.NewService(artifacts.NewRepository(db), engine, logger), logger)
	dashboardHandler := dashboard.NewHandler(dashboard.NewService(engine, countsCache, logger), logger)
	notificationsHandler := notifications.NewHandler(deliveries, sockets, logger)

	if cfg.Logging.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors())

	api := router.Group("/api/v1")
	protected := api.Group("")
	protected.Use(auth.JWTAuth(issuer))
	{
		authHandler.RegisterRoutes(api, protected)
		workflowHandler.RegisterRoutes(protected)
		artifactsHandler.RegisterRoutes(protected)
		dashboardHandler.RegisterRoutes(protected)
		notificationsHandler.RegisterRoutes(protected)
	}

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			dbStatus = "unavailable"
		}
		c.JSON(status, gin.H{
			"status":      dbStatus,
			"database":    dbStatus,
			"connections": sockets.GetConnectionCount(),
			"timestamp":   time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("notification_provider", notifier.Name()),
		zap.String("notification_queue", cfg.Notifications.Queue))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	wg.Wait()
	logger.Info("Server exiting")
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
