package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/attendance-integrity-api/api/swagger"
	"github.com/noah-isme/attendance-integrity-api/internal/events"
	"github.com/noah-isme/attendance-integrity-api/internal/handler"
	"github.com/noah-isme/attendance-integrity-api/internal/middleware"
	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/internal/realtime"
	"github.com/noah-isme/attendance-integrity-api/internal/repository"
	"github.com/noah-isme/attendance-integrity-api/internal/service"
	"github.com/noah-isme/attendance-integrity-api/pkg/cache"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
	"github.com/noah-isme/attendance-integrity-api/pkg/database"
	"github.com/noah-isme/attendance-integrity-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/attendance-integrity-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/attendance-integrity-api/pkg/middleware/requestid"
)

// @title Attendance Integrity API
// @version 0.1.0
// @description Risk-scored attendance check-in engine with fraud alerting
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	hub := realtime.NewHub(logr.Named("realtime"), metricsSvc, cfg.Realtime)
	go hub.Run(ctx)

	dispatcher := events.NewDispatcher(logr.Named("events"), cfg.Realtime,
		events.NewHubSink(hub),
		events.NewLogSink(logr.Named("audit")))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	validate := validator.New()

	sessionRepo := repository.NewSessionRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	deviceRepo := repository.NewDeviceHistoryRepository(db, cfg.Engine.DeviceHistoryRetention)

	geofence := service.NewGeofenceEvaluator(cfg.Engine)
	device := service.NewDeviceValidator(cfg.Engine)
	temporal := service.NewTemporalValidator(cfg.Engine)
	aggregator := service.NewRiskAggregator(cfg.Engine)

	sessionSvc := service.NewSessionService(sessionRepo, dispatcher, cfg.Engine, validate, logr.Named("sessions"))
	checkinSvc := service.NewCheckinService(sessionRepo, recordRepo, deviceRepo,
		geofence, device, temporal, aggregator, dispatcher, metricsSvc, validate, logr.Named("checkins"))
	alertSvc := service.NewAlertService(alertRepo, dispatcher, logr.Named("alerts"))
	tokenSvc := service.NewTokenService(cfg.JWT)

	sessionHandler := handler.NewSessionHandler(sessionSvc)
	checkinHandler := handler.NewCheckinHandler(checkinSvc)
	alertHandler := handler.NewAlertHandler(alertSvc)
	systemHandler := handler.NewSystemHandler(db, redisClient, metricsSvc, hub.Stats)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.EnableJsonDecoderDisallowUnknownFields()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", systemHandler.Health)
	r.GET("/ready", systemHandler.Ready)
	r.GET("/metrics", systemHandler.Metrics)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))
	{
		staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", staff, sessionHandler.Create)
			sessions.GET("", staff, sessionHandler.List)
			sessions.GET("/:id", sessionHandler.Get)
			sessions.POST("/:id/transition", staff, sessionHandler.Transition)
			sessions.POST("/:id/checkins",
				middleware.RateLimit(redisClient, cfg.RateLimit),
				checkinHandler.Submit)
			sessions.GET("/:id/records", staff, checkinHandler.Records)
		}

		alerts := api.Group("/alerts", staff)
		{
			alerts.GET("", alertHandler.List)
			alerts.GET("/:id", alertHandler.Get)
			alerts.POST("/:id/transition", alertHandler.Transition)
			alerts.GET("/:id/audit", alertHandler.Audit)
		}

		api.GET("/system/snapshot", staff, systemHandler.Snapshot)

		if cfg.Realtime.Enabled {
			api.GET("/ws", func(c *gin.Context) {
				hub.HandleWebSocket(c.Writer, c.Request)
			})
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
