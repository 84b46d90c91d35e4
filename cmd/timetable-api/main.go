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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable-api/api/swagger"
	"github.com/noah-isme/sma-timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/notify"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
)

// @title SMA Timetable API
// @version 0.1.0
// @description Timetable placement, lab scheduling and reconciled timetable views
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres unavailable", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		redisClient = client
		defer redisClient.Close()
	}

	feed, err := notify.New(cfg.Notifications, redisClient, logger.Component(logr, "notify"))
	if err != nil {
		logr.Sugar().Fatalw("change feed unavailable", "driver", cfg.Notifications.Driver, "error", err)
	}
	defer feed.Close()

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logger.Component(logr, "cache"))
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.LabScheduler.CacheTTL, logger.Component(logr, "cache"), redisClient != nil)

	timetableRepo := repository.NewTimetableRepository(db)
	slotRepo := repository.NewTimeSlotRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	lessonRepo := repository.NewLessonRepository(db)

	lessonSvc := service.NewLessonService(timetableRepo, slotRepo, subjectRepo, lessonRepo, feed, metricsSvc, validator.New(), logger.Component(logr, "lessons"))

	labSvc := service.NewLabScheduleService(
		service.LabScheduleSources{
			Subjects:    subjectRepo,
			Classes:     repository.NewClassRepository(db),
			Batches:     repository.NewBatchRepository(db),
			Teachers:    repository.NewTeacherRepository(db),
			Rooms:       repository.NewRoomRepository(db),
			Slots:       slotRepo,
			Assignments: repository.NewClassSubjectRepository(db),
		},
		repository.NewLabScheduleRepository(db),
		service.RoundRobinLabScheduler{},
		cacheSvc,
		metricsSvc,
		logger.Component(logr, "lab-scheduler"),
		service.LabScheduleConfig{
			Enabled:     cfg.LabScheduler.Enabled,
			QueueBuffer: cfg.LabScheduler.QueueBuffer,
			CacheTTL:    cfg.LabScheduler.CacheTTL,
		},
	)

	viewSvc := service.NewTimetableViewService(timetableRepo, slotRepo, subjectRepo, feed, service.ReconcilerConfig{
		RefreshInterval: cfg.Reconciler.RefreshInterval,
		Debounce:        cfg.Reconciler.Debounce,
		InboxSize:       cfg.Reconciler.InboxSize,
		RefreshTimeout:  cfg.Reconciler.RefreshTimeout,
		IdleTimeout:     cfg.Reconciler.IdleTimeout,
	}, metricsSvc, logger.Component(logr, "views"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := viewSvc.Start(ctx); err != nil {
		logr.Sugar().Fatalw("failed to subscribe change feed", "error", err)
	}
	defer viewSvc.Close()
	labSvc.Start(ctx)
	defer labSvc.Stop()

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Handlers{
		Lessons:      handler.NewLessonHandler(lessonSvc),
		Timetables:   handler.NewTimetableHandler(viewSvc),
		LabSchedules: handler.NewLabScheduleHandler(labSvc),
		AuditLogger:  logger.Component(logr, "audit"),
	}.RegisterRoutes(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "notify_driver", cfg.Notifications.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
