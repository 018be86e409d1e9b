package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cleaning-status-filter-go/internal/bus"
	"cleaning-status-filter-go/internal/client"
	"cleaning-status-filter-go/internal/config"
	"cleaning-status-filter-go/internal/database"
	"cleaning-status-filter-go/internal/geo"
	"cleaning-status-filter-go/internal/handler"
	"cleaning-status-filter-go/internal/health"
	"cleaning-status-filter-go/internal/metrics"
	"cleaning-status-filter-go/internal/repository"
	"cleaning-status-filter-go/internal/service"
	"cleaning-status-filter-go/internal/stage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	// Инициализируем логгер
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	logger.SetLevel(logLevel(cfg.LogLevel))

	logger.Info("Запуск стадии фильтрации статуса уборки")
	yUp, yDown := cfg.MirrorDetection.Thresholds()
	logger.WithFields(logrus.Fields{
		"streams":         cfg.Redis.StreamIDs,
		"y_up_threshold":  yUp,
		"y_down":          yDown,
		"stable_readings": cfg.MirrorDetection.RequiredStableReadings,
		"interval_s":      cfg.MirrorDetection.IntervalS,
		"database":        cfg.Database.Enabled,
	}).Info("Конфигурация загружена")

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("Стадия остановлена с ошибкой: %v", err)
	}
	logger.Info("Стадия остановлена")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.New(prometheus.DefaultRegisterer)

	// Журнал переключений в базе данных опционален
	var (
		transitions *service.TransitionService
		dbCheck     func() error
		opts        []service.Option
	)
	if cfg.Database.Enabled {
		logger.Info("Подключение к базе данных...")
		if err := database.Connect(cfg.Database); err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return err
		}
		transitions = service.NewTransitionService(repository.NewTransitionRepository(database.DB), logger)
		dbCheck = database.HealthCheck
		opts = append(opts, service.WithRecorder(transitions))
		logger.Info("База данных успешно подключена и готова к работе")
	}

	detector := client.NewDetectorAPIClient(cfg.MirrorDetection.Model, logger)
	if _, err := detector.CheckHealth(ctx); err != nil {
		logger.Warnf("Сервис модели пока недоступен: %v", err)
	}

	gate := geo.NewGate(cfg.ExclusionAreas)
	logger.Infof("Загружено зон без очистки: %d", gate.Len())

	filter, err := service.NewFilter(
		service.NewTrackerConfig(cfg.MirrorDetection),
		cfg.Redis.StreamIDs,
		gate,
		detector,
		collector,
		logger,
		opts...,
	)
	if err != nil {
		return err
	}

	redisClient := bus.NewClient(cfg.Redis.Addr())
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Redis.Addr(), err)
	}

	consumer := bus.NewValkeyConsumer(redisClient, cfg.Redis.InputStreams(), time.Duration(cfg.Redis.BlockMs)*time.Millisecond, logger)
	publisher := bus.NewValkeyPublisher(redisClient, cfg.Redis.MaxStreamLength)

	// HTTP API и метрики
	if cfg.HTTP.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.CORSMiddleware())

	var lister handler.TransitionLister
	if transitions != nil {
		lister = transitions
	}
	handler.NewStatusHandler(filter, detector, lister, dbCheck, prometheus.DefaultGatherer, logger).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("HTTP API доступно по адресу: http://localhost:%d/api/v1", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Ошибка HTTP сервера: %v", err)
		}
	}()

	// gRPC health
	healthServer := health.NewServer(logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", cfg.GRPC.Port, err)
	}
	go func() {
		logger.Infof("gRPC health запущен на порту %d", cfg.GRPC.Port)
		if err := healthServer.Serve(lis); err != nil {
			logger.Errorf("Ошибка gRPC сервера: %v", err)
		}
	}()

	healthServer.SetServing(true)
	runErr := stage.New(consumer, publisher, filter, cfg.Redis, collector, logger).Run(ctx)
	healthServer.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Ошибка остановки HTTP сервера: %v", err)
	}
	healthServer.Stop()

	return runErr
}

// logLevel переводит уровень из настроек в уровень logrus
func logLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}
