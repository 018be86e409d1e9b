package handler

import (
	"context"
	"net/http"
	"strconv"

	"cleaning-status-filter-go/internal/model"
	"cleaning-status-filter-go/internal/service"
	"cleaning-status-filter-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StatusSource отдает состояние потоков
type StatusSource interface {
	Statuses() []service.StreamStatus
	Status(streamID string) (service.StreamStatus, bool)
}

// DetectorHealth проверяет доступность сервиса модели
type DetectorHealth interface {
	CheckHealth(ctx context.Context) (*models.HealthResponse, error)
}

// TransitionLister читает журнал смен статуса
type TransitionLister interface {
	ListTransitions(ctx context.Context, streamID string, limit int) ([]*model.StatusTransition, error)
}

// StatusHandler обрабатывает HTTP запросы к состоянию стадии
type StatusHandler struct {
	statuses    StatusSource
	detector    DetectorHealth
	transitions TransitionLister
	dbCheck     func() error
	gatherer    prometheus.Gatherer
	logger      *logrus.Logger
}

// NewStatusHandler создает новый экземпляр StatusHandler.
// transitions и dbCheck равны nil, если база данных отключена.
func NewStatusHandler(statuses StatusSource, detector DetectorHealth, transitions TransitionLister, dbCheck func() error, gatherer prometheus.Gatherer, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		statuses:    statuses,
		detector:    detector,
		transitions: transitions,
		dbCheck:     dbCheck,
		gatherer:    gatherer,
		logger:      logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *StatusHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/health", h.CheckHealth)
		api.GET("/status", h.ListStatuses)
		api.GET("/status/:stream_id", h.GetStatus)
		api.GET("/transitions", h.ListTransitions)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// CheckHealth проверяет состояние сервиса модели и базы данных
func (h *StatusHandler) CheckHealth(c *gin.Context) {
	if _, err := h.detector.CheckHealth(c.Request.Context()); err != nil {
		h.logger.Errorf("Сервис модели недоступен: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "Сервис модели недоступен",
		})
		return
	}

	if h.dbCheck != nil {
		if err := h.dbCheck(); err != nil {
			h.logger.Errorf("База данных недоступна: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "База данных недоступна",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "Сервис работает нормально",
	})
}

// ListStatuses возвращает стабильный статус всех потоков; ?status= оставляет только потоки с этим статусом
func (h *StatusHandler) ListStatuses(c *gin.Context) {
	statuses := h.statuses.Statuses()

	if raw := c.Query("status"); raw != "" {
		want, err := service.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный статус, допустимы UP, DOWN, UNKNOWN"})
			return
		}
		filtered := statuses[:0]
		for _, s := range statuses {
			if s.Status == want {
				filtered = append(filtered, s)
			}
		}
		statuses = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": statuses,
		"total":   len(statuses),
	})
}

// GetStatus возвращает стабильный статус одного потока
func (h *StatusHandler) GetStatus(c *gin.Context) {
	streamID := c.Param("stream_id")

	status, ok := h.statuses.Status(streamID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Поток не найден"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListTransitions возвращает журнал смен статуса
func (h *StatusHandler) ListTransitions(c *gin.Context) {
	if h.transitions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Журнал отключен"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultTransitionLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат limit"})
		return
	}
	streamID := c.Query("stream_id")

	transitions, err := h.transitions.ListTransitions(c.Request.Context(), streamID, limit)
	if err != nil {
		h.logger.Errorf("Ошибка получения журнала: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка получения журнала"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transitions": transitions,
		"total":       len(transitions),
	})
}

// CORSMiddleware добавляет заголовки CORS
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
