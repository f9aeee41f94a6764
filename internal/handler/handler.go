package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/monitor"
	"water-order-bot/internal/orders"
)

// SchedulerController starts, stops and inspects the reconciliation scheduler.
type SchedulerController interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (monitor.PassResult, error)
	GetNextRun() time.Time
	GetLastRun() time.Time
	LastResult() monitor.PassResult
}

// UpdateHandler consumes chat updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store         orders.Store
	scheduler     SchedulerController
	bot           UpdateHandler
	webhookSecret string
	log           logrus.FieldLogger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(store orders.Store, scheduler SchedulerController, bot UpdateHandler, webhookSecret string, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		store:         store,
		scheduler:     scheduler,
		bot:           bot,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// SetupRoutes sets up all HTTP routes. The webhook gets its own middleware
// chain so it can be rate limited separately.
func (h *Handlers) SetupRoutes(router *gin.Engine, webhookMiddleware ...gin.HandlerFunc) {
	router.GET("/", h.Index)
	router.GET("/healthz", h.HealthCheck)
	router.POST(WebhookPath, append(webhookMiddleware, h.TelegramWebhook)...)

	api := router.Group("/api/v1")
	{
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.DELETE("/orders/:id", h.CompleteOrder)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// Index returns the service banner
func (h *Handlers) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "water-order-bot",
		"status":  "running",
	})
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Store:     "ok",
		Scheduler: make(map[string]string),
	}

	if h.store.Degraded() {
		response.Store = "degraded"
	} else if n, err := h.store.Count(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Store = "error"
		h.log.WithError(err).Error("Store health check failed")
	} else {
		response.PendingOrders = n
	}

	if h.scheduler.IsRunning() {
		response.Scheduler["state"] = "running"
		response.Scheduler["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Scheduler["state"] = "stopped"
	}
	if last := h.scheduler.GetLastRun(); !last.IsZero() {
		response.Scheduler["last_run"] = last.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
