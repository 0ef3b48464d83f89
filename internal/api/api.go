package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pricewatch/internal/service"
)

const (
	DefaultCycleTimeout = 60 * time.Second
	ServiceName         = "pricewatch"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// CycleInvoker runs one alert cycle on demand.
type CycleInvoker interface {
	Invoke(ctx context.Context, event json.RawMessage) service.Response
}

// Handler serves the HTTP trigger surface.
type Handler struct {
	invoker      CycleInvoker
	version      string
	cycleTimeout time.Duration
	logger       zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(invoker CycleInvoker, version string, cycleTimeout time.Duration, logger zerolog.Logger) *Handler {
	if cycleTimeout <= 0 {
		cycleTimeout = DefaultCycleTimeout
	}
	return &Handler{
		invoker:      invoker,
		version:      version,
		cycleTimeout: cycleTimeout,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	router.Use(gin.Recovery())

	router.GET("/health", h.HealthCheck)
	v1 := router.Group("/v1")
	v1.POST("/cycles", h.TriggerCycle)

	return router
}
