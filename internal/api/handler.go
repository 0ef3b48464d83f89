package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const maxEventBytes = 64 << 10

// TriggerCycle handles POST /v1/cycles. The request body is passed through as the event payload.
func (h *Handler) TriggerCycle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cycleTimeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest, "unreadable request body")
		return
	}
	var event json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "event must be valid JSON",
				"request_id": c.GetString(RequestIDContextKey),
			})
			return
		}
		event = body
	}

	resp := h.invoker.Invoke(ctx, event)
	switch {
	case resp.Error != "":
		c.JSON(http.StatusBadGateway, resp)
	case resp.Result != nil && resp.Result.Skipped:
		c.JSON(http.StatusConflict, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// HealthCheck handles GET /health requests.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	})
}

func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	h.logger.Error().Err(err).
		Str("request_id", requestID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status_code", statusCode).
		Msg("api error")

	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestID,
	})
}
