package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/gin-gonic/gin"
)

type cycler interface {
	RollWindow(ctx context.Context, old domain.AutopilotRecord, oldBody domain.WindowPayload) error
	SeedInitialWindow(ctx context.Context, old domain.AutopilotRecord, oldBody domain.WindowPayload) error
}

// WebhookHandler receives the scheduler's callbacks. The request body is the
// exact payload registered at trigger-creation time.
type WebhookHandler struct {
	autopilot cycler
	logger    *slog.Logger
}

func NewWebhookHandler(autopilot cycler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{autopilot: autopilot, logger: logger.With("component", "webhook_handler")}
}

// POST /webhooks/features-apply
func (h *WebhookHandler) FeaturesApply(c *gin.Context) {
	var payload domain.TriggerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.autopilot.RollWindow(c.Request.Context(), payload.Autopilot, payload.Body); err != nil {
		h.logger.Error("roll window", "user_id", payload.Body.UserID, "error", err)
		writeFault(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /webhooks/schedule-assist-seed
func (h *WebhookHandler) ScheduleAssistSeed(c *gin.Context) {
	var payload domain.TriggerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.autopilot.SeedInitialWindow(c.Request.Context(), payload.Autopilot, payload.Body); err != nil {
		h.logger.Error("seed initial window", "user_id", payload.Body.UserID, "error", err)
		writeFault(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
