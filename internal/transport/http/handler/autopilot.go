package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/atomcal/autopilot/internal/usecase"
	"github.com/gin-gonic/gin"
)

// autopilotUsecaser is the subset of AutopilotUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type autopilotUsecaser interface {
	Enable(ctx context.Context, in usecase.EnableInput) (*domain.AutopilotRecord, error)
	Disable(ctx context.Context, id string) error
	Status(ctx context.Context, userID, autopilotID string) (*domain.AutopilotRecord, error)
}

type AutopilotHandler struct {
	autopilot autopilotUsecaser
	logger    *slog.Logger
}

func NewAutopilotHandler(autopilot autopilotUsecaser, logger *slog.Logger) *AutopilotHandler {
	return &AutopilotHandler{autopilot: autopilot, logger: logger.With("component", "autopilot_handler")}
}

type enableRequest struct {
	Timezone        string `json:"timezone" binding:"required"`
	WindowStartDate string `json:"windowStartDate"`
	WindowEndDate   string `json:"windowEndDate"`
}

type autopilotResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ScheduleAt      time.Time `json:"scheduleAt"`
	Timezone        string    `json:"timezone"`
	WindowStartDate string    `json:"windowStartDate"`
	WindowEndDate   string    `json:"windowEndDate"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toResponse(r *domain.AutopilotRecord) autopilotResponse {
	return autopilotResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		ScheduleAt:      r.ScheduleAt,
		Timezone:        r.Timezone,
		WindowStartDate: r.Payload.WindowStartDate,
		WindowEndDate:   r.Payload.WindowEndDate,
		UpdatedAt:       r.UpdatedAt,
	}
}

// POST /v1/autopilot
func (h *AutopilotHandler) Enable(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	record, err := h.autopilot.Enable(c.Request.Context(), usecase.EnableInput{
		UserID:          userID,
		Timezone:        req.Timezone,
		WindowStartDate: req.WindowStartDate,
		WindowEndDate:   req.WindowEndDate,
	})
	if err != nil {
		h.logger.Error("enable autopilot", "user_id", userID, "error", err)
		writeFault(c, err)
		return
	}

	c.JSON(http.StatusCreated, toResponse(record))
}

// DELETE /v1/autopilot/:id
func (h *AutopilotHandler) Disable(c *gin.Context) {
	id := c.Param("id")

	if err := h.autopilot.Disable(c.Request.Context(), id); err != nil {
		h.logger.Error("disable autopilot", "autopilot_id", id, "error", err)
		writeFault(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /v1/autopilot?id=<optional>
func (h *AutopilotHandler) Status(c *gin.Context) {
	userID := c.GetString("userID")

	record, err := h.autopilot.Status(c.Request.Context(), userID, c.Query("id"))
	if err != nil {
		if errors.Is(err, domain.ErrAutopilotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Autopilot not found"})
			return
		}
		h.logger.Error("autopilot status", "user_id", userID, "error", err)
		writeFault(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponse(record))
}
