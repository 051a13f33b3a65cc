package httptransport

import (
	"log/slog"

	"github.com/atomcal/autopilot/internal/transport/http/handler"
	"github.com/atomcal/autopilot/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, autopilotHandler *handler.AutopilotHandler, webhookHandler *handler.WebhookHandler, jwtKey []byte, apiToken string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	// User-facing routes
	v1 := r.Group("/v1", middleware.Auth(jwtKey))
	v1.POST("/autopilot", autopilotHandler.Enable)
	v1.GET("/autopilot", autopilotHandler.Status)
	v1.DELETE("/autopilot/:id", autopilotHandler.Disable)

	// Scheduler-facing callbacks, authenticated with the credential each
	// trigger was registered with
	webhooks := r.Group("/webhooks", middleware.WebhookAuth(apiToken))
	webhooks.POST("/features-apply", webhookHandler.FeaturesApply)
	webhooks.POST("/schedule-assist-seed", webhookHandler.ScheduleAssistSeed)

	return r
}
