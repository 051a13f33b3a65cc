package handler

import (
	"net/http"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/gin-gonic/gin"
)

// writeFault maps a classified fault to an HTTP response carrying the stable
// machine code, so callers can tell configuration problems from transient
// upstream weather from permanent logical errors.
func writeFault(c *gin.Context, err error) {
	f := domain.FaultFrom(err)

	var status int
	switch f.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindConfig, domain.KindInternal:
		status = http.StatusInternalServerError
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	default:
		// Network, upstream HTTP and upstream application errors all mean the
		// backing services misbehaved, not this one.
		status = http.StatusBadGateway
	}

	body := gin.H{"error": f.Message}
	if f.Code != "" {
		body["code"] = f.Code
	}
	c.JSON(status, body)
}
