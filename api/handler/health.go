package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/maia/models"
)

// Version is reported by the health and status endpoints.
const Version = "0.1.0"

// Health returns a handler for GET / and GET /api/v1/health.
//
// Status is "degraded" when lc0 could not be found at startup and moves
// come from the fallback backend.
func Health(env models.EnvironmentReport, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		message := "Maia chess engine service is running"
		if !env.LC0Available {
			status = "degraded"
			message = "lc0 not found, serving fallback moves"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Message: message,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: Version,
		})
	}
}
