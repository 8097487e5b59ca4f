package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/models"
)

// StatusResponse is the response for GET /api/v1/status: the metrics
// summary plus service-level counters.
type StatusResponse struct {
	metrics.Summary
	Requests    models.RequestCounters   `json:"requests"`
	Environment models.EnvironmentReport `json:"environment"`
	Uptime      string                   `json:"uptime"`
	Version     string                   `json:"version"`
}

// Status returns a handler for GET /api/v1/status.
func Status(p Predictor, requests func() models.RequestCounters, env models.EnvironmentReport, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := StatusResponse{
			Summary:     p.Summary(),
			Environment: env,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Version:     Version,
		}
		if requests != nil {
			resp.Requests = requests()
		}
		c.JSON(http.StatusOK, resp)
	}
}
