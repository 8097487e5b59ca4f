package middleware

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/maia/models"
)

// RequestIDContextKey is where RequestLog stores the request id.
const RequestIDContextKey = "request_id"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Counters counts served requests and those answered with a status >= 400.
type Counters struct {
	total  atomic.Int64
	errors atomic.Int64
}

// Snapshot returns the current counts.
func (c *Counters) Snapshot() models.RequestCounters {
	return models.RequestCounters{Total: c.total.Load(), Errors: c.errors.Load()}
}

// RequestLog assigns each request an id (reusing a client-supplied
// X-Request-ID), logs its completion with slog and updates counters.
func RequestLog(counters *Counters) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDContextKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		counters.total.Add(1)
		level := slog.LevelInfo
		if status >= 400 {
			counters.errors.Add(1)
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "request completed",
			"requestId", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"elapsed", time.Since(start),
			"clientIp", c.ClientIP(),
		)
	}
}
