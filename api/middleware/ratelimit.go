package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/maia/config"
	"github.com/use-agent/maia/models"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an identity's bucket survives without requests.
const limiterIdle = time.Hour

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per identity (API key or client IP).
type Limiter struct {
	cfg config.RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a Limiter and starts its cleanup goroutine, which
// drops buckets idle for an hour every 5 minutes until Stop is called.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		cfg:      cfg,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop(5 * time.Minute)
	return l
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) get(identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[identity]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
		}
		l.limiters[identity] = entry
	}
	entry.lastSeen = l.now()
	return entry.limiter
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-limiterIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// Middleware returns token-bucket rate limiting powered by
// golang.org/x/time/rate. Rejected requests get 429 with Retry-After.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.GetString(APIKeyContextKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		limiter := l.get(identity)
		if !limiter.Allow() {
			if l.cfg.RequestsPerSecond > 0 {
				retry := math.Ceil(1 / l.cfg.RequestsPerSecond)
				c.Header("Retry-After", strconv.Itoa(int(retry)))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.MoveResponse{
				Success:   false,
				RequestID: c.GetString(RequestIDContextKey),
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}
