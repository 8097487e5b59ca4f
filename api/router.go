package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/maia/api/handler"
	"github.com/use-agent/maia/api/middleware"
	"github.com/use-agent/maia/cache"
	"github.com/use-agent/maia/config"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/models"
	"github.com/use-agent/maia/webhook"
)

// Deps are the components the router serves.
type Deps struct {
	Predictor   handler.Predictor
	Cache       *cache.Cache      // nil disables response caching
	Notifier    *webhook.Notifier // nil disables batch webhooks
	Environment models.EnvironmentReport
	StartTime   time.Time
}

// Router is the configured Gin engine plus the background pieces it owns.
type Router struct {
	*gin.Engine
	limiter *middleware.Limiter
}

// Close stops background goroutines owned by the router.
func (r *Router) Close() {
	r.limiter.Stop()
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → RequestLog → CORS
//	API:     Auth (if enabled) → RateLimit
//
// Health, status and metrics stay outside auth so monitoring checks always work.
func NewRouter(deps Deps, cfg *config.Config) *Router {
	gin.SetMode(cfg.Server.Mode)

	counters := &middleware.Counters{}
	limiter := middleware.NewLimiter(cfg.RateLimit)

	origins := cfg.CORS.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLog(counters))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	health := handler.Health(deps.Environment, deps.StartTime)
	r.GET("/", health)
	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Predictor)))

	v1 := r.Group("/api/v1")
	v1.GET("/health", health)
	v1.GET("/status", handler.Status(deps.Predictor, counters.Snapshot, deps.Environment, deps.StartTime))

	protect := func(g *gin.RouterGroup) {
		if cfg.Auth.Enabled {
			g.Use(middleware.Auth(cfg.Auth.APIKeys))
		}
		g.Use(limiter.Middleware())
	}

	protected := v1.Group("")
	protect(protected)

	move := handler.Move(deps.Predictor, deps.Cache)
	protected.POST("/move", move)

	batches := handler.NewBatchStore()
	protected.POST("/batch/move", handler.PostBatch(deps.Predictor, deps.Cache, batches, deps.Notifier))
	protected.GET("/batch/:id", handler.GetBatch(batches))

	// Legacy path kept for existing clients.
	legacy := r.Group("")
	protect(legacy)
	legacy.POST("/get_move", move)

	return &Router{Engine: r, limiter: limiter}
}

// metricsHandler exposes engine metrics alongside Go runtime metrics on a
// private registry.
func metricsHandler(p handler.Predictor) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewExporter(p.Summary),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
