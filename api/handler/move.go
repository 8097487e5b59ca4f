package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/maia/cache"
	"github.com/use-agent/maia/engine"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/models"
)

// requestIDKey is the gin context key set by the request-id middleware.
const requestIDKey = "request_id"

// Predictor is the prediction pipeline served by the handlers.
// *engine.Predictor implements it.
type Predictor interface {
	Predict(ctx context.Context, fen string, level, nodes int) (*engine.Prediction, error)
	Summary() metrics.Summary
}

// Move returns a handler for POST /api/v1/move (and the legacy /get_move).
//
// Flow:
//  1. Bind the body; level and nodes default when omitted.
//  2. Serve from the response cache when the same (fen, level, nodes)
//     was answered by a native engine before.
//  3. Predictor.Predict, which validates in a fixed order and runs the search.
//  4. Cache native results, fill timing, return 200.
func Move(p Predictor, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.MoveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.MoveResponse{
				Success:   false,
				RequestID: c.GetString(requestIDKey),
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		resp, status := predictOne(c.Request.Context(), p, cc, req.Board(), req.LevelValue(), req.NodesValue())
		resp.RequestID = c.GetString(requestIDKey)
		c.JSON(status, resp)
	}
}

// predictOne answers a single position, consulting cc first. It returns the
// response body and its HTTP status.
func predictOne(ctx context.Context, p Predictor, cc *cache.Cache, fen string, level, nodes int) (*models.MoveResponse, int) {
	totalStart := time.Now()

	var cacheKey string
	if cc != nil {
		cacheKey = cache.Key(fen, level, nodes)
		if cached, hit := cc.Get(cacheKey); hit {
			cached.CacheStatus = "hit"
			cached.EngineCache = ""
			cached.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
			return cached, http.StatusOK
		}
	}

	pred, err := p.Predict(ctx, fen, level, nodes)
	if err != nil {
		return errorResponse(err, level, nodes, models.TimingInfo{
			TotalMs: time.Since(totalStart).Milliseconds(),
		})
	}

	resp := &models.MoveResponse{
		Success:     true,
		Move:        pred.Move,
		Level:       pred.Level,
		Nodes:       pred.Nodes,
		EngineKind:  string(pred.Kind),
		EngineCache: "miss",
		Timing: models.TimingInfo{
			TotalMs:  time.Since(totalStart).Milliseconds(),
			SearchMs: pred.Search.Milliseconds(),
		},
	}
	if pred.CacheHit {
		resp.EngineCache = "hit"
	} else {
		resp.Timing.ConstructionMs = pred.Construction.Milliseconds()
	}

	// Fallback moves are random; only deterministic native answers are reused.
	if cc != nil && pred.Kind == engine.KindNative {
		cc.Set(cacheKey, resp)
		resp.CacheStatus = "miss"
	}
	return resp, http.StatusOK
}

// errorResponse builds the failure body for err and picks its status.
func errorResponse(err error, level, nodes int, timing models.TimingInfo) (*models.MoveResponse, int) {
	predictErr := asPredictError(err)
	return &models.MoveResponse{
		Success: false,
		Level:   level,
		Nodes:   nodes,
		Timing:  timing,
		Error:   predictErr.ToDetail(),
	}, mapErrorToStatus(predictErr)
}

func asPredictError(err error) *models.PredictError {
	var pe *models.PredictError
	if errors.As(err, &pe) {
		return pe
	}
	return models.NewPredictError(models.ErrCodeInternal, err.Error(), err)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.PredictError) int {
	switch e.Code {
	case models.ErrCodeInvalidPosition,
		models.ErrCodeNoLegalMoves,
		models.ErrCodeInvalidNodeBudget,
		models.ErrCodeInvalidLevel,
		models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeModelNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeEngineInit:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeEngineBackend, models.ErrCodeNoMoveProduced:
		return http.StatusBadGateway // 502
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
