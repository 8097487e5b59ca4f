package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/maia/cache"
	"github.com/use-agent/maia/models"
	"github.com/use-agent/maia/webhook"
)

// batchConcurrency bounds the searches one batch runs at a time.
const batchConcurrency = 4

// batchTTL is how long finished jobs stay retrievable.
const batchTTL = time.Hour

// BatchStore holds in-flight and completed batch jobs. Jobs older than an
// hour are dropped whenever a new job is stored.
type BatchStore struct {
	mu   sync.Mutex
	jobs map[string]*models.BatchJob
	now  func() time.Time
}

// NewBatchStore creates an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{jobs: make(map[string]*models.BatchJob), now: time.Now}
}

func (s *BatchStore) add(job *models.BatchJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-batchTTL).Unix()
	for id, j := range s.jobs {
		if j.CreatedAt < cutoff {
			delete(s.jobs, id)
		}
	}
	s.jobs[job.ID] = job
}

// snapshot copies the job so it can be serialized while workers update it.
func (s *BatchStore) snapshot(id string) (models.BatchStatusResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.BatchStatusResponse{}, false
	}
	return models.BatchStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Completed: job.Completed,
		Total:     job.Total,
		Results:   append([]*models.MoveResponse(nil), job.Results...),
	}, true
}

func (s *BatchStore) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// PostBatch returns a handler for POST /api/v1/batch/move. It creates a job
// and predicts every position in the background. A nil notifier disables
// webhook delivery.
func PostBatch(p Predictor, cc *cache.Cache, store *BatchStore, notifier *webhook.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		job := &models.BatchJob{
			ID:        "batch-" + uuid.NewString(),
			Status:    "processing",
			Total:     len(req.Positions),
			Results:   make([]*models.MoveResponse, len(req.Positions)),
			CreatedAt: time.Now().Unix(),
		}
		store.add(job)
		accepted := models.BatchResponse{ID: job.ID, Status: job.Status, Total: job.Total}

		// The request context ends with this response; the batch outlives it.
		go func() {
			runBatch(context.WithoutCancel(c.Request.Context()), p, cc, store, job, req)
			if notifier != nil && req.WebhookURL != "" {
				notifyBatch(notifier, store, job.ID, req)
			}
		}()

		c.JSON(http.StatusAccepted, accepted)
	}
}

// GetBatch returns a handler for GET /api/v1/batch/:id.
func GetBatch(store *BatchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, ok := store.snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "batch job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// runBatch predicts every position with concurrency limited by a semaphore.
func runBatch(ctx context.Context, p Predictor, cc *cache.Cache, store *BatchStore, job *models.BatchJob, req models.BatchRequest) {
	sem := make(chan struct{}, batchConcurrency)
	level, nodes := req.Options.LevelValue(), req.Options.NodesValue()

	var wg sync.WaitGroup
	failed := 0

	for i, fen := range req.Positions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, _ := predictOne(ctx, p, cc, fen, level, nodes)
			store.update(func() {
				job.Results[i] = resp
				job.Completed++
				if !resp.Success {
					failed++
				}
			})
		}()
	}

	wg.Wait()

	status := "completed"
	switch {
	case failed == job.Total:
		status = "failed"
	case failed > 0:
		status = "partial"
	}
	store.update(func() { job.Status = status })

	slog.Info("batch job finished",
		"id", job.ID,
		"status", status,
		"failed", failed,
		"total", job.Total,
	)
}

// notifyBatch sends the final job state to the request's webhook.
func notifyBatch(n *webhook.Notifier, store *BatchStore, id string, req models.BatchRequest) {
	snap, ok := store.snapshot(id)
	if !ok {
		return
	}
	n.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
		Type:      "batch." + snap.Status,
		JobID:     id,
		Timestamp: time.Now().Unix(),
		Data:      snap,
	})
}
