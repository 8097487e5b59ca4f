package models

import "encoding/json"

// BatchRequest is the payload for POST /api/v1/batch/move.
type BatchRequest struct {
	// Positions is the list of FEN strings to predict. Required.
	Positions []string `json:"positions" binding:"required,min=1,max=100"`

	// Options contains shared settings applied to all positions.
	Options BatchOptions `json:"options"`

	// WebhookURL receives a signed event when the batch finishes. Optional.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body with HMAC-SHA256. Optional.
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BatchOptions are the shared settings applied to every position in a
// batch. Like MoveRequest, values are kept raw so that out-of-range or
// non-integer settings fail per position in the pipeline.
type BatchOptions struct {
	Level json.RawMessage `json:"level,omitempty"`
	Nodes json.RawMessage `json:"nodes,omitempty"`
}

// LevelValue returns the level, DefaultLevel when omitted, or 0 when the
// value is not an integer.
func (o BatchOptions) LevelValue() int {
	return rawInt(o.Level, DefaultLevel)
}

// NodesValue returns the node budget, DefaultNodes when omitted, or 0 when
// the value is not an integer.
func (o BatchOptions) NodesValue() int {
	return rawInt(o.Nodes, DefaultNodes)
}

// BatchResponse is the immediate response for POST /api/v1/batch/move.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Results   []*MoveResponse `json:"results,omitempty"`
}

// BatchJob tracks an in-progress batch prediction.
type BatchJob struct {
	ID        string
	Status    string // "processing", "completed", "failed", "partial"
	Total     int
	Completed int
	Results   []*MoveResponse
	CreatedAt int64 // unix timestamp
}
