package models

import (
	"errors"
	"fmt"
)

// Error codes returned by the prediction pipeline.
const (
	ErrCodeInvalidPosition   = "INVALID_POSITION"
	ErrCodeNoLegalMoves      = "NO_LEGAL_MOVES"
	ErrCodeInvalidNodeBudget = "INVALID_NODE_BUDGET"
	ErrCodeInvalidLevel      = "INVALID_LEVEL"
	ErrCodeModelNotFound     = "MODEL_NOT_FOUND"
	ErrCodeEngineInit        = "ENGINE_INIT_ERROR"
	ErrCodeEngineBackend     = "ENGINE_BACKEND_ERROR"
	ErrCodeNoMoveProduced    = "NO_MOVE_PRODUCED"

	// Service-level codes used by the HTTP layer.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PredictError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type PredictError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *PredictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PredictError) Unwrap() error {
	return e.Err
}

// NewPredictError creates a new PredictError.
func NewPredictError(code, message string, err error) *PredictError {
	return &PredictError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *PredictError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// ErrorCode returns the code of the first PredictError in err's chain,
// or ErrCodeInternal when there is none.
func ErrorCode(err error) string {
	var pe *PredictError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}
