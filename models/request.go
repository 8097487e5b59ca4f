package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const (
	// DefaultLevel is used when a request omits the skill level.
	DefaultLevel = 1500

	// DefaultNodes is used when a request omits the node budget.
	DefaultNodes = 1
)

// MoveRequest is the payload for POST /api/v1/move.
//
// Level and Nodes are kept raw so that a non-integer value (e.g. 1.5 or
// "abc") reaches the pipeline as an invalid budget or level instead of
// failing JSON binding before the position has been checked.
type MoveRequest struct {
	// FEN is the position to play from. Required (or Position).
	FEN string `json:"fen"`

	// Position is accepted as an alias for FEN.
	Position string `json:"position,omitempty"`

	// Level is the Maia skill level (1100-1900). Default: 1500.
	Level json.RawMessage `json:"level,omitempty"`

	// Nodes is the search node budget (1-10000). Default: 1.
	Nodes json.RawMessage `json:"nodes,omitempty"`

	// NodeBudget is accepted as an alias for Nodes.
	NodeBudget json.RawMessage `json:"nodeBudget,omitempty"`
}

// Board returns the FEN string, preferring the fen field over its alias.
func (r *MoveRequest) Board() string {
	if r.FEN != "" {
		return r.FEN
	}
	return r.Position
}

// LevelValue returns the requested level, DefaultLevel when omitted, or 0
// when the value is not an integer.
func (r *MoveRequest) LevelValue() int {
	return rawInt(r.Level, DefaultLevel)
}

// NodesValue returns the requested node budget, DefaultNodes when omitted,
// or 0 when the value is not an integer.
func (r *MoveRequest) NodesValue() int {
	raw := r.Nodes
	if isAbsent(raw) {
		raw = r.NodeBudget
	}
	return rawInt(raw, DefaultNodes)
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func rawInt(raw json.RawMessage, fallback int) int {
	if isAbsent(raw) {
		return fallback
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return 0
	}
	return n
}
