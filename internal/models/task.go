package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task lifecycle states. Transitions only move forward; the store enforces
// the edges in internal/store.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsStatus reports whether s is a known lifecycle state.
func IsStatus(s string) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress describes how far along a processing task is.
type Progress struct {
	Percent    int    `json:"percent"`
	Message    string `json:"message,omitempty"`
	EtaSeconds *int   `json:"eta_seconds,omitempty"`
}

// Task is one submitted unit of asynchronous work, tracked in memory only.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
	Status     string          `json:"status"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Progress   Progress        `json:"progress"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
