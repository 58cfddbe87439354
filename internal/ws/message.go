package ws

import (
	"time"

	"dresscode/internal/pipeline"
)

// StatusMessage represents a job status broadcast
type StatusMessage struct {
	Type      string         `json:"type"` // "progress" or "status"
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     pipeline.Event `json:"event"`
}
