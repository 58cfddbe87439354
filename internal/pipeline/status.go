package pipeline

import (
	"dresscode/internal/assemble"
	"dresscode/internal/capture"
	"dresscode/internal/classify"
	"dresscode/internal/record"
	"dresscode/internal/track"
)

// EventType distinguishes live progress from terminal status events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventStatus   EventType = "status"
)

// Run end states carried by terminal status events.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Event is one status update from a running pipeline.
type Event struct {
	Type            EventType `json:"type"`
	FramesProcessed int       `json:"frames_processed,omitempty"`
	TotalFrames     int       `json:"total_frames,omitempty"`
	Status          string    `json:"status,omitempty"`
	Message         string    `json:"message,omitempty"`
	Stats           *RunStats `json:"stats,omitempty"`
}

// StatusSink receives pipeline events. Implementations must not block; slow
// consumers drop events rather than stall the pipeline.
type StatusSink interface {
	Publish(event Event)
}

// noopSink is used when no sink is configured.
type noopSink struct{}

func (noopSink) Publish(Event) {}

// RunStats is the end-of-run summary across all stages.
type RunStats struct {
	FramesRead      int            `json:"frames_read"`
	FramesProcessed int            `json:"frames_processed"`
	TotalFrames     int            `json:"total_frames"`
	Tracker         track.Stats    `json:"tracker"`
	Gate            capture.Stats  `json:"capture_gate"`
	Classifier      classify.Stats `json:"classifier"`
	Assembler       assemble.Stats `json:"assembler"`
	Store           record.Stats   `json:"store"`
}
