package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dresscode/internal/pipeline"
)

// StatusHub manages WebSocket connections for live job status streaming
type StatusHub struct {
	// clients maps job_id -> set of connections
	clients map[string]map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewStatusHub creates a new status hub
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register adds a connection for a specific job
func (h *StatusHub) Register(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[jobID] == nil {
		h.clients[jobID] = make(map[*websocket.Conn]bool)
	}
	h.clients[jobID][conn] = true
	fmt.Printf("[WS] Client registered for job %s (total: %d)\n", jobID, len(h.clients[jobID]))
}

// Unregister removes a connection for a specific job
func (h *StatusHub) Unregister(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[jobID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, jobID)
		}
		fmt.Printf("[WS] Client unregistered for job %s\n", jobID)
	}
}

// HasClients returns true if there are any clients connected for a job
func (h *StatusHub) HasClients(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[jobID]
	return ok && len(conns) > 0
}

// Broadcast sends a message to all clients subscribed to a job
func (h *StatusHub) Broadcast(jobID string, message []byte) {
	h.mu.RLock()
	conns := h.clients[jobID]
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	for conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := conn.WriteMessage(websocket.TextMessage, message)
		if err != nil {
			fmt.Printf("[WS] Error sending to client: %v\n", err)
			h.Unregister(jobID, conn)
			conn.Close()
		}
	}
}

// BroadcastEvent sends a pipeline event to job subscribers
func (h *StatusHub) BroadcastEvent(jobID string, event pipeline.Event) {
	if !h.HasClients(jobID) {
		return
	}

	msg := StatusMessage{
		Type:      string(event.Type),
		JobID:     jobID,
		Timestamp: time.Now(),
		Event:     event,
	}
	data, err := json.Marshal(&msg)
	if err != nil {
		fmt.Printf("[WS] Error marshaling status message: %v\n", err)
		return
	}
	h.Broadcast(jobID, data)
}

// JobSink adapts the hub to the pipeline's status sink for one job.
type JobSink struct {
	Hub   *StatusHub
	JobID string
}

// Publish forwards a pipeline event to the job's subscribers.
func (s *JobSink) Publish(event pipeline.Event) {
	s.Hub.BroadcastEvent(s.JobID, event)
}

var _ pipeline.StatusSink = (*JobSink)(nil)
