package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// HTTPDetector talks to the person/pose model service over HTTP.
// The service accepts a JPEG frame as multipart form data and returns
// detections with tracker IDs and pose keypoints.
type HTTPDetector struct {
	endpoint   string
	client     *http.Client
	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// detectResponse is the service's wire format.
type detectResponse struct {
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
}

// NewHTTPDetector creates a detector client for the given service endpoint.
func NewHTTPDetector(endpoint string) *HTTPDetector {
	return &HTTPDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Detect uploads the frame and decodes the detection response. Detections
// lacking keypoints get an all-zero placeholder set.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write frame data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect/track", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.setHealthy(false)
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detection service returned %d: %s", resp.StatusCode, string(body))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	for i := range result.Detections {
		if len(result.Detections[i].Keypoints) == 0 {
			result.Detections[i].Keypoints = ZeroKeypoints()
		}
	}

	d.setHealthy(true)
	return result.Detections, nil
}

// IsHealthy checks service health, caching the result for 30 seconds.
func (d *HTTPDetector) IsHealthy() bool {
	d.mu.RLock()
	if time.Since(d.lastHealth) < 30*time.Second {
		healthy := d.healthy
		d.mu.RUnlock()
		return healthy
	}
	d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("[Detector] Health check failed: %v", err)
		d.setHealthy(false)
		return false
	}
	resp.Body.Close()

	d.setHealthy(resp.StatusCode == http.StatusOK)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.healthy
}

func (d *HTTPDetector) setHealthy(healthy bool) {
	d.mu.Lock()
	d.healthy = healthy
	d.lastHealth = time.Now()
	d.mu.Unlock()
}

// Close is a no-op for the HTTP client.
func (d *HTTPDetector) Close() error {
	return nil
}

// Ensure HTTPDetector implements Detector
var _ Detector = (*HTTPDetector)(nil)
