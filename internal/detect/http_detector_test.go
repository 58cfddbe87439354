package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect/track" {
			t.Errorf("path = %s, want /detect/track", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("expected multipart form: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{{
				"track_id":   3,
				"bbox":       map[string]float64{"x1": 10, "y1": 20, "x2": 110, "y2": 220},
				"confidence": 0.87,
			}},
			"count": 1,
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	detections, err := d.Detect(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(detections))
	}

	det := detections[0]
	if det.TrackID != 3 || det.Confidence != 0.87 {
		t.Errorf("unexpected detection: %+v", det)
	}
	if det.BBox.X2 != 110 {
		t.Errorf("bbox.X2 = %f, want 110", det.BBox.X2)
	}
	// Missing keypoints become an all-zero placeholder set
	if len(det.Keypoints) != NumKeypoints {
		t.Errorf("keypoints = %d, want %d", len(det.Keypoints), NumKeypoints)
	}
}

func TestDetectServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	if _, err := d.Detect(context.Background(), []byte("jpeg")); err == nil {
		t.Fatal("5xx should surface as an error")
	}
}

func TestIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	if !d.IsHealthy() {
		t.Error("healthy service reported unhealthy")
	}

	down := NewHTTPDetector("http://127.0.0.1:1")
	if down.IsHealthy() {
		t.Error("unreachable service reported healthy")
	}
}
