package detect

import (
	"context"

	"dresscode/internal/geometry"
)

// NumKeypoints is the COCO pose keypoint count.
const NumKeypoints = 17

// COCO keypoint indices used for pose quality checks.
const (
	KeypointLeftHip    = 11
	KeypointRightHip   = 12
	KeypointLeftKnee   = 13
	KeypointRightKnee  = 14
	KeypointLeftAnkle  = 15
	KeypointRightAnkle = 16
)

// Keypoint is a single pose keypoint in pixel coordinates with a visibility
// confidence.
type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Conf float64 `json:"conf"`
}

// ZeroKeypoints returns an all-zero keypoint set. Detections without usable
// pose data carry this placeholder instead of being dropped, so downstream
// pose logic stays total.
func ZeroKeypoints() []Keypoint {
	return make([]Keypoint, NumKeypoints)
}

// Detection is one tracked person returned by the detection model for a
// single frame.
type Detection struct {
	TrackID    int           `json:"track_id"`
	BBox       geometry.BBox `json:"bbox"`
	Confidence float64       `json:"confidence"`
	Keypoints  []Keypoint    `json:"keypoints"`
}

// Detector is the black-box detection+tracking capability. Implementations
// wrap an external model service; the pipeline only depends on this contract.
type Detector interface {
	// Detect runs person detection and tracking on a JPEG frame.
	Detect(ctx context.Context, frame []byte) ([]Detection, error)

	// IsHealthy reports whether the backing service is operational.
	IsHealthy() bool

	// Close releases detector resources.
	Close() error
}
