package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dresscode/internal/geometry"
)

// Zones holds the configured polygons. The entry zone gates tracking; the
// capture zones gate image capture.
type Zones struct {
	Entry   geometry.Polygon   `json:"entry"`
	Capture []geometry.Polygon `json:"capture"`
}

// RunConfig is the immutable configuration snapshot for one pipeline run.
// It is built once before the pipeline starts; changes take effect on the
// next run, never mid-run.
type RunConfig struct {
	// Source
	VideoPath   string `json:"video_path"`
	FrameStride int    `json:"frame_stride"` // process 1 of every N frames

	// Tracking
	MinConfidence     float64 `json:"min_confidence"`      // detection confidence floor
	OverlapIoU        float64 `json:"overlap_iou"`         // IoU above which overlap pauses a track
	MinTrackedFrames  int     `json:"min_tracked_frames"`  // consecutive qualifying frames before capture
	ResumeAfterFrames int     `json:"resume_after_frames"` // non-overlap frames before a paused track resumes
	TrackRetireFrames int     `json:"track_retire_frames"` // unseen frames before a track binding is retired
	PauseFramesLimit  int     `json:"pause_frames_limit"`  // warn when a track stays paused this long

	// Capture
	KeypointConfidence float64 `json:"keypoint_confidence"` // per-keypoint visibility threshold
	CropPaddingRatio   float64 `json:"crop_padding_ratio"`
	IdentityThreshold  float64 `json:"identity_threshold"` // descriptor cosine similarity floor
	StrictPose         bool    `json:"strict_pose"`        // reject partial_hips poses
	StrictZoneCheck    bool    `json:"strict_zone_check"`  // require center AND feet inside a capture zone

	// Classification
	ClassifierEndpoint string        `json:"classifier_endpoint"`
	ClassifierAPIKey   string        `json:"-"` // from env, never serialized
	RequestsPerMinute  int           `json:"requests_per_minute"`
	MaxRetries         int           `json:"max_retries"`
	RequestTimeout     time.Duration `json:"-"`

	// Detection service
	DetectorEndpoint string `json:"detector_endpoint"`

	// Assembly
	SimilarityThreshold float64 `json:"similarity_threshold"` // percent, records below are dropped

	// Persistence
	OutputDir string `json:"output_dir"`
	CachePath string `json:"cache_path"`

	// Queues
	FrameQueueSize     int `json:"frame_queue_size"`
	DetectionQueueSize int `json:"detection_queue_size"`
	CropQueueSize      int `json:"crop_queue_size"`
	ResultQueueSize    int `json:"result_queue_size"`

	Zones Zones `json:"zones"`
}

// Default returns the baseline configuration. Values mirror what the system
// was tuned with in production.
func Default() RunConfig {
	return RunConfig{
		FrameStride:         5,
		MinConfidence:       0.1,
		OverlapIoU:          0.1,
		MinTrackedFrames:    5,
		ResumeAfterFrames:   3,
		TrackRetireFrames:   20,
		PauseFramesLimit:    30,
		KeypointConfidence:  0.5,
		CropPaddingRatio:    0.1,
		IdentityThreshold:   0.85,
		StrictPose:          true,
		StrictZoneCheck:     true,
		RequestsPerMinute:   15,
		MaxRetries:          5,
		RequestTimeout:      30 * time.Second,
		SimilarityThreshold: 60,
		OutputDir:           "detection_output",
		CachePath:           "processed_data/clothing_cache.db",
		FrameQueueSize:      30,
		DetectionQueueSize:  20,
		CropQueueSize:       50,
		ResultQueueSize:     100,
	}
}

// fileOverrides mirrors RunConfig for JSON loading. Bools are pointers so an
// absent field inherits the default instead of forcing false.
type fileOverrides struct {
	RunConfig
	StrictPose      *bool `json:"strict_pose"`
	StrictZoneCheck *bool `json:"strict_zone_check"`
}

// Load reads a JSON config file and merges it over the defaults. Zero values
// in the file inherit the default.
func Load(path string) (RunConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var file fileOverrides
	if err := json.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.apply(file.RunConfig)
	if file.StrictPose != nil {
		cfg.StrictPose = *file.StrictPose
	}
	if file.StrictZoneCheck != nil {
		cfg.StrictZoneCheck = *file.StrictZoneCheck
	}
	cfg.ClassifierAPIKey = os.Getenv("CLASSIFIER_API_KEY")
	return cfg, nil
}

// apply overlays non-zero file values onto the snapshot.
func (c *RunConfig) apply(o RunConfig) {
	if o.VideoPath != "" {
		c.VideoPath = o.VideoPath
	}
	if o.FrameStride > 0 {
		c.FrameStride = o.FrameStride
	}
	if o.MinConfidence > 0 {
		c.MinConfidence = o.MinConfidence
	}
	if o.OverlapIoU > 0 {
		c.OverlapIoU = o.OverlapIoU
	}
	if o.MinTrackedFrames > 0 {
		c.MinTrackedFrames = o.MinTrackedFrames
	}
	if o.ResumeAfterFrames > 0 {
		c.ResumeAfterFrames = o.ResumeAfterFrames
	}
	if o.TrackRetireFrames > 0 {
		c.TrackRetireFrames = o.TrackRetireFrames
	}
	if o.PauseFramesLimit > 0 {
		c.PauseFramesLimit = o.PauseFramesLimit
	}
	if o.KeypointConfidence > 0 {
		c.KeypointConfidence = o.KeypointConfidence
	}
	if o.CropPaddingRatio > 0 {
		c.CropPaddingRatio = o.CropPaddingRatio
	}
	if o.IdentityThreshold > 0 {
		c.IdentityThreshold = o.IdentityThreshold
	}
	if o.ClassifierEndpoint != "" {
		c.ClassifierEndpoint = o.ClassifierEndpoint
	}
	if o.RequestsPerMinute > 0 {
		c.RequestsPerMinute = o.RequestsPerMinute
	}
	if o.MaxRetries > 0 {
		c.MaxRetries = o.MaxRetries
	}
	if o.DetectorEndpoint != "" {
		c.DetectorEndpoint = o.DetectorEndpoint
	}
	if o.SimilarityThreshold > 0 {
		c.SimilarityThreshold = o.SimilarityThreshold
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.CachePath != "" {
		c.CachePath = o.CachePath
	}
	if o.FrameQueueSize > 0 {
		c.FrameQueueSize = o.FrameQueueSize
	}
	if o.DetectionQueueSize > 0 {
		c.DetectionQueueSize = o.DetectionQueueSize
	}
	if o.CropQueueSize > 0 {
		c.CropQueueSize = o.CropQueueSize
	}
	if o.ResultQueueSize > 0 {
		c.ResultQueueSize = o.ResultQueueSize
	}
	if len(o.Zones.Entry) > 0 {
		c.Zones.Entry = o.Zones.Entry
	}
	if len(o.Zones.Capture) > 0 {
		c.Zones.Capture = o.Zones.Capture
	}
}

// Validate reports configuration errors that would prevent a run from
// starting.
func (c *RunConfig) Validate() error {
	if c.VideoPath == "" {
		return fmt.Errorf("video_path is required")
	}
	if len(c.Zones.Entry) < 3 {
		return fmt.Errorf("entry zone needs at least 3 vertices")
	}
	if c.FrameStride < 1 {
		return fmt.Errorf("frame_stride must be >= 1")
	}
	return nil
}
