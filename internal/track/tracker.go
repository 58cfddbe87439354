package track

import (
	"context"
	"fmt"
	"log"
	"sync"

	"dresscode/internal/config"
	"dresscode/internal/detect"
	"dresscode/internal/geometry"
)

// TrackedDetection is one capture-eligible observation of a stable identity.
// Only detections that pass every gate (confidence, zone, tracked-frame
// minimum, not paused) are emitted.
type TrackedDetection struct {
	ExternalID int
	BBox       geometry.BBox
	Keypoints  []detect.Keypoint
	Confidence float64
	FrameIndex int
	Frame      []byte // JPEG bytes of the source frame
}

// trackState is the per-track bookkeeping that survives across frames.
type trackState struct {
	trackedFrames    int
	paused           bool
	pauseFrames      int
	nonOverlapFrames int
	lastBBox         geometry.BBox
}

// Tracker runs detection on sampled frames and maintains track state:
// pause/resume on overlap, stable external identity assignment, and the
// gating that decides which observations flow downstream.
type Tracker struct {
	cfg      config.RunConfig
	detector detect.Detector

	tracks             map[int]*trackState
	internalToExternal map[int]int
	internalLastSeen   map[int]int
	externalIDCounter  int
	frameIndex         int

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts tracker activity over a run.
type Stats struct {
	FramesProcessed   int
	DetectionsEmitted int
	DetectionsSkipped int
	PauseEvents       int
	DetectionFailures int
}

// New creates a tracker backed by the given detector.
func New(cfg config.RunConfig, detector detect.Detector) *Tracker {
	return &Tracker{
		cfg:                cfg,
		detector:           detector,
		tracks:             make(map[int]*trackState),
		internalToExternal: make(map[int]int),
		internalLastSeen:   make(map[int]int),
		externalIDCounter:  1,
	}
}

// Process runs detection on one frame and returns the capture-eligible
// observations. A detection-service failure is per-frame: the error is
// returned for logging and the frame is skipped, never fatal.
func (t *Tracker) Process(ctx context.Context, frameData []byte, frameIndex int) ([]TrackedDetection, error) {
	t.frameIndex++

	detections, err := t.detector.Detect(ctx, frameData)
	if err != nil {
		t.statsMu.Lock()
		t.stats.DetectionFailures++
		t.statsMu.Unlock()
		return nil, fmt.Errorf("detection failed at frame %d: %w", frameIndex, err)
	}

	activeInternal := make(map[int]bool)
	var emitted []TrackedDetection

	for _, det := range detections {
		if det.Confidence < t.cfg.MinConfidence {
			continue
		}
		if !t.cfg.Zones.Entry.Contains(det.BBox.FeetPoint()) {
			continue
		}

		trackID := det.TrackID
		activeInternal[trackID] = true
		t.internalLastSeen[trackID] = t.frameIndex

		externalID := t.externalID(trackID)

		keypoints := det.Keypoints
		if len(keypoints) == 0 {
			keypoints = detect.ZeroKeypoints()
		}

		state, ok := t.tracks[trackID]
		if !ok {
			state = &trackState{}
			t.tracks[trackID] = state
		}

		// Overlap with a strictly higher-confidence track pauses this one.
		// The strict comparison guarantees at most one of a pair pauses.
		if t.overlapsHigherConfidence(det, detections) {
			if !state.paused {
				t.statsMu.Lock()
				t.stats.PauseEvents++
				t.statsMu.Unlock()
			}
			state.paused = true
			state.pauseFrames++
			state.nonOverlapFrames = 0

			if state.pauseFrames == t.cfg.PauseFramesLimit {
				log.Printf("[Tracker] Identity %d paused for %d frames", externalID, state.pauseFrames)
			}
			continue
		}

		if state.paused {
			state.nonOverlapFrames++
			if state.nonOverlapFrames >= t.cfg.ResumeAfterFrames {
				state.paused = false
				state.pauseFrames = 0
				state.nonOverlapFrames = 0
			}
		}

		if state.paused {
			continue
		}

		state.trackedFrames++
		state.lastBBox = det.BBox

		if state.trackedFrames < t.cfg.MinTrackedFrames {
			t.statsMu.Lock()
			t.stats.DetectionsSkipped++
			t.statsMu.Unlock()
			continue
		}

		emitted = append(emitted, TrackedDetection{
			ExternalID: externalID,
			BBox:       det.BBox,
			Keypoints:  keypoints,
			Confidence: det.Confidence,
			FrameIndex: frameIndex,
			Frame:      frameData,
		})
	}

	t.retireStale(activeInternal)

	t.statsMu.Lock()
	t.stats.FramesProcessed++
	t.stats.DetectionsEmitted += len(emitted)
	t.statsMu.Unlock()

	return emitted, nil
}

// externalID returns the stable identity for an internal track, allocating
// the next counter value on first sight. External ids are never reused, even
// after the track retires.
func (t *Tracker) externalID(trackID int) int {
	if id, ok := t.internalToExternal[trackID]; ok {
		return id
	}
	id := t.externalIDCounter
	t.externalIDCounter++
	t.internalToExternal[trackID] = id
	return id
}

// overlapsHigherConfidence reports whether det overlaps another active
// detection with strictly higher confidence beyond the IoU threshold.
func (t *Tracker) overlapsHigherConfidence(det detect.Detection, all []detect.Detection) bool {
	for _, other := range all {
		if other.TrackID == det.TrackID {
			continue
		}
		if geometry.IoU(det.BBox, other.BBox) > t.cfg.OverlapIoU && other.Confidence > det.Confidence {
			return true
		}
	}
	return false
}

// retireStale drops the internal→external binding for tracks unseen beyond
// the retirement window. The external id stays consumed.
func (t *Tracker) retireStale(active map[int]bool) {
	for internal := range t.internalToExternal {
		if active[internal] {
			continue
		}
		lastSeen, ok := t.internalLastSeen[internal]
		if !ok {
			lastSeen = t.frameIndex
		}
		if t.frameIndex-lastSeen > t.cfg.TrackRetireFrames {
			delete(t.internalToExternal, internal)
			delete(t.tracks, internal)
			delete(t.internalLastSeen, internal)
		}
	}
}

// IsPaused reports the pause state of an internal track. Used by tests and
// status reporting.
func (t *Tracker) IsPaused(trackID int) bool {
	if state, ok := t.tracks[trackID]; ok {
		return state.paused
	}
	return false
}

// Stats returns a copy of the tracker counters.
func (t *Tracker) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}
