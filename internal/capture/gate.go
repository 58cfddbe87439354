package capture

import (
	"log"
	"sync"

	"dresscode/internal/config"
	"dresscode/internal/detect"
	"dresscode/internal/geometry"
	"dresscode/internal/track"
)

// PoseType is the coarse pose quality classification used to gate capture.
type PoseType string

const (
	PoseFullBody     PoseType = "full_body"
	PosePartialKnees PoseType = "partial_body_knees"
	PosePartialHips  PoseType = "partial_body_hips"
)

// ImageKind marks a captured image as the identity's first or last sighting.
type ImageKind string

const (
	ImageFirst ImageKind = "first"
	ImageLast  ImageKind = "last"
)

// CapturedImage is one representative crop for an identity, emitted to the
// classification stage.
type CapturedImage struct {
	IdentityID int
	Kind       ImageKind
	Image      []byte // JPEG crop
	FrameIndex int
	PoseType   PoseType
}

// captureRecord holds per-identity capture state for the whole stream. The
// gate is its sole writer.
type captureRecord struct {
	firstFeatures  []float64
	firstImage     []byte
	firstFrame     int
	firstPose      PoseType
	lastImage      []byte
	lastFrame      int
	lastPose       PoseType
	lastSimilarity float64
}

// Gate decides, per tracked identity, when to capture a first and last
// representative image. An appearance-descriptor similarity check rejects
// observations that look like tracker identity drift.
type Gate struct {
	cfg     config.RunConfig
	records map[int]*captureRecord

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts gate activity over a run.
type Stats struct {
	FirstCaptures  int
	LastUpdates    int
	DriftRejected  int
	PoseRejected   int
	ZoneRejected   int
	FallbackFirsts int
}

// NewGate creates a capture gate with the run's zone and threshold config.
func NewGate(cfg config.RunConfig) *Gate {
	return &Gate{
		cfg:     cfg,
		records: make(map[int]*captureRecord),
	}
}

// Process evaluates one eligible observation. It returns the identity's
// first image exactly once, on the first qualifying observation; later
// qualifying observations update the pending last-image candidate and return
// nil. Observations failing the zone, pose or identity checks are discarded.
func (g *Gate) Process(td track.TrackedDetection) (*CapturedImage, error) {
	if !g.inCaptureZone(td.BBox) {
		g.count(func(s *Stats) { s.ZoneRejected++ })
		return nil, nil
	}

	poseType := g.classifyPose(td.Keypoints)
	if g.cfg.StrictPose && poseType == PosePartialHips {
		g.count(func(s *Stats) { s.PoseRejected++ })
		return nil, nil
	}

	crop, padded, err := extractCrop(td.Frame, td.BBox, g.cfg.CropPaddingRatio)
	if err != nil {
		return nil, err
	}
	features := extractFeatures(crop, padded, td.Keypoints, g.cfg.KeypointConfidence)

	rec, seen := g.records[td.ExternalID]
	if !seen {
		imageBytes, err := encodeCrop(crop)
		if err != nil {
			return nil, err
		}

		// First sighting: the descriptor becomes the identity reference and
		// the crop is persisted immediately. It also seeds the last-image
		// candidate so every completed identity has both slots filled.
		g.records[td.ExternalID] = &captureRecord{
			firstFeatures:  features,
			firstImage:     imageBytes,
			firstFrame:     td.FrameIndex,
			firstPose:      poseType,
			lastImage:      imageBytes,
			lastFrame:      td.FrameIndex,
			lastPose:       poseType,
			lastSimilarity: 1.0,
		}
		g.count(func(s *Stats) { s.FirstCaptures++ })

		return &CapturedImage{
			IdentityID: td.ExternalID,
			Kind:       ImageFirst,
			Image:      imageBytes,
			FrameIndex: td.FrameIndex,
			PoseType:   poseType,
		}, nil
	}

	similarity := cosineSimilarity(rec.firstFeatures, features)
	if similarity < g.cfg.IdentityThreshold {
		log.Printf("[CaptureGate] Identity %d drift rejected (similarity %.2f < %.2f)",
			td.ExternalID, similarity, g.cfg.IdentityThreshold)
		g.count(func(s *Stats) { s.DriftRejected++ })
		return nil, nil
	}

	imageBytes, err := encodeCrop(crop)
	if err != nil {
		return nil, err
	}

	rec.lastImage = imageBytes
	rec.lastFrame = td.FrameIndex
	rec.lastPose = poseType
	rec.lastSimilarity = similarity
	g.count(func(s *Stats) { s.LastUpdates++ })

	return nil, nil
}

// Flush emits the pending last image for every identity at end of stream.
// An identity whose last candidate no longer matches the reference descriptor
// falls back to re-using the first image, so both slots are always filled.
func (g *Gate) Flush() []CapturedImage {
	var out []CapturedImage
	for id, rec := range g.records {
		img := CapturedImage{
			IdentityID: id,
			Kind:       ImageLast,
			Image:      rec.lastImage,
			FrameIndex: rec.lastFrame,
			PoseType:   rec.lastPose,
		}
		if rec.lastSimilarity < g.cfg.IdentityThreshold {
			log.Printf("[CaptureGate] Identity %d last image failed verification (%.2f), re-using first",
				id, rec.lastSimilarity)
			img.Image = rec.firstImage
			img.FrameIndex = rec.firstFrame
			img.PoseType = rec.firstPose
			g.count(func(s *Stats) { s.FallbackFirsts++ })
		}
		out = append(out, img)
	}

	log.Printf("[CaptureGate] Flushed last images for %d identities", len(out))
	g.records = make(map[int]*captureRecord)
	return out
}

// inCaptureZone checks the configured capture polygons. Strict mode requires
// both the center and the feet point inside one polygon; lenient mode accepts
// any corner. No configured polygons means capture everywhere.
func (g *Gate) inCaptureZone(bbox geometry.BBox) bool {
	if len(g.cfg.Zones.Capture) == 0 {
		return true
	}

	center := bbox.Center()
	feet := bbox.FeetPoint()

	for _, zone := range g.cfg.Zones.Capture {
		if g.cfg.StrictZoneCheck {
			if zone.Contains(center) && zone.Contains(feet) {
				return true
			}
			continue
		}

		points := []geometry.Point{
			center, feet,
			{X: bbox.X1, Y: bbox.Y1}, {X: bbox.X2, Y: bbox.Y1},
			{X: bbox.X1, Y: bbox.Y2}, {X: bbox.X2, Y: bbox.Y2},
		}
		for _, p := range points {
			if zone.Contains(p) {
				return true
			}
		}
	}
	return false
}

// classifyPose ranks keypoint visibility: ankles beat knees beat hips.
// Anything below hips still classifies as partial_body_hips so the type is
// total.
func (g *Gate) classifyPose(keypoints []detect.Keypoint) PoseType {
	valid := validKeypoints(keypoints, g.cfg.KeypointConfidence)

	hasAnkles := false
	hasKnees := false
	for _, kp := range valid {
		switch kp.Index {
		case detect.KeypointLeftAnkle, detect.KeypointRightAnkle:
			hasAnkles = true
		case detect.KeypointLeftKnee, detect.KeypointRightKnee:
			hasKnees = true
		}
	}

	if hasAnkles {
		return PoseFullBody
	}
	if hasKnees {
		return PosePartialKnees
	}
	return PosePartialHips
}

func (g *Gate) count(fn func(*Stats)) {
	g.statsMu.Lock()
	fn(&g.stats)
	g.statsMu.Unlock()
}

// Stats returns a copy of the gate counters.
func (g *Gate) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.stats
}
