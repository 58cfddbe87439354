package track

import (
	"context"
	"testing"

	"dresscode/internal/config"
	"dresscode/internal/detect"
	"dresscode/internal/geometry"
)

// scriptedDetector replays a fixed sequence of per-frame detections.
type scriptedDetector struct {
	frames [][]detect.Detection
	call   int
}

func (d *scriptedDetector) Detect(ctx context.Context, frame []byte) ([]detect.Detection, error) {
	if d.call >= len(d.frames) {
		return nil, nil
	}
	out := d.frames[d.call]
	d.call++
	return out, nil
}

func (d *scriptedDetector) IsHealthy() bool { return true }
func (d *scriptedDetector) Close() error    { return nil }

func testConfig() config.RunConfig {
	cfg := config.Default()
	cfg.MinTrackedFrames = 2
	cfg.ResumeAfterFrames = 3
	cfg.Zones.Entry = geometry.Polygon{
		{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 1000}, {X: 0, Y: 1000},
	}
	return cfg
}

func person(trackID int, bbox geometry.BBox, conf float64) detect.Detection {
	return detect.Detection{TrackID: trackID, BBox: bbox, Confidence: conf}
}

func runFrames(t *testing.T, tr *Tracker, frames int) [][]TrackedDetection {
	t.Helper()
	var all [][]TrackedDetection
	for i := 1; i <= frames; i++ {
		out, err := tr.Process(context.Background(), []byte("frame"), i)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		all = append(all, out)
	}
	return all
}

func TestEmitsAfterMinTrackedFrames(t *testing.T) {
	bbox := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	det := &scriptedDetector{frames: [][]detect.Detection{
		{person(7, bbox, 0.9)},
		{person(7, bbox, 0.9)},
		{person(7, bbox, 0.9)},
	}}
	tr := New(testConfig(), det)

	out := runFrames(t, tr, 3)

	if len(out[0]) != 0 {
		t.Error("first observation should not be emitted yet")
	}
	if len(out[1]) != 1 || len(out[2]) != 1 {
		t.Fatalf("expected emissions from frame 2 on, got %d/%d", len(out[1]), len(out[2]))
	}
	if out[1][0].ExternalID != 1 {
		t.Errorf("external id = %d, want 1", out[1][0].ExternalID)
	}
}

func TestConfidenceFloorAndZoneFilter(t *testing.T) {
	inZone := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	outZone := geometry.BBox{X1: 2000, Y1: 2000, X2: 2100, Y2: 2200}
	det := &scriptedDetector{frames: [][]detect.Detection{
		{person(1, inZone, 0.05), person(2, outZone, 0.9)},
		{person(1, inZone, 0.05), person(2, outZone, 0.9)},
		{person(1, inZone, 0.05), person(2, outZone, 0.9)},
	}}
	tr := New(testConfig(), det)

	for _, out := range runFrames(t, tr, 3) {
		if len(out) != 0 {
			t.Fatalf("low-confidence and out-of-zone detections must not emit, got %d", len(out))
		}
	}
}

func TestOverlapPausesLowerConfidenceOnly(t *testing.T) {
	a := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	b := geometry.BBox{X1: 110, Y1: 110, X2: 210, Y2: 310} // heavy overlap with a
	det := &scriptedDetector{frames: [][]detect.Detection{
		{person(1, a, 0.9), person(2, b, 0.6)},
	}}
	tr := New(testConfig(), det)

	runFrames(t, tr, 1)

	if tr.IsPaused(1) {
		t.Error("higher-confidence track must not pause")
	}
	if !tr.IsPaused(2) {
		t.Error("lower-confidence overlapping track must pause")
	}
}

func TestEqualConfidenceNeverPausesBoth(t *testing.T) {
	a := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	b := geometry.BBox{X1: 110, Y1: 110, X2: 210, Y2: 310}
	det := &scriptedDetector{frames: [][]detect.Detection{
		{person(1, a, 0.8), person(2, b, 0.8)},
	}}
	tr := New(testConfig(), det)

	runFrames(t, tr, 1)

	if tr.IsPaused(1) || tr.IsPaused(2) {
		t.Error("equal-confidence overlap must pause neither track")
	}
}

func TestPausedTrackResumesAfterNonOverlapFrames(t *testing.T) {
	a := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	b := geometry.BBox{X1: 110, Y1: 110, X2: 210, Y2: 310}
	apart := geometry.BBox{X1: 500, Y1: 100, X2: 600, Y2: 300}

	frames := [][]detect.Detection{
		{person(1, a, 0.9), person(2, b, 0.6)}, // overlap: 2 pauses
	}
	// Three clean frames: track 2 resumes on the third
	for i := 0; i < 3; i++ {
		frames = append(frames, []detect.Detection{person(1, a, 0.9), person(2, apart, 0.6)})
	}
	det := &scriptedDetector{frames: frames}
	tr := New(testConfig(), det)

	runFrames(t, tr, 2)
	if !tr.IsPaused(2) {
		t.Fatal("track 2 should still be paused after 1 clean frame")
	}
	runFrames(t, tr, 2)
	if tr.IsPaused(2) {
		t.Error("track 2 should resume after 3 clean frames")
	}
}

func TestExternalIDsStableAndNeverReused(t *testing.T) {
	bbox := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	cfg := testConfig()
	cfg.TrackRetireFrames = 2

	var frames [][]detect.Detection
	// Track 5 seen twice, then gone long enough to retire
	frames = append(frames, []detect.Detection{person(5, bbox, 0.9)})
	frames = append(frames, []detect.Detection{person(5, bbox, 0.9)})
	for i := 0; i < 4; i++ {
		frames = append(frames, nil)
	}
	// Same internal id reappears: must get a fresh external id
	frames = append(frames, []detect.Detection{person(5, bbox, 0.9)})
	frames = append(frames, []detect.Detection{person(5, bbox, 0.9)})

	det := &scriptedDetector{frames: frames}
	tr := New(cfg, det)

	out := runFrames(t, tr, len(frames))

	firstID := out[1][0].ExternalID
	if firstID != 1 {
		t.Errorf("first external id = %d, want 1", firstID)
	}

	last := out[len(out)-1]
	if len(last) != 1 {
		t.Fatalf("expected re-emission at the end, got %d", len(last))
	}
	if last[0].ExternalID == firstID {
		t.Error("retired external id must not be reused")
	}
	if last[0].ExternalID != 2 {
		t.Errorf("second external id = %d, want 2", last[0].ExternalID)
	}
}

func TestStatsCounting(t *testing.T) {
	bbox := geometry.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}
	det := &scriptedDetector{frames: [][]detect.Detection{
		{person(1, bbox, 0.9)},
		{person(1, bbox, 0.9)},
	}}
	tr := New(testConfig(), det)

	runFrames(t, tr, 2)

	stats := tr.Stats()
	if stats.FramesProcessed != 2 {
		t.Errorf("FramesProcessed = %d, want 2", stats.FramesProcessed)
	}
	if stats.DetectionsEmitted != 1 {
		t.Errorf("DetectionsEmitted = %d, want 1", stats.DetectionsEmitted)
	}
	if stats.DetectionsSkipped != 1 {
		t.Errorf("DetectionsSkipped = %d, want 1", stats.DetectionsSkipped)
	}
}
