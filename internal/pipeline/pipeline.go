package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dresscode/internal/assemble"
	"dresscode/internal/capture"
	"dresscode/internal/classify"
	"dresscode/internal/config"
	"dresscode/internal/detect"
	"dresscode/internal/record"
	"dresscode/internal/track"
	"dresscode/internal/video"
)

// joinTimeout bounds shutdown. A stage that does not exit within it after
// cancellation is a fatal shutdown failure, logged rather than ignored.
const joinTimeout = 15 * time.Second

// progressEvery throttles progress events to one per N source frames.
const progressEvery = 30

// sweepBudget bounds the best-effort drain of already-classified results
// after a stop, so captured identities still get their sweep records.
const sweepBudget = 3 * time.Second

// Pipeline wires the five stages through bounded queues and owns the run
// lifecycle: start, pause, stop, end-of-stream sweep, final stats.
type Pipeline struct {
	cfg        config.RunConfig
	detector   detect.Detector
	classifier classify.Classifier
	sink       StatusSink
	openSource func(path string) (video.Source, error)

	paused atomic.Bool
	cancel context.CancelFunc

	mu         sync.Mutex
	framesRead int
	runErr     error
}

// New creates a pipeline for one run. The detector and classifier are owned
// by the caller.
func New(cfg config.RunConfig, detector detect.Detector, classifier classify.Classifier, sink StatusSink) *Pipeline {
	if sink == nil {
		sink = noopSink{}
	}
	return &Pipeline{
		cfg:        cfg,
		detector:   detector,
		classifier: classifier,
		sink:       sink,
		openSource: func(path string) (video.Source, error) { return video.Open(path) },
	}
}

// Run executes the pipeline to completion. It blocks until the stream is
// drained, the context is cancelled, or a fatal error occurs. Only a source
// failure or a stuck shutdown is fatal; per-frame and per-image errors
// degrade and are counted.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	source, err := p.openSource(p.cfg.VideoPath)
	if err != nil {
		p.terminal(StatusFailed, err.Error(), nil)
		return err
	}
	defer source.Close()

	store, err := record.NewStore(p.cfg.OutputDir, p.cfg.VideoPath)
	if err != nil {
		p.terminal(StatusFailed, err.Error(), nil)
		return err
	}

	tracker := track.New(p.cfg, p.detector)
	gate := capture.NewGate(p.cfg)
	assembler := assemble.New(p.cfg)

	frameQ := NewQueue[video.Frame](p.cfg.FrameQueueSize)
	detQ := NewQueue[track.TrackedDetection](p.cfg.DetectionQueueSize)
	cropQ := NewQueue[capture.CapturedImage](p.cfg.CropQueueSize)
	resultQ := NewQueue[assemble.ClassifiedImage](p.cfg.ResultQueueSize)

	p.sink.Publish(Event{Type: EventStatus, Status: StatusRunning})
	log.Printf("[Pipeline] Starting run for %s (stride %d, %d frames)",
		p.cfg.VideoPath, p.cfg.FrameStride, source.TotalFrames())

	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); p.readLoop(ctx, source, frameQ) }()
	go func() { defer wg.Done(); p.trackLoop(ctx, tracker, frameQ, detQ) }()
	go func() { defer wg.Done(); p.captureLoop(ctx, gate, detQ, cropQ) }()
	go func() { defer wg.Done(); p.classifyLoop(ctx, store, cropQ, resultQ) }()
	go func() { defer wg.Done(); p.resultLoop(ctx, assembler, store, resultQ) }()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	joined := true
	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(joinTimeout):
			joined = false
			log.Printf("[Pipeline] FATAL: stages did not exit within %s of cancellation", joinTimeout)
		}
	}

	stats := p.collectStats(source, tracker, gate, assembler, store)

	switch {
	case !joined:
		err := fmt.Errorf("shutdown failed: stages stuck past join timeout")
		p.terminal(StatusFailed, err.Error(), stats)
		return err
	case ctx.Err() != nil:
		p.terminal(StatusStopped, "run stopped", stats)
		return nil
	case p.err() != nil:
		p.terminal(StatusFailed, p.err().Error(), stats)
		return p.err()
	default:
		p.terminal(StatusCompleted, "run completed", stats)
		return nil
	}
}

// Stop cancels the run. Safe to call from another goroutine, including
// before Run has started.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause suspends frame intake. In-flight work drains normally.
func (p *Pipeline) Pause() {
	p.paused.Store(true)
	log.Printf("[Pipeline] Paused")
}

// Resume lifts a pause.
func (p *Pipeline) Resume() {
	p.paused.Store(false)
	log.Printf("[Pipeline] Resumed")
}

// readLoop pulls frames from the source, reports progress, applies the stride
// and feeds the frame queue.
func (p *Pipeline) readLoop(ctx context.Context, source video.Source, out *Queue[video.Frame]) {
	defer out.Close()

	total := source.TotalFrames()
	for {
		if err := p.waitWhilePaused(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		frame, err := source.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.setErr(fmt.Errorf("frame read failed: %w", err))
				log.Printf("[Pipeline] Frame read failed: %v", err)
			}
			return
		}

		p.mu.Lock()
		p.framesRead = frame.Index
		p.mu.Unlock()

		if frame.Index%progressEvery == 0 {
			p.sink.Publish(Event{
				Type:            EventProgress,
				FramesProcessed: frame.Index,
				TotalFrames:     total,
			})
		}

		if (frame.Index-1)%p.cfg.FrameStride != 0 {
			continue
		}

		if err := out.Push(ctx, frame); err != nil {
			return
		}
	}
}

// trackLoop runs detection and tracking on sampled frames and emits
// capture-eligible observations.
func (p *Pipeline) trackLoop(ctx context.Context, tracker *track.Tracker, in *Queue[video.Frame], out *Queue[track.TrackedDetection]) {
	defer out.Close()

	for {
		frame, ok, err := in.Pop(ctx)
		if err != nil {
			return
		}
		if !ok {
			continue
		}

		tracked, err := tracker.Process(ctx, frame.Data, frame.Index)
		if err != nil {
			log.Printf("[Pipeline] %v", err)
			continue
		}

		for _, td := range tracked {
			if err := out.Push(ctx, td); err != nil {
				return
			}
		}
	}
}

// captureLoop feeds observations through the capture gate, then flushes the
// pending last images when the stream ends.
func (p *Pipeline) captureLoop(ctx context.Context, gate *capture.Gate, in *Queue[track.TrackedDetection], out *Queue[capture.CapturedImage]) {
	defer out.Close()

	for {
		td, ok, err := in.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				for _, img := range gate.Flush() {
					if out.Push(ctx, img) != nil {
						return
					}
				}
			}
			return
		}
		if !ok {
			continue
		}

		img, err := gate.Process(td)
		if err != nil {
			log.Printf("[Pipeline] Capture failed for identity %d: %v", td.ExternalID, err)
			continue
		}
		if img == nil {
			continue
		}
		if out.Push(ctx, *img) != nil {
			return
		}
	}
}

// classifyLoop classifies captured crops. Identities already recorded on disk
// skip classification entirely so re-runs spend no quota on them.
func (p *Pipeline) classifyLoop(ctx context.Context, store *record.Store, in *Queue[capture.CapturedImage], out *Queue[assemble.ClassifiedImage]) {
	defer out.Close()

	for {
		img, ok, err := in.Pop(ctx)
		if err != nil {
			return
		}
		if !ok {
			continue
		}

		if store.Exists(img.IdentityID) {
			log.Printf("[Pipeline] Identity %d already recorded, skipping classification", img.IdentityID)
			continue
		}

		result := p.classifier.Classify(ctx, img.Image)
		if ctx.Err() != nil {
			return
		}

		classified := assemble.ClassifiedImage{
			IdentityID: img.IdentityID,
			Kind:       img.Kind,
			FrameIndex: img.FrameIndex,
			PoseType:   img.PoseType,
			Image:      img.Image,
			Result:     result,
		}
		if out.Push(ctx, classified) != nil {
			return
		}
	}
}

// resultLoop owns all disk writes: crops as they arrive, records as pairs
// complete, and the final sweep for single-image identities. The sweep runs
// on both exits: end of stream and cancellation, so a stopped run never
// leaves a captured identity without a record.
func (p *Pipeline) resultLoop(ctx context.Context, assembler *assemble.Assembler, store *record.Store, in *Queue[assemble.ClassifiedImage]) {
	for {
		img, ok, err := in.Pop(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) {
				p.drainResults(assembler, store, in)
			}
			for _, rec := range assembler.Sweep() {
				if err := store.Save(rec); err != nil {
					log.Printf("[Pipeline] %v", err)
				}
			}
			return
		}
		if !ok {
			continue
		}
		p.handleResult(assembler, store, img)
	}
}

// drainResults consumes results already buffered at cancellation time, under
// a detached short-lived context so shutdown stays bounded.
func (p *Pipeline) drainResults(assembler *assemble.Assembler, store *record.Store, in *Queue[assemble.ClassifiedImage]) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepBudget)
	defer cancel()

	for {
		img, ok, err := in.Pop(ctx)
		if err != nil || !ok {
			return
		}
		p.handleResult(assembler, store, img)
	}
}

func (p *Pipeline) handleResult(assembler *assemble.Assembler, store *record.Store, img assemble.ClassifiedImage) {
	if err := store.SaveCrop(img.IdentityID, img.Kind, img.Image); err != nil {
		log.Printf("[Pipeline] Crop save failed for identity %d: %v", img.IdentityID, err)
	}

	rec := assembler.Add(img)
	if rec == nil {
		return
	}
	if err := store.Save(rec); err != nil {
		log.Printf("[Pipeline] %v", err)
	}
}

// waitWhilePaused blocks frame intake while paused, staying responsive to
// cancellation.
func (p *Pipeline) waitWhilePaused(ctx context.Context) error {
	for p.paused.Load() {
		timer := time.NewTimer(200 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (p *Pipeline) collectStats(source video.Source, tracker *track.Tracker, gate *capture.Gate, assembler *assemble.Assembler, store *record.Store) *RunStats {
	p.mu.Lock()
	framesRead := p.framesRead
	p.mu.Unlock()

	stats := &RunStats{
		FramesRead:  framesRead,
		TotalFrames: source.TotalFrames(),
		Tracker:     tracker.Stats(),
		Gate:        gate.Stats(),
		Assembler:   assembler.Stats(),
		Store:       store.Stats(),
	}
	stats.FramesProcessed = stats.Tracker.FramesProcessed
	if c, ok := p.classifier.(*classify.Client); ok {
		stats.Classifier = c.Stats()
	}
	return stats
}

func (p *Pipeline) terminal(status, message string, stats *RunStats) {
	log.Printf("[Pipeline] Run finished: %s (%s)", status, message)
	p.sink.Publish(Event{Type: EventStatus, Status: status, Message: message, Stats: stats})
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	if p.runErr == nil {
		p.runErr = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}
