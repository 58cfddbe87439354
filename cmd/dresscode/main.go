package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dresscode/internal/auth"
	"dresscode/internal/classify"
	"dresscode/internal/config"
	"dresscode/internal/detect"
	"dresscode/internal/pipeline"
	"dresscode/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to JSON config file")
		videoPath  = flag.String("video", "", "Video file to process (overrides config)")
		serve      = flag.Bool("serve", false, "Run the job control API instead of a single run")
		addr       = flag.String("addr", ":8080", "Control API listen address")
		hashPass   = flag.String("hash-password", "", "Print a bcrypt hash for AUTH_PASSWORD and exit")
	)
	flag.Parse()

	if *hashPass != "" {
		hash, err := auth.HashPassword(*hashPass)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg.ClassifierAPIKey = os.Getenv("CLASSIFIER_API_KEY")
	}
	if *videoPath != "" {
		cfg.VideoPath = *videoPath
	}

	cache, err := classify.OpenCache(cfg.CachePath)
	if err != nil {
		log.Fatalf("Failed to open classification cache: %v", err)
	}
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serve {
		srv := server.New(cfg, cache)
		if err := srv.ListenAndServe(ctx, *addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	detector := detect.NewHTTPDetector(cfg.DetectorEndpoint)
	defer detector.Close()

	if !detector.IsHealthy() {
		log.Printf("[Main] Warning: detection service at %s is not healthy", cfg.DetectorEndpoint)
	}

	classifier := classify.NewClient(cfg, cache)
	pipe := pipeline.New(cfg, detector, classifier, logSink{})

	if err := pipe.Run(ctx); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// logSink prints pipeline events for single-run mode.
type logSink struct{}

func (logSink) Publish(event pipeline.Event) {
	switch event.Type {
	case pipeline.EventProgress:
		if event.TotalFrames > 0 {
			log.Printf("[Main] Progress: %d/%d frames", event.FramesProcessed, event.TotalFrames)
		} else {
			log.Printf("[Main] Progress: %d frames", event.FramesProcessed)
		}
	case pipeline.EventStatus:
		log.Printf("[Main] Status: %s %s", event.Status, event.Message)
		if event.Stats != nil {
			log.Printf("[Main] Frames %d/%d, identities %d, records written %d, skipped %d, dropped pairs %d, cache hits %d",
				event.Stats.FramesProcessed, event.Stats.TotalFrames,
				event.Stats.Gate.FirstCaptures,
				event.Stats.Store.RecordsWritten, event.Stats.Store.RecordsSkipped,
				event.Stats.Assembler.PairsDropped, event.Stats.Classifier.CacheHits)
		}
	}
}
