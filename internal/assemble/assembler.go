package assemble

import (
	"log"
	"strings"
	"sync"
	"time"

	"dresscode/internal/capture"
	"dresscode/internal/classify"
	"dresscode/internal/config"
)

// Similarity weights. Category matches are exact; the description is compared
// as text.
const (
	topWeight         = 0.3
	bottomWeight      = 0.3
	descriptionWeight = 0.4
)

// ClassifiedImage is one captured crop plus its classification result,
// flowing from the classification stage into the assembler.
type ClassifiedImage struct {
	IdentityID int
	Kind       capture.ImageKind
	FrameIndex int
	PoseType   capture.PoseType
	Image      []byte
	Result     classify.Result
}

// Record is the terminal per-identity artifact. Immutable once persisted.
type Record struct {
	PersonID            int       `json:"person_id"`
	TopClothing         string    `json:"top_clothing"`
	BottomClothing      string    `json:"bottom_clothing"`
	Description         string    `json:"description"`
	SimilarityScore     float64   `json:"similarity_score"`
	LastFrameTop        string    `json:"last_frame_top"`
	LastFrameBottom     string    `json:"last_frame_bottom"`
	Violation           bool      `json:"violation"`
	ViolationCategories []string  `json:"violation_categories"`
	FirstFrameIndex     int       `json:"first_frame_index"`
	LastFrameIndex      int       `json:"last_frame_index"`
	FirstPose           string    `json:"first_pose"`
	LastPose            string    `json:"last_pose"`
	CreatedAt           time.Time `json:"created_at"`
}

// pairState holds the first classified image while waiting for the last.
type pairState struct {
	first ClassifiedImage
	has   bool
}

// Assembler pairs first/last classifications per identity and turns them into
// verified records. Pairs whose similarity falls below the threshold are
// dropped as unreliable tracks rather than written.
type Assembler struct {
	cfg     config.RunConfig
	pending map[int]*pairState

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts assembler outcomes over a run.
type Stats struct {
	RecordsAssembled int
	PairsDropped     int
	SweepRecords     int
}

// New creates an assembler.
func New(cfg config.RunConfig) *Assembler {
	return &Assembler{
		cfg:     cfg,
		pending: make(map[int]*pairState),
	}
}

// Add consumes one classified image. When it completes a first/last pair that
// passes the similarity gate, the finished record is returned; otherwise nil.
func (a *Assembler) Add(img ClassifiedImage) *Record {
	state, ok := a.pending[img.IdentityID]
	if !ok {
		state = &pairState{}
		a.pending[img.IdentityID] = state
	}

	if img.Kind == capture.ImageFirst {
		state.first = img
		state.has = true
		return nil
	}

	if !state.has {
		// Last without a first can only mean the first was lost upstream.
		// Treat the lone image as the first so the sweep still covers it.
		log.Printf("[Assembler] Identity %d got last image with no first, keeping it for the sweep", img.IdentityID)
		state.first = img
		state.has = true
		return nil
	}

	first := state.first
	delete(a.pending, img.IdentityID)

	score := similarityScore(first.Result, img.Result)
	if score < a.cfg.SimilarityThreshold {
		log.Printf("[Assembler] Identity %d dropped (similarity %.1f < %.1f)",
			img.IdentityID, score, a.cfg.SimilarityThreshold)
		a.count(func(s *Stats) { s.PairsDropped++ })
		return nil
	}

	record := a.buildRecord(first, score)
	record.LastFrameTop = img.Result.TopClothing
	record.LastFrameBottom = img.Result.BottomClothing
	record.LastFrameIndex = img.FrameIndex
	record.LastPose = string(img.PoseType)

	a.count(func(s *Stats) { s.RecordsAssembled++ })
	return record
}

// Sweep produces fallback records for identities still holding a single image
// at end of stream. These carry a zero similarity score and unknown last-frame
// fields so downstream review can tell them apart.
func (a *Assembler) Sweep() []*Record {
	var out []*Record
	for id, state := range a.pending {
		if !state.has {
			continue
		}
		record := a.buildRecord(state.first, 0)
		record.LastFrameTop = "unknown"
		record.LastFrameBottom = "unknown"
		record.LastFrameIndex = state.first.FrameIndex
		record.LastPose = string(state.first.PoseType)
		out = append(out, record)
		a.count(func(s *Stats) { s.SweepRecords++ })

		log.Printf("[Assembler] Identity %d swept with single image", id)
	}
	a.pending = make(map[int]*pairState)
	return out
}

// buildRecord fills the first-frame fields and the violation verdict, which
// always uses the first sighting as source of truth.
func (a *Assembler) buildRecord(first ClassifiedImage, score float64) *Record {
	violation, categories := determineViolation(first.Result)
	return &Record{
		PersonID:            first.IdentityID,
		TopClothing:         first.Result.TopClothing,
		BottomClothing:      first.Result.BottomClothing,
		Description:         first.Result.Description,
		SimilarityScore:     score,
		Violation:           violation,
		ViolationCategories: categories,
		FirstFrameIndex:     first.FrameIndex,
		FirstPose:           string(first.PoseType),
		CreatedAt:           time.Now().UTC(),
	}
}

// similarityScore combines exact category matches with textual description
// similarity, scaled to 0-100.
func similarityScore(first, last classify.Result) float64 {
	score := 0.0
	if normalizeCategory(first.TopClothing) == normalizeCategory(last.TopClothing) {
		score += topWeight
	}
	if normalizeCategory(first.BottomClothing) == normalizeCategory(last.BottomClothing) {
		score += bottomWeight
	}
	score += descriptionWeight * textRatio(first.Description, last.Description)
	return score * 100
}

// determineViolation checks the dress code against the first-frame
// classification. Sleeveless top variants all report as "sleeveless".
func determineViolation(result classify.Result) (bool, []string) {
	var categories []string

	switch normalizeCategory(result.BottomClothing) {
	case "shorts":
		categories = append(categories, "shorts")
	case "shorts skirt", "shorts-skirt":
		categories = append(categories, "shorts skirt")
	}

	switch normalizeCategory(result.TopClothing) {
	case "sleeveless", "sleeveless top", "sleeveless t":
		categories = append(categories, "sleeveless")
	}

	return len(categories) > 0, categories
}

func normalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (a *Assembler) count(fn func(*Stats)) {
	a.statsMu.Lock()
	fn(&a.stats)
	a.statsMu.Unlock()
}

// Stats returns a copy of the assembler counters.
func (a *Assembler) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}
