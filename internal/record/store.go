package record

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dresscode/internal/assemble"
	"dresscode/internal/capture"
)

// StoredRecord is the on-disk shape: the assembled record plus the review
// flags the dashboard mutates. The pipeline writes these once and never
// touches them again, so the flags survive re-runs.
type StoredRecord struct {
	assemble.Record
	Reviewed bool `json:"reviewed"`
	Rejected bool `json:"rejected"`
}

// Store persists one JSON record and the first/last crops per identity under
// a stable per-video directory. Writes are idempotent: an existing record is
// never overwritten.
type Store struct {
	baseDir string

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts persistence outcomes over a run.
type Stats struct {
	RecordsWritten int
	RecordsSkipped int
	RecordsDropped int
	CropsWritten   int
}

// NewStore creates a store rooted at <outputDir>/<video-basename>.
func NewStore(outputDir, videoPath string) (*Store, error) {
	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	baseDir := filepath.Join(outputDir, name)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// personDir returns the directory for one identity.
func (s *Store) personDir(identityID int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("person_%d", identityID))
}

// recordPath returns the record file path for one identity.
func (s *Store) recordPath(identityID int) string {
	return filepath.Join(s.personDir(identityID), "record.json")
}

// Exists reports whether a record is already persisted for an identity.
func (s *Store) Exists(identityID int) bool {
	_, err := os.Stat(s.recordPath(identityID))
	return err == nil
}

// Save persists a record unless one already exists. A failed write is retried
// once, then the record is dropped and counted.
func (s *Store) Save(record *assemble.Record) error {
	if s.Exists(record.PersonID) {
		log.Printf("[RecordStore] Identity %d already recorded, skipping", record.PersonID)
		s.count(func(st *Stats) { st.RecordsSkipped++ })
		return nil
	}

	stored := StoredRecord{Record: *record}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = s.write(record.PersonID, &stored); lastErr == nil {
			s.count(func(st *Stats) { st.RecordsWritten++ })
			return nil
		}
		log.Printf("[RecordStore] Write failed for identity %d (attempt %d): %v",
			record.PersonID, attempt+1, lastErr)
	}

	s.count(func(st *Stats) { st.RecordsDropped++ })
	return fmt.Errorf("record for identity %d dropped: %w", record.PersonID, lastErr)
}

// write atomically creates the record file, via temp file plus rename.
func (s *Store) write(identityID int, stored *StoredRecord) error {
	dir := s.personDir(identityID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create person dir: %w", err)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tmp := s.recordPath(identityID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp, s.recordPath(identityID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize record: %w", err)
	}
	return nil
}

// SaveCrop persists a first/last crop JPEG for an identity. Crops are written
// as they are captured so a partially-processed identity leaves evidence on
// disk.
func (s *Store) SaveCrop(identityID int, kind capture.ImageKind, image []byte) error {
	dir := s.personDir(identityID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create person dir: %w", err)
	}

	path := filepath.Join(dir, string(kind)+".jpg")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return fmt.Errorf("failed to write crop: %w", err)
	}
	s.count(func(st *Stats) { st.CropsWritten++ })
	return nil
}

// Load reads a persisted record back, review flags included.
func (s *Store) Load(identityID int) (*StoredRecord, error) {
	data, err := os.ReadFile(s.recordPath(identityID))
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	var stored StoredRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &stored, nil
}

func (s *Store) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// Stats returns a copy of the store counters.
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
