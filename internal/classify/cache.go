package classify

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Cache is the durable classification cache, keyed by image content hash.
// It is shared across runs so identical crops never re-invoke the external
// service. The classification client is its only writer.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the cache database.
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	migration := `CREATE TABLE IF NOT EXISTS classification_cache (
		image_hash TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get returns the cached result for an image hash, if present.
func (c *Cache) Get(hash string) (Result, bool, error) {
	var raw string
	err := c.db.QueryRow("SELECT result FROM classification_cache WHERE image_hash = ?", hash).Scan(&raw)
	if err == sql.ErrNoRows {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return result, true, nil
}

// Put stores a result under an image hash. Existing entries are kept as-is.
func (c *Cache) Put(hash string, result Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := `INSERT INTO classification_cache (image_hash, result)
		VALUES (?, ?)
		ON CONFLICT(image_hash) DO NOTHING`
	if _, err := c.db.Exec(query, hash, string(raw)); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Size returns the number of cached entries.
func (c *Cache) Size() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM classification_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count failed: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
