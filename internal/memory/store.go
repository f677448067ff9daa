package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sovereign/internal/embedding"
	"sovereign/internal/logging"

	_ "modernc.org/sqlite"
)

// Store backs the two durable memory tiers with a single SQLite database:
// the episodic tier (vector-similarity recall) and the semantic fact sheet.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	engine embedding.Engine // optional; nil falls back to keyword recall
}

// NewStore opens (or creates) the SQLite database at the given path.
// Use ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "NewStore")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Memory("store initialized at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	episodeTable := `
	CREATE TABLE IF NOT EXISTS episodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id, seq);
	`

	factTable := `
	CREATE TABLE IF NOT EXISTS facts (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, stmt := range []string{episodeTable, factTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// SetEmbeddingEngine configures the embedding engine. Must be called before
// episodic appends if semantic recall is wanted; nil keeps keyword fallback.
func (s *Store) SetEmbeddingEngine(engine embedding.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
