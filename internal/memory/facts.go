package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"sovereign/internal/logging"
)

// Fact is one long-lived structured fact (user identity, hardware limits,
// persona parameters). Facts are mutated only by explicit administrative
// update, never by inference output.
type Fact struct {
	Name  string
	Value string
}

// SetFact inserts or overwrites a fact.
func (s *Store) SetFact(name, value string) error {
	if name == "" {
		return fmt.Errorf("fact name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO facts (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP) "+
			"ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP",
		name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set fact %q: %w", name, err)
	}
	logging.Memory("fact set: %s", name)
	return nil
}

// GetFact returns one fact value; ok is false when absent.
func (s *Store) GetFact(name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value string
	err := s.db.QueryRow("SELECT value FROM facts WHERE name = ?", name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// FactSnapshot loads every fact into an in-memory map, sorted access via
// SortedFacts. Read at session start and periodically re-injected.
func (s *Store) FactSnapshot() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, value FROM facts")
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			continue
		}
		out[name] = value
	}
	return out, rows.Err()
}

// SortedFacts renders a snapshot as a deterministic ordered slice.
func SortedFacts(snapshot map[string]string) []Fact {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Fact, 0, len(names))
	for _, name := range names {
		out = append(out, Fact{Name: name, Value: snapshot[name]})
	}
	return out
}

// DeleteFact removes a fact. Administrative operation only.
func (s *Store) DeleteFact(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM facts WHERE name = ?", name)
	return err
}
