package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sovereign/internal/embedding"
	"sovereign/internal/logging"
)

// Episode is one persisted episodic record. Never mutated; never deleted
// except via explicit Wipe.
type Episode struct {
	SessionID  string
	Seq        int64
	Content    string
	CreatedAt  time.Time
	Similarity float64 // populated on recall
}

// NextSeq returns the next monotonically increasing sequence number for the
// session.
func (s *Store) NextSeq(sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) FROM episodes WHERE session_id = ?", sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return max + 1, nil
}

// AppendEpisode persists one episodic record, embedding its content when an
// engine is configured. The embedding is stored as JSON alongside the text so
// recall never needs to re-embed the corpus.
func (s *Store) AppendEpisode(ctx context.Context, sessionID string, seq int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var embJSON interface{}
	if s.engine != nil {
		vec, err := s.engine.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to embed episode: %w", err)
		}
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		embJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO episodes (session_id, seq, content, embedding) VALUES (?, ?, ?, ?)",
		sessionID, seq, content, embJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	logging.MemoryDebug("episode stored (session=%s seq=%d)", sessionID, seq)
	return nil
}

// Recall returns the top-K episodes most similar to the query. With an
// embedding engine this is cosine similarity over stored embeddings; without
// one it degrades to a keyword LIKE search. Empty result sets are fine.
func (s *Store) Recall(ctx context.Context, query string, k int) ([]Episode, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Recall")
	defer timer.Stop()

	if k <= 0 {
		k = 3
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.engine == nil {
		return s.recallKeyword(ctx, query, k)
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, seq, content, embedding, created_at FROM episodes WHERE embedding IS NOT NULL",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	var corpus [][]float32
	for rows.Next() {
		var ep Episode
		var embJSON string
		if err := rows.Scan(&ep.SessionID, &ep.Seq, &ep.Content, &embJSON, &ep.CreatedAt); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		episodes = append(episodes, ep)
		corpus = append(corpus, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan episodes: %w", err)
	}

	results := embedding.TopK(queryVec, corpus, k)
	out := make([]Episode, 0, len(results))
	for _, r := range results {
		ep := episodes[r.Index]
		ep.Similarity = r.Similarity
		out = append(out, ep)
	}
	return out, nil
}

// recallKeyword is the fallback search when no embedding engine is set.
func (s *Store) recallKeyword(ctx context.Context, query string, k int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, seq, content, created_at FROM episodes WHERE content LIKE ? ORDER BY id DESC LIMIT ?",
		"%"+query+"%", k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(&ep.SessionID, &ep.Seq, &ep.Content, &ep.CreatedAt); err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// EpisodeCount returns the number of stored episodes.
func (s *Store) EpisodeCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM episodes").Scan(&n)
	return n, err
}

// Wipe deletes all episodic records. This is an explicit administrative
// operation, never part of normal turn processing.
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM episodes"); err != nil {
		return fmt.Errorf("failed to wipe episodes: %w", err)
	}
	logging.Memory("episodic store wiped")
	return nil
}
