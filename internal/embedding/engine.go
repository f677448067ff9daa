// Package embedding provides vector embedding generation for episodic recall.
// Supports multiple backends: Ollama (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"sovereign/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama", "genai" or "none"
	Provider string

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
}

// NewEngine creates an embedding engine based on configuration. A "none"
// provider returns (nil, nil): callers fall back to keyword search.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "", "none":
		logging.Embedding("embedding disabled (provider=none)")
		return nil, nil
	case "ollama":
		logging.Embedding("creating ollama engine: endpoint=%s model=%s", cfg.OllamaEndpoint, cfg.OllamaModel)
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	case "genai":
		logging.Embedding("creating genai engine: model=%s", cfg.GenAIModel)
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai' or 'none')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// SimilarityResult pairs a corpus index with its similarity to a query.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// TopK returns the k corpus entries most similar to the query, best first.
// Entries whose dimensions do not match the query are skipped.
func TopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	if skipped > 0 {
		logging.Get(logging.CategoryEmbedding).Warn("TopK: skipped %d vectors due to dimension mismatch", skipped)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Index < results[j].Index
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
