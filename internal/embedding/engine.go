// Package embedding generates unit-norm vector embeddings for chunk text.
// Two backends are supported: a local Ollama server and Google GenAI.
package embedding

import (
	"context"
	"fmt"
	"math"

	"lucid/internal/config"
	"lucid/internal/logging"
)

// maxInputRunes caps the text handed to an encoder; most embedding models
// are trained on at most a few hundred subwords, so callers truncate rather
// than let the backend silently clip or error.
const maxInputRunes = 2000

// Engine generates vector embeddings for text. Every implementation must
// return an L2-normalized vector of a fixed dimension, deterministic for a
// given model tag.
type Engine interface {
	// Embed returns a unit vector of Dimensions() length for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple texts; backends without a native batch API
	// may fall back to sequential calls.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns D, the fixed vector width.
	Dimensions() int

	// ModelTag identifies the model version, stored on each chunk so
	// re_embed_all can detect which chunks still need migrating.
	ModelTag() string
}

// New constructs the configured embedding backend.
func New(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "New")
	defer timer.Stop()

	switch cfg.Provider {
	case "ollama":
		return newOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dim), nil
	case "genai":
		return newGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dim)
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q (use \"ollama\" or \"genai\")", cfg.Provider)
	}
}

// truncate clips text to the encoder's effective input limit.
func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxInputRunes {
		return text
	}
	return string(r[:maxInputRunes])
}

// normalize scales v to unit L2 norm. A zero vector is returned unchanged —
// callers treat it as a degenerate embedding rather than dividing by zero.
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func resizeToDim(v []float32, dim int) []float32 {
	if dim <= 0 || len(v) == dim {
		return v
	}
	if len(v) > dim {
		return v[:dim]
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// chunkStrings splits texts into batches of at most n, mirroring the
// chunking the GenAI backend needs to stay under its batch request cap.
func chunkStrings(texts []string, n int) [][]string {
	if n <= 0 {
		n = len(texts)
	}
	var out [][]string
	for len(texts) > 0 {
		end := n
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[:end])
		texts = texts[end:]
	}
	return out
}
