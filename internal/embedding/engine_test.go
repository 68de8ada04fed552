package embedding

import (
	"context"
	"math"
	"testing"

	"lucid/internal/config"
)

func TestFakeEmbedIsDeterministicAndUnitNorm(t *testing.T) {
	f := NewFake(16)
	a, err := f.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := f.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differed at index %d: %v != %v", i, a[i], b[i])
		}
	}

	var sumSquares float64
	for _, x := range a {
		sumSquares += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sumSquares)-1) > 1e-5 {
		t.Errorf("expected unit norm, got %v", math.Sqrt(sumSquares))
	}
}

func TestFakeEmbedDiffersForDifferentText(t *testing.T) {
	f := NewFake(16)
	a, _ := f.Embed(context.Background(), "alpha")
	b, _ := f.Embed(context.Background(), "omega")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different texts to embed to different vectors")
	}
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	sim, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(sim-1) > 1e-9 {
		t.Errorf("expected similarity 1, got %v", sim)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestTruncateClipsLongText(t *testing.T) {
	long := make([]rune, maxInputRunes+500)
	for i := range long {
		long[i] = 'a'
	}
	out := truncate(string(long))
	if len([]rune(out)) != maxInputRunes {
		t.Errorf("expected truncated length %d, got %d", maxInputRunes, len([]rune(out)))
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewGenAIRequiresAPIKey(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "genai", Dim: 8})
	if err == nil {
		t.Fatal("expected error when genai api key is missing")
	}
}

func TestChunkStringsSplitsIntoBoundedBatches(t *testing.T) {
	texts := make([]string, 250)
	batches := chunkStrings(texts, 100)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 100 || len(batches[2]) != 50 {
		t.Errorf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}
