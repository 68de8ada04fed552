// Package index implements the Semantic Index: the single source of truth
// for identifiers and chunk storage, layering embedding on top of the
// Persistent Store's transactional chunk operations.
package index

import (
	"context"
	"fmt"

	"lucid/internal/embedding"
	"lucid/internal/ids"
	"lucid/internal/logging"
	"lucid/internal/store"
	"lucid/internal/token"
)

// Index is the single source of truth for identifiers and chunk storage.
type Index struct {
	store    *store.Store
	embedder embedding.Engine
}

// New constructs an Index atop an already-open store and embedding engine.
func New(s *store.Store, embedder embedding.Engine) *Index {
	return &Index{store: s, embedder: embedder}
}

// ReserveIDs allocates a user/assistant turn id pair and a position range
// of length n. See store.Store.ReserveIDs for the transactional contract.
func (idx *Index) ReserveIDs(n int) (store.Reservation, error) {
	return idx.store.ReserveIDs(n)
}

// WriteChunk embeds the chunk's text (if not already embedded) and persists
// it. Ids must already be reserved; the unique key cannot conflict in
// normal operation.
func (idx *Index) WriteChunk(ctx context.Context, c *token.Chunk) (int64, error) {
	if len(c.Embedding) == 0 {
		vec, err := idx.embedder.Embed(ctx, c.Text())
		if err != nil {
			return 0, fmt.Errorf("index: embedding chunk %s: %w", c.Key, err)
		}
		c.Embedding = vec
		c.Model = idx.embedder.ModelTag()
	}
	return idx.store.WriteChunk(c)
}

// Query embeds text and returns the topK most similar non-deleted,
// embedded chunks, descending by similarity, ties broken by recency.
func (idx *Index) Query(ctx context.Context, text string, topK int) ([]store.ScoredChunk, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Query")
	defer timer.Stop()

	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("index: embedding query: %w", err)
	}
	return idx.store.Query(vec, topK)
}

// GetChunk looks up a chunk by its compound key, nil if absent.
func (idx *Index) GetChunk(key token.ChunkKey) (*token.Chunk, error) {
	return idx.store.GetChunk(key)
}

// SoftDelete marks a chunk deleted; idempotent.
func (idx *Index) SoftDelete(key token.ChunkKey) error {
	return idx.store.SoftDelete(key)
}

// Undelete re-embeds the chunk's text and clears the deleted flag.
func (idx *Index) Undelete(ctx context.Context, key token.ChunkKey) error {
	c, err := idx.store.GetChunk(key)
	if err != nil {
		return fmt.Errorf("index: undelete lookup: %w", err)
	}
	if c == nil {
		return fmt.Errorf("index: undelete: chunk %s not found", key)
	}
	vec, err := idx.embedder.Embed(ctx, c.Text())
	if err != nil {
		return fmt.Errorf("index: undelete: re-embedding %s: %w", key, err)
	}
	return idx.store.Undelete(key, vec, idx.embedder.ModelTag())
}

// ReEmbedAll re-embeds every non-deleted, embedded chunk with the current
// embedder, tagging the new model. Returns the number of chunks updated.
func (idx *Index) ReEmbedAll(ctx context.Context) (int, error) {
	return idx.store.ReEmbedAll(idx.embedder.ModelTag(), func(text string) ([]float32, error) {
		return idx.embedder.Embed(ctx, text)
	})
}

// TokensByPositions resolves positions back to tokens for window restore.
func (idx *Index) TokensByPositions(positions []ids.Position) ([]token.Token, error) {
	return idx.store.TokensByPositions(positions)
}
