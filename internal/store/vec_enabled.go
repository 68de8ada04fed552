//go:build sqlite_vec && cgo

package store

import (
	"database/sql"
	"fmt"
	"sort"

	"lucid/internal/logging"
)

// initVecIndex attempts to create the vec0 virtual table; on success, vec
// is set and subsequent writes/queries route through the ANN index.
func (s *Store) initVecIndex(dim int) {
	if dim <= 0 {
		return
	}
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d])`, dim)
	if _, err := s.db.Exec(stmt); err != nil {
		logging.StoreWarn("sqlite-vec index unavailable, falling back to brute-force query: %v", err)
		return
	}
	s.vec = true
	logging.Store("sqlite-vec index initialized (dim=%d)", dim)
}

// queryVec performs ANN cosine search via the vec0 virtual table, then
// loads each candidate chunk by id and re-checks Searchable() since
// vec_index rows are not guaranteed pruned synchronously with soft_delete.
// Candidates are re-sorted in Go by similarity descending, ties broken by
// more recent timestamp, matching queryBruteForce's ordering exactly —
// vec_distance_cosine's own ASC order alone doesn't break ties that way.
func (s *Store) queryVec(queryEmbedding []float32, topK int) ([]ScoredChunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "queryVec")
	defer timer.Stop()

	overscan := topK * 4

	s.mu.Lock()
	rows, err := s.db.Query(
		`SELECT rowid, vec_distance_cosine(embedding, ?) AS dist FROM vec_index ORDER BY dist ASC LIMIT ?`,
		encodeVector(queryEmbedding), overscan,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: sqlite-vec query: %w", err)
	}

	type hit struct {
		id   int64
		dist float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.dist); err != nil {
			rows.Close()
			return nil, err
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var scored []ScoredChunk
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hits {
		row := s.db.QueryRow(`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, h.id)
		c, err := s.scanChunk(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !c.Searchable() {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Similarity: 1 - h.dist})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Chunk.Timestamp.After(scored[j].Chunk.Timestamp)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
