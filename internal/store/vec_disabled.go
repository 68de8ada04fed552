//go:build !(sqlite_vec && cgo)

package store

// initVecIndex is a no-op in builds without the sqlite-vec extension;
// Query always falls back to the brute-force scan.
func (s *Store) initVecIndex(dim int) {}

// queryVec is unreachable when s.vec is false, which it always is in this
// build configuration.
func (s *Store) queryVec(queryEmbedding []float32, topK int) ([]ScoredChunk, error) {
	return s.queryBruteForce(queryEmbedding, topK)
}
