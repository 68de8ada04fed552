package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"lucid/internal/ids"
	"lucid/internal/logging"
	"lucid/internal/token"
)

// serializedToken is the on-disk representation of one token inside a
// chunk's tokens_json column.
type serializedToken struct {
	Position   string `json:"position"`
	TokenID    int    `json:"token_id"`
	Text       string `json:"text"`
	SentenceID int    `json:"sentence_id"`
}

func encodeTokens(tokens []token.Token) (string, error) {
	out := make([]serializedToken, len(tokens))
	for i, t := range tokens {
		out[i] = serializedToken{
			Position:   t.Position.String(),
			TokenID:    t.TokenID,
			Text:       t.Text,
			SentenceID: t.SentenceID,
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTokens(raw string, turnID ids.TurnID, role token.Role) ([]token.Token, error) {
	var serialized []serializedToken
	if err := json.Unmarshal([]byte(raw), &serialized); err != nil {
		return nil, err
	}
	out := make([]token.Token, len(serialized))
	for i, st := range serialized {
		pos, err := ids.ParsePosition(st.Position)
		if err != nil {
			return nil, err
		}
		out[i] = token.Token{
			Position:   pos,
			TokenID:    st.TokenID,
			Text:       st.Text,
			TurnID:     turnID,
			SentenceID: st.SentenceID,
			Role:       role,
		}
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeVector(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	out := make([]float32, len(raw)/4)
	_ = binary.Read(bytes.NewReader(raw), binary.LittleEndian, &out)
	return out
}

// WriteChunk stores a chunk whose ids were previously reserved. Because ids
// are reserved upfront, the (turn_id, sentence_id, role) unique key cannot
// conflict in normal operation.
func (s *Store) WriteChunk(c *token.Chunk) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "WriteChunk")
	defer timer.Stop()

	tokensJSON, err := encodeTokens(c.Tokens)
	if err != nil {
		return 0, fmt.Errorf("store: encoding tokens: %w", err)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: beginning write_chunk transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO chunks (turn_id, sentence_id, role, tokens_json, min_position, max_position, token_count, embedding, model, timestamp, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.Key.TurnID.String(), c.Key.SentenceID, string(c.Key.Role),
		tokensJSON, c.MinPosition.SortKey(), c.MaxPosition.SortKey(), c.TokenCount,
		vectorOrNil(c.Embedding), c.Model, c.Timestamp,
	)
	if err != nil {
		logging.StoreError("write_chunk failed for key %s: %v", c.Key, err)
		return 0, fmt.Errorf("store: writing chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: reading chunk id: %w", err)
	}

	if s.vec && len(c.Embedding) > 0 {
		if _, err := tx.Exec(
			`INSERT INTO vec_index(rowid, embedding) VALUES (?, ?)`,
			id, encodeVector(c.Embedding),
		); err != nil {
			logging.StoreWarn("vec_index insert failed for chunk %d: %v", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: committing write_chunk: %w", err)
	}
	c.ID = id
	return id, nil
}

func vectorOrNil(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return encodeVector(v)
}

func (s *Store) scanChunk(row interface {
	Scan(dest ...interface{}) error
}) (*token.Chunk, error) {
	var (
		id                               int64
		turnIDStr, role, tokensJSON      string
		minPosStr, maxPosStr             string
		tokenCount                       int
		embedding                        []byte
		model                            sql.NullString
		ts                               time.Time
		deleted                          bool
		deletedAt                        sql.NullTime
		sentenceID                       int
	)
	if err := row.Scan(&id, &turnIDStr, &sentenceID, &role, &tokensJSON, &minPosStr, &maxPosStr, &tokenCount, &embedding, &model, &ts, &deleted, &deletedAt); err != nil {
		return nil, err
	}

	turnID, err := ids.ParseTurnID(turnIDStr)
	if err != nil {
		return nil, err
	}
	minPos, err := ids.ParsePosition(minPosStr)
	if err != nil {
		return nil, err
	}
	maxPos, err := ids.ParsePosition(maxPosStr)
	if err != nil {
		return nil, err
	}
	tokens, err := decodeTokens(tokensJSON, turnID, token.Role(role))
	if err != nil {
		return nil, err
	}

	c := &token.Chunk{
		ID:          id,
		Key:         token.ChunkKey{TurnID: turnID, SentenceID: sentenceID, Role: token.Role(role)},
		Tokens:      tokens,
		MinPosition: minPos,
		MaxPosition: maxPos,
		TokenCount:  tokenCount,
		Embedding:   decodeVector(embedding),
		Model:       model.String,
		Timestamp:   ts,
		Deleted:     deleted,
	}
	if deletedAt.Valid {
		c.DeletedAt = deletedAt.Time
	}
	return c, nil
}

const chunkColumns = "id, turn_id, sentence_id, role, tokens_json, min_position, max_position, token_count, embedding, model, timestamp, deleted, deleted_at"

// GetChunk looks up a chunk by its unique compound key.
func (s *Store) GetChunk(key token.ChunkKey) (*token.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT `+chunkColumns+` FROM chunks WHERE turn_id = ? AND sentence_id = ? AND role = ?`,
		key.TurnID.String(), key.SentenceID, string(key.Role),
	)
	c, err := s.scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// SoftDelete marks a chunk deleted: its embedding is cleared so it never
// surfaces in Query again, but it remains reachable by GetChunk. Idempotent.
func (s *Store) SoftDelete(key token.ChunkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(
		`SELECT id FROM chunks WHERE turn_id = ? AND sentence_id = ? AND role = ?`,
		key.TurnID.String(), key.SentenceID, string(key.Role),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: soft_delete lookup: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE chunks SET embedding = NULL, deleted = 1, deleted_at = ? WHERE id = ?`,
		time.Now(), id,
	); err != nil {
		return fmt.Errorf("store: soft_delete update: %w", err)
	}
	if s.vec {
		if _, err := tx.Exec(`DELETE FROM vec_index WHERE rowid = ?`, id); err != nil {
			logging.StoreWarn("vec_index delete failed for chunk %d: %v", id, err)
		}
	}
	return tx.Commit()
}

// Undelete clears the deleted flag and stores a freshly computed embedding,
// restoring the chunk to Query results. Allowed at any time.
func (s *Store) Undelete(key token.ChunkKey, embedding []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(
		`SELECT id FROM chunks WHERE turn_id = ? AND sentence_id = ? AND role = ?`,
		key.TurnID.String(), key.SentenceID, string(key.Role),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: undelete: chunk %s not found", key)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE chunks SET embedding = ?, model = ?, deleted = 0, deleted_at = NULL WHERE id = ?`,
		encodeVector(embedding), model, id,
	); err != nil {
		return fmt.Errorf("store: undelete update: %w", err)
	}
	if s.vec {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO vec_index(rowid, embedding) VALUES (?, ?)`,
			id, encodeVector(embedding),
		); err != nil {
			logging.StoreWarn("vec_index upsert failed for chunk %d: %v", id, err)
		}
	}
	return tx.Commit()
}

// ScoredChunk pairs a chunk with its similarity score from Query.
type ScoredChunk struct {
	Chunk      *token.Chunk
	Similarity float64
}

// Query returns the topK non-deleted, embedded chunks most similar to
// queryEmbedding by cosine similarity, descending, ties broken by more
// recent timestamp. Uses the sqlite-vec ANN index when available, falling
// back to a brute-force scan otherwise — both honor the same contract.
func (s *Store) Query(queryEmbedding []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 10
	}
	if s.vec {
		return s.queryVec(queryEmbedding, topK)
	}
	return s.queryBruteForce(queryEmbedding, topK)
}

func (s *Store) queryBruteForce(queryEmbedding []float32, topK int) ([]ScoredChunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "queryBruteForce")
	defer timer.Stop()

	s.mu.Lock()
	rows, err := s.db.Query(`SELECT ` + chunkColumns + ` FROM chunks WHERE deleted = 0 AND embedding IS NOT NULL`)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: query scan: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning chunk: %w", err)
		}
		if !c.Searchable() {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Similarity: cosineSimilarity(queryEmbedding, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ReEmbedAll iterates every non-deleted, embedded chunk and replaces its
// vector using embed, tagging it with modelTag. Safe to interleave with
// reads; callers must not run two re_embed_all passes concurrently.
func (s *Store) ReEmbedAll(modelTag string, embed func(text string) ([]float32, error)) (int, error) {
	s.mu.Lock()
	rows, err := s.db.Query(`SELECT id, tokens_json, turn_id, sentence_id, role FROM chunks WHERE deleted = 0 AND embedding IS NOT NULL`)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("store: re_embed_all scan: %w", err)
	}

	type target struct {
		id         int64
		turnID     ids.TurnID
		sentenceID int
		role       token.Role
		tokensJSON string
	}
	var targets []target
	for rows.Next() {
		var t target
		var turnIDStr, role string
		if err := rows.Scan(&t.id, &t.tokensJSON, &turnIDStr, &t.sentenceID, &role); err != nil {
			rows.Close()
			return 0, err
		}
		turnID, err := ids.ParseTurnID(turnIDStr)
		if err != nil {
			rows.Close()
			return 0, err
		}
		t.turnID = turnID
		t.role = token.Role(role)
		targets = append(targets, t)
	}
	rows.Close()

	count := 0
	for _, t := range targets {
		tokens, err := decodeTokens(t.tokensJSON, t.turnID, t.role)
		if err != nil {
			return count, err
		}
		c, err := token.NewChunk(tokens)
		if err != nil {
			return count, err
		}
		vec, err := embed(c.Text())
		if err != nil {
			logging.StoreWarn("re_embed_all: embedding chunk %d failed: %v", t.id, err)
			continue
		}

		s.mu.Lock()
		tx, err := s.db.Begin()
		if err == nil {
			_, err = tx.Exec(`UPDATE chunks SET embedding = ?, model = ? WHERE id = ?`, encodeVector(vec), modelTag, t.id)
			if err == nil && s.vec {
				_, err = tx.Exec(`INSERT OR REPLACE INTO vec_index(rowid, embedding) VALUES (?, ?)`, t.id, encodeVector(vec))
			}
			if err == nil {
				err = tx.Commit()
			} else {
				tx.Rollback()
			}
		}
		s.mu.Unlock()
		if err != nil {
			return count, fmt.Errorf("store: re_embed_all update chunk %d: %w", t.id, err)
		}
		count++
	}
	return count, nil
}

// TokensByPositions finds every token at one of the given positions by
// locating chunks whose [min_position, max_position] overlaps the
// positions' span and filtering per-token. Returns tokens sorted by
// position. Complexity scales with the active set, not the corpus, because
// the span query uses the min/max position indices.
func (s *Store) TokensByPositions(positions []ids.Position) ([]token.Token, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	lo, hi := positions[0], positions[0]
	want := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Less(lo) {
			lo = p
		}
		if hi.Less(p) {
			hi = p
		}
		want[p.String()] = true
	}

	s.mu.Lock()
	rows, err := s.db.Query(
		`SELECT `+chunkColumns+` FROM chunks WHERE max_position >= ? AND min_position <= ?`,
		lo.SortKey(), hi.SortKey(),
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: tokens_by_positions scan: %w", err)
	}
	defer rows.Close()

	var out []token.Token
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		for _, t := range c.Tokens {
			if want[t.Position.String()] {
				out = append(out, t)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Position.Less(out[j].Position) })
	return out, nil
}
