package store

import (
	"fmt"
	"time"

	"lucid/internal/ids"
	"lucid/internal/token"
)

// ChunkExport is one chunk's JSON representation for the export/import
// round trip: arbitrary-precision ids as decimal strings, embeddings as
// plain float arrays, exactly as spec.md §6 describes.
type ChunkExport struct {
	TurnID      string          `json:"turn_id"`
	SentenceID  int             `json:"sentence_id"`
	Role        string          `json:"role"`
	Tokens      []ExportedToken `json:"tokens"`
	MinPosition string          `json:"min_position"`
	MaxPosition string          `json:"max_position"`
	TokenCount  int             `json:"token_count"`
	Embedding   []float32       `json:"embedding,omitempty"`
	Model       string          `json:"model,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Deleted     bool            `json:"deleted"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// ExportedToken is one token inside a ChunkExport.
type ExportedToken struct {
	Position string `json:"position"`
	TokenID  int    `json:"token_id"`
	Text     string `json:"text"`
}

// CounterExport is the head record of an export: the store's id counter.
type CounterExport struct {
	NextPosition string `json:"next_position"`
	NextTurn     string `json:"next_turn"`
}

func chunkToExport(c *token.Chunk) *ChunkExport {
	out := &ChunkExport{
		TurnID:      c.Key.TurnID.String(),
		SentenceID:  c.Key.SentenceID,
		Role:        string(c.Key.Role),
		Tokens:      make([]ExportedToken, len(c.Tokens)),
		MinPosition: c.MinPosition.String(),
		MaxPosition: c.MaxPosition.String(),
		TokenCount:  c.TokenCount,
		Embedding:   c.Embedding,
		Model:       c.Model,
		Timestamp:   c.Timestamp,
		Deleted:     c.Deleted,
	}
	if !c.DeletedAt.IsZero() {
		deletedAt := c.DeletedAt
		out.DeletedAt = &deletedAt
	}
	for i, t := range c.Tokens {
		out.Tokens[i] = ExportedToken{Position: t.Position.String(), TokenID: t.TokenID, Text: t.Text}
	}
	return out
}

func (c *ChunkExport) toTokens() ([]token.Token, error) {
	turnID, err := ids.ParseTurnID(c.TurnID)
	if err != nil {
		return nil, fmt.Errorf("parsing turn_id %q: %w", c.TurnID, err)
	}
	out := make([]token.Token, len(c.Tokens))
	for i, et := range c.Tokens {
		pos, err := ids.ParsePosition(et.Position)
		if err != nil {
			return nil, fmt.Errorf("parsing position %q: %w", et.Position, err)
		}
		out[i] = token.Token{
			Position:   pos,
			TokenID:    et.TokenID,
			Text:       et.Text,
			TurnID:     turnID,
			SentenceID: c.SentenceID,
			Role:       token.Role(c.Role),
		}
	}
	return out, nil
}

// AllChunks returns every chunk, including soft-deleted ones, ordered by
// insertion id, for the export command's audit-inclusive round trip.
func (s *Store) AllChunks() ([]*ChunkExport, error) {
	s.mu.Lock()
	rows, err := s.db.Query(`SELECT ` + chunkColumns + ` FROM chunks ORDER BY id`)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: all_chunks scan: %w", err)
	}
	defer rows.Close()

	var out []*ChunkExport
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning chunk: %w", err)
		}
		out = append(out, chunkToExport(c))
	}
	return out, rows.Err()
}

// CounterState returns the store's current id counter, the head record of
// an export.
func (s *Store) CounterState() (CounterExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c CounterExport
	if err := s.db.QueryRow(
		`SELECT next_position, next_turn FROM counter_state WHERE id = 1`,
	).Scan(&c.NextPosition, &c.NextTurn); err != nil {
		return CounterExport{}, fmt.Errorf("store: reading counter_state: %w", err)
	}
	return c, nil
}

// Clear removes every chunk and resets the id counter to zero, the "clear"
// step of the export/clear/import round trip.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks`); err != nil {
		return fmt.Errorf("store: clear chunks: %w", err)
	}
	if s.vec {
		if _, err := tx.Exec(`DELETE FROM vec_index`); err != nil {
			return fmt.Errorf("store: clear vec_index: %w", err)
		}
	}
	if _, err := tx.Exec(
		`UPDATE counter_state SET next_position = '0', next_turn = '0' WHERE id = 1`,
	); err != nil {
		return fmt.Errorf("store: resetting counter_state: %w", err)
	}
	return tx.Commit()
}

// SetCounterState overwrites the id counter directly, used by import to
// restore the exported head record exactly rather than replaying
// reservations.
func (s *Store) SetCounterState(c CounterExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE counter_state SET next_position = ?, next_turn = ? WHERE id = 1`,
		c.NextPosition, c.NextTurn,
	)
	return err
}

// ImportChunk inserts a chunk exactly as exported, preserving its deleted
// state, embedding, and timestamp, rather than going through WriteChunk's
// always-live insert path.
func (s *Store) ImportChunk(c *ChunkExport) error {
	tokens, err := c.toTokens()
	if err != nil {
		return fmt.Errorf("store: decoding import chunk tokens: %w", err)
	}
	tokensJSON, err := encodeTokens(tokens)
	if err != nil {
		return fmt.Errorf("store: re-encoding import chunk tokens: %w", err)
	}

	minPos, err := ids.ParsePosition(c.MinPosition)
	if err != nil {
		return fmt.Errorf("store: parsing min_position %q: %w", c.MinPosition, err)
	}
	maxPos, err := ids.ParsePosition(c.MaxPosition)
	if err != nil {
		return fmt.Errorf("store: parsing max_position %q: %w", c.MaxPosition, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var deletedAt interface{}
	if c.DeletedAt != nil {
		deletedAt = *c.DeletedAt
	}

	res, err := tx.Exec(
		`INSERT INTO chunks (turn_id, sentence_id, role, tokens_json, min_position, max_position, token_count, embedding, model, timestamp, deleted, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TurnID, c.SentenceID, c.Role, tokensJSON, minPos.SortKey(), maxPos.SortKey(),
		c.TokenCount, vectorOrNil(c.Embedding), c.Model, c.Timestamp, c.Deleted, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("store: importing chunk: %w", err)
	}

	if s.vec && !c.Deleted && len(c.Embedding) > 0 {
		id, err := res.LastInsertId()
		if err == nil {
			if _, err := tx.Exec(`INSERT INTO vec_index(rowid, embedding) VALUES (?, ?)`, id, encodeVector(c.Embedding)); err != nil {
				return fmt.Errorf("store: importing vec_index entry: %w", err)
			}
		}
	}

	return tx.Commit()
}
