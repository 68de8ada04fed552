// Package token defines the atomic data model shared by every Lucid
// component: tokens, the sentences (chunks) they group into, and turns.
package token

import (
	"fmt"
	"strings"
	"time"

	"lucid/internal/ids"
)

// Role identifies who produced a token or chunk.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Token is the atomic unit tracked by the Brightness Scorer and Working Set.
// Created once inside a reservation; never renumbered. Brightness and the
// deleted flag are the only mutable fields.
type Token struct {
	Position   ids.Position
	TokenID    int
	Text       string
	TurnID     ids.TurnID
	SentenceID int
	Role       Role
	Brightness float64
	Deleted    bool
}

// Key identifies the chunk a token belongs to.
func (t Token) Key() ChunkKey {
	return ChunkKey{TurnID: t.TurnID, SentenceID: t.SentenceID, Role: t.Role}
}

// ChunkKey is the unique compound key (turn_id, sentence_id, role) for a
// sentence. Sentence ids reset to 0 at each new turn, so turn_id must be
// part of the key.
type ChunkKey struct {
	TurnID     ids.TurnID
	SentenceID int
	Role       Role
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.TurnID, k.SentenceID, k.Role)
}

// Chunk is a contiguous run of tokens sharing a ChunkKey: the persisted,
// embeddable unit of the semantic index. Immutable once formed except for
// the deletion toggle and an optional re-embed.
type Chunk struct {
	ID          int64
	Key         ChunkKey
	Tokens      []Token
	MinPosition ids.Position
	MaxPosition ids.Position
	TokenCount  int
	Embedding   []float32 // unit vector; nil if not yet embedded
	Model       string
	Timestamp   time.Time
	Deleted     bool
	DeletedAt   time.Time
}

// Text reconstructs the chunk's surface text by concatenating its tokens.
func (c *Chunk) Text() string {
	var b strings.Builder
	for i, t := range c.Tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// Searchable reports whether the chunk can be returned by the semantic
// index: it must carry an embedding and must not be deleted.
func (c *Chunk) Searchable() bool {
	return len(c.Embedding) > 0 && !c.Deleted
}

// NewChunk builds a Chunk from a non-empty, position-contiguous run of
// tokens sharing one ChunkKey. Returns an error if the tokens don't share
// a key or aren't ordered by position.
func NewChunk(tokens []Token) (*Chunk, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token: cannot build a chunk from zero tokens")
	}
	key := tokens[0].Key()
	c := &Chunk{
		Key:         key,
		Tokens:      tokens,
		MinPosition: tokens[0].Position,
		MaxPosition: tokens[0].Position,
		TokenCount:  len(tokens),
		Timestamp:   time.Now(),
	}
	for _, t := range tokens[1:] {
		if t.Key() != key {
			return nil, fmt.Errorf("token: mixed chunk keys %v and %v", key, t.Key())
		}
		if t.Position.Less(c.MaxPosition) {
			return nil, fmt.Errorf("token: tokens must be ordered by position")
		}
		c.MaxPosition = t.Position
	}
	return c, nil
}

// Turn groups every token sharing one turn id. A user turn is paired with
// the following assistant turn of the same allocation; this pairing is the
// unit of coherent resurrection in the Resurrection Planner.
type Turn struct {
	ID     ids.TurnID
	Role   Role
	Chunks []Chunk
}
