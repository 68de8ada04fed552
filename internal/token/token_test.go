package token

import (
	"testing"

	"lucid/internal/ids"
)

func tok(pos uint64, turn uint64, sentence int, role Role, text string) Token {
	return Token{
		Position:   ids.PositionFromUint64(pos),
		TurnID:     ids.TurnIDFromUint64(turn),
		SentenceID: sentence,
		Role:       role,
		Text:       text,
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.Valid() {
			t.Errorf("expected %q to be valid", r)
		}
	}
	if Role("narrator").Valid() {
		t.Error("expected unknown role to be invalid")
	}
}

func TestNewChunkBuildsTextAndBounds(t *testing.T) {
	tokens := []Token{
		tok(10, 1, 0, RoleUser, "hello"),
		tok(11, 1, 0, RoleUser, "world"),
	}
	c, err := NewChunk(tokens)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	if c.Text() != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", c.Text())
	}
	if c.TokenCount != 2 {
		t.Errorf("expected token count 2, got %d", c.TokenCount)
	}
	if !c.MinPosition.Equal(ids.PositionFromUint64(10)) || !c.MaxPosition.Equal(ids.PositionFromUint64(11)) {
		t.Errorf("unexpected bounds: min=%s max=%s", c.MinPosition, c.MaxPosition)
	}
}

func TestNewChunkRejectsMixedKeys(t *testing.T) {
	tokens := []Token{
		tok(10, 1, 0, RoleUser, "hello"),
		tok(11, 2, 0, RoleUser, "world"),
	}
	if _, err := NewChunk(tokens); err == nil {
		t.Fatal("expected error for mismatched turn ids")
	}
}

func TestNewChunkRejectsOutOfOrderPositions(t *testing.T) {
	tokens := []Token{
		tok(11, 1, 0, RoleUser, "world"),
		tok(10, 1, 0, RoleUser, "hello"),
	}
	if _, err := NewChunk(tokens); err == nil {
		t.Fatal("expected error for out-of-order positions")
	}
}

func TestChunkSearchableRequiresEmbeddingAndNotDeleted(t *testing.T) {
	c, err := NewChunk([]Token{tok(0, 0, 0, RoleUser, "hi")})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	if c.Searchable() {
		t.Error("chunk without embedding should not be searchable")
	}
	c.Embedding = []float32{0.1, 0.2}
	if !c.Searchable() {
		t.Error("chunk with embedding and not deleted should be searchable")
	}
	c.Deleted = true
	if c.Searchable() {
		t.Error("deleted chunk should not be searchable")
	}
}

func TestChunkKeyResetsPerTurn(t *testing.T) {
	a := tok(0, 1, 0, RoleUser, "a").Key()
	b := tok(0, 2, 0, RoleUser, "b").Key()
	if a == b {
		t.Error("sentence id 0 in different turns must not collide")
	}
}
