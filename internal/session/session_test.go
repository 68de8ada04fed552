package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"lucid/internal/brightness"
	"lucid/internal/config"
	"lucid/internal/embedding"
	"lucid/internal/generator"
	"lucid/internal/ids"
	"lucid/internal/index"
	"lucid/internal/resurrection"
	"lucid/internal/store"
	"lucid/internal/token"
	"lucid/internal/workingset"
)

func newTestController(t *testing.T, gen generator.Generator) *Controller {
	t.Helper()
	cfg := *config.DefaultConfig()
	cfg.Embedding.Dim = 8
	cfg.ContextLimit = 1000
	cfg.MaxGeneration = 10
	cfg.Overhead = 2
	cfg.SafetyMargin = 0
	cfg.Resurrection.TopK = 3

	s, err := store.Open(":memory:", cfg.Embedding.Dim)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	embedder := embedding.NewFake(cfg.Embedding.Dim)
	idx := index.New(s, embedder)
	scorer := brightness.New(cfg.Brightness)
	ws := workingset.New(scorer, nil)
	planner := resurrection.New(cfg, idx, ws)

	return New(cfg, idx, embedder, gen, ws, planner, nil)
}

func TestRunTurnColdStartPersistsUserAndAssistantChunks(t *testing.T) {
	ctrl := newTestController(t, generator.NewFake())

	result, err := ctrl.RunTurn(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.GenerationError != nil {
		t.Fatalf("unexpected generation error: %v", result.GenerationError)
	}

	sentences := ctrl.ws.Sentences()
	var sawUser, sawAssistant bool
	for _, s := range sentences {
		if s.Key.Role == token.RoleUser && s.Key.TurnID.Equal(result.UserTurn) {
			sawUser = true
		}
		if s.Key.Role == token.RoleAssistant && s.Key.TurnID.Equal(result.AssistantTurn) {
			sawAssistant = true
		}
	}
	if !sawUser || !sawAssistant {
		t.Fatalf("expected both user and assistant sentences active, sawUser=%v sawAssistant=%v", sawUser, sawAssistant)
	}

	chunk, err := ctrl.idx.GetChunk(token.ChunkKey{TurnID: result.UserTurn, SentenceID: 0, Role: token.RoleUser})
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if chunk == nil {
		t.Fatal("expected the user sentence to be persisted")
	}
	if len(chunk.Embedding) != 8 {
		t.Errorf("expected an 8-dim embedding, got %d", len(chunk.Embedding))
	}

	assistantChunk, err := ctrl.idx.GetChunk(token.ChunkKey{TurnID: result.AssistantTurn, SentenceID: 0, Role: token.RoleAssistant})
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if assistantChunk == nil {
		t.Fatal("expected the terminator-closed assistant sentence to be persisted")
	}
}

func TestRunTurnPersistsNoAssistantChunkWhenGenerationFailsImmediately(t *testing.T) {
	fake := generator.NewFake()
	fake.Reply = []string{"partial", "thought", "no terminator"}
	ctrl := newTestController(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the turn starts: generation fails before any token is admitted

	result, err := ctrl.RunTurn(ctx, "go slow")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.GenerationError == nil {
		t.Fatal("expected a generation error from the pre-cancelled context")
	}

	chunk, err := ctrl.idx.GetChunk(token.ChunkKey{TurnID: result.AssistantTurn, SentenceID: 0, Role: token.RoleAssistant})
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if chunk != nil {
		t.Error("expected no assistant chunk when generation produced zero tokens")
	}
}

func TestFireReflectionAdmitsSystemPromptAndPersistsBothChunks(t *testing.T) {
	ctrl := newTestController(t, generator.NewFake())

	if err := ctrl.FireReflection(context.Background(), "Summarize so far."); err != nil {
		t.Fatalf("FireReflection: %v", err)
	}

	var sawSystem, sawAssistant bool
	var systemKey, assistantKey token.ChunkKey
	for _, s := range ctrl.ws.Sentences() {
		if s.Key.Role == token.RoleSystem {
			sawSystem, systemKey = true, s.Key
		}
		if s.Key.Role == token.RoleAssistant {
			sawAssistant, assistantKey = true, s.Key
		}
	}
	if !sawSystem || !sawAssistant {
		t.Fatalf("expected both a system prompt sentence and an assistant reply sentence, sawSystem=%v sawAssistant=%v", sawSystem, sawAssistant)
	}

	systemChunk, err := ctrl.idx.GetChunk(systemKey)
	if err != nil {
		t.Fatalf("GetChunk(system): %v", err)
	}
	if systemChunk == nil {
		t.Fatal("expected the synthetic system prompt chunk to be persisted")
	}

	assistantChunk, err := ctrl.idx.GetChunk(assistantKey)
	if err != nil {
		t.Fatalf("GetChunk(assistant): %v", err)
	}
	if assistantChunk == nil {
		t.Fatal("expected the reflection summary chunk to be persisted")
	}
}

// oneSentenceThenErrorGenerator emits exactly one terminator-closed token
// and then fails the stream, for testing that a completed trailing
// sentence survives a generation error that arrives right after it closes.
type oneSentenceThenErrorGenerator struct{}

func (oneSentenceThenErrorGenerator) Tokenize(ctx context.Context, text string) ([]generator.TokenizedToken, error) {
	words := strings.Fields(text)
	out := make([]generator.TokenizedToken, len(words))
	for i, w := range words {
		out[i] = generator.TokenizedToken{TokenID: 1000 + i, Text: w}
	}
	return out, nil
}

func (oneSentenceThenErrorGenerator) GenerateStream(ctx context.Context, params generator.GenerateParams) (<-chan generator.GeneratedToken, <-chan error) {
	out := make(chan generator.GeneratedToken, 1)
	errc := make(chan error, 1)
	out <- generator.GeneratedToken{TokenID: 1, Text: "Hello."}
	close(out)
	errc <- fmt.Errorf("stream interrupted")
	close(errc)
	return out, errc
}

func (oneSentenceThenErrorGenerator) ContextLimit() int { return 32000 }

func TestRunTurnPersistsCompletedTrailingSentenceDespiteGenerationError(t *testing.T) {
	ctrl := newTestController(t, oneSentenceThenErrorGenerator{})

	result, err := ctrl.RunTurn(context.Background(), "hi")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.GenerationError == nil {
		t.Fatal("expected a generation error")
	}

	assistantChunk, err := ctrl.idx.GetChunk(token.ChunkKey{TurnID: result.AssistantTurn, SentenceID: 0, Role: token.RoleAssistant})
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if assistantChunk == nil {
		t.Fatal("expected the completed assistant sentence to be persisted despite the trailing generation error")
	}
}

func TestClosedSentencesDiscardsOnlyTrailingAssistantSentence(t *testing.T) {
	userTurn := ids.TurnIDFromUint64(10)
	assistantTurn := ids.TurnIDFromUint64(11)
	userKey := token.ChunkKey{TurnID: userTurn, Role: token.RoleUser}
	assistantKey0 := token.ChunkKey{TurnID: assistantTurn, Role: token.RoleAssistant, SentenceID: 0}
	assistantKey1 := token.ChunkKey{TurnID: assistantTurn, Role: token.RoleAssistant, SentenceID: 1}

	all := []workingset.Sentence{
		{Key: userKey},
		{Key: assistantKey0},
		{Key: assistantKey1},
	}

	kept := closedSentences(all, userTurn, assistantTurn, true)
	if len(kept) != 2 {
		t.Fatalf("expected 2 sentences kept, got %d", len(kept))
	}
	for _, s := range kept {
		if s.Key == assistantKey1 {
			t.Error("expected the trailing assistant sentence to be discarded")
		}
	}

	keptNoDiscard := closedSentences(all, userTurn, assistantTurn, false)
	if len(keptNoDiscard) != 3 {
		t.Fatalf("expected all 3 sentences kept when trailingOpen is false, got %d", len(keptNoDiscard))
	}
}

func TestEmbedInputForUsesPairContextDirectlyAtSentenceZero(t *testing.T) {
	chunk := &token.Chunk{Key: token.ChunkKey{SentenceID: 0}}
	if got := embedInputFor(chunk, "pair context"); got != "pair context" {
		t.Errorf("expected bare pair context at sentence 0, got %q", got)
	}
}

func TestEmbedInputForPrependsPairContextAtLaterSentences(t *testing.T) {
	chunk, err := token.NewChunk([]token.Token{{Text: "more", SentenceID: 1}})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	got := embedInputFor(chunk, "pair context")
	if got != "pair context\nmore" {
		t.Errorf("expected prepended pair context, got %q", got)
	}
}
