// Package session implements the Session Controller: the per-turn
// orchestration protocol that ties the Resurrection Planner, Working Set,
// Generator, and Semantic Index together into one coherent conversational
// turn.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lucid/internal/brightness"
	"lucid/internal/config"
	"lucid/internal/embedding"
	"lucid/internal/generator"
	"lucid/internal/ids"
	"lucid/internal/index"
	"lucid/internal/logging"
	"lucid/internal/reflection"
	"lucid/internal/resurrection"
	"lucid/internal/store"
	"lucid/internal/token"
	"lucid/internal/workingset"
)

// embedSemaphore caps concurrent embedder calls module-wide, not per
// Controller instance, since multiple windows may share one embedding
// backend's rate limit.
var embedSemaphore = semaphore.NewWeighted(4)

// reservationMaxElapsed bounds how long ReserveIDs retries before giving up.
const reservationMaxElapsed = 10 * time.Second

// Controller runs one window's per-turn protocol: tokenize, reserve ids,
// resurrect, admit, generate, mark attention, prune, and persist.
type Controller struct {
	cfg      config.Config
	idx      *index.Index
	embedder embedding.Engine
	gen      generator.Generator
	ws       *workingset.WorkingSet
	planner  *resurrection.Planner
	trigger  *reflection.Trigger // nil if reflection is disabled

	// windowID is a diagnostics-only identifier, never used for positions
	// or turn ids, which remain the store's own arbitrary-precision counters.
	windowID uuid.UUID
}

// New constructs a Controller for one window, stamped with a fresh
// diagnostic window id. trigger may be nil when reflection is disabled;
// the caller is responsible for starting and stopping it.
func New(cfg config.Config, idx *index.Index, embedder embedding.Engine, gen generator.Generator, ws *workingset.WorkingSet, planner *resurrection.Planner, trigger *reflection.Trigger) *Controller {
	return &Controller{cfg: cfg, idx: idx, embedder: embedder, gen: gen, ws: ws, planner: planner, trigger: trigger, windowID: uuid.New()}
}

// WindowID returns this controller's diagnostic window id, used for log
// correlation and snapshot file naming only.
func (c *Controller) WindowID() uuid.UUID { return c.windowID }

// SetTrigger attaches the Reflection Trigger this Controller records user
// messages to; nil disables reflection. Separate from New because the
// Trigger's FireFunc is the Controller's own FireReflection method, so the
// Trigger can only be built once the Controller already exists.
func (c *Controller) SetTrigger(t *reflection.Trigger) {
	c.trigger = t
}

// TurnResult reports what one RunTurn call did.
type TurnResult struct {
	UserTurn        ids.TurnID
	AssistantTurn   ids.TurnID
	Resurrected     []token.ChunkKey
	Pruned          []token.ChunkKey
	GenerationError error
}

// RunTurn executes the full per-turn protocol for one user message:
// tokenize, reserve ids, plan resurrection, admit the user turn, stream a
// generation while marking attention, prune back to the context limit, and
// persist newly closed sentences as chunks.
func (c *Controller) RunTurn(ctx context.Context, userText string) (*TurnResult, error) {
	timer := logging.StartTimer(logging.CategorySession, "RunTurn")
	defer timer.Stop()

	userToks, err := c.gen.Tokenize(ctx, userText)
	if err != nil {
		return nil, fmt.Errorf("session: tokenizing user message: %w", err)
	}
	U := len(userToks)

	reserveSize := U + c.cfg.MaxGeneration + c.cfg.Overhead + c.cfg.SafetyMargin
	r, err := c.reserveWithBackoff(ctx, reserveSize)
	if err != nil {
		return nil, fmt.Errorf("session: reserving ids: %w", err)
	}

	positions := r.Positions()
	userRaws := make([]workingset.RawToken, U)
	for i, t := range userToks {
		userRaws[i] = workingset.RawToken{Position: positions[i], TokenID: t.TokenID, Text: t.Text}
	}

	beforeActive := len(c.ws.ActiveTokens())
	planResult, err := c.planner.Plan(ctx, userText, beforeActive, U)
	if err != nil {
		return nil, fmt.Errorf("session: planning resurrection: %w", err)
	}

	if _, err := c.ws.Admit(r.UserTurn, token.RoleUser, userRaws); err != nil {
		panic(fmt.Sprintf("session: admitting reserved user tokens violated an invariant: %v", err))
	}

	if c.trigger != nil {
		c.trigger.RecordUserMessage()
	}

	contextTokens := c.ws.ActiveTokens()
	contextIDs := tokenIDsOf(contextTokens)
	contextSlots := contextSlotsOf(contextTokens)

	out, errc := c.gen.GenerateStream(ctx, generator.GenerateParams{
		ContextTokens:    contextIDs,
		MaxTokens:        c.cfg.MaxGeneration,
		OutputAttentions: true,
	})

	assistantPositions := positions[U:]
	next := 0
	for tok := range out {
		if next >= len(assistantPositions) {
			// generation ran past its reserved allowance; stop admitting,
			// the stream keeps draining below until closed.
			continue
		}
		raw := []workingset.RawToken{{Position: assistantPositions[next], TokenID: tok.TokenID, Text: tok.Text}}
		if _, err := c.ws.Admit(r.AssistantTurn, token.RoleAssistant, raw); err != nil {
			panic(fmt.Sprintf("session: admitting generated token violated an invariant: %v", err))
		}
		next++
		if tok.Attention != nil {
			c.ws.Mark(brightness.AttentionStep{
				Tensor:         tok.Attention,
				Context:        contextSlots,
				GeneratingTurn: r.AssistantTurn,
			})
		}
	}
	genErr := <-errc

	pruned := c.ws.PruneTo(c.cfg.ContextLimit)
	planResult.Pruned = append(planResult.Pruned, pruned...)

	trailingOpen := c.ws.TrailingSentenceOpen(r.AssistantTurn, token.RoleAssistant)
	toPersist := closedSentences(c.ws.Sentences(), r.UserTurn, r.AssistantTurn, trailingOpen)
	if err := c.persist(context.WithoutCancel(ctx), toPersist); err != nil {
		return nil, fmt.Errorf("session: persisting chunks: %w", err)
	}

	logging.SessionDebug("window %s turn (%s,%s): resurrected=%d pruned=%d persisted=%d gen_err=%v",
		c.windowID, r.UserTurn, r.AssistantTurn, len(planResult.Resurrected), len(planResult.Pruned), len(toPersist), genErr)

	return &TurnResult{
		UserTurn:        r.UserTurn,
		AssistantTurn:   r.AssistantTurn,
		Resurrected:     planResult.Resurrected,
		Pruned:          planResult.Pruned,
		GenerationError: genErr,
	}, nil
}

// FireReflection implements reflection.FireFunc: it reserves a fresh
// turn-id pair, admits prompt as a synthetic system-role chunk, generates a
// summary against the currently active context, and persists both chunks
// through the same pipeline RunTurn uses. Intended to be passed as the
// Reflection Trigger's FireFunc, e.g. reflection.New(cfg, ctrl.FireReflection).
func (c *Controller) FireReflection(ctx context.Context, prompt string) error {
	timer := logging.StartTimer(logging.CategorySession, "FireReflection")
	defer timer.Stop()

	promptToks, err := c.gen.Tokenize(ctx, prompt)
	if err != nil {
		return fmt.Errorf("session: tokenizing reflection prompt: %w", err)
	}
	P := len(promptToks)

	reserveSize := P + c.cfg.Reflection.MaxTokens + c.cfg.Overhead + c.cfg.SafetyMargin
	r, err := c.reserveWithBackoff(ctx, reserveSize)
	if err != nil {
		return fmt.Errorf("session: reserving reflection ids: %w", err)
	}

	positions := r.Positions()
	promptRaws := make([]workingset.RawToken, P)
	for i, t := range promptToks {
		promptRaws[i] = workingset.RawToken{Position: positions[i], TokenID: t.TokenID, Text: t.Text}
	}

	if _, err := c.ws.Admit(r.UserTurn, token.RoleSystem, promptRaws); err != nil {
		panic(fmt.Sprintf("session: admitting reflection prompt tokens violated an invariant: %v", err))
	}

	contextTokens := c.ws.ActiveTokens()
	contextIDs := tokenIDsOf(contextTokens)
	contextSlots := contextSlotsOf(contextTokens)

	out, errc := c.gen.GenerateStream(ctx, generator.GenerateParams{
		ContextTokens:    contextIDs,
		MaxTokens:        c.cfg.Reflection.MaxTokens,
		OutputAttentions: true,
	})

	summaryPositions := positions[P:]
	next := 0
	for tok := range out {
		if next >= len(summaryPositions) {
			continue
		}
		raw := []workingset.RawToken{{Position: summaryPositions[next], TokenID: tok.TokenID, Text: tok.Text}}
		if _, err := c.ws.Admit(r.AssistantTurn, token.RoleAssistant, raw); err != nil {
			panic(fmt.Sprintf("session: admitting reflection summary token violated an invariant: %v", err))
		}
		next++
		if tok.Attention != nil {
			c.ws.Mark(brightness.AttentionStep{
				Tensor:         tok.Attention,
				Context:        contextSlots,
				GeneratingTurn: r.AssistantTurn,
			})
		}
	}
	genErr := <-errc

	c.ws.PruneTo(c.cfg.ContextLimit)

	trailingOpen := c.ws.TrailingSentenceOpen(r.AssistantTurn, token.RoleAssistant)
	toPersist := closedSentences(c.ws.Sentences(), r.UserTurn, r.AssistantTurn, trailingOpen)
	if err := c.persist(ctx, toPersist); err != nil {
		return fmt.Errorf("session: persisting reflection chunks: %w", err)
	}

	logging.SessionDebug("window %s reflection turn (%s,%s): persisted=%d gen_err=%v",
		c.windowID, r.UserTurn, r.AssistantTurn, len(toPersist), genErr)

	return genErr
}

// reserveWithBackoff retries Index.ReserveIDs under exponential backoff,
// since the store's single-writer transaction can transiently fail under
// concurrent reservation pressure (spec.md's "reservation refusal" kind).
func (c *Controller) reserveWithBackoff(ctx context.Context, n int) (store.Reservation, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = reservationMaxElapsed

	var r store.Reservation
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		var err error
		r, err = c.idx.ReserveIDs(n)
		return err
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		logging.SessionWarn("reservation of %d ids succeeded after %d attempts", n, attempts)
	}
	return r, err
}

// persist embeds and writes every sentence in toPersist concurrently,
// bounded by the module-wide embedSemaphore. Each sentence embeds with its
// turn-pair context: the user and assistant sentence-0 texts, per the same
// pairing the Resurrection Planner uses for companions.
func (c *Controller) persist(ctx context.Context, sentences []workingset.Sentence) error {
	if len(sentences) == 0 {
		return nil
	}

	pairContext := pairContextOf(sentences)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sentences {
		s := s
		g.Go(func() error {
			if err := embedSemaphore.Acquire(gctx, 1); err != nil {
				return err
			}
			defer embedSemaphore.Release(1)

			chunk, err := token.NewChunk(s.Tokens)
			if err != nil {
				return fmt.Errorf("building chunk %s: %w", s.Key, err)
			}

			text := embedInputFor(chunk, pairContext)
			vec, err := c.embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embedding chunk %s: %w", s.Key, err)
			}
			chunk.Embedding = vec
			chunk.Model = c.embedder.ModelTag()

			if _, err := c.idx.WriteChunk(gctx, chunk); err != nil {
				return fmt.Errorf("writing chunk %s: %w", s.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// pairContextOf builds the turn-pair context text: the user turn's
// sentence-0 text, followed by the assistant turn's sentence-0 text if
// present among the sentences being persisted. In a reflection turn the
// synthetic system prompt fills the user slot.
func pairContextOf(sentences []workingset.Sentence) string {
	var userFirst, assistantFirst string
	for _, s := range sentences {
		if s.Key.SentenceID != 0 {
			continue
		}
		switch s.Key.Role {
		case token.RoleUser, token.RoleSystem:
			userFirst = sentenceText(s)
		case token.RoleAssistant:
			assistantFirst = sentenceText(s)
		}
	}
	if assistantFirst == "" {
		return userFirst
	}
	return userFirst + "\n" + assistantFirst
}

func sentenceText(s workingset.Sentence) string {
	c := &token.Chunk{Tokens: s.Tokens}
	return c.Text()
}

// embedInputFor returns the text to embed for chunk: the sentence-0 chunks
// already equal the pair context, so embedding them directly avoids
// duplicating it; every other sentence embeds with the pair context
// prepended for conversational grounding.
func embedInputFor(chunk *token.Chunk, pairContext string) string {
	if chunk.Key.SentenceID == 0 {
		return pairContext
	}
	return pairContext + "\n" + chunk.Text()
}

func tokenIDsOf(tokens []token.Token) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		out[i] = t.TokenID
	}
	return out
}

func contextSlotsOf(tokens []token.Token) []brightness.ContextSlot {
	out := make([]brightness.ContextSlot, len(tokens))
	for i, t := range tokens {
		out[i] = brightness.ContextSlot{Position: t.Position, TurnID: t.TurnID}
	}
	return out
}

// closedSentences returns the sentences belonging to userTurn or
// assistantTurn that are safe to persist now. The assistant turn's last
// sentence is excluded when trailingOpen is true: it ended mid-sentence
// (whether generation errored, was cancelled, or simply hit its token
// limit before a terminator), and spec.md's partial-sentence-discard rule
// keeps an unfinished thought out of the semantic index. A genuinely
// completed trailing sentence is kept even when generation errored right
// after it closed.
func closedSentences(all []workingset.Sentence, userTurn, assistantTurn ids.TurnID, trailingOpen bool) []workingset.Sentence {
	var matched []workingset.Sentence
	lastAssistant := -1
	for _, s := range all {
		if s.Key.TurnID.Equal(userTurn) || s.Key.TurnID.Equal(assistantTurn) {
			matched = append(matched, s)
			if s.Key.TurnID.Equal(assistantTurn) {
				lastAssistant = len(matched) - 1
			}
		}
	}
	if trailingOpen && lastAssistant >= 0 {
		matched = append(matched[:lastAssistant], matched[lastAssistant+1:]...)
	}
	return matched
}
