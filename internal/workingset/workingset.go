// Package workingset implements the Working Set: the ordered sequence of
// active tokens for one window, grouped into sentences, with admission,
// pruning, and resurrection operations driven by the Brightness Scorer.
package workingset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"lucid/internal/brightness"
	"lucid/internal/ids"
	"lucid/internal/logging"
	"lucid/internal/token"
)

func errPositionNotIncreasing(last, next ids.Position) error {
	return fmt.Errorf("workingset: admitted position %s does not exceed current maximum %s", next, last)
}

// defaultAbbreviations lists common abbreviations whose trailing period does
// not end a sentence.
var defaultAbbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "vs": true, "etc": true, "e.g": true, "i.e": true,
	"st": true, "inc": true, "ltd": true, "co": true,
}

// RawToken is the input to Admit: a freshly generated or received token
// whose turn/role/sentence placement the Working Set will resolve.
type RawToken struct {
	Position ids.Position
	TokenID  int
	Text     string
}

// Sentence is a read-only view of one grouped run of active tokens.
type Sentence struct {
	Key    token.ChunkKey
	Tokens []token.Token
	Peak   float64
	Pinned bool
}

type cursor struct {
	turnID     ids.TurnID
	role       token.Role
	sentenceID int
	hasContent bool // whether the current sentence has any tokens yet
}

// WorkingSet holds one window's active tokens, ordered by position.
type WorkingSet struct {
	mu            sync.Mutex
	scorer        *brightness.Scorer
	abbreviations map[string]bool

	tokens []token.Token
	cur    cursor
	pinned map[token.ChunkKey]bool
	atDel  map[token.ChunkKey]float64 // brightness_at_deletion, keyed by the sentence that held it
}

// New constructs an empty Working Set backed by scorer. A nil abbreviation
// list uses the built-in default.
func New(scorer *brightness.Scorer, abbreviations map[string]bool) *WorkingSet {
	if abbreviations == nil {
		abbreviations = defaultAbbreviations
	}
	return &WorkingSet{
		scorer:        scorer,
		abbreviations: abbreviations,
		pinned:        make(map[token.ChunkKey]bool),
		atDel:         make(map[token.ChunkKey]float64),
	}
}

// Admit appends raws to the active sequence for the given turn/role. Each
// token's position must exceed the current maximum. Sentence boundaries are
// resolved by the terminator-and-abbreviation heuristic; successive empty
// sentences are merged.
func (w *WorkingSet) Admit(turnID ids.TurnID, role token.Role, raws []RawToken) ([]token.Token, error) {
	timer := logging.StartTimer(logging.CategoryWorkingSet, "Admit")
	defer timer.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.tokens) > 0 {
		last := w.tokens[len(w.tokens)-1].Position
		for _, r := range raws {
			if !last.Less(r.Position) {
				return nil, errPositionNotIncreasing(last, r.Position)
			}
			last = r.Position
		}
	}

	if !w.cur.turnID.Equal(turnID) || w.cur.role != role {
		w.cur = cursor{turnID: turnID, role: role, sentenceID: 0}
	}

	admitted := make([]token.Token, 0, len(raws))
	for _, r := range raws {
		t := token.Token{
			Position:   r.Position,
			TokenID:    r.TokenID,
			Text:       r.Text,
			TurnID:     turnID,
			SentenceID: w.cur.sentenceID,
			Role:       role,
		}
		w.cur.hasContent = true
		admitted = append(admitted, t)
		w.tokens = append(w.tokens, t)

		if endsSentence(r.Text, w.abbreviations) && w.cur.hasContent {
			w.cur.sentenceID++
			w.cur.hasContent = false
		}
	}

	positions := w.activePositionsLocked()
	for i := range admitted {
		key := admitted[i].Key()
		del := w.atDel[key]
		b := w.scorer.InitialBrightness(positions, del)
		w.scorer.Set(admitted[i].Position, b)
	}
	return admitted, nil
}

// TrailingSentenceOpen reports whether the current cursor's sentence ended
// mid-thought: turnID/role must be the most recently admitted turn/role,
// and its last admitted token must not have closed on a terminator. A
// turn/role that never admitted any token (the cursor moved on, or nothing
// was ever admitted) reports false, since there is no trailing sentence to
// discard.
func (w *WorkingSet) TrailingSentenceOpen(turnID ids.TurnID, role token.Role) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.cur.turnID.Equal(turnID) || w.cur.role != role {
		return false
	}
	return w.cur.hasContent
}

func endsSentence(text string, abbreviations map[string]bool) bool {
	trimmed := strings.TrimRight(text, " \t")
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	if last != '.' && last != '!' && last != '?' && last != '\n' {
		return false
	}
	if last == '.' {
		word := strings.ToLower(strings.TrimRight(trimmed, "."))
		word = lastWord(word)
		if abbreviations[word] {
			return false
		}
	}
	return true
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// Mark forwards one generation step's attention tensor to the Scorer.
func (w *WorkingSet) Mark(step brightness.AttentionStep) {
	w.scorer.Mark(step)
}

// ActiveTokens returns the ordered sequence used to build the next prompt.
func (w *WorkingSet) ActiveTokens() []token.Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]token.Token, len(w.tokens))
	copy(out, w.tokens)
	return out
}

func (w *WorkingSet) activePositionsLocked() []ids.Position {
	out := make([]ids.Position, len(w.tokens))
	for i, t := range w.tokens {
		out[i] = t.Position
	}
	return out
}

// Sentences groups active tokens by (turn_id, sentence_id, role) in
// position order, with each sentence's peak brightness.
func (w *WorkingSet) Sentences() []Sentence {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sentencesLocked()
}

func (w *WorkingSet) sentencesLocked() []Sentence {
	order := []token.ChunkKey{}
	groups := map[token.ChunkKey][]token.Token{}
	for _, t := range w.tokens {
		key := t.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	out := make([]Sentence, 0, len(order))
	for _, key := range order {
		toks := groups[key]
		positions := make([]ids.Position, len(toks))
		for i, t := range toks {
			positions[i] = t.Position
		}
		out = append(out, Sentence{
			Key:    key,
			Tokens: toks,
			Peak:   w.scorer.Peak(positions),
			Pinned: w.pinned[key],
		})
	}
	return out
}

// Pin marks a sentence as never-prune.
func (w *WorkingSet) Pin(key token.ChunkKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pinned[key] = true
}

// Unpin clears a sentence's pin.
func (w *WorkingSet) Unpin(key token.ChunkKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pinned, key)
}

// PruneTo removes whole sentences, lowest-peak first, until the active
// token count is at most limit. Pinned sentences are never pruned; ties
// break toward older max_position. Each removed sentence records one
// brightness-at-deletion value, the brightness of its last token in
// sentence order, and Resurrect applies that single value to every token
// of the chunk; per-token values are not recorded.
func (w *WorkingSet) PruneTo(limit int) []token.ChunkKey {
	timer := logging.StartTimer(logging.CategoryWorkingSet, "PruneTo")
	defer timer.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.tokens) <= limit {
		return nil
	}

	sentences := w.sentencesLocked()
	candidates := make([]Sentence, 0, len(sentences))
	for _, s := range sentences {
		if !s.Pinned {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Peak != candidates[j].Peak {
			return candidates[i].Peak < candidates[j].Peak
		}
		return maxPosition(candidates[i].Tokens).Less(maxPosition(candidates[j].Tokens))
	})

	removeKeys := map[token.ChunkKey]bool{}
	remaining := len(w.tokens)
	for _, s := range candidates {
		if remaining <= limit {
			break
		}
		removeKeys[s.Key] = true
		for _, t := range s.Tokens {
			w.atDel[s.Key] = w.scorer.Brightness(t.Position)
		}
		remaining -= len(s.Tokens)
	}

	if len(removeKeys) == 0 {
		logging.WorkingSetWarn("prune_to(%d): no unpinned sentences available, %d tokens remain active", limit, len(w.tokens))
		return nil
	}

	kept := w.tokens[:0]
	for _, t := range w.tokens {
		if !removeKeys[t.Key()] {
			kept = append(kept, t)
		}
	}
	w.tokens = kept

	removed := make([]token.ChunkKey, 0, len(removeKeys))
	for k := range removeKeys {
		removed = append(removed, k)
	}
	logging.WorkingSetDebug("prune_to(%d): removed %d sentences, %d tokens remain", limit, len(removed), len(w.tokens))
	return removed
}

func maxPosition(tokens []token.Token) ids.Position {
	max := tokens[0].Position
	for _, t := range tokens[1:] {
		if max.Less(t.Position) {
			max = t.Position
		}
	}
	return max
}

// Resurrect splices a chunk's tokens back into the active sequence at their
// original positions, computing fresh initial brightness per token and
// marking the sentence live again.
func (w *WorkingSet) Resurrect(c *token.Chunk) {
	timer := logging.StartTimer(logging.CategoryWorkingSet, "Resurrect")
	defer timer.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	merged := append(w.tokens, c.Tokens...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Position.Less(merged[j].Position) })
	w.tokens = merged

	positions := w.activePositionsLocked()
	del := w.atDel[c.Key]
	for _, t := range c.Tokens {
		b := w.scorer.InitialBrightness(positions, del)
		w.scorer.Set(t.Position, b)
	}
	delete(w.atDel, c.Key)
}

// Snapshot persists only the set of active positions, for window close.
func (w *WorkingSet) Snapshot() []ids.Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activePositionsLocked()
}

// TokenFetcher resolves a set of positions back to tokens, implemented by
// the Semantic Index's tokens_by_positions.
type TokenFetcher interface {
	TokensByPositions(positions []ids.Position) ([]token.Token, error)
}

// Restore repopulates the active sequence from a previously captured
// snapshot of positions, for window reopen.
func (w *WorkingSet) Restore(positions []ids.Position, fetch TokenFetcher) error {
	tokens, err := fetch.TokensByPositions(positions)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tokens = tokens
	return nil
}
