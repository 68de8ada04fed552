// Package resurrection implements the Resurrection Planner: invoked at the
// start of every user turn to bring relevant prior chunks back into the
// Working Set within a computed token budget, reviving each candidate
// together with its turn-pair companions for conversational coherence.
package resurrection

import (
	"context"
	"fmt"

	"lucid/internal/config"
	"lucid/internal/index"
	"lucid/internal/logging"
	"lucid/internal/token"
	"lucid/internal/workingset"
)

// Planner computes a resurrection budget and greedily admits candidates
// (plus their companions) back into the Working Set without exceeding it.
type Planner struct {
	cfg config.Config
	idx *index.Index
	ws  *workingset.WorkingSet
}

// New constructs a Planner. cfg supplies the context budget fields
// (ContextLimit, MaxGeneration, Overhead, SafetyMargin) and the
// Resurrection-specific TopK/Overscan knobs.
func New(cfg config.Config, idx *index.Index, ws *workingset.WorkingSet) *Planner {
	return &Planner{cfg: cfg, idx: idx, ws: ws}
}

// Result reports what the Planner did for one invocation.
type Result struct {
	Budget      int
	Used        int
	Resurrected []token.ChunkKey
	Pruned      []token.ChunkKey
}

// Budget computes B = M - (active - justAdded) - U - G - O, where U equals
// justAdded (the just-reserved user turn's exact token count). Negative
// budgets are reported as-is; Plan is responsible for reclaiming the
// shortfall via pruning before flooring at zero.
func (p *Planner) Budget(activeTokens, justAdded int) int {
	return p.cfg.ContextLimit - (activeTokens - justAdded) - justAdded - p.cfg.MaxGeneration - p.cfg.Overhead - p.cfg.SafetyMargin
}

// Plan runs one resurrection pass for the user text just admitted to the
// Working Set. activeTokens is the Working Set's token count after
// admission; justAdded is how many of those tokens came from the user
// message just tokenized.
func (p *Planner) Plan(ctx context.Context, userText string, activeTokens, justAdded int) (Result, error) {
	timer := logging.StartTimer(logging.CategoryResurrection, "Plan")
	defer timer.Stop()

	var result Result

	raw := p.Budget(activeTokens, justAdded)
	if raw < 0 {
		target := activeTokens + raw // raw is negative: reclaim -raw tokens
		if target < 0 {
			target = 0
		}
		result.Pruned = p.ws.PruneTo(target)
		raw = 0
	}
	result.Budget = raw
	if raw == 0 {
		return result, nil
	}

	live := liveSet(p.ws)

	k := p.cfg.Resurrection.TopK
	if k <= 0 {
		k = 1
	}
	var candidates []*token.Chunk
	for attempt := 0; attempt < 4; attempt++ {
		hits, err := p.idx.Query(ctx, userText, k)
		if err != nil {
			return result, fmt.Errorf("resurrection: querying candidates: %w", err)
		}
		total := 0
		candidates = candidates[:0]
		for _, h := range hits {
			total += h.Chunk.TokenCount
			candidates = append(candidates, h.Chunk)
		}
		if total >= 3*raw || len(hits) < k {
			break
		}
		k = int(float64(k) * p.cfg.Resurrection.Overscan)
		if k <= 0 {
			break
		}
	}

	used := 0
	for _, chunk := range candidates {
		key := chunk.Key
		if live[key] {
			continue
		}
		companions := companionsFor(key)

		cost := chunk.TokenCount
		companionChunks := make([]*token.Chunk, 0, len(companions))
		for _, ck := range companions {
			if live[ck] {
				continue
			}
			cc, err := p.idx.GetChunk(ck)
			if err != nil {
				return result, fmt.Errorf("resurrection: loading companion %s: %w", ck, err)
			}
			if cc == nil {
				continue // companion was never written (e.g. session boundary) or is gone
			}
			cost += cc.TokenCount
			companionChunks = append(companionChunks, cc)
		}

		if used+cost > raw {
			continue
		}

		p.ws.Resurrect(chunk)
		live[key] = true
		result.Resurrected = append(result.Resurrected, key)
		for _, cc := range companionChunks {
			p.ws.Resurrect(cc)
			live[cc.Key] = true
			result.Resurrected = append(result.Resurrected, cc.Key)
		}
		used += cost
	}
	result.Used = used

	logging.ResurrectionDebug("plan: budget=%d used=%d resurrected=%d pruned=%d", result.Budget, result.Used, len(result.Resurrected), len(result.Pruned))
	return result, nil
}

func liveSet(ws *workingset.WorkingSet) map[token.ChunkKey]bool {
	out := make(map[token.ChunkKey]bool)
	for _, s := range ws.Sentences() {
		out[s.Key] = true
	}
	return out
}

// companionsFor returns key's turn-pair companions: for an assistant chunk
// at (t, s, assistant), (t-1, 0, user) and (t, 0, assistant); for a user
// chunk at (t, s, user), (t, 0, user) and (t+1, 0, assistant). If the
// candidate itself is sentence 0, the companion equal to the candidate is
// omitted. System-role chunks (reflections) have no turn-pair companion.
func companionsFor(key token.ChunkKey) []token.ChunkKey {
	var companions []token.ChunkKey
	switch key.Role {
	case token.RoleAssistant:
		companions = []token.ChunkKey{
			{TurnID: key.TurnID.Prev(), SentenceID: 0, Role: token.RoleUser},
			{TurnID: key.TurnID, SentenceID: 0, Role: token.RoleAssistant},
		}
	case token.RoleUser:
		companions = []token.ChunkKey{
			{TurnID: key.TurnID, SentenceID: 0, Role: token.RoleUser},
			{TurnID: key.TurnID.Next(), SentenceID: 0, Role: token.RoleAssistant},
		}
	default:
		return nil
	}

	out := companions[:0]
	for _, c := range companions {
		if c != key {
			out = append(out, c)
		}
	}
	return out
}
