// Package brightness implements the Brightness Scorer: it turns per-step
// attention tensors into a running per-token brightness value that the
// Working Set uses to decide what to keep active and the Resurrection
// Planner uses to judge relevance.
package brightness

import (
	"math"
	"sync"

	"lucid/internal/config"
	"lucid/internal/ids"
	"lucid/internal/logging"
)

// ContextSlot describes one position in the attention tensor's context
// dimension: which token occupied that slot when the step was computed.
type ContextSlot struct {
	Position ids.Position
	TurnID   ids.TurnID
}

// AttentionStep is one generation step's attention tensor, shaped
// [layers][heads][len(Context)], alongside which live token occupied each
// context slot and which turn is currently generating.
type AttentionStep struct {
	Tensor         [][][]float64
	Context        []ContextSlot
	GeneratingTurn ids.TurnID
}

// Scorer maintains the brightness map keyed by position. It never deletes
// entries; pruning is the Working Set's responsibility.
type Scorer struct {
	cfg config.BrightnessConfig
	mu  sync.Mutex
	b   map[string]float64
}

// New constructs a Scorer under the given policy.
func New(cfg config.BrightnessConfig) *Scorer {
	return &Scorer{cfg: cfg, b: make(map[string]float64)}
}

// Brightness returns a token's current brightness, or 0 if never observed.
func (s *Scorer) Brightness(p ids.Position) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b[p.String()]
}

// Set forces a position's brightness, used by the Working Set when
// admitting or resurrecting a token.
func (s *Scorer) Set(p ids.Position, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b[p.String()] = v
}

// Forget removes a position's brightness entirely. Used when a position is
// permanently retired (soft-deleted at the store level), not for ordinary
// pruning — pruned tokens keep their brightness so resurrection can respect
// earned reputation.
func (s *Scorer) Forget(p ids.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.b, p.String())
}

// MeanOverPositions returns the mean brightness across a set of positions,
// used by InitialBrightness's mean_brightness term.
func (s *Scorer) MeanOverPositions(positions []ids.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, p := range positions {
		sum += s.b[p.String()]
	}
	return sum / float64(len(positions))
}

// InitialBrightness computes the starting brightness for a newly admitted
// or resurrected token: max(floor, mean_brightness, brightness_at_deletion).
// brightnessAtDeletion is 0 (no effect) when the token was never pruned.
func (s *Scorer) InitialBrightness(workingSetPositions []ids.Position, brightnessAtDeletion float64) float64 {
	v := s.cfg.InitialFloor
	if mean := s.MeanOverPositions(workingSetPositions); mean > v {
		v = mean
	}
	if brightnessAtDeletion > v {
		v = brightnessAtDeletion
	}
	return v
}

// Peak returns the maximum brightness among the given positions — the
// sentence's peak(sentence) value used for pruning and resurrection.
func (s *Scorer) Peak(positions []ids.Position) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var peak float64
	for _, p := range positions {
		if v := s.b[p.String()]; v > peak {
			peak = v
		}
	}
	return peak
}

// aggregate collapses one context slot's per-layer, per-head weights to a
// scalar according to the configured aggregation policy.
func aggregate(tensor [][][]float64, slot int, policy string) float64 {
	L := len(tensor)
	if L == 0 {
		return 0
	}
	switch policy {
	case "last_layer":
		return aggregateHeads(tensor[L-1], slot)
	case "max":
		var m float64
		for l := 0; l < L; l++ {
			if v := aggregateHeads(tensor[l], slot); v > m {
				m = v
			}
		}
		return m
	case "weighted_layers":
		var sum, weightTotal float64
		for l := 0; l < L; l++ {
			w := float64(l + 1) // later layers weighted more heavily
			sum += w * aggregateHeads(tensor[l], slot)
			weightTotal += w
		}
		if weightTotal == 0 {
			return 0
		}
		return sum / weightTotal
	default: // "mean"
		var sum float64
		for l := 0; l < L; l++ {
			sum += aggregateHeads(tensor[l], slot)
		}
		return sum / float64(L)
	}
}

func aggregateHeads(layer [][]float64, slot int) float64 {
	H := len(layer)
	if H == 0 {
		return 0
	}
	var sum float64
	for h := 0; h < H; h++ {
		if slot < len(layer[h]) {
			sum += layer[h][slot]
		}
	}
	return sum / float64(H)
}

// distanceWeight computes w(d): zero below MinDistance, otherwise 1 under
// hard_cutoff or a smooth ramp under the other modes. "none" bypasses
// filtering entirely, including the MinDistance floor, and always weighs 1.
func (s *Scorer) distanceWeight(d int) float64 {
	if s.cfg.DistanceMode == "none" {
		return 1
	}
	if d < s.cfg.MinDistance {
		return 0
	}
	switch s.cfg.DistanceMode {
	case "linear":
		return math.Min(1, float64(d)/s.cfg.DistanceScale)
	case "logarithmic":
		return math.Min(1, math.Log1p(float64(d))/math.Log1p(s.cfg.DistanceScale))
	case "square_root":
		return math.Min(1, math.Sqrt(float64(d))/math.Sqrt(s.cfg.DistanceScale))
	default: // hard_cutoff
		return 1
	}
}

// Mark folds one generation step's attention tensor into the brightness
// map. The generation cursor is the last context slot (the token about to
// be attended from); distance for slot i is len(Context)-1-i.
func (s *Scorer) Mark(step AttentionStep) {
	timer := logging.StartTimer(logging.CategoryBrightness, "Mark")
	defer timer.Stop()

	C := len(step.Context)
	if C == 0 {
		return
	}

	weights := make([]float64, C)
	for i := 0; i < C; i++ {
		weights[i] = aggregate(step.Tensor, i, s.cfg.Aggregation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.cfg.Mode {
	case "rolling_mean_voting":
		s.markRollingMeanVoting(step, weights)
	default:
		s.markCumulativeDecay(step, weights)
	}
}

func (s *Scorer) markCumulativeDecay(step AttentionStep, weights []float64) {
	C := len(step.Context)
	for i := 0; i < C; i++ {
		slot := step.Context[i]
		key := slot.Position.String()

		if slot.TurnID.Equal(step.GeneratingTurn) {
			continue // current-turn immunity
		}
		d := C - 1 - i
		w := s.distanceWeight(d)
		if w == 0 {
			continue
		}

		cur := s.b[key]
		if s.cfg.DecayMode == "exponential" {
			cur = cur * (1 - s.cfg.DecayRate)
		} else {
			cur = cur - s.cfg.DecayRate
		}
		cur += weights[i] * w
		if cur < 0 {
			cur = 0
		}
		s.b[key] = cur
	}
}

func (s *Scorer) markRollingMeanVoting(step AttentionStep, weights []float64) {
	C := len(step.Context)

	var eligible []int
	var sum float64
	for i := 0; i < C; i++ {
		if step.Context[i].TurnID.Equal(step.GeneratingTurn) {
			continue
		}
		d := C - 1 - i
		if s.distanceWeight(d) == 0 {
			continue
		}
		eligible = append(eligible, i)
		sum += weights[i]
	}
	if len(eligible) == 0 {
		return
	}
	mean := sum / float64(len(eligible))

	for _, i := range eligible {
		if weights[i] > mean {
			key := step.Context[i].Position.String()
			s.b[key]++
		}
	}
}
