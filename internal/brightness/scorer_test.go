package brightness

import (
	"testing"

	"lucid/internal/config"
	"lucid/internal/ids"
)

func slots(positions ...uint64) []ContextSlot {
	out := make([]ContextSlot, len(positions))
	for i, p := range positions {
		out[i] = ContextSlot{Position: ids.PositionFromUint64(p), TurnID: ids.TurnIDFromUint64(0)}
	}
	return out
}

func uniformTensor(layers, heads, c int, value float64) [][][]float64 {
	t := make([][][]float64, layers)
	for l := range t {
		t[l] = make([][]float64, heads)
		for h := range t[l] {
			t[l][h] = make([]float64, c)
			for i := range t[l][h] {
				t[l][h][i] = value
			}
		}
	}
	return t
}

func TestMarkIgnoresCurrentTurnTokens(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.MinDistance = 0
	s := New(cfg)

	ctx := []ContextSlot{{Position: ids.PositionFromUint64(0), TurnID: ids.TurnIDFromUint64(5)}}
	s.Mark(AttentionStep{
		Tensor:         uniformTensor(1, 1, 1, 1.0),
		Context:        ctx,
		GeneratingTurn: ids.TurnIDFromUint64(5),
	})
	if got := s.Brightness(ids.PositionFromUint64(0)); got != 0 {
		t.Errorf("expected current-turn token to stay at 0 brightness, got %v", got)
	}
}

func TestMarkAppliesHardCutoffBelowMinDistance(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.MinDistance = 5
	cfg.DecayRate = 0
	s := New(cfg)

	ctx := slots(0, 1) // distances from cursor (index len-1): 1, 0 — both < min_distance
	s.Mark(AttentionStep{
		Tensor:         uniformTensor(1, 1, 2, 1.0),
		Context:        ctx,
		GeneratingTurn: ids.TurnIDFromUint64(99),
	})
	if got := s.Brightness(ids.PositionFromUint64(0)); got != 0 {
		t.Errorf("expected token within min_distance to receive zero weight, got %v", got)
	}
}

func TestMarkNoneDistanceModeBypassesMinDistance(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.MinDistance = 5
	cfg.DecayRate = 0
	cfg.DistanceMode = "none"
	s := New(cfg)

	ctx := slots(0, 1) // distances 1, 0 — both would be below min_distance under hard_cutoff
	s.Mark(AttentionStep{
		Tensor:         uniformTensor(1, 1, 2, 1.0),
		Context:        ctx,
		GeneratingTurn: ids.TurnIDFromUint64(99),
	})
	if got := s.Brightness(ids.PositionFromUint64(0)); got != 1 {
		t.Errorf("expected none distance_mode to ignore min_distance and weigh 1, got %v", got)
	}
}

func TestMarkCumulativeDecayAccumulatesBeyondMinDistance(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.MinDistance = 0
	cfg.DecayMode = "additive"
	cfg.DecayRate = 0
	s := New(cfg)

	ctx := slots(0)
	step := AttentionStep{Tensor: uniformTensor(1, 1, 1, 0.5), Context: ctx, GeneratingTurn: ids.TurnIDFromUint64(99)}
	s.Mark(step)
	s.Mark(step)

	if got := s.Brightness(ids.PositionFromUint64(0)); got != 1.0 {
		t.Errorf("expected brightness to accumulate to 1.0 after two steps, got %v", got)
	}
}

func TestMarkExponentialDecayShrinksRunningValue(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.MinDistance = 0
	cfg.DecayMode = "exponential"
	cfg.DecayRate = 0.5
	s := New(cfg)
	s.Set(ids.PositionFromUint64(0), 1.0)

	ctx := slots(0)
	s.Mark(AttentionStep{Tensor: uniformTensor(1, 1, 1, 0.0), Context: ctx, GeneratingTurn: ids.TurnIDFromUint64(99)})

	if got := s.Brightness(ids.PositionFromUint64(0)); got != 0.5 {
		t.Errorf("expected 1.0 * (1-0.5) = 0.5, got %v", got)
	}
}

func TestMarkRollingMeanVotingBrightensOnlyAboveMean(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.Mode = "rolling_mean_voting"
	cfg.MinDistance = 0
	s := New(cfg)

	ctx := slots(0, 1)
	tensor := [][][]float64{{{0.1, 0.9}}} // token 0 below mean(0.5), token 1 above
	s.Mark(AttentionStep{Tensor: tensor, Context: ctx, GeneratingTurn: ids.TurnIDFromUint64(99)})

	if got := s.Brightness(ids.PositionFromUint64(0)); got != 0 {
		t.Errorf("expected below-mean token to stay at 0, got %v", got)
	}
	if got := s.Brightness(ids.PositionFromUint64(1)); got != 1 {
		t.Errorf("expected above-mean token to gain 1 vote, got %v", got)
	}
}

func TestInitialBrightnessRespectsFloorMeanAndDeletionReputation(t *testing.T) {
	cfg := config.DefaultBrightnessConfig()
	cfg.InitialFloor = 0.1
	s := New(cfg)
	s.Set(ids.PositionFromUint64(1), 0.4)
	s.Set(ids.PositionFromUint64(2), 0.6)

	positions := []ids.Position{ids.PositionFromUint64(1), ids.PositionFromUint64(2)}
	if got := s.InitialBrightness(positions, 0); got != 0.5 {
		t.Errorf("expected mean 0.5 to win over floor 0.1, got %v", got)
	}
	if got := s.InitialBrightness(positions, 0.9); got != 0.9 {
		t.Errorf("expected earned reputation 0.9 to win, got %v", got)
	}
	if got := s.InitialBrightness(nil, 0); got != cfg.InitialFloor {
		t.Errorf("expected floor with no working set context, got %v", got)
	}
}

func TestPeakReturnsMaxAcrossPositions(t *testing.T) {
	s := New(config.DefaultBrightnessConfig())
	s.Set(ids.PositionFromUint64(0), 0.2)
	s.Set(ids.PositionFromUint64(1), 0.8)
	positions := []ids.Position{ids.PositionFromUint64(0), ids.PositionFromUint64(1)}
	if got := s.Peak(positions); got != 0.8 {
		t.Errorf("expected peak 0.8, got %v", got)
	}
}
