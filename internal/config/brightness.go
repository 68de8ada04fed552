package config

import "fmt"

// BrightnessConfig configures the Brightness Scorer: how multi-layer,
// multi-head attention is aggregated down to one weight per token, how
// distance from the generation cursor filters or reweights that weight,
// and how the resulting weight folds into a running brightness value.
type BrightnessConfig struct {
	// Mode selects the score update rule: "cumulative_decay" accumulates
	// weight every step and decays the running value; "rolling_mean_voting"
	// brightens tokens whose weight beats the step's mean.
	Mode string `yaml:"mode"`

	// Aggregation collapses a token's per-layer, per-head attention
	// weights to one scalar: "mean", "max", "last_layer", or
	// "weighted_layers".
	Aggregation string `yaml:"aggregation"`

	// DecayRate is applied once per step in cumulative_decay mode. In
	// "additive" DecayMode it is subtracted after adding the new weight;
	// in "exponential" DecayMode the running brightness is multiplied by
	// (1 - DecayRate) before the new weight is added.
	DecayRate float64 `yaml:"decay_rate"`

	// DecayMode selects the decay arithmetic: "additive" or "exponential".
	DecayMode string `yaml:"decay_mode"`

	// DistanceMode selects how index distance from the generation cursor
	// affects weight beyond the MinDistance floor: "hard_cutoff" (full
	// weight once past MinDistance), a smooth ramp — "logarithmic",
	// "linear", "square_root" — scaled by DistanceScale, or "none" (no
	// distance filtering at all; every token always weighs 1).
	DistanceMode string `yaml:"distance_mode"`

	// MinDistance is the index distance below which a token always
	// receives zero weight, suppressing the local self-attention wave
	// near the generation head.
	MinDistance int `yaml:"min_distance"`

	// DistanceScale is the denominator of the smooth reweighting curve;
	// unused when DistanceMode is hard_cutoff.
	DistanceScale float64 `yaml:"distance_scale"`

	// InitialFloor is the minimum brightness given to a newly admitted or
	// resurrected token, regardless of the working set's current mean.
	InitialFloor float64 `yaml:"initial_floor"`
}

// DefaultBrightnessConfig returns the scorer's default policy.
func DefaultBrightnessConfig() BrightnessConfig {
	return BrightnessConfig{
		Mode:          "cumulative_decay",
		Aggregation:   "mean",
		DecayRate:     0.02,
		DecayMode:     "additive",
		DistanceMode:  "hard_cutoff",
		MinDistance:   64,
		DistanceScale: 256,
		InitialFloor:  0.05,
	}
}

// Validate rejects policy combinations the scorer cannot honor.
func (c *BrightnessConfig) Validate() error {
	switch c.Mode {
	case "cumulative_decay", "rolling_mean_voting":
	default:
		return fmt.Errorf("mode must be cumulative_decay or rolling_mean_voting, got %q", c.Mode)
	}
	switch c.Aggregation {
	case "mean", "max", "last_layer", "weighted_layers":
	default:
		return fmt.Errorf("aggregation must be mean, max, last_layer, or weighted_layers, got %q", c.Aggregation)
	}
	if c.Mode == "cumulative_decay" {
		switch c.DecayMode {
		case "additive", "exponential":
		default:
			return fmt.Errorf("decay_mode must be additive or exponential, got %q", c.DecayMode)
		}
		if c.DecayMode == "exponential" && (c.DecayRate <= 0 || c.DecayRate > 1) {
			return fmt.Errorf("decay_rate must be in (0, 1] for exponential decay, got %v", c.DecayRate)
		}
		if c.DecayMode == "additive" && c.DecayRate < 0 {
			return fmt.Errorf("decay_rate must be >= 0 for additive decay, got %v", c.DecayRate)
		}
	}
	switch c.DistanceMode {
	case "hard_cutoff", "logarithmic", "linear", "square_root", "none":
	default:
		return fmt.Errorf("distance_mode must be hard_cutoff, logarithmic, linear, square_root, or none, got %q", c.DistanceMode)
	}
	if c.MinDistance < 0 {
		return fmt.Errorf("min_distance must be >= 0")
	}
	if c.DistanceMode != "hard_cutoff" && c.DistanceMode != "none" && c.DistanceScale <= 0 {
		return fmt.Errorf("distance_scale must be > 0 for smooth distance reweighting")
	}
	if c.InitialFloor < 0 {
		return fmt.Errorf("initial_floor must be >= 0")
	}
	return nil
}
