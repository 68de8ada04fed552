package config

// ResurrectionConfig configures the Resurrection Planner's chunk selection.
type ResurrectionConfig struct {
	// TopK is the number of candidate chunks the semantic index returns
	// per query before the planner applies its budget and pairing rules.
	TopK int `yaml:"top_k"`

	// Overscan multiplies TopK when the planner needs extra candidates to
	// survive turn-pair coherence filtering without re-querying the index.
	Overscan float64 `yaml:"overscan"`
}

// DefaultResurrectionConfig returns the planner's default candidate pool size.
func DefaultResurrectionConfig() ResurrectionConfig {
	return ResurrectionConfig{
		TopK:     20,
		Overscan: 1.5,
	}
}
