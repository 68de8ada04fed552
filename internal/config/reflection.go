package config

// ReflectionConfig configures the idle-timer reflection trigger: when the
// session has been quiet for MinInactivityMS with at least MinMessages new
// turns since the last reflection, a synthetic summary is generated and
// injected as a chunk, budgeted to MaxTokens.
type ReflectionConfig struct {
	// Enabled controls whether the reflection trigger fires at all.
	Enabled bool `yaml:"enabled"`

	// MinInactivityMS is how long the session must be idle before arming.
	MinInactivityMS int `yaml:"min_inactivity_ms"`

	// MinMessages is the minimum turn count since the last reflection
	// before the trigger is allowed to fire again.
	MinMessages int `yaml:"min_messages"`

	// MaxTokens bounds the length of the generated reflection summary.
	MaxTokens int `yaml:"max_tokens"`

	// Prompt is the instruction sent to the Generator to produce the
	// summary. Empty uses the built-in default prompt.
	Prompt string `yaml:"prompt"`
}

// DefaultReflectionConfig returns sensible defaults for the reflection trigger.
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{
		Enabled:         true,
		MinInactivityMS: 120_000,
		MinMessages:     4,
		MaxTokens:       256,
		Prompt:          "Summarize the key facts and decisions from the preceding conversation in a few sentences.",
	}
}
