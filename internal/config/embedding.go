package config

// EmbeddingConfig configures the embedding backend used by the Semantic
// Index. Provider selects between a local Ollama server and Google GenAI;
// Dim is the fixed vector width every embedding call must return (spec.md
// requires chunk vectors to be comparable under a single ANN index).
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "ollama" or "genai"
	Dim      int    `yaml:"dim"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"`
}

// DefaultEmbeddingConfig defaults to a local Ollama backend with a 384-wide
// vector, matching the nomic-embed-text family's output dimension.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "ollama",
		Dim:            384,
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "nomic-embed-text",
		GenAIModel:     "text-embedding-004",
		TaskType:       "RETRIEVAL_DOCUMENT",
	}
}
