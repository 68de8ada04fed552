package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"lucid/internal/logging"
)

// maxGenAIBatchSize is the API's cap on requests in one EmbedContent call.
const maxGenAIBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

type genaiEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dim      int
}

func newGenAIEngine(apiKey, model, taskType string, dim int) (*genaiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding: genai api key is required")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}
	if dim <= 0 {
		dim = 384
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("embedding: creating genai client: %w", err)
	}

	return &genaiEngine{client: client, model: model, taskType: taskType, dim: dim}, nil
}

func (e *genaiEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "genai.Embed")
	defer timer.Stop()

	out, err := e.embedChunk(ctx, []string{truncate(text)})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("embedding: genai returned no embeddings")
	}
	return out[0], nil
}

// EmbedBatch uses GenAI's native batch endpoint, chunking at maxGenAIBatchSize
// and concatenating results, since the API rejects larger single requests.
func (e *genaiEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "genai.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = truncate(t)
	}

	var out [][]float32
	for _, batch := range chunkStrings(truncated, maxGenAIBatchSize) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		chunkOut, err := e.embedChunk(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding: genai batch failed: %w", err)
		}
		out = append(out, chunkOut...)
	}
	return out, nil
}

func (e *genaiEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(int32(e.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: genai EmbedContent: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = normalize(resizeToDim(emb.Values, e.dim))
	}
	return out, nil
}

func (e *genaiEngine) Dimensions() int  { return e.dim }
func (e *genaiEngine) ModelTag() string { return "genai:" + e.model }
