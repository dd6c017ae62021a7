package embedding

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// QueryTaskPrefix marks a text as a search query rather than a document to
// be indexed, mirroring the asymmetric embedding convention Gemini expects.
const QueryTaskPrefix = "query: "

const (
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

// GeminiProvider embeds text through google.golang.org/genai's
// EmbedContent, one call per text in sequence, so each text is sent with its
// own task type.
type GeminiProvider struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiProvider wires an already-constructed genai client. dim is the
// requested OutputDimensionality; the gateway's embedding vector width
// follows it directly.
func NewGeminiProvider(client *genai.Client, model string, dim int) *GeminiProvider {
	return &GeminiProvider{client: client, model: model, dim: dim}
}

func (p *GeminiProvider) Dimension() int { return p.dim }

func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		taskType := taskTypeDocument
		if strings.HasPrefix(text, QueryTaskPrefix) {
			taskType = taskTypeQuery
			text = strings.TrimPrefix(text, QueryTaskPrefix)
		}

		contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
		dim := int32(p.dim)
		res, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embed at index %d: %w", i, err)
		}
		if len(res.Embeddings) == 0 {
			return nil, fmt.Errorf("gemini returned no embeddings at index %d", i)
		}
		vec := res.Embeddings[0].Values
		L2Normalize(vec)
		results[i] = vec
	}
	return results, nil
}
