package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultDimension matches the archive table's vector column.
const DefaultDimension = 1536

// maxBatch is the number of texts sent per EmbedContent call.
const maxBatch = 100

// GoogleEmbedder embeds text with the Gemini embedding models.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

func NewGoogleEmbedder(ctx context.Context, model, apiKey string) (*GoogleEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}

	return &GoogleEmbedder{
		client:    client,
		model:     model,
		dimension: DefaultDimension,
	}, nil
}

func (e *GoogleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts in batches, preserving order.
func (e *GoogleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
		}

		res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &e.dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed texts: %w", err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(res.Embeddings))
		}

		for _, emb := range res.Embeddings {
			if len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding returned")
			}
			result = append(result, emb.Values)
		}
	}

	return result, nil
}
