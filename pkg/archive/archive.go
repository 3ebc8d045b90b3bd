package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
	"github.com/tmc/langchaingo/textsplitter"
)

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Store interface {
	AddPassages(ctx context.Context, passages []vectorstore.Passage) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int) ([]vectorstore.SearchResult, error)
	PassagesByRun(ctx context.Context, runID uuid.UUID) ([]vectorstore.Passage, error)
}

// Archive keeps finished analyses searchable by meaning.
type Archive struct {
	store    Store
	embedder Embedder
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
}

// Entry is what gets archived for a finished run.
type Entry struct {
	RunID    uuid.UUID
	Idea     string
	Model    string
	Provider string
	Analysis string
}

// Match is a search hit.
type Match struct {
	RunID   uuid.UUID `json:"run_id"`
	Idea    string    `json:"idea"`
	Excerpt string    `json:"excerpt"`
	Score   float64   `json:"score"`
}

func New(store Store, embedder Embedder, chunkSize, chunkOverlap int, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		store:    store,
		embedder: embedder,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		logger: logger,
	}
}

// Index splits, embeds and stores an analysis. Empty analyses are skipped.
func (a *Archive) Index(ctx context.Context, e Entry) error {
	text := strings.TrimSpace(e.Analysis)
	if text == "" {
		return nil
	}

	chunks, err := a.splitter.SplitText(text)
	if err != nil {
		return fmt.Errorf("failed to split analysis: %w", err)
	}

	vectors, err := a.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed analysis: %w", err)
	}

	passages := make([]vectorstore.Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = vectorstore.Passage{
			RunID:      e.RunID,
			ChunkIndex: i,
			Content:    chunk,
			Metadata: map[string]interface{}{
				"idea":     e.Idea,
				"model":    e.Model,
				"provider": e.Provider,
			},
			Embedding: vectors[i],
		}
	}

	if err := a.store.AddPassages(ctx, passages); err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}

	a.logger.Info("Archived analysis", "run_id", e.RunID, "chunks", len(chunks))
	return nil
}

// Search returns up to topK passages similar to query, best first.
func (a *Archive) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	vec, err := a.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := a.store.SimilaritySearch(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		idea, _ := r.Passage.Metadata["idea"].(string)
		matches = append(matches, Match{
			RunID:   r.Passage.RunID,
			Idea:    idea,
			Excerpt: r.Passage.Content,
			Score:   r.Score,
		})
	}
	return matches, nil
}

// Passages returns the archived chunks of one run in order.
func (a *Archive) Passages(ctx context.Context, runID uuid.UUID) ([]vectorstore.Passage, error) {
	passages, err := a.store.PassagesByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load passages for run %s: %w", runID, err)
	}
	return passages, nil
}
