package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Passage is one embedded chunk of an archived analysis.
type Passage struct {
	ID         string                 `json:"id"`
	RunID      uuid.UUID              `json:"run_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Embedding  []float32              `json:"embedding,omitempty"`
}

// SearchResult is a passage with its cosine similarity to the query.
type SearchResult struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}

type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName accepts postgres-safe identifiers: letters, digits and
// underscores, starting with a lowercase letter or underscore, at most 63 chars.
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name %q: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long", tableName)
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// AddPassages inserts passages in a single batch.
func (vs *PGVectorStore) AddPassages(ctx context.Context, passages []Passage) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, chunk_index, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
	`, pgx.Identifier{vs.tableName}.Sanitize())

	batch := &pgx.Batch{}
	for _, p := range passages {
		metadataJSON, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, p.RunID, p.ChunkIndex, p.Content, metadataJSON, pgvector.NewVector(p.Embedding))
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range passages {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert passage: %w", err)
		}
	}

	return nil
}

// SimilaritySearch returns the topK passages closest to queryEmbedding.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT id, run_id, chunk_index, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgx.Identifier{vs.tableName}.Sanitize())

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var p Passage
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&p.ID, &p.RunID, &p.ChunkIndex, &p.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		results = append(results, SearchResult{Passage: p, Score: similarity})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// PassagesByRun returns the archived chunks of one run in order.
func (vs *PGVectorStore) PassagesByRun(ctx context.Context, runID uuid.UUID) ([]Passage, error) {
	query := fmt.Sprintf(`
		SELECT id, run_id, chunk_index, content, metadata
		FROM %s
		WHERE run_id = $1
		ORDER BY chunk_index ASC
	`, pgx.Identifier{vs.tableName}.Sanitize())

	rows, err := vs.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		var metadataJSON []byte
		if err := rows.Scan(&p.ID, &p.RunID, &p.ChunkIndex, &p.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		passages = append(passages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return passages, nil
}
