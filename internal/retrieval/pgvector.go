package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seenimoa/portiq/pkg/models"
)

// pgQuerier abstracts the pool operations the pgvector store needs.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGVectorStore keeps documents in a Postgres table with a pgvector column
// and JSONB metadata.
type PGVectorStore struct {
	db    pgQuerier
	pool  *pgxpool.Pool
	table string
}

// NewPGVectorStore connects a pool to dsn.
func NewPGVectorStore(ctx context.Context, dsn, table string) (*PGVectorStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s := newPGVectorStore(pool, table)
	s.pool = pool
	return s, nil
}

func newPGVectorStore(db pgQuerier, table string) *PGVectorStore {
	if table == "" {
		table = "documents"
	}
	return &PGVectorStore{db: db, table: table}
}

// Close releases the pool.
func (s *PGVectorStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGVectorStore) searchSQL() string {
	return fmt.Sprintf(`
		SELECT content, metadata FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`, pgx.Identifier{s.table}.Sanitize())
}

// Search orders rows by cosine distance, keeping those whose metadata
// contains every filter pair.
func (s *PGVectorStore) Search(ctx context.Context, vector []float32, filters map[string]string, limit int) ([]models.Document, error) {
	if filters == nil {
		filters = map[string]string{}
	}
	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("pgvector filter: %w", err)
	}

	rows, err := s.db.Query(ctx, s.searchSQL(), vectorLiteral(vector), string(filterJSON), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			content  string
			metadata []byte
		)
		if err := rows.Scan(&content, &metadata); err != nil {
			return nil, fmt.Errorf("pgx rows scan error: %w", err)
		}
		var meta map[string]any
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &meta); err != nil {
				return nil, fmt.Errorf("pgvector metadata: %w", err)
			}
		}
		docs = append(docs, models.Document{Content: content, Metadata: stringifyMetadata(meta)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgx rows scan error: %w", err)
	}
	return docs, nil
}

// EnsureCollection creates the vector extension and the document table.
func (s *PGVectorStore) EnsureCollection(ctx context.Context, dimensions int) error {
	if _, err := s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("pgvector extension: %w", err)
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)
	`, pgx.Identifier{s.table}.Sanitize(), dimensions))
	if err != nil {
		return fmt.Errorf("pgvector table: %w", err)
	}
	return nil
}

// Upsert inserts or replaces points by id.
func (s *PGVectorStore) Upsert(ctx context.Context, points []Point) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3::jsonb, $4::vector)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`, pgx.Identifier{s.table}.Sanitize())

	for _, p := range points {
		meta, err := json.Marshal(p.Document.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector metadata: %w", err)
		}
		if _, err := s.db.Exec(ctx, stmt, p.ID, p.Document.Content, string(meta), vectorLiteral(p.Vector)); err != nil {
			return fmt.Errorf("pgvector upsert %s: %w", p.ID, err)
		}
	}
	return nil
}

// vectorLiteral renders v in pgvector text form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
