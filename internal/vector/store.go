// Package vector persists chunks in Postgres with pgvector and answers
// hybrid lexical+vector queries over them.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/umutsun/asemb/internal/asemberr"
)

const DefaultTable = "chunks"

// Chunk is one stored row: the unit of embedding and retrieval.
type Chunk struct {
	ID          string
	SourceID    string
	ChunkIndex  int
	Text        string
	ContentHash string
	Embedding   []float32
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store wraps a *sql.DB. All writes are idempotent upserts keyed by
// (source_id, chunk_index), so retried writes are safe to re-issue.
type Store struct {
	db    *sql.DB
	table string
}

func NewStore(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

// Table returns the table the store reads and writes. Part of cache key
// identity: results from different tables must never share an entry.
func (s *Store) Table() string { return s.table }

// Upsert writes the chunk in a single statement: either the full row
// appears or the conflict target's non-key columns are all overwritten.
// A losing concurrent writer can never leave a half-updated row.
func (s *Store) Upsert(ctx context.Context, chunk Chunk) error {
	if chunk.SourceID == "" {
		return asemberr.New(asemberr.CodeMissingRequired, "chunk source id is required", false)
	}
	if len(chunk.Embedding) == 0 {
		return asemberr.New(asemberr.CodeMissingRequired, "chunk embedding is required", false)
	}
	if chunk.ID == "" {
		chunk.ID = fmt.Sprintf("%s:%d", chunk.SourceID, chunk.ChunkIndex)
	}

	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return asemberr.Wrap(err, asemberr.CodeInvalidInput, "marshal chunk metadata", false)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, source_id, chunk_index, text, content_hash, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, now())
		ON CONFLICT (source_id, chunk_index) DO UPDATE SET
			text = EXCLUDED.text,
			content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = now()`, escapeIdent(s.table))

	_, err = s.db.ExecContext(ctx, query,
		chunk.ID, chunk.SourceID, chunk.ChunkIndex, chunk.Text,
		chunk.ContentHash, VectorLiteral(chunk.Embedding), metadata)
	if err != nil {
		return storeError(err, "upsert chunk")
	}
	return nil
}

// ExistingHashes returns chunk_index -> content_hash for every stored
// chunk of the source. A row only exists once its embedding succeeded,
// so presence here means "already embedded".
func (s *Store) ExistingHashes(ctx context.Context, sourceID string) (map[int]string, error) {
	query := fmt.Sprintf("SELECT chunk_index, content_hash FROM %s WHERE source_id = $1", escapeIdent(s.table))
	rows, err := s.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, storeError(err, "query existing hashes")
	}
	defer rows.Close()

	hashes := make(map[int]string)
	for rows.Next() {
		var idx int
		var hash string
		if err := rows.Scan(&idx, &hash); err != nil {
			return nil, storeError(err, "scan existing hash")
		}
		hashes[idx] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "iterate existing hashes")
	}
	return hashes, nil
}

// DeleteBySource removes every chunk of a source. Used on re-sync and
// document removal.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE source_id = $1", escapeIdent(s.table))
	res, err := s.db.ExecContext(ctx, query, sourceID)
	if err != nil {
		return 0, storeError(err, "delete chunks by source")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", escapeIdent(s.table))
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, storeError(err, "count chunks")
	}
	return count, nil
}

// VectorLiteral renders a float32 slice in pgvector's text format.
func VectorLiteral(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func escapeIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// storeError classifies database failures: connection-class and
// resource-class errors are retryable, pool exhaustion gets its own
// code, anything else is a query failure.
func storeError(err error, op string) *asemberr.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "53": // insufficient resources: too_many_connections etc.
			return asemberr.Wrap(err, asemberr.CodeStorePoolExhausted, op, true)
		case "08": // connection exceptions
			return asemberr.Wrap(err, asemberr.CodeStoreConnection, op, true)
		}
		return asemberr.Wrap(err, asemberr.CodeStoreQuery, op, false)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return asemberr.Wrap(err, asemberr.CodeStoreConnection, op, true)
	}
	return asemberr.Wrap(err, asemberr.CodeStoreQuery, op, false)
}
