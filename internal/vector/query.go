package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/umutsun/asemb/internal/asemberr"
)

// DistanceMetric selects the pgvector distance operator.
type DistanceMetric string

const (
	MetricCosine       DistanceMetric = "cosine"
	MetricEuclidean    DistanceMetric = "euclidean"
	MetricInnerProduct DistanceMetric = "inner_product"
)

// operator returns the pgvector operator for the metric. Metrics are a
// closed set so the operator can be spliced into SQL directly.
func (m DistanceMetric) operator() (string, error) {
	switch m {
	case MetricCosine, "":
		return "<=>", nil
	case MetricEuclidean:
		return "<->", nil
	case MetricInnerProduct:
		return "<#>", nil
	}
	return "", asemberr.New(asemberr.CodeInvalidInput, fmt.Sprintf("unknown distance metric %q", m), false)
}

// HybridQuery describes one fused lexical+vector search.
type HybridQuery struct {
	Text         string
	Embedding    []float32
	BM25Weight   float64
	VectorWeight float64
	TopK         int
	Metric       DistanceMetric
	Language     string
}

// SearchResult is one scored row. BM25 and VecSim are the raw component
// scores, Score their weighted sum.
type SearchResult struct {
	ID         string
	SourceID   string
	ChunkIndex int
	Text       string
	Metadata   map[string]any
	BM25       float64
	VecSim     float64
	Score      float64
}

// HybridSearch scores every chunk by
//
//	bm25Weight * ts_rank_cd(tsv, query) + vectorWeight * 1/(1+distance)
//
// and returns the top K. Rows with no lexical match still qualify on
// vector similarity alone; ties break on vector similarity, then id, so
// the ordering is deterministic. ts_rank_cd uses normalization flag 32
// to keep the lexical component in [0, 1).
func (s *Store) HybridSearch(ctx context.Context, q HybridQuery) ([]SearchResult, error) {
	if len(q.Embedding) == 0 {
		return nil, asemberr.New(asemberr.CodeMissingRequired, "query embedding is required", false)
	}
	if q.TopK <= 0 {
		return nil, asemberr.New(asemberr.CodeOutOfRange, "topK must be positive", false)
	}
	op, err := q.Metric.operator()
	if err != nil {
		return nil, err
	}
	lang := q.Language
	if lang == "" {
		lang = "english"
	}

	query := fmt.Sprintf(`SELECT id, source_id, chunk_index, text, metadata,
			COALESCE(ts_rank_cd(tsv, plainto_tsquery($1::regconfig, $2), 32), 0) AS bm25,
			1.0 / (1.0 + (embedding %[2]s $3::vector)) AS vecsim,
			COALESCE(ts_rank_cd(tsv, plainto_tsquery($1::regconfig, $2), 32), 0) * $4 +
			1.0 / (1.0 + (embedding %[2]s $3::vector)) * $5 AS score
		FROM %[1]s
		ORDER BY score DESC, vecsim DESC, id ASC
		LIMIT $6`, escapeIdent(s.table), op)

	rows, err := s.db.QueryContext(ctx, query,
		lang, q.Text, VectorLiteral(q.Embedding), q.BM25Weight, q.VectorWeight, q.TopK)
	if err != nil {
		return nil, storeError(err, "hybrid search")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.SourceID, &r.ChunkIndex, &r.Text, &metadata, &r.BM25, &r.VecSim, &r.Score); err != nil {
			return nil, storeError(err, "scan search result")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, asemberr.Wrap(err, asemberr.CodeStoreQuery, "decode result metadata", false)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "iterate search results")
	}
	return results, nil
}
