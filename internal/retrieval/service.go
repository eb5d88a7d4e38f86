// Package retrieval answers hybrid search queries: embed the query,
// fuse lexical and vector scores in the store, cache the result.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/cache"
	"github.com/umutsun/asemb/internal/embedding"
	"github.com/umutsun/asemb/internal/middleware"
	"github.com/umutsun/asemb/internal/vector"
)

const (
	DefaultBM25Weight   = 0.3
	DefaultVectorWeight = 0.7
	DefaultTopK         = 10
	MaxTopK             = 100
	DefaultTimeout      = 10 * time.Second
)

type SearchResult struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"sourceId"`
	ChunkIndex int            `json:"chunkIndex"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	BM25       float64        `json:"bm25"`
	VecSim     float64        `json:"vecsim"`
	Score      float64        `json:"score"`
}

// SearchOptions are per-query overrides. Nil fields fall back to the
// service defaults. Stale permits an expired cached result when the
// provider or store is down; without it a failed query returns the
// error, never old data.
type SearchOptions struct {
	BM25Weight   *float64
	VectorWeight *float64
	TopK         *int
	Metric       vector.DistanceMetric
	Language     string
	Stale        bool
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) (*embedding.Result, error)
}

type Searcher interface {
	HybridSearch(ctx context.Context, q vector.HybridQuery) ([]vector.SearchResult, error)
	Table() string
}

// ResultCache is the slice of the multi-layer cache the service uses.
type ResultCache interface {
	GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error), opts cache.Options) ([]byte, error)
}

type Service struct {
	embedder Embedder
	store    Searcher
	cache    ResultCache
	cacheTTL time.Duration
	timeout  time.Duration
	qlog     *QueryLogger
}

func NewService(e Embedder, s Searcher, c ResultCache, cacheTTL, timeout time.Duration, qlog *QueryLogger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{embedder: e, store: s, cache: c, cacheTTL: cacheTTL, timeout: timeout, qlog: qlog}
}

// Search runs one hybrid query. Identical queries within the cache TTL
// are served from cache without touching the provider or the store.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	start := time.Now()

	params, err := s.resolve(query, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	computed := false
	compute := func(ctx context.Context) ([]byte, error) {
		computed = true
		res, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if len(res.Vectors) != 1 {
			return nil, asemberr.New(asemberr.CodeProviderFailed, "provider returned no query vector", false)
		}
		params.Embedding = res.Vectors[0]
		results, err := s.store.HybridSearch(ctx, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(toSearchResults(results))
	}

	stale := opts != nil && opts.Stale

	var payload []byte
	if s.cache != nil {
		key := cache.Key("search", searchKey{
			Query:        query,
			Table:        s.store.Table(),
			BM25Weight:   params.BM25Weight,
			VectorWeight: params.VectorWeight,
			TopK:         params.TopK,
			Metric:       string(params.Metric),
			Language:     params.Language,
		})
		payload, err = s.cache.GetOrCompute(ctx, key, compute, cache.Options{TTL: s.cacheTTL, Stale: stale})
	} else {
		payload, err = compute(ctx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, asemberr.Wrap(err, asemberr.CodeOperationTimeout, "search timed out", true)
		}
		return nil, err
	}

	var results []SearchResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, asemberr.Wrap(err, asemberr.CodeCacheOperation, "decode cached results", false)
	}

	if s.qlog != nil {
		s.qlog.Log(QueryLogEntry{
			Query:         query,
			NumResults:    len(results),
			Cached:        !computed,
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return results, nil
}

// searchKey is the canonical cache identity of one query. Every field
// that changes the result set must appear here, including the store's
// table: the L2 tier may be shared by deployments over different tables.
type searchKey struct {
	Query        string  `json:"query"`
	Table        string  `json:"table"`
	BM25Weight   float64 `json:"bm25Weight"`
	VectorWeight float64 `json:"vectorWeight"`
	TopK         int     `json:"topK"`
	Metric       string  `json:"metric"`
	Language     string  `json:"language"`
}

func (s *Service) resolve(query string, opts *SearchOptions) (vector.HybridQuery, error) {
	if query == "" {
		return vector.HybridQuery{}, asemberr.New(asemberr.CodeMissingRequired, "query text is required", false)
	}

	params := vector.HybridQuery{
		Text:         query,
		BM25Weight:   DefaultBM25Weight,
		VectorWeight: DefaultVectorWeight,
		TopK:         DefaultTopK,
	}
	if opts != nil {
		if opts.BM25Weight != nil {
			params.BM25Weight = *opts.BM25Weight
		}
		if opts.VectorWeight != nil {
			params.VectorWeight = *opts.VectorWeight
		}
		if opts.TopK != nil {
			params.TopK = *opts.TopK
		}
		params.Metric = opts.Metric
		params.Language = opts.Language
	}

	if params.BM25Weight < 0 || params.VectorWeight < 0 {
		return vector.HybridQuery{}, asemberr.New(asemberr.CodeOutOfRange, "weights must be non-negative", false)
	}
	if params.BM25Weight == 0 && params.VectorWeight == 0 {
		return vector.HybridQuery{}, asemberr.New(asemberr.CodeOutOfRange, "at least one weight must be positive", false)
	}
	if params.TopK < 1 || params.TopK > MaxTopK {
		return vector.HybridQuery{}, asemberr.New(asemberr.CodeOutOfRange, "topK out of range", false)
	}
	return params, nil
}

func toSearchResults(rows []vector.SearchResult) []SearchResult {
	results := make([]SearchResult, len(rows))
	for i, r := range rows {
		results[i] = SearchResult{
			ID:         r.ID,
			SourceID:   r.SourceID,
			ChunkIndex: r.ChunkIndex,
			Text:       r.Text,
			Metadata:   r.Metadata,
			BM25:       r.BM25,
			VecSim:     r.VecSim,
			Score:      r.Score,
		}
	}
	return results
}
