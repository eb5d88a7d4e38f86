// Package ingest turns documents into embedded chunks. It segments,
// dedupes by content hash, embeds and upserts concurrently, and keeps
// going when individual chunks fail.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/cache"
	"github.com/umutsun/asemb/internal/embedding"
	"github.com/umutsun/asemb/internal/resilience"
	"github.com/umutsun/asemb/internal/text"
	"github.com/umutsun/asemb/internal/vector"
)

const DefaultWorkerCount = 4

// ChunkStore is the slice of the vector store the pipeline writes to.
type ChunkStore interface {
	Upsert(ctx context.Context, chunk vector.Chunk) error
	ExistingHashes(ctx context.Context, sourceID string) (map[int]string, error)
	DeleteBySource(ctx context.Context, sourceID string) (int64, error)
}

// Invalidator drops cached query results after writes.
type Invalidator interface {
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
}

// Document is one unit of ingestion. SourceID identifies it across
// re-ingestions; chunks are keyed by (SourceID, index).
type Document struct {
	SourceID string
	Text     string
	Metadata map[string]any
}

type Pipeline struct {
	store       ChunkStore
	provider    embedding.Provider
	invalidator Invalidator
	recovery    *resilience.Registry
	pool        *ants.Pool
	segOpts     text.SegmentOptions
	logger      *slog.Logger
}

func NewPipeline(store ChunkStore, provider embedding.Provider, invalidator Invalidator, workers int, segOpts text.SegmentOptions, logger *slog.Logger) (*Pipeline, error) {
	if workers < 1 {
		workers = DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, asemberr.Wrap(err, asemberr.CodeInternal, "create worker pool", false)
	}
	return &Pipeline{
		store:       store,
		provider:    provider,
		invalidator: invalidator,
		pool:        pool,
		segOpts:     segOpts,
		logger:      logger,
	}, nil
}

// WithRecovery installs an error-code recovery registry applied to
// store writes. Call before the first Ingest.
func (p *Pipeline) WithRecovery(r *resilience.Registry) *Pipeline {
	p.recovery = r
	return p
}

// Release tears down the worker pool. The pipeline is unusable after.
func (p *Pipeline) Release() {
	p.pool.Release()
}

// Ingest segments the document and processes every chunk: unchanged
// chunks (same content hash at the same index) are skipped without an
// embedding call, the rest are embedded and upserted. Chunk failures
// are collected in the result, not returned; only input validation and
// segmentation fail the call itself.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (*BatchResult, error) {
	if doc.SourceID == "" {
		return nil, asemberr.New(asemberr.CodeMissingRequired, "document source id is required", false)
	}

	result := &BatchResult{SourceID: doc.SourceID}
	if strings.TrimSpace(doc.Text) == "" {
		return result, nil
	}

	chunks, err := text.Segment(doc.Text, p.segOpts)
	if err != nil {
		return nil, err
	}
	result.ChunksTotal = len(chunks)

	existing, err := p.store.ExistingHashes(ctx, doc.SourceID)
	if err != nil {
		// Upserts are idempotent, so losing the dedupe map only costs
		// extra embedding calls.
		p.logger.WarnContext(ctx, "existing hashes unavailable, skipping dedupe", "sourceId", doc.SourceID, "error", err)
		existing = nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, chunk := range chunks {
		idx, body := i, chunk
		hash := text.ContentHash(body)
		if existing[idx] == hash {
			result.Skipped++
			continue
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			embedded, tokens, err := p.processChunk(ctx, doc, idx, body, hash)
			mu.Lock()
			defer mu.Unlock()
			result.TokensUsed += tokens
			if embedded {
				result.EmbeddingCalls++
			}
			if err != nil {
				result.Failed = append(result.Failed, ItemError{
					Index:   idx,
					Code:    asemberr.CodeOf(err),
					Message: err.Error(),
				})
				return
			}
			result.Succeeded++
		}
		if submitErr := p.pool.Submit(task); submitErr != nil {
			task()
		}
	}
	wg.Wait()

	sort.Slice(result.Failed, func(a, b int) bool { return result.Failed[a].Index < result.Failed[b].Index })

	if result.Succeeded > 0 {
		p.invalidate(ctx, doc.SourceID)
	}
	return result, nil
}

// IngestBatch ingests several documents and returns one result per
// document, in input order. A document-level failure (missing source id,
// bad options) is recorded in that document's result instead of aborting
// the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, docs []Document) []*BatchResult {
	results := make([]*BatchResult, len(docs))
	for i, doc := range docs {
		res, err := p.Ingest(ctx, doc)
		if err != nil {
			res = &BatchResult{
				SourceID: doc.SourceID,
				Failed: []ItemError{{
					Index:   -1,
					Code:    asemberr.CodeOf(err),
					Message: err.Error(),
				}},
			}
		}
		results[i] = res
	}
	return results
}

// Remove deletes every chunk of a source and drops affected cache
// entries. Returns the number of chunks removed.
func (p *Pipeline) Remove(ctx context.Context, sourceID string) (int64, error) {
	if sourceID == "" {
		return 0, asemberr.New(asemberr.CodeMissingRequired, "source id is required", false)
	}
	n, err := p.store.DeleteBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.invalidate(ctx, sourceID)
	}
	return n, nil
}

// processChunk embeds and stores one chunk. The embedded flag reports
// whether a provider call was made, even when the later upsert fails.
func (p *Pipeline) processChunk(ctx context.Context, doc Document, idx int, body, hash string) (embedded bool, tokens int, err error) {
	// Cancellation is cooperative: chunks already in flight finish,
	// the rest bail out here.
	if err := ctx.Err(); err != nil {
		return false, 0, asemberr.Wrap(err, asemberr.CodeOperationCancelled, "ingestion cancelled", false)
	}

	vec, tokens, err := embedding.Single(ctx, p.provider, body)
	if err != nil {
		// A breaker fail-fast never reached the provider, so it is not
		// an embedding call.
		return !errors.Is(err, resilience.ErrBreakerOpen), 0, err
	}

	upsert := func(ctx context.Context) error {
		return p.store.Upsert(ctx, vector.Chunk{
			ID:          fmt.Sprintf("%s:%d", doc.SourceID, idx),
			SourceID:    doc.SourceID,
			ChunkIndex:  idx,
			Text:        body,
			ContentHash: hash,
			Embedding:   vec,
			Metadata:    doc.Metadata,
		})
	}
	err = upsert(ctx)
	if err != nil && p.recovery != nil {
		err = p.recovery.Handle(ctx, err, upsert)
	}
	return true, tokens, err
}

func (p *Pipeline) invalidate(ctx context.Context, sourceID string) {
	if p.invalidator == nil {
		return
	}
	for _, pattern := range []string{
		cache.KeyPrefix + ":search:*",
		fmt.Sprintf("%s:source:%s:*", cache.KeyPrefix, sourceID),
	} {
		if _, err := p.invalidator.InvalidatePattern(ctx, pattern); err != nil {
			p.logger.WarnContext(ctx, "cache invalidation failed", "pattern", pattern, "error", err)
		}
	}
}
