package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/umutsun/asemb/internal/asemberr"
)

const DefaultGeminiModel = "gemini-embedding-001"

// GeminiEmbedder is the production Provider backed by the Gemini
// embedding API. A client-side rate limiter smooths request bursts so
// the provider's own limiter is hit less often.
type GeminiEmbedder struct {
	client  *genai.Client
	model   string
	dim     int
	limiter *rate.Limiter
}

// NewGeminiEmbedder connects to the Gemini API. requestsPerSecond <= 0
// disables client-side throttling.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int, requestsPerSecond float64) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, asemberr.New(asemberr.CodeMissingRequired, "gemini api key is required", false)
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, asemberr.Wrap(err, asemberr.CodeProviderUnavailable, "create gemini client", true)
	}

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	return &GeminiEmbedder{client: client, model: model, dim: dim, limiter: limiter}, nil
}

func (e *GeminiEmbedder) Dimension() int { return e.dim }
func (e *GeminiEmbedder) Model() string  { return e.model }

func (e *GeminiEmbedder) Close() error { return e.client.Close() }

// Embed generates one vector per input text in a single batched call.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) (*Result, error) {
	if len(texts) == 0 {
		return &Result{}, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, asemberr.Wrap(err, asemberr.CodeOperationCancelled, "rate limiter wait", false)
		}
	}

	slog.DebugContext(ctx, "embedding batch", "model", e.model, "texts", len(texts))

	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	tokens := 0
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
		// The embedding endpoint reports no usage, so track the usual
		// 4-chars-per-token estimate for quota accounting.
		tokens += len(t) / 4
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, asemberr.New(asemberr.CodeProviderFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(res.Embeddings)), false)
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, asemberr.New(asemberr.CodeProviderFailed,
				fmt.Sprintf("empty embedding at index %d", i), false)
		}
		vectors[i] = emb.Values
	}

	return &Result{Vectors: vectors, TokensUsed: tokens}, nil
}

// classifyGeminiError maps transport errors onto the provider taxonomy:
// rate limits are retryable with long backoff, auth failures are
// permanent, everything else counts as a retryable outage.
func classifyGeminiError(err error) *asemberr.Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return asemberr.Wrap(err, asemberr.CodeProviderRateLimited, "gemini rate limit", true)
		case http.StatusUnauthorized, http.StatusForbidden:
			return asemberr.Wrap(err, asemberr.CodeProviderAuth, "gemini auth rejected", false)
		}
	}

	switch status.Code(err) {
	case codes.ResourceExhausted:
		return asemberr.Wrap(err, asemberr.CodeProviderRateLimited, "gemini rate limit", true)
	case codes.Unauthenticated, codes.PermissionDenied:
		return asemberr.Wrap(err, asemberr.CodeProviderAuth, "gemini auth rejected", false)
	}

	return asemberr.Wrap(err, asemberr.CodeProviderUnavailable, "gemini embed call failed", true)
}
