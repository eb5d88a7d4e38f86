package ingest

import "github.com/umutsun/asemb/internal/asemberr"

// ItemError records one failed chunk. The batch keeps going; callers
// see exactly which positions failed and why.
type ItemError struct {
	Index   int           `json:"index"`
	Code    asemberr.Code `json:"code"`
	Message string        `json:"message"`
}

// BatchResult summarizes one ingestion run.
type BatchResult struct {
	SourceID       string      `json:"sourceId"`
	ChunksTotal    int         `json:"chunksTotal"`
	Succeeded      int         `json:"succeeded"`
	Skipped        int         `json:"skipped"`
	Failed         []ItemError `json:"failed,omitempty"`
	EmbeddingCalls int         `json:"embeddingCalls"`
	TokensUsed     int         `json:"tokensUsed"`
}
