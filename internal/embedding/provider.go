package embedding

import (
	"context"

	"github.com/umutsun/asemb/internal/asemberr"
)

// Result carries the vectors for one Embed call plus the token count the
// call consumed against provider quota.
type Result struct {
	Vectors    [][]float32
	TokensUsed int
}

// Provider turns text into fixed-dimension vectors. Implementations must
// return one vector per input, in input order, and must classify
// failures with asemberr codes so the resilience layer can tell a rate
// limit from an auth failure.
type Provider interface {
	Embed(ctx context.Context, texts []string) (*Result, error)
	Dimension() int
	Model() string
}

// Single embeds one text. Convenience for the query path.
func Single(ctx context.Context, p Provider, text string) ([]float32, int, error) {
	res, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	if len(res.Vectors) != 1 {
		return nil, 0, asemberr.New(asemberr.CodeProviderFailed, "provider returned no vector", false)
	}
	return res.Vectors[0], res.TokensUsed, nil
}
