package embedding

import (
	"context"
	"errors"
)

// ErrNoProvider is returned by NullProvider, signalling callers should
// surface tmwserr.ErrEmbedder and decide whether to accept a zero vector.
var ErrNoProvider = errors.New("no embedding provider configured")

// NullProvider is the fallback used when no external embedder is
// configured (tests, offline CLI use, development without API keys). It
// always fails, letting the Gateway's fallback-to-zero-vector path take
// over deterministically.
type NullProvider struct {
	dim int
}

// NewNullProvider builds a NullProvider reporting the given dimension so
// downstream zero-vectors are sized consistently with a real provider.
func NewNullProvider(dim int) *NullProvider {
	return &NullProvider{dim: dim}
}

func (p *NullProvider) Dimension() int { return p.dim }

func (p *NullProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrNoProvider
}
