// Package mock provides a deterministic in-process embeddings provider for
// tests and for running without an embeddings API key.
//
// Vectors are derived from an FNV hash of the input text, so equal texts
// always embed to equal vectors and similar texts do not cluster. That is
// enough to exercise storage and ranking plumbing, not semantic quality.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/setcue/setcue/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when none is specified.
const DefaultDimensions = 256

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a deterministic embeddings.Provider test double.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length. Zero selects DefaultDimensions.
	Dims int

	// Err, if non-nil, is returned by every Embed and EmbedBatch call.
	Err error

	// EmbedCalls records every text passed to Embed or EmbedBatch, in order.
	EmbedCalls []string
}

// Embed returns a unit-norm vector derived from hashing text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	err := p.Err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return hashVector(text, p.Dimensions()), nil
}

// EmbedBatch embeds each text independently.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns Dims or DefaultDimensions.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return DefaultDimensions
}

// ModelID identifies the mock.
func (p *Provider) ModelID() string { return "mock-fnv" }

// hashVector produces a deterministic unit-norm vector of length dims.
func hashVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range v {
		// xorshift64 keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		val := float64(int64(seed%2000)-1000) / 1000.0
		v[i] = float32(val)
		norm += val * val
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}
