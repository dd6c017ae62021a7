// Package embedding is the only component allowed to hold a reference to
// the external embedding model. It exposes embed/embed_batch and owns
// caching and request coalescing so callers never see the underlying
// provider.
package embedding

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/apto-as/tmws/internal/tmwserr"
)

// Provider is the narrow interface an external embedding model must
// satisfy. Implementations normalize their own output; the Gateway does not
// re-normalize provider results.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Gateway is the sole holder of a Provider reference. It adds an LRU cache
// keyed by content hash and a coalescing window that batches concurrent
// single-text requests before they reach the provider.
type Gateway struct {
	provider Provider
	cache    *lruCache
	dim      int

	coalesceWindow time.Duration
	maxBatch       int

	mu      sync.Mutex
	pending []pendingReq
	timer   *time.Timer
}

type pendingReq struct {
	text   string
	result chan embedResult
}

type embedResult struct {
	vec []float32
	err error
}

// NewGateway wires a Provider behind caching and coalescing. cacheSize must
// be at least 1024 per the design's minimum LRU size; a smaller value is
// clamped up.
func NewGateway(p Provider, cacheSize int) *Gateway {
	if cacheSize < 1024 {
		cacheSize = 1024
	}
	return &Gateway{
		provider:       p,
		cache:          newLRUCache(cacheSize),
		dim:            p.Dimension(),
		coalesceWindow: 50 * time.Millisecond,
		maxBatch:       32,
	}
}

// Dimension returns the vector width produced by this gateway.
func (g *Gateway) Dimension() int { return g.dim }

// Embed returns the embedding for a single text, using the cache and
// joining any in-flight coalescing window.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := g.cache.get(text); ok {
		return v, nil
	}

	req := pendingReq{text: text, result: make(chan embedResult, 1)}
	g.enqueue(req)

	select {
	case res := <-req.result:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, tmwserr.Timeout("embed")
	}
}

func (g *Gateway) enqueue(req pendingReq) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = append(g.pending, req)
	if len(g.pending) >= g.maxBatch {
		batch := g.pending
		g.pending = nil
		if g.timer != nil {
			g.timer.Stop()
			g.timer = nil
		}
		go g.flush(batch)
		return
	}
	if g.timer == nil {
		g.timer = time.AfterFunc(g.coalesceWindow, g.flushTimer)
	}
}

func (g *Gateway) flushTimer() {
	g.mu.Lock()
	batch := g.pending
	g.pending = nil
	g.timer = nil
	g.mu.Unlock()
	if len(batch) > 0 {
		g.flush(batch)
	}
}

func (g *Gateway) flush(batch []pendingReq) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.text
	}
	vecs, err := g.provider.EmbedBatch(context.Background(), texts)
	if err != nil {
		wrapped := tmwserr.Embedder(err)
		for _, r := range batch {
			r.result <- embedResult{vec: g.zeroVector(), err: wrapped}
		}
		return
	}
	for i, r := range batch {
		g.cache.put(texts[i], vecs[i])
		r.result <- embedResult{vec: vecs[i]}
	}
}

// EmbedBatch embeds many texts directly, splitting into provider-sized
// chunks and consulting the cache per-entry; used by bulk import/restore
// paths that already know they want the whole set at once.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var miss []string
	var missIdx []int
	for i, t := range texts {
		if v, ok := g.cache.get(t); ok {
			out[i] = v
			continue
		}
		miss = append(miss, t)
		missIdx = append(missIdx, i)
	}
	for start := 0; start < len(miss); start += g.maxBatch {
		end := start + g.maxBatch
		if end > len(miss) {
			end = len(miss)
		}
		chunk := miss[start:end]
		vecs, err := g.provider.EmbedBatch(ctx, chunk)
		if err != nil {
			return nil, tmwserr.Embedder(err)
		}
		for j, v := range vecs {
			idx := missIdx[start+j]
			out[idx] = v
			g.cache.put(chunk[j], v)
		}
	}
	return out, nil
}

// zeroVector returns the deterministic fallback embedding surfaced with
// ErrEmbedder when the provider is unavailable; callers decide whether to
// accept or reject the memory with this vector attached.
func (g *Gateway) zeroVector() []float32 {
	return make([]float32, g.dim)
}

// L2Normalize scales v to unit length in place; a no-op on the zero vector.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := float32(math.Sqrt(sum))
	if mag <= 0 {
		return
	}
	for i := range v {
		v[i] /= mag
	}
}
