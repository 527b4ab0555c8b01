// Package embed wraps a text-to-vector model behind a batched interface.
// Spec treats the embedding model as an external black box; this package
// provides the interface plus a dependency-free reference implementation
// so the rest of the pipeline is exercisable without a model server.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Embedder maps text to fixed-dimension, L2-unit-normalized vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	ModelName() string
}

// HashingEmbedder is a feature-hashed bag-of-words embedder: each term is
// bucketed by a SHA-256-derived hash into one of Dim accumulator slots,
// the accumulator is L2-normalized. It has no external dependency and no
// learned weights, so it never produces semantically meaningful
// similarity judgements on its own — it exists to let ingestion,
// retrieval, and the RPC server be exercised end to end against a
// deterministic, unit-norm, fixed-dimension vector source. A production
// deployment swaps this for an ONNX- or HTTP-backed model behind the same
// interface (wired via pkg/config).
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns a HashingEmbedder producing dim-wide vectors.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	return &HashingEmbedder{dim: dim}
}

func (h *HashingEmbedder) Dim() int { return h.dim }

func (h *HashingEmbedder) ModelName() string { return "hashing-bow-v1" }

// EmbedBatch embeds each text independently; order is preserved.
func (h *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = h.embedOne(t)
	}
	return out, nil
}

func (h *HashingEmbedder) embedOne(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		idx, sign := hashTerm(term, h.dim)
		acc[idx] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm < 1e-12 {
		// degenerate input (empty text): return a fixed unit vector so the
		// contract (unit norm) always holds.
		acc[0] = 1
		norm = 1
	}

	vec := make([]float32, h.dim)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

// hashTerm buckets a term into [0, dim) with a +1/-1 sign, the standard
// feature-hashing trick to reduce hash-collision bias.
func hashTerm(term string, dim int) (int, float64) {
	sum := sha256.Sum256([]byte(term))
	idx := int(binary.BigEndian.Uint64(sum[0:8]) % uint64(dim))
	sign := 1.0
	if sum[8]&1 == 1 {
		sign = -1.0
	}
	return idx, sign
}
