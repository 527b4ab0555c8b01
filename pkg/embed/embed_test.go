package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestHashingEmbedder_ProducesUnitNormVectors(t *testing.T) {
	e := NewHashingEmbedder(64)
	vecs, err := e.EmbedBatch(context.Background(), []string{"BTCUSDT at price 50000. RSI(7) 55.0 is bullish."})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 64)
	assert.InDelta(t, 1.0, vectorNorm(vecs[0]), 1e-6)
}

func TestHashingEmbedder_IsDeterministic(t *testing.T) {
	e := NewHashingEmbedder(32)
	a, err := e.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	b, err := e.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashingEmbedder_EmptyTextYieldsFixedUnitVector(t *testing.T) {
	e := NewHashingEmbedder(16)
	vecs, err := e.EmbedBatch(context.Background(), []string{""})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorNorm(vecs[0]), 1e-6)
	assert.Equal(t, float32(1), vecs[0][0])
}

func TestHashingEmbedder_PreservesOrder(t *testing.T) {
	e := NewHashingEmbedder(32)
	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha beta", "gamma delta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestHashingEmbedder_RespectsContextCancellation(t *testing.T) {
	e := NewHashingEmbedder(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.EmbedBatch(ctx, []string{"a", "b"})
	require.Error(t, err)
}

func TestHashingEmbedder_DimAndModelName(t *testing.T) {
	e := NewHashingEmbedder(384)
	assert.Equal(t, 384, e.Dim())
	assert.Equal(t, "hashing-bow-v1", e.ModelName())
}

func TestPool_EmbedBatchDelegatesToEmbedder(t *testing.T) {
	p := NewPool(NewHashingEmbedder(16), 2, 4)
	defer p.Close()

	vecs, err := p.EmbedBatch(context.Background(), []string{"pool test"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 16, p.Dim())
}

// TestPool_OverloadedQueueReturnsError constructs a Pool with no running
// workers and a zero-capacity job queue directly (white-box, same package)
// so the non-blocking submit path is exercised deterministically instead
// of racing real worker goroutines.
func TestPool_OverloadedQueueReturnsError(t *testing.T) {
	p := &Pool{embedder: NewHashingEmbedder(8), jobs: make(chan job)}

	_, err := p.EmbedBatch(context.Background(), []string{"overloaded"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolOverloaded)
}
