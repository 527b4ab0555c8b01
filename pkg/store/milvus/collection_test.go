package milvus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCollectionConfig_UsesReferenceEmbeddingDim(t *testing.T) {
	cfg := DefaultCollectionConfig()
	assert.Equal(t, DefaultCollectionName, cfg.Name)
	assert.Equal(t, EmbeddingDim, cfg.Dimension)
	assert.Equal(t, 384, cfg.Dimension)
}

func TestPayload_JSONRoundTripPreservesOptionalFields(t *testing.T) {
	outcome4h := 2.5
	hitSL := true
	p := Payload{
		Symbol: "BTCUSDT", TimestampMS: 1700000000000, Date: "2023-11-14", Price: 50000,
		RSI7: 55, RSI14: 52,
		Outcome4h: &outcome4h, HitStopLoss: &hitSL,
		SchemaVersion: 1, FeatureVersion: "v1_nofx_3m4h", EmbeddingModel: "hashing-bow-v1",
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, p.Symbol, decoded.Symbol)
	require.NotNil(t, decoded.Outcome4h)
	assert.Equal(t, 2.5, *decoded.Outcome4h)
	require.NotNil(t, decoded.HitStopLoss)
	assert.True(t, *decoded.HitStopLoss)
}

func TestPayload_JSONOmitsEmptyOptionalSeriesFields(t *testing.T) {
	p := Payload{Symbol: "BTCUSDT"}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "mid_prices")
	assert.NotContains(t, string(raw), "outcome_4h")
}
