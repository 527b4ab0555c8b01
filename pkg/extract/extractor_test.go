package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragpatterns/pkg/store/duckdb"
)

func setupExtractStore(t *testing.T) (*duckdb.Reader, *duckdb.WriterRepo) {
	t.Helper()
	client, err := duckdb.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, duckdb.InitializeSchema(client))
	return duckdb.NewReader(client), duckdb.NewWriterRepo(client)
}

const (
	extractStepMS3m  = int64(180000)
	extractFourHStep = int64(14400000)
)

func TestExtractorWalk_AssemblesSnapshotWithForwardOutcomes(t *testing.T) {
	ctx := context.Background()
	reader, writer := setupExtractStore(t)
	symbol := "BTCUSDT"

	base4h := int64(50) * extractFourHStep
	t0 := base4h + 10*extractStepMS3m // inside the bar starting at base4h

	// Short-horizon series: 5 populated 3m samples ending at t0.
	for i := int64(0); i < 5; i++ {
		ts := t0 - i*extractStepMS3m
		require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, ts, 100, 100, 100, 100, 10))
		require.NoError(t, writer.InsertIndicator3m(ctx, symbol, ts, 55, 52, 0.5, 100))
	}

	// Long-horizon series: 5 populated 4h samples ending at base4h.
	for j := int64(0); j < 5; j++ {
		ts := base4h - j*extractFourHStep
		require.NoError(t, writer.InsertIndicator4h(ctx, symbol, ts, 210, 200, 3, 1.5, 1000, 900))
	}

	require.NoError(t, writer.InsertMicrostructure(ctx, symbol, t0, 1.2e9, 1e9, 0.0003))

	// Candles inside the forward 1h window, used for max runup/drawdown too.
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0+1*extractStepMS3m, 101, 101, 99, 101, 5))
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0+5*extractStepMS3m, 105, 112, 100, 105, 5))  // offset_15m
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0+10*extractStepMS3m, 98, 99, 93, 98, 5))
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0+20*extractStepMS3m, 102, 103, 95, 102, 5)) // offset_1h

	// Forward points for outcome_4h / outcome_24h (outside the 1h runup window).
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0+extractFourHStep, 108, 108, 108, 108, 5))
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0+6*extractFourHStep, 95, 95, 95, 95, 5))

	e := NewExtractor(reader, DefaultConfig())
	ch := e.Walk(ctx, symbol, t0, t0+1)

	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	s := results[0].Snapshot
	require.NotNil(t, s)

	assert.Equal(t, symbol, s.Symbol)
	assert.Equal(t, t0, s.TimestampMS)
	assert.Equal(t, 100.0, s.Price)
	assert.Equal(t, 55.0, s.RSI7)
	assert.Equal(t, 52.0, s.RSI14)
	assert.Equal(t, 210.0, s.EMA20_4h)
	assert.Equal(t, 200.0, s.EMA50_4h)
	assert.False(t, s.OIIsPlaceholder)
	assert.Equal(t, 1.2e9, s.OpenInterestLatest)

	require.NotNil(t, s.Outcome15m)
	assert.InDelta(t, 5.0, *s.Outcome15m, 1e-9)
	require.NotNil(t, s.Outcome1h)
	assert.InDelta(t, 2.0, *s.Outcome1h, 1e-9)
	require.NotNil(t, s.Outcome4h)
	assert.InDelta(t, 8.0, *s.Outcome4h, 1e-9)
	require.NotNil(t, s.Outcome24h)
	assert.InDelta(t, -5.0, *s.Outcome24h, 1e-9)

	require.NotNil(t, s.MaxRunup1h)
	assert.InDelta(t, 12.0, *s.MaxRunup1h, 1e-9)
	require.NotNil(t, s.MaxDrawdown1h)
	assert.InDelta(t, -7.0, *s.MaxDrawdown1h, 1e-9)
	require.NotNil(t, s.HitStopLoss)
	assert.True(t, *s.HitStopLoss)
	require.NotNil(t, s.HitTakeProfit)
	assert.True(t, *s.HitTakeProfit)
}

func TestExtractorWalk_SkipsTickWithNoIndicatorPoint(t *testing.T) {
	ctx := context.Background()
	reader, _ := setupExtractStore(t)

	e := NewExtractor(reader, DefaultConfig())
	ch := e.Walk(ctx, "BTCUSDT", 0, 1)

	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	assert.Empty(t, results)
}

func TestExtractorWalk_ViewHorizonViolationSurfacesAsResultError(t *testing.T) {
	ctx := context.Background()
	reader, writer := setupExtractStore(t)
	symbol := "BTCUSDT"

	t0 := int64(50) * extractFourHStep
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0, 100, 100, 100, 100, 10))
	require.NoError(t, writer.InsertIndicator3m(ctx, symbol, t0, 55, 52, 0.5, 100))

	cfg := DefaultConfig()
	cfg.ViewHorizonMS = &t0 // every forward read is strictly after t0, so every one violates the horizon

	e := NewExtractor(reader, cfg)
	ch := e.Walk(ctx, symbol, t0, t0+1)

	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "leakage violation")
	assert.Nil(t, results[0].Snapshot)
}

func TestExtractorWalk_MissingMicrostructureMarksPlaceholder(t *testing.T) {
	ctx := context.Background()
	reader, writer := setupExtractStore(t)
	symbol := "BTCUSDT"

	base4h := int64(50) * extractFourHStep
	t0 := base4h + 10*extractStepMS3m

	for i := int64(0); i < 5; i++ {
		ts := t0 - i*extractStepMS3m
		require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, ts, 100, 100, 100, 100, 10))
		require.NoError(t, writer.InsertIndicator3m(ctx, symbol, ts, 55, 52, 0.5, 100))
	}
	for j := int64(0); j < 5; j++ {
		ts := base4h - j*extractFourHStep
		require.NoError(t, writer.InsertIndicator4h(ctx, symbol, ts, 210, 200, 3, 1.5, 1000, 900))
	}
	// no microstructure row written at t0

	e := NewExtractor(reader, DefaultConfig())
	ch := e.Walk(ctx, symbol, t0, t0+1)

	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Snapshot)
	assert.True(t, results[0].Snapshot.OIIsPlaceholder)
}
