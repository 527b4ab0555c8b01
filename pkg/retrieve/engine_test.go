package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/store/milvus"
)

// fakeIndex is the in-memory stand-in for *milvus.Client the Index
// interface exists to enable: scoreThreshold filtering mirrors
// milvus.Client.Search's own behavior so these tests exercise the same
// contract a live Milvus connection would.
type fakeIndex struct {
	results   []milvus.SearchResult
	count     int
	searchErr error
	countErr  error
}

func (f *fakeIndex) Search(ctx context.Context, collectionName string, embedding []float32, filter string, topK int, scoreThreshold float32) ([]milvus.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []milvus.SearchResult
	for _, r := range f.results {
		if r.Score >= scoreThreshold {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIndex) CountBySymbol(ctx context.Context, collectionName, symbol string) (int, error) {
	return f.count, f.countErr
}

func outcomeVal(v float64) *float64 { return &v }
func hitVal(b bool) *bool           { return &b }

// seededIndex reproduces §8 scenario S1's three seeded snapshots, minus P3,
// which is simply not seeded: fakeIndex ignores the filter expression, and
// with a funding rate of exactly 0.0001 buildFilter adds no funding-sign
// predicate in any case.
func seededIndex() *fakeIndex {
	return &fakeIndex{
		count: 3,
		results: []milvus.SearchResult{
			{Score: 0.95, Payload: milvus.Payload{
				TimestampMS: 1_725_552_000_000, Date: "2024-09-05",
				RSI7: 82.1, MACD: 68.4, EMARatio20_50: 1.009,
				OIDeltaPct: 4.2, FundingRate: 0.00015,
				Outcome4h: outcomeVal(-2.3), HitStopLoss: hitVal(true), HitTakeProfit: hitVal(false),
			}},
			{Score: 0.93, Payload: milvus.Payload{
				TimestampMS: 1_724_342_400_000, Date: "2024-08-22",
				RSI7: 84.3, MACD: 71.2, EMARatio20_50: 1.011,
				OIDeltaPct: 5.1, FundingRate: 0.00012,
				Outcome4h: outcomeVal(1.1), HitStopLoss: hitVal(false), HitTakeProfit: hitVal(true),
			}},
		},
	}
}

func s1Request(minSimilarity float64) Request {
	return Request{
		Symbol:       "BTCUSDT",
		TimestampMS:  1_730_811_225_000,
		CurrentState: CurrentState{RSI7: 83.6, MACD: 72.8, FundingRate: 0.0001},
		QueryConfig:  QueryConfig{TopK: 5, MinSimilarity: minSimilarity, LookbackDays: 90, IncludeRegimeFilters: true},
	}
}

func TestQuery_S1HappyPathReturnsBothMatchesWithExpectedStatistics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinMatches = 1
	e := NewEngine(embed.NewHashingEmbedder(16), seededIndex(), cfg)

	result, err := e.Query(context.Background(), s1Request(0.7))
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)

	var positive, negative, stopHits, tpHits int
	for _, m := range result.Matches {
		if m.Outcome4h != nil {
			switch {
			case *m.Outcome4h > 0:
				positive++
			case *m.Outcome4h < 0:
				negative++
			}
		}
		if m.HitStopLoss != nil && *m.HitStopLoss {
			stopHits++
		}
		if m.HitTakeProfit != nil && *m.HitTakeProfit {
			tpHits++
		}
	}
	assert.Equal(t, 1, positive)
	assert.Equal(t, 1, negative)
	assert.Equal(t, 1, stopHits)
	assert.Equal(t, 1, tpHits)
	assert.InDelta(t, 0.5, float64(positive)/float64(len(result.Matches)), 1e-9)
}

func TestQuery_S2InsufficientMatchesWhenMinSimilarityTooHigh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinMatches = 1
	e := NewEngine(embed.NewHashingEmbedder(16), seededIndex(), cfg)

	_, err := e.Query(context.Background(), s1Request(0.99))
	require.Error(t, err)

	var ime *InsufficientMatchesError
	require.ErrorAs(t, err, &ime)
	assert.Equal(t, 0, ime.MatchesFound)
	assert.Equal(t, 1, ime.MinRequired)
}

func TestQuery_SymbolUnknownWhenIndexHasZeroPointsForSymbol(t *testing.T) {
	idx := seededIndex()
	idx.results = nil
	idx.count = 0
	cfg := DefaultConfig()
	cfg.MinMatches = 1
	e := NewEngine(embed.NewHashingEmbedder(16), idx, cfg)

	_, err := e.Query(context.Background(), s1Request(0.7))
	require.Error(t, err)

	var sue *SymbolUnknownError
	require.ErrorAs(t, err, &sue)
	assert.Equal(t, "BTCUSDT", sue.Symbol)
}

func TestQuery_EmbedFailureWrapsAsEmbeddingError(t *testing.T) {
	e := NewEngine(failingEmbedder{err: errors.New("model down")}, seededIndex(), DefaultConfig())

	_, err := e.Query(context.Background(), s1Request(0.7))
	require.Error(t, err)

	var ee *EmbeddingError
	require.ErrorAs(t, err, &ee)
}

func TestQuery_SearchFailureWrapsAsIndexError(t *testing.T) {
	idx := &fakeIndex{searchErr: errors.New("connection refused")}
	e := NewEngine(embed.NewHashingEmbedder(16), idx, DefaultConfig())

	_, err := e.Query(context.Background(), s1Request(0.7))
	require.Error(t, err)

	var ie *IndexError
	require.ErrorAs(t, err, &ie)
}

func TestQuery_StrictSchemaRefusesMismatchedFeatureVersion(t *testing.T) {
	idx := &fakeIndex{
		count: 2,
		results: []milvus.SearchResult{
			{Score: 0.9, Payload: milvus.Payload{TimestampMS: 100, Date: "2024-01-01", FeatureVersion: "v1_nofx_3m4h"}},
			{Score: 0.9, Payload: milvus.Payload{TimestampMS: 200, Date: "2024-01-02", FeatureVersion: "v0_stale"}},
		},
	}
	cfg := DefaultConfig()
	cfg.MinMatches = 1
	cfg.StrictSchema = true
	e := NewEngine(embed.NewHashingEmbedder(16), idx, cfg)

	result, err := e.Query(context.Background(), s1Request(0.7))
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, int64(100), result.Matches[0].TimestampMS)
}

func TestQuery_MetadataProvenanceUsesMostRecentPayload(t *testing.T) {
	idx := &fakeIndex{
		count: 2,
		results: []milvus.SearchResult{
			{Score: 0.9, Payload: milvus.Payload{
				TimestampMS: 100, Date: "2024-01-01",
				SchemaVersion: 1, FeatureVersion: "v1_nofx_3m4h", EmbeddingModel: "hashing-bow-v1",
			}},
			{Score: 0.9, Payload: milvus.Payload{
				TimestampMS: 200, Date: "2024-01-02",
				SchemaVersion: 2, FeatureVersion: "v2_nofx_3m4h", EmbeddingModel: "hashing-bow-v2",
			}},
		},
	}
	cfg := DefaultConfig()
	cfg.MinMatches = 1
	cfg.StrictSchema = false
	e := NewEngine(embed.NewHashingEmbedder(16), idx, cfg)

	result, err := e.Query(context.Background(), s1Request(0.7))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Metadata.SchemaVersion)
	assert.Equal(t, "v2_nofx_3m4h", result.Metadata.FeatureVersion)
	assert.Equal(t, "hashing-bow-v2", result.Metadata.EmbeddingModel)
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, f.err
}
func (f failingEmbedder) Dim() int           { return 16 }
func (f failingEmbedder) ModelName() string { return "failing" }

func TestSortMatches_OrdersBySimilarityDescending(t *testing.T) {
	matches := []Match{
		{Similarity: 0.7, TimestampMS: 100},
		{Similarity: 0.9, TimestampMS: 200},
		{Similarity: 0.8, TimestampMS: 300},
	}
	sortMatches(matches)

	require.Len(t, matches, 3)
	assert.Equal(t, 0.9, matches[0].Similarity)
	assert.Equal(t, 0.8, matches[1].Similarity)
	assert.Equal(t, 0.7, matches[2].Similarity)
}

func TestSortMatches_TiesBrokenByDescendingTimestamp(t *testing.T) {
	matches := []Match{
		{Similarity: 0.9, TimestampMS: 100},
		{Similarity: 0.9, TimestampMS: 300},
		{Similarity: 0.9, TimestampMS: 200},
	}
	sortMatches(matches)

	require.Len(t, matches, 3)
	assert.Equal(t, int64(300), matches[0].TimestampMS)
	assert.Equal(t, int64(200), matches[1].TimestampMS)
	assert.Equal(t, int64(100), matches[2].TimestampMS)
}

func TestToMatch_RejectsResultMissingTimestampOrDate(t *testing.T) {
	_, ok := toMatch(milvus.SearchResult{Score: 0.9, Payload: milvus.Payload{}})
	assert.False(t, ok)
}

func TestToMatch_MapsPayloadFieldsThrough(t *testing.T) {
	outcome4h := 2.5
	payload := milvus.Payload{
		TimestampMS: 1700000000000, Date: "2023-11-14",
		RSI7: 55, RSI14: 52, MACD: 1.2, EMARatio20_50: 1.01,
		OIDeltaPct: 3.0, FundingRate: 0.0001,
		Outcome4h: &outcome4h,
	}
	m, ok := toMatch(milvus.SearchResult{Score: 0.85, Payload: payload})
	require.True(t, ok)
	assert.Equal(t, 0.85, m.Similarity)
	assert.Equal(t, int64(1700000000000), m.TimestampMS)
	assert.Equal(t, "2023-11-14", m.Date)
	require.NotNil(t, m.Outcome4h)
	assert.Equal(t, 2.5, *m.Outcome4h)
}

func TestBuildFilter_AlwaysAppliesSymbolAndTimerange(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	req := Request{
		Symbol: "BTCUSDT", TimestampMS: 1700000000000,
		QueryConfig: QueryConfig{LookbackDays: 90, IncludeRegimeFilters: false},
	}
	snap := req.CurrentState.toSnapshot(req.Symbol, req.TimestampMS)

	expr, applied := e.buildFilter(req, snap)
	assert.Contains(t, expr, `symbol == "BTCUSDT"`)
	assert.Contains(t, expr, "timestamp_ms >=")
	assert.Equal(t, []string{"symbol", "timerange"}, applied)
}

func TestBuildFilter_SkipsRegimeFiltersWhenDisabled(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	req := Request{
		Symbol: "ETHUSDT", TimestampMS: 1700000000000,
		CurrentState: CurrentState{FundingRate: 0.01},
		QueryConfig:  QueryConfig{LookbackDays: 30, IncludeRegimeFilters: false},
	}
	snap := req.CurrentState.toSnapshot(req.Symbol, req.TimestampMS)

	_, applied := e.buildFilter(req, snap)
	assert.NotContains(t, applied, "funding_sign")
	assert.NotContains(t, applied, "oi_delta")
	assert.NotContains(t, applied, "volatility_ratio")
}

func TestBuildFilter_AppliesFundingSignWhenMeaningful(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	req := Request{
		Symbol: "ETHUSDT", TimestampMS: 1700000000000,
		CurrentState: CurrentState{FundingRate: 0.01},
		QueryConfig:  QueryConfig{LookbackDays: 30, IncludeRegimeFilters: true},
	}
	snap := req.CurrentState.toSnapshot(req.Symbol, req.TimestampMS)

	expr, applied := e.buildFilter(req, snap)
	assert.Contains(t, applied, "funding_sign")
	assert.Contains(t, expr, "funding_rate >= 0")
}

func TestBuildFilter_AppliesVolatilityRatioOnlyWhenBothATRPresent(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	req := Request{
		Symbol: "ETHUSDT", TimestampMS: 1700000000000,
		CurrentState: CurrentState{ATR3_4h: 120, ATR14_4h: 100},
		QueryConfig:  QueryConfig{LookbackDays: 30, IncludeRegimeFilters: true},
	}
	snap := req.CurrentState.toSnapshot(req.Symbol, req.TimestampMS)

	_, applied := e.buildFilter(req, snap)
	assert.Contains(t, applied, "volatility_ratio")
}

func TestBuildFilter_OmitsVolatilityRatioWhenATRMissing(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	req := Request{
		Symbol: "ETHUSDT", TimestampMS: 1700000000000,
		QueryConfig: QueryConfig{LookbackDays: 30, IncludeRegimeFilters: true},
	}
	snap := req.CurrentState.toSnapshot(req.Symbol, req.TimestampMS)

	_, applied := e.buildFilter(req, snap)
	assert.NotContains(t, applied, "volatility_ratio")
}
