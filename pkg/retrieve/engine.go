// Package retrieve implements the Retrieval Engine (§4.G): embeds the
// live query state, builds a regime-filtered k-NN search, maps results
// to HistoricalMatches, and enforces the server's min_matches floor.
package retrieve

import (
	"context"
	"fmt"
	"math"
	"time"

	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/logger"
	"ragpatterns/pkg/model"
	"ragpatterns/pkg/store/milvus"
)

// CurrentState is the subset of Snapshot fields a live query supplies
// (§3.1 current indicators + microstructure). Series fields are optional;
// when absent, rendering degrades to "insufficient history" phrases via
// model.RenderText exactly as a sparse Snapshot would (§8 boundary
// behavior: "rendering still succeeds").
type CurrentState struct {
	Price float64
	RSI7, RSI14, MACD, EMA20 float64
	EMA20_4h, EMA50_4h       float64
	ATR3_4h, ATR14_4h        float64 // 0 means absent
	CurrentVolume4h, AvgVolume4h float64
	OpenInterestLatest, OpenInterestAvg24h, FundingRate float64
	PriceChange1h, PriceChange4h *float64

	MidPrices, EMA20Vals, MACDVals, RSI7Vals, RSI14Vals []float64
	MACD4hVals, RSI14_4hVals                            []float64
}

func (cs CurrentState) toSnapshot(symbol string, timestampMS int64) *model.Snapshot {
	return &model.Snapshot{
		Symbol: symbol, TimestampMS: timestampMS, Price: cs.Price,
		RSI7: cs.RSI7, RSI14: cs.RSI14, MACD: cs.MACD, EMA20: cs.EMA20,
		MidPrices: cs.MidPrices, EMA20Vals: cs.EMA20Vals, MACDVals: cs.MACDVals,
		RSI7Vals: cs.RSI7Vals, RSI14Vals: cs.RSI14Vals,
		EMA20_4h: cs.EMA20_4h, EMA50_4h: cs.EMA50_4h, ATR3_4h: cs.ATR3_4h, ATR14_4h: cs.ATR14_4h,
		CurrentVolume4h: cs.CurrentVolume4h, AvgVolume4h: cs.AvgVolume4h,
		MACD4hVals: cs.MACD4hVals, RSI14_4hVals: cs.RSI14_4hVals,
		OpenInterestLatest: cs.OpenInterestLatest, OpenInterestAvg24h: cs.OpenInterestAvg24h,
		FundingRate: cs.FundingRate, PriceChange1h: cs.PriceChange1h, PriceChange4h: cs.PriceChange4h,
	}
}

// QueryConfig is the optional per-request tuning of §4.G, already defaulted
// and range-validated by the RPC layer before the Engine sees it.
type QueryConfig struct {
	LookbackDays         int
	TopK                 int
	MinSimilarity        float64
	IncludeRegimeFilters bool
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{LookbackDays: 90, TopK: 5, MinSimilarity: 0.7, IncludeRegimeFilters: true}
}

// Request is one rag.query_patterns call's payload, already parsed and
// validated by pkg/rpc.
type Request struct {
	Symbol       string
	TimestampMS  int64
	CurrentState CurrentState
	QueryConfig  QueryConfig
}

// Match is one row of the §3.3 HistoricalMatch response.
type Match struct {
	Similarity  float64
	TimestampMS int64
	Date        string

	RSI7, RSI14, MACD, EMARatio, OIDeltaPct, FundingRate float64

	Outcome1h, Outcome4h, Outcome24h         *float64
	MaxRunup1h, MaxDrawdown1h                *float64
	HitStopLoss, HitTakeProfit               *bool
}

// Metadata is the §6.1 result metadata block.
type Metadata struct {
	EmbeddingDurationMS int64
	RetrievalDurationMS int64
	FiltersApplied      []string
	SchemaVersion       int
	FeatureVersion      string
	EmbeddingModel      string
}

// Result is the full engine output for a successful query.
type Result struct {
	Matches  []Match
	Metadata Metadata
}

// InsufficientMatchesError is returned when fewer than MinMatches
// qualifying points exist (§4.G step 5); pkg/rpc maps it to -32001.
type InsufficientMatchesError struct {
	MatchesFound int
	MinRequired  int
}

func (e *InsufficientMatchesError) Error() string {
	return fmt.Sprintf("retrieve: insufficient matches: found %d, need %d", e.MatchesFound, e.MinRequired)
}

// SymbolUnknownError is returned when the index holds zero points for the
// requested symbol at all, as distinct from points existing but failing
// the active filters (InsufficientMatchesError); pkg/rpc maps it to -32002.
type SymbolUnknownError struct {
	Symbol string
}

func (e *SymbolUnknownError) Error() string {
	return fmt.Sprintf("retrieve: unknown symbol: %s", e.Symbol)
}

// EmbeddingError wraps a failure to embed the query text; pkg/rpc maps it
// to -32004, except for embed.ErrPoolOverloaded which it maps to -32003
// (§5: the bounded worker pool rejecting a job under load is a server
// capacity condition, not an embedding failure).
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("retrieve: embed query: %s", e.Err) }
func (e *EmbeddingError) Unwrap() error  { return e.Err }

// IndexError wraps a failure talking to the Vector Index (connection loss,
// a failed Search, or a failed CountBySymbol lookup); pkg/rpc maps it to
// -32003.
type IndexError struct {
	Err error
}

func (e *IndexError) Error() string { return fmt.Sprintf("retrieve: index: %s", e.Err) }
func (e *IndexError) Unwrap() error  { return e.Err }

// Config configures an Engine. MinMatches is server-level (§4.G: "never
// taken from the request"). StrictSchema gates whether a match whose
// payload feature_version disagrees with FeatureVersion is refused
// outright, rather than merely influencing which payload's provenance
// the metadata block reports.
type Config struct {
	CollectionName string
	MinMatches     int
	StrictSchema   bool
	FeatureVersion string
}

func DefaultConfig() Config {
	return Config{CollectionName: milvus.DefaultCollectionName, MinMatches: 3, StrictSchema: true, FeatureVersion: "v1_nofx_3m4h"}
}

// Index is the subset of the Vector Index Client the Retrieval Engine
// needs. It is narrow enough to fake with an in-memory stand-in in
// tests, the same interface-for-testability pattern pkg/embed already
// uses for Embedder; *milvus.Client satisfies it unchanged.
type Index interface {
	Search(ctx context.Context, collectionName string, embedding []float32, filter string, topK int, scoreThreshold float32) ([]milvus.SearchResult, error)
	CountBySymbol(ctx context.Context, collectionName, symbol string) (int, error)
}

// Engine is the Retrieval Engine.
type Engine struct {
	embedder embed.Embedder
	index    Index
	cfg      Config
}

func NewEngine(embedder embed.Embedder, index Index, cfg Config) *Engine {
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = 3
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = milvus.DefaultCollectionName
	}
	return &Engine{embedder: embedder, index: index, cfg: cfg}
}

// Query runs the full §4.G algorithm.
func (e *Engine) Query(ctx context.Context, req Request) (*Result, error) {
	snap := req.CurrentState.toSnapshot(req.Symbol, req.TimestampMS)
	text := model.RenderText(snap)

	embedStart := time.Now()
	vectors, err := e.embedder.EmbedBatch(ctx, []string{text})
	embeddingDurationMS := time.Since(embedStart).Milliseconds()
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	queryVector := vectors[0]

	filterExpr, filtersApplied := e.buildFilter(req, snap)

	retrievalStart := time.Now()
	results, err := e.index.Search(ctx, e.cfg.CollectionName, queryVector, filterExpr, req.QueryConfig.TopK, float32(req.QueryConfig.MinSimilarity))
	retrievalDurationMS := time.Since(retrievalStart).Milliseconds()
	if err != nil {
		return nil, &IndexError{Err: err}
	}

	// StrictSchema gates refusal of matches whose feature_version disagrees
	// with the server's configured version (§9 "Schema evolution of
	// payloads"): a stale point from before a rendering/indicator change
	// would otherwise silently pollute the neighbor set.
	payloads := make([]milvus.Payload, 0, len(results))
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if e.cfg.StrictSchema && e.cfg.FeatureVersion != "" &&
			r.Payload.FeatureVersion != "" && r.Payload.FeatureVersion != e.cfg.FeatureVersion {
			continue
		}
		m, ok := toMatch(r)
		if !ok {
			continue
		}
		matches = append(matches, m)
		payloads = append(payloads, r.Payload)
	}

	if len(matches) < e.cfg.MinMatches {
		count, countErr := e.index.CountBySymbol(ctx, e.cfg.CollectionName, req.Symbol)
		if countErr != nil {
			return nil, &IndexError{Err: countErr}
		}
		if count == 0 {
			return nil, &SymbolUnknownError{Symbol: req.Symbol}
		}
		return nil, &InsufficientMatchesError{MatchesFound: len(matches), MinRequired: e.cfg.MinMatches}
	}

	sortMatches(matches)

	meta := Metadata{
		EmbeddingDurationMS: embeddingDurationMS,
		RetrievalDurationMS: retrievalDurationMS,
		FiltersApplied:      filtersApplied,
		SchemaVersion:       1,
		FeatureVersion:      e.cfg.FeatureVersion,
		EmbeddingModel:      e.embedder.ModelName(),
	}
	// Metadata provenance is taken from the most recent payload's values
	// (§4.G step 6), not simply the first result in the unsorted Search
	// response. When matches disagree on schema/feature/embedding
	// provenance, the most recent wins and the disagreement is logged.
	if len(payloads) > 0 {
		latest := payloads[0]
		disagree := false
		for _, p := range payloads[1:] {
			if p.TimestampMS > latest.TimestampMS {
				latest = p
			}
			if p.SchemaVersion != payloads[0].SchemaVersion ||
				p.FeatureVersion != payloads[0].FeatureVersion ||
				p.EmbeddingModel != payloads[0].EmbeddingModel {
				disagree = true
			}
		}
		meta.SchemaVersion = latest.SchemaVersion
		meta.FeatureVersion = latest.FeatureVersion
		meta.EmbeddingModel = latest.EmbeddingModel
		if disagree {
			logger.L().Warnw("retrieve: match payloads disagree on schema/feature/embedding provenance, using most recent",
				"symbol", req.Symbol, "chosen_timestamp_ms", latest.TimestampMS,
				"chosen_feature_version", latest.FeatureVersion)
		}
	}

	return &Result{Matches: matches, Metadata: meta}, nil
}

func toMatch(r milvus.SearchResult) (Match, bool) {
	p := r.Payload
	if p.TimestampMS == 0 || p.Date == "" {
		return Match{}, false
	}
	return Match{
		Similarity: float64(r.Score), TimestampMS: p.TimestampMS, Date: p.Date,
		RSI7: p.RSI7, RSI14: p.RSI14, MACD: p.MACD, EMARatio: p.EMARatio20_50,
		OIDeltaPct: p.OIDeltaPct, FundingRate: p.FundingRate,
		Outcome1h: p.Outcome1h, Outcome4h: p.Outcome4h, Outcome24h: p.Outcome24h,
		MaxRunup1h: p.MaxRunup1h, MaxDrawdown1h: p.MaxDrawdown1h,
		HitStopLoss: p.HitStopLoss, HitTakeProfit: p.HitTakeProfit,
	}, true
}

// sortMatches orders by decreasing similarity, ties broken by descending
// timestamp (§4.G, §8 property 5).
func sortMatches(matches []Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && less(matches[j], matches[j-1]); j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

func less(a, b Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.TimestampMS > b.TimestampMS
}

// buildFilter constructs the Milvus boolean filter expression of §4.G
// step 2 and the filters_applied list of §6.1.
func (e *Engine) buildFilter(req Request, snap *model.Snapshot) (string, []string) {
	d := model.Derive(snap)
	expr := fmt.Sprintf(`symbol == "%s"`, req.Symbol)
	applied := []string{"symbol"}

	minTS := req.TimestampMS - int64(req.QueryConfig.LookbackDays)*86400000
	expr += fmt.Sprintf(` && timestamp_ms >= %d`, minTS)
	applied = append(applied, "timerange")

	if !req.QueryConfig.IncludeRegimeFilters {
		return expr, applied
	}

	if math.Abs(d.OIDeltaPct) > 5 {
		expr += fmt.Sprintf(` && oi_delta_pct >= %f && oi_delta_pct <= %f`, d.OIDeltaPct-10, d.OIDeltaPct+10)
		applied = append(applied, "oi_delta")
	}

	if math.Abs(req.CurrentState.FundingRate) > 0.0001 {
		if req.CurrentState.FundingRate >= 0 {
			expr += ` && funding_rate >= 0`
		} else {
			expr += ` && funding_rate <= 0`
		}
		applied = append(applied, "funding_sign")
	}

	if d.HasVolatility {
		r := d.VolatilityRatio
		expr += fmt.Sprintf(` && volatility_ratio >= %f && volatility_ratio <= %f`, r*0.8, r*1.2)
		applied = append(applied, "volatility_ratio")
	}

	logger.L().Debugw("retrieve: built filter", "symbol", req.Symbol, "filter", expr)
	return expr, applied
}
