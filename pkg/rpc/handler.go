package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragpatterns/pkg/retrieve"
	"ragpatterns/pkg/stats"
)

// missingFieldError names the specific request field that failed
// validation, so the RPC layer can surface it as data.field (§4.I
// scenario S4) instead of only a human-readable message.
type missingFieldError struct {
	field string
}

func (e *missingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.field)
}

// Handler dispatches rag.query_patterns calls into the Retrieval Engine
// and Statistics Aggregator. Grounded on
// original_source/rag-rpc-server/src/handler.go's RagQueryHandler.
type Handler struct {
	engine *retrieve.Engine
}

func NewHandler(engine *retrieve.Engine) *Handler {
	return &Handler{engine: engine}
}

// Dispatch routes one parsed request to its method and returns either a
// result value or an rpcError. It never returns a bare Go error: every
// failure path is translated to a JSON-RPC error code here.
func (h *Handler) Dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "rag.query_patterns":
		return h.queryPatterns(ctx, params)
	default:
		return nil, methodNotFound(method)
	}
}

func (h *Handler) queryPatterns(ctx context.Context, raw json.RawMessage) (interface{}, *rpcError) {
	if len(raw) == 0 {
		return nil, invalidParams("missing params")
	}

	var p QueryPatternsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams("malformed params: " + err.Error())
	}

	if err := validateParams(p); err != nil {
		var mfe *missingFieldError
		if errors.As(err, &mfe) {
			return nil, invalidParamsField(mfe.field, err.Error())
		}
		return nil, invalidParams(err.Error())
	}

	req := toEngineRequest(p)

	queryStart := time.Now()
	result, err := h.engine.Query(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	statistics := stats.Aggregate(result.Matches)
	wire := toWireResult(result, statistics, time.Since(queryStart).Milliseconds())
	return wire, nil
}

func validateParams(p QueryPatternsParams) error {
	symbol := strings.ToUpper(p.Symbol)
	if symbol == "" || !strings.HasSuffix(symbol, "USDT") {
		return fmt.Errorf("symbol must be a non-empty USDT-quoted pair, got %q", p.Symbol)
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be a positive epoch-millisecond value")
	}
	if p.CurrentState.Price <= 0 {
		return fmt.Errorf("current_state.price must be positive")
	}
	if err := requireFields(p.CurrentState); err != nil {
		return err
	}
	if qc := p.QueryConfig; qc != nil {
		if qc.LookbackDays != nil && *qc.LookbackDays <= 0 {
			return fmt.Errorf("query_config.lookback_days must be positive")
		}
		if qc.TopK != nil && (*qc.TopK <= 0 || *qc.TopK > 100) {
			return fmt.Errorf("query_config.top_k must be in (0, 100]")
		}
		if qc.MinSimilarity != nil && (*qc.MinSimilarity < 0 || *qc.MinSimilarity > 1) {
			return fmt.Errorf("query_config.min_similarity must be in [0, 1]")
		}
	}
	return nil
}

// requireFields checks that every current_state field the engine needs a
// genuine measurement for (as opposed to one that safely defaults to 0,
// e.g. atr_3_4h) was present on the wire (§4.I, §8 scenario S4).
func requireFields(cs MarketStateWire) error {
	required := []struct {
		name string
		v    *float64
	}{
		{"current_state.rsi_7", cs.RSI7},
		{"current_state.rsi_14", cs.RSI14},
		{"current_state.macd", cs.MACD},
		{"current_state.ema_20", cs.EMA20},
		{"current_state.ema_20_4h", cs.EMA20_4h},
		{"current_state.ema_50_4h", cs.EMA50_4h},
		{"current_state.funding_rate", cs.FundingRate},
		{"current_state.open_interest_latest", cs.OpenInterestLatest},
		{"current_state.open_interest_avg_24h", cs.OpenInterestAvg24h},
	}
	for _, f := range required {
		if f.v == nil {
			return &missingFieldError{field: f.name}
		}
	}
	return nil
}

func toEngineRequest(p QueryPatternsParams) retrieve.Request {
	cs := p.CurrentState
	req := retrieve.Request{
		Symbol:      strings.ToUpper(p.Symbol),
		TimestampMS: p.Timestamp,
		CurrentState: retrieve.CurrentState{
			Price:              cs.Price,
			RSI7:               deref(cs.RSI7),
			RSI14:              deref(cs.RSI14),
			MACD:               deref(cs.MACD),
			EMA20:              deref(cs.EMA20),
			EMA20_4h:           deref(cs.EMA20_4h),
			EMA50_4h:           deref(cs.EMA50_4h),
			ATR3_4h:            cs.ATR3_4h,
			ATR14_4h:           cs.ATR14_4h,
			CurrentVolume4h:    cs.CurrentVolume4h,
			AvgVolume4h:        cs.AvgVolume4h,
			OpenInterestLatest: deref(cs.OpenInterestLatest),
			OpenInterestAvg24h: deref(cs.OpenInterestAvg24h),
			FundingRate:        deref(cs.FundingRate),
			PriceChange1h:      cs.PriceChange1h,
			PriceChange4h:      cs.PriceChange4h,
			MidPrices:          cs.MidPrices,
			EMA20Vals:          cs.EMA20Vals,
			MACDVals:           cs.MACDVals,
			RSI7Vals:           cs.RSI7Vals,
			RSI14Vals:          cs.RSI14Vals,
			MACD4hVals:         cs.MACD4hVals,
			RSI14_4hVals:       cs.RSI14_4hVals,
		},
		QueryConfig: retrieve.DefaultQueryConfig(),
	}

	if qc := p.QueryConfig; qc != nil {
		if qc.LookbackDays != nil {
			req.QueryConfig.LookbackDays = *qc.LookbackDays
		}
		if qc.TopK != nil {
			req.QueryConfig.TopK = *qc.TopK
		}
		if qc.MinSimilarity != nil {
			req.QueryConfig.MinSimilarity = *qc.MinSimilarity
		}
		if qc.IncludeRegimeFilters != nil {
			req.QueryConfig.IncludeRegimeFilters = *qc.IncludeRegimeFilters
		}
	}

	return req
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func toWireResult(result *retrieve.Result, statistics stats.Statistics, queryDurationMS int64) QueryPatternsResult {
	matches := make([]HistoricalMatchWire, len(result.Matches))
	for i, m := range result.Matches {
		matches[i] = HistoricalMatchWire{
			Similarity:  m.Similarity,
			TimestampMS: m.TimestampMS,
			Date:        m.Date,
			MarketState: MatchMarketStateWire{
				RSI7: m.RSI7, RSI14: m.RSI14, MACD: m.MACD,
				EMARatio: m.EMARatio, OIDeltaPct: m.OIDeltaPct, FundingRate: m.FundingRate,
			},
			Outcomes: OutcomesWire{
				Outcome1h: m.Outcome1h, Outcome4h: m.Outcome4h, Outcome24h: m.Outcome24h,
				MaxRunup1h: m.MaxRunup1h, MaxDrawdown1h: m.MaxDrawdown1h,
				HitStopLoss: m.HitStopLoss, HitTakeProfit: m.HitTakeProfit,
			},
		}
	}

	return QueryPatternsResult{
		Matches: matches,
		Statistics: StatisticsWire{
			TotalMatches:    statistics.TotalMatches,
			AvgSimilarity:   statistics.AvgSimilarity,
			SimilarityRange: [2]float64{statistics.SimilarityRange.Min, statistics.SimilarityRange.Max},
			Outcome4h: OutcomeStatsWire{
				Mean: statistics.Outcome4h.Mean, Median: statistics.Outcome4h.Median,
				P10: statistics.Outcome4h.P10, P90: statistics.Outcome4h.P90,
				PositiveCount: statistics.Outcome4h.PositiveCount, NegativeCount: statistics.Outcome4h.NegativeCount,
				WinRate: statistics.Outcome4h.WinRate,
			},
			StopLossHits:   statistics.StopLossHits,
			TakeProfitHits: statistics.TakeProfitHits,
		},
		Metadata: MetadataWire{
			QueryDurationMS:     queryDurationMS,
			EmbeddingDurationMS: result.Metadata.EmbeddingDurationMS,
			RetrievalDurationMS: result.Metadata.RetrievalDurationMS,
			FiltersApplied:      result.Metadata.FiltersApplied,
			SchemaVersion:       result.Metadata.SchemaVersion,
			FeatureVersion:      result.Metadata.FeatureVersion,
			EmbeddingModel:      result.Metadata.EmbeddingModel,
		},
	}
}
