// Package rpc implements the line-delimited JSON-RPC 2.0 server of §4.I:
// wire types, validation and dispatch for rag.query_patterns, and error
// mapping. Grounded on original_source/rag-rpc-server (protocol.rs /
// server.rs / handler.rs / error.rs), reimplemented idiomatically in Go.
package rpc

import "encoding/json"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RAG-specific error code reservations (§4.I).
const (
	CodeInsufficientMatches = -32001
	CodeSymbolUnknown       = -32002
	CodeIndexError          = -32003
	CodeEmbeddingError      = -32004
)

// Request is one line of a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is one line of a JSON-RPC 2.0 response: exactly one of Result
// or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error payload.
type ErrorObject struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var nullID = json.RawMessage("null")

// QueryPatternsParams is the rag.query_patterns params object (§6.1).
type QueryPatternsParams struct {
	Symbol       string           `json:"symbol"`
	Timestamp    int64            `json:"timestamp"`
	CurrentState MarketStateWire  `json:"current_state"`
	QueryConfig  *QueryConfigWire `json:"query_config"`
}

// MarketStateWire is the wire shape of current_state.
type MarketStateWire struct {
	Price              float64  `json:"price"`
	RSI7               *float64 `json:"rsi_7"`
	RSI14              *float64 `json:"rsi_14"`
	MACD               *float64 `json:"macd"`
	EMA20              *float64 `json:"ema_20"`
	EMA20_4h           *float64 `json:"ema_20_4h"`
	EMA50_4h           *float64 `json:"ema_50_4h"`
	ATR3_4h            float64  `json:"atr_3_4h"`
	ATR14_4h           float64  `json:"atr_14_4h"`
	CurrentVolume4h    float64  `json:"current_volume_4h"`
	AvgVolume4h        float64  `json:"avg_volume_4h"`
	FundingRate        *float64 `json:"funding_rate"`
	OpenInterestLatest *float64 `json:"open_interest_latest"`
	OpenInterestAvg24h *float64 `json:"open_interest_avg_24h"`
	PriceChange1h      *float64 `json:"price_change_1h"`
	PriceChange4h      *float64 `json:"price_change_4h"`

	MidPrices    []float64 `json:"mid_prices"`
	EMA20Vals    []float64 `json:"ema_20_values"`
	MACDVals     []float64 `json:"macd_values"`
	RSI7Vals     []float64 `json:"rsi_7_values"`
	RSI14Vals    []float64 `json:"rsi_14_values"`
	MACD4hVals   []float64 `json:"macd_4h_values"`
	RSI14_4hVals []float64 `json:"rsi_14_4h_values"`
}

// QueryConfigWire is the wire shape of query_config; nil fields mean
// "use server default".
type QueryConfigWire struct {
	LookbackDays         *int     `json:"lookback_days"`
	TopK                 *int     `json:"top_k"`
	MinSimilarity        *float64 `json:"min_similarity"`
	IncludeRegimeFilters *bool    `json:"include_regime_filters"`
}

// HistoricalMatchWire is one §3.3 response row.
type HistoricalMatchWire struct {
	Similarity  float64             `json:"similarity"`
	TimestampMS int64               `json:"timestamp_ms"`
	Date        string              `json:"date"`
	MarketState MatchMarketStateWire `json:"market_state"`
	Outcomes    OutcomesWire         `json:"outcomes"`
}

type MatchMarketStateWire struct {
	RSI7        float64 `json:"rsi_7"`
	RSI14       float64 `json:"rsi_14"`
	MACD        float64 `json:"macd"`
	EMARatio    float64 `json:"ema_ratio"`
	OIDeltaPct  float64 `json:"oi_delta_pct"`
	FundingRate float64 `json:"funding_rate"`
}

type OutcomesWire struct {
	Outcome1h     *float64 `json:"outcome_1h"`
	Outcome4h     *float64 `json:"outcome_4h"`
	Outcome24h    *float64 `json:"outcome_24h"`
	MaxRunup1h    *float64 `json:"max_runup_1h"`
	MaxDrawdown1h *float64 `json:"max_drawdown_1h"`
	HitStopLoss   *bool    `json:"hit_stop_loss"`
	HitTakeProfit *bool    `json:"hit_take_profit"`
}

// OutcomeStatsWire is the §3.4 outcome_4h block.
type OutcomeStatsWire struct {
	Mean          *float64 `json:"mean"`
	Median        *float64 `json:"median"`
	P10           *float64 `json:"p10"`
	P90           *float64 `json:"p90"`
	PositiveCount int      `json:"positive_count"`
	NegativeCount int      `json:"negative_count"`
	WinRate       *float64 `json:"win_rate"`
}

// StatisticsWire is the full §3.4 statistics block.
type StatisticsWire struct {
	TotalMatches    int              `json:"total_matches"`
	AvgSimilarity   float64          `json:"avg_similarity"`
	SimilarityRange [2]float64       `json:"similarity_range"`
	Outcome4h       OutcomeStatsWire `json:"outcome_4h"`
	StopLossHits    int              `json:"stop_loss_hits"`
	TakeProfitHits  int              `json:"take_profit_hits"`
}

// MetadataWire is the §6.1 metadata block.
type MetadataWire struct {
	QueryDurationMS     int64    `json:"query_duration_ms"`
	EmbeddingDurationMS int64    `json:"embedding_duration_ms"`
	RetrievalDurationMS int64    `json:"retrieval_duration_ms"`
	FiltersApplied      []string `json:"filters_applied"`
	SchemaVersion       int      `json:"schema_version"`
	FeatureVersion      string   `json:"feature_version"`
	EmbeddingModel      string   `json:"embedding_model"`
}

// QueryPatternsResult is the rag.query_patterns success result.
type QueryPatternsResult struct {
	Matches    []HistoricalMatchWire `json:"matches"`
	Statistics StatisticsWire        `json:"statistics"`
	Metadata   MetadataWire          `json:"metadata"`
}
