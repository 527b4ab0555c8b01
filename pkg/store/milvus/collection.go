package milvus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// DefaultCollectionName is the default collection name for snapshot points.
const DefaultCollectionName = "trading_patterns"

// EmbeddingDim is the reference embedding dimension (§3.2, §6.2).
const EmbeddingDim = 384

// CollectionConfig holds configuration for ensure_collection.
type CollectionConfig struct {
	Name      string
	Dimension int
	Shards    int
}

func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		Name:      DefaultCollectionName,
		Dimension: EmbeddingDim,
		Shards:    2,
	}
}

// Payload is the full per-point record: the Snapshot's scalar and series
// fields, its derived features, and its provenance block (§3.2). It is
// carried as a single JSON column rather than one fixed scalar column per
// field, since most of these fields are never used in a filter predicate;
// the handful the Retrieval Engine does filter on (symbol, timestamp_ms,
// oi_delta_pct, funding_rate, volatility_ratio) are duplicated into
// indexed scalar columns so Milvus evaluates the boolean expression
// server-side (§4.E, §4.G).
type Payload struct {
	Symbol      string  `json:"symbol"`
	TimestampMS int64   `json:"timestamp_ms"`
	Date        string  `json:"date"`
	Price       float64 `json:"price"`

	RSI7  float64 `json:"rsi_7"`
	RSI14 float64 `json:"rsi_14"`
	MACD  float64 `json:"macd"`
	EMA20 float64 `json:"ema_20"`

	MidPrices []float64 `json:"mid_prices,omitempty"`
	EMA20Vals []float64 `json:"ema_20_values,omitempty"`
	MACDVals  []float64 `json:"macd_values,omitempty"`
	RSI7Vals  []float64 `json:"rsi_7_values,omitempty"`
	RSI14Vals []float64 `json:"rsi_14_values,omitempty"`

	EMA20_4h        float64 `json:"ema_20_4h"`
	EMA50_4h        float64 `json:"ema_50_4h"`
	ATR3_4h         float64 `json:"atr_3_4h"`
	ATR14_4h        float64 `json:"atr_14_4h"`
	CurrentVolume4h float64 `json:"current_volume_4h"`
	AvgVolume4h     float64 `json:"avg_volume_4h"`

	MACD4hVals   []float64 `json:"macd_4h_values,omitempty"`
	RSI14_4hVals []float64 `json:"rsi_14_4h_values,omitempty"`

	OpenInterestLatest float64  `json:"open_interest_latest"`
	OpenInterestAvg24h float64  `json:"open_interest_avg_24h"`
	FundingRate        float64  `json:"funding_rate"`
	OIIsPlaceholder    bool     `json:"oi_is_placeholder"`
	PriceChange1h      *float64 `json:"price_change_1h,omitempty"`
	PriceChange4h      *float64 `json:"price_change_4h,omitempty"`

	EMARatio20_50   float64 `json:"ema_ratio_20_50"`
	OIDeltaPct      float64 `json:"oi_delta_pct"`
	VolatilityRatio float64 `json:"volatility_ratio,omitempty"`
	HasVolatility   bool    `json:"has_volatility_ratio"`

	Outcome15m *float64 `json:"outcome_15m,omitempty"`
	Outcome1h  *float64 `json:"outcome_1h,omitempty"`
	Outcome4h  *float64 `json:"outcome_4h,omitempty"`
	Outcome24h *float64 `json:"outcome_24h,omitempty"`

	MaxRunup1h    *float64 `json:"max_runup_1h,omitempty"`
	MaxDrawdown1h *float64 `json:"max_drawdown_1h,omitempty"`
	HitStopLoss   *bool    `json:"hit_stop_loss,omitempty"`
	HitTakeProfit *bool    `json:"hit_take_profit,omitempty"`

	SchemaVersion  int    `json:"schema_version"`
	FeatureVersion string `json:"feature_version"`
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dim"`
	BuildID        string `json:"build_id"`
}

// CreateCollection is ensure_collection: idempotent, creating over an
// existing collection of the same name is not an error.
func (c *Client) CreateCollection(ctx context.Context, cfg CollectionConfig) error {
	exists, err := c.HasCollection(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: cfg.Name,
		Description:    "point-in-time market snapshot embeddings for similarity retrieval",
		Fields: []*entity.Field{
			{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: false},
			{Name: "embedding", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{
				"dim": fmt.Sprintf("%d", cfg.Dimension),
			}},
			{Name: "symbol", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
			{Name: "timestamp_ms", DataType: entity.FieldTypeInt64},
			{Name: "oi_delta_pct", DataType: entity.FieldTypeDouble},
			{Name: "funding_rate", DataType: entity.FieldTypeDouble},
			{Name: "volatility_ratio", DataType: entity.FieldTypeDouble},
			{Name: "payload", DataType: entity.FieldTypeJSON},
		},
	}

	if err := c.conn.CreateCollection(ctx, schema, int32(cfg.Shards)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Point is one vector-index point: an id, its embedding, and its payload.
type Point struct {
	ID        int64
	Embedding []float32
	Payload   Payload
}

// Insert writes a batch of points. The rebuild discipline (§6.2) recreates
// the collection on every full rebuild rather than deleting individual
// rows, so a plain append-only Insert is sufficient; there is no
// update-in-place upsert here.
func (c *Client) Insert(ctx context.Context, collectionName string, points []*Point) error {
	if len(points) == 0 {
		return nil
	}

	ids := make([]int64, len(points))
	embeddings := make([][]float32, len(points))
	symbols := make([]string, len(points))
	timestamps := make([]int64, len(points))
	oiDeltas := make([]float64, len(points))
	fundingRates := make([]float64, len(points))
	volRatios := make([]float64, len(points))
	payloads := make([][]byte, len(points))

	for i, p := range points {
		ids[i] = p.ID
		embeddings[i] = p.Embedding
		symbols[i] = p.Payload.Symbol
		timestamps[i] = p.Payload.TimestampMS
		oiDeltas[i] = p.Payload.OIDeltaPct
		fundingRates[i] = p.Payload.FundingRate
		volRatios[i] = p.Payload.VolatilityRatio

		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloads[i] = raw
	}

	columns := []entity.Column{
		entity.NewColumnInt64("id", ids),
		entity.NewColumnFloatVector("embedding", len(embeddings[0]), embeddings),
		entity.NewColumnVarChar("symbol", symbols),
		entity.NewColumnInt64("timestamp_ms", timestamps),
		entity.NewColumnDouble("oi_delta_pct", oiDeltas),
		entity.NewColumnDouble("funding_rate", fundingRates),
		entity.NewColumnDouble("volatility_ratio", volRatios),
		entity.NewColumnJSONBytes("payload", payloads),
	}

	if _, err := c.conn.Insert(ctx, collectionName, "", columns...); err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// SearchResult is one row returned from Search: the point id, its cosine
// similarity score, and the decoded payload.
type SearchResult struct {
	ID      int64
	Score   float32
	Payload Payload
}

// Search executes a filtered top-k cosine search. filter is a Milvus
// boolean expression built from the equality/range/AND predicates of
// §4.E and §4.G (e.g. `symbol == "BTCUSDT" && timestamp_ms < 1700000000000
// && funding_rate < 0`).
func (c *Client) Search(ctx context.Context, collectionName string, embedding []float32, filter string, topK int, scoreThreshold float32) ([]SearchResult, error) {
	vectors := []entity.Vector{entity.FloatVector(embedding)}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	outputFields := []string{"payload"}

	results, err := c.conn.Search(
		ctx, collectionName, nil, filter, outputFields, vectors, "embedding",
		entity.COSINE, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	out := make([]SearchResult, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		score := results[0].Scores[i]
		if score < scoreThreshold {
			continue
		}
		res := SearchResult{Score: score}
		if idCol, ok := results[0].IDs.(*entity.ColumnInt64); ok {
			val, _ := idCol.ValueByIdx(i)
			res.ID = val
		}
		for _, field := range results[0].Fields {
			if field.Name() != "payload" {
				continue
			}
			col, ok := field.(*entity.ColumnJSONBytes)
			if !ok {
				continue
			}
			raw, err := col.ValueByIdx(i)
			if err != nil {
				continue
			}
			if err := json.Unmarshal(raw, &res.Payload); err != nil {
				continue
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// Flush flushes the collection to ensure data persistence.
func (c *Client) Flush(ctx context.Context, collectionName string) error {
	return c.conn.Flush(ctx, collectionName, false)
}
