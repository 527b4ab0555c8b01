// Package ingest orchestrates the Ingestion Pipeline (§4.F): Snapshot
// Extractor -> render -> Embedder -> Vector Index Client, in batches.
package ingest

import (
	"context"
	"time"

	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/extract"
	"ragpatterns/pkg/logger"
	"ragpatterns/pkg/model"
	"ragpatterns/pkg/store/milvus"
)

// Config configures a Pipeline run.
type Config struct {
	BatchSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	SchemaVersion  int
	FeatureVersion string
	BuildID        string
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      100,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		SchemaVersion:  1,
		FeatureVersion: "v1_nofx_3m4h",
	}
}

// Stats reports what one ingestion run produced (§4.F step 4). Nothing
// else is persisted by this core.
type Stats struct {
	SnapshotsCreated    int
	EmbeddingsGenerated int
	PointsUploaded      int
	ValidationFailures  int
}

// Index is the subset of the Vector Index Client the Pipeline needs to
// upload a batch, narrow enough to fake in tests without a live Milvus
// server; *milvus.Client satisfies it unchanged.
type Index interface {
	Insert(ctx context.Context, collectionName string, points []*milvus.Point) error
}

// Pipeline wires an Extractor, an Embedder, and a Vector Index Client
// together. Grounded on the teacher's cmd/backfill/main.go orchestration
// order (extract -> embed -> upsert) and
// original_source's ingestion_pipeline.rs batch/point-id bookkeeping.
type Pipeline struct {
	extractor *extract.Extractor
	embedder  embed.Embedder
	index     Index
	cfg       Config
	nextID    int64
}

func NewPipeline(extractor *extract.Extractor, embedder embed.Embedder, index Index, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Pipeline{extractor: extractor, embedder: embedder, index: index, cfg: cfg}
}

// IngestSymbol runs the Extractor for symbol over [startTS, endTS),
// accumulating snapshots into batches of cfg.BatchSize and upserting each
// into collectionName. A batch that exhausts its retries is logged and
// skipped rather than aborting the run (§4.F failure semantics): the
// symbol is reported as partially ingested via the returned Stats.
func (p *Pipeline) IngestSymbol(ctx context.Context, symbol string, startTS, endTS int64, collectionName string) (Stats, error) {
	var stats Stats
	batch := make([]*model.Snapshot, 0, p.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.flushBatch(ctx, collectionName, batch, &stats); err != nil {
			logger.L().Warnw("ingest: batch failed after retries, continuing",
				"symbol", symbol, "batch_size", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for res := range p.extractor.Walk(ctx, symbol, startTS, endTS) {
		if res.Err != nil {
			stats.ValidationFailures++
			logger.L().Debugw("ingest: snapshot rejected", "symbol", symbol, "error", res.Err)
			continue
		}
		stats.SnapshotsCreated++
		batch = append(batch, res.Snapshot)
		if len(batch) >= p.cfg.BatchSize {
			flush()
		}
	}
	flush()

	return stats, ctx.Err()
}

func (p *Pipeline) flushBatch(ctx context.Context, collectionName string, batch []*model.Snapshot, stats *Stats) error {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = model.RenderText(s)
	}

	return retryWithBackoff(ctx, p.cfg.MaxRetries, p.cfg.InitialBackoff, func() error {
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		stats.EmbeddingsGenerated += len(vectors)

		points := make([]*milvus.Point, len(batch))
		for i, s := range batch {
			points[i] = &milvus.Point{
				ID:        p.nextID,
				Embedding: vectors[i],
				Payload:   toPayload(s, vectors[i], p.cfg, p.embedder),
			}
			p.nextID++
		}

		if err := p.index.Insert(ctx, collectionName, points); err != nil {
			return err
		}
		stats.PointsUploaded += len(points)
		return nil
	})
}

func toPayload(s *model.Snapshot, vector []float32, cfg Config, embedder embed.Embedder) milvus.Payload {
	d := model.Derive(s)

	featureVersion := cfg.FeatureVersion
	if s.OIIsPlaceholder {
		featureVersion += "_placeholderoi"
	}

	return milvus.Payload{
		Symbol:      s.Symbol,
		TimestampMS: s.TimestampMS,
		Date:        time.UnixMilli(s.TimestampMS).UTC().Format("2006-01-02T15:04:05Z"),
		Price:       s.Price,

		RSI7: s.RSI7, RSI14: s.RSI14, MACD: s.MACD, EMA20: s.EMA20,
		MidPrices: s.MidPrices, EMA20Vals: s.EMA20Vals, MACDVals: s.MACDVals,
		RSI7Vals: s.RSI7Vals, RSI14Vals: s.RSI14Vals,

		EMA20_4h: s.EMA20_4h, EMA50_4h: s.EMA50_4h, ATR3_4h: s.ATR3_4h, ATR14_4h: s.ATR14_4h,
		CurrentVolume4h: s.CurrentVolume4h, AvgVolume4h: s.AvgVolume4h,
		MACD4hVals: s.MACD4hVals, RSI14_4hVals: s.RSI14_4hVals,

		OpenInterestLatest: s.OpenInterestLatest, OpenInterestAvg24h: s.OpenInterestAvg24h,
		FundingRate: s.FundingRate, OIIsPlaceholder: s.OIIsPlaceholder,
		PriceChange1h: s.PriceChange1h, PriceChange4h: s.PriceChange4h,

		EMARatio20_50: d.EMARatio20_50, OIDeltaPct: d.OIDeltaPct,
		VolatilityRatio: d.VolatilityRatio, HasVolatility: d.HasVolatility,

		Outcome15m: s.Outcome15m, Outcome1h: s.Outcome1h, Outcome4h: s.Outcome4h, Outcome24h: s.Outcome24h,
		MaxRunup1h: s.MaxRunup1h, MaxDrawdown1h: s.MaxDrawdown1h,
		HitStopLoss: s.HitStopLoss, HitTakeProfit: s.HitTakeProfit,

		SchemaVersion: cfg.SchemaVersion, FeatureVersion: featureVersion,
		EmbeddingModel: embedder.ModelName(), EmbeddingDim: len(vector), BuildID: cfg.BuildID,
	}
}
