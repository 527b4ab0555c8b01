// Command inspect is an operator CLI: it extracts a single Snapshot at a
// given symbol/timestamp from the historical store, embeds and searches
// it against the Vector Index directly, and prints a time-decay-reranked
// table of matches. Grounded on the teacher's cmd/search/main.go demo
// query, generalized from window IDs to Snapshot timestamps and wired to
// pkg/rerank's time-decay reranker, which nothing else in this module
// calls at request time (§4.I's /4.G retrieval path ranks by similarity
// and timestamp only, per spec).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ragpatterns/pkg/config"
	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/extract"
	"ragpatterns/pkg/logger"
	"ragpatterns/pkg/model"
	"ragpatterns/pkg/rerank"
	"ragpatterns/pkg/store/duckdb"
	"ragpatterns/pkg/store/milvus"
)

func main() {
	cfg := parseFlags()
	logger.Init(cfg.LogLevel)
	log := logger.L()

	ctx := context.Background()

	log.Infow("inspect: connecting to duckdb", "path", cfg.DuckDBPath)
	duckClient, err := duckdb.NewClient(cfg.DuckDBPath)
	if err != nil {
		log.Fatalw("inspect: connect duckdb", "error", err)
	}
	defer duckClient.Close()

	reader := duckdb.NewReader(duckClient)
	extractor := extract.NewExtractor(reader, extract.DefaultConfig())

	stepMS := int64(extract.DefaultConfig().CadenceMinutes) * 60 * 1000
	var snap *model.Snapshot
	for res := range extractor.Walk(ctx, cfg.Symbol, cfg.TimestampMS, cfg.TimestampMS+stepMS) {
		if res.Err != nil {
			log.Fatalw("inspect: extraction failed", "error", res.Err)
		}
		snap = res.Snapshot
	}
	if snap == nil {
		log.Fatalw("inspect: no snapshot available at timestamp", "symbol", cfg.Symbol, "timestamp_ms", cfg.TimestampMS)
	}
	log.Infow("inspect: extracted query snapshot", "symbol", snap.Symbol, "timestamp_ms", snap.TimestampMS, "price", snap.Price)

	text := model.RenderText(snap)
	embedder := embed.NewHashingEmbedder(milvus.EmbeddingDim)
	vectors, err := embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		log.Fatalw("inspect: embed failed", "error", err)
	}

	log.Infow("inspect: connecting to milvus", "addr", cfg.MilvusAddr)
	milvusClient, err := milvus.NewClient(ctx, milvus.Config{Address: cfg.MilvusAddr})
	if err != nil {
		log.Fatalw("inspect: connect milvus", "error", err)
	}
	defer milvusClient.Close()

	if err := milvusClient.LoadCollection(ctx, cfg.Collection); err != nil {
		log.Fatalw("inspect: load collection", "error", err)
	}

	filter := fmt.Sprintf(`symbol == "%s"`, cfg.Symbol)
	results, err := milvusClient.Search(ctx, cfg.Collection, vectors[0], filter, cfg.TopK*3, float32(cfg.MinSimilarity))
	if err != nil {
		log.Fatalw("inspect: search failed", "error", err)
	}
	log.Infow("inspect: search complete", "raw_matches", len(results))

	var ranked []rerank.RankedResult
	if cfg.UseTimeDecay {
		reranker := rerank.NewReranker(rerank.DefaultTimeDecayConfig())
		ranked = reranker.TopN(results, time.UnixMilli(cfg.TimestampMS), cfg.TopK)
	} else {
		for _, r := range results {
			ranked = append(ranked, rerank.RankedResult{SearchResult: r, OriginalScore: r.Score, FinalScore: float64(r.Score)})
		}
		if len(ranked) > cfg.TopK {
			ranked = ranked[:cfg.TopK]
		}
	}

	fmt.Printf("%-5s %-14s %-20s %-10s %-10s %-10s\n", "Rank", "Symbol", "Date", "Score", "TimeWt", "Final")
	fmt.Println("--------------------------------------------------------------------------------")
	for i, r := range ranked {
		fmt.Printf("%-5d %-14s %-20s %-.4f     %-.4f     %-.4f\n",
			i+1, r.Payload.Symbol, r.Payload.Date, r.OriginalScore, r.TimeWeight, r.FinalScore)
	}
}

func parseFlags() config.InspectConfig {
	cfg := config.DefaultInspectConfig()
	var timestampStr string

	flag.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Trading symbol")
	flag.StringVar(&timestampStr, "timestamp", "", "Query timestamp (RFC3339), required")
	flag.StringVar(&cfg.Collection, "collection", cfg.Collection, "Milvus collection name")
	flag.StringVar(&cfg.MilvusAddr, "index_endpoint", cfg.MilvusAddr, "Milvus server address")
	flag.StringVar(&cfg.DuckDBPath, "store_path", cfg.DuckDBPath, "DuckDB file path")
	flag.IntVar(&cfg.TopK, "topk", cfg.TopK, "Number of results to display")
	flag.Float64Var(&cfg.MinSimilarity, "min_similarity", cfg.MinSimilarity, "Minimum similarity threshold")
	flag.BoolVar(&cfg.UseTimeDecay, "time_decay", cfg.UseTimeDecay, "Apply time-decay reranking")
	flag.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "Log level")

	flag.Parse()

	if timestampStr == "" {
		fmt.Println("Usage: inspect -timestamp <RFC3339> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	ts, err := time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		fmt.Printf("invalid -timestamp: %v\n", err)
		os.Exit(1)
	}
	cfg.TimestampMS = ts.UnixMilli()

	return cfg
}
