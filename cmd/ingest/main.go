// Command ingest runs the Ingestion Pipeline (§4.F) over a historical
// store, or a mock data source for exercising the pipeline end to end,
// and upserts resulting Snapshot embeddings into the Vector Index.
// Grounded on the teacher's cmd/backfill/main.go orchestration order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ragpatterns/pkg/config"
	"ragpatterns/pkg/data"
	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/extract"
	"ragpatterns/pkg/ingest"
	"ragpatterns/pkg/logger"
	"ragpatterns/pkg/store/duckdb"
	"ragpatterns/pkg/store/milvus"
)

func main() {
	cfg := parseFlags()
	logger.Init(cfg.LogLevel)
	log := logger.L()

	ctx := context.Background()

	log.Infow("ingest: connecting to duckdb", "path", cfg.DuckDBPath)
	duckClient, err := duckdb.NewClient(cfg.DuckDBPath)
	if err != nil {
		log.Fatalw("ingest: connect duckdb", "error", err)
	}
	defer duckClient.Close()

	if err := duckdb.InitializeSchema(duckClient); err != nil {
		log.Fatalw("ingest: init schema", "error", err)
	}

	var symbols []string
	if cfg.DataSource == "store" && cfg.Symbols == "all" {
		symbols, err = duckClient.Symbols(ctx)
		if err != nil {
			log.Fatalw("ingest: discover symbols", "error", err)
		}
		if len(symbols) == 0 {
			log.Fatalw("ingest: no symbols found in store", "path", cfg.DuckDBPath)
		}
		log.Infow("ingest: discovered symbols from store", "count", len(symbols))
	} else {
		symbols = strings.Split(cfg.Symbols, ",")
	}

	if cfg.DataSource == "mock" {
		writerRepo := duckdb.NewWriterRepo(duckClient)
		for _, symbol := range symbols {
			log.Infow("ingest: populating mock data", "symbol", symbol, "seed", cfg.MockSeed)
			gen := data.NewMockGenerator(symbol, cfg.MockSeed)
			if err := gen.Populate(ctx, writerRepo, cfg.StartTS, cfg.EndTS); err != nil {
				log.Fatalw("ingest: mock populate failed", "symbol", symbol, "error", err)
			}
		}
	}

	log.Infow("ingest: connecting to milvus", "addr", cfg.MilvusAddr)
	milvusClient, err := milvus.NewClient(ctx, milvus.Config{Address: cfg.MilvusAddr})
	if err != nil {
		log.Fatalw("ingest: connect milvus", "error", err)
	}
	defer milvusClient.Close()

	collectionCfg := milvus.DefaultCollectionConfig()
	collectionCfg.Name = cfg.Collection
	collectionCfg.Dimension = cfg.VectorDim
	if err := milvusClient.CreateCollection(ctx, collectionCfg); err != nil {
		log.Fatalw("ingest: create collection", "error", err)
	}

	reader := duckdb.NewReader(duckClient)
	extractor := extract.NewExtractor(reader, extract.Config{
		CadenceMinutes:           cfg.CadenceMinutes,
		MinSeriesSamples:         5,
		TreatZeroOIAsPlaceholder: true,
	})
	embedder := embed.NewHashingEmbedder(cfg.VectorDim)
	pipelineCfg := ingest.DefaultConfig()
	pipelineCfg.BatchSize = cfg.BatchSize
	pipeline := ingest.NewPipeline(extractor, embedder, milvusClient, pipelineCfg)

	var totalStats ingest.Stats
	for _, symbol := range symbols {
		log.Infow("ingest: running pipeline", "symbol", symbol, "start_ts", cfg.StartTS, "end_ts", cfg.EndTS)
		stats, err := pipeline.IngestSymbol(ctx, symbol, cfg.StartTS, cfg.EndTS, cfg.Collection)
		if err != nil {
			log.Errorw("ingest: pipeline run failed", "symbol", symbol, "error", err)
			os.Exit(2)
		}
		log.Infow("ingest: symbol complete",
			"symbol", symbol, "snapshots", stats.SnapshotsCreated, "embeddings", stats.EmbeddingsGenerated,
			"points_uploaded", stats.PointsUploaded, "validation_failures", stats.ValidationFailures)
		totalStats.SnapshotsCreated += stats.SnapshotsCreated
		totalStats.EmbeddingsGenerated += stats.EmbeddingsGenerated
		totalStats.PointsUploaded += stats.PointsUploaded
		totalStats.ValidationFailures += stats.ValidationFailures
	}

	if err := milvusClient.Flush(ctx, cfg.Collection); err != nil {
		log.Warnw("ingest: flush failed", "error", err)
	}
	if err := milvusClient.CreateIndex(ctx, cfg.Collection, "embedding", 128); err != nil {
		log.Warnw("ingest: create index failed", "error", err)
	}
	if err := milvusClient.LoadCollection(ctx, cfg.Collection); err != nil {
		log.Warnw("ingest: load collection failed", "error", err)
	}

	log.Infow("ingest: run complete",
		"snapshots", totalStats.SnapshotsCreated, "embeddings", totalStats.EmbeddingsGenerated,
		"points_uploaded", totalStats.PointsUploaded, "validation_failures", totalStats.ValidationFailures)
}

func parseFlags() config.IngestConfig {
	cfg := config.DefaultIngestConfig()
	var startStr, endStr string

	flag.StringVar(&cfg.Symbols, "symbols", cfg.Symbols, "Comma-separated trading symbols")
	flag.StringVar(&startStr, "start", "", "Range start (RFC3339 or integer days ago), required")
	flag.StringVar(&endStr, "end", "", "Range end (RFC3339 or integer days ago), required")
	flag.IntVar(&cfg.CadenceMinutes, "cadence_minutes", cfg.CadenceMinutes, "Snapshot cadence in minutes")
	flag.StringVar(&cfg.Collection, "collection", cfg.Collection, "Milvus collection name")
	flag.StringVar(&cfg.MilvusAddr, "index_endpoint", cfg.MilvusAddr, "Milvus server address")
	flag.StringVar(&cfg.DuckDBPath, "store_path", cfg.DuckDBPath, "DuckDB file path")
	flag.StringVar(&cfg.DataSource, "data_source", cfg.DataSource, "Data source: mock|store")
	flag.Int64Var(&cfg.MockSeed, "mock_seed", cfg.MockSeed, "Mock generator seed")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Ingestion batch size")
	flag.IntVar(&cfg.VectorDim, "dim", cfg.VectorDim, "Embedding dimension")
	flag.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "Log level")

	flag.Parse()

	if startStr == "" || endStr == "" {
		fmt.Println("Usage: ingest -start <RFC3339|days-ago> -end <RFC3339|days-ago> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	start, err := parseTimeArg(startStr)
	if err != nil {
		fmt.Printf("invalid -start: %v\n", err)
		os.Exit(1)
	}
	end, err := parseTimeArg(endStr)
	if err != nil {
		fmt.Printf("invalid -end: %v\n", err)
		os.Exit(1)
	}
	cfg.StartTS = start.UnixMilli()
	cfg.EndTS = end.UnixMilli()

	if cfg.DataSource != "mock" && cfg.DataSource != "store" {
		fmt.Println("data_source must be mock or store")
		os.Exit(1)
	}

	return cfg
}

// parseTimeArg accepts either an RFC3339 timestamp or a bare non-negative
// integer giving the number of days before now, per §6.4's "ISO-8601 or
// integer 'days ago'" CLI contract.
func parseTimeArg(s string) (time.Time, error) {
	if days, err := strconv.Atoi(s); err == nil {
		if days < 0 {
			return time.Time{}, fmt.Errorf("days ago must be non-negative, got %d", days)
		}
		return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
	}
	return time.Parse(time.RFC3339, s)
}
