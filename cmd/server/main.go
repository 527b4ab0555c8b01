// Command server runs the line-delimited JSON-RPC 2.0 Retrieval RPC
// server (§4.I), grounded on original_source/rag-rpc-server's main.rs
// wiring order: connect stores, build the handler, run the accept loop
// until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"ragpatterns/pkg/config"
	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/logger"
	"ragpatterns/pkg/retrieve"
	"ragpatterns/pkg/rpc"
	"ragpatterns/pkg/store/milvus"
)

func main() {
	cfg := parseFlags()
	logger.Init(cfg.LogLevel)
	log := logger.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("server: connecting to milvus", "addr", cfg.MilvusAddr)
	milvusClient, err := milvus.NewClient(ctx, milvus.Config{Address: cfg.MilvusAddr})
	if err != nil {
		log.Fatalw("server: connect milvus", "error", err)
	}
	defer milvusClient.Close()

	if err := milvusClient.LoadCollection(ctx, cfg.Collection); err != nil {
		log.Fatalw("server: load collection", "error", err)
	}

	embedder := embed.NewHashingEmbedder(milvus.EmbeddingDim)
	pool := embed.NewPool(embedder, 8, 64)
	defer pool.Close()

	engineCfg := retrieve.DefaultConfig()
	engineCfg.CollectionName = cfg.Collection
	engineCfg.MinMatches = cfg.MinMatches
	engineCfg.FeatureVersion = cfg.FeatureVersion
	engine := retrieve.NewEngine(pool, milvusClient, engineCfg)

	handler := rpc.NewHandler(engine)
	server := rpc.NewServer(handler, rpc.Config{
		Addr:           cfg.Addr,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("server: shutting down", "signal", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Fatalw("server: listener failed", "error", err)
		}
	}
}

func parseFlags() config.ServerConfig {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP listen address")
	flag.IntVar(&cfg.MaxConnections, "max_connections", cfg.MaxConnections, "Max concurrent connections")
	flag.DurationVar(&cfg.ReadTimeout, "read_timeout", cfg.ReadTimeout, "Per-line read timeout")
	flag.DurationVar(&cfg.RequestTimeout, "request_timeout", cfg.RequestTimeout, "Per-request operation deadline")
	flag.StringVar(&cfg.Collection, "collection", cfg.Collection, "Milvus collection name")
	flag.StringVar(&cfg.MilvusAddr, "index_endpoint", cfg.MilvusAddr, "Milvus server address")
	flag.IntVar(&cfg.MinMatches, "min_matches", cfg.MinMatches, "Minimum matches required per query")
	flag.StringVar(&cfg.FeatureVersion, "feature_version", cfg.FeatureVersion, "Expected feature version tag")
	flag.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "Log level")

	flag.Parse()
	return cfg
}
