// Package config parses flag-driven configuration for each binary,
// grounded on the teacher's cmd/backfill, cmd/search, and cmd/writer
// parseFlags() style: a Config struct populated by flag.*Var calls, with
// flag.Parse() and required-field checks left to each binary's own
// parseFlags so usage messages stay specific to that command.
package config

import "time"

// IngestConfig configures cmd/ingest.
type IngestConfig struct {
	Symbols        string // comma-separated
	StartTS        int64
	EndTS          int64
	CadenceMinutes int
	Collection     string
	MilvusAddr     string
	DuckDBPath     string
	DataSource     string // "mock" or "store"
	MockSeed       int64
	BatchSize      int
	VectorDim      int
	LogLevel       string
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Symbols:        "BTCUSDT",
		CadenceMinutes: 15,
		Collection:     "trading_patterns",
		MilvusAddr:     "localhost:19530",
		DuckDBPath:     "ragpatterns.duckdb",
		DataSource:     "mock",
		MockSeed:       1,
		BatchSize:      100,
		VectorDim:      384,
		LogLevel:       "info",
	}
}

// ServerConfig configures cmd/server (the RPC server).
type ServerConfig struct {
	Addr           string
	MaxConnections int
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
	Collection     string
	MilvusAddr     string
	MinMatches     int
	FeatureVersion string
	LogLevel       string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8090",
		MaxConnections: 100,
		ReadTimeout:    10 * time.Second,
		RequestTimeout: 5 * time.Second,
		Collection:     "trading_patterns",
		MilvusAddr:     "localhost:19530",
		MinMatches:     3,
		FeatureVersion: "v1_nofx_3m4h",
		LogLevel:       "info",
	}
}

// InspectConfig configures cmd/inspect, the operator CLI that runs one
// retrieval against a live index and prints a reranked table, grounded on
// the teacher's cmd/search demo query.
type InspectConfig struct {
	Symbol         string
	TimestampMS    int64
	Collection     string
	MilvusAddr     string
	DuckDBPath     string
	TopK           int
	MinSimilarity  float64
	UseTimeDecay   bool
	LogLevel       string
}

func DefaultInspectConfig() InspectConfig {
	return InspectConfig{
		Symbol:        "BTCUSDT",
		Collection:    "trading_patterns",
		MilvusAddr:    "localhost:19530",
		DuckDBPath:    "ragpatterns.duckdb",
		TopK:          5,
		MinSimilarity: 0.7,
		UseTimeDecay:  true,
		LogLevel:      "info",
	}
}

// WriterConfig configures cmd/writer.
type WriterConfig struct {
	NATSUrl    string
	DuckDBPath string
	LogLevel   string
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		NATSUrl:    "nats://localhost:4222",
		DuckDBPath: "ragpatterns.duckdb",
		LogLevel:   "info",
	}
}
