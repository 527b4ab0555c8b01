// Command writer is the async write-path worker (§9 "external
// collaborator" note): it consumes candle/indicator/microstructure
// batches published over NATS JetStream and persists them into the same
// historical store the Snapshot Extractor reads from. Grounded on the
// teacher's cmd/writer/main.go subscribe/insert/ack wiring.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"

	"ragpatterns/pkg/config"
	"ragpatterns/pkg/logger"
	natsq "ragpatterns/pkg/queue/nats"
	"ragpatterns/pkg/store/duckdb"
)

func main() {
	cfg := parseFlags()
	logger.Init(cfg.LogLevel)
	log := logger.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("writer: connecting to duckdb", "path", cfg.DuckDBPath)
	duckClient, err := duckdb.NewClient(cfg.DuckDBPath)
	if err != nil {
		log.Fatalw("writer: connect duckdb", "error", err)
	}
	defer duckClient.Close()

	if err := duckdb.InitializeSchema(duckClient); err != nil {
		log.Fatalw("writer: init schema", "error", err)
	}
	repo := duckdb.NewWriterRepo(duckClient)

	log.Infow("writer: connecting to nats", "url", cfg.NATSUrl)
	natsCfg := natsq.DefaultConfig()
	natsCfg.URL = cfg.NATSUrl
	natsClient, err := natsq.NewClient(natsCfg)
	if err != nil {
		log.Fatalw("writer: connect nats", "error", err)
	}
	defer natsClient.Close()

	consumers, err := natsClient.SubscribeWritePath(ctx, []natsq.WriteConsumerSpec{
		{Subject: natsq.SubjectCandleWrite, ConsumerName: "candle-writer", Handle: func(msg jetstream.Msg) error {
			m, err := natsq.DecodeCandleWrite(msg.Data())
			if err != nil {
				log.Warnw("writer: decode candle failed", "error", err)
				return err
			}
			if err := repo.InsertCandle(ctx, m.Timeframe, m.Symbol, m.TsMS, m.Open, m.High, m.Low, m.Close, m.Volume); err != nil {
				log.Warnw("writer: insert candle failed", "error", err)
				return err
			}
			return nil
		}},
		{Subject: natsq.SubjectIndicator3mWrite, ConsumerName: "indicator-3m-writer", Handle: func(msg jetstream.Msg) error {
			m, err := natsq.DecodeIndicator3m(msg.Data())
			if err != nil {
				log.Warnw("writer: decode indicator_3m failed", "error", err)
				return err
			}
			if err := repo.InsertIndicator3m(ctx, m.Symbol, m.TsMS, m.RSI7, m.RSI14, m.MACD, m.EMA20); err != nil {
				log.Warnw("writer: insert indicator_3m failed", "error", err)
				return err
			}
			return nil
		}},
		{Subject: natsq.SubjectIndicator4hWrite, ConsumerName: "indicator-4h-writer", Handle: func(msg jetstream.Msg) error {
			m, err := natsq.DecodeIndicator4h(msg.Data())
			if err != nil {
				log.Warnw("writer: decode indicator_4h failed", "error", err)
				return err
			}
			if err := repo.InsertIndicator4h(ctx, m.Symbol, m.TsMS, m.EMA20_4h, m.EMA50_4h, m.ATR3_4h, m.ATR14_4h, m.CurrentVolume4h, m.AvgVolume4h); err != nil {
				log.Warnw("writer: insert indicator_4h failed", "error", err)
				return err
			}
			return nil
		}},
		{Subject: natsq.SubjectMicrostructWrite, ConsumerName: "microstructure-writer", Handle: func(msg jetstream.Msg) error {
			m, err := natsq.DecodeMicrostructure(msg.Data())
			if err != nil {
				log.Warnw("writer: decode microstructure failed", "error", err)
				return err
			}
			if err := repo.InsertMicrostructure(ctx, m.Symbol, m.TsMS, m.OpenInterestLatest, m.OpenInterestAvg24h, m.FundingRate); err != nil {
				log.Warnw("writer: insert microstructure failed", "error", err)
				return err
			}
			return nil
		}},
	})
	if err != nil {
		log.Fatalw("writer: subscribe write path", "error", err)
	}
	defer func() {
		for _, cc := range consumers {
			cc.Stop()
		}
	}()

	log.Infow("writer: started, waiting for messages")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infow("writer: shutting down")
}

func parseFlags() config.WriterConfig {
	cfg := config.DefaultWriterConfig()

	flag.StringVar(&cfg.NATSUrl, "nats", cfg.NATSUrl, "NATS server URL")
	flag.StringVar(&cfg.DuckDBPath, "store_path", cfg.DuckDBPath, "DuckDB file path")
	flag.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "Log level")

	flag.Parse()
	return cfg
}
