// Package data supplies the CLI's data_source=mock path: a deterministic
// synthetic OHLCV generator whose derived indicators are computed with the
// same technical-analysis library the reference fleet uses, so ingestion
// can be exercised end to end without a live historical store.
package data

import (
	"context"
	"math"
	"math/rand"

	"github.com/markcheno/go-talib"

	"ragpatterns/pkg/store/duckdb"
)

const (
	step3mMS = 3 * 60 * 1000
	step4hMS = 4 * 60 * 60 * 1000
)

// MockGenerator produces a seeded random-walk price series for a symbol
// and writes candles + indicators covering it into a duckdb-backed store.
type MockGenerator struct {
	Symbol    string
	Seed      int64
	BasePrice float64
}

func NewMockGenerator(symbol string, seed int64) *MockGenerator {
	return &MockGenerator{Symbol: symbol, Seed: seed, BasePrice: 50000}
}

// Populate writes 3m candles/indicators and 4h candles/indicators covering
// [startMS, endMS) into repo, along with a microstructure row per 4h bar.
func (g *MockGenerator) Populate(ctx context.Context, repo *duckdb.WriterRepo, startMS, endMS int64) error {
	rng := rand.New(rand.NewSource(g.Seed))

	closes3m, highs3m, lows3m, ts3m := g.walk(rng, startMS, endMS, step3mMS, 0.0015)
	if err := g.writeCandlesAndIndicators3m(ctx, repo, ts3m, closes3m, highs3m, lows3m); err != nil {
		return err
	}

	closes4h, highs4h, lows4h, ts4h := g.walk(rng, startMS, endMS, step4hMS, 0.01)
	volumes4h := make([]float64, len(closes4h))
	for i := range volumes4h {
		volumes4h[i] = 1000 + rng.Float64()*500
	}
	if err := g.writeCandlesAndIndicators4h(ctx, repo, ts4h, closes4h, highs4h, lows4h, volumes4h); err != nil {
		return err
	}

	return g.writeMicrostructure(ctx, repo, rng, ts4h)
}

func (g *MockGenerator) walk(rng *rand.Rand, startMS, endMS, stepMS int64, volStep float64) (closes, highs, lows []float64, ts []int64) {
	price := g.BasePrice
	for t := startMS; t < endMS; t += stepMS {
		price *= 1 + (rng.Float64()*2-1)*volStep
		high := price * (1 + rng.Float64()*volStep)
		low := price * (1 - rng.Float64()*volStep)
		closes = append(closes, price)
		highs = append(highs, high)
		lows = append(lows, low)
		ts = append(ts, t)
	}
	return
}

func (g *MockGenerator) writeCandlesAndIndicators3m(ctx context.Context, repo *duckdb.WriterRepo, ts []int64, closes, highs, lows []float64) error {
	rsi7 := talib.Rsi(closes, 7)
	rsi14 := talib.Rsi(closes, 14)
	macd, _, _ := talib.Macd(closes, 12, 26, 9)
	ema20 := talib.Ema(closes, 20)

	for i := range ts {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		if err := repo.InsertCandle(ctx, "3m", g.Symbol, ts[i], open, highs[i], lows[i], closes[i], 10+float64(i%7)); err != nil {
			return err
		}
		if err := repo.InsertIndicator3m(ctx, g.Symbol, ts[i], safe(rsi7, i), safe(rsi14, i), safe(macd, i), safe(ema20, i)); err != nil {
			return err
		}
	}
	return nil
}

func (g *MockGenerator) writeCandlesAndIndicators4h(ctx context.Context, repo *duckdb.WriterRepo, ts []int64, closes, highs, lows, volumes []float64) error {
	ema20 := talib.Ema(closes, 20)
	ema50 := talib.Ema(closes, 50)
	atr3 := talib.Atr(highs, lows, closes, 3)
	atr14 := talib.Atr(highs, lows, closes, 14)

	for i := range ts {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		if err := repo.InsertCandle(ctx, "4h", g.Symbol, ts[i], open, highs[i], lows[i], closes[i], volumes[i]); err != nil {
			return err
		}
		avgVol := movingAverage(volumes, i, 20)
		if err := repo.InsertIndicator4h(ctx, g.Symbol, ts[i],
			safe(ema20, i), safe(ema50, i), safe(atr3, i), safe(atr14, i), volumes[i], avgVol); err != nil {
			return err
		}
	}
	return nil
}

func (g *MockGenerator) writeMicrostructure(ctx context.Context, repo *duckdb.WriterRepo, rng *rand.Rand, ts []int64) error {
	runningOI := make([]float64, 0, len(ts))
	for range ts {
		runningOI = append(runningOI, 1.4e9+rng.Float64()*2e8)
	}
	for i, t := range ts {
		avg := movingAverage(runningOI, i, 6)
		funding := (rng.Float64()*2 - 1) * 0.0003
		if err := repo.InsertMicrostructure(ctx, g.Symbol, t, runningOI[i], avg, funding); err != nil {
			return err
		}
	}
	return nil
}

func safe(series []float64, i int) float64 {
	if i < 0 || i >= len(series) || math.IsNaN(series[i]) || math.IsInf(series[i], 0) {
		return 0
	}
	return series[i]
}

func movingAverage(values []float64, i, window int) float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	sum, n := 0.0, 0
	for j := start; j <= i; j++ {
		sum += values[j]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
