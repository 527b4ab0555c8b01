// Package extract implements the Snapshot Extractor (§4.C): walking a
// historical time range at a fixed cadence, assembling Snapshots from the
// Historical Reader, and computing leakage-safe forward outcomes.
package extract

import (
	"context"
	"fmt"

	"ragpatterns/pkg/model"
	"ragpatterns/pkg/store/duckdb"
)

// Config configures an Extractor.
type Config struct {
	CadenceMinutes           int
	MinSeriesSamples         int
	TreatZeroOIAsPlaceholder bool
	// ViewHorizonMS, if set, bounds every forward-outcome read to
	// timestamps <= *ViewHorizonMS, for walk-forward evaluation without
	// leakage beyond the evaluation cutoff (§9).
	ViewHorizonMS *int64
}

func DefaultConfig() Config {
	return Config{
		CadenceMinutes:           15,
		MinSeriesSamples:         model.MinSeriesSamples,
		TreatZeroOIAsPlaceholder: true,
	}
}

// Extractor walks [start_ts, end_ts) for one symbol at the configured
// cadence, grounded on the teacher's window.Builder warmup/step state
// machine: that machine emitted a window every S candles once W were
// buffered, generalized here to "emit a snapshot every cadence tick once
// the minimum series length is satisfied" — the buffering unit changes
// from raw candles to indicator samples, the shape does not.
type Extractor struct {
	reader *duckdb.Reader
	cfg    Config
}

func NewExtractor(reader *duckdb.Reader, cfg Config) *Extractor {
	if cfg.CadenceMinutes <= 0 {
		cfg.CadenceMinutes = 15
	}
	if cfg.MinSeriesSamples <= 0 {
		cfg.MinSeriesSamples = model.MinSeriesSamples
	}
	return &Extractor{reader: reader, cfg: cfg}
}

// Result is one tick's outcome: either a valid Snapshot or an error
// (validation failure or read failure). The walk continues past either.
type Result struct {
	Snapshot *model.Snapshot
	Err      error
}

// Walk lazily yields Snapshots for symbol over [startTS, endTS), oldest
// first, on the returned channel. The channel is closed when the walk
// completes or ctx is cancelled.
func (e *Extractor) Walk(ctx context.Context, symbol string, startTS, endTS int64) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		stepMS := int64(e.cfg.CadenceMinutes) * 60 * 1000
		for t := startTS; t < endTS; t += stepMS {
			select {
			case <-ctx.Done():
				return
			default:
			}

			snap, err := e.extractOne(ctx, symbol, t)
			if err != nil {
				select {
				case out <- Result{Err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if snap == nil {
				continue // step 1: indicators_3m missing at t, skip
			}

			select {
			case out <- Result{Snapshot: snap}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// extractOne runs the algorithm of §4.C steps 1-8 for a single tick.
func (e *Extractor) extractOne(ctx context.Context, symbol string, t int64) (*model.Snapshot, error) {
	point, err := e.reader.ReadPoint(ctx, duckdb.TableIndicators3m, symbol, t)
	if err != nil {
		return nil, fmt.Errorf("extract: read indicators_3m point: %w", err)
	}
	if point == nil {
		return nil, nil
	}
	cur3m := point.(*duckdb.IndicatorRecord)

	candlePoint, err := e.reader.ReadPoint(ctx, duckdb.TableCandles3m, symbol, t)
	if err != nil {
		return nil, fmt.Errorf("extract: read candles_3m point: %w", err)
	}
	if candlePoint == nil {
		return nil, nil
	}
	candle := candlePoint.(*duckdb.CandleRecord)

	s := &model.Snapshot{
		Symbol:      symbol,
		TimestampMS: t,
		Price:       candle.Close,
		RSI7:        cur3m.RSI7,
		RSI14:       cur3m.RSI14,
		MACD:        cur3m.MACD,
		EMA20:       cur3m.EMA20,
	}

	if err := e.fillShortSeries(ctx, symbol, t, s); err != nil {
		return nil, err
	}

	fourHBarTS := floorTo4h(t)
	if err := e.fillLongHorizon(ctx, symbol, fourHBarTS, s); err != nil {
		return nil, err
	}

	if err := e.fillMicrostructure(ctx, symbol, t, s); err != nil {
		return nil, err
	}

	cr := newCausalReader(e.reader, t, e.cfg.ViewHorizonMS)
	o15, o1h, o4h, o24h, runup, drawdown, stopHit, tpHit, err := forwardOutcomes(ctx, cr, symbol, t, s.Price)
	if err != nil {
		return nil, fmt.Errorf("extract: forward outcomes: %w", err)
	}
	s.Outcome15m, s.Outcome1h, s.Outcome4h, s.Outcome24h = o15, o1h, o4h, o24h
	s.MaxRunup1h, s.MaxDrawdown1h = runup, drawdown
	s.HitStopLoss, s.HitTakeProfit = stopHit, tpHit

	if err := model.Validate(s, e.cfg.MinSeriesSamples); err != nil {
		return nil, err
	}

	return s, nil
}

func (e *Extractor) fillShortSeries(ctx context.Context, symbol string, t int64, s *model.Snapshot) error {
	const stepMS = 3 * 60 * 1000

	candles, err := e.reader.ReadCandleSeries(ctx, duckdb.TableCandles3m, symbol, t, stepMS, model.SeriesLen)
	if err != nil {
		return fmt.Errorf("extract: read candle series: %w", err)
	}
	indicators, err := e.reader.ReadIndicatorSeries(ctx, duckdb.TableIndicators3m, symbol, t, stepMS, model.SeriesLen)
	if err != nil {
		return fmt.Errorf("extract: read short-horizon indicator series: %w", err)
	}

	midPrices := NewRingBuffer[float64](model.SeriesLen)
	for _, c := range candles {
		midPrices.Push(c.Close)
	}
	s.MidPrices = midPrices.ToSlice()

	ema, macd, rsi7, rsi14 := NewRingBuffer[float64](model.SeriesLen), NewRingBuffer[float64](model.SeriesLen),
		NewRingBuffer[float64](model.SeriesLen), NewRingBuffer[float64](model.SeriesLen)
	for _, ind := range indicators {
		ema.Push(ind.EMA20)
		macd.Push(ind.MACD)
		rsi7.Push(ind.RSI7)
		rsi14.Push(ind.RSI14)
	}
	s.EMA20Vals = ema.ToSlice()
	s.MACDVals = macd.ToSlice()
	s.RSI7Vals = rsi7.ToSlice()
	s.RSI14Vals = rsi14.ToSlice()
	return nil
}

func (e *Extractor) fillLongHorizon(ctx context.Context, symbol string, fourHBarTS int64, s *model.Snapshot) error {
	point, err := e.reader.ReadPoint(ctx, duckdb.TableIndicators4h, symbol, fourHBarTS)
	if err != nil {
		return fmt.Errorf("extract: read indicators_4h point: %w", err)
	}
	if point != nil {
		cur4h := point.(*duckdb.IndicatorRecord)
		s.EMA20_4h = cur4h.EMA20_4h
		s.EMA50_4h = cur4h.EMA50_4h
		s.ATR3_4h = cur4h.ATR3_4h
		s.ATR14_4h = cur4h.ATR14_4h
		s.CurrentVolume4h = cur4h.CurrentVolume4h
		s.AvgVolume4h = cur4h.AvgVolume4h
	}

	const stepMS = 4 * 60 * 60 * 1000
	indicators, err := e.reader.ReadIndicatorSeries(ctx, duckdb.TableIndicators4h, symbol, fourHBarTS, stepMS, model.SeriesLen)
	if err != nil {
		return fmt.Errorf("extract: read long-horizon indicator series: %w", err)
	}
	macd4h, rsi14_4h := NewRingBuffer[float64](model.SeriesLen), NewRingBuffer[float64](model.SeriesLen)
	for _, ind := range indicators {
		macd4h.Push(ind.MACD)
		rsi14_4h.Push(ind.RSI14)
	}
	s.MACD4hVals = macd4h.ToSlice()
	s.RSI14_4hVals = rsi14_4h.ToSlice()
	return nil
}

func (e *Extractor) fillMicrostructure(ctx context.Context, symbol string, t int64, s *model.Snapshot) error {
	rec, err := e.reader.ReadMicrostructure(ctx, symbol, t)
	if err != nil {
		return fmt.Errorf("extract: read microstructure: %w", err)
	}
	if rec == nil {
		if e.cfg.TreatZeroOIAsPlaceholder {
			s.OIIsPlaceholder = true
		}
		return nil
	}
	s.OpenInterestLatest = rec.OpenInterestLatest
	s.OpenInterestAvg24h = rec.OpenInterestAvg24h
	s.FundingRate = rec.FundingRate
	return nil
}

// floorTo4h rounds tsMS down to the start of its containing 4-hour bar.
func floorTo4h(tsMS int64) int64 {
	const fourH = 4 * 60 * 60 * 1000
	return (tsMS / fourH) * fourH
}
