package duckdb

import (
	"context"
)

// WriterRepo handles writes into the historical store's backing tables.
// This core's Reader never writes at query time; WriterRepo exists for the
// batch CLI's mock data source and for the NATS writer, which persist
// upstream candle/indicator/microstructure batches this core treats as an
// external collaborator in production (§9: "this core opens a read-only
// handle and never writes" refers to the query path only).
type WriterRepo struct {
	client *Client
}

func NewWriterRepo(client *Client) *WriterRepo {
	return &WriterRepo{client: client}
}

func (r *WriterRepo) InsertCandle(ctx context.Context, timeframe, symbol string, ts int64, open, high, low, close, volume float64) error {
	return r.client.Exec(`
		INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume
	`, symbol, timeframe, ts, open, high, low, close, volume)
}

func (r *WriterRepo) InsertIndicator3m(ctx context.Context, symbol string, ts int64, rsi7, rsi14, macd, ema20 float64) error {
	return r.client.Exec(`
		INSERT INTO indicators (symbol, timeframe, ts, rsi_7, rsi_14, macd, ema_20)
		VALUES (?, '3m', ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			rsi_7 = EXCLUDED.rsi_7, rsi_14 = EXCLUDED.rsi_14, macd = EXCLUDED.macd, ema_20 = EXCLUDED.ema_20
	`, symbol, ts, rsi7, rsi14, macd, ema20)
}

func (r *WriterRepo) InsertIndicator4h(ctx context.Context, symbol string, ts int64, ema20_4h, ema50_4h, atr3_4h, atr14_4h, curVol, avgVol float64) error {
	return r.client.Exec(`
		INSERT INTO indicators (symbol, timeframe, ts, ema_20_4h, ema_50_4h, atr_3_4h, atr_14_4h, current_volume_4h, avg_volume_4h)
		VALUES (?, '4h', ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			ema_20_4h = EXCLUDED.ema_20_4h, ema_50_4h = EXCLUDED.ema_50_4h,
			atr_3_4h = EXCLUDED.atr_3_4h, atr_14_4h = EXCLUDED.atr_14_4h,
			current_volume_4h = EXCLUDED.current_volume_4h, avg_volume_4h = EXCLUDED.avg_volume_4h
	`, symbol, ts, ema20_4h, ema50_4h, atr3_4h, atr14_4h, curVol, avgVol)
}

func (r *WriterRepo) InsertMicrostructure(ctx context.Context, symbol string, ts int64, oiLatest, oiAvg24h, fundingRate float64) error {
	return r.client.Exec(`
		INSERT INTO microstructure (symbol, ts, open_interest_latest, open_interest_avg_24h, funding_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open_interest_latest = EXCLUDED.open_interest_latest,
			open_interest_avg_24h = EXCLUDED.open_interest_avg_24h,
			funding_rate = EXCLUDED.funding_rate
	`, symbol, ts, oiLatest, oiAvg24h, fundingRate)
}
