package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ragpatterns/pkg/logger"
)

// Table names accepted by Reader. These name the logical tables of the
// historical store layout; physically candles/indicators are partitioned
// by timeframe within two tables (see schema.go).
const (
	TableCandles3m     = "candles_3m"
	TableCandles4h      = "candles_4h"
	TableIndicators3m  = "indicators_3m"
	TableIndicators4h  = "indicators_4h"
)

func splitTable(table string) (physical, timeframe string, err error) {
	switch table {
	case TableCandles3m:
		return "candles", "3m", nil
	case TableCandles4h:
		return "candles", "4h", nil
	case TableIndicators3m:
		return "indicators", "3m", nil
	case TableIndicators4h:
		return "indicators", "4h", nil
	default:
		return "", "", fmt.Errorf("duckdb: unknown logical table %q", table)
	}
}

// Reader is the read-only, concurrent-safe Historical Reader: a view of an
// ordered key-value store of candles/indicators keyed lexicographically as
// SYMBOL:TIMESTAMP_MS. This core never writes through a Reader at query
// time; ingest paths write through WriterRepo (writer_repo.go).
type Reader struct {
	client *Client
}

// NewReader creates a new Reader over an open Client.
func NewReader(client *Client) *Reader {
	return &Reader{client: client}
}

// CandleRecord is one OHLCV bar.
type CandleRecord struct {
	TimestampMS int64
	Open, High, Low, Close, Volume float64
}

// IndicatorRecord is one per-bar indicator dict, sparse per timeframe: 3m
// records carry RSI7/RSI14/MACD/EMA20; 4h records carry the 4h fields.
// Fields not applicable to the queried timeframe are left at zero.
type IndicatorRecord struct {
	TimestampMS int64
	RSI7, RSI14, MACD, EMA20 float64
	EMA20_4h, EMA50_4h, ATR3_4h, ATR14_4h float64
	CurrentVolume4h, AvgVolume4h float64
}

// ReadPoint returns the record at symbol/ts in table, or nil if absent.
// Absent keys are not an error (§4.B failure semantics).
func (r *Reader) ReadPoint(ctx context.Context, table, symbol string, ts int64) (interface{}, error) {
	physical, timeframe, err := splitTable(table)
	if err != nil {
		return nil, err
	}
	switch physical {
	case "candles":
		rec, err := r.readCandlePoint(ctx, timeframe, symbol, ts)
		if err != nil || rec == nil {
			return nil, err
		}
		return rec, nil
	case "indicators":
		rec, err := r.readIndicatorPoint(ctx, timeframe, symbol, ts)
		if err != nil || rec == nil {
			return nil, err
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("duckdb: unreachable table %q", physical)
	}
}

func (r *Reader) readCandlePoint(ctx context.Context, timeframe, symbol string, ts int64) (*CandleRecord, error) {
	row := r.client.db.QueryRowContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts = ?`, symbol, timeframe, ts)
	var rec CandleRecord
	if err := row.Scan(&rec.TimestampMS, &rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.Volume); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("duckdb: read candle point: %w", err)
	}
	return &rec, nil
}

func (r *Reader) readIndicatorPoint(ctx context.Context, timeframe, symbol string, ts int64) (*IndicatorRecord, error) {
	row := r.client.db.QueryRowContext(ctx, `
		SELECT ts, rsi_7, rsi_14, macd, ema_20, ema_20_4h, ema_50_4h, atr_3_4h, atr_14_4h, current_volume_4h, avg_volume_4h
		FROM indicators WHERE symbol = ? AND timeframe = ? AND ts = ?`, symbol, timeframe, ts)
	var rec IndicatorRecord
	var rsi7, rsi14, macd, ema20, ema204h, ema504h, atr34h, atr144h, curVol4h, avgVol4h sql.NullFloat64
	err := row.Scan(&rec.TimestampMS, &rsi7, &rsi14, &macd, &ema20,
		&ema204h, &ema504h, &atr34h, &atr144h, &curVol4h, &avgVol4h)
	if err != nil {
		if isNoRows(err) {
			logger.L().Debug("indicator point missing, skipping", "symbol", symbol, "table", timeframe, "ts", ts)
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.L().Warnw("duckdb: corrupted indicator row skipped", "symbol", symbol, "timeframe", timeframe, "ts", ts, "error", err)
		return nil, nil
	}
	rec.RSI7, rec.RSI14, rec.MACD, rec.EMA20 = rsi7.Float64, rsi14.Float64, macd.Float64, ema20.Float64
	rec.EMA20_4h, rec.EMA50_4h, rec.ATR3_4h, rec.ATR14_4h = ema204h.Float64, ema504h.Float64, atr34h.Float64, atr144h.Float64
	rec.CurrentVolume4h, rec.AvgVolume4h = curVol4h.Float64, avgVol4h.Float64
	return &rec, nil
}

// ReadIndicatorSeries returns count samples of an indicator table ending at or
// before endTS, stepping backward by stepMS, oldest first. Missing samples
// are omitted rather than zero-filled.
func (r *Reader) ReadIndicatorSeries(ctx context.Context, table, symbol string, endTS, stepMS int64, count int) ([]IndicatorRecord, error) {
	_, timeframe, err := splitTable(table)
	if err != nil {
		return nil, err
	}
	var out []IndicatorRecord
	for i := 0; i < count; i++ {
		ts := endTS - int64(i)*stepMS
		rec, err := r.readIndicatorPoint(ctx, timeframe, symbol, ts)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	// reverse into oldest-first order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RangeTimestamps enumerates timestamps present in table for symbol within
// [startTS, endTS].
func (r *Reader) RangeTimestamps(ctx context.Context, table, symbol string, startTS, endTS int64) ([]int64, error) {
	physical, timeframe, err := splitTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := r.client.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT ts FROM %s WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`, physical),
		symbol, timeframe, startTS, endTS)
	if err != nil {
		return nil, fmt.Errorf("duckdb: range_timestamps: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("duckdb: scan timestamp: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// ReadCandleSeries returns count closing-price samples from candles_3m or
// candles_4h ending at or before endTS, stepping backward by stepMS,
// oldest first. Missing samples are omitted.
func (r *Reader) ReadCandleSeries(ctx context.Context, table, symbol string, endTS, stepMS int64, count int) ([]CandleRecord, error) {
	_, timeframe, err := splitTable(table)
	if err != nil {
		return nil, err
	}
	var out []CandleRecord
	for i := 0; i < count; i++ {
		ts := endTS - int64(i)*stepMS
		rec, err := r.readCandlePoint(ctx, timeframe, symbol, ts)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MicrostructureRecord is one OI/funding sample.
type MicrostructureRecord struct {
	OpenInterestLatest float64
	OpenInterestAvg24h float64
	FundingRate        float64
}

// ReadMicrostructure returns the OI/funding record at symbol/ts, or nil if
// the table has no row for it (the caller treats this as a placeholder).
func (r *Reader) ReadMicrostructure(ctx context.Context, symbol string, ts int64) (*MicrostructureRecord, error) {
	row := r.client.db.QueryRowContext(ctx, `
		SELECT open_interest_latest, open_interest_avg_24h, funding_rate
		FROM microstructure WHERE symbol = ? AND ts = ?`, symbol, ts)
	var rec MicrostructureRecord
	if err := row.Scan(&rec.OpenInterestLatest, &rec.OpenInterestAvg24h, &rec.FundingRate); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("duckdb: read microstructure: %w", err)
	}
	return &rec, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
