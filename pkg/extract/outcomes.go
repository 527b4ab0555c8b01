package extract

import (
	"context"

	"ragpatterns/pkg/model"
	"ragpatterns/pkg/store/duckdb"
)

const (
	offset15m = 15 * 60 * 1000
	offset1h  = 60 * 60 * 1000
	offset4h  = 4 * 60 * 60 * 1000
	offset24h = 24 * 60 * 60 * 1000
)

// forwardOutcomes computes outcome_15m/1h/4h/24h, max_runup_1h,
// max_drawdown_1h, hit_stop_loss, hit_take_profit for a snapshot taken at
// ts with the given base price, reading only through cr (the leakage
// guard). A missing forward candle leaves the corresponding field nil
// rather than failing the snapshot (§3.1: "forward outcomes may be
// absent").
func forwardOutcomes(ctx context.Context, cr *causalReader, symbol string, ts int64, price float64) (
	outcome15m, outcome1h, outcome4h, outcome24h *float64,
	maxRunup1h, maxDrawdown1h *float64,
	hitStopLoss, hitTakeProfit *bool,
	err error,
) {
	outcome15m, err = pctChangeAt(ctx, cr, symbol, ts+offset15m, price)
	if err != nil {
		return
	}
	outcome1h, err = pctChangeAt(ctx, cr, symbol, ts+offset1h, price)
	if err != nil {
		return
	}
	outcome4h, err = pctChangeAt(ctx, cr, symbol, ts+offset4h, price)
	if err != nil {
		return
	}
	outcome24h, err = pctChangeAt(ctx, cr, symbol, ts+offset24h, price)
	if err != nil {
		return
	}

	timestamps, rangeErr := cr.rangeTimestamps(ctx, symbol, duckdb.TableCandles3m, ts+1, ts+offset1h)
	if rangeErr != nil {
		err = rangeErr
		return
	}
	if len(timestamps) == 0 {
		return
	}

	var maxHigh, minLow float64
	haveExtremes := false
	for _, sampleTS := range timestamps {
		rec, readErr := cr.readCandlePoint(ctx, symbol, duckdb.TableCandles3m, sampleTS)
		if readErr != nil {
			err = readErr
			return
		}
		if rec == nil {
			continue
		}
		if !haveExtremes {
			maxHigh, minLow = rec.High, rec.Low
			haveExtremes = true
			continue
		}
		if rec.High > maxHigh {
			maxHigh = rec.High
		}
		if rec.Low < minLow {
			minLow = rec.Low
		}
	}
	if !haveExtremes || price == 0 {
		return
	}

	runup := 100 * (maxHigh - price) / price
	drawdown := 100 * (minLow - price) / price
	maxRunup1h = &runup
	maxDrawdown1h = &drawdown

	stopHit := drawdown <= model.StopLossPct
	tpHit := runup >= model.TakeProfitPct
	hitStopLoss = &stopHit
	hitTakeProfit = &tpHit
	return
}

func pctChangeAt(ctx context.Context, cr *causalReader, symbol string, ts int64, basePrice float64) (*float64, error) {
	rec, err := cr.readCandlePoint(ctx, symbol, duckdb.TableCandles3m, ts)
	if err != nil {
		return nil, err
	}
	if rec == nil || basePrice == 0 {
		return nil, nil
	}
	pct := 100 * (rec.Close - basePrice) / basePrice
	return &pct, nil
}
