package model

import (
	"fmt"
	"math"
	"strings"
)

// SeriesLen is the fixed length of a short- or long-horizon indicator series.
const SeriesLen = 10

// MinSeriesSamples is the default minimum number of populated samples a
// series must carry before a Snapshot is considered valid.
const MinSeriesSamples = 5

// StopLossPct and TakeProfitPct are the fixed thresholds against which
// hit_stop_loss / hit_take_profit are evaluated over the 1h forward window.
const (
	StopLossPct   = -2.00
	TakeProfitPct = 3.00
)

// Snapshot is the atomic indexed unit: a point-in-time market state plus
// whatever forward outcomes have been computed for it.
type Snapshot struct {
	Symbol      string
	TimestampMS int64
	Price       float64

	RSI7  float64
	RSI14 float64
	MACD  float64
	EMA20 float64

	MidPrices  []float64
	EMA20Vals  []float64
	MACDVals   []float64
	RSI7Vals   []float64
	RSI14Vals  []float64

	EMA20_4h        float64
	EMA50_4h        float64
	ATR3_4h         float64
	ATR14_4h        float64
	CurrentVolume4h float64
	AvgVolume4h     float64

	MACD4hVals  []float64
	RSI14_4hVals []float64

	OpenInterestLatest float64
	OpenInterestAvg24h float64
	FundingRate        float64
	PriceChange1h      *float64
	PriceChange4h      *float64

	Outcome15m *float64
	Outcome1h  *float64
	Outcome4h  *float64
	Outcome24h *float64

	MaxRunup1h     *float64
	MaxDrawdown1h  *float64
	HitStopLoss    *bool
	HitTakeProfit  *bool

	// OIIsPlaceholder marks that OpenInterestLatest/Avg24h/FundingRate were
	// never observed in the source store and were defaulted to zero rather
	// than genuinely measured. See Extractor's placeholder policy.
	OIIsPlaceholder bool
}

// DerivedFeatures are computed from a Snapshot's fields, never stored
// directly on the type, and recomputed whenever needed.
type DerivedFeatures struct {
	EMARatio20_50   float64
	OIDeltaPct      float64
	VolatilityRatio float64 // 0 when atr_3_4h/atr_14_4h unavailable
	HasVolatility   bool
}

// Derive computes the derived features for a Snapshot.
func Derive(s *Snapshot) DerivedFeatures {
	d := DerivedFeatures{}

	if math.Abs(s.EMA50_4h) < 1e-9 {
		d.EMARatio20_50 = 1.0
	} else {
		d.EMARatio20_50 = s.EMA20_4h / s.EMA50_4h
	}

	if math.Abs(s.OpenInterestAvg24h) < 1e-9 {
		d.OIDeltaPct = 0
	} else {
		d.OIDeltaPct = 100 * (s.OpenInterestLatest - s.OpenInterestAvg24h) / s.OpenInterestAvg24h
	}

	if s.ATR3_4h > 0 && s.ATR14_4h > 0 {
		d.VolatilityRatio = s.ATR3_4h / s.ATR14_4h
		d.HasVolatility = true
	}

	return d
}

// Slope computes the ordinary-least-squares slope of a series with
// x = index position. Returns 0 for series of length < 2.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	return (nf*sumXY - sumX*sumY) / denom
}

// Finite reports whether a float is neither NaN nor infinite.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Validate rejects snapshots with non-finite fields, out-of-range RSIs, or
// series with fewer than minSamples populated entries on either horizon.
func Validate(s *Snapshot, minSamples int) error {
	checks := []struct {
		name string
		v    float64
	}{
		{"price", s.Price}, {"rsi_7", s.RSI7}, {"rsi_14", s.RSI14},
		{"macd", s.MACD}, {"ema_20", s.EMA20},
		{"ema_20_4h", s.EMA20_4h}, {"ema_50_4h", s.EMA50_4h},
	}
	for _, c := range checks {
		if !Finite(c.v) {
			return fmt.Errorf("snapshot validation: %s is not finite", c.name)
		}
	}
	if s.RSI7 < 0 || s.RSI7 > 100 {
		return fmt.Errorf("snapshot validation: rsi_7 %.4f out of [0,100]", s.RSI7)
	}
	if s.RSI14 < 0 || s.RSI14 > 100 {
		return fmt.Errorf("snapshot validation: rsi_14 %.4f out of [0,100]", s.RSI14)
	}
	if minSamples <= 0 {
		minSamples = MinSeriesSamples
	}
	if countPopulated(s.RSI7Vals) < minSamples && countPopulated(s.MACDVals) < minSamples {
		return fmt.Errorf("snapshot validation: short-horizon series below minimum %d samples", minSamples)
	}
	if countPopulated(s.MACD4hVals) < minSamples && countPopulated(s.RSI14_4hVals) < minSamples {
		return fmt.Errorf("snapshot validation: long-horizon series below minimum %d samples", minSamples)
	}
	return nil
}

func countPopulated(values []float64) int {
	n := 0
	for _, v := range values {
		if Finite(v) {
			n++
		}
	}
	return n
}

func rsiBand(rsi float64) string {
	switch {
	case rsi >= 80:
		return "extremely overbought"
	case rsi >= 70:
		return "overbought"
	case rsi >= 60:
		return "bullish"
	case rsi >= 40:
		return "neutral"
	case rsi >= 30:
		return "bearish"
	case rsi >= 20:
		return "oversold"
	default:
		return "extremely oversold"
	}
}

func macdMomentum(macdSeries []float64) string {
	if countPopulated(macdSeries) < 2 {
		return "insufficient history"
	}
	slope := Slope(macdSeries)
	switch {
	case slope > 0:
		return "rising"
	case slope < 0:
		return "falling"
	default:
		return "flat"
	}
}

func trendPhrase(emaRatio float64) string {
	switch {
	case emaRatio > 1.005:
		return "uptrend"
	case emaRatio < 0.995:
		return "downtrend"
	default:
		return "sideways"
	}
}

func oiPhrase(oiDeltaPct float64, placeholder bool) string {
	if placeholder {
		return "insufficient history"
	}
	switch {
	case oiDeltaPct > 5:
		return "rising significantly"
	case oiDeltaPct < -5:
		return "dropping significantly"
	default:
		return "stable"
	}
}

func fundingPhrase(fundingRate float64, placeholder bool) string {
	if placeholder {
		return "insufficient history"
	}
	switch {
	case fundingRate > 0.0005:
		return "highly positive"
	case fundingRate < -0.0005:
		return "highly negative"
	default:
		return "neutral"
	}
}

// RenderText produces the deterministic natural-language rendering fed to
// the embedder. Its content, ordering, and vocabulary are part of the
// externally observable contract: changing it invalidates the index.
func RenderText(s *Snapshot) string {
	d := Derive(s)

	var b strings.Builder
	fmt.Fprintf(&b, "%s at price %.2f. ", s.Symbol, s.Price)
	fmt.Fprintf(&b, "RSI(7) %.1f is %s, RSI(14) is %.1f. ",
		s.RSI7, rsiBand(s.RSI7), s.RSI14)
	fmt.Fprintf(&b, "MACD momentum is %s. ", macdMomentum(s.MACDVals))
	fmt.Fprintf(&b, "4h trend is %s (ema ratio %.4f). ", trendPhrase(d.EMARatio20_50), d.EMARatio20_50)
	fmt.Fprintf(&b, "Open interest is %s (%.2f%% vs 24h average). ", oiPhrase(d.OIDeltaPct, s.OIIsPlaceholder), d.OIDeltaPct)
	fmt.Fprintf(&b, "Funding rate is %s (%.6f). ", fundingPhrase(s.FundingRate, s.OIIsPlaceholder), s.FundingRate)

	if s.PriceChange1h != nil {
		fmt.Fprintf(&b, "Price moved %.2f%% over the last hour. ", *s.PriceChange1h)
	}
	if s.PriceChange4h != nil {
		fmt.Fprintf(&b, "Price moved %.2f%% over the last 4 hours. ", *s.PriceChange4h)
	}

	return strings.TrimSpace(b.String())
}

// RenderTextSimple is an alternative, compact numeric rendering. Available
// for debugging but not the canonical embedder input.
func RenderTextSimple(s *Snapshot) string {
	d := Derive(s)
	return fmt.Sprintf(
		"%s ts=%d price=%.2f rsi7=%.1f rsi14=%.1f macd=%.2f ema_ratio=%.4f oi_delta=%.2f funding=%.6f",
		s.Symbol, s.TimestampMS, s.Price, s.RSI7, s.RSI14, s.MACD, d.EMARatio20_50, d.OIDeltaPct, s.FundingRate,
	)
}
