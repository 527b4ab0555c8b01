package nats

import "encoding/json"

// Subject constants for the async candle/indicator write path that
// supplements the synchronous batch ingestion pipeline: an upstream
// collector can stream freshly closed bars instead of requiring a backfill
// run, and cmd/writer persists them into the same store the retrieval
// engine's Historical Reader reads from.
const (
	SubjectCandleWrite       = "rag.candles.write"
	SubjectIndicator3mWrite  = "rag.indicators.3m.write"
	SubjectIndicator4hWrite  = "rag.indicators.4h.write"
	SubjectMicrostructWrite  = "rag.microstructure.write"
)

// CandleWriteMsg is one OHLCV bar for a given timeframe.
type CandleWriteMsg struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	TsMS      int64   `json:"ts_ms"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Indicator3mMsg is one 3m-cadence indicator row.
type Indicator3mMsg struct {
	Symbol string  `json:"symbol"`
	TsMS   int64   `json:"ts_ms"`
	RSI7   float64 `json:"rsi_7"`
	RSI14  float64 `json:"rsi_14"`
	MACD   float64 `json:"macd"`
	EMA20  float64 `json:"ema_20"`
}

// Indicator4hMsg is one 4h-cadence indicator row.
type Indicator4hMsg struct {
	Symbol          string  `json:"symbol"`
	TsMS            int64   `json:"ts_ms"`
	EMA20_4h        float64 `json:"ema_20_4h"`
	EMA50_4h        float64 `json:"ema_50_4h"`
	ATR3_4h         float64 `json:"atr_3_4h"`
	ATR14_4h        float64 `json:"atr_14_4h"`
	CurrentVolume4h float64 `json:"current_volume_4h"`
	AvgVolume4h     float64 `json:"avg_volume_4h"`
}

// MicrostructureMsg carries open interest / funding samples.
type MicrostructureMsg struct {
	Symbol             string  `json:"symbol"`
	TsMS               int64   `json:"ts_ms"`
	OpenInterestLatest float64 `json:"open_interest_latest"`
	OpenInterestAvg24h float64 `json:"open_interest_avg_24h"`
	FundingRate        float64 `json:"funding_rate"`
}

func Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func DecodeCandleWrite(data []byte) (*CandleWriteMsg, error) {
	var msg CandleWriteMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func DecodeIndicator3m(data []byte) (*Indicator3mMsg, error) {
	var msg Indicator3mMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func DecodeIndicator4h(data []byte) (*Indicator4hMsg, error) {
	var msg Indicator4hMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func DecodeMicrostructure(data []byte) (*MicrostructureMsg, error) {
	var msg MicrostructureMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
