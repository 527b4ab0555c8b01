package duckdb

import "fmt"

// Two physical tables (candles, indicators), each keyed by
// (symbol, timeframe, ts) and partitioned by timeframe ("3m" / "4h"),
// implement the four logical tables of the historical store layout
// (candles_3m, candles_4h, indicators_3m, indicators_4h). A third table
// (microstructure) holds open interest / funding rate samples, which are
// not timeframe-scoped.

const CreateCandlesTable = `
CREATE TABLE IF NOT EXISTS candles (
    symbol VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    ts BIGINT NOT NULL,
    open DOUBLE,
    high DOUBLE,
    low DOUBLE,
    close DOUBLE,
    volume DOUBLE,
    PRIMARY KEY (symbol, timeframe, ts)
);
`

const CreateIndicatorsTable = `
CREATE TABLE IF NOT EXISTS indicators (
    symbol VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    ts BIGINT NOT NULL,
    rsi_7 DOUBLE,
    rsi_14 DOUBLE,
    macd DOUBLE,
    ema_20 DOUBLE,
    ema_20_4h DOUBLE,
    ema_50_4h DOUBLE,
    atr_3_4h DOUBLE,
    atr_14_4h DOUBLE,
    current_volume_4h DOUBLE,
    avg_volume_4h DOUBLE,
    PRIMARY KEY (symbol, timeframe, ts)
);

CREATE INDEX IF NOT EXISTS idx_indicators_symbol_ts ON indicators(symbol, ts);
`

const CreateMicrostructureTable = `
CREATE TABLE IF NOT EXISTS microstructure (
    symbol VARCHAR NOT NULL,
    ts BIGINT NOT NULL,
    open_interest_latest DOUBLE,
    open_interest_avg_24h DOUBLE,
    funding_rate DOUBLE,
    PRIMARY KEY (symbol, ts)
);
`

// InitializeSchema creates all required tables.
func InitializeSchema(c *Client) error {
	schemas := []string{CreateCandlesTable, CreateIndicatorsTable, CreateMicrostructureTable}
	for _, schema := range schemas {
		if err := c.Exec(schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// DropAllTables drops all tables, resetting a scratch database. Nothing in
// this module calls it.
func DropAllTables(c *Client) error {
	tables := []string{"microstructure", "indicators", "candles"}
	for _, table := range tables {
		if err := c.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}
