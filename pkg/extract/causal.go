package extract

import (
	"context"
	"fmt"

	"ragpatterns/pkg/store/duckdb"
)

// causalReader wraps the Historical Reader for forward-outcome reads only,
// asserting ts_read > ts_snapshot (the leakage rule, §4.C) and, in
// walk-forward evaluation mode, ts_read <= viewHorizonMS. Violations are
// surfaced as errors rather than panics: this core treats a leakage
// violation as a programming error worth failing a request over, not one
// worth crashing a long-running ingest process over — tests assert on the
// returned error instead of a recovered panic (§9 "Violations raise at
// test time, not in production").
type causalReader struct {
	reader        *duckdb.Reader
	snapshotTS    int64
	viewHorizonMS *int64
}

func newCausalReader(reader *duckdb.Reader, snapshotTS int64, viewHorizonMS *int64) *causalReader {
	return &causalReader{reader: reader, snapshotTS: snapshotTS, viewHorizonMS: viewHorizonMS}
}

func (c *causalReader) checkTS(ts int64) error {
	if ts <= c.snapshotTS {
		return fmt.Errorf("extract: leakage violation: forward read at ts=%d not strictly after snapshot ts=%d", ts, c.snapshotTS)
	}
	if c.viewHorizonMS != nil && ts > *c.viewHorizonMS {
		return fmt.Errorf("extract: leakage violation: forward read at ts=%d beyond view horizon %d", ts, *c.viewHorizonMS)
	}
	return nil
}

func (c *causalReader) readCandlePoint(ctx context.Context, symbol string, table string, ts int64) (*duckdb.CandleRecord, error) {
	if err := c.checkTS(ts); err != nil {
		return nil, err
	}
	rec, err := c.reader.ReadPoint(ctx, table, symbol, ts)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.(*duckdb.CandleRecord), nil
}

func (c *causalReader) rangeTimestamps(ctx context.Context, symbol, table string, startTS, endTS int64) ([]int64, error) {
	if err := c.checkTS(startTS); err != nil {
		return nil, err
	}
	if err := c.checkTS(endTS); err != nil {
		return nil, err
	}
	return c.reader.RangeTimestamps(ctx, table, symbol, startTS, endTS)
}
