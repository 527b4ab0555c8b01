package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/extract"
	"ragpatterns/pkg/store/duckdb"
	"ragpatterns/pkg/store/milvus"
)

// fakeIndex is the in-memory stand-in for *milvus.Client this package's
// Index interface exists to enable, mirroring the same pattern
// pkg/retrieve uses for its own Index interface.
type fakeIndex struct {
	points    []*milvus.Point
	insertErr error
}

func (f *fakeIndex) Insert(ctx context.Context, collectionName string, points []*milvus.Point) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.points = append(f.points, points...)
	return nil
}

// seedOneTick writes just enough rows for extract.Extractor to produce
// exactly one valid Snapshot at t0: five populated 3m candle/indicator
// points satisfy the short-horizon series minimum, five populated 4h
// indicator points satisfy the long-horizon one, and a microstructure row
// avoids the open-interest placeholder path.
func seedOneTick(t *testing.T, writer *duckdb.WriterRepo, symbol string, t0 int64) {
	t.Helper()
	ctx := context.Background()
	const stepMS3m = 3 * 60 * 1000
	const stepMS4h = 4 * 60 * 60 * 1000

	for i := 0; i < 5; i++ {
		ts := t0 - int64(i)*stepMS3m
		require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, ts, 100, 101, 99, 100, 10))
		require.NoError(t, writer.InsertIndicator3m(ctx, symbol, ts, 55, 52, 1.5, 100))
	}

	fourH := (t0 / stepMS4h) * stepMS4h
	for i := 0; i < 5; i++ {
		ts := fourH - int64(i)*stepMS4h
		require.NoError(t, writer.InsertIndicator4h(ctx, symbol, ts, 99, 98, 5, 4, 1000, 900))
	}

	require.NoError(t, writer.InsertMicrostructure(ctx, symbol, t0, 1100, 1000, 0.0001))
}

func TestIngestSymbol_ExtractsEmbedsAndUploadsOneSnapshotEndToEnd(t *testing.T) {
	ctx := context.Background()
	client, err := duckdb.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, duckdb.InitializeSchema(client))

	const symbol = "BTCUSDT"
	const t0 = int64(1_700_000_000_000)

	writer := duckdb.NewWriterRepo(client)
	seedOneTick(t, writer, symbol, t0)

	extractor := extract.NewExtractor(duckdb.NewReader(client), extract.DefaultConfig())
	index := &fakeIndex{}
	pipeline := NewPipeline(extractor, embed.NewHashingEmbedder(16), index, DefaultConfig())

	stats, err := pipeline.IngestSymbol(ctx, symbol, t0, t0+1, "patterns")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SnapshotsCreated)
	assert.Equal(t, 0, stats.ValidationFailures)
	assert.Equal(t, 1, stats.EmbeddingsGenerated)
	assert.Equal(t, 1, stats.PointsUploaded)

	require.Len(t, index.points, 1)
	assert.Equal(t, symbol, index.points[0].Payload.Symbol)
	assert.Equal(t, t0, index.points[0].Payload.TimestampMS)
	assert.Equal(t, "hashing-bow-v1", index.points[0].Payload.EmbeddingModel)
}

func TestIngestSymbol_SkipsTicksMissingShortHorizonHistoryWithoutAborting(t *testing.T) {
	ctx := context.Background()
	client, err := duckdb.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, duckdb.InitializeSchema(client))

	const symbol = "ETHUSDT"
	const t0 = int64(1_700_000_000_000)
	// Only a bare candle/indicator pair at t0, far short of the five-sample
	// short- and long-horizon minimums: extractOne rejects the tick via
	// model.Validate rather than the extractor failing outright.
	writer := duckdb.NewWriterRepo(client)
	require.NoError(t, writer.InsertCandle(ctx, "3m", symbol, t0, 100, 101, 99, 100, 10))
	require.NoError(t, writer.InsertIndicator3m(ctx, symbol, t0, 55, 52, 1.5, 100))

	extractor := extract.NewExtractor(duckdb.NewReader(client), extract.DefaultConfig())
	index := &fakeIndex{}
	pipeline := NewPipeline(extractor, embed.NewHashingEmbedder(16), index, DefaultConfig())

	stats, err := pipeline.IngestSymbol(ctx, symbol, t0, t0+1, "patterns")
	require.NoError(t, err)

	assert.Equal(t, 0, stats.SnapshotsCreated)
	assert.Equal(t, 1, stats.ValidationFailures)
	assert.Equal(t, 0, stats.PointsUploaded)
	assert.Empty(t, index.points)
}
