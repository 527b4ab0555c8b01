package duckdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbols_ReturnsDistinctSymbolsSortedAlphabetically(t *testing.T) {
	ctx := context.Background()
	client, _, writer := setupTestStore(t)

	require.NoError(t, writer.InsertCandle(ctx, "3m", "ETHUSDT", 1000, 1, 1, 1, 1, 1))
	require.NoError(t, writer.InsertCandle(ctx, "3m", "BTCUSDT", 1000, 1, 1, 1, 1, 1))
	require.NoError(t, writer.InsertCandle(ctx, "3m", "BTCUSDT", 2000, 1, 1, 1, 1, 1))

	symbols, err := client.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

func TestSymbols_ReturnsEmptyForEmptyStore(t *testing.T) {
	client, _, _ := setupTestStore(t)

	symbols, err := client.Symbols(context.Background())
	require.NoError(t, err)
	assert.Empty(t, symbols)
}
