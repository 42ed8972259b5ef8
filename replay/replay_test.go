package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadBidAskUsesMid(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, `time,symbol,bid,ask
2026-01-24T09:30:00Z,EURUSD,1.1000,1.1002
2026-01-24T09:30:05Z,EURUSD,1.1010,1.1012
`)

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "EURUSD", rows[0].Symbol)
	assert.InDelta(t, 1.1001, rows[0].Price, 1e-9)
	assert.Equal(t, time.Date(2026, 1, 24, 9, 30, 0, 0, time.UTC), rows[0].Time)
}

func TestLoadSinglePriceNoHeader(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, `2026-01-24T09:30:00Z,BTCUSDT,42000.5
2026-01-24T09:30:01Z,BTCUSDT,42001.5
`)

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 42000.5, rows[0].Price, 1e-9)
}

func TestBadRowStopsReplay(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, `2026-01-24T09:30:00Z,EURUSD,not-a-price
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad price")
}

func TestCallbackErrorStops(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, `2026-01-24T09:30:00Z,EURUSD,1.1
2026-01-24T09:30:01Z,EURUSD,1.2
`)

	boom := errors.New("stop here")
	seen := 0
	err := CSV(context.Background(), path, func(Row) error {
		seen++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, seen)
}

func TestContextCancellationStops(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, `2026-01-24T09:30:00Z,EURUSD,1.1
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := CSV(ctx, path, func(Row) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
