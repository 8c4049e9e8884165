package writer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ban-cadastre-engine/internal/models"
)

func sampleRows() []models.Match {
	return []models.Match{
		models.NewMatch("A1", "P1", models.MatchTypePreExisting, 0),
		models.NewMatch("A2", "P1", models.MatchTypeInside, 0),
		models.NewMatch("A3", "P2", models.MatchTypeBorderNear, 3.5),
		models.NewMatch("A4", "P3", models.MatchTypeBorderNear, 12),
		models.NewMatch("A5", "P4", models.MatchTypeFallbackNearest, 230.25),
	}
}

func TestParquetSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.parquet")

	sink, err := NewParquetSink(path, 2)
	require.NoError(t, err)

	rows := sampleRows()
	require.NoError(t, sink.WriteBatch(context.Background(), rows))
	require.NoError(t, sink.Close(context.Background()))

	// The temporary file is gone once the output is in place.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := parquet.ReadFile[matchRow](path)
	require.NoError(t, err)
	require.Len(t, got, len(rows))

	for i, row := range got {
		assert.Equal(t, rows[i].IDBan, row.IDBan)
		assert.Equal(t, rows[i].IDParcelle, row.IDParcelle)
		assert.Equal(t, string(rows[i].MatchType), row.MatchType)
		assert.Equal(t, rows[i].DistanceM, row.DistanceM)
		assert.Equal(t, rows[i].Confidence, row.Confidence)
	}
}

func TestParquetSinkEmptyOutputIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.parquet")

	sink, err := NewParquetSink(path, 10)
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	got, err := parquet.ReadFile[matchRow](path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParquetSinkAbortLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.parquet")

	sink, err := NewParquetSink(path, 2)
	require.NoError(t, err)
	require.NoError(t, sink.WriteBatch(context.Background(), sampleRows()))

	sink.Abort()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestParquetSinkCountsFlushedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.parquet")

	sink, err := NewParquetSink(path, 2)
	require.NoError(t, err)
	require.NoError(t, sink.WriteBatch(context.Background(), sampleRows()))
	// Batch size two: four of the five rows have been flushed already.
	assert.Equal(t, int64(4), sink.Rows())

	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, int64(5), sink.Rows())
}
