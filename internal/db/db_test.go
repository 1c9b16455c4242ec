package db

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecdb/internal/config"
	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
	"github.com/Aman-CERP/vecdb/internal/meta"
)

// newTestDB opens a database over a temp directory with the background
// timer effectively disabled so tests drive the loops directly.
func newTestDB(t *testing.T, mutate func(*config.Config)) *DB {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Compaction.MemorySyncIntervalSeconds = 3600
	cfg.Compaction.MergeTriggerNumber = 2
	cfg.Compaction.IndexTriggerSize = 1 << 30
	cfg.Compaction.TTLSeconds = 3600
	cfg.Index.MinTrainable = 1
	cfg.Performance.InsertBufferSize = 0
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	database, err := Open(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func createTestTable(t *testing.T, database *DB, tableID string, dim int) {
	t.Helper()
	require.NoError(t, database.CreateTable(context.Background(),
		&meta.TableSchema{TableID: tableID, Dimension: dim, Metric: "l2"}))
}

// awaitIndexPass blocks until no index build is in flight.
func awaitIndexPass(database *DB) {
	database.buildMu.Lock()
	for database.buildStarted {
		database.buildCond.Wait()
	}
	database.buildMu.Unlock()
}

func TestDB_InsertFlushQuery(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 4)

	// When: inserting two unit vectors
	ids, err := database.InsertVectors(ctx, "vectors", []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	require.NoError(t, database.Flush(ctx))

	// Then: querying the first vector returns its id
	results, err := database.Query(ctx, "vectors", 1, 1, []float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []int64{1}, results[0])
}

func TestDB_QueryUnknownTable(t *testing.T) {
	database := newTestDB(t, nil)

	_, err := database.Query(context.Background(), "absent", 1, 1, []float32{1}, nil)

	require.Error(t, err)
	assert.True(t, vecerrors.IsNotFound(err))
}

func TestDB_QueryBoundaries(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	// k = 0 yields nq empty lists
	results, err := database.Query(ctx, "vectors", 0, 2, []float32{1, 0, 0, 1}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Empty(t, results[0])
	assert.Empty(t, results[1])

	// nq = 0 yields an empty outer list
	results, err = database.Query(ctx, "vectors", 3, 0, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	// an explicitly empty dates slice yields empty results, not an error
	results, err = database.Query(ctx, "vectors", 3, 1, []float32{1, 0}, []string{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0])

	// dates with no matching segments yield empty results
	results, err = database.Query(ctx, "vectors", 3, 1, []float32{1, 0}, []string{"1999-01-01"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0])

	// a malformed query buffer is rejected
	_, err = database.Query(ctx, "vectors", 3, 2, []float32{1, 0, 1}, nil)
	require.Error(t, err)
	assert.Equal(t, vecerrors.ErrCodeInvalidArgument, vecerrors.GetCode(err))
}

func TestDB_InsertBadLengthLeavesStateUnchanged(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	_, err := database.InsertVectors(ctx, "vectors", []float32{1, 0, 1})
	require.Error(t, err)
	assert.Equal(t, vecerrors.ErrCodeInvalidArgument, vecerrors.GetCode(err))

	// Then: nothing was buffered or persisted
	require.NoError(t, database.Flush(ctx))
	count, err := database.GetTableRowCount(ctx, "vectors")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDB_CompactionMergesRawFiles(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	// Given: four flushed raw segments in today's partition
	for i := 0; i < 4; i++ {
		_, err := database.InsertVectors(ctx, "vectors", []float32{float32(i), 1})
		require.NoError(t, err)
		require.NoError(t, database.Flush(ctx))
	}

	// And: one more buffered batch so the tick flushes something
	_, err := database.InsertVectors(ctx, "vectors", []float32{9, 9})
	require.NoError(t, err)

	// When: one compaction tick runs
	database.backgroundCompaction()
	awaitIndexPass(database)

	// Then: the partition dropped to at most merge_trigger_number raw
	// files (the merge output)
	groups, err := database.catalog.FilesToMerge(ctx, "vectors")
	require.NoError(t, err)
	for _, files := range groups {
		assert.LessOrEqual(t, len(files), database.cfg.Compaction.MergeTriggerNumber)
	}

	// And: rows are conserved across the merge
	count, err := database.GetTableRowCount(ctx, "vectors")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	// And: every row is still reachable by query
	results, err := database.Query(ctx, "vectors", 1, 1, []float32{9, 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, results[0])
}

func TestDB_CompactionPromotesToIndex(t *testing.T) {
	database := newTestDB(t, func(cfg *config.Config) {
		cfg.Compaction.IndexTriggerSize = 4
	})
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	// Given: six rows across three flushed segments
	for i := 0; i < 3; i++ {
		_, err := database.InsertVectors(ctx, "vectors", []float32{
			float32(i), 0,
			float32(i), 1,
		})
		require.NoError(t, err)
		require.NoError(t, database.Flush(ctx))
	}
	_, err := database.InsertVectors(ctx, "vectors", []float32{7, 7})
	require.NoError(t, err)

	// When: a compaction tick merges past the index trigger
	database.backgroundCompaction()
	awaitIndexPass(database)
	require.NoError(t, database.BackgroundError())

	// Then: an INDEX segment exists and is queried transparently
	grouped, err := database.catalog.FilesToSearch(ctx, "vectors", nil)
	require.NoError(t, err)
	hasIndex := false
	for _, files := range grouped {
		for _, f := range files {
			if f.FileType == meta.FileTypeIndex {
				hasIndex = true
			}
		}
	}
	assert.True(t, hasIndex)

	results, err := database.Query(ctx, "vectors", 1, 1, []float32{7, 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, results[0])

	// And: rows were conserved through merge and index build
	count, err := database.GetTableRowCount(ctx, "vectors")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestDB_QueryFilesVariant(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	_, err := database.InsertVectors(ctx, "vectors", []float32{1, 0})
	require.NoError(t, err)
	require.NoError(t, database.Flush(ctx))
	_, err = database.InsertVectors(ctx, "vectors", []float32{0, 1})
	require.NoError(t, err)
	require.NoError(t, database.Flush(ctx))

	grouped, err := database.catalog.FilesToSearch(ctx, "vectors", nil)
	require.NoError(t, err)
	var fileIDs []int64
	for _, files := range grouped {
		for _, f := range files {
			fileIDs = append(fileIDs, f.FileID)
		}
	}
	require.Len(t, fileIDs, 2)

	// When: restricting the fan-out to the first segment only
	results, err := database.QueryFiles(ctx, "vectors", fileIDs[:1], 2, 1, []float32{0, 1})
	require.NoError(t, err)

	// Then: only the restricted segment's row is returned
	assert.Equal(t, []int64{1}, results[0])

	// And: a nonexistent file id fails the query
	_, err = database.QueryFiles(ctx, "vectors", []int64{9999}, 2, 1, []float32{0, 1})
	require.Error(t, err)
}

func TestDB_DeleteTableHidesSegments(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	_, err := database.InsertVectors(ctx, "vectors", []float32{1, 0})
	require.NoError(t, err)
	require.NoError(t, database.Flush(ctx))

	// When: deleting every partition
	require.NoError(t, database.DeleteTable(ctx, "vectors", nil))

	// Then: queries see nothing
	results, err := database.Query(ctx, "vectors", 1, 1, []float32{1, 0}, nil)
	require.NoError(t, err)
	assert.Empty(t, results[0])

	count, err := database.GetTableRowCount(ctx, "vectors")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDB_CloseDrainsBuffers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Compaction.MemorySyncIntervalSeconds = 3600
	cfg.Performance.InsertBufferSize = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := Open(cfg, logger)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, database.CreateTable(ctx,
		&meta.TableSchema{TableID: "vectors", Dimension: 2, Metric: "l2"}))
	ids, err := database.InsertVectors(ctx, "vectors", []float32{1, 0})
	require.NoError(t, err)

	// When: closing without an explicit flush
	require.NoError(t, database.Close())

	// Then: a reopened database sees the acknowledged insert
	reopened, err := Open(cfg, logger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Query(ctx, "vectors", 1, 1, []float32{1, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, results[0])
}

func TestDB_RejectsOperationsAfterClose(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)
	require.NoError(t, database.Close())

	_, err := database.Query(ctx, "vectors", 1, 1, []float32{1, 0}, nil)
	assert.True(t, vecerrors.IsShuttingDown(err))

	_, err = database.InsertVectors(ctx, "vectors", []float32{1, 0})
	assert.True(t, vecerrors.IsShuttingDown(err))
}

func TestDB_StickyBackgroundErrorDisablesTicks(t *testing.T) {
	database := newTestDB(t, nil)

	database.setBgError(vecerrors.Newf(vecerrors.ErrCodeCatalog, "induced failure"))

	// When: a tick is attempted
	database.tryScheduleCompaction()

	// Then: nothing is scheduled
	database.compactMu.Lock()
	scheduled := database.compactScheduled
	database.compactMu.Unlock()
	assert.False(t, scheduled)

	// And: an index pass is not started either
	database.tryBuildIndex()
	database.buildMu.Lock()
	started := database.buildStarted
	database.buildMu.Unlock()
	assert.False(t, started)
}

func TestDB_SizeReportsPhysicalFootprint(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	_, err := database.InsertVectors(ctx, "vectors", []float32{1, 0})
	require.NoError(t, err)
	require.NoError(t, database.Flush(ctx))

	size, err := database.Size(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestDB_SecondOpenOnSameDirFails(t *testing.T) {
	database := newTestDB(t, nil)

	_, err := Open(database.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestDB_DropAll(t *testing.T) {
	database := newTestDB(t, nil)
	ctx := context.Background()
	createTestTable(t, database, "vectors", 2)

	_, err := database.InsertVectors(ctx, "vectors", []float32{1, 0})
	require.NoError(t, err)
	require.NoError(t, database.Flush(ctx))

	require.NoError(t, database.DropAll(ctx))

	tables, err := database.AllTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}
