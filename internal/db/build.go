package db

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/vecdb/internal/engine"
	"github.com/Aman-CERP/vecdb/internal/meta"
)

// tryBuildIndex schedules an index pass. At most one pass runs at a
// time; the call is a no-op while a pass is in flight or shutdown is
// in progress.
func (db *DB) tryBuildIndex() {
	db.buildMu.Lock()
	defer db.buildMu.Unlock()

	if db.buildStarted {
		return
	}
	if db.shuttingDown.Load() || db.BackgroundError() != nil {
		return
	}

	db.buildStarted = true
	go db.backgroundBuildIndex()
}

// backgroundBuildIndex builds an index over every TO_INDEX file. The
// started flag clears and completion is signaled whether the pass
// succeeds or records a background error, so shutdown never blocks on
// a failed pass.
func (db *DB) backgroundBuildIndex() {
	defer func() {
		db.buildMu.Lock()
		db.buildStarted = false
		db.buildCond.Broadcast()
		db.buildMu.Unlock()
	}()

	ctx := context.Background()

	files, err := db.catalog.FilesToIndex(ctx)
	if err != nil {
		db.setBgError(err)
		return
	}

	for _, file := range files {
		if err := db.buildIndex(ctx, file); err != nil {
			db.setBgError(err)
			return
		}
	}
}

// buildIndex promotes one TO_INDEX segment: it loads the raw data,
// constructs the ANN index at a freshly allocated location, then
// atomically retires the input and registers the indexed output.
func (db *DB) buildIndex(ctx context.Context, file *meta.SegmentFile) error {
	metric, err := db.tableMetric(ctx, file.TableID)
	if err != nil {
		return err
	}

	target := &meta.SegmentFile{TableID: file.TableID, Date: file.Date}
	if err := db.catalog.AddFile(ctx, target); err != nil {
		return err
	}

	raw := engine.NewRawEngine(file.Dimension, file.Location, metric, db.params, db.cache)
	if err := raw.Load(ctx); err != nil {
		return err
	}

	index, err := raw.BuildIndex(ctx, target.Location)
	if err != nil {
		return err
	}

	err = db.catalog.UpdateFiles(ctx, []meta.FileUpdate{
		{FileID: file.FileID, FileType: meta.FileTypeToDelete},
		{FileID: target.FileID, FileType: meta.FileTypeIndex,
			RowCount: index.Size(), SetRowCount: true},
	})
	if err != nil {
		return err
	}

	index.Cache()

	db.logger.Info("index_built",
		slog.String("table_id", file.TableID),
		slog.Int64("input_file_id", file.FileID),
		slog.Int64("index_file_id", target.FileID),
		slog.Int64("rows", index.Size()))
	return nil
}
