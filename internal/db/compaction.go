package db

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/vecdb/internal/engine"
	"github.com/Aman-CERP/vecdb/internal/meta"
)

// timerLoop drives the compaction cadence. It exits on shutdown or
// when a sticky background error has been recorded.
func (db *DB) timerLoop(interval time.Duration) {
	defer close(db.timerStopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.timerDone:
			return
		case <-ticker.C:
			if db.BackgroundError() != nil {
				return
			}
			db.tryScheduleCompaction()
		}
	}
}

// tryScheduleCompaction starts a compaction tick unless one is already
// running, a background error is recorded, or shutdown is in progress.
// compactScheduled is a single-slot guard: at most one tick at a time.
func (db *DB) tryScheduleCompaction() {
	db.compactMu.Lock()
	defer db.compactMu.Unlock()

	if db.compactScheduled {
		return
	}
	if db.BackgroundError() != nil || db.shuttingDown.Load() {
		return
	}

	db.compactScheduled = true
	go db.backgroundCall()
}

// backgroundCall runs one compaction tick and signals completion.
func (db *DB) backgroundCall() {
	db.backgroundCompaction()

	db.compactMu.Lock()
	db.compactScheduled = false
	db.compactCond.Broadcast()
	db.compactMu.Unlock()
}

// backgroundCompaction is one tick: flush memory buffers, merge raw
// segments for every affected table, schedule an index pass, and
// reclaim TTL-expired files. The first error is recorded to the sticky
// background error and the remaining tables are skipped this tick.
func (db *DB) backgroundCompaction() {
	ctx := context.Background()

	tables, err := db.memMgr.Serialize(ctx)
	if err != nil {
		db.setBgError(err)
		return
	}

	for _, tableID := range tables {
		if err := db.backgroundMergeFiles(ctx, tableID); err != nil {
			db.setBgError(err)
			return
		}
	}

	db.tryBuildIndex()

	ttl := time.Duration(db.cfg.Compaction.TTLSeconds) * time.Second
	if reclaimed, err := db.catalog.CleanupTTL(ctx, ttl); err != nil {
		// Cleanup failures are logged and swallowed, not sticky.
		db.logger.Warn("ttl_cleanup_failed", slog.String("error", err.Error()))
	} else if reclaimed > 0 {
		db.logger.Debug("ttl_cleanup", slog.Int("reclaimed", reclaimed))
	}
}

// backgroundMergeFiles merges the table's raw segments per date
// partition when a partition holds more than merge_trigger_number
// files.
func (db *DB) backgroundMergeFiles(ctx context.Context, tableID string) error {
	groups, err := db.catalog.FilesToMerge(ctx, tableID)
	if err != nil {
		return err
	}

	dates := make([]string, 0, len(groups))
	for date := range groups {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		files := groups[date]
		if len(files) <= db.cfg.Compaction.MergeTriggerNumber {
			continue
		}
		if err := db.mergeFiles(ctx, tableID, date, files); err != nil {
			return err
		}
	}
	return nil
}

// mergeFiles merges one partition's raw files into a new segment. The
// inputs transition to TO_DELETE and the output becomes RAW, or
// TO_INDEX when it reached index_trigger_size, in a single atomic
// catalog update. Files are consumed in catalog insertion order and
// the merge stops early once the output is large enough to index.
func (db *DB) mergeFiles(ctx context.Context, tableID, date string, files []*meta.SegmentFile) error {
	metric, err := db.tableMetric(ctx, tableID)
	if err != nil {
		return err
	}

	target := &meta.SegmentFile{TableID: tableID, Date: date}
	if err := db.catalog.AddFile(ctx, target); err != nil {
		return err
	}

	eng := engine.NewRawEngine(target.Dimension, target.Location, metric, db.params, db.cache)

	updated := make([]meta.FileUpdate, 0, len(files)+1)
	for _, file := range files {
		if err := eng.Merge(ctx, file.Location); err != nil {
			return err
		}
		updated = append(updated, meta.FileUpdate{
			FileID:   file.FileID,
			FileType: meta.FileTypeToDelete,
		})
		if eng.Size() >= db.cfg.Compaction.IndexTriggerSize {
			break
		}
	}

	if err := eng.Serialize(ctx); err != nil {
		return err
	}

	targetType := meta.FileTypeRaw
	if eng.Size() >= db.cfg.Compaction.IndexTriggerSize {
		targetType = meta.FileTypeToIndex
	}
	updated = append(updated, meta.FileUpdate{
		FileID:      target.FileID,
		FileType:    targetType,
		RowCount:    eng.Size(),
		SetRowCount: true,
	})

	if err := db.catalog.UpdateFiles(ctx, updated); err != nil {
		return err
	}

	eng.Cache()

	db.logger.Info("merge_committed",
		slog.String("table_id", tableID),
		slog.String("date", date),
		slog.Int("merged", len(updated)-1),
		slog.Int64("file_id", target.FileID),
		slog.Int64("rows", eng.Size()),
		slog.String("file_type", string(targetType)))
	return nil
}
