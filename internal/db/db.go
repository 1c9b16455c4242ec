// Package db implements the vecdb storage and query engine: streaming
// inserts into memory buffers, background flush/merge/index-build over
// on-disk segments, and top-k query fan-out across the segment set.
//
// Ownership is unidirectional: the DB owns the catalog, the memory
// manager, and the engine cache; background workers receive shared-read
// handles and never own them.
package db

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/vecdb/internal/config"
	"github.com/Aman-CERP/vecdb/internal/engine"
	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
	"github.com/Aman-CERP/vecdb/internal/memtable"
	"github.com/Aman-CERP/vecdb/internal/meta"
)

// DB is the database instance. Open starts the background compaction
// timer; Close drains in-flight background work and flushes buffers.
type DB struct {
	cfg    *config.Config
	logger *slog.Logger

	catalog meta.Meta
	memMgr  *memtable.Manager
	cache   *engine.Cache
	params  engine.Params

	fileLock *flock.Flock

	// Compaction lifecycle. compactCond signals tick completion.
	compactMu        sync.Mutex
	compactCond      *sync.Cond
	compactScheduled bool

	// Index build lifecycle. buildCond signals pass completion.
	buildMu      sync.Mutex
	buildCond    *sync.Cond
	buildStarted bool

	// First background error; sticky. A non-nil value disables future
	// compaction ticks and index passes.
	errMu sync.Mutex
	bgErr error

	shuttingDown atomic.Bool
	timerDone    chan struct{}
	timerStopped chan struct{}
}

// Open creates or opens a database under cfg.DataDir and starts the
// compaction timer. The data directory is locked against concurrent
// processes.
func Open(cfg *config.Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}

	fileLock := flock.New(filepath.Join(cfg.DataDir, "LOCK"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, vecerrors.Wrap(vecerrors.ErrCodeInternal, err)
	}
	if !locked {
		return nil, vecerrors.Newf(vecerrors.ErrCodeInternal,
			"data directory %s is locked by another process", cfg.DataDir)
	}

	catalog, err := meta.NewSQLiteMeta(filepath.Join(cfg.DataDir, "catalog.db"), cfg.DataDir)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, err
	}

	params := engine.Params{
		M:            cfg.Index.M,
		EfSearch:     cfg.Index.EfSearch,
		MinTrainable: cfg.Index.MinTrainable,
	}
	cache := engine.NewCache(cfg.Performance.EngineCacheSize)

	db := &DB{
		cfg:          cfg,
		logger:       logger,
		catalog:      catalog,
		cache:        cache,
		params:       params,
		fileLock:     fileLock,
		timerDone:    make(chan struct{}),
		timerStopped: make(chan struct{}),
	}
	db.compactCond = sync.NewCond(&db.compactMu)
	db.buildCond = sync.NewCond(&db.buildMu)
	db.memMgr = memtable.NewManager(catalog, cache, params, cfg.Performance.InsertBufferSize)

	go db.timerLoop(time.Duration(cfg.Compaction.MemorySyncIntervalSeconds) * time.Second)

	logger.Info("db_opened",
		slog.String("data_dir", cfg.DataDir),
		slog.Int("sync_interval_s", cfg.Compaction.MemorySyncIntervalSeconds))
	return db, nil
}

// CreateTable registers a table. Idempotent when the same schema
// already exists.
func (db *DB) CreateTable(ctx context.Context, schema *meta.TableSchema) error {
	if db.shuttingDown.Load() {
		return vecerrors.ShuttingDown()
	}
	return db.catalog.CreateTable(ctx, schema)
}

// HasTable reports whether a table exists.
func (db *DB) HasTable(ctx context.Context, tableID string) (bool, error) {
	return db.catalog.HasTable(ctx, tableID)
}

// DescribeTable returns a table's schema.
func (db *DB) DescribeTable(ctx context.Context, tableID string) (*meta.TableSchema, error) {
	return db.catalog.DescribeTable(ctx, tableID)
}

// AllTables lists every table.
func (db *DB) AllTables(ctx context.Context) ([]*meta.TableSchema, error) {
	return db.catalog.AllTables(ctx)
}

// DeleteTable marks the table's segments in the given partitions as
// TO_DELETE; they become invisible to queries immediately and are
// reclaimed after the TTL. Empty dates covers every partition.
func (db *DB) DeleteTable(ctx context.Context, tableID string, dates []string) error {
	if db.shuttingDown.Load() {
		return vecerrors.ShuttingDown()
	}
	return db.catalog.DeleteTableFiles(ctx, tableID, dates)
}

// GetTableRowCount sums row_count over the table's non-deleted
// segments. Buffered rows not yet flushed are not counted.
func (db *DB) GetTableRowCount(ctx context.Context, tableID string) (int64, error) {
	return db.catalog.CountRows(ctx, tableID)
}

// InsertVectors appends n vectors to the table's buffer and returns
// the minted ids. Either all n ids are minted or none are.
func (db *DB) InsertVectors(ctx context.Context, tableID string, vectors []float32) ([]int64, error) {
	if db.shuttingDown.Load() {
		return nil, vecerrors.ShuttingDown()
	}
	return db.memMgr.Insert(ctx, tableID, vectors)
}

// Flush forces every buffered insert onto disk as raw segments.
// Queries only see flushed data; call Flush for read-your-writes.
func (db *DB) Flush(ctx context.Context) error {
	if db.shuttingDown.Load() {
		return vecerrors.ShuttingDown()
	}
	_, err := db.memMgr.Serialize(ctx)
	return err
}

// DropAll removes every table, segment file, and buffered row.
func (db *DB) DropAll(ctx context.Context) error {
	if db.shuttingDown.Load() {
		return vecerrors.ShuttingDown()
	}
	// Drain the buffers into segments first so the catalog drop below
	// removes the buffered rows along with everything else.
	if _, err := db.memMgr.Serialize(ctx); err != nil {
		return err
	}
	return db.catalog.DropAll(ctx)
}

// Size returns the physical footprint in bytes of the data directory.
func (db *DB) Size(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(db.cfg.DataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, vecerrors.Wrap(vecerrors.ErrCodeInternal, err)
	}
	return total, nil
}

// BackgroundError returns the sticky background error, if any.
func (db *DB) BackgroundError() error {
	db.errMu.Lock()
	defer db.errMu.Unlock()
	return db.bgErr
}

// Close shuts the database down gracefully: it stops the timer, waits
// for any in-flight compaction tick and index pass, then drains the
// memory buffers so no acknowledged insert is lost. Freshly flushed
// raw segments are not compacted again; the next startup picks them
// up.
func (db *DB) Close() error {
	if !db.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	close(db.timerDone)
	<-db.timerStopped

	db.compactMu.Lock()
	for db.compactScheduled {
		db.compactCond.Wait()
	}
	db.compactMu.Unlock()

	db.buildMu.Lock()
	for db.buildStarted {
		db.buildCond.Wait()
	}
	db.buildMu.Unlock()

	// Final flush. Shutdown must not lose acknowledged inserts.
	if _, err := db.memMgr.Serialize(context.Background()); err != nil {
		db.logger.Error("shutdown_flush_failed", slog.String("error", err.Error()))
	}

	err := db.catalog.Close()
	if unlockErr := db.fileLock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}

	db.logger.Info("db_closed")
	return err
}

// setBgError records the first background error; later errors only log.
func (db *DB) setBgError(err error) {
	db.errMu.Lock()
	defer db.errMu.Unlock()

	db.logger.Error("bg_error", slog.String("error", err.Error()))
	if db.bgErr == nil {
		db.bgErr = err
	}
}

// tableMetric resolves a table's metric.
func (db *DB) tableMetric(ctx context.Context, tableID string) (engine.Metric, error) {
	schema, err := db.catalog.DescribeTable(ctx, tableID)
	if err != nil {
		return engine.MetricL2, err
	}
	return engine.ParseMetric(schema.Metric), nil
}

// engineFor constructs (or fetches from the process cache) an engine
// for a segment file.
func (db *DB) engineFor(file *meta.SegmentFile, metric engine.Metric) (engine.Engine, error) {
	if cached, ok := db.cache.Get(file.Location); ok {
		return cached, nil
	}
	switch file.FileType {
	case meta.FileTypeIndex:
		return engine.NewIndexEngine(file.Dimension, file.Location, metric, db.params, db.cache), nil
	case meta.FileTypeRaw, meta.FileTypeToIndex:
		return engine.NewRawEngine(file.Dimension, file.Location, metric, db.params, db.cache), nil
	default:
		return nil, vecerrors.Newf(vecerrors.ErrCodeInternal,
			"file %d has unsearchable type %s", file.FileID, file.FileType)
	}
}
