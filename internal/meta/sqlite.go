package meta

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
)

// SQLiteMeta implements Meta using SQLite in WAL mode.
type SQLiteMeta struct {
	mu      sync.Mutex
	db      *sql.DB
	dataDir string
	closed  bool
}

// Verify interface implementation at compile time
var _ Meta = (*SQLiteMeta)(nil)

// NewSQLiteMeta opens (or creates) the catalog database at path.
// dataDir is the root directory for segment blobs; AddFile allocates
// locations beneath it. An empty path opens an in-memory catalog for
// testing.
func NewSQLiteMeta(path, dataDir string) (*SQLiteMeta, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	m := &SQLiteMeta{db: db, dataDir: dataDir}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return m, nil
}

// initSchema creates the Tables and Files tables.
func (m *SQLiteMeta) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS tables (
		table_id   TEXT PRIMARY KEY,
		dimension  INTEGER NOT NULL,
		metric     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		file_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		table_id   TEXT NOT NULL REFERENCES tables(table_id),
		date       TEXT NOT NULL,
		dimension  INTEGER NOT NULL,
		row_count  INTEGER NOT NULL DEFAULT 0,
		location   TEXT NOT NULL,
		file_type  TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_files_table_type ON files(table_id, file_type);
	CREATE INDEX IF NOT EXISTS idx_files_type ON files(file_type);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := m.db.Exec(schema)
	return err
}

// CreateTable registers a table. Creating a table that already exists
// with an identical schema is a no-op; a conflicting schema is an error.
func (m *SQLiteMeta) CreateTable(ctx context.Context, schema *TableSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return vecerrors.CatalogError("catalog is closed", nil)
	}
	if schema.TableID == "" {
		return vecerrors.InvalidArgument("table id must not be empty")
	}
	if schema.Dimension <= 0 {
		return vecerrors.InvalidArgument(
			fmt.Sprintf("table dimension must be positive, got %d", schema.Dimension))
	}
	if schema.Metric == "" {
		schema.Metric = "l2"
	}

	existing, err := m.describeLocked(ctx, schema.TableID)
	if err != nil && !vecerrors.IsNotFound(err) {
		return err
	}
	if existing != nil {
		if existing.Dimension == schema.Dimension && existing.Metric == schema.Metric {
			return nil
		}
		return vecerrors.Newf(vecerrors.ErrCodeTableExists,
			"table %q already exists with dimension=%d metric=%s",
			schema.TableID, existing.Dimension, existing.Metric)
	}

	now := time.Now()
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO tables (table_id, dimension, metric, created_at) VALUES (?, ?, ?, ?)`,
		schema.TableID, schema.Dimension, schema.Metric, now.Unix())
	if err != nil {
		return vecerrors.CatalogError("create table", err)
	}
	schema.CreatedAt = now
	return nil
}

// DescribeTable returns the schema of a table.
func (m *SQLiteMeta) DescribeTable(ctx context.Context, tableID string) (*TableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.describeLocked(ctx, tableID)
}

func (m *SQLiteMeta) describeLocked(ctx context.Context, tableID string) (*TableSchema, error) {
	var schema TableSchema
	var createdAt int64
	err := m.db.QueryRowContext(ctx,
		`SELECT table_id, dimension, metric, created_at FROM tables WHERE table_id = ?`,
		tableID).Scan(&schema.TableID, &schema.Dimension, &schema.Metric, &createdAt)
	if err == sql.ErrNoRows {
		return nil, vecerrors.TableNotFound(tableID)
	}
	if err != nil {
		return nil, vecerrors.CatalogError("describe table", err)
	}
	schema.CreatedAt = time.Unix(createdAt, 0)
	return &schema, nil
}

// HasTable reports whether a table exists.
func (m *SQLiteMeta) HasTable(ctx context.Context, tableID string) (bool, error) {
	_, err := m.DescribeTable(ctx, tableID)
	if vecerrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllTables lists every table in the catalog.
func (m *SQLiteMeta) AllTables(ctx context.Context) ([]*TableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.QueryContext(ctx,
		`SELECT table_id, dimension, metric, created_at FROM tables ORDER BY table_id`)
	if err != nil {
		return nil, vecerrors.CatalogError("list tables", err)
	}
	defer rows.Close()

	var tables []*TableSchema
	for rows.Next() {
		var schema TableSchema
		var createdAt int64
		if err := rows.Scan(&schema.TableID, &schema.Dimension, &schema.Metric, &createdAt); err != nil {
			return nil, vecerrors.CatalogError("scan table row", err)
		}
		schema.CreatedAt = time.Unix(createdAt, 0)
		tables = append(tables, &schema)
	}
	return tables, rows.Err()
}

// CountRows sums row_count over the table's non-deleted segments.
func (m *SQLiteMeta) CountRows(ctx context.Context, tableID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.describeLocked(ctx, tableID); err != nil {
		return 0, err
	}

	var count int64
	err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(row_count), 0) FROM files
		 WHERE table_id = ? AND file_type IN (?, ?, ?)`,
		tableID, FileTypeRaw, FileTypeToIndex, FileTypeIndex).Scan(&count)
	if err != nil {
		return 0, vecerrors.CatalogError("count rows", err)
	}
	return count, nil
}

// AddFile allocates a file_id and location for a new segment and
// registers it with file_type = NEW. The descriptor's TableID is
// required; Date defaults to today and Dimension is taken from the
// table schema.
func (m *SQLiteMeta) AddFile(ctx context.Context, file *SegmentFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	schema, err := m.describeLocked(ctx, file.TableID)
	if err != nil {
		return err
	}

	if file.Date == "" {
		file.Date = Today()
	}
	file.Dimension = schema.Dimension
	file.FileType = FileTypeNew
	file.CreatedAt = time.Now()
	file.Location = filepath.Join(m.dataDir, file.TableID, uuid.NewString())

	if err := os.MkdirAll(filepath.Dir(file.Location), 0o755); err != nil {
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}

	res, err := m.db.ExecContext(ctx,
		`INSERT INTO files (table_id, date, dimension, row_count, location, file_type, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		file.TableID, file.Date, file.Dimension, file.Location, file.FileType,
		file.CreatedAt.Unix(), file.CreatedAt.Unix())
	if err != nil {
		return vecerrors.CatalogError("add file", err)
	}

	file.FileID, err = res.LastInsertId()
	if err != nil {
		return vecerrors.CatalogError("add file id", err)
	}
	return nil
}

// UpdateFiles atomically applies a batch of state transitions. Either
// every update commits or none does.
func (m *SQLiteMeta) UpdateFiles(ctx context.Context, updates []FileUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return vecerrors.CatalogError("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, u := range updates {
		var res sql.Result
		if u.SetRowCount {
			res, err = tx.ExecContext(ctx,
				`UPDATE files SET file_type = ?, row_count = ?, updated_at = ? WHERE file_id = ?`,
				u.FileType, u.RowCount, now, u.FileID)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE files SET file_type = ?, updated_at = ? WHERE file_id = ?`,
				u.FileType, now, u.FileID)
		}
		if err != nil {
			return vecerrors.CatalogError("update file", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return vecerrors.CatalogError("update file", err)
		}
		if affected == 0 {
			return vecerrors.Newf(vecerrors.ErrCodeFileNotFound,
				"file %d not found in catalog", u.FileID)
		}
	}

	if err := tx.Commit(); err != nil {
		return vecerrors.CatalogError("commit update", err)
	}
	return nil
}

// FilesToSearch returns the table's RAW and INDEX files intersecting
// the given dates, grouped by date. Empty dates means every partition.
func (m *SQLiteMeta) FilesToSearch(ctx context.Context, tableID string, dates []string) (map[string][]*SegmentFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.describeLocked(ctx, tableID); err != nil {
		return nil, err
	}

	query := `SELECT file_id, table_id, date, dimension, row_count, location, file_type, created_at
	          FROM files WHERE table_id = ? AND file_type IN (?, ?)`
	args := []any{tableID, FileTypeRaw, FileTypeIndex}
	if len(dates) > 0 {
		query += ` AND date IN (?` + strings.Repeat(", ?", len(dates)-1) + `)`
		for _, d := range dates {
			args = append(args, d)
		}
	}
	query += ` ORDER BY file_id`

	files, err := m.queryFiles(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*SegmentFile)
	for _, f := range files {
		grouped[f.Date] = append(grouped[f.Date], f)
	}
	return grouped, nil
}

// FilesToMerge returns the table's RAW files grouped by date, in
// catalog insertion order within each group.
func (m *SQLiteMeta) FilesToMerge(ctx context.Context, tableID string) (map[string][]*SegmentFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.describeLocked(ctx, tableID); err != nil {
		return nil, err
	}

	files, err := m.queryFiles(ctx,
		`SELECT file_id, table_id, date, dimension, row_count, location, file_type, created_at
		 FROM files WHERE table_id = ? AND file_type = ? ORDER BY file_id`,
		tableID, FileTypeRaw)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*SegmentFile)
	for _, f := range files {
		grouped[f.Date] = append(grouped[f.Date], f)
	}
	return grouped, nil
}

// FilesToIndex returns TO_INDEX files across all tables.
func (m *SQLiteMeta) FilesToIndex(ctx context.Context) ([]*SegmentFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.queryFiles(ctx,
		`SELECT file_id, table_id, date, dimension, row_count, location, file_type, created_at
		 FROM files WHERE file_type = ? ORDER BY file_id`,
		FileTypeToIndex)
}

// GetFiles returns the searchable files among the given ids.
func (m *SQLiteMeta) GetFiles(ctx context.Context, tableID string, fileIDs []int64) ([]*SegmentFile, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.describeLocked(ctx, tableID); err != nil {
		return nil, err
	}

	query := `SELECT file_id, table_id, date, dimension, row_count, location, file_type, created_at
	          FROM files WHERE table_id = ? AND file_type IN (?, ?)
	          AND file_id IN (?` + strings.Repeat(", ?", len(fileIDs)-1) + `) ORDER BY file_id`
	args := []any{tableID, FileTypeRaw, FileTypeIndex}
	for _, id := range fileIDs {
		args = append(args, id)
	}
	return m.queryFiles(ctx, query, args...)
}

// DeleteTableFiles marks the table's segments in the given partitions
// as TO_DELETE. Empty dates marks every partition.
func (m *SQLiteMeta) DeleteTableFiles(ctx context.Context, tableID string, dates []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.describeLocked(ctx, tableID); err != nil {
		return err
	}

	query := `UPDATE files SET file_type = ?, updated_at = ? WHERE table_id = ? AND file_type != ?`
	args := []any{FileTypeToDelete, time.Now().Unix(), tableID, FileTypeToDelete}
	if len(dates) > 0 {
		query += ` AND date IN (?` + strings.Repeat(", ?", len(dates)-1) + `)`
		for _, d := range dates {
			args = append(args, d)
		}
	}

	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return vecerrors.CatalogError("delete table files", err)
	}
	return nil
}

// CleanupTTL physically deletes TO_DELETE files older than ttl and
// removes their catalog rows. Returns the number of files reclaimed.
func (m *SQLiteMeta) CleanupTTL(ctx context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()
	files, err := m.queryFiles(ctx,
		`SELECT file_id, table_id, date, dimension, row_count, location, file_type, created_at
		 FROM files WHERE file_type = ? AND updated_at <= ?`,
		FileTypeToDelete, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, f := range files {
		if err := removeSegmentBlobs(f.Location); err != nil {
			slog.Warn("ttl_cleanup_remove_failed",
				slog.Int64("file_id", f.FileID),
				slog.String("location", f.Location),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := m.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, f.FileID); err != nil {
			return reclaimed, vecerrors.CatalogError("delete file row", err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// DropAll removes every table, file, and segment blob.
func (m *SQLiteMeta) DropAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.queryFiles(ctx,
		`SELECT file_id, table_id, date, dimension, row_count, location, file_type, created_at FROM files`)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := removeSegmentBlobs(f.Location); err != nil {
			slog.Warn("drop_all_remove_failed",
				slog.String("location", f.Location),
				slog.String("error", err.Error()))
		}
	}

	if _, err := m.db.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return vecerrors.CatalogError("drop files", err)
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM tables`); err != nil {
		return vecerrors.CatalogError("drop tables", err)
	}
	return nil
}

// Close releases the database handle.
func (m *SQLiteMeta) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// queryFiles runs a SELECT over the files table and scans the rows.
func (m *SQLiteMeta) queryFiles(ctx context.Context, query string, args ...any) ([]*SegmentFile, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vecerrors.CatalogError("query files", err)
	}
	defer rows.Close()

	var files []*SegmentFile
	for rows.Next() {
		var f SegmentFile
		var createdAt int64
		if err := rows.Scan(&f.FileID, &f.TableID, &f.Date, &f.Dimension,
			&f.RowCount, &f.Location, &f.FileType, &createdAt); err != nil {
			return nil, vecerrors.CatalogError("scan file row", err)
		}
		f.CreatedAt = time.Unix(createdAt, 0)
		files = append(files, &f)
	}
	return files, rows.Err()
}

// removeSegmentBlobs deletes the segment blob and any index sidecars.
func removeSegmentBlobs(location string) error {
	for _, path := range []string{location, location + ".meta"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
