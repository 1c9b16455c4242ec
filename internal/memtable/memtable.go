// Package memtable implements the per-table in-memory insert buffers.
// The manager owns every buffer, mints monotonically increasing vector
// ids, and flushes buffers into raw segments registered in the catalog.
package memtable

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/vecdb/internal/engine"
	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
	"github.com/Aman-CERP/vecdb/internal/meta"
)

// buffer is one table's pending rows. Its mutex serializes ingestion
// and flush for that table without blocking other tables.
type buffer struct {
	mu      sync.Mutex
	schema  *meta.TableSchema
	ids     []int64
	vectors []float32
}

// Manager owns the insert buffers for every table.
type Manager struct {
	catalog meta.Meta
	cache   *engine.Cache
	params  engine.Params

	// flushThreshold is the buffered row count that forces an early
	// flush of a single table ahead of the compaction timer.
	flushThreshold int

	nextID atomic.Int64

	mu     sync.Mutex
	tables map[string]*buffer
}

// NewManager creates a memory manager backed by the given catalog.
func NewManager(catalog meta.Meta, cache *engine.Cache, params engine.Params, flushThreshold int) *Manager {
	m := &Manager{
		catalog:        catalog,
		cache:          cache,
		params:         params,
		flushThreshold: flushThreshold,
		tables:         make(map[string]*buffer),
	}
	m.nextID.Store(0)
	return m
}

// Insert appends rows to the table's buffer and returns the minted ids.
// Ids are strictly increasing for the life of the process. The call
// fails without side effects if the table is unknown or the vector
// buffer length is not a multiple of the table dimension.
func (m *Manager) Insert(ctx context.Context, tableID string, vectors []float32) ([]int64, error) {
	buf, err := m.bufferFor(ctx, tableID)
	if err != nil {
		return nil, err
	}

	dim := buf.schema.Dimension
	if len(vectors) == 0 || len(vectors)%dim != 0 {
		return nil, vecerrors.InvalidArgument(
			fmt.Sprintf("vector buffer length %d is not a positive multiple of dimension %d",
				len(vectors), dim))
	}
	n := len(vectors) / dim

	ids := make([]int64, n)
	for i := range ids {
		ids[i] = m.nextID.Add(1)
	}

	buf.mu.Lock()
	buf.ids = append(buf.ids, ids...)
	buf.vectors = append(buf.vectors, vectors...)
	needsFlush := m.flushThreshold > 0 && len(buf.ids) >= m.flushThreshold
	buf.mu.Unlock()

	if needsFlush {
		if err := m.flushTable(ctx, tableID, buf); err != nil {
			// The rows stay buffered; the next compaction tick retries.
			slog.Warn("buffer_flush_failed",
				slog.String("table_id", tableID),
				slog.String("error", err.Error()))
		}
	}

	return ids, nil
}

// Serialize flushes every non-empty buffer to a new raw segment and
// returns the set of affected tables so the compaction loop can wake.
func (m *Manager) Serialize(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	snapshot := make(map[string]*buffer, len(m.tables))
	for id, buf := range m.tables {
		snapshot[id] = buf
	}
	m.mu.Unlock()

	var affected []string
	for tableID, buf := range snapshot {
		buf.mu.Lock()
		empty := len(buf.ids) == 0
		buf.mu.Unlock()
		if empty {
			continue
		}
		if err := m.flushTable(ctx, tableID, buf); err != nil {
			return affected, err
		}
		affected = append(affected, tableID)
	}
	return affected, nil
}

// BufferedRows returns the number of rows pending flush for a table.
func (m *Manager) BufferedRows(tableID string) int {
	m.mu.Lock()
	buf, ok := m.tables[tableID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.ids)
}

// flushTable writes one table's buffer to a new raw segment, registers
// it as RAW in the catalog, and drains the buffer. The buffer lock is
// held across the write so the flush and concurrent ingestion of the
// same table serialize; other tables proceed.
func (m *Manager) flushTable(ctx context.Context, tableID string, buf *buffer) error {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if len(buf.ids) == 0 {
		return nil
	}

	file := &meta.SegmentFile{TableID: tableID}
	if err := m.catalog.AddFile(ctx, file); err != nil {
		return err
	}

	eng := engine.NewRawEngine(buf.schema.Dimension, file.Location,
		engine.ParseMetric(buf.schema.Metric), m.params, m.cache)
	if err := eng.Append(buf.ids, buf.vectors); err != nil {
		return err
	}
	if err := eng.Serialize(ctx); err != nil {
		return err
	}

	rows := int64(len(buf.ids))
	err := m.catalog.UpdateFiles(ctx, []meta.FileUpdate{{
		FileID:      file.FileID,
		FileType:    meta.FileTypeRaw,
		RowCount:    rows,
		SetRowCount: true,
	}})
	if err != nil {
		return err
	}

	slog.Debug("buffer_flushed",
		slog.String("table_id", tableID),
		slog.Int64("file_id", file.FileID),
		slog.Int64("rows", rows))

	buf.ids = nil
	buf.vectors = nil
	return nil
}

// bufferFor returns the table's buffer, creating it on first insert.
func (m *Manager) bufferFor(ctx context.Context, tableID string) (*buffer, error) {
	m.mu.Lock()
	if buf, ok := m.tables[tableID]; ok {
		m.mu.Unlock()
		return buf, nil
	}
	m.mu.Unlock()

	// Resolve the schema outside the manager lock; catalog calls block.
	schema, err := m.catalog.DescribeTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.tables[tableID]; ok {
		return buf, nil
	}
	buf := &buffer{schema: schema}
	m.tables[tableID] = buf
	return buf, nil
}
