package db

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/vecdb/internal/engine"
	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
	"github.com/Aman-CERP/vecdb/internal/meta"
)

// Query answers approximate top-k nearest neighbors for nq query
// vectors over the table's segments in the given date partitions.
//
// A nil dates slice means today's partition. An explicitly empty
// slice, or dates with no matching segments, yields nq empty result
// lists without error. The returned outer slice has one entry per
// query; each inner slice holds at most k vector ids, best first.
//
// The query uses the segment snapshot returned by one catalog read;
// segments produced by concurrent compaction are not consulted. If any
// chosen segment fails to load or search, the whole query fails.
func (db *DB) Query(ctx context.Context, tableID string, k, nq int, queries []float32, dates []string) ([][]int64, error) {
	if db.shuttingDown.Load() {
		return nil, vecerrors.ShuttingDown()
	}
	if k < 0 || nq < 0 {
		return nil, vecerrors.InvalidArgument("k and nq must not be negative")
	}

	schema, err := db.catalog.DescribeTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	if nq == 0 {
		return [][]int64{}, nil
	}
	if len(queries) != nq*schema.Dimension {
		return nil, vecerrors.InvalidArgument(
			fmt.Sprintf("%d queries of dimension %d need %d floats, got %d",
				nq, schema.Dimension, nq*schema.Dimension, len(queries)))
	}
	if k == 0 {
		return emptyResults(nq), nil
	}

	if dates == nil {
		dates = []string{meta.Today()}
	} else if len(dates) == 0 {
		return emptyResults(nq), nil
	}

	grouped, err := db.catalog.FilesToSearch(ctx, tableID, dates)
	if err != nil {
		return nil, err
	}

	files := flattenRawFirst(grouped)
	if len(files) == 0 {
		return emptyResults(nq), nil
	}

	return db.searchFiles(ctx, schema, files, k, nq, queries)
}

// QueryFiles is the explicit-file variant of Query: the fan-out set is
// the given file ids instead of a date range. A requested file that is
// absent or not searchable fails the query.
func (db *DB) QueryFiles(ctx context.Context, tableID string, fileIDs []int64, k, nq int, queries []float32) ([][]int64, error) {
	if db.shuttingDown.Load() {
		return nil, vecerrors.ShuttingDown()
	}
	if k < 0 || nq < 0 {
		return nil, vecerrors.InvalidArgument("k and nq must not be negative")
	}

	schema, err := db.catalog.DescribeTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	if nq == 0 {
		return [][]int64{}, nil
	}
	if len(queries) != nq*schema.Dimension {
		return nil, vecerrors.InvalidArgument(
			fmt.Sprintf("%d queries of dimension %d need %d floats, got %d",
				nq, schema.Dimension, nq*schema.Dimension, len(queries)))
	}
	if k == 0 || len(fileIDs) == 0 {
		return emptyResults(nq), nil
	}

	files, err := db.catalog.GetFiles(ctx, tableID, fileIDs)
	if err != nil {
		return nil, err
	}
	if len(files) != len(fileIDs) {
		return nil, vecerrors.Newf(vecerrors.ErrCodeFileNotFound,
			"requested %d files, only %d are searchable", len(fileIDs), len(files))
	}

	sortRawFirst(files)
	return db.searchFiles(ctx, schema, files, k, nq, queries)
}

// searchFiles fans the search across the segment set on a bounded
// worker pool and reduces per-segment top-k lists into a global top-k
// per query. Reduction applies a total order on (distance, id), so the
// final result is deterministic regardless of fan-out completion
// order.
func (db *DB) searchFiles(ctx context.Context, schema *meta.TableSchema, files []*meta.SegmentFile, k, nq int, queries []float32) ([][]int64, error) {
	metric := engine.ParseMetric(schema.Metric)

	accumulators := make([][]engine.Candidate, nq)
	var accMu sync.Mutex

	var searchSetBytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	limit := db.cfg.Query.FanoutParallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)

	for _, file := range files {
		file := file
		g.Go(func() error {
			eng, err := db.engineFor(file, metric)
			if err != nil {
				return err
			}
			if err := eng.Load(gctx); err != nil {
				return err
			}
			if size, err := eng.PhysicalSize(); err == nil {
				searchSetBytes.Add(size)
			}

			ids, distances, err := eng.Search(gctx, nq, queries, k)
			if err != nil {
				return err
			}

			accMu.Lock()
			for qi := 0; qi < nq; qi++ {
				for j := 0; j < k; j++ {
					id := ids[qi*k+j]
					if id == engine.SentinelID {
						continue
					}
					accumulators[qi] = append(accumulators[qi], engine.Candidate{
						ID:       id,
						Distance: distances[qi*k+j],
					})
				}
			}
			accMu.Unlock()
			return nil
		})
	}

	// Choice (a): the result is not returned unless every segment
	// succeeded.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	db.logger.Debug("search_set",
		slog.String("table_id", schema.TableID),
		slog.Int("segments", len(files)),
		slog.Int64("size_mib", searchSetBytes.Load()/(1024*1024)))

	results := make([][]int64, nq)
	for qi := 0; qi < nq; qi++ {
		best := engine.TopK(accumulators[qi], k, metric)
		row := make([]int64, 0, len(best))
		for _, c := range best {
			row = append(row, c.ID)
		}
		results[qi] = row
	}
	return results, nil
}

// emptyResults returns nq empty result lists.
func emptyResults(nq int) [][]int64 {
	results := make([][]int64, nq)
	for i := range results {
		results[i] = []int64{}
	}
	return results
}

// flattenRawFirst flattens a date-grouped file map into a single list
// with RAW segments ahead of INDEX segments, so the smallest working
// sets bound per-engine memory first. Dates and files keep catalog
// order for determinism.
func flattenRawFirst(grouped map[string][]*meta.SegmentFile) []*meta.SegmentFile {
	dates := make([]string, 0, len(grouped))
	for date := range grouped {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var raw, index []*meta.SegmentFile
	for _, date := range dates {
		for _, file := range grouped[date] {
			if file.FileType == meta.FileTypeIndex {
				index = append(index, file)
			} else {
				raw = append(raw, file)
			}
		}
	}
	return append(raw, index...)
}

// sortRawFirst orders an explicit file list RAW before INDEX, stable
// by file id.
func sortRawFirst(files []*meta.SegmentFile) {
	sort.SliceStable(files, func(i, j int) bool {
		ri := files[i].FileType != meta.FileTypeIndex
		rj := files[j].FileType != meta.FileTypeIndex
		if ri != rj {
			return ri
		}
		return files[i].FileID < files[j].FileID
	})
}
