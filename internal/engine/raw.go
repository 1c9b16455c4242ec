package engine

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
)

// Params carries engine tuning shared by both variants.
type Params struct {
	// M is the HNSW max connections per layer.
	M int
	// EfSearch is the HNSW query-time search width.
	EfSearch int
	// MinTrainable is the minimum row count required to build an index.
	MinTrainable int64
}

// DefaultParams returns engine defaults matching the config package.
func DefaultParams() Params {
	return Params{M: 16, EfSearch: 64, MinTrainable: 64}
}

// rawSegmentBlob is the on-disk form of a raw segment.
type rawSegmentBlob struct {
	Dimension int
	IDs       []int64
	Vectors   []float32
}

// RawEngine is a flat vector list searched by brute force.
type RawEngine struct {
	mu       sync.RWMutex
	dim      int
	location string
	metric   Metric
	params   Params
	cache    *Cache

	loaded  bool
	ids     []int64
	vectors []float32 // row-major, dim floats per row
}

var _ Engine = (*RawEngine)(nil)

// NewRawEngine creates a raw engine handle over location. The working
// set starts empty; call Load to read an existing segment or Append /
// Merge to build a new one.
func NewRawEngine(dim int, location string, metric Metric, params Params, cache *Cache) *RawEngine {
	return &RawEngine{
		dim:      dim,
		location: location,
		metric:   metric,
		params:   params,
		cache:    cache,
	}
}

// Load reads the segment blob into memory. Idempotent.
func (e *RawEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	blob, err := readRawBlob(e.location)
	if err != nil {
		return err
	}
	if blob.Dimension != e.dim {
		return vecerrors.Newf(vecerrors.ErrCodeDimensionMismatch,
			"segment %s has dimension %d, engine expects %d", e.location, blob.Dimension, e.dim)
	}

	e.ids = blob.IDs
	e.vectors = blob.Vectors
	e.loaded = true
	return nil
}

// Append adds rows to the working set. Used by the memory manager when
// flushing a buffer into a new raw segment.
func (e *RawEngine) Append(ids []int64, vectors []float32) error {
	if len(vectors) != len(ids)*e.dim {
		return vecerrors.InvalidArgument(
			fmt.Sprintf("append: %d ids need %d floats, got %d", len(ids), len(ids)*e.dim, len(vectors)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ids = append(e.ids, ids...)
	e.vectors = append(e.vectors, vectors...)
	e.loaded = true
	return nil
}

// Merge appends the rows of another raw segment into the working set.
func (e *RawEngine) Merge(ctx context.Context, otherLocation string) error {
	blob, err := readRawBlob(otherLocation)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if blob.Dimension != e.dim {
		return vecerrors.Newf(vecerrors.ErrCodeDimensionMismatch,
			"cannot merge %s: dimension %d != %d", otherLocation, blob.Dimension, e.dim)
	}

	e.ids = append(e.ids, blob.IDs...)
	e.vectors = append(e.vectors, blob.Vectors...)
	e.loaded = true
	return nil
}

// Search brute-forces per-query top-k over the working set.
func (e *RawEngine) Search(ctx context.Context, nq int, queries []float32, k int) ([]int64, []float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return nil, nil, vecerrors.Newf(vecerrors.ErrCodeEngineSearch,
			"segment %s not loaded", e.location)
	}
	if len(queries) != nq*e.dim {
		return nil, nil, vecerrors.InvalidArgument(
			fmt.Sprintf("search: %d queries need %d floats, got %d", nq, nq*e.dim, len(queries)))
	}

	ids := make([]int64, nq*k)
	distances := make([]float32, nq*k)

	rows := len(e.ids)
	candidates := make([]Candidate, rows)
	for qi := 0; qi < nq; qi++ {
		query := queries[qi*e.dim : (qi+1)*e.dim]
		for r := 0; r < rows; r++ {
			candidates[r] = Candidate{
				ID:       e.ids[r],
				Distance: e.metric.Distance(query, e.vectors[r*e.dim:(r+1)*e.dim]),
			}
		}
		best := TopK(candidates, k, e.metric)
		fillResultRow(ids[qi*k:(qi+1)*k], distances[qi*k:(qi+1)*k], best, e.metric)
	}

	return ids, distances, nil
}

// Size returns the logical row count of the working set.
func (e *RawEngine) Size() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(len(e.ids))
}

// PhysicalSize returns the on-disk byte size of the segment blob.
func (e *RawEngine) PhysicalSize() (int64, error) {
	info, err := os.Stat(e.location)
	if err != nil {
		return 0, vecerrors.Wrap(vecerrors.ErrCodeFileNotFound, err)
	}
	return info.Size(), nil
}

// Serialize writes the working set to the engine's location using an
// atomic temp-file-and-rename.
func (e *RawEngine) Serialize(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	blob := rawSegmentBlob{Dimension: e.dim, IDs: e.ids, Vectors: e.vectors}
	return writeRawBlob(e.location, &blob)
}

// BuildIndex constructs an HNSW index over the working set at
// targetLocation and returns an IndexEngine over it.
func (e *RawEngine) BuildIndex(ctx context.Context, targetLocation string) (Engine, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return nil, vecerrors.Newf(vecerrors.ErrCodeIndexBuild,
			"segment %s not loaded", e.location)
	}
	if int64(len(e.ids)) < e.params.MinTrainable {
		return nil, vecerrors.Newf(vecerrors.ErrCodeNotTrainable,
			"segment %s has %d rows, minimum trainable is %d",
			e.location, len(e.ids), e.params.MinTrainable)
	}

	idx := newIndexEngine(e.dim, targetLocation, e.metric, e.params, e.cache)
	if err := idx.build(e.ids, e.vectors); err != nil {
		return nil, err
	}
	if err := idx.Serialize(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Cache retains this engine in the process-wide engine cache.
func (e *RawEngine) Cache() {
	e.cache.Put(e)
}

// Location returns the segment's storage location.
func (e *RawEngine) Location() string { return e.location }

// Dim returns the vector dimension.
func (e *RawEngine) Dim() int { return e.dim }

// fillResultRow writes the selected candidates into one k-wide result
// row, padding short rows with the sentinel.
func fillResultRow(ids []int64, distances []float32, best []Candidate, metric Metric) {
	for i := range ids {
		if i < len(best) {
			ids[i] = best[i].ID
			distances[i] = best[i].Distance
			continue
		}
		ids[i] = SentinelID
		distances[i] = metric.Worst()
	}
}

// readRawBlob decodes a raw segment file.
func readRawBlob(location string) (*rawSegmentBlob, error) {
	file, err := os.Open(location)
	if err != nil {
		return nil, vecerrors.Wrap(vecerrors.ErrCodeEngineLoad, err)
	}
	defer file.Close()

	var blob rawSegmentBlob
	if err := gob.NewDecoder(file).Decode(&blob); err != nil {
		return nil, vecerrors.Wrap(vecerrors.ErrCodeFileCorrupt, err)
	}
	if len(blob.Vectors) != len(blob.IDs)*blob.Dimension {
		return nil, vecerrors.Newf(vecerrors.ErrCodeFileCorrupt,
			"segment %s: %d ids but %d floats for dimension %d",
			location, len(blob.IDs), len(blob.Vectors), blob.Dimension)
	}
	return &blob, nil
}

// writeRawBlob encodes a raw segment file atomically.
func writeRawBlob(location string, blob *rawSegmentBlob) error {
	tmpPath := location + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}

	if err := gob.NewEncoder(file).Encode(blob); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}

	if err := os.Rename(tmpPath, location); err != nil {
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	return nil
}
