package engine

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"

	vecerrors "github.com/Aman-CERP/vecdb/internal/errors"
)

// indexMetadata is the gob sidecar stored next to the graph blob.
type indexMetadata struct {
	Dimension int
	Metric    Metric
	Rows      int64
}

// IndexEngine is a segment with an HNSW index. Vector ids are the graph
// keys, so no separate id mapping is needed.
type IndexEngine struct {
	mu       sync.RWMutex
	dim      int
	location string
	metric   Metric
	params   Params
	cache    *Cache

	loaded bool
	graph  *hnsw.Graph[int64]
	rows   int64
}

var _ Engine = (*IndexEngine)(nil)

// NewIndexEngine creates an index engine handle over an existing
// indexed segment. Call Load before Search.
func NewIndexEngine(dim int, location string, metric Metric, params Params, cache *Cache) *IndexEngine {
	return newIndexEngine(dim, location, metric, params, cache)
}

func newIndexEngine(dim int, location string, metric Metric, params Params, cache *Cache) *IndexEngine {
	return &IndexEngine{
		dim:      dim,
		location: location,
		metric:   metric,
		params:   params,
		cache:    cache,
	}
}

// negativeDot is the HNSW distance for MetricIP. It is registered by
// name so graphs using it can be exported and imported again.
func negativeDot(a, b []float32) float32 { return -dot(a, b) }

func init() {
	hnsw.RegisterDistanceFunc("vecdb_negative_dot", negativeDot)
}

// newGraph constructs an HNSW graph configured for the engine's metric.
func (e *IndexEngine) newGraph() *hnsw.Graph[int64] {
	graph := hnsw.NewGraph[int64]()
	switch e.metric {
	case MetricIP:
		// HNSW orders by smaller-is-better; negate the inner product.
		graph.Distance = negativeDot
	default:
		graph.Distance = hnsw.EuclideanDistance
	}
	graph.M = e.params.M
	graph.EfSearch = e.params.EfSearch
	return graph
}

// build populates a fresh graph from row data.
func (e *IndexEngine) build(ids []int64, vectors []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	graph := e.newGraph()
	for i, id := range ids {
		vec := make([]float32, e.dim)
		copy(vec, vectors[i*e.dim:(i+1)*e.dim])
		graph.Add(hnsw.MakeNode(id, vec))
	}

	e.graph = graph
	e.rows = int64(len(ids))
	e.loaded = true
	return nil
}

// Load reads the sidecar metadata and imports the graph. Idempotent.
func (e *IndexEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	meta, err := readIndexMetadata(e.location + ".meta")
	if err != nil {
		return err
	}
	if meta.Dimension != e.dim {
		return vecerrors.Newf(vecerrors.ErrCodeDimensionMismatch,
			"index %s has dimension %d, engine expects %d", e.location, meta.Dimension, e.dim)
	}

	file, err := os.Open(e.location)
	if err != nil {
		return vecerrors.Wrap(vecerrors.ErrCodeEngineLoad, err)
	}
	defer file.Close()

	graph := e.newGraph()
	// hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return vecerrors.Wrap(vecerrors.ErrCodeFileCorrupt, err)
	}

	e.graph = graph
	e.rows = meta.Rows
	e.loaded = true
	return nil
}

// Search delegates per-query top-k to the HNSW graph.
func (e *IndexEngine) Search(ctx context.Context, nq int, queries []float32, k int) ([]int64, []float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return nil, nil, vecerrors.Newf(vecerrors.ErrCodeEngineSearch,
			"index %s not loaded", e.location)
	}
	if len(queries) != nq*e.dim {
		return nil, nil, vecerrors.InvalidArgument(
			fmt.Sprintf("search: %d queries need %d floats, got %d", nq, nq*e.dim, len(queries)))
	}

	ids := make([]int64, nq*k)
	distances := make([]float32, nq*k)

	for qi := 0; qi < nq; qi++ {
		query := queries[qi*e.dim : (qi+1)*e.dim]
		nodes := e.graph.Search(query, k)

		best := make([]Candidate, 0, len(nodes))
		for _, node := range nodes {
			best = append(best, Candidate{
				ID:       node.Key,
				Distance: e.metric.Distance(query, node.Value),
			})
		}
		fillResultRow(ids[qi*k:(qi+1)*k], distances[qi*k:(qi+1)*k], best, e.metric)
	}

	return ids, distances, nil
}

// Merge is not supported on indexed segments; only raw segments are
// merged by compaction.
func (e *IndexEngine) Merge(ctx context.Context, otherLocation string) error {
	return vecerrors.Newf(vecerrors.ErrCodeInvalidArgument,
		"cannot merge into indexed segment %s", e.location)
}

// Size returns the logical row count.
func (e *IndexEngine) Size() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rows
}

// PhysicalSize returns the on-disk byte size of the graph blob and its
// sidecar.
func (e *IndexEngine) PhysicalSize() (int64, error) {
	var total int64
	for _, path := range []string{e.location, e.location + ".meta"} {
		info, err := os.Stat(path)
		if err != nil {
			return 0, vecerrors.Wrap(vecerrors.ErrCodeFileNotFound, err)
		}
		total += info.Size()
	}
	return total, nil
}

// Serialize exports the graph and sidecar atomically.
func (e *IndexEngine) Serialize(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return vecerrors.Newf(vecerrors.ErrCodeSerializeFailed,
			"index %s not loaded", e.location)
	}

	tmpPath := e.location + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	if err := e.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	if err := os.Rename(tmpPath, e.location); err != nil {
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}

	meta := indexMetadata{Dimension: e.dim, Metric: e.metric, Rows: e.rows}
	return writeIndexMetadata(e.location+".meta", &meta)
}

// BuildIndex is invalid on an already-indexed segment.
func (e *IndexEngine) BuildIndex(ctx context.Context, targetLocation string) (Engine, error) {
	return nil, vecerrors.Newf(vecerrors.ErrCodeIndexBuild,
		"segment %s is already indexed", e.location)
}

// Cache retains this engine in the process-wide engine cache.
func (e *IndexEngine) Cache() {
	e.cache.Put(e)
}

// Location returns the segment's storage location.
func (e *IndexEngine) Location() string { return e.location }

// Dim returns the vector dimension.
func (e *IndexEngine) Dim() int { return e.dim }

// readIndexMetadata decodes a gob sidecar.
func readIndexMetadata(path string) (*indexMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, vecerrors.Wrap(vecerrors.ErrCodeEngineLoad, err)
	}
	defer file.Close()

	var meta indexMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, vecerrors.Wrap(vecerrors.ErrCodeFileCorrupt, err)
	}
	return &meta, nil
}

// writeIndexMetadata encodes a gob sidecar atomically.
func writeIndexMetadata(path string, meta *indexMetadata) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return vecerrors.Wrap(vecerrors.ErrCodeSerializeFailed, err)
	}
	return os.Rename(tmpPath, path)
}
