// Package engine implements segment execution engines: the per-segment
// load/search/merge/serialize surface the database drives. Two variants
// exist, RawEngine for flat vector lists searched by brute force and
// IndexEngine for segments with an HNSW index. Metric choice is a field
// on the engine, not a variant.
package engine

import (
	"context"
)

// SentinelID marks an invalid result slot. Search pads short result
// rows with it; the reducer drops sentinel entries before selection.
const SentinelID int64 = -1

// Engine is the capability surface of one segment.
type Engine interface {
	// Load brings the segment into a searchable in-memory form.
	// Idempotent.
	Load(ctx context.Context) error

	// Search returns per-segment top-k for each of nq queries. The
	// returned slices are nq*k long, row-major (row i = query i).
	// Rows with fewer than k hits are padded with SentinelID.
	Search(ctx context.Context, nq int, queries []float32, k int) (ids []int64, distances []float32, err error)

	// Merge appends the vectors of another raw segment into the
	// current working set.
	Merge(ctx context.Context, otherLocation string) error

	// Size returns the current logical row count.
	Size() int64

	// PhysicalSize returns the on-disk byte size of the segment.
	PhysicalSize() (int64, error)

	// Serialize flushes the working set to the engine's location.
	Serialize(ctx context.Context) error

	// BuildIndex constructs an ANN index over this segment's vectors
	// at targetLocation and returns an engine over the indexed artifact.
	BuildIndex(ctx context.Context, targetLocation string) (Engine, error)

	// Cache retains this engine in the process-wide engine cache.
	Cache()

	// Location returns the segment's storage location.
	Location() string

	// Dim returns the vector dimension.
	Dim() int
}
