package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopK_L2Ordering(t *testing.T) {
	// Given: candidates in arbitrary order
	candidates := []Candidate{
		{ID: 3, Distance: 0.9},
		{ID: 1, Distance: 0.1},
		{ID: 2, Distance: 0.5},
	}

	// When: selecting top 2 under L2 (smaller wins)
	best := TopK(candidates, 2, MetricL2)

	// Then: smallest distances first
	assert.Equal(t, []Candidate{{ID: 1, Distance: 0.1}, {ID: 2, Distance: 0.5}}, best)
}

func TestTopK_IPOrdering(t *testing.T) {
	// Given: candidates under inner product (larger wins)
	candidates := []Candidate{
		{ID: 3, Distance: 0.9},
		{ID: 1, Distance: 0.1},
		{ID: 2, Distance: 0.5},
	}

	best := TopK(candidates, 2, MetricIP)

	assert.Equal(t, []Candidate{{ID: 3, Distance: 0.9}, {ID: 2, Distance: 0.5}}, best)
}

func TestTopK_TieBreaksByAscendingID(t *testing.T) {
	// Given: equal distances with different ids
	candidates := []Candidate{
		{ID: 9, Distance: 1.0},
		{ID: 2, Distance: 1.0},
		{ID: 5, Distance: 1.0},
	}

	best := TopK(candidates, 2, MetricL2)

	assert.Equal(t, []Candidate{{ID: 2, Distance: 1.0}, {ID: 5, Distance: 1.0}}, best)
}

func TestTopK_DropsSentinels(t *testing.T) {
	// Given: sentinel padding mixed into the candidates
	candidates := []Candidate{
		{ID: SentinelID, Distance: 0},
		{ID: 7, Distance: 2.0},
		{ID: SentinelID, Distance: 0},
	}

	best := TopK(candidates, 3, MetricL2)

	assert.Equal(t, []Candidate{{ID: 7, Distance: 2.0}}, best)
}

func TestTopK_DeterministicAcrossInputOrder(t *testing.T) {
	forward := []Candidate{
		{ID: 1, Distance: 0.3}, {ID: 2, Distance: 0.2}, {ID: 3, Distance: 0.1},
	}
	reversed := []Candidate{
		{ID: 3, Distance: 0.1}, {ID: 2, Distance: 0.2}, {ID: 1, Distance: 0.3},
	}

	assert.Equal(t, TopK(forward, 2, MetricL2), TopK(reversed, 2, MetricL2))
}

func TestTopK_KZero(t *testing.T) {
	assert.Nil(t, TopK([]Candidate{{ID: 1, Distance: 0.1}}, 0, MetricL2))
}

func TestTopK_FewerCandidatesThanK(t *testing.T) {
	best := TopK([]Candidate{{ID: 4, Distance: 0.4}}, 10, MetricL2)
	assert.Len(t, best, 1)
}
