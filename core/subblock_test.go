package knaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ComputeSplitPoints_SortsDedupesAndIgnoresBlockStart(t *testing.T) {
	changes := []ParamChange{
		{ApplyAtFrame: 100}, // offset 0: block start, never a split
		{ApplyAtFrame: 163},
		{ApplyAtFrame: 105},
		{ApplyAtFrame: 163}, // duplicate offset collapses
	}
	got := computeSplitPoints(changes, 100, 128, nil)
	assert.Equal(t, []int{5, 63}, got)
}

func Test_ComputeSplitPoints_EmptyForChangesOnBlockBoundaryOnly(t *testing.T) {
	changes := []ParamChange{{ApplyAtFrame: 0}, {ApplyAtFrame: 0}}
	got := computeSplitPoints(changes, 0, 64, nil)
	assert.Empty(t, got)
}

func Test_ComputeSplitPoints_ReusesScratchWithoutCarryingStaleEntries(t *testing.T) {
	scratch := computeSplitPoints([]ParamChange{{ApplyAtFrame: 7}}, 0, 64, nil)
	assert.Equal(t, []int{7}, scratch)

	got := computeSplitPoints(nil, 0, 64, scratch)
	assert.Empty(t, got)
}
