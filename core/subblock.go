package knaster

// computeSplitPoints returns the ascending, deduplicated set of
// intra-block offsets at which changes drained for a block must apply:
// if any drained change has a non-zero intra-block offset, the block is
// split at every such offset and the entire task list runs once per
// resulting sub-block. Splitting uniformly rather than per affected node
// keeps every task's inputs and outputs covering the same frame range; a
// Processor must therefore accept any call length up to the block-size
// cap and carry its state across calls. scratch is reused across calls,
// and the sort is a hand-rolled insertion sort over a handful of ints,
// so nothing here allocates on the hot path.
func computeSplitPoints(changes []ParamChange, frame int64, blockLen int, scratch []int) []int {
	scratch = scratch[:0]
	for _, c := range changes {
		off := int(c.ApplyAtFrame - frame)
		if off > 0 && off < blockLen {
			scratch = append(scratch, off)
		}
	}
	for i := 1; i < len(scratch); i++ {
		for j := i; j > 0 && scratch[j] < scratch[j-1]; j-- {
			scratch[j], scratch[j-1] = scratch[j-1], scratch[j]
		}
	}
	return dedupeSortedInts(scratch)
}
