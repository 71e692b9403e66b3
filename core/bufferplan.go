package knaster

// bufferKey identifies one (producer node, output channel) pair, the
// unit the scheduler assigns a buffer slot to.
type bufferKey struct {
	node NodeID
	ch   int
}

// FeedbackSlot names a buffer slot that must survive a plan swap: the
// runner copies its contents from the old BufferPlan into the new one,
// by (node, channel) identity, before the new plan processes its first
// block.
type FeedbackSlot struct {
	Node NodeID
	Ch   int
	Slot int
}

// BufferPlan is the flat arena of audio buffers plus the mapping from
// (node, channel) pairs to slot indices. A slot is reused across nodes
// whenever their live ranges in the schedule are disjoint.
type BufferPlan struct {
	Arena    *BufferArena
	slotOf   map[bufferKey]int
	Feedback []FeedbackSlot
	numSlots int
}

// SlotFor resolves the buffer slot assigned to a (node, channel) output,
// or SilenceSlot if none was assigned. liveRanges seeds a range entry for
// every alive node's output channels, so this fallback should only ever
// fire for a channel index past what the producing node actually
// declares; it exists to keep the lookup total rather than to paper over
// an unconsumed output.
func (b *BufferPlan) SlotFor(node NodeID, ch int) int {
	if s, ok := b.slotOf[bufferKey{node, ch}]; ok {
		return s
	}
	return SilenceSlot
}

// NumSlots reports how many buffer slots this plan uses, including the
// silence slot.
func (b *BufferPlan) NumSlots() int { return b.numSlots }
