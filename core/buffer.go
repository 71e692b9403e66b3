package knaster

/*------------------------------------------------------------------
 *
 * Purpose: Fixed-capacity sample storage for the audio-thread engine.
 *
 * A BufferArena is allocated once, on the control thread, before a
 * plan is ever published. Every Block handed to a Processor on the
 * audio thread is a re-slice of this arena: no further allocation
 * happens after NewBufferArena returns.
 *
 *---------------------------------------------------------------*/

// Block is a view onto one buffer slot's samples for the frame range
// currently being processed.
type Block = []float64

// SilenceSlot is the reserved buffer slot that reads as zero. Unconnected
// inputs are wired to it by the scheduler; nothing ever writes to it.
const SilenceSlot = 0

// AntiDenormal is a tiny offset a Processor may add to recirculating
// internal state (filter memories, delay lines) to keep it out of the
// denormal range, where float arithmetic slows down by orders of
// magnitude on common CPUs. The runtime never applies it globally and
// never toggles CPU flush-to-zero flags; each node that uses it must
// document whether it is added per frame, per block, or after a
// DC-blocker.
const AntiDenormal = 1e-20

// BufferArena is a flat slab of numSlots buffers, each blockSizeCap
// samples long. Slot 0 is SilenceSlot.
type BufferArena struct {
	flat         []float64
	blockSizeCap int
	numSlots     int
}

// NewBufferArena allocates a slab large enough for numSlots buffers of
// blockSizeCap samples. numSlots must include the silence slot (slot 0).
func NewBufferArena(numSlots, blockSizeCap int) *BufferArena {
	if numSlots < 1 {
		numSlots = 1
	}
	return &BufferArena{
		flat:         make([]float64, numSlots*blockSizeCap),
		blockSizeCap: blockSizeCap,
		numSlots:     numSlots,
	}
}

// Full returns the full-capacity view of a slot, used when building
// sub-block views.
func (a *BufferArena) Full(slot int) Block {
	off := slot * a.blockSizeCap
	return a.flat[off : off+a.blockSizeCap]
}

// Sub returns the [lo, hi) sample range of a slot, the view handed to a
// Processor for one sub-block.
func (a *BufferArena) Sub(slot, lo, hi int) Block {
	off := slot * a.blockSizeCap
	return a.flat[off+lo : off+hi]
}

// ZeroSlot clears a slot's [lo, hi) range, used when a self-freeing node's
// output must read as silence for the remainder of its final block.
func (a *BufferArena) ZeroSlot(slot, lo, hi int) {
	sub := a.Sub(slot, lo, hi)
	for i := range sub {
		sub[i] = 0
	}
}

// NumSlots reports the slab's slot count, including the silence slot.
func (a *BufferArena) NumSlots() int { return a.numSlots }

// BlockSizeCap reports the per-slot sample capacity.
func (a *BufferArena) BlockSizeCap() int { return a.blockSizeCap }
