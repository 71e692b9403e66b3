package knaster

import (
	"sync/atomic"
)

// FrameImmediate is the ApplyAtFrame sentinel meaning "ASAP at next
// block start". It is distinct from the real frame 0 so the very first
// block of a graph's life is not ambiguous with it.
const FrameImmediate int64 = -1

// ChangeKind distinguishes an instantaneous jump from a timed ramp.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeRamp
	ChangeTrigger
)

// ParamChange is one record carried by the ParamRing.
type ParamChange struct {
	Node         NodeID
	Param        int
	Kind         ChangeKind
	Value        float64 // Set/Trigger value, or Ramp target
	RampFrames   int64   // Ramp duration, frames
	Curve        RampCurve
	ApplyAtFrame int64
	Seq          uint64 // enqueue order, used as the FIFO tiebreak on ties
}

// ParamRing is the bounded single-producer single-consumer queue from
// the control thread to the audio thread: one per graph, not per node.
// Capacity must be a power of two.
type ParamRing struct {
	buf  []ParamChange
	mask uint64
	head atomic.Uint64 // producer-owned
	tail atomic.Uint64 // consumer-owned
	seq  atomic.Uint64
}

// NewParamRing allocates a ring of at least the requested capacity,
// rounded up to the next power of two.
func NewParamRing(capacity int) *ParamRing {
	n := 1
	for n < capacity {
		n <<= 1
	}
	if n < 1 {
		n = 1
	}
	return &ParamRing{buf: make([]ParamChange, n), mask: uint64(n - 1)}
}

// nextSeq hands out a monotonically increasing enqueue sequence number,
// used to break ties between changes to the same parameter that share an
// ApplyAtFrame.
func (r *ParamRing) nextSeq() uint64 { return r.seq.Add(1) }

// TryEnqueue appends a change without blocking. It fails with ErrRingFull
// if the ring is saturated; the caller (control thread) retries or drops
// per its own policy.
func (r *ParamRing) TryEnqueue(c ParamChange) error {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= uint64(len(r.buf)) {
		return ErrRingFull
	}
	c.Seq = r.nextSeq()
	r.buf[head&r.mask] = c
	r.head.Store(head + 1)
	return nil
}

// Drain appends every change due within [frame, frame+blockLen) to dst,
// in ring (FIFO) order, resolving FrameImmediate to frame. It stops at
// the first not-yet-due entry, leaving it (and everything behind it) in
// the ring for a later block: draining never reorders across the
// window boundary and is O(k) in the number of changes it removes.
func (r *ParamRing) Drain(dst []ParamChange, frame int64, blockLen int) []ParamChange {
	windowEnd := frame + int64(blockLen)
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail == head {
			return dst
		}
		c := r.buf[tail&r.mask]
		abs := c.ApplyAtFrame
		if abs == FrameImmediate {
			abs = frame
		}
		if abs >= windowEnd {
			return dst
		}
		if abs < frame {
			abs = frame
		}
		c.ApplyAtFrame = abs
		dst = append(dst, c)
		r.tail.Store(tail + 1)
	}
}
