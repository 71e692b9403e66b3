package knaster

import (
	"sync/atomic"
)

// Runner is the audio-thread execution engine. It processes audio one
// block at a time without allocation, locking, or blocking once its
// scratch buffers have settled at a plan's widths; it never calls into
// the control thread and never waits on it.
type Runner struct {
	cfg EngineConfig

	ring      *ParamRing
	reverse   *reverseRing
	anomalies *anomalyRing

	published *atomic.Pointer[publishedPlan]
	active    *publishedPlan

	adoptedEpoch atomic.Uint64
	frame        int64

	splitScratch []int
	drainScratch []ParamChange

	// Reused across tasks/sub-blocks so the hot path never allocates a
	// slice. Sized to the widest task's channel count by growScratch,
	// which only runs at construction and at plan-swap time.
	inBlockScratch  []Block
	outBlockScratch []Block
	inFrameScratch  []float64
	outFrameScratch []float64

	// Context values handed to Processor calls, reused so the hot path
	// never heap-allocates one per call.
	blockCtx BlockCtx
	frameCtx FrameCtx
	paramCtx ParamCtx
}

// AdoptedEpoch reports the epoch of the plan this runner has most
// recently swapped to.
func (r *Runner) AdoptedEpoch() uint64 { return r.adoptedEpoch.Load() }

// Frame reports the runner's current absolute frame counter.
func (r *Runner) Frame() int64 { return r.frame }

// adoptPlan loads the latest published plan and, if it is newer than the
// active one, swaps to it. Every feedback-persistent buffer's last-block
// contents are copied from the old plan into the new plan's
// corresponding slot, keyed by (node, channel) identity, before the swap
// is considered complete: this is what lets a feedback consumer read the
// producer's prior-block output with no gap across a hot-swap.
func (r *Runner) adoptPlan() {
	next := r.published.Load()
	if next == r.active {
		return
	}
	if r.active != nil {
		for _, fb := range next.buffers.Feedback {
			oldSlot, ok := r.active.buffers.slotOf[bufferKey{fb.Node, fb.Ch}]
			if !ok {
				continue
			}
			src := r.active.buffers.Arena.Full(oldSlot)
			dst := next.buffers.Arena.Full(fb.Slot)
			copy(dst, src)
		}
	}
	r.active = next
	r.adoptedEpoch.Store(next.epoch)
	r.growScratch()
}

// growScratch resizes the runner's reusable input/output slice scratch
// so it never needs to allocate inside executeSubBlock. This only grows
// at construction and at plan-swap time, not on the per-block hot path.
func (r *Runner) growScratch() {
	maxWidth := 2
	for _, t := range r.active.tasks.Tasks {
		if n := len(t.Inputs); n > maxWidth {
			maxWidth = n
		}
		if n := len(t.Outputs); n > maxWidth {
			maxWidth = n
		}
	}
	if cap(r.inBlockScratch) < maxWidth {
		r.inBlockScratch = make([]Block, maxWidth)
	}
	if cap(r.outBlockScratch) < maxWidth {
		r.outBlockScratch = make([]Block, maxWidth)
	}
	if cap(r.inFrameScratch) < maxWidth {
		r.inFrameScratch = make([]float64, maxWidth)
	}
	if cap(r.outFrameScratch) < maxWidth {
		r.outFrameScratch = make([]float64, maxWidth)
	}
}

// Process renders frames of audio into outputs, one planar slice per
// graph-output channel (each must have length >= frames). It accepts
// any frames and internally iterates in chunks of at most
// cfg.BlockSizeCap, copying each chunk out as it completes. External
// input reaches the graph through ordinary Processor nodes
// (ExternalInput in examplenodes.go is one) rather than through this
// call, since the scheduler has no notion of a graph-input buffer
// distinct from any other node's output.
func (r *Runner) Process(outputs [][]float64, frames int) {
	written := 0
	for written < frames {
		chunk := frames - written
		if chunk > r.cfg.BlockSizeCap {
			chunk = r.cfg.BlockSizeCap
		}
		r.processOneBlock(chunk)
		r.copyGraphOutputs(outputs, written, chunk)
		written += chunk
	}
}

func (r *Runner) copyGraphOutputs(outputs [][]float64, written, chunk int) {
	arena := r.active.buffers.Arena
	for ch := range outputs {
		slot := SilenceSlot
		if ch < len(r.active.tasks.GraphOutputs) {
			slot = r.active.tasks.GraphOutputs[ch]
		}
		copy(outputs[ch][written:written+chunk], arena.Sub(slot, 0, chunk))
	}
}

func (r *Runner) processOneBlock(blockLen int) {
	r.adoptPlan()

	r.drainScratch = r.ring.Drain(r.drainScratch[:0], r.frame, blockLen)
	sortChanges(r.drainScratch)

	r.splitScratch = computeSplitPoints(r.drainScratch, r.frame, blockLen, r.splitScratch)

	lo := 0
	changeIdx := 0
	boundaries := append(r.splitScratch, blockLen)
	for _, hi := range boundaries {
		for changeIdx < len(r.drainScratch) && int(r.drainScratch[changeIdx].ApplyAtFrame-r.frame) == lo {
			r.applyChange(r.drainScratch[changeIdx])
			changeIdx++
		}
		r.executeSubBlock(lo, hi)
		lo = hi
	}

	r.frame += int64(blockLen)
}

// sortChanges orders drained changes by (ApplyAtFrame, Seq). Insertion
// sort, not sort.Slice: the reflection path allocates, this never does,
// and the per-block change count is small.
func sortChanges(cs []ParamChange) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0; j-- {
			a, b := &cs[j-1], &cs[j]
			if a.ApplyAtFrame < b.ApplyAtFrame || (a.ApplyAtFrame == b.ApplyAtFrame && a.Seq < b.Seq) {
				break
			}
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

func dedupeSortedInts(xs []int) []int {
	if len(xs) < 2 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// applyChange mutates the target node's parameter runtime state. A
// change whose target node has since been removed is silently dropped;
// the anomaly ring is the only trace it leaves.
func (r *Runner) applyChange(c ParamChange) {
	node := r.lookupActiveNode(c.Node)
	if node == nil {
		r.anomalies.push("node_gone", int64(c.Node.Index))
		return
	}
	if c.Param < 0 || c.Param >= len(node.params) {
		r.anomalies.push("param_unknown", int64(c.Param))
		return
	}
	p := &node.params[c.Param]
	switch c.Kind {
	case ChangeSet, ChangeTrigger:
		p.applySet(c.Value)
	case ChangeRamp:
		p.applyRamp(c.ApplyAtFrame, c.Value, c.RampFrames, c.Curve)
	}
}

// lookupActiveNode finds a node by id among the active plan's tasks.
// This is a linear scan, which is fine for the teardown/no-op path
// (NodeGone) it mostly serves; the hot path (executeSubBlock) never
// calls it, since every Task already carries its own *Node.
func (r *Runner) lookupActiveNode(id NodeID) *Node {
	for i := range r.active.tasks.Tasks {
		if r.active.tasks.Tasks[i].Node == id {
			return r.active.tasks.Tasks[i].node
		}
	}
	return nil
}

func (r *Runner) executeSubBlock(lo, hi int) {
	arena := r.active.buffers.Arena
	for i := range r.active.tasks.Tasks {
		task := &r.active.tasks.Tasks[i]
		node := task.node

		if task.NeedsSampleByFrame || node.hasActiveRamp(r.frame+int64(lo)) {
			r.executeSampleByFrame(task, node, arena, lo, hi)
		} else {
			r.executeBlock(task, node, arena, lo, hi)
		}

		if node.selfFree.Load() {
			for _, slot := range task.Outputs {
				arena.ZeroSlot(slot, lo, hi)
			}
			if !node.reported.Load() {
				// reported only flips once the token is actually queued: if the
				// reverse ring is full the node must retry next block, not be
				// silently forgotten.
				if r.reverse.push(RemovalToken{Node: node.id, Frame: r.frame + int64(lo)}) {
					node.reported.Store(true)
				} else {
					r.anomalies.push("reverse_ring_full", int64(node.id.Index))
				}
			}
		}
	}
}

func (r *Runner) executeBlock(task *Task, node *Node, arena *BufferArena, lo, hi int) {
	at := r.frame + int64(lo)
	r.paramCtx.Frame = at
	for pi := range node.params {
		val := node.params[pi].Evaluate(at)
		node.proc.SetParam(pi, val, &r.paramCtx)
	}

	in := r.inBlockScratch[:len(task.Inputs)]
	for c, slot := range task.Inputs {
		in[c] = arena.Sub(slot, lo, hi)
	}
	out := r.outBlockScratch[:len(task.Outputs)]
	for c, slot := range task.Outputs {
		out[c] = arena.Sub(slot, lo, hi)
	}
	r.blockCtx = BlockCtx{SampleRate: r.cfg.SampleRate, Frame: at, Len: hi - lo, SelfFree: node.selfFreeFn}
	node.proc.Process(&r.blockCtx, in, out)
}

// audioRateSlot returns the buffer slot bound to param index pi on this
// task, or (0, false) if pi is an ordinary scalar parameter. Task's
// AudioRateParams list is small (typically 0 or 1 entries), so a linear
// scan beats building a lookup map on every sub-block.
func (task *Task) audioRateSlot(pi int) (int, bool) {
	for _, arp := range task.AudioRateParams {
		if arp.paramIndex == pi {
			return arp.sourceSlot, true
		}
	}
	return 0, false
}

func (r *Runner) executeSampleByFrame(task *Task, node *Node, arena *BufferArena, lo, hi int) {
	in := r.inFrameScratch[:len(task.Inputs)]
	out := r.outFrameScratch[:len(task.Outputs)]

	r.frameCtx.SampleRate = r.cfg.SampleRate
	r.frameCtx.SelfFree = node.selfFreeFn
	for frame := lo; frame < hi; frame++ {
		at := r.frame + int64(frame)
		r.paramCtx.Frame = at
		for pi := range node.params {
			var val float64
			if slot, bound := task.audioRateSlot(pi); bound {
				val = arena.Full(slot)[frame]
				node.params[pi].current = val
			} else {
				val = node.params[pi].Evaluate(at)
			}
			node.proc.SetParam(pi, val, &r.paramCtx)
		}

		for c, slot := range task.Inputs {
			in[c] = arena.Full(slot)[frame]
		}
		r.frameCtx.Frame = at
		node.proc.ProcessFrame(&r.frameCtx, in, out)
		for c, slot := range task.Outputs {
			arena.Full(slot)[frame] = out[c]
		}
	}
}
