package knaster

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// chainScratch is one chain's private reusable input/output views, so
// concurrent chains never share a slice header and race on it the way
// Runner's single scratch set would.
type chainScratch struct {
	inBlock, outBlock []Block
	inFrame, outFrame []float64

	blockCtx BlockCtx
	frameCtx FrameCtx
	paramCtx ParamCtx
}

// ParallelRunner is the opt-in, multi-goroutine counterpart to Runner.
// It fans the active plan's independent chains out across goroutines
// with golang.org/x/sync/errgroup; chains never share a buffer slot
// (TaskList.Chains is built that way at Compile time), so no
// synchronization is needed within a sub-block beyond the fan-out
// itself. The single-threaded Runner remains the default and the one
// every property in this module's test suite is verified against.
type ParallelRunner struct {
	*Runner
	scratch []chainScratch

	// reverseMu serializes reverse-ring and anomaly-ring pushes across
	// chains: both rings are built single-producer/single-consumer, and
	// with more than one chain running concurrently this runner is the
	// only thing that still makes them behave that way.
	reverseMu sync.Mutex
}

// NewParallelRunner builds a ParallelRunner bound to the same rings and
// plan a plain Runner would use. Callers should only build one when
// cfg.Workers > 1; with Workers <= 1 it still works correctly but adds
// goroutine fan-out overhead a single-threaded Runner would not pay.
func (g *Graph) NewParallelRunner() *ParallelRunner {
	return &ParallelRunner{Runner: g.NewRunner()}
}

// Process mirrors Runner.Process's chunking and output-copy contract,
// substituting chain-parallel sub-block execution for the sequential
// task walk.
func (pr *ParallelRunner) Process(outputs [][]float64, frames int) {
	written := 0
	for written < frames {
		chunk := frames - written
		if chunk > pr.cfg.BlockSizeCap {
			chunk = pr.cfg.BlockSizeCap
		}
		pr.processOneBlockParallel(chunk)
		pr.copyGraphOutputs(outputs, written, chunk)
		written += chunk
	}
}

func (pr *ParallelRunner) processOneBlockParallel(blockLen int) {
	pr.adoptPlan()
	pr.growChainScratch()

	pr.drainScratch = pr.ring.Drain(pr.drainScratch[:0], pr.frame, blockLen)
	sortChanges(pr.drainScratch)
	pr.splitScratch = computeSplitPoints(pr.drainScratch, pr.frame, blockLen, pr.splitScratch)

	lo := 0
	changeIdx := 0
	boundaries := append(pr.splitScratch, blockLen)
	for _, hi := range boundaries {
		for changeIdx < len(pr.drainScratch) && int(pr.drainScratch[changeIdx].ApplyAtFrame-pr.frame) == lo {
			pr.applyChange(pr.drainScratch[changeIdx])
			changeIdx++
		}
		pr.executeSubBlockChains(lo, hi)
		lo = hi
	}

	pr.frame += int64(blockLen)
}

// growChainScratch sizes one chainScratch per chain in the active plan,
// wide enough for that chain's widest task. It runs once per block
// (cheap: a handful of integer comparisons over a typically small task
// count) rather than only at plan-swap time like Runner.growScratch,
// since executeSubBlockChains allocates a new errgroup.Group for every
// sub-block anyway: this path already accepts per-block allocation as
// the cost of going parallel at all, unlike the default Runner's strict
// no-allocation guarantee.
func (pr *ParallelRunner) growChainScratch() {
	chains := pr.active.tasks.Chains
	if len(pr.scratch) < len(chains) {
		pr.scratch = make([]chainScratch, len(chains))
	}
	for ci, chain := range chains {
		maxWidth := 2
		for _, ti := range chain {
			t := &pr.active.tasks.Tasks[ti]
			if n := len(t.Inputs); n > maxWidth {
				maxWidth = n
			}
			if n := len(t.Outputs); n > maxWidth {
				maxWidth = n
			}
		}
		cs := &pr.scratch[ci]
		if cap(cs.inBlock) < maxWidth {
			cs.inBlock = make([]Block, maxWidth)
		}
		if cap(cs.outBlock) < maxWidth {
			cs.outBlock = make([]Block, maxWidth)
		}
		if cap(cs.inFrame) < maxWidth {
			cs.inFrame = make([]float64, maxWidth)
		}
		if cap(cs.outFrame) < maxWidth {
			cs.outFrame = make([]float64, maxWidth)
		}
	}
}

// executeSubBlockChains runs every chain's [lo,hi) slice of tasks, each
// chain in its own goroutine, and waits for all of them before
// returning. Within a chain, tasks still execute in the same order the
// single-threaded Runner would use.
func (pr *ParallelRunner) executeSubBlockChains(lo, hi int) {
	arena := pr.active.buffers.Arena
	chains := pr.active.tasks.Chains

	g, _ := errgroup.WithContext(context.Background())
	if pr.cfg.Workers > 0 {
		g.SetLimit(pr.cfg.Workers)
	}
	for ci, chain := range chains {
		ci, chain := ci, chain
		g.Go(func() error {
			cs := &pr.scratch[ci]
			for _, ti := range chain {
				task := &pr.active.tasks.Tasks[ti]
				node := task.node
				if task.NeedsSampleByFrame || node.hasActiveRamp(pr.frame+int64(lo)) {
					pr.executeSampleByFrameScratch(task, node, arena, lo, hi, cs)
				} else {
					pr.executeBlockScratch(task, node, arena, lo, hi, cs)
				}
				if node.selfFree.Load() {
					for _, slot := range task.Outputs {
						arena.ZeroSlot(slot, lo, hi)
					}
					if !node.reported.Load() {
						pr.reverseMu.Lock()
						if pr.reverse.push(RemovalToken{Node: node.id, Frame: pr.frame + int64(lo)}) {
							node.reported.Store(true)
						} else {
							pr.anomalies.push("reverse_ring_full", int64(node.id.Index))
						}
						pr.reverseMu.Unlock()
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (pr *ParallelRunner) executeBlockScratch(task *Task, node *Node, arena *BufferArena, lo, hi int, cs *chainScratch) {
	at := pr.frame + int64(lo)
	cs.paramCtx.Frame = at
	for pi := range node.params {
		val := node.params[pi].Evaluate(at)
		node.proc.SetParam(pi, val, &cs.paramCtx)
	}

	in := cs.inBlock[:len(task.Inputs)]
	for c, slot := range task.Inputs {
		in[c] = arena.Sub(slot, lo, hi)
	}
	out := cs.outBlock[:len(task.Outputs)]
	for c, slot := range task.Outputs {
		out[c] = arena.Sub(slot, lo, hi)
	}
	cs.blockCtx = BlockCtx{SampleRate: pr.cfg.SampleRate, Frame: at, Len: hi - lo, SelfFree: node.selfFreeFn}
	node.proc.Process(&cs.blockCtx, in, out)
}

func (pr *ParallelRunner) executeSampleByFrameScratch(task *Task, node *Node, arena *BufferArena, lo, hi int, cs *chainScratch) {
	in := cs.inFrame[:len(task.Inputs)]
	out := cs.outFrame[:len(task.Outputs)]

	cs.frameCtx.SampleRate = pr.cfg.SampleRate
	cs.frameCtx.SelfFree = node.selfFreeFn
	for frame := lo; frame < hi; frame++ {
		at := pr.frame + int64(frame)
		cs.paramCtx.Frame = at
		for pi := range node.params {
			var val float64
			if slot, bound := task.audioRateSlot(pi); bound {
				val = arena.Full(slot)[frame]
				node.params[pi].current = val
			} else {
				val = node.params[pi].Evaluate(at)
			}
			node.proc.SetParam(pi, val, &cs.paramCtx)
		}

		for c, slot := range task.Inputs {
			in[c] = arena.Full(slot)[frame]
		}
		cs.frameCtx.Frame = at
		node.proc.ProcessFrame(&cs.frameCtx, in, out)
		for c, slot := range task.Outputs {
			arena.Full(slot)[frame] = out[c]
		}
	}
}
