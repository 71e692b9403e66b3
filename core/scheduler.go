package knaster

import (
	"container/heap"
	"fmt"
	"sort"
)

// nodeHeap is a min-heap of ready node indices, so Kahn's algorithm
// always drains the lowest-numbered ready node first and the emitted
// order is deterministic for a given topology.
type nodeHeap []uint32

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(uint32)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// successorEdges returns, for every alive node, its outgoing non-feedback
// node-to-node edges plus every active audio-rate parameter binding
// rooted at it, along with each node's resulting in-degree: the full set
// of ordering dependencies the scheduler must respect. Graph-output
// edges impose no ordering and are not included.
func successorEdges(t *Topology) (adjacency map[NodeID][]NodeID, indegree map[NodeID]int) {
	adjacency = make(map[NodeID][]NodeID)
	indegree = make(map[NodeID]int)
	for _, id := range t.aliveNodeIDs() {
		indegree[id] = 0
	}
	for _, e := range t.edges {
		if e.Feedback {
			continue
		}
		adjacency[e.SrcNode] = append(adjacency[e.SrcNode], e.DstNode)
		indegree[e.DstNode]++
	}
	for k, b := range t.bindings {
		adjacency[b.SrcNode] = append(adjacency[b.SrcNode], k.node)
		indegree[k.node]++
	}
	return adjacency, indegree
}

// topoSort produces a deterministic topological order over non-feedback
// edges: ties are broken by ascending node index.
func topoSort(t *Topology) ([]NodeID, error) {
	adjacency, indegree := successorEdges(t)
	ids := t.aliveNodeIDs()
	byIndex := make(map[uint32]NodeID, len(ids))
	for _, id := range ids {
		byIndex[id.Index] = id
	}

	h := &nodeHeap{}
	for id, deg := range indegree {
		if deg == 0 {
			heap.Push(h, id.Index)
		}
	}

	order := make([]NodeID, 0, len(ids))
	for h.Len() > 0 {
		idx := heap.Pop(h).(uint32)
		id := byIndex[idx]
		order = append(order, id)
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(h, next.Index)
			}
		}
	}

	if len(order) != len(ids) {
		return nil, findRemainingCycleEdge(t, indegree)
	}
	return order, nil
}

// findRemainingCycleEdge names one offending edge among the nodes Kahn's
// algorithm could not retire, for a useful EditRejected error.
func findRemainingCycleEdge(t *Topology, indegree map[NodeID]int) error {
	for _, e := range t.edges {
		if e.Feedback {
			continue
		}
		if indegree[e.DstNode] > 0 && indegree[e.SrcNode] > 0 {
			srcName, dstName := "", ""
			if n, ok := t.lookup(e.SrcNode); ok {
				srcName = n.debugName
			}
			if n, ok := t.lookup(e.DstNode); ok {
				dstName = n.debugName
			}
			return &RejectedEdit{Cause: ErrCycleDetected, SrcName: srcName, DstName: dstName, SrcChannel: e.SrcChannel, DstChannel: e.DstChannel}
		}
	}
	return fmt.Errorf("%w: %w", ErrEditRejected, ErrCycleDetected)
}

// releasedSlot pairs a buffer key with the slot it is giving back, so
// release can order frees deterministically.
type releasedSlot struct {
	key  bufferKey
	slot int
}

// consumerRange tracks the schedule position of a buffer's first writer
// and last reader.
type consumerRange struct {
	first, last int
	feedback    bool
}

// liveRanges computes, for every (producer node, output channel), the
// position of its producing task and the position of its last consuming
// task; graph-output sinks are consumers at position len(order).
func liveRanges(t *Topology, order []NodeID) map[bufferKey]*consumerRange {
	pos := make(map[NodeID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	ranges := make(map[bufferKey]*consumerRange)

	ensure := func(k bufferKey) *consumerRange {
		r, ok := ranges[k]
		if !ok {
			r = &consumerRange{first: pos[k.node], last: pos[k.node]}
			ranges[k] = r
		}
		return r
	}
	markFeedback := func(k bufferKey) { ensure(k).feedback = true }
	consume := func(k bufferKey, at int) {
		r := ensure(k)
		if at > r.last {
			r.last = at
		}
	}

	// Every alive node's output channels get a range entry up front, even
	// ones no edge, output, or param binding ever reads: a source left
	// unconsumed is still a live write this schedule position, and must
	// land in a real slot rather than falling through to SilenceSlot.
	for _, s := range t.slots {
		if !s.alive {
			continue
		}
		for c := 0; c < s.node.proc.Nout(); c++ {
			ensure(bufferKey{s.node.id, c})
		}
	}

	sinkPos := len(order)
	for _, e := range t.edges {
		k := bufferKey{e.SrcNode, e.SrcChannel}
		if e.Feedback {
			markFeedback(k)
			continue
		}
		consume(k, pos[e.DstNode])
	}
	for _, e := range t.outputEdges {
		k := bufferKey{e.SrcNode, e.SrcChannel}
		if e.Feedback {
			markFeedback(k)
			continue
		}
		consume(k, sinkPos)
	}
	for k, b := range t.bindings {
		consume(bufferKey{b.SrcNode, b.SrcChannel}, pos[k.node])
	}
	return ranges
}

// assignBuffers greedily colors buffer slots: a free list is drained for
// reuse whenever a buffer's last consumer position is behind the current
// schedule position; feedback-bound channels are pinned for the whole
// plan. comp, if non-nil, scopes slot reuse to within a single component
// (ParallelRunner's chains): a slot freed by one component is never
// handed to a task in a different one, so concurrent chains never alias
// a buffer.
func assignBuffers(order []NodeID, ranges map[bufferKey]*consumerRange, maxBuffers int, comp map[NodeID]int) (*BufferPlan, error) {
	slotOf := make(map[bufferKey]int)
	freeListByComp := make(map[int][]int)
	nextSlot := 1 // slot 0 reserved for silence
	var feedback []FeedbackSlot

	compOf := func(id NodeID) int {
		if comp == nil {
			return 0
		}
		return comp[id]
	}

	// A slot is released only once its last consumer has strictly passed
	// (at-1, not at): releasing exactly at the last-read position would
	// let this same node's own output alias a slot it is still reading
	// from as an input in this same task. Freed slots are gathered and
	// sorted before hitting the free list, so assignment never depends on
	// map iteration order and recompiling an unchanged topology yields an
	// identical plan.
	var freed []releasedSlot
	released := make(map[bufferKey]bool)
	release := func(at int) {
		freed = freed[:0]
		for k, r := range ranges {
			if r.feedback || released[k] {
				continue
			}
			if r.last <= at-1 {
				if s, ok := slotOf[k]; ok {
					freed = append(freed, releasedSlot{key: k, slot: s})
					released[k] = true
				}
			}
		}
		sort.Slice(freed, func(i, j int) bool { return freed[i].slot < freed[j].slot })
		for _, f := range freed {
			c := compOf(f.key.node)
			freeListByComp[c] = append(freeListByComp[c], f.slot)
		}
	}

	var chans []int
	for i, id := range order {
		if i > 0 {
			release(i)
		}
		c := compOf(id)
		chans = chans[:0]
		for k, r := range ranges {
			if k.node != id || r.first != i {
				continue
			}
			chans = append(chans, k.ch)
		}
		sort.Ints(chans)
		for _, ch := range chans {
			k := bufferKey{id, ch}
			r := ranges[k]
			var slot int
			if r.feedback {
				slot = nextSlot
				nextSlot++
				feedback = append(feedback, FeedbackSlot{Node: k.node, Ch: k.ch, Slot: slot})
			} else if n := len(freeListByComp[c]); n > 0 {
				slot = freeListByComp[c][n-1]
				freeListByComp[c] = freeListByComp[c][:n-1]
			} else {
				slot = nextSlot
				nextSlot++
			}
			slotOf[k] = slot
			if maxBuffers > 0 && nextSlot > maxBuffers {
				return nil, fmt.Errorf("%w: %w: %d buffer slots exceeds cap %d", ErrEditRejected, ErrCapacityExceeded, nextSlot, maxBuffers)
			}
		}
	}

	return &BufferPlan{slotOf: slotOf, Feedback: feedback, numSlots: nextSlot}, nil
}

// componentsOf groups every alive node into a weakly-connected component
// over non-feedback edges, feedback edges, and parameter bindings alike:
// any of the three makes two nodes share buffer or ordering state, so
// ParallelRunner must never run them in different goroutines without
// synchronization between them.
func componentsOf(t *Topology) map[NodeID]int {
	parent := make(map[NodeID]int)
	ids := t.aliveNodeIDs()
	idx := make(map[NodeID]int, len(ids))
	for i, id := range ids {
		idx[id] = i
		parent[id] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[ids[x]] != x {
			parent[ids[x]] = parent[ids[parent[ids[x]]]]
			x = parent[ids[x]]
		}
		return x
	}
	union := func(a, b NodeID) {
		ia, ib := idx[a], idx[b]
		ra, rb := find(ia), find(ib)
		if ra != rb {
			parent[ids[ra]] = rb
		}
	}
	for _, e := range t.edges {
		union(e.SrcNode, e.DstNode)
	}
	for k, b := range t.bindings {
		union(b.SrcNode, k.node)
	}
	comp := make(map[NodeID]int, len(ids))
	for _, id := range ids {
		comp[id] = find(idx[id])
	}
	return comp
}

// buildChains groups order's positions by component, preserving the
// relative order within each chain; chains themselves are emitted in
// order of each component's first appearance, so Chains[0] always starts
// at position 0.
func buildChains(order []NodeID, comp map[NodeID]int) [][]int {
	chainOf := make(map[int]int)
	var chains [][]int
	for i, id := range order {
		c := comp[id]
		ci, ok := chainOf[c]
		if !ok {
			ci = len(chains)
			chainOf[c] = ci
			chains = append(chains, nil)
		}
		chains[ci] = append(chains[ci], i)
	}
	return chains
}

// validateChannels re-checks every edge's channel indices against its
// endpoints' declared widths. Connect already rejects these, but the
// scheduler revalidates the whole snapshot so a commit can never publish
// a plan whose tasks index past a node's channels.
func validateChannels(t *Topology) error {
	badEdge := func(e Edge) error {
		srcName, dstName := "", ""
		if n, ok := t.lookup(e.SrcNode); ok {
			srcName = n.debugName
		}
		if n, ok := t.lookup(e.DstNode); ok {
			dstName = n.debugName
		}
		return &RejectedEdit{Cause: ErrChannelCountMismatch, SrcName: srcName, DstName: dstName, SrcChannel: e.SrcChannel, DstChannel: e.DstChannel}
	}
	for _, e := range t.edges {
		src, ok := t.lookup(e.SrcNode)
		if !ok {
			return fmt.Errorf("%w: %w: edge source", ErrEditRejected, ErrUnknownNode)
		}
		dst, ok := t.lookup(e.DstNode)
		if !ok {
			return fmt.Errorf("%w: %w: edge destination", ErrEditRejected, ErrUnknownNode)
		}
		if e.SrcChannel < 0 || e.SrcChannel >= src.proc.Nout() || e.DstChannel < 0 || e.DstChannel >= dst.proc.Nin() {
			return badEdge(e)
		}
	}
	for _, e := range t.outputEdges {
		src, ok := t.lookup(e.SrcNode)
		if !ok {
			return fmt.Errorf("%w: %w: output edge source", ErrEditRejected, ErrUnknownNode)
		}
		if e.SrcChannel < 0 || e.SrcChannel >= src.proc.Nout() || e.DstChannel < 0 || e.DstChannel >= t.numOutputs {
			return badEdge(e)
		}
	}
	return nil
}

// Compile converts a validated topology snapshot into an immutable
// TaskList and BufferPlan. It never mutates topo and never touches a
// previously published plan.
func Compile(topo *Topology, cfg EngineConfig) (*TaskList, *BufferPlan, error) {
	if err := validateChannels(topo); err != nil {
		return nil, nil, err
	}
	order, err := topoSort(topo)
	if err != nil {
		return nil, nil, err
	}
	ranges := liveRanges(topo, order)
	comp := componentsOf(topo)
	plan, err := assignBuffers(order, ranges, cfg.MaxBuffers, comp)
	if err != nil {
		return nil, nil, err
	}
	plan.Arena = NewBufferArena(plan.numSlots, cfg.BlockSizeCap)

	tasks := make([]Task, 0, len(order))
	for _, id := range order {
		node, ok := topo.lookup(id)
		if !ok {
			continue
		}
		nin, nout := node.proc.Nin(), node.proc.Nout()
		inputs := make([]int, nin)
		for c := 0; c < nin; c++ {
			inputs[c] = SilenceSlot
			if e, ok := topo.edges[edgeKey{dstNode: id, dstCh: c}]; ok {
				inputs[c] = plan.SlotFor(e.SrcNode, e.SrcChannel)
			}
		}
		outputs := make([]int, nout)
		for c := 0; c < nout; c++ {
			outputs[c] = plan.SlotFor(id, c)
		}

		var audioRate []audioRateParam
		for pi := range node.params {
			if b, ok := topo.bindings[paramKey{node: id, param: pi}]; ok {
				audioRate = append(audioRate, audioRateParam{
					paramIndex: pi,
					sourceSlot: plan.SlotFor(b.SrcNode, b.SrcChannel),
				})
			}
		}
		needsSBF := len(audioRate) > 0

		tasks = append(tasks, Task{
			Node:               id,
			Proc:               node.proc,
			Inputs:             inputs,
			Outputs:            outputs,
			NeedsSampleByFrame: needsSBF,
			AudioRateParams:    audioRate,
			node:               node,
		})
	}

	outputs := make([]int, topo.numOutputs)
	for c := range outputs {
		outputs[c] = SilenceSlot
		if e, ok := topo.outputEdges[outputKey{ch: c}]; ok && !e.Feedback {
			outputs[c] = plan.SlotFor(e.SrcNode, e.SrcChannel)
		}
	}

	return &TaskList{Tasks: tasks, GraphOutputs: outputs, Chains: buildChains(order, comp)}, plan, nil
}
