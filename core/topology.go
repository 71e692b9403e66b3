package knaster

import "fmt"

type nodeSlot struct {
	generation uint32
	alive      bool
	node       *Node
}

// Topology owns the mutable graph state between edits: nodes, edges,
// parameter wiring, and nested sub-graphs. Its invariants are enforced
// incrementally by Connect/BindParamSource and exhaustively by the
// scheduler at commit time.
type Topology struct {
	sampleRate  float64
	numInputs   int
	numOutputs  int
	slots       []nodeSlot
	freeList    []uint32
	edges       map[edgeKey]Edge
	outputEdges map[outputKey]Edge
	bindings    map[paramKey]ParamBinding
	subgraphs   []*Topology
}

// NewTopology creates an empty topology for a graph with the given
// sample rate and input/output channel counts. Sample rate is fixed for
// the topology's lifetime.
func NewTopology(sampleRate float64, numInputs, numOutputs int) *Topology {
	return &Topology{
		sampleRate:  sampleRate,
		numInputs:   numInputs,
		numOutputs:  numOutputs,
		edges:       make(map[edgeKey]Edge),
		outputEdges: make(map[outputKey]Edge),
		bindings:    make(map[paramKey]ParamBinding),
	}
}

// clone makes a cheap copy-on-write snapshot used by EditScope: slices
// and maps are copied shallowly. Node pointers are shared; everything
// structural (edges, bindings, the slot table itself) is forked, so a
// rejected edit never leaves a trace on the committed topology.
func (t *Topology) clone() *Topology {
	n := &Topology{
		sampleRate:  t.sampleRate,
		numInputs:   t.numInputs,
		numOutputs:  t.numOutputs,
		slots:       append([]nodeSlot(nil), t.slots...),
		freeList:    append([]uint32(nil), t.freeList...),
		edges:       make(map[edgeKey]Edge, len(t.edges)),
		outputEdges: make(map[outputKey]Edge, len(t.outputEdges)),
		bindings:    make(map[paramKey]ParamBinding, len(t.bindings)),
		subgraphs:   append([]*Topology(nil), t.subgraphs...),
	}
	for k, v := range t.edges {
		n.edges[k] = v
	}
	for k, v := range t.outputEdges {
		n.outputEdges[k] = v
	}
	for k, v := range t.bindings {
		n.bindings[k] = v
	}
	return n
}

func (t *Topology) lookup(id NodeID) (*Node, bool) {
	if id.IsZero() || int(id.Index) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[id.Index]
	if !s.alive || s.generation != id.Generation {
		return nil, false
	}
	return s.node, true
}

// AddNode inserts proc into the generational-index table, returning its
// stable identifier, or ErrCapacityExceeded if maxNodes is exhausted.
func (t *Topology) AddNode(proc Processor, debugName string, maxNodes int) (NodeID, error) {
	var idx uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.slots[idx].generation++
	} else {
		if maxNodes > 0 && len(t.slots) >= maxNodes {
			return NodeID{}, fmt.Errorf("%w: %w: node table at capacity %d", ErrEditRejected, ErrCapacityExceeded, maxNodes)
		}
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, nodeSlot{generation: 1})
	}
	id := NodeID{Index: idx, Generation: t.slots[idx].generation}
	t.slots[idx].alive = true
	t.slots[idx].node = newNode(id, proc, debugName)
	return id, nil
}

// Connect wires src's output channel srcCh to dst's input channel
// dstCh, replacing any existing connection on that destination slot.
// feedback edges are excluded from topological ordering and from cycle
// detection.
func (t *Topology) Connect(src NodeID, srcCh int, dst NodeID, dstCh int, feedback bool) error {
	srcNode, ok := t.lookup(src)
	if !ok {
		return fmt.Errorf("%w: %w: source", ErrEditRejected, ErrUnknownNode)
	}
	dstNode, ok := t.lookup(dst)
	if !ok {
		return fmt.Errorf("%w: %w: destination", ErrEditRejected, ErrUnknownNode)
	}
	if srcCh < 0 || srcCh >= srcNode.proc.Nout() {
		return fmt.Errorf("%w: %w: source channel %d", ErrEditRejected, ErrChannelOutOfRange, srcCh)
	}
	if dstCh < 0 || dstCh >= dstNode.proc.Nin() {
		return fmt.Errorf("%w: %w: destination channel %d", ErrEditRejected, ErrChannelOutOfRange, dstCh)
	}
	key := edgeKey{dstNode: dst, dstCh: dstCh}
	t.edges[key] = Edge{SrcNode: src, SrcChannel: srcCh, DstNode: dst, DstChannel: dstCh, Feedback: feedback}
	if !feedback {
		if cyc := t.findCycle(); cyc != nil {
			delete(t.edges, key)
			return &RejectedEdit{Cause: ErrCycleDetected, SrcName: srcNode.debugName, DstName: dstNode.debugName, SrcChannel: srcCh, DstChannel: dstCh}
		}
	}
	return nil
}

// ConnectToOutput wires src's output channel srcCh to graph-output
// channel outCh.
func (t *Topology) ConnectToOutput(src NodeID, srcCh int, outCh int, feedback bool) error {
	srcNode, ok := t.lookup(src)
	if !ok {
		return fmt.Errorf("%w: %w: source", ErrEditRejected, ErrUnknownNode)
	}
	if srcCh < 0 || srcCh >= srcNode.proc.Nout() {
		return fmt.Errorf("%w: %w: source channel %d", ErrEditRejected, ErrChannelOutOfRange, srcCh)
	}
	if outCh < 0 || outCh >= t.numOutputs {
		return fmt.Errorf("%w: %w: output channel %d", ErrEditRejected, ErrChannelOutOfRange, outCh)
	}
	t.outputEdges[outputKey{ch: outCh}] = Edge{SrcNode: src, SrcChannel: srcCh, DstChannel: outCh, ToOutput: true, Feedback: feedback}
	return nil
}

// Disconnect removes the edge feeding (dst, dstCh), if any.
func (t *Topology) Disconnect(dst NodeID, dstCh int) {
	delete(t.edges, edgeKey{dstNode: dst, dstCh: dstCh})
}

// DisconnectOutput removes the edge feeding graph-output channel outCh.
func (t *Topology) DisconnectOutput(outCh int) {
	delete(t.outputEdges, outputKey{ch: outCh})
}

// RemoveNode deletes a node and cascades to every incident edge and
// parameter binding: edges into it, edges out of it, bindings on its own
// parameters, and bindings on other nodes sourced from its outputs.
// Ramps still in flight on the removed node die with it.
func (t *Topology) RemoveNode(id NodeID) error {
	if _, ok := t.lookup(id); !ok {
		return fmt.Errorf("%w: %w: %v", ErrEditRejected, ErrUnknownNode, id)
	}
	for k, e := range t.edges {
		if k.dstNode == id || e.SrcNode == id {
			delete(t.edges, k)
		}
	}
	for k, e := range t.outputEdges {
		if e.SrcNode == id {
			delete(t.outputEdges, k)
		}
	}
	for k, b := range t.bindings {
		if k.node == id || b.SrcNode == id {
			delete(t.bindings, k)
		}
	}
	t.slots[id.Index].alive = false
	t.slots[id.Index].node = nil
	t.freeList = append(t.freeList, id.Index)
	return nil
}

// BindParamSource promotes params[param] on node dst to an audio-rate
// input, sourced from (src, srcCh). The destination node is forced into
// sample-by-sample processing for any block in which this binding is
// active.
func (t *Topology) BindParamSource(dst NodeID, param int, src NodeID, srcCh int) error {
	dstNode, ok := t.lookup(dst)
	if !ok {
		return fmt.Errorf("%w: %w: destination", ErrEditRejected, ErrUnknownNode)
	}
	srcNode, ok := t.lookup(src)
	if !ok {
		return fmt.Errorf("%w: %w: source", ErrEditRejected, ErrUnknownNode)
	}
	if param < 0 || param >= len(dstNode.params) {
		return fmt.Errorf("%w: index %d", ErrParameterUnknown, param)
	}
	if srcCh < 0 || srcCh >= srcNode.proc.Nout() {
		return fmt.Errorf("%w: %w: source channel %d", ErrEditRejected, ErrChannelOutOfRange, srcCh)
	}
	key := paramKey{node: dst, param: param}
	prev, hadPrev := t.bindings[key]
	t.bindings[key] = ParamBinding{SrcNode: src, SrcChannel: srcCh}
	if cyc := t.findCycle(); cyc != nil {
		if hadPrev {
			t.bindings[key] = prev
		} else {
			delete(t.bindings, key)
		}
		return &RejectedEdit{Cause: ErrCycleDetected, SrcName: srcNode.debugName, DstName: dstNode.debugName, SrcChannel: srcCh, DstChannel: param}
	}
	return nil
}

// UnbindParamSource demotes params[param] back to a scalar parameter.
func (t *Topology) UnbindParamSource(dst NodeID, param int) error {
	dstNode, ok := t.lookup(dst)
	if !ok {
		return fmt.Errorf("%w: %w: destination", ErrEditRejected, ErrUnknownNode)
	}
	if param < 0 || param >= len(dstNode.params) {
		return fmt.Errorf("%w: index %d", ErrParameterUnknown, param)
	}
	delete(t.bindings, paramKey{node: dst, param: param})
	return nil
}

// AddSubgraph records a child topology alongside the parent. A
// sub-graph's own nodes are compiled and scheduled
// independently of the parent by a separate Compile call against it; it is
// not spliced into the parent's TaskList. One level of nesting is
// supported.
func (t *Topology) AddSubgraph(sub *Topology) {
	t.subgraphs = append(t.subgraphs, sub)
}

// Subgraphs returns the topology's recorded child topologies, in the
// order they were added.
func (t *Topology) Subgraphs() []*Topology { return t.subgraphs }

// hasPath reports whether a non-feedback path exists from `from` to `to`
// over node-to-node edges and active parameter bindings, for ad hoc
// reachability checks. Full cycle validation is findCycle's own DFS,
// which does not go through hasPath.
func (t *Topology) hasPath(from, to NodeID) bool {
	if from == to {
		return true
	}
	visited := make(map[NodeID]bool)
	stack := []NodeID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, next := range t.nonFeedbackSuccessors(cur) {
			if next == to {
				return true
			}
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

func (t *Topology) nonFeedbackSuccessors(id NodeID) []NodeID {
	var out []NodeID
	for _, e := range t.edges {
		if !e.Feedback && e.SrcNode == id {
			out = append(out, e.DstNode)
		}
	}
	for k, b := range t.bindings {
		if b.SrcNode == id {
			out = append(out, k.node)
		}
	}
	return out
}

// findCycle runs a DFS restricted to non-feedback edges (and active
// parameter bindings) and returns a node on a cycle, or nil if the
// subgraph is a DAG.
func (t *Topology) findCycle() *NodeID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int)
	var visit func(id NodeID) *NodeID
	visit = func(id NodeID) *NodeID {
		color[id] = gray
		for _, next := range t.nonFeedbackSuccessors(id) {
			switch color[next] {
			case gray:
				n := next
				return &n
			case white:
				if found := visit(next); found != nil {
					return found
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, s := range t.slots {
		if !s.alive {
			continue
		}
		id := s.node.id
		if color[id] == white {
			if found := visit(id); found != nil {
				return found
			}
		}
	}
	return nil
}

// aliveNodeIDs returns every currently-live node id, in ascending index
// order.
func (t *Topology) aliveNodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(t.slots))
	for _, s := range t.slots {
		if s.alive {
			ids = append(ids, s.node.id)
		}
	}
	return ids
}
