package knaster

// NodeSnapshot is a read-only description of one live node, as returned
// by Graph.Snapshot: the introspection a driver or demo command needs to
// report graph state without holding a reference into live control
// structures.
type NodeSnapshot struct {
	ID        NodeID
	DebugName string
	Nin       int
	Nout      int
	Params    []ParamDescriptor
}

// EdgeSnapshot is a read-only description of one connection.
type EdgeSnapshot struct {
	SrcNode    NodeID
	SrcChannel int
	DstNode    NodeID // zero value when ToOutput is set
	DstChannel int
	ToOutput   bool
	Feedback   bool
}

// GraphSnapshot is a point-in-time, immutable copy of a graph's
// structure: every live node and edge, plus the epoch it was compiled
// at. It never aliases the live Topology, so holding one never blocks
// or is invalidated by a later Edit.
type GraphSnapshot struct {
	Epoch      uint64
	Nodes      []NodeSnapshot
	Edges      []EdgeSnapshot
	NumInputs  int
	NumOutputs int
}

// Snapshot copies the graph's current structure for introspection
// (logging, a visualizer driven externally, a debug endpoint). It takes
// the same lock Edit does, so it always reflects a fully-committed
// state, never a partial edit.
func (g *Graph) Snapshot() GraphSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.topo.aliveNodeIDs()
	nodes := make([]NodeSnapshot, 0, len(ids))
	for _, id := range ids {
		n, ok := g.topo.lookup(id)
		if !ok {
			continue
		}
		nodes = append(nodes, NodeSnapshot{
			ID:        id,
			DebugName: n.debugName,
			Nin:       n.proc.Nin(),
			Nout:      n.proc.Nout(),
			Params:    n.proc.Params(),
		})
	}

	edges := make([]EdgeSnapshot, 0, len(g.topo.edges)+len(g.topo.outputEdges))
	for _, e := range g.topo.edges {
		edges = append(edges, EdgeSnapshot{
			SrcNode: e.SrcNode, SrcChannel: e.SrcChannel,
			DstNode: e.DstNode, DstChannel: e.DstChannel,
			Feedback: e.Feedback,
		})
	}
	for _, e := range g.topo.outputEdges {
		edges = append(edges, EdgeSnapshot{
			SrcNode: e.SrcNode, SrcChannel: e.SrcChannel,
			DstChannel: e.DstChannel, ToOutput: true, Feedback: e.Feedback,
		})
	}

	return GraphSnapshot{
		Epoch:      g.published.Load().epoch,
		Nodes:      nodes,
		Edges:      edges,
		NumInputs:  g.topo.numInputs,
		NumOutputs: g.topo.numOutputs,
	}
}
