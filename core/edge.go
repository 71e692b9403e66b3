package knaster

// Edge is an ordered connection between a producer's output channel and
// either a destination node's input channel or a graph-output channel.
// Feedback edges are excluded from topological ordering; a consumer of a
// feedback edge reads the producer's previous-block output.
type Edge struct {
	SrcNode    NodeID
	SrcChannel int
	DstNode    NodeID // zero value when this edge targets a graph output
	DstChannel int
	ToOutput   bool
	Feedback   bool
}

// edgeKey identifies a connection's destination slot: at most one
// connected edge per (destination, destination-channel).
type edgeKey struct {
	dstNode NodeID
	dstCh   int
}

// paramKey identifies one parameter slot on one node, the unit an
// audio-rate source binding attaches to.
type paramKey struct {
	node  NodeID
	param int
}

// outputKey identifies a graph-output destination slot, kept separate
// from edgeKey because graph outputs are not rows in the node table.
type outputKey struct {
	ch int
}
