package knaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Topology_AddNode_ReusesFreedSlotWithNewGeneration(t *testing.T) {
	topo := NewTopology(48000, 0, 1)

	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)

	require.NoError(t, topo.RemoveNode(a))

	b, err := topo.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)

	assert.Equal(t, a.Index, b.Index, "freed slot should be reused")
	assert.NotEqual(t, a.Generation, b.Generation, "reused slot must bump generation")

	_, ok := topo.lookup(a)
	assert.False(t, ok, "stale handle must not alias the reused slot")
}

func Test_Topology_Connect_RejectsDirectCycle(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)
	b, err := topo.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)

	require.NoError(t, topo.Connect(a, 0, b, 0, false))
	err = topo.Connect(b, 0, a, 0, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)

	// the rejected edge must not have been left wired in
	assert.False(t, topo.hasPath(b, a))
}

func Test_Topology_Connect_FeedbackEdgeNeverRejectedAsCycle(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)
	b, err := topo.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)

	require.NoError(t, topo.Connect(a, 0, b, 0, false))
	require.NoError(t, topo.Connect(b, 0, a, 0, true))
}

func Test_Topology_RemoveNode_CascadesEdgesAndBindings(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	src, err := topo.AddNode(NewSine(440), "src", 0)
	require.NoError(t, err)
	dst, err := topo.AddNode(NewGain(1), "dst", 0)
	require.NoError(t, err)

	require.NoError(t, topo.Connect(src, 0, dst, 0, false))
	require.NoError(t, topo.BindParamSource(dst, 0, src, 0))

	require.NoError(t, topo.RemoveNode(src))

	_, hasEdge := topo.edges[edgeKey{dstNode: dst, dstCh: 0}]
	assert.False(t, hasEdge, "edge from a removed node must be cascaded away")

	_, hasBinding := topo.bindings[paramKey{node: dst, param: 0}]
	assert.False(t, hasBinding, "binding sourced from a removed node must be cleared")
}

func Test_Topology_BindParamSource_RejectsCycle(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)
	b, err := topo.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)

	require.NoError(t, topo.Connect(a, 0, b, 0, false))
	err = topo.BindParamSource(a, 0, b, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)

	_, bound := topo.bindings[paramKey{node: a, param: 0}]
	assert.False(t, bound, "rejected binding must not stick")
}

func Test_Topology_AddSubgraph_RecordedAndClonedIndependently(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	sub := NewTopology(48000, 1, 1)
	topo.AddSubgraph(sub)
	require.Len(t, topo.Subgraphs(), 1)
	assert.Same(t, sub, topo.Subgraphs()[0])

	clone := topo.clone()
	require.Len(t, clone.Subgraphs(), 1, "a cloned topology keeps its parent's recorded sub-graphs")

	other := NewTopology(48000, 1, 1)
	clone.AddSubgraph(other)
	assert.Len(t, clone.Subgraphs(), 2, "adding a sub-graph to a clone must not affect the parent")
	assert.Len(t, topo.Subgraphs(), 1)
}

func Test_Topology_Clone_IsIndependentOfParent(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)

	clone := topo.clone()
	b, err := clone.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)

	_, ok := topo.lookup(b)
	assert.False(t, ok, "a node added to a clone must not appear in the parent")

	_, ok = clone.lookup(a)
	assert.True(t, ok, "a node already in the parent must still resolve from the clone")
}

func Test_Topology_ValidationFailuresAreAllEditRejected(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)

	stale := NodeID{Index: 99, Generation: 1}

	err = topo.Connect(stale, 0, a, 0, false)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.ErrorIs(t, err, ErrUnknownNode)

	err = topo.Connect(a, 5, a, 0, false)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.ErrorIs(t, err, ErrChannelOutOfRange)

	err = topo.ConnectToOutput(a, 0, 7, false)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.ErrorIs(t, err, ErrChannelOutOfRange)

	err = topo.RemoveNode(stale)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func Test_Topology_AddNode_AtCapacityIsEditRejected(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	_, err := topo.AddNode(NewGain(1), "a", 1)
	require.NoError(t, err)

	_, err = topo.AddNode(NewGain(1), "b", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}
