package knaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func buildLinearChain(t require.TestingT, length int) (*Topology, []NodeID) {
	topo := NewTopology(48000, 0, 1)
	ids := make([]NodeID, length)
	for i := 0; i < length; i++ {
		id, err := topo.AddNode(NewGain(1), "", 0)
		require.NoError(t, err)
		ids[i] = id
		if i > 0 {
			require.NoError(t, topo.Connect(ids[i-1], 0, ids[i], 0, false))
		}
	}
	require.NoError(t, topo.ConnectToOutput(ids[length-1], 0, 0, false))
	return topo, ids
}

func Test_Compile_OrdersLinearChainByDependency(t *testing.T) {
	topo, ids := buildLinearChain(t, 5)
	cfg := DefaultEngineConfig()

	tasks, _, err := Compile(topo, cfg)
	require.NoError(t, err)
	require.Len(t, tasks.Tasks, 5)

	pos := make(map[NodeID]int, len(ids))
	for i, task := range tasks.Tasks {
		pos[task.Node] = i
	}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, pos[ids[i-1]], pos[ids[i]], "a producer must be scheduled before its consumer")
	}
}

func Test_Compile_NeverAliasesTwoSimultaneouslyLiveBuffers(t *testing.T) {
	// a "diamond": src feeds two independent gains that both feed add,
	// so src's and both gains' outputs must all be live at once.
	topo := NewTopology(48000, 0, 1)
	src, err := topo.AddNode(NewSine(440), "src", 0)
	require.NoError(t, err)
	g1, err := topo.AddNode(NewGain(1), "g1", 0)
	require.NoError(t, err)
	g2, err := topo.AddNode(NewGain(2), "g2", 0)
	require.NoError(t, err)
	add, err := topo.AddNode(NewAdd(), "add", 0)
	require.NoError(t, err)
	require.NoError(t, topo.Connect(src, 0, g1, 0, false))
	require.NoError(t, topo.Connect(src, 0, g2, 0, false))
	require.NoError(t, topo.Connect(g1, 0, add, 0, false))
	require.NoError(t, topo.Connect(g2, 0, add, 1, false))
	require.NoError(t, topo.ConnectToOutput(add, 0, 0, false))

	order, err := topoSort(topo)
	require.NoError(t, err)
	ranges := liveRanges(topo, order)
	plan, err := assignBuffers(order, ranges, 0, nil)
	require.NoError(t, err)

	g1Slot := plan.SlotFor(g1, 0)
	g2Slot := plan.SlotFor(g2, 0)
	assert.NotEqual(t, g1Slot, g2Slot, "two buffers alive at the same schedule position must never share a slot")
}

func Test_AssignBuffers_ReusesSlotOnceLiveRangeEnds(t *testing.T) {
	// a straight chain a->b->c: a's buffer is dead once b has consumed
	// it, so c's output may reuse a's slot.
	topo, ids := buildLinearChain(t, 3)
	order, err := topoSort(topo)
	require.NoError(t, err)
	ranges := liveRanges(topo, order)
	plan, err := assignBuffers(order, ranges, 0, nil)
	require.NoError(t, err)

	aSlot := plan.SlotFor(ids[0], 0)
	cSlot := plan.SlotFor(ids[2], 0)
	assert.Equal(t, aSlot, cSlot, "a dead buffer's slot should be recycled by a later node")
	assert.LessOrEqual(t, plan.NumSlots(), 3, "a 3-node chain with disjoint live ranges needs at most 2 real slots plus silence")
}

func Test_Compile_FeedbackSlotNeverReused(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	input, err := topo.AddNode(NewSine(440), "input", 0)
	require.NoError(t, err)
	add, err := topo.AddNode(NewAdd(), "add", 0)
	require.NoError(t, err)
	delay, err := topo.AddNode(NewDelay(64, 0.5), "delay", 0)
	require.NoError(t, err)
	require.NoError(t, topo.Connect(input, 0, add, 0, false))
	require.NoError(t, topo.Connect(delay, 0, add, 1, true))
	require.NoError(t, topo.Connect(add, 0, delay, 0, false))
	require.NoError(t, topo.ConnectToOutput(delay, 0, 0, false))

	cfg := DefaultEngineConfig()
	tasks, plan, err := Compile(topo, cfg)
	require.NoError(t, err)
	require.Len(t, plan.Feedback, 1)
	require.Len(t, tasks.Tasks, 3)

	fbSlot := plan.Feedback[0].Slot
	for _, task := range tasks.Tasks {
		for _, out := range task.Outputs {
			if task.Node != delay {
				assert.NotEqual(t, fbSlot, out, "a pinned feedback slot must never be handed to a non-feedback producer")
			}
		}
	}
}

func Test_Compile_RejectsDirectCycleAsEditRejected(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)
	b, err := topo.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)
	require.NoError(t, topo.Connect(a, 0, b, 0, false))

	// force a cycle directly into the edge map, bypassing Connect's own
	// pre-check, to exercise Compile's independent validation.
	topo.edges[edgeKey{dstNode: a, dstCh: 0}] = Edge{SrcNode: b, SrcChannel: 0, DstNode: a, DstChannel: 0}

	cfg := DefaultEngineConfig()
	_, _, err = Compile(topo, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func Test_BuildChains_PartitionsDisjointComponentsAndNeverSplitsOne(t *testing.T) {
	// two independent chains: a->b, and c->d.
	topo := NewTopology(48000, 0, 2)
	a, err := topo.AddNode(NewGain(1), "a", 0)
	require.NoError(t, err)
	b, err := topo.AddNode(NewGain(1), "b", 0)
	require.NoError(t, err)
	c, err := topo.AddNode(NewGain(1), "c", 0)
	require.NoError(t, err)
	d, err := topo.AddNode(NewGain(1), "d", 0)
	require.NoError(t, err)
	require.NoError(t, topo.Connect(a, 0, b, 0, false))
	require.NoError(t, topo.Connect(c, 0, d, 0, false))
	require.NoError(t, topo.ConnectToOutput(b, 0, 0, false))
	require.NoError(t, topo.ConnectToOutput(d, 0, 1, false))

	comp := componentsOf(topo)
	assert.Equal(t, comp[a], comp[b])
	assert.Equal(t, comp[c], comp[d])
	assert.NotEqual(t, comp[a], comp[c])

	order, err := topoSort(topo)
	require.NoError(t, err)
	chains := buildChains(order, comp)
	require.Len(t, chains, 2)

	seen := make(map[int]bool)
	for _, chain := range chains {
		for _, pos := range chain {
			assert.False(t, seen[pos], "every task position must belong to exactly one chain")
			seen[pos] = true
		}
	}
	assert.Len(t, seen, len(order))
}

// Test_Compile_BufferPlanNeverAliasesWithinAComponent is a property test:
// for a batch of randomly-shaped DAGs of gain/add nodes, no two buffers
// simultaneously live in the schedule ever receive the same slot,
// regardless of how the random topology happens to be shaped.
func Test_Compile_BufferPlanNeverAliasesWithinAComponent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		topo := NewTopology(48000, 0, 1)
		ids := make([]NodeID, n)
		for i := 0; i < n; i++ {
			id, err := topo.AddNode(NewGain(1), "", 0)
			require.NoError(t, err)
			ids[i] = id
		}
		// only allow edges from a lower index to a higher one, so the
		// random graph is guaranteed acyclic.
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rapid.Bool().Draw(t, "edge") {
					_ = topo.Connect(ids[i], 0, ids[j], 0, false)
				}
			}
		}
		require.NoError(t, topo.ConnectToOutput(ids[n-1], 0, 0, false))

		order, err := topoSort(topo)
		require.NoError(t, err)
		ranges := liveRanges(topo, order)
		plan, err := assignBuffers(order, ranges, 0, nil)
		require.NoError(t, err)

		for i := 0; i < len(order); i++ {
			live := map[int]bufferKey{}
			for k, r := range ranges {
				if r.first <= i && i <= r.last {
					slot := plan.SlotFor(k.node, k.ch)
					if owner, ok := live[slot]; ok && owner != k {
						t.Fatalf("slot %d aliased by %v and %v at schedule position %d", slot, owner, k, i)
					}
					live[slot] = k
				}
			}
		}
	})
}

// Test_Compile_TaskListIsATopologicalOrder checks, over randomly-shaped
// DAGs, that every non-feedback edge's producer task precedes its
// consumer task in the emitted TaskList.
func Test_Compile_TaskListIsATopologicalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 10).Draw(t, "n")
		topo := NewTopology(48000, 0, 1)
		ids := make([]NodeID, n)
		for i := 0; i < n; i++ {
			id, err := topo.AddNode(NewGain(1), "", 0)
			require.NoError(t, err)
			ids[i] = id
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rapid.Bool().Draw(t, "edge") {
					_ = topo.Connect(ids[i], 0, ids[j], 0, false)
				}
			}
		}
		require.NoError(t, topo.ConnectToOutput(ids[n-1], 0, 0, false))

		tasks, _, err := Compile(topo, DefaultEngineConfig())
		require.NoError(t, err)

		pos := make(map[NodeID]int, n)
		for i, task := range tasks.Tasks {
			pos[task.Node] = i
		}
		for _, e := range topo.edges {
			if e.Feedback {
				continue
			}
			assert.Less(t, pos[e.SrcNode], pos[e.DstNode], "producer must be scheduled before consumer")
		}
	})
}

func Test_Compile_RejectsEdgeWithOutOfRangeChannel(t *testing.T) {
	topo := NewTopology(48000, 0, 1)
	src, err := topo.AddNode(NewSine(440), "src", 0)
	require.NoError(t, err)
	dst, err := topo.AddNode(NewGain(1), "dst", 0)
	require.NoError(t, err)

	// bypass Connect's own range check to exercise Compile's revalidation
	topo.edges[edgeKey{dstNode: dst, dstCh: 0}] = Edge{SrcNode: src, SrcChannel: 3, DstNode: dst, DstChannel: 0}

	_, _, err = Compile(topo, DefaultEngineConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannelCountMismatch)
	assert.ErrorIs(t, err, ErrEditRejected)
}
