package knaster

// Task is one node's compiled execution record: its resolved input and
// output buffer slots and whether it must run sample-by-sample this
// plan.
type Task struct {
	Node               NodeID
	Proc               Processor
	Inputs             []int // length Nin; SilenceSlot for unconnected channels
	Outputs            []int // length Nout
	NeedsSampleByFrame bool
	AudioRateParams    []audioRateParam // params bound to an audio-rate source, with the resolved buffer slot to pull from

	node *Node // runtime node, for parameter/lifecycle state only the runner touches
}

type audioRateParam struct {
	paramIndex int
	sourceSlot int
}

// TaskList is the compiled, immutable per-block execution order. A
// scheduler run never mutates a previously published TaskList.
type TaskList struct {
	Tasks        []Task
	GraphOutputs []int // per output channel, the buffer slot routed to it

	// Chains partitions Tasks indices into weakly-connected groups that
	// share no buffer slot: every task in Tasks belongs to exactly one
	// chain, and chains appear in the same relative order Tasks does.
	// ParallelRunner is the only consumer; the default single-threaded
	// Runner always walks Tasks directly and ignores this field.
	Chains [][]int
}
