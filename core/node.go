package knaster

import "sync/atomic"

// ParamKind distinguishes the parameter value shapes named in the data
// model: a smoothable scalar, a discrete integer, or a one-shot trigger.
type ParamKind int

const (
	PFloat ParamKind = iota
	PInt
	PTrigger
)

// ParamDescriptor is the static declaration a Processor publishes for one
// of its parameter slots.
type ParamDescriptor struct {
	Name     string
	Kind     ParamKind
	Default  float64
	Min, Max float64
}

// BlockCtx is passed to Process for one sub-block. SelfFree is the only
// lifecycle signal a Processor may raise on its own; it is always
// non-nil and safe to call from inside Process.
type BlockCtx struct {
	SampleRate float64
	Frame      int64 // absolute frame index of the first sample in this call
	Len        int   // number of frames in this call
	SelfFree   func()
}

// FrameCtx is passed to ProcessFrame for one sample-accurate frame.
// SelfFree behaves as in BlockCtx.
type FrameCtx struct {
	SampleRate float64
	Frame      int64
	SelfFree   func()
}

// ParamCtx is passed to SetParam when a change takes effect.
type ParamCtx struct {
	Frame int64
}

// Processor is the capability interface every unit generator implements.
// The scheduler only ever needs the structural attributes (Nin/Nout/
// Params) and this fixed function-pointer set; it never knows the
// concrete type behind it. The unit-generator library itself lives
// outside this module and plugs in here.
type Processor interface {
	Nin() int
	Nout() int
	Params() []ParamDescriptor
	Process(ctx *BlockCtx, in, out []Block)
	ProcessFrame(ctx *FrameCtx, in, out []float64)
	SetParam(index int, value float64, ctx *ParamCtx)
}

// NodeID is a generational index into a Topology's node table: the
// generation catches a handle held past RemoveNode from aliasing a
// reused slot.
type NodeID struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether id is the zero value (never a valid node id,
// since node 0's generation starts at 1).
func (id NodeID) IsZero() bool { return id.Generation == 0 }

// paramState is the runtime state of one parameter slot: current value
// and the in-flight smoothing ramp, if any. Audio-rate source bindings
// are structural and live on the Topology, not here.
type paramState struct {
	current   float64
	target    float64
	rampStart int64
	rampEnd   int64
	curve     RampCurve
}

// ParamBinding promotes a parameter to an audio-rate input, sourced from
// another node's output channel.
type ParamBinding struct {
	SrcNode    NodeID
	SrcChannel int
}

// Node wraps a Processor with graph identity, lifecycle state, and
// per-parameter runtime state. A Node is never shared between graphs.
type Node struct {
	id        NodeID
	proc      Processor
	debugName string
	selfFree  atomic.Bool
	reported  atomic.Bool // whether a removal token has already been sent for this self-free
	params    []paramState

	// selfFreeFn is RequestSelfFree bound once at construction, so the
	// runner can hand it out in a BlockCtx/FrameCtx without creating a
	// method-value closure on the audio thread.
	selfFreeFn func()
}

// ID returns the node's stable identifier.
func (n *Node) ID() NodeID { return n.id }

// DebugName returns the human-readable name given at Push time, or "" if
// none was given.
func (n *Node) DebugName() string { return n.debugName }

// RequestSelfFree raises the self-free flag. It is safe to call from
// inside Process or ProcessFrame on the audio thread; it is the only
// lifecycle signal a Processor may raise itself.
func (n *Node) RequestSelfFree() { n.selfFree.Store(true) }

func newNode(id NodeID, proc Processor, debugName string) *Node {
	descs := proc.Params()
	n := &Node{id: id, proc: proc, debugName: debugName, params: make([]paramState, len(descs))}
	for i, d := range descs {
		n.params[i] = paramState{current: d.Default, target: d.Default}
	}
	n.selfFreeFn = n.RequestSelfFree
	return n
}
