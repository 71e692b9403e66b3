package knaster

import (
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// publishedPlan is the immutable {TaskList, BufferPlan} pair handed to
// the runner, tagged with the epoch it was published at. Go's garbage
// collector reclaims a prior plan once the runner drops its last
// reference to it (tracked via AdoptedEpoch for observability); there is
// no manual refcount to get wrong.
type publishedPlan struct {
	tasks   *TaskList
	buffers *BufferPlan
	epoch   uint64
}

// Graph is the root container: the control-thread façade over a
// Topology, its compiled plan, and the rings connecting it to a Runner.
type Graph struct {
	cfg    EngineConfig
	logger *charmlog.Logger

	mu   sync.Mutex // serializes Edit calls; never touched by the audio thread
	topo *Topology

	published atomic.Pointer[publishedPlan]
	epoch     atomic.Uint64

	ring      *ParamRing
	reverse   *reverseRing
	anomalies *anomalyRing
}

// NewGraph creates an empty graph and compiles its (empty) initial plan.
func NewGraph(cfg EngineConfig, logger *charmlog.Logger) (*Graph, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = NewLogger("knaster")
	}
	g := &Graph{
		cfg:       cfg,
		logger:    logger,
		topo:      NewTopology(cfg.SampleRate, cfg.InChannels, cfg.OutChannels),
		ring:      NewParamRing(cfg.RingCapacity),
		reverse:   newReverseRing(),
		anomalies: newAnomalyRing(),
	}
	tasks, buffers, err := Compile(g.topo, g.cfg)
	if err != nil {
		return nil, err
	}
	g.published.Store(&publishedPlan{tasks: tasks, buffers: buffers, epoch: 0})
	return g, nil
}

// Config returns the engine configuration this graph was built with.
func (g *Graph) Config() EngineConfig { return g.cfg }

// Dispatcher returns the control-thread API for enqueuing parameter
// changes.
func (g *Graph) Dispatcher() *Dispatcher { return &Dispatcher{ring: g.ring, graph: g} }

// NewRunner builds a single-threaded Runner bound to this graph's rings
// and current plan. A graph may have at most one active Runner at a
// time; building a second one while the first is still processing races
// on plan adoption.
func (g *Graph) NewRunner() *Runner {
	p := g.published.Load()
	r := &Runner{
		cfg:       g.cfg,
		ring:      g.ring,
		reverse:   g.reverse,
		anomalies: g.anomalies,
		published: &g.published,
		active:    p,
	}
	r.adoptedEpoch.Store(p.epoch)
	r.growScratch()
	r.splitScratch = make([]int, 0, 64)
	r.drainScratch = make([]ParamChange, 0, 256)
	return r
}

// EditScope accumulates mutations inside one scoped editing region.
// Edits observed within a scope are either all applied or all rejected;
// no partial graph is ever published.
type EditScope struct {
	topo *Topology
	cfg  EngineConfig
}

// Edit runs fn against a fresh copy-on-write snapshot of the topology.
// If fn returns an error, or the resulting topology fails validation at
// compile time, nothing about the live graph changes. On success, the
// compiled plan is published atomically and becomes visible to the
// runner at the next block boundary.
func (g *Graph) Edit(fn func(*EditScope) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	scope := &EditScope{topo: g.topo.clone(), cfg: g.cfg}
	if err := fn(scope); err != nil {
		g.logger.Warn("edit rejected", "err", err)
		return err
	}
	tasks, buffers, err := Compile(scope.topo, g.cfg)
	if err != nil {
		g.logger.Warn("edit rejected", "err", err)
		return err
	}
	newEpoch := g.epoch.Add(1)
	g.published.Store(&publishedPlan{tasks: tasks, buffers: buffers, epoch: newEpoch})
	g.topo = scope.topo
	g.logger.Debug("committed plan", "epoch", newEpoch, "tasks", len(tasks.Tasks), "buffers", buffers.NumSlots())
	return nil
}

// Push inserts a new node and returns a typed handle for it.
func (s *EditScope) Push(proc Processor, debugName string) (NodeHandle, error) {
	id, err := s.topo.AddNode(proc, debugName, s.cfg.MaxNodes)
	if err != nil {
		return NodeHandle{}, err
	}
	return newNodeHandle(id, proc), nil
}

// Connect wires src's output channel srcCh to dst's input channel dstCh.
func (s *EditScope) Connect(src, dst NodeHandle, srcCh, dstCh int, feedback bool) error {
	return s.topo.Connect(src.id, srcCh, dst.id, dstCh, feedback)
}

// ConnectToOutput wires src's output channel srcCh to graph-output
// channel outCh.
func (s *EditScope) ConnectToOutput(src NodeHandle, srcCh, outCh int, feedback bool) error {
	return s.topo.ConnectToOutput(src.id, srcCh, outCh, feedback)
}

// Disconnect removes the edge feeding (dst, dstCh), if any.
func (s *EditScope) Disconnect(dst NodeHandle, dstCh int) { s.topo.Disconnect(dst.id, dstCh) }

// DisconnectOutput removes the edge feeding graph-output channel outCh.
func (s *EditScope) DisconnectOutput(outCh int) { s.topo.DisconnectOutput(outCh) }

// Remove deletes a node and cascades to its incident edges and bindings.
func (s *EditScope) Remove(h NodeHandle) error { return s.topo.RemoveNode(h.id) }

// BindParamSource promotes a parameter to an audio-rate input.
func (s *EditScope) BindParamSource(dst NodeHandle, paramIndex int, src NodeHandle, srcCh int) error {
	return s.topo.BindParamSource(dst.id, paramIndex, src.id, srcCh)
}
