package knaster

import "sync/atomic"

// RemovalToken is sent from the runner to the control thread when a node
// raises its self-free flag; the control thread performs the actual
// removal during its next edit commit.
type RemovalToken struct {
	Node  NodeID
	Frame int64
}

const reverseRingSize = 64 // power of two

// reverseRing is the runner-to-control-thread counterpart of ParamRing:
// a second bounded SPSC ring, this time carrying removal tokens instead
// of parameter changes.
type reverseRing struct {
	buf  [reverseRingSize]RemovalToken
	head atomic.Uint64
	tail atomic.Uint64
}

func newReverseRing() *reverseRing { return &reverseRing{} }

// push is audio-thread-only and never blocks: a full reverse ring simply
// drops the token (the node stays flagged self-free and will be retried
// implicitly the next time it is observed, since the flag is sticky).
func (r *reverseRing) push(t RemovalToken) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= reverseRingSize {
		return false
	}
	r.buf[head%reverseRingSize] = t
	r.head.Store(head + 1)
	return true
}

// drainAll is control-thread-only.
func (r *reverseRing) drainAll(dst []RemovalToken) []RemovalToken {
	tail := r.tail.Load()
	head := r.head.Load()
	for tail != head {
		dst = append(dst, r.buf[tail%reverseRingSize])
		tail++
	}
	r.tail.Store(tail)
	return dst
}

// DrainRemovals returns every removal token the runner has pushed since
// the last drain.
func (g *Graph) DrainRemovals() []RemovalToken {
	return g.reverse.drainAll(nil)
}

// ReapSelfFreed drains pending removal tokens and removes each
// surviving node (a token whose node was already removed by an
// unrelated edit is simply skipped) inside one edit scope, so the
// control thread never needs to hand-roll this loop.
func (g *Graph) ReapSelfFreed() error {
	tokens := g.DrainRemovals()
	if len(tokens) == 0 {
		return nil
	}
	return g.Edit(func(s *EditScope) error {
		for _, t := range tokens {
			if _, ok := s.topo.lookup(t.Node); ok {
				if err := s.topo.RemoveNode(t.Node); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
