package knaster

import "sync/atomic"

// AnomalyRecord is a transient audio-thread diagnostic: a static tag and
// an associated integer, never a formatted string. Formatting would
// allocate, and the audio thread never does.
type AnomalyRecord struct {
	Tag   string
	Value int64
}

const anomalyRingSize = 256 // power of two

type anomalyRing struct {
	buf  [anomalyRingSize]AnomalyRecord
	head atomic.Uint64
	tail atomic.Uint64
}

func newAnomalyRing() *anomalyRing { return &anomalyRing{} }

// push is audio-thread-only: it never allocates and never blocks. If the
// ring is full it overwrites the oldest record. Losing a diagnostic is
// acceptable; stalling the audio thread to keep one is not.
func (r *anomalyRing) push(tag string, value int64) {
	head := r.head.Load()
	r.buf[head%anomalyRingSize] = AnomalyRecord{Tag: tag, Value: value}
	r.head.Store(head + 1)
	if head+1-r.tail.Load() > anomalyRingSize {
		r.tail.Store(head + 1 - anomalyRingSize)
	}
}

// drain is control-thread-only: pops every record currently available.
func (r *anomalyRing) drain(dst []AnomalyRecord) []AnomalyRecord {
	tail := r.tail.Load()
	head := r.head.Load()
	for tail != head {
		dst = append(dst, r.buf[tail%anomalyRingSize])
		tail++
	}
	r.tail.Store(tail)
	return dst
}

// DrainAnomalies returns every audio-thread diagnostic record pushed
// since the last drain, for conventional control-thread logging.
func (g *Graph) DrainAnomalies() []AnomalyRecord {
	return g.anomalies.drain(nil)
}
