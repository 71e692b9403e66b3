package knaster

import "fmt"

// NodeHandle is the typed, control-caller-facing reference to a pushed
// node. It resolves parameter names to indices once, at push time, so
// later control calls never need to re-walk a Processor's descriptor
// table.
type NodeHandle struct {
	id    NodeID
	names map[string]int
}

func newNodeHandle(id NodeID, proc Processor) NodeHandle {
	names := make(map[string]int)
	for i, d := range proc.Params() {
		names[d.Name] = i
	}
	return NodeHandle{id: id, names: names}
}

// ID returns the handle's underlying stable node identifier.
func (h NodeHandle) ID() NodeID { return h.id }

func (h NodeHandle) index(name string) (int, error) {
	idx, ok := h.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrParameterUnknown, name)
	}
	return idx, nil
}

// Set enqueues an immediate value change, applied at the next block
// start.
func (h NodeHandle) Set(d *Dispatcher, name string, value float64) error {
	idx, err := h.index(name)
	if err != nil {
		return err
	}
	return d.Set(h.id, idx, value)
}

// SetAt schedules a value change at an absolute frame.
func (h NodeHandle) SetAt(d *Dispatcher, name string, value float64, frame int64) error {
	idx, err := h.index(name)
	if err != nil {
		return err
	}
	return d.SetAt(h.id, idx, value, frame)
}

// Ramp schedules a linear smoothing ramp.
func (h NodeHandle) Ramp(d *Dispatcher, name string, target float64, durationFrames int64) error {
	idx, err := h.index(name)
	if err != nil {
		return err
	}
	return d.Ramp(h.id, idx, target, durationFrames)
}

// RampCurve schedules a smoothing ramp using a non-default curve.
func (h NodeHandle) RampCurve(d *Dispatcher, name string, target float64, durationFrames int64, curve RampCurve) error {
	idx, err := h.index(name)
	if err != nil {
		return err
	}
	return d.RampCurve(h.id, idx, target, durationFrames, curve)
}

// Bind promotes a parameter to an audio-rate input sourced from src's
// output channel srcCh. Unlike Set/SetAt/Ramp this is a structural edit,
// not ring traffic, so it takes a *Graph and runs inside its own Edit
// scope.
func (h NodeHandle) Bind(g *Graph, name string, src NodeHandle, srcCh int) error {
	idx, err := h.index(name)
	if err != nil {
		return err
	}
	return g.Edit(func(s *EditScope) error {
		return s.BindParamSource(h, idx, src, srcCh)
	})
}
