package knaster

// Dispatcher is the control-thread entry point for the parameter
// pipeline. Set/SetAt/Ramp are non-blocking ring traffic; Bind is a
// structural edit (see NodeHandle.Bind) because it changes whether the
// destination node must run sample-by-sample, which only a recompiled
// TaskList can express.
type Dispatcher struct {
	ring  *ParamRing
	graph *Graph
}

// Set enqueues an immediate change, applied "ASAP at next block start".
func (d *Dispatcher) Set(node NodeID, param int, value float64) error {
	return d.ring.TryEnqueue(ParamChange{
		Node: node, Param: param, Kind: ChangeSet, Value: value, ApplyAtFrame: FrameImmediate,
	})
}

// SetAt schedules a change at an absolute frame number.
func (d *Dispatcher) SetAt(node NodeID, param int, value float64, frame int64) error {
	return d.ring.TryEnqueue(ParamChange{
		Node: node, Param: param, Kind: ChangeSet, Value: value, ApplyAtFrame: frame,
	})
}

// Ramp schedules a linear smoothing ramp starting at the next block
// boundary.
func (d *Dispatcher) Ramp(node NodeID, param int, target float64, durationFrames int64) error {
	return d.RampCurve(node, param, target, durationFrames, LinearCurve{})
}

// RampCurve schedules a smoothing ramp using the given curve.
func (d *Dispatcher) RampCurve(node NodeID, param int, target float64, durationFrames int64, curve RampCurve) error {
	return d.ring.TryEnqueue(ParamChange{
		Node: node, Param: param, Kind: ChangeRamp, Value: target,
		RampFrames: durationFrames, Curve: curve, ApplyAtFrame: FrameImmediate,
	})
}

// RampAt schedules a smoothing ramp that begins at an absolute frame.
func (d *Dispatcher) RampAt(node NodeID, param int, target float64, durationFrames int64, curve RampCurve, startFrame int64) error {
	return d.ring.TryEnqueue(ParamChange{
		Node: node, Param: param, Kind: ChangeRamp, Value: target,
		RampFrames: durationFrames, Curve: curve, ApplyAtFrame: startFrame,
	})
}

// Bind promotes a parameter to an audio-rate input. It is a structural
// edit: see NodeHandle.Bind for the typed, control-caller-facing form.
func (d *Dispatcher) Bind(dst NodeID, param int, src NodeID, srcCh int) error {
	return d.graph.Edit(func(s *EditScope) error {
		return s.topo.BindParamSource(dst, param, src, srcCh)
	})
}
