package knaster

import "math"

// The Processors in this file are minimal reference fixtures, not a
// unit-generator library: they exist so the scheduler, runner, and
// parameter pipeline have something real to drive in tests and the demo
// command. A real deployment supplies its own Processor implementations
// from outside this module.

// Sine is a fixed-frequency, fixed-amplitude oscillator with one output
// channel and no inputs. freq may be set, ramped, or bound to an
// audio-rate source, exercising every path in the parameter pipeline.
type Sine struct {
	phase float64
	freq  float64
	amp   float64
}

// NewSine constructs a Sine at the given starting frequency and unity
// amplitude.
func NewSine(freq float64) *Sine { return &Sine{freq: freq, amp: 1} }

func (s *Sine) Nin() int  { return 0 }
func (s *Sine) Nout() int { return 1 }

func (s *Sine) Params() []ParamDescriptor {
	return []ParamDescriptor{
		{Name: "freq", Kind: PFloat, Default: s.freq, Min: 0, Max: 20000},
		{Name: "amp", Kind: PFloat, Default: s.amp, Min: 0, Max: 1},
	}
}

func (s *Sine) SetParam(index int, value float64, _ *ParamCtx) {
	switch index {
	case 0:
		s.freq = value
	case 1:
		s.amp = value
	}
}

func (s *Sine) Process(ctx *BlockCtx, _, out []Block) {
	step := 2 * math.Pi * s.freq / ctx.SampleRate
	o := out[0]
	for i := range o {
		o[i] = s.amp * math.Sin(s.phase)
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
}

func (s *Sine) ProcessFrame(ctx *FrameCtx, _, out []float64) {
	step := 2 * math.Pi * s.freq / ctx.SampleRate
	out[0] = s.amp * math.Sin(s.phase)
	s.phase = math.Mod(s.phase+step, 2*math.Pi)
}

// Gain scales a single input channel by a smoothable gain parameter.
type Gain struct {
	gain float64
}

// NewGain constructs a Gain starting at the given linear scale factor.
func NewGain(gain float64) *Gain { return &Gain{gain: gain} }

func (g *Gain) Nin() int  { return 1 }
func (g *Gain) Nout() int { return 1 }

func (g *Gain) Params() []ParamDescriptor {
	return []ParamDescriptor{{Name: "gain", Kind: PFloat, Default: g.gain, Min: 0, Max: 4}}
}

func (g *Gain) SetParam(index int, value float64, _ *ParamCtx) {
	if index == 0 {
		g.gain = value
	}
}

func (g *Gain) Process(_ *BlockCtx, in, out []Block) {
	src, dst := in[0], out[0]
	for i := range dst {
		dst[i] = src[i] * g.gain
	}
}

func (g *Gain) ProcessFrame(_ *FrameCtx, in, out []float64) { out[0] = in[0] * g.gain }

// Add sums two input channels into one output channel, with no
// parameters of its own: a minimal mixer fixture.
type Add struct{}

// NewAdd constructs an Add node.
func NewAdd() *Add { return &Add{} }

func (a *Add) Nin() int                    { return 2 }
func (a *Add) Nout() int                   { return 1 }
func (a *Add) Params() []ParamDescriptor   { return nil }
func (a *Add) SetParam(int, float64, *ParamCtx) {}

func (a *Add) Process(_ *BlockCtx, in, out []Block) {
	x, y, dst := in[0], in[1], out[0]
	for i := range dst {
		dst[i] = x[i] + y[i]
	}
}

func (a *Add) ProcessFrame(_ *FrameCtx, in, out []float64) { out[0] = in[0] + in[1] }

// Delay is a fixed-length delay line: it reads from and writes into its
// own internal ring, independent of the buffer arena, so it is a natural
// node to wire a feedback edge back into. feedback is a smoothable
// parameter scaling the delayed sample fed back into the line.
// AntiDenormal is added per frame to the recirculated sample, so a
// decaying feedback tail never drops the line into denormal territory.
type Delay struct {
	line     []float64
	w        int
	feedback float64
	mix      float64
}

// NewDelay constructs a Delay holding delayFrames of history.
func NewDelay(delayFrames int, feedback float64) *Delay {
	if delayFrames < 1 {
		delayFrames = 1
	}
	return &Delay{line: make([]float64, delayFrames), feedback: feedback, mix: 0.5}
}

func (d *Delay) Nin() int  { return 1 }
func (d *Delay) Nout() int { return 1 }

func (d *Delay) Params() []ParamDescriptor {
	return []ParamDescriptor{
		{Name: "feedback", Kind: PFloat, Default: d.feedback, Min: 0, Max: 0.99},
		{Name: "mix", Kind: PFloat, Default: d.mix, Min: 0, Max: 1},
	}
}

func (d *Delay) SetParam(index int, value float64, _ *ParamCtx) {
	switch index {
	case 0:
		d.feedback = value
	case 1:
		d.mix = value
	}
}

func (d *Delay) Process(_ *BlockCtx, in, out []Block) {
	src, dst := in[0], out[0]
	for i := range dst {
		dst[i] = d.step(src[i])
	}
}

func (d *Delay) ProcessFrame(_ *FrameCtx, in, out []float64) { out[0] = d.step(in[0]) }

func (d *Delay) step(x float64) float64 {
	delayed := d.line[d.w]
	d.line[d.w] = x + delayed*d.feedback + AntiDenormal
	d.w++
	if d.w >= len(d.line) {
		d.w = 0
	}
	return x*(1-d.mix) + delayed*d.mix
}

// Envelope is a one-shot linear attack/release gain stage that requests
// its own removal once the release completes: a node exercising
// RequestSelfFree without any control-thread involvement.
type Envelope struct {
	attackFrames, releaseFrames int64
	elapsed                     int64
	level                       float64
}

// NewEnvelope constructs an Envelope with the given attack/release
// lengths, in frames.
func NewEnvelope(attackFrames, releaseFrames int64) *Envelope {
	return &Envelope{attackFrames: attackFrames, releaseFrames: releaseFrames}
}

func (e *Envelope) Nin() int                  { return 1 }
func (e *Envelope) Nout() int                 { return 1 }
func (e *Envelope) Params() []ParamDescriptor { return nil }
func (e *Envelope) SetParam(int, float64, *ParamCtx) {}

func (e *Envelope) Process(ctx *BlockCtx, in, out []Block) {
	src, dst := in[0], out[0]
	for i := range dst {
		dst[i] = src[i] * e.level
		e.advance(ctx.SelfFree)
	}
}

func (e *Envelope) ProcessFrame(ctx *FrameCtx, in, out []float64) {
	out[0] = in[0] * e.level
	e.advance(ctx.SelfFree)
}

func (e *Envelope) advance(selfFree func()) {
	total := e.attackFrames + e.releaseFrames
	switch {
	case e.elapsed < e.attackFrames:
		if e.attackFrames > 0 {
			e.level = float64(e.elapsed) / float64(e.attackFrames)
		} else {
			e.level = 1
		}
	case e.elapsed < total:
		remaining := total - e.elapsed
		if e.releaseFrames > 0 {
			e.level = float64(remaining) / float64(e.releaseFrames)
		} else {
			e.level = 0
		}
	default:
		e.level = 0
	}
	e.elapsed++
	if e.elapsed >= total {
		selfFree()
	}
}

// ExternalInput exposes one channel of driver-supplied audio as a
// zero-input Processor output: the seam between this module's scheduler
// and whatever feeds it real input (a sound-file reader or a live driver
// callback). A caller fills staging via Stage before each Process call
// that should read from it; Stage is safe to call from the thread that
// owns Process.
type ExternalInput struct {
	staging []float64
}

// NewExternalInput constructs an ExternalInput with room for one block
// of staged samples.
func NewExternalInput(blockSizeCap int) *ExternalInput {
	return &ExternalInput{staging: make([]float64, blockSizeCap)}
}

// Stage copies samples into the node's staging buffer ahead of the next
// Process/ProcessFrame call.
func (e *ExternalInput) Stage(samples []float64) { copy(e.staging, samples) }

func (e *ExternalInput) Nin() int                  { return 0 }
func (e *ExternalInput) Nout() int                 { return 1 }
func (e *ExternalInput) Params() []ParamDescriptor { return nil }
func (e *ExternalInput) SetParam(int, float64, *ParamCtx) {}

func (e *ExternalInput) Process(ctx *BlockCtx, _, out []Block) {
	copy(out[0], e.staging[ctx.Frame%int64(len(e.staging)):])
}

func (e *ExternalInput) ProcessFrame(ctx *FrameCtx, _, out []float64) {
	out[0] = e.staging[int(ctx.Frame)%len(e.staging)]
}
