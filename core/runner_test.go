package knaster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t require.TestingT, cfg EngineConfig) *Graph {
	g, err := NewGraph(cfg, nil)
	require.NoError(t, err)
	return g
}

func Test_Runner_ConstantSineMatchesClosedForm(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	g := newTestGraph(t, cfg)

	var sine NodeHandle
	err := g.Edit(func(s *EditScope) error {
		h, err := s.Push(NewSine(440), "sine")
		if err != nil {
			return err
		}
		sine = h
		return s.ConnectToOutput(sine, 0, 0, false)
	})
	require.NoError(t, err)

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024)}
	r.Process(out, 1024)

	for i := 0; i < 1024; i++ {
		want := math.Sin(2 * math.Pi * 440 * float64(i) / cfg.SampleRate)
		assert.InDelta(t, want, out[0][i], 1e-6)
	}
}

func Test_Runner_MidBlockFrequencyChangeAppliesAtExactFrame(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	cfg.BlockSizeCap = 2048
	g := newTestGraph(t, cfg)

	var sine NodeHandle
	err := g.Edit(func(s *EditScope) error {
		h, err := s.Push(NewSine(440), "sine")
		if err != nil {
			return err
		}
		sine = h
		return s.ConnectToOutput(sine, 0, 0, false)
	})
	require.NoError(t, err)

	d := g.Dispatcher()
	require.NoError(t, sine.SetAt(d, "freq", 880, 512))

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024)}
	r.Process(out, 1024)

	// before the change, phase advances at the 440Hz rate
	wantBefore := math.Sin(2 * math.Pi * 440 * float64(511) / cfg.SampleRate)
	assert.InDelta(t, wantBefore, out[0][511], 1e-6)

	// the sample at the change frame itself must already reflect 880Hz,
	// continuing from the phase accumulated up to (not including) 512
	phaseAt512 := 2 * math.Pi * 440 * float64(512) / cfg.SampleRate
	wantAt := math.Sin(math.Mod(phaseAt512, 2*math.Pi))
	assert.InDelta(t, wantAt, out[0][512], 1e-6)
}

func Test_Runner_SmoothedGainRampReachesTargetExactlyAtEnd(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	g := newTestGraph(t, cfg)

	var sine, gain NodeHandle
	err := g.Edit(func(s *EditScope) error {
		sh, err := s.Push(NewSine(440), "sine")
		if err != nil {
			return err
		}
		gh, err := s.Push(NewGain(0), "gain")
		if err != nil {
			return err
		}
		sine, gain = sh, gh
		if err := s.Connect(sine, gain, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(gain, 0, 0, false)
	})
	require.NoError(t, err)

	d := g.Dispatcher()
	require.NoError(t, gain.Ramp(d, "gain", 1.0, 1024))

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024)}
	r.Process(out, 1024)

	// at frame 0 the ramp has not yet progressed: gain is still ~0
	assert.InDelta(t, 0, out[0][0], 1e-6)

	// past the ramp, output should match the unscaled sine
	out2 := [][]float64{make([]float64, 64)}
	r.Process(out2, 64)
	wantUnscaled := math.Sin(2 * math.Pi * 440 * float64(1024) / cfg.SampleRate)
	assert.InDelta(t, wantUnscaled, out2[0][0], 1e-6)
}

func Test_Runner_FeedbackDelayEchoesPastBlockBoundary(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	cfg.BlockSize = 64
	cfg.BlockSizeCap = 64
	g := newTestGraph(t, cfg)

	ext := NewExternalInput(cfg.BlockSizeCap)
	var add, delay NodeHandle
	err := g.Edit(func(s *EditScope) error {
		ih, err := s.Push(ext, "input")
		if err != nil {
			return err
		}
		ah, err := s.Push(NewAdd(), "add")
		if err != nil {
			return err
		}
		dh, err := s.Push(NewDelay(cfg.BlockSize, 0.5), "delay")
		if err != nil {
			return err
		}
		add, delay = ah, dh
		if err := s.Connect(ih, ah, 0, 0, false); err != nil {
			return err
		}
		if err := s.Connect(dh, ah, 0, 1, true); err != nil {
			return err
		}
		if err := s.Connect(ah, dh, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(dh, 0, 0, false)
	})
	require.NoError(t, err)
	_ = add
	_ = delay

	r := g.NewRunner()

	impulse := make([]float64, cfg.BlockSizeCap)
	impulse[0] = 1
	ext.Stage(impulse)

	out := [][]float64{make([]float64, cfg.BlockSize*3)}
	r.Process(out, cfg.BlockSize*3)

	assert.NotEqual(t, 0.0, out[0][0], "the impulse must reach the output through the delay's dry/wet mix on the very first block")

	echoOffset := cfg.BlockSize // the delay line is exactly one block long
	assert.NotEqual(t, 0.0, out[0][echoOffset], "output one delay length later must already carry the fed-back contribution")
}

func Test_Runner_CycleRejectionLeavesGraphAndEpochUnchanged(t *testing.T) {
	cfg := DefaultEngineConfig()
	g := newTestGraph(t, cfg)

	before := g.Snapshot()
	err := g.Edit(func(s *EditScope) error {
		a, err := s.Push(NewGain(1), "a")
		if err != nil {
			return err
		}
		b, err := s.Push(NewGain(1), "b")
		if err != nil {
			return err
		}
		if err := s.Connect(a, b, 0, 0, false); err != nil {
			return err
		}
		return s.Connect(b, a, 0, 0, false)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)

	after := g.Snapshot()
	assert.Equal(t, before.Epoch, after.Epoch)
	assert.Equal(t, before.Nodes, after.Nodes)
}

func Test_Runner_SelfFreeingNodeIsReapedAndSilencesItsOutput(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	g := newTestGraph(t, cfg)

	err := g.Edit(func(s *EditScope) error {
		sine, err := s.Push(NewSine(440), "sine")
		if err != nil {
			return err
		}
		env, err := s.Push(NewEnvelope(32, 32), "envelope")
		if err != nil {
			return err
		}
		if err := s.Connect(sine, env, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(env, 0, 0, false)
	})
	require.NoError(t, err)

	r := g.NewRunner()
	out := [][]float64{make([]float64, 128)}
	r.Process(out, 128)

	assert.Equal(t, 0.0, out[0][127], "once the envelope's release completes its output must read as silence")

	require.NoError(t, g.ReapSelfFreed())
	after := g.Snapshot()
	// only the sine remains; the envelope removed itself
	assert.Len(t, after.Nodes, 1)
}

func Test_Runner_Process_ChunksLargeRequestsAtBlockSizeCap(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	cfg.BlockSizeCap = 256
	g := newTestGraph(t, cfg)

	err := g.Edit(func(s *EditScope) error {
		h, err := s.Push(NewSine(440), "sine")
		if err != nil {
			return err
		}
		return s.ConnectToOutput(h, 0, 0, false)
	})
	require.NoError(t, err)

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1000)}
	r.Process(out, 1000)

	// a single continuous Process call must produce an unbroken phase
	// across the internal block-size-cap chunk boundaries.
	for i := 0; i < 1000; i++ {
		want := math.Sin(2 * math.Pi * 440 * float64(i) / cfg.SampleRate)
		assert.InDelta(t, want, out[0][i], 1e-6)
	}
}

func Test_Runner_SmoothedGainMatchesLinearRampFormula(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 1
	cfg.BlockSizeCap = 1024
	g := newTestGraph(t, cfg)

	var sine, gain NodeHandle
	err := g.Edit(func(s *EditScope) error {
		sh, err := s.Push(NewSine(440), "sine")
		if err != nil {
			return err
		}
		gh, err := s.Push(NewGain(0), "gain")
		if err != nil {
			return err
		}
		sine, gain = sh, gh
		if err := s.Connect(sine, gain, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(gain, 0, 0, false)
	})
	require.NoError(t, err)

	d := g.Dispatcher()
	require.NoError(t, gain.Ramp(d, "gain", 1.0, 1024))

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024)}
	r.Process(out, 1024)

	for i := 0; i < 1024; i += 64 {
		want := math.Sin(2*math.Pi*440*float64(i)/cfg.SampleRate) * float64(i) / 1024
		assert.InDeltaf(t, want, out[0][i], 1e-6, "frame %d must scale by the ramp's linear progress", i)
	}
}
