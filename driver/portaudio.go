// Package driver hosts the audio-device transport: it owns the real
// sound-card stream and pulls blocks of frames from an AudioEngine, but
// knows nothing about graphs, nodes, or parameters.
package driver

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// AudioEngine is the subset of knaster.Runner / knaster.ParallelRunner
// this driver depends on: render frames of audio into planar output
// buffers. Declared locally instead of importing the core package, so
// this package stays usable against any engine shaped like a Runner.
type AudioEngine interface {
	Process(outputs [][]float64, frames int)
}

// PortAudioDriver opens a default output-only PortAudio stream and pulls
// blocks from an AudioEngine on PortAudio's own callback thread. It is
// the one place in this module that talks to a real sound card; it never
// decides graph topology or node lifecycle.
type PortAudioDriver struct {
	engine      AudioEngine
	stream      *portaudio.Stream
	outChannels int
	blockSize   int
	planar      [][]float64
}

// Open initializes PortAudio and opens the default output device at
// sampleRate with outChannels channels, framesPerBuffer frames per
// callback. Process is never called until Start.
func Open(engine AudioEngine, sampleRate float64, outChannels, framesPerBuffer int) (*PortAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("driver: portaudio init: %w", err)
	}

	d := &PortAudioDriver{
		engine:      engine,
		outChannels: outChannels,
		blockSize:   framesPerBuffer,
		planar:      make([][]float64, outChannels),
	}
	for c := range d.planar {
		d.planar[c] = make([]float64, framesPerBuffer)
	}

	hostAPI, err := portaudio.DefaultHostApi()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("driver: default host api: %w", err)
	}
	params := portaudio.HighLatencyParameters(nil, hostAPI.DefaultOutputDevice)
	params.Output.Channels = outChannels
	params.SampleRate = sampleRate
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, d.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("driver: open stream: %w", err)
	}
	d.stream = stream
	return d, nil
}

// callback is invoked on PortAudio's realtime thread. It renders one
// block through the engine's planar buffers, then interleaves into the
// float32 frame PortAudio expects. framesPerBuffer never exceeds the
// engine's configured BlockSizeCap, so the engine processes each
// callback as a single block.
func (d *PortAudioDriver) callback(out []float32) {
	frames := len(out) / d.outChannels
	for c := range d.planar {
		d.planar[c] = d.planar[c][:frames]
	}
	d.engine.Process(d.planar, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < d.outChannels; c++ {
			out[i*d.outChannels+c] = float32(d.planar[c][i])
		}
	}
}

// Start begins streaming.
func (d *PortAudioDriver) Start() error {
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("driver: start stream: %w", err)
	}
	return nil
}

// Stop halts streaming without closing the device.
func (d *PortAudioDriver) Stop() error {
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("driver: stop stream: %w", err)
	}
	return nil
}

// Close stops the stream, closes the device, and terminates PortAudio.
// Safe to call once, after Start/Stop.
func (d *PortAudioDriver) Close() error {
	if err := d.stream.Close(); err != nil {
		return fmt.Errorf("driver: close stream: %w", err)
	}
	return portaudio.Terminate()
}
