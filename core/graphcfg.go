package knaster

import (
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EngineConfig is the durable configuration the runtime actually has;
// everything else about a graph's state is transient and unserialized.
// A plain struct with yaml tags, defaults filled in after unmarshal.
type EngineConfig struct {
	SampleRate   float64 `yaml:"sample_rate"`
	BlockSize    int     `yaml:"block_size"`
	BlockSizeCap int     `yaml:"block_size_cap"`
	InChannels   int     `yaml:"in_channels"`
	OutChannels  int     `yaml:"out_channels"`
	MaxNodes     int     `yaml:"max_nodes"`
	MaxBuffers   int     `yaml:"max_buffers"`
	RingCapacity int     `yaml:"ring_capacity"`
	// Workers bounds how many chains a ParallelRunner (built with
	// Graph.NewParallelRunner) runs at once; 0 is normalized to 1. It has
	// no effect on the single-threaded Runner, and nothing picks a runner
	// kind from it: the caller chooses which one to build.
	Workers int `yaml:"workers"`
}

// DefaultEngineConfig returns sane defaults for a desktop-audio session.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SampleRate:   48000,
		BlockSize:    512,
		BlockSizeCap: 4096,
		InChannels:   2,
		OutChannels:  2,
		MaxNodes:     4096,
		MaxBuffers:   4096,
		RingCapacity: 1024,
		Workers:      1,
	}
}

func (c *EngineConfig) applyDefaults() {
	d := DefaultEngineConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.BlockSizeCap == 0 {
		c.BlockSizeCap = c.BlockSize
	}
	if c.BlockSizeCap < c.BlockSize {
		c.BlockSizeCap = c.BlockSize
	}
	if c.InChannels == 0 {
		c.InChannels = d.InChannels
	}
	if c.OutChannels == 0 {
		c.OutChannels = d.OutChannels
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = d.MaxNodes
	}
	if c.MaxBuffers == 0 {
		c.MaxBuffers = d.MaxBuffers
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = d.RingCapacity
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
}

// LoadEngineConfig reads an EngineConfig from a YAML file, filling in
// defaults for anything left unset.
func LoadEngineConfig(path string) (EngineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, err
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return EngineConfig{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// RegisterFlags wires EngineConfig fields onto a pflag.FlagSet and
// resets cfg to defaults, so flag values layer over them.
func RegisterFlags(fs *pflag.FlagSet, cfg *EngineConfig) {
	*cfg = DefaultEngineConfig()
	fs.Float64Var(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Sample rate in Hz.")
	fs.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "Nominal block size in frames.")
	fs.IntVar(&cfg.BlockSizeCap, "block-size-cap", cfg.BlockSizeCap, "Largest block size the runner will accept without internally iterating.")
	fs.IntVar(&cfg.InChannels, "in-channels", cfg.InChannels, "Graph input channel count.")
	fs.IntVar(&cfg.OutChannels, "out-channels", cfg.OutChannels, "Graph output channel count.")
	fs.IntVar(&cfg.MaxNodes, "max-nodes", cfg.MaxNodes, "Maximum live node count.")
	fs.IntVar(&cfg.MaxBuffers, "max-buffers", cfg.MaxBuffers, "Maximum buffer slot count per plan.")
	fs.IntVar(&cfg.RingCapacity, "ring-capacity", cfg.RingCapacity, "Parameter ring capacity (rounded up to a power of two).")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Parallel runner worker count (1 runs chains one at a time).")
}
