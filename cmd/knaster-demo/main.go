// Command knaster-demo runs a handful of small end-to-end scenarios
// against the core package and prints a summary of each: constant tone,
// mid-block frequency change, smoothed gain, feedback delay, cycle
// rejection, and a self-freeing envelope. It is
// a demonstration harness, not a test suite — see core's own _test.go
// files for the properties these scenarios are drawn from.
package main

import (
	"fmt"
	"math"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	knaster "github.com/erikn/knaster/core"
)

func main() {
	var cfg knaster.EngineConfig
	knaster.RegisterFlags(pflag.CommandLine, &cfg)
	scenario := pflag.StringP("scenario", "s", "all", "Scenario to run: sine, freqchange, gain, delay, cycle, selffree, all.")
	configPath := pflag.StringP("config", "c", "", "Path to a YAML EngineConfig file; when given, its values replace the defaults and any engine flags on the command line.")
	pflag.Parse()

	if *configPath != "" {
		loaded, err := knaster.LoadEngineConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "knaster-demo:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.OutChannels = 2

	logger := knaster.NewLogger("knaster-demo")

	scenarios := map[string]func(knaster.EngineConfig, *charmlog.Logger){
		"sine":       runConstantSine,
		"freqchange": runMidBlockFreqChange,
		"gain":       runSmoothedGain,
		"delay":      runFeedbackDelay,
		"cycle":      runCycleRejection,
		"selffree":   runSelfFree,
	}

	if *scenario == "all" {
		for _, name := range []string{"sine", "freqchange", "gain", "delay", "cycle", "selffree"} {
			scenarios[name](cfg, logger)
		}
		return
	}
	run, ok := scenarios[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "knaster-demo: unknown scenario %q\n", *scenario)
		os.Exit(1)
	}
	run(cfg, logger)
}

func newGraph(cfg knaster.EngineConfig, logger *charmlog.Logger) *knaster.Graph {
	g, err := knaster.NewGraph(cfg, logger)
	if err != nil {
		panic(err)
	}
	return g
}

func runConstantSine(cfg knaster.EngineConfig, logger *charmlog.Logger) {
	g := newGraph(cfg, logger)
	var sine knaster.NodeHandle
	err := g.Edit(func(s *knaster.EditScope) error {
		h, err := s.Push(knaster.NewSine(440), "sine")
		if err != nil {
			return err
		}
		sine = h
		if err := s.ConnectToOutput(sine, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(sine, 0, 1, false)
	})
	if err != nil {
		panic(err)
	}

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024), make([]float64, 1024)}
	r.Process(out, 1024)

	maxErr := 0.0
	for i := 0; i < 1024; i++ {
		want := math.Sin(2 * math.Pi * 440 * float64(i) / cfg.SampleRate)
		if d := math.Abs(out[0][i] - want); d > maxErr {
			maxErr = d
		}
	}
	logger.Info("constant sine", "max_error", maxErr)
}

func runMidBlockFreqChange(cfg knaster.EngineConfig, logger *charmlog.Logger) {
	g := newGraph(cfg, logger)
	var sine knaster.NodeHandle
	err := g.Edit(func(s *knaster.EditScope) error {
		h, err := s.Push(knaster.NewSine(440), "sine")
		if err != nil {
			return err
		}
		sine = h
		return s.ConnectToOutput(sine, 0, 0, false)
	})
	if err != nil {
		panic(err)
	}

	d := g.Dispatcher()
	if err := sine.SetAt(d, "freq", 880, 512); err != nil {
		panic(err)
	}

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024)}
	r.Process(out, 1024)
	logger.Info("mid-block frequency change", "frame_512", out[0][512], "frame_511", out[0][511])
}

func runSmoothedGain(cfg knaster.EngineConfig, logger *charmlog.Logger) {
	g := newGraph(cfg, logger)
	var sine, gain knaster.NodeHandle
	err := g.Edit(func(s *knaster.EditScope) error {
		sh, err := s.Push(knaster.NewSine(440), "sine")
		if err != nil {
			return err
		}
		gh, err := s.Push(knaster.NewGain(0), "gain")
		if err != nil {
			return err
		}
		sine, gain = sh, gh
		if err := s.Connect(sine, gain, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(gain, 0, 0, false)
	})
	if err != nil {
		panic(err)
	}

	d := g.Dispatcher()
	if err := gain.Ramp(d, "gain", 1.0, 1024); err != nil {
		panic(err)
	}

	r := g.NewRunner()
	out := [][]float64{make([]float64, 1024)}
	r.Process(out, 1024)
	logger.Info("smoothed gain", "frame_0", out[0][0], "frame_1023", out[0][1023])
}

func runFeedbackDelay(cfg knaster.EngineConfig, logger *charmlog.Logger) {
	g := newGraph(cfg, logger)
	var input, add, delay knaster.NodeHandle
	err := g.Edit(func(s *knaster.EditScope) error {
		ih, err := s.Push(knaster.NewExternalInput(cfg.BlockSizeCap), "input")
		if err != nil {
			return err
		}
		ah, err := s.Push(knaster.NewAdd(), "add")
		if err != nil {
			return err
		}
		dh, err := s.Push(knaster.NewDelay(cfg.BlockSize, 0.5), "delay")
		if err != nil {
			return err
		}
		input, add, delay = ih, ah, dh
		if err := s.Connect(input, add, 0, 0, false); err != nil {
			return err
		}
		if err := s.Connect(delay, add, 0, 1, true); err != nil {
			return err
		}
		if err := s.Connect(add, delay, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(delay, 0, 0, false)
	})
	if err != nil {
		panic(err)
	}

	r := g.NewRunner()
	out := [][]float64{make([]float64, cfg.BlockSize*3)}
	r.Process(out, cfg.BlockSize*3)
	logger.Info("feedback delay", "frame_0", out[0][0], "echo_1", out[0][cfg.BlockSize], "echo_2", out[0][2*cfg.BlockSize])
}

func runCycleRejection(cfg knaster.EngineConfig, logger *charmlog.Logger) {
	g := newGraph(cfg, logger)
	before := g.Snapshot()
	err := g.Edit(func(s *knaster.EditScope) error {
		a, err := s.Push(knaster.NewGain(1), "a")
		if err != nil {
			return err
		}
		b, err := s.Push(knaster.NewGain(1), "b")
		if err != nil {
			return err
		}
		if err := s.Connect(a, b, 0, 0, false); err != nil {
			return err
		}
		return s.Connect(b, a, 0, 0, false)
	})
	after := g.Snapshot()
	logger.Info("cycle rejection", "rejected", err != nil, "epoch_unchanged", before.Epoch == after.Epoch)
}

func runSelfFree(cfg knaster.EngineConfig, logger *charmlog.Logger) {
	g := newGraph(cfg, logger)
	err := g.Edit(func(s *knaster.EditScope) error {
		sine, err := s.Push(knaster.NewSine(440), "sine")
		if err != nil {
			return err
		}
		env, err := s.Push(knaster.NewEnvelope(64, 64), "envelope")
		if err != nil {
			return err
		}
		if err := s.Connect(sine, env, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(env, 0, 0, false)
	})
	if err != nil {
		panic(err)
	}

	r := g.NewRunner()
	out := [][]float64{make([]float64, 256)}
	r.Process(out, 256)
	if err := g.ReapSelfFreed(); err != nil {
		panic(err)
	}
	after := g.Snapshot()
	logger.Info("self-free", "tail_sample", out[0][255], "nodes_remaining", len(after.Nodes))
}
