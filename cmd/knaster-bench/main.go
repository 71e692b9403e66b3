// Command knaster-bench is a no-allocation assertion harness: it builds
// a small steady-state graph, runs Runner.Process at a handful of block
// sizes, and reports whether any of them allocated. It also drains the
// anomaly ring into a rotating log file, the diagnostic surface the
// audio thread gets in place of an allocating logger.
package main

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lestrrat-go/strftime"
	"golang.org/x/sync/errgroup"

	knaster "github.com/erikn/knaster/core"
)

func main() {
	cfg := knaster.DefaultEngineConfig()
	logger := knaster.NewLogger("knaster-bench")

	blockSizes := []int{1, 64, 128, 512, 1024, cfg.BlockSizeCap}
	results := make([]float64, len(blockSizes))

	// One graph per block size: a graph supports at most one active
	// runner, so each concurrent measurement gets its own graph and
	// rings rather than sharing one.
	graphs := make([]*knaster.Graph, len(blockSizes))
	for i := range blockSizes {
		g, err := knaster.NewGraph(cfg, logger)
		if err != nil {
			logger.Fatal("build graph", "err", err)
		}
		if err := buildSteadyStateGraph(g); err != nil {
			logger.Fatal("build steady-state graph", "err", err)
		}
		graphs[i] = g
	}

	grp, _ := errgroup.WithContext(context.Background())
	for i, n := range blockSizes {
		i, n := i, n
		grp.Go(func() error {
			r := graphs[i].NewRunner()
			out := [][]float64{make([]float64, n), make([]float64, n)}
			results[i] = testing.AllocsPerRun(50, func() { r.Process(out, n) })
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		logger.Fatal("bench run", "err", err)
	}

	failed := false
	for i, n := range blockSizes {
		logger.Info("block processed", "frames", n, "allocs_per_run", results[i])
		if results[i] > 0 {
			failed = true
		}
	}

	for _, g := range graphs {
		if err := rotateAnomalyLog(g); err != nil {
			logger.Warn("anomaly log rotation", "err", err)
			break
		}
	}

	if failed {
		logger.Error("allocation detected on the audio-thread path")
		os.Exit(1)
	}
}

func buildSteadyStateGraph(g *knaster.Graph) error {
	return g.Edit(func(s *knaster.EditScope) error {
		sine, err := s.Push(knaster.NewSine(440), "sine")
		if err != nil {
			return err
		}
		gain, err := s.Push(knaster.NewGain(0.5), "gain")
		if err != nil {
			return err
		}
		if err := s.Connect(sine, gain, 0, 0, false); err != nil {
			return err
		}
		if err := s.ConnectToOutput(gain, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(gain, 0, 1, false)
	})
}

// rotateAnomalyLog drains the graph's anomaly ring and appends it to a
// date-stamped log file.
func rotateAnomalyLog(g *knaster.Graph) error {
	name, err := strftime.Format("knaster-anomalies-%Y%m%d.log", time.Now())
	if err != nil {
		return fmt.Errorf("knaster-bench: format log name: %w", err)
	}

	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("knaster-bench: open anomaly log: %w", err)
	}
	defer f.Close()

	for _, rec := range g.DrainAnomalies() {
		if _, err := fmt.Fprintf(f, "%s %s %d\n", time.Now().Format(time.RFC3339), rec.Tag, rec.Value); err != nil {
			return err
		}
	}
	return nil
}
