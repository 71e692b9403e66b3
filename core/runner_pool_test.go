package knaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTwoIndependentChains wires two disjoint sine->gain chains into
// separate output channels, so Compile partitions them into two
// TaskList.Chains entries for ParallelRunner to fan out concurrently.
func buildTwoIndependentChains(t require.TestingT, g *Graph) {
	err := g.Edit(func(s *EditScope) error {
		s1, err := s.Push(NewSine(440), "sine1")
		if err != nil {
			return err
		}
		g1, err := s.Push(NewGain(0.5), "gain1")
		if err != nil {
			return err
		}
		if err := s.Connect(s1, g1, 0, 0, false); err != nil {
			return err
		}
		if err := s.ConnectToOutput(g1, 0, 0, false); err != nil {
			return err
		}

		s2, err := s.Push(NewSine(220), "sine2")
		if err != nil {
			return err
		}
		g2, err := s.Push(NewGain(0.25), "gain2")
		if err != nil {
			return err
		}
		if err := s.Connect(s2, g2, 0, 0, false); err != nil {
			return err
		}
		return s.ConnectToOutput(g2, 0, 1, false)
	})
	require.NoError(t, err)
}

func Test_ParallelRunner_MatchesSequentialRunnerOutput(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 2
	cfg.Workers = 4

	seqGraph, err := NewGraph(cfg, nil)
	require.NoError(t, err)
	buildTwoIndependentChains(t, seqGraph)
	seq := seqGraph.NewRunner()
	seqOut := [][]float64{make([]float64, 1000), make([]float64, 1000)}
	seq.Process(seqOut, 1000)

	parGraph, err := NewGraph(cfg, nil)
	require.NoError(t, err)
	buildTwoIndependentChains(t, parGraph)
	par := parGraph.NewParallelRunner()
	parOut := [][]float64{make([]float64, 1000), make([]float64, 1000)}
	par.Process(parOut, 1000)

	for ch := range seqOut {
		for i := range seqOut[ch] {
			assert.InDelta(t, seqOut[ch][i], parOut[ch][i], 1e-9, "channel %d frame %d", ch, i)
		}
	}
}

func Test_ParallelRunner_PartitionsIntoExpectedChainCount(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.OutChannels = 2
	cfg.Workers = 2

	g, err := NewGraph(cfg, nil)
	require.NoError(t, err)
	buildTwoIndependentChains(t, g)

	r := g.NewParallelRunner()
	require.Len(t, r.active.tasks.Chains, 2, "two disjoint sine->gain chains must compile to two independent Chains")
}
