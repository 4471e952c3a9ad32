package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscope/internal/engine"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// stubStrategy replays scripted decisions and reports completion once the
// script is spent.
type stubStrategy struct {
	decisions []engine.Decision
	idx       int
	blocked   bool // idle without ever completing
}

func (s *stubStrategy) Next(p *perception.Perception) engine.Decision {
	if s.blocked {
		return engine.Idle()
	}
	if s.idx >= len(s.decisions) {
		return engine.Done()
	}
	d := s.decisions[s.idx]
	s.idx++
	return d
}

func (s *stubStrategy) Complete(p *perception.Perception) bool {
	return !s.blocked && s.idx >= len(s.decisions)
}

func move(x float64) engine.Decision {
	return engine.Act(&engine.MoveStageTo{Target: instrument.StagePosition{X: x}})
}

func TestCompositeRunsSubStrategiesInOrder(t *testing.T) {
	first := &stubStrategy{decisions: []engine.Decision{move(1), move(2)}}
	second := &stubStrategy{decisions: []engine.Decision{move(3), move(4)}}
	c := NewComposite(first, second)
	p := perception.New()

	var xs []float64
	for i := 0; i < 4; i++ {
		d := c.Next(p)
		require.Equal(t, engine.DecisionAct, d.Kind)
		xs = append(xs, d.Action.(*engine.MoveStageTo).Target.X)
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, xs)

	assert.Equal(t, engine.DecisionDone, c.Next(p).Kind)
	assert.True(t, c.Complete(p))
}

func TestCompositeBlocksOnIdleIncompleteSub(t *testing.T) {
	first := &stubStrategy{blocked: true}
	second := &stubStrategy{decisions: []engine.Decision{move(3)}}
	c := NewComposite(first, second)
	p := perception.New()

	// An idle-but-incomplete sub-strategy must not be skipped.
	d := c.Next(p)
	assert.Equal(t, engine.DecisionIdle, d.Kind)
	assert.False(t, c.Complete(p))
}

// idleComplete idles from Next but reports complete, like a strategy whose
// goal was met by earlier observations.
type idleComplete struct{}

func (idleComplete) Next(p *perception.Perception) engine.Decision { return engine.Idle() }
func (idleComplete) Complete(p *perception.Perception) bool        { return true }

func TestCompositeSkipsIdleCompleteSub(t *testing.T) {
	// A sub-strategy that idles but reports complete advances the sequence.
	first := idleComplete{}
	second := &stubStrategy{decisions: []engine.Decision{move(3)}}
	c := NewComposite(first, second)
	p := perception.New()

	d := c.Next(p)
	require.Equal(t, engine.DecisionAct, d.Kind)
	assert.Equal(t, 3.0, d.Action.(*engine.MoveStageTo).Target.X)
}

func TestCompositeEmpty(t *testing.T) {
	c := NewComposite()
	p := perception.New()
	assert.True(t, c.Complete(p))
	assert.Equal(t, engine.DecisionDone, c.Next(p).Kind)
}
