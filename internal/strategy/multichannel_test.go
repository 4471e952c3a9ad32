package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscope/internal/engine"
	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// countingSink tallies actions by name.
type countingSink struct {
	engine.NopSink
	counts map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{counts: make(map[string]int)}
}

func (s *countingSink) ActionStarted(runID string, iteration int, name string) {
	s.counts[name]++
}

func TestMultiChannelAcquiresEveryChannelWithOneMove(t *testing.T) {
	rig := hardware.NewSimRig(hardware.DefaultSimConfig())
	pos := instrument.StagePosition{X: 10, Y: 10, Z: 50}
	m := NewMultiChannel(map[string]float64{"DAPI": 30, "FITC": 200}, pos)

	initial, err := engine.ReadState(context.Background(), rig, instrument.Objective{})
	require.NoError(t, err)

	sink := newCountingSink()
	loop := engine.New(m, initial, rig, engine.WithSink(sink))
	p, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sink.counts["move_stage"], "exactly one move to the target")
	assert.Equal(t, 2, sink.counts["acquire_image"], "exactly one acquisition per channel")
	assert.Equal(t, 2, sink.counts["configure_channel"])
	assert.True(t, m.Complete(p))

	// The rig ends on the last channel in sorted order.
	ch, _ := rig.Channel(context.Background())
	assert.Equal(t, "FITC", ch)
}

func TestMultiChannelNoMoveWhenRunStartsAtTarget(t *testing.T) {
	// The loop seeds perception with the starting stage position, so a run
	// that begins at the acquisition target never moves.
	rig := hardware.NewSimRig(hardware.DefaultSimConfig())
	initial, err := engine.ReadState(context.Background(), rig, instrument.Objective{})
	require.NoError(t, err)

	m := NewMultiChannel(map[string]float64{"DAPI": 30}, initial.Stage)
	sink := newCountingSink()
	loop := engine.New(m, initial, rig, engine.WithSink(sink))
	p, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sink.counts["move_stage"], "already at the target")
	assert.Equal(t, 1, sink.counts["acquire_image"])
	assert.True(t, m.Complete(p))
}

func TestMultiChannelSkipsMoveWhenAlreadyThere(t *testing.T) {
	pos := instrument.StagePosition{X: 10, Y: 10, Z: 50}
	m := NewMultiChannel(map[string]float64{"DAPI": 30}, pos)
	p := perception.New()
	p.SetCurrentPosition(pos)

	d := m.Next(p)
	require.Equal(t, engine.DecisionAct, d.Kind)
	_, isMove := d.Action.(*engine.MoveStageTo)
	assert.False(t, isMove, "no move needed at the target position")
}

func TestMultiChannelDeterministicOrder(t *testing.T) {
	pos := instrument.StagePosition{Z: 50}
	p := perception.New()
	p.SetCurrentPosition(pos)

	m := NewMultiChannel(map[string]float64{"TxRed": 200, "DAPI": 30, "FITC": 200}, pos)
	var order []string
	for {
		d := m.Next(p)
		if d.Kind != engine.DecisionAct {
			break
		}
		if cc, ok := d.Action.(*engine.ConfigureChannel); ok {
			order = append(order, cc.Channel)
		}
	}
	assert.Equal(t, []string{"DAPI", "FITC", "TxRed"}, order)
}

func TestMultiChannelAutoExposureFlag(t *testing.T) {
	pos := instrument.StagePosition{Z: 50}
	p := perception.New()
	p.SetCurrentPosition(pos)

	m := NewMultiChannel(map[string]float64{"DAPI": 30}, pos).WithAutoExposure()
	m.Next(p) // configure
	d := m.Next(p)
	acq, ok := d.Action.(*engine.AcquireImage)
	require.True(t, ok)
	assert.True(t, acq.AutoExpose)
}
