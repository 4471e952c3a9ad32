package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoscope/internal/detect"
	"autoscope/internal/engine"
	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

func TestMapSampleGridIsSymmetric(t *testing.T) {
	center := instrument.StagePosition{X: 0, Y: 0, Z: 50}
	m := NewMapSample(center, 100, 100, 50, "DAPI", 30)

	positions := m.Positions()
	require.Len(t, positions, 9, "100x100 at resolution 50 is a 3x3 grid")

	seen := make(map[string]bool)
	for _, pos := range positions {
		seen[pos.XYKey()] = true
		assert.Equal(t, 50.0, pos.Z, "grid inherits the center focal plane")
	}
	assert.True(t, seen[center.XYKey()], "grid includes the center")
	// Symmetric: every position's mirror is present.
	for _, pos := range positions {
		mirror := instrument.StagePosition{X: -pos.X, Y: -pos.Y}
		assert.True(t, seen[mirror.XYKey()], "missing mirror of %s", pos.XYKey())
	}
}

func TestMapSampleConfiguresBeforeFirstSurvey(t *testing.T) {
	m := NewMapSample(instrument.StagePosition{Z: 50}, 50, 50, 50, "DAPI", 30)
	p := perception.New()

	d := m.Next(p)
	require.Equal(t, engine.DecisionAct, d.Kind)
	_, isMove := d.Action.(*engine.MoveStageTo)
	require.True(t, isMove, "first action is a move, got %s", d.Action.Name())

	d = m.Next(p)
	cc, isConfig := d.Action.(*engine.ConfigureChannel)
	require.True(t, isConfig, "light path configured before survey, got %s", d.Action.Name())
	assert.Equal(t, "DAPI", cc.Channel)

	d = m.Next(p)
	acq, isAcq := d.Action.(*engine.AcquireImage)
	require.True(t, isAcq, "survey follows configuration, got %s", d.Action.Name())
	assert.Equal(t, "DAPI", acq.Channel)
}

func TestMapSampleRunCoversEveryField(t *testing.T) {
	rig := hardware.NewSimRig(hardware.DefaultSimConfig())
	center := instrument.StagePosition{X: 0, Y: 0, Z: 50}
	m := NewMapSample(center, 100, 100, 50, "DAPI", 30)

	initial, err := engine.ReadState(context.Background(), rig, instrument.Objective{Magnification: 20})
	require.NoError(t, err)

	loop := engine.New(m, initial, rig,
		engine.WithDetector(detect.NewThresholdDetector("cell")),
		engine.WithParams(engine.TechnicalParameters{PixelSize: 1.0}))
	p, err := loop.Run(context.Background())
	require.NoError(t, err)

	for _, pos := range m.Positions() {
		q, ok := p.Quality("quality@" + pos.XYKey())
		assert.True(t, ok, "no quality recorded for %s", pos.XYKey())
		assert.Greater(t, q, 0.0)
	}
	assert.True(t, m.Complete(p))
	// Cells near the origin must have been observed on the way.
	assert.NotEmpty(t, p.EntitiesOfType("cell"))
}

func TestMapSampleRevisitBudget(t *testing.T) {
	// A threshold no field can meet forces revisits; the budget must bound
	// them and the strategy must still terminate.
	rig := hardware.NewSimRig(hardware.DefaultSimConfig())
	center := instrument.StagePosition{X: 0, Y: 0, Z: 50}
	m := NewMapSample(center, 50, 50, 50, "DAPI", 30,
		WithQualityThreshold(2.0), WithMaxSurveys(3))
	require.Len(t, m.Positions(), 1)

	initial, err := engine.ReadState(context.Background(), rig, instrument.Objective{})
	require.NoError(t, err)

	loop := engine.New(m, initial, rig)
	p, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rig.SnapCount(), "one survey per budget unit")
	assert.True(t, m.Complete(p), "budget exhaustion completes the map")
	assert.Less(t, m.MinQuality(p), 2.0)
}

func TestMapSampleNoRevisitsAboveThreshold(t *testing.T) {
	rig := hardware.NewSimRig(hardware.DefaultSimConfig())
	center := instrument.StagePosition{X: 0, Y: 0, Z: 50}
	m := NewMapSample(center, 100, 100, 50, "DAPI", 30, WithQualityThreshold(0))

	initial, err := engine.ReadState(context.Background(), rig, instrument.Objective{})
	require.NoError(t, err)

	loop := engine.New(m, initial, rig)
	_, err = loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, rig.SnapCount(), "threshold zero means one survey per field")
}
