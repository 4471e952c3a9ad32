package strategy

import (
	"autoscope/internal/engine"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// FocusMap visits a list of positions and runs autofocus at each, so later
// acquisitions can interpolate the sample plane. Complete once a focal plane
// has been recorded for every position.
type FocusMap struct {
	positions  []instrument.StagePosition
	focusRange float64
	pending    string // XY key of the position we moved to but not yet focused
}

// NewFocusMap builds a focus-mapping strategy over the given positions.
func NewFocusMap(positions []instrument.StagePosition, focusRange float64) *FocusMap {
	return &FocusMap{
		positions:  append([]instrument.StagePosition(nil), positions...),
		focusRange: focusRange,
	}
}

// Next moves to the next unmapped position, then focuses once there.
func (f *FocusMap) Next(p *perception.Perception) engine.Decision {
	if f.pending != "" {
		f.pending = ""
		return engine.Act(engine.NewAutoFocus(f.focusRange))
	}
	for _, pos := range f.positions {
		if _, ok := p.Quality("focus_z@" + pos.XYKey()); ok {
			continue
		}
		f.pending = pos.XYKey()
		return engine.Act(&engine.MoveStageTo{Target: pos})
	}
	return engine.Done()
}

// Complete reports whether every position has a recorded focal plane.
func (f *FocusMap) Complete(p *perception.Perception) bool {
	if f.pending != "" {
		return false
	}
	for _, pos := range f.positions {
		if _, ok := p.Quality("focus_z@" + pos.XYKey()); !ok {
			return false
		}
	}
	return true
}
