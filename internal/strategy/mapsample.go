package strategy

import (
	"math"

	"autoscope/internal/engine"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// Map-sample defaults.
const (
	defaultQualityThreshold = 0.7
	defaultMaxSurveys       = 3
)

// MapSample scans a rectangular grid around a center position, surveying
// each field in a single channel and revisiting fields whose recorded
// quality falls below the threshold. Complete once every position has been
// visited and the minimum recorded quality meets the threshold.
type MapSample struct {
	center     instrument.StagePosition
	width      float64
	height     float64
	resolution float64

	surveyChannel  string
	surveyExposure float64
	threshold      float64
	maxSurveys     int

	positions  []instrument.StagePosition
	visited    map[string]bool
	surveys    map[string]int
	pending    string // XY key of the position we moved to but not yet surveyed
	configured bool   // light path switched to the survey channel
}

// MapSampleOption tunes a MapSample strategy.
type MapSampleOption func(*MapSample)

// WithQualityThreshold overrides the revisit/completion quality threshold.
func WithQualityThreshold(t float64) MapSampleOption {
	return func(m *MapSample) { m.threshold = t }
}

// WithMaxSurveys bounds how many times one field may be surveyed.
func WithMaxSurveys(n int) MapSampleOption {
	return func(m *MapSample) { m.maxSurveys = n }
}

// NewMapSample builds a mapping strategy over a width×height region at the
// given resolution, surveying each field on the named channel.
func NewMapSample(center instrument.StagePosition, width, height, resolution float64,
	surveyChannel string, surveyExposure float64, opts ...MapSampleOption) *MapSample {
	m := &MapSample{
		center:         center,
		width:          width,
		height:         height,
		resolution:     resolution,
		surveyChannel:  surveyChannel,
		surveyExposure: surveyExposure,
		threshold:      defaultQualityThreshold,
		maxSurveys:     defaultMaxSurveys,
		visited:        make(map[string]bool),
		surveys:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.positions = m.generatePositions()
	return m
}

// Positions returns the generated grid.
func (m *MapSample) Positions() []instrument.StagePosition {
	return append([]instrument.StagePosition(nil), m.positions...)
}

// generatePositions builds the symmetric grid: steps = floor(extent/res) per
// axis, offsets from -steps/2 to steps/2 inclusive (integer floor division),
// position = center + offset*resolution. A 100×100 region at resolution 50
// yields offsets {-1,0,1} per axis, 9 positions including the center.
func (m *MapSample) generatePositions() []instrument.StagePosition {
	xSteps := int(m.width / m.resolution)
	ySteps := int(m.height / m.resolution)

	var out []instrument.StagePosition
	for i := -xSteps / 2; i <= xSteps/2; i++ {
		for j := -ySteps / 2; j <= ySteps/2; j++ {
			out = append(out, instrument.StagePosition{
				X: m.center.X + float64(i)*m.resolution,
				Y: m.center.Y + float64(j)*m.resolution,
				Z: m.center.Z,
			})
		}
	}
	return out
}

// Next surveys the field we just moved to, then prefers revisiting visited
// fields with below-threshold quality, then moves to the first unvisited
// position.
func (m *MapSample) Next(p *perception.Perception) engine.Decision {
	if m.pending != "" {
		if !m.configured {
			m.configured = true
			return engine.Act(&engine.ConfigureChannel{
				Channel:  m.surveyChannel,
				Exposure: m.surveyExposure,
			})
		}
		m.pending = ""
		return engine.Act(&engine.AcquireImage{
			Exposure: m.surveyExposure,
			Channel:  m.surveyChannel,
		})
	}

	if target, ok := m.nextTarget(p); ok {
		key := target.XYKey()
		m.visited[key] = true
		m.surveys[key]++
		m.pending = key
		return engine.Act(&engine.MoveStageTo{Target: target})
	}

	// No targets left: either everything meets the threshold or the survey
	// budget is spent on what doesn't.
	return engine.Done()
}

func (m *MapSample) nextTarget(p *perception.Perception) (instrument.StagePosition, bool) {
	// Revisits first: any visited field below threshold with budget left.
	for _, pos := range m.positions {
		key := pos.XYKey()
		if !m.visited[key] || m.surveys[key] >= m.maxSurveys {
			continue
		}
		if q, ok := p.Quality("quality@" + key); ok && q < m.threshold {
			return pos, true
		}
	}
	for _, pos := range m.positions {
		if !m.visited[pos.XYKey()] {
			return pos, true
		}
	}
	return instrument.StagePosition{}, false
}

// Complete requires every position visited and every below-threshold field
// to have spent its survey budget, so the strategy always terminates even
// when a field never reaches the threshold. Unrecorded quality counts as
// zero.
func (m *MapSample) Complete(p *perception.Perception) bool {
	if m.pending != "" {
		return false
	}
	for _, pos := range m.positions {
		key := pos.XYKey()
		if !m.visited[key] {
			return false
		}
		q, ok := p.Quality("quality@" + key)
		if !ok {
			q = 0
		}
		if q < m.threshold && m.surveys[key] < m.maxSurveys {
			return false
		}
	}
	return true
}

// MinQuality returns the lowest recorded field quality, so callers can tell
// a clean map from a best-effort one. Unrecorded quality counts as zero.
func (m *MapSample) MinQuality(p *perception.Perception) float64 {
	minQuality := math.Inf(1)
	for _, pos := range m.positions {
		q, ok := p.Quality("quality@" + pos.XYKey())
		if !ok {
			q = 0
		}
		minQuality = math.Min(minQuality, q)
	}
	return minQuality
}
