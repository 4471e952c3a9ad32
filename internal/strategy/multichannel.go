package strategy

import (
	"sort"

	"autoscope/internal/engine"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// positionTolerance is the per-axis stage tolerance in microns for "already
// at the target position".
const positionTolerance = 0.1

// MultiChannel acquires one image per channel at a fixed position, moving
// there first if needed and switching the light path before each channel.
// Channel order is sorted by name so runs are deterministic. Complete once
// every channel has been acquired.
type MultiChannel struct {
	channels   map[string]float64 // channel -> exposure ms
	order      []string
	position   instrument.StagePosition
	autoExpose bool

	acquired   map[string]bool
	configured string // channel the light path was last switched to
	pendingAcq string // channel configured but not yet acquired
}

// NewMultiChannel builds a multi-channel acquisition strategy.
func NewMultiChannel(channels map[string]float64, position instrument.StagePosition) *MultiChannel {
	order := make([]string, 0, len(channels))
	for ch := range channels {
		order = append(order, ch)
	}
	sort.Strings(order)
	return &MultiChannel{
		channels: channels,
		order:    order,
		position: position,
		acquired: make(map[string]bool),
	}
}

// WithAutoExposure enables the auto-exposure search before each acquisition.
func (m *MultiChannel) WithAutoExposure() *MultiChannel {
	m.autoExpose = true
	return m
}

// Next ensures the stage is at the target position, then works through the
// channels: configure light path, acquire, next channel.
func (m *MultiChannel) Next(p *perception.Perception) engine.Decision {
	if cur, ok := p.CurrentPosition(); !ok || !cur.WithinTolerance(m.position, positionTolerance) {
		return engine.Act(&engine.MoveStageTo{Target: m.position})
	}

	if m.pendingAcq != "" {
		ch := m.pendingAcq
		m.pendingAcq = ""
		m.acquired[ch] = true
		return engine.Act(&engine.AcquireImage{
			Exposure:   m.channels[ch],
			Channel:    ch,
			AutoExpose: m.autoExpose,
		})
	}

	for _, ch := range m.order {
		if m.acquired[ch] {
			continue
		}
		if m.configured != ch {
			m.configured = ch
			m.pendingAcq = ch
			return engine.Act(&engine.ConfigureChannel{
				Channel:  ch,
				Exposure: m.channels[ch],
			})
		}
		m.acquired[ch] = true
		return engine.Act(&engine.AcquireImage{
			Exposure:   m.channels[ch],
			Channel:    ch,
			AutoExpose: m.autoExpose,
		})
	}
	return engine.Done()
}

// Complete reports whether every channel has been acquired.
func (m *MultiChannel) Complete(p *perception.Perception) bool {
	return len(m.acquired) == len(m.channels) && m.pendingAcq == ""
}
