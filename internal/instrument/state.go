// Package instrument models the physical configuration of the microscope:
// stage position, objective, light path, and the safety limits that gate
// every action before it is allowed to touch hardware. State values are
// immutable by convention: an action produces a wholly new State via
// prediction, never a mutation in place.
package instrument

import (
	"fmt"
	"math"
	"sync"
)

// StagePosition is a 3D stage position in microns.
type StagePosition struct {
	X float64
	Y float64
	Z float64
}

// DistanceTo returns the Euclidean distance to another position in microns.
func (p StagePosition) DistanceTo(o StagePosition) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// WithinTolerance reports whether every axis is within tol microns of o.
func (p StagePosition) WithinTolerance(o StagePosition, tol float64) bool {
	return math.Abs(p.X-o.X) < tol &&
		math.Abs(p.Y-o.Y) < tol &&
		math.Abs(p.Z-o.Z) < tol
}

// Key returns a stable string key for the position, suitable for map lookups
// shared between strategies and perception quality metrics.
func (p StagePosition) Key() string {
	return fmt.Sprintf("(%.1f,%.1f,%.1f)", p.X, p.Y, p.Z)
}

// XYKey returns a stable key over the lateral axes only. Focus sweeps change
// Z under the same field of view, so per-field bookkeeping is keyed on XY.
func (p StagePosition) XYKey() string {
	return fmt.Sprintf("(%.1f,%.1f)", p.X, p.Y)
}

// Objective describes the optical configuration. Immutable per session.
type Objective struct {
	Magnification     float64
	NumericalAperture float64
	WorkingDistance   float64 // mm
	IsAir             bool
}

// LightPath is the current illumination and detection configuration.
type LightPath struct {
	Source    string  // e.g. "brightfield", "DAPI", "FITC"
	Intensity float64 // percent
	Exposure  float64 // ms
	Filters   []string
}

func (lp LightPath) clone() LightPath {
	out := lp
	if lp.Filters != nil {
		out.Filters = append([]string(nil), lp.Filters...)
	}
	return out
}

// State is a complete snapshot of the microscope system. It is created once
// at loop start from a live readback and superseded once per loop iteration
// by action prediction.
type State struct {
	Objective   Objective
	Stage       StagePosition
	LightPath   LightPath
	Temperature float64 // °C
	LastAction  string
}

// Clone returns a deep copy so predictions never alias the original.
func (s State) Clone() State {
	out := s
	out.LightPath = s.LightPath.clone()
	return out
}

// Limits holds the safety thresholds consulted by action validation.
// Defaults mirror the hardware envelope of the reference rig.
type Limits struct {
	ExposureMin float64 // ms
	ExposureMax float64 // ms
	ZMax        float64 // µm, upper focus travel limit
	XYMax       float64 // µm, symmetric stage travel limit per axis
}

// DefaultLimits returns the stock safety envelope.
func DefaultLimits() Limits {
	return Limits{
		ExposureMin: 0.01,
		ExposureMax: 2000,
		ZMax:        5000,
		XYMax:       50000,
	}
}

// ClampExposure forces an exposure into the allowed range.
func (l Limits) ClampExposure(ms float64) float64 {
	if ms < l.ExposureMin {
		return l.ExposureMin
	}
	if ms > l.ExposureMax {
		return l.ExposureMax
	}
	return ms
}

// AllowsStage reports whether the XY target is inside the travel envelope.
func (l Limits) AllowsStage(p StagePosition) bool {
	return math.Abs(p.X) <= l.XYMax && math.Abs(p.Y) <= l.XYMax && l.AllowsZ(p.Z)
}

// AllowsZ reports whether the focus target is below the upper travel limit.
func (l Limits) AllowsZ(z float64) bool {
	return z >= 0 && z < l.ZMax
}

var (
	limitsMu     sync.RWMutex
	activeLimits = DefaultLimits()
)

// ActiveLimits returns the safety limits currently in force.
func ActiveLimits() Limits {
	limitsMu.RLock()
	defer limitsMu.RUnlock()
	return activeLimits
}

// SetActiveLimits installs new safety limits, typically from a config reload.
func SetActiveLimits(l Limits) {
	limitsMu.Lock()
	defer limitsMu.Unlock()
	activeLimits = l
}
