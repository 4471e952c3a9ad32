package engine

import (
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// Sink receives the loop's per-action and per-observation events. It is a
// side channel: sink failures must not affect the run, so implementations
// log and swallow their own errors.
type Sink interface {
	RunStarted(runID string, state instrument.State)
	ActionStarted(runID string, iteration int, name string)
	ActionFinished(runID string, iteration int, name string, result Result)
	ObservationRecorded(runID string, obs perception.Observation)
	RunFinished(runID string, iterations int, energyCost float64, runErr error)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RunStarted(string, instrument.State)            {}
func (NopSink) ActionStarted(string, int, string)              {}
func (NopSink) ActionFinished(string, int, string, Result)     {}
func (NopSink) ObservationRecorded(string, perception.Observation) {}
func (NopSink) RunFinished(string, int, float64, error)        {}

// Snapshot is a read-only copy of loop progress handed out after each
// iteration, never a live reference into the loop's working state.
type Snapshot struct {
	RunID      string
	Iteration  int
	State      instrument.State
	EnergyCost float64
	Entities   int
	LastAction string
}
