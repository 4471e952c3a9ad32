// Package engine implements the action-perception loop: the action state
// machine, the instrument-state validation contract, and the control loop
// that drives a strategy against hardware while folding observations into
// perception.
package engine

import (
	"context"
	"time"

	"autoscope/internal/detect"
	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// Status is the lifecycle state of an action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TechnicalParameters carries per-experiment acquisition settings into
// action execution.
type TechnicalParameters struct {
	PixelSize      float64            // µm per pixel
	TimeResolution float64            // s
	Channels       map[string]float64 // channel -> exposure ms
}

// ActionContext is the read-only bundle handed to Execute. It is created
// fresh per loop iteration.
type ActionContext struct {
	State     instrument.State
	Rig       hardware.Rig
	Detector  detect.Detector
	Params    TechnicalParameters
	Timestamp time.Time
	Metadata  map[string]string
}

// Result is the outcome of one action execution. EnergyCost tracks the light
// exposure delivered to the sample; the loop accumulates it for reporting but
// does not bound it.
type Result struct {
	Status       Status
	Data         map[string]interface{}
	Err          string
	Duration     time.Duration
	EnergyCost   float64
	Observations []perception.Observation
	Quality      map[string]float64
}

// Completed returns a successful result with the given payload.
func Completed(data map[string]interface{}) Result {
	return Result{Status: StatusCompleted, Data: data}
}

// Failed returns a failed result carrying the error message.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err.Error()}
}

// Action is a polymorphic unit of work. Validate is a pure predicate checked
// by the loop before execution; PredictState is a pure function computing the
// state a successful execution would produce; Execute performs the real
// operation. Transient communication faults are retried inside Execute, never
// by the loop.
type Action interface {
	// Name identifies the action kind for logging and telemetry.
	Name() string

	// Validate reports whether executing in the given state would respect
	// hardware and safety constraints. Checked before execution, never
	// inside it.
	Validate(state instrument.State) bool

	// PredictState computes the state resulting from a successful execution
	// without re-reading hardware. It must not modify its argument.
	PredictState(state instrument.State) instrument.State

	// Execute performs the operation. Failures are captured in the Result,
	// not raised; context cancellation surfaces as a Failed result too.
	Execute(ctx context.Context, actx ActionContext) Result
}

// ReadState builds the initial instrument state from a live hardware
// readback. Called once at loop start.
func ReadState(ctx context.Context, rig hardware.Rig, objective instrument.Objective) (instrument.State, error) {
	var st instrument.State
	st.Objective = objective

	x, y, err := rig.StagePosition(ctx)
	if err != nil {
		return st, err
	}
	z, err := rig.FocusPosition(ctx)
	if err != nil {
		return st, err
	}
	st.Stage = instrument.StagePosition{X: x, Y: y, Z: z}

	ch, err := rig.Channel(ctx)
	if err != nil {
		return st, err
	}
	exp, err := rig.Exposure(ctx)
	if err != nil {
		return st, err
	}
	st.LightPath = instrument.LightPath{Source: ch, Exposure: exp, Intensity: 100}

	temp, err := rig.Temperature(ctx)
	if err != nil {
		return st, err
	}
	st.Temperature = temp
	return st, nil
}
