package engine

import (
	"context"
	"fmt"
	"time"

	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
)

// maxAcquireExposure is the action-level exposure bound in milliseconds,
// tighter than the hardware envelope.
const maxAcquireExposure = 1000

// MoveStageTo moves the stage (and focus drive) to an absolute position.
type MoveStageTo struct {
	Target instrument.StagePosition
}

func (a *MoveStageTo) Name() string { return "move_stage" }

// Validate checks the target against the active travel envelope.
func (a *MoveStageTo) Validate(state instrument.State) bool {
	return instrument.ActiveLimits().AllowsStage(a.Target)
}

func (a *MoveStageTo) PredictState(state instrument.State) instrument.State {
	next := state.Clone()
	next.Stage = a.Target
	next.LastAction = a.Name()
	return next
}

func (a *MoveStageTo) Execute(ctx context.Context, actx ActionContext) Result {
	start := time.Now()
	err := hardware.Retry(ctx, func() error {
		return actx.Rig.MoveStage(ctx, a.Target.X, a.Target.Y)
	})
	if err == nil {
		err = hardware.Retry(ctx, func() error {
			return actx.Rig.MoveFocus(ctx, a.Target.Z)
		})
	}
	if err != nil {
		res := Failed(fmt.Errorf("move to %s: %w", a.Target.Key(), err))
		res.Duration = time.Since(start)
		return res
	}
	res := Completed(map[string]interface{}{"position": a.Target})
	res.Duration = time.Since(start)
	return res
}

// ConfigureChannel switches the light path to a channel and sets the camera
// exposure. Strategies emit it before acquiring on a channel that differs
// from the current light path source, so AcquireImage validation can stay a
// strict source==channel check.
type ConfigureChannel struct {
	Channel  string
	Exposure float64 // ms
}

func (a *ConfigureChannel) Name() string { return "configure_channel" }

func (a *ConfigureChannel) Validate(state instrument.State) bool {
	limits := instrument.ActiveLimits()
	return a.Channel != "" &&
		a.Exposure >= limits.ExposureMin && a.Exposure <= limits.ExposureMax
}

func (a *ConfigureChannel) PredictState(state instrument.State) instrument.State {
	next := state.Clone()
	next.LightPath.Source = a.Channel
	next.LightPath.Exposure = a.Exposure
	next.LastAction = a.Name()
	return next
}

func (a *ConfigureChannel) Execute(ctx context.Context, actx ActionContext) Result {
	start := time.Now()
	err := hardware.Retry(ctx, func() error {
		return actx.Rig.SetChannel(ctx, a.Channel)
	})
	if err == nil {
		err = hardware.Retry(ctx, func() error {
			return actx.Rig.SetExposure(ctx, a.Exposure)
		})
	}
	if err != nil {
		res := Failed(fmt.Errorf("configure channel %s: %w", a.Channel, err))
		res.Duration = time.Since(start)
		return res
	}
	res := Completed(map[string]interface{}{"channel": a.Channel, "exposure": a.Exposure})
	res.Duration = time.Since(start)
	return res
}

// AcquireImage acquires a single frame on the given channel. If a detector
// is attached to the context, detected entities are emitted as observations;
// a per-field quality score is always recorded. With AutoExpose set, the
// bounded auto-exposure search runs first.
type AcquireImage struct {
	Exposure   float64 // ms
	Channel    string
	AutoExpose bool
}

func (a *AcquireImage) Name() string { return "acquire_image" }

// Validate requires the light path to already be on the requested channel
// and the exposure to be inside the action-level bound.
func (a *AcquireImage) Validate(state instrument.State) bool {
	return state.LightPath.Source == a.Channel &&
		a.Exposure > 0 && a.Exposure <= maxAcquireExposure
}

func (a *AcquireImage) PredictState(state instrument.State) instrument.State {
	next := state.Clone()
	next.LightPath.Exposure = a.Exposure
	next.LastAction = a.Name()
	return next
}

func (a *AcquireImage) Execute(ctx context.Context, actx ActionContext) Result {
	start := time.Now()
	exposure := a.Exposure
	var energy float64

	if err := hardware.Retry(ctx, func() error {
		return actx.Rig.SetExposure(ctx, exposure)
	}); err != nil {
		return a.failed(start, energy, err)
	}

	if a.AutoExpose {
		opts := hardware.DefaultExposureOptions()
		converged, spent, err := hardware.AutoExposure(ctx, actx.Rig, opts)
		energy += spent
		if err != nil {
			return a.failed(start, energy, fmt.Errorf("%w: %v", hardware.ErrAcquisition, err))
		}
		exposure = converged
	}

	var frame *hardware.Frame
	if err := hardware.Retry(ctx, func() error {
		var serr error
		frame, serr = actx.Rig.SnapImage(ctx)
		return serr
	}); err != nil {
		return a.failed(start, energy, fmt.Errorf("%w: %v", hardware.ErrAcquisition, err))
	}
	energy += exposure

	res := Completed(map[string]interface{}{
		"image":    frame,
		"exposure": exposure,
		"channel":  a.Channel,
	})
	res.Duration = time.Since(start)
	res.EnergyCost = energy

	// Per-field quality, keyed laterally so focus changes do not fragment it.
	quality := frameQuality(frame)
	res.Quality = map[string]float64{
		"quality@" + actx.State.Stage.XYKey(): quality,
	}

	if actx.Detector != nil {
		res.Observations = actx.Detector.Detect(frame, actx.State.Stage, actx.Params.PixelSize)
	}
	return res
}

func (a *AcquireImage) failed(start time.Time, energy float64, err error) Result {
	res := Failed(fmt.Errorf("acquire %s: %w", a.Channel, err))
	res.Duration = time.Since(start)
	res.EnergyCost = energy
	return res
}

// frameQuality maps the frame's SNR into (0, 1).
func frameQuality(f *hardware.Frame) float64 {
	snr := f.SNR()
	return snr / (snr + 1)
}

// AutoFocus runs the two-stage focus search around the current focus
// position and records the resulting focal plane as a per-field metric.
type AutoFocus struct {
	RangeUm     float64
	CoarseSteps int
	FineSteps   int
}

// NewAutoFocus returns an autofocus action with stock sweep parameters.
func NewAutoFocus(rangeUm float64) *AutoFocus {
	opts := hardware.DefaultFocusOptions()
	return &AutoFocus{RangeUm: rangeUm, CoarseSteps: opts.CoarseSteps, FineSteps: opts.FineSteps}
}

func (a *AutoFocus) Name() string { return "autofocus" }

// Validate checks that the sweep center is inside the focus travel envelope.
// The sweep itself clamps its samples to the envelope.
func (a *AutoFocus) Validate(state instrument.State) bool {
	return a.RangeUm > 0 && instrument.ActiveLimits().AllowsZ(state.Stage.Z)
}

func (a *AutoFocus) PredictState(state instrument.State) instrument.State {
	// The converged z is execution-dependent; prediction only marks the
	// action, matching the readback-free state model.
	next := state.Clone()
	next.LastAction = a.Name()
	return next
}

func (a *AutoFocus) Execute(ctx context.Context, actx ActionContext) Result {
	start := time.Now()
	opts := hardware.FocusOptions{
		RangeUm:     a.RangeUm,
		CoarseSteps: a.CoarseSteps,
		FineSteps:   a.FineSteps,
	}
	bestZ, bestScore, energy, err := hardware.Autofocus(ctx, actx.Rig, opts)
	if err != nil {
		res := Failed(fmt.Errorf("%w: %v", hardware.ErrFocus, err))
		res.Duration = time.Since(start)
		res.EnergyCost = energy
		return res
	}

	res := Completed(map[string]interface{}{
		"focus_position": bestZ,
		"focus_score":    bestScore,
	})
	res.Duration = time.Since(start)
	res.EnergyCost = energy
	res.Quality = map[string]float64{
		"focus_z@" + actx.State.Stage.XYKey(): bestZ,
	}
	return res
}
