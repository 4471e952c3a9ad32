// Package hardware defines the opaque execution surface the control loop
// drives: stage and focus motion, channel and exposure configuration, and
// frame acquisition. Operations may block, fail transiently (communication
// fault, retried locally) or fatally. The package also carries the two
// convergence searches (auto-exposure and two-stage autofocus) that run as
// embedded sub-routines inside action execution.
package hardware

import "context"

// Rig is the hardware execution surface. Implementations wrap a real
// microscope control stack or a simulation; the control loop never sees
// anything below this interface.
type Rig interface {
	// MoveStage moves the lateral stage to absolute (x, y) in microns.
	MoveStage(ctx context.Context, x, y float64) error

	// MoveFocus moves the focus drive to absolute z in microns.
	MoveFocus(ctx context.Context, z float64) error

	// StagePosition reads back the lateral stage position.
	StagePosition(ctx context.Context) (x, y float64, err error)

	// FocusPosition reads back the focus drive position.
	FocusPosition(ctx context.Context) (float64, error)

	// SetChannel switches the light path to the named channel.
	SetChannel(ctx context.Context, channel string) error

	// Channel reads back the active channel.
	Channel(ctx context.Context) (string, error)

	// SetExposure sets the camera exposure in milliseconds. Implementations
	// clamp to their hardware envelope.
	SetExposure(ctx context.Context, ms float64) error

	// Exposure reads back the camera exposure in milliseconds.
	Exposure(ctx context.Context) (float64, error)

	// SnapImage acquires a single frame with the current configuration.
	SnapImage(ctx context.Context) (*Frame, error)

	// MaxValue returns the sensor ceiling (saturation value).
	MaxValue() uint16

	// Temperature reads back the sample chamber temperature in °C.
	Temperature(ctx context.Context) (float64, error)
}
