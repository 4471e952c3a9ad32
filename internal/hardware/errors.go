package hardware

import "errors"

// Error taxonomy for the hardware execution surface. Communication faults are
// transient and retried locally; everything else escapes to the caller and is
// treated as unrecoverable for the current run.
var (
	// ErrComm is a transient communication or readback failure. Retryable.
	ErrComm = errors.New("hardware communication failure")

	// ErrFocus is a focus subsystem failure. Not retried by the loop.
	ErrFocus = errors.New("focus operation failed")

	// ErrAcquisition is an image acquisition failure. Not retried by the loop.
	ErrAcquisition = errors.New("image acquisition failed")

	// ErrTravelLimit is returned when a move would exceed the travel envelope.
	ErrTravelLimit = errors.New("travel limit exceeded")

	// ErrExposureConverge is returned when the auto-exposure search exhausts
	// its attempt budget without reaching the target intensity band.
	ErrExposureConverge = errors.New("auto-exposure did not converge")
)
