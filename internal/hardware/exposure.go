package hardware

import (
	"context"
	"fmt"
)

// ExposureOptions parameterize the auto-exposure feedback search.
type ExposureOptions struct {
	// Target is the desired fraction of the sensor ceiling for the maximum
	// pixel value.
	Target float64

	// Saturation is the ceiling fraction above which the frame counts as
	// saturated and exposure is reduced hard.
	Saturation float64

	// LowFraction is the ceiling fraction below which the search keeps
	// iterating toward Target. Held slightly below Target so a frame that
	// lands just under the target band is accepted rather than chased
	// asymptotically.
	LowFraction float64

	// ReduceFactor divides the exposure when a frame saturates.
	ReduceFactor float64

	// MaxExposure is the hard upper clamp in milliseconds.
	MaxExposure float64

	// MaxAttempts bounds the search. The search fails with
	// ErrExposureConverge once exhausted.
	MaxAttempts int
}

// DefaultExposureOptions returns the stock search parameters.
func DefaultExposureOptions() ExposureOptions {
	return ExposureOptions{
		Target:       0.5,
		Saturation:   0.95,
		LowFraction:  0.45,
		ReduceFactor: 5,
		MaxExposure:  1000,
		MaxAttempts:  10,
	}
}

// AutoExposure runs a bounded feedback search toward the target fractional
// intensity. It returns the converged exposure in milliseconds and the total
// light energy delivered (sum of attempted exposures). The rig is left
// configured at the returned exposure.
func AutoExposure(ctx context.Context, rig Rig, opts ExposureOptions) (exposure, energy float64, err error) {
	exposure, err = rig.Exposure(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("exposure readback: %w", err)
	}
	ceiling := float64(rig.MaxValue())

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := Retry(ctx, func() error { return rig.SetExposure(ctx, exposure) }); err != nil {
			return exposure, energy, err
		}
		var frame *Frame
		if err := Retry(ctx, func() error {
			var serr error
			frame, serr = rig.SnapImage(ctx)
			return serr
		}); err != nil {
			return exposure, energy, err
		}
		energy += exposure

		v := float64(frame.Max())
		if v > ceiling*opts.Saturation {
			exposure /= opts.ReduceFactor
			continue
		}
		if v/ceiling >= opts.LowFraction {
			return exposure, energy, nil
		}
		if v == 0 {
			// No signal at all; open up the same way saturation closes down,
			// still under the hard clamp.
			exposure *= opts.ReduceFactor
			if exposure > opts.MaxExposure {
				exposure = opts.MaxExposure
			}
			continue
		}
		next := opts.Target * ceiling / v * exposure
		if next > opts.MaxExposure {
			next = opts.MaxExposure
		}
		if next == exposure {
			// Clamped at the maximum; nothing more to gain.
			return exposure, energy, nil
		}
		exposure = next
	}
	return exposure, energy, fmt.Errorf("%w after %d attempts", ErrExposureConverge, opts.MaxAttempts)
}
