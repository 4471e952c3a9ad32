package hardware

import (
	"context"
	"fmt"

	"autoscope/internal/instrument"
)

// FocusOptions parameterize the two-stage autofocus search.
type FocusOptions struct {
	// RangeUm is the full width of the coarse search range in microns.
	RangeUm float64

	// CoarseSteps is the number of samples in the coarse sweep.
	CoarseSteps int

	// FineSteps is the number of samples in the fine sweep.
	FineSteps int
}

// DefaultFocusOptions returns the stock search parameters.
func DefaultFocusOptions() FocusOptions {
	return FocusOptions{RangeUm: 100, CoarseSteps: 10, FineSteps: 20}
}

// Autofocus performs a coarse sweep over the full range followed by a fine
// sweep over twice the coarse step width around the coarse optimum, then
// moves the focus drive to the best position. It returns the best z, the best
// sharpness score, and the total light energy delivered during the sweeps.
func Autofocus(ctx context.Context, rig Rig, opts FocusOptions) (bestZ, bestScore, energy float64, err error) {
	center, err := rig.FocusPosition(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("focus readback: %w", err)
	}
	exposure, err := rig.Exposure(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("exposure readback: %w", err)
	}

	coarseStep := opts.RangeUm / float64(opts.CoarseSteps)

	bestZ, bestScore, err = focusSweep(ctx, rig, center, opts.RangeUm, opts.CoarseSteps)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("coarse sweep: %w", err)
	}
	energy += exposure * float64(opts.CoarseSteps)

	fineRange := coarseStep * 2
	bestZ, bestScore, err = focusSweep(ctx, rig, bestZ, fineRange, opts.FineSteps)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fine sweep: %w", err)
	}
	energy += exposure * float64(opts.FineSteps)

	if err := Retry(ctx, func() error { return rig.MoveFocus(ctx, bestZ) }); err != nil {
		return 0, 0, 0, err
	}
	return bestZ, bestScore, energy, nil
}

// focusSweep samples the sharpness score at evenly spaced z positions across
// [center-range/2, center+range/2], clamped to the focus travel envelope, and
// returns the position of the maximum. Ties keep the first maximum
// encountered.
func focusSweep(ctx context.Context, rig Rig, center, rangeUm float64, steps int) (float64, float64, error) {
	if steps < 2 {
		return center, 0, fmt.Errorf("%w: sweep needs at least 2 steps", ErrFocus)
	}
	limits := instrument.ActiveLimits()
	start := center - rangeUm/2
	stride := rangeUm / float64(steps-1)

	bestZ := center
	bestScore := -1.0
	for i := 0; i < steps; i++ {
		z := start + float64(i)*stride
		if z < 0 {
			z = 0
		}
		if z >= limits.ZMax {
			z = limits.ZMax - 1
		}
		if err := Retry(ctx, func() error { return rig.MoveFocus(ctx, z) }); err != nil {
			return 0, 0, err
		}
		var frame *Frame
		if err := Retry(ctx, func() error {
			var serr error
			frame, serr = rig.SnapImage(ctx)
			return serr
		}); err != nil {
			return 0, 0, err
		}
		if score := frame.FocusScore(); score > bestScore {
			bestScore = score
			bestZ = z
		}
	}
	return bestZ, bestScore, nil
}
