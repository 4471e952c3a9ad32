package hardware

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// linearRig is a minimal rig whose peak pixel value responds linearly to
// exposure, for exercising the auto-exposure search in isolation.
type linearRig struct {
	gain     float64 // counts per ms at the peak pixel
	exposure float64
	maxSet   float64 // largest exposure ever commanded
	snaps    int
}

func (r *linearRig) MoveStage(ctx context.Context, x, y float64) error { return nil }
func (r *linearRig) MoveFocus(ctx context.Context, z float64) error    { return nil }
func (r *linearRig) StagePosition(ctx context.Context) (float64, float64, error) {
	return 0, 0, nil
}
func (r *linearRig) FocusPosition(ctx context.Context) (float64, error)   { return 0, nil }
func (r *linearRig) SetChannel(ctx context.Context, channel string) error { return nil }
func (r *linearRig) Channel(ctx context.Context) (string, error)          { return "DAPI", nil }
func (r *linearRig) SetExposure(ctx context.Context, ms float64) error {
	r.exposure = ms
	if ms > r.maxSet {
		r.maxSet = ms
	}
	return nil
}
func (r *linearRig) Exposure(ctx context.Context) (float64, error) { return r.exposure, nil }
func (r *linearRig) MaxValue() uint16                              { return math.MaxUint16 }
func (r *linearRig) Temperature(ctx context.Context) (float64, error) {
	return 37, nil
}

func (r *linearRig) SnapImage(ctx context.Context) (*Frame, error) {
	r.snaps++
	peak := r.gain * r.exposure
	if peak > math.MaxUint16 {
		peak = math.MaxUint16
	}
	return &Frame{
		Pixels:    []uint16{0, 0, 0, uint16(peak)},
		Width:     2,
		Height:    2,
		Channel:   "DAPI",
		Exposure:  r.exposure,
		Timestamp: time.Now(),
	}, nil
}

func TestAutoExposureConvergesFromUnderexposure(t *testing.T) {
	rig := &linearRig{gain: 100, exposure: 10}
	opts := DefaultExposureOptions()

	exposure, energy, err := AutoExposure(context.Background(), rig, opts)
	if err != nil {
		t.Fatalf("AutoExposure = %v", err)
	}
	// One correction step lands the peak at the target fraction.
	if rig.snaps != 2 {
		t.Errorf("snaps = %d, want 2", rig.snaps)
	}
	peak := rig.gain * exposure / (float64(math.MaxUint16))
	if peak < opts.LowFraction || peak > opts.Saturation {
		t.Errorf("converged peak fraction %v outside [%v, %v]", peak, opts.LowFraction, opts.Saturation)
	}
	if energy <= exposure {
		t.Errorf("energy = %v, want > final exposure %v (sum of attempts)", energy, exposure)
	}
}

func TestAutoExposureBacksOffSaturation(t *testing.T) {
	rig := &linearRig{gain: 650, exposure: 100}
	opts := DefaultExposureOptions()

	exposure, _, err := AutoExposure(context.Background(), rig, opts)
	if err != nil {
		t.Fatalf("AutoExposure = %v", err)
	}
	if exposure >= 100 {
		t.Errorf("exposure = %v, want reduced below the saturating 100ms", exposure)
	}
	peak := rig.gain * exposure / float64(math.MaxUint16)
	if peak > opts.Saturation {
		t.Errorf("final peak fraction %v still saturated", peak)
	}
}

func TestAutoExposureStopsAtClamp(t *testing.T) {
	// Signal so dim the target is unreachable: the search must settle at the
	// clamp instead of spinning.
	rig := &linearRig{gain: 1, exposure: 10}
	opts := DefaultExposureOptions()

	exposure, _, err := AutoExposure(context.Background(), rig, opts)
	if err != nil {
		t.Fatalf("AutoExposure = %v", err)
	}
	if exposure != opts.MaxExposure {
		t.Errorf("exposure = %v, want clamp %v", exposure, opts.MaxExposure)
	}
}

func TestAutoExposureDarkSampleStaysClamped(t *testing.T) {
	// A completely dark sample keeps the zero-signal branch opening up; the
	// commanded exposure must never pass the hard clamp, and the delivered
	// energy must stay bounded by clamp times attempts.
	rig := &linearRig{gain: 0, exposure: 10}
	opts := DefaultExposureOptions()

	_, energy, err := AutoExposure(context.Background(), rig, opts)
	if !errors.Is(err, ErrExposureConverge) {
		t.Fatalf("AutoExposure = %v, want ErrExposureConverge", err)
	}
	if rig.maxSet > opts.MaxExposure {
		t.Errorf("commanded exposure reached %v, want <= clamp %v", rig.maxSet, opts.MaxExposure)
	}
	if limit := opts.MaxExposure * float64(opts.MaxAttempts); energy > limit {
		t.Errorf("energy = %v, want <= %v", energy, limit)
	}
}

func TestAutoExposureBoundedAttempts(t *testing.T) {
	// Zero signal keeps the search opening up forever; the attempt budget
	// must stop it.
	rig := &linearRig{gain: 0, exposure: 10}
	opts := DefaultExposureOptions()

	_, _, err := AutoExposure(context.Background(), rig, opts)
	if !errors.Is(err, ErrExposureConverge) {
		t.Fatalf("AutoExposure = %v, want ErrExposureConverge", err)
	}
	if rig.snaps != opts.MaxAttempts {
		t.Errorf("snaps = %d, want %d", rig.snaps, opts.MaxAttempts)
	}
}
