package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"autoscope/internal/instrument"
)

// SimCell is a synthetic fluorescent object in stage space.
type SimCell struct {
	X          float64 // µm
	Y          float64 // µm
	Brightness float64 // counts per ms of exposure at the blob peak
}

// SimConfig configures the simulated rig.
type SimConfig struct {
	Width     int
	Height    int
	PixelSize float64 // µm per pixel
	FocalZ    float64 // µm, true focal plane
	BaseLevel float64 // background counts
	Cells     []SimCell
	Limits    instrument.Limits
}

// DefaultSimConfig returns a small deterministic cell field.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Width:     64,
		Height:    64,
		PixelSize: 1.0,
		FocalZ:    50,
		BaseLevel: 100,
		Cells: []SimCell{
			{X: -12, Y: -8, Brightness: 500},
			{X: 5, Y: 14, Brightness: 450},
			{X: 18, Y: -15, Brightness: 520},
			{X: -20, Y: 16, Brightness: 480},
			{X: 0, Y: 0, Brightness: 550},
		},
		Limits: instrument.DefaultLimits(),
	}
}

// SimRig is a deterministic simulated microscope. It renders a synthetic
// cell field whose blob sharpness and amplitude peak at the configured focal
// plane, enforces the same safety clamps as the real rig, and supports
// transient-fault injection for retry tests.
type SimRig struct {
	mu  sync.Mutex
	cfg SimConfig

	x, y, z     float64
	channel     string
	exposure    float64
	temperature float64

	failMoves int
	failSnaps int
	snaps     int
}

// NewSimRig builds a simulated rig in its home configuration.
func NewSimRig(cfg SimConfig) *SimRig {
	return &SimRig{
		cfg:         cfg,
		channel:     "DAPI",
		exposure:    10,
		temperature: 37.0,
	}
}

// FailNextMoves injects n transient communication faults into stage moves.
func (r *SimRig) FailNextMoves(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failMoves = n
}

// FailNextSnaps injects n transient communication faults into acquisitions.
func (r *SimRig) FailNextSnaps(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSnaps = n
}

// SnapCount returns the number of frames acquired so far.
func (r *SimRig) SnapCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps
}

func (r *SimRig) MoveStage(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMoves > 0 {
		r.failMoves--
		return fmt.Errorf("stage move: %w", ErrComm)
	}
	if !r.cfg.Limits.AllowsStage(instrument.StagePosition{X: x, Y: y, Z: r.z}) {
		return fmt.Errorf("stage move to (%.1f, %.1f): %w", x, y, ErrTravelLimit)
	}
	r.x, r.y = x, y
	return nil
}

func (r *SimRig) MoveFocus(ctx context.Context, z float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cfg.Limits.AllowsZ(z) {
		return fmt.Errorf("focus move to %.1f: %w", z, ErrTravelLimit)
	}
	r.z = z
	return nil
}

func (r *SimRig) StagePosition(ctx context.Context) (float64, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.x, r.y, nil
}

func (r *SimRig) FocusPosition(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.z, nil
}

func (r *SimRig) SetChannel(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = channel
	return nil
}

func (r *SimRig) Channel(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel, nil
}

func (r *SimRig) SetExposure(ctx context.Context, ms float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exposure = r.cfg.Limits.ClampExposure(ms)
	return nil
}

func (r *SimRig) Exposure(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exposure, nil
}

func (r *SimRig) MaxValue() uint16 { return math.MaxUint16 }

func (r *SimRig) Temperature(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.temperature, nil
}

// SnapImage renders the current field of view. Blob width grows and peak
// amplitude falls with defocus, so both the focus score and the maximum pixel
// value peak at the focal plane.
func (r *SimRig) SnapImage(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSnaps > 0 {
		r.failSnaps--
		return nil, fmt.Errorf("snap image: %w", ErrComm)
	}
	r.snaps++

	defocus := math.Min(math.Abs(r.z-r.cfg.FocalZ), 20)
	sigma := 1.5 + 0.6*defocus
	ampScale := (1.5 / sigma) * (1.5 / sigma)

	w, h := r.cfg.Width, r.cfg.Height
	pixels := make([]uint16, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			sx := r.x + (float64(px)-float64(w)/2)*r.cfg.PixelSize
			sy := r.y + (float64(py)-float64(h)/2)*r.cfg.PixelSize

			v := r.cfg.BaseLevel
			for _, c := range r.cfg.Cells {
				dx, dy := sx-c.X, sy-c.Y
				d2 := dx*dx + dy*dy
				v += c.Brightness * r.exposure * ampScale * math.Exp(-d2/(2*sigma*sigma))
			}
			// Deterministic low-amplitude texture so out-of-focus frames
			// still have nonzero gradients.
			v += float64((px*73856093 ^ py*19349663) % 7)

			if v > math.MaxUint16 {
				v = math.MaxUint16
			}
			pixels[py*w+px] = uint16(v)
		}
	}

	return &Frame{
		Pixels:    pixels,
		Width:     w,
		Height:    h,
		Channel:   r.channel,
		Exposure:  r.exposure,
		Timestamp: time.Now(),
	}, nil
}
