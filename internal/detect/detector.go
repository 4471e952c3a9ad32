// Package detect is the analysis surface consumed by acquisition actions:
// given a frame, it returns entity candidates with position, intensity, and
// confidence, shaped as perception observations. The threshold detector here
// stands in for a segmentation model, which is an external collaborator.
package detect

import (
	"fmt"
	"math"

	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// Detector turns an acquired frame into entity observations. The origin is
// the stage position at the center of the frame; implementations map pixel
// coordinates into stage space with the given pixel size.
type Detector interface {
	Detect(frame *hardware.Frame, origin instrument.StagePosition, pixelSize float64) []perception.Observation
}

// ThresholdDetector finds connected bright regions above mean + K·σ and
// reports one observation per region. Entity identity is assigned by spatial
// binning, so re-observing the same object at the same place yields the same
// id across frames.
type ThresholdDetector struct {
	// EntityType labels detected entities, e.g. "cell".
	EntityType string

	// K is the threshold multiplier over the background standard deviation.
	K float64

	// MinArea drops regions smaller than this many pixels.
	MinArea int

	// BinSize is the spatial bin width in microns for identity assignment.
	BinSize float64
}

// NewThresholdDetector returns a detector with stock parameters.
func NewThresholdDetector(entityType string) *ThresholdDetector {
	return &ThresholdDetector{EntityType: entityType, K: 2, MinArea: 4, BinSize: 5}
}

type region struct {
	sumX, sumY float64
	area       int
	peak       uint16
	sum        float64
}

// Detect implements Detector.
func (d *ThresholdDetector) Detect(frame *hardware.Frame, origin instrument.StagePosition, pixelSize float64) []perception.Observation {
	threshold := frame.Mean() + d.K*frame.Std()
	ceiling := float64(math.MaxUint16)

	visited := make([]bool, len(frame.Pixels))
	var regions []region
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			idx := y*frame.Width + x
			if visited[idx] || float64(frame.Pixels[idx]) < threshold {
				continue
			}
			regions = append(regions, d.flood(frame, visited, x, y, threshold))
		}
	}

	var out []perception.Observation
	for _, r := range regions {
		if r.area < d.MinArea {
			continue
		}
		cx := r.sumX / float64(r.area)
		cy := r.sumY / float64(r.area)
		pos := instrument.StagePosition{
			X: origin.X + (cx-float64(frame.Width)/2)*pixelSize,
			Y: origin.Y + (cy-float64(frame.Height)/2)*pixelSize,
			Z: origin.Z,
		}
		// Brighter, well-separated regions get higher confidence.
		confidence := math.Min(1.0, float64(r.peak)/(0.35*ceiling))

		out = append(out, perception.Observation{
			EntityID:   d.entityID(pos),
			EntityType: d.EntityType,
			Timestamp:  frame.Timestamp,
			Position:   &pos,
			Intensities: map[string]float64{
				frame.Channel: r.sum / float64(r.area),
			},
			Exposures: map[string]float64{
				frame.Channel: frame.Exposure,
			},
			QualityMetrics: map[string]float64{
				perception.MetricDetectionConfidence: confidence,
			},
			Metadata: map[string]string{"channel": frame.Channel},
		})
	}
	return out
}

// flood collects the connected region starting at (x, y) with an iterative
// 4-neighborhood fill.
func (d *ThresholdDetector) flood(frame *hardware.Frame, visited []bool, x, y int, threshold float64) region {
	var r region
	stack := [][2]int{{x, y}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		px, py := p[0], p[1]
		if px < 0 || py < 0 || px >= frame.Width || py >= frame.Height {
			continue
		}
		idx := py*frame.Width + px
		if visited[idx] || float64(frame.Pixels[idx]) < threshold {
			continue
		}
		visited[idx] = true
		v := frame.Pixels[idx]
		r.sumX += float64(px)
		r.sumY += float64(py)
		r.sum += float64(v)
		r.area++
		if v > r.peak {
			r.peak = v
		}
		stack = append(stack,
			[2]int{px + 1, py}, [2]int{px - 1, py},
			[2]int{px, py + 1}, [2]int{px, py - 1})
	}
	return r
}

// entityID bins the stage position so the same object maps to the same id
// across frames and small stage drift.
func (d *ThresholdDetector) entityID(pos instrument.StagePosition) string {
	bx := int(math.Floor(pos.X / d.BinSize))
	by := int(math.Floor(pos.Y / d.BinSize))
	return fmt.Sprintf("%s_%d_%d", d.EntityType, bx, by)
}
