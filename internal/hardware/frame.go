package hardware

import (
	"math"
	"time"
)

// Frame is a single acquired image with its acquisition parameters.
type Frame struct {
	Pixels    []uint16
	Width     int
	Height    int
	Channel   string
	Exposure  float64 // ms
	Timestamp time.Time
}

// At returns the pixel value at (x, y). Out-of-range coordinates return 0.
func (f *Frame) At(x, y int) uint16 {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0
	}
	return f.Pixels[y*f.Width+x]
}

// Max returns the maximum pixel value.
func (f *Frame) Max() uint16 {
	var m uint16
	for _, v := range f.Pixels {
		if v > m {
			m = v
		}
	}
	return m
}

// Mean returns the mean pixel value.
func (f *Frame) Mean() float64 {
	if len(f.Pixels) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f.Pixels {
		sum += float64(v)
	}
	return sum / float64(len(f.Pixels))
}

// Std returns the standard deviation of pixel values.
func (f *Frame) Std() float64 {
	if len(f.Pixels) == 0 {
		return 0
	}
	mean := f.Mean()
	var sum float64
	for _, v := range f.Pixels {
		d := float64(v) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(f.Pixels)))
}

// FocusScore returns a sharpness metric for the frame: the mean gradient
// magnitude over the image. Higher is sharper. Any monotone sharpness measure
// satisfies the autofocus contract; ties keep the first maximum encountered.
func (f *Frame) FocusScore() float64 {
	if f.Width < 2 || f.Height < 2 {
		return 0
	}
	var sum float64
	var n int
	for y := 0; y < f.Height-1; y++ {
		for x := 0; x < f.Width-1; x++ {
			gx := float64(f.At(x+1, y)) - float64(f.At(x, y))
			gy := float64(f.At(x, y+1)) - float64(f.At(x, y))
			sum += math.Sqrt(gx*gx + gy*gy)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// SNR returns the signal-to-noise ratio of the frame, mean over standard
// deviation. Used as a per-field quality estimate.
func (f *Frame) SNR() float64 {
	std := f.Std()
	if std == 0 {
		return 0
	}
	return f.Mean() / std
}
