// Package depthview renders depth frames as colour images with user
// segmentation, skeleton overlays and status labels.
package depthview

import (
	"errors"
	"fmt"
	"unsafe"

	"gocv.io/x/gocv"
)

// MaxDepth is the exclusive upper bound of depth values, in millimetres,
// that take part in the histogram. Larger readings are drawn as no reading.
const MaxDepth = 10000

// Histogram maps a depth value to a brightness in [0, 1]. Nearer points are
// brighter: the value is one minus the fraction of valid points at or nearer
// than that depth.
type Histogram []float64

// NewHistogram builds the cumulative depth histogram of a frame.
// Zero depth values are ignored.
func NewHistogram(depth []uint16) (Histogram, error) {
	if len(depth) == 0 {
		return cumulative(make([]float64, MaxDepth)), nil
	}

	src, err := depthMat(1, len(depth), depth)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return histogramOf(src)
}

// histogramOf counts the readings of a CV16UC1 depth Mat. Bin i holds depth
// i+1, so zero readings and readings at or beyond MaxDepth fall outside.
func histogramOf(depth gocv.Mat) (Histogram, error) {
	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	err := gocv.CalcHist([]gocv.Mat{depth}, []int{0}, mask, &hist, []int{MaxDepth - 1}, []float64{1, MaxDepth}, false)
	if err != nil {
		return nil, fmt.Errorf("depth histogram: %w", err)
	}

	counts := make([]float64, MaxDepth)
	for i := 0; i < hist.Rows() && i+1 < MaxDepth; i++ {
		counts[i+1] = float64(hist.GetFloatAt(i, 0))
	}
	return cumulative(counts), nil
}

// cumulative turns per-depth counts into brightness values in place.
func cumulative(counts []float64) Histogram {
	h := Histogram(counts)
	for i := 1; i < len(h); i++ {
		h[i] += h[i-1]
	}

	points := h[len(h)-1]
	if points > 0 {
		for i := 1; i < len(h); i++ {
			h[i] = 1 - h[i]/points
		}
	}
	return h
}

// Value returns the brightness of depth d, or 0 outside the histogram.
func (h Histogram) Value(d uint16) float64 {
	if d == 0 || int(d) >= len(h) {
		return 0
	}
	return h[d]
}

// Brightness returns one 8-bit grey level per depth reading.
func (h Histogram) Brightness(depth []uint16) []byte {
	out := make([]byte, len(depth))
	for i, d := range depth {
		out[i] = byte(h.Value(d) * 255)
	}
	return out
}

// depthMat wraps 16-bit samples in a single channel Mat. The Mat shares
// memory with v.
func depthMat(rows, cols int, v []uint16) (gocv.Mat, error) {
	if len(v) == 0 || len(v) != rows*cols {
		return gocv.NewMat(), errors.New("depth buffer does not match frame size")
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), 2*len(v))
	m, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV16UC1, b)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create depth mat: %w", err)
	}
	return m, nil
}
