package pipeline

import (
	"image"
	"image/color"
	"math"
)

// ChangeGate suppresses inference on frames that are visually unchanged since
// the last frame submitted for inference
type ChangeGate struct {
	Threshold float64 // Mean absolute difference (0-255) at or below which a frame is skipped
	Stride    int     // Pixel sampling stride; 1 compares every pixel
}

// NewChangeGate creates a gate with the given threshold, comparing every pixel
func NewChangeGate(threshold float64) *ChangeGate {
	return &ChangeGate{Threshold: threshold, Stride: 1}
}

// ShouldSubmit reports whether candidate differs enough from previous to be evaluated
func (g *ChangeGate) ShouldSubmit(previous, candidate image.Image) bool {
	if g == nil {
		return true
	}
	if previous == nil {
		return true
	}
	return MeanAbsDiff(previous, candidate, g.Stride) > g.Threshold
}

// ShouldSubmit compares every pixel of the two frames against threshold.
// The first frame (previous == nil) is always submitted.
func ShouldSubmit(previous, candidate image.Image, threshold float64) bool {
	return (&ChangeGate{Threshold: threshold, Stride: 1}).ShouldSubmit(previous, candidate)
}

// MeanAbsDiff returns the mean absolute per-channel RGB difference of a and b,
// in 8-bit units. Frames with different dimensions are infinitely different.
func MeanAbsDiff(a, b image.Image, stride int) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() || ab.Empty() {
		return math.Inf(1)
	}
	if stride < 1 {
		stride = 1
	}

	pa, pb := rgbReader(a), rgbReader(b)
	var total uint64
	var samples uint64
	for dy := 0; dy < ab.Dy(); dy += stride {
		for dx := 0; dx < ab.Dx(); dx += stride {
			r1, g1, b1 := pa(ab.Min.X+dx, ab.Min.Y+dy)
			r2, g2, b2 := pb(bb.Min.X+dx, bb.Min.Y+dy)
			total += absDiff(r1, r2) + absDiff(g1, g2) + absDiff(b1, b2)
			samples += 3
		}
	}
	return float64(total) / float64(samples)
}

func absDiff(x, y uint8) uint64 {
	if x > y {
		return uint64(x - y)
	}
	return uint64(y - x)
}

// rgbReader returns a fast 8-bit RGB accessor for the common decoded image types
func rgbReader(img image.Image) func(x, y int) (uint8, uint8, uint8) {
	switch m := img.(type) {
	case *image.YCbCr:
		return func(x, y int) (uint8, uint8, uint8) {
			yi := m.YOffset(x, y)
			ci := m.COffset(x, y)
			return color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
		}
	case *image.RGBA:
		return func(x, y int) (uint8, uint8, uint8) {
			i := m.PixOffset(x, y)
			return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
		}
	case *image.NRGBA:
		return func(x, y int) (uint8, uint8, uint8) {
			i := m.PixOffset(x, y)
			return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
		}
	case *image.Gray:
		return func(x, y int) (uint8, uint8, uint8) {
			v := m.Pix[m.PixOffset(x, y)]
			return v, v, v
		}
	default:
		return func(x, y int) (uint8, uint8, uint8) {
			r, g, b, _ := img.At(x, y).RGBA()
			return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
		}
	}
}
