package demmap

import (
	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

// CenterCropOrPad returns a size x size view of arr: cropped around the
// center when arr is large enough, zero-padded around the center otherwise.
func CenterCropOrPad(arr *npy.Array, size int) *npy.Array {
	h, w := arr.Shape[0], arr.Shape[1]
	out := npy.NewArray(size, size)
	if h >= size && w >= size {
		y0 := (h - size) / 2
		x0 := (w - size) / 2
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				out.Set(y, x, arr.At(y0+y, x0+x))
			}
		}
		return out
	}
	y0 := (size - h) / 2
	if y0 < 0 {
		y0 = 0
	}
	x0 := (size - w) / 2
	if x0 < 0 {
		x0 = 0
	}
	for y := 0; y < h && y0+y < size; y++ {
		for x := 0; x < w && x0+x < size; x++ {
			out.Set(y0+y, x0+x, arr.At(y, x))
		}
	}
	return out
}

// MeanDownsample reduces arr to size x size by block averaging over integer
// factors, center-cropping to a whole number of blocks first. Inputs smaller
// than the target fall back to crop-or-pad.
func MeanDownsample(arr *npy.Array, size int) *npy.Array {
	h, w := arr.Shape[0], arr.Shape[1]
	factorH := h / size
	factorW := w / size
	if factorH == 0 || factorW == 0 {
		return CenterCropOrPad(arr, size)
	}
	y0 := (h - size*factorH) / 2
	x0 := (w - size*factorW) / 2
	out := npy.NewArray(size, size)
	norm := float64(factorH * factorW)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			sum := 0.0
			for dy := 0; dy < factorH; dy++ {
				for dx := 0; dx < factorW; dx++ {
					sum += arr.At(y0+y*factorH+dy, x0+x*factorW+dx)
				}
			}
			out.Set(y, x, sum/norm)
		}
	}
	return out
}
