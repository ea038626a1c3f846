// Package padding applies and removes the bottom/right reflection borders
// that surround a network pass.
package padding

import (
	"fmt"
	"image"

	"srtile/internal/models"
)

// Modulus returns the divisor the spatial dimensions must satisfy before a
// network with the given scale runs. Scale 2 networks pixel-unshuffle by 2
// and scale 1 networks by 4; other scales need no mod padding.
func Modulus(scale int) int {
	switch scale {
	case 2:
		return 2
	case 1:
		return 4
	default:
		return 1
	}
}

// ModPadAmount returns the minimal non-negative pad making n divisible by mod
func ModPadAmount(n, mod int) int {
	if mod <= 1 || n%mod == 0 {
		return 0
	}
	return mod - n%mod
}

// ApplyPrePad reflects prePad pixels onto the bottom and right edges
func ApplyPrePad(t *models.Tensor, prePad int) *models.Tensor {
	if prePad <= 0 {
		return t.Clone()
	}
	return Reflect(t, prePad, prePad)
}

// ApplyModPad reflects the minimal bottom/right border so both spatial
// dimensions become divisible by Modulus(scale)
func ApplyModPad(t *models.Tensor, scale int) (*models.Tensor, int, int) {
	mod := Modulus(scale)
	padH := ModPadAmount(t.H, mod)
	padW := ModPadAmount(t.W, mod)
	if padH == 0 && padW == 0 {
		return t.Clone(), 0, 0
	}
	return Reflect(t, padH, padW), padH, padW
}

// RemovePad strips the mod pad and then the pre pad, both scaled, from the
// bottom/right of a model output
func RemovePad(t *models.Tensor, pad models.PadSpec, scale int) (*models.Tensor, error) {
	h := t.H - pad.ModH*scale
	w := t.W - pad.ModW*scale
	h -= pad.Pre * scale
	w -= pad.Pre * scale
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("cannot crop %dx%d output by pads %+v at scale %d", t.W, t.H, pad, scale)
	}
	return t.Crop(image.Rect(0, 0, w, h)), nil
}

// Reflect pads the bottom by padH and the right by padW, mirroring about
// the last row/column without repeating it
func Reflect(t *models.Tensor, padH, padW int) *models.Tensor {
	out := models.NewTensor(t.C, t.H+padH, t.W+padW)
	cols := make([]int, out.W)
	for x := range cols {
		cols[x] = reflectIndex(x, t.W)
	}
	for c := 0; c < t.C; c++ {
		for y := 0; y < out.H; y++ {
			src := t.Data[t.Index(c, reflectIndex(y, t.H), 0):]
			dst := out.Data[out.Index(c, y, 0):]
			copy(dst[:t.W], src[:t.W])
			for x := t.W; x < out.W; x++ {
				dst[x] = src[cols[x]]
			}
		}
	}
	return out
}

// reflectIndex maps i onto [0, n) by mirroring. Indices more than one
// period away keep folding.
func reflectIndex(i, n int) int {
	if n <= 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
