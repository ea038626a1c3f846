// Package normalize converts integer rasters to the float working
// representation consumed by the enhancement networks and back.
package normalize

import (
	"fmt"
	"math"

	"srtile/internal/models"
)

// Luminance weights used when collapsing three channels to one
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Normalized is the result of Normalize
type Normalized struct {
	// Color is the 3-channel working tensor
	Color *models.Tensor

	// Alpha is the 1-channel alpha plane, nil unless Mode is RGBA
	Alpha *models.Tensor

	// Mode is the color layout detected on the input
	Mode models.ColorMode

	// Domain is the value domain selected from the input's maximum sample
	Domain models.ValueDomain
}

// DetectDomain selects the 16-bit domain when any sample exceeds 255.
// The raster's declared depth is ignored.
func DetectDomain(r *models.Raster) models.ValueDomain {
	if r.MaxSample() > 255 {
		return models.Domain16
	}
	return models.Domain8
}

// DetectMode maps a channel count to a color mode
func DetectMode(channels int) (models.ColorMode, error) {
	switch channels {
	case 0, 1:
		return models.Gray, nil
	case 3:
		return models.RGB, nil
	case 4:
		return models.RGBA, nil
	default:
		return 0, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// Normalize converts a raster into a 3-channel tensor in [0,1] plus an
// optional alpha plane. Grayscale input is replicated to three channels.
func Normalize(r *models.Raster) (*Normalized, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	mode, err := DetectMode(r.Channels)
	if err != nil {
		return nil, err
	}
	domain := DetectDomain(r)
	div := float32(domain.Divisor())

	n := &Normalized{
		Color:  models.NewTensor(3, r.Height, r.Width),
		Mode:   mode,
		Domain: domain,
	}
	if mode == models.RGBA {
		n.Alpha = models.NewTensor(1, r.Height, r.Width)
	}

	stride := r.Stride()
	plane := r.Width * r.Height
	for i := 0; i < plane; i++ {
		px := r.Pix[i*stride : (i+1)*stride]
		if mode == models.Gray {
			v := float32(px[0]) / div
			n.Color.Data[i] = v
			n.Color.Data[plane+i] = v
			n.Color.Data[2*plane+i] = v
			continue
		}
		for c := 0; c < 3; c++ {
			n.Color.Data[c*plane+i] = float32(px[c]) / div
		}
		if n.Alpha != nil {
			n.Alpha.Data[i] = float32(px[3]) / div
		}
	}
	return n, nil
}

// Replicate expands a 1-channel plane to three identical channels
func Replicate(plane *models.Tensor) *models.Tensor {
	out := models.NewTensor(3, plane.H, plane.W)
	src := plane.Plane(0)
	for c := 0; c < 3; c++ {
		copy(out.Plane(c), src)
	}
	return out
}

// Collapse reduces a 3-channel tensor to one luminance channel
func Collapse(t *models.Tensor) *models.Tensor {
	out := models.NewTensor(1, t.H, t.W)
	r, g, b := t.Plane(0), t.Plane(1), t.Plane(2)
	for i := range out.Data {
		out.Data[i] = lumaR*r[i] + lumaG*g[i] + lumaB*b[i]
	}
	return out
}

// Denormalize converts a color tensor (and an alpha plane for RGBA) back
// into an integer raster in the given domain. Values outside [0,1] are
// clamped before scaling.
func Denormalize(color, alpha *models.Tensor, mode models.ColorMode, domain models.ValueDomain) (*models.Raster, error) {
	if color == nil || color.C != 3 {
		return nil, fmt.Errorf("color tensor must have 3 channels")
	}
	if mode == models.RGBA {
		if alpha == nil {
			return nil, fmt.Errorf("RGBA output requires an alpha plane")
		}
		if alpha.H != color.H || alpha.W != color.W {
			return nil, fmt.Errorf("alpha plane is %dx%d, color is %dx%d", alpha.W, alpha.H, color.W, color.H)
		}
	}

	div := domain.Divisor()
	plane := color.H * color.W
	var out *models.Raster
	switch mode {
	case models.Gray:
		out = models.NewRaster(color.W, color.H, 1, domain.Depth())
		gray := Collapse(color)
		for i := 0; i < plane; i++ {
			out.Pix[i] = quantize(gray.Data[i], div)
		}
	case models.RGB, models.RGBA:
		channels := 3
		if mode == models.RGBA {
			channels = 4
		}
		out = models.NewRaster(color.W, color.H, channels, domain.Depth())
		for i := 0; i < plane; i++ {
			for c := 0; c < 3; c++ {
				out.Pix[i*channels+c] = quantize(color.Data[c*plane+i], div)
			}
			if channels == 4 {
				out.Pix[i*channels+3] = quantize(alpha.Data[i], div)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported color mode %v", mode)
	}
	return out, nil
}

// quantize clamps v to [0,1] and rounds it onto the integer domain
func quantize(v float32, div float64) uint16 {
	f := float64(v)
	if math.IsNaN(f) || f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return uint16(math.Round(f * div))
}
