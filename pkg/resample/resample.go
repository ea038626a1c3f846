// Package resample bridges rasters to the standard image types and
// performs the resizes that happen outside the network.
package resample

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"srtile/internal/models"
)

// ToImage converts a raster to the matching standard image type:
// Gray/Gray16 for one channel and NRGBA/NRGBA64 otherwise
func ToImage(r *models.Raster) (image.Image, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, r.Width, r.Height)
	stride := r.Stride()
	wide := r.Depth == models.Depth16

	switch {
	case stride == 1 && wide:
		img := image.NewGray16(rect)
		for i, v := range r.Pix {
			img.SetGray16(i%r.Width, i/r.Width, color.Gray16{Y: v})
		}
		return img, nil
	case stride == 1:
		img := image.NewGray(rect)
		for i, v := range r.Pix {
			img.Pix[i] = uint8(v)
		}
		return img, nil
	case wide:
		img := image.NewNRGBA64(rect)
		for i := 0; i < r.Width*r.Height; i++ {
			px := r.Pix[i*stride:]
			c := color.NRGBA64{R: px[0], G: px[1], B: px[2], A: 0xffff}
			if stride == 4 {
				c.A = px[3]
			}
			img.SetNRGBA64(i%r.Width, i/r.Width, c)
		}
		return img, nil
	default:
		img := image.NewNRGBA(rect)
		for i := 0; i < r.Width*r.Height; i++ {
			px := r.Pix[i*stride:]
			c := color.NRGBA{R: uint8(px[0]), G: uint8(px[1]), B: uint8(px[2]), A: 0xff}
			if stride == 4 {
				c.A = uint8(px[3])
			}
			img.SetNRGBA(i%r.Width, i/r.Width, c)
		}
		return img, nil
	}
}

// FromImage converts any image into a raster. Gray images keep one
// channel, opaque images get three and others four. 16-bit image types
// produce Depth16 rasters.
func FromImage(img image.Image) *models.Raster {
	b := img.Bounds()
	depth := models.Depth8
	channels := 4
	switch img.(type) {
	case *image.Gray:
		channels = 1
	case *image.Gray16:
		channels, depth = 1, models.Depth16
	case *image.RGBA64, *image.NRGBA64:
		depth = models.Depth16
	}
	if channels == 4 && isOpaque(img) {
		channels = 3
	}

	r := models.NewRaster(b.Dx(), b.Dy(), channels, depth)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			if channels == 1 {
				g := color.Gray16Model.Convert(c).(color.Gray16).Y
				r.Set(x, y, 0, narrow(g, depth))
				continue
			}
			n := nrgba64At(img, c, b.Min.X+x, b.Min.Y+y)
			r.Set(x, y, 0, narrow(n.R, depth))
			r.Set(x, y, 1, narrow(n.G, depth))
			r.Set(x, y, 2, narrow(n.B, depth))
			if channels == 4 {
				r.Set(x, y, 3, narrow(n.A, depth))
			}
		}
	}
	return r
}

// ResizePlane resizes a single-channel plane in [0,1] to w x h with
// bilinear interpolation
func ResizePlane(t *models.Tensor, w, h int) (*models.Tensor, error) {
	if t.C != 1 {
		return nil, fmt.Errorf("resize plane expects 1 channel, got %d", t.C)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}

	src := image.NewGray16(t.Bounds())
	for i, v := range t.Data {
		src.SetGray16(i%t.W, i/t.W, color.Gray16{Y: toUint16(float64(v))})
	}
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := models.NewTensor(1, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(0, y, x, float32(dst.Gray16At(x, y).Y)/65535)
		}
	}
	return out, nil
}

// ResizeRaster resizes every channel of r independently to w x h with a
// Lanczos3 filter. The depth of the raster is kept.
func ResizeRaster(r *models.Raster, w, h int) (*models.Raster, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}

	stride := r.Stride()
	out := models.NewRaster(w, h, r.Channels, r.Depth)
	for c := 0; c < stride; c++ {
		plane := channelImage(r, c)
		scaled := resize.Resize(uint(w), uint(h), plane, resize.Lanczos3)
		sb := scaled.Bounds()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(scaled.At(sb.Min.X+x, sb.Min.Y+y)).(color.Gray16).Y
				out.Set(x, y, c, narrow(g, r.Depth))
			}
		}
	}
	return out, nil
}

// OutputSize returns the size of an image w x h scaled by s, truncated
func OutputSize(w, h int, s float64) (int, int) {
	return int(float64(w) * s), int(float64(h) * s)
}

// channelImage extracts channel c of r as a Gray or Gray16 image
func channelImage(r *models.Raster, c int) image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	if r.Depth == models.Depth16 {
		img := image.NewGray16(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: r.At(x, y, c)})
			}
		}
		return img
	}
	img := image.NewGray(rect)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.Pix[y*img.Stride+x] = uint8(r.At(x, y, c))
		}
	}
	return img
}

// nrgba64At reads straight from non-premultiplied images so transparent
// pixels keep their color
func nrgba64At(img image.Image, c color.Color, x, y int) color.NRGBA64 {
	switch src := img.(type) {
	case *image.NRGBA:
		n := src.NRGBAAt(x, y)
		return color.NRGBA64{
			R: uint16(n.R) * 0x101,
			G: uint16(n.G) * 0x101,
			B: uint16(n.B) * 0x101,
			A: uint16(n.A) * 0x101,
		}
	case *image.NRGBA64:
		return src.NRGBA64At(x, y)
	}
	return color.NRGBA64Model.Convert(c).(color.NRGBA64)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

// narrow reduces a 16-bit sample to the raster depth
func narrow(v uint16, depth models.BitDepth) uint16 {
	if depth == models.Depth16 {
		return v
	}
	return v >> 8
}

func toUint16(v float64) uint16 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint16(math.Round(v * 65535))
}
