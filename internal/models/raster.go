package models

import (
	"fmt"
	"image"
)

// BitDepth is the element type of a Raster's samples
type BitDepth int

const (
	Depth8  BitDepth = 8
	Depth16 BitDepth = 16
)

// ColorMode describes the color layout detected on an input raster
type ColorMode int

const (
	Gray ColorMode = iota
	RGB
	RGBA
)

// String returns the short name used in logs and CLI output
func (m ColorMode) String() string {
	switch m {
	case Gray:
		return "L"
	case RGB:
		return "RGB"
	case RGBA:
		return "RGBA"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
}

// ValueDomain is the integer range a pipeline run normalizes against.
// A single run never mixes domains.
type ValueDomain int

const (
	Domain8 ValueDomain = iota
	Domain16
)

// Divisor returns the normalization divisor of the domain
func (d ValueDomain) Divisor() float64 {
	if d == Domain16 {
		return 65535
	}
	return 255
}

// Depth returns the element type rasters in this domain are written with
func (d ValueDomain) Depth() BitDepth {
	if d == Domain16 {
		return Depth16
	}
	return Depth8
}

// Raster represents an integer pixel buffer with metadata
type Raster struct {
	// Width and Height are the spatial dimensions in pixels
	Width  int
	Height int

	// Channels is 0 or 1 for grayscale, 3 for RGB and 4 for RGBA
	Channels int

	// Depth is the element type of the samples
	Depth BitDepth

	// Pix holds the samples interleaved in row-major order.
	// Depth8 rasters never hold values above 255.
	Pix []uint16
}

// NewRaster allocates a zeroed raster
func NewRaster(width, height, channels int, depth BitDepth) *Raster {
	return &Raster{
		Width:    width,
		Height:   height,
		Channels: channels,
		Depth:    depth,
		Pix:      make([]uint16, width*height*max(channels, 1)),
	}
}

// Stride returns the number of samples per pixel
func (r *Raster) Stride() int {
	return max(r.Channels, 1)
}

// At returns the sample of channel c at (x, y)
func (r *Raster) At(x, y, c int) uint16 {
	return r.Pix[(y*r.Width+x)*r.Stride()+c]
}

// Set stores the sample of channel c at (x, y)
func (r *Raster) Set(x, y, c int, v uint16) {
	r.Pix[(y*r.Width+x)*r.Stride()+c] = v
}

// MaxSample returns the largest sample value in the raster
func (r *Raster) MaxSample() uint16 {
	var m uint16
	for _, v := range r.Pix {
		if v > m {
			m = v
		}
	}
	return m
}

// Validate checks that the raster's shape and buffer agree
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("raster is nil")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", r.Width, r.Height)
	}
	switch r.Channels {
	case 0, 1, 3, 4:
	default:
		return fmt.Errorf("unsupported channel count %d", r.Channels)
	}
	if want := r.Width * r.Height * r.Stride(); len(r.Pix) != want {
		return fmt.Errorf("raster buffer has %d samples, want %d", len(r.Pix), want)
	}
	return nil
}

// Tensor is a batch-1, channel-first float buffer
type Tensor struct {
	// C, H, W are channel count, height and width
	C, H, W int

	// Data holds C*H*W samples in row-major order
	Data []float32
}

// NewTensor allocates a zeroed tensor
func NewTensor(c, h, w int) *Tensor {
	return &Tensor{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

// Index returns the flat offset of (c, y, x)
func (t *Tensor) Index(c, y, x int) int {
	return (c*t.H+y)*t.W + x
}

// At returns the sample at (c, y, x)
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.H+y)*t.W+x]
}

// Set stores the sample at (c, y, x)
func (t *Tensor) Set(c, y, x int, v float32) {
	t.Data[(c*t.H+y)*t.W+x] = v
}

// Plane returns the samples of channel c
func (t *Tensor) Plane(c int) []float32 {
	n := t.H * t.W
	return t.Data[c*n : (c+1)*n]
}

// Bounds returns the spatial extent as a rectangle anchored at the origin
func (t *Tensor) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.W, t.H)
}

// Clone returns a deep copy of the tensor
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{C: t.C, H: t.H, W: t.W, Data: make([]float32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// Crop returns a copy of the spatial region r of every channel
func (t *Tensor) Crop(r image.Rectangle) *Tensor {
	out := NewTensor(t.C, r.Dy(), r.Dx())
	for c := 0; c < t.C; c++ {
		for y := 0; y < r.Dy(); y++ {
			src := t.Index(c, r.Min.Y+y, r.Min.X)
			dst := out.Index(c, y, 0)
			copy(out.Data[dst:dst+r.Dx()], t.Data[src:src+r.Dx()])
		}
	}
	return out
}

// PadSpec holds the three independent pad amounts of a pipeline run
type PadSpec struct {
	// Pre is the fixed bottom/right border applied first
	Pre int

	// ModH and ModW are the bottom/right pads added for divisibility
	ModH, ModW int

	// Tile is the per-tile context border
	Tile int
}

// Crop returns the bottom and right amounts removed from a model output
// produced at the given scale
func (p PadSpec) Crop(scale int) (bottom, right int) {
	return (p.Pre + p.ModH) * scale, (p.Pre + p.ModW) * scale
}

// TileDescriptor represents one tile of the grid laid over a padded tensor
type TileDescriptor struct {
	// Index is the zero-based position in row-major order
	Index int

	// Col and Row locate the tile in the grid
	Col, Row int

	// In is the unpadded input region
	In image.Rectangle

	// InPad is In extended by the tile pad and clamped to the tensor
	InPad image.Rectangle

	// Out is In scaled into the full output buffer
	Out image.Rectangle

	// OutCore is the region of the tile's own output that maps onto Out
	OutCore image.Rectangle
}
