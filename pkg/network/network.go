// Package network implements the forward pass of the super-resolution
// networks and the runner that executes them one tile at a time.
package network

import (
	"errors"
	"fmt"
	"slices"

	"srtile/internal/models"
	"srtile/pkg/weights"
)

var (
	// ErrShapeMismatch is returned when weights or inputs do not fit a network
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrResourceExhausted is returned when a tile exceeds the runner's budget
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNotLoaded is returned when Forward runs before Load
	ErrNotLoaded = errors.New("network weights not loaded")
)

// Network is an enhancement network: given a tensor it produces a tensor
// upscaled by Scale() with the same channel count
type Network interface {
	// Forward runs inference on x. x is not modified.
	Forward(x *models.Tensor) (*models.Tensor, error)

	// Scale is the fixed integer upscaling ratio
	Scale() int

	// ParamShapes lists every parameter the network expects
	ParamShapes() map[string][]int

	// Load binds a parameter set. Names and shapes must match exactly.
	Load(w weights.Weights) error

	// Footprint estimates the peak number of elements a forward pass over
	// an h x w input holds, counting float64 buffers twice so the unit is
	// four bytes
	Footprint(h, w int) int
}

// bind checks w against the expected shapes: every name must be present,
// no extra names are allowed and shapes must agree
func bind(expected map[string][]int, w weights.Weights) error {
	for name, shape := range expected {
		p, ok := w[name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %q", ErrShapeMismatch, name)
		}
		if !slices.Equal(p.Shape, shape) {
			return fmt.Errorf("%w: parameter %q has shape %v, want %v", ErrShapeMismatch, name, p.Shape, shape)
		}
		if len(p.Data) != p.Len() {
			return fmt.Errorf("%w: parameter %q has %d values for shape %v", ErrShapeMismatch, name, len(p.Data), p.Shape)
		}
	}
	for _, name := range w.Names() {
		if _, ok := expected[name]; !ok {
			return fmt.Errorf("%w: unexpected parameter %q", ErrShapeMismatch, name)
		}
	}
	return nil
}

func convShape(out, in, k int) []int {
	return []int{out, in, k, k}
}
