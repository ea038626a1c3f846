// Package weights loads network parameter sets from checkpoints and blends
// pairs of them for deep network interpolation (DNI).
package weights

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrMissingParams is returned when a checkpoint holds neither parameter set
	ErrMissingParams = errors.New("checkpoint has neither params_ema nor params")

	// ErrBlendMismatch is returned when two parameter sets cannot be blended
	ErrBlendMismatch = errors.New("parameter sets do not match")
)

// Top-level checkpoint keys, in order of preference
const (
	KeyParamsEMA = "params_ema"
	KeyParams    = "params"
)

// Param is a single named parameter array
type Param struct {
	Shape []int
	Data  []float64
}

// Len returns the number of elements the shape describes
func (p *Param) Len() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// Weights maps parameter names to arrays
type Weights map[string]*Param

// Names returns the parameter names in sorted order
func (w Weights) Names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Blend returns wA*a + wB*b for every parameter in a. The ratio need not
// sum to one. Both sets must have identical names and shapes.
func Blend(a, b Weights, wA, wB float64) (Weights, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d parameters", ErrBlendMismatch, len(a), len(b))
	}
	out := make(Weights, len(a))
	for name, pa := range a {
		pb, ok := b[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q missing from second set", ErrBlendMismatch, name)
		}
		if !slices.Equal(pa.Shape, pb.Shape) || len(pa.Data) != len(pb.Data) {
			return nil, fmt.Errorf("%w: %q has shape %v vs %v", ErrBlendMismatch, name, pa.Shape, pb.Shape)
		}
		data := make([]float64, len(pa.Data))
		floats.ScaleTo(data, wA, pa.Data)
		floats.AddScaled(data, wB, pb.Data)
		out[name] = &Param{Shape: slices.Clone(pa.Shape), Data: data}
	}
	return out, nil
}

// Select picks the preferred parameter set out of a checkpoint's top-level
// mapping: params_ema when present, else params.
func Select(sets map[string]Weights) (Weights, string, error) {
	for _, key := range []string{KeyParamsEMA, KeyParams} {
		if w, ok := sets[key]; ok {
			return w, key, nil
		}
	}
	return nil, "", ErrMissingParams
}

// LoadDNI loads two checkpoints and blends their preferred parameter sets
func LoadDNI(pathA, pathB string, wA, wB float64) (Weights, error) {
	a, _, err := LoadCheckpoint(pathA)
	if err != nil {
		return nil, err
	}
	b, _, err := LoadCheckpoint(pathB)
	if err != nil {
		return nil, err
	}
	blended, err := Blend(a, b, wA, wB)
	if err != nil {
		return nil, fmt.Errorf("blending %s and %s: %w", pathA, pathB, err)
	}
	return blended, nil
}
