package network

import (
	"maps"
	"math"
	"slices"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"srtile/pkg/weights"
)

// InitWeights returns a parameter set for net drawn from a source seeded
// with seed. Convolution kernels follow a He-scaled normal distribution
// multiplied by gain, biases are zero and PReLU slopes start at 0.25.
func InitWeights(net Network, seed uint64, gain float64) weights.Weights {
	src := rand.NewSource(seed)
	shapes := net.ParamShapes()
	w := make(weights.Weights, len(shapes))
	for _, name := range slices.Sorted(maps.Keys(shapes)) {
		shape := shapes[name]
		p := &weights.Param{Shape: slices.Clone(shape)}
		p.Data = make([]float64, p.Len())

		switch {
		case len(shape) == 4:
			fanIn := float64(shape[1] * shape[2] * shape[3])
			dist := distuv.Normal{Mu: 0, Sigma: gain * math.Sqrt(2/fanIn), Src: src}
			if dist.Sigma == 0 {
				break
			}
			for i := range p.Data {
				p.Data[i] = dist.Rand()
			}
		case strings.HasSuffix(name, ".weight"):
			for i := range p.Data {
				p.Data[i] = 0.25
			}
		}
		w[name] = p
	}
	return w
}
