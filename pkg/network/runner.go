package network

import (
	"fmt"

	"srtile/internal/models"
)

// DefaultMaxElements is the default per-tile budget for Footprint, 1 GiB
const DefaultMaxElements = 1 << 28

// FitTileSize returns the largest tile edge up to tileSize whose padded
// extent, tileSize plus context on both sides, fits the budget. It returns
// tileSize unchanged when tiling or the budget is disabled and 0 when not
// even a single pixel fits.
func FitTileSize(net Network, tileSize, context, budget int) int {
	if tileSize <= 0 || budget <= 0 {
		return tileSize
	}
	fits := func(t int) bool {
		side := t + 2*context
		return net.Footprint(side, side) <= budget
	}
	if fits(tileSize) {
		return tileSize
	}
	lo, hi := 0, tileSize
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// Runner executes a loaded network in inference mode
type Runner struct {
	net Network

	// maxElements bounds Network.Footprint for a single call; 0 disables it
	maxElements int
}

// NewRunner wraps a loaded network. maxElements <= 0 means unbounded.
func NewRunner(net Network, maxElements int) *Runner {
	return &Runner{net: net, maxElements: max(maxElements, 0)}
}

// Scale returns the wrapped network's scale factor
func (r *Runner) Scale() int { return r.net.Scale() }

// Run upscales x. A tile larger than the element budget fails with
// ErrResourceExhausted, and a panic raised inside the network is returned
// as an error so the caller can carry on with the next tile.
func (r *Runner) Run(x *models.Tensor) (out *models.Tensor, err error) {
	if r.maxElements > 0 {
		if need := r.net.Footprint(x.H, x.W); need > r.maxElements {
			return nil, fmt.Errorf("%w: %dx%d input needs %d elements, budget %d",
				ErrResourceExhausted, x.W, x.H, need, r.maxElements)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("network forward failed: %v", rec)
		}
	}()

	out, err = r.net.Forward(x)
	if err != nil {
		return nil, err
	}

	s := r.net.Scale()
	if out.C != x.C || out.H != x.H*s || out.W != x.W*s {
		return nil, fmt.Errorf("%w: %dx%dx%d input produced %dx%dx%d at scale %d",
			ErrShapeMismatch, x.C, x.H, x.W, out.C, out.H, out.W, s)
	}
	return out, nil
}
