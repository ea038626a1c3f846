package network

import (
	"fmt"

	"srtile/internal/models"
	"srtile/pkg/weights"
)

const (
	rrdbSlope    = 0.2
	residualBeta = 0.2
)

// RRDBParams configures an RRDBNet
type RRDBParams struct {
	NumInCh   int `yaml:"numInCh"`
	NumOutCh  int `yaml:"numOutCh"`
	Scale     int `yaml:"scale"`
	NumFeat   int `yaml:"numFeat"`
	NumBlock  int `yaml:"numBlock"`
	NumGrowCh int `yaml:"numGrowCh"`
}

// RRDBNet is the residual-in-residual dense block network. It always
// upsamples x4 internally; scale 2 and scale 1 variants pixel-unshuffle the
// input by 2 and 4 first.
type RRDBNet struct {
	p RRDBParams
	w weights.Weights
}

// NewRRDBNet validates the parameters and returns an unloaded network
func NewRRDBNet(p RRDBParams) (*RRDBNet, error) {
	switch p.Scale {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("RRDBNet supports scale 1, 2 or 4, got %d", p.Scale)
	}
	if p.NumInCh <= 0 || p.NumOutCh <= 0 || p.NumFeat <= 0 || p.NumBlock < 0 || p.NumGrowCh <= 0 {
		return nil, fmt.Errorf("invalid RRDB network parameters %+v", p)
	}
	return &RRDBNet{p: p}, nil
}

// Scale implements Network
func (n *RRDBNet) Scale() int { return n.p.Scale }

// unshuffle is the pixel-unshuffle factor applied before the first conv
func (n *RRDBNet) unshuffle() int { return 4 / n.p.Scale }

// ParamShapes implements Network
func (n *RRDBNet) ParamShapes() map[string][]int {
	p := n.p
	shapes := make(map[string][]int)
	addConv := func(name string, out, in int) {
		shapes[name+".weight"] = convShape(out, in, 3)
		shapes[name+".bias"] = []int{out}
	}

	u := n.unshuffle()
	addConv("conv_first", p.NumFeat, p.NumInCh*u*u)
	for b := 0; b < p.NumBlock; b++ {
		for r := 1; r <= 3; r++ {
			prefix := fmt.Sprintf("body.%d.rdb%d", b, r)
			for c := 1; c <= 4; c++ {
				addConv(fmt.Sprintf("%s.conv%d", prefix, c), p.NumGrowCh, p.NumFeat+(c-1)*p.NumGrowCh)
			}
			addConv(prefix+".conv5", p.NumFeat, p.NumFeat+4*p.NumGrowCh)
		}
	}
	addConv("conv_body", p.NumFeat, p.NumFeat)
	addConv("conv_up1", p.NumFeat, p.NumFeat)
	addConv("conv_up2", p.NumFeat, p.NumFeat)
	addConv("conv_hr", p.NumFeat, p.NumFeat)
	addConv("conv_last", p.NumOutCh, p.NumFeat)
	return shapes
}

// Load implements Network
func (n *RRDBNet) Load(w weights.Weights) error {
	if err := bind(n.ParamShapes(), w); err != nil {
		return err
	}
	n.w = w
	return nil
}

// Footprint implements Network
func (n *RRDBNet) Footprint(h, w int) int {
	p := n.p
	u := n.unshuffle()
	lh, lw := h/u, w/u
	dense := p.NumFeat + 4*p.NumGrowCh
	low := 2*p.NumFeat*lh*lw + 2*dense*lh*lw + convPeak(dense, p.NumFeat, lh, lw)
	high := 2*p.NumFeat*16*lh*lw + convPeak(p.NumFeat, p.NumFeat, 4*lh, 4*lw)
	return max(low, high)
}

// Forward implements Network
func (n *RRDBNet) Forward(x *models.Tensor) (*models.Tensor, error) {
	if n.w == nil {
		return nil, ErrNotLoaded
	}
	if x.C != n.p.NumInCh {
		return nil, fmt.Errorf("%w: expected %d input channels, got %d", ErrShapeMismatch, n.p.NumInCh, x.C)
	}
	u := n.unshuffle()
	if x.H%u != 0 || x.W%u != 0 {
		return nil, fmt.Errorf("%w: input %dx%d not divisible by %d", ErrShapeMismatch, x.W, x.H, u)
	}

	in := x
	if u > 1 {
		in = pixelUnshuffle(x, u)
	}
	feat, err := n.conv("conv_first", in)
	if err != nil {
		return nil, err
	}

	body := feat
	for b := 0; b < n.p.NumBlock; b++ {
		if body, err = n.rrdb(fmt.Sprintf("body.%d", b), body); err != nil {
			return nil, err
		}
	}
	bodyFeat, err := n.conv("conv_body", body)
	if err != nil {
		return nil, err
	}
	for i := range feat.Data {
		feat.Data[i] += bodyFeat.Data[i]
	}

	for _, name := range []string{"conv_up1", "conv_up2"} {
		if feat, err = n.conv(name, upsampleNearest(feat, 2)); err != nil {
			return nil, err
		}
		leakyRelu(feat, rrdbSlope)
	}

	hr, err := n.conv("conv_hr", feat)
	if err != nil {
		return nil, err
	}
	return n.conv("conv_last", leakyRelu(hr, rrdbSlope))
}

// rrdb runs three residual dense blocks and adds the scaled result to x
func (n *RRDBNet) rrdb(prefix string, x *models.Tensor) (*models.Tensor, error) {
	out := x
	for r := 1; r <= 3; r++ {
		var err error
		if out, err = n.rdb(fmt.Sprintf("%s.rdb%d", prefix, r), out); err != nil {
			return nil, err
		}
	}
	return addScaled(out, residualBeta, x), nil
}

// rdb is a five-conv residual dense block
func (n *RRDBNet) rdb(prefix string, x *models.Tensor) (*models.Tensor, error) {
	feats := []*models.Tensor{x}
	for c := 1; c <= 4; c++ {
		y, err := n.conv(fmt.Sprintf("%s.conv%d", prefix, c), concat(feats...))
		if err != nil {
			return nil, err
		}
		feats = append(feats, leakyRelu(y, rrdbSlope))
	}
	x5, err := n.conv(prefix+".conv5", concat(feats...))
	if err != nil {
		return nil, err
	}
	return addScaled(x5, residualBeta, x), nil
}

func (n *RRDBNet) conv(name string, x *models.Tensor) (*models.Tensor, error) {
	out, err := conv2d(x, n.w[name+".weight"], n.w[name+".bias"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
