package network

import (
	"fmt"

	"srtile/internal/models"
	"srtile/pkg/weights"
)

// Activation names accepted by SRVGGNetCompact
const (
	ActReLU      = "relu"
	ActPReLU     = "prelu"
	ActLeakyReLU = "leakyrelu"
)

// CompactParams configures an SRVGGNetCompact
type CompactParams struct {
	NumInCh  int    `yaml:"numInCh"`
	NumOutCh int    `yaml:"numOutCh"`
	NumFeat  int    `yaml:"numFeat"`
	NumConv  int    `yaml:"numConv"`
	Upscale  int    `yaml:"upscale"`
	ActType  string `yaml:"actType"`
}

// SRVGGNetCompact is a VGG-style network that upsamples only in its last
// layer with a pixel shuffle and learns the residual over a nearest
// neighbour upsampling of the input
type SRVGGNetCompact struct {
	p CompactParams
	w weights.Weights
}

// NewSRVGGNetCompact validates the parameters and returns an unloaded network
func NewSRVGGNetCompact(p CompactParams) (*SRVGGNetCompact, error) {
	switch p.ActType {
	case ActReLU, ActPReLU, ActLeakyReLU:
	default:
		return nil, fmt.Errorf("unknown activation type %q", p.ActType)
	}
	if p.NumInCh <= 0 || p.NumOutCh <= 0 || p.NumFeat <= 0 || p.NumConv < 0 || p.Upscale <= 0 {
		return nil, fmt.Errorf("invalid compact network parameters %+v", p)
	}
	return &SRVGGNetCompact{p: p}, nil
}

// Scale implements Network
func (n *SRVGGNetCompact) Scale() int { return n.p.Upscale }

// lastConv is the body index of the final convolution
func (n *SRVGGNetCompact) lastConv() int { return 2 * (n.p.NumConv + 1) }

// ParamShapes implements Network
func (n *SRVGGNetCompact) ParamShapes() map[string][]int {
	p := n.p
	shapes := make(map[string][]int)
	addConv := func(idx, out, in int) {
		shapes[fmt.Sprintf("body.%d.weight", idx)] = convShape(out, in, 3)
		shapes[fmt.Sprintf("body.%d.bias", idx)] = []int{out}
	}
	addAct := func(idx int) {
		if p.ActType == ActPReLU {
			shapes[fmt.Sprintf("body.%d.weight", idx)] = []int{p.NumFeat}
		}
	}

	addConv(0, p.NumFeat, p.NumInCh)
	addAct(1)
	for i := 0; i < p.NumConv; i++ {
		addConv(2+2*i, p.NumFeat, p.NumFeat)
		addAct(3 + 2*i)
	}
	addConv(n.lastConv(), p.NumOutCh*p.Upscale*p.Upscale, p.NumFeat)
	return shapes
}

// Load implements Network
func (n *SRVGGNetCompact) Load(w weights.Weights) error {
	if err := bind(n.ParamShapes(), w); err != nil {
		return err
	}
	n.w = w
	return nil
}

// Footprint implements Network
func (n *SRVGGNetCompact) Footprint(h, w int) int {
	p := n.p
	feat := p.NumFeat * h * w
	outC := p.NumOutCh * p.Upscale * p.Upscale
	body := feat + convPeak(max(p.NumInCh, p.NumFeat), p.NumFeat, h, w)
	tail := feat + convPeak(p.NumFeat, outC, h, w) + 2*outC*h*w
	return max(body, tail)
}

// Forward implements Network
func (n *SRVGGNetCompact) Forward(x *models.Tensor) (*models.Tensor, error) {
	if n.w == nil {
		return nil, ErrNotLoaded
	}
	if x.C != n.p.NumInCh {
		return nil, fmt.Errorf("%w: expected %d input channels, got %d", ErrShapeMismatch, n.p.NumInCh, x.C)
	}

	out := x
	for idx := 0; idx <= n.lastConv(); idx += 2 {
		var err error
		out, err = conv2d(out, n.param(idx, "weight"), n.param(idx, "bias"))
		if err != nil {
			return nil, fmt.Errorf("body.%d: %w", idx, err)
		}
		if idx == n.lastConv() {
			break
		}
		if out, err = n.activate(out, idx+1); err != nil {
			return nil, fmt.Errorf("body.%d: %w", idx+1, err)
		}
	}

	out = pixelShuffle(out, n.p.Upscale)
	base := upsampleNearest(x, n.p.Upscale)
	if out.C != base.C {
		return nil, fmt.Errorf("%w: residual has %d channels, output %d", ErrShapeMismatch, base.C, out.C)
	}
	for i := range out.Data {
		out.Data[i] += base.Data[i]
	}
	return out, nil
}

func (n *SRVGGNetCompact) param(idx int, kind string) *weights.Param {
	return n.w[fmt.Sprintf("body.%d.%s", idx, kind)]
}

func (n *SRVGGNetCompact) activate(x *models.Tensor, idx int) (*models.Tensor, error) {
	switch n.p.ActType {
	case ActReLU:
		return relu(x), nil
	case ActLeakyReLU:
		return leakyRelu(x, 0.1), nil
	default:
		return prelu(x, n.param(idx, "weight"))
	}
}
