package network

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"srtile/internal/models"
	"srtile/pkg/weights"
)

// createTestTensor fills a tensor with a deterministic pattern in [0,1]
func createTestTensor(c, h, w int) *models.Tensor {
	t := models.NewTensor(c, h, w)
	for i := range t.Data {
		t.Data[i] = float32((i*37)%101) / 100
	}
	return t
}

func smallCompact(t *testing.T, act string, upscale int) *SRVGGNetCompact {
	net, err := NewSRVGGNetCompact(CompactParams{
		NumInCh: 3, NumOutCh: 3, NumFeat: 4, NumConv: 2, Upscale: upscale, ActType: act,
	})
	if err != nil {
		t.Fatalf("Failed to create compact network: %v", err)
	}
	return net
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

func TestPixelShuffleRoundTrip(t *testing.T) {
	x := createTestTensor(8, 6, 4)
	for _, r := range []int{1, 2} {
		shuffled := pixelShuffle(x, r)
		if shuffled.C != 8/(r*r) || shuffled.H != 6*r || shuffled.W != 4*r {
			t.Fatalf("r=%d: unexpected shape %dx%dx%d", r, shuffled.C, shuffled.H, shuffled.W)
		}
		back := pixelUnshuffle(shuffled, r)
		if !floats.Equal(toFloat64(back.Data), toFloat64(x.Data)) {
			t.Errorf("r=%d: unshuffle(shuffle(x)) != x", r)
		}
	}
}

func TestPixelShuffleLayout(t *testing.T) {
	// Four channels of a 1x1 input become one 2x2 channel in row-major order
	x := &models.Tensor{C: 4, H: 1, W: 1, Data: []float32{1, 2, 3, 4}}
	out := pixelShuffle(x, 2)
	want := []float32{1, 2, 3, 4}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("pixelShuffle = %v, want %v", out.Data, want)
		}
	}
}

func TestConv2DIdentityKernel(t *testing.T) {
	x := createTestTensor(2, 5, 7)
	w := &weights.Param{Shape: []int{2, 2, 3, 3}, Data: make([]float64, 2*2*9)}
	// Centre tap of the kernel connecting channel c to itself
	w.Data[(0*2+0)*9+4] = 1
	w.Data[(1*2+1)*9+4] = 1
	b := &weights.Param{Shape: []int{2}, Data: []float64{0.5, -0.5}}

	out, err := conv2d(x, w, b)
	if err != nil {
		t.Fatalf("conv2d failed: %v", err)
	}
	for c := 0; c < 2; c++ {
		for i, v := range x.Plane(c) {
			want := v + float32(b.Data[c])
			if got := out.Plane(c)[i]; got != want {
				t.Fatalf("channel %d sample %d: got %v, want %v", c, i, got, want)
			}
		}
	}
}

func TestConv2DZeroPadding(t *testing.T) {
	// A kernel summing the 3x3 neighbourhood of a constant input counts the
	// in-bounds neighbours
	x := models.NewTensor(1, 3, 3)
	for i := range x.Data {
		x.Data[i] = 1
	}
	w := &weights.Param{Shape: []int{1, 1, 3, 3}, Data: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}}
	out, err := conv2d(x, w, nil)
	if err != nil {
		t.Fatalf("conv2d failed: %v", err)
	}
	want := []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("conv2d = %v, want %v", out.Data, want)
		}
	}
}

func TestConv2DBandsMatchSingleBand(t *testing.T) {
	x := createTestTensor(3, 9, 7)
	w := &weights.Param{Shape: []int{4, 3, 3, 3}, Data: make([]float64, 4*3*9)}
	for i := range w.Data {
		w.Data[i] = float64((i*13)%17)/17 - 0.5
	}
	b := &weights.Param{Shape: []int{4}, Data: []float64{0.1, -0.2, 0.3, 0}}

	whole, err := conv2d(x, w, b)
	if err != nil {
		t.Fatal(err)
	}

	defer func(n int) { convBandElements = n }(convBandElements)
	for _, rows := range []int{1, 2, 4} {
		convBandElements = 3 * 9 * 7 * rows
		if got := bandRows(3, 3, x.H, x.W); got != rows {
			t.Fatalf("bandRows = %d, want %d", got, rows)
		}
		banded, err := conv2d(x, w, b)
		if err != nil {
			t.Fatal(err)
		}
		if !floats.EqualApprox(toFloat64(banded.Data), toFloat64(whole.Data), 1e-6) {
			t.Errorf("%d-row bands differ from a single band", rows)
		}
	}
}

func TestFitTileSize(t *testing.T) {
	net := smallCompact(t, ActReLU, 4)
	budget := net.Footprint(20, 20)

	tests := []struct {
		name                     string
		tileSize, context, limit int
		want                     int
	}{
		{"Fits", 16, 2, budget, 16},
		{"Shrinks", 64, 2, budget, 16},
		{"Disabled", 64, 2, 0, 64},
		{"NoTiling", 0, 2, budget, 0},
		{"TooSmall", 64, 2, net.Footprint(4, 4), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitTileSize(net, tt.tileSize, tt.context, tt.limit); got != tt.want {
				t.Errorf("FitTileSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConv2DChannelMismatch(t *testing.T) {
	x := createTestTensor(3, 4, 4)
	w := &weights.Param{Shape: []int{2, 2, 3, 3}, Data: make([]float64, 36)}
	if _, err := conv2d(x, w, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestSRVGGNetCompactParamShapes(t *testing.T) {
	tests := []struct {
		act       string
		wantCount int
	}{
		// 4 convs with weight+bias, plus 3 PReLU slopes
		{ActPReLU, 11},
		{ActReLU, 8},
		{ActLeakyReLU, 8},
	}
	for _, tt := range tests {
		t.Run(tt.act, func(t *testing.T) {
			net := smallCompact(t, tt.act, 4)
			shapes := net.ParamShapes()
			if len(shapes) != tt.wantCount {
				t.Errorf("got %d parameters, want %d", len(shapes), tt.wantCount)
			}
			last := shapes["body.6.weight"]
			if len(last) != 4 || last[0] != 3*4*4 || last[1] != 4 {
				t.Errorf("last conv shape = %v, want [48 4 3 3]", last)
			}
		})
	}
}

func TestSRVGGNetCompactZeroWeightsIsNearestUpsample(t *testing.T) {
	net := smallCompact(t, ActPReLU, 2)
	w := InitWeights(net, 1, 0)
	if err := net.Load(w); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	x := createTestTensor(3, 5, 6)
	out, err := net.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	want := upsampleNearest(x, 2)
	if !floats.Equal(toFloat64(out.Data), toFloat64(want.Data)) {
		t.Error("zero-weight network should return the nearest upsampled input")
	}
}

func TestInitWeights(t *testing.T) {
	net, err := NewSRVGGNetCompact(CompactParams{
		NumInCh: 3, NumOutCh: 3, NumFeat: 32, NumConv: 1, Upscale: 2, ActType: ActPReLU,
	})
	if err != nil {
		t.Fatal(err)
	}

	a := InitWeights(net, 11, 1)
	b := InitWeights(net, 11, 1)
	c := InitWeights(net, 12, 1)
	kernel := "body.2.weight"
	if !floats.Equal(a[kernel].Data, b[kernel].Data) {
		t.Error("same seed produced different weights")
	}
	if floats.Equal(a[kernel].Data, c[kernel].Data) {
		t.Error("different seeds produced the same weights")
	}

	// 32 inputs with a 3x3 kernel give a fan-in of 288
	mean, std := stat.MeanStdDev(a[kernel].Data, nil)
	if want := math.Sqrt(2.0 / 288); math.Abs(mean) > 0.01 || math.Abs(std-want) > 0.1*want {
		t.Errorf("kernel mean %.4f std %.4f, want 0 and %.4f", mean, std, want)
	}
	if floats.Max(a["body.2.bias"].Data) != 0 || floats.Min(a["body.2.bias"].Data) != 0 {
		t.Error("biases must start at zero")
	}
	if slope := a["body.1.weight"].Data; floats.Min(slope) != 0.25 || floats.Max(slope) != 0.25 {
		t.Error("PReLU slopes must start at 0.25")
	}

	zero := InitWeights(net, 11, 0)
	if floats.Norm(zero[kernel].Data, 2) != 0 {
		t.Error("zero gain must give zero kernels")
	}
}

func TestLoadIsStrict(t *testing.T) {
	net := smallCompact(t, ActPReLU, 4)

	t.Run("Missing", func(t *testing.T) {
		w := InitWeights(net, 3, 1)
		delete(w, "body.0.bias")
		if err := net.Load(w); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("Unexpected", func(t *testing.T) {
		w := InitWeights(net, 3, 1)
		w["extra.weight"] = &weights.Param{Shape: []int{1}, Data: []float64{0}}
		if err := net.Load(w); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("WrongShape", func(t *testing.T) {
		w := InitWeights(net, 3, 1)
		w["body.1.weight"] = &weights.Param{Shape: []int{5}, Data: make([]float64, 5)}
		if err := net.Load(w); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("NotLoaded", func(t *testing.T) {
		fresh := smallCompact(t, ActPReLU, 4)
		if _, err := fresh.Forward(createTestTensor(3, 4, 4)); !errors.Is(err, ErrNotLoaded) {
			t.Errorf("expected ErrNotLoaded, got %v", err)
		}
	})
}

func TestRRDBNetForwardShapes(t *testing.T) {
	for _, scale := range []int{1, 2, 4} {
		net, err := NewRRDBNet(RRDBParams{
			NumInCh: 3, NumOutCh: 3, Scale: scale, NumFeat: 4, NumBlock: 1, NumGrowCh: 2,
		})
		if err != nil {
			t.Fatalf("scale %d: %v", scale, err)
		}
		if err := net.Load(InitWeights(net, uint64(5+scale), 0.1)); err != nil {
			t.Fatalf("scale %d: Load failed: %v", scale, err)
		}

		x := createTestTensor(3, 8, 12)
		out, err := net.Forward(x)
		if err != nil {
			t.Fatalf("scale %d: Forward failed: %v", scale, err)
		}
		if out.C != 3 || out.H != 8*scale || out.W != 12*scale {
			t.Errorf("scale %d: output %dx%dx%d, want 3x%dx%d", scale, out.C, out.H, out.W, 8*scale, 12*scale)
		}
	}
}

func TestRRDBNetRejectsIndivisibleInput(t *testing.T) {
	net, err := NewRRDBNet(RRDBParams{NumInCh: 3, NumOutCh: 3, Scale: 1, NumFeat: 4, NumBlock: 0, NumGrowCh: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := net.Load(InitWeights(net, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Forward(createTestTensor(3, 6, 8)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for 6x8 input at unshuffle 4, got %v", err)
	}
}

// panicNetwork is a Network whose forward pass panics
type panicNetwork struct{ *SRVGGNetCompact }

func (panicNetwork) Forward(*models.Tensor) (*models.Tensor, error) {
	panic("out of memory")
}

func TestRunner(t *testing.T) {
	net := smallCompact(t, ActReLU, 2)
	if err := net.Load(InitWeights(net, 7, 1)); err != nil {
		t.Fatal(err)
	}

	t.Run("Run", func(t *testing.T) {
		out, err := NewRunner(net, 0).Run(createTestTensor(3, 4, 5))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if out.H != 8 || out.W != 10 {
			t.Errorf("output %dx%d, want 10x8", out.W, out.H)
		}
	})

	t.Run("Budget", func(t *testing.T) {
		r := NewRunner(net, net.Footprint(4, 4))
		if _, err := r.Run(createTestTensor(3, 4, 4)); err != nil {
			t.Errorf("tile at the budget should run: %v", err)
		}
		if _, err := r.Run(createTestTensor(3, 4, 5)); !errors.Is(err, ErrResourceExhausted) {
			t.Errorf("expected ErrResourceExhausted, got %v", err)
		}
	})

	t.Run("Panic", func(t *testing.T) {
		r := NewRunner(panicNetwork{net}, 0)
		out, err := r.Run(createTestTensor(3, 4, 4))
		if err == nil || out != nil {
			t.Errorf("expected an error from a panicking network, got %v", err)
		}
	})
}
