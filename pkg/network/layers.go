package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"srtile/internal/models"
	"srtile/pkg/weights"
)

// convBandElements caps the im2col matrix of a single band of rows
var convBandElements = 1 << 22

// bandRows returns how many output rows of a w-wide convolution with
// inC*k*k taps fit in one im2col band
func bandRows(inC, k, h, w int) int {
	rows := convBandElements / max(inC*k*k*w, 1)
	return min(max(rows, 1), h)
}

// conv2d applies a stride-1 "same" convolution with a square kernel.
// The input is unrolled with im2col one band of rows at a time, so each
// band is a single gonum matrix product and the unrolled matrix stays
// within convBandElements.
func conv2d(x *models.Tensor, w, b *weights.Param) (*models.Tensor, error) {
	if len(w.Shape) != 4 || w.Shape[2] != w.Shape[3] {
		return nil, fmt.Errorf("%w: conv weight shape %v", ErrShapeMismatch, w.Shape)
	}
	outC, inC, k := w.Shape[0], w.Shape[1], w.Shape[2]
	if inC != x.C {
		return nil, fmt.Errorf("%w: conv expects %d input channels, got %d", ErrShapeMismatch, inC, x.C)
	}

	kernel := mat.NewDense(outC, inC*k*k, w.Data)
	out := models.NewTensor(outC, x.H, x.W)
	rows := bandRows(inC, k, x.H, x.W)
	for y0 := 0; y0 < x.H; y0 += rows {
		convBand(x, kernel, b, out, k, y0, min(y0+rows, x.H))
	}
	return out, nil
}

// convBand computes output rows [y0, y1) of conv2d
func convBand(x *models.Tensor, kernel *mat.Dense, b *weights.Param, out *models.Tensor, k, y0, y1 int) {
	inC := x.C
	pad := k / 2
	n := (y1 - y0) * x.W

	cols := mat.NewDense(inC*k*k, n, nil)
	raw := cols.RawMatrix()
	for c := 0; c < inC; c++ {
		plane := x.Plane(c)
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := raw.Data[((c*k+ky)*k+kx)*raw.Stride:]
				for y := y0; y < y1; y++ {
					sy := y + ky - pad
					if sy < 0 || sy >= x.H {
						continue
					}
					for xx := 0; xx < x.W; xx++ {
						sx := xx + kx - pad
						if sx < 0 || sx >= x.W {
							continue
						}
						row[(y-y0)*x.W+xx] = float64(plane[sy*x.W+sx])
					}
				}
			}
		}
	}

	var prod mat.Dense
	prod.Mul(kernel, cols)

	res := prod.RawMatrix()
	for o := 0; o < out.C; o++ {
		bias := 0.0
		if b != nil {
			bias = b.Data[o]
		}
		src := res.Data[o*res.Stride : o*res.Stride+n]
		dst := out.Plane(o)[y0*x.W : y1*x.W]
		for i, v := range src {
			dst[i] = float32(v + bias)
		}
	}
}

// convPeak estimates the elements held while one conv2d runs: the float64
// band matrices count twice, the float32 output once
func convPeak(inC, outC, h, w int) int {
	n := bandRows(inC, 3, h, w) * w
	return 2*(inC*9*n+outC*n) + outC*h*w
}

func relu(x *models.Tensor) *models.Tensor {
	for i, v := range x.Data {
		if v < 0 {
			x.Data[i] = 0
		}
	}
	return x
}

func leakyRelu(x *models.Tensor, slope float32) *models.Tensor {
	for i, v := range x.Data {
		if v < 0 {
			x.Data[i] = v * slope
		}
	}
	return x
}

// prelu scales negative values by a learned per-channel slope
func prelu(x *models.Tensor, slope *weights.Param) (*models.Tensor, error) {
	if len(slope.Data) != x.C {
		return nil, fmt.Errorf("%w: prelu has %d slopes for %d channels", ErrShapeMismatch, len(slope.Data), x.C)
	}
	for c := 0; c < x.C; c++ {
		a := float32(slope.Data[c])
		plane := x.Plane(c)
		for i, v := range plane {
			if v < 0 {
				plane[i] = v * a
			}
		}
	}
	return x, nil
}

// pixelShuffle rearranges C*r*r channels of HxW into C channels of (H*r)x(W*r)
func pixelShuffle(x *models.Tensor, r int) *models.Tensor {
	c := x.C / (r * r)
	out := models.NewTensor(c, x.H*r, x.W*r)
	for oc := 0; oc < c; oc++ {
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				src := x.Plane(oc*r*r + i*r + j)
				for y := 0; y < x.H; y++ {
					for xx := 0; xx < x.W; xx++ {
						out.Set(oc, y*r+i, xx*r+j, src[y*x.W+xx])
					}
				}
			}
		}
	}
	return out
}

// pixelUnshuffle is the inverse of pixelShuffle
func pixelUnshuffle(x *models.Tensor, r int) *models.Tensor {
	h, w := x.H/r, x.W/r
	out := models.NewTensor(x.C*r*r, h, w)
	for c := 0; c < x.C; c++ {
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				dst := out.Plane(c*r*r + i*r + j)
				for y := 0; y < h; y++ {
					for xx := 0; xx < w; xx++ {
						dst[y*w+xx] = x.At(c, y*r+i, xx*r+j)
					}
				}
			}
		}
	}
	return out
}

// upsampleNearest repeats every sample r times along both axes
func upsampleNearest(x *models.Tensor, r int) *models.Tensor {
	out := models.NewTensor(x.C, x.H*r, x.W*r)
	for c := 0; c < x.C; c++ {
		src := x.Plane(c)
		dst := out.Plane(c)
		for y := 0; y < out.H; y++ {
			row := src[(y/r)*x.W:]
			for xx := 0; xx < out.W; xx++ {
				dst[y*out.W+xx] = row[xx/r]
			}
		}
	}
	return out
}

// concat stacks tensors of equal spatial size along the channel axis
func concat(ts ...*models.Tensor) *models.Tensor {
	c := 0
	for _, t := range ts {
		c += t.C
	}
	out := &models.Tensor{C: c, H: ts[0].H, W: ts[0].W, Data: make([]float32, 0, c*ts[0].H*ts[0].W)}
	for _, t := range ts {
		out.Data = append(out.Data, t.Data...)
	}
	return out
}

// addScaled stores x*s + y into x
func addScaled(x *models.Tensor, s float32, y *models.Tensor) *models.Tensor {
	for i := range x.Data {
		x.Data[i] = x.Data[i]*s + y.Data[i]
	}
	return x
}
