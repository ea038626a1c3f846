// Package metrics compares an enhanced raster against a reference
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"srtile/internal/models"
)

// Report holds the quality metrics between two rasters of equal shape
type Report struct {
	// RMSE is the root mean square error of samples normalized to [0,1]
	RMSE float64

	// PSNR is the peak signal-to-noise ratio in dB; +Inf for identical input
	PSNR float64

	// SSIM is the global structural similarity index in [-1, 1]
	SSIM float64

	// MaxAbsDiff is the largest absolute sample difference in raw units
	MaxAbsDiff int
}

// Compare computes the metrics between a and b
func Compare(a, b *models.Raster) (Report, error) {
	if a.Width != b.Width || a.Height != b.Height || a.Stride() != b.Stride() {
		return Report{}, fmt.Errorf("shape mismatch: %dx%dx%d vs %dx%dx%d",
			a.Width, a.Height, a.Stride(), b.Width, b.Height, b.Stride())
	}
	if a.Depth != b.Depth {
		return Report{}, fmt.Errorf("depth mismatch: %d vs %d", a.Depth, b.Depth)
	}

	div := 255.0
	if a.Depth == models.Depth16 {
		div = 65535
	}
	x := normalized(a, div)
	y := normalized(b, div)

	var rep Report
	rep.RMSE = rmse(x, y)
	rep.PSNR = psnr(rep.RMSE)
	rep.SSIM = ssim(x, y)
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		rep.MaxAbsDiff = max(rep.MaxAbsDiff, d)
	}
	return rep, nil
}

func normalized(r *models.Raster, div float64) []float64 {
	out := make([]float64, len(r.Pix))
	for i, v := range r.Pix {
		out[i] = float64(v) / div
	}
	return out
}

// rmse computes the root mean square error
func rmse(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	mse := 0.0
	for i := 0; i < n; i++ {
		diff := original[i] - reconstructed[i]
		mse += diff * diff
	}
	return math.Sqrt(mse / float64(n))
}

func psnr(rmse float64) float64 {
	if rmse == 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(1/rmse)
}

// ssim computes the Structural Similarity Index over the whole buffer
func ssim(original, reconstructed []float64) float64 {
	const L = 1.0
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	if len(original) != len(reconstructed) || len(original) < 2 {
		return 0
	}

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
