package metrics

import (
	"math"
	"testing"

	"srtile/internal/models"
)

func createTestRaster(w, h int, fill func(i int) uint16) *models.Raster {
	r := models.NewRaster(w, h, 3, models.Depth8)
	for i := range r.Pix {
		r.Pix[i] = fill(i)
	}
	return r
}

func TestCompareIdentical(t *testing.T) {
	a := createTestRaster(16, 16, func(i int) uint16 { return uint16(i % 256) })
	rep, err := Compare(a, a)
	if err != nil {
		t.Fatal(err)
	}
	if rep.RMSE != 0 || rep.MaxAbsDiff != 0 {
		t.Errorf("identical rasters: RMSE %v, max diff %d", rep.RMSE, rep.MaxAbsDiff)
	}
	if !math.IsInf(rep.PSNR, 1) {
		t.Errorf("PSNR = %v, want +Inf", rep.PSNR)
	}
	if math.Abs(rep.SSIM-1) > 1e-9 {
		t.Errorf("SSIM = %v, want 1", rep.SSIM)
	}
}

func TestCompareOffset(t *testing.T) {
	a := createTestRaster(8, 8, func(i int) uint16 { return uint16(100 + i%50) })
	b := createTestRaster(8, 8, func(i int) uint16 { return uint16(100 + i%50 + 51) })

	rep, err := Compare(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if want := 51.0 / 255; math.Abs(rep.RMSE-want) > 1e-12 {
		t.Errorf("RMSE = %v, want %v", rep.RMSE, want)
	}
	if want := 20 * math.Log10(255.0/51); math.Abs(rep.PSNR-want) > 1e-9 {
		t.Errorf("PSNR = %v, want %v", rep.PSNR, want)
	}
	if rep.MaxAbsDiff != 51 {
		t.Errorf("MaxAbsDiff = %d, want 51", rep.MaxAbsDiff)
	}
	if rep.SSIM >= 1 {
		t.Errorf("SSIM = %v, want below 1 for shifted means", rep.SSIM)
	}
}

func TestCompareMismatch(t *testing.T) {
	a := createTestRaster(4, 4, func(int) uint16 { return 0 })
	b := createTestRaster(4, 5, func(int) uint16 { return 0 })
	if _, err := Compare(a, b); err == nil {
		t.Error("expected a shape mismatch error")
	}

	c := createTestRaster(4, 4, func(int) uint16 { return 0 })
	c.Depth = models.Depth16
	if _, err := Compare(a, c); err == nil {
		t.Error("expected a depth mismatch error")
	}
}
