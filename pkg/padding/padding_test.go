package padding

import (
	"testing"

	"srtile/internal/models"
)

// createTestTensor builds a tensor whose samples encode their coordinates
func createTestTensor(c, h, w int) *models.Tensor {
	t := models.NewTensor(c, h, w)
	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				t.Set(ch, y, x, float32(ch*10000+y*100+x))
			}
		}
	}
	return t
}

func TestModPadMakesDimensionsDivisible(t *testing.T) {
	for _, scale := range []int{1, 2, 4} {
		mod := Modulus(scale)
		for h := 1; h <= 13; h++ {
			for w := 1; w <= 13; w += 3 {
				padded, padH, padW := ApplyModPad(createTestTensor(1, h, w), scale)
				if padded.H%mod != 0 || padded.W%mod != 0 {
					t.Fatalf("scale %d: %dx%d padded to %dx%d, not divisible by %d", scale, w, h, padded.W, padded.H, mod)
				}
				if padH >= mod || padW >= mod {
					t.Fatalf("scale %d: pad (%d, %d) is not minimal for modulus %d", scale, padH, padW, mod)
				}
				if padded.H != h+padH || padded.W != w+padW {
					t.Fatalf("scale %d: reported pads do not match output size", scale)
				}
			}
		}
	}
}

func TestModulus(t *testing.T) {
	tests := map[int]int{1: 4, 2: 2, 3: 1, 4: 1}
	for scale, want := range tests {
		if got := Modulus(scale); got != want {
			t.Errorf("Modulus(%d) = %d, want %d", scale, got, want)
		}
	}
}

func TestReflect(t *testing.T) {
	src := createTestTensor(1, 3, 4)
	out := Reflect(src, 2, 3)
	if out.H != 5 || out.W != 7 {
		t.Fatalf("got %dx%d, want 7x5", out.W, out.H)
	}

	// Row 3 mirrors row 1, row 4 mirrors row 0
	// Column 4 mirrors column 2, 5 mirrors 1, 6 mirrors 0
	tests := []struct {
		y, x       int
		srcY, srcX int
	}{
		{0, 0, 0, 0},
		{2, 3, 2, 3},
		{3, 0, 1, 0},
		{4, 2, 0, 2},
		{0, 4, 0, 2},
		{1, 6, 1, 0},
		{4, 5, 0, 1},
	}
	for _, tt := range tests {
		if got, want := out.At(0, tt.y, tt.x), src.At(0, tt.srcY, tt.srcX); got != want {
			t.Errorf("out(%d,%d) = %v, want %v", tt.y, tt.x, got, want)
		}
	}
}

func TestReflectFoldsLargePads(t *testing.T) {
	src := createTestTensor(1, 2, 2)
	out := Reflect(src, 5, 0)
	// Rows cycle 0 1 0 1 ...
	for y := 0; y < out.H; y++ {
		if got, want := out.At(0, y, 0), src.At(0, y%2, 0); got != want {
			t.Errorf("row %d = %v, want %v", y, got, want)
		}
	}

	single := Reflect(createTestTensor(1, 1, 1), 3, 3)
	for _, v := range single.Data {
		if v != 0 {
			t.Fatalf("1x1 reflection should replicate the only pixel, got %v", single.Data)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, scale := range []int{1, 2, 4} {
		src := createTestTensor(3, 9, 7)
		pre := ApplyPrePad(src, 3)
		padded, modH, modW := ApplyModPad(pre, scale)

		// Nearest-neighbour stand-in for a network at this scale
		up := models.NewTensor(padded.C, padded.H*scale, padded.W*scale)
		for c := 0; c < up.C; c++ {
			for y := 0; y < up.H; y++ {
				for x := 0; x < up.W; x++ {
					up.Set(c, y, x, padded.At(c, y/scale, x/scale))
				}
			}
		}

		out, err := RemovePad(up, models.PadSpec{Pre: 3, ModH: modH, ModW: modW}, scale)
		if err != nil {
			t.Fatalf("scale %d: RemovePad failed: %v", scale, err)
		}
		if out.H != src.H*scale || out.W != src.W*scale {
			t.Fatalf("scale %d: got %dx%d, want %dx%d", scale, out.W, out.H, src.W*scale, src.H*scale)
		}
		for c := 0; c < src.C; c++ {
			for y := 0; y < out.H; y++ {
				for x := 0; x < out.W; x++ {
					if out.At(c, y, x) != src.At(c, y/scale, x/scale) {
						t.Fatalf("scale %d: pixel (%d,%d,%d) does not come from the original", scale, c, y, x)
					}
				}
			}
		}
	}
}

func TestRemovePadRejectsEmptyResult(t *testing.T) {
	_, err := RemovePad(createTestTensor(1, 4, 4), models.PadSpec{Pre: 2}, 2)
	if err == nil {
		t.Error("expected an error when the pads consume the whole output")
	}
}

func TestApplyPrePadZeroCopies(t *testing.T) {
	src := createTestTensor(1, 2, 2)
	out := ApplyPrePad(src, 0)
	out.Data[0] = -1
	if src.Data[0] == -1 {
		t.Error("ApplyPrePad(0) must not alias its input")
	}
}
