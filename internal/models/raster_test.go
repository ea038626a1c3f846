package models

import (
	"image"
	"testing"
)

func TestRasterValidate(t *testing.T) {
	tests := []struct {
		name    string
		raster  *Raster
		wantErr bool
	}{
		{"Gray2D", NewRaster(4, 3, 0, Depth8), false},
		{"Gray", NewRaster(4, 3, 1, Depth8), false},
		{"RGB", NewRaster(4, 3, 3, Depth16), false},
		{"RGBA", NewRaster(4, 3, 4, Depth8), false},
		{"TwoChannels", &Raster{Width: 2, Height: 2, Channels: 2, Pix: make([]uint16, 8)}, true},
		{"ShortBuffer", &Raster{Width: 2, Height: 2, Channels: 3, Pix: make([]uint16, 11)}, true},
		{"Empty", &Raster{Channels: 3}, true},
		{"Nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.raster.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTensorCrop(t *testing.T) {
	tensor := NewTensor(2, 4, 5)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i)
	}
	crop := tensor.Crop(image.Rect(1, 2, 4, 4))
	if crop.C != 2 || crop.H != 2 || crop.W != 3 {
		t.Fatalf("crop shape %dx%dx%d, want 2x2x3", crop.C, crop.H, crop.W)
	}
	for c := 0; c < 2; c++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 3; x++ {
				if got, want := crop.At(c, y, x), tensor.At(c, y+2, x+1); got != want {
					t.Errorf("crop(%d,%d,%d) = %v, want %v", c, y, x, got, want)
				}
			}
		}
	}

	crop.Data[0] = -1
	if tensor.Data[tensor.Index(0, 2, 1)] == -1 {
		t.Error("Crop must copy, not alias")
	}
}

func TestPadSpecCrop(t *testing.T) {
	p := PadSpec{Pre: 10, ModH: 1, ModW: 3}
	bottom, right := p.Crop(2)
	if bottom != 22 || right != 26 {
		t.Errorf("Crop(2) = %d, %d, want 22, 26", bottom, right)
	}
}

func TestValueDomain(t *testing.T) {
	if Domain8.Divisor() != 255 || Domain8.Depth() != Depth8 {
		t.Error("8-bit domain must divide by 255")
	}
	if Domain16.Divisor() != 65535 || Domain16.Depth() != Depth16 {
		t.Error("16-bit domain must divide by 65535")
	}
}
