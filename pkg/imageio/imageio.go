// Package imageio reads and writes rasters as image files
package imageio

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"srtile/internal/models"
	"srtile/pkg/resample"
)

// createFile opens the destination of Save
var createFile = func(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// SupportedExtensions lists the input file extensions Load understands
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// IsSupported reports whether the file extension is a readable format
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Load decodes a PNG, JPEG or WebP file into a raster
func Load(path string) (*models.Raster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return resample.FromImage(img), nil
}

// Save encodes a raster as PNG, or as JPEG when the extension asks for it.
// JPEG output is always 8-bit.
func Save(path string, r *models.Raster) (err error) {
	img, err := resample.ToImage(r)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := createFile(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close image file: %w", cerr)
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}
