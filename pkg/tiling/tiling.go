// Package tiling partitions a padded tensor into overlapping tiles and
// writes the tiles' upscaled core regions back into a full output buffer.
package tiling

import (
	"fmt"
	"image"

	"srtile/internal/models"
)

// Tile lays a row-major grid of tiles over a width x height tensor.
//
// With tileSize <= 0 tiling is disabled and a single descriptor covering the
// whole tensor with zero pad is returned. Otherwise each tile's unpadded
// region is at most tileSize on a side, and its padded region extends it by
// tilePad on every side, clamped to the tensor. The unpadded regions cover
// the tensor exactly once.
//
// Padded regions are widened to multiples of mod, aligned on the same grid
// as the whole tensor, so networks that pixel-unshuffle by mod see the
// same pixel groups in a tile as in a single pass. width and height are
// expected to be multiples of mod already.
func Tile(width, height, tileSize, tilePad, scale, mod int) []models.TileDescriptor {
	if tileSize <= 0 {
		full := image.Rect(0, 0, width, height)
		return []models.TileDescriptor{{
			In:      full,
			InPad:   full,
			Out:     scaleRect(full, scale),
			OutCore: scaleRect(full, scale),
		}}
	}

	tilesX := ceilDiv(width, tileSize)
	tilesY := ceilDiv(height, tileSize)
	bounds := image.Rect(0, 0, width, height)
	tiles := make([]models.TileDescriptor, 0, tilesX*tilesY)

	for y := 0; y < tilesY; y++ {
		for x := 0; x < tilesX; x++ {
			in := image.Rect(
				x*tileSize,
				y*tileSize,
				min((x+1)*tileSize, width),
				min((y+1)*tileSize, height),
			)
			inPad := image.Rect(
				in.Min.X-tilePad,
				in.Min.Y-tilePad,
				in.Max.X+tilePad,
				in.Max.Y+tilePad,
			).Intersect(bounds)
			inPad = alignRect(inPad, mod, bounds)

			// Core region inside the tile output, shifted by how much
			// context was actually available on the top/left
			core := in.Sub(inPad.Min)

			tiles = append(tiles, models.TileDescriptor{
				Index:   y*tilesX + x,
				Col:     x,
				Row:     y,
				In:      in,
				InPad:   inPad,
				Out:     scaleRect(in, scale),
				OutCore: scaleRect(core, scale),
			})
		}
	}
	return tiles
}

// Extract copies the padded input region of a tile out of t
func Extract(t *models.Tensor, d models.TileDescriptor) *models.Tensor {
	return t.Crop(d.InPad)
}

// Stitch copies the core region of tileOut into out at the tile's output
// offset. Regions outside the core are discarded.
func Stitch(out *models.Tensor, d models.TileDescriptor, tileOut *models.Tensor) error {
	if tileOut.C != out.C {
		return fmt.Errorf("tile %d has %d channels, output has %d", d.Index, tileOut.C, out.C)
	}
	if !d.OutCore.In(tileOut.Bounds()) {
		return fmt.Errorf("tile %d output %v does not contain core %v", d.Index, tileOut.Bounds(), d.OutCore)
	}
	if !d.Out.In(out.Bounds()) {
		return fmt.Errorf("tile %d destination %v exceeds output %v", d.Index, d.Out, out.Bounds())
	}

	w := d.Out.Dx()
	for c := 0; c < out.C; c++ {
		for y := 0; y < d.Out.Dy(); y++ {
			src := tileOut.Index(c, d.OutCore.Min.Y+y, d.OutCore.Min.X)
			dst := out.Index(c, d.Out.Min.Y+y, d.Out.Min.X)
			copy(out.Data[dst:dst+w], tileOut.Data[src:src+w])
		}
	}
	return nil
}

// alignRect grows r outwards to multiples of mod, staying inside bounds
func alignRect(r image.Rectangle, mod int, bounds image.Rectangle) image.Rectangle {
	if mod <= 1 {
		return r
	}
	r.Min.X -= r.Min.X % mod
	r.Min.Y -= r.Min.Y % mod
	r.Max.X = ceilDiv(r.Max.X, mod) * mod
	r.Max.Y = ceilDiv(r.Max.Y, mod) * mod
	return r.Intersect(bounds)
}

func scaleRect(r image.Rectangle, scale int) image.Rectangle {
	return image.Rect(r.Min.X*scale, r.Min.Y*scale, r.Max.X*scale, r.Max.Y*scale)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
