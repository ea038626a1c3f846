// Package enhance runs the tiled super-resolution pipeline.
//
// The pipeline consists of several steps:
// 1. Normalizing the input raster into a 3-channel float tensor
// 2. Pre-padding and mod-padding the tensor on the bottom/right edges
// 3. Running the network over the whole tensor or tile by tile
// 4. Cropping the scaled pads from the network output
// 5. Upscaling the alpha plane through the network or by resizing
// 6. Denormalizing back to an integer raster
// 7. Resizing to the requested output scale when it differs from the network's
package enhance

import (
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sync/atomic"

	"srtile/internal/models"
	"srtile/pkg/network"
	"srtile/pkg/normalize"
	"srtile/pkg/padding"
	"srtile/pkg/resample"
	"srtile/pkg/tiling"
	"srtile/pkg/weights"
	"srtile/pkg/zoo"
)

// ErrInvalidScale is returned for a requested output scale that is not a
// finite positive number
var ErrInvalidScale = errors.New("invalid output scale")

// AlphaMode selects how the alpha plane of an RGBA input is upscaled
type AlphaMode string

const (
	// AlphaModel runs the alpha plane through the network
	AlphaModel AlphaMode = "model"

	// AlphaResize resizes the alpha plane with bilinear interpolation
	AlphaResize AlphaMode = "resize"
)

// DNI configures deep network interpolation with a second checkpoint
type DNI struct {
	// SecondaryWeights is the checkpoint blended with the selected model's
	SecondaryWeights string

	// WeightA and WeightB scale the selected and secondary parameters
	WeightA, WeightB float64
}

// Params holds the enhancement parameters
type Params struct {
	// Model is the model loaded by NewEnhancer
	Model zoo.ModelID

	// TileSize is the tile edge in input pixels. 0 disables tiling. It is
	// lowered at load time until a padded tile fits MaxTileElements.
	TileSize int

	// KeepTileSize makes tiles over the budget fail instead of shrinking
	KeepTileSize bool

	// TilePad is the context border read around each tile
	TilePad int

	// PrePad is the reflection border added to the bottom/right before
	// inference to suppress edge artifacts
	PrePad int

	// MaxTileElements bounds the network memory per tile, counted in four
	// byte elements; 0 is unbounded
	MaxTileElements int

	// DNI enables weight blending when non-nil
	DNI *DNI

	// IntermediaryDir receives stage dumps when non-empty
	IntermediaryDir string

	// Verbose enables per-tile progress logging
	Verbose bool
}

// DefaultParams returns the parameters the pipeline is tuned for
func DefaultParams() Params {
	return Params{
		Model:           zoo.RealESRGeneralX4V3,
		TileSize:        512,
		TilePad:         10,
		PrePad:          10,
		MaxTileElements: network.DefaultMaxElements,
	}
}

// TileStatus records the outcome of one tile of one pass
type TileStatus struct {
	// Stage is "color" or "alpha"
	Stage string

	// Index is the one-based tile number and Total the tile count
	Index, Total int

	// Region is the tile's destination in the padded output
	Region image.Rectangle

	// Err is nil when the tile was written
	Err error
}

// String summarizes a tile status for logs
func (s TileStatus) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s tile %d/%d %v: %v", s.Stage, s.Index, s.Total, s.Region, s.Err)
	}
	return fmt.Sprintf("%s tile %d/%d %v: ok", s.Stage, s.Index, s.Total, s.Region)
}

// Result is the outcome of Enhance
type Result struct {
	// Raster is the enhanced image
	Raster *models.Raster

	// Mode is the color mode detected on the input
	Mode models.ColorMode

	// Tiles holds the status of every tile processed
	Tiles []TileStatus
}

// Failed returns the tiles that could not be processed. Their regions
// were left black in the output.
func (r *Result) Failed() []TileStatus {
	var failed []TileStatus
	for _, t := range r.Tiles {
		if t.Err != nil {
			failed = append(failed, t)
		}
	}
	return failed
}

// Partial reports whether any tile failed
func (r *Result) Partial() bool {
	return len(r.Failed()) > 0
}

// loadedModel is the immutable state built for one model selection
type loadedModel struct {
	spec     zoo.ModelSpec
	path     string
	runner   *network.Runner
	tileSize int
}

// Enhancer runs the pipeline with a loaded model.
//
// Enhance may be called repeatedly; SwitchModel replaces the model by
// building the new state completely before swapping it in. Calls to
// SwitchModel and Enhance on the same Enhancer must be serialized by the
// caller.
type Enhancer struct {
	params   Params
	resolver zoo.Resolver
	logger   *log.Logger
	model    atomic.Pointer[loadedModel]
}

// NewEnhancer creates an enhancer and loads params.Model through resolver.
// A nil logger logs to the standard logger.
func NewEnhancer(params Params, resolver zoo.Resolver, logger *log.Logger) (*Enhancer, error) {
	if params.TilePad < 0 || params.PrePad < 0 {
		return nil, fmt.Errorf("pads must be non-negative, got tile pad %d and pre pad %d", params.TilePad, params.PrePad)
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Enhancer{
		params:   params,
		resolver: resolver,
		logger:   logger,
	}
	m, err := e.load(params.Model)
	if err != nil {
		return nil, err
	}
	e.model.Store(m)
	return e, nil
}

// ModelID returns the identifier of the loaded model
func (e *Enhancer) ModelID() zoo.ModelID {
	return e.model.Load().spec.ID
}

// Scale returns the loaded network's native scale factor
func (e *Enhancer) Scale() int {
	return e.model.Load().spec.Scale
}

// TileSize returns the tile edge used for the loaded model, which may be
// smaller than Params.TileSize when the memory budget required it
func (e *Enhancer) TileSize() int {
	return e.model.Load().tileSize
}

// SwitchModel loads another model. It is a no-op when id is already loaded.
func (e *Enhancer) SwitchModel(id zoo.ModelID) error {
	if cur := e.model.Load(); cur != nil && cur.spec.ID == id {
		return nil
	}
	m, err := e.load(id)
	if err != nil {
		return err
	}
	e.model.Store(m)
	return nil
}

// load resolves, reads and binds the weights of a model
func (e *Enhancer) load(id zoo.ModelID) (*loadedModel, error) {
	spec, err := zoo.Lookup(id)
	if err != nil {
		return nil, err
	}
	path, err := e.resolver.Resolve(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve weights for %s: %w", id, err)
	}
	net, err := spec.NewNetwork()
	if err != nil {
		return nil, err
	}

	var w weights.Weights
	if dni := e.params.DNI; dni != nil {
		e.logger.Printf("Blending %s with %s (%g, %g)", path, dni.SecondaryWeights, dni.WeightA, dni.WeightB)
		w, err = weights.LoadDNI(path, dni.SecondaryWeights, dni.WeightA, dni.WeightB)
	} else {
		var key string
		w, key, err = weights.LoadCheckpoint(path)
		if err == nil {
			e.logger.Printf("Loaded %s parameters from %s", key, path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load weights for %s: %w", id, err)
	}
	if err := net.Load(w); err != nil {
		return nil, fmt.Errorf("weights %s do not fit %s: %w", path, id, err)
	}

	tileSize := e.params.TileSize
	if tileSize > 0 && !e.params.KeepTileSize {
		// Aligning a tile to the unshuffle modulus can widen it by mod-1 per side
		context := e.params.TilePad + padding.Modulus(spec.Scale) - 1
		tileSize = network.FitTileSize(net, tileSize, context, e.params.MaxTileElements)
		if tileSize == 0 {
			return nil, fmt.Errorf("%w: no tile of %s fits %d elements with tile pad %d",
				network.ErrResourceExhausted, id, e.params.MaxTileElements, e.params.TilePad)
		}
		if tileSize < e.params.TileSize {
			e.logger.Printf("Tile size lowered from %d to %d to fit the memory budget", e.params.TileSize, tileSize)
		}
	}

	e.logger.Printf("Model %s ready (x%d, %s)", id, spec.Scale, spec.Arch)
	return &loadedModel{
		spec:     spec,
		path:     path,
		runner:   network.NewRunner(net, e.params.MaxTileElements),
		tileSize: tileSize,
	}, nil
}

// Enhance upscales r by the network's scale and then, when outScale
// differs from it, resizes to outScale times the input size. Pass
// float64(e.Scale()) for the native size.
//
// Tile failures do not abort the call: the affected regions stay black,
// the failure is logged and reported through Result.Tiles.
func (e *Enhancer) Enhance(r *models.Raster, outScale float64, alphaMode AlphaMode) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if math.IsNaN(outScale) || math.IsInf(outScale, 0) || outScale <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidScale, outScale)
	}
	if w, h := resample.OutputSize(r.Width, r.Height, outScale); w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %g yields a %dx%d image", ErrInvalidScale, outScale, w, h)
	}
	switch alphaMode {
	case "":
		alphaMode = AlphaModel
	case AlphaModel, AlphaResize:
	default:
		return nil, fmt.Errorf("unknown alpha mode %q", alphaMode)
	}

	m := e.model.Load()
	scale := m.spec.Scale

	// Step 1: normalize
	norm, err := normalize.Normalize(r)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize input: %w", err)
	}
	if norm.Domain == models.Domain16 {
		e.logger.Printf("Input is a 16-bit image")
	}
	res := &Result{Mode: norm.Mode}

	// Steps 2-4: color channels
	color, tiles, err := e.upscale(m, norm.Color, "color", norm.Domain)
	res.Tiles = append(res.Tiles, tiles...)
	if err != nil {
		return nil, err
	}

	// Step 5: alpha plane
	var alpha *models.Tensor
	if norm.Mode == models.RGBA {
		switch alphaMode {
		case AlphaModel:
			out, tiles, err := e.upscale(m, normalize.Replicate(norm.Alpha), "alpha", norm.Domain)
			res.Tiles = append(res.Tiles, tiles...)
			if err != nil {
				return nil, err
			}
			alpha = normalize.Collapse(out)
		case AlphaResize:
			alpha, err = resample.ResizePlane(norm.Alpha, norm.Alpha.W*scale, norm.Alpha.H*scale)
			if err != nil {
				return nil, fmt.Errorf("failed to resize alpha: %w", err)
			}
		}
	}

	// Step 6: denormalize
	out, err := normalize.Denormalize(color, alpha, norm.Mode, norm.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to denormalize output: %w", err)
	}

	// Step 7: reconcile the requested scale
	if outScale != float64(scale) {
		w, h := resample.OutputSize(r.Width, r.Height, outScale)
		if out, err = resample.ResizeRaster(out, w, h); err != nil {
			return nil, fmt.Errorf("failed to resize output: %w", err)
		}
	}

	res.Raster = out
	if failed := res.Failed(); len(failed) > 0 {
		e.logger.Printf("Warning: %d of %d tiles failed, output is partial", len(failed), len(res.Tiles))
	}
	return res, nil
}

// upscale pads t, runs the network over it and crops the pads again
func (e *Enhancer) upscale(m *loadedModel, t *models.Tensor, stage string, domain models.ValueDomain) (*models.Tensor, []TileStatus, error) {
	scale := m.spec.Scale
	pad := models.PadSpec{Pre: e.params.PrePad, Tile: e.params.TilePad}

	padded := padding.ApplyPrePad(t, pad.Pre)
	padded, pad.ModH, pad.ModW = padding.ApplyModPad(padded, scale)
	e.saveIntermediaryResult(stage+"_01_padded", padded, domain)

	var out *models.Tensor
	var tiles []TileStatus
	if m.tileSize > 0 {
		out, tiles = e.tileProcess(m, padded, stage, pad.Tile)
	} else {
		var err error
		if out, err = m.runner.Run(padded); err != nil {
			return nil, nil, fmt.Errorf("%s inference failed: %w", stage, err)
		}
	}
	e.saveIntermediaryResult(stage+"_02_inferred", out, domain)

	cropped, err := padding.RemovePad(out, pad, scale)
	if err != nil {
		return nil, tiles, err
	}
	return cropped, tiles, nil
}

// tileProcess runs the network tile by tile into a zeroed output buffer.
// A failing tile is logged and skipped.
func (e *Enhancer) tileProcess(m *loadedModel, t *models.Tensor, stage string, tilePad int) (*models.Tensor, []TileStatus) {
	runner := m.runner
	scale := runner.Scale()
	out := models.NewTensor(t.C, t.H*scale, t.W*scale)
	descs := tiling.Tile(t.W, t.H, m.tileSize, tilePad, scale, padding.Modulus(scale))
	statuses := make([]TileStatus, 0, len(descs))

	for _, d := range descs {
		status := TileStatus{Stage: stage, Index: d.Index + 1, Total: len(descs), Region: d.Out}

		tileOut, err := runner.Run(tiling.Extract(t, d))
		if err == nil {
			err = tiling.Stitch(out, d, tileOut)
		}
		if err != nil {
			status.Err = err
			e.logger.Printf("Error processing %s tile %d/%d (col %d, row %d, input %v): %v",
				stage, status.Index, status.Total, d.Col, d.Row, d.In, err)
		} else if e.params.Verbose {
			e.logger.Printf("\tTile %d/%d", status.Index, status.Total)
		}
		statuses = append(statuses, status)
	}
	return out, statuses
}
