package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"srtile/pkg/config"
	"srtile/pkg/enhance"
	"srtile/pkg/imageio"
	"srtile/pkg/metrics"
	"srtile/pkg/zoo"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "srtile.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	input := flag.String("input", "", "Image file or directory of images to enhance")
	outputDir := flag.String("output", "results", "Directory to write enhanced images to")
	modelID := flag.String("model", "", "Model identifier (overrides config)")
	weightsDir := flag.String("weights-dir", "", "Directory holding converted checkpoints (overrides config)")
	weightsPath := flag.String("weights", "", "Explicit checkpoint file (overrides config)")
	outScale := flag.Float64("scale", -1, "Requested output scale, 0 keeps the network scale (overrides config)")
	tileSize := flag.Int("tile", -1, "Tile size, 0 disables tiling (overrides config)")
	tilePad := flag.Int("tile-pad", -1, "Tile padding (overrides config)")
	prePad := flag.Int("pre-pad", -1, "Pre padding (overrides config)")
	alphaMode := flag.String("alpha", "", "Alpha upsampling: model or resize (overrides config)")
	workers := flag.Int("workers", 0, "Number of images processed concurrently (overrides config)")
	dniWeights := flag.String("dni-weights", "", "Secondary checkpoint for deep network interpolation")
	dniRatio := flag.Float64("dni-ratio", 0.5, "Blend weight of the selected model; the secondary gets 1-ratio")
	reference := flag.String("reference", "", "Reference image to compare a single output against")
	listModels := flag.Bool("list-models", false, "List known model identifiers and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := registerCustomModels(cfg.CustomModels); err != nil {
		log.Fatalf("Failed to register custom models: %v", err)
	}

	if *listModels {
		for _, id := range zoo.IDs() {
			spec, _ := zoo.Lookup(id)
			fmt.Printf("%-30s x%d  %s\n", id, spec.Scale, spec.Arch)
		}
		return
	}

	// Apply command line overrides
	if *modelID != "" {
		cfg.Model.ID = *modelID
	}
	if *weightsDir != "" {
		cfg.Model.WeightsDir = *weightsDir
	}
	if *weightsPath != "" {
		cfg.Model.WeightsPath = *weightsPath
	}
	if *outScale >= 0 {
		cfg.Output.Scale = *outScale
	}
	if *tileSize >= 0 {
		cfg.Tiling.TileSize = *tileSize
	}
	if *tilePad >= 0 {
		cfg.Tiling.TilePad = *tilePad
	}
	if *prePad >= 0 {
		cfg.Tiling.PrePad = *prePad
	}
	if *alphaMode != "" {
		cfg.Alpha.Mode = *alphaMode
	}
	if *workers > 0 {
		cfg.Runtime.Workers = *workers
	}
	if *dniWeights != "" {
		cfg.DNI.Enabled = true
		cfg.DNI.SecondaryWeights = *dniWeights
		cfg.DNI.Ratio = []float64{*dniRatio, 1 - *dniRatio}
	}

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	files, err := collectInputs(*input)
	if err != nil {
		log.Fatalf("Failed to collect inputs: %v", err)
	}
	if *reference != "" && len(files) != 1 {
		log.Fatalf("-reference needs exactly one input image, got %d", len(files))
	}

	fmt.Println("================================")
	fmt.Println("TILED SUPER-RESOLUTION")
	fmt.Printf("Model: %s, tile %d (pad %d), pre pad %d\n",
		cfg.Model.ID, cfg.Tiling.TileSize, cfg.Tiling.TilePad, cfg.Tiling.PrePad)
	fmt.Println("================================")

	numWorkers := min(cfg.Runtime.Workers, len(files))
	params := paramsFromConfig(cfg, numWorkers)
	resolver := resolverFromConfig(cfg)
	startTime := time.Now()

	// Every worker owns its Enhancer; an Enhancer is never shared between goroutines
	var g errgroup.Group
	g.SetLimit(cfg.Runtime.Workers)
	jobs := make(chan string, len(files))
	for _, f := range files {
		jobs <- f
	}
	close(jobs)

	for w := 0; w < numWorkers; w++ {
		g.Go(func() error {
			logger := log.New(os.Stderr, fmt.Sprintf("[worker %d] ", w), log.LstdFlags)
			enhancer, err := enhance.NewEnhancer(params, resolver, logger)
			if err != nil {
				return err
			}
			for path := range jobs {
				if err := processFile(enhancer, cfg, path, *outputDir, *reference, logger); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("Enhancement failed: %v", err)
	}

	fmt.Printf("\nProcessed %d image(s) in %.2f seconds\n", len(files), time.Since(startTime).Seconds())
	fmt.Printf("Results saved to: %s\n", *outputDir)
}

// processFile enhances one image and writes it to outputDir
func processFile(e *enhance.Enhancer, cfg *config.Config, path, outputDir, reference string, logger *log.Logger) error {
	img, err := imageio.Load(path)
	if err != nil {
		return err
	}
	logger.Printf("Input %s: %dx%d, %d channel(s)", filepath.Base(path), img.Width, img.Height, img.Stride())

	outScale := cfg.Output.Scale
	if outScale == 0 {
		outScale = float64(e.Scale())
	}
	res, err := e.Enhance(img, outScale, enhance.AlphaMode(cfg.Alpha.Mode))
	if err != nil {
		return err
	}
	for _, t := range res.Failed() {
		logger.Printf("Warning: %v", t)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_out" + cfg.Output.Extension
	outPath := filepath.Join(outputDir, name)
	if err := imageio.Save(outPath, res.Raster); err != nil {
		return err
	}
	logger.Printf("Output %s: %dx%d (%s)", outPath, res.Raster.Width, res.Raster.Height, res.Mode)

	if reference != "" {
		ref, err := imageio.Load(reference)
		if err != nil {
			return fmt.Errorf("failed to load reference: %w", err)
		}
		rep, err := metrics.Compare(ref, res.Raster)
		if err != nil {
			return fmt.Errorf("failed to compare with reference: %w", err)
		}
		fmt.Printf("\nComparison with %s:\n", reference)
		fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", rep.RMSE)
		fmt.Printf("Peak Signal-to-Noise Ratio (PSNR): %.2f dB\n", rep.PSNR)
		fmt.Printf("Structural Similarity Index (SSIM): %.4f\n", rep.SSIM)
	}
	return nil
}

// collectInputs expands a directory into its supported image files
func collectInputs(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && imageio.IsSupported(entry.Name()) {
			files = append(files, filepath.Join(input, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no supported images found in %s", input)
	}
	sort.Strings(files)
	return files, nil
}

// paramsFromConfig maps the configuration onto enhancement parameters for
// one of numWorkers workers, each holding an equal share of the memory budget
func paramsFromConfig(cfg *config.Config, numWorkers int) enhance.Params {
	budget := cfg.Runtime.MaxTileElements
	if budget > 0 {
		budget = max(budget/max(numWorkers, 1), 1)
	}
	params := enhance.Params{
		Model:           zoo.ModelID(cfg.Model.ID),
		TileSize:        cfg.Tiling.TileSize,
		KeepTileSize:    cfg.Tiling.FixedSize,
		TilePad:         cfg.Tiling.TilePad,
		PrePad:          cfg.Tiling.PrePad,
		MaxTileElements: budget,
		IntermediaryDir: cfg.Output.IntermediaryDir,
		Verbose:         cfg.Output.Verbose,
	}
	if cfg.DNI.Enabled {
		params.DNI = &enhance.DNI{
			SecondaryWeights: cfg.DNI.SecondaryWeights,
			WeightA:          cfg.DNI.Ratio[0],
			WeightB:          cfg.DNI.Ratio[1],
		}
	}
	return params
}

func resolverFromConfig(cfg *config.Config) zoo.Resolver {
	if cfg.Model.WeightsPath != "" {
		return zoo.StaticResolver(cfg.Model.WeightsPath)
	}
	return zoo.LocalResolver{Dir: cfg.Model.WeightsDir}
}

func registerCustomModels(models []config.CustomModel) error {
	for _, m := range models {
		spec := zoo.ModelSpec{
			ID:      zoo.ModelID(m.ID),
			URL:     m.URL,
			MD5:     m.MD5,
			Scale:   m.Scale,
			Arch:    zoo.Architecture(m.Arch),
			Compact: m.Compact,
			RRDB:    m.RRDB,
		}
		if err := zoo.Register(spec); err != nil {
			return err
		}
	}
	return nil
}
