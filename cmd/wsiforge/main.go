package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mrsinham/wsiforge/internal/convert"
	"github.com/mrsinham/wsiforge/internal/util"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	input := flag.String("input", "", "Input whole-slide image file (required)")
	outputDir := flag.String("output", "", "Output directory (default: 'dicom_output')")
	tileSize := flag.Int("tile-size", 0, "Tile size in pixels (0 keeps the source's native tiling)")
	levels := flag.String("levels", "", "Comma-separated pyramid level indexes to convert (default: all)")
	includeLabel := flag.Bool("include-label", false, "Also convert the label image")
	includeOverview := flag.Bool("include-overview", false, "Also convert the overview image")
	format := flag.String("format", "", "Tile encoding format (default: jpeg)")
	quality := flag.Int("quality", 0, "JPEG quality for re-encoded tiles (default: 80)")
	subsampling := flag.String("subsampling", "", "Chroma subsampling: 444 or 422 (default: 422)")
	workers := flag.Int("workers", 0, fmt.Sprintf("Number of parallel workers (default: %d = CPU cores)", runtime.NumCPU()))
	chunkTiles := flag.Int("chunk-tiles", 0, "Tiles fetched per batch (default: source-suggested)")
	chunkMemory := flag.String("chunk-memory", "", "Memory budget per batch (e.g., '64MB'), alternative to --chunk-tiles")
	offsetTable := flag.String("offset-table", "", "Frame offset table: none, bot, eot (default: bot)")
	confidential := flag.Bool("confidential", false, "Suppress identifying attributes (device serial, acquisition time)")
	seed := flag.Int64("seed", 0, "Seed for reproducible UIDs (random UIDs if not specified)")
	readerPool := flag.Int("reader-pool", 0, "Concurrently open file handles per input (default: 1)")
	configFile := flag.String("config", "", "Load job configuration from YAML file")
	quiet := flag.Bool("quiet", false, "Only log warnings and errors")

	var tagFlags []string
	flag.Func("tag", "Set metadata field: 'Name=Value' (repeatable)", func(s string) error {
		tagFlags = append(tagFlags, s)
		return nil
	})

	help := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("wsiforge %s\n", version)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}

	level := zerolog.InfoLevel
	if *quiet {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	overrides, err := util.ParseOverrideFlags(tagFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	parsedLevels, err := parseLevels(*levels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := convert.Options{
		InputPath:       *input,
		OutputDir:       *outputDir,
		TileSize:        *tileSize,
		Levels:          parsedLevels,
		IncludeLabel:    *includeLabel,
		IncludeOverview: *includeOverview,
		Format:          *format,
		Quality:         *quality,
		Subsampling:     *subsampling,
		Workers:         *workers,
		ChunkTiles:      *chunkTiles,
		ChunkMemory:     *chunkMemory,
		OffsetTable:     *offsetTable,
		Confidential:    *confidential,
		Seed:            *seed,
		ReaderPoolSize:  *readerPool,
		Overrides:       overrides,
		Logger:          logger,
	}

	if *configFile != "" {
		cfg, err := convert.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Apply(&opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if opts.InputPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --input is required\n")
		printUsage()
		os.Exit(1)
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "dicom_output"
	}

	result, err := convert.Run(opts)
	if result != nil {
		for _, f := range result.Files {
			fmt.Println(f)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseLevels parses "0,1,3" into level indexes. Empty means all levels.
func parseLevels(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid level index %q", part)
		}
		out = append(out, idx)
	}
	return out, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  wsiforge --input <FILE> [options]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}

func printHelp() {
	fmt.Println("wsiforge")
	fmt.Println("========")
	fmt.Println()
	fmt.Println("Convert whole-slide images to DICOM WSI instances.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  wsiforge --input <FILE> [options]")
	fmt.Println()
	fmt.Println("Required arguments:")
	fmt.Println("  --input <FILE>        Input slide file (tiled TIFF / SVS)")
	fmt.Println()
	fmt.Println("Optional arguments:")
	fmt.Println("  --output <DIR>        Output directory (default: 'dicom_output')")
	fmt.Println("  --levels <LIST>       Pyramid levels to convert, e.g. '0,1,2' (default: all)")
	fmt.Println("  --include-label       Also convert the label image")
	fmt.Println("  --include-overview    Also convert the overview image")
	fmt.Println("  --tile-size <N>       Tile size for re-tiling adapters (default: source native)")
	fmt.Println("  --format <F>          Tile encoding format, only 'jpeg' (default: jpeg)")
	fmt.Println("  --quality <N>         JPEG quality for re-encoded tiles (default: 80)")
	fmt.Println("  --subsampling <S>     Chroma subsampling: 444 or 422 (default: 422)")
	fmt.Printf("  --workers <N>         Parallel tile workers (default: %d = CPU cores)\n", runtime.NumCPU())
	fmt.Println("  --chunk-tiles <N>     Tiles fetched per batch")
	fmt.Println("  --chunk-memory <SIZE> Memory budget per batch, e.g. '64MB'")
	fmt.Println("  --offset-table <T>    Frame offset table: none, bot, eot (default: bot)")
	fmt.Println("  --reader-pool <N>     Concurrently open file handles per input")
	fmt.Println("  --seed <N>            Seed for reproducible UIDs")
	fmt.Println("  --confidential        Suppress identifying attributes")
	fmt.Println("  --config <FILE>       Load job configuration from YAML")
	fmt.Println("  --quiet               Only log warnings and errors")
	fmt.Println()
	fmt.Println("Metadata:")
	fmt.Println("  --tag <NAME=VALUE>    Set a metadata field (repeatable)")
	fmt.Println("                        Example: --tag \"PatientName=Doe^Jane\" --tag \"StudyID=S42\"")
	fmt.Println()
	fmt.Println("  --help                Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Convert every pyramid level of a slide")
	fmt.Println("  wsiforge --input slide.svs --output out/")
	fmt.Println()
	fmt.Println("  # Convert only the base level, with label and overview")
	fmt.Println("  wsiforge --input slide.svs --levels 0 --include-label --include-overview")
	fmt.Println()
	fmt.Println("  # Reproducible conversion with patient metadata")
	fmt.Println("  wsiforge --input slide.svs --seed 42 --tag \"PatientName=Doe^Jane\"")
	fmt.Println()
	fmt.Println("  # Bound fetch batches to 64MB of decoded pixels")
	fmt.Println("  wsiforge --input slide.svs --chunk-memory 64MB")
	fmt.Println()
	fmt.Println("Output:")
	fmt.Println("  One .dcm file per converted image, named by SOP instance UID.")
	fmt.Println("  Written file paths are printed to stdout, one per line.")
	fmt.Println()
	fmt.Println("Reproducibility:")
	fmt.Println("  Using the same seed ensures identical UIDs across runs.")
}
