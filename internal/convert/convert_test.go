package convert

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/wsiforge/internal/source"
	"github.com/mrsinham/wsiforge/internal/source/tiffsource/tifftest"
	"github.com/mrsinham/wsiforge/internal/util"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slide.svs")
	if err := tifftest.WriteSlide(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func parseString(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Fatalf("element %v: %v", tg, err)
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		t.Fatalf("element %v: unexpected value %v", tg, elem.Value)
	}
	return values[0]
}

func TestRunConvertsSyntheticSlide(t *testing.T) {
	input := writeFixture(t)
	outDir := t.TempDir()

	res, err := Run(Options{
		InputPath:       input,
		OutputDir:       outDir,
		IncludeLabel:    true,
		IncludeOverview: true,
		Workers:         2,
		Seed:            42,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 4 {
		t.Fatalf("files = %d, want 4 (two levels, label, overview)", len(res.Files))
	}

	flavors := map[string]int{}
	for _, path := range res.Files {
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		elem, err := ds.FindElementByTag(tag.ImageType)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		values := elem.Value.GetValue().([]string)
		if len(values) != 4 {
			t.Fatalf("%s: ImageType = %v", path, values)
		}
		flavors[values[2]]++

		if got := parseString(t, ds, tag.SOPClassUID); got != "1.2.840.10008.5.1.4.1.1.77.1.6" {
			t.Errorf("%s: SOP class = %q", path, got)
		}
		if got := parseString(t, ds, tag.DimensionOrganizationType); got != "TILED_FULL" {
			t.Errorf("%s: organization = %q", path, got)
		}
	}
	if flavors["VOLUME"] != 2 || flavors["LABEL"] != 1 || flavors["OVERVIEW"] != 1 {
		t.Errorf("flavor counts = %v", flavors)
	}
}

func TestRunBaseLevelFrameCount(t *testing.T) {
	input := writeFixture(t)
	outDir := t.TempDir()

	res, err := Run(Options{
		InputPath: input,
		OutputDir: outDir,
		Seed:      7,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// The 128x96 base level tiled 64x64 carries 4 frames; level 1 is a
	// single tile.
	counts := map[string]bool{}
	for _, path := range res.Files {
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		counts[parseString(t, ds, tag.NumberOfFrames)] = true
	}
	if !counts["4"] || !counts["1"] {
		t.Errorf("frame counts = %v, want 4 and 1", counts)
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	input := writeFixture(t)

	names := func(dir string) []string {
		res, err := Run(Options{
			InputPath: input,
			OutputDir: dir,
			Seed:      99,
			Logger:    zerolog.Nop(),
		})
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, f := range res.Files {
			out = append(out, filepath.Base(f))
		}
		sort.Strings(out)
		return out
	}

	first := names(t.TempDir())
	second := names(t.TempDir())
	if len(first) != len(second) {
		t.Fatalf("file counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("file %d: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestRunLevelSelection(t *testing.T) {
	input := writeFixture(t)

	res, err := Run(Options{
		InputPath: input,
		OutputDir: t.TempDir(),
		Levels:    []int{1},
		Seed:      1,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(res.Files))
	}
}

func TestRunRejectsUnsupportedFormat(t *testing.T) {
	input := writeFixture(t)

	if _, err := Run(Options{
		InputPath: input,
		OutputDir: t.TempDir(),
		Format:    "jpeg2000",
		Logger:    zerolog.Nop(),
	}); err == nil {
		t.Error("jpeg2000 output is not supported and must be rejected")
	}
	if _, err := Run(Options{
		InputPath:   input,
		OutputDir:   t.TempDir(),
		Subsampling: "420",
		Logger:      zerolog.Nop(),
	}); err == nil {
		t.Error("unsupported subsampling must be rejected")
	}
}

func TestRunSubsamplingSelectsPhotometric(t *testing.T) {
	input := writeFixture(t)

	res, err := Run(Options{
		InputPath:   input,
		OutputDir:   t.TempDir(),
		Levels:      []int{0},
		Subsampling: "444",
		Seed:        5,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dicom.ParseFile(res.Files[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := parseString(t, ds, tag.PhotometricInterpretation); got != "YBR_FULL" {
		t.Errorf("photometric = %q, want YBR_FULL", got)
	}
}

func TestRunRejectsUnsupportedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-slide.bin")
	if err := os.WriteFile(path, []byte("PNG-ish junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Run(Options{
		InputPath: path,
		OutputDir: t.TempDir(),
		Logger:    zerolog.Nop(),
	})
	if !errors.Is(err, source.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestRunAppliesMetadataOverrides(t *testing.T) {
	input := writeFixture(t)

	res, err := Run(Options{
		InputPath: input,
		OutputDir: t.TempDir(),
		Levels:    []int{0},
		Seed:      3,
		Overrides: util.ParsedOverrides{
			"PatientName":  "Doe^Jane",
			"Manufacturer": "OverrideCo",
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dicom.ParseFile(res.Files[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := parseString(t, ds, tag.PatientName); got != "Doe^Jane" {
		t.Errorf("patient name = %q", got)
	}
	// User override wins over the scanner metadata from the file.
	if got := parseString(t, ds, tag.Manufacturer); got != "OverrideCo" {
		t.Errorf("manufacturer = %q", got)
	}
}

func TestRunScannerMetadataFlowsThrough(t *testing.T) {
	input := writeFixture(t)

	res, err := Run(Options{
		InputPath: input,
		OutputDir: t.TempDir(),
		Levels:    []int{0},
		Seed:      3,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dicom.ParseFile(res.Files[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := parseString(t, ds, tag.Manufacturer); got != "Aperio" {
		t.Errorf("manufacturer = %q, want Aperio", got)
	}
	if got := parseString(t, ds, tag.ManufacturerModelName); got != "ScanScope AT2" {
		t.Errorf("model = %q", got)
	}
	if got := parseString(t, ds, tag.DeviceSerialNumber); got != "SS1234" {
		t.Errorf("serial = %q", got)
	}
}

func TestRunConfidentialSuppressesSerial(t *testing.T) {
	input := writeFixture(t)

	res, err := Run(Options{
		InputPath:    input,
		OutputDir:    t.TempDir(),
		Levels:       []int{0},
		Seed:         3,
		Confidential: true,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dicom.ParseFile(res.Files[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.FindElementByTag(tag.DeviceSerialNumber); err == nil {
		t.Error("device serial must be absent in confidential mode")
	}
}

func TestConfigApplyKeepsCommandLineValues(t *testing.T) {
	cfg := &JobConfig{
		Input:     "/from/config.svs",
		OutputDir: "/from/config",
		Quality:   50,
		Workers:   3,
		Metadata: map[string]string{
			"patientname":  "Config^Name",
			"manufacturer": "ConfigCo",
		},
	}
	opts := Options{
		InputPath: "/from/cli.svs",
		Quality:   90,
		Overrides: util.ParsedOverrides{"PatientName": "CLI^Name"},
	}
	if err := cfg.Apply(&opts); err != nil {
		t.Fatal(err)
	}
	if opts.InputPath != "/from/cli.svs" {
		t.Errorf("input = %q, command line must win", opts.InputPath)
	}
	if opts.OutputDir != "/from/config" {
		t.Errorf("output = %q, config must fill the gap", opts.OutputDir)
	}
	if opts.Quality != 90 {
		t.Errorf("quality = %d", opts.Quality)
	}
	if opts.Workers != 3 {
		t.Errorf("workers = %d", opts.Workers)
	}
	if opts.Overrides["PatientName"] != "CLI^Name" {
		t.Errorf("patient name override = %q", opts.Overrides["PatientName"])
	}
	if opts.Overrides["Manufacturer"] != "ConfigCo" {
		t.Errorf("manufacturer override = %q", opts.Overrides["Manufacturer"])
	}
}

func TestConfigApplyRejectsUnknownMetadata(t *testing.T) {
	cfg := &JobConfig{Metadata: map[string]string{"patientnme": "x"}}
	var opts Options
	if err := cfg.Apply(&opts); err == nil {
		t.Error("unknown metadata name should be rejected")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	body := []byte("input: /data/slide.svs\nquality: 85\noffset_table: eot\nmetadata:\n  PatientName: Doe^Jane\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Input != "/data/slide.svs" || cfg.Quality != 85 || cfg.OffsetTable != "eot" {
		t.Errorf("parsed config = %+v", cfg)
	}
	if cfg.Metadata["PatientName"] != "Doe^Jane" {
		t.Errorf("metadata = %v", cfg.Metadata)
	}
}

func TestChunkTilesFromMemory(t *testing.T) {
	for _, tt := range []struct {
		budget string
		tile   int
		want   int
	}{
		{"1MB", 512, 1},
		{"64MB", 256, 341},
		{"1KB", 256, 1},
	} {
		got, err := chunkTilesFromMemory(tt.budget, tt.tile, tt.tile)
		if err != nil {
			t.Fatalf("%s: %v", tt.budget, err)
		}
		if got != tt.want {
			t.Errorf("%s/%d: tiles = %d, want %d", tt.budget, tt.tile, got, tt.want)
		}
	}
	if _, err := chunkTilesFromMemory("lots", 256, 256); err == nil {
		t.Error("invalid budget should be rejected")
	}
}
