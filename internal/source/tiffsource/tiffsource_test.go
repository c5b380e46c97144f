package tiffsource

import (
	"bytes"
	"errors"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/wsiforge/internal/source"
	"github.com/mrsinham/wsiforge/internal/source/tiffsource/tifftest"
)

func writeTestSlide(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slide.tiff")
	if err := tifftest.WriteSlide(path); err != nil {
		t.Fatalf("write test slide: %v", err)
	}
	return path
}

func TestIsSupported(t *testing.T) {
	path := writeTestSlide(t)
	if !IsSupported(path) {
		t.Error("expected tiled tiff to be supported")
	}

	other := filepath.Join(t.TempDir(), "notatiff.bin")
	if err := os.WriteFile(other, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if IsSupported(other) {
		t.Error("expected non-tiff file to be rejected")
	}
}

func TestOpenClassifiesDirectories(t *testing.T) {
	path := writeTestSlide(t)
	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	levels := slide.Levels()
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if got := levels[0].ImageSize(); got.Width != 128 || got.Height != 96 {
		t.Errorf("base level size = %+v", got)
	}
	if got := levels[1].ImageSize(); got.Width != 64 || got.Height != 48 {
		t.Errorf("level 1 size = %+v", got)
	}
	if slide.Label() == nil {
		t.Error("expected a label image")
	}
	if slide.Overview() == nil {
		t.Error("expected an overview image")
	}
	if md := slide.Metadata(); md.Manufacturer != "Aperio" || md.Model != "ScanScope AT2" || md.SerialNumber != "SS1234" {
		t.Errorf("metadata = %+v", md)
	}
}

func TestPixelSpacingFromMPP(t *testing.T) {
	path := writeTestSlide(t)
	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	spacing, ok := slide.Levels()[0].PixelSpacing()
	if !ok {
		t.Fatal("expected base level spacing")
	}
	if math.Abs(spacing.Width-0.00025) > 1e-9 {
		t.Errorf("base spacing = %v, want 0.00025", spacing.Width)
	}

	// Level 1 is a 2x downsample, so spacing doubles.
	spacing, ok = slide.Levels()[1].PixelSpacing()
	if !ok {
		t.Fatal("expected level 1 spacing")
	}
	if math.Abs(spacing.Width-0.0005) > 1e-9 {
		t.Errorf("level 1 spacing = %v, want 0.0005", spacing.Width)
	}
}

func TestGetTileDecodes(t *testing.T) {
	path := writeTestSlide(t)
	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	base := slide.Levels()[0]
	data, err := base.GetTile(source.TilePosition{Col: 1, Row: 1}, 0, "0")
	if err != nil {
		t.Fatalf("get tile: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode tile: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("tile bounds = %v", b)
	}
}

func TestGetTileOutOfGridIsBlank(t *testing.T) {
	path := writeTestSlide(t)
	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	base := slide.Levels()[0]
	data, err := base.GetTile(source.TilePosition{Col: 10, Row: 10}, 0, "0")
	if err != nil {
		t.Fatalf("get tile: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode blank tile: %v", err)
	}
	r, g, b, _ := img.At(10, 10).RGBA()
	if r < 0xe000 || g < 0xe000 || b < 0xe000 {
		t.Errorf("blank tile not background colored: r=%x g=%x b=%x", r, g, b)
	}
}

func TestSparseTileIsBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse.tiff")
	err := tifftest.WriteTIFF(path, []tifftest.Image{{
		Width: 128, Height: 128, TileWidth: 64, TileHeight: 64,
		Color:       color.RGBA{R: 10, G: 10, B: 10, A: 255},
		SparseTiles: []int{3},
	}})
	if err != nil {
		t.Fatal(err)
	}

	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	base := slide.Levels()[0]
	data, err := base.GetTile(source.TilePosition{Col: 1, Row: 1}, 0, "0")
	if err != nil {
		t.Fatalf("get sparse tile: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode sparse tile: %v", err)
	}
	r, _, _, _ := img.At(5, 5).RGBA()
	if r < 0xe000 {
		t.Errorf("sparse tile should be background, got r=%x", r)
	}
}

func TestSynthesizedOverviewOutOfGridIsBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomacro.tiff")
	err := tifftest.WriteTIFF(path, []tifftest.Image{{
		Width: 64, Height: 48, TileWidth: 64, TileHeight: 64,
		Description: "Aperio Fake\n|MPP = 0.5|",
		Color:       color.RGBA{R: 40, G: 80, B: 160, A: 255},
	}})
	if err != nil {
		t.Fatal(err)
	}

	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	overview := slide.Overview()
	if overview == nil {
		t.Fatal("overview should be synthesized when the file has none")
	}

	data, err := overview.GetTile(source.TilePosition{Col: 0, Row: 0}, 0, "0")
	if err != nil {
		t.Fatalf("get overview tile: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode overview tile: %v", err)
	}
	r, _, b, _ := img.At(5, 5).RGBA()
	if b <= r {
		t.Errorf("overview tile should carry level content, got r=%x b=%x", r, b)
	}

	// The grid is a single tile; any other cell is uncovered and comes
	// back blank, same as a sparse cell of a file-backed level.
	data, err = overview.GetTile(source.TilePosition{Col: 1, Row: 0}, 0, "0")
	if err != nil {
		t.Fatalf("get out-of-grid overview tile: %v", err)
	}
	img, err = jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode out-of-grid overview tile: %v", err)
	}
	r, g, b, _ := img.At(5, 5).RGBA()
	if r < 0xe000 || g < 0xe000 || b < 0xe000 {
		t.Errorf("out-of-grid overview tile not blank: r=%x g=%x b=%x", r, g, b)
	}
}

func TestGetTileUnknownPlane(t *testing.T) {
	path := writeTestSlide(t)
	slide, err := Open(path, source.OpenOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer slide.Close()

	_, err = slide.Levels()[0].GetTile(source.TilePosition{}, 1.5, "0")
	if !errors.Is(err, source.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown focal plane, got %v", err)
	}
	_, err = slide.Levels()[0].GetTile(source.TilePosition{}, 0, "fluorescence")
	if !errors.Is(err, source.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown optical path, got %v", err)
	}
}

func TestParseMPP(t *testing.T) {
	cases := []struct {
		desc string
		want float64
		ok   bool
	}{
		{"Aperio |MPP = 0.25|", 0.25, true},
		{"|MPP = 0.5|rest", 0.5, true},
		{"MPP = 0.1", 0.1, true},
		{"no spacing here", 0, false},
		{"MPP = garbage", 0, false},
		{"MPP = -1", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseMPP(tc.desc)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseMPP(%q) = %v, %v; want %v, %v", tc.desc, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSpliceJPEGTables(t *testing.T) {
	tables := []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x02, 0xFF, 0xD9}
	tile := []byte{0xFF, 0xD8, 0xFF, 0xDA, 0x01, 0x02}

	out := spliceJPEGTables(tables, tile)
	want := []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x02, 0xFF, 0xDA, 0x01, 0x02}
	if !bytes.Equal(out, want) {
		t.Errorf("spliced = % x, want % x", out, want)
	}

	// Tiles without their own SOI pass through untouched.
	raw := []byte{0x01, 0x02}
	if got := spliceJPEGTables(tables, raw); !bytes.Equal(got, raw) {
		t.Errorf("non-jpeg payload modified: % x", got)
	}
}
