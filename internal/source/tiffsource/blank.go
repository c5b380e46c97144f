package tiffsource

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"

	"github.com/mrsinham/wsiforge/internal/source"
)

const defaultBlankQuality = 80

// blankTile lazily encodes a background-filled tile once and serves the
// cached bytes for every sparse grid cell afterwards.
type blankTile struct {
	width   int
	height  int
	quality int

	once    sync.Once
	encoded []byte
	err     error
}

func newBlankTile(width, height, quality int) *blankTile {
	return &blankTile{width: width, height: height, quality: quality}
}

// Encoded returns the JPEG bytes of a white tile.
func (b *blankTile) Encoded() ([]byte, error) {
	b.once.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
		draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
			b.err = fmt.Errorf("encode blank tile: %w", err)
			return
		}
		b.encoded = buf.Bytes()
	})
	return b.encoded, b.err
}

// maxSynthesizedOverview bounds the longest edge of an overview image
// composed from the smallest pyramid level.
const maxSynthesizedOverview = 512

// synthesizeOverview builds an overview image by decoding the smallest
// level, downscaling it and re-encoding it as a single JPEG tile.
// Returns nil when the level is too large to compose in memory.
func synthesizeOverview(level source.TiledImageSource, quality int) (source.TiledImageSource, error) {
	img := level.ImageSize()
	if img.Width > 4096 || img.Height > 4096 {
		return nil, nil
	}

	full := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	tile := level.TileSize()
	grid := source.TiledSize(level)
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			data, err := level.GetTile(source.TilePosition{Col: col, Row: row}, 0, "0")
			if err != nil {
				return nil, err
			}
			decoded, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("decode tile (%d,%d): %w", col, row, err)
			}
			origin := image.Pt(col*tile.Width, row*tile.Height)
			draw.Draw(full, decoded.Bounds().Add(origin), decoded, image.Point{}, draw.Src)
		}
	}

	scale := 1.0
	if img.Width > maxSynthesizedOverview || img.Height > maxSynthesizedOverview {
		scale = float64(maxSynthesizedOverview) / float64(max(img.Width, img.Height))
	}
	outW := max(1, int(float64(img.Width)*scale))
	outH := max(1, int(float64(img.Height)*scale))
	scaled := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), full, full.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode overview: %w", err)
	}
	return &memSource{
		width:   outW,
		height:  outH,
		encoded: buf.Bytes(),
		blank:   newBlankTile(outW, outH, quality),
	}, nil
}

// memSource is a single-tile in-memory image, used for synthesized
// overview images.
type memSource struct {
	width   int
	height  int
	encoded []byte
	blank   *blankTile
}

func (m *memSource) ImageSize() source.Size { return source.Size{Width: m.width, Height: m.height} }
func (m *memSource) TileSize() source.Size  { return source.Size{Width: m.width, Height: m.height} }

func (m *memSource) PixelSpacing() (source.PixelSpacing, bool) {
	return source.PixelSpacing{}, false
}

func (m *memSource) FocalPlanes() []float64 { return []float64{0} }
func (m *memSource) OpticalPaths() []string { return []string{"0"} }

func (m *memSource) GetTile(pos source.TilePosition, focalPlane float64, opticalPath string) ([]byte, error) {
	if focalPlane != 0 || opticalPath != "0" {
		return nil, fmt.Errorf("focal plane %v optical path %q: %w", focalPlane, opticalPath, source.ErrNotFound)
	}
	if pos.Col != 0 || pos.Row != 0 {
		// Cells outside the single-tile grid are blank, like any other
		// source's uncovered cells.
		return m.blank.Encoded()
	}
	return m.encoded, nil
}

func (m *memSource) GetTiles(positions []source.TilePosition, focalPlane float64, opticalPath string) ([][]byte, error) {
	out := make([][]byte, len(positions))
	for i, pos := range positions {
		tile, err := m.GetTile(pos, focalPlane, opticalPath)
		if err != nil {
			return nil, err
		}
		out[i] = tile
	}
	return out, nil
}

func (m *memSource) SuggestedMinChunkSize() int { return 1 }
func (m *memSource) ThreadSafe() bool           { return true }
func (m *memSource) Close() error               { return nil }
