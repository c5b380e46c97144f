// Package tiffsource reads tiled pyramidal TIFF files (SVS-style and
// plain tiled TIFF) and exposes them through the source contract.
package tiffsource

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mrsinham/wsiforge/internal/source"
)

// Probe returns the format probe for tiled TIFF inputs.
func Probe() source.Probe {
	return source.Probe{
		Name:      "tiff",
		Supported: IsSupported,
		Open:      Open,
	}
}

// IsSupported reports whether the file starts with a little-endian
// classic TIFF header.
func IsSupported(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [4]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return false
	}
	return header[0] == 'I' && header[1] == 'I' && header[2] == 0x2A && header[3] == 0x00
}

// slide is one opened tiled TIFF file. All levels share one reader pool
// so the number of open handles stays bounded regardless of worker count.
type slide struct {
	pool     *source.ReaderPool
	levels   []source.TiledImageSource
	label    source.TiledImageSource
	overview source.TiledImageSource
	metadata source.ScannerMetadata
}

// Open parses the IFD chain and classifies directories into pyramid
// levels, label and overview images.
func Open(path string, opts source.OpenOptions) (source.Slide, error) {
	poolSize := opts.ReaderPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	pool := source.NewReaderPool(poolSize, func() (source.PooledReader, error) {
		return os.Open(path)
	})

	r, err := pool.Acquire(context.Background())
	if err != nil {
		return nil, err
	}
	ifds, err := parseIFDs(r)
	pool.Release(r)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s := &slide{pool: pool}
	quality := opts.Quality
	if quality <= 0 {
		quality = defaultBlankQuality
	}

	var levelIFDs []*ifd
	for _, d := range ifds {
		if !d.tiled() {
			// Stripped directories (thumbnails in SVS files) carry no
			// tile grid and are skipped.
			continue
		}
		if d.compression != compressionJPEG {
			pool.Close()
			return nil, fmt.Errorf("%s: unsupported compression %d: %w", path, d.compression, source.ErrUnsupported)
		}
		switch classifyIFD(d) {
		case kindLabel:
			s.label = newLevelSource(pool, d, 0, quality)
		case kindOverview:
			s.overview = newLevelSource(pool, d, 0, quality)
		default:
			levelIFDs = append(levelIFDs, d)
		}
	}
	if len(levelIFDs) == 0 {
		pool.Close()
		return nil, fmt.Errorf("%s: no tiled pyramid levels: %w", path, source.ErrUnsupported)
	}

	sort.SliceStable(levelIFDs, func(i, j int) bool {
		return levelIFDs[i].width > levelIFDs[j].width
	})

	base := levelIFDs[0]
	mpp, haveMPP := parseMPP(base.description)
	for _, d := range levelIFDs {
		spacing := 0.0
		if haveMPP && d.width > 0 {
			// Scale the base spacing by the downsample factor of the level.
			spacing = mpp / 1000.0 * float64(base.width) / float64(d.width)
		}
		s.levels = append(s.levels, newLevelSource(pool, d, spacing, quality))
	}

	if s.overview == nil {
		if ov, err := synthesizeOverview(s.levels[len(s.levels)-1], quality); err == nil && ov != nil {
			s.overview = ov
		}
	}

	s.metadata = metadataFromDescription(base.description)
	return s, nil
}

func (s *slide) Levels() []source.TiledImageSource { return s.levels }
func (s *slide) Label() source.TiledImageSource    { return s.label }
func (s *slide) Overview() source.TiledImageSource { return s.overview }
func (s *slide) Metadata() source.ScannerMetadata  { return s.metadata }

func (s *slide) Close() error {
	return s.pool.Close()
}

type ifdKind int

const (
	kindLevel ifdKind = iota
	kindLabel
	kindOverview
)

func classifyIFD(d *ifd) ifdKind {
	desc := strings.ToLower(d.description)
	switch {
	case strings.Contains(desc, "label"):
		return kindLabel
	case strings.Contains(desc, "macro"), strings.Contains(desc, "overview"):
		return kindOverview
	default:
		return kindLevel
	}
}

// metadataFromDescription pulls scanner fields out of an SVS-style
// description line. Plain TIFFs yield empty metadata.
func metadataFromDescription(desc string) source.ScannerMetadata {
	md := source.ScannerMetadata{}
	if strings.Contains(desc, "Aperio") {
		md.Manufacturer = "Aperio"
	}
	for _, field := range strings.Split(desc, "|") {
		name, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch name {
		case "ScannerType":
			md.Model = value
		case "SSN", "ScanScope ID":
			md.SerialNumber = value
		}
	}
	return md
}

// levelSource serves encoded tiles from one tiled IFD.
type levelSource struct {
	pool    *source.ReaderPool
	ifd     *ifd
	spacing float64
	blank   *blankTile
}

func newLevelSource(pool *source.ReaderPool, d *ifd, spacing float64, quality int) *levelSource {
	return &levelSource{
		pool:    pool,
		ifd:     d,
		spacing: spacing,
		blank:   newBlankTile(d.tileWidth, d.tileHeight, quality),
	}
}

func (l *levelSource) ImageSize() source.Size {
	return source.Size{Width: l.ifd.width, Height: l.ifd.height}
}

func (l *levelSource) TileSize() source.Size {
	return source.Size{Width: l.ifd.tileWidth, Height: l.ifd.tileHeight}
}

func (l *levelSource) PixelSpacing() (source.PixelSpacing, bool) {
	if l.spacing <= 0 {
		return source.PixelSpacing{}, false
	}
	return source.PixelSpacing{Width: l.spacing, Height: l.spacing}, true
}

func (l *levelSource) FocalPlanes() []float64 { return []float64{0} }

func (l *levelSource) OpticalPaths() []string { return []string{"0"} }

func (l *levelSource) GetTile(pos source.TilePosition, focalPlane float64, opticalPath string) ([]byte, error) {
	if focalPlane != 0 || opticalPath != "0" {
		return nil, fmt.Errorf("focal plane %v optical path %q: %w", focalPlane, opticalPath, source.ErrNotFound)
	}
	across := l.ifd.tilesAcross()
	down := l.ifd.tilesDown()
	if pos.Col < 0 || pos.Row < 0 || pos.Col >= across || pos.Row >= down {
		return l.blank.Encoded()
	}
	idx := pos.Row*across + pos.Col
	if idx >= len(l.ifd.tileOffsets) || l.ifd.tileOffsets[idx] == 0 {
		// Sparse file: missing tiles are background.
		return l.blank.Encoded()
	}
	count := int64(0)
	if idx < len(l.ifd.tileByteCounts) {
		count = l.ifd.tileByteCounts[idx]
	}
	if count == 0 {
		return l.blank.Encoded()
	}

	r, err := l.pool.Acquire(context.Background())
	if err != nil {
		return nil, fmt.Errorf("tile (%d,%d): %w", pos.Col, pos.Row, err)
	}
	buf := make([]byte, count)
	_, err = r.ReadAt(buf, l.ifd.tileOffsets[idx])
	l.pool.Release(r)
	if err != nil {
		return nil, fmt.Errorf("tile (%d,%d): %v: %w", pos.Col, pos.Row, err, source.ErrRead)
	}
	return spliceJPEGTables(l.ifd.jpegTables, buf), nil
}

func (l *levelSource) GetTiles(positions []source.TilePosition, focalPlane float64, opticalPath string) ([][]byte, error) {
	out := make([][]byte, len(positions))
	for i, pos := range positions {
		tile, err := l.GetTile(pos, focalPlane, opticalPath)
		if err != nil {
			return nil, err
		}
		out[i] = tile
	}
	return out, nil
}

// SuggestedMinChunkSize is one grid row: tiles within a row are stored
// contiguously in most scanner output.
func (l *levelSource) SuggestedMinChunkSize() int {
	return l.ifd.tilesAcross()
}

// ThreadSafe is true because each read acquires its own pooled handle.
func (l *levelSource) ThreadSafe() bool { return true }

// Close is a no-op: the reader pool belongs to the slide.
func (l *levelSource) Close() error { return nil }

// spliceJPEGTables merges a shared JPEGTables segment into an
// abbreviated tile stream. The tables segment is SOI + tables + EOI;
// the result is SOI + tables + the tile data after its own SOI.
func spliceJPEGTables(tables, tile []byte) []byte {
	if len(tables) < 4 || len(tile) < 2 {
		return tile
	}
	if tile[0] != 0xFF || tile[1] != 0xD8 {
		return tile
	}
	body := tables[2:]
	if n := len(body); n >= 2 && body[n-2] == 0xFF && body[n-1] == 0xD9 {
		body = body[:n-2]
	}
	out := make([]byte, 0, 2+len(body)+len(tile)-2)
	out = append(out, 0xFF, 0xD8)
	out = append(out, body...)
	out = append(out, tile[2:]...)
	return out
}
