// Package source defines the tiled image capability contract that format
// adapters implement and the conversion pipeline consumes.
package source

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported indicates no adapter recognizes the input file.
	ErrUnsupported = errors.New("unsupported source file")

	// ErrRead indicates the underlying decoder failed on a specific
	// tile or region. Never retried: a tile that fails to read makes
	// the rest of the level suspect.
	ErrRead = errors.New("source read failed")

	// ErrNotFound indicates a focal plane / optical path combination the
	// source does not provide.
	ErrNotFound = errors.New("focal plane or optical path not available")
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// PixelSpacing is the physical size of one pixel in millimeters.
type PixelSpacing struct {
	Width  float64
	Height float64
}

// TilePosition addresses one cell of a tile grid.
type TilePosition struct {
	Col int
	Row int
}

// TiledImageSource exposes one tiled pyramid image (a level, a label or
// an overview). Requests for grid cells outside the source's real data
// coverage return a blank, background-filled tile encoded with the same
// codec as real tiles; only actual decode failures surface as errors.
type TiledImageSource interface {
	// ImageSize returns the full pixel dimensions of the image.
	ImageSize() Size

	// TileSize returns the tile dimensions.
	TileSize() Size

	// PixelSpacing returns the physical pixel spacing in mm, if known.
	PixelSpacing() (PixelSpacing, bool)

	// FocalPlanes returns the ordered focal plane offsets in micrometers.
	FocalPlanes() []float64

	// OpticalPaths returns the ordered optical path identifiers.
	OpticalPaths() []string

	// GetTile returns the encoded bytes for one grid cell. Cells outside
	// the sparse data coverage yield a blank tile, not an error.
	GetTile(pos TilePosition, focalPlane float64, opticalPath string) ([]byte, error)

	// GetTiles returns encoded bytes for a batch of grid cells in order.
	GetTiles(positions []TilePosition, focalPlane float64, opticalPath string) ([][]byte, error)

	// SuggestedMinChunkSize hints how many tiles a fetch batch should
	// cover at minimum for I/O efficiency.
	SuggestedMinChunkSize() int

	// ThreadSafe reports whether GetTile may be called concurrently.
	ThreadSafe() bool

	Close() error
}

// TiledSize returns the tile grid dimensions of a source
// (ceiling-divided image size).
func TiledSize(s TiledImageSource) Size {
	img := s.ImageSize()
	tile := s.TileSize()
	return Size{
		Width:  (img.Width + tile.Width - 1) / tile.Width,
		Height: (img.Height + tile.Height - 1) / tile.Height,
	}
}

// ScannerMetadata carries metadata read from the source file. Empty
// fields are treated as absent by the dataset builder.
type ScannerMetadata struct {
	Manufacturer        string
	Model               string
	SerialNumber        string
	SoftwareVersions    string
	AcquisitionDateTime string
}

// Slide is one opened whole-slide image: a pyramid of levels plus
// optional label and overview images.
type Slide interface {
	// Levels returns the pyramid levels ordered from the base (largest)
	// level down.
	Levels() []TiledImageSource

	// Label returns the slide label image, or nil if absent.
	Label() TiledImageSource

	// Overview returns the slide overview image, or nil if absent.
	Overview() TiledImageSource

	// Metadata returns scanner-derived metadata.
	Metadata() ScannerMetadata

	Close() error
}

// Probe describes one format adapter. Probes are tried in declaration
// order; the first one whose Supported func accepts the path claims the
// file. Order matters for ambiguous files, so the list is explicit
// rather than a registry.
type Probe struct {
	Name      string
	Supported func(path string) bool
	Open      func(path string, opts OpenOptions) (Slide, error)
}

// OpenOptions are adapter-independent open parameters.
type OpenOptions struct {
	// TileSize forces a tile size for adapters that re-tile; 0 keeps the
	// source's native tiling.
	TileSize int

	// Quality is the encode quality for tiles that must be re-encoded
	// (blank tiles included).
	Quality int

	// ReaderPoolSize bounds the number of concurrently open reader
	// handles per file. 0 means a single handle.
	ReaderPoolSize int
}

// Open tries each probe in order and opens the file with the first
// adapter that claims it.
func Open(path string, probes []Probe, opts OpenOptions) (Slide, error) {
	for _, p := range probes {
		if p.Supported(path) {
			slide, err := p.Open(path, opts)
			if err != nil {
				return nil, fmt.Errorf("open %s as %s: %w", path, p.Name, err)
			}
			return slide, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
}
