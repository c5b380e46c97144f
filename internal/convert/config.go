package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mrsinham/wsiforge/internal/util"
)

// JobConfig is the YAML form of a conversion job. Values set on the
// command line win over values from the file.
type JobConfig struct {
	Input           string            `yaml:"input"`
	OutputDir       string            `yaml:"output"`
	TileSize        int               `yaml:"tile_size"`
	Levels          []int             `yaml:"levels"`
	IncludeLabel    bool              `yaml:"include_label"`
	IncludeOverview bool              `yaml:"include_overview"`
	Format          string            `yaml:"format"`
	Quality         int               `yaml:"quality"`
	Subsampling     string            `yaml:"subsampling"`
	Workers         int               `yaml:"workers"`
	ChunkTiles      int               `yaml:"chunk_tiles"`
	ChunkMemory     string            `yaml:"chunk_memory"`
	OffsetTable     string            `yaml:"offset_table"`
	Confidential    bool              `yaml:"confidential"`
	Seed            int64             `yaml:"seed"`
	ReaderPoolSize  int               `yaml:"reader_pool_size"`
	Metadata        map[string]string `yaml:"metadata"`
}

// LoadConfig reads a job configuration file.
func LoadConfig(path string) (*JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg JobConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Apply fills zero-valued option fields from the config.
func (c *JobConfig) Apply(opts *Options) error {
	if opts.InputPath == "" {
		opts.InputPath = c.Input
	}
	if opts.OutputDir == "" {
		opts.OutputDir = c.OutputDir
	}
	if opts.TileSize == 0 {
		opts.TileSize = c.TileSize
	}
	if opts.Levels == nil {
		opts.Levels = c.Levels
	}
	if !opts.IncludeLabel {
		opts.IncludeLabel = c.IncludeLabel
	}
	if !opts.IncludeOverview {
		opts.IncludeOverview = c.IncludeOverview
	}
	if opts.Format == "" {
		opts.Format = c.Format
	}
	if opts.Quality == 0 {
		opts.Quality = c.Quality
	}
	if opts.Subsampling == "" {
		opts.Subsampling = c.Subsampling
	}
	if opts.Workers == 0 {
		opts.Workers = c.Workers
	}
	if opts.ChunkTiles == 0 {
		opts.ChunkTiles = c.ChunkTiles
	}
	if opts.ChunkMemory == "" {
		opts.ChunkMemory = c.ChunkMemory
	}
	if opts.OffsetTable == "" {
		opts.OffsetTable = c.OffsetTable
	}
	if !opts.Confidential {
		opts.Confidential = c.Confidential
	}
	if opts.Seed == 0 {
		opts.Seed = c.Seed
	}
	if opts.ReaderPoolSize == 0 {
		opts.ReaderPoolSize = c.ReaderPoolSize
	}
	if len(c.Metadata) > 0 {
		if opts.Overrides == nil {
			opts.Overrides = make(util.ParsedOverrides, len(c.Metadata))
		}
		for name, value := range c.Metadata {
			info, err := util.GetOverrideByName(name)
			if err != nil {
				return err
			}
			if _, set := opts.Overrides[info.Name]; !set {
				opts.Overrides[info.Name] = value
			}
		}
	}
	return nil
}

// chunkTilesFromMemory converts a memory budget such as "64MB" into a
// tile count for uncompressed RGB tiles of the given size.
func chunkTilesFromMemory(budget string, tileWidth, tileHeight int) (int, error) {
	size, err := util.ParseSize(budget)
	if err != nil {
		return 0, fmt.Errorf("chunk memory: %w", err)
	}
	perTile := int64(tileWidth) * int64(tileHeight) * 3
	if perTile == 0 {
		return 1, nil
	}
	tiles := int(size / perTile)
	if tiles < 1 {
		tiles = 1
	}
	return tiles, nil
}
