package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	World     string        `yaml:"world"`
	Dimension string        `yaml:"dimension"`
	Storage   StorageConfig `yaml:"storage"`
	Tiles     TilesConfig   `yaml:"tiles"`
	Bounds    BoundsConfig  `yaml:"bounds"`
	Render    RenderConfig  `yaml:"render"`
	Cache     CacheConfig   `yaml:"cache"`
	Journal   JournalConfig `yaml:"journal"`
}

type StorageConfig struct {
	// Kind is one of file, sqlite or memory.
	Kind        string `yaml:"kind"`
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"`
}

type TilesConfig struct {
	Size    int `yaml:"size"`
	OffsetX int `yaml:"offset_x"`
	OffsetZ int `yaml:"offset_z"`
}

type BoundsConfig struct {
	Enabled    bool `yaml:"enabled"`
	MinX       int  `yaml:"min_x"`
	MinZ       int  `yaml:"min_z"`
	MaxX       int  `yaml:"max_x"`
	MaxZ       int  `yaml:"max_z"`
	EdgeMargin int  `yaml:"edge_margin"`
}

type RenderConfig struct {
	Workers          int   `yaml:"workers"`
	MinInhabitedTime int64 `yaml:"min_inhabited_time"`
	RequireLight     bool  `yaml:"require_light"`
	Force            bool  `yaml:"force"`
}

type CacheConfig struct {
	RegionCacheBytes int64 `yaml:"region_cache_bytes"`
}

type JournalConfig struct {
	// Dir disables the journal when empty.
	Dir string `yaml:"dir"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		World:     "./world",
		Dimension: "minecraft:overworld",
		Storage: StorageConfig{
			Kind:        "file",
			Path:        "./map",
			Compression: "gzip",
		},
		Tiles: TilesConfig{Size: 32},
		Render: RenderConfig{
			Workers:      runtime.NumCPU(),
			RequireLight: true,
		},
		Cache: CacheConfig{RegionCacheBytes: 64 << 20},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.World = strings.TrimSpace(c.World)
	c.Dimension = strings.ToLower(strings.TrimSpace(c.Dimension))
	if c.Dimension == "" {
		c.Dimension = "minecraft:overworld"
	} else if !strings.Contains(c.Dimension, ":") {
		c.Dimension = "minecraft:" + c.Dimension
	}
	c.Storage.Kind = strings.ToLower(strings.TrimSpace(c.Storage.Kind))
	if c.Storage.Kind == "" {
		c.Storage.Kind = "file"
	}
	c.Storage.Compression = strings.ToLower(strings.TrimSpace(c.Storage.Compression))
	if c.Storage.Compression == "" {
		c.Storage.Compression = "gzip"
	}
	if c.Render.Workers <= 0 {
		c.Render.Workers = 1
	}
	if c.Cache.RegionCacheBytes < 0 {
		c.Cache.RegionCacheBytes = 0
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.World == "" {
		return fmt.Errorf("world must not be empty")
	}
	switch c.Storage.Kind {
	case "file", "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path must not be empty for kind %s", c.Storage.Kind)
		}
	case "memory":
	default:
		return fmt.Errorf("storage.kind %q must be one of file, sqlite, memory", c.Storage.Kind)
	}
	switch c.Storage.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("storage.compression %q must be one of none, gzip, zstd", c.Storage.Compression)
	}
	if c.Tiles.Size <= 0 || c.Tiles.Size%16 != 0 {
		return fmt.Errorf("tiles.size must be a positive multiple of 16")
	}
	if c.Bounds.Enabled {
		if c.Bounds.MinX > c.Bounds.MaxX || c.Bounds.MinZ > c.Bounds.MaxZ {
			return fmt.Errorf("bounds min must not exceed max")
		}
		if c.Bounds.EdgeMargin < 0 {
			return fmt.Errorf("bounds.edge_margin must be >= 0")
		}
	}
	if c.Render.MinInhabitedTime < 0 {
		return fmt.Errorf("render.min_inhabited_time must be >= 0")
	}
	return nil
}
