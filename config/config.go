// Package config loads, validates and watches renderer configuration
// files.
//
// A configuration file is YAML. Omitted fields keep their defaults:
//
//	picture:
//	  tile_size: 256
//	  retain_frames: 60
//	textures:
//	  budget_mb: 512
//	debug:
//	  texture_cache: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/wrender/batch"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/texcache"
)

// ErrInvalid is wrapped by validation errors.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds every tunable of the renderer.
type Config struct {
	Picture  PictureConfig  `yaml:"picture"`
	Textures TextureConfig  `yaml:"textures"`
	GPUCache GPUCacheConfig `yaml:"gpu_cache"`
	Batch    BatchConfig    `yaml:"batch"`
	// Workers is the size of the tile fingerprinting pool. 0 selects one
	// worker per CPU.
	Workers int        `yaml:"workers"`
	Debug   DebugFlags `yaml:"debug"`
}

// PictureConfig configures the picture cache.
type PictureConfig struct {
	TileSize     int `yaml:"tile_size"`
	MaxSlices    int `yaml:"max_slices"`
	RetainFrames int `yaml:"retain_frames"`
}

// TextureConfig configures the texture cache.
type TextureConfig struct {
	AtlasSize     int    `yaml:"atlas_size"`
	ClassLimits   [3]int `yaml:"class_limits,flow"`
	BudgetMB      int    `yaml:"budget_mb"`
	EvictionBatch int    `yaml:"eviction_batch"`
	Padding       int    `yaml:"padding"`
}

// GPUCacheConfig configures the GPU cache.
type GPUCacheConfig struct {
	MaxBlocks    int `yaml:"max_blocks"`
	ExpireFrames int `yaml:"expire_frames"`
}

// BatchConfig configures the batcher.
type BatchConfig struct {
	Lookback int `yaml:"lookback"`
}

// DebugFlags enable debug logging of individual caches.
type DebugFlags struct {
	PictureCache bool `yaml:"picture_cache"`
	TextureCache bool `yaml:"texture_cache"`
	GPUCache     bool `yaml:"gpu_cache"`
}

// Default returns the default configuration.
func Default() Config {
	pc := picture.DefaultConfig()
	tc := texcache.DefaultConfig()
	return Config{
		Picture: PictureConfig{
			TileSize:     pc.TileSize,
			MaxSlices:    pc.MaxSlices,
			RetainFrames: pc.RetainFrames,
		},
		Textures: TextureConfig{
			AtlasSize:     tc.AtlasSize,
			ClassLimits:   tc.ClassLimits,
			BudgetMB:      int(tc.BudgetBytes >> 20),
			EvictionBatch: tc.EvictionBatch,
			Padding:       tc.Padding,
		},
		GPUCache: GPUCacheConfig{
			MaxBlocks:    gpucache.DefaultMaxBlocks,
			ExpireFrames: gpucache.DefaultExpireFrames,
		},
		Batch: BatchConfig{Lookback: batch.DefaultLookback},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// FieldError is a validation failure of one field.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError lists every invalid field of a configuration.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%v: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalid.
func (e *ValidationError) Unwrap() error { return ErrInvalid }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks value ranges. The error is a *ValidationError listing
// every problem.
func (c Config) Validate() error {
	var v ValidationError
	if c.Picture.TileSize < 16 || c.Picture.TileSize > 4096 {
		v.add("picture.tile_size", "%d not in [16, 4096]", c.Picture.TileSize)
	}
	if c.Picture.MaxSlices < 1 {
		v.add("picture.max_slices", "must be positive, got %d", c.Picture.MaxSlices)
	}
	if c.Picture.RetainFrames < 0 {
		v.add("picture.retain_frames", "must not be negative, got %d", c.Picture.RetainFrames)
	}

	t := c.Textures
	atlasOK := t.AtlasSize >= 64
	if !atlasOK {
		v.add("textures.atlas_size", "must be at least 64, got %d", t.AtlasSize)
	}
	// The large class is checked against the atlas size only when it is valid.
	if t.ClassLimits[0] <= 0 || t.ClassLimits[0] >= t.ClassLimits[1] || t.ClassLimits[1] >= t.ClassLimits[2] {
		v.add("textures.class_limits", "must be positive and increasing, got %v", t.ClassLimits)
	} else if atlasOK && t.ClassLimits[2] > t.AtlasSize {
		v.add("textures.class_limits", "large limit %d exceeds atlas size %d", t.ClassLimits[2], t.AtlasSize)
	}
	if t.BudgetMB < 0 {
		v.add("textures.budget_mb", "must not be negative, got %d", t.BudgetMB)
	}
	if t.EvictionBatch < 1 {
		v.add("textures.eviction_batch", "must be positive, got %d", t.EvictionBatch)
	}
	if t.Padding < 0 || t.Padding > 8 {
		v.add("textures.padding", "%d not in [0, 8]", t.Padding)
	}

	if c.GPUCache.MaxBlocks < 1 {
		v.add("gpu_cache.max_blocks", "must be positive, got %d", c.GPUCache.MaxBlocks)
	}
	if c.GPUCache.ExpireFrames < 1 {
		v.add("gpu_cache.expire_frames", "must be positive, got %d", c.GPUCache.ExpireFrames)
	}
	if c.Batch.Lookback < 1 {
		v.add("batch.lookback", "must be positive, got %d", c.Batch.Lookback)
	}
	if c.Workers < 0 {
		v.add("workers", "must not be negative, got %d", c.Workers)
	}

	if len(v.Fields) > 0 {
		return &v
	}
	return nil
}

// PictureCache returns the picture cache settings. The surface format is
// left zero for the caller to fill from the device capabilities.
func (c Config) PictureCache() picture.Config {
	return picture.Config{
		TileSize:     c.Picture.TileSize,
		MaxSlices:    c.Picture.MaxSlices,
		RetainFrames: c.Picture.RetainFrames,
	}
}

// TextureCache returns the texture cache settings for a device whose
// largest 2D texture is maxTextureSize pixels. 0 keeps the default.
func (c Config) TextureCache(maxTextureSize int) texcache.Config {
	return texcache.Config{
		AtlasSize:      c.Textures.AtlasSize,
		ClassLimits:    c.Textures.ClassLimits,
		BudgetBytes:    int64(c.Textures.BudgetMB) << 20,
		MaxTextureSize: maxTextureSize,
		EvictionBatch:  c.Textures.EvictionBatch,
		Padding:        c.Textures.Padding,
	}
}
