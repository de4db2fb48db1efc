package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/wrender/picture"
)

// =============================================================================
// Defaults and parsing
// =============================================================================

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
	if cfg.Picture.TileSize != picture.DefaultTileSize {
		t.Errorf("TileSize = %d, want %d", cfg.Picture.TileSize, picture.DefaultTileSize)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
picture:
  tile_size: 128
textures:
  budget_mb: 64
  class_limits: [16, 64, 256]
debug:
  gpu_cache: true
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	def := Default()
	if cfg.Picture.TileSize != 128 {
		t.Errorf("TileSize = %d, want 128", cfg.Picture.TileSize)
	}
	if cfg.Picture.RetainFrames != def.Picture.RetainFrames {
		t.Errorf("RetainFrames = %d, want default %d", cfg.Picture.RetainFrames, def.Picture.RetainFrames)
	}
	if cfg.Textures.ClassLimits != [3]int{16, 64, 256} {
		t.Errorf("ClassLimits = %v", cfg.Textures.ClassLimits)
	}
	if got := cfg.TextureCache(0).BudgetBytes; got != 64<<20 {
		t.Errorf("BudgetBytes = %d, want %d", got, 64<<20)
	}
	if !cfg.Debug.GPUCache || cfg.Debug.TextureCache {
		t.Errorf("Debug = %+v", cfg.Debug)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Parse(nil) = %+v, want defaults", cfg)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("picture:\n  tile_sise: 128\n")); err == nil {
		t.Error("Parse() with unknown field: want error")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Workers = 3
	cfg.Debug.PictureCache = true
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != cfg {
		t.Errorf("Parse(Marshal()) = %+v, want %+v", got, cfg)
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"tile too small", func(c *Config) { c.Picture.TileSize = 8 }, "picture.tile_size"},
		{"no slices", func(c *Config) { c.Picture.MaxSlices = 0 }, "picture.max_slices"},
		{"small atlas", func(c *Config) { c.Textures.AtlasSize = 32 }, "textures.atlas_size"},
		{"classes not increasing", func(c *Config) { c.Textures.ClassLimits = [3]int{64, 32, 512} }, "textures.class_limits"},
		{"class exceeds atlas", func(c *Config) { c.Textures.ClassLimits = [3]int{32, 128, 4096} }, "textures.class_limits"},
		{"atlas below large class", func(c *Config) { c.Textures.AtlasSize = 256 }, "textures.class_limits"},
		{"negative budget", func(c *Config) { c.Textures.BudgetMB = -1 }, "textures.budget_mb"},
		{"no gpu blocks", func(c *Config) { c.GPUCache.MaxBlocks = 0 }, "gpu_cache.max_blocks"},
		{"no lookback", func(c *Config) { c.Batch.Lookback = 0 }, "batch.lookback"},
		{"negative workers", func(c *Config) { c.Workers = -2 }, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %T, want *ValidationError", err)
			}
			if len(verr.Fields) != 1 || verr.Fields[0].Field != tt.field {
				t.Errorf("Fields = %v, want one error on %s", verr.Fields, tt.field)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Picture.TileSize = 0
	cfg.GPUCache.ExpireFrames = 0
	var verr *ValidationError
	if !errors.As(cfg.Validate(), &verr) || len(verr.Fields) != 2 {
		t.Errorf("Validate() = %v, want 2 field errors", verr)
	}
}

// =============================================================================
// Files and watching
// =============================================================================

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrender.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  lookback: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.Lookback != 4 {
		t.Errorf("Lookback = %d, want 4", cfg.Batch.Lookback)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want os.ErrNotExist", err)
	}
}

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrender.yaml")
	if err := os.WriteFile(path, []byte("workers: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan Config, 4)
	errs := make(chan error, 4)
	w, err := Watch(path, 20*time.Millisecond, func(c Config) { reloads <- c }, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloads:
		if cfg.Workers != 2 {
			t.Errorf("reloaded Workers = %d, want 2", cfg.Workers)
		}
	case err := <-errs:
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	if err := os.WriteFile(path, []byte("workers: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("watch error = %v, want ErrInvalid", err)
		}
	case cfg := <-reloads:
		t.Fatalf("invalid file reloaded: %+v", cfg)
	case <-time.After(5 * time.Second):
		t.Fatal("no error after invalid write")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrender.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	reloads := make(chan Config, 1)
	w, err := Watch(path, 10*time.Millisecond, func(c Config) { reloads <- c }, nil)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloads:
		t.Error("reloaded on change to another file")
	case <-time.After(150 * time.Millisecond):
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
