package wrender

import (
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/glyphs"
	"github.com/gogpu/wrender/gpu"
	"github.com/gogpu/wrender/resource"
)

// Option configures an API during creation.
//
// Example:
//
//	api, err := wrender.New(
//		wrender.WithWorkers(4),
//		wrender.WithGlyphRasterizer(rasterizer),
//	)
type Option func(*apiOptions)

// apiOptions holds optional configuration for API creation.
type apiOptions struct {
	cfg        config.Config
	cfgPath    string
	workers    int
	workersSet bool
	sink       gpu.FrameSink
	logger     *slog.Logger
	glyphs     resource.GlyphRasterizer
	blobs      resource.BlobRasterizer
	caps       gpu.Capabilities
}

// defaultOptions returns the default API options.
func defaultOptions() apiOptions {
	return apiOptions{
		cfg:    config.Default(),
		caps:   gpu.DefaultCapabilities(),
		glyphs: glyphs.New(),
	}
}

// WithConfig sets the initial configuration. It is validated by New.
func WithConfig(cfg config.Config) Option {
	return func(o *apiOptions) {
		o.cfg = cfg
	}
}

// WithConfigFile loads the configuration from a YAML file and reloads it
// whenever the file changes. Reloaded configurations are applied to every
// document; invalid ones are logged and ignored.
func WithConfigFile(path string) Option {
	return func(o *apiOptions) {
		o.cfgPath = path
	}
}

// WithWorkers sets the number of tile fingerprinting workers, overriding
// the configuration. 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *apiOptions) {
		o.workers = n
		o.workersSet = true
	}
}

// WithFrameSink delivers generated frames to sink instead of the default
// gpu.FrameQueue.
func WithFrameSink(sink gpu.FrameSink) Option {
	return func(o *apiOptions) {
		o.sink = sink
	}
}

// WithLogger sets the logger, as SetLogger does.
func WithLogger(l *slog.Logger) Option {
	return func(o *apiOptions) {
		o.logger = l
	}
}

// WithGlyphRasterizer replaces the built-in outline rasterizer of package
// glyphs for text runs. A nil rasterizer disables text, and frames with
// text then report ErrNoRasterizer.
func WithGlyphRasterizer(r resource.GlyphRasterizer) Option {
	return func(o *apiOptions) {
		o.glyphs = r
	}
}

// WithBlobRasterizer sets the rasterizer for blob images. Without one, blob
// images are drawn as placeholders and frames report ErrNoRasterizer.
func WithBlobRasterizer(r resource.BlobRasterizer) Option {
	return func(o *apiOptions) {
		o.blobs = r
	}
}

// WithCapabilities sets the device capabilities frames are built for.
func WithCapabilities(caps gpu.Capabilities) Option {
	return func(o *apiOptions) {
		o.caps = caps
	}
}

// WithDeviceProvider reads the device capabilities from provider.
func WithDeviceProvider(provider gpucontext.DeviceProvider) Option {
	return func(o *apiOptions) {
		o.caps = gpu.CapabilitiesFrom(provider)
	}
}
