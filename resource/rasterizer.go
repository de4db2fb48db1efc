package resource

import "github.com/gogpu/wrender/texcache"

// RasterizedGlyph is a glyph bitmap produced by a GlyphRasterizer.
type RasterizedGlyph struct {
	Width, Height int
	// Left and Top place the bitmap relative to the glyph origin, in pixels,
	// with Top measured upwards.
	Left, Top float32
	Format    texcache.Format
	Data      []byte
}

// GlyphRasterizer turns glyph keys into bitmaps. Font rasterization itself
// is outside the renderer; implementations wrap a platform or library
// rasterizer.
type GlyphRasterizer interface {
	RasterizeGlyph(font *FontInstance, key GlyphKey) (RasterizedGlyph, error)
}

// BlobRasterizer renders blob image commands to pixels matching the blob's
// descriptor.
type BlobRasterizer interface {
	RasterizeBlob(blob *BlobTemplate) ([]byte, error)
}
