// Package glyphs rasterizes TrueType and OpenType glyph outlines into
// coverage masks for the texture cache.
//
// Rasterizer is the default glyph rasterizer of wrender. It reads outlines
// with golang.org/x/image/font/sfnt and fills them with the anti-aliasing
// rasterizer of golang.org/x/image/vector. Hinting is not applied.
package glyphs

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/gogpu/wrender/internal/cache"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/texcache"
)

// ErrNoOutline is returned for glyph indices the face does not have.
var ErrNoOutline = errors.New("glyphs: no outline for glyph")

// monoThreshold is the coverage at or above which a mono pixel is set.
const monoThreshold = 128

// Rasterizer implements resource.GlyphRasterizer. It is safe for concurrent
// use; documents sharing one rasterizer serialize on it.
type Rasterizer struct {
	faces *cache.ShardedCache[uint64, parsedFace]

	mu  sync.Mutex
	buf sfnt.Buffer
	ras vector.Rasterizer
}

type parsedFace struct {
	f   *sfnt.Font
	err error
}

// New creates a rasterizer.
func New() *Rasterizer {
	return &Rasterizer{faces: cache.NewSharded[uint64, parsedFace](0, cache.Uint64Hasher)}
}

// face returns the parsed face of tmpl, parsing each distinct template once.
func (r *Rasterizer) face(tmpl *resource.FontTemplate) (*sfnt.Font, error) {
	p := r.faces.GetOrCreate(tmpl.Hash, func() parsedFace {
		var (
			f   *sfnt.Font
			err error
		)
		if tmpl.Index == 0 {
			f, err = sfnt.Parse(tmpl.Data)
		} else {
			var c *sfnt.Collection
			if c, err = sfnt.ParseCollection(tmpl.Data); err == nil {
				f, err = c.Font(tmpl.Index)
			}
		}
		return parsedFace{f: f, err: err}
	})
	if p.err != nil {
		return nil, fmt.Errorf("%w: %w", resource.ErrInvalidFont, p.err)
	}
	return p.f, nil
}

// RasterizeGlyph renders key.Index of fi at fi.Size pixels per em, shifted
// right by key.Subpixel quarter pixels. Alpha and subpixel instances give
// R8 coverage; mono instances give R8 masks of 0 and 255. Glyphs without
// ink, such as spaces, give an empty result.
func (r *Rasterizer) RasterizeGlyph(fi *resource.FontInstance, key resource.GlyphKey) (resource.RasterizedGlyph, error) {
	if fi == nil || fi.Template == nil {
		return resource.RasterizedGlyph{}, fmt.Errorf("glyphs: font instance %v: %w", key.Instance, resource.ErrResourceMissing)
	}
	f, err := r.face(fi.Template)
	if err != nil {
		return resource.RasterizedGlyph{}, err
	}
	if int(key.Index) >= f.NumGlyphs() {
		return resource.RasterizedGlyph{}, fmt.Errorf("%w: %d of %d", ErrNoOutline, key.Index, f.NumGlyphs())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ppem := fixed.Int26_6(math.Round(float64(fi.Size) * 64))
	segs, err := f.LoadGlyph(&r.buf, sfnt.GlyphIndex(key.Index), ppem, nil)
	if err != nil {
		return resource.RasterizedGlyph{}, fmt.Errorf("glyphs: load glyph %d: %w", key.Index, err)
	}
	if len(segs) == 0 {
		return resource.RasterizedGlyph{}, nil
	}

	dx := float32(key.Subpixel) / resource.SubpixelSteps
	b := segs.Bounds()
	minX := int(math.Floor(float64(fixedToFloat(b.Min.X) + dx)))
	minY := int(math.Floor(float64(fixedToFloat(b.Min.Y))))
	maxX := int(math.Ceil(float64(fixedToFloat(b.Max.X) + dx)))
	maxY := int(math.Ceil(float64(fixedToFloat(b.Max.Y))))
	bold := fi.Options.SyntheticBold
	if bold {
		maxX++
	}
	w, h := maxX-minX, maxY-minY
	if w <= 0 || h <= 0 {
		return resource.RasterizedGlyph{}, nil
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	r.fill(mask, segs, dx-float32(minX), -float32(minY))
	if bold {
		// Emboldening draws the outline a second time one pixel to the
		// right, keeping the larger coverage.
		shifted := image.NewAlpha(mask.Rect)
		r.fill(shifted, segs, dx-float32(minX)+1, -float32(minY))
		for i, v := range shifted.Pix {
			mask.Pix[i] = max(mask.Pix[i], v)
		}
	}
	if fi.Options.RenderMode == resource.RenderMono {
		for i, v := range mask.Pix {
			if v >= monoThreshold {
				mask.Pix[i] = 255
			} else {
				mask.Pix[i] = 0
			}
		}
	}

	return resource.RasterizedGlyph{
		Width:  w,
		Height: h,
		Left:   float32(minX),
		Top:    float32(-minY),
		Format: texcache.FormatR8,
		Data:   mask.Pix,
	}, nil
}

// fill draws segs translated by (ox, oy) into dst. sfnt outlines are y-down,
// like the mask.
func (r *Rasterizer) fill(dst *image.Alpha, segs sfnt.Segments, ox, oy float32) {
	size := dst.Rect.Size()
	r.ras.Reset(size.X, size.Y)
	r.ras.DrawOp = draw.Src
	pt := func(p fixed.Point26_6) (float32, float32) {
		return fixedToFloat(p.X) + ox, fixedToFloat(p.Y) + oy
	}
	for i, s := range segs {
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			if i > 0 {
				r.ras.ClosePath()
			}
			r.ras.MoveTo(pt(s.Args[0]))
		case sfnt.SegmentOpLineTo:
			r.ras.LineTo(pt(s.Args[0]))
		case sfnt.SegmentOpQuadTo:
			bx, by := pt(s.Args[0])
			cx, cy := pt(s.Args[1])
			r.ras.QuadTo(bx, by, cx, cy)
		case sfnt.SegmentOpCubeTo:
			bx, by := pt(s.Args[0])
			cx, cy := pt(s.Args[1])
			ex, ey := pt(s.Args[2])
			r.ras.CubeTo(bx, by, cx, cy, ex, ey)
		}
	}
	r.ras.ClosePath()
	r.ras.Draw(dst, dst.Rect, image.Opaque, image.Point{})
}

func fixedToFloat(v fixed.Int26_6) float32 { return float32(v) / 64 }

var _ resource.GlyphRasterizer = (*Rasterizer)(nil)
