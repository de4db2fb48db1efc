package frame

import (
	"errors"
	"fmt"

	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/texcache"
)

// cachedImage is the texture cache copy of an image or blob.
type cachedImage struct {
	handle texcache.Handle
	gen    resource.Generation
	width  int
	height int
	format texcache.Format
}

// imageRef is an image resolved for the current frame.
type imageRef struct {
	entry  texcache.Entry
	opaque bool
	err    error
}

// cachedGlyph is a rasterized glyph. Glyphs without pixels have no handle.
type cachedGlyph struct {
	handle        texcache.Handle
	gen           resource.Generation
	left, top     float32
	width, height int
	entry         texcache.Entry
}

func (g *cachedGlyph) empty() bool { return g.width == 0 || g.height == 0 }

func (b *Builder) image(key resource.ImageKey) imageRef {
	if ref, ok := b.imageRefs[key]; ok {
		return ref
	}
	var ref imageRef
	tmpl, err := b.lookupImage(key)
	if err != nil {
		ref.err = err
	} else {
		c := b.images[key]
		if c == nil {
			c = &cachedImage{}
			b.images[key] = c
		}
		ref.opaque = tmpl.Descriptor.Opaque
		ref.entry, ref.err = b.upload(c, tmpl.Descriptor, tmpl.Generation, tmpl.Dirty, func() ([]byte, error) {
			return tmpl.Data, nil
		})
		if ref.err != nil {
			ref.err = fmt.Errorf("%v: %w", key, ref.err)
		}
	}
	b.imageRefs[key] = ref
	return ref
}

func (b *Builder) blob(key resource.BlobImageKey) imageRef {
	if ref, ok := b.blobRefs[key]; ok {
		return ref
	}
	var ref imageRef
	tmpl, err := b.lookupBlob(key)
	switch {
	case err != nil:
		ref.err = err
	case b.opts.Blobs == nil:
		ref.err = fmt.Errorf("%w: %v", ErrNoRasterizer, key)
	default:
		c := b.blobs[key]
		if c == nil {
			c = &cachedImage{}
			b.blobs[key] = c
		}
		ref.opaque = tmpl.Descriptor.Opaque
		desc := tmpl.Descriptor
		desc.Stride = 0
		ref.entry, ref.err = b.upload(c, desc, tmpl.Generation, nil, func() ([]byte, error) {
			return b.opts.Blobs.RasterizeBlob(tmpl)
		})
		if ref.err != nil {
			ref.err = fmt.Errorf("%v: %w", key, ref.err)
		}
	}
	b.blobRefs[key] = ref
	return ref
}

func (b *Builder) lookupImage(key resource.ImageKey) (*resource.ImageTemplate, error) {
	if b.in.Resources == nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrResourceMissing, key)
	}
	return b.in.Resources.Image(key)
}

func (b *Builder) lookupBlob(key resource.BlobImageKey) (*resource.BlobTemplate, error) {
	if b.in.Resources == nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrResourceMissing, key)
	}
	return b.in.Resources.Blob(key)
}

func (b *Builder) fontInstance(key resource.FontInstanceKey) (*resource.FontInstance, error) {
	if b.in.Resources == nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrResourceMissing, key)
	}
	return b.in.Resources.FontInstance(key)
}

// upload makes c hold generation gen of an image and returns its entry.
// A resident copy of the same size and format is updated in place, only in
// the dirty rect when the update follows the cached generation directly.
// data is only called when pixels must be uploaded.
func (b *Builder) upload(c *cachedImage, d resource.ImageDescriptor, gen resource.Generation,
	dirty *geom.IntRect, data func() ([]byte, error)) (texcache.Entry, error) {
	resident := b.textures.Touch(c.handle)
	if resident && c.gen == gen {
		e, _ := b.textures.Get(c.handle)
		return e, nil
	}

	sameShape := resident && c.width == d.Width && c.height == d.Height && c.format == d.Format
	if !sameShape {
		b.textures.Free(c.handle)
		h, err := b.textures.Allocate(d.Width, d.Height, d.Format)
		if err != nil {
			*c = cachedImage{}
			return texcache.Entry{}, err
		}
		*c = cachedImage{handle: h, width: d.Width, height: d.Height, format: d.Format}
		dirty = nil
	} else if gen != c.gen+1 {
		dirty = nil
	}

	pixels, err := data()
	if err != nil {
		return texcache.Entry{}, err
	}
	switch {
	case pixels == nil:
		// Allocated without contents.
	case dirty != nil:
		r := dirty.Intersection(geom.IntRectXYWH(0, 0, int32(d.Width), int32(d.Height)))
		if !r.IsEmpty() {
			off := int(r.MinY)*d.RowBytes() + int(r.MinX)*d.Format.BytesPerPixel()
			err = b.textures.Upload(c.handle, pixels[off:], d.RowBytes(), &r)
		}
	default:
		err = b.textures.Upload(c.handle, pixels, d.RowBytes(), nil)
	}
	if err != nil {
		return texcache.Entry{}, err
	}
	c.gen = gen
	e, _ := b.textures.Get(c.handle)
	return e, nil
}

// glyph returns the rasterized glyph for key, rasterizing it when it is not
// resident or its font instance changed.
func (b *Builder) glyph(fi *resource.FontInstance, key resource.GlyphKey) (*cachedGlyph, error) {
	if g, ok := b.glyphs[key]; ok && g.gen == fi.Generation {
		if g.empty() {
			return g, nil
		}
		if b.textures.Touch(g.handle) {
			g.entry, _ = b.textures.Get(g.handle)
			return g, nil
		}
	}
	if old, ok := b.glyphs[key]; ok {
		b.textures.Free(old.handle)
		delete(b.glyphs, key)
	}

	r, err := b.opts.Glyphs.RasterizeGlyph(fi, key)
	if err != nil {
		return nil, err
	}
	g := &cachedGlyph{gen: fi.Generation, left: r.Left, top: r.Top, width: r.Width, height: r.Height}
	if !g.empty() {
		h, err := b.textures.Allocate(r.Width, r.Height, r.Format)
		if err != nil {
			return nil, err
		}
		if err := b.textures.Upload(h, r.Data, 0, nil); err != nil {
			b.textures.Free(h)
			return nil, err
		}
		g.handle = h
		g.entry, _ = b.textures.Get(h)
	}
	b.glyphs[key] = g
	return g, nil
}

// pruneTextures forgets cache entries that were evicted, and frees the
// textures of resources deleted from tbl. A nil tbl only forgets evicted
// entries.
func (b *Builder) pruneTextures(tbl *resource.Table) {
	gone := func(err error) bool { return errors.Is(err, resource.ErrResourceMissing) }
	for k, c := range b.images {
		if tbl != nil {
			if _, err := tbl.Image(k); gone(err) {
				b.textures.Free(c.handle)
				delete(b.images, k)
				continue
			}
		}
		if !b.textures.IsValid(c.handle) {
			delete(b.images, k)
		}
	}
	for k, c := range b.blobs {
		if tbl != nil {
			if _, err := tbl.Blob(k); gone(err) {
				b.textures.Free(c.handle)
				delete(b.blobs, k)
				continue
			}
		}
		if !b.textures.IsValid(c.handle) {
			delete(b.blobs, k)
		}
	}
	for k, g := range b.glyphs {
		if tbl != nil {
			if fi, err := tbl.FontInstance(k.Instance); gone(err) || (err == nil && fi.Generation != g.gen) {
				b.textures.Free(g.handle)
				delete(b.glyphs, k)
				continue
			}
		}
		if !g.empty() && !b.textures.IsValid(g.handle) {
			delete(b.glyphs, k)
		}
	}
}
