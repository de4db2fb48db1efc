package frame

import (
	"errors"
	"fmt"

	"github.com/gogpu/wrender/batch"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/shader"
	"github.com/gogpu/wrender/spatial"
	"github.com/gogpu/wrender/texcache"
)

var white = display.RGBA(255, 255, 255, 255)

// target is a render target primitives are drawn into: a tile, an
// intermediate surface or the document itself. Its raster space is the
// root node's space scaled by dpr; instances are emitted relative to origin.
type target struct {
	root spatial.NodeIndex
	dpr  float32
	// origin is the raster position of the target's top-left pixel.
	origin geom.Vector
	// scissor bounds the drawn area, relative to origin.
	scissor geom.Rect
	// area is the raster region an intermediate surface may need to cover.
	area    geom.Rect
	batcher *batch.Builder
	depth   int
}

// raster returns the transform from node's space to raster space.
func (t *target) raster(tree *spatial.Tree, node spatial.NodeIndex) geom.Transform {
	rel, _ := tree.RelativeTransform(node, t.root)
	return geom.Scale(t.dpr, t.dpr).Multiply(rel)
}

// transform returns the transform from node's space to the target.
func (t *target) transform(tree *spatial.Tree, node spatial.NodeIndex) geom.Transform {
	return geom.Translation(-t.origin.X, -t.origin.Y).Multiply(t.raster(tree, node))
}

// clip is a resolved clip chain in raster space.
type clip struct {
	rect    geom.Rect
	radius  float32
	clipped bool
}

func (c clip) mode() batch.ClipMode {
	switch {
	case !c.clipped:
		return batch.ClipNone
	case c.radius > 0:
		return batch.ClipRounded
	default:
		return batch.ClipRect
	}
}

// resolveClip intersects the clip-in rects of chain id positioned at or
// below the target's root. Clips above the root are applied when the target
// is composited. The radius of the innermost rounded clip is kept.
func (b *Builder) resolveClip(t *target, id spatial.ClipChainID) clip {
	s := b.in.Scene
	var c clip
	s.Clips.Walk(id, func(n spatial.ClipChainNode) bool {
		if n.Clip.Mode != display.ClipIn || !s.Tree.IsAncestor(t.root, n.Spatial) {
			return true
		}
		r := t.raster(s.Tree, n.Spatial).TransformRect(n.Clip.Rect)
		if c.clipped {
			c.rect = c.rect.Intersection(r)
		} else {
			c.rect, c.clipped = r, true
		}
		if c.radius == 0 && n.Clip.IsRounded() {
			c.radius = n.Clip.Radius * t.dpr
		}
		return true
	})
	return c
}

// bounds returns the target-local clip rect of c.
func (t *target) bounds(c clip) geom.Rect {
	if !c.clipped {
		return t.scissor
	}
	return t.scissor.Intersection(c.rect.Translate(t.origin.Neg()))
}

// drawPrim adds the instances of primitive pi to the target.
func (b *Builder) drawPrim(t *target, pi scene.PrimIndex) {
	if b.fatal != nil {
		return
	}
	s := b.in.Scene
	p := &s.Prims[pi]
	if !s.Tree.IsVisible(p.Spatial) {
		return
	}
	xf := t.transform(s.Tree, p.Spatial)
	c := b.resolveClip(t, p.Clip)
	cr := t.bounds(c)
	if cr.IsEmpty() {
		return
	}

	switch p.Kind {
	case scene.PrimRect:
		b.drawRect(t, p, xf, c, cr)
	case scene.PrimImage:
		ref := b.image(p.Image)
		if ref.err != nil {
			b.placeholder(t, p, xf, c, cr, ref.err)
			return
		}
		b.drawImage(t, p, xf, c, cr, ref)
	case scene.PrimBlobImage:
		ref := b.blob(p.Blob)
		if ref.err != nil {
			b.placeholder(t, p, xf, c, cr, ref.err)
			return
		}
		b.drawImage(t, p, xf, c, cr, ref)
	case scene.PrimText:
		b.drawText(t, p, xf, c, cr)
	case scene.PrimPicture:
		b.drawPicture(t, p, c, cr)
	}
}

func (b *Builder) color(p *scene.Primitive) display.ColorU {
	if b.in.Props == nil {
		return p.Color
	}
	return b.in.Props.Color(p.ColorBinding, p.Color)
}

func (b *Builder) drawRect(t *target, p *scene.Primitive, xf geom.Transform, c clip, cr geom.Rect) {
	color := b.color(p)
	if color.A == 0 {
		return
	}
	addr, ok := b.primAddress(p.UID, colorBlock(color), rectBlock(p.Bounds))
	if !ok {
		return
	}
	key := batch.Key{Kind: shader.KindSolidRect, Blend: batch.BlendAlpha, Clip: c.mode()}
	opaque := color.IsOpaque() && c.radius == 0 && xf.Class().IsAxisAligned()

	var inst batch.Instance
	if opaque {
		// Opaque quads are cut to the clip so the depth pass never writes
		// outside it.
		r := xf.TransformRect(p.Bounds).Intersection(cr)
		if r.IsEmpty() {
			return
		}
		inst = batch.NewInstance(r, geom.Identity())
	} else {
		inst = batch.NewInstance(p.Bounds, xf)
	}
	inst.SetClip(cr, c.radius)
	if inst.Bounds().IsEmpty() {
		return
	}
	inst.SetColor(color)
	inst.Data[0] = addr
	t.batcher.Add(key, inst, opaque)
}

func (b *Builder) drawImage(t *target, p *scene.Primitive, xf geom.Transform, c clip, cr geom.Rect, ref imageRef) {
	tint := p.Tint
	if tint == (display.ColorU{}) {
		tint = white
	}
	uv := ref.entry.UVRect()
	addr, ok := b.primAddress(p.UID, colorBlock(tint), rectBlock(uv))
	if !ok {
		return
	}
	inst := batch.NewInstance(p.Bounds, xf)
	inst.SetClip(cr, c.radius)
	if inst.Bounds().IsEmpty() {
		return
	}
	inst.UV = [4]float32{uv.MinX, uv.MinY, uv.MaxX, uv.MaxY}
	inst.SetColor(tint)
	if p.Rendering == display.RenderingPixelated {
		inst.Params[2] = 1
	}
	inst.Data[0] = addr

	key := batch.Key{
		Kind:     shader.KindImage,
		Blend:    batch.BlendAlpha,
		Textures: [3]texcache.TextureID{ref.entry.Texture},
		Clip:     c.mode(),
	}
	opaque := ref.opaque && tint.IsOpaque() && c.radius == 0 &&
		xf.Class().IsAxisAligned() && cr.ContainsRect(xf.TransformRect(p.Bounds))
	t.batcher.Add(key, inst, opaque)
}

func (b *Builder) drawText(t *target, p *scene.Primitive, xf geom.Transform, c clip, cr geom.Rect) {
	if p.Color.A == 0 || len(p.Glyphs) == 0 {
		return
	}
	fi, err := b.fontInstance(p.Font)
	if err != nil {
		b.placeholder(t, p, xf, c, cr, err)
		return
	}
	if b.opts.Glyphs == nil {
		b.report(fmt.Errorf("%w: text with %v", ErrNoRasterizer, p.Font))
		return
	}
	addr, ok := b.primAddress(p.UID, colorBlock(p.Color))
	if !ok {
		return
	}
	subpixel := fi.Options.SubpixelPositioning && xf.Class().IsAxisAligned()
	var flag float32
	if fi.Options.RenderMode == resource.RenderSubpixel {
		flag = 1
	}

	for _, g := range p.Glyphs {
		pt := xf.TransformPoint(g.Point)
		var x int32
		var step uint8
		if subpixel {
			x, step = resource.QuantizeGlyphX(pt.X)
		} else {
			x, _ = geom.SplitPixel(pt.X)
		}
		y, _ := geom.SplitPixel(pt.Y)

		gl, err := b.glyph(fi, resource.GlyphKey{Instance: p.Font, Index: g.Index, Subpixel: step})
		if err != nil {
			b.report(fmt.Errorf("frame: glyph %d of %v: %w", g.Index, p.Font, err))
			continue
		}
		if gl.empty() {
			continue
		}
		r := geom.RectXYWH(float32(x)+gl.left, float32(y)-gl.top, float32(gl.width), float32(gl.height))
		inst := batch.NewInstance(r, geom.Identity())
		inst.SetClip(cr, c.radius)
		if inst.Bounds().IsEmpty() {
			continue
		}
		uv := gl.entry.UVRect()
		inst.UV = [4]float32{uv.MinX, uv.MinY, uv.MaxX, uv.MaxY}
		inst.SetColor(p.Color)
		inst.Params[3] = flag
		inst.Data[0] = addr
		key := batch.Key{
			Kind:     shader.KindTextRun,
			Blend:    batch.BlendAlpha,
			Textures: [3]texcache.TextureID{gl.entry.Texture},
			Clip:     c.mode(),
		}
		t.batcher.Add(key, inst, false)
	}
}

// surface is an effect picture rendered to an intermediate texture.
type surface struct {
	// rect is the surface's area in the raster space it was rendered in.
	rect  geom.IntRect
	entry texcache.Entry
	ok    bool
}

// Filter selectors understood by the picture composite shader.
const (
	filterNone       = 0
	filterGrayscale  = 1
	filterBrightness = 2
)

func (b *Builder) drawPicture(t *target, p *scene.Primitive, c clip, cr geom.Rect) {
	pic := &b.in.Scene.Pictures[p.Child]
	opacity := pic.Mode.Opacity
	if b.in.Props != nil {
		opacity = b.in.Props.Float(p.OpacityBinding, opacity)
	}
	var selector, amount float32
	for _, f := range pic.Mode.Filters {
		switch f.Kind {
		case display.FilterOpacity:
			opacity *= f.Amount
		case display.FilterGrayscale:
			if selector == filterNone {
				selector, amount = filterGrayscale, f.Amount
			}
		case display.FilterBrightness:
			if selector == filterNone {
				selector, amount = filterBrightness, f.Amount
			}
		}
	}
	opacity = geom.Clamp(opacity, 0, 1)
	if opacity == 0 {
		return
	}

	surf := b.surface(t, p.Child)
	if !surf.ok {
		return
	}
	addr, ok := b.primAddress(p.UID, gpucache.Block{opacity, amount, selector, 0})
	if !ok {
		return
	}
	inst := batch.NewInstance(surf.rect.ToRect(), geom.Translation(-t.origin.X, -t.origin.Y))
	inst.SetClip(cr, c.radius)
	if inst.Bounds().IsEmpty() {
		return
	}
	uv := surf.entry.UVRect()
	inst.UV = [4]float32{uv.MinX, uv.MinY, uv.MaxX, uv.MaxY}
	inst.Color = [4]float32{amount, 0, 0, opacity}
	inst.Params[2] = selector
	inst.Data[0] = addr
	key := batch.Key{
		Kind:     shader.KindPictureComposite,
		Blend:    batch.BlendModeFor(pic.Mode.MixBlend),
		Textures: [3]texcache.TextureID{surf.entry.Texture},
		Clip:     c.mode(),
	}
	t.batcher.Add(key, inst, false)
}

// surface renders picture pic in t's raster space, once per frame, and
// appends its pass.
func (b *Builder) surface(t *target, pic scene.PictureIndex) *surface {
	if s, ok := b.surfaces[pic]; ok {
		return s
	}
	s := &surface{}
	b.surfaces[pic] = s

	var bounds geom.Rect
	for _, c := range b.in.Scene.Pictures[pic].Children {
		bounds = bounds.Union(b.rasterBounds(t, c))
	}
	r := bounds.Intersection(t.area).RoundOut()
	if r.IsEmpty() {
		return s
	}
	h, err := b.textures.Allocate(int(r.Width()), int(r.Height()), b.pictures.Config().SurfaceFormat)
	if err != nil {
		b.report(fmt.Errorf("frame: picture %d surface: %w", pic, err))
		return s
	}
	b.transient = append(b.transient, h)
	entry, _ := b.textures.Get(h)

	origin := geom.Vec(float32(r.MinX), float32(r.MinY))
	inner := &target{
		root:    t.root,
		dpr:     t.dpr,
		origin:  origin,
		scissor: geom.RectXYWH(0, 0, float32(r.Width()), float32(r.Height())),
		area:    r.ToRect(),
		depth:   t.depth + 1,
	}
	inner.batcher = b.batcher(inner.depth)
	for _, c := range b.in.Scene.Pictures[pic].Children {
		b.drawPrim(inner, c)
	}
	b.frame.Passes = append(b.frame.Passes, Pass{
		Kind:    PassSurface,
		Picture: pic,
		Texture: entry.Texture,
		Rect:    entry.Rect,
		Dirty:   geom.IntRectXYWH(0, 0, r.Width(), r.Height()),
		Batches: inner.batcher.Finish(),
	})
	s.rect, s.entry, s.ok = r, entry, true
	return s
}

// rasterBounds returns the clipped bounds of primitive pi in t's raster
// space.
func (b *Builder) rasterBounds(t *target, pi scene.PrimIndex) geom.Rect {
	s := b.in.Scene
	p := &s.Prims[pi]
	if !s.Tree.IsVisible(p.Spatial) {
		return geom.Rect{}
	}
	var r geom.Rect
	if p.Kind == scene.PrimPicture {
		for _, c := range s.Pictures[p.Child].Children {
			r = r.Union(b.rasterBounds(t, c))
		}
	} else {
		r = t.raster(s.Tree, p.Spatial).TransformRect(p.Bounds)
	}
	if c := b.resolveClip(t, p.Clip); c.clipped {
		r = r.Intersection(c.rect)
	}
	return r
}

// placeholder reports why the primitive could not be drawn and draws its
// bounds in PlaceholderColor. Primitives that did not fit the texture cache
// are dropped instead.
func (b *Builder) placeholder(t *target, p *scene.Primitive, xf geom.Transform, c clip, cr geom.Rect, err error) {
	b.report(fmt.Errorf("frame: %v primitive: %w", p.Kind, err))
	if errors.Is(err, texcache.ErrOutOfSpace) {
		return
	}
	addr, ok := b.primAddress(p.UID, colorBlock(PlaceholderColor))
	if !ok {
		return
	}
	inst := batch.NewInstance(p.Bounds, xf)
	inst.SetClip(cr, c.radius)
	if inst.Bounds().IsEmpty() {
		return
	}
	inst.SetColor(PlaceholderColor)
	inst.Data[0] = addr
	t.batcher.Add(batch.Key{Kind: shader.KindSolidRect, Blend: batch.BlendAlpha, Clip: c.mode()}, inst, false)
}

// primAddress stores the primitive's GPU blocks under its content id and
// returns their address.
func (b *Builder) primAddress(uid uint64, blocks ...gpucache.Block) (uint32, bool) {
	e := b.prims[uid]
	h, err := b.gpu.Upsert(e.handle, blocks...)
	if err != nil {
		b.fail(err)
		return 0, false
	}
	b.prims[uid] = primEntry{handle: h, used: b.in.Epoch}
	addr, err := b.gpu.Address(h)
	if err != nil {
		b.fail(err)
		return 0, false
	}
	return addr, true
}

func colorBlock(c display.ColorU) gpucache.Block {
	p := c.Premultiplied()
	return gpucache.Block{float32(p.R), float32(p.G), float32(p.B), float32(p.A)}
}

func rectBlock(r geom.Rect) gpucache.Block {
	return gpucache.Block{r.MinX, r.MinY, r.MaxX, r.MaxY}
}
