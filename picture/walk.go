package picture

import (
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/internal/fingerprint"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/spatial"
)

// primInfo is the per-frame contribution of one slice primitive.
type primInfo struct {
	hash uint64
	// bounds is the clipped primitive in raster space.
	bounds  geom.Rect
	visible bool
	// outer is the world-space intersection of clips above the cache root.
	outer   geom.Rect
	outerOK bool
}

// walker hashes a primitive relative to a slice's cache root. A walker is
// used by one goroutine at a time.
type walker struct {
	in   *Input
	root spatial.NodeIndex
	dpr  float32
	h    *fingerprint.Hasher

	outer   geom.Rect
	outerOK bool
}

func (w *walker) top(pi scene.PrimIndex) primInfo {
	w.h.Reset()
	w.outer, w.outerOK = geom.Rect{}, false
	bounds, ok := w.prim(pi, true)
	info := primInfo{
		hash:    w.h.Sum64(),
		bounds:  bounds,
		visible: ok,
		outer:   w.outer,
		outerOK: w.outerOK,
	}
	if info.outerOK && info.outer.IsEmpty() {
		info.visible = false
	}
	return info
}

func (w *walker) prim(pi scene.PrimIndex, top bool) (geom.Rect, bool) {
	s := w.in.Scene
	p := &s.Prims[pi]
	h := w.h
	if !s.Tree.IsVisible(p.Spatial) {
		h.Uint8(0xFF)
		return geom.Rect{}, false
	}

	rel, _ := s.Tree.RelativeTransform(p.Spatial, w.root)
	h.Uint64(p.UID)
	h.Uint8(uint8(rel.Class()))
	h.Transform(rel)

	var r geom.Rect
	switch p.Kind {
	case scene.PrimPicture:
		children := s.Pictures[p.Child].Children
		h.Uint32(uint32(len(children)))
		for _, c := range children {
			if cb, ok := w.prim(c, false); ok {
				r = r.Union(cb)
			}
		}
		if p.OpacityBinding.IsBound() {
			h.Float32(w.float(p.OpacityBinding, s.Pictures[p.Child].Mode.Opacity))
		}
	default:
		r = rel.TransformRect(p.Bounds).Scale(w.dpr)
	}

	w.hashResources(p)

	clip, clipped := w.clips(p.Clip, top)
	if clipped {
		r = r.Intersection(clip)
	}
	return r, !r.IsEmpty()
}

// hashResources adds the versions of everything the primitive reads from
// the resource table, and bound values resolved at build time.
func (w *walker) hashResources(p *scene.Primitive) {
	h := w.h
	tbl := w.in.Resources
	switch p.Kind {
	case scene.PrimRect:
		if p.ColorBinding.IsBound() {
			c := p.Color
			if w.in.Props != nil {
				c = w.in.Props.Color(p.ColorBinding, c)
			}
			h.Uint32(uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24)
		}
	case scene.PrimImage:
		var gen uint32
		if tbl != nil {
			if img, err := tbl.Image(p.Image); err == nil {
				gen = uint32(img.Generation)
			}
		}
		h.Uint32(gen)
	case scene.PrimBlobImage:
		var gen uint32
		if tbl != nil {
			if b, err := tbl.Blob(p.Blob); err == nil {
				gen = uint32(b.Generation)
			}
		}
		h.Uint32(gen)
	case scene.PrimText:
		var gen uint32
		var mode uint8
		if tbl != nil {
			if fi, err := tbl.FontInstance(p.Font); err == nil {
				gen = uint32(fi.Generation)
				mode = uint8(fi.Options.RenderMode)
			}
		}
		h.Uint32(gen)
		h.Uint8(mode)
	}
}

func (w *walker) float(key display.PropertyKey, def float32) float32 {
	if w.in.Props == nil {
		return def
	}
	return w.in.Props.Float(key, def)
}

// clips walks a clip chain. Clips positioned at or below the cache root are
// hashed and intersected in raster space; clips above it move with the
// composite and are only accumulated into the outer clip of a top-level
// primitive.
func (w *walker) clips(id spatial.ClipChainID, top bool) (geom.Rect, bool) {
	s := w.in.Scene
	var r geom.Rect
	clipped := false
	s.Clips.Walk(id, func(n spatial.ClipChainNode) bool {
		if s.Tree.IsAncestor(w.root, n.Spatial) {
			rel, _ := s.Tree.RelativeTransform(n.Spatial, w.root)
			w.h.Transform(rel)
			w.h.Rect(n.Clip.Rect)
			w.h.Float32(n.Clip.Radius)
			w.h.Uint8(uint8(n.Clip.Mode))
			if n.Clip.Mode == display.ClipIn {
				cr := rel.TransformRect(n.Clip.Rect).Scale(w.dpr)
				if clipped {
					r = r.Intersection(cr)
				} else {
					r, clipped = cr, true
				}
			}
			return true
		}
		if top && n.Clip.Mode == display.ClipIn {
			wr := s.Tree.World(n.Spatial).TransformRect(n.Clip.Rect)
			if w.outerOK {
				w.outer = w.outer.Intersection(wr)
			} else {
				w.outer, w.outerOK = wr, true
			}
		}
		return true
	})
	return r, clipped
}
