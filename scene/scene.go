// Package scene turns a display list into the flat structures the frame
// builder works on: a spatial tree, a clip store, pictures and primitives,
// and the hit-test items.
//
// A Scene is rebuilt whenever a display list is set. Scrolling and dynamic
// property updates only change the spatial tree and property values, never
// the scene's primitives.
package scene

import (
	"fmt"

	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/internal/fingerprint"
	"github.com/gogpu/wrender/spatial"
)

// MaxDepth bounds the nesting of push items. Deeper lists are rejected.
const MaxDepth = 1024

// PictureIndex is an index into Scene.Pictures.
type PictureIndex uint32

// RootPicture is the tiled picture holding the document's content.
const RootPicture PictureIndex = 0

// CompositeKind selects how a picture reaches its parent.
type CompositeKind uint8

// Composite kinds.
const (
	// CompositeTiled is the root picture, cached in tiles.
	CompositeTiled CompositeKind = iota
	// CompositeEffect renders to an intermediate surface and composites it
	// with opacity, filters and a mix-blend mode.
	CompositeEffect
)

// CompositeMode describes the effects applied when compositing a picture.
type CompositeMode struct {
	Kind           CompositeKind
	Opacity        float32
	OpacityBinding display.PropertyKey
	MixBlend       display.MixBlendMode
	Filters        []display.Filter
}

// Picture is a composited surface with an ordered list of children.
type Picture struct {
	Parent PictureIndex
	// Spatial and Clip are where the picture composites into its parent.
	Spatial  spatial.NodeIndex
	Clip     spatial.ClipChainID
	Mode     CompositeMode
	Children []PrimIndex
	// Prim is the PrimPicture primitive drawing this picture in its parent.
	// It is unused for the root picture.
	Prim PrimIndex
}

// Scene is the resolved form of one display list.
type Scene struct {
	Epoch       uint64
	Background  display.ColorU
	ContentSize geom.Size

	Tree     *spatial.Tree
	Clips    *spatial.ClipStore
	Pictures []Picture
	Prims    []Primitive
	HitItems []HitItem

	// Diagnostics lists malformed references that were clamped.
	Diagnostics []error
}

type spatialEntry struct {
	node spatial.NodeIndex
	// clipped is set for scroll frames, which clip their content to the
	// viewport.
	clipped bool
}

type builder struct {
	s        *Scene
	spatials []spatialEntry
	clips    []spatial.ClipChainID
	contexts []bool
	pictures []PictureIndex
	hasher   fingerprint.Hasher
}

// Build resolves list. Malformed push/pop nesting is clamped and reported in
// Scene.Diagnostics. A list nested deeper than MaxDepth cannot be resolved
// and returns an error wrapping spatial.ErrMalformedTree.
func Build(list *display.List, epoch uint64) (*Scene, error) {
	s := &Scene{
		Epoch:    epoch,
		Tree:     spatial.NewTree(),
		Clips:    spatial.NewClipStore(),
		Pictures: []Picture{{Mode: CompositeMode{Kind: CompositeTiled, Opacity: 1}}},
	}
	if list == nil {
		return s, nil
	}
	s.Background = list.Background
	s.ContentSize = list.ContentSize

	b := &builder{
		s:        s,
		spatials: []spatialEntry{{node: spatial.Root}},
		clips:    []spatial.ClipChainID{spatial.ClipChainNone},
		pictures: []PictureIndex{RootPicture},
	}
	dec := display.NewDecoder(list)
	for dec.Next() {
		if err := b.item(dec); err != nil {
			return nil, err
		}
	}
	b.finish()
	return s, nil
}

func (b *builder) malformed(format string, args ...any) {
	b.s.Diagnostics = append(b.s.Diagnostics,
		fmt.Errorf("%w: "+format, append([]any{spatial.ErrMalformedTree}, args...)...))
}

func (b *builder) depth() int {
	return len(b.spatials) + len(b.clips) + len(b.contexts)
}

func (b *builder) top() (spatial.NodeIndex, spatial.ClipChainID, PictureIndex) {
	return b.spatials[len(b.spatials)-1].node, b.clips[len(b.clips)-1], b.pictures[len(b.pictures)-1]
}

func (b *builder) item(dec *display.Decoder) error {
	tag := dec.Tag()
	if (tag == display.TagPushReferenceFrame || tag == display.TagPushScrollFrame ||
		tag == display.TagPushStickyFrame || tag == display.TagPushClip ||
		tag == display.TagPushStackingContext) && b.depth() >= MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d at item %d", spatial.ErrMalformedTree, MaxDepth, dec.Position())
	}
	node, clip, _ := b.top()

	switch tag {
	case display.TagRect:
		it := dec.Rect()
		b.leaf(Primitive{Kind: PrimRect, Bounds: it.Bounds, Tag: it.Tag, Color: it.Color, ColorBinding: it.ColorBinding})
	case display.TagImage:
		it := dec.Image()
		tint := it.Tint
		if tint == (display.ColorU{}) {
			tint = display.RGBA(255, 255, 255, 255)
		}
		b.leaf(Primitive{Kind: PrimImage, Bounds: it.Bounds, Tag: it.Tag, Image: it.Key, Rendering: it.Rendering, Tint: tint})
	case display.TagBlobImage:
		it := dec.BlobImage()
		b.leaf(Primitive{Kind: PrimBlobImage, Bounds: it.Bounds, Tag: it.Tag, Blob: it.Key})
	case display.TagText:
		it := dec.Text()
		b.leaf(Primitive{Kind: PrimText, Bounds: it.Bounds, Tag: it.Tag, Font: it.Font, Color: it.Color, Glyphs: it.Glyphs})
	case display.TagHitTest:
		it := dec.HitTest()
		b.hit(it.Bounds, it.Tag)

	case display.TagPushReferenceFrame:
		n := b.s.Tree.AddReferenceFrame(node, dec.ReferenceFrame())
		b.spatials = append(b.spatials, spatialEntry{node: n})
	case display.TagPushScrollFrame:
		sf := dec.ScrollFrame()
		n := b.s.Tree.AddScrollFrame(node, sf)
		b.clips = append(b.clips, b.s.Clips.Push(clip, node, display.Clip{Rect: sf.Frame}))
		b.spatials = append(b.spatials, spatialEntry{node: n, clipped: true})
	case display.TagPushStickyFrame:
		n := b.s.Tree.AddStickyFrame(node, dec.StickyFrame())
		b.spatials = append(b.spatials, spatialEntry{node: n})
	case display.TagPopSpatial:
		if len(b.spatials) == 1 {
			b.malformed("pop of the root spatial node at item %d", dec.Position())
			return nil
		}
		e := b.spatials[len(b.spatials)-1]
		b.spatials = b.spatials[:len(b.spatials)-1]
		if e.clipped && len(b.clips) > 1 {
			b.clips = b.clips[:len(b.clips)-1]
		}

	case display.TagPushClip:
		b.clips = append(b.clips, b.s.Clips.Push(clip, node, dec.Clip()))
	case display.TagPopClip:
		if len(b.clips) == 1 {
			b.malformed("pop without clip at item %d", dec.Position())
			return nil
		}
		b.clips = b.clips[:len(b.clips)-1]

	case display.TagPushStackingContext:
		b.pushContext(dec.StackingContext())
	case display.TagPopStackingContext:
		if len(b.contexts) == 0 {
			b.malformed("pop without stacking context at item %d", dec.Position())
			return nil
		}
		if b.contexts[len(b.contexts)-1] {
			b.pictures = b.pictures[:len(b.pictures)-1]
		}
		b.contexts = b.contexts[:len(b.contexts)-1]

	default:
		b.malformed("unknown tag %#x at item %d", byte(tag), dec.Position())
	}
	return nil
}

func (b *builder) leaf(p Primitive) {
	if !p.Bounds.IsFinite() {
		b.malformed("non-finite bounds %v", p.Bounds)
		return
	}
	p.Spatial, p.Clip, p.Picture = b.top()
	p.computeUID(&b.hasher)
	idx := PrimIndex(len(b.s.Prims))
	b.s.Prims = append(b.s.Prims, p)
	b.s.Pictures[p.Picture].Children = append(b.s.Pictures[p.Picture].Children, idx)
	if p.Tag != 0 {
		b.hit(p.Bounds, p.Tag)
	}
}

func (b *builder) hit(r geom.Rect, tag display.ItemTag) {
	if tag == 0 {
		return
	}
	node, clip, _ := b.top()
	b.s.HitItems = append(b.s.HitItems, HitItem{Spatial: node, Clip: clip, Rect: r, Tag: tag})
}

func (b *builder) pushContext(sc display.StackingContext) {
	if !sc.NeedsSurface() {
		b.contexts = append(b.contexts, false)
		return
	}
	node, clip, parent := b.top()
	pic := PictureIndex(len(b.s.Pictures))
	prim := PrimIndex(len(b.s.Prims))
	b.s.Pictures = append(b.s.Pictures, Picture{
		Parent:  parent,
		Spatial: node,
		Clip:    clip,
		Prim:    prim,
		Mode: CompositeMode{
			Kind:           CompositeEffect,
			Opacity:        geom.Clamp(sc.Opacity, 0, 1),
			OpacityBinding: sc.OpacityBinding,
			MixBlend:       sc.MixBlend,
			Filters:        sc.Filters,
		},
	})
	b.s.Prims = append(b.s.Prims, Primitive{
		Kind:           PrimPicture,
		Spatial:        node,
		Clip:           clip,
		Picture:        parent,
		Child:          pic,
		OpacityBinding: sc.OpacityBinding,
	})
	b.s.Pictures[parent].Children = append(b.s.Pictures[parent].Children, prim)
	b.pictures = append(b.pictures, pic)
	b.contexts = append(b.contexts, true)
}

func (b *builder) finish() {
	if n := len(b.spatials) - 1; n > 0 {
		b.malformed("%d spatial nodes not popped", n)
	}
	if n := len(b.contexts); n > 0 {
		b.malformed("%d stacking contexts not popped", n)
	}

	// Child pictures always follow their parents, so a reverse pass sees
	// every child before the picture primitive that draws it.
	for i := len(b.s.Pictures) - 1; i > 0; i-- {
		pic := &b.s.Pictures[i]
		prim := &b.s.Prims[pic.Prim]
		h := &b.hasher
		h.Reset()
		h.Uint8(uint8(PrimPicture))
		if pic.Mode.OpacityBinding.IsBound() {
			h.Uint64(uint64(pic.Mode.OpacityBinding))
		} else {
			h.Float32(pic.Mode.Opacity)
		}
		h.Uint8(uint8(pic.Mode.MixBlend))
		for _, f := range pic.Mode.Filters {
			h.Uint8(uint8(f.Kind))
			h.Float32(f.Amount)
		}
		bounds := geom.Rect{}
		for _, c := range pic.Children {
			child := &b.s.Prims[c]
			h.Uint64(child.UID)
			h.Uint32(uint32(child.Spatial))
			h.Uint32(uint32(child.Clip))
			if child.Spatial == pic.Spatial {
				bounds = bounds.Union(child.Bounds)
			}
		}
		prim.UID = h.Sum64()
		prim.Bounds = bounds
	}

	b.s.Diagnostics = append(b.s.Diagnostics, b.s.Tree.Diagnostics()...)
	b.s.Diagnostics = append(b.s.Diagnostics, b.s.Clips.Diagnostics()...)
}

// Update recomputes world transforms for the current scroll offsets and
// property values.
func (s *Scene) Update(props *display.PropertyStore) {
	s.Tree.Update(props)
}

// PictureBounds returns the world-space bounds of picture pic's content,
// recursing into child pictures.
func (s *Scene) PictureBounds(pic PictureIndex) geom.Rect {
	var r geom.Rect
	for _, c := range s.Pictures[pic].Children {
		r = r.Union(s.PrimWorldBounds(c))
	}
	return r
}

// PrimWorldBounds returns the world-space bounds of a primitive, clipped by
// its clip chain. Invisible primitives have empty bounds.
func (s *Scene) PrimWorldBounds(i PrimIndex) geom.Rect {
	p := &s.Prims[i]
	if !s.Tree.IsVisible(p.Spatial) {
		return geom.Rect{}
	}
	var r geom.Rect
	if p.Kind == PrimPicture {
		r = s.PictureBounds(p.Child)
	} else {
		r = s.Tree.World(p.Spatial).TransformRect(p.Bounds)
	}
	if clip, ok := s.Clips.WorldBounds(p.Clip, s.Tree); ok {
		r = r.Intersection(clip)
	}
	return r
}
