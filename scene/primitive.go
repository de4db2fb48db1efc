package scene

import (
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/internal/fingerprint"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/spatial"
)

// PrimIndex is an index into Scene.Prims.
type PrimIndex uint32

// PrimitiveKind identifies what a primitive draws.
type PrimitiveKind uint8

// Primitive kinds.
const (
	PrimRect PrimitiveKind = iota
	PrimImage
	PrimBlobImage
	PrimText
	// PrimPicture composites a child picture.
	PrimPicture
)

// String returns the kind name.
func (k PrimitiveKind) String() string {
	switch k {
	case PrimRect:
		return "Rect"
	case PrimImage:
		return "Image"
	case PrimBlobImage:
		return "BlobImage"
	case PrimText:
		return "Text"
	case PrimPicture:
		return "Picture"
	default:
		return "Unknown"
	}
}

// Primitive is one drawable instance. Primitives are created when a display
// list is set and are not mutated afterwards.
type Primitive struct {
	Kind    PrimitiveKind
	Spatial spatial.NodeIndex
	Clip    spatial.ClipChainID
	// Picture is the picture this primitive is drawn into.
	Picture PictureIndex
	// Bounds is the primitive rect in its spatial node's space.
	Bounds geom.Rect
	// UID is a hash of everything that affects the primitive's pixels,
	// excluding bound values.
	UID uint64
	Tag display.ItemTag

	Color        display.ColorU
	ColorBinding display.PropertyKey

	Image     resource.ImageKey
	Rendering display.ImageRendering
	Tint      display.ColorU
	Blob      resource.BlobImageKey

	Font   resource.FontInstanceKey
	Glyphs []display.GlyphInstance

	// Child and OpacityBinding are set for PrimPicture.
	Child          PictureIndex
	OpacityBinding display.PropertyKey
}

// HasDynamicBinding reports whether the primitive has a value the GPU can
// update without redrawing cached content.
func (p *Primitive) HasDynamicBinding() bool {
	switch p.Kind {
	case PrimRect:
		return p.ColorBinding.IsBound()
	case PrimPicture:
		return p.OpacityBinding.IsBound()
	default:
		return false
	}
}

// IsOpaque reports whether the primitive fully covers its bounds. props
// resolves bound colors and may be nil.
func (p *Primitive) IsOpaque(props *display.PropertyStore) bool {
	switch p.Kind {
	case PrimRect:
		c := p.Color
		if props != nil {
			c = props.Color(p.ColorBinding, c)
		}
		return c.IsOpaque()
	default:
		return false
	}
}

func (p *Primitive) computeUID(h *fingerprint.Hasher) {
	h.Reset()
	h.Uint8(uint8(p.Kind))
	h.Rect(p.Bounds)
	switch p.Kind {
	case PrimRect:
		if p.ColorBinding.IsBound() {
			h.Uint64(uint64(p.ColorBinding))
		} else {
			h.Uint32(colorBits(p.Color))
		}
	case PrimImage:
		h.Uint32(uint32(p.Image.Namespace))
		h.Uint32(p.Image.ID)
		h.Uint8(uint8(p.Rendering))
		h.Uint32(colorBits(p.Tint))
	case PrimBlobImage:
		h.Uint32(uint32(p.Blob.Namespace))
		h.Uint32(p.Blob.ID)
	case PrimText:
		h.Uint32(uint32(p.Font.Namespace))
		h.Uint32(p.Font.ID)
		h.Uint32(colorBits(p.Color))
		for _, g := range p.Glyphs {
			h.Uint32(g.Index)
			h.Float32(g.Point.X)
			h.Float32(g.Point.Y)
		}
	}
	p.UID = h.Sum64()
}

func colorBits(c display.ColorU) uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

// HitItem is a hit-testable area in document order.
type HitItem struct {
	Spatial spatial.NodeIndex
	Clip    spatial.ClipChainID
	Rect    geom.Rect
	Tag     display.ItemTag
}
