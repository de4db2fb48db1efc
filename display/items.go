package display

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/resource"
)

// ColorU is an 8-bit straight-alpha RGBA color.
type ColorU struct {
	R, G, B, A uint8
}

// RGBA returns a color from its components.
func RGBA(r, g, b, a uint8) ColorU { return ColorU{R: r, G: g, B: b, A: a} }

// IsOpaque reports whether the alpha is 255.
func (c ColorU) IsOpaque() bool { return c.A == 255 }

// Premultiplied returns the color as premultiplied floats in [0, 1].
func (c ColorU) Premultiplied() gputypes.Color {
	a := float64(c.A) / 255
	return gputypes.Color{
		R: float64(c.R) / 255 * a,
		G: float64(c.G) / 255 * a,
		B: float64(c.B) / 255 * a,
		A: a,
	}
}

// ScaleAlpha multiplies the alpha by opacity in [0, 1].
func (c ColorU) ScaleAlpha(opacity float32) ColorU {
	opacity = geom.Clamp(opacity, 0, 1)
	c.A = uint8(float32(c.A)*opacity + 0.5)
	return c
}

// String returns the color as rgba(r,g,b,a).
func (c ColorU) String() string {
	return fmt.Sprintf("rgba(%d,%d,%d,%d)", c.R, c.G, c.B, c.A)
}

// ItemTag is a client-chosen identifier returned by hit testing. The zero tag
// marks an item that is not hit-testable.
type ItemTag uint64

// PropertyKey names an animated value supplied by UpdateDynamicProperties.
// The zero key means the value is static.
type PropertyKey uint64

// IsBound reports whether the key refers to an animated value.
func (k PropertyKey) IsBound() bool { return k != 0 }

// ScrollID is the client's identifier for a scroll frame. It stays stable
// across display lists so scroll offsets survive rebuilds.
type ScrollID uint64

// CommonItem holds the fields shared by all leaf items.
type CommonItem struct {
	// Bounds is the item's rectangle in the local space of its spatial node.
	Bounds geom.Rect
	// Tag is returned by hit tests that hit the item. Zero disables hit testing.
	Tag ItemTag
}

// RectItem is a solid color rectangle.
type RectItem struct {
	CommonItem
	Color ColorU
	// ColorBinding animates the color when bound.
	ColorBinding PropertyKey
}

// ImageRendering selects the sampling filter for images.
type ImageRendering uint8

// Image sampling filters.
const (
	RenderingAuto ImageRendering = iota
	RenderingPixelated
)

// ImageItem draws an image resource stretched to Bounds.
type ImageItem struct {
	CommonItem
	Key       resource.ImageKey
	Rendering ImageRendering
	// Tint multiplies the image. The zero value means opaque white.
	Tint ColorU
}

// BlobImageItem draws a blob image stretched to Bounds.
type BlobImageItem struct {
	CommonItem
	Key resource.BlobImageKey
}

// GlyphInstance places one glyph of a text run.
type GlyphInstance struct {
	Index uint32
	// Point is the glyph origin in the item's local space.
	Point geom.Point
}

// TextItem draws glyphs of one font instance.
type TextItem struct {
	CommonItem
	Font   resource.FontInstanceKey
	Color  ColorU
	Glyphs []GlyphInstance
}

// HitTestItem is an invisible area that only takes part in hit testing.
type HitTestItem struct {
	CommonItem
}

// ReferenceFrame is a new coordinate system relative to its parent.
type ReferenceFrame struct {
	// Origin is the frame's position in the parent space, applied after
	// Transform.
	Origin    geom.Vector
	Transform geom.Transform
	// Binding animates Transform when bound.
	Binding PropertyKey
}

// ScrollFrame is a viewport onto scrollable content.
type ScrollFrame struct {
	ID ScrollID
	// Frame is the viewport rect in the parent space.
	Frame geom.Rect
	// Content is the scrollable content rect in the parent space.
	Content geom.Rect
}

// StickySide selects which margins of a sticky frame are active.
type StickySide uint8

// Sticky sides.
const (
	StickyTop StickySide = 1 << iota
	StickyBottom
	StickyLeft
	StickyRight
)

// StickyFrame keeps Frame within the nearest scroll frame's viewport, inset
// by the active margins, while the content scrolls.
type StickyFrame struct {
	// Frame is the sticky rect in the parent space at zero scroll.
	Frame  geom.Rect
	Sides  StickySide
	Top    float32
	Bottom float32
	Left   float32
	Right  float32
}

// ClipMode selects whether a clip keeps the inside or the outside.
type ClipMode uint8

// Clip modes.
const (
	ClipIn ClipMode = iota
	ClipOut
)

// String returns the mode name.
func (m ClipMode) String() string {
	if m == ClipOut {
		return "out"
	}
	return "in"
}

// Clip is a rectangle or rounded rectangle clip in the current spatial node.
type Clip struct {
	Rect   geom.Rect
	Radius float32
	Mode   ClipMode
}

// IsRounded reports whether the clip has rounded corners.
func (c Clip) IsRounded() bool { return c.Radius > 0 }

// MixBlendMode is the blend mode used to composite a stacking context.
type MixBlendMode uint8

// Mix blend modes.
const (
	MixNormal MixBlendMode = iota
	MixMultiply
	MixScreen
	MixDarken
	MixLighten
	MixPlus
)

// String returns the mode name.
func (m MixBlendMode) String() string {
	switch m {
	case MixNormal:
		return "Normal"
	case MixMultiply:
		return "Multiply"
	case MixScreen:
		return "Screen"
	case MixDarken:
		return "Darken"
	case MixLighten:
		return "Lighten"
	case MixPlus:
		return "Plus"
	default:
		return "Unknown"
	}
}

// FilterKind identifies a filter operation.
type FilterKind uint8

// Filter kinds.
const (
	FilterOpacity FilterKind = iota
	FilterGrayscale
	FilterBrightness
)

// Filter is one step of a stacking context's filter chain.
type Filter struct {
	Kind   FilterKind
	Amount float32
}

// StackingContext groups content composited as one unit.
type StackingContext struct {
	Opacity float32
	// OpacityBinding animates Opacity when bound.
	OpacityBinding PropertyKey
	MixBlend       MixBlendMode
	Filters        []Filter
}

// NeedsSurface reports whether the context must be rendered to an
// intermediate surface before compositing.
func (s StackingContext) NeedsSurface() bool {
	return s.Opacity < 1 || s.OpacityBinding.IsBound() || s.MixBlend != MixNormal || len(s.Filters) > 0
}
