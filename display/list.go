package display

import (
	"github.com/gogpu/wrender/geom"
)

// List is a built display list. Items are stored in a tag stream plus one
// stream per item kind; a Decoder walks them in order.
type List struct {
	tags []Tag

	rects    []RectItem
	images   []ImageItem
	blobs    []BlobImageItem
	texts    []TextItem
	hits     []HitTestItem
	refs     []ReferenceFrame
	scrolls  []ScrollFrame
	stickies []StickyFrame
	clips    []Clip
	contexts []StackingContext

	// Background fills the document before any item is drawn.
	Background ColorU
	// ContentSize is the size of the document content at zero scroll.
	ContentSize geom.Size
}

// Len returns the number of items in the tag stream.
func (l *List) Len() int { return len(l.tags) }

// IsEmpty returns true if the list has no items.
func (l *List) IsEmpty() bool { return len(l.tags) == 0 }

// Tags returns the tag stream. The returned slice must not be modified.
func (l *List) Tags() []Tag { return l.tags }

// LeafCount returns the number of leaf items.
func (l *List) LeafCount() int {
	return len(l.rects) + len(l.images) + len(l.blobs) + len(l.texts) + len(l.hits)
}

// Builder appends items to a new List.
//
// Example:
//
//	b := display.NewBuilder(display.RGBA(255, 255, 255, 255))
//	b.PushScrollFrame(display.ScrollFrame{ID: 1, Frame: view, Content: page})
//	b.Rect(geom.RectXYWH(0, 0, 100, 100), display.RGBA(255, 0, 0, 255), 0)
//	b.PopSpatial()
//	list := b.Finish()
type Builder struct {
	list *List
}

// NewBuilder creates a builder for a list with the given background.
func NewBuilder(background ColorU) *Builder {
	return &Builder{list: &List{
		tags:       make([]Tag, 0, 64),
		rects:      make([]RectItem, 0, 16),
		Background: background,
	}}
}

// SetContentSize records the document's content size.
func (b *Builder) SetContentSize(s geom.Size) *Builder {
	b.list.ContentSize = s
	return b
}

// ---------------------------------------------------------------------------
// Leaf Items
// ---------------------------------------------------------------------------

// Rect adds a solid rectangle.
func (b *Builder) Rect(bounds geom.Rect, color ColorU, tag ItemTag) *Builder {
	return b.RectItem(RectItem{CommonItem: CommonItem{Bounds: bounds, Tag: tag}, Color: color})
}

// RectItem adds a fully specified rectangle item.
func (b *Builder) RectItem(item RectItem) *Builder {
	b.list.tags = append(b.list.tags, TagRect)
	b.list.rects = append(b.list.rects, item)
	return b
}

// Image adds an image item.
func (b *Builder) Image(item ImageItem) *Builder {
	b.list.tags = append(b.list.tags, TagImage)
	b.list.images = append(b.list.images, item)
	return b
}

// BlobImage adds a blob image item.
func (b *Builder) BlobImage(item BlobImageItem) *Builder {
	b.list.tags = append(b.list.tags, TagBlobImage)
	b.list.blobs = append(b.list.blobs, item)
	return b
}

// Text adds a text run. The glyph slice is copied.
func (b *Builder) Text(item TextItem) *Builder {
	item.Glyphs = append([]GlyphInstance(nil), item.Glyphs...)
	b.list.tags = append(b.list.tags, TagText)
	b.list.texts = append(b.list.texts, item)
	return b
}

// HitTest adds an invisible hit-test area.
func (b *Builder) HitTest(bounds geom.Rect, tag ItemTag) *Builder {
	b.list.tags = append(b.list.tags, TagHitTest)
	b.list.hits = append(b.list.hits, HitTestItem{CommonItem{Bounds: bounds, Tag: tag}})
	return b
}

// ---------------------------------------------------------------------------
// Spatial Nodes
// ---------------------------------------------------------------------------

// PushReferenceFrame starts a new coordinate system.
func (b *Builder) PushReferenceFrame(rf ReferenceFrame) *Builder {
	if rf.Transform == (geom.Transform{}) {
		rf.Transform = geom.Identity()
	}
	b.list.tags = append(b.list.tags, TagPushReferenceFrame)
	b.list.refs = append(b.list.refs, rf)
	return b
}

// PushScrollFrame starts a scrollable viewport.
func (b *Builder) PushScrollFrame(sf ScrollFrame) *Builder {
	b.list.tags = append(b.list.tags, TagPushScrollFrame)
	b.list.scrolls = append(b.list.scrolls, sf)
	return b
}

// PushStickyFrame starts a position-sticky node.
func (b *Builder) PushStickyFrame(sf StickyFrame) *Builder {
	b.list.tags = append(b.list.tags, TagPushStickyFrame)
	b.list.stickies = append(b.list.stickies, sf)
	return b
}

// PopSpatial ends the innermost spatial node.
func (b *Builder) PopSpatial() *Builder {
	b.list.tags = append(b.list.tags, TagPopSpatial)
	return b
}

// ---------------------------------------------------------------------------
// Clips and Stacking Contexts
// ---------------------------------------------------------------------------

// PushClip intersects the current clip with c.
func (b *Builder) PushClip(c Clip) *Builder {
	b.list.tags = append(b.list.tags, TagPushClip)
	b.list.clips = append(b.list.clips, c)
	return b
}

// PopClip ends the innermost clip.
func (b *Builder) PopClip() *Builder {
	b.list.tags = append(b.list.tags, TagPopClip)
	return b
}

// PushStackingContext starts a composited group. The filter slice is copied.
func (b *Builder) PushStackingContext(sc StackingContext) *Builder {
	sc.Filters = append([]Filter(nil), sc.Filters...)
	b.list.tags = append(b.list.tags, TagPushStackingContext)
	b.list.contexts = append(b.list.contexts, sc)
	return b
}

// PopStackingContext ends the innermost stacking context.
func (b *Builder) PopStackingContext() *Builder {
	b.list.tags = append(b.list.tags, TagPopStackingContext)
	return b
}

// Finish returns the built list. The builder must not be used afterwards.
func (b *Builder) Finish() *List {
	l := b.list
	b.list = nil
	return l
}
