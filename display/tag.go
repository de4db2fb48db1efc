// Package display provides the display list: the client-built description of
// one document's content.
//
// A List uses a dual-stream layout like a command buffer:
//   - A compact tag stream (1 byte per item)
//   - Separate typed streams for each item kind
//
// Leaf items (rectangles, images, text, hit-test areas) draw in the spatial
// node and clip chain established by the enclosing push/pop items. The List
// is immutable once built and may be shared between goroutines.
package display

// Tag identifies one item in the tag stream. Tags are grouped by their high
// nibble:
//
//	0x0X: Leaf items
//	0x1X: Spatial nodes
//	0x2X: Clips
//	0x3X: Stacking contexts
type Tag byte

// Tag constants. Each tag consumes one entry of the stream named in its comment.
const (
	// TagRect draws a solid rectangle. Data: rects.
	TagRect Tag = 0x01

	// TagImage draws an image resource. Data: images.
	TagImage Tag = 0x02

	// TagBlobImage draws a blob image rasterized by the client. Data: blobs.
	TagBlobImage Tag = 0x03

	// TagText draws a run of glyphs. Data: texts.
	TagText Tag = 0x04

	// TagHitTest adds an invisible hit-test area. Data: hits.
	TagHitTest Tag = 0x05

	// TagPushReferenceFrame establishes a new coordinate system. Data: refs.
	TagPushReferenceFrame Tag = 0x10

	// TagPushScrollFrame establishes a scrollable viewport. Data: scrolls.
	TagPushScrollFrame Tag = 0x11

	// TagPushStickyFrame establishes a position-sticky node. Data: stickies.
	TagPushStickyFrame Tag = 0x12

	// TagPopSpatial ends the innermost spatial node. Data: none.
	TagPopSpatial Tag = 0x1F

	// TagPushClip intersects the current clip with a shape. Data: clips.
	TagPushClip Tag = 0x20

	// TagPopClip ends the innermost clip. Data: none.
	TagPopClip Tag = 0x2F

	// TagPushStackingContext starts a group composited as one unit.
	// Data: contexts.
	TagPushStackingContext Tag = 0x30

	// TagPopStackingContext ends the innermost stacking context. Data: none.
	TagPopStackingContext Tag = 0x3F
)

// String returns a human-readable name for the tag.
func (t Tag) String() string {
	switch t {
	case TagRect:
		return "Rect"
	case TagImage:
		return "Image"
	case TagBlobImage:
		return "BlobImage"
	case TagText:
		return "Text"
	case TagHitTest:
		return "HitTest"
	case TagPushReferenceFrame:
		return "PushReferenceFrame"
	case TagPushScrollFrame:
		return "PushScrollFrame"
	case TagPushStickyFrame:
		return "PushStickyFrame"
	case TagPopSpatial:
		return "PopSpatial"
	case TagPushClip:
		return "PushClip"
	case TagPopClip:
		return "PopClip"
	case TagPushStackingContext:
		return "PushStackingContext"
	case TagPopStackingContext:
		return "PopStackingContext"
	default:
		return "Unknown"
	}
}

// IsLeaf returns true if the tag draws or hit-tests content.
func (t Tag) IsLeaf() bool {
	return t >= TagRect && t <= TagHitTest
}

// IsSpatial returns true if the tag pushes or pops a spatial node.
func (t Tag) IsSpatial() bool {
	return t&0xF0 == 0x10
}

// IsClip returns true if the tag pushes or pops a clip.
func (t Tag) IsClip() bool {
	return t&0xF0 == 0x20
}

// IsStackingContext returns true if the tag pushes or pops a stacking context.
func (t Tag) IsStackingContext() bool {
	return t&0xF0 == 0x30
}
