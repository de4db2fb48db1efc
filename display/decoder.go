package display

// Decoder provides sequential decoding of a List. It tracks one position per
// item stream and returns the data of the current tag.
//
// Example usage:
//
//	dec := display.NewDecoder(list)
//	for dec.Next() {
//	    switch dec.Tag() {
//	    case display.TagRect:
//	        item := dec.Rect()
//	        // handle rect
//	    case display.TagPushClip:
//	        clip := dec.Clip()
//	        // handle clip
//	    }
//	}
//
// Each data method must be called at most once per tag; tags whose data is
// not read are skipped correctly by Next.
type Decoder struct {
	list *List

	tagIdx int
	idx    [numStreams]int
	read   bool

	currentTag Tag
}

const (
	streamRects = iota
	streamImages
	streamBlobs
	streamTexts
	streamHits
	streamRefs
	streamScrolls
	streamStickies
	streamClips
	streamContexts
	numStreams
)

func streamOf(t Tag) int {
	switch t {
	case TagRect:
		return streamRects
	case TagImage:
		return streamImages
	case TagBlobImage:
		return streamBlobs
	case TagText:
		return streamTexts
	case TagHitTest:
		return streamHits
	case TagPushReferenceFrame:
		return streamRefs
	case TagPushScrollFrame:
		return streamScrolls
	case TagPushStickyFrame:
		return streamStickies
	case TagPushClip:
		return streamClips
	case TagPushStackingContext:
		return streamContexts
	default:
		return -1
	}
}

// NewDecoder creates a new decoder for the given list.
// Returns nil if list is nil.
func NewDecoder(list *List) *Decoder {
	if list == nil {
		return nil
	}
	return &Decoder{list: list}
}

// Reset rewinds the decoder to the beginning of list.
func (d *Decoder) Reset(list *List) {
	*d = Decoder{list: list}
}

// Next advances to the next item. Returns false when iteration is complete.
func (d *Decoder) Next() bool {
	if d.list == nil || d.tagIdx >= len(d.list.tags) {
		return false
	}
	// Skip the data of a tag the caller did not read.
	if d.tagIdx > 0 && !d.read {
		if s := streamOf(d.currentTag); s >= 0 {
			d.idx[s]++
		}
	}
	d.currentTag = d.list.tags[d.tagIdx]
	d.tagIdx++
	d.read = false
	return true
}

// Tag returns the current item tag.
func (d *Decoder) Tag() Tag {
	return d.currentTag
}

// Position returns the index of the current item in the tag stream.
func (d *Decoder) Position() int {
	return d.tagIdx - 1
}

// HasMore returns true if there are more items to decode.
func (d *Decoder) HasMore() bool {
	return d.list != nil && d.tagIdx < len(d.list.tags)
}

func (d *Decoder) take(s int) (int, bool) {
	if d.read || streamOf(d.currentTag) != s {
		return 0, false
	}
	d.read = true
	i := d.idx[s]
	d.idx[s]++
	return i, true
}

// Rect returns the current RectItem. Only valid when Tag() == TagRect.
func (d *Decoder) Rect() RectItem {
	if i, ok := d.take(streamRects); ok && i < len(d.list.rects) {
		return d.list.rects[i]
	}
	return RectItem{}
}

// Image returns the current ImageItem. Only valid when Tag() == TagImage.
func (d *Decoder) Image() ImageItem {
	if i, ok := d.take(streamImages); ok && i < len(d.list.images) {
		return d.list.images[i]
	}
	return ImageItem{}
}

// BlobImage returns the current BlobImageItem.
// Only valid when Tag() == TagBlobImage.
func (d *Decoder) BlobImage() BlobImageItem {
	if i, ok := d.take(streamBlobs); ok && i < len(d.list.blobs) {
		return d.list.blobs[i]
	}
	return BlobImageItem{}
}

// Text returns the current TextItem. Only valid when Tag() == TagText.
// The glyph slice is shared with the list and must not be modified.
func (d *Decoder) Text() TextItem {
	if i, ok := d.take(streamTexts); ok && i < len(d.list.texts) {
		return d.list.texts[i]
	}
	return TextItem{}
}

// HitTest returns the current HitTestItem. Only valid when Tag() == TagHitTest.
func (d *Decoder) HitTest() HitTestItem {
	if i, ok := d.take(streamHits); ok && i < len(d.list.hits) {
		return d.list.hits[i]
	}
	return HitTestItem{}
}

// ReferenceFrame returns the current ReferenceFrame.
// Only valid when Tag() == TagPushReferenceFrame.
func (d *Decoder) ReferenceFrame() ReferenceFrame {
	if i, ok := d.take(streamRefs); ok && i < len(d.list.refs) {
		return d.list.refs[i]
	}
	return ReferenceFrame{}
}

// ScrollFrame returns the current ScrollFrame.
// Only valid when Tag() == TagPushScrollFrame.
func (d *Decoder) ScrollFrame() ScrollFrame {
	if i, ok := d.take(streamScrolls); ok && i < len(d.list.scrolls) {
		return d.list.scrolls[i]
	}
	return ScrollFrame{}
}

// StickyFrame returns the current StickyFrame.
// Only valid when Tag() == TagPushStickyFrame.
func (d *Decoder) StickyFrame() StickyFrame {
	if i, ok := d.take(streamStickies); ok && i < len(d.list.stickies) {
		return d.list.stickies[i]
	}
	return StickyFrame{}
}

// Clip returns the current Clip. Only valid when Tag() == TagPushClip.
func (d *Decoder) Clip() Clip {
	if i, ok := d.take(streamClips); ok && i < len(d.list.clips) {
		return d.list.clips[i]
	}
	return Clip{}
}

// StackingContext returns the current StackingContext.
// Only valid when Tag() == TagPushStackingContext.
func (d *Decoder) StackingContext() StackingContext {
	if i, ok := d.take(streamContexts); ok && i < len(d.list.contexts) {
		return d.list.contexts[i]
	}
	return StackingContext{Opacity: 1}
}

// List returns the list being decoded.
func (d *Decoder) List() *List {
	return d.list
}
