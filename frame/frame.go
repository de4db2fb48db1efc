// Package frame builds the per-frame output handed to the GPU layer.
//
// A Frame is immutable once built. It lists, in the order the consumer must
// apply them, the texture cache updates, the GPU cache updates, the render
// passes that redraw picture cache tiles and intermediate surfaces, and the
// final composite into the document's target.
package frame

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/batch"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/texcache"
)

// DocumentID identifies a document within an API instance.
type DocumentID uint32

// Epoch numbers the frames of a document. It increases by one per
// generated frame and is also the frame id of the GPU and texture caches.
type Epoch uint64

// PassKind identifies what a render pass draws into.
type PassKind uint8

// Pass kinds.
const (
	// PassTile redraws a picture cache tile.
	PassTile PassKind = iota
	// PassSurface renders an effect picture to an intermediate surface.
	PassSurface
)

// String returns the kind name.
func (k PassKind) String() string {
	switch k {
	case PassTile:
		return "tile"
	case PassSurface:
		return "surface"
	default:
		return "unknown"
	}
}

// Pass is a render pass into a region of a cache texture. Instance
// coordinates are relative to the origin of Rect.
type Pass struct {
	Kind PassKind
	// Slice and Tile are set for PassTile.
	Slice int
	Tile  picture.TileCoord
	// Picture is set for PassSurface.
	Picture scene.PictureIndex

	Texture texcache.TextureID
	// Rect is the target region within Texture.
	Rect geom.IntRect
	// Dirty is the part of the region to clear to transparent and redraw,
	// relative to Rect's origin.
	Dirty   geom.IntRect
	Batches batch.List
}

// String returns a compact description for debugging.
func (p *Pass) String() string {
	if p.Kind == PassTile {
		return fmt.Sprintf("tile(slice %d %v -> tex %d %v)", p.Slice, p.Tile, p.Texture, p.Rect)
	}
	return fmt.Sprintf("surface(pic %d -> tex %d %v)", p.Picture, p.Texture, p.Rect)
}

// Composite draws cached tiles and dynamic primitives into the document's
// target, in device pixels.
type Composite struct {
	Width, Height int32
	ClearColor    gputypes.Color
	Batches       batch.List
}

// Stats describes the work done to build a frame.
type Stats struct {
	Primitives   int
	Slices       int
	VisibleTiles int
	DirtyTiles   int
	Passes       int
	Batches      int
	Instances    int
	// TextureUploads counts upload updates; GPUCacheBlocks counts uploaded
	// blocks.
	TextureUploads int
	GPUCacheBlocks int
	BuildTime      time.Duration
}

// Frame is the complete output of one GenerateFrame.
type Frame struct {
	Document DocumentID
	Epoch    Epoch
	// DisplayListEpoch is the epoch of the display list the frame shows.
	DisplayListEpoch uint64
	Background       display.ColorU

	// TextureUpdates and GPUCacheUpdates must be applied before any pass.
	TextureUpdates  []texcache.Update
	GPUCacheUpdates gpucache.UpdateList
	// Passes run in order before the composite.
	Passes    []Pass
	Composite Composite

	// Diagnostics lists problems that degraded the frame without failing it.
	Diagnostics []error
	Stats       Stats

	// Carried holds earlier frames that were superseded before the consumer
	// saw them, oldest first. Their updates and passes must be applied
	// before this frame's; their composites are skipped.
	Carried []*Frame
}

// IsEmpty reports whether the frame draws nothing.
func (f *Frame) IsEmpty() bool {
	return len(f.Passes) == 0 && f.Composite.Batches.IsEmpty()
}

// GPUFrame returns the frame id used by the GPU cache.
func (f *Frame) GPUFrame() gpucache.FrameID { return gpucache.FrameID(f.Epoch) }

// Chain returns the carried frames followed by f, in application order.
func (f *Frame) Chain() []*Frame {
	out := make([]*Frame, 0, len(f.Carried)+1)
	out = append(out, f.Carried...)
	return append(out, f)
}

// String returns a one-line summary.
func (f *Frame) String() string {
	return fmt.Sprintf("frame(doc %d epoch %d: %d passes, %d composite batches, %d texture updates, %d gpu blocks)",
		f.Document, f.Epoch, len(f.Passes), f.Composite.Batches.Len(),
		len(f.TextureUpdates), f.GPUCacheUpdates.BlockCount())
}
