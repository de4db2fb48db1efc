package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/wrender/batch"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/internal/parallel"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/shader"
	"github.com/gogpu/wrender/spatial"
	"github.com/gogpu/wrender/texcache"
)

// ErrNoRasterizer is reported when a primitive needs a glyph or blob
// rasterizer and none was configured.
var ErrNoRasterizer = errors.New("frame: no rasterizer configured")

// PlaceholderColor is drawn in place of primitives whose resources are
// missing.
var PlaceholderColor = display.RGBA(255, 0, 255, 255)

// Options configures a Builder.
type Options struct {
	Picture picture.Config
	// Lookback bounds the alpha batch merge search.
	Lookback int
	Glyphs   resource.GlyphRasterizer
	Blobs    resource.BlobRasterizer
	// Pool runs tile fingerprinting. It may be nil.
	Pool *parallel.WorkerPool
}

// Input is the document state a frame is built from.
type Input struct {
	Document DocumentID
	Epoch    Epoch
	// Scene may be nil before the first display list; the frame then only
	// clears the target.
	Scene     *scene.Scene
	Props     *display.PropertyStore
	Resources *resource.Table
	View      picture.View
}

type primEntry struct {
	handle gpucache.Handle
	used   Epoch
}

// Builder turns document state into frames. It keeps the picture cache and
// the per-resource texture and GPU cache entries between frames. A Builder
// is owned by one document actor and is not safe for concurrent use.
type Builder struct {
	opts     Options
	textures *texcache.Cache
	gpu      *gpucache.Cache
	pictures *picture.Cache

	batchers []*batch.Builder

	images map[resource.ImageKey]*cachedImage
	blobs  map[resource.BlobImageKey]*cachedImage
	glyphs map[resource.GlyphKey]*cachedGlyph
	prims  map[uint64]primEntry
	// transient holds this frame's intermediate surfaces, freed when the
	// next frame starts.
	transient []texcache.Handle

	// Per-frame state.
	in        *Input
	frame     *Frame
	surfaces  map[scene.PictureIndex]*surface
	imageRefs map[resource.ImageKey]imageRef
	blobRefs  map[resource.BlobImageKey]imageRef
	reported  map[string]bool
	fatal     error
}

// NewBuilder creates a builder allocating from textures and gpu.
func NewBuilder(textures *texcache.Cache, gpu *gpucache.Cache, opts Options) *Builder {
	return &Builder{
		opts:     opts,
		textures: textures,
		gpu:      gpu,
		pictures: picture.New(opts.Picture, textures, opts.Pool),
		images:   make(map[resource.ImageKey]*cachedImage),
		blobs:    make(map[resource.BlobImageKey]*cachedImage),
		glyphs:   make(map[resource.GlyphKey]*cachedGlyph),
		prims:    make(map[uint64]primEntry),
	}
}

// Pictures returns the picture cache.
func (b *Builder) Pictures() *picture.Cache { return b.pictures }

// Configure changes the picture cache settings and the batch lookback.
func (b *Builder) Configure(pc picture.Config, lookback int) {
	b.pictures.SetConfig(pc)
	b.opts.Picture = pc
	if lookback != b.opts.Lookback {
		b.opts.Lookback = lookback
		b.batchers = nil
	}
}

// SetRasterizers replaces the glyph and blob rasterizers. Cached glyphs are
// dropped when the glyph rasterizer changes.
func (b *Builder) SetRasterizers(glyphs resource.GlyphRasterizer, blobs resource.BlobRasterizer) {
	if glyphs != b.opts.Glyphs {
		for k, g := range b.glyphs {
			b.textures.Free(g.handle)
			delete(b.glyphs, k)
		}
	}
	b.opts.Glyphs, b.opts.Blobs = glyphs, blobs
}

// HandleMemoryPressure drops off-screen tiles, every texture cache entry not
// used by the latest frame and the GPU cache blocks of primitives that were
// not drawn in it. It returns the number of tiles and texture entries freed.
func (b *Builder) HandleMemoryPressure(current Epoch) (tiles, textures int) {
	tiles = b.pictures.HandleMemoryPressure()
	textures = b.textures.HandleMemoryPressure()
	for uid, e := range b.prims {
		if e.used < current {
			b.gpu.Free(e.handle)
			delete(b.prims, uid)
		}
	}
	b.pruneTextures(nil)
	return tiles, textures
}

// Clear drops all cached state. The texture and GPU caches are cleared too.
func (b *Builder) Clear() {
	b.pictures.Clear()
	b.textures.Clear()
	b.gpu.Clear()
	clear(b.images)
	clear(b.blobs)
	clear(b.glyphs)
	clear(b.prims)
	b.transient = b.transient[:0]
}

// Build produces the frame for in. A GPU cache exhaustion fails the build:
// the returned frame then carries only the cache updates made so far, every
// tile is redrawn next frame, and the error wraps gpucache.ErrExhausted.
func (b *Builder) Build(in Input) (*Frame, error) {
	start := time.Now()
	b.begin(&in)
	defer b.end()

	f := b.frame
	if in.Scene != nil {
		f.DisplayListEpoch = in.Scene.Epoch
		f.Background = in.Scene.Background
		f.Composite.ClearColor = in.Scene.Background.Premultiplied()
		b.draw()
	}

	if b.fatal != nil {
		b.pictures.Invalidate()
		f.Passes = nil
		f.Composite.Batches = batch.List{}
	}
	b.pruneTextures(in.Resources)
	f.TextureUpdates = b.textures.EndFrame()
	f.GPUCacheUpdates = b.gpu.EndFrame()
	b.fillStats(start)

	if b.fatal != nil {
		return f, fmt.Errorf("frame %d: %w", in.Epoch, b.fatal)
	}
	return f, nil
}

func (b *Builder) begin(in *Input) {
	b.in = in
	b.frame = &Frame{
		Document: in.Document,
		Epoch:    in.Epoch,
		Composite: Composite{
			Width:  in.View.Width,
			Height: in.View.Height,
		},
	}
	b.surfaces = make(map[scene.PictureIndex]*surface)
	b.imageRefs = make(map[resource.ImageKey]imageRef)
	b.blobRefs = make(map[resource.BlobImageKey]imageRef)
	b.reported = make(map[string]bool)
	b.fatal = nil

	b.textures.BeginFrame(texcache.FrameID(in.Epoch))
	b.gpu.BeginFrame(gpucache.FrameID(in.Epoch))
	for _, h := range b.transient {
		b.textures.Free(h)
	}
	b.transient = b.transient[:0]
}

func (b *Builder) end() {
	b.in = nil
	b.frame = nil
	b.surfaces = nil
	b.imageRefs = nil
	b.blobRefs = nil
	b.reported = nil
}

func (b *Builder) draw() {
	in := b.in
	in.Scene.Update(in.Props)
	res := b.pictures.Update(picture.Input{
		Scene:     in.Scene,
		Props:     in.Props,
		Resources: in.Resources,
		View:      in.View,
		Frame:     uint64(in.Epoch),
	})
	for _, err := range res.Diagnostics {
		b.report(err)
	}
	b.frame.Stats.Slices = len(res.Slices)
	b.frame.Stats.DirtyTiles = res.DirtyTiles

	for _, sl := range res.Slices {
		b.drawTiles(sl)
		b.frame.Stats.VisibleTiles += len(sl.Visible)
	}
	b.composite(res)
}

// drawTiles emits a pass for every dirty tile of sl.
func (b *Builder) drawTiles(sl *picture.Slice) {
	var area geom.Rect
	for _, t := range sl.Visible {
		area = area.Union(t.Rect.ToRect())
	}
	for _, tile := range sl.Visible {
		if !tile.Dirty || tile.Surface.IsZero() || b.fatal != nil {
			continue
		}
		entry, ok := b.textures.Get(tile.Surface)
		if !ok {
			continue
		}
		origin := geom.Vec(float32(tile.Rect.MinX), float32(tile.Rect.MinY))
		t := &target{
			root:    sl.Root,
			dpr:     sl.DevicePixelRatio,
			origin:  origin,
			scissor: tile.ValidRect.ToRect().Translate(origin.Neg()),
			area:    area,
			batcher: b.batcher(0),
		}
		for _, pi := range tile.Prims {
			b.drawPrim(t, pi)
		}
		dirty := tile.DirtyRect()
		b.frame.Passes = append(b.frame.Passes, Pass{
			Kind:    PassTile,
			Slice:   sl.Index,
			Tile:    tile.Coord,
			Texture: entry.Texture,
			Rect:    entry.Rect,
			Dirty: geom.IntRect{
				MinX: dirty.MinX - tile.Rect.MinX, MinY: dirty.MinY - tile.Rect.MinY,
				MaxX: dirty.MaxX - tile.Rect.MinX, MaxY: dirty.MaxY - tile.Rect.MinY,
			},
			Batches: t.batcher.Finish(),
		})
	}
}

// composite draws the layers back to front into the document target.
func (b *Builder) composite(res picture.Result) {
	view := geom.RectXYWH(0, 0, float32(b.in.View.Width), float32(b.in.View.Height))
	device := &target{
		root:    spatial.Root,
		dpr:     devicePixelRatio(b.in.View),
		scissor: view,
		area:    view,
		batcher: b.batcher(0),
	}
	for _, layer := range res.Layers {
		if b.fatal != nil {
			return
		}
		switch layer.Kind {
		case picture.LayerSlice:
			b.compositeSlice(device, res.Slices[layer.Slice])
		case picture.LayerDynamic:
			b.drawPrim(device, layer.Prim)
		}
	}
	b.frame.Composite.Batches = device.batcher.Finish()
}

func (b *Builder) compositeSlice(device *target, sl *picture.Slice) {
	off := sl.DeviceOffset()
	xf := geom.Translation(off.X, off.Y)
	clip := device.scissor
	mode := batch.ClipNone
	if sl.Clipped {
		clip = clip.Intersection(sl.Clip)
		mode = batch.ClipRect
	}
	for _, tile := range sl.Visible {
		if tile.Surface.IsZero() || tile.ValidRect.IsEmpty() {
			continue
		}
		entry, ok := b.textures.Get(tile.Surface)
		if !ok {
			continue
		}
		inst := batch.NewInstance(tile.ValidRect.ToRect(), xf)
		inst.UV = subUV(entry, tile.Rect, tile.ValidRect)
		inst.SetClip(clip, 0)
		inst.Color = [4]float32{1, 1, 1, 1}
		if inst.Bounds().IsEmpty() {
			continue
		}
		key := batch.Key{
			Kind:     shader.KindCompositeTile,
			Blend:    batch.BlendAlpha,
			Textures: [3]texcache.TextureID{entry.Texture},
			Clip:     mode,
		}
		device.batcher.Add(key, inst, false)
	}
}

func devicePixelRatio(v picture.View) float32 {
	if v.DevicePixelRatio <= 0 {
		return 1
	}
	return v.DevicePixelRatio
}

// subUV returns the normalized texture rect of sub, a part of the region r
// stored in entry.
func subUV(entry texcache.Entry, r, sub geom.IntRect) [4]float32 {
	uv := entry.UVRect()
	sx := uv.Width() / float32(r.Width())
	sy := uv.Height() / float32(r.Height())
	return [4]float32{
		uv.MinX + float32(sub.MinX-r.MinX)*sx,
		uv.MinY + float32(sub.MinY-r.MinY)*sy,
		uv.MinX + float32(sub.MaxX-r.MinX)*sx,
		uv.MinY + float32(sub.MaxY-r.MinY)*sy,
	}
}

// batcher returns the batch builder for surface nesting level depth, reset.
func (b *Builder) batcher(depth int) *batch.Builder {
	for len(b.batchers) <= depth {
		b.batchers = append(b.batchers, batch.NewBuilder(b.opts.Lookback))
	}
	bt := b.batchers[depth]
	bt.Reset()
	return bt
}

// report records a diagnostic once per frame.
func (b *Builder) report(err error) {
	msg := err.Error()
	if b.reported[msg] {
		return
	}
	b.reported[msg] = true
	b.frame.Diagnostics = append(b.frame.Diagnostics, err)
}

// fail records a GPU cache error. Exhaustion aborts the frame; anything
// else is a diagnostic.
func (b *Builder) fail(err error) {
	if errors.Is(err, gpucache.ErrExhausted) {
		if b.fatal == nil {
			b.fatal = err
		}
		return
	}
	b.report(err)
}

func (b *Builder) fillStats(start time.Time) {
	f := b.frame
	st := &f.Stats
	if b.in.Scene != nil {
		st.Primitives = len(b.in.Scene.Prims)
	}
	st.Passes = len(f.Passes)
	for i := range f.Passes {
		st.Batches += f.Passes[i].Batches.Len()
		st.Instances += f.Passes[i].Batches.InstanceCount()
	}
	st.Batches += f.Composite.Batches.Len()
	st.Instances += f.Composite.Batches.InstanceCount()
	for _, u := range f.TextureUpdates {
		if u.Kind == texcache.UpdateUpload {
			st.TextureUploads++
		}
	}
	st.GPUCacheBlocks = f.GPUCacheUpdates.BlockCount()
	st.BuildTime = time.Since(start)
}
