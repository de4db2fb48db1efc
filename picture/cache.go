// Package picture caches the document's root picture in device-pixel tiles.
//
// The root picture is split into slices. Each slice has a cache root, the
// nearest spatial node above all of its primitives whose world transform is a
// translation, and is rasterized in that node's space scaled by the device
// pixel ratio. The cache root's world translation is applied only when tiles
// are composited, so scrolling and whole-pixel movement leave tiles valid.
//
// Each tile carries a fingerprint: an order-sensitive hash of every
// primitive overlapping it, including relative transforms, clips below the
// cache root, resource generations and bound values. A tile is redrawn only
// when its fingerprint changes or its surface was evicted from the texture
// cache.
package picture

import (
	"fmt"
	"sync"

	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/internal/fingerprint"
	"github.com/gogpu/wrender/internal/parallel"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/spatial"
	"github.com/gogpu/wrender/texcache"
)

// Defaults for Config.
const (
	DefaultTileSize     = 256
	DefaultMaxSlices    = 8
	DefaultRetainFrames = 60
)

// Config holds the picture cache settings.
type Config struct {
	// TileSize is the width and height of a tile in device pixels.
	TileSize int
	// MaxSlices bounds the number of slices of the root picture.
	MaxSlices int
	// RetainFrames is how many frames an off-screen tile is kept.
	RetainFrames int
	// SurfaceFormat is the texture format of tile surfaces.
	SurfaceFormat texcache.Format
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		TileSize:      DefaultTileSize,
		MaxSlices:     DefaultMaxSlices,
		RetainFrames:  DefaultRetainFrames,
		SurfaceFormat: texcache.FormatRGBA8,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.TileSize <= 0 {
		c.TileSize = d.TileSize
	}
	if c.MaxSlices <= 0 {
		c.MaxSlices = d.MaxSlices
	}
	if c.RetainFrames <= 0 {
		c.RetainFrames = d.RetainFrames
	}
	if c.SurfaceFormat == 0 {
		c.SurfaceFormat = d.SurfaceFormat
	}
	return c
}

// View is the document's placement on the device.
type View struct {
	// Width and Height are the document size in device pixels.
	Width, Height int32
	// DevicePixelRatio is the number of device pixels per layout pixel.
	DevicePixelRatio float32
}

// Input is everything the cache reads for one frame.
type Input struct {
	Scene     *scene.Scene
	Props     *display.PropertyStore
	Resources *resource.Table
	View      View
	Frame     uint64
}

// LayerKind identifies a composite layer.
type LayerKind uint8

// Layer kinds.
const (
	// LayerSlice composites the tiles of a slice.
	LayerSlice LayerKind = iota
	// LayerDynamic draws a primitive with GPU-updatable bindings directly.
	LayerDynamic
)

// Layer is one entry of the back-to-front composite order.
type Layer struct {
	Kind  LayerKind
	Slice int
	Prim  scene.PrimIndex
}

// Slice is a run of root picture primitives cached as one tile grid.
type Slice struct {
	Index int
	// Root is the slice's cache root.
	Root  spatial.NodeIndex
	Prims []scene.PrimIndex
	// DevicePixelRatio scales the cache root's space to raster space.
	DevicePixelRatio float32
	// Offset is the whole-pixel device position of the raster origin and
	// Frac the sub-pixel remainder applied when compositing.
	Offset [2]int32
	Frac   geom.Vector
	// Clip bounds the composited slice in device space when Clipped is set.
	Clip    geom.Rect
	Clipped bool
	// ContentBounds is the union of the slice's primitives in raster space.
	ContentBounds geom.IntRect
	// Visible lists this frame's visible tiles in row-major order.
	Visible []*Tile

	tiles map[TileCoord]*Tile
	infos []primInfo
}

// RasterTransform maps a node's space to the slice's raster space.
func (s *Slice) RasterTransform(tree *spatial.Tree, node spatial.NodeIndex) geom.Transform {
	rel, _ := tree.RelativeTransform(node, s.Root)
	return geom.Scale(s.DevicePixelRatio, s.DevicePixelRatio).Multiply(rel)
}

// DeviceOffset returns the full device translation of the raster origin.
func (s *Slice) DeviceOffset() geom.Vector {
	return geom.Vec(float32(s.Offset[0])+s.Frac.X, float32(s.Offset[1])+s.Frac.Y)
}

// TileCount returns the number of retained tiles.
func (s *Slice) TileCount() int { return len(s.tiles) }

// Tile returns the retained tile at c.
func (s *Slice) Tile(c TileCoord) (*Tile, bool) {
	t, ok := s.tiles[c]
	return t, ok
}

// Result is the outcome of Cache.Update.
type Result struct {
	Layers []Layer
	Slices []*Slice
	// DirtyTiles counts tiles redrawn this frame.
	DirtyTiles int
	// Diagnostics reports tiles that could not get a surface.
	Diagnostics []error
}

// Stats reports cache occupancy.
type Stats struct {
	Slices       int
	Tiles        int
	VisibleTiles int
	DirtyTiles   int
	DroppedTiles uint64
}

// Cache is the picture cache of one document. It is owned by the document
// actor; only tile fingerprinting runs on worker goroutines.
type Cache struct {
	cfg      Config
	textures *texcache.Cache
	pool     *parallel.WorkerPool

	slices []*Slice
	dpr    float32
	frame  uint64

	hashers sync.Pool
	stats   Stats
}

// New creates a cache allocating tile surfaces from textures. pool may be
// nil, in which case fingerprints are computed inline.
func New(cfg Config, textures *texcache.Cache, pool *parallel.WorkerPool) *Cache {
	return &Cache{
		cfg:      cfg.normalized(),
		textures: textures,
		pool:     pool,
		hashers: sync.Pool{
			New: func() any { return new(fingerprint.Hasher) },
		},
	}
}

// Config returns the current settings.
func (c *Cache) Config() Config { return c.cfg }

// SetConfig changes the settings. A tile size change drops every tile.
func (c *Cache) SetConfig(cfg Config) {
	cfg = cfg.normalized()
	if cfg.TileSize != c.cfg.TileSize || cfg.SurfaceFormat != c.cfg.SurfaceFormat {
		c.dropAll()
	}
	c.cfg = cfg
}

// Stats returns occupancy counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Slices = len(c.slices)
	s.Tiles = 0
	for _, sl := range c.slices {
		s.Tiles += len(sl.tiles)
	}
	return s
}

// Invalidate forces every tile to be redrawn next frame.
func (c *Cache) Invalidate() {
	for _, s := range c.slices {
		for _, t := range s.tiles {
			t.fresh = true
		}
	}
}

// Clear frees every tile and slice.
func (c *Cache) Clear() {
	c.dropAll()
	c.slices = nil
}

// HandleMemoryPressure frees the tiles that were not visible last frame and
// returns how many were freed.
func (c *Cache) HandleMemoryPressure() int {
	n := 0
	for _, s := range c.slices {
		for coord, t := range s.tiles {
			if t.lastVisible < c.frame {
				c.freeTile(s, coord, t)
				n++
			}
		}
	}
	return n
}

func (c *Cache) freeTile(s *Slice, coord TileCoord, t *Tile) {
	if !t.Surface.IsZero() {
		c.textures.Free(t.Surface)
	}
	delete(s.tiles, coord)
	c.stats.DroppedTiles++
}

func (c *Cache) dropTiles(s *Slice) {
	for coord, t := range s.tiles {
		c.freeTile(s, coord, t)
	}
}

func (c *Cache) dropAll() {
	for _, s := range c.slices {
		c.dropTiles(s)
	}
}

func (c *Cache) forEach(n int, fn func(i int)) {
	if c.pool == nil {
		for i := range n {
			fn(i)
		}
		return
	}
	c.pool.ForEach(n, fn)
}

// Update recomputes slices, visible tiles and fingerprints for a frame,
// allocates surfaces for dirty tiles and frees expired ones.
func (c *Cache) Update(in Input) Result {
	dpr := in.View.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	if dpr != c.dpr {
		c.dropAll()
		c.dpr = dpr
	}
	c.frame = in.Frame
	c.stats.VisibleTiles, c.stats.DirtyTiles = 0, 0

	layers, groups := c.partition(in.Scene)
	var res Result
	res.Layers = layers

	for i, prims := range groups {
		if i == len(c.slices) {
			c.slices = append(c.slices, &Slice{Index: i, tiles: make(map[TileCoord]*Tile)})
		}
		s := c.slices[i]
		s.Prims = prims
		c.updateSlice(s, &in, dpr, &res)
		res.Slices = append(res.Slices, s)
	}
	for _, s := range c.slices[len(groups):] {
		c.dropTiles(s)
	}
	c.slices = c.slices[:len(groups)]

	c.stats.DirtyTiles = res.DirtyTiles
	return res
}

// partition splits the root picture into slices and dynamic layers. A new
// slice starts after each primitive with a GPU-updatable binding and
// whenever the enclosing scroll frame changes, while MaxSlices allows.
func (c *Cache) partition(s *scene.Scene) ([]Layer, [][]scene.PrimIndex) {
	var (
		layers  []Layer
		groups  [][]scene.PrimIndex
		cur     []scene.PrimIndex
		curRoot spatial.NodeIndex
	)
	closeSlice := func() {
		if len(cur) == 0 {
			return
		}
		layers = append(layers, Layer{Kind: LayerSlice, Slice: len(groups)})
		groups = append(groups, cur)
		cur = nil
	}
	// Room for the current slice plus one more.
	canSplit := func() bool { return len(groups)+2 <= c.cfg.MaxSlices }

	for _, pi := range s.Pictures[scene.RootPicture].Children {
		p := &s.Prims[pi]
		if !s.Tree.IsVisible(p.Spatial) {
			continue
		}
		if p.HasDynamicBinding() && canSplit() {
			closeSlice()
			layers = append(layers, Layer{Kind: LayerDynamic, Prim: pi})
			continue
		}
		root := scrollRoot(s.Tree, p.Spatial)
		if len(cur) > 0 && root != curRoot && canSplit() {
			closeSlice()
		}
		cur = append(cur, pi)
		curRoot = root
	}
	closeSlice()
	return layers, groups
}

func scrollRoot(tree *spatial.Tree, n spatial.NodeIndex) spatial.NodeIndex {
	for n != spatial.Root && tree.Node(n).Kind != spatial.KindScrollFrame {
		n = tree.Node(n).Parent
	}
	return n
}

func (c *Cache) updateSlice(s *Slice, in *Input, dpr float32, res *Result) {
	tree := in.Scene.Tree

	root := in.Scene.Prims[s.Prims[0]].Spatial
	for _, pi := range s.Prims[1:] {
		root = tree.CommonAncestor(root, in.Scene.Prims[pi].Spatial)
	}
	root = tree.TranslationAncestor(root)
	if root != s.Root || dpr != s.DevicePixelRatio {
		c.dropTiles(s)
		s.Root = root
		s.DevicePixelRatio = dpr
	}

	whole, frac := geom.SplitVector(geom.Vector{
		X: tree.World(root).C * dpr,
		Y: tree.World(root).F * dpr,
	})
	s.Offset, s.Frac = whole, frac

	// Per-primitive hashes and raster bounds.
	s.infos = s.infos[:0]
	s.infos = append(s.infos, make([]primInfo, len(s.Prims))...)
	c.forEach(len(s.Prims), func(i int) {
		h := c.hashers.Get().(*fingerprint.Hasher)
		w := walker{in: in, root: root, dpr: dpr, h: h}
		s.infos[i] = w.top(s.Prims[i])
		c.hashers.Put(h)
	})

	var content geom.Rect
	s.Clipped = true
	s.Clip = geom.Rect{}
	for _, info := range s.infos {
		if !info.visible {
			continue
		}
		content = content.Union(info.bounds)
		if !info.outerOK {
			s.Clipped = false
		} else if s.Clipped {
			s.Clip = s.Clip.Union(info.outer.Scale(dpr))
		}
	}
	s.ContentBounds = content.RoundOut()

	// Visible area in raster space.
	visible := geom.RectXYWH(0, 0, float32(in.View.Width), float32(in.View.Height))
	if s.Clipped {
		visible = visible.Intersection(s.Clip)
	}
	visibleRaster := visible.Translate(s.DeviceOffset().Neg()).RoundOut().Intersection(s.ContentBounds)

	c.collectVisible(s, visibleRaster)
	c.fingerprintTiles(s)
	c.resolveSurfaces(s, res)
	c.expireTiles(s)
}

func (c *Cache) collectVisible(s *Slice, r geom.IntRect) {
	s.Visible = s.Visible[:0]
	if r.IsEmpty() {
		return
	}
	size := int32(c.cfg.TileSize)
	x0, y0, x1, y1 := tileRange(r, size)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			coord := TileCoord{X: x, Y: y}
			t, ok := s.tiles[coord]
			if !ok {
				t = &Tile{Coord: coord, fresh: true}
				s.tiles[coord] = t
			}
			t.Rect = tileRect(coord, size)
			t.ValidRect = t.Rect.Intersection(s.ContentBounds)
			t.lastVisible = c.frame
			s.Visible = append(s.Visible, t)
		}
	}
	c.stats.VisibleTiles += len(s.Visible)
}

// fingerprintTiles hashes every visible tile in parallel. Each tile writes
// only its own fields and its bit of the dirty region.
func (c *Cache) fingerprintTiles(s *Slice) {
	if len(s.Visible) == 0 {
		return
	}
	size := int32(c.cfg.TileSize)
	x0, y0, x1, y1 := tileRange(s.Visible[0].Rect.Union(s.Visible[len(s.Visible)-1].Rect), size)
	dirty := parallel.NewDirtyRegion(int(x0), int(y0), int(x1-x0), int(y1-y0))

	c.forEach(len(s.Visible), func(i int) {
		t := s.Visible[i]
		h := c.hashers.Get().(*fingerprint.Hasher)
		defer c.hashers.Put(h)

		tr := t.Rect.ToRect()
		t.Prims = t.Prims[:0]
		h.Reset()
		for j, info := range s.infos {
			if !info.visible || !info.bounds.Intersects(tr) {
				continue
			}
			t.Prims = append(t.Prims, s.Prims[j])
			h.Uint64(info.hash)
		}
		h.Uint32(uint32(len(t.Prims)))
		fp := h.Sum64()
		if t.fresh || fp != t.Fingerprint {
			dirty.Mark(int(t.Coord.X), int(t.Coord.Y))
		}
		t.Fingerprint = fp
	})

	for _, t := range s.Visible {
		t.Dirty = dirty.IsDirty(int(t.Coord.X), int(t.Coord.Y))
	}
}

// resolveSurfaces re-validates surfaces when the texture cache evicted
// anything since a tile last looked, pins every resident surface to the
// current frame and then allocates surfaces for tiles that lost theirs.
// Touched surfaces cannot be evicted by the allocations that follow.
func (c *Cache) resolveSurfaces(s *Slice, res *Result) {
	epoch := c.textures.EvictionEpoch()
	for _, t := range s.Visible {
		if t.Surface.IsZero() {
			continue
		}
		if t.seenEviction != epoch && !c.textures.IsValid(t.Surface) {
			t.Surface = texcache.Handle{}
			continue
		}
		c.textures.Touch(t.Surface)
	}

	size := c.cfg.TileSize
	for _, t := range s.Visible {
		if t.Surface.IsZero() {
			t.Dirty = true
			h, err := c.textures.Allocate(size, size, c.cfg.SurfaceFormat)
			if err != nil {
				res.Diagnostics = append(res.Diagnostics,
					fmt.Errorf("picture: slice %d tile %v: %w", s.Index, t.Coord, err))
				continue
			}
			t.Surface = h
		}
		t.fresh = false
		if t.Dirty {
			res.DirtyTiles++
		}
	}

	epoch = c.textures.EvictionEpoch()
	for _, t := range s.Visible {
		t.seenEviction = epoch
	}
}

func (c *Cache) expireTiles(s *Slice) {
	for coord, t := range s.tiles {
		if c.frame > t.lastVisible && c.frame-t.lastVisible > uint64(c.cfg.RetainFrames) {
			c.freeTile(s, coord, t)
		}
	}
}
