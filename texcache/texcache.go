// Package texcache implements the texture cache: glyphs, images and picture
// tile surfaces packed into shared GPU atlases.
//
// Atlases are partitioned by pixel format and size class so that small
// glyphs and large tiles never fragment each other. Allocation tries the
// existing pages of a partition, then a new page within the memory budget,
// and finally evicts least-recently-used entries in batches and retries.
// Entries that are locked or were used in the current frame are never
// evicted. Requests too large for any size class get a standalone texture.
//
// Every removal bumps a global eviction epoch; holders of handles (such as
// picture cache tiles) compare epochs and only re-validate their handles when
// it has moved.
package texcache

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/internal/cache"
)

// Errors returned by the cache.
var (
	// ErrOutOfSpace is returned when no space can be found even after eviction.
	ErrOutOfSpace = errors.New("texcache: out of space")

	// ErrInvalidSize is returned for non-positive sizes or unknown formats.
	ErrInvalidSize = errors.New("texcache: invalid size")

	// ErrInvalidData is returned when upload data does not match its region.
	ErrInvalidData = errors.New("texcache: invalid upload data")

	// ErrStaleHandle is returned when a handle refers to an evicted or freed entry.
	ErrStaleHandle = errors.New("texcache: stale handle")
)

// FrameID identifies a frame for LRU stamps.
type FrameID uint64

// SizeClass partitions atlas allocations.
type SizeClass uint8

// Size classes.
const (
	ClassSmall SizeClass = iota
	ClassMedium
	ClassLarge
	ClassStandalone
)

// String returns the class name.
func (c SizeClass) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	case ClassStandalone:
		return "standalone"
	default:
		return "unknown"
	}
}

// Config holds the cache limits.
type Config struct {
	// AtlasSize is the width and height of every atlas page.
	AtlasSize int
	// ClassLimits are the largest dimensions of the small, medium and
	// large classes.
	ClassLimits [3]int
	// BudgetBytes bounds the total memory of all textures. 0 is unlimited.
	BudgetBytes int64
	// MaxTextureSize is the device's largest 2D texture dimension.
	MaxTextureSize int
	// EvictionBatch is how many entries are evicted before retrying.
	EvictionBatch int
	// Padding is added around atlas allocations.
	Padding int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		AtlasSize:      2048,
		ClassLimits:    [3]int{32, 128, 512},
		BudgetBytes:    256 << 20,
		MaxTextureSize: int(gputypes.DefaultLimits().MaxTextureDimension2D),
		EvictionBatch:  8,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.AtlasSize <= 0 {
		c.AtlasSize = d.AtlasSize
	}
	if c.ClassLimits == [3]int{} {
		c.ClassLimits = d.ClassLimits
	}
	if c.MaxTextureSize <= 0 {
		c.MaxTextureSize = d.MaxTextureSize
	}
	c.AtlasSize = min(c.AtlasSize, c.MaxTextureSize)
	if c.EvictionBatch <= 0 {
		c.EvictionBatch = d.EvictionBatch
	}
	return c
}

// Handle references a cache entry. The zero Handle is never valid.
type Handle struct {
	Index uint32
	Epoch uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.Epoch == 0 }

// Entry describes a resident allocation.
type Entry struct {
	Texture  TextureID
	Rect     geom.IntRect
	Format   Format
	Class    SizeClass
	LastUsed FrameID
	Locks    int

	textureSize [2]int32
}

// UVRect returns Rect normalized to the texture size.
func (e Entry) UVRect() geom.Rect {
	w, h := float32(e.textureSize[0]), float32(e.textureSize[1])
	if w == 0 || h == 0 {
		return geom.Rect{}
	}
	return geom.Rect{
		MinX: float32(e.Rect.MinX) / w,
		MinY: float32(e.Rect.MinY) / h,
		MaxX: float32(e.Rect.MaxX) / w,
		MaxY: float32(e.Rect.MaxY) / h,
	}
}

type entry struct {
	Entry
	epoch uint32
	live  bool
	page  *page
	alloc Alloc
	elem  *cache.Element[uint32]
}

type partKey struct {
	format Format
	class  SizeClass
}

type page struct {
	id    TextureID
	key   partKey
	alloc *ShelfAllocator
}

type texture struct {
	bytes int64
	page  *page
}

// Stats reports cache occupancy.
type Stats struct {
	Entries     int
	Pages       int
	Standalone  int
	UsedBytes   int64
	Allocations uint64
	Evictions   uint64
	Failures    uint64
}

// Cache is the texture cache. It is owned by a single document actor and is
// not safe for concurrent use.
type Cache struct {
	cfg Config

	entries     []entry
	freeEntries []uint32
	lru         *cache.List[uint32]

	pages       map[partKey][]*page
	textures    map[TextureID]*texture
	nextTexture TextureID
	usedBytes   int64

	frame         FrameID
	evictionEpoch uint64
	updates       []Update
	stats         Stats
}

// New creates an empty cache. Zero fields of cfg take their defaults.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:      cfg.normalized(),
		lru:      cache.NewList[uint32](),
		pages:    make(map[partKey][]*page),
		textures: make(map[TextureID]*texture),
	}
}

// Config returns the active limits.
func (c *Cache) Config() Config { return c.cfg }

// SetBudget changes the memory budget. Existing textures are kept; the new
// budget applies to future growth.
func (c *Cache) SetBudget(bytes int64) { c.cfg.BudgetBytes = bytes }

// BeginFrame starts a frame. Entries touched from now on are stamped with id
// and are not evictable until the next frame.
func (c *Cache) BeginFrame(id FrameID) { c.frame = id }

// Frame returns the current frame id.
func (c *Cache) Frame() FrameID { return c.frame }

// EvictionEpoch returns a counter that increases whenever an entry is
// evicted or freed.
func (c *Cache) EvictionEpoch() uint64 { return c.evictionEpoch }

// ClassFor returns the size class a w x h request would use.
func (c *Cache) ClassFor(w, h int) SizeClass {
	m := max(w, h)
	for i, limit := range c.cfg.ClassLimits {
		if m <= limit && m+c.cfg.Padding <= c.cfg.AtlasSize {
			return SizeClass(i)
		}
	}
	return ClassStandalone
}

// Allocate reserves a w x h region of the given format. The entry is stamped
// with the current frame.
func (c *Cache) Allocate(w, h int, format Format) (Handle, error) {
	if w <= 0 || h <= 0 || format.BytesPerPixel() == 0 {
		return Handle{}, fmt.Errorf("%w: %dx%d %v", ErrInvalidSize, w, h, format)
	}
	if w > c.cfg.MaxTextureSize || h > c.cfg.MaxTextureSize {
		c.stats.Failures++
		return Handle{}, fmt.Errorf("%w: %dx%d exceeds max texture size %d",
			ErrOutOfSpace, w, h, c.cfg.MaxTextureSize)
	}

	class := c.ClassFor(w, h)
	if class == ClassStandalone {
		return c.allocateStandalone(w, h, format)
	}
	key := partKey{format: format, class: class}

	if hnd, ok := c.tryPages(key, w, h); ok {
		return hnd, nil
	}
	pageBytes := int64(c.cfg.AtlasSize) * int64(c.cfg.AtlasSize) * int64(format.BytesPerPixel())
	if c.fits(pageBytes) {
		c.newPage(key)
		if hnd, ok := c.tryPages(key, w, h); ok {
			return hnd, nil
		}
	}

	inPartition := func(e *entry) bool { return e.page != nil && e.page.key == key }
	for c.evictBatch(inPartition) > 0 {
		if hnd, ok := c.tryPages(key, w, h); ok {
			return hnd, nil
		}
	}

	// Reclaim whole pages from other partitions to make budget for a new one.
	for {
		c.releaseEmptyPages()
		if c.fits(pageBytes) {
			c.newPage(key)
			if hnd, ok := c.tryPages(key, w, h); ok {
				return hnd, nil
			}
			break
		}
		if !c.reclaim(key) {
			break
		}
	}

	c.stats.Failures++
	return Handle{}, fmt.Errorf("%w: %dx%d %v in %v atlas", ErrOutOfSpace, w, h, format, class)
}

func (c *Cache) tryPages(key partKey, w, h int) (Handle, bool) {
	for _, p := range c.pages[key] {
		if al, ok := p.alloc.Allocate(w, h); ok {
			return c.insert(entry{
				Entry: Entry{
					Texture:     p.id,
					Rect:        al.Rect,
					Format:      key.format,
					Class:       key.class,
					textureSize: [2]int32{int32(c.cfg.AtlasSize), int32(c.cfg.AtlasSize)},
				},
				page:  p,
				alloc: al,
			}), true
		}
	}
	return Handle{}, false
}

func (c *Cache) allocateStandalone(w, h int, format Format) (Handle, error) {
	bytes := int64(w) * int64(h) * int64(format.BytesPerPixel())
	for !c.fits(bytes) {
		if c.releaseEmptyPages() > 0 {
			continue
		}
		if !c.reclaim(partKey{class: ClassStandalone}) {
			c.stats.Failures++
			return Handle{}, fmt.Errorf("%w: standalone %dx%d %v over budget", ErrOutOfSpace, w, h, format)
		}
	}
	id := c.createTexture(w, h, format, fmt.Sprintf("standalone %dx%d", w, h), bytes, nil)
	return c.insert(entry{
		Entry: Entry{
			Texture:     id,
			Rect:        geom.IntRectXYWH(0, 0, int32(w), int32(h)),
			Format:      format,
			Class:       ClassStandalone,
			textureSize: [2]int32{int32(w), int32(h)},
		},
	}), nil
}

func (c *Cache) fits(bytes int64) bool {
	return c.cfg.BudgetBytes <= 0 || c.usedBytes+bytes <= c.cfg.BudgetBytes
}

func (c *Cache) newPage(key partKey) *page {
	size := c.cfg.AtlasSize
	bytes := int64(size) * int64(size) * int64(key.format.BytesPerPixel())
	p := &page{key: key, alloc: NewShelfAllocator(size, size, c.cfg.Padding)}
	p.id = c.createTexture(size, size, key.format, fmt.Sprintf("atlas %v %v", key.format, key.class), bytes, p)
	c.pages[key] = append(c.pages[key], p)
	return p
}

func (c *Cache) createTexture(w, h int, format Format, label string, bytes int64, p *page) TextureID {
	c.nextTexture++
	id := c.nextTexture
	c.textures[id] = &texture{bytes: bytes, page: p}
	c.usedBytes += bytes
	c.updates = append(c.updates, Update{
		Kind:    UpdateAlloc,
		Texture: id,
		Format:  format,
		Descriptor: gputypes.TextureDescriptor{
			Label:         label,
			Size:          gputypes.NewExtent2D(uint32(w), uint32(h)),
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        format.GPUFormat(),
			Usage: gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding |
				gputypes.TextureUsageRenderAttachment,
		},
	})
	return id
}

func (c *Cache) freeTexture(id TextureID) {
	tex, ok := c.textures[id]
	if !ok {
		return
	}
	c.usedBytes -= tex.bytes
	delete(c.textures, id)
	c.updates = append(c.updates, Update{Kind: UpdateFree, Texture: id})
}

func (c *Cache) insert(e entry) Handle {
	var idx uint32
	if n := len(c.freeEntries); n > 0 {
		idx = c.freeEntries[n-1]
		c.freeEntries = c.freeEntries[:n-1]
		e.epoch = c.entries[idx].epoch
	} else {
		idx = uint32(len(c.entries))
		c.entries = append(c.entries, entry{})
	}
	e.epoch++
	e.live = true
	e.LastUsed = c.frame
	e.elem = c.lru.PushFront(idx)
	c.entries[idx] = e
	c.stats.Allocations++
	return Handle{Index: idx, Epoch: e.epoch}
}

func (c *Cache) lookup(h Handle) (*entry, bool) {
	if h.IsZero() || int(h.Index) >= len(c.entries) {
		return nil, false
	}
	e := &c.entries[h.Index]
	if !e.live || e.epoch != h.Epoch {
		return nil, false
	}
	return e, true
}

// IsValid reports whether h is still resident.
func (c *Cache) IsValid(h Handle) bool {
	_, ok := c.lookup(h)
	return ok
}

// Get returns the entry behind h.
func (c *Cache) Get(h Handle) (Entry, bool) {
	e, ok := c.lookup(h)
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// Touch marks h as used in the current frame. It reports false for stale
// handles.
func (c *Cache) Touch(h Handle) bool {
	e, ok := c.lookup(h)
	if !ok {
		return false
	}
	e.LastUsed = c.frame
	c.lru.MoveToFront(e.elem)
	return true
}

// Lock pins h against eviction until a matching Unlock.
func (c *Cache) Lock(h Handle) error {
	e, ok := c.lookup(h)
	if !ok {
		return ErrStaleHandle
	}
	e.Locks++
	return nil
}

// Unlock releases one Lock.
func (c *Cache) Unlock(h Handle) {
	if e, ok := c.lookup(h); ok && e.Locks > 0 {
		e.Locks--
	}
}

// Free releases h immediately, regardless of locks. Freeing a stale handle
// is a no-op.
func (c *Cache) Free(h Handle) {
	if _, ok := c.lookup(h); ok {
		c.remove(h.Index)
	}
}

func (c *Cache) remove(idx uint32) {
	e := &c.entries[idx]
	c.lru.Remove(e.elem)
	if e.page != nil {
		e.page.alloc.Free(e.alloc)
	} else {
		c.freeTexture(e.Texture)
	}
	e.live = false
	e.elem = nil
	e.page = nil
	c.freeEntries = append(c.freeEntries, idx)
	c.evictionEpoch++
}

// evictBatch removes up to EvictionBatch eligible entries in LRU order and
// returns how many were removed.
func (c *Cache) evictBatch(filter func(*entry) bool) int {
	n := 0
	for el := c.lru.Back(); el != nil && n < c.cfg.EvictionBatch; {
		next := el.Newer()
		idx := el.Key()
		e := &c.entries[idx]
		if e.Locks == 0 && e.LastUsed < c.frame && filter(e) {
			c.remove(idx)
			c.stats.Evictions++
			n++
		}
		el = next
	}
	return n
}

// reclaim evicts the least recently used texture outside partition skip
// that can be released whole: an atlas page whose entries are all
// evictable, or a standalone entry. Ties go to the page with fewer entries.
// It reports whether anything was evicted.
func (c *Cache) reclaim(skip partKey) bool {
	type unit struct {
		newest  FrameID
		blocked bool
		idx     []uint32
	}
	var best *unit
	consider := func(u *unit) {
		if u.blocked {
			return
		}
		if best == nil || u.newest < best.newest ||
			(u.newest == best.newest && (len(u.idx) < len(best.idx) ||
				len(u.idx) == len(best.idx) && u.idx[0] < best.idx[0])) {
			best = u
		}
	}

	pages := make(map[*page]*unit)
	for i := range c.entries {
		e := &c.entries[i]
		if !e.live {
			continue
		}
		evictable := e.Locks == 0 && e.LastUsed < c.frame
		if e.page == nil {
			if evictable {
				consider(&unit{newest: e.LastUsed, idx: []uint32{uint32(i)}})
			}
			continue
		}
		if e.page.key == skip {
			continue
		}
		u := pages[e.page]
		if u == nil {
			u = &unit{}
			pages[e.page] = u
		}
		u.newest = max(u.newest, e.LastUsed)
		u.blocked = u.blocked || !evictable
		u.idx = append(u.idx, uint32(i))
	}
	for _, u := range pages {
		consider(u)
	}
	if best == nil {
		return false
	}
	for _, idx := range best.idx {
		c.remove(idx)
		c.stats.Evictions++
	}
	return true
}

func (c *Cache) releaseEmptyPages() int {
	released := 0
	for key, pages := range c.pages {
		kept := pages[:0]
		for _, p := range pages {
			if p.alloc.IsEmpty() {
				c.freeTexture(p.id)
				released++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(c.pages, key)
		} else {
			c.pages[key] = kept
		}
	}
	return released
}

// Upload queues pixel data for h's region. data holds rows of srcStride
// bytes (0 means tightly packed); dirty optionally restricts the upload to a
// sub-rectangle given in entry-local pixels, with data covering only it.
func (c *Cache) Upload(h Handle, data []byte, srcStride int, dirty *geom.IntRect) error {
	e, ok := c.lookup(h)
	if !ok {
		return ErrStaleHandle
	}
	rect := e.Rect
	if dirty != nil {
		local := dirty.Intersection(geom.IntRectXYWH(0, 0, e.Rect.Width(), e.Rect.Height()))
		if local.IsEmpty() {
			return nil
		}
		rect = geom.IntRect{
			MinX: e.Rect.MinX + local.MinX,
			MinY: e.Rect.MinY + local.MinY,
			MaxX: e.Rect.MinX + local.MaxX,
			MaxY: e.Rect.MinY + local.MaxY,
		}
	}
	w, rows := int(rect.Width()), int(rect.Height())
	pitch := e.Format.RowPitch(w)
	buf, err := repack(data, rows, w*e.Format.BytesPerPixel(), srcStride, pitch)
	if err != nil {
		return err
	}
	c.updates = append(c.updates, Update{
		Kind:    UpdateUpload,
		Texture: e.Texture,
		Rect:    rect,
		Stride:  pitch,
		Data:    buf,
		Format:  e.Format,
	})
	return nil
}

// EndFrame returns the ordered update list accumulated since the previous
// call.
func (c *Cache) EndFrame() []Update {
	out := c.updates
	c.updates = nil
	return out
}

// HandleMemoryPressure evicts every unlocked entry not used in the current
// frame and destroys empty atlas pages.
func (c *Cache) HandleMemoryPressure() int {
	n := 0
	for el := c.lru.Back(); el != nil; {
		next := el.Newer()
		idx := el.Key()
		if e := &c.entries[idx]; e.Locks == 0 && e.LastUsed < c.frame {
			c.remove(idx)
			c.stats.Evictions++
			n++
		}
		el = next
	}
	c.releaseEmptyPages()
	return n
}

// Clear frees every entry and texture.
func (c *Cache) Clear() {
	for el := c.lru.Back(); el != nil; {
		next := el.Newer()
		c.remove(el.Key())
		el = next
	}
	c.releaseEmptyPages()
}

// Stats returns occupancy counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Entries = c.lru.Len()
	s.UsedBytes = c.usedBytes
	for _, pages := range c.pages {
		s.Pages += len(pages)
	}
	s.Standalone = len(c.textures) - s.Pages
	return s
}
