// Package gpucache implements the GPU cache: a persistent, versioned store of
// fixed-size float blocks that primitives reference by handle from their
// instance data.
//
// Blocks are written on the CPU and mirrored to a GPU texture through the
// per-frame UpdateList. A handle carries the epoch of the slot it was issued
// for; once the slot is freed the epoch moves on and every old handle is
// rejected with ErrStaleHandle instead of returning another primitive's data.
//
// Freed storage is not recycled until the consumer acknowledges the frame in
// which it was freed, so a frame still executing on the GPU never observes
// reused addresses.
package gpucache

import (
	"errors"
	"fmt"
	"slices"
)

// Errors returned by the cache.
var (
	// ErrStaleHandle is returned when a handle's epoch no longer matches its slot.
	ErrStaleHandle = errors.New("gpucache: stale handle")

	// ErrExhausted is returned when the cache would grow beyond its block limit.
	// It is the only error that fails a whole frame.
	ErrExhausted = errors.New("gpucache: capacity exhausted")

	// ErrBlockCount is returned for empty pushes or size-changing updates.
	ErrBlockCount = errors.New("gpucache: invalid block count")
)

// Default limits.
const (
	// DefaultMaxBlocks allows a 1024x1024 RGBA32F backing texture.
	DefaultMaxBlocks = 1024 * 1024

	// DefaultExpireFrames is how many frames an untouched handle survives.
	DefaultExpireFrames = 60

	// RowBlocks is the width of the backing texture in blocks.
	RowBlocks = 1024
)

// Block is one texel of the backing texture: four packed scalars.
type Block [4]float32

// FrameID identifies the frame that created, touched or freed an entry.
type FrameID uint64

// Handle references a run of blocks. The zero Handle is never valid.
type Handle struct {
	Index uint32
	Epoch uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.Epoch == 0 }

// String returns a compact debug form.
func (h Handle) String() string { return fmt.Sprintf("gpu#%d@%d", h.Index, h.Epoch) }

type slot struct {
	addr     uint32
	count    uint32
	epoch    uint32
	live     bool
	dirty    bool
	lastUsed FrameID
}

type pendingFree struct {
	frame FrameID
	slot  uint32
}

// Stats reports occupancy counters.
type Stats struct {
	// LiveHandles is the number of handles currently valid.
	LiveHandles int
	// AllocatedBlocks is the high-water mark of the block array.
	AllocatedBlocks int
	// FreeBlocks is the number of blocks ready for reuse.
	FreeBlocks int
	// PendingFrees is the number of slots waiting for acknowledgement.
	PendingFrees int
	// StaleRejections counts accesses through stale handles.
	StaleRejections uint64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	maxBlocks    int
	expireFrames int
}

// WithMaxBlocks bounds the number of blocks. Values <= 0 select DefaultMaxBlocks.
func WithMaxBlocks(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBlocks = n
		}
	}
}

// WithExpireFrames sets how many frames an untouched handle is kept alive.
// 0 disables automatic expiry.
func WithExpireFrames(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.expireFrames = n
		}
	}
}

// Cache is the GPU block store. It is owned by a single document actor and
// is not safe for concurrent use.
type Cache struct {
	blocks    []Block
	slots     []slot
	freeSlots []uint32
	freeRuns  map[uint32][]uint32
	freeTotal int
	pending   []pendingFree
	dirty     []uint32

	maxBlocks    int
	expireFrames int
	frame        FrameID
	stale        uint64
	live         int
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	o := options{maxBlocks: DefaultMaxBlocks, expireFrames: DefaultExpireFrames}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache{
		freeRuns:     make(map[uint32][]uint32),
		maxBlocks:    o.maxBlocks,
		expireFrames: o.expireFrames,
	}
}

// SetLimits changes the block limit and expiry. Existing data is kept even
// when it exceeds a smaller limit; only growth is refused.
func (c *Cache) SetLimits(maxBlocks, expireFrames int) {
	if maxBlocks > 0 {
		c.maxBlocks = maxBlocks
	}
	if expireFrames >= 0 {
		c.expireFrames = expireFrames
	}
}

// BeginFrame starts a frame. Entries pushed or touched afterwards are stamped
// with id.
func (c *Cache) BeginFrame(id FrameID) {
	c.frame = id
}

// Frame returns the current frame id.
func (c *Cache) Frame() FrameID { return c.frame }

// Push stores a run of blocks and returns its handle.
func (c *Cache) Push(blocks ...Block) (Handle, error) {
	n := uint32(len(blocks))
	if n == 0 {
		return Handle{}, ErrBlockCount
	}

	addr, ok := c.takeRun(n)
	if !ok {
		if len(c.blocks)+int(n) > c.maxBlocks {
			return Handle{}, fmt.Errorf("%w: %d blocks in use, %d requested, limit %d",
				ErrExhausted, len(c.blocks), n, c.maxBlocks)
		}
		addr = uint32(len(c.blocks))
		c.blocks = append(c.blocks, make([]Block, n)...)
	}
	copy(c.blocks[addr:addr+n], blocks)

	var idx uint32
	if k := len(c.freeSlots); k > 0 {
		idx = c.freeSlots[k-1]
		c.freeSlots = c.freeSlots[:k-1]
	} else {
		idx = uint32(len(c.slots))
		c.slots = append(c.slots, slot{})
	}
	s := &c.slots[idx]
	s.addr, s.count = addr, n
	s.epoch++
	s.live = true
	s.lastUsed = c.frame
	c.markDirty(idx)
	c.live++

	return Handle{Index: idx, Epoch: s.epoch}, nil
}

func (c *Cache) takeRun(n uint32) (uint32, bool) {
	runs := c.freeRuns[n]
	if len(runs) == 0 {
		return 0, false
	}
	addr := runs[len(runs)-1]
	c.freeRuns[n] = runs[:len(runs)-1]
	c.freeTotal -= int(n)
	return addr, true
}

func (c *Cache) lookup(h Handle) (*slot, error) {
	if h.IsZero() || int(h.Index) >= len(c.slots) {
		c.stale++
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	s := &c.slots[h.Index]
	if !s.live || s.epoch != h.Epoch {
		c.stale++
		return nil, fmt.Errorf("%w: %v (slot epoch %d)", ErrStaleHandle, h, s.epoch)
	}
	return s, nil
}

// Get returns the blocks behind h. The slice aliases cache storage and must
// not be modified or retained past the next mutation.
func (c *Cache) Get(h Handle) ([]Block, error) {
	s, err := c.lookup(h)
	if err != nil {
		return nil, err
	}
	return c.blocks[s.addr : s.addr+s.count], nil
}

// Address returns the block index of h's first block, as referenced by
// instance data on the GPU.
func (c *Cache) Address(h Handle) (uint32, error) {
	s, err := c.lookup(h)
	if err != nil {
		return 0, err
	}
	return s.addr, nil
}

// IsValid reports whether h still refers to live data.
func (c *Cache) IsValid(h Handle) bool {
	if h.IsZero() || int(h.Index) >= len(c.slots) {
		return false
	}
	s := c.slots[h.Index]
	return s.live && s.epoch == h.Epoch
}

// Touch keeps h alive for this frame.
func (c *Cache) Touch(h Handle) error {
	s, err := c.lookup(h)
	if err != nil {
		return err
	}
	s.lastUsed = c.frame
	return nil
}

// UpdateIfDirty overwrites h's blocks when they differ from blocks. It
// reports whether anything changed. The block count must match.
func (c *Cache) UpdateIfDirty(h Handle, blocks ...Block) (bool, error) {
	s, err := c.lookup(h)
	if err != nil {
		return false, err
	}
	if uint32(len(blocks)) != s.count {
		return false, fmt.Errorf("%w: have %d, got %d", ErrBlockCount, s.count, len(blocks))
	}
	s.lastUsed = c.frame
	dst := c.blocks[s.addr : s.addr+s.count]
	if slices.Equal(dst, blocks) {
		return false, nil
	}
	copy(dst, blocks)
	c.markDirty(h.Index)
	return true, nil
}

// Upsert updates h in place when it is still valid and the size matches, and
// otherwise frees it and pushes a fresh run.
func (c *Cache) Upsert(h Handle, blocks ...Block) (Handle, error) {
	if c.IsValid(h) && c.slots[h.Index].count == uint32(len(blocks)) {
		_, err := c.UpdateIfDirty(h, blocks...)
		return h, err
	}
	if c.IsValid(h) {
		c.Free(h)
	}
	return c.Push(blocks...)
}

// Free releases h. Its epoch advances immediately, so h and its copies are
// stale from now on; the storage is recycled after Acknowledge. Freeing a
// stale handle is a no-op.
func (c *Cache) Free(h Handle) {
	if !c.IsValid(h) {
		return
	}
	c.release(h.Index)
}

func (c *Cache) release(idx uint32) {
	s := &c.slots[idx]
	s.live = false
	s.dirty = false
	s.epoch++
	c.live--
	c.pending = append(c.pending, pendingFree{frame: c.frame, slot: idx})
}

// Acknowledge tells the cache that the consumer has finished with frame id
// and every frame before it, so storage freed up to then may be reused.
func (c *Cache) Acknowledge(id FrameID) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.frame > id {
			kept = append(kept, p)
			continue
		}
		s := &c.slots[p.slot]
		c.freeRuns[s.count] = append(c.freeRuns[s.count], s.addr)
		c.freeTotal += int(s.count)
		c.freeSlots = append(c.freeSlots, p.slot)
	}
	c.pending = kept
}

func (c *Cache) markDirty(idx uint32) {
	s := &c.slots[idx]
	if s.dirty {
		return
	}
	s.dirty = true
	c.dirty = append(c.dirty, idx)
}

// EndFrame expires entries untouched for longer than the expiry window and
// returns the upload diff for everything created or changed this frame.
func (c *Cache) EndFrame() UpdateList {
	if c.expireFrames > 0 && c.frame > FrameID(c.expireFrames) {
		horizon := c.frame - FrameID(c.expireFrames)
		for i := range c.slots {
			if c.slots[i].live && c.slots[i].lastUsed < horizon {
				c.release(uint32(i))
			}
		}
	}

	list := UpdateList{Frame: c.frame, Height: (len(c.blocks) + RowBlocks - 1) / RowBlocks}
	runs := make([][2]uint32, 0, len(c.dirty))
	for _, idx := range c.dirty {
		s := &c.slots[idx]
		if !s.dirty || !s.live {
			continue
		}
		s.dirty = false
		runs = append(runs, [2]uint32{s.addr, s.count})
	}
	c.dirty = c.dirty[:0]

	slices.SortFunc(runs, func(a, b [2]uint32) int { return int(a[0]) - int(b[0]) })
	for _, r := range runs {
		if n := len(list.Updates); n > 0 {
			last := &list.Updates[n-1]
			if last.Address+uint32(len(last.Blocks)) == r[0] {
				last.Blocks = append(last.Blocks, c.blocks[r[0]:r[0]+r[1]]...)
				continue
			}
		}
		list.Updates = append(list.Updates, Update{
			Address: r[0],
			Blocks:  slices.Clone(c.blocks[r[0] : r[0]+r[1]]),
		})
	}
	return list
}

// Clear drops every entry. Outstanding handles become stale; storage freed
// this way is recycled after the next Acknowledge.
func (c *Cache) Clear() {
	for i := range c.slots {
		if c.slots[i].live {
			c.release(uint32(i))
		}
	}
}

// Stats returns occupancy counters.
func (c *Cache) Stats() Stats {
	return Stats{
		LiveHandles:     c.live,
		AllocatedBlocks: len(c.blocks),
		FreeBlocks:      c.freeTotal,
		PendingFrees:    len(c.pending),
		StaleRejections: c.stale,
	}
}
