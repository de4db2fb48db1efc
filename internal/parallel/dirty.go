package parallel

import (
	"math/bits"
	"sync/atomic"
)

// DirtyRegion is a lock-free bitmap over a rectangular range of tile
// coordinates. Workers fingerprinting different tiles may mark concurrently.
//
// The range starts at (originX, originY), which may be negative: picture
// space tiles are addressed relative to the picture origin, not the viewport.
type DirtyRegion struct {
	words   []atomic.Uint64
	originX int
	originY int
	tilesX  int
	tilesY  int
}

// NewDirtyRegion creates a tracker for tilesX*tilesY tiles starting at the
// given origin. All tiles start clean. Returns nil for an empty range.
func NewDirtyRegion(originX, originY, tilesX, tilesY int) *DirtyRegion {
	if tilesX <= 0 || tilesY <= 0 {
		return nil
	}
	return &DirtyRegion{
		words:   make([]atomic.Uint64, (tilesX*tilesY+63)/64),
		originX: originX,
		originY: originY,
		tilesX:  tilesX,
		tilesY:  tilesY,
	}
}

func (d *DirtyRegion) index(tx, ty int) (int, bool) {
	x, y := tx-d.originX, ty-d.originY
	if x < 0 || x >= d.tilesX || y < 0 || y >= d.tilesY {
		return 0, false
	}
	return y*d.tilesX + x, true
}

// Mark flags the tile at (tx, ty). Out-of-range coordinates are ignored.
func (d *DirtyRegion) Mark(tx, ty int) {
	idx, ok := d.index(tx, ty)
	if !ok {
		return
	}
	d.words[idx/64].Or(1 << (idx & 63))
}

// IsDirty reports whether the tile at (tx, ty) is flagged.
func (d *DirtyRegion) IsDirty(tx, ty int) bool {
	idx, ok := d.index(tx, ty)
	if !ok {
		return false
	}
	return d.words[idx/64].Load()&(1<<(idx&63)) != 0
}

// Count returns the number of flagged tiles.
func (d *DirtyRegion) Count() int {
	n := 0
	for i := range d.words {
		n += bits.OnesCount64(d.words[i].Load())
	}
	return n
}

// IsEmpty reports whether no tile is flagged.
func (d *DirtyRegion) IsEmpty() bool {
	for i := range d.words {
		if d.words[i].Load() != 0 {
			return false
		}
	}
	return true
}

// Clear unflags every tile.
func (d *DirtyRegion) Clear() {
	for i := range d.words {
		d.words[i].Store(0)
	}
}

// ForEachDirty calls fn for each flagged tile in row-major order.
func (d *DirtyRegion) ForEachDirty(fn func(tx, ty int)) {
	total := d.tilesX * d.tilesY
	for w := range d.words {
		word := d.words[w].Load()
		for word != 0 {
			b := bits.TrailingZeros64(word)
			idx := w*64 + b
			if idx >= total {
				break
			}
			fn(d.originX+idx%d.tilesX, d.originY+idx/d.tilesX)
			word &^= 1 << b
		}
	}
}

// Bounds returns the tile range covered as origin and extent.
func (d *DirtyRegion) Bounds() (originX, originY, tilesX, tilesY int) {
	return d.originX, d.originY, d.tilesX, d.tilesY
}
