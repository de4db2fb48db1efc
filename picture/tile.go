package picture

import (
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/texcache"
)

// TileCoord is the grid position of a tile within its slice.
type TileCoord struct {
	X, Y int32
}

// Tile is one cached region of a slice in raster space.
type Tile struct {
	Coord TileCoord
	// Rect is the tile's area in raster space.
	Rect geom.IntRect
	// ValidRect is the part of Rect covered by slice content.
	ValidRect geom.IntRect
	// Fingerprint hashes everything drawn into the tile.
	Fingerprint uint64
	// Surface is the texture cache allocation holding the tile's pixels.
	Surface texcache.Handle
	// Dirty is set when the tile must be redrawn this frame.
	Dirty bool
	// Prims lists the slice primitives overlapping the tile, in draw order.
	Prims []scene.PrimIndex

	seenEviction uint64
	lastVisible  uint64
	fresh        bool
}

// DirtyRect returns the area of the tile that must be redrawn, in raster
// space. It is empty for clean tiles.
func (t *Tile) DirtyRect() geom.IntRect {
	if !t.Dirty {
		return geom.IntRect{}
	}
	return t.ValidRect
}

func tileRect(c TileCoord, size int32) geom.IntRect {
	return geom.IntRectXYWH(c.X*size, c.Y*size, size, size)
}

// tileRange returns the coordinates of the tiles covering r.
func tileRange(r geom.IntRect, size int32) (x0, y0, x1, y1 int32) {
	return floorDiv(r.MinX, size), floorDiv(r.MinY, size),
		floorDiv(r.MaxX-1, size) + 1, floorDiv(r.MaxY-1, size) + 1
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
