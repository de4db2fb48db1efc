package texcache

import "github.com/gogpu/wrender/geom"

// ShelfAllocator packs rectangles into horizontal shelves and supports
// freeing them again.
//
// Items are placed left-to-right on the first shelf tall enough (but not
// wastefully tall) to hold them; a new shelf is started below the last one
// when none fits. Freed space becomes a hole on its shelf that later items of
// equal or smaller width may reuse. A shelf whose last item is freed is
// reset, and empty shelves at the bottom are removed so their height can be
// reclaimed by differently sized items.
type ShelfAllocator struct {
	width   int
	height  int
	padding int
	shelves []shelf

	usedArea int
	count    int
}

type shelf struct {
	y      int
	height int
	nextX  int
	items  int
	holes  []span
}

type span struct {
	x, w int
}

// Alloc identifies an allocation for Free.
type Alloc struct {
	Rect  geom.IntRect
	shelf int
	x, w  int // padded span on the shelf
}

// NewShelfAllocator creates an allocator for a width x height area.
func NewShelfAllocator(width, height, padding int) *ShelfAllocator {
	return &ShelfAllocator{
		width:   width,
		height:  height,
		padding: max(padding, 0),
		shelves: make([]shelf, 0, 16),
	}
}

// Allocate finds space for a w x h rectangle.
func (a *ShelfAllocator) Allocate(w, h int) (Alloc, bool) {
	if w <= 0 || h <= 0 {
		return Alloc{}, false
	}
	pw, ph := w+a.padding, h+a.padding
	if pw > a.width || ph > a.height {
		return Alloc{}, false
	}

	for i := range a.shelves {
		s := &a.shelves[i]
		last := i == len(a.shelves)-1
		if !a.shelfFits(s, ph, last) {
			continue
		}
		if x, ok := s.take(pw, a.width); ok {
			if s.items == 0 && last {
				s.height = ph
			}
			return a.commit(i, x, pw, w, h), true
		}
	}

	y := 0
	if n := len(a.shelves); n > 0 {
		last := a.shelves[n-1]
		y = last.y + last.height
	}
	if y+ph > a.height {
		return Alloc{}, false
	}
	a.shelves = append(a.shelves, shelf{y: y, height: ph})
	i := len(a.shelves) - 1
	x, _ := a.shelves[i].take(pw, a.width)
	return a.commit(i, x, pw, w, h), true
}

// shelfFits rejects shelves that are too short, and shelves more than twice
// as tall as the item so small glyphs do not strand tall rows. An empty last
// shelf can be resized to the item.
func (a *ShelfAllocator) shelfFits(s *shelf, ph int, last bool) bool {
	if s.items == 0 && last {
		return s.y+ph <= a.height
	}
	return ph <= s.height && s.height <= 2*ph
}

func (s *shelf) take(pw, width int) (int, bool) {
	for i, hole := range s.holes {
		if hole.w < pw {
			continue
		}
		x := hole.x
		if hole.w == pw {
			s.holes = append(s.holes[:i], s.holes[i+1:]...)
		} else {
			s.holes[i] = span{x: hole.x + pw, w: hole.w - pw}
		}
		return x, true
	}
	if s.nextX+pw > width {
		return 0, false
	}
	x := s.nextX
	s.nextX += pw
	return x, true
}

func (a *ShelfAllocator) commit(i, x, pw, w, h int) Alloc {
	s := &a.shelves[i]
	s.items++
	a.usedArea += w * h
	a.count++
	return Alloc{
		Rect:  geom.IntRectXYWH(int32(x), int32(s.y), int32(w), int32(h)),
		shelf: i,
		x:     x,
		w:     pw,
	}
}

// Free returns an allocation's space to its shelf.
func (a *ShelfAllocator) Free(al Alloc) {
	if al.shelf < 0 || al.shelf >= len(a.shelves) {
		return
	}
	s := &a.shelves[al.shelf]
	if s.items == 0 {
		return
	}
	s.items--
	a.count--
	a.usedArea -= int(al.Rect.Area())

	if s.items == 0 {
		s.nextX = 0
		s.holes = s.holes[:0]
		for n := len(a.shelves); n > 0 && a.shelves[n-1].items == 0; n-- {
			a.shelves = a.shelves[:n-1]
		}
		return
	}
	if al.x+al.w == s.nextX {
		s.nextX = al.x
		return
	}
	s.holes = append(s.holes, span{x: al.x, w: al.w})
}

// Reset clears all allocations.
func (a *ShelfAllocator) Reset() {
	a.shelves = a.shelves[:0]
	a.usedArea = 0
	a.count = 0
}

// IsEmpty reports whether nothing is allocated.
func (a *ShelfAllocator) IsEmpty() bool { return a.count == 0 }

// Count returns the number of live allocations.
func (a *ShelfAllocator) Count() int { return a.count }

// UsedArea returns the total area of live allocations, excluding padding.
func (a *ShelfAllocator) UsedArea() int { return a.usedArea }

// Utilization returns the fraction of the area in use (0.0 to 1.0).
func (a *ShelfAllocator) Utilization() float64 {
	total := a.width * a.height
	if total == 0 {
		return 0
	}
	return float64(a.usedArea) / float64(total)
}

// ShelfCount returns the number of shelves currently in use.
func (a *ShelfAllocator) ShelfCount() int { return len(a.shelves) }
