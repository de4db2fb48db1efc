package spatial

import (
	"fmt"

	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
)

// ClipChainID is an index into a ClipStore.
type ClipChainID uint32

// ClipChainNone is the sentinel terminating every chain. It clips nothing.
const ClipChainNone ClipChainID = 0

// ClipChainNode is one clip of a chain. Nodes are immutable once pushed;
// chains share their tails.
type ClipChainNode struct {
	Parent  ClipChainID
	Spatial NodeIndex
	Clip    display.Clip
}

// ClipStore is an append-only arena of clip chain nodes.
type ClipStore struct {
	nodes       []ClipChainNode
	diagnostics []error
}

// NewClipStore creates a store holding only the sentinel.
func NewClipStore() *ClipStore {
	return &ClipStore{nodes: make([]ClipChainNode, 1, 16)}
}

// Len returns the number of nodes, including the sentinel.
func (s *ClipStore) Len() int { return len(s.nodes) }

// Node returns node id. id must be in range.
func (s *ClipStore) Node(id ClipChainID) ClipChainNode { return s.nodes[id] }

// Diagnostics returns the malformed references clamped so far.
func (s *ClipStore) Diagnostics() []error { return s.diagnostics }

// Valid reports whether id names a node.
func (s *ClipStore) Valid(id ClipChainID) bool { return int(id) < len(s.nodes) }

// Push appends a clip on top of parent and returns the new chain.
func (s *ClipStore) Push(parent ClipChainID, spatial NodeIndex, clip display.Clip) ClipChainID {
	if !s.Valid(parent) {
		s.diagnostics = append(s.diagnostics, fmt.Errorf("%w: clip chain %d of %d", ErrMalformedTree, parent, len(s.nodes)))
		parent = ClipChainNone
	}
	s.nodes = append(s.nodes, ClipChainNode{Parent: parent, Spatial: spatial, Clip: clip})
	return ClipChainID(len(s.nodes) - 1)
}

// Walk calls fn for each node of chain id, innermost first, until fn
// returns false.
func (s *ClipStore) Walk(id ClipChainID, fn func(ClipChainNode) bool) {
	if !s.Valid(id) {
		return
	}
	for id != ClipChainNone {
		n := s.nodes[id]
		if !fn(n) {
			return
		}
		id = n.Parent
	}
}

// Depth returns the number of clips in chain id.
func (s *ClipStore) Depth(id ClipChainID) int {
	d := 0
	s.Walk(id, func(ClipChainNode) bool { d++; return true })
	return d
}

// WorldBounds returns the intersection of the world-space bounding boxes of
// the chain's inclusive clips. It reports false when the chain does not
// bound content.
func (s *ClipStore) WorldBounds(id ClipChainID, tree *Tree) (geom.Rect, bool) {
	var (
		bounds  geom.Rect
		bounded bool
	)
	s.Walk(id, func(n ClipChainNode) bool {
		if n.Clip.Mode != display.ClipIn {
			return true
		}
		r := tree.World(n.Spatial).TransformRect(n.Clip.Rect)
		if !bounded {
			bounds, bounded = r, true
		} else {
			bounds = bounds.Intersection(r)
		}
		return true
	})
	return bounds, bounded
}

// Contains reports whether the world point p passes every clip of chain id.
func (s *ClipStore) Contains(id ClipChainID, tree *Tree, p geom.Point) bool {
	inside := true
	s.Walk(id, func(n ClipChainNode) bool {
		inv, ok := tree.World(n.Spatial).Inverse()
		if !ok || !tree.IsVisible(n.Spatial) {
			inside = false
			return false
		}
		hit := ClipContains(n.Clip, inv.TransformPoint(p))
		if n.Clip.Mode == display.ClipOut {
			hit = !hit
		}
		inside = hit
		return hit
	})
	return inside
}

// ClipContains reports whether the local point p is inside the clip shape,
// ignoring its mode.
func ClipContains(c display.Clip, p geom.Point) bool {
	r := c.Rect
	if !r.Contains(p) {
		return false
	}
	rad := min(c.Radius, r.Width()/2, r.Height()/2)
	if rad <= 0 {
		return true
	}
	// Find the corner circle center nearest to p, if p is in a corner square.
	var cx, cy float32
	switch {
	case p.X < r.MinX+rad:
		cx = r.MinX + rad
	case p.X > r.MaxX-rad:
		cx = r.MaxX - rad
	default:
		return true
	}
	switch {
	case p.Y < r.MinY+rad:
		cy = r.MinY + rad
	case p.Y > r.MaxY-rad:
		cy = r.MaxY - rad
	default:
		return true
	}
	dx, dy := p.X-cx, p.Y-cy
	return dx*dx+dy*dy <= rad*rad
}
