// Package spatial resolves the coordinate systems and clips of a document.
//
// Spatial nodes and clip chain nodes live in flat arenas and refer to their
// parents by index. A parent always has a smaller index than its children,
// so a single forward pass computes every world transform and cycles cannot
// be expressed.
package spatial

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
)

// ErrMalformedTree is reported when a display list refers to a spatial node
// or clip chain that does not exist. The reference is clamped to the root.
var ErrMalformedTree = errors.New("spatial: malformed tree")

// NodeIndex is an index into a Tree's node arena.
type NodeIndex uint32

// Root is the index of the root reference frame.
const Root NodeIndex = 0

// Kind is the type of a spatial node.
type Kind uint8

// Spatial node kinds.
const (
	KindReferenceFrame Kind = iota
	KindScrollFrame
	KindStickyFrame
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindReferenceFrame:
		return "ReferenceFrame"
	case KindScrollFrame:
		return "ScrollFrame"
	case KindStickyFrame:
		return "StickyFrame"
	default:
		return "Unknown"
	}
}

// Node is one spatial node. Nodes are plain data; the tree owns them.
type Node struct {
	Parent NodeIndex
	Kind   Kind

	// Static is the reference frame's transform when Binding has no value.
	Static  geom.Transform
	Origin  geom.Vector
	Binding display.PropertyKey

	// ScrollID, Viewport and Content describe a scroll frame, in the
	// parent's space.
	ScrollID display.ScrollID
	Viewport geom.Rect
	Content  geom.Rect
	// ScrollOffset is how far the content is scrolled; positive values move
	// the content up and left.
	ScrollOffset geom.Vector

	// Sticky describes a sticky frame; StickyOffset is its offset this frame.
	Sticky       display.StickyFrame
	StickyOffset geom.Vector

	// Local and World are recomputed by Tree.Update.
	Local geom.Transform
	World geom.Transform
	// Invisible marks nodes with a singular transform on their path to the
	// root. Content in them is not rendered.
	Invisible bool
}

// Tree is an arena of spatial nodes rooted at an identity reference frame.
//
// Tree is not safe for concurrent use.
type Tree struct {
	nodes       []Node
	scrolls     map[display.ScrollID]NodeIndex
	diagnostics []error
}

// NewTree creates a tree containing only the root.
func NewTree() *Tree {
	t := &Tree{scrolls: make(map[display.ScrollID]NodeIndex)}
	t.nodes = append(t.nodes, Node{
		Kind:   KindReferenceFrame,
		Static: geom.Identity(),
		Local:  geom.Identity(),
		World:  geom.Identity(),
	})
	return t
}

// Len returns the number of nodes, including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns node i. i must be in range.
func (t *Tree) Node(i NodeIndex) *Node { return &t.nodes[i] }

// Nodes returns the node arena. The slice must not be modified.
func (t *Tree) Nodes() []Node { return t.nodes }

// Diagnostics returns the malformed references clamped so far.
func (t *Tree) Diagnostics() []error { return t.diagnostics }

// Valid reports whether i names a node.
func (t *Tree) Valid(i NodeIndex) bool { return int(i) < len(t.nodes) }

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:       slices.Clone(t.nodes),
		scrolls:     maps.Clone(t.scrolls),
		diagnostics: slices.Clone(t.diagnostics),
	}
	return c
}

func (t *Tree) parent(p NodeIndex) NodeIndex {
	if !t.Valid(p) {
		t.diagnostics = append(t.diagnostics, fmt.Errorf("%w: parent node %d of %d", ErrMalformedTree, p, len(t.nodes)))
		return Root
	}
	return p
}

// AddReferenceFrame appends a reference frame under parent.
func (t *Tree) AddReferenceFrame(parent NodeIndex, rf display.ReferenceFrame) NodeIndex {
	static := rf.Transform
	if static == (geom.Transform{}) {
		static = geom.Identity()
	}
	t.nodes = append(t.nodes, Node{
		Parent:  t.parent(parent),
		Kind:    KindReferenceFrame,
		Static:  static,
		Origin:  rf.Origin,
		Binding: rf.Binding,
	})
	return NodeIndex(len(t.nodes) - 1)
}

// AddScrollFrame appends a scroll frame under parent. A repeated scroll id
// makes the latest frame the target of scroll requests.
func (t *Tree) AddScrollFrame(parent NodeIndex, sf display.ScrollFrame) NodeIndex {
	t.nodes = append(t.nodes, Node{
		Parent:   t.parent(parent),
		Kind:     KindScrollFrame,
		ScrollID: sf.ID,
		Viewport: sf.Frame,
		Content:  sf.Content,
	})
	i := NodeIndex(len(t.nodes) - 1)
	t.scrolls[sf.ID] = i
	return i
}

// AddStickyFrame appends a sticky frame under parent.
func (t *Tree) AddStickyFrame(parent NodeIndex, sf display.StickyFrame) NodeIndex {
	t.nodes = append(t.nodes, Node{
		Parent: t.parent(parent),
		Kind:   KindStickyFrame,
		Sticky: sf,
	})
	return NodeIndex(len(t.nodes) - 1)
}

// ScrollNode returns the scroll frame with the given id.
func (t *Tree) ScrollNode(id display.ScrollID) (NodeIndex, bool) {
	i, ok := t.scrolls[id]
	return i, ok
}

// ScrollRange returns the largest scroll offset of a scroll frame.
func (n *Node) ScrollRange() geom.Vector {
	return geom.Vector{
		X: max(0, n.Content.Width()-n.Viewport.Width()),
		Y: max(0, n.Content.Height()-n.Viewport.Height()),
	}
}

func (n *Node) clampScroll(v geom.Vector) geom.Vector {
	r := n.ScrollRange()
	return geom.Vector{X: geom.Clamp(v.X, 0, r.X), Y: geom.Clamp(v.Y, 0, r.Y)}
}

// ScrollBy adds delta to a scroll frame's offset, clamped to its scrollable
// range. It reports whether the offset changed.
func (t *Tree) ScrollBy(id display.ScrollID, delta geom.Vector) bool {
	i, ok := t.scrolls[id]
	if !ok {
		return false
	}
	n := &t.nodes[i]
	return t.setScroll(n, n.ScrollOffset.Add(delta))
}

// ScrollTo sets a scroll frame's offset, clamped to its scrollable range.
// It reports whether the offset changed.
func (t *Tree) ScrollTo(id display.ScrollID, offset geom.Vector) bool {
	i, ok := t.scrolls[id]
	if !ok {
		return false
	}
	return t.setScroll(&t.nodes[i], offset)
}

func (t *Tree) setScroll(n *Node, v geom.Vector) bool {
	v = n.clampScroll(v)
	if v == n.ScrollOffset {
		return false
	}
	n.ScrollOffset = v
	return true
}

// ScrollOffsets returns the offset of every scroll frame by id.
func (t *Tree) ScrollOffsets() map[display.ScrollID]geom.Vector {
	m := make(map[display.ScrollID]geom.Vector, len(t.scrolls))
	for id, i := range t.scrolls {
		m[id] = t.nodes[i].ScrollOffset
	}
	return m
}

// RestoreScrollOffsets applies offsets saved from a previous tree. Offsets
// are clamped to the new scrollable ranges.
func (t *Tree) RestoreScrollOffsets(m map[display.ScrollID]geom.Vector) {
	for id, v := range m {
		if i, ok := t.scrolls[id]; ok {
			n := &t.nodes[i]
			n.ScrollOffset = n.clampScroll(v)
		}
	}
}

// Update recomputes local and world transforms of every node in one
// top-down pass. props supplies bound transforms and may be nil.
func (t *Tree) Update(props *display.PropertyStore) {
	for i := range t.nodes {
		n := &t.nodes[i]
		if i == int(Root) {
			n.Local, n.World, n.Invisible = geom.Identity(), geom.Identity(), false
			continue
		}
		parent := &t.nodes[n.Parent]

		switch n.Kind {
		case KindReferenceFrame:
			tr := n.Static
			if props != nil {
				tr = props.Transform(n.Binding, tr)
			}
			n.Local = geom.Translation(n.Origin.X, n.Origin.Y).Multiply(tr)
		case KindScrollFrame:
			n.Local = geom.Translation(-n.ScrollOffset.X, -n.ScrollOffset.Y)
		case KindStickyFrame:
			n.StickyOffset = t.stickyOffset(n)
			n.Local = geom.Translation(n.StickyOffset.X, n.StickyOffset.Y)
		}

		n.Invisible = parent.Invisible || !n.Local.IsInvertible()
		if n.Invisible {
			n.World = geom.Identity()
			continue
		}
		n.World = parent.World.Multiply(n.Local)
	}
}

// stickyOffset computes how far a sticky frame moves to stay inside the
// visible area of its nearest enclosing scroll frame.
func (t *Tree) stickyOffset(n *Node) geom.Vector {
	var scroll *Node
	for p := n.Parent; ; p = t.nodes[p].Parent {
		if t.nodes[p].Kind == KindScrollFrame {
			scroll = &t.nodes[p]
			break
		}
		if p == Root {
			return geom.Vector{}
		}
	}

	// The visible part of the content, in the scroll frame's content space.
	visible := scroll.Viewport.Translate(scroll.ScrollOffset)
	f := n.Sticky.Frame
	var off geom.Vector

	switch {
	case n.Sticky.Sides&display.StickyTop != 0 && f.MinY < visible.MinY+n.Sticky.Top:
		off.Y = visible.MinY + n.Sticky.Top - f.MinY
	case n.Sticky.Sides&display.StickyBottom != 0 && f.MaxY > visible.MaxY-n.Sticky.Bottom:
		off.Y = visible.MaxY - n.Sticky.Bottom - f.MaxY
	}
	switch {
	case n.Sticky.Sides&display.StickyLeft != 0 && f.MinX < visible.MinX+n.Sticky.Left:
		off.X = visible.MinX + n.Sticky.Left - f.MinX
	case n.Sticky.Sides&display.StickyRight != 0 && f.MaxX > visible.MaxX-n.Sticky.Right:
		off.X = visible.MaxX - n.Sticky.Right - f.MaxX
	}

	// A sticky frame never leaves the scrollable content.
	if scroll.Content.Height() > 0 {
		off.Y = geom.Clamp(off.Y, scroll.Content.MinY-f.MinY, scroll.Content.MaxY-f.MaxY)
	}
	if scroll.Content.Width() > 0 {
		off.X = geom.Clamp(off.X, scroll.Content.MinX-f.MinX, scroll.Content.MaxX-f.MaxX)
	}
	return off
}

// World returns the world transform of node i, or identity when i is
// out of range.
func (t *Tree) World(i NodeIndex) geom.Transform {
	if !t.Valid(i) {
		return geom.Identity()
	}
	return t.nodes[i].World
}

// IsVisible reports whether content in node i can be rendered.
func (t *Tree) IsVisible(i NodeIndex) bool {
	return t.Valid(i) && !t.nodes[i].Invisible
}

// IsAncestor reports whether a is b or an ancestor of b.
func (t *Tree) IsAncestor(a, b NodeIndex) bool {
	if !t.Valid(a) || !t.Valid(b) {
		return false
	}
	for b > a {
		b = t.nodes[b].Parent
	}
	return a == b
}

// CommonAncestor returns the deepest node that is an ancestor of both a and b.
func (t *Tree) CommonAncestor(a, b NodeIndex) NodeIndex {
	if !t.Valid(a) || !t.Valid(b) {
		return Root
	}
	for a != b {
		if a > b {
			a = t.nodes[a].Parent
		} else {
			b = t.nodes[b].Parent
		}
	}
	return a
}

// RelativeTransform returns the transform from node's space to ancestor's
// space, built from the local transforms in between. It reports false when
// ancestor is not an ancestor of node.
func (t *Tree) RelativeTransform(node, ancestor NodeIndex) (geom.Transform, bool) {
	if !t.IsAncestor(ancestor, node) {
		return geom.Identity(), false
	}
	m := geom.Identity()
	for node != ancestor {
		n := &t.nodes[node]
		m = n.Local.Multiply(m)
		node = n.Parent
	}
	return m, true
}

// TranslationAncestor returns the nearest ancestor of i, starting at i,
// whose world transform is a pure translation.
func (t *Tree) TranslationAncestor(i NodeIndex) NodeIndex {
	if !t.Valid(i) {
		return Root
	}
	for i != Root {
		n := &t.nodes[i]
		if !n.Invisible && n.World.Class() <= geom.ClassTranslation {
			return i
		}
		i = n.Parent
	}
	return Root
}
