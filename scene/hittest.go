package scene

import (
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/spatial"
)

// HitTester answers hit tests against a snapshot of a scene. It is
// immutable and safe for concurrent use.
type HitTester struct {
	tree  *spatial.Tree
	clips *spatial.ClipStore
	items []HitItem
	epoch uint64
}

// NewHitTester snapshots the scene's current spatial state. The clip store
// and items are shared with the scene, which never modifies them after Build.
func NewHitTester(s *Scene) *HitTester {
	if s == nil {
		return &HitTester{}
	}
	return &HitTester{
		tree:  s.Tree.Clone(),
		clips: s.Clips,
		items: s.HitItems,
		epoch: s.Epoch,
	}
}

// Epoch returns the display list epoch the snapshot was taken from.
func (h *HitTester) Epoch() uint64 { return h.epoch }

// HitTest returns the tags of all items under the world point p, front to
// back.
func (h *HitTester) HitTest(p geom.Point) []display.ItemTag {
	if h == nil || h.tree == nil {
		return nil
	}
	var tags []display.ItemTag
	for i := len(h.items) - 1; i >= 0; i-- {
		it := &h.items[i]
		if !h.tree.IsVisible(it.Spatial) {
			continue
		}
		inv, ok := h.tree.World(it.Spatial).Inverse()
		if !ok || !it.Rect.Contains(inv.TransformPoint(p)) {
			continue
		}
		if !h.clips.Contains(it.Clip, h.tree, p) {
			continue
		}
		tags = append(tags, it.Tag)
	}
	return tags
}
