// Package batch groups primitive instances into GPU draw batches.
//
// Instances are added in painter order, back to front. Opaque instances are
// merged by key regardless of order and drawn front to back with depth
// testing. Blended instances keep their painter order: an instance joins the
// most recent batch with the same key found within the lookback window, and
// the search stops at the first batch with a different key whose bounds
// overlap the instance.
package batch

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"honnef.co/go/safeish"

	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/shader"
	"github.com/gogpu/wrender/texcache"
)

// DefaultLookback is the default number of alpha batches searched for a merge.
const DefaultLookback = 10

// BlendMode selects the fixed-function blend state of a batch.
type BlendMode uint8

// Blend modes. Colors are premultiplied throughout.
const (
	// BlendNone writes the source unchanged; used by the opaque pass.
	BlendNone BlendMode = iota
	BlendAlpha
	BlendMultiply
	BlendScreen
	BlendDarken
	BlendLighten
	BlendPlus
)

var blendNames = [...]string{"none", "alpha", "multiply", "screen", "darken", "lighten", "plus"}

// String returns the mode name.
func (m BlendMode) String() string {
	if int(m) < len(blendNames) {
		return blendNames[m]
	}
	return fmt.Sprintf("BlendMode(%d)", uint8(m))
}

// BlendModeFor maps a stacking context mix-blend mode.
func BlendModeFor(m display.MixBlendMode) BlendMode {
	switch m {
	case display.MixMultiply:
		return BlendMultiply
	case display.MixScreen:
		return BlendScreen
	case display.MixDarken:
		return BlendDarken
	case display.MixLighten:
		return BlendLighten
	case display.MixPlus:
		return BlendPlus
	default:
		return BlendAlpha
	}
}

func component(src, dst gputypes.BlendFactor, op gputypes.BlendOperation) gputypes.BlendComponent {
	return gputypes.BlendComponent{SrcFactor: src, DstFactor: dst, Operation: op}
}

// State returns the GPU blend state of the mode.
func (m BlendMode) State() gputypes.BlendState {
	const (
		one         = gputypes.BlendFactorOne
		dst         = gputypes.BlendFactorDst
		oneMinusSrc = gputypes.BlendFactorOneMinusSrc
		oneMinusSA  = gputypes.BlendFactorOneMinusSrcAlpha
		add         = gputypes.BlendOperationAdd
	)
	over := component(one, oneMinusSA, add)
	switch m {
	case BlendNone:
		return gputypes.BlendStateReplace()
	case BlendMultiply:
		return gputypes.BlendState{Color: component(dst, oneMinusSA, add), Alpha: over}
	case BlendScreen:
		return gputypes.BlendState{Color: component(one, oneMinusSrc, add), Alpha: over}
	case BlendDarken:
		return gputypes.BlendState{Color: component(one, one, gputypes.BlendOperationMin), Alpha: over}
	case BlendLighten:
		return gputypes.BlendState{Color: component(one, one, gputypes.BlendOperationMax), Alpha: over}
	case BlendPlus:
		return gputypes.BlendState{Color: component(one, one, add), Alpha: component(one, one, add)}
	default:
		return gputypes.BlendStatePremultiplied()
	}
}

// ClipMode selects how the fragment shader evaluates the instance clip.
type ClipMode uint8

// Clip modes.
const (
	ClipNone ClipMode = iota
	ClipRect
	ClipRounded
)

// NoTexture marks an unused texture slot.
const NoTexture texcache.TextureID = 0

// Key identifies instances that can be drawn in one call.
type Key struct {
	Kind     shader.Kind
	Blend    BlendMode
	Textures [3]texcache.TextureID
	Clip     ClipMode
}

// String returns a compact description for debugging.
func (k Key) String() string {
	return fmt.Sprintf("%v/%v/%v/clip%d", k.Kind, k.Blend, k.Textures, k.Clip)
}

// Instance is the per-instance vertex data shared by every shader kind.
// Its layout matches InstanceInput in the shader sources. Coordinates are
// in pixels of the pass target, relative to the target rect's origin.
type Instance struct {
	// Rect is the quad in local space: min x, min y, max x, max y.
	Rect [4]float32
	// Transform maps local space to the target as two rows (A, B, C, 0)
	// and (D, E, F, 0).
	Transform [8]float32
	// ClipRect is the clip in target space.
	ClipRect [4]float32
	// UV is the normalized texture rect.
	UV [4]float32
	// Color is a premultiplied color or tint. Kinds that use the GPU cache
	// read it from the primitive's blocks instead.
	Color [4]float32
	// Params holds depth, clip radius, a kind-specific selector and a
	// kind-specific flag.
	Params [4]float32
	// Data holds the GPU cache address of the primitive's first block.
	Data [4]uint32
}

// InstanceSize is the size of one Instance in bytes: eight 16-byte
// attributes.
const InstanceSize = 128

// NewInstance returns an instance drawing local through t, unclipped.
func NewInstance(local geom.Rect, t geom.Transform) Instance {
	inst := Instance{
		Rect:     [4]float32{local.MinX, local.MinY, local.MaxX, local.MaxY},
		ClipRect: [4]float32{-unbounded, -unbounded, unbounded, unbounded},
		UV:       [4]float32{0, 0, 1, 1},
	}
	inst.SetTransform(t)
	return inst
}

const unbounded = 1 << 24

// SetTransform stores t.
func (i *Instance) SetTransform(t geom.Transform) {
	i.Transform = [8]float32{t.A, t.B, t.C, 0, t.D, t.E, t.F, 0}
}

// LocalTransform returns the stored transform.
func (i *Instance) LocalTransform() geom.Transform {
	x := &i.Transform
	return geom.Transform{A: x[0], B: x[1], C: x[2], D: x[4], E: x[5], F: x[6]}
}

// Bounds returns the instance's target-space bounding box, clipped.
func (i *Instance) Bounds() geom.Rect {
	local := geom.Rect{MinX: i.Rect[0], MinY: i.Rect[1], MaxX: i.Rect[2], MaxY: i.Rect[3]}
	clip := geom.Rect{MinX: i.ClipRect[0], MinY: i.ClipRect[1], MaxX: i.ClipRect[2], MaxY: i.ClipRect[3]}
	return i.LocalTransform().TransformRect(local).Intersection(clip)
}

// SetClip stores a target-space clip rect with rounded corners.
func (i *Instance) SetClip(r geom.Rect, radius float32) {
	i.ClipRect = [4]float32{r.MinX, r.MinY, r.MaxX, r.MaxY}
	i.Params[1] = radius
}

// SetColor stores a straight-alpha color premultiplied.
func (i *Instance) SetColor(c display.ColorU) {
	p := c.Premultiplied()
	i.Color = [4]float32{float32(p.R), float32(p.G), float32(p.B), float32(p.A)}
}

// ColorU returns the stored color converted back to straight 8-bit alpha.
func (i *Instance) ColorU() display.ColorU {
	a := i.Color[3]
	if a <= 0 {
		return display.ColorU{}
	}
	to8 := func(v float32) uint8 { return uint8(geom.Clamp(v*255+0.5, 0, 255)) }
	return display.ColorU{R: to8(i.Color[0] / a), G: to8(i.Color[1] / a), B: to8(i.Color[2] / a), A: to8(a)}
}

// InstanceBytes views instances as bytes for a vertex buffer upload without
// copying.
func InstanceBytes(instances []Instance) []byte {
	return safeish.SliceCast[[]byte](instances)
}

// Depth returns the instance's depth value.
func (i *Instance) Depth() float32 { return i.Params[0] }

// Batch is a run of instances sharing a key.
type Batch struct {
	Key       Key
	Instances []Instance
	// Bounds is the union of the instances' target bounds.
	Bounds geom.Rect
	// Opaque batches are drawn with depth writes and no blending.
	Opaque bool

	zids []uint32
}

// List is the batcher output.
type List struct {
	// Opaque batches in draw order, front to back.
	Opaque []*Batch
	// Alpha batches in draw order, back to front.
	Alpha []*Batch
}

// Batches returns all batches in submission order: opaque, then alpha.
func (l List) Batches() []*Batch {
	out := make([]*Batch, 0, len(l.Opaque)+len(l.Alpha))
	out = append(out, l.Opaque...)
	return append(out, l.Alpha...)
}

// Len returns the number of batches.
func (l List) Len() int { return len(l.Opaque) + len(l.Alpha) }

// IsEmpty reports whether the list has no batches.
func (l List) IsEmpty() bool { return l.Len() == 0 }

// InstanceCount returns the total number of instances.
func (l List) InstanceCount() int {
	n := 0
	for _, b := range l.Opaque {
		n += len(b.Instances)
	}
	for _, b := range l.Alpha {
		n += len(b.Instances)
	}
	return n
}

// Builder accumulates instances for one render target. The zero value is
// not usable; call NewBuilder.
type Builder struct {
	lookback int

	opaque    []*Batch
	opaqueIdx map[Key]int
	alpha     []*Batch
	nextZ     uint32
}

// NewBuilder creates a builder searching back at most lookback alpha
// batches. Non-positive values use DefaultLookback.
func NewBuilder(lookback int) *Builder {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Builder{lookback: lookback, opaqueIdx: make(map[Key]int)}
}

// Reset drops all instances, keeping the lookback.
func (b *Builder) Reset() {
	b.opaque = b.opaque[:0]
	b.alpha = b.alpha[:0]
	clear(b.opaqueIdx)
	b.nextZ = 0
}

// Add appends an instance in painter order. Opaque instances must fully
// cover their bounds with opaque pixels.
func (b *Builder) Add(key Key, inst Instance, opaque bool) {
	z := b.nextZ
	b.nextZ++
	bounds := inst.Bounds()

	if opaque {
		key.Blend = BlendNone
		i, ok := b.opaqueIdx[key]
		if !ok {
			i = len(b.opaque)
			b.opaque = append(b.opaque, &Batch{Key: key, Opaque: true})
			b.opaqueIdx[key] = i
		}
		b.opaque[i].push(inst, z, bounds)
		return
	}

	for i, n := len(b.alpha)-1, 0; i >= 0 && n < b.lookback; i, n = i-1, n+1 {
		cand := b.alpha[i]
		if cand.Key == key {
			cand.push(inst, z, bounds)
			return
		}
		if cand.Bounds.Intersects(bounds) {
			break
		}
	}
	nb := &Batch{Key: key}
	nb.push(inst, z, bounds)
	b.alpha = append(b.alpha, nb)
}

func (bt *Batch) push(inst Instance, z uint32, bounds geom.Rect) {
	bt.Instances = append(bt.Instances, inst)
	bt.zids = append(bt.zids, z)
	bt.Bounds = bt.Bounds.Union(bounds)
}

// Finish assigns depths and returns the batches. Later instances get
// smaller depths so that a less-equal depth test lets them win. Opaque
// batches and their instances are reversed to draw front to back.
func (b *Builder) Finish() List {
	total := float32(b.nextZ + 1)
	depth := func(z uint32) float32 { return 1 - float32(z+1)/total }

	opaque := make([]*Batch, 0, len(b.opaque))
	for _, bt := range b.opaque {
		n := len(bt.Instances)
		for j := range n / 2 {
			bt.Instances[j], bt.Instances[n-1-j] = bt.Instances[n-1-j], bt.Instances[j]
			bt.zids[j], bt.zids[n-1-j] = bt.zids[n-1-j], bt.zids[j]
		}
		for j := range bt.Instances {
			bt.Instances[j].Params[0] = depth(bt.zids[j])
		}
		opaque = append(opaque, bt)
	}
	// Front to back across batches, by each batch's front-most instance.
	slices.SortStableFunc(opaque, func(x, y *Batch) int {
		return cmp.Compare(y.zids[0], x.zids[0])
	})

	alpha := make([]*Batch, len(b.alpha))
	copy(alpha, b.alpha)
	for _, bt := range alpha {
		for j := range bt.Instances {
			bt.Instances[j].Params[0] = depth(bt.zids[j])
		}
	}
	return List{Opaque: opaque, Alpha: alpha}
}
