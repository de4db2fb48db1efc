// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/frame"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/texcache"
)

// mockDevice implements gpucontext.Device for testing.
type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

// mockQueue implements gpucontext.Queue for testing.
type mockQueue struct{}

// mockAdapter implements gpucontext.Adapter for testing.
type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider for testing.
type mockProvider struct {
	format gputypes.TextureFormat
}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return m.format }
func (m *mockProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "mock", Type: gpucontext.AdapterTypeUnknown}
}

// mockTexture records device writes.
type mockTexture struct {
	width, height int
	data          []byte
	updates       int
	destroyed     bool
}

func (m *mockTexture) UpdateData(data []byte) error {
	m.data = slices.Clone(data)
	m.updates++
	return nil
}

func (m *mockTexture) Width() int  { return m.width }
func (m *mockTexture) Height() int { return m.height }
func (m *mockTexture) Destroy()    { m.destroyed = true }

var (
	_ gpucontext.DeviceProvider = (*mockProvider)(nil)
	_ gpucontext.TextureCreator = (*mockCreator)(nil)
	_ gpucontext.Texture        = (*mockTexture)(nil)
	_ gpucontext.TextureUpdater = (*mockTexture)(nil)
)

// mockCreator implements gpucontext.TextureCreator for testing.
type mockCreator struct {
	created []*mockTexture
}

func (m *mockCreator) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	t := &mockTexture{width: width, height: height, data: slices.Clone(data)}
	m.created = append(m.created, t)
	return t, nil
}

type mockConsumer struct{ name string }

func (m *mockConsumer) Execute(*frame.Frame) error { return nil }

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_Priority(t *testing.T) {
	r := NewRegistry()
	factory := func(name string) ConsumerFactory {
		return func(gpucontext.DeviceProvider) (Consumer, error) { return &mockConsumer{name}, nil }
	}
	r.Register("software", PrioritySoftware, factory("software"), nil)
	r.Register("gles", PriorityGLES, factory("gles"), nil)
	r.Register("vulkan", PriorityVulkan, factory("vulkan"), func() bool { return false })
	r.Register("metal", PriorityMetal, factory("metal"), nil)

	if got, want := r.List(), []string{"vulkan", "metal", "gles", "software"}; !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
	if got, want := r.Available(), []string{"metal", "gles", "software"}; !slices.Equal(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}

	c, err := r.New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.(*mockConsumer).name != "metal" {
		t.Errorf("New() = %s, want metal", c.(*mockConsumer).name)
	}

	r.Unregister("metal")
	if e, ok := r.Get("metal"); ok {
		t.Errorf("Get(metal) after Unregister = %+v", e)
	}
	if e, ok := r.Get("gles"); !ok || e.Priority != PriorityGLES {
		t.Errorf("Get(gles) = %+v, %v", e, ok)
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.New(nil); !errors.Is(err, ErrNoConsumer) {
		t.Errorf("New() on empty registry = %v, want ErrNoConsumer", err)
	}

	boom := errors.New("device lost")
	r.Register("dx12", PriorityDX12, func(gpucontext.DeviceProvider) (Consumer, error) { return nil, boom }, nil)
	r.Register("off", PriorityVulkan, nil, func() bool { return false })

	var notFound *ConsumerNotFoundError
	if _, err := r.NewByName("missing", nil); !errors.As(err, &notFound) || notFound.Name != "missing" {
		t.Errorf("NewByName(missing) = %v", err)
	}
	var unavailable *ConsumerUnavailableError
	if _, err := r.NewByName("off", nil); !errors.As(err, &unavailable) {
		t.Errorf("NewByName(off) = %v, want ConsumerUnavailableError", err)
	}
	_, err := r.New(nil)
	if !errors.Is(err, ErrNoConsumer) || !errors.Is(err, boom) {
		t.Errorf("New() with failing factory = %v, want ErrNoConsumer and factory error", err)
	}
}

func TestGlobalRegistry(t *testing.T) {
	Register("test-consumer", PrioritySoftware, func(gpucontext.DeviceProvider) (Consumer, error) {
		return &mockConsumer{"test"}, nil
	}, nil)
	defer Unregister("test-consumer")

	if !slices.Contains(Available(), "test-consumer") {
		t.Errorf("Available() = %v, missing test-consumer", Available())
	}
	if _, err := NewConsumerByName("test-consumer", &mockProvider{}); err != nil {
		t.Errorf("NewConsumerByName() error = %v", err)
	}
	if _, err := NewConsumer(&mockProvider{}); err != nil {
		t.Errorf("NewConsumer() error = %v", err)
	}
}

// =============================================================================
// Capabilities
// =============================================================================

func TestCapabilitiesFrom(t *testing.T) {
	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
		want     texcache.Format
	}{
		{"nil provider", nil, texcache.FormatRGBA8},
		{"bgra surface", &mockProvider{format: gputypes.TextureFormatBGRA8Unorm}, texcache.FormatBGRA8},
		{"rgba surface", &mockProvider{format: gputypes.TextureFormatRGBA8Unorm}, texcache.FormatRGBA8},
		{"undefined surface", &mockProvider{format: gputypes.TextureFormatUndefined}, texcache.FormatRGBA8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := CapabilitiesFrom(tt.provider)
			if caps.TileFormat != tt.want {
				t.Errorf("TileFormat = %v, want %v", caps.TileFormat, tt.want)
			}
			if caps.MaxTextureSize <= 0 {
				t.Errorf("MaxTextureSize = %d, want positive", caps.MaxTextureSize)
			}
		})
	}
}

// =============================================================================
// FrameQueue
// =============================================================================

func TestFrameQueue_LatestWins(t *testing.T) {
	q := NewFrameQueue()
	f1 := &frame.Frame{Document: 1, Epoch: 1}
	f2 := &frame.Frame{Document: 1, Epoch: 2}
	f3 := &frame.Frame{Document: 1, Epoch: 3}
	other := &frame.Frame{Document: 2, Epoch: 1}

	q.PushFrame(f1)
	q.PushFrame(other)
	q.PushFrame(f2)
	q.PushFrame(f3)
	q.PushFrame(nil)

	select {
	case <-q.Ready():
	default:
		t.Error("Ready() not signaled after push")
	}
	if got := q.Pending(); !slices.Equal(got, []frame.DocumentID{1, 2}) {
		t.Errorf("Pending() = %v, want [1 2]", got)
	}

	got, ok := q.Acquire(1)
	if !ok || got.Epoch != 3 {
		t.Fatalf("Acquire(1) = %v, %v, want epoch 3", got, ok)
	}
	var carried []frame.Epoch
	for _, c := range got.Carried {
		carried = append(carried, c.Epoch)
	}
	if !slices.Equal(carried, []frame.Epoch{1, 2}) {
		t.Errorf("Carried epochs = %v, want [1 2]", carried)
	}
	if f3.Carried != nil {
		t.Error("pushed frame was modified")
	}
	if n := q.Superseded(1); n != 2 {
		t.Errorf("Superseded(1) = %d, want 2", n)
	}
	if _, ok := q.Acquire(1); ok {
		t.Error("second Acquire(1) returned a frame")
	}
	if r, ok := q.Replay(1); !ok || r != got {
		t.Errorf("Replay(1) = %v, %v, want last acquired frame", r, ok)
	}

	q.Remove(2)
	if got := q.Pending(); len(got) != 0 {
		t.Errorf("Pending() after Remove = %v", got)
	}
	if _, ok := q.Replay(7); ok {
		t.Error("Replay of unknown document returned a frame")
	}
}

// =============================================================================
// Applier
// =============================================================================

type recordingExecutor struct {
	passes     []frame.Epoch
	composites int
}

func (e *recordingExecutor) RunPass(p *frame.Pass, _ *Resources) error {
	e.passes = append(e.passes, frame.Epoch(p.Slice))
	return nil
}

func (e *recordingExecutor) Composite(*frame.Composite, *Resources) error {
	e.composites++
	return nil
}

func smallCache() *texcache.Cache {
	return texcache.New(texcache.Config{AtlasSize: 64, ClassLimits: [3]int{8, 16, 32}, MaxTextureSize: 64})
}

func TestApplier_TextureUpdates(t *testing.T) {
	tests := []struct {
		name   string
		format texcache.Format
		pixel  []byte
		want   []byte
	}{
		{"rgba", texcache.FormatRGBA8, []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{"bgra", texcache.FormatBGRA8, []byte{1, 2, 3, 4}, []byte{3, 2, 1, 4}},
		{"alpha mask", texcache.FormatR8, []byte{9}, []byte{9, 9, 9, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := smallCache()
			tc.BeginFrame(1)
			h, err := tc.Allocate(1, 1, tt.format)
			if err != nil {
				t.Fatalf("Allocate() error = %v", err)
			}
			if err := tc.Upload(h, tt.pixel, 0, nil); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			entry, _ := tc.Get(h)

			creator := &mockCreator{}
			a := NewApplier(creator, nil, nil)
			if err := a.Apply(&frame.Frame{Epoch: 1, TextureUpdates: tc.EndFrame()}); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if len(creator.created) != 1 {
				t.Fatalf("created %d textures, want 1", len(creator.created))
			}
			tex := creator.created[0]
			if tex.updates != 1 {
				t.Errorf("device writes = %d, want 1", tex.updates)
			}
			off := (int(entry.Rect.MinY)*tex.width + int(entry.Rect.MinX)) * 4
			if got := tex.data[off : off+4]; !slices.Equal(got, tt.want) {
				t.Errorf("pixel = %v, want %v", got, tt.want)
			}
			if handle, ok := a.Resources().Texture(entry.Texture); !ok || handle != gpucontext.Texture(tex) {
				t.Errorf("Resources().Texture() = %v, %v", handle, ok)
			}
		})
	}
}

func TestApplier_FreeAndErrors(t *testing.T) {
	tc := smallCache()
	tc.BeginFrame(1)
	h, _ := tc.Allocate(40, 40, texcache.FormatRGBA8)
	creator := &mockCreator{}
	a := NewApplier(creator, nil, nil)
	if err := a.Apply(&frame.Frame{Epoch: 1, TextureUpdates: tc.EndFrame()}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	tc.BeginFrame(2)
	tc.Free(h)
	if err := a.Apply(&frame.Frame{Epoch: 2, TextureUpdates: tc.EndFrame()}); err != nil {
		t.Fatalf("Apply(free) error = %v", err)
	}
	if !creator.created[0].destroyed {
		t.Error("freed texture not destroyed")
	}

	if err := a.Apply(&frame.Frame{Epoch: 2}); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("Apply(old epoch) = %v, want ErrOutOfOrder", err)
	}
	bad := []texcache.Update{{Kind: texcache.UpdateUpload, Texture: 99, Rect: geom.IntRectXYWH(0, 0, 1, 1)}}
	if err := a.Apply(&frame.Frame{Epoch: 3, TextureUpdates: bad}); !errors.Is(err, ErrUnknownTexture) {
		t.Errorf("Apply(unknown texture) = %v, want ErrUnknownTexture", err)
	}
}

func TestApplier_ExecuteChain(t *testing.T) {
	exec := &recordingExecutor{}
	var acked []frame.Epoch
	a := NewApplier(&mockCreator{}, exec, func(doc frame.DocumentID, epoch frame.Epoch) {
		acked = append(acked, epoch)
	})

	q := NewFrameQueue()
	q.PushFrame(&frame.Frame{
		Document: 1, Epoch: 1,
		Passes: []frame.Pass{{Slice: 1}},
		GPUCacheUpdates: gpucache.UpdateList{Updates: []gpucache.Update{
			{Address: 0, Blocks: []gpucache.Block{{1, 2, 3, 4}}},
		}},
	})
	q.PushFrame(&frame.Frame{
		Document: 1, Epoch: 2,
		Passes: []frame.Pass{{Slice: 2}},
		GPUCacheUpdates: gpucache.UpdateList{Updates: []gpucache.Update{
			{Address: 2, Blocks: []gpucache.Block{{5, 6, 7, 8}}},
		}},
	})
	f, _ := q.Acquire(1)
	if err := a.Execute(f); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !slices.Equal(exec.passes, []frame.Epoch{1, 2}) {
		t.Errorf("passes run = %v, want both frames in order", exec.passes)
	}
	if exec.composites != 1 {
		t.Errorf("composites = %d, want 1", exec.composites)
	}
	if !slices.Equal(acked, []frame.Epoch{2}) {
		t.Errorf("acked = %v, want [2]", acked)
	}
	mirror := a.Resources().GPUCache
	if len(mirror) != 3 || mirror[0] != (gpucache.Block{1, 2, 3, 4}) || mirror[2] != (gpucache.Block{5, 6, 7, 8}) {
		t.Errorf("GPU cache mirror = %v", mirror)
	}
}

func TestResources_GPUCacheTexture(t *testing.T) {
	a := NewApplier(&mockCreator{}, nil, nil)
	f := &frame.Frame{Epoch: 1, GPUCacheUpdates: gpucache.UpdateList{Updates: []gpucache.Update{
		{Address: gpucache.RowBlocks + 1, Blocks: []gpucache.Block{{1, 2, 3, 4}}},
	}}}
	if err := a.Apply(f); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	texels, w, h := a.Resources().GPUCacheTexture()
	if w != gpucache.RowBlocks || h != 2 {
		t.Fatalf("GPUCacheTexture() size = %dx%d, want %dx2", w, h, gpucache.RowBlocks)
	}
	if len(texels) != w*h*gpucache.BlockSize {
		t.Errorf("len(texels) = %d, want %d", len(texels), w*h*gpucache.BlockSize)
	}
	// Texel (1, 1) holds the block.
	off := (gpucache.RowBlocks + 1) * gpucache.BlockSize
	if got := math.Float32frombits(binary.LittleEndian.Uint32(texels[off+8:])); got != 3 {
		t.Errorf("texel (1,1).b = %v, want 3", got)
	}
}
