package backend

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/spatial"
)

var red = display.RGBA(255, 0, 0, 255)

var view = SetDocumentView{View: picture.View{Width: 800, Height: 600, DevicePixelRatio: 1}}

func newDocument(t *testing.T, opts Options) *Document {
	t.Helper()
	d := NewDocument(1, opts)
	t.Cleanup(d.Close)
	return d
}

func do(t *testing.T, d *Document, msgs ...Message) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := d.Do(ctx, msgs...)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	return r
}

func rectList(tag display.ItemTag) *display.List {
	return display.NewBuilder(display.ColorU{}).
		Rect(geom.RectXYWH(0, 0, 100, 100), red, tag).
		Finish()
}

// =============================================================================
// Frame generation
// =============================================================================

func TestDocument_RedRect(t *testing.T) {
	d := newDocument(t, Options{})
	r := do(t, d, view, SetDisplayList{Epoch: 1, List: rectList(0)}, GenerateFrame{}, GenerateFrame{})

	if len(r.Frames) != 2 {
		t.Fatalf("len(Frames) = %d, want 2", len(r.Frames))
	}
	first, second := r.Frames[0], r.Frames[1]
	if first.Epoch != 1 || second.Epoch != 2 {
		t.Errorf("epochs = %d, %d, want 1, 2", first.Epoch, second.Epoch)
	}
	if first.Document != 1 || first.DisplayListEpoch != 1 {
		t.Errorf("first frame = doc %d list %d, want 1, 1", first.Document, first.DisplayListEpoch)
	}
	if len(first.Passes) != 1 {
		t.Errorf("first frame: len(Passes) = %d, want 1", len(first.Passes))
	}
	if len(second.Passes) != 0 {
		t.Errorf("second frame: len(Passes) = %d, want 0", len(second.Passes))
	}
	if r.Frame() != second {
		t.Error("Reply.Frame() is not the last frame")
	}
}

func TestDocument_Idempotent(t *testing.T) {
	d := newDocument(t, Options{})
	do(t, d, view, SetDisplayList{Epoch: 1, List: rectList(0)}, GenerateFrame{})

	a, err := d.GenerateFrame(context.Background())
	if err != nil {
		t.Fatalf("GenerateFrame() error = %v", err)
	}
	b, err := d.GenerateFrame(context.Background())
	if err != nil {
		t.Fatalf("GenerateFrame() error = %v", err)
	}
	if !reflect.DeepEqual(a.Composite, b.Composite) {
		t.Errorf("composites differ:\n%+v\n%+v", a.Composite, b.Composite)
	}
	if len(a.Passes) != 0 || len(b.Passes) != 0 || len(b.TextureUpdates) != 0 {
		t.Errorf("unchanged frames redraw: %v / %v", a, b)
	}
}

func TestDocument_NoDisplayList(t *testing.T) {
	d := newDocument(t, Options{})
	f := do(t, d, view, GenerateFrame{}).Frame()
	if !f.IsEmpty() {
		t.Errorf("frame without display list = %v, want empty", f)
	}
	if f.Composite.Width != 800 || f.Composite.Height != 600 {
		t.Errorf("composite size = %dx%d, want 800x600", f.Composite.Width, f.Composite.Height)
	}
}

// =============================================================================
// Message protocol
// =============================================================================

func TestDocument_MessageOrdering(t *testing.T) {
	d := newDocument(t, Options{})
	for i := uint64(1); i <= 20; i++ {
		if err := d.Post(SetDisplayList{Epoch: i, List: rectList(0)}); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}
	f := do(t, d, view, GenerateFrame{}).Frame()
	if f.DisplayListEpoch != 20 {
		t.Errorf("DisplayListEpoch = %d, want 20", f.DisplayListEpoch)
	}
}

func TestDocument_BatchContinuesAfterError(t *testing.T) {
	d := newDocument(t, Options{})
	r, err := d.Do(context.Background(),
		UpdateResources{Updates: []resource.Update{resource.DeleteImage{Key: resource.ImageKey{Namespace: 1, ID: 9}}}},
		Scroll{ID: 3, Delta: geom.Vec(0, 10)},
		view,
		SetDisplayList{Epoch: 4, List: rectList(0)},
		GenerateFrame{},
	)
	if !errors.Is(err, resource.ErrResourceMissing) {
		t.Errorf("err = %v, want ErrResourceMissing", err)
	}
	if !errors.Is(err, ErrUnknownScrollFrame) {
		t.Errorf("err = %v, want ErrUnknownScrollFrame", err)
	}
	if f := r.Frame(); f == nil || f.DisplayListEpoch != 4 || len(f.Passes) != 1 {
		t.Errorf("frame after failed messages = %v", f)
	}
}

func TestDocument_InvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"scroll without list", Scroll{ID: 1}, ErrUnknownScrollFrame},
		{"scroll to without list", ScrollTo{ID: 1}, ErrUnknownScrollFrame},
		{"invalid config", ApplyConfig{Config: config.Config{}}, config.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDocument(t, Options{})
			if _, err := d.Do(context.Background(), tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("Do(%T) = %v, want %v", tt.msg, err, tt.want)
			}
		})
	}

	d := newDocument(t, Options{})
	if _, err := d.Do(context.Background(), SetDocumentView{View: picture.View{Width: -1}}); err == nil {
		t.Error("negative view size: want error")
	}
	if _, err := d.Do(context.Background(), FrameConsumed{Epoch: 5}); err == nil {
		t.Error("consuming an ungenerated frame: want error")
	}
}

func TestDocument_MalformedDisplayList(t *testing.T) {
	b := display.NewBuilder(display.ColorU{})
	for range scene.MaxDepth + 1 {
		b.PushReferenceFrame(display.ReferenceFrame{Transform: geom.Identity()})
	}
	d := newDocument(t, Options{})
	do(t, d, view, SetDisplayList{Epoch: 1, List: rectList(0)}, GenerateFrame{})

	if _, err := d.Do(context.Background(), SetDisplayList{Epoch: 2, List: b.Finish()}); !errors.Is(err, spatial.ErrMalformedTree) {
		t.Fatalf("SetDisplayList() = %v, want ErrMalformedTree", err)
	}
	f, err := d.GenerateFrame(context.Background())
	if !errors.Is(err, spatial.ErrMalformedTree) {
		t.Errorf("GenerateFrame() = %v, want ErrMalformedTree", err)
	}
	if f == nil || !f.IsEmpty() {
		t.Errorf("frame = %v, want empty", f)
	}
	if _, err := d.GenerateFrame(context.Background()); err != nil {
		t.Errorf("second GenerateFrame() = %v, want nil", err)
	}
}

func TestDocument_GPUCacheExhausted(t *testing.T) {
	cfg := config.Default()
	cfg.GPUCache.MaxBlocks = 1
	d := newDocument(t, Options{Config: cfg})

	_, err := d.Do(context.Background(), view, SetDisplayList{Epoch: 1, List: rectList(0)}, GenerateFrame{})
	if !errors.Is(err, gpucache.ErrExhausted) {
		t.Fatalf("GenerateFrame() = %v, want ErrExhausted", err)
	}

	cfg.GPUCache.MaxBlocks = 1024
	f := do(t, d, ApplyConfig{Config: cfg}, GenerateFrame{}).Frame()
	if len(f.Passes) != 1 {
		t.Errorf("after raising the limit: len(Passes) = %d, want 1", len(f.Passes))
	}
}

func TestDocument_ApplyConfigAtlasChange(t *testing.T) {
	d := newDocument(t, Options{})
	do(t, d, view, SetDisplayList{Epoch: 1, List: rectList(0)}, GenerateFrame{})

	cfg := config.Default()
	cfg.Textures.BudgetMB = 64
	if f := do(t, d, ApplyConfig{Config: cfg}, GenerateFrame{}).Frame(); len(f.Passes) != 0 {
		t.Errorf("budget change: len(Passes) = %d, want 0", len(f.Passes))
	}

	cfg.Textures.AtlasSize = 1024
	f := do(t, d, ApplyConfig{Config: cfg}, GenerateFrame{}).Frame()
	if len(f.Passes) != 1 {
		t.Errorf("atlas change: len(Passes) = %d, want 1", len(f.Passes))
	}
}

func TestDocument_FrameConsumedAndMemoryPressure(t *testing.T) {
	d := newDocument(t, Options{})
	r := do(t, d, view, SetDisplayList{Epoch: 1, List: rectList(0)}, GenerateFrame{})
	f := do(t, d,
		FrameConsumed{Epoch: r.Frame().Epoch},
		MemoryPressure{},
		GenerateFrame{},
	).Frame()
	if len(f.Passes) != 0 {
		t.Errorf("visible tiles dropped by memory pressure: len(Passes) = %d", len(f.Passes))
	}
}

// =============================================================================
// Hit testing
// =============================================================================

func TestDocument_HitTest(t *testing.T) {
	d := newDocument(t, Options{})
	if got := d.HitTest(geom.Pt(10, 10)); len(got) != 0 {
		t.Errorf("HitTest before any list = %v, want none", got)
	}

	list := display.NewBuilder(display.ColorU{}).
		Rect(geom.RectXYWH(0, 0, 100, 100), red, 5).
		PushScrollFrame(display.ScrollFrame{
			ID:      7,
			Frame:   geom.RectXYWH(0, 0, 100, 100),
			Content: geom.RectXYWH(0, 0, 100, 1000),
		}).
		HitTest(geom.RectXYWH(0, 200, 100, 300), 42).
		PopSpatial().
		Finish()
	do(t, d, SetDisplayList{Epoch: 3, List: list})

	if got := d.HitTest(geom.Pt(10, 30)); !slices.Equal(got, []display.ItemTag{5}) {
		t.Errorf("HitTest = %v, want [5]", got)
	}
	if d.HitTestEpoch() != 3 {
		t.Errorf("HitTestEpoch() = %d, want 3", d.HitTestEpoch())
	}

	do(t, d, ScrollTo{ID: 7, Offset: geom.Vec(0, 100)}, Scroll{ID: 7, Delta: geom.Vec(0, 80)})
	if got := d.HitTest(geom.Pt(10, 30)); !slices.Equal(got, []display.ItemTag{42, 5}) {
		t.Errorf("scrolled HitTest = %v, want [42 5]", got)
	}

	// Offsets survive a new list when asked to.
	do(t, d, SetDisplayList{Epoch: 4, List: list, PreserveScroll: true})
	if got := d.HitTest(geom.Pt(10, 30)); !slices.Equal(got, []display.ItemTag{42, 5}) {
		t.Errorf("HitTest after preserving scroll = %v, want [42 5]", got)
	}
	do(t, d, SetDisplayList{Epoch: 5, List: list})
	if got := d.HitTest(geom.Pt(10, 30)); !slices.Equal(got, []display.ItemTag{5}) {
		t.Errorf("HitTest after reset scroll = %v, want [5]", got)
	}
}

func TestDocument_HitTestConcurrent(t *testing.T) {
	d := newDocument(t, Options{})
	do(t, d, view, SetDisplayList{Epoch: 1, List: rectList(5)})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got := d.HitTest(geom.Pt(50, 50)); !slices.Equal(got, []display.ItemTag{5}) {
				t.Errorf("HitTest = %v, want [5]", got)
				return
			}
		}
	}()
	for i := range 20 {
		do(t, d, SetDisplayList{Epoch: uint64(i + 2), List: rectList(5)}, GenerateFrame{})
	}
	close(stop)
	wg.Wait()
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestDocument_Close(t *testing.T) {
	d := NewDocument(2, Options{})
	if d.ID() != 2 {
		t.Errorf("ID() = %d, want 2", d.ID())
	}
	d.Close()
	d.Close()

	if err := d.Post(GenerateFrame{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post() after Close = %v, want ErrClosed", err)
	}
	if _, err := d.Do(context.Background(), GenerateFrame{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do() after Close = %v, want ErrClosed", err)
	}
}

func TestDocument_ContextCanceled(t *testing.T) {
	d := newDocument(t, Options{QueueSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Do(ctx, GenerateFrame{}); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Do() with canceled context = %v", err)
	}
}

// =============================================================================
// Logging
// =============================================================================

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	d := NewDocument(3, Options{})
	if _, err := d.Do(context.Background(), view, GenerateFrame{}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	d.Close()

	out := buf.String()
	for _, want := range []string{"document created", "frame built", "document closed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestDefaultLogger_Silent(t *testing.T) {
	SetLogger(nil)
	if slogger().Enabled(context.Background(), slog.LevelError) {
		t.Error("default logger is enabled")
	}
	var h nopHandler
	if h.WithAttrs(nil) != (nopHandler{}) || h.WithGroup("g") != (nopHandler{}) {
		t.Error("nopHandler derivations are not nopHandler")
	}
}

