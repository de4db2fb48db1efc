package wrender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"

	"github.com/gogpu/wrender/backend"
	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpu"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/shader"
	"github.com/gogpu/wrender/texcache"
)

var testView = picture.View{Width: 800, Height: 600, DevicePixelRatio: 1}

var red = display.RGBA(255, 0, 0, 255)

func newAPI(t *testing.T, opts ...Option) *API {
	t.Helper()
	api, err := New(append([]Option{WithWorkers(2)}, opts...)...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { api.Close() })
	return api
}

func addDocument(t *testing.T, api *API) DocumentID {
	t.Helper()
	id, err := api.AddDocument(testView)
	if err != nil {
		t.Fatalf("AddDocument() = %v", err)
	}
	return id
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func redRect(tag display.ItemTag) *display.List {
	return display.NewBuilder(display.RGBA(255, 255, 255, 255)).
		Rect(geom.RectXYWH(0, 0, 100, 100), red, tag).
		Finish()
}

func glyphIndex(t *testing.T, r rune) uint32 {
	t.Helper()
	f, err := sfnt.Parse(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	var buf sfnt.Buffer
	idx, err := f.GlyphIndex(&buf, r)
	if err != nil {
		t.Fatal(err)
	}
	return uint32(idx)
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []*Frame
}

func (r *frameRecorder) PushFrame(f *Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// =============================================================================
// Transactions
// =============================================================================

func TestTransaction_MergesResourceUpdates(t *testing.T) {
	desc := resource.ImageDescriptor{Width: 2, Height: 2, Format: texcache.FormatRGBA8}
	txn := NewTransaction()
	if !txn.IsEmpty() {
		t.Error("new transaction is not empty")
	}
	img1 := resource.ImageKey{Namespace: 1, ID: 1}
	img2 := resource.ImageKey{Namespace: 1, ID: 2}
	txn.AddImage(img1, desc, make([]byte, 16)).
		AddImage(img2, desc, make([]byte, 16)).
		SetDisplayList(1, redRect(0)).
		DeleteImage(img2).
		GenerateFrame()

	msgs := txn.messages()
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(msgs))
	}
	first, ok := msgs[0].(backend.UpdateResources)
	if !ok || len(first.Updates) != 2 {
		t.Errorf("messages[0] = %#v, want UpdateResources with 2 updates", msgs[0])
	}
	if _, ok := msgs[1].(backend.SetDisplayList); !ok {
		t.Errorf("messages[1] = %T, want SetDisplayList", msgs[1])
	}
	if u, ok := msgs[2].(backend.UpdateResources); !ok || len(u.Updates) != 1 {
		t.Errorf("messages[2] = %#v, want UpdateResources with 1 update", msgs[2])
	}
	if _, ok := msgs[3].(backend.GenerateFrame); !ok {
		t.Errorf("messages[3] = %T, want GenerateFrame", msgs[3])
	}
}

func TestTransaction_TrailingResources(t *testing.T) {
	txn := NewTransaction().DeleteImage(resource.ImageKey{Namespace: 1, ID: 3})
	if txn.IsEmpty() {
		t.Error("IsEmpty() = true with a pending update")
	}
	if msgs := txn.messages(); len(msgs) != 1 {
		t.Errorf("len(messages) = %d, want 1", len(msgs))
	}
}

// =============================================================================
// Frames
// =============================================================================

func TestAPI_RedRect(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)
	doc := addDocument(t, api)

	txn := NewTransaction().SetDisplayList(1, redRect(0)).GenerateFrame()
	if err := api.Send(ctx, doc, txn); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	if got := api.Queue().Pending(); !slices.Equal(got, []DocumentID{doc}) {
		t.Errorf("Pending() = %v, want [%d]", got, doc)
	}
	f, ok := api.Queue().Acquire(doc)
	if !ok {
		t.Fatal("Acquire() found no frame")
	}
	if f.Epoch != 1 || f.DisplayListEpoch != 1 {
		t.Errorf("frame epoch = %d list %d, want 1, 1", f.Epoch, f.DisplayListEpoch)
	}
	if len(f.Passes) != 1 {
		t.Errorf("len(Passes) = %d, want 1", len(f.Passes))
	}
	if f.IsEmpty() {
		t.Error("frame is empty")
	}
	if _, ok := api.Queue().Acquire(doc); ok {
		t.Error("second Acquire() found a frame")
	}
	if r, ok := api.Queue().Replay(doc); !ok || r != f {
		t.Error("Replay() did not return the acquired frame")
	}
}

func TestAPI_Supersession(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)
	doc := addDocument(t, api)

	if err := api.Send(ctx, doc, NewTransaction().SetDisplayList(1, redRect(0)).GenerateFrame()); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if _, err := api.GenerateFrame(ctx, doc); err != nil {
		t.Fatalf("GenerateFrame() = %v", err)
	}

	f, ok := api.Queue().Acquire(doc)
	if !ok {
		t.Fatal("Acquire() found no frame")
	}
	if f.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", f.Epoch)
	}
	if len(f.Carried) != 1 || f.Carried[0].Epoch != 1 {
		t.Fatalf("Carried = %v, want the epoch 1 frame", f.Carried)
	}
	// The superseded frame's passes still hold the first rasterization.
	if len(f.Carried[0].Passes) != 1 {
		t.Errorf("carried frame: len(Passes) = %d, want 1", len(f.Carried[0].Passes))
	}
	if got := api.Queue().Superseded(doc); got != 1 {
		t.Errorf("Superseded() = %d, want 1", got)
	}
}

func TestAPI_GenerateFrames(t *testing.T) {
	rec := &frameRecorder{}
	api := newAPI(t, WithFrameSink(rec))
	ctx := testContext(t)
	if api.Queue() != nil {
		t.Error("Queue() != nil with a custom frame sink")
	}

	var docs []DocumentID
	for i := range 4 {
		doc := addDocument(t, api)
		if err := api.Send(ctx, doc, NewTransaction().SetDisplayList(1, redRect(display.ItemTag(i+1)))); err != nil {
			t.Fatalf("Send() = %v", err)
		}
		docs = append(docs, doc)
	}

	frames, err := api.GenerateFrames(ctx)
	if err != nil {
		t.Fatalf("GenerateFrames() = %v", err)
	}
	if len(frames) != len(docs) {
		t.Fatalf("len(frames) = %d, want %d", len(frames), len(docs))
	}
	for i, f := range frames {
		if f.Document != docs[i] {
			t.Errorf("frames[%d].Document = %d, want %d", i, f.Document, docs[i])
		}
		if len(f.Passes) != 1 {
			t.Errorf("frames[%d]: len(Passes) = %d, want 1", i, len(f.Passes))
		}
	}
	if rec.len() != len(docs) {
		t.Errorf("sink received %d frames, want %d", rec.len(), len(docs))
	}

	frames, err = api.GenerateFrames(ctx, docs[1])
	if err != nil || len(frames) != 1 || frames[0].Document != docs[1] {
		t.Errorf("GenerateFrames(%d) = %v, %v", docs[1], frames, err)
	}
}

func TestAPI_SendPushesFramesOnError(t *testing.T) {
	rec := &frameRecorder{}
	api := newAPI(t, WithFrameSink(rec))
	ctx := testContext(t)
	doc := addDocument(t, api)

	txn := NewTransaction().
		SetDisplayList(1, redRect(0)).
		Scroll(99, geom.Vec(0, 10)).
		GenerateFrame()
	err := api.Send(ctx, doc, txn)
	if !errors.Is(err, ErrUnknownScrollFrame) {
		t.Errorf("Send() = %v, want ErrUnknownScrollFrame", err)
	}
	if rec.len() != 1 {
		t.Errorf("sink received %d frames, want 1", rec.len())
	}
}

func TestAPI_TextWithBuiltinRasterizer(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		wantDiag bool
	}{
		{"builtin", nil, false},
		{"disabled", []Option{WithGlyphRasterizer(nil)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI(t, tt.opts...)
			ctx := testContext(t)
			doc := addDocument(t, api)

			font := resource.FontKey{Namespace: 1, ID: 1}
			inst := resource.FontInstanceKey{Namespace: 1, ID: 1}
			list := display.NewBuilder(display.ColorU{}).
				Text(display.TextItem{
					CommonItem: display.CommonItem{Bounds: geom.RectXYWH(0, 0, 200, 40)},
					Font:       inst,
					Color:      red,
					Glyphs: []display.GlyphInstance{
						{Index: glyphIndex(t, 'A'), Point: geom.Pt(10, 30)},
						{Index: glyphIndex(t, 'B'), Point: geom.Pt(30, 30)},
					},
				}).
				Finish()
			txn := NewTransaction().
				AddFont(font, goregular.TTF, 0).
				AddFontInstance(inst, font, 24, resource.FontInstanceOptions{}).
				SetDisplayList(1, list).
				GenerateFrame()
			if err := api.Send(ctx, doc, txn); err != nil {
				t.Fatalf("Send() = %v", err)
			}
			f, ok := api.Queue().Acquire(doc)
			if !ok {
				t.Fatal("Acquire() found no frame")
			}
			if got := len(f.Diagnostics) > 0; got != tt.wantDiag {
				t.Fatalf("Diagnostics = %v, want diagnostics %v", f.Diagnostics, tt.wantDiag)
			}
			if tt.wantDiag {
				if !errors.Is(f.Diagnostics[0], ErrNoRasterizer) {
					t.Errorf("Diagnostics[0] = %v, want ErrNoRasterizer", f.Diagnostics[0])
				}
				return
			}

			var glyphUploads int
			for _, u := range f.TextureUpdates {
				if u.Kind == texcache.UpdateUpload && u.Format == texcache.FormatR8 {
					glyphUploads++
				}
			}
			if glyphUploads != 2 {
				t.Errorf("R8 uploads = %d, want 2", glyphUploads)
			}
			var textBatches int
			for _, p := range f.Passes {
				for _, b := range p.Batches.Batches() {
					if b.Key.Kind == shader.KindTextRun {
						textBatches++
					}
				}
			}
			if textBatches != 1 {
				t.Errorf("text batches = %d, want 1", textBatches)
			}
		})
	}
}

// =============================================================================
// Hit testing
// =============================================================================

func TestAPI_HitTest(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)
	doc := addDocument(t, api)

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
	if err := api.Send(ctx, doc, NewTransaction().SetDisplayList(1, list)); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	tests := []struct {
		name   string
		scroll *Transaction
		p      geom.Point
		want   []display.ItemTag
	}{
		{"rect", nil, geom.Pt(10, 30), []display.ItemTag{5}},
		{"outside", nil, geom.Pt(500, 500), nil},
		{"scrolled", NewTransaction().ScrollTo(7, geom.Vec(0, 180)), geom.Pt(10, 30), []display.ItemTag{42, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := api.Send(ctx, doc, tt.scroll); err != nil {
				t.Fatalf("Send() = %v", err)
			}
			got, err := api.HitTest(doc, tt.p)
			if err != nil {
				t.Fatalf("HitTest() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("HitTest(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Documents
// =============================================================================

func TestAPI_UnknownDocument(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)

	checks := map[string]error{
		"Send":           api.Send(ctx, 9, NewTransaction().GenerateFrame()),
		"FrameConsumed":  api.FrameConsumed(9, 1),
		"DeleteDocument": api.DeleteDocument(9),
	}
	_, checks["GenerateFrame"] = api.GenerateFrame(ctx, 9)
	_, checks["HitTest"] = api.HitTest(9, geom.Pt(0, 0))

	for name, err := range checks {
		if !errors.Is(err, ErrUnknownDocument) {
			t.Errorf("%s() = %v, want ErrUnknownDocument", name, err)
		}
	}
}

func TestAPI_DeleteDocument(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)
	a := addDocument(t, api)
	b := addDocument(t, api)
	if a == b {
		t.Fatalf("AddDocument() returned %d twice", a)
	}
	if _, err := api.GenerateFrame(ctx, a); err != nil {
		t.Fatalf("GenerateFrame() = %v", err)
	}

	if err := api.DeleteDocument(a); err != nil {
		t.Fatalf("DeleteDocument() = %v", err)
	}
	if got := api.Documents(); !slices.Equal(got, []DocumentID{b}) {
		t.Errorf("Documents() = %v, want [%d]", got, b)
	}
	if _, ok := api.Queue().Acquire(a); ok {
		t.Error("deleted document still has a queued frame")
	}
}

func TestAPI_FrameConsumedAndMemoryPressure(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)
	doc := addDocument(t, api)

	f, err := api.GenerateFrame(ctx, doc)
	if err != nil {
		t.Fatalf("GenerateFrame() = %v", err)
	}
	if err := api.FrameConsumed(doc, f.Epoch); err != nil {
		t.Errorf("FrameConsumed() = %v", err)
	}
	if err := api.NotifyMemoryPressure(ctx); err != nil {
		t.Errorf("NotifyMemoryPressure() = %v", err)
	}
}

// =============================================================================
// Configuration
// =============================================================================

func TestAPI_ApplyConfig(t *testing.T) {
	api := newAPI(t)
	ctx := testContext(t)
	doc := addDocument(t, api)

	bad := config.Default()
	bad.Picture.TileSize = 1
	if err := api.ApplyConfig(ctx, bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ApplyConfig(invalid) = %v, want ErrInvalidConfig", err)
	}
	if api.Config() != config.Default() {
		t.Error("invalid config replaced the current one")
	}

	cfg := config.Default()
	cfg.Picture.TileSize = 128
	cfg.Textures.AtlasSize = 1024
	if err := api.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("ApplyConfig() = %v", err)
	}
	if api.Config() != cfg {
		t.Error("Config() does not return the applied config")
	}

	if err := api.Send(ctx, doc, NewTransaction().SetDisplayList(1, redRect(0)).GenerateFrame()); err != nil {
		t.Fatalf("Send() after ApplyConfig = %v", err)
	}
	if _, ok := api.Queue().Acquire(doc); !ok {
		t.Error("no frame after ApplyConfig")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Batch.Lookback = 0
	if _, err := New(WithConfig(cfg)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
		t.Error("New() with a missing config file succeeded")
	}
}

func TestAPI_ConfigFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrender.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  lookback: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	api := newAPI(t, WithConfigFile(path))
	addDocument(t, api)
	if got := api.Config().Batch.Lookback; got != 4 {
		t.Fatalf("Config().Batch.Lookback = %d, want 4", got)
	}

	if err := os.WriteFile(path, []byte("batch:\n  lookback: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for api.Config().Batch.Lookback != 9 {
		if time.Now().After(deadline) {
			t.Fatal("configuration was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// An invalid file keeps the current configuration.
	if err := os.WriteFile(path, []byte("batch:\n  lookback: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * config.DefaultDebounce)
	if got := api.Config().Batch.Lookback; got != 9 {
		t.Errorf("Config().Batch.Lookback = %d after invalid file, want 9", got)
	}
}

func TestWithCapabilities(t *testing.T) {
	caps := gpu.Capabilities{TileFormat: texcache.FormatBGRA8, MaxTextureSize: 2048}
	api := newAPI(t, WithCapabilities(caps))
	ctx := testContext(t)
	doc := addDocument(t, api)

	if err := api.Send(ctx, doc, NewTransaction().SetDisplayList(1, redRect(0)).GenerateFrame()); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	f, ok := api.Queue().Acquire(doc)
	if !ok {
		t.Fatal("Acquire() found no frame")
	}
	var bgra bool
	for _, u := range f.TextureUpdates {
		if u.Kind == texcache.UpdateAlloc && u.Format == texcache.FormatBGRA8 {
			bgra = true
		}
	}
	if !bgra {
		t.Errorf("no BGRA8 tile texture allocated, updates = %v", f.TextureUpdates)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestAPI_Close(t *testing.T) {
	api, err := New(WithWorkers(1))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	addDocument(t, api)
	if err := api.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := api.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := api.AddDocument(testView); !errors.Is(err, ErrClosed) {
		t.Errorf("AddDocument() after Close = %v, want ErrClosed", err)
	}
	if err := api.NotifyMemoryPressure(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("NotifyMemoryPressure() after Close = %v, want ErrClosed", err)
	}
	if len(api.Documents()) != 0 {
		t.Errorf("Documents() after Close = %v, want none", api.Documents())
	}
}
