package wrender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/wrender/backend"
	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/frame"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpu"
	"github.com/gogpu/wrender/internal/parallel"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
)

// DocumentID identifies a document of an API.
type DocumentID = frame.DocumentID

// Frame is the GPU work generated for one document.
type Frame = frame.Frame

// FrameSink receives generated frames.
type FrameSink = gpu.FrameSink

// API owns a set of documents and the state they share: the font store,
// the fingerprinting worker pool and the configuration. Its methods are
// safe for concurrent use.
type API struct {
	mu     sync.RWMutex
	docs   map[DocumentID]*backend.Document
	nextID DocumentID
	closed bool
	cfg    config.Config

	opts    apiOptions
	fonts   *resource.FontStore
	pool    *parallel.WorkerPool
	sink    FrameSink
	watcher *config.Watcher
}

// New creates an API.
func New(opts ...Option) (*API, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	cfg := o.cfg
	if o.cfgPath != "" {
		loaded, err := config.Load(o.cfgPath)
		if err != nil {
			return nil, fmt.Errorf("wrender: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wrender: %w", err)
	}

	workers := cfg.Workers
	if o.workersSet {
		workers = o.workers
	}

	a := &API{
		docs:  make(map[DocumentID]*backend.Document),
		cfg:   cfg,
		opts:  o,
		fonts: resource.NewFontStore(0),
		pool:  parallel.NewWorkerPool(workers),
		sink:  o.sink,
	}
	if a.sink == nil {
		a.sink = gpu.NewFrameQueue()
	}

	if o.cfgPath != "" {
		w, err := config.Watch(o.cfgPath, config.DefaultDebounce, a.reload, func(err error) {
			Logger().Warn("wrender: config reload failed", "path", o.cfgPath, "err", err)
		})
		if err != nil {
			a.pool.Close()
			return nil, fmt.Errorf("wrender: watch config: %w", err)
		}
		a.watcher = w
	}

	Logger().Info("wrender: api created",
		"workers", a.pool.Workers(),
		"max_texture_size", o.caps.MaxTextureSize,
		"tile_format", o.caps.TileFormat)
	return a, nil
}

func (a *API) reload(cfg config.Config) {
	if err := a.ApplyConfig(context.Background(), cfg); err != nil {
		Logger().Warn("wrender: config reload failed", "path", a.opts.cfgPath, "err", err)
		return
	}
	Logger().Info("wrender: config reloaded", "path", a.opts.cfgPath)
}

// AddDocument creates a document of the given view.
func (a *API) AddDocument(view picture.View) (DocumentID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}
	a.nextID++
	id := a.nextID
	d := backend.NewDocument(id, backend.Options{
		Config:         a.cfg,
		SurfaceFormat:  a.opts.caps.TileFormat,
		MaxTextureSize: a.opts.caps.MaxTextureSize,
		Fonts:          a.fonts,
		Glyphs:         a.opts.glyphs,
		Blobs:          a.opts.blobs,
		Pool:           a.pool,
	})
	if err := d.Post(backend.SetDocumentView{View: view}); err != nil {
		d.Close()
		return 0, err
	}
	a.docs[id] = d
	return id, nil
}

// DeleteDocument closes a document and releases its caches. Its queued
// frame, if any, is dropped from the default frame queue.
func (a *API) DeleteDocument(id DocumentID) error {
	a.mu.Lock()
	d, ok := a.docs[id]
	delete(a.docs, id)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	d.Close()
	if q, ok := a.sink.(*gpu.FrameQueue); ok {
		q.Remove(id)
	}
	return nil
}

// Documents returns the ids of all documents in ascending order.
func (a *API) Documents() []DocumentID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Sorted(maps.Keys(a.docs))
}

func (a *API) document(id DocumentID) (*backend.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}
	d, ok := a.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	return d, nil
}

// Send applies txn to document id and waits for it. Frames it generates
// are pushed to the frame sink, also when some messages failed. The
// returned error joins the errors of all failed messages.
func (a *API) Send(ctx context.Context, id DocumentID, txn *Transaction) error {
	if txn == nil || txn.IsEmpty() {
		return nil
	}
	d, err := a.document(id)
	if err != nil {
		return err
	}
	r, err := d.Do(ctx, txn.messages()...)
	for _, f := range r.Frames {
		a.sink.PushFrame(f)
	}
	return err
}

// GenerateFrame builds a frame of document id, pushes it to the frame sink
// and returns it. A frame is returned with a non-nil error when the frame
// failed but still carries updates that must be applied.
func (a *API) GenerateFrame(ctx context.Context, id DocumentID) (*Frame, error) {
	d, err := a.document(id)
	if err != nil {
		return nil, err
	}
	f, err := d.GenerateFrame(ctx)
	if f != nil {
		a.sink.PushFrame(f)
	}
	return f, err
}

// GenerateFrames builds a frame of every listed document in parallel. With
// no ids, every document gets a frame. Frames are returned in the order of
// ids.
func (a *API) GenerateFrames(ctx context.Context, ids ...DocumentID) ([]*Frame, error) {
	if len(ids) == 0 {
		ids = a.Documents()
	}
	frames := make([]*Frame, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			frames[i], errs[i] = a.GenerateFrame(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return frames, errors.Join(errs...)
}

// HitTest returns the tags of the items of document id under the world
// point p, front to back. It does not wait for frame building.
func (a *API) HitTest(id DocumentID, p geom.Point) ([]display.ItemTag, error) {
	d, err := a.document(id)
	if err != nil {
		return nil, err
	}
	return d.HitTest(p), nil
}

// FrameConsumed tells document id that the GPU has finished the frame of
// the given epoch, so GPU cache blocks freed before it can be reused.
func (a *API) FrameConsumed(id DocumentID, epoch frame.Epoch) error {
	d, err := a.document(id)
	if err != nil {
		return err
	}
	return d.Post(backend.FrameConsumed{Epoch: epoch})
}

// NotifyMemoryPressure asks every document to drop cached content it can
// regenerate.
func (a *API) NotifyMemoryPressure(ctx context.Context) error {
	return a.broadcast(ctx, backend.MemoryPressure{})
}

// ApplyConfig validates cfg and applies it to every document. Documents
// added later use it too. The worker count is fixed at New.
func (a *API) ApplyConfig(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("wrender: %w", err)
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return a.broadcast(ctx, backend.ApplyConfig{Config: cfg})
}

// Config returns the configuration in effect.
func (a *API) Config() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *API) broadcast(ctx context.Context, m backend.Message) error {
	a.mu.RLock()
	docs := slices.Collect(maps.Values(a.docs))
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range docs {
		g.Go(func() error {
			_, err := d.Do(ctx, m)
			if errors.Is(err, backend.ErrClosed) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Queue returns the default frame queue, or nil when WithFrameSink
// replaced it.
func (a *API) Queue() *gpu.FrameQueue {
	q, _ := a.sink.(*gpu.FrameQueue)
	return q
}

// Close stops the configuration watcher, closes every document and stops
// the worker pool. Close is idempotent.
func (a *API) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	docs := a.docs
	a.docs = make(map[DocumentID]*backend.Document)
	a.mu.Unlock()

	var err error
	if a.watcher != nil {
		err = a.watcher.Close()
	}
	for _, d := range docs {
		d.Close()
	}
	a.pool.Close()
	Logger().Info("wrender: api closed", slog.Int("documents", len(docs)))
	return err
}
