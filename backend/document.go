package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/frame"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/internal/parallel"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/scene"
	"github.com/gogpu/wrender/texcache"
)

// ErrClosed is returned for messages sent to a closed document.
var ErrClosed = errors.New("backend: document closed")

// DefaultQueueSize is the default number of pending message batches.
const DefaultQueueSize = 64

// Options configures a Document.
type Options struct {
	// Config holds cache limits. The zero value selects config.Default().
	Config config.Config
	// SurfaceFormat is the format of picture cache tiles. 0 selects RGBA8.
	SurfaceFormat texcache.Format
	// MaxTextureSize is the device's largest 2D texture dimension. 0
	// selects the WebGPU default limit.
	MaxTextureSize int

	// Fonts parses font data shared between documents. nil gives the
	// document a private store.
	Fonts  *resource.FontStore
	Glyphs resource.GlyphRasterizer
	Blobs  resource.BlobRasterizer
	// Pool runs tile fingerprinting. It may be shared and may be nil.
	Pool *parallel.WorkerPool

	QueueSize int
}

// Reply is the result of a message batch.
type Reply struct {
	// Frames holds one frame per GenerateFrame message, in order.
	Frames []*frame.Frame
}

// Frame returns the last generated frame, or nil.
func (r Reply) Frame() *frame.Frame {
	if len(r.Frames) == 0 {
		return nil
	}
	return r.Frames[len(r.Frames)-1]
}

type result struct {
	reply Reply
	err   error
}

type request struct {
	msgs []Message
	// done is nil for batches nobody waits for.
	done chan result
}

// Document is the actor of one document. Its methods are safe for
// concurrent use.
type Document struct {
	id    frame.DocumentID
	inbox chan request
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	hit atomic.Pointer[scene.HitTester]
}

// state is owned by the actor goroutine.
type state struct {
	id   frame.DocumentID
	opts Options
	cfg  config.Config

	scene *scene.Scene
	// sceneErr is the resolve error of the last display list, reported by
	// the next frame.
	sceneErr  error
	props     *display.PropertyStore
	resources *resource.Table
	textures  *texcache.Cache
	gpu       *gpucache.Cache
	builder   *frame.Builder
	view      picture.View
	epoch     frame.Epoch

	hitDirty bool
}

// NewDocument starts the actor of document id.
func NewDocument(id frame.DocumentID, opts Options) *Document {
	if opts.Config == (config.Config{}) {
		opts.Config = config.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	s := &state{
		id:        id,
		opts:      opts,
		props:     display.NewPropertyStore(),
		resources: resource.NewTable(opts.Fonts),
		gpu:       gpucache.New(),
	}
	s.configure(opts.Config)

	d := &Document{
		id:    id,
		inbox: make(chan request, opts.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	d.hit.Store(scene.NewHitTester(nil))
	go d.run(s)

	slogger().Info("backend: document created", slog.Uint64("document", uint64(id)))
	return d
}

// ID returns the document id.
func (d *Document) ID() frame.DocumentID { return d.id }

// Post queues msgs without waiting for them to be applied. Errors of
// individual messages are logged.
func (d *Document) Post(msgs ...Message) error {
	return d.enqueue(context.Background(), request{msgs: msgs})
}

// Do queues msgs and waits until they are applied. The returned error joins
// the errors of all failed messages. If ctx ends first, Do returns its
// error; the messages are still applied.
func (d *Document) Do(ctx context.Context, msgs ...Message) (Reply, error) {
	req := request{msgs: msgs, done: make(chan result, 1)}
	if err := d.enqueue(ctx, req); err != nil {
		return Reply{}, err
	}
	select {
	case res := <-req.done:
		return res.reply, res.err
	case <-d.done:
		select {
		case res := <-req.done:
			return res.reply, res.err
		default:
			return Reply{}, ErrClosed
		}
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// GenerateFrame builds a frame and waits for it.
func (d *Document) GenerateFrame(ctx context.Context) (*frame.Frame, error) {
	r, err := d.Do(ctx, GenerateFrame{})
	return r.Frame(), err
}

func (d *Document) enqueue(ctx context.Context, req request) error {
	select {
	case <-d.quit:
		return ErrClosed
	default:
	}
	select {
	case d.inbox <- req:
		return nil
	case <-d.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HitTest returns the tags of the items under the world point p, front to
// back, as of the last applied message.
func (d *Document) HitTest(p geom.Point) []display.ItemTag {
	return d.hit.Load().HitTest(p)
}

// HitTestEpoch returns the display list epoch the hit-test snapshot was
// taken from.
func (d *Document) HitTestEpoch() uint64 {
	return d.hit.Load().Epoch()
}

// Close stops the actor and releases its caches. Queued messages that were
// not applied yet are dropped. Close is idempotent.
func (d *Document) Close() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}

func (d *Document) run(s *state) {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			s.builder.Clear()
			s.resources.Clear()
			slogger().Info("backend: document closed", slog.Uint64("document", uint64(d.id)))
			return
		case req := <-d.inbox:
			res := d.process(s, req.msgs)
			if req.done != nil {
				req.done <- res
			} else if res.err != nil {
				slogger().Warn("backend: message failed",
					slog.Uint64("document", uint64(d.id)), slog.Any("err", res.err))
			}
		}
	}
}

func (d *Document) process(s *state, msgs []Message) result {
	var res result
	var errs []error
	for _, m := range msgs {
		if err := m.apply(s, &res.reply); err != nil {
			errs = append(errs, err)
		}
		if s.hitDirty {
			d.publish(s)
		}
	}
	res.err = errors.Join(errs...)
	return res
}

func (d *Document) publish(s *state) {
	if s.scene != nil {
		s.scene.Update(s.props)
	}
	d.hit.Store(scene.NewHitTester(s.scene))
	s.hitDirty = false
}

// generate builds the next frame.
func (s *state) generate() (*frame.Frame, error) {
	s.epoch++
	f, err := s.builder.Build(frame.Input{
		Document:  s.id,
		Epoch:     s.epoch,
		Scene:     s.scene,
		Props:     s.props,
		Resources: s.resources,
		View:      s.view,
	})
	if err == nil && s.sceneErr != nil {
		err, s.sceneErr = s.sceneErr, nil
	}

	log := slogger()
	doc := slog.Uint64("document", uint64(s.id))
	for _, diag := range f.Diagnostics {
		log.Warn("backend: frame degraded", doc, slog.Uint64("epoch", uint64(f.Epoch)), slog.Any("err", diag))
	}
	if err != nil {
		log.Error("backend: frame failed", doc, slog.Uint64("epoch", uint64(f.Epoch)), slog.Any("err", err))
	}
	log.Debug("backend: frame built", doc,
		slog.Uint64("epoch", uint64(f.Epoch)),
		slog.Int("passes", f.Stats.Passes),
		slog.Int("batches", f.Stats.Batches),
		slog.Int("dirty_tiles", f.Stats.DirtyTiles),
		slog.Duration("build_time", f.Stats.BuildTime))
	if s.cfg.Debug.PictureCache {
		log.Debug("backend: picture cache", doc, slog.Any("stats", s.builder.Pictures().Stats()))
	}
	if s.cfg.Debug.TextureCache {
		log.Debug("backend: texture cache", doc, slog.Any("stats", s.textures.Stats()))
	}
	if s.cfg.Debug.GPUCache {
		log.Debug("backend: gpu cache", doc, slog.Any("stats", s.gpu.Stats()))
	}
	return f, err
}

// configure applies cfg. A texture cache with a different atlas layout is
// replaced, which also replaces the builder and so drops every tile.
func (s *state) configure(cfg config.Config) {
	tc := cfg.TextureCache(s.opts.MaxTextureSize)
	if s.textures == nil || atlasChanged(s.textures.Config(), tc) {
		if s.builder != nil {
			s.builder.Clear()
		}
		s.textures = texcache.New(tc)
		s.builder = frame.NewBuilder(s.textures, s.gpu, frame.Options{
			Glyphs: s.opts.Glyphs,
			Blobs:  s.opts.Blobs,
			Pool:   s.opts.Pool,
		})
	} else {
		s.textures.SetBudget(tc.BudgetBytes)
	}

	pc := cfg.PictureCache()
	pc.SurfaceFormat = s.opts.SurfaceFormat
	s.builder.Configure(pc, cfg.Batch.Lookback)
	s.gpu.SetLimits(cfg.GPUCache.MaxBlocks, cfg.GPUCache.ExpireFrames)
	s.cfg = cfg
}

// atlasChanged compares a running cache's normalized config with a new one.
func atlasChanged(cur, next texcache.Config) bool {
	return cur.AtlasSize != min(next.AtlasSize, cur.MaxTextureSize) ||
		cur.ClassLimits != next.ClassLimits ||
		cur.EvictionBatch != next.EvictionBatch ||
		cur.Padding != next.Padding
}
