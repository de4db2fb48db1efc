// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/wrender/frame"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/texcache"
)

// Errors returned by Applier.
var (
	ErrUnknownTexture    = errors.New("gpu: unknown texture")
	ErrUnsupportedFormat = errors.New("gpu: unsupported texture format")
	ErrOutOfOrder        = errors.New("gpu: frame out of order")
)

// Executor draws the passes and the composite of a frame whose updates
// were applied.
type Executor interface {
	RunPass(p *frame.Pass, res *Resources) error
	Composite(c *frame.Composite, res *Resources) error
}

// Resources gives an executor access to the textures and GPU cache data of
// a document.
type Resources struct {
	textures map[texcache.TextureID]*texture
	// GPUCache mirrors the GPU cache backing store.
	GPUCache []gpucache.Block
}

// GPUCacheTexture returns the GPU cache as the rgba32float texels of a
// gpucache.RowBlocks wide texture, padded to whole rows. Shaders fetch
// primitive blocks from it through the instance address.
func (r *Resources) GPUCacheTexture() (texels []byte, width, height int) {
	height = (len(r.GPUCache) + gpucache.RowBlocks - 1) / gpucache.RowBlocks
	if pad := height*gpucache.RowBlocks - len(r.GPUCache); pad > 0 {
		r.GPUCache = append(r.GPUCache, make([]gpucache.Block, pad)...)
	}
	return gpucache.Bytes(r.GPUCache), gpucache.RowBlocks, height
}

// Texture returns the device texture of id, as created by the
// gpucontext.TextureCreator.
func (r *Resources) Texture(id texcache.TextureID) (gpucontext.Texture, bool) {
	t, ok := r.textures[id]
	if !ok {
		return nil, false
	}
	return t.handle, true
}

// texture is a device texture with an RGBA8 shadow copy. Region uploads
// land in the shadow, which is written to the device once per frame.
type texture struct {
	handle        gpucontext.Texture
	width, height int
	shadow        []byte
	dirty         bool
}

// AckFunc is called after a frame was executed.
type AckFunc func(doc frame.DocumentID, epoch frame.Epoch)

// Applier is a reference consumer for one document. It keeps an RGBA8
// shadow of every cache texture and a CPU mirror of the GPU cache, and
// needs only a gpucontext.TextureCreator whose textures implement
// gpucontext.TextureUpdater.
type Applier struct {
	creator gpucontext.TextureCreator
	exec    Executor
	ack     AckFunc
	res     Resources
	last    frame.Epoch
}

// NewApplier creates an applier. exec and ack may be nil.
func NewApplier(creator gpucontext.TextureCreator, exec Executor, ack AckFunc) *Applier {
	return &Applier{
		creator: creator,
		exec:    exec,
		ack:     ack,
		res:     Resources{textures: make(map[texcache.TextureID]*texture)},
	}
}

// Resources returns the applied state.
func (a *Applier) Resources() *Resources { return &a.res }

// Execute applies f and the frames it carries in order, runs their passes,
// composites f, and acknowledges f.
func (a *Applier) Execute(f *frame.Frame) error {
	chain := f.Chain()
	for i, fr := range chain {
		if err := a.Apply(fr); err != nil {
			return err
		}
		if a.exec == nil {
			continue
		}
		for j := range fr.Passes {
			if err := a.exec.RunPass(&fr.Passes[j], &a.res); err != nil {
				return fmt.Errorf("frame %d: pass %d: %w", fr.Epoch, j, err)
			}
		}
		if i == len(chain)-1 {
			if err := a.exec.Composite(&fr.Composite, &a.res); err != nil {
				return fmt.Errorf("frame %d: composite: %w", fr.Epoch, err)
			}
		}
	}
	if a.ack != nil {
		a.ack(f.Document, f.Epoch)
	}
	return nil
}

// Apply applies the texture and GPU cache updates of one frame. Frames must
// be applied in epoch order.
func (a *Applier) Apply(f *frame.Frame) error {
	if f.Epoch <= a.last {
		return fmt.Errorf("%w: epoch %d after %d", ErrOutOfOrder, f.Epoch, a.last)
	}
	for _, u := range f.TextureUpdates {
		if err := a.applyTexture(u); err != nil {
			return fmt.Errorf("frame %d: %v: %w", f.Epoch, u, err)
		}
	}
	if err := a.flush(); err != nil {
		return fmt.Errorf("frame %d: %w", f.Epoch, err)
	}
	a.res.GPUCache = f.GPUCacheUpdates.Apply(a.res.GPUCache)
	a.last = f.Epoch
	return nil
}

func (a *Applier) applyTexture(u texcache.Update) error {
	switch u.Kind {
	case texcache.UpdateAlloc:
		w, h := int(u.Descriptor.Size.Width), int(u.Descriptor.Size.Height)
		shadow := make([]byte, w*h*4)
		handle, err := a.creator.NewTextureFromRGBA(w, h, shadow)
		if err != nil {
			return err
		}
		a.res.textures[u.Texture] = &texture{handle: handle, width: w, height: h, shadow: shadow}
	case texcache.UpdateUpload:
		t, ok := a.res.textures[u.Texture]
		if !ok {
			return ErrUnknownTexture
		}
		if err := t.write(u); err != nil {
			return err
		}
	case texcache.UpdateFree:
		t, ok := a.res.textures[u.Texture]
		if !ok {
			return ErrUnknownTexture
		}
		if d, ok := t.handle.(interface{ Destroy() }); ok {
			d.Destroy()
		}
		delete(a.res.textures, u.Texture)
	}
	return nil
}

func (a *Applier) flush() error {
	for id, t := range a.res.textures {
		if !t.dirty {
			continue
		}
		t.dirty = false
		up, ok := t.handle.(gpucontext.TextureUpdater)
		if !ok {
			continue
		}
		if err := up.UpdateData(t.shadow); err != nil {
			return fmt.Errorf("texture %d: %w", id, err)
		}
	}
	return nil
}

// write converts an upload to RGBA8 into the shadow.
func (t *texture) write(u texcache.Update) error {
	r := u.Rect
	if r.MinX < 0 || r.MinY < 0 || int(r.MaxX) > t.width || int(r.MaxY) > t.height {
		return fmt.Errorf("gpu: upload %v outside %dx%d texture", r, t.width, t.height)
	}
	bpp := u.Format.BytesPerPixel()
	w := int(r.Width())
	for y := 0; y < int(r.Height()); y++ {
		src := u.Data[y*u.Stride : y*u.Stride+w*bpp]
		off := ((int(r.MinY)+y)*t.width + int(r.MinX)) * 4
		if err := toRGBA8(t.shadow[off:off+w*4], src, u.Format); err != nil {
			return err
		}
	}
	t.dirty = true
	return nil
}

// toRGBA8 converts one row. Single-channel data is an alpha mask and
// becomes premultiplied white.
func toRGBA8(dst, src []byte, f texcache.Format) error {
	switch f {
	case texcache.FormatRGBA8:
		copy(dst, src)
	case texcache.FormatBGRA8:
		for i := 0; i+3 < len(src); i += 4 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], src[i+3]
		}
	case texcache.FormatR8:
		for i, v := range src {
			dst[4*i], dst[4*i+1], dst[4*i+2], dst[4*i+3] = v, v, v, v
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f.GPUFormat())
	}
	return nil
}
