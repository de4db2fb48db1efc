package wrender

import (
	"errors"

	"github.com/gogpu/wrender/backend"
	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/frame"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/spatial"
	"github.com/gogpu/wrender/texcache"
)

// Errors. Check them with errors.Is; the returned errors wrap them with
// context.
var (
	// ErrUnknownDocument is returned for document ids that were never added
	// or were deleted.
	ErrUnknownDocument = errors.New("wrender: unknown document")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wrender: closed")

	// ErrResourceMissing: a primitive referenced a resource that does not
	// exist. The primitive is drawn as a placeholder.
	ErrResourceMissing = resource.ErrResourceMissing

	// ErrOutOfSpace: the texture cache could not fit an allocation. The
	// primitive or tile is dropped for the frame.
	ErrOutOfSpace = texcache.ErrOutOfSpace

	// ErrStaleHandle: a GPU cache handle outlived its slot.
	ErrStaleHandle = gpucache.ErrStaleHandle

	// ErrExhausted: the GPU cache is full. The frame fails.
	ErrExhausted = gpucache.ErrExhausted

	// ErrMalformedTree: a display list could not be resolved.
	ErrMalformedTree = spatial.ErrMalformedTree

	// ErrNoRasterizer: text or blob images need a rasterizer option.
	ErrNoRasterizer = frame.ErrNoRasterizer

	// ErrUnknownScrollFrame: a scroll message named an undefined scroll id.
	ErrUnknownScrollFrame = backend.ErrUnknownScrollFrame

	// ErrInvalidConfig: a configuration failed validation.
	ErrInvalidConfig = config.ErrInvalid
)
