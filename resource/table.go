package resource

import (
	"errors"
	"fmt"

	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/texcache"
)

// ErrResourceMissing is returned when a key has no template.
var ErrResourceMissing = errors.New("resource: missing")

// ErrInvalidImage is returned when image data does not match its descriptor.
var ErrInvalidImage = errors.New("resource: invalid image")

// ImageDescriptor describes the layout of image data.
type ImageDescriptor struct {
	Width  int
	Height int
	Format texcache.Format
	// Stride is the distance between rows in bytes; 0 means tightly packed.
	Stride int
	// Opaque marks images without transparent pixels.
	Opaque bool
}

// RowBytes returns the effective stride.
func (d ImageDescriptor) RowBytes() int {
	if d.Stride > 0 {
		return d.Stride
	}
	return d.Width * d.Format.BytesPerPixel()
}

func (d ImageDescriptor) validate(data []byte) error {
	if d.Width <= 0 || d.Height <= 0 || d.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("%w: %dx%d %v", ErrInvalidImage, d.Width, d.Height, d.Format)
	}
	if d.RowBytes() < d.Width*d.Format.BytesPerPixel() {
		return fmt.Errorf("%w: stride %d too small", ErrInvalidImage, d.Stride)
	}
	need := (d.Height-1)*d.RowBytes() + d.Width*d.Format.BytesPerPixel()
	if data != nil && len(data) < need {
		return fmt.Errorf("%w: %d bytes, need %d", ErrInvalidImage, len(data), need)
	}
	return nil
}

// ImageTemplate is the latest contents of an image key.
type ImageTemplate struct {
	Key        ImageKey
	Descriptor ImageDescriptor
	Data       []byte
	Generation Generation
	// Dirty is the region changed by the latest update, or nil when the
	// whole image changed.
	Dirty *geom.IntRect
}

// BlobTemplate holds the recorded commands of a blob image. The bytes are
// opaque to the renderer and interpreted by a BlobRasterizer.
type BlobTemplate struct {
	Key        BlobImageKey
	Descriptor ImageDescriptor
	Commands   []byte
	Generation Generation
}

// Table maps keys to templates for one document.
//
// Table is owned by a document actor. Lookups may run concurrently with
// each other but not with Apply or Clear.
type Table struct {
	fonts     *FontStore
	images    map[ImageKey]*ImageTemplate
	rawFonts  map[FontKey]*FontTemplate
	instances map[FontInstanceKey]*FontInstance
	blobs     map[BlobImageKey]*BlobTemplate
	epoch     uint64
}

// NewTable creates an empty table parsing fonts through store. A nil store
// gets a private one.
func NewTable(store *FontStore) *Table {
	if store == nil {
		store = NewFontStore(0)
	}
	return &Table{
		fonts:     store,
		images:    make(map[ImageKey]*ImageTemplate),
		rawFonts:  make(map[FontKey]*FontTemplate),
		instances: make(map[FontInstanceKey]*FontInstance),
		blobs:     make(map[BlobImageKey]*BlobTemplate),
	}
}

// Epoch counts applied updates. It changes whenever any template changes.
func (t *Table) Epoch() uint64 { return t.epoch }

// Apply runs the updates in order. Each failed update is reported and
// skipped; the rest still apply.
func (t *Table) Apply(updates []Update) []error {
	var errs []error
	for _, u := range updates {
		if err := u.apply(t); err != nil {
			errs = append(errs, err)
			continue
		}
		t.epoch++
	}
	return errs
}

// Image returns the template of key.
func (t *Table) Image(key ImageKey) (*ImageTemplate, error) {
	img, ok := t.images[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrResourceMissing, key)
	}
	return img, nil
}

// Font returns the parsed font of key.
func (t *Table) Font(key FontKey) (*FontTemplate, error) {
	f, ok := t.rawFonts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrResourceMissing, key)
	}
	return f, nil
}

// FontInstance returns the instance of key.
func (t *Table) FontInstance(key FontInstanceKey) (*FontInstance, error) {
	fi, ok := t.instances[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrResourceMissing, key)
	}
	if _, ok := t.rawFonts[fi.Font]; !ok {
		return nil, fmt.Errorf("%w: %v of %v", ErrResourceMissing, fi.Font, key)
	}
	return fi, nil
}

// Blob returns the blob template of key.
func (t *Table) Blob(key BlobImageKey) (*BlobTemplate, error) {
	b, ok := t.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrResourceMissing, key)
	}
	return b, nil
}

// Counts returns the number of images, fonts, instances and blobs.
func (t *Table) Counts() (images, fonts, instances, blobs int) {
	return len(t.images), len(t.rawFonts), len(t.instances), len(t.blobs)
}

// Clear drops every template.
func (t *Table) Clear() {
	clear(t.images)
	clear(t.rawFonts)
	clear(t.instances)
	clear(t.blobs)
	t.epoch++
}
