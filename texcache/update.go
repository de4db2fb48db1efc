package texcache

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/geom"
)

// TextureID names a GPU texture owned by the cache.
type TextureID uint32

// UpdateKind is the operation an Update performs.
type UpdateKind uint8

// Update kinds, applied by the consumer in list order.
const (
	// UpdateAlloc creates a texture.
	UpdateAlloc UpdateKind = iota + 1
	// UpdateUpload copies pixel data into a region of a texture.
	UpdateUpload
	// UpdateFree destroys a texture.
	UpdateFree
)

// String returns the kind name.
func (k UpdateKind) String() string {
	switch k {
	case UpdateAlloc:
		return "Alloc"
	case UpdateUpload:
		return "Upload"
	case UpdateFree:
		return "Free"
	default:
		return "Unknown"
	}
}

// Update is one entry of the per-frame texture update list.
type Update struct {
	Kind    UpdateKind
	Texture TextureID

	// Descriptor is set for UpdateAlloc.
	Descriptor gputypes.TextureDescriptor

	// Rect, Stride and Data are set for UpdateUpload. Stride is a multiple
	// of CopyAlignment and at least the pixel size; Data holds Rect.Height()
	// rows of Stride bytes.
	Rect   geom.IntRect
	Stride int
	Data   []byte
	Format Format
}

// String returns a compact debug form.
func (u Update) String() string {
	switch u.Kind {
	case UpdateAlloc:
		return fmt.Sprintf("Alloc(tex %d, %dx%d %v)", u.Texture,
			u.Descriptor.Size.Width, u.Descriptor.Size.Height, u.Format)
	case UpdateUpload:
		return fmt.Sprintf("Upload(tex %d, %+v, stride %d)", u.Texture, u.Rect, u.Stride)
	default:
		return fmt.Sprintf("%v(tex %d)", u.Kind, u.Texture)
	}
}

// repack copies rows of rowBytes from src (with srcStride) into a buffer
// whose rows are dstStride apart. A srcStride of 0 means tightly packed.
func repack(src []byte, rows, rowBytes, srcStride, dstStride int) ([]byte, error) {
	if srcStride == 0 {
		srcStride = rowBytes
	}
	if srcStride < rowBytes {
		return nil, fmt.Errorf("%w: stride %d shorter than row %d", ErrInvalidData, srcStride, rowBytes)
	}
	if need := (rows-1)*srcStride + rowBytes; rows > 0 && len(src) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrInvalidData, len(src), need)
	}
	if srcStride == dstStride && len(src) >= rows*dstStride {
		return src[:rows*dstStride], nil
	}
	dst := make([]byte, rows*dstStride)
	for y := range rows {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
	return dst, nil
}
