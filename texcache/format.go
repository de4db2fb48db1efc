package texcache

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/geom"
)

// Format is the pixel format of cached image data.
type Format uint8

// Supported formats.
const (
	FormatR8 Format = iota + 1
	FormatR16
	FormatRG8
	FormatRG16
	FormatRGBA8
	FormatBGRA8
	FormatRGBAF32
	FormatRGBAI32
)

// BytesPerPixel returns the size of one pixel, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatR8:
		return 1
	case FormatR16, FormatRG8:
		return 2
	case FormatRG16, FormatRGBA8, FormatBGRA8:
		return 4
	case FormatRGBAF32, FormatRGBAI32:
		return 16
	default:
		return 0
	}
}

// GPUFormat returns the matching GPU texture format.
func (f Format) GPUFormat() gputypes.TextureFormat {
	switch f {
	case FormatR8:
		return gputypes.TextureFormatR8Unorm
	case FormatR16:
		return gputypes.TextureFormatR16Unorm
	case FormatRG8:
		return gputypes.TextureFormatRG8Unorm
	case FormatRG16:
		return gputypes.TextureFormatRG16Unorm
	case FormatRGBA8:
		return gputypes.TextureFormatRGBA8Unorm
	case FormatBGRA8:
		return gputypes.TextureFormatBGRA8Unorm
	case FormatRGBAF32:
		return gputypes.TextureFormatRGBA32Float
	case FormatRGBAI32:
		return gputypes.TextureFormatRGBA32Sint
	default:
		return gputypes.TextureFormatUndefined
	}
}

// FormatFromGPU maps a GPU surface format back to a cache format. Formats
// the cache cannot store report false.
func FormatFromGPU(tf gputypes.TextureFormat) (Format, bool) {
	for f := FormatR8; f <= FormatRGBAI32; f++ {
		if f.GPUFormat() == tf {
			return f, true
		}
	}
	return 0, false
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatR8:
		return "R8"
	case FormatR16:
		return "R16"
	case FormatRG8:
		return "RG8"
	case FormatRG16:
		return "RG16"
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatRGBAF32:
		return "RGBAF32"
	case FormatRGBAI32:
		return "RGBAI32"
	default:
		return "Unknown"
	}
}

// CopyAlignment is the required alignment of upload row pitches in bytes.
const CopyAlignment = 4

// RowPitch returns the aligned row pitch for an upload of width pixels.
func (f Format) RowPitch(width int) int {
	bpp := f.BytesPerPixel()
	return geom.AlignUp(width*bpp, max(bpp, CopyAlignment))
}
