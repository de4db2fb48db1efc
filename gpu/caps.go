// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/wrender/texcache"
)

// Capabilities describes what frame building may assume about the device.
type Capabilities struct {
	// SurfaceFormat is the device's presentation format.
	SurfaceFormat gputypes.TextureFormat
	// TileFormat is the format of picture cache tiles. Tiles match the
	// presentation format so compositing them needs no swizzle.
	TileFormat texcache.Format
	// MaxTextureSize is the largest 2D texture dimension.
	MaxTextureSize int
}

// DefaultCapabilities assumes an RGBA8 surface and the WebGPU default
// limits.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SurfaceFormat:  gputypes.TextureFormatRGBA8Unorm,
		TileFormat:     texcache.FormatRGBA8,
		MaxTextureSize: int(gputypes.DefaultLimits().MaxTextureDimension2D),
	}
}

// CapabilitiesFrom reads the capabilities of provider. A nil provider or
// one without a known surface format yields DefaultCapabilities.
func CapabilitiesFrom(provider gpucontext.DeviceProvider) Capabilities {
	caps := DefaultCapabilities()
	if provider == nil {
		return caps
	}
	switch f := provider.SurfaceFormat(); f {
	case gputypes.TextureFormatBGRA8Unorm:
		caps.SurfaceFormat = f
		caps.TileFormat = texcache.FormatBGRA8
	case gputypes.TextureFormatRGBA8Unorm:
		caps.SurfaceFormat = f
	}
	return caps
}
