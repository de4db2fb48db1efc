// Package resource holds the identity tables that map client-chosen keys for
// images, fonts, font instances and blob images to their templates.
//
// Keys are namespaced per API client so two clients can never collide. Each
// template carries a generation that advances whenever its contents change;
// downstream caches compare generations instead of bytes.
package resource

import "fmt"

// Namespace separates the key spaces of different API clients.
type Namespace uint32

// ImageKey identifies a raster image.
type ImageKey struct {
	Namespace Namespace
	ID        uint32
}

func (k ImageKey) String() string { return fmt.Sprintf("image(%d:%d)", k.Namespace, k.ID) }

// FontKey identifies raw font data.
type FontKey struct {
	Namespace Namespace
	ID        uint32
}

func (k FontKey) String() string { return fmt.Sprintf("font(%d:%d)", k.Namespace, k.ID) }

// FontInstanceKey identifies a font at a size with render options.
type FontInstanceKey struct {
	Namespace Namespace
	ID        uint32
}

func (k FontInstanceKey) String() string {
	return fmt.Sprintf("font-instance(%d:%d)", k.Namespace, k.ID)
}

// BlobImageKey identifies a client-rasterized vector image.
type BlobImageKey struct {
	Namespace Namespace
	ID        uint32
}

func (k BlobImageKey) String() string { return fmt.Sprintf("blob(%d:%d)", k.Namespace, k.ID) }

// Generation counts content changes of a template. It starts at 1.
type Generation uint32
