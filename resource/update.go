package resource

import (
	"fmt"

	"github.com/gogpu/wrender/geom"
)

// Update is one resource change. Updates are applied in order by Table.Apply.
type Update interface {
	apply(t *Table) error
}

// AddImage registers an image. Re-adding an existing key replaces it.
type AddImage struct {
	Key        ImageKey
	Descriptor ImageDescriptor
	Data       []byte
}

func (u AddImage) apply(t *Table) error {
	if err := u.Descriptor.validate(u.Data); err != nil {
		return fmt.Errorf("add %v: %w", u.Key, err)
	}
	gen := Generation(1)
	if old, ok := t.images[u.Key]; ok {
		gen = old.Generation + 1
	}
	t.images[u.Key] = &ImageTemplate{Key: u.Key, Descriptor: u.Descriptor, Data: u.Data, Generation: gen}
	return nil
}

// UpdateImage replaces an image's contents. When Dirty is set, Data still
// holds the whole image but only that region is re-uploaded.
type UpdateImage struct {
	Key        ImageKey
	Descriptor ImageDescriptor
	Data       []byte
	Dirty      *geom.IntRect
}

func (u UpdateImage) apply(t *Table) error {
	old, ok := t.images[u.Key]
	if !ok {
		return fmt.Errorf("update %v: %w", u.Key, ErrResourceMissing)
	}
	if err := u.Descriptor.validate(u.Data); err != nil {
		return fmt.Errorf("update %v: %w", u.Key, err)
	}
	dirty := u.Dirty
	if old.Descriptor.Width != u.Descriptor.Width || old.Descriptor.Height != u.Descriptor.Height ||
		old.Descriptor.Format != u.Descriptor.Format {
		dirty = nil
	}
	t.images[u.Key] = &ImageTemplate{
		Key:        u.Key,
		Descriptor: u.Descriptor,
		Data:       u.Data,
		Generation: old.Generation + 1,
		Dirty:      dirty,
	}
	return nil
}

// DeleteImage removes an image.
type DeleteImage struct {
	Key ImageKey
}

func (u DeleteImage) apply(t *Table) error {
	if _, ok := t.images[u.Key]; !ok {
		return fmt.Errorf("delete %v: %w", u.Key, ErrResourceMissing)
	}
	delete(t.images, u.Key)
	return nil
}

// AddFont registers raw font data.
type AddFont struct {
	Key   FontKey
	Data  []byte
	Index int
}

func (u AddFont) apply(t *Table) error {
	tmpl, err := t.fonts.Parse(u.Data, u.Index)
	if err != nil {
		return fmt.Errorf("add %v: %w", u.Key, err)
	}
	t.rawFonts[u.Key] = tmpl
	// Instances of a replaced font render differently.
	for _, fi := range t.instances {
		if fi.Font == u.Key && fi.Template != tmpl {
			fi.Template = tmpl
			fi.Generation++
		}
	}
	return nil
}

// DeleteFont removes raw font data. Instances of the font stay registered
// but resolve as missing until the font is added again.
type DeleteFont struct {
	Key FontKey
}

func (u DeleteFont) apply(t *Table) error {
	if _, ok := t.rawFonts[u.Key]; !ok {
		return fmt.Errorf("delete %v: %w", u.Key, ErrResourceMissing)
	}
	delete(t.rawFonts, u.Key)
	return nil
}

// AddFontInstance binds a font to a size and options. Re-adding a key with
// different options advances its generation.
type AddFontInstance struct {
	Key     FontInstanceKey
	Font    FontKey
	Size    float32
	Options FontInstanceOptions
}

func (u AddFontInstance) apply(t *Table) error {
	tmpl, ok := t.rawFonts[u.Font]
	if !ok {
		return fmt.Errorf("add %v: %v: %w", u.Key, u.Font, ErrResourceMissing)
	}
	if u.Size <= 0 {
		return fmt.Errorf("add %v: invalid size %v", u.Key, u.Size)
	}
	gen := Generation(1)
	if old, ok := t.instances[u.Key]; ok {
		gen = old.Generation
		if old.Font != u.Font || old.Size != u.Size || old.Options != u.Options || old.Template != tmpl {
			gen++
		}
	}
	t.instances[u.Key] = &FontInstance{
		Key:        u.Key,
		Font:       u.Font,
		Size:       u.Size,
		Options:    u.Options,
		Generation: gen,
		Template:   tmpl,
	}
	return nil
}

// DeleteFontInstance removes a font instance.
type DeleteFontInstance struct {
	Key FontInstanceKey
}

func (u DeleteFontInstance) apply(t *Table) error {
	if _, ok := t.instances[u.Key]; !ok {
		return fmt.Errorf("delete %v: %w", u.Key, ErrResourceMissing)
	}
	delete(t.instances, u.Key)
	return nil
}

// AddBlobImage registers or replaces a blob image.
type AddBlobImage struct {
	Key        BlobImageKey
	Descriptor ImageDescriptor
	Commands   []byte
}

func (u AddBlobImage) apply(t *Table) error {
	if err := u.Descriptor.validate(nil); err != nil {
		return fmt.Errorf("add %v: %w", u.Key, err)
	}
	gen := Generation(1)
	if old, ok := t.blobs[u.Key]; ok {
		gen = old.Generation + 1
	}
	t.blobs[u.Key] = &BlobTemplate{Key: u.Key, Descriptor: u.Descriptor, Commands: u.Commands, Generation: gen}
	return nil
}

// DeleteBlobImage removes a blob image.
type DeleteBlobImage struct {
	Key BlobImageKey
}

func (u DeleteBlobImage) apply(t *Table) error {
	if _, ok := t.blobs[u.Key]; !ok {
		return fmt.Errorf("delete %v: %w", u.Key, ErrResourceMissing)
	}
	delete(t.blobs, u.Key)
	return nil
}
