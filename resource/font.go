package resource

import (
	"errors"
	"fmt"

	"github.com/twmb/murmur3"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/wrender/internal/cache"
)

// ErrInvalidFont is returned when font bytes cannot be parsed.
var ErrInvalidFont = errors.New("resource: invalid font data")

// FontTemplate is parsed, immutable font data. Templates are shared between
// documents and must not be modified.
type FontTemplate struct {
	// Hash is the murmur3 hash of the data and face index.
	Hash uint64
	// Data is the raw font file.
	Data []byte
	// Index selects a face within a collection.
	Index int
	// Family is the family name, if the font has one.
	Family string
	// NumGlyphs is the number of glyphs in the face.
	NumGlyphs int
	// UnitsPerEm is the design grid size.
	UnitsPerEm int
}

// FontStore parses font data once per distinct file and face, no matter how
// many documents register it.
//
// FontStore is safe for concurrent use.
type FontStore struct {
	parsed *cache.ShardedCache[uint64, parsedFont]
}

type parsedFont struct {
	tmpl *FontTemplate
	err  error
}

// NewFontStore creates a store holding up to capacity parsed faces per shard.
func NewFontStore(capacity int) *FontStore {
	return &FontStore{parsed: cache.NewSharded[uint64, parsedFont](capacity, cache.Uint64Hasher)}
}

// Parse returns the template for data's face index.
func (s *FontStore) Parse(data []byte, index int) (*FontTemplate, error) {
	hash := murmur3.SeedSum64(uint64(index), data)
	p := s.parsed.GetOrCreate(hash, func() parsedFont {
		t, err := parseFont(hash, data, index)
		return parsedFont{tmpl: t, err: err}
	})
	return p.tmpl, p.err
}

// Len returns the number of cached parse results.
func (s *FontStore) Len() int { return s.parsed.Len() }

func parseFont(hash uint64, data []byte, index int) (*FontTemplate, error) {
	var (
		f   *sfnt.Font
		err error
	)
	if index == 0 {
		f, err = sfnt.Parse(data)
	} else {
		var c *sfnt.Collection
		if c, err = sfnt.ParseCollection(data); err == nil {
			f, err = c.Font(index)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFont, err)
	}

	var buf sfnt.Buffer
	family, _ := f.Name(&buf, sfnt.NameIDFamily)
	return &FontTemplate{
		Hash:       hash,
		Data:       data,
		Index:      index,
		Family:     family,
		NumGlyphs:  f.NumGlyphs(),
		UnitsPerEm: int(f.UnitsPerEm()),
	}, nil
}

// RenderMode selects how glyphs of an instance are rasterized.
type RenderMode uint8

// Render modes.
const (
	RenderAlpha RenderMode = iota
	RenderMono
	RenderSubpixel
)

// String returns the mode name.
func (m RenderMode) String() string {
	switch m {
	case RenderAlpha:
		return "alpha"
	case RenderMono:
		return "mono"
	case RenderSubpixel:
		return "subpixel"
	default:
		return "unknown"
	}
}

// FontInstanceOptions are the per-instance rendering options.
type FontInstanceOptions struct {
	RenderMode RenderMode
	// SyntheticBold emboldens outlines.
	SyntheticBold bool
	// SubpixelPositioning enables quarter-pixel glyph positions.
	SubpixelPositioning bool
}

// FontInstance is a font at a size with rendering options.
type FontInstance struct {
	Key        FontInstanceKey
	Font       FontKey
	Size       float32
	Options    FontInstanceOptions
	Generation Generation
	Template   *FontTemplate
}

// GlyphKey identifies one rasterized glyph of an instance.
type GlyphKey struct {
	Instance FontInstanceKey
	Index    uint32
	// Subpixel is the quarter-pixel horizontal offset, 0 to 3.
	Subpixel uint8
}

// SubpixelSteps is the number of horizontal glyph positions per pixel.
const SubpixelSteps = 4

// QuantizeGlyphX splits a glyph's horizontal position into a whole-pixel
// origin and a quarter-pixel step, rounding to the nearest step.
func QuantizeGlyphX(x float32) (whole int32, step uint8) {
	v := fixed.Int26_6(x * 64)
	// Round to the nearest multiple of 64/SubpixelSteps.
	q := (v + 8).Floor()
	frac := (v + 8) - fixed.I(q)
	return int32(q), uint8(frac/16) % SubpixelSteps
}
