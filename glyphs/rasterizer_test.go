package glyphs

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"

	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/texcache"
)

func instance(t *testing.T, size float32, opts resource.FontInstanceOptions) *resource.FontInstance {
	t.Helper()
	tmpl, err := resource.NewFontStore(1).Parse(goregular.TTF, 0)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	return &resource.FontInstance{Size: size, Options: opts, Template: tmpl}
}

func glyphIndex(t *testing.T, r rune) uint32 {
	t.Helper()
	f, err := sfnt.Parse(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	var buf sfnt.Buffer
	idx, err := f.GlyphIndex(&buf, r)
	if err != nil || idx == 0 {
		t.Fatalf("GlyphIndex(%q) = %d, %v", r, idx, err)
	}
	return uint32(idx)
}

func coverage(data []byte) (sum int) {
	for _, v := range data {
		sum += int(v)
	}
	return sum
}

// =============================================================================
// Rasterization
// =============================================================================

func TestRasterizeGlyph_Letter(t *testing.T) {
	r := New()
	fi := instance(t, 32, resource.FontInstanceOptions{})
	g, err := r.RasterizeGlyph(fi, resource.GlyphKey{Index: glyphIndex(t, 'H')})
	if err != nil {
		t.Fatalf("RasterizeGlyph() = %v", err)
	}

	if g.Format != texcache.FormatR8 {
		t.Errorf("Format = %v, want R8", g.Format)
	}
	if len(g.Data) != g.Width*g.Height {
		t.Errorf("len(Data) = %d, want %d", len(g.Data), g.Width*g.Height)
	}
	// A 32px cap H is roughly 23px tall and sits on the baseline.
	if g.Height < 18 || g.Height > 28 {
		t.Errorf("Height = %d, want about 23", g.Height)
	}
	if g.Top < 18 || g.Top > 28 {
		t.Errorf("Top = %v, want about 23", g.Top)
	}
	if g.Left < 0 || g.Left > 6 {
		t.Errorf("Left = %v, want a small bearing", g.Left)
	}
	if coverage(g.Data) == 0 {
		t.Error("glyph has no coverage")
	}
}

func TestRasterizeGlyph_Space(t *testing.T) {
	r := New()
	fi := instance(t, 16, resource.FontInstanceOptions{})
	g, err := r.RasterizeGlyph(fi, resource.GlyphKey{Index: glyphIndex(t, ' ')})
	if err != nil {
		t.Fatalf("RasterizeGlyph() = %v", err)
	}
	if g.Width != 0 || g.Height != 0 || len(g.Data) != 0 {
		t.Errorf("space = %dx%d with %d bytes, want empty", g.Width, g.Height, len(g.Data))
	}
}

func TestRasterizeGlyph_Options(t *testing.T) {
	idx := glyphIndex(t, 'o')
	plain, err := New().RasterizeGlyph(instance(t, 24, resource.FontInstanceOptions{}), resource.GlyphKey{Index: idx})
	if err != nil {
		t.Fatalf("RasterizeGlyph() = %v", err)
	}

	tests := []struct {
		name  string
		opts  resource.FontInstanceOptions
		key   resource.GlyphKey
		check func(t *testing.T, g resource.RasterizedGlyph)
	}{
		{
			name: "mono",
			opts: resource.FontInstanceOptions{RenderMode: resource.RenderMono},
			key:  resource.GlyphKey{Index: idx},
			check: func(t *testing.T, g resource.RasterizedGlyph) {
				for i, v := range g.Data {
					if v != 0 && v != 255 {
						t.Fatalf("Data[%d] = %d, want 0 or 255", i, v)
					}
				}
			},
		},
		{
			name: "synthetic bold",
			opts: resource.FontInstanceOptions{SyntheticBold: true},
			key:  resource.GlyphKey{Index: idx},
			check: func(t *testing.T, g resource.RasterizedGlyph) {
				if g.Width != plain.Width+1 {
					t.Errorf("Width = %d, want %d", g.Width, plain.Width+1)
				}
				if coverage(g.Data) <= coverage(plain.Data) {
					t.Error("bold glyph has no more coverage than the plain one")
				}
			},
		},
		{
			name: "subpixel offset",
			opts: resource.FontInstanceOptions{SubpixelPositioning: true},
			key:  resource.GlyphKey{Index: idx, Subpixel: 2},
			check: func(t *testing.T, g resource.RasterizedGlyph) {
				if g.Height != plain.Height {
					t.Errorf("Height = %d, want %d", g.Height, plain.Height)
				}
				if g.Width == plain.Width && bytes.Equal(g.Data, plain.Data) {
					t.Error("half-pixel offset did not change the mask")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New().RasterizeGlyph(instance(t, 24, tt.opts), tt.key)
			if err != nil {
				t.Fatalf("RasterizeGlyph() = %v", err)
			}
			if len(g.Data) != g.Width*g.Height {
				t.Errorf("len(Data) = %d, want %d", len(g.Data), g.Width*g.Height)
			}
			tt.check(t, g)
		})
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestRasterizeGlyph_Errors(t *testing.T) {
	r := New()
	fi := instance(t, 16, resource.FontInstanceOptions{})

	if _, err := r.RasterizeGlyph(fi, resource.GlyphKey{Index: uint32(fi.Template.NumGlyphs + 5)}); !errors.Is(err, ErrNoOutline) {
		t.Errorf("out of range glyph: err = %v, want ErrNoOutline", err)
	}
	if _, err := r.RasterizeGlyph(&resource.FontInstance{Size: 16}, resource.GlyphKey{}); !errors.Is(err, resource.ErrResourceMissing) {
		t.Errorf("missing template: err = %v, want ErrResourceMissing", err)
	}
	bad := &resource.FontInstance{Size: 16, Template: &resource.FontTemplate{Hash: 99, Data: []byte("not a font")}}
	if _, err := r.RasterizeGlyph(bad, resource.GlyphKey{}); !errors.Is(err, resource.ErrInvalidFont) {
		t.Errorf("bad data: err = %v, want ErrInvalidFont", err)
	}
}

func TestRasterizeGlyph_Concurrent(t *testing.T) {
	r := New()
	fi := instance(t, 20, resource.FontInstanceOptions{})
	key := resource.GlyphKey{Index: glyphIndex(t, 'g')}
	want, err := r.RasterizeGlyph(fi, key)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				g, err := r.RasterizeGlyph(fi, key)
				if err != nil || !bytes.Equal(g.Data, want.Data) {
					t.Errorf("concurrent RasterizeGlyph() differs: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
