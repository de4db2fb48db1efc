package display

import (
	"testing"

	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/resource"
)

// =============================================================================
// Tag Tests
// =============================================================================

func TestTag_Groups(t *testing.T) {
	tests := []struct {
		tag     Tag
		leaf    bool
		spatial bool
		clip    bool
		context bool
	}{
		{TagRect, true, false, false, false},
		{TagHitTest, true, false, false, false},
		{TagPushScrollFrame, false, true, false, false},
		{TagPopSpatial, false, true, false, false},
		{TagPushClip, false, false, true, false},
		{TagPopStackingContext, false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			if got := tt.tag.IsLeaf(); got != tt.leaf {
				t.Errorf("IsLeaf() = %v, want %v", got, tt.leaf)
			}
			if got := tt.tag.IsSpatial(); got != tt.spatial {
				t.Errorf("IsSpatial() = %v, want %v", got, tt.spatial)
			}
			if got := tt.tag.IsClip(); got != tt.clip {
				t.Errorf("IsClip() = %v, want %v", got, tt.clip)
			}
			if got := tt.tag.IsStackingContext(); got != tt.context {
				t.Errorf("IsStackingContext() = %v, want %v", got, tt.context)
			}
		})
	}
}

// =============================================================================
// Builder / Decoder Tests
// =============================================================================

func TestDecoder_RoundTrip(t *testing.T) {
	red := RGBA(255, 0, 0, 255)
	b := NewBuilder(RGBA(255, 255, 255, 255))
	b.PushReferenceFrame(ReferenceFrame{Origin: geom.Vec(10, 0)}).
		PushClip(Clip{Rect: geom.RectXYWH(0, 0, 50, 50), Radius: 4}).
		Rect(geom.RectXYWH(0, 0, 100, 100), red, 7).
		Image(ImageItem{Key: resource.ImageKey{Namespace: 1, ID: 2}}).
		PopClip().
		PopSpatial()
	list := b.Finish()

	want := []Tag{TagPushReferenceFrame, TagPushClip, TagRect, TagImage, TagPopClip, TagPopSpatial}
	if list.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", list.Len(), len(want))
	}
	if list.LeafCount() != 2 {
		t.Errorf("LeafCount() = %d, want 2", list.LeafCount())
	}

	dec := NewDecoder(list)
	for i, tag := range want {
		if !dec.Next() {
			t.Fatalf("Next() = false at item %d", i)
		}
		if dec.Tag() != tag {
			t.Fatalf("item %d: Tag() = %v, want %v", i, dec.Tag(), tag)
		}
		switch tag {
		case TagPushReferenceFrame:
			rf := dec.ReferenceFrame()
			if !rf.Transform.IsIdentity() || rf.Origin != geom.Vec(10, 0) {
				t.Errorf("ReferenceFrame() = %+v", rf)
			}
		case TagPushClip:
			if c := dec.Clip(); !c.IsRounded() {
				t.Errorf("Clip() = %+v, want rounded", c)
			}
		case TagRect:
			r := dec.Rect()
			if r.Color != red || r.Tag != 7 {
				t.Errorf("Rect() = %+v", r)
			}
		case TagImage:
			if img := dec.Image(); img.Key.ID != 2 {
				t.Errorf("Image().Key = %v, want id 2", img.Key)
			}
		}
	}
	if dec.Next() {
		t.Error("Next() after last item should return false")
	}
}

func TestDecoder_SkipUnread(t *testing.T) {
	b := NewBuilder(ColorU{})
	b.Rect(geom.RectXYWH(0, 0, 1, 1), RGBA(1, 0, 0, 255), 1).
		Rect(geom.RectXYWH(0, 0, 1, 1), RGBA(2, 0, 0, 255), 2)
	dec := NewDecoder(b.Finish())

	dec.Next() // first rect left unread
	dec.Next()
	if got := dec.Rect().Color.R; got != 2 {
		t.Errorf("second Rect().Color.R = %d, want 2", got)
	}
}

func TestDecoder_WrongAccessor(t *testing.T) {
	b := NewBuilder(ColorU{})
	b.Rect(geom.RectXYWH(0, 0, 1, 1), RGBA(9, 0, 0, 255), 1)
	dec := NewDecoder(b.Finish())
	dec.Next()

	if clip := dec.Clip(); clip != (Clip{}) {
		t.Errorf("Clip() on a rect = %+v, want zero", clip)
	}
	if got := dec.Rect().Color.R; got != 9 {
		t.Errorf("Rect().Color.R = %d, want 9", got)
	}
}

func TestNewDecoder_Nil(t *testing.T) {
	if NewDecoder(nil) != nil {
		t.Error("NewDecoder(nil) should return nil")
	}
}

func TestBuilder_CopiesSlices(t *testing.T) {
	glyphs := []GlyphInstance{{Index: 1}}
	b := NewBuilder(ColorU{})
	b.Text(TextItem{Glyphs: glyphs})
	glyphs[0].Index = 99

	dec := NewDecoder(b.Finish())
	dec.Next()
	if got := dec.Text().Glyphs[0].Index; got != 1 {
		t.Errorf("glyph index = %d, want 1", got)
	}
}

// =============================================================================
// Color / Property Tests
// =============================================================================

func TestColorU_Premultiplied(t *testing.T) {
	c := RGBA(255, 0, 0, 255).Premultiplied()
	if c.R != 1 || c.G != 0 || c.A != 1 {
		t.Errorf("Premultiplied() = %+v, want opaque red", c)
	}
	half := RGBA(255, 255, 255, 255).ScaleAlpha(0.5)
	if half.A != 128 {
		t.Errorf("ScaleAlpha(0.5).A = %d, want 128", half.A)
	}
}

func TestPropertyStore(t *testing.T) {
	s := NewPropertyStore()
	s.Apply(DynamicProperties{
		Floats:     []FloatValue{{Key: 1, Value: 0.25}},
		Transforms: []TransformValue{{Key: 2, Value: geom.Translation(5, 5)}},
	})

	if got := s.Float(1, 1); got != 0.25 {
		t.Errorf("Float(1) = %v, want 0.25", got)
	}
	if got := s.Float(3, 1); got != 1 {
		t.Errorf("Float(missing) = %v, want default 1", got)
	}
	if got := s.Transform(2, geom.Identity()).TranslationPart(); got != geom.Vec(5, 5) {
		t.Errorf("Transform(2) translation = %v, want (5, 5)", got)
	}
	if got := s.Color(0, RGBA(1, 2, 3, 4)); got != RGBA(1, 2, 3, 4) {
		t.Errorf("Color(unbound) = %v, want default", got)
	}
}
