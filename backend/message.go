package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/wrender/config"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/frame"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/gpucache"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
	"github.com/gogpu/wrender/scene"
)

// ErrUnknownScrollFrame is returned when a scroll message names a scroll id
// that the current display list does not define.
var ErrUnknownScrollFrame = errors.New("backend: unknown scroll frame")

// Message is a request processed by a document actor.
type Message interface {
	apply(s *state, r *Reply) error
}

// SetDisplayList replaces the document's content. Scroll offsets of scroll
// frames that exist in both lists are kept when PreserveScroll is set.
type SetDisplayList struct {
	Epoch          uint64
	List           *display.List
	PreserveScroll bool
}

func (m SetDisplayList) apply(s *state, _ *Reply) error {
	sc, err := scene.Build(m.List, m.Epoch)
	if err != nil {
		s.scene = nil
		s.sceneErr = fmt.Errorf("display list %d: %w", m.Epoch, err)
		s.hitDirty = true
		return s.sceneErr
	}
	if m.PreserveScroll && s.scene != nil {
		sc.Tree.RestoreScrollOffsets(s.scene.Tree.ScrollOffsets())
	}
	for _, d := range sc.Diagnostics {
		slogger().Warn("backend: display list clamped",
			slog.Uint64("document", uint64(s.id)), slog.Uint64("epoch", m.Epoch), slog.Any("err", d))
	}
	s.scene = sc
	s.sceneErr = nil
	s.hitDirty = true
	return nil
}

// UpdateResources applies resource updates in order. Failed updates are
// skipped and reported; the others still apply.
type UpdateResources struct {
	Updates []resource.Update
}

func (m UpdateResources) apply(s *state, _ *Reply) error {
	return errors.Join(s.resources.Apply(m.Updates)...)
}

// Scroll moves a scroll frame by Delta, clamped to its scrollable range.
type Scroll struct {
	ID    display.ScrollID
	Delta geom.Vector
}

func (m Scroll) apply(s *state, _ *Reply) error {
	if err := s.checkScroll(m.ID); err != nil {
		return err
	}
	if s.scene.Tree.ScrollBy(m.ID, m.Delta) {
		s.hitDirty = true
	}
	return nil
}

// ScrollTo sets a scroll frame's offset, clamped to its scrollable range.
type ScrollTo struct {
	ID     display.ScrollID
	Offset geom.Vector
}

func (m ScrollTo) apply(s *state, _ *Reply) error {
	if err := s.checkScroll(m.ID); err != nil {
		return err
	}
	if s.scene.Tree.ScrollTo(m.ID, m.Offset) {
		s.hitDirty = true
	}
	return nil
}

func (s *state) checkScroll(id display.ScrollID) error {
	if s.scene == nil {
		return fmt.Errorf("%w: %d (no display list)", ErrUnknownScrollFrame, id)
	}
	if _, ok := s.scene.Tree.ScrollNode(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownScrollFrame, id)
	}
	return nil
}

// SetDocumentView sets the document's size in device pixels and its device
// pixel ratio.
type SetDocumentView struct {
	View picture.View
}

func (m SetDocumentView) apply(s *state, _ *Reply) error {
	if m.View.Width < 0 || m.View.Height < 0 {
		return fmt.Errorf("backend: invalid document view %dx%d", m.View.Width, m.View.Height)
	}
	s.view = m.View
	return nil
}

// UpdateDynamicProperties sets animated transform, opacity and color
// values.
type UpdateDynamicProperties struct {
	Properties display.DynamicProperties
}

func (m UpdateDynamicProperties) apply(s *state, _ *Reply) error {
	s.props.Apply(m.Properties)
	s.hitDirty = true
	return nil
}

// GenerateFrame builds a frame from the current state. The frame is stored
// in the Reply.
type GenerateFrame struct{}

func (GenerateFrame) apply(s *state, r *Reply) error {
	f, err := s.generate()
	r.Frames = append(r.Frames, f)
	return err
}

// FrameConsumed tells the document that the GPU layer finished applying
// every frame up to and including Epoch, so GPU cache slots freed by then
// may be reused.
type FrameConsumed struct {
	Epoch frame.Epoch
}

func (m FrameConsumed) apply(s *state, _ *Reply) error {
	if m.Epoch > s.epoch {
		return fmt.Errorf("backend: consumed frame %d not generated yet (latest %d)", m.Epoch, s.epoch)
	}
	s.gpu.Acknowledge(gpucache.FrameID(m.Epoch))
	return nil
}

// MemoryPressure frees every cache entry the latest frame did not use.
type MemoryPressure struct{}

func (MemoryPressure) apply(s *state, _ *Reply) error {
	tiles, textures := s.builder.HandleMemoryPressure(s.epoch)
	slogger().Info("backend: memory pressure",
		slog.Uint64("document", uint64(s.id)),
		slog.Int("tiles", tiles), slog.Int("textures", textures))
	return nil
}

// ApplyConfig changes cache limits and debug flags. Changing the atlas
// layout of the texture cache drops every cached texture.
type ApplyConfig struct {
	Config config.Config
}

func (m ApplyConfig) apply(s *state, _ *Reply) error {
	if err := m.Config.Validate(); err != nil {
		return err
	}
	s.configure(m.Config)
	return nil
}
