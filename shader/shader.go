// Package shader holds the WGSL programs used by the batch kinds and
// compiles them to SPIR-V.
//
// Every program shares one instance layout (see common.wgsl): eight vec4
// attributes stepping per instance, drawn as a four-vertex triangle strip.
// Group 0 binds the globals uniform and the GPU cache texture, from which
// the vertex stage fetches the primitive blocks addressed by the instance.
// Texture-sampling kinds bind their texture and sampler in group 1.
package shader

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/wrender/internal/cache"
)

//go:embed wgsl/common.wgsl
var commonSource string

//go:embed wgsl/solid_rect.wgsl
var solidRectSource string

//go:embed wgsl/image.wgsl
var imageSource string

//go:embed wgsl/text_run.wgsl
var textRunSource string

//go:embed wgsl/composite_tile.wgsl
var compositeTileSource string

//go:embed wgsl/picture_composite.wgsl
var pictureCompositeSource string

// ErrUnknownKind is returned for kinds without a program.
var ErrUnknownKind = errors.New("shader: unknown kind")

// Kind selects a shader program.
type Kind uint8

// Shader kinds.
const (
	KindSolidRect Kind = iota
	KindImage
	KindTextRun
	// KindCompositeTile draws picture cache tiles to the target.
	KindCompositeTile
	// KindPictureComposite draws an intermediate surface with opacity and
	// filters.
	KindPictureComposite

	NumKinds
)

var kindNames = [NumKinds]string{
	"solid_rect",
	"image",
	"text_run",
	"composite_tile",
	"picture_composite",
}

// String returns the kind name.
func (k Kind) String() string {
	if k < NumKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Textured reports whether the kind samples a texture in group 1.
func (k Kind) Textured() bool {
	return k != KindSolidRect && k < NumKinds
}

// UsesGPUCache reports whether the kind reads its primitive's blocks from
// the GPU cache. Tile composites carry everything in the instance.
func (k Kind) UsesGPUCache() bool {
	return k != KindCompositeTile && k < NumKinds
}

// Source returns the complete WGSL source of the kind.
func (k Kind) Source() (string, error) {
	var body string
	switch k {
	case KindSolidRect:
		body = solidRectSource
	case KindImage:
		body = imageSource
	case KindTextRun:
		body = textRunSource
	case KindCompositeTile:
		body = compositeTileSource
	case KindPictureComposite:
		body = pictureCompositeSource
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return commonSource + "\n" + body, nil
}

// Entry points shared by every program.
const (
	VertexEntry   = "vs_main"
	FragmentEntry = "fs_main"
)

// Program is a compiled shader.
type Program struct {
	Kind  Kind
	Label string
	// SPIRV holds the module as little-endian 32-bit words.
	SPIRV []uint32
}

// Library compiles programs on first use and keeps the results. It is safe
// for concurrent use.
type Library struct {
	programs *cache.Cache[Kind, *Program]
	compile  func(source string) ([]byte, error)
}

// NewLibrary creates an empty library compiling with naga.
func NewLibrary() *Library {
	return &Library{
		programs: cache.New[Kind, *Program](0),
		compile:  naga.Compile,
	}
}

// Compile returns the SPIR-V program of kind, compiling it on first use.
func (l *Library) Compile(kind Kind) (*Program, error) {
	return l.programs.GetOrCreate(kind, func() (*Program, error) {
		src, err := kind.Source()
		if err != nil {
			return nil, err
		}
		spirv, err := l.compile(src)
		if err != nil {
			return nil, fmt.Errorf("shader: compile %v: %w", kind, err)
		}
		words, err := Words(spirv)
		if err != nil {
			return nil, fmt.Errorf("shader: compile %v: %w", kind, err)
		}
		return &Program{Kind: kind, Label: "wrender_" + kind.String(), SPIRV: words}, nil
	})
}

// CompileAll compiles every kind and returns the first error.
func (l *Library) CompileAll() error {
	for k := range NumKinds {
		if _, err := l.Compile(k); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of compiled programs.
func (l *Library) Len() int { return l.programs.Len() }

// SPIR-V magic number.
const spirvMagic = 0x07230203

// Words converts a SPIR-V byte stream to words, checking the magic number.
func Words(b []byte) ([]uint32, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid SPIR-V length %d", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("invalid SPIR-V magic %#x", words[0])
	}
	return words, nil
}
