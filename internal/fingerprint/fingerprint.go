// Package fingerprint builds order-sensitive murmur3 content hashes.
package fingerprint

import (
	"encoding/binary"
	"math"

	"github.com/twmb/murmur3"

	"github.com/gogpu/wrender/geom"
)

// Hasher accumulates values into a byte buffer hashed at the end. The same
// values written in a different order produce a different hash.
//
// The zero value is ready to use.
type Hasher struct {
	buf []byte
}

// Reset clears the hasher, keeping its buffer.
func (h *Hasher) Reset() { h.buf = h.buf[:0] }

// Len returns the number of bytes written.
func (h *Hasher) Len() int { return len(h.buf) }

// Uint8 writes v.
func (h *Hasher) Uint8(v uint8) { h.buf = append(h.buf, v) }

// Uint32 writes v.
func (h *Hasher) Uint32(v uint32) { h.buf = binary.LittleEndian.AppendUint32(h.buf, v) }

// Uint64 writes v.
func (h *Hasher) Uint64(v uint64) { h.buf = binary.LittleEndian.AppendUint64(h.buf, v) }

// Bool writes b as one byte.
func (h *Hasher) Bool(b bool) {
	if b {
		h.Uint8(1)
	} else {
		h.Uint8(0)
	}
}

// Float32 writes the bits of v. Negative zero is written as zero.
func (h *Hasher) Float32(v float32) {
	if v == 0 {
		v = 0
	}
	h.Uint32(math.Float32bits(v))
}

// Rect writes the four edges of r.
func (h *Hasher) Rect(r geom.Rect) {
	h.Float32(r.MinX)
	h.Float32(r.MinY)
	h.Float32(r.MaxX)
	h.Float32(r.MaxY)
}

// Transform writes the six coefficients of t.
func (h *Hasher) Transform(t geom.Transform) {
	h.Float32(t.A)
	h.Float32(t.B)
	h.Float32(t.C)
	h.Float32(t.D)
	h.Float32(t.E)
	h.Float32(t.F)
}

// Sum64 returns the murmur3 hash of everything written.
func (h *Hasher) Sum64() uint64 { return murmur3.Sum64(h.buf) }
