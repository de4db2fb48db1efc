package gpucache

import "honnef.co/go/safeish"

// BlockSize is the size of one Block in bytes.
const BlockSize = 16

// Update is a contiguous run of blocks to copy into the backing texture.
type Update struct {
	// Address is the index of the first block.
	Address uint32
	// Blocks holds the new contents.
	Blocks []Block
}

// Bytes returns the run as raw little-endian bytes without copying.
func (u Update) Bytes() []byte {
	return Bytes(u.Blocks)
}

// Bytes views blocks as the rgba32float texels of the backing texture
// without copying.
func Bytes(blocks []Block) []byte {
	return safeish.SliceCast[[]byte](blocks)
}

// Origin returns the texel coordinates of the run's first block in the
// RowBlocks-wide backing texture.
func (u Update) Origin() (x, y uint32) {
	return u.Address % RowBlocks, u.Address / RowBlocks
}

// UpdateList is the per-frame upload diff, ordered by address.
type UpdateList struct {
	// Frame is the frame the diff was produced for.
	Frame FrameID
	// Height is the number of RowBlocks-wide rows the backing texture needs.
	Height int
	// Updates lists the changed runs.
	Updates []Update
}

// IsEmpty reports whether nothing needs uploading.
func (l UpdateList) IsEmpty() bool { return len(l.Updates) == 0 }

// BlockCount returns the total number of blocks to upload.
func (l UpdateList) BlockCount() int {
	n := 0
	for _, u := range l.Updates {
		n += len(u.Blocks)
	}
	return n
}

// Apply copies the diff into a CPU mirror of the backing store, growing it
// as needed. Used by software consumers and tests.
func (l UpdateList) Apply(mirror []Block) []Block {
	for _, u := range l.Updates {
		end := int(u.Address) + len(u.Blocks)
		if end > len(mirror) {
			mirror = append(mirror, make([]Block, end-len(mirror))...)
		}
		copy(mirror[u.Address:], u.Blocks)
	}
	return mirror
}
