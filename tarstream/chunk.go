package tarstream

import "fmt"

// Kind discriminates the chunk variants a [Stream] emits.
type Kind uint8

const (
	// KindHeader is a 512-byte ustar header. It carries the entry path for
	// diagnostics.
	KindHeader Kind = iota
	// KindData is file content in whole 512-byte pages. Only the final page
	// of an entry may be partially filled; the remainder is zero.
	KindData
	// KindPadding is a single 512-byte zero block. Two of them terminate the
	// archive.
	KindPadding
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindData:
		return "data"
	case KindPadding:
		return "padding"
	}
	return "invalid"
}

// Chunk is the unit produced by a [Stream].
type Chunk struct {
	kind Kind
	path string
	// index orders the two terminal padding blocks.
	index int
	data  []byte
}

func headerChunk(path string, data []byte) Chunk {
	return Chunk{kind: KindHeader, path: path, data: data}
}

func dataChunk(pages int) Chunk {
	return Chunk{kind: KindData, data: make([]byte, pages*blockSize)}
}

func paddingChunk(index int) Chunk {
	return Chunk{kind: KindPadding, index: index}
}

// Kind reports the chunk variant.
func (c Chunk) Kind() Kind { return c.kind }

// Path reports the entry path for header chunks, and "" otherwise.
func (c Chunk) Path() string { return c.path }

// Index reports the padding ordinal (0 or 1) for padding chunks.
func (c Chunk) Index() int { return c.index }

// Len reports the chunk's size on the wire.
func (c Chunk) Len() int {
	if c.kind == KindPadding {
		return blockSize
	}
	return len(c.data)
}

// Bytes returns the chunk's wire representation.
func (c Chunk) Bytes() []byte {
	if c.kind == KindPadding {
		return make([]byte, blockSize)
	}
	return c.data
}

// window returns the writable tail of the chunk starting at off.
//
// Padding chunks have no writable storage; an out-of-range offset is an
// ErrMemoryAccess.
func (c Chunk) window(off int) ([]byte, error) {
	if c.kind == KindPadding {
		return nil, memoryError(fmt.Sprintf("padding cannot provide offset, but requested %d", off))
	}
	if off < 0 || off > len(c.data) {
		return nil, memoryError(fmt.Sprintf("%s cannot provide offset at %d, length=%d", c.kind, off, len(c.data)))
	}
	return c.data[off:], nil
}
