package tarstream

import (
	"context"
	"fmt"
	"io"
	"os"
)

// state enumerates the stream's positions between chunks.
type state uint8

const (
	// stateInit has no current entry; the next poll either opens the next
	// entry or begins the terminal padding.
	stateInit state = iota
	// stateOpen is opening the current entry's file.
	stateOpen
	// stateHeader is inspecting the open file and synthesising its header.
	stateHeader
	// stateRead is filling data chunks from the open file.
	stateRead
	// statePadding is emitting the two terminal zero blocks.
	statePadding
	// stateCompleted yields end-of-stream forever.
	stateCompleted
)

// Stream produces a tar archive chunk by chunk.
//
// A Stream is single-use and single-consumer. Once it has completed or
// reported an I/O error it yields [io.EOF] forever.
type Stream struct {
	entries []string
	bufSize int

	st   state
	path string
	file *os.File

	// Read-state bookkeeping: bytes of the current entry still unread, the
	// chunk being filled, and the fill offset within it.
	remaining int64
	chunk     Chunk
	offset    int

	padIndex int
}

// pages computes the size of the next data chunk in 512-byte pages:
// min(buffer/512, ceil(remaining/512)).
func (s *Stream) pages() int {
	available := s.bufSize / blockSize
	need := int((s.remaining + blockSize - 1) / blockSize)
	if need < available {
		return need
	}
	return available
}

// fail tears the stream down and reports a single terminal error.
func (s *Stream) fail(err error) (Chunk, error) {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.st = stateCompleted
	return Chunk{}, err
}

// Next returns the next chunk of the archive.
//
// It returns [io.EOF] after the final padding block, and forever after. Any
// I/O failure is reported once, after which the stream is completed.
func (s *Stream) Next(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil && s.st != stateCompleted {
			return s.fail(ioError(s.path, err))
		}

		switch s.st {
		case stateInit:
			if len(s.entries) == 0 {
				s.st = statePadding
				continue
			}
			s.path = s.entries[0]
			s.entries = s.entries[1:]
			s.st = stateOpen

		case stateOpen:
			f, err := os.Open(s.path)
			if err != nil {
				return s.fail(ioError(s.path, err))
			}
			s.file = f
			s.st = stateHeader

		case stateHeader:
			fi, err := s.file.Stat()
			if err != nil {
				return s.fail(ioError(s.path, err))
			}
			header, err := newHeader(s.path, fi)
			if err != nil {
				return s.fail(err)
			}
			s.remaining = fi.Size()
			s.chunk = dataChunk(s.pages())
			s.offset = 0
			s.st = stateRead
			return header, nil

		case stateRead:
			if s.remaining == 0 {
				chunk := s.chunk
				s.chunk = Chunk{}
				s.file.Close()
				s.file = nil
				s.st = stateInit
				return chunk, nil
			}
			window, err := s.chunk.window(s.offset)
			if err != nil {
				return s.fail(err)
			}
			if int64(len(window)) > s.remaining {
				window = window[:s.remaining]
			}
			n, err := s.file.Read(window)
			s.remaining -= int64(n)
			s.offset += n
			if err == io.EOF && s.remaining > 0 {
				err = fmt.Errorf("file truncated with %d bytes unread: %w", s.remaining, io.ErrUnexpectedEOF)
			}
			if err != nil && !(err == io.EOF && s.remaining == 0) {
				return s.fail(ioError(s.path, err))
			}
			if s.remaining == 0 {
				chunk := s.chunk
				s.chunk = Chunk{}
				s.file.Close()
				s.file = nil
				s.st = stateInit
				return chunk, nil
			}
			if s.offset == s.chunk.Len() {
				chunk := s.chunk
				s.chunk = dataChunk(s.pages())
				s.offset = 0
				return chunk, nil
			}
			// Short read into a partially filled chunk; keep reading.

		case statePadding:
			if s.padIndex <= 1 {
				index := s.padIndex
				s.padIndex++
				return paddingChunk(index), nil
			}
			s.st = stateCompleted

		case stateCompleted:
			return Chunk{}, io.EOF
		}
	}
}
