// Package tarstream implements a lazy writer for POSIX ustar archives.
//
// An [Archive] is an immutable plan: an ordered list of files on disk. Turning
// the plan into a [Stream] yields the archive as a sequence of [Chunk] values,
// produced under consumer demand. Nothing is read from disk until the consumer
// asks for the next chunk, which makes the stream suitable as an HTTP request
// body that must not run ahead of the peer.
//
// Every chunk is a whole number of 512-byte blocks. A file of size S
// contributes one 512-byte header plus ceil(S/512)*512 bytes of data; the
// archive ends with exactly two 512-byte zero blocks.
package tarstream

// blockSize is the tar block granularity. Everything the stream emits is a
// multiple of this.
const blockSize = 512

// Archive is an ordered plan of files to pack.
//
// The zero value is an empty archive. An Archive is consumed by [Archive.Stream]
// exactly once; appending after that point has no effect on the stream already
// created.
type Archive struct {
	files []string
}

// AppendFile adds the file at path to the archive plan.
//
// The file is not touched until the stream reaches it.
func (a *Archive) AppendFile(path string) {
	a.files = append(a.files, path)
}

// Len reports the number of planned entries.
func (a *Archive) Len() int {
	return len(a.files)
}

// Stream turns the plan into a single-use chunk stream.
//
// The buffer size caps how large a data chunk may grow. It is rounded down to
// a multiple of 512 bytes, with a floor of 512.
func (a *Archive) Stream(bufferSize int) *Stream {
	bufferSize = bufferSize / blockSize * blockSize
	if bufferSize < blockSize {
		bufferSize = blockSize
	}
	entries := make([]string, len(a.files))
	copy(entries, a.files)
	return &Stream{
		entries: entries,
		bufSize: bufferSize,
	}
}
