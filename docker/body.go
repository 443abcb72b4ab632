package docker

import (
	"context"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/amacal/etl0/tarstream"
)

// archiveBody adapts a [tarstream.Stream] into the reader driving a PUT
// body.
//
// Reads pull chunks on demand, so the files on disk are read no faster than
// the engine accepts bytes. Archive errors propagate into the request write
// path and surface through the connection driver with their archive kind
// intact.
type archiveBody struct {
	ctx     context.Context
	stream  *tarstream.Stream
	current []byte
	err     error
}

func newArchiveBody(ctx context.Context, stream *tarstream.Stream) *archiveBody {
	return &archiveBody{ctx: ctx, stream: stream}
}

// Read implements io.Reader.
func (b *archiveBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	for len(b.current) == 0 {
		chunk, err := b.stream.Next(b.ctx)
		if err == io.EOF {
			b.err = io.EOF
			return 0, io.EOF
		}
		if err != nil {
			b.err = err
			return 0, err
		}
		b.current = chunk.Bytes()
	}
	n := copy(p, b.current)
	b.current = b.current[n:]
	return n, nil
}

// gzipBody compresses an upstream reader through a pipe. The engine accepts
// gzip for archive uploads.
func gzipBody(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		_, err := io.Copy(gz, r)
		cerr := gz.Close()
		pw.CloseWithError(errors.Join(err, cerr))
	}()
	return pr
}

// UploadOption configures an archive upload.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	gzip bool
}

// WithGzip compresses the upload body. The engine decompresses it before
// extracting the archive.
func WithGzip() UploadOption {
	return func(o *uploadOptions) { o.gzip = true }
}
