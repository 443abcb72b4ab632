package docker

import (
	"context"
	"io"
)

// streamBuffer is a growable byte buffer with a logical length and a
// consume-from-front operation.
//
// Decoders view the buffered bytes, report how much they consumed, and may
// never look back: consumed bytes are compacted away and the tail moves to
// index 0.
type streamBuffer struct {
	data []byte
	n    int
}

func newStreamBuffer(capacity int) *streamBuffer {
	return &streamBuffer{data: make([]byte, capacity)}
}

// Len reports the logical length.
func (b *streamBuffer) Len() int { return b.n }

// Bytes views the buffered bytes. The slice is invalidated by Append and
// Consume.
func (b *streamBuffer) Bytes() []byte { return b.data[:b.n] }

// Append copies p onto the end, growing the buffer as needed.
func (b *streamBuffer) Append(p []byte) {
	want := b.n + len(p)
	if len(b.data) < want {
		grown := make([]byte, want)
		copy(grown, b.data[:b.n])
		b.data = grown
	}
	copy(b.data[b.n:want], p)
	b.n = want
}

// Consume discards the first count bytes, compacting the tail to index 0.
func (b *streamBuffer) Consume(count int) {
	copy(b.data, b.data[count:b.n])
	b.n -= count
}

// result is one codec output: an item or an in-stream error.
type result[T any] struct {
	item T
	err  error
}

// codec extracts framed items from a buffer.
//
// An extract call returns the items completed by the bytes buffered so far,
// in wire order, consuming what it used. An error result signals that the
// remainder of the byte stream cannot be trusted.
type codec[T any] interface {
	extract(buf *streamBuffer) []result[T]
}

// stream couples an HTTP response body to a framing codec.
//
// It owns the response envelope handed over by the connection layer: the
// body, the socket, and the connection driver, which is joined once the body
// reaches end-of-stream.
type stream[T any] struct {
	codec codec[T]
	url   string
	resp  *Response

	buf     *streamBuffer
	scratch []byte
	queue   []result[T]

	// broken stops buffering and extraction; already-queued items still
	// drain. done marks the terminal state after the driver joined.
	broken bool
	done   bool
}

func newStream[T any](c codec[T], resp *Response) *stream[T] {
	return &stream[T]{
		codec:   c,
		url:     resp.url,
		resp:    resp,
		buf:     newStreamBuffer(64 * 1024),
		scratch: make([]byte, 32*1024),
	}
}

// fail queues a terminal-for-the-buffer error and stops further extraction.
func (s *stream[T]) fail(err error) {
	s.queue = append(s.queue, result[T]{err: err})
	s.broken = true
}

// ingest appends one body frame and runs the codec over the buffer.
//
// Items queue in extraction order. An error item within a batch marks the
// stream broken: results before it are still delivered, nothing after it is.
func (s *stream[T]) ingest(frame []byte) {
	if s.broken {
		return
	}
	s.buf.Append(frame)
	for _, res := range s.codec.extract(s.buf) {
		s.queue = append(s.queue, res)
		if res.err != nil {
			s.broken = true
			break
		}
	}
}

// finish joins the driver and settles the terminal state. Called once, when
// the body is exhausted and the queue has drained.
func (s *stream[T]) finish() {
	if err := s.resp.drv.join(); err != nil {
		s.queue = append(s.queue, result[T]{err: wrapDriver(s.url, err)})
	}
	s.resp.conn.Close()
	s.done = true
}

// next returns the next decoded item, or io.EOF at end-of-stream.
func (s *stream[T]) next(ctx context.Context) (T, error) {
	var zero T
	for {
		if len(s.queue) > 0 {
			res := s.queue[0]
			s.queue = s.queue[1:]
			return res.item, res.err
		}
		if s.done {
			return zero, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return zero, &Error{Kind: ErrHTTPFrame, URL: s.url, Inner: err}
		}

		n, err := s.resp.resp.Body.Read(s.scratch)
		if n > 0 {
			s.ingest(s.scratch[:n])
		}
		switch {
		case err == nil:
		case err == io.EOF:
			// Trailer content after the body is the one non-data frame the
			// transport can hand us.
			if len(s.resp.resp.Trailer) > 0 && !s.broken {
				s.fail(&Error{Kind: ErrHTTPFrameUnrecognized, URL: s.url})
			}
			if len(s.queue) == 0 {
				s.finish()
			} else {
				// Drain queued items first; the driver joins on the next
				// empty-queue pass.
				s.drainThenFinish()
			}
		default:
			s.fail(&Error{Kind: ErrHTTPFrame, URL: s.url, Inner: err})
			s.drainThenFinish()
		}
	}
}

// drainThenFinish arranges for finish to run after the queue empties.
func (s *stream[T]) drainThenFinish() {
	// Pop everything queued, then settle. Implemented by handing the queue
	// back to the caller loop and finishing when it comes up empty: mark the
	// body as exhausted by swapping it for an always-EOF reader.
	s.resp.resp.Body = eofBody{}
}

// eofBody replaces an exhausted or failed body.
type eofBody struct{}

func (eofBody) Read([]byte) (int, error) { return 0, io.EOF }
func (eofBody) Close() error             { return nil }

// close abandons the stream, cancelling the driver by closing the socket.
func (s *stream[T]) close() error {
	if s.done {
		return nil
	}
	err := s.resp.Close()
	s.done = true
	return err
}
