package docker

import (
	"context"
	"encoding/binary"
	"unicode/utf8"
)

// StdStream identifies the originating descriptor of a multiplexed log
// frame.
type StdStream uint8

const (
	Stdin  StdStream = 0
	Stdout StdStream = 1
	Stderr StdStream = 2
)

// String implements fmt.Stringer.
func (s StdStream) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}
	return "invalid"
}

// LogMessage is one decoded frame of a container's output.
type LogMessage struct {
	Stream StdStream
	Text   string
}

// logFrameHeader is the fixed prefix of every multiplexed frame: the stream
// id, three zero bytes, and a big-endian payload size.
const logFrameHeader = 8

// logCodec decodes the engine's multiplexed stdout/stderr wire format.
type logCodec struct{}

// extract walks the buffer frame by frame. Incomplete frames stay buffered
// for the next call; an invalid UTF-8 payload is a per-item error that also
// breaks the stream.
func (logCodec) extract(buf *streamBuffer) []result[LogMessage] {
	var out []result[LogMessage]
	current := 0

	data := buf.Bytes()
	for current < len(data) {
		if current+logFrameHeader > len(data) {
			break
		}
		size := int(binary.BigEndian.Uint32(data[current+4 : current+8]))
		start := current + logFrameHeader
		end := start + size
		if end > len(data) {
			break
		}

		payload := data[start:end]
		if !utf8.Valid(payload) {
			out = append(out, result[LogMessage]{err: &Error{Kind: ErrUTF8}})
			current = end
			break
		}
		out = append(out, result[LogMessage]{item: LogMessage{
			Stream: StdStream(data[current]),
			Text:   string(payload),
		}})
		current = end
	}

	if current > 0 {
		buf.Consume(current)
	}
	return out
}

// LogStream yields the decoded frames of a logs or attach response.
type LogStream struct {
	inner *stream[LogMessage]
}

func newLogStream(resp *Response) *LogStream {
	return &LogStream{inner: newStream[LogMessage](logCodec{}, resp)}
}

// Next returns the next log message.
//
// It returns [io.EOF] once the stream is exhausted. Other errors are
// delivered in wire order alongside the messages and leave already-decoded
// messages readable.
func (l *LogStream) Next(ctx context.Context) (LogMessage, error) {
	return l.inner.next(ctx)
}

// Close abandons the stream; the engine observes a client-side close.
func (l *LogStream) Close() error {
	return l.inner.close()
}
