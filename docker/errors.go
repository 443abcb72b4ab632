package docker

import (
	"errors"
	"strconv"
	"strings"

	"github.com/amacal/etl0/tarstream"
)

// ErrorKind is the closed set of failure classes the client can report.
//
// Every error escaping this package can be inspected as ([errors.As]) an
// *Error, and compared with [errors.Is] against one of these kinds.
type ErrorKind string

// Error implements error so kinds can be used as [errors.Is] targets.
func (k ErrorKind) Error() string { return string(k) }

// The possible kinds.
const (
	// ErrUnixSocketConnect reports a failed connect to the engine socket.
	ErrUnixSocketConnect ErrorKind = "unix socket connect"
	// ErrHandshake reports a failure preparing the connected socket for the
	// HTTP exchange.
	ErrHandshake ErrorKind = "handshake failed"
	// ErrBuilder reports a malformed request that could not be constructed.
	ErrBuilder ErrorKind = "request builder failed"
	// ErrRequest reports a failed request/response exchange before a status
	// line was read.
	ErrRequest ErrorKind = "request failed"
	// ErrStatus reports a non-2xx status. The Error carries the response
	// envelope so the caller can decode the engine's error body.
	ErrStatus ErrorKind = "status failed"
	// ErrResponse reports a failure draining a response body.
	ErrResponse ErrorKind = "response failed"
	// ErrHTTPFrame reports a failure reading one frame of a streamed body.
	ErrHTTPFrame ErrorKind = "http frame failed"
	// ErrHTTPFrameUnrecognized reports a non-data frame in a streamed body.
	ErrHTTPFrameUnrecognized ErrorKind = "http frame unrecognized"
	// ErrConnection reports that the connection driver finished with an
	// error.
	ErrConnection ErrorKind = "connection failed"
	// ErrJoin reports that the connection driver died without finishing.
	ErrJoin ErrorKind = "join failed"
	// ErrDeserialization reports an undecodable JSON payload.
	ErrDeserialization ErrorKind = "deserialization failed"
	// ErrUTF8 reports invalid UTF-8 in a log frame payload.
	ErrUTF8 ErrorKind = "utf-8 parsing failed"
	// ErrTarIO reports an I/O failure inside an outgoing archive body.
	ErrTarIO ErrorKind = "archive i/o failed"
	// ErrTarMemoryAccess reports an out-of-range access inside an outgoing
	// archive body.
	ErrTarMemoryAccess ErrorKind = "archive memory access"
)

// Error is the docker client error domain type.
type Error struct {
	Kind ErrorKind
	// URL is the request path involved, or the socket path for connection
	// setup failures.
	URL string
	// StatusCode is the HTTP status for ErrStatus, and the status observed
	// when a payload failed to decode, if any.
	StatusCode int
	// Body holds the raw payload of a failed deserialization.
	Body []byte
	// Response carries the live envelope for ErrStatus so the caller can
	// still decode the engine's error body.
	Response *Response
	// Inner is the underlying cause, if any.
	Inner error
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("docker: ")
	b.WriteString(string(e.Kind))
	if e.URL != "" {
		b.WriteString(" (")
		b.WriteString(e.URL)
		b.WriteString(")")
	}
	if e.StatusCode != 0 {
		b.WriteString(" [")
		b.WriteString(strconv.Itoa(e.StatusCode))
		b.WriteString("]")
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is] against an [ErrorKind].
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && e.Kind == k
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error { return e.Inner }

// wrapDriver classifies an error reported by a connection driver.
//
// Failures that originated in an outgoing archive body keep their archive
// kind so callers can tell a bad input file from a dead socket.
func wrapDriver(url string, err error) *Error {
	var derr *Error
	if errors.As(err, &derr) {
		return derr
	}
	switch {
	case errors.Is(err, tarstream.ErrIO):
		return &Error{Kind: ErrTarIO, URL: url, Inner: err}
	case errors.Is(err, tarstream.ErrMemoryAccess):
		return &Error{Kind: ErrTarMemoryAccess, URL: url, Inner: err}
	}
	return &Error{Kind: ErrConnection, URL: url, Inner: err}
}
