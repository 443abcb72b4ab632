package docker

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
)

// Response is the envelope around one HTTP response.
//
// It owns the response body and the connection driver. The terminal
// operations ([Response.Bytes], [Response.JSON], [Response.DecodeError])
// drain the body, join the driver exactly once, and close the socket; after
// any of them the envelope is spent. Streaming endpoints instead hand the
// envelope to a decoder, which takes over that lifecycle.
type Response struct {
	url  string
	conn net.Conn
	resp *http.Response
	drv  *driver
}

// StatusCode reports the response's HTTP status.
func (r *Response) StatusCode() int {
	return r.resp.StatusCode
}

// Bytes drains the body, joins the driver, and returns the payload.
//
// A driver failure surfaces even when the body itself was read cleanly.
func (r *Response) Bytes(ctx context.Context) ([]byte, error) {
	data, err := io.ReadAll(r.resp.Body)
	if err != nil {
		r.conn.Close()
		r.drv.join()
		return nil, &Error{Kind: ErrResponse, URL: r.url, Inner: err}
	}
	if err := r.drv.join(); err != nil {
		r.conn.Close()
		return nil, wrapDriver(r.url, err)
	}
	if err := r.conn.Close(); err != nil {
		return nil, &Error{Kind: ErrConnection, URL: r.url, Inner: err}
	}
	return data, nil
}

// JSON drains the body and decodes it into v.
//
// Decode failures carry the observed HTTP status and the raw payload for
// diagnostics.
func (r *Response) JSON(ctx context.Context, v any) error {
	status := r.resp.StatusCode
	data, err := r.Bytes(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: ErrDeserialization, URL: r.url, StatusCode: status, Body: data, Inner: err}
	}
	return nil
}

// DecodeError decodes the engine's standard error envelope from the body.
func (r *Response) DecodeError(ctx context.Context) (*ErrorResponse, error) {
	var er ErrorResponse
	if err := r.JSON(ctx, &er); err != nil {
		return nil, err
	}
	return &er, nil
}

// Close abandons the response without draining it.
//
// The socket closes under the driver, whose result is discarded; the engine
// observes a client-side close.
func (r *Response) Close() error {
	err := r.conn.Close()
	r.drv.join()
	return err
}
