// Package docker is a streaming client for the container engine API over a
// unix socket.
//
// The client opens one connection per request and never retries. Unary
// endpoints drain their response and return a typed outcome; the logs,
// attach, and image-create endpoints return decoders over the live body, and
// archive uploads stream a tar produced on the fly from files on disk.
//
// Expected HTTP statuses are absorbed into each endpoint's [Outcome] set;
// anything else — transport failures included — is reported as an *[Error].
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/amacal/etl0/tarstream"
)

// DefaultSocket is the engine's conventional socket path.
const DefaultSocket = "/var/run/docker.sock"

// apiPrefix pins the negotiated engine API version.
const apiPrefix = "/v1.42"

// uploadBufferSize caps the data chunks of an outgoing archive.
const uploadBufferSize = 1 << 20

// Client issues typed requests against one engine socket.
//
// Client is stateless and safe for concurrent use; every call dials its own
// connection.
type Client struct {
	socket string
}

// NewClient returns a client for the engine listening at socket.
func NewClient(socket string) *Client {
	return &Client{socket: socket}
}

// statusTable maps one endpoint's expected statuses to outcomes.
type statusTable map[int]Outcome

// absorb reclassifies an [ErrStatus] error through the endpoint's table.
//
// For a listed status the engine's error body is decoded from the envelope
// carried inside the error; 304 has no body and closes the envelope instead.
// Unlisted statuses and unrelated errors pass through unchanged.
func absorb(ctx context.Context, err error, table statusTable) (Outcome, *ErrorResponse, bool, error) {
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != ErrStatus {
		return 0, nil, false, err
	}
	outcome, ok := table[derr.StatusCode]
	if !ok {
		return 0, nil, false, err
	}
	if derr.StatusCode == http.StatusNotModified {
		derr.Response.Close()
		return outcome, nil, true, nil
	}
	daemon, err := derr.Response.DecodeError(ctx)
	if err != nil {
		return 0, nil, false, err
	}
	return outcome, daemon, true, nil
}

func (c *Client) instrument(ctx context.Context, endpoint string) {
	requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// ContainersList lists all containers, running or not.
func (c *Client) ContainersList(ctx context.Context) (ContainerList, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersList")
	defer span.End()
	c.instrument(ctx, "containers_list")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerList{}, err
	}
	resp, err := conn.get(ctx, apiPrefix+"/containers/json?all=true")
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			400: BadParameter,
			500: ServerError,
		})
		if !ok {
			return ContainerList{}, err
		}
		return ContainerList{Outcome: outcome, Daemon: daemon}, nil
	}

	var containers []ContainerInfo
	if err := resp.JSON(ctx, &containers); err != nil {
		return ContainerList{}, err
	}
	return ContainerList{Outcome: Succeeded, Containers: containers}, nil
}

// ContainersCreate creates a container from spec.
func (c *Client) ContainersCreate(ctx context.Context, spec ContainerCreateSpec) (ContainerCreate, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersCreate")
	defer span.End()
	c.instrument(ctx, "containers_create")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerCreate{}, err
	}
	resp, err := conn.post(ctx, apiPrefix+"/containers/create", spec)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			400: BadParameter,
			404: NoSuchImage,
			409: Conflict,
			500: ServerError,
		})
		if !ok {
			return ContainerCreate{}, err
		}
		return ContainerCreate{Outcome: outcome, Daemon: daemon}, nil
	}

	var created ContainerCreateResponse
	if err := resp.JSON(ctx, &created); err != nil {
		return ContainerCreate{}, err
	}
	return ContainerCreate{Outcome: Succeeded, Created: created}, nil
}

// ContainersStart starts the container with the given id.
func (c *Client) ContainersStart(ctx context.Context, id string) (ContainerStart, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersStart")
	defer span.End()
	c.instrument(ctx, "containers_start")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerStart{}, err
	}
	resp, err := conn.post(ctx, fmt.Sprintf("%s/containers/%s/start", apiPrefix, url.PathEscape(id)), nil)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			304: AlreadyStarted,
			404: NoSuchContainer,
			500: ServerError,
		})
		if !ok {
			return ContainerStart{}, err
		}
		return ContainerStart{Outcome: outcome, Daemon: daemon}, nil
	}

	if _, err := resp.Bytes(ctx); err != nil {
		return ContainerStart{}, err
	}
	return ContainerStart{Outcome: Succeeded}, nil
}

// ContainersStop stops the container with the given id.
func (c *Client) ContainersStop(ctx context.Context, id string) (ContainerStop, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersStop")
	defer span.End()
	c.instrument(ctx, "containers_stop")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerStop{}, err
	}
	resp, err := conn.post(ctx, fmt.Sprintf("%s/containers/%s/stop", apiPrefix, url.PathEscape(id)), nil)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			304: AlreadyStopped,
			404: NoSuchContainer,
			500: ServerError,
		})
		if !ok {
			return ContainerStop{}, err
		}
		return ContainerStop{Outcome: outcome, Daemon: daemon}, nil
	}

	if _, err := resp.Bytes(ctx); err != nil {
		return ContainerStop{}, err
	}
	return ContainerStop{Outcome: Succeeded}, nil
}

// ContainersWait blocks until the container exits and reports its status.
func (c *Client) ContainersWait(ctx context.Context, id string) (ContainerWait, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersWait")
	defer span.End()
	c.instrument(ctx, "containers_wait")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerWait{}, err
	}
	resp, err := conn.post(ctx, fmt.Sprintf("%s/containers/%s/wait", apiPrefix, url.PathEscape(id)), nil)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			400: BadParameter,
			404: NoSuchContainer,
			500: ServerError,
		})
		if !ok {
			return ContainerWait{}, err
		}
		return ContainerWait{Outcome: outcome, Daemon: daemon}, nil
	}

	var exit ContainerWaitResponse
	if err := resp.JSON(ctx, &exit); err != nil {
		return ContainerWait{}, err
	}
	return ContainerWait{Outcome: Succeeded, Exit: exit}, nil
}

// ContainersRemove removes the container with the given id.
func (c *Client) ContainersRemove(ctx context.Context, id string) (ContainerRemove, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersRemove")
	defer span.End()
	c.instrument(ctx, "containers_remove")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerRemove{}, err
	}
	resp, err := conn.delete(ctx, fmt.Sprintf("%s/containers/%s", apiPrefix, url.PathEscape(id)))
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			400: BadParameter,
			404: NoSuchContainer,
			409: Conflict,
			500: ServerError,
		})
		if !ok {
			return ContainerRemove{}, err
		}
		return ContainerRemove{Outcome: outcome, Daemon: daemon}, nil
	}

	if _, err := resp.Bytes(ctx); err != nil {
		return ContainerRemove{}, err
	}
	return ContainerRemove{Outcome: Succeeded}, nil
}

// ContainersLogs streams the container's buffered stdout.
//
// On success the returned stream owns the connection; the caller must drain
// it to [io.EOF] or close it.
func (c *Client) ContainersLogs(ctx context.Context, id string) (ContainerLogs, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersLogs")
	defer span.End()
	c.instrument(ctx, "containers_logs")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerLogs{}, err
	}
	resp, err := conn.get(ctx, fmt.Sprintf("%s/containers/%s/logs?stdout=true", apiPrefix, url.PathEscape(id)))
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			404: NoSuchContainer,
			500: ServerError,
		})
		if !ok {
			return ContainerLogs{}, err
		}
		return ContainerLogs{Outcome: outcome, Daemon: daemon}, nil
	}
	return ContainerLogs{Outcome: Succeeded, Stream: newLogStream(resp)}, nil
}

// ContainersAttach attaches to the container's output, replaying buffered
// logs and following the live stream.
//
// On success the returned stream owns the connection; the caller must drain
// it to [io.EOF] or close it.
func (c *Client) ContainersAttach(ctx context.Context, id string) (ContainerAttach, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainersAttach")
	defer span.End()
	c.instrument(ctx, "containers_attach")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerAttach{}, err
	}
	u := fmt.Sprintf("%s/containers/%s/attach?logs=true&stream=true&stdout=true&stderr=true", apiPrefix, url.PathEscape(id))
	resp, err := conn.post(ctx, u, nil)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			400: BadParameter,
			404: NoSuchContainer,
			500: ServerError,
		})
		if !ok {
			return ContainerAttach{}, err
		}
		return ContainerAttach{Outcome: outcome, Daemon: daemon}, nil
	}
	return ContainerAttach{Outcome: Succeeded, Stream: newLogStream(resp)}, nil
}

// ContainerUpload extracts the archive into the container at path.
//
// The archive streams from disk under the engine's demand; nothing is
// buffered beyond one chunk.
func (c *Client) ContainerUpload(ctx context.Context, id, path string, archive *tarstream.Archive, opts ...UploadOption) (ContainerUpload, error) {
	ctx, span := tracer.Start(ctx, "Client.ContainerUpload")
	defer span.End()
	c.instrument(ctx, "container_upload")

	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}
	ab := newArchiveBody(ctx, archive.Stream(uploadBufferSize))
	body := io.Reader(ab)
	if o.gzip {
		body = gzipBody(body)
	}

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ContainerUpload{}, err
	}
	u := fmt.Sprintf("%s/containers/%s/archive?path=%s", apiPrefix, url.PathEscape(id), url.QueryEscape(path))
	// net/http hands a failed body read to the driver in a wrapper that
	// cannot be unwrapped; the archive's own error restores its kind.
	archiveErr := func(err error) error {
		if errors.Is(err, ErrConnection) && ab.err != nil && ab.err != io.EOF {
			return wrapDriver(u, ab.err)
		}
		return err
	}
	resp, err := conn.put(ctx, u, body)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, archiveErr(err), statusTable{
			400: BadParameter,
			403: PermissionDenied,
			404: NoSuchContainer,
			500: ServerError,
		})
		if !ok {
			return ContainerUpload{}, err
		}
		return ContainerUpload{Outcome: outcome, Daemon: daemon}, nil
	}

	if _, err := resp.Bytes(ctx); err != nil {
		return ContainerUpload{}, archiveErr(err)
	}
	return ContainerUpload{Outcome: Succeeded}, nil
}

// ImagesCreate pulls the named image from its registry.
//
// On success the returned stream yields the engine's progress records; the
// caller must drain it to [io.EOF] or close it.
func (c *Client) ImagesCreate(ctx context.Context, fromImage string) (ImageCreate, error) {
	ctx, span := tracer.Start(ctx, "Client.ImagesCreate")
	defer span.End()
	c.instrument(ctx, "images_create")

	conn, err := dialEngine(ctx, c.socket)
	if err != nil {
		return ImageCreate{}, err
	}
	u := fmt.Sprintf("%s/images/create?fromImage=%s", apiPrefix, url.QueryEscape(fromImage))
	resp, err := conn.post(ctx, u, nil)
	if err != nil {
		outcome, daemon, ok, err := absorb(ctx, err, statusTable{
			404: NoReadAccess,
			500: ServerError,
		})
		if !ok {
			return ImageCreate{}, err
		}
		return ImageCreate{Outcome: outcome, Daemon: daemon}, nil
	}
	return ImageCreate{Outcome: Succeeded, Stream: newPullStream(resp)}, nil
}
