// Package runner executes one task as a container lifecycle: pull the
// image, create the container, upload its inputs, attach, start, collect
// output, wait for the exit status, and tear down.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/amacal/etl0/docker"
	"github.com/amacal/etl0/tarstream"
)

// DefaultImage is the image used when Options.Image is empty.
const DefaultImage = "python:3.12"

// uploadPath is where task inputs land inside the container.
const uploadPath = "/opt"

// Options configures a Runner.
type Options struct {
	// Image overrides DefaultImage.
	Image string
	// Pull fetches the image before creating the container.
	Pull bool
	// GzipUpload compresses the input archive on the wire.
	GzipUpload bool
}

// Runner drives task containers over one engine client.
type Runner struct {
	client *docker.Client
	image  string
	pull   bool
	gz     bool
}

// New returns a Runner over client.
func New(client *docker.Client, opts Options) *Runner {
	image := opts.Image
	if image == "" {
		image = DefaultImage
	}
	return &Runner{
		client: client,
		image:  image,
		pull:   opts.Pull,
		gz:     opts.GzipUpload,
	}
}

// Report is the collected result of one task run.
type Report struct {
	// RunID tags this run's log lines.
	RunID uuid.UUID
	// ExitCode is the container's exit status.
	ExitCode int64
	// ExitMessage carries the engine's description of an abnormal exit.
	ExitMessage string
	// Stdout and Stderr hold the decoded output frames in arrival order.
	Stdout []string
	// Stderr is kept apart so a task's error spew survives a noisy stdout.
	Stderr []string
	// Duration is the wall-clock time of the whole lifecycle.
	Duration time.Duration
}

// daemonErr converts an absorbed engine outcome into an error for steps
// where anything but success aborts the run.
func daemonErr(step string, outcome docker.Outcome, daemon *docker.ErrorResponse) error {
	if daemon != nil {
		return fmt.Errorf("runner: %s: %s: %s", step, outcome, daemon.Message)
	}
	return fmt.Errorf("runner: %s: %s", step, outcome)
}

// Run executes command in a fresh container, uploading inputs first.
//
// The engine keeps neither the container nor any state behind: the
// container is stopped and removed even when the run fails halfway.
func (r *Runner) Run(ctx context.Context, command []string, inputs []string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Runner.Run")
	defer span.End()

	report := &Report{RunID: uuid.New()}
	log := slog.With("run", report.RunID, "image", r.image)
	start := time.Now()

	err := r.run(ctx, log, command, inputs, report)
	report.Duration = time.Since(start)
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	observeTask(outcome, report.Duration.Seconds())
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, command, inputs []string, report *Report) error {
	if r.pull {
		if err := r.pullImage(ctx, log); err != nil {
			return err
		}
	}

	created, err := r.client.ContainersCreate(ctx, docker.ContainerCreateSpec{
		Image:   r.image,
		Command: command,
	})
	if err != nil {
		return err
	}
	if created.Outcome != docker.Succeeded {
		return daemonErr("create", created.Outcome, created.Daemon)
	}
	id := created.Created.ID
	log = log.With("container", id)
	log.DebugContext(ctx, "container created", "warnings", created.Created.Warnings)
	defer r.teardown(ctx, log, id)

	if len(inputs) > 0 {
		if err := r.upload(ctx, log, id, inputs); err != nil {
			return err
		}
	}

	attached, err := r.client.ContainersAttach(ctx, id)
	if err != nil {
		return err
	}
	if attached.Outcome != docker.Succeeded {
		return daemonErr("attach", attached.Outcome, attached.Daemon)
	}

	started, err := r.client.ContainersStart(ctx, id)
	if err != nil {
		attached.Stream.Close()
		return err
	}
	if started.Outcome != docker.Succeeded && started.Outcome != docker.AlreadyStarted {
		attached.Stream.Close()
		return daemonErr("start", started.Outcome, started.Daemon)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.pump(gctx, attached.Stream, report)
	})
	g.Go(func() error {
		waited, err := r.client.ContainersWait(gctx, id)
		if err != nil {
			return err
		}
		if waited.Outcome != docker.Succeeded {
			return daemonErr("wait", waited.Outcome, waited.Daemon)
		}
		report.ExitCode = waited.Exit.StatusCode
		if waited.Exit.Error != nil {
			report.ExitMessage = waited.Exit.Error.Message
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		attached.Stream.Close()
		return err
	}

	log.InfoContext(ctx, "task finished", "exit", report.ExitCode)
	return nil
}

// pullImage drains the progress stream, logging at most one progress line a
// second. A pull error record aborts the run.
func (r *Runner) pullImage(ctx context.Context, log *slog.Logger) error {
	pull, err := r.client.ImagesCreate(ctx, r.image)
	if err != nil {
		return err
	}
	if pull.Outcome != docker.Succeeded {
		return daemonErr("pull", pull.Outcome, pull.Daemon)
	}

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	for {
		event, err := pull.Stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Mid-stream decode hiccups are logged, not fatal; the terminal
			// connection errors end the stream on their own.
			log.WarnContext(ctx, "pull record undecodable", "error", err)
			continue
		}
		switch event.Kind {
		case docker.PullError:
			pull.Stream.Close()
			return fmt.Errorf("runner: pull: %s: %s", event.Message, event.Detail)
		case docker.PullProgress:
			if limiter.Allow() {
				log.InfoContext(ctx, "pulling", "layer", event.ID, "status", event.Status, "current", event.Current, "total", event.Total)
			}
		case docker.PullStatus:
			log.DebugContext(ctx, "pull status", "layer", event.ID, "status", event.Status)
		case docker.PullInfo:
			log.DebugContext(ctx, "pull info", "status", event.Status)
		}
	}
}

// upload ships the input files into the container under /opt.
func (r *Runner) upload(ctx context.Context, log *slog.Logger, id string, inputs []string) error {
	var archive tarstream.Archive
	for _, input := range inputs {
		archive.AppendFile(input)
	}

	var opts []docker.UploadOption
	if r.gz {
		opts = append(opts, docker.WithGzip())
	}
	uploaded, err := r.client.ContainerUpload(ctx, id, uploadPath, &archive, opts...)
	if err != nil {
		return err
	}
	if uploaded.Outcome != docker.Succeeded {
		return daemonErr("upload", uploaded.Outcome, uploaded.Daemon)
	}
	log.DebugContext(ctx, "inputs uploaded", "files", len(inputs), "path", uploadPath)
	return nil
}

// pump drains the attach stream into the report.
func (r *Runner) pump(ctx context.Context, stream *docker.LogStream, report *Report) error {
	for {
		msg, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, docker.ErrUTF8) {
				slog.WarnContext(ctx, "undecodable log frame", "error", err)
				continue
			}
			return err
		}
		switch msg.Stream {
		case docker.Stderr:
			report.Stderr = append(report.Stderr, msg.Text)
		default:
			report.Stdout = append(report.Stdout, msg.Text)
		}
	}
}

// teardown stops and removes the container, tolerating the states the
// engine may already be in.
func (r *Runner) teardown(ctx context.Context, log *slog.Logger, id string) {
	stopped, err := r.client.ContainersStop(ctx, id)
	switch {
	case err != nil:
		log.WarnContext(ctx, "stop failed", "error", err)
	case stopped.Outcome != docker.Succeeded && stopped.Outcome != docker.AlreadyStopped:
		log.WarnContext(ctx, "stop refused", "outcome", stopped.Outcome.String())
	}

	removed, err := r.client.ContainersRemove(ctx, id)
	switch {
	case err != nil:
		log.WarnContext(ctx, "remove failed", "error", err)
	case removed.Outcome != docker.Succeeded:
		log.WarnContext(ctx, "remove refused", "outcome", removed.Outcome.String())
	}
}
