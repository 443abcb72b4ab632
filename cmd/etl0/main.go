// Command etl0 discovers .pipeline files and dispatches their tasks to
// containers on the local engine.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/crgimenes/goconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amacal/etl0/docker"
	"github.com/amacal/etl0/internal/runner"
	"github.com/amacal/etl0/pipeline"
)

// Config this struct is using the goconfig library for simple flag and env
// var parsing. See: https://github.com/crgimenes/goconfig
type Config struct {
	Socket      string `cfgDefault:"/var/run/docker.sock" cfg:"ENGINE_SOCKET" cfgHelper:"path of the engine's unix socket"`
	Root        string `cfgDefault:"." cfg:"PIPELINE_ROOT" cfgHelper:"directory walked for .pipeline files"`
	Image       string `cfgDefault:"python:3.12" cfg:"TASK_IMAGE" cfgHelper:"image tasks run in"`
	Command     string `cfgDefault:"" cfg:"TASK_COMMAND" cfgHelper:"space-separated command run for each task; empty only reports parsed tasks"`
	Inputs      string `cfgDefault:"" cfg:"TASK_INPUTS" cfgHelper:"comma-separated files uploaded into each task container"`
	Pull        bool   `cfgDefault:"true" cfg:"PULL_IMAGE" cfgHelper:"pull the image before the first task"`
	GzipUpload  bool   `cfgDefault:"false" cfg:"GZIP_UPLOAD" cfgHelper:"gzip the input archive on the wire"`
	LogLevel    string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"log levels: debug, info, warn, error"`
	MetricsAddr string `cfgDefault:"" cfg:"METRICS_ADDR" cfgHelper:"listen address for the Prometheus endpoint; empty disables it"`
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func main() {
	ctx := context.Background()

	conf := Config{}
	if err := goconfig.Parse(&conf); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(conf.LogLevel),
	})))

	if conf.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(conf.MetricsAddr, mux); err != nil {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	pipelines, err := pipeline.Find(conf.Root)
	if err != nil {
		slog.Error("pipeline discovery failed", "error", err)
		os.Exit(1)
	}

	var inputs []string
	if conf.Inputs != "" {
		inputs = strings.Split(conf.Inputs, ",")
	}
	var command []string
	if conf.Command != "" {
		command = strings.Fields(conf.Command)
	}

	run := runner.New(docker.NewClient(conf.Socket), runner.Options{
		Image:      conf.Image,
		Pull:       conf.Pull,
		GzipUpload: conf.GzipUpload,
	})

	failed := false
	for _, p := range pipelines {
		log := slog.With("pipeline", p.Path)
		for _, task := range p.Tasks() {
			log := log.With("line", task.Line, "plugin", task.Plugin.String())
			if command == nil {
				// Plugin execution is out of scope; without a configured
				// command there is nothing to dispatch.
				log.Info("task parsed")
				continue
			}
			report, err := run.Run(ctx, command, inputs)
			if err != nil {
				log.Error("task failed", "error", err)
				failed = true
				continue
			}
			log.Info("task done",
				"run", report.RunID,
				"exit", report.ExitCode,
				"stdout", len(report.Stdout),
				"stderr", len(report.Stderr),
				"duration", report.Duration,
			)
			for _, line := range report.Stderr {
				log.Warn("task stderr", "text", strings.TrimRight(line, "\n"))
			}
			if report.ExitCode != 0 {
				failed = true
			}
		}
	}
	if failed {
		os.Exit(1)
	}
}
