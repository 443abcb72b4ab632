// Package pipeline discovers and parses .pipeline files.
//
// A pipeline file is markdown-flavoured text whose tasks live in fenced
// blocks. The fence's info string names the plugin that should run the block,
// as "vendor/dep@MAJOR.MINOR.PATCH"; the block's content is the task payload.
// Everything outside the fences is ignored.
package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
)

// PluginRef identifies the plugin a task targets.
type PluginRef struct {
	Vendor  string
	Dep     string
	Version *semver.Version
}

// String implements fmt.Stringer.
func (r PluginRef) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Vendor, r.Dep, r.Version)
}

// Task is one fenced block of a pipeline file.
type Task struct {
	// Line is the 1-based line of the opening fence.
	Line    int
	Content string
	Plugin  PluginRef
}

// Pipeline is one parsed .pipeline file.
type Pipeline struct {
	// Path is the file's location on disk.
	Path string
	// Length is the file's size in bytes.
	Length int
	tasks  []Task
}

// Tasks returns the file's tasks in document order.
func (p *Pipeline) Tasks() []Task {
	return p.tasks
}

// ParseError reports a malformed pipeline file with its position.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("pipeline: %s:%d: %s", e.Path, e.Line, e.Msg)
}

// fenceOpen matches an opening fence carrying a plugin reference.
var fenceOpen = regexp.MustCompile(`^` + "```" + ` (?P<vendor>[a-zA-Z0-9]+)/(?P<dep>[a-zA-Z0-9]+)@(?P<version>\d+\.\d+\.\d+)$`)

// fenceClose is a bare closing fence.
const fenceClose = "```"

// parse reads tasks out of one file's content.
func parse(path, content string) ([]Task, error) {
	var tasks []Task
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if !strings.HasPrefix(line, fenceClose) {
			continue
		}
		m := fenceOpen.FindStringSubmatch(line)
		if m == nil {
			return nil, &ParseError{Path: path, Line: i + 1, Msg: fmt.Sprintf("malformed fence info string %q", line)}
		}
		version, err := semver.NewVersion(m[3])
		if err != nil {
			return nil, &ParseError{Path: path, Line: i + 1, Msg: fmt.Sprintf("bad plugin version %q: %v", m[3], err)}
		}

		open := i
		var body []string
		closed := false
		for i++; i < len(lines); i++ {
			line := strings.TrimRight(lines[i], "\r")
			if line == fenceClose {
				closed = true
				break
			}
			body = append(body, line)
		}
		if !closed {
			return nil, &ParseError{Path: path, Line: open + 1, Msg: "unterminated fence"}
		}

		tasks = append(tasks, Task{
			Line:    open + 1,
			Content: strings.Join(body, "\n"),
			Plugin: PluginRef{
				Vendor:  m[1],
				Dep:     m[2],
				Version: version,
			},
		})
	}
	return tasks, nil
}

// Open parses the pipeline file at path.
func Open(path string) (*Pipeline, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading %q: %w", path, err)
	}
	tasks, err := parse(path, string(content))
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Path:   path,
		Length: len(content),
		tasks:  tasks,
	}, nil
}

// Find walks root and parses every file with a .pipeline extension,
// case-insensitively.
func Find(root string) ([]*Pipeline, error) {
	var pipelines []*Pipeline
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pipeline") {
			return nil
		}
		p, err := Open(path)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: walking %q: %w", root, err)
	}
	return pipelines, nil
}
