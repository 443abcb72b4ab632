package runner

import (
	"archive/tar"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/amacal/etl0/docker"
)

// logFrame encodes one multiplexed output frame the way the engine does.
func logFrame(stream byte, payload string) []byte {
	frame := make([]byte, 8, 8+len(payload))
	frame[0] = stream
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	return append(frame, payload...)
}

// stubEngine is a minimal engine implementing the lifecycle the runner
// drives.
type stubEngine struct {
	t *testing.T

	started  bool
	stopped  bool
	removed  bool
	uploaded []string
	pulled   bool
}

func (s *stubEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1.42/images/create", func(w http.ResponseWriter, r *http.Request) {
		s.pulled = true
		io.WriteString(w, `{"status":"Pulling","id":"base"}`+"\n")
		io.WriteString(w, `{"status":"Pull complete","id":"base"}`+"\n")
	})
	mux.HandleFunc("POST /v1.42/containers/create", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"Id":"task-1","Warnings":[]}`)
	})
	mux.HandleFunc("PUT /v1.42/containers/task-1/archive", func(w http.ResponseWriter, r *http.Request) {
		tr := tar.NewReader(r.Body)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				s.t.Errorf("uploaded archive unreadable: %v", err)
				break
			}
			io.Copy(io.Discard, tr)
			s.uploaded = append(s.uploaded, filepath.Base(hdr.Name))
		}
	})
	mux.HandleFunc("POST /v1.42/containers/task-1/attach", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write(logFrame(1, "row count: 42\n"))
		flusher.Flush()
		w.Write(logFrame(2, "deprecation warning\n"))
		flusher.Flush()
	})
	mux.HandleFunc("POST /v1.42/containers/task-1/start", func(w http.ResponseWriter, r *http.Request) {
		s.started = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1.42/containers/task-1/wait", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"StatusCode": 0})
	})
	mux.HandleFunc("POST /v1.42/containers/task-1/stop", func(w http.ResponseWriter, r *http.Request) {
		s.stopped = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /v1.42/containers/task-1", func(w http.ResponseWriter, r *http.Request) {
		s.removed = true
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func serve(t *testing.T, handler http.Handler) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "engine.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(listener)
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Error(err)
		}
	})
	return socket
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	input := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(input, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := &stubEngine{t: t}
	socket := serve(t, engine.handler())

	r := New(docker.NewClient(socket), Options{Pull: true})
	report, err := r.Run(ctx, []string{"python", "task.py"}, []string{input})
	if err != nil {
		t.Fatal(err)
	}

	if !engine.pulled || !engine.started || !engine.stopped || !engine.removed {
		t.Errorf("lifecycle incomplete: %+v", engine)
	}
	if diff := cmp.Diff([]string{"input.csv"}, engine.uploaded); diff != "" {
		t.Errorf("uploads (-want +got):\n%s", diff)
	}
	if report.ExitCode != 0 {
		t.Errorf("exit code %d", report.ExitCode)
	}
	if diff := cmp.Diff([]string{"row count: 42\n"}, report.Stdout); diff != "" {
		t.Errorf("stdout (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"deprecation warning\n"}, report.Stderr); diff != "" {
		t.Errorf("stderr (-want +got):\n%s", diff)
	}
}

func TestRunCreateRefused(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1.42/containers/create", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"no such image"}`)
	})
	socket := serve(t, mux)

	r := New(docker.NewClient(socket), Options{})
	if _, err := r.Run(ctx, []string{"true"}, nil); err == nil {
		t.Fatal("expected an error")
	}
}
