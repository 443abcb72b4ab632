package docker

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// extractPull runs the pull codec over one append of wire bytes.
func extractPull(t *testing.T, wire string) []result[PullEvent] {
	t.Helper()
	buf := newStreamBuffer(64)
	buf.Append([]byte(wire))
	return (pullCodec{}).extract(buf)
}

func TestPullCodecProgressSequence(t *testing.T) {
	wire := `{"status":"Pulling","id":"abc"}` + "\r\n" +
		`{"status":"Downloading","id":"abc","progress":"[=>]","progressDetail":{"current":10,"total":100}}` + "\r\n"

	results := extractPull(t, wire)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, res := range results {
		if res.err != nil {
			t.Fatalf("result %d: %v", i, res.err)
		}
	}
	want := []PullEvent{
		{Kind: PullStatus, ID: "abc", Status: "Pulling"},
		{Kind: PullProgress, ID: "abc", Status: "Downloading", Info: "[=>]", Current: 10, Total: 100},
	}
	got := []PullEvent{results[0].item, results[1].item}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestPullCodecBareLF(t *testing.T) {
	results := extractPull(t, `{"status":"Pulling","id":"abc"}`+"\n")
	if len(results) != 1 || results[0].err != nil {
		t.Fatalf("got %v, want one item", results)
	}
	if results[0].item.Kind != PullStatus {
		t.Errorf("kind %v, want status", results[0].item.Kind)
	}
}

func TestPullCodecIncompleteRecord(t *testing.T) {
	buf := newStreamBuffer(64)
	buf.Append([]byte(`{"status":"Pull`))
	if got := (pullCodec{}).extract(buf); len(got) != 0 {
		t.Fatalf("item emitted from an unterminated record: %v", got)
	}
	buf.Append([]byte("ing\"}\n"))
	got := (pullCodec{}).extract(buf)
	if len(got) != 1 || got[0].err != nil {
		t.Fatalf("got %v, want one item", got)
	}
	if got[0].item.Kind != PullInfo || got[0].item.Status != "Pulling" {
		t.Errorf("item %+v, want info/Pulling", got[0].item)
	}
}

func TestPullCodecUnknownField(t *testing.T) {
	results := extractPull(t, `{"status":"x","surprise":true}`+"\n")
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	err := results[0].err
	if !errors.Is(err, ErrDeserialization) {
		t.Fatalf("got %v, want ErrDeserialization", err)
	}
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatal("not an *Error")
	}
	if string(derr.Body) != `{"status":"x","surprise":true}` {
		t.Errorf("raw record %q not attached", derr.Body)
	}
}

func TestPullClassification(t *testing.T) {
	str := func(s string) *string { return &s }
	num := func(n int64) *int64 { return &n }

	tests := []struct {
		Name string
		Rec  PullRecord
		Want PullEventKind
	}{
		{
			Name: "Error",
			Rec:  PullRecord{Error: str("boom"), ErrorDetail: &ErrorResponse{Message: "detail"}},
			Want: PullError,
		},
		{
			Name: "ErrorNeedsDetail",
			Rec:  PullRecord{Error: str("boom"), Status: str("s")},
			Want: PullInfo,
		},
		{
			Name: "Progress",
			Rec: PullRecord{
				ID: str("abc"), Status: str("Downloading"), Progress: str("[=>]"),
				ProgressDetail: &PullProgressDetail{Current: num(1), Total: num(2)},
			},
			Want: PullProgress,
		},
		{
			Name: "ProgressWithoutCountsIsStatus",
			Rec: PullRecord{
				ID: str("abc"), Status: str("Downloading"), Progress: str("[=>]"),
				ProgressDetail: &PullProgressDetail{},
			},
			Want: PullStatus,
		},
		{
			Name: "Status",
			Rec:  PullRecord{ID: str("abc"), Status: str("Pulling")},
			Want: PullStatus,
		},
		{
			Name: "Info",
			Rec:  PullRecord{Status: str("Digest: sha256:...")},
			Want: PullInfo,
		},
		{
			Name: "Raw",
			Rec:  PullRecord{ID: str("abc")},
			Want: PullRaw,
		},
	}

	for _, tc := range tests {
		t.Run(tc.Name, func(t *testing.T) {
			rec := tc.Rec
			got := classify(&rec)
			if got.Kind != tc.Want {
				t.Errorf("kind %v, want %v", got.Kind, tc.Want)
			}
			if tc.Want == PullRaw && got.Raw == nil {
				t.Error("raw record not attached")
			}
		})
	}
}
