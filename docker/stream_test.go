package docker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// frame encodes one multiplexed log frame.
func frame(stream StdStream, payload string) []byte {
	var b bytes.Buffer
	b.WriteByte(byte(stream))
	b.Write([]byte{0, 0, 0})
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	b.Write(size[:])
	b.WriteString(payload)
	return b.Bytes()
}

// extractAll runs the codec over the wire bytes split at the given offsets,
// simulating how the transport may deliver them.
func extractAll(t *testing.T, wire []byte, splits []int) ([]LogMessage, []error) {
	t.Helper()
	buf := newStreamBuffer(64)
	var items []LogMessage
	var errs []error

	prev := 0
	bounds := append(append([]int{}, splits...), len(wire))
	for _, bound := range bounds {
		buf.Append(wire[prev:bound])
		prev = bound
		for _, res := range (logCodec{}).extract(buf) {
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			items = append(items, res.item)
		}
	}
	return items, errs
}

func TestLogCodecMultiplexed(t *testing.T) {
	wire := append(frame(Stdout, "hello"), frame(Stderr, "err")...)
	items, errs := extractAll(t, wire, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []LogMessage{
		{Stream: Stdout, Text: "hello"},
		{Stream: Stderr, Text: "err"},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestLogCodecPartialFrame(t *testing.T) {
	payload := "aaaaaaaaaabbbbbbbbbb" // 20 bytes
	wire := frame(Stdout, payload)

	buf := newStreamBuffer(64)
	buf.Append(wire[:10])
	if got := (logCodec{}).extract(buf); len(got) != 0 {
		t.Fatalf("item emitted from a partial frame: %v", got)
	}
	buf.Append(wire[10:])
	got := (logCodec{}).extract(buf)
	if len(got) != 1 || got[0].err != nil {
		t.Fatalf("got %v, want exactly one item", got)
	}
	if got[0].item.Text != payload {
		t.Errorf("text %q, want %q", got[0].item.Text, payload)
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes left unconsumed", buf.Len())
	}
}

// TestLogCodecLeftFold checks that splitting the byte stream at any point
// yields the same items as a single extract over the concatenation.
func TestLogCodecLeftFold(t *testing.T) {
	wire := append(frame(Stdout, "first message"), frame(Stderr, "second")...)
	wire = append(wire, frame(Stdout, "third, somewhat longer message")...)

	whole, errs := extractAll(t, wire, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	for split := 1; split < len(wire); split++ {
		items, errs := extractAll(t, wire, []int{split})
		if len(errs) != 0 {
			t.Fatalf("split %d: unexpected errors: %v", split, errs)
		}
		if diff := cmp.Diff(whole, items); diff != "" {
			t.Errorf("split %d: items diverge (-whole +split):\n%s", split, diff)
		}
	}
}

func TestLogCodecInvalidUTF8(t *testing.T) {
	wire := append(frame(Stdout, "ok"), frame(Stdout, "\xff\xfe")...)
	wire = append(wire, frame(Stdout, "after")...)

	buf := newStreamBuffer(64)
	buf.Append(wire)
	results := (logCodec{}).extract(buf)

	if len(results) != 2 {
		t.Fatalf("got %d results, want item then error", len(results))
	}
	if results[0].err != nil || results[0].item.Text != "ok" {
		t.Errorf("first result %v, want \"ok\"", results[0])
	}
	if !errors.Is(results[1].err, ErrUTF8) {
		t.Errorf("second result %v, want ErrUTF8", results[1].err)
	}
}

func TestStreamBuffer(t *testing.T) {
	buf := newStreamBuffer(4)
	buf.Append([]byte("hello "))
	buf.Append([]byte("world"))
	if got := string(buf.Bytes()); got != "hello world" {
		t.Fatalf("got %q", got)
	}
	buf.Consume(6)
	if got := string(buf.Bytes()); got != "world" {
		t.Fatalf("after consume got %q", got)
	}
	buf.Append([]byte("!"))
	if got := string(buf.Bytes()); got != "world!" {
		t.Fatalf("after append got %q", got)
	}
}
