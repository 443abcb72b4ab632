package docker

import (
	"bytes"
	"context"
	"encoding/json"
)

// PullProgressDetail is the byte-level position within one layer.
type PullProgressDetail struct {
	Current *int64 `json:"current"`
	Total   *int64 `json:"total"`
}

// PullRecord is the wire schema of one image-pull progress record.
//
// The schema is closed: a record with fields this struct doesn't know about
// fails to decode, so engine surprises surface instead of being dropped.
// Field presence matters for classification, hence the pointers.
type PullRecord struct {
	Status         *string             `json:"status"`
	ID             *string             `json:"id"`
	Error          *string             `json:"error"`
	ErrorDetail    *ErrorResponse      `json:"errorDetail"`
	Progress       *string             `json:"progress"`
	ProgressDetail *PullProgressDetail `json:"progressDetail"`
}

// PullEventKind classifies a decoded pull record.
type PullEventKind uint8

const (
	// PullError is a record carrying both error and errorDetail.
	PullError PullEventKind = iota
	// PullProgress carries id, status, a progress bar, and byte counts.
	PullProgress
	// PullStatus carries id and status without progress.
	PullStatus
	// PullInfo carries only a status line.
	PullInfo
	// PullRaw is anything else; the raw record is attached for inspection.
	PullRaw
)

// String implements fmt.Stringer.
func (k PullEventKind) String() string {
	switch k {
	case PullError:
		return "error"
	case PullProgress:
		return "progress"
	case PullStatus:
		return "status"
	case PullInfo:
		return "info"
	case PullRaw:
		return "raw"
	}
	return "invalid"
}

// PullEvent is one classified record of an image-pull stream.
//
// Which fields are meaningful depends on Kind: ID/Status for PullStatus,
// plus Info/Current/Total for PullProgress, Status alone for PullInfo,
// Message/Detail for PullError, and Raw for PullRaw.
type PullEvent struct {
	Kind    PullEventKind
	ID      string
	Status  string
	Info    string
	Current int64
	Total   int64
	Message string
	Detail  string
	Raw     *PullRecord
}

// classify maps a decoded record to exactly one event kind.
func classify(rec *PullRecord) PullEvent {
	if rec.Error != nil && rec.ErrorDetail != nil {
		return PullEvent{
			Kind:    PullError,
			Message: *rec.Error,
			Detail:  rec.ErrorDetail.Message,
		}
	}
	if rec.ID != nil && rec.Status != nil && rec.Progress != nil &&
		rec.ProgressDetail != nil && rec.ProgressDetail.Current != nil && rec.ProgressDetail.Total != nil {
		return PullEvent{
			Kind:    PullProgress,
			ID:      *rec.ID,
			Status:  *rec.Status,
			Info:    *rec.Progress,
			Current: *rec.ProgressDetail.Current,
			Total:   *rec.ProgressDetail.Total,
		}
	}
	if rec.ID != nil && rec.Status != nil {
		return PullEvent{Kind: PullStatus, ID: *rec.ID, Status: *rec.Status}
	}
	if rec.Status != nil {
		return PullEvent{Kind: PullInfo, Status: *rec.Status}
	}
	return PullEvent{Kind: PullRaw, Raw: rec}
}

// pullCodec splits the body into newline-delimited JSON records.
//
// The engine documents bare LF record boundaries but has been observed with
// CRLF; a trailing CR before the LF is stripped either way.
type pullCodec struct{}

func (pullCodec) extract(buf *streamBuffer) []result[PullEvent] {
	var out []result[PullEvent]
	current := 0

	data := buf.Bytes()
	for current < len(data) {
		nl := bytes.IndexByte(data[current:], '\n')
		if nl < 0 {
			break
		}
		record := data[current : current+nl]
		if n := len(record); n > 0 && record[n-1] == '\r' {
			record = record[:n-1]
		}
		current += nl + 1

		rec := new(PullRecord)
		dec := json.NewDecoder(bytes.NewReader(record))
		dec.DisallowUnknownFields()
		if err := dec.Decode(rec); err != nil {
			raw := make([]byte, len(record))
			copy(raw, record)
			out = append(out, result[PullEvent]{err: &Error{
				Kind:  ErrDeserialization,
				Body:  raw,
				Inner: err,
			}})
			continue
		}
		out = append(out, result[PullEvent]{item: classify(rec)})
	}

	if current > 0 {
		buf.Consume(current)
	}
	return out
}

// PullStream yields the classified records of an image-create response.
type PullStream struct {
	inner *stream[PullEvent]
}

func newPullStream(resp *Response) *PullStream {
	return &PullStream{inner: newStream[PullEvent](pullCodec{}, resp)}
}

// Next returns the next pull event.
//
// It returns [io.EOF] once the stream is exhausted. Decode errors are
// delivered in wire order and carry the offending record bytes.
func (p *PullStream) Next(ctx context.Context) (PullEvent, error) {
	return p.inner.next(ctx)
}

// Close abandons the stream; the engine observes a client-side close.
func (p *PullStream) Close() error {
	return p.inner.close()
}
