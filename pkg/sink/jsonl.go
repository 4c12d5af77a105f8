package sink

import (
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/resttap/resttap/pkg/errors"
)

// message is the Singer-shaped line format written by JSONL.
type message struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream,omitempty"`
	Record        Record                 `json:"record,omitempty"`
	TimeExtracted time.Time              `json:"time_extracted,omitempty"`
	Value         map[string]interface{} `json:"value,omitempty"`
}

// JSONL writes RECORD and STATE messages as JSON lines to a writer, one
// message per line.
type JSONL struct {
	mu  sync.Mutex
	enc *gojson.Encoder
	now func() time.Time
}

// NewJSONL creates a JSONL sink writing to w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{
		enc: gojson.NewEncoder(w),
		now: time.Now,
	}
}

func (j *JSONL) Emit(streamName string, record Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	msg := message{
		Type:          "RECORD",
		Stream:        streamName,
		Record:        record,
		TimeExtracted: j.now().UTC(),
	}
	if err := j.enc.Encode(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write record message")
	}
	return nil
}

func (j *JSONL) Checkpoint(streamName string, cursor time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	msg := message{
		Type: "STATE",
		Value: map[string]interface{}{
			"bookmarks": map[string]interface{}{
				streamName: cursor.Format(time.RFC3339Nano),
			},
		},
	}
	if err := j.enc.Encode(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write state message")
	}
	return nil
}
