// Package engine implements the incremental REST extraction runtime: request
// building, pagination, retry with backoff, per-stream replication cursors,
// the stream runner state machine, and the orchestrator that drives every
// configured stream against the shared API.
package engine

import (
	"net/http"
	"time"
)

// RequestOverride is a pagination-supplied mutation of the next request.
// A non-empty URL replaces the request target entirely (path and query);
// Params merge into the query string with last-writer-wins precedence over
// static configuration.
type RequestOverride struct {
	URL    string
	Params map[string]string
}

// PageContext carries everything about one HTTP exchange. It is owned
// exclusively by the stream runner for the duration of one page and
// discarded after records are emitted and the cursor advances.
type PageContext struct {
	Number     int
	StatusCode int
	Header     http.Header
	Body       []byte
	Document   interface{}
	Records    []map[string]interface{}
	NextPage   *RequestOverride
}

// RunState names a stream runner state.
type RunState string

const (
	StateStart         RunState = "START"
	StateFetching      RunState = "FETCHING"
	StateExtracting    RunState = "EXTRACTING"
	StateCheckpointing RunState = "CHECKPOINTING"
	StateDone          RunState = "DONE"
	StateFailed        RunState = "FAILED"
	StateCancelled     RunState = "CANCELLED"
)

// StreamResult is the terminal outcome of one stream's extraction.
type StreamResult struct {
	Stream  string
	State   RunState
	Records int64
	Pages   int
	Cursor  time.Time
	Err     error
}

// RunResult aggregates per-stream outcomes for a whole engine run.
type RunResult struct {
	Streams []*StreamResult
}

// Failed reports whether any stream terminated in FAILED.
func (r *RunResult) Failed() bool {
	for _, s := range r.Streams {
		if s.State == StateFailed {
			return true
		}
	}
	return false
}
