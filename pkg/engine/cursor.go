package engine

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/jsonpath"
	"github.com/resttap/resttap/pkg/logger"
)

// lastRunToken is the substitution token in source_search_query templates.
// Operator prefixes around it (e.g. "gt$last_run_date") are literal text.
const lastRunToken = "$last_run_date"

// CursorTracker owns one stream's replication high-watermark for the
// duration of a run. The cursor is monotonically non-decreasing: Advance
// only ever moves it forward, and the caller persists it strictly after the
// page's records reach the sink.
type CursorTracker struct {
	stream *config.StreamConfig
	cursor time.Time
	logger *zap.Logger
}

// NewCursorTracker seeds a tracker from the persisted checkpoint when one
// exists, otherwise from the stream's start_date.
func NewCursorTracker(stream *config.StreamConfig, checkpoint time.Time, hasCheckpoint bool) *CursorTracker {
	cursor := stream.StartTime()
	if hasCheckpoint && checkpoint.After(cursor) {
		cursor = checkpoint
	}
	return &CursorTracker{
		stream: stream,
		cursor: cursor,
		logger: logger.Get().With(zap.String("stream", stream.Name)),
	}
}

// Cursor returns the current high-watermark.
func (t *CursorTracker) Cursor() time.Time {
	return t.cursor
}

// Filter renders the stream's search query template with the current cursor
// substituted for the $last_run_date token, returning the parameter name
// and value. ok is false when the stream configures no search filter.
func (t *CursorTracker) Filter() (field, value string, ok bool) {
	if t.stream.SourceSearchField == "" || t.stream.SourceSearchQuery == "" {
		return "", "", false
	}
	rendered := strings.ReplaceAll(t.stream.SourceSearchQuery, lastRunToken,
		t.cursor.Format(time.RFC3339))
	return t.stream.SourceSearchField, rendered, true
}

// Advance scans a page's records for the replication key and raises the
// cursor to the maximum timestamp observed. Records missing the key, or
// carrying an unparseable value, are tolerated and do not influence the
// cursor. Returns the (possibly unchanged) cursor.
func (t *CursorTracker) Advance(records []map[string]interface{}) time.Time {
	if t.stream.ReplicationKey == "" {
		return t.cursor
	}

	for _, record := range records {
		raw, found := jsonpath.Lookup(record, t.stream.ReplicationKey)
		if !found {
			t.logger.Debug("record missing replication key",
				zap.String("replication_key", t.stream.ReplicationKey))
			continue
		}
		text, isString := raw.(string)
		if !isString {
			t.logger.Warn("replication key value is not a string",
				zap.Any("value", raw))
			continue
		}
		ts, err := config.ParseTimestamp(text)
		if err != nil {
			t.logger.Warn("replication key value is not a timestamp",
				zap.String("value", text))
			continue
		}
		if ts.After(t.cursor) {
			t.cursor = ts
		}
	}
	return t.cursor
}
