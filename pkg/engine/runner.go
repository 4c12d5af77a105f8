package engine

import (
	"context"
	"net/http"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/errors"
	"github.com/resttap/resttap/pkg/logger"
	"github.com/resttap/resttap/pkg/metrics"
	"github.com/resttap/resttap/pkg/sink"
)

// StreamRunner drives one stream's full extraction: fetch a page, extract
// its records, emit them, advance and persist the cursor, and follow
// pagination until the chain ends.
//
// The runner guarantees at-least-once delivery: a page's checkpoint is
// persisted only after every record of that page has been handed to the
// sink, so a crash mid-page re-fetches the page instead of dropping
// records.
type StreamRunner struct {
	stream    *config.StreamConfig
	builder   *RequestBuilder
	executor  *Executor
	paginator Paginator
	tracker   *CursorTracker
	sink      sink.Sink
	logger    *zap.Logger
}

// NewStreamRunner wires a runner for a single stream. The paginator must be
// a fresh instance: offset-style paginators carry per-cycle state.
func NewStreamRunner(stream *config.StreamConfig, builder *RequestBuilder,
	executor *Executor, paginator Paginator, tracker *CursorTracker, snk sink.Sink) *StreamRunner {

	return &StreamRunner{
		stream:    stream,
		builder:   builder,
		executor:  executor,
		paginator: paginator,
		tracker:   tracker,
		sink:      snk,
		logger:    logger.Get().With(zap.String("stream", stream.Name)),
	}
}

// Run executes the stream to a terminal state. It never returns a partial
// result: the StreamResult always carries the terminal state, the record
// count, and the final cursor value.
func (r *StreamRunner) Run(ctx context.Context) *StreamResult {
	result := &StreamResult{
		Stream: r.stream.Name,
		State:  StateStart,
	}

	// START: the tracker is already seeded from checkpoint or start_date;
	// pagination may contribute initial parameters (e.g. page size). The
	// replication filter is rendered once here and held constant for the
	// whole fetch cycle, so an advancing cursor cannot change the query
	// mid-pagination.
	filterField, filterValue, _ := r.tracker.Filter()
	var override *RequestOverride
	if init, ok := r.paginator.(initializer); ok {
		override = init.Initial()
	}

	for {
		// FETCHING: the cancellation point between pages. An in-flight
		// page is never checkpointed on cancel.
		result.State = StateFetching
		select {
		case <-ctx.Done():
			result.State = StateCancelled
			result.Cursor = r.tracker.Cursor()
			r.logger.Info("stream cancelled",
				zap.Int("pages", result.Pages),
				zap.Int64("records", result.Records))
			return result
		default:
		}

		page, err := r.fetchPage(ctx, filterField, filterValue, override, result.Pages+1)
		if err != nil {
			return r.fail(result, err)
		}

		// EXTRACTING: pull records out of the body, emit each, then ask
		// the paginator about the next page.
		result.State = StateExtracting
		emitted, err := r.emitRecords(page)
		result.Records += emitted
		if err != nil {
			return r.fail(result, err)
		}

		next, err := r.paginator.Next(page)
		if err != nil {
			return r.fail(result, err)
		}
		page.NextPage = next

		// CHECKPOINTING: advance the cursor from this page's records and
		// persist it, strictly after emission.
		result.State = StateCheckpointing
		cursor := r.tracker.Advance(page.Records)
		if err := r.sink.Checkpoint(r.stream.Name, cursor); err != nil {
			return r.fail(result, errors.Wrap(err, errors.ErrorTypeInternal, "checkpoint failed"))
		}

		result.Pages++
		metrics.PagesFetched.WithLabelValues(r.stream.Name).Inc()
		r.logger.Debug("page complete",
			zap.Int("page", result.Pages),
			zap.Int64("emitted", emitted),
			zap.Time("cursor", cursor),
			zap.Bool("has_next", next != nil))

		if next == nil {
			result.State = StateDone
			result.Cursor = cursor
			r.logger.Info("stream complete",
				zap.Int("pages", result.Pages),
				zap.Int64("records", result.Records),
				zap.Time("cursor", cursor))
			return result
		}
		override = next
	}
}

// fetchPage builds and executes one page request through the retry
// executor, then decodes the body.
func (r *StreamRunner) fetchPage(ctx context.Context, filterField, filterValue string,
	override *RequestOverride, number int) (*PageContext, error) {

	fetched, err := r.executor.Fetch(ctx, r.stream.Name, func(ctx context.Context) (*http.Request, error) {
		return r.builder.Build(ctx, r.stream, filterField, filterValue, override)
	})
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := gojson.Unmarshal(fetched.Body, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "response body is not valid JSON")
	}

	page := &PageContext{
		Number:     number,
		StatusCode: fetched.StatusCode,
		Header:     fetched.Header,
		Body:       fetched.Body,
		Document:   doc,
	}
	page.Records = r.extractRecords(doc)
	return page, nil
}

// extractRecords applies the records-path expression. A match that is a
// single array is unwrapped into its elements; non-object matches are
// extraction warnings, logged and skipped.
func (r *StreamRunner) extractRecords(doc interface{}) []map[string]interface{} {
	matches := r.stream.CompiledRecordsPath().Evaluate(doc)

	// `$.data` pointing at the record array is equivalent to `$.data[*]`
	if len(matches) == 1 {
		if arr, ok := matches[0].([]interface{}); ok {
			matches = arr
		}
	}

	records := make([]map[string]interface{}, 0, len(matches))
	for _, m := range matches {
		obj, ok := m.(map[string]interface{})
		if !ok {
			r.logger.Warn("records_path matched a non-object node, skipping",
				zap.Any("node", m))
			continue
		}
		records = append(records, obj)
	}
	return records
}

// emitRecords hands a page's records to the sink in document order.
func (r *StreamRunner) emitRecords(page *PageContext) (int64, error) {
	var emitted int64
	for _, record := range page.Records {
		if err := r.sink.Emit(r.stream.Name, record); err != nil {
			return emitted, errors.Wrap(err, errors.ErrorTypeInternal, "sink emit failed")
		}
		emitted++
		metrics.RecordsExtracted.WithLabelValues(r.stream.Name).Inc()
	}
	return emitted, nil
}

func (r *StreamRunner) fail(result *StreamResult, err error) *StreamResult {
	if errors.IsType(err, errors.ErrorTypeCancelled) {
		result.State = StateCancelled
	} else {
		result.State = StateFailed
		metrics.StreamFailures.WithLabelValues(r.stream.Name).Inc()
	}
	result.Err = err
	result.Cursor = r.tracker.Cursor()
	r.logger.Error("stream terminated",
		zap.String("state", string(result.State)),
		zap.Int("pages", result.Pages),
		zap.Int64("records", result.Records),
		zap.Error(err))
	return result
}
