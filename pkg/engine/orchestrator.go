package engine

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/resttap/resttap/pkg/auth"
	"github.com/resttap/resttap/pkg/clients"
	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/logger"
	"github.com/resttap/resttap/pkg/sink"
)

// CheckpointSource supplies persisted cursors at stream start. The sink's
// state store implements it; a nil source means every stream starts from
// its start_date.
type CheckpointSource interface {
	Cursor(streamName string) (time.Time, bool)
}

// Options tune an engine run. The zero value selects defaults.
type Options struct {
	// HTTP overrides the default tuned HTTP client configuration.
	HTTP *clients.HTTPConfig
	// Retry overrides the default retry policy.
	Retry RetryPolicy
	// RateLimit bounds requests per second against the API; 0 is
	// unlimited. RateBurst defaults to 1 when a limit is set.
	RateLimit float64
	RateBurst int
	// Checkpoints seeds stream cursors from a previous run.
	Checkpoints CheckpointSource
}

// Engine iterates the configured streams sequentially, running each to
// completion against the shared API. Streams never run concurrently; they
// all share one API host and its rate limits. A stream's failure never
// prevents later streams from running.
type Engine struct {
	conn   *config.ConnectorConfig
	sink   sink.Sink
	opts   Options
	client *clients.HTTPClient
}

// New assembles an engine for one validated connector configuration.
func New(conn *config.ConnectorConfig, snk sink.Sink, opts Options) (*Engine, error) {
	client, err := clients.NewHTTPClient(opts.HTTP)
	if err != nil {
		return nil, err
	}
	return &Engine{
		conn:   conn,
		sink:   snk,
		opts:   opts,
		client: client,
	}, nil
}

// Run extracts every configured stream in order and aggregates the
// per-stream outcomes. Run itself errors only on setup failures (e.g.
// authenticator construction); stream-level failures are reported in the
// result, and a cancelled context stops cleanly between pages.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	defer e.client.CloseIdleConnections()

	// a run_id ties the orchestrator's log lines to one invocation
	ctx = context.WithValue(ctx, logger.RunIDKey, newRunID())

	authenticator, err := auth.New(ctx, e.conn)
	if err != nil {
		return nil, err
	}

	builder := NewRequestBuilder(e.conn, authenticator)
	limiter := clients.NewRateLimiter(e.opts.RateLimit, e.opts.RateBurst)
	executor := NewExecutor(e.client, limiter, e.opts.Retry)

	result := &RunResult{}
	for _, stream := range e.conn.Streams {
		streamResult := e.runStream(ctx, stream, builder, executor)
		result.Streams = append(result.Streams, streamResult)
	}

	total, failed := e.client.Stats()
	logger.WithContext(ctx).Info("run complete",
		zap.Int("streams", len(result.Streams)),
		zap.Bool("failed", result.Failed()),
		zap.Int64("http_requests", total),
		zap.Int64("http_failures", failed))
	return result, nil
}

func (e *Engine) runStream(ctx context.Context, stream *config.StreamConfig,
	builder *RequestBuilder, executor *Executor) *StreamResult {

	paginator, err := NewPaginator(e.conn)
	if err != nil {
		return &StreamResult{Stream: stream.Name, State: StateFailed, Err: err}
	}

	var checkpoint time.Time
	var hasCheckpoint bool
	if e.opts.Checkpoints != nil {
		checkpoint, hasCheckpoint = e.opts.Checkpoints.Cursor(stream.Name)
	}
	tracker := NewCursorTracker(stream, checkpoint, hasCheckpoint)

	ctx = context.WithValue(ctx, logger.StreamKey, stream.Name)
	logger.WithContext(ctx).Info("starting stream",
		zap.Time("cursor", tracker.Cursor()),
		zap.Bool("resumed", hasCheckpoint))

	runner := NewStreamRunner(stream, builder, executor, paginator, tracker, e.sink)
	return runner.Run(ctx)
}

// newRunID labels one engine run in log output.
func newRunID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}
