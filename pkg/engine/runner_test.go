package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resttap/resttap/pkg/clients"
	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/errors"
	"github.com/resttap/resttap/pkg/sink"
)

func incrementalConfig(apiURL string) *config.ConnectorConfig {
	return &config.ConnectorConfig{
		APIURL:            apiURL,
		NextPageTokenPath: "$.links[?(@.rel=='next')].href",
		Streams: []*config.StreamConfig{{
			Name:              "orders",
			Path:              "/orders",
			RecordsPath:       "$.data[*]",
			ReplicationKey:    "updated_at",
			StartDate:         "2001-01-01T00:00:00.00+12:00",
			SourceSearchField: "query",
			SourceSearchQuery: "updated>gt$last_run_date",
		}},
	}
}

// buildRunner validates the config and wires a full runner stack around it.
func buildRunner(t *testing.T, conn *config.ConnectorConfig, snk sink.Sink,
	checkpoint time.Time, hasCheckpoint bool) *StreamRunner {
	t.Helper()

	conn.ApplyDefaults()
	require.NoError(t, conn.Validate())

	client, err := clients.NewHTTPClient(nil)
	require.NoError(t, err)
	executor := NewExecutor(client, nil, fastPolicy(2))

	paginator, err := NewPaginator(conn)
	require.NoError(t, err)

	stream := conn.Streams[0]
	tracker := NewCursorTracker(stream, checkpoint, hasCheckpoint)
	builder := NewRequestBuilder(conn, nil)
	return NewStreamRunner(stream, builder, executor, paginator, tracker, snk)
}

func TestRunnerSinglePageIncrementalRun(t *testing.T) {
	var gotFilter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("query")
		fmt.Fprint(w, `{
			"data": [
				{"id": 1, "updated_at": "2002-01-01"},
				{"id": 2, "updated_at": "2003-06-15"}
			],
			"links": []
		}`)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 1, result.Pages)
	assert.EqualValues(t, 2, result.Records)

	// filter rendered from the +12:00 start date
	assert.Equal(t, "updated>gt2001-01-01T00:00:00+12:00", gotFilter)

	records := mem.Records("orders")
	require.Len(t, records, 2)
	assert.EqualValues(t, 1, records[0]["id"])
	assert.EqualValues(t, 2, records[1]["id"])

	cp, ok := mem.LastCheckpoint("orders")
	require.True(t, ok)
	assert.True(t, cp.Equal(time.Date(2003, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, result.Cursor.Equal(cp))
}

func TestRunnerFollowsLinkChainAcrossEmptyPage(t *testing.T) {
	// page 1 has records and a link, page 2 is empty but still links on,
	// page 3 ends the chain
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "2":
			fmt.Fprintf(w, `{"data": [], "links": [{"rel": "next", "href": "%s/orders?page=3"}]}`, srv.URL)
		case "3":
			fmt.Fprint(w, `{"data": [{"id": 3, "updated_at": "2004-01-01T00:00:00Z"}], "links": []}`)
		default:
			fmt.Fprintf(w, `{"data": [{"id": 1, "updated_at": "2002-01-01T00:00:00Z"}],
				"links": [{"rel": "next", "href": "%s/orders?page=2"}]}`, srv.URL)
		}
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 3, result.Pages)
	assert.EqualValues(t, 2, result.Records)
	assert.Len(t, mem.Checkpoints("orders"), 3, "every page checkpoints, empty ones included")
	assert.True(t, result.Cursor.Equal(time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRunnerEmptyFirstPageCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [], "links": []}`)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, StateDone, result.State)
	assert.EqualValues(t, 0, result.Records)
	assert.Empty(t, mem.Records("orders"))

	// the cursor never moved off the start date
	start, err := config.ParseTimestamp("2001-01-01T00:00:00.00+12:00")
	require.NoError(t, err)
	assert.True(t, result.Cursor.Equal(start))
}

func TestRunnerMidChainFailureKeepsEarlierCheckpoints(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"data": [{"id": 1, "updated_at": "2002-01-01T00:00:00Z"}],
			"links": [{"rel": "next", "href": "%s/orders?page=2"}]}`, srv.URL)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, errors.IsType(result.Err, errors.ErrorTypeHTTP))
	assert.Equal(t, 1, result.Pages)
	assert.EqualValues(t, 1, result.Records)

	// page 1 was delivered and checkpointed before the failure
	cp, ok := mem.LastCheckpoint("orders")
	require.True(t, ok)
	assert.True(t, cp.Equal(time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRunnerRerunFromCheckpointIsAtLeastOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": 2, "updated_at": "2003-06-15T10:00:00Z"}], "links": []}`)
	}))
	defer srv.Close()

	checkpoint := time.Date(2003, 6, 15, 10, 0, 0, 0, time.UTC)
	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, checkpoint, true)
	result := runner.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, StateDone, result.State)

	// the boundary record is re-emitted and the checkpoint does not regress
	assert.Len(t, mem.Records("orders"), 1)
	cp, ok := mem.LastCheckpoint("orders")
	require.True(t, ok)
	assert.True(t, cp.Equal(checkpoint))
}

func TestRunnerCancelledBeforeFirstFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected after cancellation")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(ctx)

	assert.Equal(t, StateCancelled, result.State)
	assert.Empty(t, mem.Checkpoints("orders"))
}

// cancellingSink cancels its context once the first checkpoint lands,
// simulating a shutdown between pages.
type cancellingSink struct {
	*sink.Memory
	cancel context.CancelFunc
}

func (c *cancellingSink) Checkpoint(streamName string, cursor time.Time) error {
	err := c.Memory.Checkpoint(streamName, cursor)
	c.cancel()
	return err
}

func TestRunnerCancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": [{"id": 1, "updated_at": "2002-01-01T00:00:00Z"}],
			"links": [{"rel": "next", "href": "%s/orders?page=2"}]}`, srv.URL)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	snk := &cancellingSink{Memory: mem, cancel: cancel}
	runner := buildRunner(t, incrementalConfig(srv.URL), snk, time.Time{}, false)
	result := runner.Run(ctx)

	// the completed page checkpointed, the never-fetched second page did not
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 1, result.Pages)
	assert.Len(t, mem.Checkpoints("orders"), 1)
}

func TestRunnerFailsOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [`)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, errors.IsType(result.Err, errors.ErrorTypeData))
	assert.Empty(t, mem.Checkpoints("orders"))
}

func TestRunnerFailsWhenSinkRejectsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": 1, "updated_at": "2002-01-01T00:00:00Z"}], "links": []}`)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	mem.EmitErr = fmt.Errorf("disk full")
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, mem.Checkpoints("orders"), "emit failure must not checkpoint")
}

func TestRunnerFilterIsStableAcrossPages(t *testing.T) {
	// offset pagination re-sends the query each page; an advancing cursor
	// must not rewrite the filter mid-cycle
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filters = append(filters, r.URL.Query().Get("query"))
		if r.URL.Query().Get("offset") == "0" {
			fmt.Fprint(w, `{"data": [{"id": 1, "updated_at": "2005-01-01T00:00:00Z"}]}`)
			return
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	conn := incrementalConfig(srv.URL)
	conn.PaginationRequestStyle = config.StyleOffsetPaginator
	conn.PaginationPageSize = 1
	conn.NextPageTokenPath = ""

	mem := sink.NewMemory()
	runner := buildRunner(t, conn, mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, StateDone, result.State)
	require.Len(t, filters, 2)
	assert.Equal(t, filters[0], filters[1])
	assert.True(t, result.Cursor.Equal(time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRunnerSkipsNonObjectMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": 1, "updated_at": "2002-01-01T00:00:00Z"}, "stray", 42], "links": []}`)
	}))
	defer srv.Close()

	mem := sink.NewMemory()
	runner := buildRunner(t, incrementalConfig(srv.URL), mem, time.Time{}, false)
	result := runner.Run(context.Background())

	require.NoError(t, result.Err)
	assert.EqualValues(t, 1, result.Records)
	assert.Len(t, mem.Records("orders"), 1)
}
