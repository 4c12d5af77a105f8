package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/sink"
)

type staticCheckpoints map[string]time.Time

func (s staticCheckpoints) Cursor(streamName string) (time.Time, bool) {
	t, ok := s[streamName]
	return t, ok
}

type OrchestratorSuite struct {
	suite.Suite

	mu       sync.Mutex
	requests []string
	srv      *httptest.Server
}

func (s *OrchestratorSuite) SetupTest() {
	s.requests = nil
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Path)
		s.mu.Unlock()

		switch r.URL.Path {
		case "/orders":
			fmt.Fprint(w, `{"data": [{"id": 1, "updated_at": "2002-01-01T00:00:00Z"}], "links": []}`)
		case "/customers":
			fmt.Fprint(w, `{"data": [
				{"id": 10, "updated_at": "2003-01-01T00:00:00Z"},
				{"id": 11, "updated_at": "2003-02-01T00:00:00Z"}
			], "links": []}`)
		case "/broken":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
}

func (s *OrchestratorSuite) TearDownTest() {
	s.srv.Close()
}

func (s *OrchestratorSuite) config(paths ...string) *config.ConnectorConfig {
	conn := &config.ConnectorConfig{
		APIURL:            s.srv.URL,
		NextPageTokenPath: "$.links[?(@.rel=='next')].href",
	}
	for _, p := range paths {
		conn.Streams = append(conn.Streams, &config.StreamConfig{
			Name:           p,
			Path:           "/" + p,
			RecordsPath:    "$.data[*]",
			ReplicationKey: "updated_at",
			StartDate:      "2001-01-01",
		})
	}
	conn.ApplyDefaults()
	s.Require().NoError(conn.Validate())
	return conn
}

func (s *OrchestratorSuite) TestRunsStreamsSequentially() {
	mem := sink.NewMemory()
	eng, err := New(s.config("orders", "customers"), mem, Options{Retry: fastPolicy(2)})
	s.Require().NoError(err)

	result, err := eng.Run(context.Background())
	s.Require().NoError(err)
	s.False(result.Failed())
	s.Require().Len(result.Streams, 2)

	s.Equal("orders", result.Streams[0].Stream)
	s.Equal(StateDone, result.Streams[0].State)
	s.EqualValues(1, result.Streams[0].Records)

	s.Equal("customers", result.Streams[1].Stream)
	s.Equal(StateDone, result.Streams[1].State)
	s.EqualValues(2, result.Streams[1].Records)

	// configuration order, one stream at a time
	s.Equal([]string{"/orders", "/customers"}, s.requests)
}

func (s *OrchestratorSuite) TestFailedStreamDoesNotStopSiblings() {
	mem := sink.NewMemory()
	eng, err := New(s.config("broken", "orders"), mem, Options{Retry: fastPolicy(2)})
	s.Require().NoError(err)

	result, err := eng.Run(context.Background())
	s.Require().NoError(err)
	s.True(result.Failed())
	s.Require().Len(result.Streams, 2)

	s.Equal(StateFailed, result.Streams[0].State)
	s.Error(result.Streams[0].Err)
	s.Equal(StateDone, result.Streams[1].State)
	s.Len(mem.Records("orders"), 1)
}

func (s *OrchestratorSuite) TestCheckpointsSeedStreamCursors() {
	mem := sink.NewMemory()
	checkpoint := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, err := New(s.config("orders"), mem, Options{
		Retry:       fastPolicy(2),
		Checkpoints: staticCheckpoints{"orders": checkpoint},
	})
	s.Require().NoError(err)

	result, err := eng.Run(context.Background())
	s.Require().NoError(err)

	// the page's 2002 record cannot drag a 2010 checkpoint backwards
	s.True(result.Streams[0].Cursor.Equal(checkpoint))
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}
