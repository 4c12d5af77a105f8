package sink

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/resttap/resttap/pkg/errors"
)

// StateStore persists per-stream replication cursors to a JSON file so a
// later run resumes where the previous one checkpointed. Each Checkpoint
// call rewrites the file atomically (write temp, rename), so a crash never
// leaves a torn state file behind.
type StateStore struct {
	path string

	mu      sync.Mutex
	cursors map[string]time.Time
}

// OpenStateStore loads the state file at path, creating an empty store when
// the file does not exist yet.
func OpenStateStore(path string) (*StateStore, error) {
	s := &StateStore{
		path:    path,
		cursors: make(map[string]time.Time),
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read state file")
	}

	var raw map[string]string
	if err := gojson.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "state file is not valid JSON")
	}
	for stream, value := range raw {
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"state file has bad cursor %q for stream %s", value, stream)
		}
		s.cursors[stream] = t
	}
	return s, nil
}

// Cursor returns the persisted cursor for a stream, if any.
func (s *StateStore) Cursor(streamName string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.cursors[streamName]
	return t, ok
}

// Emit is a no-op; the store only handles the checkpoint half of the sink
// contract. It exists so a StateStore can stand in as a Sink in tests.
func (s *StateStore) Emit(string, Record) error { return nil }

// Checkpoint records and durably persists a stream's cursor.
func (s *StateStore) Checkpoint(streamName string, cursor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[streamName] = cursor
	return s.persist()
}

func (s *StateStore) persist() error {
	raw := make(map[string]string, len(s.cursors))
	for stream, t := range s.cursors {
		raw[stream] = t.Format(time.RFC3339Nano)
	}

	data, err := gojson.MarshalIndent(raw, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode state")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create temp state file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close state file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to replace state file")
	}
	return nil
}
