package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWritesRecordAndStateMessages(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONL(&buf)
	s.now = func() time.Time { return time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Emit("issues", Record{"id": 1, "state": "open"}))
	require.NoError(t, s.Checkpoint("issues", time.Date(2023, 3, 20, 16, 45, 0, 0, time.UTC)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]interface{}
	require.NoError(t, gojson.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "RECORD", rec["type"])
	assert.Equal(t, "issues", rec["stream"])
	assert.Equal(t, "open", rec["record"].(map[string]interface{})["state"])

	var state map[string]interface{}
	require.NoError(t, gojson.Unmarshal([]byte(lines[1]), &state))
	assert.Equal(t, "STATE", state["type"])
	bookmarks := state["value"].(map[string]interface{})["bookmarks"].(map[string]interface{})
	assert.Equal(t, "2023-03-20T16:45:00Z", bookmarks["issues"])
}

func TestStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := OpenStateStore(path)
	require.NoError(t, err)

	_, ok := store.Cursor("issues")
	assert.False(t, ok, "fresh store has no cursor")

	cursor := time.Date(2023, 3, 20, 16, 45, 0, 0, time.FixedZone("", 12*3600))
	require.NoError(t, store.Checkpoint("issues", cursor))

	reopened, err := OpenStateStore(path)
	require.NoError(t, err)

	got, ok := reopened.Cursor("issues")
	require.True(t, ok)
	assert.True(t, got.Equal(cursor))
}

func TestStateStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"issues": "not a timestamp"}`), 0o644))

	_, err := OpenStateStore(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{{{`), 0o644))
	_, err = OpenStateStore(path)
	assert.Error(t, err)
}

func TestCompositeOrdersRecordSinkFirst(t *testing.T) {
	records := NewMemory()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenStateStore(path)
	require.NoError(t, err)

	c := &Composite{Records: records, Checkpoints: store}

	require.NoError(t, c.Emit("issues", Record{"id": 1}))
	cursor := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Checkpoint("issues", cursor))

	assert.Len(t, records.Records("issues"), 1)
	got, ok := store.Cursor("issues")
	require.True(t, ok)
	assert.True(t, got.Equal(cursor))
}
