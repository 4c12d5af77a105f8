// Package sink defines the downstream interface the extraction engine emits
// into, plus the built-in implementations: a Singer-shaped JSONL writer, a
// file-backed checkpoint store, and an in-memory sink for tests.
//
// Both operations are synchronous; once they return nil the record or
// checkpoint is considered durable. The engine relies on that ordering for
// its at-least-once guarantee.
package sink

import (
	"sync"
	"time"
)

// Record is one extracted JSON object.
type Record = map[string]interface{}

// Sink receives extracted records and per-stream checkpoints.
type Sink interface {
	// Emit delivers one record for the named stream.
	Emit(streamName string, record Record) error

	// Checkpoint persists the stream's replication cursor. Called only
	// after every record of the corresponding page has been emitted.
	Checkpoint(streamName string, cursor time.Time) error
}

// Composite fans records out to one sink and checkpoints to another,
// letting a record writer pair with a separate state store.
type Composite struct {
	Records     Sink
	Checkpoints Sink
}

func (c *Composite) Emit(streamName string, record Record) error {
	return c.Records.Emit(streamName, record)
}

func (c *Composite) Checkpoint(streamName string, cursor time.Time) error {
	if err := c.Records.Checkpoint(streamName, cursor); err != nil {
		return err
	}
	return c.Checkpoints.Checkpoint(streamName, cursor)
}

// Memory collects everything in memory. Test support.
type Memory struct {
	mu          sync.Mutex
	records     map[string][]Record
	checkpoints map[string][]time.Time

	// EmitErr, when set, is returned by Emit to simulate sink failures.
	EmitErr error
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		records:     make(map[string][]Record),
		checkpoints: make(map[string][]time.Time),
	}
}

func (m *Memory) Emit(streamName string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EmitErr != nil {
		return m.EmitErr
	}
	m.records[streamName] = append(m.records[streamName], record)
	return nil
}

func (m *Memory) Checkpoint(streamName string, cursor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[streamName] = append(m.checkpoints[streamName], cursor)
	return nil
}

// Records returns the records emitted for a stream, in emission order.
func (m *Memory) Records(streamName string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records[streamName]...)
}

// Checkpoints returns every checkpoint written for a stream, in order.
func (m *Memory) Checkpoints(streamName string) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.checkpoints[streamName]...)
}

// LastCheckpoint returns the most recent checkpoint for a stream.
func (m *Memory) LastCheckpoint(streamName string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.checkpoints[streamName]
	if len(cps) == 0 {
		return time.Time{}, false
	}
	return cps[len(cps)-1], true
}
