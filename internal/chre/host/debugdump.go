package host

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DebugDumpSession tracks the one-session-at-a-time debug dump protocol
// (spec §6): zero-or-more DebugDumpData frames followed by a single
// DebugDumpResponse.
type DebugDumpSession struct {
	ID        uuid.UUID
	dataCount uint32
	encoder   *zstd.Encoder
	buf       bytes.Buffer
}

// ErrDumpInProgress is returned by StartDebugDump when a session is
// already active (only one at a time is permitted).
var ErrDumpInProgress = fmt.Errorf("host: a debug dump session is already in progress")

// DebugDumpCoordinator enforces the at-most-one-in-flight rule across
// debug dump sessions. StartDebugDump and Finish are called from whatever
// goroutine is handling the triggering request (the admin HTTP surface
// serves each request on its own goroutine), so both are guarded by mu.
type DebugDumpCoordinator struct {
	mu     sync.Mutex
	active *DebugDumpSession
}

// StartDebugDump opens a new session, failing if one is already active.
func (c *DebugDumpCoordinator) StartDebugDump() (*DebugDumpSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, ErrDumpInProgress
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	s := &DebugDumpSession{ID: uuid.New(), encoder: enc}
	c.active = s
	return s, nil
}

// AppendData compresses and appends one DebugDumpData chunk to the
// session, incrementing its data_count.
func (s *DebugDumpSession) AppendData(chunk []byte) []byte {
	compressed := s.encoder.EncodeAll(chunk, nil)
	s.dataCount++
	s.buf.Write(compressed)
	return compressed
}

// Finish closes the session and returns the final DebugDumpResponse
// fields: success and the total data_count transmitted.
func (c *DebugDumpCoordinator) Finish(s *DebugDumpSession) (success bool, dataCount uint32) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()

	_ = s.encoder.Close()
	return true, s.dataCount
}
