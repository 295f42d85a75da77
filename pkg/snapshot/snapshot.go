// Package snapshot persists captured simulation states, one per step, so a
// later run can be validated against them.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/stream"
)

var (
	// ErrNotFound is returned for a session or step that was never stored.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrIntegrity is returned when stored data fails its checksum or HMAC.
	ErrIntegrity = errors.New("snapshot: integrity check failed")
)

// Snapshot is the recorded state of one simulation step.
type Snapshot struct {
	Session   string              `json:"session"`
	Step      uint64              `json:"step"`
	Flags     recorder.StateFlags `json:"flags"`
	Data      []byte              `json:"-"`
	Checksum  string              `json:"checksum"`
	CreatedAt time.Time           `json:"created_at"`
}

// New creates a snapshot of data and computes its checksum.
func New(session string, step uint64, flags recorder.StateFlags, data []byte) Snapshot {
	return Snapshot{
		Session:   session,
		Step:      step,
		Flags:     flags,
		Data:      data,
		Checksum:  checksum(data),
		CreatedAt: time.Now().UTC(),
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks the data against the checksum.
func (s Snapshot) Verify() error {
	if checksum(s.Data) != s.Checksum {
		return fmt.Errorf("%w: session %s step %d", ErrIntegrity, s.Session, s.Step)
	}
	return nil
}

// Source returns a fresh byte source over the snapshot data.
func (s Snapshot) Source() *stream.Buffer {
	return stream.NewBuffer(s.Data)
}

// Size returns the length of the state in bytes.
func (s Snapshot) Size() int {
	return len(s.Data)
}

// String returns a human-readable representation of the snapshot
func (s Snapshot) String() string {
	return fmt.Sprintf("Snapshot{Session: %s, Step: %d, Flags: %s, Size: %d, Time: %s}",
		s.Session, s.Step, s.Flags, len(s.Data), s.CreatedAt.Format(time.RFC3339))
}

func clone(s Snapshot) Snapshot {
	s.Data = append([]byte(nil), s.Data...)
	return s
}
