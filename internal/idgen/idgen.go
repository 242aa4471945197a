// Package idgen issues the monotonic identifiers used throughout the
// client: request ids, subscription ids, and a client instance id
// persisted under the data directory (§3: "Request-ids are unique per
// process").
package idgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Sequence is a monotonic counter starting at 1. The client facade
// shares one Sequence across every Client in the process, so request
// ids and subscription ids are never reused across logical sessions.
type Sequence struct {
	counter atomic.Int64
}

// NewSequence returns a Sequence whose first Next() call yields 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next id in the sequence.
func (s *Sequence) Next() int64 {
	return s.counter.Add(1)
}

// LoadOrCreateInstanceID reads a stable client instance id from a file
// in dataDir, generating and persisting a new UUIDv7 on first run. The
// id survives process restarts so a resumed session's LS_cid remains
// recognizable to the server across reconnects.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "instance_id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance id: %w", err)
	}

	idStr := id.String()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	if err := os.WriteFile(path, []byte(idStr+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance id to %s: %w", path, err)
	}
	return idStr, nil
}
