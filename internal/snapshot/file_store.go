package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/segmentio/ksuid"

	"collabfs/internal/crdt"
)

// FileStore is the reference snapshot backend: one file per session under a
// root directory, named "<session_id>.snapshot". Writes go to a
// ksuid-suffixed temp file in the same directory and are renamed into place,
// so a crash mid-write never leaves a half-written file at the real path —
// but the rename itself is not fsynced, so the "writes are NOT
// required to be atomic across process crashes" still holds: a crash
// between write and rename simply loses that snapshot attempt, not the
// previous good one.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory (if absent) and returns a Store
// rooted there.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create root %q: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.root, sessionID+".snapshot")
}

// Put writes data for sessionID via a temp-file-then-rename sequence.
func (s *FileStore) Put(_ context.Context, sessionID string, data []byte) error {
	tmp := filepath.Join(s.root, sessionID+"."+ksuid.New().String()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write temp file for %q: %w", sessionID, err)
	}
	if err := os.Rename(tmp, s.path(sessionID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename into place for %q: %w", sessionID, err)
	}
	return nil
}

// Get reads sessionID's snapshot. A missing file or bytes that fail to
// decode as a change batch are both reported as ok=false, never as an
// error, per the loader-tolerates-corruption contract.
func (s *FileStore) Get(_ context.Context, sessionID string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshot: read %q: %w", sessionID, err)
	}
	if _, err := crdt.DecodeChanges(data); err != nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Close is a no-op; FileStore holds no long-lived resource.
func (s *FileStore) Close() error { return nil }
