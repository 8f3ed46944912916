// Package session wraps one collaborative document with the bookkeeping
// this system describes: participants, the fencing-token counter, and the
// high-level file operations the hub calls into on a client's request.
// It is the direct generalization of a GORM-backed per-document session
// manager, narrowed from "one persisted Yjs document per collaboration
// session" down to the CRDT-only core this system needs.
package session

import (
	"fmt"
	"sync"

	"collabfs/internal/crdt"
	"collabfs/internal/model"
)

// FileEntry pairs a path with its current metadata, the return shape of
// ListFiles.
type FileEntry struct {
	Path string
	Meta model.FileMeta
}

// MoveResult and DeleteResult report a structural operation's outcome
// alongside the token the op-log entry recording it was given.
type MoveResult struct {
	Success bool
	Token   int64
	Err     error
}

type DeleteResult struct {
	Success bool
	Token   int64
	Err     error
}

// Session owns one Document plus the participant set and fencing-token
// counter for a single session id. Every mutating method takes the
// session's lock for the duration of its transaction, which is what makes
// the check-then-mutate precondition on move/delete atomic, matching the
// fencing discussion above. Snapshot scheduling is not this type's
// concern — the hub's cron ticker decides when to call SnapshotBytes.
type Session struct {
	mu sync.Mutex

	ID          string
	CreatedAtMs int64

	doc          *crdt.Document
	participants map[string]struct{}
	tokenCounter int64
}

// New creates a fresh Session with an empty document. replicaID
// identifies the session's own writes in the CRDT ID space; it should be
// stable for the session's lifetime but is never persisted across
// restarts (the fencing-token caveat below extends to this id too).
func New(id string, replicaID string, createdAtMs int64) *Session {
	return &Session{
		ID:           id,
		CreatedAtMs:  createdAtMs,
		doc:          crdt.NewDocument(replicaID),
		participants: make(map[string]struct{}),
	}
}

// Document exposes the underlying CRDT document for the hub's sync-protocol
// handling (state vector, diff, apply_update, listener registration).
func (s *Session) Document() *crdt.Document {
	return s.doc
}

// AddParticipant records user as joined. Idempotent.
func (s *Session) AddParticipant(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[user] = struct{}{}
}

// RemoveParticipant drops user from the participant set and deletes their
// activity entry.
func (s *Session) RemoveParticipant(user string, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, user)
	s.doc.Transaction("session", func(t *crdt.Txn) {
		t.RemoveActivity(user)
	})
	_ = nowMs
}

// ParticipantCount reports how many users currently hold the session open.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// IsEmpty reports whether the participant set is empty, the trigger for
// the session-destruction sequence.
func (s *Session) IsEmpty() bool {
	return s.ParticipantCount() == 0
}

// NextToken mints a fresh fencing token under the session's single-writer
// discipline. Exported so the hub can tag op-log entries it appends
// outside of write/move/delete; no caller currently does.
func (s *Session) NextToken() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTokenLocked()
}

func (s *Session) nextTokenLocked() int64 {
	s.tokenCounter++
	return s.tokenCounter
}

// WriteFile replaces or appends path's content in one transaction that
// also upserts fileTree metadata and appends the op-log entry, satisfying
// the "one transaction so peers observe an atomic change"
// requirement. kind is OpCreate on first write to path, OpWrite otherwise.
func (s *Session) WriteFile(path, content string, by string, mode model.WriteMode, nowMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := model.OpWrite
	if !s.doc.HasFile(path) {
		kind = model.OpCreate
	}
	token := s.nextTokenLocked()

	s.doc.Transaction("session", func(t *crdt.Txn) {
		t.WriteFile(path, content, mode, by, nowMs, token)
		t.AppendOp(model.Operation{
			Token:       token,
			Kind:        kind,
			Path:        path,
			By:          by,
			TimestampMs: nowMs,
			Success:     true,
		})
	})
	return token
}

// MoveFile checks preconditions against the current merged document, then
// either performs the move and logs success, or logs a failed attempt and
// returns the precondition error; on failure fileTree and fileContents are
// left untouched and only the op-log entry is added.
func (s *Session) MoveFile(oldPath, newPath, by string, nowMs int64) MoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.nextTokenLocked()

	if !s.doc.HasFile(oldPath) {
		s.logFailure(token, model.OpMove, oldPath, newPath, by, nowMs, model.ErrFileMissing)
		return MoveResult{Success: false, Token: token, Err: model.ErrFileMissing}
	}
	if s.doc.HasFile(newPath) {
		s.logFailure(token, model.OpMove, oldPath, newPath, by, nowMs, model.ErrDestinationExists)
		return MoveResult{Success: false, Token: token, Err: model.ErrDestinationExists}
	}

	s.doc.Transaction("session", func(t *crdt.Txn) {
		t.MoveFile(oldPath, newPath, by, nowMs, token)
		t.AppendOp(model.Operation{
			Token:       token,
			Kind:        model.OpMove,
			Path:        oldPath,
			NewPath:     newPath,
			By:          by,
			TimestampMs: nowMs,
			Success:     true,
		})
	})
	return MoveResult{Success: true, Token: token}
}

// DeleteFile checks the source's presence, then deletes content and
// metadata in one transaction, or logs a failed attempt if absent.
func (s *Session) DeleteFile(path, by string, nowMs int64) DeleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.nextTokenLocked()

	if !s.doc.HasFile(path) {
		s.logFailure(token, model.OpDelete, path, "", by, nowMs, model.ErrFileMissing)
		return DeleteResult{Success: false, Token: token, Err: model.ErrFileMissing}
	}

	s.doc.Transaction("session", func(t *crdt.Txn) {
		t.DeleteFile(path)
		t.AppendOp(model.Operation{
			Token:       token,
			Kind:        model.OpDelete,
			Path:        path,
			By:          by,
			TimestampMs: nowMs,
			Success:     true,
		})
	})
	return DeleteResult{Success: true, Token: token}
}

func (s *Session) logFailure(token int64, kind model.OpKind, path, newPath, by string, nowMs int64, cause error) {
	s.doc.Transaction("session", func(t *crdt.Txn) {
		t.AppendOp(model.Operation{
			Token:       token,
			Kind:        kind,
			Path:        path,
			NewPath:     newPath,
			By:          by,
			TimestampMs: nowMs,
			Success:     false,
			Error:       cause.Error(),
		})
	})
}

// UpdateActivity merges partial into user's current Activity, setting
// timestamp_ms to nowMs. A user with no prior Activity starts from an idle
// Activity with no current file.
func (s *Session) UpdateActivity(user string, partial model.ActivityPartial, nowMs int64) model.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.activityFor(user)
	if partial.CurrentFile != nil {
		existing.CurrentFile = *partial.CurrentFile
	}
	if partial.Action != nil {
		existing.Action = *partial.Action
	}
	existing.UserID = user
	existing.TimestampMs = nowMs

	s.doc.Transaction("session", func(t *crdt.Txn) {
		t.UpdateActivity(user, existing)
	})
	return existing
}

func (s *Session) activityFor(user string) model.Activity {
	for _, a := range s.doc.Activities() {
		if a.UserID == user {
			return a
		}
	}
	return model.Activity{UserID: user, Action: model.ActivityIdle}
}

// ListFiles returns every live path whose prefix matches, with its
// metadata, sorted by path.
func (s *Session) ListFiles(prefix string) []FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FileEntry
	for _, path := range s.doc.ListFiles() {
		if prefix != "" && !hasPrefix(path, prefix) {
			continue
		}
		meta, _ := s.doc.FileMeta(path)
		out = append(out, FileEntry{Path: path, Meta: meta})
	}
	return out
}

func hasPrefix(path, prefix string) bool {
	if len(prefix) > len(path) {
		return false
	}
	return path[:len(prefix)] == prefix
}

// ReadFile returns path's current content.
func (s *Session) ReadFile(path string) (string, error) {
	return s.doc.ReadFile(path)
}

// Stats summarizes the session for the "joined" frame.
func (s *Session) Stats() model.SessionStats {
	return s.doc.Stats(s.ParticipantCount())
}

// SnapshotBytes encodes the whole document as update bytes, the payload a
// SnapshotStore persists under the session id.
func (s *Session) SnapshotBytes() []byte {
	return crdt.EncodeChanges(s.doc.History())
}

// RestoreFrom integrates previously snapshotted bytes with origin
// "restore". Returns an error if the bytes are not a well-formed update,
// which the caller treats as "no usable snapshot" rather than fatal.
func (s *Session) RestoreFrom(data []byte) error {
	changes, err := crdt.DecodeChanges(data)
	if err != nil {
		return fmt.Errorf("session: restore %q: %w", s.ID, err)
	}
	s.doc.ApplyUpdate(changes, "restore")
	return nil
}
