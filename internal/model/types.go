// Package model holds the plain data types shared across the hub, the
// client replica and the CRDT layer: file metadata, operation-log entries,
// presence/activity records, and the error taxonomy they raise.
package model

// FileKind is the only entry kind fileTree currently holds. It exists so the
// wire encoding of FileMeta is future-proof against directory entries
// without changing the struct shape.
type FileKind string

const FileKindFile FileKind = "file"

// FileMeta is the metadata half of a file: everything fileTree stores about
// a path except its content, which lives in fileContents.
type FileMeta struct {
	Kind           FileKind `json:"kind"`
	LastModifiedMs int64    `json:"last_modified_ms"`
	LastModifiedBy string   `json:"last_modified_by"`
	Token          int64    `json:"token"`
	SizeBytes      int64    `json:"size_bytes"`
	IsBinary       bool     `json:"is_binary"`
}

// OpKind enumerates the structural and content operations recorded in opLog.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpWrite  OpKind = "write"
	OpMove   OpKind = "move"
	OpDelete OpKind = "delete"
)

// Operation is a single append-only opLog entry. NewPath is set only for
// OpMove. Error is set only when Success is false.
type Operation struct {
	Token       int64  `json:"token"`
	Kind        OpKind `json:"kind"`
	Path        string `json:"path"`
	NewPath     string `json:"new_path,omitempty"`
	By          string `json:"by"`
	TimestampMs int64  `json:"timestamp_ms"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// ActivityAction is the set of things a participant can be doing to a file.
type ActivityAction string

const (
	ActivityIdle    ActivityAction = "idle"
	ActivityReading ActivityAction = "reading"
	ActivityEditing ActivityAction = "editing"
	ActivityMoving  ActivityAction = "moving"
	ActivityDeleting ActivityAction = "deleting"
)

// Activity is the presence record kept per participant, mirrored between the
// custom-frame broadcast and the activity CRDT container.
type Activity struct {
	UserID      string         `json:"user_id"`
	CurrentFile string         `json:"current_file,omitempty"`
	Action      ActivityAction `json:"action"`
	TimestampMs int64          `json:"timestamp_ms"`
}

// ActivityPartial carries the fields a caller wants to merge into an
// existing Activity; zero values mean "leave unchanged".
type ActivityPartial struct {
	CurrentFile *string
	Action      *ActivityAction
}

// WriteMode selects whether write_file replaces or appends to a file's text.
type WriteMode string

const (
	WriteOverwrite WriteMode = "overwrite"
	WriteAppend    WriteMode = "append"
)

// SessionStats is the summary handed back in the "joined" custom frame's
// data.stats field.
type SessionStats struct {
	Participants int `json:"participants"`
	Files        int `json:"files"`
	OpLogLength  int `json:"op_log_length"`
}
