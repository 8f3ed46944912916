package protocol

import (
	"encoding/json"
	"fmt"

	"collabfs/internal/model"
)

// ControlType enumerates the custom control message's "type" field, per
// the wire protocol.
type ControlType string

const (
	ControlJoin             ControlType = "join"
	ControlLeave            ControlType = "leave"
	ControlHeartbeat        ControlType = "heartbeat"
	ControlUpdateActivity   ControlType = "update_activity"
	ControlJoined           ControlType = "joined"
	ControlParticipantJoin  ControlType = "participant_joined"
	ControlParticipantLeave ControlType = "participant_left"
	ControlActivityUpdate   ControlType = "activity_update"
	ControlError            ControlType = "error"

	// The three below go beyond the "representative" control-type set, which
	// lists join/leave/heartbeat/update_activity/joined/participant_*/
	// activity_update/error as representative shapes of "a small object
	// {type, ...}". The move/delete precondition check MUST run
	// against the single authoritative document ("two hubs
	// never coexist for one session, [so] the check-then-mutate is atomic
	// on the server side"; S3 expects "exactly one... in the server-side
	// op-log"). A client-local precondition check against a possibly-stale
	// merged view cannot give that guarantee, so structural and content
	// writes are requests the hub executes against its own Session, not
	// client-side CRDT transactions relayed like a character edit. See
	// DESIGN.md's "structural-op routing" entry.
	ControlWriteFile  ControlType = "write_file"
	ControlMoveFile   ControlType = "move_file"
	ControlDeleteFile ControlType = "delete_file"
)

// ActivityFields is the inline activity object carried by update_activity
// and activity_update, using the wire's camelCase field names rather than
// model.Activity's snake_case JSON tags.
type ActivityFields struct {
	Action      model.ActivityAction `json:"action,omitempty"`
	CurrentFile string                `json:"currentFile,omitempty"`
}

// Control is the decoded shape of a kind-2 custom frame. Only the fields
// relevant to Type are populated; callers switch on Type.
type Control struct {
	Type      ControlType     `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Activity  *ActivityFields `json:"activity,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// JoinedData is Control.Data's shape for type=joined.
type JoinedData struct {
	SessionID string             `json:"sessionId"`
	Stats     model.SessionStats `json:"stats"`
}

// ParticipantData is Control.Data's shape for participant_joined/left.
type ParticipantData struct {
	UserID string `json:"userId"`
}

// ActivityUpdateData is Control.Data's shape for type=activity_update.
type ActivityUpdateData struct {
	UserID   string         `json:"userId"`
	Activity ActivityFields `json:"activity"`
}

// WriteFileRequest is Control.Data's shape for type=write_file.
type WriteFileRequest struct {
	Path    string          `json:"path"`
	Content string          `json:"content"`
	Mode    model.WriteMode `json:"mode"`
}

// MoveFileRequest is Control.Data's shape for type=move_file.
type MoveFileRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// DeleteFileRequest is Control.Data's shape for type=delete_file.
type DeleteFileRequest struct {
	Path string `json:"path"`
}

// EncodeControl marshals c (a client request or a server push, populated
// with the fields its Type uses) into a kind-2 frame.
func EncodeControl(c Control) (Frame, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: encode control %s: %w", c.Type, err)
	}
	return Custom(string(b)), nil
}

// DecodeControl parses a kind-2 frame's JSON payload.
func DecodeControl(f Frame) (Control, error) {
	if f.Kind != KindCustom {
		return Control{}, fmt.Errorf("protocol: %w: frame kind %d is not custom", model.ErrMalformedFrame, f.Kind)
	}
	var c Control
	if err := json.Unmarshal([]byte(f.Custom), &c); err != nil {
		return Control{}, fmt.Errorf("protocol: %w: %s", model.ErrMalformedFrame, err.Error())
	}
	return c, nil
}

// NewJoined builds the joined response frame.
func NewJoined(sessionID string, stats model.SessionStats) (Frame, error) {
	data, err := json.Marshal(JoinedData{SessionID: sessionID, Stats: stats})
	if err != nil {
		return Frame{}, err
	}
	return EncodeControl(Control{Type: ControlJoined, Data: data})
}

// NewParticipantEvent builds a participant_joined or participant_left frame.
func NewParticipantEvent(eventType ControlType, userID string) (Frame, error) {
	data, err := json.Marshal(ParticipantData{UserID: userID})
	if err != nil {
		return Frame{}, err
	}
	return EncodeControl(Control{Type: eventType, Data: data})
}

// NewActivityUpdate builds an activity_update broadcast frame.
func NewActivityUpdate(userID string, activity ActivityFields) (Frame, error) {
	data, err := json.Marshal(ActivityUpdateData{UserID: userID, Activity: activity})
	if err != nil {
		return Frame{}, err
	}
	return EncodeControl(Control{Type: ControlActivityUpdate, Data: data})
}

// NewError builds an error frame.
func NewError(message string) (Frame, error) {
	return EncodeControl(Control{Type: ControlError, Error: message})
}

// NewWriteFileRequest builds a write_file request frame.
func NewWriteFileRequest(userID, sessionID, path, content string, mode model.WriteMode) (Frame, error) {
	data, err := json.Marshal(WriteFileRequest{Path: path, Content: content, Mode: mode})
	if err != nil {
		return Frame{}, err
	}
	return EncodeControl(Control{Type: ControlWriteFile, UserID: userID, SessionID: sessionID, Data: data})
}

// NewMoveFileRequest builds a move_file request frame.
func NewMoveFileRequest(userID, sessionID, oldPath, newPath string) (Frame, error) {
	data, err := json.Marshal(MoveFileRequest{OldPath: oldPath, NewPath: newPath})
	if err != nil {
		return Frame{}, err
	}
	return EncodeControl(Control{Type: ControlMoveFile, UserID: userID, SessionID: sessionID, Data: data})
}

// NewDeleteFileRequest builds a delete_file request frame.
func NewDeleteFileRequest(userID, sessionID, path string) (Frame, error) {
	data, err := json.Marshal(DeleteFileRequest{Path: path})
	if err != nil {
		return Frame{}, err
	}
	return EncodeControl(Control{Type: ControlDeleteFile, UserID: userID, SessionID: sessionID, Data: data})
}
