package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"collabfs/internal/model"
)

func TestSyncFrameRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	encoded := Encode(Sync(SyncStepUpdate, payload))

	f, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != KindSync || f.SyncStep != SyncStepUpdate {
		t.Fatalf("got kind=%d step=%d, want sync/update", f.Kind, f.SyncStep)
	}
	if string(f.Payload) != string(payload) {
		t.Fatalf("Payload = %v, want %v", f.Payload, payload)
	}
}

func TestAwarenessFrameRoundTrip(t *testing.T) {
	payload := []byte("opaque-awareness-bytes")
	encoded := Encode(Awareness(payload))

	f, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != KindAwareness {
		t.Fatalf("Kind = %d, want KindAwareness", f.Kind)
	}
	if string(f.Payload) != string(payload) {
		t.Fatalf("Payload = %q, want %q", f.Payload, payload)
	}
}

func TestCustomFrameRoundTrip(t *testing.T) {
	encoded := Encode(Custom(`{"type":"heartbeat","userId":"alice"}`))
	f, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ctrl, err := DecodeControl(f)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if ctrl.Type != ControlHeartbeat || ctrl.UserID != "alice" {
		t.Fatalf("got %+v", ctrl)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := Decode([]byte{byte(KindSync), byte(SyncStepVector), 200}) // 200 has the varint continuation bit set, so the length prefix is cut off
	if err == nil {
		t.Fatal("expected an error decoding a truncated frame")
	}
	if !errors.Is(err, model.ErrMalformedFrame) {
		t.Fatalf("error = %v, want it to wrap ErrMalformedFrame", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte{99})
	if !errors.Is(err, model.ErrMalformedFrame) {
		t.Fatalf("error = %v, want it to wrap ErrMalformedFrame", err)
	}
}

func TestJoinedControlRoundTrip(t *testing.T) {
	stats := model.SessionStats{Participants: 2, Files: 3, OpLogLength: 7}
	f, err := NewJoined("S1", stats)
	if err != nil {
		t.Fatalf("NewJoined: %v", err)
	}
	ctrl, err := DecodeControl(f)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if ctrl.Type != ControlJoined {
		t.Fatalf("Type = %s, want joined", ctrl.Type)
	}
	var data JoinedData
	if err := json.Unmarshal(ctrl.Data, &data); err != nil {
		t.Fatalf("Unmarshal data: %v", err)
	}
	if data.SessionID != "S1" || data.Stats.Participants != 2 {
		t.Fatalf("got %+v", data)
	}
}
