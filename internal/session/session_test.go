package session

import (
	"testing"

	"collabfs/internal/model"
)

func TestWriteFileCreatesEntryAndLogsOp(t *testing.T) {
	s := New("S1", "S1", 0)
	token := s.WriteFile("/a.txt", "hello", "alice", model.WriteOverwrite, 100)
	if token != 1 {
		t.Fatalf("token = %d, want 1", token)
	}

	files := s.ListFiles("")
	if len(files) != 1 || files[0].Path != "/a.txt" {
		t.Fatalf("ListFiles = %+v, want one entry for /a.txt", files)
	}
	if files[0].Meta.SizeBytes != 5 {
		t.Fatalf("SizeBytes = %d, want 5", files[0].Meta.SizeBytes)
	}

	text, err := s.ReadFile("/a.txt")
	if err != nil || text != "hello" {
		t.Fatalf("ReadFile = %q, %v, want %q, nil", text, err, "hello")
	}

	ops := s.doc.Operations()
	if len(ops) != 1 {
		t.Fatalf("Operations len = %d, want 1", len(ops))
	}
	if ops[0].Kind != model.OpCreate || !ops[0].Success {
		t.Fatalf("unexpected op entry %+v", ops[0])
	}
}

func TestMoveFileFailsWhenSourceMissing(t *testing.T) {
	s := New("S1", "S1", 0)
	result := s.MoveFile("/nope", "/new", "alice", 100)
	if result.Success {
		t.Fatal("MoveFile succeeded against a missing source")
	}
	if result.Err != model.ErrFileMissing {
		t.Fatalf("Err = %v, want ErrFileMissing", result.Err)
	}

	ops := s.doc.Operations()
	if len(ops) != 1 || ops[0].Success {
		t.Fatalf("expected one failed op-log entry, got %+v", ops)
	}
}

func TestMoveFileFailsWhenDestinationExists(t *testing.T) {
	s := New("S1", "S1", 0)
	s.WriteFile("/old", "a", "alice", model.WriteOverwrite, 1)
	s.WriteFile("/new", "b", "alice", model.WriteOverwrite, 2)

	result := s.MoveFile("/old", "/new", "alice", 3)
	if result.Success {
		t.Fatal("MoveFile succeeded against an existing destination")
	}
	if result.Err != model.ErrDestinationExists {
		t.Fatalf("Err = %v, want ErrDestinationExists", result.Err)
	}
}

func TestMoveFileSucceeds(t *testing.T) {
	s := New("S1", "S1", 0)
	s.WriteFile("/old", "payload", "alice", model.WriteOverwrite, 1)

	result := s.MoveFile("/old", "/new", "alice", 2)
	if !result.Success {
		t.Fatalf("MoveFile failed: %v", result.Err)
	}

	if s.doc.HasFile("/old") {
		t.Fatal("source still present after move")
	}
	text, err := s.ReadFile("/new")
	if err != nil || text != "payload" {
		t.Fatalf("ReadFile(/new) = %q, %v, want %q, nil", text, err, "payload")
	}
}

func TestDeleteFileRemovesEntry(t *testing.T) {
	s := New("S1", "S1", 0)
	s.WriteFile("/a", "x", "alice", model.WriteOverwrite, 1)

	result := s.DeleteFile("/a", "alice", 2)
	if !result.Success {
		t.Fatalf("DeleteFile failed: %v", result.Err)
	}
	if s.doc.HasFile("/a") {
		t.Fatal("/a still present after delete")
	}
}

func TestTokensAreMonotonicAcrossOperations(t *testing.T) {
	s := New("S1", "S1", 0)
	t1 := s.WriteFile("/a", "x", "alice", model.WriteOverwrite, 1)
	t2 := s.WriteFile("/a", "xy", "alice", model.WriteAppend, 2)
	res := s.MoveFile("/a", "/b", "alice", 3)
	if !(t1 < t2 && t2 < res.Token) {
		t.Fatalf("tokens not strictly increasing: %d, %d, %d", t1, t2, res.Token)
	}
}

func TestRemoveParticipantClearsActivity(t *testing.T) {
	s := New("S1", "S1", 0)
	s.AddParticipant("alice")
	action := model.ActivityEditing
	s.UpdateActivity("alice", model.ActivityPartial{Action: &action}, 1)

	if len(s.doc.Activities()) != 1 {
		t.Fatalf("Activities len = %d, want 1", len(s.doc.Activities()))
	}

	s.RemoveParticipant("alice", 2)
	if len(s.doc.Activities()) != 0 {
		t.Fatalf("Activities len after removal = %d, want 0", len(s.doc.Activities()))
	}
	if s.ParticipantCount() != 0 {
		t.Fatalf("ParticipantCount = %d, want 0", s.ParticipantCount())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New("S1", "S1", 0)
	s.WriteFile("/a", "hello", "alice", model.WriteOverwrite, 1)

	data := s.SnapshotBytes()

	restored := New("S1", "S1-restored", 0)
	if err := restored.RestoreFrom(data); err != nil {
		t.Fatalf("RestoreFrom: %v", err)
	}
	text, err := restored.ReadFile("/a")
	if err != nil || text != "hello" {
		t.Fatalf("restored ReadFile = %q, %v, want %q, nil", text, err, "hello")
	}
}
