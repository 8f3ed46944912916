package crdt

import (
	"testing"

	"collabfs/internal/model"
)

func writeFile(t *testing.T, doc *Document, path, content string, by string) {
	t.Helper()
	doc.Transaction("test", func(tx *Txn) {
		tx.WriteFile(path, content, model.WriteOverwrite, by, 1, 1)
	})
}

func TestDocumentWriteAndRead(t *testing.T) {
	doc := NewDocument("r1")
	writeFile(t, doc, "/a.txt", "hello", "alice")

	got, err := doc.ReadFile("/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hello" {
		t.Fatalf("ReadFile = %q, want %q", got, "hello")
	}
	if !doc.HasFile("/a.txt") {
		t.Fatal("HasFile = false, want true")
	}
}

func TestDocumentConvergesConcurrentInserts(t *testing.T) {
	a := NewDocument("A")
	writeFile(t, a, "/f", "AB", "alice")

	b := NewDocument("B")
	b.ApplyUpdate(a.History(), "seed")

	changesA := a.Transaction("A", func(tx *Txn) {
		tx.InsertText("/f", 1, 'X')
	})
	changesB := b.Transaction("B", func(tx *Txn) {
		tx.InsertText("/f", 1, 'Y')
	})

	a.ApplyUpdate(changesB, "remote")
	b.ApplyUpdate(changesA, "remote")

	textA, _ := a.ReadFile("/f")
	textB, _ := b.ReadFile("/f")
	if textA != textB {
		t.Fatalf("replicas diverged: a=%q b=%q", textA, textB)
	}
	if textA != "AXYB" && textA != "AYXB" {
		t.Fatalf("unexpected merge result %q", textA)
	}
}

func TestDocumentIdempotentApply(t *testing.T) {
	a := NewDocument("A")
	changes := a.Transaction("A", func(tx *Txn) {
		tx.WriteFile("/a", "hi", model.WriteOverwrite, "alice", 1, 1)
		tx.AppendOp(model.Operation{Token: 1, Kind: model.OpCreate, Path: "/a", By: "alice", TimestampMs: 1, Success: true})
	})

	b := NewDocument("B")
	b.ApplyUpdate(changes, "remote")
	b.ApplyUpdate(changes, "remote") // replay, must be a no-op

	text, _ := b.ReadFile("/a")
	if text != "hi" {
		t.Fatalf("ReadFile after replay = %q, want %q", text, "hi")
	}
	if len(b.Operations()) != 1 {
		t.Fatalf("Operations() len = %d, want 1 (no duplicate op-log entry)", len(b.Operations()))
	}
}

func TestDocumentRoundTripThroughCodec(t *testing.T) {
	doc := NewDocument("A")
	writeFile(t, doc, "/a", "hello", "alice")
	writeFile(t, doc, "/b", "world", "bob")

	encoded := EncodeChanges(doc.History())
	decoded, err := DecodeChanges(encoded)
	if err != nil {
		t.Fatalf("DecodeChanges: %v", err)
	}

	fresh := NewDocument("B")
	fresh.ApplyUpdate(decoded, "restore")

	for _, path := range []string{"/a", "/b"} {
		want, _ := doc.ReadFile(path)
		got, err := fresh.ReadFile(path)
		if err != nil {
			t.Fatalf("fresh.ReadFile(%q): %v", path, err)
		}
		if got != want {
			t.Fatalf("fresh.ReadFile(%q) = %q, want %q", path, got, want)
		}
	}
	if len(fresh.Operations()) != len(doc.Operations()) {
		t.Fatalf("Operations() len = %d, want %d", len(fresh.Operations()), len(doc.Operations()))
	}
}

func TestDocumentStateVectorDiff(t *testing.T) {
	a := NewDocument("A")
	writeFile(t, a, "/a", "hi", "alice")

	b := NewDocument("B")
	remoteVector := b.StateVector()
	missing := a.Diff(remoteVector)
	if len(missing) == 0 {
		t.Fatal("Diff returned nothing, want the changes b is missing")
	}

	b.ApplyUpdate(missing, "sync")
	text, err := b.ReadFile("/a")
	if err != nil || text != "hi" {
		t.Fatalf("b.ReadFile(/a) = %q, %v, want %q, nil", text, err, "hi")
	}

	// Once caught up, a further diff against b's own vector is empty.
	if rest := a.Diff(b.StateVector()); len(rest) != 0 {
		t.Fatalf("Diff after sync = %d changes, want 0", len(rest))
	}
}

func TestDocumentMovePreservesSameObject(t *testing.T) {
	doc := NewDocument("A")
	writeFile(t, doc, "/old", "payload", "alice")

	doc.Transaction("test", func(tx *Txn) {
		tx.MoveFile("/old", "/new", "alice", 2, 2)
	})

	if doc.HasFile("/old") {
		t.Fatal("HasFile(/old) = true after move, want false")
	}
	if !doc.HasFile("/new") {
		t.Fatal("HasFile(/new) = false after move, want true")
	}
	text, err := doc.ReadFile("/new")
	if err != nil || text != "payload" {
		t.Fatalf("ReadFile(/new) = %q, %v, want %q, nil", text, err, "payload")
	}
}
