package hub_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabfs/internal/client"
	"collabfs/internal/hub"
	"collabfs/internal/model"
	"collabfs/internal/snapshot"
)

func newTestServer(t *testing.T) (string, func()) {
	t.Helper()
	store, err := snapshot.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	h := hub.New(store, hub.Config{
		HeartbeatInterval:         time.Minute,
		HeartbeatTimeout:          time.Minute,
		BackpressureHighWaterMark: 64,
	})
	srv := httptest.NewServer(h.Router())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, func() {
		srv.Close()
		store.Close()
	}
}

func connectReplica(t *testing.T, ctx context.Context, hubURL, sessionID, userID string) *client.Replica {
	t.Helper()
	r := client.New(client.Config{
		HubURL:    hubURL,
		SessionID: sessionID,
		UserID:    userID,
	})
	if err := r.Connect(ctx); err != nil {
		t.Fatalf("Connect(%s): %v", userID, err)
	}
	if _, err := r.WaitJoined(ctx); err != nil {
		t.Fatalf("WaitJoined(%s): %v", userID, err)
	}
	return r
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSingleClientWriteThenRead(t *testing.T) {
	hubURL, cleanup := newTestServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := connectReplica(t, ctx, hubURL, "S1", "alice")
	defer a.Close()

	if err := a.WriteFile("/a.txt", "hello", model.WriteOverwrite); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		text, err := a.ReadFile("/a.txt")
		return err == nil && text == "hello"
	})

	files := a.ListFiles("")
	if len(files) != 1 || files[0].Path != "/a.txt" {
		t.Fatalf("ListFiles = %+v, want one entry for /a.txt", files)
	}
}

func TestTwoClientsConverge(t *testing.T) {
	hubURL, cleanup := newTestServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := connectReplica(t, ctx, hubURL, "S1", "alice")
	defer a.Close()

	if err := a.WriteFile("/shared.txt", "hello", model.WriteOverwrite); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		text, err := a.ReadFile("/shared.txt")
		return err == nil && text == "hello"
	})

	b := connectReplica(t, ctx, hubURL, "S1", "bob")
	defer b.Close()

	waitFor(t, 2*time.Second, func() bool {
		text, err := b.ReadFile("/shared.txt")
		return err == nil && text == "hello"
	})
}

func TestMoveFileRelocatesContent(t *testing.T) {
	hubURL, cleanup := newTestServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := connectReplica(t, ctx, hubURL, "S1", "alice")
	defer a.Close()

	if err := a.WriteFile("/old.txt", "payload", model.WriteOverwrite); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, err := a.ReadFile("/old.txt")
		return err == nil
	})

	if err := a.MoveFile("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		text, err := a.ReadFile("/new.txt")
		if err != nil || text != "payload" {
			return false
		}
		_, errOld := a.ReadFile("/old.txt")
		return errOld != nil
	})
}
