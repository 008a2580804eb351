package registrystore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPutLoadGetListRoundTripInstallationEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "installations")
	r := New[InstallationEntry](dir, "installation.json")

	entry := InstallationEntry{
		Connector:   "acme",
		Name:        "Acme Prod",
		ID:          "inst-1",
		Config:      map[string]any{"apiKey": "secret"},
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.Put("acme-prod", entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := r.Get("inst-1")
	if !ok {
		t.Fatalf("expected entry to be retrievable immediately after Put")
	}
	if got.Name != "Acme Prod" {
		t.Fatalf("expected name Acme Prod, got %s", got.Name)
	}

	// A fresh Registry over the same directory must reconstruct state
	// from disk without ever having seen Put.
	r2 := New[InstallationEntry](dir, "installation.json")
	if err := r2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got2, ok := r2.Get("inst-1")
	if !ok {
		t.Fatalf("expected entry to load from disk")
	}
	if got2.Connector != "acme" || got2.Config["apiKey"] != "secret" {
		t.Fatalf("unexpected loaded entry: %+v", got2)
	}

	list := r2.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 entry in list, got %d", len(list))
	}
}

func TestRemoveDeletesEntryAndDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspaces")
	r := New[WorkspaceEntry](dir, "workspace.json")

	entry := WorkspaceEntry{ID: "ws-1", Name: "Team Alpha"}
	if err := r.Put("team-alpha", entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Remove("ws-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("ws-1"); ok {
		t.Fatalf("expected entry to be gone after Remove")
	}

	r2 := New[WorkspaceEntry](dir, "workspace.json")
	if err := r2.Load(); err != nil {
		t.Fatalf("Load after Remove: %v", err)
	}
	if len(r2.List()) != 0 {
		t.Fatalf("expected no entries on disk after Remove, got %d", len(r2.List()))
	}
}

func TestLoadOnMissingDirectoryIsNotAnError(t *testing.T) {
	r := New[InstallationEntry](filepath.Join(t.TempDir(), "does-not-exist"), "installation.json")
	if err := r.Load(); err != nil {
		t.Fatalf("expected Load on missing dir to succeed, got %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestWatchNotifiesOnPut(t *testing.T) {
	dir := t.TempDir()
	r := New[InstallationEntry](dir, "installation.json")

	notified := make(chan struct{}, 1)
	if err := r.Watch(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer r.Close()

	if err := r.Put("acme", InstallationEntry{ID: "inst-1", Connector: "acme"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watch notification after Put")
	}
}
