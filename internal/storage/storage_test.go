package storage

import (
	"path/filepath"
	"testing"

	"github.com/esmkit/esmkit/internal/vfs"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "esmkit.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	fsys := vfs.New()
	fsys.MkdirSync("/a", true)
	fsys.WriteFileSync("/a/b.txt", "hello")
	snap := fsys.ToSnapshot()

	if err := st.PutSnapshot("proj1", snap); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := st.GetSnapshot("proj1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Files) != len(snap.Files) {
		t.Fatalf("file count mismatch: got %d want %d", len(got.Files), len(snap.Files))
	}
}

func TestGetSnapshotMissing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "esmkit.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if _, err := st.GetSnapshot("nope"); err != ErrorNotFound {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestManifestCacheRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "esmkit.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	raw := []byte(`{"name":"left-pad"}`)
	if err := st.PutManifestJSON("left-pad", raw); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _, err := st.GetManifestJSON("left-pad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("got %s want %s", got, raw)
	}
}
