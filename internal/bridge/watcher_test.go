package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/campuslink/cskeep/internal/credstore"
)

func writeRecord(t *testing.T, store *credstore.Store, access string) {
	t.Helper()
	err := store.Save(&credstore.Record{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func waitChange(t *testing.T, w *StoreWatcher, timeout time.Duration) Change {
	t.Helper()
	select {
	case c, ok := <-w.Changes():
		if !ok {
			t.Fatal("changes channel closed")
		}
		return c
	case <-time.After(timeout):
		t.Fatal("no change before timeout")
	}
	return Change{}
}

func TestWatchStore_SeesAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, credstore.FileName)
	store := credstore.New(path)

	w, err := WatchStoreWithDelay(path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WatchStore() error = %v", err)
	}
	defer w.Close()

	writeRecord(t, store, "a1")

	c := waitChange(t, w, 2*time.Second)
	if c.Path != path {
		t.Errorf("Change.Path = %q, want %q", c.Path, path)
	}
}

func TestWatchStore_SeesRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, credstore.FileName)
	store := credstore.New(path)
	writeRecord(t, store, "a1")

	w, err := WatchStoreWithDelay(path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WatchStore() error = %v", err)
	}
	defer w.Close()

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	waitChange(t, w, 2*time.Second)
}

func TestWatchStore_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, credstore.FileName)

	w, err := WatchStoreWithDelay(path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WatchStore() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case c := <-w.Changes():
		t.Errorf("unexpected change for sibling file: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchStore_CreatesMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", credstore.FileName)

	w, err := WatchStore(path)
	if err != nil {
		t.Fatalf("WatchStore() error = %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("store dir not created: %v", err)
	}
}

func TestWatchStore_EmptyPath(t *testing.T) {
	if _, err := WatchStore(""); err == nil {
		t.Fatal("WatchStore(\"\") error = nil, want error")
	}
}

func TestWatchStore_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), credstore.FileName)
	w, err := WatchStore(path)
	if err != nil {
		t.Fatalf("WatchStore() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	_ = w.Close()
}
