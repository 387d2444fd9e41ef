package activity

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/session"
)

type staticClient struct{}

func (staticClient) Refresh(ctx context.Context, refreshToken string) (*credstore.Record, error) {
	return &credstore.Record{
		AccessToken:  "next",
		RefreshToken: "refresh-next",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	}, nil
}

func TestRecorder_CapturesManagerEvents(t *testing.T) {
	dir := t.TempDir()
	store := credstore.New(filepath.Join(dir, "creds.json"))
	err := store.Save(&credstore.Record{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(time.Minute).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := session.New(store, staticClient{}, session.WithLogger(logger))
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}

	l := openTestLog(t)
	rec := NewRecorder(l, mgr.RunID(), logger)
	rec.Follow(mgr)

	// Inside the refresh window: this evaluation triggers a refresh.
	mgr.Evaluate(context.Background(), session.TriggerTick)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := l.Recent(10)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		for _, e := range entries {
			if e.Event == "refresh_succeeded" {
				if e.RunID != mgr.RunID() {
					t.Errorf("RunID = %q, want %q", e.RunID, mgr.RunID())
				}
				rec.Stop()
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("refresh_succeeded never recorded")
}

func TestRecorder_StopWithoutFollow(t *testing.T) {
	l := openTestLog(t)
	rec := NewRecorder(l, "run", nil)
	rec.Stop()
}
