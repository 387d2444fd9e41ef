// Package credstore manages the shared on-disk credential record.
//
// Every process participating in a session (the daemon, one-shot CLI
// invocations, the relay agent's host) reads and writes the same file.
// There is no cross-process lock: writers publish atomically via
// tmp+rename and readers resynchronize on change notifications, so the
// freshest write always wins.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the well-known credential file name inside the data dir.
const FileName = "credentials.json"

// Record is the single persisted credential entity. ExpiresAt is epoch
// milliseconds, derived once per issuance/refresh from the access
// token's exp claim.
type Record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expiry returns the record's expiry as a time.Time.
func (r *Record) Expiry() time.Time {
	if r == nil || r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiresAt)
}

// TimeUntilExpiry returns the remaining lifetime at now, which is
// negative once the record has expired.
func (r *Record) TimeUntilExpiry(now time.Time) time.Duration {
	return r.Expiry().Sub(now)
}

// Validate checks that a record is complete enough to persist.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("record is nil")
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return errors.New("access token is empty")
	}
	if strings.TrimSpace(r.RefreshToken) == "" {
		return errors.New("refresh token is empty")
	}
	if r.ExpiresAt <= 0 {
		return errors.New("expires_at is not set")
	}
	return nil
}

// Store reads and writes the credential record at a fixed path.
type Store struct {
	path string
}

// DefaultPath returns the default credential file location.
func DefaultPath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "cskeep", FileName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share", "cskeep", FileName)
	}
	return filepath.Join(homeDir, ".local", "share", "cskeep", FileName)
}

// New creates a store for the given path. An empty path selects the
// default location.
func New(path string) *Store {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	return &Store{path: filepath.Clean(path)}
}

// Path returns the credential file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current record. A missing file means "no session" and
// returns (nil, nil).
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return nil, nil
	}
	return &rec, nil
}

// Save replaces the record wholesale. The write goes through a temp
// file and rename so concurrent readers never observe a partial record.
func (s *Store) Save(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename credentials file: %w", err)
	}

	return nil
}

// Clear removes the record (logout, or terminal refresh failure).
// Clearing an already-empty store is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
