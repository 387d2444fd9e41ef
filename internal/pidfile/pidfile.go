// Package pidfile guards against running two cskeep daemons at once.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPath places the pid file next to the activity database,
// honoring XDG_DATA_HOME.
func DefaultPath() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "cskeep", "cskeep.pid")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cskeep", "cskeep.pid")
	}
	return filepath.Join(homeDir, ".local", "share", "cskeep", "cskeep.pid")
}

// Write records pid at path, creating parent directories.
func Write(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read returns the pid recorded at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// Remove deletes the pid file. Missing files are not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Acquire writes the current process pid at path, failing if another
// live cskeep daemon already holds it. A stale file left by a dead
// process is replaced.
func Acquire(path string) error {
	if pid, err := Read(path); err == nil {
		if pid != os.Getpid() && isProcessAlive(pid) {
			return fmt.Errorf("another daemon is running (pid %d)", pid)
		}
	}
	return Write(path, os.Getpid())
}
