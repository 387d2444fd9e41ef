//go:build windows

package pidfile

import "os"

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess only succeeds for live processes on Windows.
	_, err := os.FindProcess(pid)
	return err == nil
}
