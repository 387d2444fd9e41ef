package activity

import (
	"log/slog"
	"sync"

	"github.com/campuslink/cskeep/internal/session"
)

// Recorder drains a manager's event stream into the log.
type Recorder struct {
	log    *Log
	runID  string
	logger *slog.Logger

	mu     sync.Mutex
	cancel func()
	doneCh chan struct{}
}

// NewRecorder builds a recorder writing to log, tagging each entry with
// the manager run ID.
func NewRecorder(log *Log, runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: log, runID: runID, logger: logger}
}

// Follow subscribes to the manager and records events until Stop is
// called or the manager closes its event stream.
func (r *Recorder) Follow(mgr *session.Manager) {
	events, cancel := mgr.Subscribe()

	r.mu.Lock()
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	doneCh := r.doneCh
	r.mu.Unlock()

	go func() {
		defer close(doneCh)
		for e := range events {
			entry := Entry{
				Timestamp: e.At,
				RunID:     r.runID,
				Event:     e.Type.String(),
				Detail:    e.Detail,
			}
			if err := r.log.Append(entry); err != nil {
				r.logger.Error("record session event", "event", entry.Event, "error", err)
			}
		}
	}()
}

// Stop unsubscribes and waits for the drain goroutine to finish.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel, doneCh := r.cancel, r.doneCh
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-doneCh
}
