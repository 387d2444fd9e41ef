// Package session implements the background credential lifecycle
// manager. A Manager instance periodically derives session state from
// the shared credential store, triggers a refresh before the access
// token expires, retries transient failures with exponential backoff,
// and emits lifecycle events for observers.
//
// Concurrency model: every process runs its own Manager against the
// same store. There is no cross-process lock; a simultaneous refresh
// from two processes resolves last-write-wins, and each Manager always
// trusts the freshest store read over its in-memory state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/refreshclient"
)

// RefreshClient is the network exchange the manager delegates to. Its
// errors must unwrap to refreshclient.ErrTransient or ErrTerminal.
type RefreshClient interface {
	Refresh(ctx context.Context, refreshToken string) (*credstore.Record, error)
}

// Manager is the per-process session state machine.
type Manager struct {
	store  *credstore.Store
	client RefreshClient
	logger *slog.Logger
	now    func() time.Time
	runID  string

	mu            sync.Mutex
	cfg           Config
	state         State
	online        bool
	refreshing    bool
	refreshCause  Trigger
	refreshForced bool
	inflight      chan struct{}
	retryCount    int
	retryTimer    *time.Timer
	retryPending  bool
	lastRefresh   time.Time
	lastRecord    *credstore.Record
	lastAccess    string

	events *broadcaster

	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the initial configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock injects a time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a manager over the given store and refresh client.
func New(store *credstore.Store, client RefreshClient, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		client: client,
		logger: slog.Default(),
		now:    time.Now,
		cfg:    DefaultConfig(),
		state:  StateNoSession,
		online: true,
		events: newBroadcaster(),
		runID:  uuid.New().String()[:8],
	}
	for _, opt := range opts {
		opt(m)
	}

	if store == nil {
		return nil, errors.New("store is required")
	}
	if client == nil {
		return nil, errors.New("refresh client is required")
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m.logger = m.logger.With("run_id", m.runID)
	return m, nil
}

// RunID returns the correlation ID for this manager instance.
func (m *Manager) RunID() string {
	return m.runID
}

// Subscribe registers a lifecycle event observer. The returned cancel
// func unregisters it and closes the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// Start launches the periodic evaluation loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("session manager already running")
	}
	m.running = true
	m.stopped = false
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop halts the evaluation loop and cancels any scheduled retry. A
// refresh still in flight is allowed to finish, but a transient failure
// after Stop schedules no further retries. Safe to call when not
// running.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.cancelRetryLocked()
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	m.events.close()
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	m.Evaluate(ctx, TriggerTick)

	for {
		m.mu.Lock()
		interval := m.cfg.CheckInterval
		m.mu.Unlock()

		// A fresh timer each iteration so UpdateConfig takes effect on
		// the next tick without rescheduling the current one.
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			m.Evaluate(ctx, TriggerTick)
		}
	}
}

// Evaluate re-derives session state from the store and starts a refresh
// when the credential is inside the refresh threshold. It is idempotent
// and safe to call redundantly from any trigger; while offline or while
// a refresh is in flight it is a no-op.
func (m *Manager) Evaluate(ctx context.Context, trigger Trigger) {
	m.mu.Lock()

	if !m.online {
		m.mu.Unlock()
		m.logger.Debug("evaluate skipped", "trigger", trigger.String(), "reason", "offline")
		return
	}
	if m.refreshing {
		m.mu.Unlock()
		m.logger.Debug("evaluate skipped", "trigger", trigger.String(), "reason", "refresh_in_flight")
		return
	}

	rec, err := m.store.Load()
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("credential store read failed", "trigger", trigger.String(), "error", err)
		return
	}

	var evs []Event
	fresh := m.observeRecordLocked(rec, trigger, &evs)

	if rec == nil {
		m.cancelRetryLocked()
		m.setStateLocked(StateNoSession, trigger, &evs)
		m.mu.Unlock()
		m.publish(evs)
		return
	}

	ttl := rec.TimeUntilExpiry(m.now())

	if ttl <= 0 {
		// Zero remaining lifetime: straight to Expired, no attempt.
		m.cancelRetryLocked()
		m.setStateLocked(StateExpired, trigger, &evs)
		m.mu.Unlock()
		m.publish(evs)
		return
	}

	if ttl > m.cfg.RefreshThreshold {
		m.cancelRetryLocked()
		m.setStateLocked(StateValid, trigger, &evs)
		m.mu.Unlock()
		m.publish(evs)
		return
	}

	// Inside the threshold. Retrying owns its backoff schedule and
	// Expired waits for a new login, unless the record itself is new.
	if !fresh && (m.state == StateRetrying || m.state == StateExpired) {
		m.mu.Unlock()
		m.publish(evs)
		return
	}

	m.cancelRetryLocked()
	m.startRefreshLocked(ctx, trigger, false, &evs)
	m.mu.Unlock()
	m.publish(evs)
}

// ForceRefresh bypasses the threshold check but still honors the
// at-most-one-in-flight rule: if a refresh is already running it waits
// for that one instead of starting another. It reports whether the
// resulting credential is valid and never panics or returns an error.
func (m *Manager) ForceRefresh(ctx context.Context) bool {
	m.mu.Lock()

	if m.refreshing {
		ch := m.inflight
		m.mu.Unlock()
		<-ch
		return m.Status().IsValid
	}

	rec, err := m.store.Load()
	if err != nil || rec == nil {
		m.mu.Unlock()
		return false
	}

	var evs []Event
	m.observeRecordLocked(rec, TriggerAgent, &evs)
	m.cancelRetryLocked()
	m.startRefreshLocked(ctx, TriggerAgent, true, &evs)
	ch := m.inflight
	m.mu.Unlock()
	m.publish(evs)

	<-ch
	return m.Status().IsValid
}

// UpdateConfig merges a partial configuration change. Invalid values
// are rejected synchronously and the previous configuration is kept.
// The new check interval applies from the next tick; an already
// scheduled retry timer is left alone.
func (m *Manager) UpdateConfig(patch ConfigPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := patch.apply(m.cfg)
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}
	m.cfg = merged
	m.logger.Info("config updated",
		"refresh_threshold", merged.RefreshThreshold,
		"check_interval", merged.CheckInterval,
		"max_retries", merged.MaxRetries,
		"retry_delay", merged.RetryDelay)
	return nil
}

// ResetConfig restores defaults and clears the retry budget.
func (m *Manager) ResetConfig() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = DefaultConfig()
	m.retryCount = 0
	m.logger.Info("config reset to defaults")
}

// Config returns a copy of the live configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetOnline records a connectivity change. Regaining connectivity
// triggers an immediate evaluation and resumes a retry that came due
// while offline.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if was == online {
		return
	}

	if !online {
		m.logger.Info("connectivity lost")
		return
	}

	m.logger.Info("connectivity regained")
	m.Evaluate(ctx, TriggerOnline)

	m.mu.Lock()
	resume := m.retryPending && m.state == StateRetrying && !m.refreshing && m.retryTimer == nil
	m.retryPending = false
	var evs []Event
	if resume {
		m.startRefreshLocked(ctx, TriggerOnline, false, &evs)
	}
	m.mu.Unlock()
	m.publish(evs)
}

// Status returns the current derived state. Pure read, no side effects.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ttl time.Duration
	if m.lastRecord != nil {
		ttl = m.lastRecord.TimeUntilExpiry(m.now())
	}

	return Status{
		State:           m.state,
		IsValid:         m.lastRecord != nil && ttl > 0 && m.state != StateExpired,
		IsRefreshing:    m.refreshing,
		Online:          m.online,
		TimeUntilExpiry: ttl,
		RetryCount:      m.retryCount,
		LastRefreshTime: m.lastRefresh,
	}
}

// observeRecordLocked tracks which record this manager last saw and
// reports whether the store was replaced underneath it. A replacement
// cancels any scheduled retry and restores the retry budget: the
// freshest write always wins over local retry state.
func (m *Manager) observeRecordLocked(rec *credstore.Record, trigger Trigger, evs *[]Event) bool {
	access := ""
	if rec != nil {
		access = rec.AccessToken
	}

	replaced := access != m.lastAccess
	first := m.lastAccess == "" && m.lastRecord == nil && m.state == StateNoSession && m.retryCount == 0 && m.lastRefresh.IsZero()

	m.lastRecord = rec
	m.lastAccess = access

	if !replaced {
		return false
	}

	m.cancelRetryLocked()
	if rec != nil {
		m.retryCount = 0
	}

	if !first {
		*evs = append(*evs, Event{
			Type:   EventStoreReplaced,
			At:     m.now(),
			Detail: trigger.String(),
		})
		m.logger.Info("credential store replaced externally", "trigger", trigger.String())
	}
	return true
}

func (m *Manager) setStateLocked(next State, trigger Trigger, evs *[]Event) {
	if m.state == next {
		return
	}
	prev := m.state
	m.state = next

	m.logger.Info("state transition",
		"from_state", prev.String(),
		"to_state", next.String(),
		"trigger", trigger.String(),
		"retry_count", m.retryCount)

	if next == StateExpired {
		*evs = append(*evs, Event{Type: EventSessionExpired, At: m.now()})
	}
}

func (m *Manager) startRefreshLocked(ctx context.Context, trigger Trigger, force bool, evs *[]Event) {
	m.refreshing = true
	m.refreshCause = trigger
	m.refreshForced = force
	m.inflight = make(chan struct{})
	m.setStateLocked(StateRefreshing, trigger, evs)
	go m.doRefresh(ctx)
}

// doRefresh runs one refresh attempt. It re-reads the store immediately
// before dialing: another process may have refreshed (or logged out)
// since this attempt was scheduled.
func (m *Manager) doRefresh(ctx context.Context) {
	rec, err := m.store.Load()
	if err != nil {
		m.finishTransient(fmt.Errorf("store read before refresh: %w", err))
		return
	}
	if rec == nil {
		m.finishAborted(StateNoSession, "store cleared before refresh")
		return
	}

	m.mu.Lock()
	threshold := m.cfg.RefreshThreshold
	forced := m.refreshForced
	m.mu.Unlock()

	if !forced && rec.TimeUntilExpiry(m.now()) > threshold {
		// Another process already wrote a fresh record.
		m.adoptRecord(rec)
		return
	}

	newRec, err := m.client.Refresh(ctx, rec.RefreshToken)
	if err == nil {
		if saveErr := m.store.Save(newRec); saveErr != nil {
			m.finishTransient(fmt.Errorf("persist refreshed credentials: %w", saveErr))
			return
		}
		m.finishSuccess(newRec)
		return
	}

	if errors.Is(err, refreshclient.ErrTerminal) {
		m.finishTerminal(err)
		return
	}
	m.finishTransient(err)
}

func (m *Manager) finishSuccess(rec *credstore.Record) {
	m.mu.Lock()
	now := m.now()
	m.refreshing = false
	close(m.inflight)
	m.retryCount = 0
	m.lastRefresh = now
	m.lastRecord = rec
	m.lastAccess = rec.AccessToken

	var evs []Event
	m.setStateLocked(StateValid, m.refreshCause, &evs)
	evs = append(evs, Event{Type: EventRefreshSucceeded, At: now})

	expiry := rec.Expiry()
	m.mu.Unlock()

	m.logger.Info("refresh succeeded", "expires_at", expiry.Format(time.RFC3339))
	m.publish(evs)
}

func (m *Manager) finishTerminal(cause error) {
	// A rejected refresh token cannot recover; drop the record so every
	// process converges on the ended session.
	if err := m.store.Clear(); err != nil {
		m.logger.Error("clear credentials after terminal failure", "error", err)
	}

	m.mu.Lock()
	m.refreshing = false
	close(m.inflight)
	m.lastRecord = nil
	m.lastAccess = ""

	var evs []Event
	evs = append(evs, Event{Type: EventRefreshFailed, At: m.now(), Detail: cause.Error()})
	m.setStateLocked(StateExpired, m.refreshCause, &evs)
	m.mu.Unlock()

	m.logger.Error("refresh failed terminally", "error", cause)
	m.publish(evs)
}

func (m *Manager) finishTransient(cause error) {
	m.mu.Lock()
	m.refreshing = false
	close(m.inflight)

	if m.stopped {
		// Torn down while the attempt was in flight; no retry schedule
		// may outlive Stop.
		m.mu.Unlock()
		m.logger.Debug("refresh failed after stop, retry not scheduled", "error", cause)
		return
	}

	var evs []Event
	evs = append(evs, Event{Type: EventRefreshFailed, At: m.now(), Detail: cause.Error()})

	if m.retryCount >= m.cfg.MaxRetries {
		m.setStateLocked(StateExpired, m.refreshCause, &evs)
		m.mu.Unlock()
		m.logger.Error("retry budget exhausted", "retries", m.cfg.MaxRetries, "error", cause)
		m.publish(evs)
		return
	}

	delay := m.backoffDelayLocked()
	m.retryCount++
	m.setStateLocked(StateRetrying, m.refreshCause, &evs)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.onRetryFire(context.Background())
	})
	evs = append(evs, Event{Type: EventBackoffScheduled, At: m.now(), Detail: delay.String()})

	retryCount := m.retryCount
	m.mu.Unlock()

	m.logger.Warn("refresh failed, retry scheduled",
		"retry_count", retryCount,
		"delay", delay,
		"error", cause)
	m.publish(evs)
}

func (m *Manager) finishAborted(next State, reason string) {
	m.mu.Lock()
	m.refreshing = false
	close(m.inflight)
	m.lastRecord = nil
	m.lastAccess = ""

	var evs []Event
	m.setStateLocked(next, TriggerStoreChange, &evs)
	m.mu.Unlock()

	m.logger.Info("refresh aborted", "reason", reason)
	m.publish(evs)
}

// adoptRecord accepts a record refreshed by another process in place of
// our own pending attempt.
func (m *Manager) adoptRecord(rec *credstore.Record) {
	m.mu.Lock()
	m.refreshing = false
	close(m.inflight)
	m.retryCount = 0
	m.lastRecord = rec
	m.lastAccess = rec.AccessToken

	var evs []Event
	evs = append(evs, Event{Type: EventStoreReplaced, At: m.now(), Detail: "refreshed by another process"})
	m.setStateLocked(StateValid, TriggerStoreChange, &evs)
	m.mu.Unlock()

	m.logger.Info("adopted credentials refreshed by another process")
	m.publish(evs)
}

func (m *Manager) onRetryFire(ctx context.Context) {
	m.mu.Lock()
	m.retryTimer = nil

	if m.stopped {
		m.mu.Unlock()
		return
	}
	if !m.online {
		// Suspend the attempt; SetOnline resumes it.
		m.retryPending = true
		m.mu.Unlock()
		m.logger.Debug("retry suspended", "reason", "offline")
		return
	}
	if m.refreshing || m.state != StateRetrying {
		m.mu.Unlock()
		return
	}

	var evs []Event
	m.startRefreshLocked(ctx, m.refreshCause, false, &evs)
	m.mu.Unlock()
	m.publish(evs)
}

// backoffDelayLocked computes RetryDelay * 2^retryCount for the current
// retry count. With the 5s default this yields 5s, 10s, 20s.
func (m *Manager) backoffDelayLocked() time.Duration {
	return m.cfg.RetryDelay << uint(m.retryCount)
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retryPending = false
}

func (m *Manager) publish(evs []Event) {
	for _, e := range evs {
		m.events.emit(e)
	}
}
